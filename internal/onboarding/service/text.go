package service

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var markupPattern = regexp.MustCompile(`<[^>]*>`)

// truncate cuts body to at most limit runes. It runs before sanitize so an
// oversized message never reaches the normalizer whole.
func truncate(body string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(body) <= limit {
		return body
	}
	n := 0
	for i := range body {
		if n == limit {
			return body[:i]
		}
		n++
	}
	return body
}

// sanitize strips markup and control characters, folds whitespace runs to a
// single space and normalizes to NFC so the same text typed on different
// keyboards compares equal.
func sanitize(body string) string {
	body = markupPattern.ReplaceAllString(body, " ")
	body = strings.Map(func(r rune) rune {
		switch {
		case r == utf8.RuneError:
			return -1
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, body)
	body = norm.NFC.String(body)
	return strings.Join(strings.Fields(body), " ")
}

// prepareBody is what every handler sees.
func prepareBody(raw string, limit int) string {
	return sanitize(truncate(raw, limit))
}

var (
	yesAnswers = map[string]bool{"OUI": true, "YES": true, "O": true, "Y": true, "OK": true, "D'ACCORD": true, "D’ACCORD": true}
	noAnswers  = map[string]bool{"NON": true, "NO": true, "N": true}
)

// parseYesNo reads a consent answer. ok is false for anything that is not
// clearly yes or no; the caller re-prompts.
func parseYesNo(body string) (yes bool, ok bool) {
	answer := strings.TrimRight(cases.Upper(language.Und).String(strings.TrimSpace(body)), ".! ")
	switch {
	case yesAnswers[answer]:
		return true, true
	case noAnswers[answer]:
		return false, true
	}
	return false, false
}

const (
	minNameRunes       = 2
	maxNameRunes       = 80
	minSubmissionRunes = 20
)

// validName accepts letters with the separators people use in names.
func validName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < minNameRunes || n > maxNameRunes {
		return false
	}
	letters := 0
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.Is(unicode.Mn, r):
			letters++
		case r == ' ' || r == '-' || r == '\'' || r == '’' || r == '.':
		default:
			return false
		}
	}
	return letters >= minNameRunes
}

// retentionChoices maps the menu digits to retention in days.
var retentionChoices = map[string]int{
	"1": 180,
	"2": 365,
	"3": 1095,
}
