package models

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CommandKind names an explicit command. Commands take precedence over
// stage-driven parsing.
type CommandKind string

const (
	CommandDelete  CommandKind = "delete"
	CommandExport  CommandKind = "export"
	CommandHelp    CommandKind = "help"
	CommandStop    CommandKind = "stop"
	CommandConfirm CommandKind = "confirm"
	CommandCancel  CommandKind = "cancel"
)

// Command is a parsed command with its optional argument (the verification
// code for confirm).
type Command struct {
	Kind     CommandKind
	Argument string
}

var commandKeywords = map[string]CommandKind{
	"SUPPRIMER": CommandDelete,
	"DELETE":    CommandDelete,
	"EXPORTER":  CommandExport,
	"EXPORT":    CommandExport,
	"AIDE":      CommandHelp,
	"HELP":      CommandHelp,
	"STOP":      CommandStop,
	"ARRET":     CommandStop,
	"ARRÊT":     CommandStop,
	"CONFIRMER": CommandConfirm,
	"CONFIRM":   CommandConfirm,
	"ANNULER":   CommandCancel,
	"CANCEL":    CommandCancel,
}

// ParseCommand recognizes a message that consists of a command keyword, plus
// a single argument for confirm. Anything else is ordinary stage input, so
// an idea that merely contains the word "stop" is not a command.
func ParseCommand(body string) (Command, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 || len(fields) > 2 {
		return Command{}, false
	}
	// A Caser keeps state, so each call gets its own.
	keyword := strings.TrimRight(cases.Upper(language.Und).String(fields[0]), ".!")
	kind, ok := commandKeywords[keyword]
	if !ok {
		return Command{}, false
	}
	if len(fields) == 2 {
		if kind != CommandConfirm {
			return Command{}, false
		}
		return Command{Kind: kind, Argument: fields[1]}, true
	}
	return Command{Kind: kind}, true
}
