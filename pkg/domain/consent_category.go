package domain

import dErrors "vaultline/pkg/domain-errors"

// ConsentCategory identifies what a consent event covers.
// Invariant: the value must be one of the supported categories.
//
// Usage: construct via ParseConsentCategory at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type ConsentCategory string

const (
	// ConsentSubmission covers storing the person's identity and submission.
	// Withdrawing it deletes the identity.
	ConsentSubmission    ConsentCategory = "submission"
	ConsentMarketing     ConsentCategory = "marketing"
	ConsentAnalysis      ConsentCategory = "analysis"
	ConsentDataRetention ConsentCategory = "data_retention"
)

var validConsentCategories = map[ConsentCategory]bool{
	ConsentSubmission:    true,
	ConsentMarketing:     true,
	ConsentAnalysis:      true,
	ConsentDataRetention: true,
}

// ParseConsentCategory constructs a ConsentCategory from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseConsentCategory(s string) (ConsentCategory, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "category cannot be empty")
	}
	c := ConsentCategory(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid category")
	}
	return c, nil
}

// IsValid checks if the category is one of the supported enum values.
func (c ConsentCategory) IsValid() bool {
	return validConsentCategories[c]
}

func (c ConsentCategory) String() string {
	return string(c)
}

// AllConsentCategories returns the supported categories in a stable order.
func AllConsentCategories() []ConsentCategory {
	return []ConsentCategory{ConsentSubmission, ConsentMarketing, ConsentAnalysis, ConsentDataRetention}
}
