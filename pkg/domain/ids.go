package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "vaultline/pkg/domain-errors"
)

// Typed identifiers keep identity, conversation and submission IDs from being
// swapped at call sites. All of them are random UUIDs and never derived from PII.
type (
	IdentityID   uuid.UUID
	ThreadID     uuid.UUID
	SubmissionID uuid.UUID
	ConsentID    uuid.UUID
)

func NewIdentityID() IdentityID     { return IdentityID(uuid.New()) }
func NewThreadID() ThreadID         { return ThreadID(uuid.New()) }
func NewSubmissionID() SubmissionID { return SubmissionID(uuid.New()) }
func NewConsentID() ConsentID       { return ConsentID(uuid.New()) }

func (id IdentityID) String() string   { return uuid.UUID(id).String() }
func (id ThreadID) String() string     { return uuid.UUID(id).String() }
func (id SubmissionID) String() string { return uuid.UUID(id).String() }
func (id ConsentID) String() string    { return uuid.UUID(id).String() }

func (id IdentityID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ThreadID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SubmissionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// ParseIdentityID parses external input into an IdentityID.
// Returns CodeInvalidInput for empty, malformed or nil UUIDs.
func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s, "identity ID")
	return IdentityID(u), err
}

// ParseThreadID parses external input into a ThreadID.
func ParseThreadID(s string) (ThreadID, error) {
	u, err := parseUUID(s, "thread ID")
	return ThreadID(u), err
}

// ParseSubmissionID parses external input into a SubmissionID.
func ParseSubmissionID(s string) (SubmissionID, error) {
	u, err := parseUUID(s, "submission ID")
	return SubmissionID(u), err
}

// ParseConsentID parses external input into a ConsentID.
func ParseConsentID(s string) (ConsentID, error) {
	u, err := parseUUID(s, "consent ID")
	return ConsentID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
