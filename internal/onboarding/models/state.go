package models

import (
	"time"

	"github.com/google/uuid"

	"vaultline/internal/vault"
	id "vaultline/pkg/domain"
)

// State is one row of a conversation's transition trail. Rows are never
// edited: a transition inserts Version+1 and then marks this row superseded.
// The active row of a thread is the one with SupersededAt == nil.
type State struct {
	ID               uuid.UUID
	ThreadID         id.ThreadID
	Version          int
	LookupHash       string
	LookupIndex      string
	IdentityID       id.IdentityID
	Stage            Stage
	EncryptedPayload vault.EncryptedField
	MessageCount     int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SupersededAt     *time.Time
}

// IsActive reports whether the row is the head of its thread.
func (s *State) IsActive() bool {
	return s.SupersededAt == nil
}

// HasIdentity reports whether consent created an identity for this thread.
func (s *State) HasIdentity() bool {
	return !s.IdentityID.IsNil()
}

// NewThread starts a conversation at need_consent.
func NewThread(lookupHash, lookupIndex string, payload vault.EncryptedField, now time.Time) *State {
	return &State{
		ID:               uuid.New(),
		ThreadID:         id.NewThreadID(),
		Version:          1,
		LookupHash:       lookupHash,
		LookupIndex:      lookupIndex,
		Stage:            StageNeedConsent,
		EncryptedPayload: payload,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Successor builds the row that supersedes s after one processed message.
func (s *State) Successor(stage Stage, payload vault.EncryptedField, now time.Time) *State {
	return &State{
		ID:               uuid.New(),
		ThreadID:         s.ThreadID,
		Version:          s.Version + 1,
		LookupHash:       s.LookupHash,
		LookupIndex:      s.LookupIndex,
		IdentityID:       s.IdentityID,
		Stage:            stage,
		EncryptedPayload: payload,
		MessageCount:     s.MessageCount + 1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
