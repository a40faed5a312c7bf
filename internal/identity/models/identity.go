package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"vaultline/internal/vault"
	id "vaultline/pkg/domain"
)

// Identity is one onboarded person. It never holds the plaintext address:
// LookupHash is a salted one-way hash used for equality tests only, and the
// display name is stored encrypted.
type Identity struct {
	ID                id.IdentityID
	LookupHash        string
	LookupIndex       string // keyed MAC of the address; empty when the scan strategy is used
	EncryptedName     vault.EncryptedField
	AnonymizedContact string
	ConsentGrantedAt  time.Time
	RetentionExpiry   *time.Time
	CreatedAt         time.Time
}

// HasName reports whether the display name was collected.
func (i *Identity) HasName() bool {
	return !i.EncryptedName.IsZero()
}

// IsExpired reports whether the retention window elapsed at now.
func (i *Identity) IsExpired(now time.Time) bool {
	return i.RetentionExpiry != nil && !i.RetentionExpiry.After(now)
}

// AnonymizedContactFor derives a synthetic contact handle from the identifier.
// It is stable per identity and carries nothing about the person.
func AnonymizedContactFor(identityID id.IdentityID) string {
	sum := sha256.Sum256([]byte(identityID.String()))
	return "anon-" + hex.EncodeToString(sum[:8]) + "@contact.invalid"
}

// NewIdentity builds an identity at consent time. The retention expiry starts
// at the deployment default and is replaced once the person chooses.
func NewIdentity(lookupHash, lookupIndex string, now time.Time, defaultRetention time.Duration) *Identity {
	identityID := id.NewIdentityID()
	expiry := now.Add(defaultRetention)
	return &Identity{
		ID:                identityID,
		LookupHash:        lookupHash,
		LookupIndex:       lookupIndex,
		AnonymizedContact: AnonymizedContactFor(identityID),
		ConsentGrantedAt:  now,
		RetentionExpiry:   &expiry,
		CreatedAt:         now,
	}
}
