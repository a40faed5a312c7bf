package models

import (
	"time"

	"vaultline/internal/vault"
	id "vaultline/pkg/domain"
)

// Submission is the downstream record created when a conversation completes.
// ConversationID is unique: a conversation produces at most one submission,
// which is what makes redelivered messages harmless.
type Submission struct {
	ID             id.SubmissionID
	ConversationID id.ThreadID
	IdentityID     id.IdentityID
	EncryptedBody  vault.EncryptedField
	CreatedAt      time.Time
}
