package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "vaultline/pkg/domain"
)

// EventCategory classifies audit entries by their primary purpose.
// This enables different retention policies and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers entries with legal/regulatory significance:
	// consent changes, identity creation/deletion, data subject requests.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers entries relevant to security monitoring:
	// rate limit violations, decrypt failures, lookups.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Action names a security-relevant action.
type Action string

const (
	// Consent
	ActionConsentGranted   Action = "consent_granted"
	ActionConsentWithdrawn Action = "consent_withdrawn"

	// Identity lifecycle
	ActionIdentityCreated  Action = "identity_created"
	ActionIdentityDeleted  Action = "identity_deleted"
	ActionRetentionUpdated Action = "retention_updated"
	ActionRetentionSweep   Action = "retention_sweep"
	ActionIdentityLookup   Action = "identity_lookup"

	// Data subject requests
	ActionDeletionRequested Action = "deletion_requested"
	ActionDeletionCancelled Action = "deletion_cancelled"
	ActionDataExported      Action = "data_exported"
	ActionDataAccessed      Action = "data_accessed"

	// Conversation
	ActionSubmissionCreated   Action = "submission_created"
	ActionConversationStopped Action = "conversation_stopped"

	// Failures
	ActionRateLimitExceeded     Action = "rate_limit_exceeded"
	ActionDecryptFailed         Action = "decrypt_failed"
	ActionTransitionFailed      Action = "transition_failed"
	ActionVerificationCodeFailed Action = "verification_code_failed"
)

var actionCategories = map[Action]EventCategory{
	ActionConsentGranted:    CategoryCompliance,
	ActionConsentWithdrawn:  CategoryCompliance,
	ActionIdentityCreated:   CategoryCompliance,
	ActionIdentityDeleted:   CategoryCompliance,
	ActionRetentionUpdated:  CategoryCompliance,
	ActionRetentionSweep:    CategoryCompliance,
	ActionDeletionRequested: CategoryCompliance,
	ActionDeletionCancelled: CategoryCompliance,
	ActionDataExported:      CategoryCompliance,
	ActionSubmissionCreated: CategoryCompliance,

	ActionIdentityLookup:         CategorySecurity,
	ActionDataAccessed:           CategorySecurity,
	ActionRateLimitExceeded:      CategorySecurity,
	ActionDecryptFailed:          CategorySecurity,
	ActionTransitionFailed:       CategorySecurity,
	ActionVerificationCodeFailed: CategorySecurity,

	ActionConversationStopped: CategoryOperations,
}

// Category returns the EventCategory for this action.
// Unknown actions default to CategoryOperations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Entry is one append-only audit log row. Entries are never mutated or
// deleted, including when the identity they reference is deleted.
type Entry struct {
	ID         uuid.UUID
	Seq        int64 // assigned by the store, monotonically increasing
	IdentityID id.IdentityID
	Action     Action
	Actor      string
	Timestamp  time.Time
	Metadata   map[string]string
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	ListAfter(ctx context.Context, seq int64, limit int) ([]Entry, error)
}
