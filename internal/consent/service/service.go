package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vaultline/internal/consent/models"
	identitymodels "vaultline/internal/identity/models"
	id "vaultline/pkg/domain"
	dErrors "vaultline/pkg/domain-errors"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/platform/sentinel"
	"vaultline/pkg/platform/tx"
	"vaultline/pkg/requestcontext"
)

// Store is the append-only consent ledger.
type Store interface {
	Append(ctx context.Context, record *models.Record) error
	ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]models.Record, error)
	Latest(ctx context.Context, identityID id.IdentityID, category id.ConsentCategory) (*models.Record, error)
}

// IdentityStore is the part of the identity store the ledger needs for
// lookup-hash reuse and cascading deletion.
type IdentityStore interface {
	FindByID(ctx context.Context, identityID id.IdentityID) (*identitymodels.Identity, error)
	Delete(ctx context.Context, identityID id.IdentityID) error
}

// Purger removes data derived from an identity (submissions, conversation
// payloads). Purgers run before the identity row is deleted.
type Purger interface {
	PurgeIdentity(ctx context.Context, identityID id.IdentityID) error
}

// LookupHasher hashes and verifies lookup secrets. *vault.Vault satisfies it.
type LookupHasher interface {
	HashLookupSecret(secret string) (string, error)
	VerifyLookupSecret(secret, hash string) bool
}

// Auditor persists audit entries; it must fail closed.
type Auditor interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Service is the consent ledger. Every grant or withdrawal appends a record;
// nothing is ever updated in place. Withdrawing submission consent deletes the
// identity and everything derived from it in the same transaction.
type Service struct {
	store         Store
	identities    IdentityStore
	hasher        LookupHasher
	auditor       Auditor
	tx            tx.Runner
	purgers       []Purger
	policyVersion string
	logger        *slog.Logger
	metrics       *Metrics
	tracer        trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPurgers registers derived-data purgers for cascading deletion.
func WithPurgers(purgers ...Purger) Option {
	return func(s *Service) {
		s.purgers = append(s.purgers, purgers...)
	}
}

func New(store Store, identities IdentityStore, hasher LookupHasher, auditor Auditor, runner tx.Runner, policyVersion string, opts ...Option) (*Service, error) {
	if store == nil || identities == nil || hasher == nil || auditor == nil || runner == nil {
		return nil, errors.New("consent ledger requires store, identities, hasher, auditor and tx runner")
	}
	if policyVersion == "" {
		return nil, errors.New("consent ledger requires a policy version")
	}
	s := &Service{
		store:         store,
		identities:    identities,
		hasher:        hasher,
		auditor:       auditor,
		tx:            runner,
		policyVersion: policyVersion,
		logger:        slog.Default(),
		tracer:        otel.Tracer("vaultline/consent"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PolicyVersion returns the active consent policy version.
func (s *Service) PolicyVersion() string {
	return s.policyVersion
}

// RecordRequest describes one consent event.
type RecordRequest struct {
	IdentityID id.IdentityID
	// LookupSecret is optional. When the identity already has a lookup hash the
	// secret is only verified against it, never hashed again.
	LookupSecret string
	Category     id.ConsentCategory
	Granted      bool
	Channel      string
	ExpiresAt    *time.Time
	Metadata     map[string]string
}

// RecordConsent appends a consent record. Withdrawal of submission consent
// synchronously deletes the identity and its derived data before returning.
// Write failures are returned as CodeLedgerWrite or CodeStoreWrite and are
// not retried here.
func (s *Service) RecordConsent(ctx context.Context, req RecordRequest) (*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "consent.RecordConsent", trace.WithAttributes(
		attribute.String("consent.category", string(req.Category)),
		attribute.Bool("consent.granted", req.Granted),
	))
	defer span.End()

	if req.IdentityID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identity ID required")
	}
	if !req.Category.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid consent category: "+string(req.Category))
	}
	now := requestcontext.Now(ctx)
	if req.Granted && req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "consent expiry must be in the future")
	}

	var (
		record  *models.Record
		deleted bool
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		identity, err := s.identities.FindByID(ctx, req.IdentityID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeLedgerWrite, "load identity")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			identity = nil
		}

		lookupHash, err := s.resolveLookupHash(ctx, identity, req)
		if err != nil {
			return err
		}

		channel := req.Channel
		if channel == "" {
			channel = requestcontext.Channel(ctx)
		}
		record = &models.Record{
			ID:            id.NewConsentID(),
			IdentityID:    req.IdentityID,
			LookupHash:    lookupHash,
			Category:      req.Category,
			Granted:       req.Granted,
			PolicyVersion: s.policyVersion,
			Channel:       channel,
			IP:            requestcontext.ClientIP(ctx),
			UserAgent:     requestcontext.UserAgent(ctx),
			ExpiresAt:     req.ExpiresAt,
			CreatedAt:     now,
			Metadata:      req.Metadata,
		}
		if err := s.store.Append(ctx, record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeLedgerWrite, "append consent record")
		}

		if !req.Granted && req.Category == id.ConsentSubmission && identity != nil {
			if err := s.cascade(ctx, identity.ID); err != nil {
				return err
			}
			deleted = true
		}

		action := audit.ActionConsentGranted
		if !req.Granted {
			action = audit.ActionConsentWithdrawn
		}
		if err := s.auditor.Emit(ctx, audit.Entry{
			IdentityID: req.IdentityID,
			Action:     action,
			Metadata: map[string]string{
				"category":       string(req.Category),
				"policy_version": s.policyVersion,
				"channel":        channel,
			},
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeLedgerWrite, "audit consent change")
		}
		if deleted {
			if err := s.auditor.Emit(ctx, audit.Entry{
				IdentityID: req.IdentityID,
				Action:     audit.ActionIdentityDeleted,
				Metadata:   map[string]string{"reason": "consent_withdrawn"},
			}); err != nil {
				return dErrors.Wrap(err, dErrors.CodeLedgerWrite, "audit identity deletion")
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record consent failed")
		if s.metrics != nil {
			s.metrics.IncLedgerWriteFailures()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncRecorded(req.Category, req.Granted)
		if deleted {
			s.metrics.IncCascadeDeletions("consent_withdrawn")
		}
	}
	s.logger.InfoContext(ctx, "consent recorded",
		"log_type", "audit",
		"identity_id", req.IdentityID,
		"category", req.Category,
		"granted", req.Granted,
		"identity_deleted", deleted,
		"request_id", requestcontext.RequestID(ctx),
	)
	return record, nil
}

// resolveLookupHash keeps one lookup hash per identity: the identity's own
// hash first, then the hash on earlier ledger records, and only then a fresh
// hash of the supplied secret.
func (s *Service) resolveLookupHash(ctx context.Context, identity *identitymodels.Identity, req RecordRequest) (string, error) {
	if identity != nil && identity.LookupHash != "" {
		if req.LookupSecret != "" && !s.hasher.VerifyLookupSecret(req.LookupSecret, identity.LookupHash) {
			return "", dErrors.New(dErrors.CodeValidation, "lookup secret does not match identity")
		}
		return identity.LookupHash, nil
	}

	history, err := s.store.ListByIdentity(ctx, req.IdentityID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeLedgerWrite, "load consent history")
	}
	if n := len(history); n > 0 && history[n-1].LookupHash != "" {
		return history[n-1].LookupHash, nil
	}

	if req.LookupSecret == "" {
		return "", dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	hash, err := s.hasher.HashLookupSecret(req.LookupSecret)
	if err != nil {
		return "", err
	}
	return hash, nil
}

// WithdrawConsent records a withdrawal reusing the identity's stored lookup hash.
func (s *Service) WithdrawConsent(ctx context.Context, identityID id.IdentityID, category id.ConsentCategory) (*models.Record, error) {
	return s.RecordConsent(ctx, RecordRequest{
		IdentityID: identityID,
		Category:   category,
		Granted:    false,
	})
}

// HasValidConsent reports whether the latest record for category grants
// consent that has not expired. A policy-version mismatch is logged but does
// not invalidate the consent; see NeedsReConsent.
func (s *Service) HasValidConsent(ctx context.Context, identityID id.IdentityID, category id.ConsentCategory) (bool, error) {
	latest, err := s.store.Latest(ctx, identityID, category)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load latest consent")
	}
	if latest.PolicyVersion != s.policyVersion {
		s.logger.WarnContext(ctx, "consent policy version mismatch",
			"identity_id", identityID,
			"category", category,
			"stored_version", latest.PolicyVersion,
			"active_version", s.policyVersion,
		)
	}
	return latest.IsActive(requestcontext.Now(ctx)), nil
}

// NeedsReConsent is true when there is no record for category or the latest
// one was captured under a different policy version.
func (s *Service) NeedsReConsent(ctx context.Context, identityID id.IdentityID, category id.ConsentCategory) (bool, error) {
	latest, err := s.store.Latest(ctx, identityID, category)
	if errors.Is(err, sentinel.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load latest consent")
	}
	return latest.PolicyVersion != s.policyVersion, nil
}

// GetConsents returns the full ledger for an identity, oldest first. History
// survives withdrawal and identity deletion.
func (s *Service) GetConsents(ctx context.Context, identityID id.IdentityID) ([]models.Record, error) {
	records, err := s.store.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load consent history")
	}
	return records, nil
}

// Summary returns the current state of every category that has a record.
func (s *Service) Summary(ctx context.Context, identityID id.IdentityID) ([]models.Status, error) {
	records, err := s.GetConsents(ctx, identityID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	var out []models.Status
	for _, category := range id.AllConsentCategories() {
		latest := models.Latest(records, category)
		if latest == nil {
			continue
		}
		out = append(out, models.Status{
			Category:      category,
			Active:        latest.IsActive(now),
			PolicyVersion: latest.PolicyVersion,
			UpdatedAt:     latest.CreatedAt,
		})
	}
	return out, nil
}
