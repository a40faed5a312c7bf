// Package export assembles a data-subject access bundle: everything stored
// about one identity, decrypted, written to a sink and handed back as a
// short-lived link.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	consentmodels "vaultline/internal/consent/models"
	identitymodels "vaultline/internal/identity/models"
	submissionmodels "vaultline/internal/submission/models"
	"vaultline/internal/vault"
	id "vaultline/pkg/domain"
	dErrors "vaultline/pkg/domain-errors"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/platform/sentinel"
	"vaultline/pkg/requestcontext"
)

type IdentityReader interface {
	FindByID(ctx context.Context, identityID id.IdentityID) (*identitymodels.Identity, error)
}

type ConsentReader interface {
	GetConsents(ctx context.Context, identityID id.IdentityID) ([]consentmodels.Record, error)
}

type SubmissionReader interface {
	FindByIdentity(ctx context.Context, identityID id.IdentityID) ([]submissionmodels.Submission, error)
}

type Decrypter interface {
	DecryptString(field vault.EncryptedField) (string, error)
}

type Auditor interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

// Sink stores an export and returns a link the person can fetch it from.
type Sink interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}

// Bundle is the exported document.
type Bundle struct {
	IdentityID        string            `json:"identity_id"`
	AnonymizedContact string            `json:"anonymized_contact"`
	DisplayName       string            `json:"display_name,omitempty"`
	ConsentGrantedAt  time.Time         `json:"consent_granted_at"`
	RetentionExpiry   *time.Time        `json:"retention_expiry,omitempty"`
	Consents          []ConsentEntry    `json:"consents"`
	Submissions       []SubmissionEntry `json:"submissions"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

type ConsentEntry struct {
	Category      string     `json:"category"`
	Granted       bool       `json:"granted"`
	PolicyVersion string     `json:"policy_version"`
	Channel       string     `json:"channel,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RecordedAt    time.Time  `json:"recorded_at"`
}

type SubmissionEntry struct {
	ID          string    `json:"id"`
	Body        string    `json:"body"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Result locates a stored export.
type Result struct {
	Key string
	URL string
}

type Builder struct {
	identities  IdentityReader
	consents    ConsentReader
	submissions SubmissionReader
	crypto      Decrypter
	sink        Sink
	auditor     Auditor
	logger      *slog.Logger
	tracer      trace.Tracer
}

type Option func(*Builder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

func New(identities IdentityReader, consents ConsentReader, submissions SubmissionReader, crypto Decrypter, sink Sink, auditor Auditor, opts ...Option) (*Builder, error) {
	if identities == nil || consents == nil || submissions == nil || crypto == nil || sink == nil || auditor == nil {
		return nil, errors.New("export builder requires identities, consents, submissions, crypto, sink and auditor")
	}
	b := &Builder{
		identities:  identities,
		consents:    consents,
		submissions: submissions,
		crypto:      crypto,
		sink:        sink,
		auditor:     auditor,
		logger:      slog.Default(),
		tracer:      otel.Tracer("vaultline/export"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Export builds the bundle for identityID, stores it and records a
// data_exported audit entry. The returned URL is the only way to reach it.
func (b *Builder) Export(ctx context.Context, identityID id.IdentityID) (*Result, error) {
	ctx, span := b.tracer.Start(ctx, "export.Export")
	defer span.End()

	result, err := b.export(ctx, identityID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		return nil, err
	}
	return result, nil
}

func (b *Builder) export(ctx context.Context, identityID id.IdentityID) (*Result, error) {
	bundle, err := b.Build(ctx, identityID)
	if err != nil {
		return nil, err
	}
	body, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode export")
	}

	key := fmt.Sprintf("exports/%s/%s.json", identityID, uuid.NewString())
	url, err := b.sink.Put(ctx, key, body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStoreWrite, "store export")
	}

	if err := b.auditor.Emit(ctx, audit.Entry{
		IdentityID: identityID,
		Action:     audit.ActionDataExported,
		Metadata: map[string]string{
			"export_key":  key,
			"consents":    fmt.Sprint(len(bundle.Consents)),
			"submissions": fmt.Sprint(len(bundle.Submissions)),
		},
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeLedgerWrite, "audit export")
	}

	b.logger.InfoContext(ctx, "data exported",
		"identity_id", identityID,
		"export_key", key,
	)
	return &Result{Key: key, URL: url}, nil
}

// Build assembles the decrypted bundle without storing it.
func (b *Builder) Build(ctx context.Context, identityID id.IdentityID) (*Bundle, error) {
	identity, err := b.identities.FindByID(ctx, identityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "identity not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load identity")
	}

	bundle := &Bundle{
		IdentityID:        identity.ID.String(),
		AnonymizedContact: identity.AnonymizedContact,
		ConsentGrantedAt:  identity.ConsentGrantedAt,
		RetentionExpiry:   identity.RetentionExpiry,
		Consents:          []ConsentEntry{},
		Submissions:       []SubmissionEntry{},
		GeneratedAt:       requestcontext.Now(ctx),
	}
	if identity.HasName() {
		name, err := b.crypto.DecryptString(identity.EncryptedName)
		if err != nil {
			return nil, err
		}
		bundle.DisplayName = name
	}

	records, err := b.consents.GetConsents(ctx, identityID)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		bundle.Consents = append(bundle.Consents, ConsentEntry{
			Category:      string(r.Category),
			Granted:       r.Granted,
			PolicyVersion: r.PolicyVersion,
			Channel:       r.Channel,
			ExpiresAt:     r.ExpiresAt,
			RecordedAt:    r.CreatedAt,
		})
	}

	submissions, err := b.submissions.FindByIdentity(ctx, identityID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load submissions")
	}
	for _, sub := range submissions {
		text, err := b.crypto.DecryptString(sub.EncryptedBody)
		if err != nil {
			return nil, err
		}
		bundle.Submissions = append(bundle.Submissions, SubmissionEntry{
			ID:          sub.ID.String(),
			Body:        text,
			SubmittedAt: sub.CreatedAt,
		})
	}
	return bundle, nil
}
