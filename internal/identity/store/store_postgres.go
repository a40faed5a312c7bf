package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vaultline/internal/identity/models"
	"vaultline/internal/vault"
	id "vaultline/pkg/domain"
	"vaultline/pkg/platform/sentinel"
	txcontext "vaultline/pkg/platform/tx"
)

// PostgresStore persists identities in the identities table.
// This store is pure I/O; rules about when an identity changes live in the services.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, identity *models.Identity) error {
	if identity == nil {
		return fmt.Errorf("identity is required")
	}
	query := `
		INSERT INTO identities (
			id, lookup_hash, lookup_index, encrypted_name, name_nonce, name_tag,
			anonymized_contact, consent_granted_at, retention_expiry, created_at
		)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(identity.ID),
		identity.LookupHash,
		identity.LookupIndex,
		identity.EncryptedName.Ciphertext,
		identity.EncryptedName.Nonce,
		identity.EncryptedName.Tag,
		identity.AnonymizedContact,
		identity.ConsentGrantedAt,
		identity.RetentionExpiry,
		identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	query := `
		SELECT id, lookup_hash, COALESCE(lookup_index, ''), encrypted_name, name_nonce, name_tag,
			anonymized_contact, consent_granted_at, retention_expiry, created_at
		FROM identities
		WHERE id = $1
	`
	var (
		identity models.Identity
		rawID    uuid.UUID
		expiry   sql.NullTime
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(identityID)).Scan(
		&rawID,
		&identity.LookupHash,
		&identity.LookupIndex,
		&identity.EncryptedName.Ciphertext,
		&identity.EncryptedName.Nonce,
		&identity.EncryptedName.Tag,
		&identity.AnonymizedContact,
		&identity.ConsentGrantedAt,
		&expiry,
		&identity.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	identity.ID = id.IdentityID(rawID)
	if expiry.Valid {
		t := expiry.Time
		identity.RetentionExpiry = &t
	}
	return &identity, nil
}

func (s *PostgresStore) SetDisplayName(ctx context.Context, identityID id.IdentityID, name vault.EncryptedField) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE identities
		SET encrypted_name = $2, name_nonce = $3, name_tag = $4
		WHERE id = $1
	`, uuid.UUID(identityID), name.Ciphertext, name.Nonce, name.Tag)
	if err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	return requireRow(res, identityID)
}

func (s *PostgresStore) UpdateRetentionExpiry(ctx context.Context, identityID id.IdentityID, expiry time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE identities SET retention_expiry = $2 WHERE id = $1`, uuid.UUID(identityID), expiry)
	if err != nil {
		return fmt.Errorf("update retention expiry: %w", err)
	}
	return requireRow(res, identityID)
}

func (s *PostgresStore) Delete(ctx context.Context, identityID id.IdentityID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, uuid.UUID(identityID))
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]id.IdentityID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id FROM identities
		WHERE retention_expiry IS NOT NULL AND retention_expiry <= $1
		ORDER BY retention_expiry ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired identities: %w", err)
	}
	defer rows.Close()

	var ids []id.IdentityID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan expired identity: %w", err)
		}
		ids = append(ids, id.IdentityID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired identities: %w", err)
	}
	return ids, nil
}

// requireRow turns a zero-row update into ErrNotFound.
func requireRow(res sql.Result, identityID id.IdentityID) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}
	return nil
}
