package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"vaultline/internal/consent/models"
	id "vaultline/pkg/domain"
	"vaultline/pkg/platform/sentinel"
	txcontext "vaultline/pkg/platform/tx"
)

// PostgresStore appends consent records to the consents table. The table has
// no UPDATE or DELETE path in this code, and identity deletion does not
// cascade to it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, record *models.Record) error {
	if record == nil {
		return fmt.Errorf("consent record is required")
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal consent metadata: %w", err)
	}
	query := `
		INSERT INTO consents (
			id, identity_id, lookup_hash, category, granted, policy_version,
			channel, ip, user_agent, expires_at, created_at, metadata_json
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.IdentityID),
		record.LookupHash,
		string(record.Category),
		record.Granted,
		record.PolicyVersion,
		record.Channel,
		record.IP,
		record.UserAgent,
		record.ExpiresAt,
		record.CreatedAt,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert consent: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, identity_id, lookup_hash, category, granted, policy_version,
		channel, ip, user_agent, expires_at, created_at, metadata_json
	FROM consents
`

// ListByIdentity returns the ledger for one identity, oldest first. seq
// breaks ties between records written in the same instant.
func (s *PostgresStore) ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]models.Record, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		selectColumns+` WHERE identity_id = $1 ORDER BY created_at ASC, seq ASC`, uuid.UUID(identityID))
	if err != nil {
		return nil, fmt.Errorf("query consents: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) Latest(ctx context.Context, identityID id.IdentityID, category id.ConsentCategory) (*models.Record, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		selectColumns+` WHERE identity_id = $1 AND category = $2 ORDER BY created_at DESC, seq DESC LIMIT 1`,
		uuid.UUID(identityID), string(category))
	if err != nil {
		return nil, fmt.Errorf("query latest consent: %w", err)
	}
	defer rows.Close()
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("consent %s for %s: %w", category, identityID, sentinel.ErrNotFound)
	}
	return &records[0], nil
}

func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	var records []models.Record
	for rows.Next() {
		var (
			r          models.Record
			rawID      uuid.UUID
			identityID uuid.UUID
			category   string
			expiresAt  sql.NullTime
			metadata   []byte
		)
		err := rows.Scan(&rawID, &identityID, &r.LookupHash, &category, &r.Granted, &r.PolicyVersion,
			&r.Channel, &r.IP, &r.UserAgent, &expiresAt, &r.CreatedAt, &metadata)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		r.ID = id.ConsentID(rawID)
		r.IdentityID = id.IdentityID(identityID)
		r.Category = id.ConsentCategory(category)
		if expiresAt.Valid {
			t := expiresAt.Time
			r.ExpiresAt = &t
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode consent metadata: %w", err)
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return records, nil
}
