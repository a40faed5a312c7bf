package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "vaultline/pkg/domain"
	audit "vaultline/pkg/platform/audit"
	txcontext "vaultline/pkg/platform/tx"
)

// Store implements audit.Store on the audit_log table. Rows are written in the
// caller's transaction when one is present, so an audit entry commits or rolls
// back together with the change it records. The seq column doubles as the
// outbox cursor for the stream relay.
type Store struct {
	db     *sql.DB
	settle time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithSettleDelay hides rows from ListAfter until their transaction started at
// least d ago. Sequence values are assigned at insert but become visible at
// commit, so a cursor must not run ahead of transactions still in flight; d
// should be at least the transaction timeout.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Store) {
		s.settle = d
	}
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, settle: 10 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts one audit row.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	var identityID *uuid.UUID
	if !entry.IdentityID.IsNil() {
		uid := uuid.UUID(entry.IdentityID)
		identityID = &uid
	}

	query := `
		INSERT INTO audit_log (id, identity_id, action, actor, timestamp, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		identityID,
		string(entry.Action),
		entry.Actor,
		entry.Timestamp,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, seq, identity_id, action, actor, timestamp, metadata_json FROM audit_log`

// ListByIdentity returns entries for one identity, oldest first. Entries
// outlive the identity row, so this works after deletion too.
func (s *Store) ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]audit.Entry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		selectColumns+` WHERE identity_id = $1 ORDER BY seq ASC`, uuid.UUID(identityID))
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListRecent returns the N most recent entries, newest first. A limit of
// zero returns every entry.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		selectColumns+` ORDER BY seq DESC LIMIT NULLIF($1::bigint, 0)`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListAfter returns committed entries past the given cursor, in seq order.
func (s *Store) ListAfter(ctx context.Context, seq int64, limit int) ([]audit.Entry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		selectColumns+` WHERE seq > $1 AND recorded_at <= now() - ($3 * interval '1 millisecond')
		ORDER BY seq ASC LIMIT $2`, seq, limit, s.settle.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			entry      audit.Entry
			identityID *uuid.UUID
			action     string
			metadata   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Seq, &identityID, &action, &entry.Actor, &entry.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = audit.Action(action)
		if identityID != nil {
			entry.IdentityID = id.IdentityID(*identityID)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// Offsets persists the stream relay cursor in audit_relay_offsets.
type Offsets struct {
	db *sql.DB
}

func NewOffsets(db *sql.DB) *Offsets {
	return &Offsets{db: db}
}

func (o *Offsets) Load(ctx context.Context, relay string) (int64, error) {
	var seq int64
	err := o.db.QueryRowContext(ctx,
		`SELECT last_seq FROM audit_relay_offsets WHERE relay = $1`, relay).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load relay offset: %w", err)
	}
	return seq, nil
}

func (o *Offsets) Save(ctx context.Context, relay string, seq int64) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO audit_relay_offsets (relay, last_seq)
		VALUES ($1, $2)
		ON CONFLICT (relay) DO UPDATE SET last_seq = EXCLUDED.last_seq
	`, relay, seq)
	if err != nil {
		return fmt.Errorf("save relay offset: %w", err)
	}
	return nil
}
