package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vaultline/internal/onboarding/models"
	"vaultline/internal/platform/postgres"
	id "vaultline/pkg/domain"
	"vaultline/pkg/platform/sentinel"
	txcontext "vaultline/pkg/platform/tx"
)

// PostgresStore persists conversation rows in conversation_states. It only
// ever inserts rows and sets superseded_at; content columns are never updated.
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

const selectColumns = `
	SELECT id, thread_id, version, lookup_hash, COALESCE(lookup_index, ''), identity_id, stage,
		encrypted_payload, payload_nonce, payload_tag, message_count, created_at, updated_at, superseded_at
	FROM conversation_states
`

func (s *PostgresStore) FindActiveByIndex(ctx context.Context, lookupIndex string) (*models.State, error) {
	if lookupIndex == "" {
		return nil, fmt.Errorf("conversation by index: %w", sentinel.ErrNotFound)
	}
	row := s.execer(ctx).QueryRowContext(ctx, selectColumns+`
		WHERE lookup_index = $1 AND superseded_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`, lookupIndex)
	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation by index: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return state, nil
}

// ListActive returns every active row, oldest first. Scan-mode resolution
// walks this list, so its cost grows with the number of live conversations.
func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.State, error) {
	return s.query(ctx, selectColumns+`
		WHERE superseded_at IS NULL
		ORDER BY created_at ASC
	`)
}

func (s *PostgresStore) ListThread(ctx context.Context, threadID id.ThreadID) ([]*models.State, error) {
	return s.query(ctx, selectColumns+`
		WHERE thread_id = $1
		ORDER BY version ASC
	`, uuid.UUID(threadID))
}

func (s *PostgresStore) Insert(ctx context.Context, state *models.State) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}
	var identityID any
	if state.HasIdentity() {
		identityID = uuid.UUID(state.IdentityID)
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO conversation_states (
			id, thread_id, version, lookup_hash, lookup_index, identity_id, stage,
			encrypted_payload, payload_nonce, payload_tag, message_count, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		state.ID,
		uuid.UUID(state.ThreadID),
		state.Version,
		state.LookupHash,
		state.LookupIndex,
		identityID,
		string(state.Stage),
		state.EncryptedPayload.Ciphertext,
		state.EncryptedPayload.Nonce,
		state.EncryptedPayload.Tag,
		state.MessageCount,
		state.CreatedAt,
		state.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("conversation %s version %d: %w", state.ThreadID, state.Version, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert conversation state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Supersede(ctx context.Context, threadID id.ThreadID, version int, at time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE conversation_states
		SET superseded_at = $3, updated_at = $3
		WHERE thread_id = $1 AND version = $2 AND superseded_at IS NULL
	`, uuid.UUID(threadID), version, at)
	if err != nil {
		return fmt.Errorf("supersede conversation state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("supersede conversation state: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("supersede conversation %s version %d: %w", threadID, version, sentinel.ErrConflict)
	}
	return nil
}

// PurgeIdentity deletes every row of every thread the identity appears in,
// including the rows written before consent bound the thread to it.
func (s *PostgresStore) PurgeIdentity(ctx context.Context, identityID id.IdentityID) error {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT DISTINCT thread_id FROM conversation_states WHERE identity_id = $1`, uuid.UUID(identityID))
	if err != nil {
		return fmt.Errorf("list conversation threads: %w", err)
	}
	var threads []string
	for rows.Next() {
		var thread uuid.UUID
		if err := rows.Scan(&thread); err != nil {
			rows.Close()
			return fmt.Errorf("scan conversation thread: %w", err)
		}
		threads = append(threads, thread.String())
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate conversation threads: %w", err)
	}
	rows.Close()
	if len(threads) == 0 {
		return nil
	}

	if _, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM conversation_states WHERE thread_id = ANY($1::uuid[])`, pq.Array(threads)); err != nil {
		return fmt.Errorf("purge conversation states: %w", err)
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*models.State, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversation states: %w", err)
	}
	defer rows.Close()

	var out []*models.State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation state: %w", err)
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation states: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*models.State, error) {
	var (
		state      models.State
		thread     uuid.UUID
		identityID uuid.NullUUID
		stage      string
		superseded sql.NullTime
	)
	if err := row.Scan(
		&state.ID,
		&thread,
		&state.Version,
		&state.LookupHash,
		&state.LookupIndex,
		&identityID,
		&stage,
		&state.EncryptedPayload.Ciphertext,
		&state.EncryptedPayload.Nonce,
		&state.EncryptedPayload.Tag,
		&state.MessageCount,
		&state.CreatedAt,
		&state.UpdatedAt,
		&superseded,
	); err != nil {
		return nil, err
	}
	parsed, err := models.ParseStage(stage)
	if err != nil {
		return nil, err
	}
	state.ThreadID = id.ThreadID(thread)
	state.Stage = parsed
	if identityID.Valid {
		state.IdentityID = id.IdentityID(identityID.UUID)
	}
	if superseded.Valid {
		at := superseded.Time
		state.SupersededAt = &at
	}
	return &state, nil
}
