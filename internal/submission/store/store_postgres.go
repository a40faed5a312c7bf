package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"vaultline/internal/platform/postgres"
	"vaultline/internal/submission/models"
	id "vaultline/pkg/domain"
	"vaultline/pkg/platform/sentinel"
	txcontext "vaultline/pkg/platform/tx"
)

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

// Create inserts a submission. The UNIQUE constraint on conversation_id turns
// a duplicate into ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, submission *models.Submission) error {
	if submission == nil {
		return fmt.Errorf("submission is required")
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO submissions (id, conversation_id, identity_id, encrypted_body, body_nonce, body_tag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		uuid.UUID(submission.ID),
		uuid.UUID(submission.ConversationID),
		uuid.UUID(submission.IdentityID),
		submission.EncryptedBody.Ciphertext,
		submission.EncryptedBody.Nonce,
		submission.EncryptedBody.Tag,
		submission.CreatedAt,
	)
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("submission for conversation %s: %w", submission.ConversationID, sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExistsForConversation(ctx context.Context, conversationID id.ThreadID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE conversation_id = $1)`,
		uuid.UUID(conversationID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check submission: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) FindByIdentity(ctx context.Context, identityID id.IdentityID) ([]models.Submission, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, conversation_id, identity_id, encrypted_body, body_nonce, body_tag, created_at
		FROM submissions
		WHERE identity_id = $1
		ORDER BY created_at ASC
	`, uuid.UUID(identityID))
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		var (
			sub                          models.Submission
			rawID, conversation, ownerID uuid.UUID
		)
		if err := rows.Scan(&rawID, &conversation, &ownerID,
			&sub.EncryptedBody.Ciphertext, &sub.EncryptedBody.Nonce, &sub.EncryptedBody.Tag, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.ID = id.SubmissionID(rawID)
		sub.ConversationID = id.ThreadID(conversation)
		sub.IdentityID = id.IdentityID(ownerID)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PurgeIdentity(ctx context.Context, identityID id.IdentityID) error {
	_, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM submissions WHERE identity_id = $1`, uuid.UUID(identityID))
	if err != nil {
		return fmt.Errorf("purge submissions: %w", err)
	}
	return nil
}
