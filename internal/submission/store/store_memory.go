package store

import (
	"context"
	"fmt"
	"sync"

	"vaultline/internal/submission/models"
	id "vaultline/pkg/domain"
	"vaultline/pkg/platform/sentinel"
	"vaultline/pkg/platform/tx"
)

// InMemoryStore holds submissions keyed by conversation.
type InMemoryStore struct {
	mu             sync.RWMutex
	byConversation map[id.ThreadID]models.Submission
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byConversation: make(map[id.ThreadID]models.Submission)}
}

// Create stores a submission. A second submission for the same conversation
// fails with ErrConflict.
func (s *InMemoryStore) Create(ctx context.Context, submission *models.Submission) error {
	if submission == nil {
		return fmt.Errorf("submission is required")
	}
	s.mu.Lock()
	if _, exists := s.byConversation[submission.ConversationID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("submission for conversation %s: %w", submission.ConversationID, sentinel.ErrConflict)
	}
	s.byConversation[submission.ConversationID] = *submission
	s.mu.Unlock()

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.byConversation, submission.ConversationID)
	})
	return nil
}

func (s *InMemoryStore) ExistsForConversation(_ context.Context, conversationID id.ThreadID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byConversation[conversationID]
	return ok, nil
}

func (s *InMemoryStore) FindByIdentity(_ context.Context, identityID id.IdentityID) ([]models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Submission
	for _, sub := range s.byConversation {
		if sub.IdentityID == identityID {
			out = append(out, sub)
		}
	}
	return out, nil
}

// PurgeIdentity deletes every submission of the identity.
func (s *InMemoryStore) PurgeIdentity(ctx context.Context, identityID id.IdentityID) error {
	s.mu.Lock()
	var removed []models.Submission
	for conversationID, sub := range s.byConversation {
		if sub.IdentityID == identityID {
			removed = append(removed, sub)
			delete(s.byConversation, conversationID)
		}
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, sub := range removed {
				s.byConversation[sub.ConversationID] = sub
			}
		})
	}
	return nil
}
