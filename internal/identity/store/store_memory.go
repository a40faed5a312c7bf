package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vaultline/internal/identity/models"
	"vaultline/internal/vault"
	id "vaultline/pkg/domain"
	"vaultline/pkg/platform/sentinel"
	"vaultline/pkg/platform/tx"
)

// InMemoryStore keeps identities in a map. Mutations made inside a memory
// transaction register an undo step so a failed transition leaves no trace.
type InMemoryStore struct {
	mu         sync.RWMutex
	identities map[id.IdentityID]*models.Identity
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{identities: make(map[id.IdentityID]*models.Identity)}
}

func (s *InMemoryStore) Create(ctx context.Context, identity *models.Identity) error {
	if identity == nil {
		return fmt.Errorf("identity is required")
	}
	s.mu.Lock()
	if _, exists := s.identities[identity.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("create identity: %w", sentinel.ErrConflict)
	}
	s.identities[identity.ID] = clone(identity)
	s.mu.Unlock()

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.identities, identity.ID)
	})
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, identityID id.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return nil, fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}
	return clone(identity), nil
}

// SetDisplayName stores the encrypted name, replacing any earlier one.
func (s *InMemoryStore) SetDisplayName(ctx context.Context, identityID id.IdentityID, name vault.EncryptedField) error {
	return s.mutate(ctx, identityID, func(identity *models.Identity) error {
		identity.EncryptedName = name
		return nil
	})
}

func (s *InMemoryStore) UpdateRetentionExpiry(ctx context.Context, identityID id.IdentityID, expiry time.Time) error {
	return s.mutate(ctx, identityID, func(identity *models.Identity) error {
		identity.RetentionExpiry = &expiry
		return nil
	})
}

func (s *InMemoryStore) Delete(ctx context.Context, identityID id.IdentityID) error {
	s.mu.Lock()
	prev, ok := s.identities[identityID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}
	delete(s.identities, identityID)
	s.mu.Unlock()

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.identities[identityID] = prev
	})
	return nil
}

// ListExpired returns identities whose retention expiry is at or before now,
// oldest expiry first.
func (s *InMemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]id.IdentityID, error) {
	s.mu.RLock()
	var expired []*models.Identity
	for _, identity := range s.identities {
		if identity.IsExpired(now) {
			expired = append(expired, identity)
		}
	}
	s.mu.RUnlock()

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].RetentionExpiry.Before(*expired[j].RetentionExpiry)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]id.IdentityID, 0, len(expired))
	for _, identity := range expired {
		ids = append(ids, identity.ID)
	}
	return ids, nil
}

func (s *InMemoryStore) mutate(ctx context.Context, identityID id.IdentityID, fn func(*models.Identity) error) error {
	s.mu.Lock()
	current, ok := s.identities[identityID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("identity %s: %w", identityID, sentinel.ErrNotFound)
	}
	prev := clone(current)
	if err := fn(current); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, still := s.identities[identityID]; still {
			s.identities[identityID] = prev
		}
	})
	return nil
}

func clone(identity *models.Identity) *models.Identity {
	cp := *identity
	if identity.RetentionExpiry != nil {
		expiry := *identity.RetentionExpiry
		cp.RetentionExpiry = &expiry
	}
	return &cp
}
