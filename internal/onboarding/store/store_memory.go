package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vaultline/internal/onboarding/models"
	id "vaultline/pkg/domain"
	"vaultline/pkg/platform/sentinel"
	"vaultline/pkg/platform/tx"
)

type rowKey struct {
	thread  id.ThreadID
	version int
}

// InMemoryStore keeps every conversation row, superseded ones included, so
// the transition trail is observable in tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[rowKey]*models.State
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[rowKey]*models.State)}
}

// FindActiveByIndex returns the oldest active row carrying lookupIndex.
func (s *InMemoryStore) FindActiveByIndex(_ context.Context, lookupIndex string) (*models.State, error) {
	if lookupIndex == "" {
		return nil, fmt.Errorf("conversation by index: %w", sentinel.ErrNotFound)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.State
	for _, row := range s.rows {
		if row.IsActive() && row.LookupIndex == lookupIndex {
			if found == nil || row.CreatedAt.Before(found.CreatedAt) {
				found = row
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("conversation by index: %w", sentinel.ErrNotFound)
	}
	return clone(found), nil
}

// ListActive returns every active row, oldest first.
func (s *InMemoryStore) ListActive(_ context.Context) ([]*models.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.State
	for _, row := range s.rows {
		if row.IsActive() {
			out = append(out, clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListThread returns all rows of a thread ordered by version.
func (s *InMemoryStore) ListThread(_ context.Context, threadID id.ThreadID) ([]*models.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.State
	for key, row := range s.rows {
		if key.thread == threadID {
			out = append(out, clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Insert adds a row. A row with the same thread and version already present
// means another writer won the transition: ErrConflict.
func (s *InMemoryStore) Insert(ctx context.Context, state *models.State) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}
	key := rowKey{thread: state.ThreadID, version: state.Version}
	s.mu.Lock()
	if _, exists := s.rows[key]; exists {
		s.mu.Unlock()
		return fmt.Errorf("conversation %s version %d: %w", state.ThreadID, state.Version, sentinel.ErrConflict)
	}
	s.rows[key] = clone(state)
	s.mu.Unlock()

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.rows, key)
	})
	return nil
}

// Supersede marks a row as replaced. A missing or already superseded row
// returns ErrConflict.
func (s *InMemoryStore) Supersede(ctx context.Context, threadID id.ThreadID, version int, at time.Time) error {
	key := rowKey{thread: threadID, version: version}
	s.mu.Lock()
	row, ok := s.rows[key]
	if !ok || !row.IsActive() {
		s.mu.Unlock()
		return fmt.Errorf("supersede conversation %s version %d: %w", threadID, version, sentinel.ErrConflict)
	}
	row.SupersededAt = &at
	row.UpdatedAt = at
	s.mu.Unlock()

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if row, ok := s.rows[key]; ok {
			row.SupersededAt = nil
		}
	})
	return nil
}

// PurgeIdentity removes every row of every thread that ever referenced the
// identity, so superseded rows cannot keep plaintext-derived data alive.
func (s *InMemoryStore) PurgeIdentity(ctx context.Context, identityID id.IdentityID) error {
	s.mu.Lock()
	threads := make(map[id.ThreadID]struct{})
	for key, row := range s.rows {
		if row.IdentityID == identityID {
			threads[key.thread] = struct{}{}
		}
	}
	removed := make(map[rowKey]*models.State)
	for key, row := range s.rows {
		if _, ok := threads[key.thread]; ok {
			removed[key] = row
			delete(s.rows, key)
		}
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		tx.OnRollback(ctx, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for key, row := range removed {
				s.rows[key] = row
			}
		})
	}
	return nil
}

func clone(state *models.State) *models.State {
	cp := *state
	cp.EncryptedPayload = state.EncryptedPayload.Clone()
	if state.SupersededAt != nil {
		at := *state.SupersededAt
		cp.SupersededAt = &at
	}
	return &cp
}
