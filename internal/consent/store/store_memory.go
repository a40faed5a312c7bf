package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"vaultline/internal/consent/models"
	id "vaultline/pkg/domain"
	"vaultline/pkg/platform/sentinel"
	"vaultline/pkg/platform/tx"
)

// InMemoryStore is an append-only consent ledger held in memory.
// There is deliberately no update or delete method.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.IdentityID][]models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.IdentityID][]models.Record)}
}

func (s *InMemoryStore) Append(ctx context.Context, record *models.Record) error {
	if record == nil {
		return fmt.Errorf("consent record is required")
	}
	cp := *record
	cp.Metadata = cloneMetadata(record.Metadata)

	s.mu.Lock()
	s.records[cp.IdentityID] = append(s.records[cp.IdentityID], cp)
	s.mu.Unlock()

	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.records[cp.IdentityID] = slices.DeleteFunc(s.records[cp.IdentityID], func(r models.Record) bool {
			return r.ID == cp.ID
		})
	})
	return nil
}

// ListByIdentity returns every record for the identity, oldest first.
func (s *InMemoryStore) ListByIdentity(_ context.Context, identityID id.IdentityID) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Record, 0, len(s.records[identityID]))
	for _, r := range s.records[identityID] {
		r.Metadata = cloneMetadata(r.Metadata)
		out = append(out, r)
	}
	return out, nil
}

func (s *InMemoryStore) Latest(ctx context.Context, identityID id.IdentityID, category id.ConsentCategory) (*models.Record, error) {
	records, err := s.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	latest := models.Latest(records, category)
	if latest == nil {
		return nil, fmt.Errorf("consent %s for %s: %w", category, identityID, sentinel.ErrNotFound)
	}
	return latest, nil
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
