package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	id "vaultline/pkg/domain"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/platform/tx"
)

// InMemoryStore keeps audit entries in arrival order. Appends made inside a
// memory transaction are withdrawn if that transaction rolls back, matching
// what the database store does with an uncommitted insert.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
	nextSeq int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(ctx context.Context, entry audit.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Metadata = cloneMetadata(entry.Metadata)

	s.mu.Lock()
	s.nextSeq++
	entry.Seq = s.nextSeq
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	seq := entry.Seq
	tx.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries = slices.DeleteFunc(s.entries, func(e audit.Entry) bool { return e.Seq == seq })
	})
	return nil
}

func (s *InMemoryStore) ListByIdentity(_ context.Context, identityID id.IdentityID) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.IdentityID == identityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListRecent returns the most recent N entries, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]audit.Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// ListAfter returns up to limit entries with Seq greater than seq, in order.
func (s *InMemoryStore) ListAfter(_ context.Context, seq int64, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.Seq <= seq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
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
