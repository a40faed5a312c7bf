package tx

import (
	"context"
	"sync"

	dErrors "vaultline/pkg/domain-errors"
	"vaultline/pkg/platform/shard"
)

// Journal collects compensating actions for in-memory stores. If the unit of
// work fails, the actions run in reverse order so no partial write survives.
type Journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *Journal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

type journalKey struct{}

// OnRollback registers fn to run if the surrounding in-memory transaction
// fails. Outside a transaction it is a no-op: the write is already final.
func OnRollback(ctx context.Context, fn func()) {
	j, ok := ctx.Value(journalKey{}).(*Journal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

type shardKey struct{}

// WithShardKey tags ctx so the memory runner serializes transactions that
// touch the same key while letting unrelated keys proceed in parallel.
func WithShardKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, shardKey{}, key)
}

// MemoryRunner provides transactional semantics for in-memory stores using
// sharded locks and an undo journal.
type MemoryRunner struct {
	locks shard.Mutexes
}

func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*Journal); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	key, _ := ctx.Value(shardKey{}).(string)
	unlock := r.locks.Lock(key)
	defer unlock()

	j := &Journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}
