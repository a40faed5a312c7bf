package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	id "vaultline/pkg/domain"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/platform/audit/store/memory"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	defer p.mu.Unlock()
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if p.err == nil {
			p.records = append(p.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func seed(t *testing.T, store *memory.InMemoryStore, n int, identityID id.IdentityID) {
	t.Helper()
	for range n {
		require.NoError(t, store.Append(context.Background(), audit.Entry{
			IdentityID: identityID,
			Action:     audit.ActionConsentGranted,
			Actor:      "subject",
			Timestamp:  time.Now(),
		}))
	}
}

func TestRelay_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes in seq order and advances cursor", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		identityID := id.NewIdentityID()
		seed(t, store, 3, identityID)
		producer := &fakeProducer{}
		offsets := NewMemoryOffsets()
		relay := NewRelay(store, offsets, producer, "audit")

		n, err := relay.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		require.Len(t, producer.records, 3)

		var msg message
		require.NoError(t, json.Unmarshal(producer.records[2].Value, &msg))
		assert.EqualValues(t, 3, msg.Seq)
		assert.Equal(t, identityID.String(), msg.IdentityID)
		assert.Equal(t, "compliance", msg.Category)
		assert.Equal(t, []byte(identityID.String()), producer.records[0].Key)

		cursor, err := offsets.Load(ctx, "audit-kafka")
		require.NoError(t, err)
		assert.EqualValues(t, 3, cursor)

		n, err = relay.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("batch size bounds one pass", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		seed(t, store, 5, id.NewIdentityID())
		producer := &fakeProducer{}
		relay := NewRelay(store, NewMemoryOffsets(), producer, "audit", WithBatchSize(2))

		n, err := relay.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("broker failure leaves cursor in place", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		seed(t, store, 2, id.NewIdentityID())
		producer := &fakeProducer{err: errors.New("broker down")}
		offsets := NewMemoryOffsets()
		relay := NewRelay(store, offsets, producer, "audit")

		_, err := relay.RunOnce(ctx)
		require.Error(t, err)
		cursor, _ := offsets.Load(ctx, "audit-kafka")
		assert.Zero(t, cursor)

		producer.err = nil
		n, err := relay.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("entries without identity are keyed by entry id", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		require.NoError(t, store.Append(ctx, audit.Entry{Action: audit.ActionRetentionSweep, Timestamp: time.Now()}))
		producer := &fakeProducer{}
		_, err := NewRelay(store, NewMemoryOffsets(), producer, "audit").RunOnce(ctx)
		require.NoError(t, err)
		require.Len(t, producer.records, 1)
		var msg message
		require.NoError(t, json.Unmarshal(producer.records[0].Value, &msg))
		assert.Empty(t, msg.IdentityID)
		assert.Equal(t, []byte(msg.ID), producer.records[0].Key)
	})
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	relay := NewRelay(memory.NewInMemoryStore(), NewMemoryOffsets(), &fakeProducer{}, "audit",
		WithInterval(10*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
