// Package stream relays committed audit entries to a Kafka topic.
//
// The audit_log table is the outbox: entries are written in the same
// transaction as the change they record, and the relay publishes them in seq
// order afterwards, persisting its cursor so a restart resumes where it left
// off. Delivery is at-least-once; consumers dedupe on the entry ID header.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "vaultline/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Offsets persists the relay cursor.
type Offsets interface {
	Load(ctx context.Context, relay string) (int64, error)
	Save(ctx context.Context, relay string, seq int64) error
}

// Relay copies audit entries from the store to Kafka.
type Relay struct {
	name      string
	topic     string
	store     audit.Store
	offsets   Offsets
	producer  Producer
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

// Option configures the Relay.
type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithName sets the cursor name, so two relays can feed different topics.
func WithName(name string) Option {
	return func(r *Relay) {
		r.name = name
	}
}

func NewRelay(store audit.Store, offsets Offsets, producer Producer, topic string, opts ...Option) *Relay {
	r := &Relay{
		name:      "audit-kafka",
		topic:     topic,
		store:     store,
		offsets:   offsets,
		producer:  producer,
		batchSize: 100,
		interval:  2 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// message is the JSON value published for each entry. Only identifiers and
// action metadata leave the database; no field here carries personal data.
type message struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq"`
	IdentityID string            `json:"identity_id,omitempty"`
	Action     string            `json:"action"`
	Category   string            `json:"category"`
	Actor      string            `json:"actor"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RunOnce publishes one batch and advances the cursor. It returns the number
// of entries published. The cursor only moves after the broker acknowledged
// every record in the batch.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	cursor, err := r.offsets.Load(ctx, r.name)
	if err != nil {
		return 0, err
	}
	entries, err := r.store.ListAfter(ctx, cursor, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		rec, err := r.record(e)
		if err != nil {
			return 0, err
		}
		records = append(records, rec)
	}

	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return 0, fmt.Errorf("produce audit batch: %w", err)
	}
	last := entries[len(entries)-1].Seq
	if err := r.offsets.Save(ctx, r.name, last); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (r *Relay) record(e audit.Entry) (*kgo.Record, error) {
	msg := message{
		ID:        e.ID.String(),
		Seq:       e.Seq,
		Action:    string(e.Action),
		Category:  string(e.Action.Category()),
		Actor:     e.Actor,
		Timestamp: e.Timestamp.UTC(),
		Metadata:  e.Metadata,
	}
	key := []byte(msg.ID)
	if !e.IdentityID.IsNil() {
		msg.IdentityID = e.IdentityID.String()
		// Keyed by identity so one person's entries stay ordered in a partition.
		key = []byte(msg.IdentityID)
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal audit message: %w", err)
	}
	return &kgo.Record{
		Topic: r.topic,
		Key:   key,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "entry_id", Value: []byte(msg.ID)},
			{Key: "category", Value: []byte(msg.Category)},
		},
	}, nil
}

// Run drains the outbox until ctx is cancelled. Full batches are followed
// immediately by another pass; otherwise the relay waits for the interval.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "audit relay batch failed", "relay", r.name, "error", err)
		}
		if err == nil && n == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EnsureTopic creates the audit topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// MemoryOffsets keeps relay cursors in process memory.
type MemoryOffsets struct {
	mu      sync.Mutex
	offsets map[string]int64
}

func NewMemoryOffsets() *MemoryOffsets {
	return &MemoryOffsets{offsets: make(map[string]int64)}
}

func (m *MemoryOffsets) Load(_ context.Context, relay string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets[relay], nil
}

func (m *MemoryOffsets) Save(_ context.Context, relay string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[relay] = seq
	return nil
}
