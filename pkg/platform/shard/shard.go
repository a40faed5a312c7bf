// Package shard provides keyed mutual exclusion over a fixed set of mutexes.
package shard

import (
	"hash/fnv"
	"sync"
)

// numShards trades memory for contention; keys hash uniformly across shards.
const numShards = 128

// Mutexes serializes work per key without growing a map of locks.
// Two keys may share a shard, which only costs throughput, never correctness.
type Mutexes struct {
	shards [numShards]sync.Mutex
}

// Lock acquires the shard for key and returns its unlock function.
func (m *Mutexes) Lock(key string) func() {
	mu := &m.shards[Index(key)]
	mu.Lock()
	return mu.Unlock
}

// Index returns the shard for key using FNV-1a.
func Index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % numShards)
}
