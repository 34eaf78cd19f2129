package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
)

const numShards = 16

// ShardedSignalCache stores per-bar signal detection results, sharded by key
// to keep lock contention low when several backtests share one cache.
// A slot exists for every bar the detector has processed, even when that bar
// produced no signals; that is what makes re-queries idempotent.
type ShardedSignalCache[T any] struct {
	shards [numShards]*signalShard[T]
}

type signalShard[T any] struct {
	mu    sync.RWMutex
	items map[string][]T
}

// NewShardedSignalCache creates an empty cache.
func NewShardedSignalCache[T any]() *ShardedSignalCache[T] {
	c := &ShardedSignalCache[T]{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &signalShard[T]{items: make(map[string][]T)}
	}
	return c
}

// SlotKey builds the canonical (contract, timeframe, bar index) key.
func SlotKey(contractID, timeframe string, barIndex int) string {
	return fmt.Sprintf("%s|%s|%d", contractID, timeframe, barIndex)
}

func (c *ShardedSignalCache[T]) getShard(key string) *signalShard[T] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Put stores the results for a processed slot, replacing any prior value.
// vals may be nil: an empty slot still records that the bar was processed.
func (c *ShardedSignalCache[T]) Put(key string, vals []T) {
	shard := c.getShard(key)
	shard.mu.Lock()
	if vals == nil {
		vals = []T{}
	}
	shard.items[key] = vals
	shard.mu.Unlock()
}

// Get retrieves a slot. The second result is false when the slot was never
// processed.
func (c *ShardedSignalCache[T]) Get(key string) ([]T, bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	vals, ok := shard.items[key]
	shard.mu.RUnlock()
	return vals, ok
}

// Len returns total slots across all shards.
func (c *ShardedSignalCache[T]) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Reset drops every slot.
func (c *ShardedSignalCache[T]) Reset() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.items = make(map[string][]T)
		shard.mu.Unlock()
	}
}
