// Package syncutil provides keyed mutexes with bounded memory.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// ContextShardedMutex is a keyed mutex whose waiters can give up when their
// context ends. Keys hashing to the same shard share a lock.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex creates a new context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{} // unlocked
		}
	})
}

// LockContext acquires the mutex for key. A free lock is taken even if ctx
// is already done. On cancellation it returns ctx.Err().
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	ch := m.shards[shardIndex(key)]
	unlock := func() { ch <- struct{}{} }

	select {
	case <-ch:
		return unlock, nil
	default:
	}

	select {
	case <-ch:
		return unlock, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the mutex for key without waiting.
func (m *ContextShardedMutex) TryLock(key string) (func(), bool) {
	m.init()
	ch := m.shards[shardIndex(key)]
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, true
	default:
		return nil, false
	}
}
