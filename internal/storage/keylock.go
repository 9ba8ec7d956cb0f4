package storage

import (
	"context"
	"hash/fnv"
	"sync"
)

const lockShards = 32

// KeyLocks is a sharded registry of per-key mutexes. Entries are created on
// first use and removed when the last holder or waiter releases them, so the
// registry only ever holds keys under live contention.
type KeyLocks struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyLocks creates an empty registry.
func NewKeyLocks() *KeyLocks {
	l := &KeyLocks{}
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*keyEntry)
	}
	return l
}

func (l *KeyLocks) shard(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%lockShards]
}

// Lock acquires the mutex for key. It returns ctx.Err() if ctx ends first.
func (l *KeyLocks) Lock(ctx context.Context, key string) (func(), error) {
	s := l.shard(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		s.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			s.drop(key, e)
		})
	}, nil
}

func (s *lockShard) drop(key string, e *keyEntry) {
	s.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// Len returns the number of keys currently held or awaited.
func (l *KeyLocks) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
