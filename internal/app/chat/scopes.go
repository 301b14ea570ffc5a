/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines scopeLocks, the per-user serialization scopes. Every operation that
changes a user's presence state holds that user's scope; pairing and session teardown
hold both participants' scopes, always acquired in ascending ID order.
*/
package chat

import (
	"slices"
	"sync"
)

// scopeLocks hands out one mutex per user ID, created on demand and
// dropped once nobody holds or waits for it.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*scopeLock)}
}

// lock acquires the scopes of all given IDs in ascending order and returns the release func.
// Duplicate IDs are collapsed, so lock(a, a) is the same as lock(a).
func (s *scopeLocks) lock(ids ...string) (unlock func()) {
	keys := slices.Clone(ids)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*scopeLock, len(keys))

	s.mu.Lock()
	for i, k := range keys {
		l, ok := s.locks[k]
		if !ok {
			l = &scopeLock{}
			s.locks[k] = l
		}
		l.refs++
		held[i] = l
	}
	s.mu.Unlock()

	for _, l := range held {
		l.mu.Lock()
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}

		s.mu.Lock()
		for i, k := range keys {
			held[i].refs--
			if held[i].refs == 0 {
				delete(s.locks, k)
			}
		}
		s.mu.Unlock()
	}
}

// size reports how many scopes are currently allocated.
func (s *scopeLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
