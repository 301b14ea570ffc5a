package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeLocksReleaseEntries(t *testing.T) {
	s := newScopeLocks()

	unlock := s.lock("b", "a", "a")
	assert.Equal(t, 2, s.size())

	unlock()
	assert.Equal(t, 0, s.size())
}

func TestScopeLocksExclusive(t *testing.T) {
	s := newScopeLocks()

	unlock := s.lock("a")

	acquired := make(chan struct{})
	go func() {
		release := s.lock("a", "b")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a scope that is still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("scope was never handed over")
	}
}

func TestScopeLocksOppositeOrderDoesNotDeadlock(t *testing.T) {
	s := newScopeLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				var unlock func()
				if i%2 == 0 {
					unlock = s.lock("x", "y")
				} else {
					unlock = s.lock("y", "x")
				}
				counter++
				unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock acquiring scopes in opposite order")
	}

	require.Equal(t, 8*200, counter)
	assert.Equal(t, 0, s.size())
}
