/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines the scheduler that owns background search tasks. Each task is keyed
by user ID and carries a cancellation token, so stopping a search or removing a user
reliably cancels its pending retries.
*/
package chat

import (
	"context"
	"sync"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

func newScheduler() *scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{
		tasks: make(map[string]*task),
		ctx:   ctx,
		stop:  cancel,
	}
}

// schedule runs fn in its own goroutine under key, cancelling any task already running under it.
// It returns false after shutdown.
func (s *scheduler) schedule(key string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if prev, ok := s.tasks[key]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[key] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer cancel()

		fn(ctx)

		s.mu.Lock()
		if s.tasks[key] == t {
			delete(s.tasks, key)
		}
		s.mu.Unlock()
	}()

	return true
}

// cancel stops the task running under key, if any, and reports whether one was found.
func (s *scheduler) cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}

	t.cancel()
	delete(s.tasks, key)
	return true
}

// pending reports whether a task is registered under key.
func (s *scheduler) pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tasks[key]
	return ok
}

// shutdown cancels every task and waits for all of them to return.
func (s *scheduler) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
}
