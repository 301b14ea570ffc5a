/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines the Relay, which appends chat messages to a session and streams them
to its two participants. Every message gets a per-session timestamp strictly greater
than the previous one, so both participants observe the same total order.
*/
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"vibechat/internal/pkg/errs"
	"vibechat/internal/pkg/randx"
)

// MaxContentBytes is the maximum size of a single chat message.
const MaxContentBytes = 5000

// ErrStreamClosed is returned by MessageStream.Next once the stream has ended.
var ErrStreamClosed = errors.New("chat: message stream closed")

// Message is one chat line within a session.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`

	// Timestamp is in Unix milliseconds and strictly increasing within a session.
	Timestamp int64 `json:"timestamp"`
}

// Relay sends and streams messages of sessions held by a Store.
type Relay struct {
	store *Store
	now   func() time.Time
}

// NewRelay creates a relay over store.
func NewRelay(store *Store) *Relay {
	return &Relay{store: store, now: time.Now}
}

// Send appends a message from senderID to the session. The append is atomic with respect
// to closing the session: it either lands before the close or fails with ErrSessionInactive.
func (r *Relay) Send(sessionID, senderID, text string) (Message, error) {
	st, ok := r.store.state(sessionID)
	if !ok {
		return Message{}, errs.NewError(errs.ErrNotFound)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.info.Has(senderID) {
		return Message{}, errs.NewError(errs.ErrNotParticipant)
	}
	if !st.info.Active {
		return Message{}, errs.NewError(errs.ErrSessionInactive)
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, errs.NewError(errs.ErrEmptyMessage)
	}
	if len(text) > MaxContentBytes {
		return Message{}, errs.NewError(errs.ErrMessageContentTooLong)
	}

	ts := r.now().UnixMilli()
	if ts <= st.lastTS {
		ts = st.lastTS + 1
	}

	msg := Message{
		ID:        randx.MessageID(),
		SessionID: sessionID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: ts,
	}

	st.lastTS = ts
	st.messages = append(st.messages, msg)
	st.info.MessageCount = len(st.messages)

	close(st.wake)
	st.wake = make(chan struct{})

	return msg, nil
}

// History returns a copy of the session's messages so far.
func (r *Relay) History(sessionID, userID string) ([]Message, error) {
	st, ok := r.store.state(sessionID)
	if !ok {
		return nil, errs.NewError(errs.ErrNotFound)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.info.Has(userID) {
		return nil, errs.NewError(errs.ErrNotParticipant)
	}

	out := make([]Message, len(st.messages))
	copy(out, st.messages)
	return out, nil
}

// Subscribe opens a stream of the session's messages for one of its participants,
// starting with the existing history.
func (r *Relay) Subscribe(sessionID, userID string) (*MessageStream, error) {
	st, ok := r.store.state(sessionID)
	if !ok {
		return nil, errs.NewError(errs.ErrNotFound)
	}

	st.mu.Lock()
	isParticipant := st.info.Has(userID)
	st.mu.Unlock()

	if !isParticipant {
		return nil, errs.NewError(errs.ErrNotParticipant)
	}

	return &MessageStream{st: st, done: make(chan struct{})}, nil
}

// MessageStream yields a session's messages in order: the replayed history first,
// then new messages as they are appended. It holds no goroutine of its own; a caller
// blocked in Next waits on the session's shared wake channel.
type MessageStream struct {
	st        *sessionState
	cursor    int
	done      chan struct{}
	closeOnce sync.Once
}

// Next returns the next message, blocking until one is available. It returns
// ErrStreamClosed after the session has ended and every message was delivered,
// or after Close; it returns ctx.Err() if ctx ends first. Next must not be called
// concurrently on the same stream.
func (s *MessageStream) Next(ctx context.Context) (Message, error) {
	for {
		select {
		case <-s.done:
			return Message{}, ErrStreamClosed
		default:
		}

		s.st.mu.Lock()
		if s.cursor < len(s.st.messages) {
			msg := s.st.messages[s.cursor]
			s.cursor++
			s.st.mu.Unlock()
			return msg, nil
		}
		if !s.st.info.Active {
			s.st.mu.Unlock()
			return Message{}, ErrStreamClosed
		}
		wake := s.st.wake
		s.st.mu.Unlock()

		select {
		case <-wake:
		case <-s.done:
			return Message{}, ErrStreamClosed
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Close ends the stream. A blocked Next returns ErrStreamClosed.
func (s *MessageStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
