/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines the Store, which owns session records and their message histories.
A user appears in at most one active session; closed sessions stay readable for the
configured retention and are then disposed of.
*/
package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vibechat/internal/pkg/errs"
	"vibechat/internal/pkg/logx"
	"vibechat/internal/pkg/randx"
)

// CloseReason records why a session ended.
type CloseReason string

const (
	// ReasonLeft means a participant left explicitly.
	ReasonLeft CloseReason = "left"

	// ReasonTimeout means a participant stopped sending heartbeats.
	ReasonTimeout CloseReason = "timeout"

	// ReasonNewPartner means a participant asked for a new match. Both go back to Searching.
	ReasonNewPartner CloseReason = "new_partner"

	// ReasonInvariant means the session was force-closed after an internal consistency check failed.
	ReasonInvariant CloseReason = "invariant"

	// ReasonShutdown means the server is stopping.
	ReasonShutdown CloseReason = "shutdown"
)

// Session is one matched pair.
type Session struct {
	ID           string      `json:"id"`
	ParticipantA string      `json:"participantA"`
	ParticipantB string      `json:"participantB"`
	StartedAt    time.Time   `json:"startedAt"`
	Active       bool        `json:"active"`
	EndedAt      time.Time   `json:"endedAt,omitzero"`
	EndReason    CloseReason `json:"endReason,omitempty"`
	MessageCount int         `json:"messageCount"`
}

// Has reports whether userID is one of the two participants.
func (s Session) Has(userID string) bool {
	return s.ParticipantA == userID || s.ParticipantB == userID
}

// Partner returns the other participant's ID, or "" if userID is not a participant.
func (s Session) Partner(userID string) string {
	switch userID {
	case s.ParticipantA:
		return s.ParticipantB
	case s.ParticipantB:
		return s.ParticipantA
	}
	return ""
}

// sessionState is the mutable record behind a Session. mu guards everything below it.
type sessionState struct {
	mu       sync.Mutex
	info     Session
	messages []Message
	lastTS   int64

	// wake is closed and replaced on every append, and closed for good when the session ends.
	wake chan struct{}
}

// maxTombstones bounds how many disposed sessions are remembered for idempotent Close.
const maxTombstones = 100_000

// Store holds sessions keyed by ID plus the index of each user's active session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	byUser   map[string]string
	timers   map[string]*time.Timer

	// tombstones keep the final record of disposed sessions, oldest first in buried.
	tombstones map[string]Session
	buried     []string

	retention time.Duration
	newID     func() (string, error)
	now       func() time.Time
	logger    zerolog.Logger
}

// NewStore creates an empty store. Closed sessions are kept for retention before disposal.
func NewStore(retention time.Duration) *Store {
	return &Store{
		sessions:   make(map[string]*sessionState),
		byUser:     make(map[string]string),
		timers:     make(map[string]*time.Timer),
		tombstones: make(map[string]Session),
		retention:  retention,
		newID:      randx.SessionID,
		now:        time.Now,
		logger:     logx.Component("SessionStore"),
	}
}

// Create opens a session for two distinct users. It fails with ErrAlreadyPaired if either
// already has an active session, and returns the ID generator's error untouched.
func (s *Store) Create(userA, userB string) (Session, error) {
	if userA == "" || userA == userB {
		return Session{}, errs.NewError(errs.ErrInvalidParams)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUser[userA]; ok {
		return Session{}, errs.NewError(errs.ErrAlreadyPaired)
	}
	if _, ok := s.byUser[userB]; ok {
		return Session{}, errs.NewError(errs.ErrAlreadyPaired)
	}

	id, err := s.newID()
	if err != nil {
		return Session{}, err
	}

	st := &sessionState{
		info: Session{
			ID:           id,
			ParticipantA: userA,
			ParticipantB: userB,
			StartedAt:    s.now(),
			Active:       true,
		},
		wake: make(chan struct{}),
	}

	s.sessions[id] = st
	s.byUser[userA] = id
	s.byUser[userB] = id

	return st.info, nil
}

// Close ends a session. Closing an already closed session is a no-op and reports closed=false.
// Message subscribers are woken so they can drain and finish.
func (s *Store) Close(sessionID string, reason CloseReason) (sess Session, closed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		if info, buried := s.tombstones[sessionID]; buried {
			return info, false, nil
		}
		return Session{}, false, errs.NewError(errs.ErrNotFound)
	}

	st.mu.Lock()
	if !st.info.Active {
		info := st.info
		st.mu.Unlock()
		return info, false, nil
	}

	st.info.Active = false
	st.info.EndedAt = s.now()
	st.info.EndReason = reason
	close(st.wake)
	info := st.info
	st.mu.Unlock()

	delete(s.byUser, info.ParticipantA)
	delete(s.byUser, info.ParticipantB)

	s.scheduleDisposal(sessionID, info)

	return info, true, nil
}

// scheduleDisposal drops the session's history after the retention period. Caller holds s.mu.
func (s *Store) scheduleDisposal(sessionID string, final Session) {
	if s.retention <= 0 {
		s.dispose(sessionID, final)
		return
	}

	s.timers[sessionID] = time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.dispose(sessionID, final)
		delete(s.timers, sessionID)
		s.logger.Debug().Str("session_id", sessionID).Msg("Session history disposed.")
	})
}

// dispose replaces the session's state with a tombstone. Caller holds s.mu.
func (s *Store) dispose(sessionID string, final Session) {
	delete(s.sessions, sessionID)

	s.tombstones[sessionID] = final
	s.buried = append(s.buried, sessionID)

	if len(s.buried) > maxTombstones {
		delete(s.tombstones, s.buried[0])
		s.buried[0] = ""
		s.buried = s.buried[1:]
	}
}

func (s *Store) state(sessionID string) (*sessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	return st, ok
}

// Get returns the session, active or recently closed.
func (s *Store) Get(sessionID string) (Session, bool) {
	st, ok := s.state(sessionID)
	if !ok {
		return Session{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.info, true
}

// SessionFor returns the user's active session.
func (s *Store) SessionFor(userID string) (Session, bool) {
	s.mu.RLock()
	id, ok := s.byUser[userID]
	st := s.sessions[id]
	s.mu.RUnlock()

	if !ok || st == nil {
		return Session{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.info, true
}

// Active returns a copy of every active session.
func (s *Store) Active() []Session {
	s.mu.RLock()
	states := make([]*sessionState, 0, len(s.sessions))
	for _, st := range s.sessions {
		states = append(states, st)
	}
	s.mu.RUnlock()

	var out []Session
	for _, st := range states {
		st.mu.Lock()
		if st.info.Active {
			out = append(out, st.info)
		}
		st.mu.Unlock()
	}
	return out
}

// ActiveCount returns the number of active sessions.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser) / 2
}

// stopTimers cancels pending disposals. Used on shutdown.
func (s *Store) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
