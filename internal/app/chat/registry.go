/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines the Registry, the authoritative record of who is online and in which
matchmaking state. It validates every state change against the presence state machine.
The Registry does not serialize multi-step operations by itself; the Engine holds the
affected users' scopes around them.
*/
package chat

import (
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"vibechat/internal/app/user"
	"vibechat/internal/pkg/errs"
	"vibechat/internal/pkg/randx"
)

// MaxNicknameRunes caps nickname length.
const MaxNicknameRunes = 32

// idAttempts bounds how often Join regenerates a colliding user ID.
const idAttempts = 5

// Registry tracks online users and their presence state.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*user.User
	ticket uint64

	// directResearch allows Paired -> Searching without passing through Available.
	directResearch bool

	newID func() (string, error)
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(directResearch bool) *Registry {
	return &Registry{
		users:          make(map[string]*user.User),
		directResearch: directResearch,
		newID:          randx.UserID,
		now:            time.Now,
	}
}

// normalizeNickname trims the nickname and enforces its length. A blank nickname gets a generated one.
func normalizeNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return randx.UserNickname()
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameRunes {
		return "", errs.NewError(errs.ErrInvalidParams)
	}
	return nickname, nil
}

// Join creates a new Available user with a generated ID.
func (r *Registry) Join(nickname string) (user.User, error) {
	nickname, err := normalizeNickname(nickname)
	if err != nil {
		return user.User{}, err
	}

	for range idAttempts {
		id, err := r.newID()
		if err != nil {
			return user.User{}, errs.NewError(errs.ErrUnknown, err)
		}

		u, err := r.add(id, nickname)
		if errs.HasCode(err, errs.ErrDuplicateIdentity) {
			continue
		}
		return u, err
	}

	return user.User{}, errs.NewError(errs.ErrDuplicateIdentity)
}

// JoinWithID creates a new Available user under a caller-supplied ID.
// It fails with ErrDuplicateIdentity if that ID is already online.
func (r *Registry) JoinWithID(id, nickname string) (user.User, error) {
	if !randx.IsValidUserID(id) {
		return user.User{}, errs.NewError(errs.ErrInvalidParams)
	}

	nickname, err := normalizeNickname(nickname)
	if err != nil {
		return user.User{}, err
	}

	return r.add(id, nickname)
}

func (r *Registry) add(id, nickname string) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[id]; exists {
		return user.User{}, errs.NewError(errs.ErrDuplicateIdentity)
	}

	now := r.now()
	u := &user.User{
		ID:         id,
		JoinID:     uuid.NewString(),
		Nickname:   nickname,
		State:      user.Available,
		JoinedAt:   now,
		LastActive: now,
	}
	r.users[id] = u

	return *u, nil
}

// Get returns a copy of the user record.
func (r *Registry) Get(id string) (user.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return user.User{}, false
	}
	return *u, true
}

// allowed reports whether the state machine permits from -> to.
func (r *Registry) allowed(from, to user.State) bool {
	switch from {
	case user.Available:
		return to == user.Searching
	case user.Searching:
		return to == user.Available || to == user.Paired
	case user.Paired:
		return to == user.Available || (to == user.Searching && r.directResearch)
	}
	return false
}

// SetState moves the user to a new state, failing with ErrInvalidTransition when the
// state machine does not allow it and ErrNotFound when the user is not online.
func (r *Registry) SetState(id string, to user.State) (user.User, error) {
	if !to.Valid() {
		return user.User{}, errs.NewError(errs.ErrInvalidParams)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return user.User{}, errs.NewError(errs.ErrNotFound)
	}

	if !r.allowed(u.State, to) {
		return *u, errs.NewError(errs.ErrInvalidTransition)
	}

	r.apply(u, to)
	return *u, nil
}

func (r *Registry) apply(u *user.User, to user.State) {
	now := r.now()

	u.State = to
	u.LastActive = now

	if to == user.Paired {
		u.LastPartner = ""
	}

	if to == user.Searching {
		r.ticket++
		u.SearchTicket = r.ticket
		u.SearchingSince = now
	} else if to == user.Available {
		u.SearchTicket = 0
		u.SearchingSince = time.Time{}
	}
}

// restoreSearching undoes a tentative pairing. The user keeps the ticket and wait time
// it had before, so a failed pairing does not cost it its place in the queue.
func (r *Registry) restoreSearching(prev user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[prev.ID]
	if !ok {
		return errs.NewError(errs.ErrNotFound)
	}
	if u.State != user.Paired {
		return errs.NewError(errs.ErrInvalidTransition)
	}

	u.State = user.Searching
	u.SearchTicket = prev.SearchTicket
	u.SearchingSince = prev.SearchingSince
	u.LastPartner = prev.LastPartner
	return nil
}

// avoidPartner records the partner the user just left through a rematch request.
func (r *Registry) avoidPartner(id, partnerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[id]; ok {
		u.LastPartner = partnerID
	}
}

// Remove deletes the user. Removal is absorbing: later calls for the ID fail with ErrNotFound
// until the ID joins again.
func (r *Registry) Remove(id string) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return user.User{}, errs.NewError(errs.ErrNotFound)
	}

	delete(r.users, id)
	return *u, nil
}

// Heartbeat refreshes the user's LastActive timestamp.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return errs.NewError(errs.ErrNotFound)
	}

	u.LastActive = r.now()
	return nil
}

// Snapshot returns a point-in-time view of the users who are Available or Searching,
// the ones a matchmaker may consider. Paired users are left out. The copy is taken when
// Snapshot is called; the sequence can be ranged over once.
func (r *Registry) Snapshot() iter.Seq[user.User] {
	r.mu.RLock()
	users := make([]user.User, 0, len(r.users))
	for _, u := range r.users {
		if u.State != user.Paired {
			users = append(users, *u)
		}
	}
	r.mu.RUnlock()

	var used atomic.Bool
	return func(yield func(user.User) bool) {
		if used.Swap(true) {
			return
		}
		for _, u := range users {
			if !yield(u) {
				return
			}
		}
	}
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// CountState returns the number of online users in state s.
func (r *Registry) CountState(s user.State) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, u := range r.users {
		if u.State == s {
			n++
		}
	}
	return n
}

// Stale returns the IDs of users whose last activity is older than cutoff.
func (r *Registry) Stale(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, u := range r.users {
		if u.LastActive.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
