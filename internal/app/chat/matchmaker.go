/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines the Matchmaker. It pairs the longest-waiting searcher with a uniformly
random other searcher, retrying with capped exponential backoff while a user stays alone.
Flipping both users to Paired and creating their session happen under both users' scopes,
so no user can end up in two sessions.
*/
package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"vibechat/internal/app/user"
	"vibechat/internal/pkg/logx"
)

var (
	// errNoCandidates means fewer than two users are searching.
	errNoCandidates = errors.New("chat: fewer than two searching users")

	// errVolatile means a selected user changed state between the snapshot and the pairing.
	errVolatile = errors.New("chat: registry changed during pairing")

	// errSessionCreate means the session could not be created and both users were rolled back.
	errSessionCreate = errors.New("chat: session creation failed")

	// errStillSearching is what a search task reports when its retries run out.
	errStillSearching = errors.New("chat: still searching")
)

// retryable reports whether a failed attempt should be retried rather than reported.
func retryable(err error) bool {
	return errors.Is(err, errNoCandidates) || errors.Is(err, errVolatile) || errors.Is(err, errSessionCreate)
}

// MatchOptions tunes the retry behaviour of search tasks.
type MatchOptions struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxRetries  int
}

// Matchmaker pairs Searching users into sessions.
type Matchmaker struct {
	registry *Registry
	store    *Store
	scopes   *scopeLocks
	tasks    *scheduler
	opts     MatchOptions

	// pick returns a uniform random index in [0, n).
	pick func(n int) int

	// onMatch runs while both users' scopes are still held.
	onMatch func(sess Session, a, b user.User)

	// onExhausted runs when a search task gives up; the user is still Searching.
	onExhausted func(userID string)

	logger zerolog.Logger
}

// NewMatchmaker wires a matchmaker to the registry and store it pairs users from and into.
func NewMatchmaker(registry *Registry, store *Store, scopes *scopeLocks, opts MatchOptions) *Matchmaker {
	return &Matchmaker{
		registry:    registry,
		store:       store,
		scopes:      scopes,
		tasks:       newScheduler(),
		opts:        opts,
		pick:        rand.IntN,
		onMatch:     func(Session, user.User, user.User) {},
		onExhausted: func(string) {},
		logger:      logx.Component("Matchmaker"),
	}
}

// attemptMatch tries to form one pair. It returns errNoCandidates, errVolatile or
// errSessionCreate for conditions worth retrying; any other error is a fault.
func (m *Matchmaker) attemptMatch() (Session, error) {
	var searching []user.User
	for u := range m.registry.Snapshot() {
		if u.State == user.Searching {
			searching = append(searching, u)
		}
	}

	if len(searching) < 2 {
		return Session{}, errNoCandidates
	}

	slices.SortFunc(searching, func(a, b user.User) int {
		switch {
		case a.SearchTicket < b.SearchTicket:
			return -1
		case a.SearchTicket > b.SearchTicket:
			return 1
		}
		return 0
	})

	anchor := searching[0]
	candidates := freshPartners(anchor, searching[1:])
	partner := candidates[m.pick(len(candidates))]

	unlock := m.scopes.lock(anchor.ID, partner.ID)
	defer unlock()

	a, okA := m.registry.Get(anchor.ID)
	b, okB := m.registry.Get(partner.ID)
	if !okA || !okB ||
		a.State != user.Searching || b.State != user.Searching ||
		a.SearchTicket != anchor.SearchTicket || b.SearchTicket != partner.SearchTicket {
		return Session{}, errVolatile
	}

	pairedA, err := m.registry.SetState(a.ID, user.Paired)
	if err != nil {
		return Session{}, fmt.Errorf("pair %s: %w", a.ID, err)
	}

	pairedB, err := m.registry.SetState(b.ID, user.Paired)
	if err != nil {
		m.rollback(a)
		return Session{}, fmt.Errorf("pair %s: %w", b.ID, err)
	}

	sess, err := m.store.Create(a.ID, b.ID)
	if err != nil {
		m.logger.Warn().Err(err).
			Str("user_a", a.ID).
			Str("user_b", b.ID).
			Msg("Session creation failed, rolling both users back to searching.")

		m.rollback(a)
		m.rollback(b)
		return Session{}, fmt.Errorf("%w: %w", errSessionCreate, err)
	}

	m.logger.Info().
		Str("session_id", sess.ID).
		Str("anchor_id", a.ID).
		Str("partner_id", b.ID).
		Dur("anchor_waited", time.Since(a.SearchingSince)).
		Int("searching_left", len(searching)-2).
		Msg("Users paired.")

	m.onMatch(sess, pairedA, pairedB)

	return sess, nil
}

// freshPartners drops the pairing the anchor or a candidate asked to leave, unless no one else is left.
func freshPartners(anchor user.User, others []user.User) []user.User {
	fresh := make([]user.User, 0, len(others))
	for _, u := range others {
		if u.ID != anchor.LastPartner && u.LastPartner != anchor.ID {
			fresh = append(fresh, u)
		}
	}

	if len(fresh) == 0 {
		return others
	}
	return fresh
}

func (m *Matchmaker) rollback(prev user.User) {
	if err := m.registry.restoreSearching(prev); err != nil {
		m.logger.Error().Err(err).Str("user_id", prev.ID).Msg("Failed to roll back tentative pairing.")
	}
}

// matchAll pairs users until no further pair can be formed and returns how many sessions it created.
func (m *Matchmaker) matchAll() (int, error) {
	created := 0
	for {
		_, err := m.attemptMatch()
		switch {
		case err == nil:
			created++
		case errors.Is(err, errNoCandidates):
			return created, nil
		default:
			return created, err
		}
	}
}

// Search starts (or restarts) the background search task for userID. It returns immediately.
func (m *Matchmaker) Search(userID string) {
	m.tasks.schedule(userID, func(ctx context.Context) {
		m.runSearch(ctx, userID)
	})
}

// Cancel stops userID's pending search retries.
func (m *Matchmaker) Cancel(userID string) {
	m.tasks.cancel(userID)
}

func (m *Matchmaker) backoff() retry.Backoff {
	b := retry.NewExponential(m.opts.BackoffBase)
	b = retry.WithCappedDuration(m.opts.BackoffCap, b)
	return retry.WithMaxRetries(uint64(m.opts.MaxRetries), b)
}

func (m *Matchmaker) runSearch(ctx context.Context, userID string) {
	err := retry.Do(ctx, m.backoff(), func(ctx context.Context) error {
		return m.matchFor(userID)
	})

	switch {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, errStillSearching):
		m.logger.Info().Str("user_id", userID).Int("retries", m.opts.MaxRetries).Msg("No partner found within retry ceiling.")
		m.onExhausted(userID)
	default:
		m.logger.Error().Err(err).Str("user_id", userID).Msg("Search task failed.")
	}
}

// matchFor runs pairing attempts until userID is no longer Searching or no pair can be formed.
func (m *Matchmaker) matchFor(userID string) error {
	for {
		u, ok := m.registry.Get(userID)
		if !ok || u.State != user.Searching {
			return nil
		}

		_, err := m.attemptMatch()
		if err == nil {
			continue
		}
		if retryable(err) {
			return retry.RetryableError(errStillSearching)
		}
		return err
	}
}

func (m *Matchmaker) shutdown() {
	m.tasks.shutdown()
}
