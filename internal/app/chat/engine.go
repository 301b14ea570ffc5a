/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines the Engine, the API the transport layer calls: join, leave, search,
re-match, send, and the presence, session and message subscriptions. It orchestrates the
Registry, Matchmaker, Store and Relay while holding the affected users' scopes, and runs
the background loops that sweep stale users and retry matching.
*/
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vibechat/internal/app/user"
	"vibechat/internal/configs"
	"vibechat/internal/pkg/errs"
	"vibechat/internal/pkg/logx"
)

// recorderTimeout bounds a single SessionRecorder call.
const recorderTimeout = 5 * time.Second

// SessionRecorder receives session lifecycle notifications, e.g. for an audit log.
// Calls happen off the request path; errors are logged and otherwise ignored.
type SessionRecorder interface {
	SessionStarted(ctx context.Context, sess Session) error
	SessionEnded(ctx context.Context, sess Session) error
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(context.Context, Session) error { return nil }
func (nopRecorder) SessionEnded(context.Context, Session) error   { return nil }

// Options configures an Engine.
type Options struct {
	StaleTimeout     time.Duration
	SweepInterval    time.Duration
	MatchInterval    time.Duration
	DirectResearch   bool
	HistoryRetention time.Duration
	Match            MatchOptions

	// Recorder is optional.
	Recorder SessionRecorder
}

// OptionsFromConfig maps the application configuration onto engine options.
func OptionsFromConfig(cfg *configs.AppConfig) Options {
	return Options{
		StaleTimeout:     cfg.StaleTimeout,
		SweepInterval:    cfg.SweepInterval,
		MatchInterval:    cfg.MatchInterval,
		DirectResearch:   cfg.DirectResearch,
		HistoryRetention: cfg.HistoryRetention,
		Match: MatchOptions{
			BackoffBase: cfg.MatchBackoffBase,
			BackoffCap:  cfg.MatchBackoffCap,
			MaxRetries:  cfg.MatchMaxRetries,
		},
	}
}

// Engine is the presence, matchmaking and relay core.
type Engine struct {
	registry *Registry
	store    *Store
	relay    *Relay
	matcher  *Matchmaker
	scopes   *scopeLocks
	recorder SessionRecorder
	opts     Options

	// presenceMu orders presence events so each carries the count right after its change.
	presenceMu sync.Mutex
	presence   *feed[PresenceEvent]

	// feedsMu protects sessionFeeds, one feed per online user.
	feedsMu      sync.Mutex
	sessionFeeds map[string]*feed[SessionEvent]

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger zerolog.Logger
}

// NewEngine constructs the engine and starts its background loops. Call Shutdown to stop them.
func NewEngine(opts Options) *Engine {
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	scopes := newScopeLocks()
	registry := NewRegistry(opts.DirectResearch)
	store := NewStore(opts.HistoryRetention)
	logger := logx.Component("Engine")

	e := &Engine{
		registry:     registry,
		store:        store,
		relay:        NewRelay(store),
		matcher:      NewMatchmaker(registry, store, scopes, opts.Match),
		scopes:       scopes,
		recorder:     opts.Recorder,
		opts:         opts,
		presence:     newFeed[PresenceEvent](logger),
		sessionFeeds: make(map[string]*feed[SessionEvent]),
		stop:         make(chan struct{}),
		logger:       logger,
	}

	e.matcher.onMatch = e.handleMatch
	e.matcher.onExhausted = e.handleExhausted

	e.wg.Add(2)
	go e.runSweepLoop()
	go e.runMatchLoop()

	e.logger.Info().
		Dur("stale_timeout", opts.StaleTimeout).
		Dur("match_interval", opts.MatchInterval).
		Bool("direct_research", opts.DirectResearch).
		Msg("Engine started.")

	return e
}

// Join brings a new anonymous user online in the Available state.
func (e *Engine) Join(nickname string) (user.User, error) {
	return e.join(func() (user.User, error) { return e.registry.Join(nickname) })
}

// JoinWithID is Join with a caller-supplied ID, failing with ErrDuplicateIdentity on collision.
func (e *Engine) JoinWithID(id, nickname string) (user.User, error) {
	return e.join(func() (user.User, error) { return e.registry.JoinWithID(id, nickname) })
}

func (e *Engine) join(add func() (user.User, error)) (user.User, error) {
	e.presenceMu.Lock()
	defer e.presenceMu.Unlock()

	u, err := add()
	if err != nil {
		return user.User{}, err
	}

	e.feedsMu.Lock()
	e.sessionFeeds[u.ID] = newFeed[SessionEvent](e.logger)
	e.feedsMu.Unlock()

	public := u.Public()
	e.presence.publish(PresenceEvent{Kind: UserJoined, OnlineCount: e.registry.Count(), User: &public})

	e.logger.Info().Str("user_id", u.ID).Msg("User joined.")
	return u, nil
}

// Leave removes the user. If the user is paired, the session is closed first and the
// partner returns to Available.
func (e *Engine) Leave(userID string) error {
	return e.remove(userID, ReasonLeft, time.Time{})
}

// remove takes the user offline. A non-zero staleBefore makes the removal conditional:
// a user whose LastActive is no longer before it, checked under the user's scope, stays.
func (e *Engine) remove(userID string, reason CloseReason, staleBefore time.Time) error {
	conditional := !staleBefore.IsZero()
	if !conditional {
		e.matcher.Cancel(userID)
	}

	unlock, sess, paired, err := e.lockWithPartner(userID)
	if err != nil {
		return err
	}
	defer unlock()

	if conditional {
		if u, ok := e.registry.Get(userID); ok && !u.LastActive.Before(staleBefore) {
			e.logger.Debug().Str("user_id", userID).Msg("Heartbeat arrived before the sweep got to the user.")
			return nil
		}
		e.matcher.Cancel(userID)
	}

	if paired {
		e.endSession(sess, reason, userID)
	}

	e.presenceMu.Lock()
	defer e.presenceMu.Unlock()

	u, err := e.registry.Remove(userID)
	if err != nil {
		return err
	}
	// a re-match of the partner may have rescheduled a search in between
	e.matcher.Cancel(userID)

	e.feedsMu.Lock()
	if f, ok := e.sessionFeeds[userID]; ok {
		f.close()
		delete(e.sessionFeeds, userID)
	}
	e.feedsMu.Unlock()

	public := u.Public()
	e.presence.publish(PresenceEvent{Kind: UserLeft, OnlineCount: e.registry.Count(), User: &public})

	e.logger.Info().Str("user_id", userID).Str("reason", string(reason)).Msg("User left.")
	return nil
}

// lockWithPartner acquires userID's scope together with its current partner's, if any.
// The session can only change while neither scope is held, so it re-checks after locking.
func (e *Engine) lockWithPartner(userID string) (unlock func(), sess Session, paired bool, err error) {
	for {
		sess, paired = e.store.SessionFor(userID)

		ids := []string{userID}
		if paired {
			ids = append(ids, sess.Partner(userID))
		}
		unlock = e.scopes.lock(ids...)

		if _, ok := e.registry.Get(userID); !ok {
			unlock()
			return nil, Session{}, false, errs.NewError(errs.ErrNotFound)
		}

		cur, curPaired := e.store.SessionFor(userID)
		if curPaired == paired && cur.ID == sess.ID {
			return unlock, cur, curPaired, nil
		}
		unlock()
	}
}

// endSession closes sess and moves its participants back to Available, or to Searching
// for ReasonNewPartner. The leaving user, if any, is skipped since it is about to be removed.
// Callers hold both participants' scopes.
func (e *Engine) endSession(sess Session, reason CloseReason, leaving string) {
	closed, ok, err := e.store.Close(sess.ID, reason)
	if err != nil || !ok {
		return
	}

	target := user.Available
	if reason == ReasonNewPartner {
		target = user.Searching
	}

	for _, id := range []string{closed.ParticipantA, closed.ParticipantB} {
		if id == leaving {
			continue
		}

		if err := e.moveFromPaired(id, target); err != nil {
			e.logger.Error().Err(err).
				Str("session_id", closed.ID).
				Str("user_id", id).
				Msg("Session participant could not be released.")
			continue
		}

		e.publishSession(id, SessionEvent{State: target, Reason: reason})

		if target == user.Searching {
			e.registry.avoidPartner(id, closed.Partner(id))
			e.matcher.Search(id)
		}
	}

	e.logger.Info().
		Str("session_id", closed.ID).
		Str("reason", string(reason)).
		Int("messages", closed.MessageCount).
		Msg("Session closed.")

	e.record(func(ctx context.Context) error { return e.recorder.SessionEnded(ctx, closed) })
}

// moveFromPaired releases a paired user. Without direct re-search, Paired -> Searching
// passes through Available; the intermediate state is never published.
func (e *Engine) moveFromPaired(id string, target user.State) error {
	if target == user.Searching && !e.opts.DirectResearch {
		if _, err := e.registry.SetState(id, user.Available); err != nil {
			return err
		}
	}

	_, err := e.registry.SetState(id, target)
	return err
}

// StartSearch puts an Available user into Searching and kicks off matching in the
// background. Called while Paired it behaves like RequestNewPartner.
func (e *Engine) StartSearch(userID string) error {
	unlock := e.scopes.lock(userID)

	u, ok := e.registry.Get(userID)
	if !ok {
		unlock()
		return errs.NewError(errs.ErrNotFound)
	}

	if u.State == user.Paired {
		unlock()
		return e.RequestNewPartner(userID)
	}
	defer unlock()

	if _, err := e.registry.SetState(userID, user.Searching); err != nil {
		return err
	}

	e.publishSession(userID, SessionEvent{State: user.Searching})
	e.matcher.Search(userID)
	return nil
}

// StopSearch returns a Searching user to Available and cancels its pending retries.
// Stopping when already Available is a no-op.
func (e *Engine) StopSearch(userID string) error {
	unlock := e.scopes.lock(userID)
	defer unlock()

	u, ok := e.registry.Get(userID)
	if !ok {
		return errs.NewError(errs.ErrNotFound)
	}

	switch u.State {
	case user.Available:
		return nil
	case user.Paired:
		return errs.NewError(errs.ErrInvalidTransition)
	}

	if _, err := e.registry.SetState(userID, user.Available); err != nil {
		return err
	}
	e.matcher.Cancel(userID)

	e.publishSession(userID, SessionEvent{State: user.Available})
	return nil
}

// RequestNewPartner ends the user's current session and sends both participants back to
// Searching. Without a session it starts a search, or does nothing if already searching.
func (e *Engine) RequestNewPartner(userID string) error {
	unlock, sess, paired, err := e.lockWithPartner(userID)
	if err != nil {
		return err
	}

	if !paired {
		u, _ := e.registry.Get(userID)
		unlock()
		if u.State == user.Searching {
			return nil
		}
		return e.StartSearch(userID)
	}
	defer unlock()

	e.endSession(sess, ReasonNewPartner, "")
	return nil
}

// SendMessage relays text from userID to its current partner.
func (e *Engine) SendMessage(userID, text string) (Message, error) {
	if err := e.registry.Heartbeat(userID); err != nil {
		return Message{}, err
	}

	sess, ok := e.store.SessionFor(userID)
	if !ok {
		return Message{}, errs.NewError(errs.ErrSessionInactive)
	}

	return e.relay.Send(sess.ID, userID, text)
}

// Heartbeat marks the user as still connected.
func (e *Engine) Heartbeat(userID string) error {
	return e.registry.Heartbeat(userID)
}

// User returns the user's current record.
func (e *Engine) User(userID string) (user.User, error) {
	u, ok := e.registry.Get(userID)
	if !ok {
		return user.User{}, errs.NewError(errs.ErrNotFound)
	}
	return u, nil
}

// Authorize checks that a token minted for joinID still belongs to the online user.
// A gone user is ErrNotFound; a user who has since rejoined under the same ID is ErrUnauthorized.
func (e *Engine) Authorize(userID, joinID string) error {
	u, ok := e.registry.Get(userID)
	if !ok {
		return errs.NewError(errs.ErrNotFound)
	}
	if joinID == "" || u.JoinID != joinID {
		return errs.NewError(errs.ErrUnauthorized)
	}
	return nil
}

// ActiveSessions returns the number of sessions in progress.
func (e *Engine) ActiveSessions() int {
	return e.store.ActiveCount()
}

// OnlineCount returns the number of online users.
func (e *Engine) OnlineCount() int {
	return e.registry.Count()
}

// CurrentSession describes the user's state the way SubscribeSession's first event does.
func (e *Engine) CurrentSession(userID string) (SessionEvent, error) {
	unlock := e.scopes.lock(userID)
	defer unlock()

	return e.sessionView(userID)
}

// sessionView builds the user's current SessionEvent. Caller holds the user's scope.
func (e *Engine) sessionView(userID string) (SessionEvent, error) {
	u, ok := e.registry.Get(userID)
	if !ok {
		return SessionEvent{}, errs.NewError(errs.ErrNotFound)
	}

	ev := SessionEvent{State: u.State}
	if u.State != user.Paired {
		return ev, nil
	}

	sess, ok := e.store.SessionFor(userID)
	if !ok {
		return ev, nil
	}
	ev.SessionID = sess.ID
	if partner, ok := e.registry.Get(sess.Partner(userID)); ok {
		public := partner.Public()
		ev.Partner = &public
	}
	return ev, nil
}

// SubscribePresence streams online-count changes, starting with a snapshot of the current count.
func (e *Engine) SubscribePresence() *Subscription[PresenceEvent] {
	e.presenceMu.Lock()
	defer e.presenceMu.Unlock()

	return e.presence.subscribe(PresenceEvent{Kind: PresenceSnapshot, OnlineCount: e.registry.Count()})
}

// SubscribeSession streams the user's state and partner changes, starting with the current state.
// The stream ends when the user is removed.
func (e *Engine) SubscribeSession(userID string) (*Subscription[SessionEvent], error) {
	unlock := e.scopes.lock(userID)
	defer unlock()

	current, err := e.sessionView(userID)
	if err != nil {
		return nil, err
	}

	e.feedsMu.Lock()
	f, ok := e.sessionFeeds[userID]
	e.feedsMu.Unlock()
	if !ok {
		return nil, errs.NewError(errs.ErrNotFound)
	}

	return f.subscribe(current), nil
}

// SubscribeMessages streams a session's messages to one of its participants, replaying history first.
func (e *Engine) SubscribeMessages(sessionID, userID string) (*MessageStream, error) {
	return e.relay.Subscribe(sessionID, userID)
}

// History returns the messages of a session the user takes part in.
func (e *Engine) History(sessionID, userID string) ([]Message, error) {
	return e.relay.History(sessionID, userID)
}

func (e *Engine) publishSession(userID string, ev SessionEvent) {
	e.feedsMu.Lock()
	f, ok := e.sessionFeeds[userID]
	e.feedsMu.Unlock()

	if ok {
		f.publish(ev)
	}
}

// handleMatch runs inside attemptMatch while both scopes are held.
func (e *Engine) handleMatch(sess Session, a, b user.User) {
	publicA, publicB := a.Public(), b.Public()

	e.matcher.Cancel(a.ID)
	e.matcher.Cancel(b.ID)

	e.publishSession(a.ID, SessionEvent{State: user.Paired, Partner: &publicB, SessionID: sess.ID})
	e.publishSession(b.ID, SessionEvent{State: user.Paired, Partner: &publicA, SessionID: sess.ID})

	e.record(func(ctx context.Context) error { return e.recorder.SessionStarted(ctx, sess) })
}

func (e *Engine) handleExhausted(userID string) {
	unlock := e.scopes.lock(userID)
	defer unlock()

	if u, ok := e.registry.Get(userID); !ok || u.State != user.Searching {
		return
	}

	e.publishSession(userID, SessionEvent{
		State:  user.Searching,
		Notice: noticeFrom(errs.NewError(errs.ErrNoPartnerAvailable)),
	})
}

// record runs a recorder call in the background, bounded by recorderTimeout.
func (e *Engine) record(fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("Session recorder call failed.")
		}
	}()
}

// runSweepLoop removes users whose heartbeat is older than StaleTimeout and audits sessions.
func (e *Engine) runSweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.sweep(now)
		}
	}
}

func (e *Engine) sweep(now time.Time) {
	cutoff := now.Add(-e.opts.StaleTimeout)
	for _, id := range e.registry.Stale(cutoff) {
		if err := e.remove(id, ReasonTimeout, cutoff); err != nil && !errs.HasCode(err, errs.ErrNotFound) {
			e.logger.Error().Err(err).Str("user_id", id).Msg("Failed to remove stale user.")
		}
	}

	e.auditSessions()
}

// auditSessions force-closes active sessions whose participants are missing or not Paired.
// Such a session can only exist after an internal bug; it is logged instead of crashing.
func (e *Engine) auditSessions() {
	for _, sess := range e.store.Active() {
		if e.sessionConsistent(sess) {
			continue
		}
		e.forceClose(sess)
	}
}

func (e *Engine) sessionConsistent(sess Session) bool {
	for _, id := range []string{sess.ParticipantA, sess.ParticipantB} {
		u, ok := e.registry.Get(id)
		if !ok || u.State != user.Paired {
			return false
		}
	}
	return true
}

func (e *Engine) forceClose(sess Session) {
	unlock := e.scopes.lock(sess.ParticipantA, sess.ParticipantB)
	defer unlock()

	if e.sessionConsistent(sess) {
		return
	}

	e.logger.Error().
		Str("session_id", sess.ID).
		Str("participant_a", sess.ParticipantA).
		Str("participant_b", sess.ParticipantB).
		Msg("Session references a missing or unpaired user. Force-closing.")

	closed, ok, err := e.store.Close(sess.ID, ReasonInvariant)
	if err != nil || !ok {
		return
	}

	for _, id := range []string{closed.ParticipantA, closed.ParticipantB} {
		u, ok := e.registry.Get(id)
		if !ok || u.State != user.Paired {
			continue
		}
		if _, err := e.registry.SetState(id, user.Available); err == nil {
			e.publishSession(id, SessionEvent{State: user.Available, Reason: ReasonInvariant})
		}
	}

	e.record(func(ctx context.Context) error { return e.recorder.SessionEnded(ctx, closed) })
}

// closeActive ends every active session with ReasonShutdown so the recorder sees them finish.
func (e *Engine) closeActive() {
	for _, sess := range e.store.Active() {
		unlock := e.scopes.lock(sess.ParticipantA, sess.ParticipantB)

		closed, ok, err := e.store.Close(sess.ID, ReasonShutdown)
		if err == nil && ok {
			for _, id := range []string{closed.ParticipantA, closed.ParticipantB} {
				if _, err := e.registry.SetState(id, user.Available); err == nil {
					e.publishSession(id, SessionEvent{State: user.Available, Reason: ReasonShutdown})
				}
			}
			e.record(func(ctx context.Context) error { return e.recorder.SessionEnded(ctx, closed) })
		}

		unlock()
	}
}

// runMatchLoop retries matching periodically while at least two users are searching.
// It also picks up users whose own search task ran out of retries.
func (e *Engine) runMatchLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.MatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if e.registry.CountState(user.Searching) < 2 {
				continue
			}
			if _, err := e.matcher.matchAll(); err != nil && !retryable(err) {
				e.logger.Error().Err(err).Msg("Periodic matching failed.")
			}
		}
	}
}

// Shutdown stops background loops and search tasks, then ends every subscription.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		e.logger.Info().Msg("Shutting down engine...")

		close(e.stop)
		e.matcher.shutdown()
		e.closeActive()
		e.wg.Wait()
		e.store.stopTimers()

		e.feedsMu.Lock()
		for id, f := range e.sessionFeeds {
			f.close()
			delete(e.sessionFeeds, id)
		}
		e.feedsMu.Unlock()

		e.presence.close()

		e.logger.Info().Msg("Engine shutdown complete.")
	})
}
