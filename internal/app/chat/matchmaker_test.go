package chat

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibechat/internal/app/user"
)

func newTestMatchmaker(t *testing.T) (*Registry, *Store, *Matchmaker) {
	t.Helper()

	registry := NewRegistry(true)
	store := NewStore(0)
	m := NewMatchmaker(registry, store, newScopeLocks(), MatchOptions{
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
		MaxRetries:  3,
	})
	t.Cleanup(m.shutdown)

	return registry, store, m
}

func searchingUser(t *testing.T, r *Registry, nickname string) user.User {
	t.Helper()

	u, err := r.Join(nickname)
	require.NoError(t, err)
	u, err = r.SetState(u.ID, user.Searching)
	require.NoError(t, err)
	return u
}

func TestAttemptMatchNeedsTwoSearchers(t *testing.T) {
	r, _, m := newTestMatchmaker(t)

	_, err := m.attemptMatch()
	assert.ErrorIs(t, err, errNoCandidates)

	searchingUser(t, r, "alone")
	_, err = r.Join("idle")
	require.NoError(t, err)

	_, err = m.attemptMatch()
	assert.ErrorIs(t, err, errNoCandidates)
}

func TestAttemptMatchAnchorsLongestWaiting(t *testing.T) {
	r, store, m := newTestMatchmaker(t)

	first := searchingUser(t, r, "first")
	second := searchingUser(t, r, "second")
	third := searchingUser(t, r, "third")

	var picked []int
	m.pick = func(n int) int {
		picked = append(picked, n)
		return n - 1
	}

	var matched []string
	m.onMatch = func(sess Session, a, b user.User) {
		matched = append(matched, a.ID, b.ID)
	}

	sess, err := m.attemptMatch()
	require.NoError(t, err)

	assert.Equal(t, []int{2}, picked)
	assert.Equal(t, first.ID, sess.ParticipantA)
	assert.Equal(t, third.ID, sess.ParticipantB)
	assert.Equal(t, []string{first.ID, third.ID}, matched)

	for _, id := range []string{first.ID, third.ID} {
		u, _ := r.Get(id)
		assert.Equal(t, user.Paired, u.State)
		got, ok := store.SessionFor(id)
		require.True(t, ok)
		assert.Equal(t, sess.ID, got.ID)
	}

	left, _ := r.Get(second.ID)
	assert.Equal(t, user.Searching, left.State)
}

func TestAttemptMatchAvoidsPartnerLeftByRematch(t *testing.T) {
	r, _, m := newTestMatchmaker(t)

	alice := searchingUser(t, r, "alice")
	bob := searchingUser(t, r, "bob")
	carol := searchingUser(t, r, "carol")

	r.avoidPartner(alice.ID, bob.ID)
	r.avoidPartner(bob.ID, alice.ID)

	var offered int
	m.pick = func(n int) int {
		offered = n
		return 0
	}

	sess, err := m.attemptMatch()
	require.NoError(t, err)

	assert.Equal(t, 1, offered)
	assert.Equal(t, alice.ID, sess.ParticipantA)
	assert.Equal(t, carol.ID, sess.ParticipantB)

	paired, _ := r.Get(alice.ID)
	assert.Empty(t, paired.LastPartner)
}

func TestAttemptMatchFallsBackToLastPartnerWhenAlone(t *testing.T) {
	r, _, m := newTestMatchmaker(t)

	alice := searchingUser(t, r, "alice")
	bob := searchingUser(t, r, "bob")
	r.avoidPartner(alice.ID, bob.ID)

	sess, err := m.attemptMatch()
	require.NoError(t, err)
	assert.True(t, sess.Has(bob.ID))
}

func TestRollbackKeepsLastPartner(t *testing.T) {
	r, store, m := newTestMatchmaker(t)

	alice := searchingUser(t, r, "alice")
	searchingUser(t, r, "bob")
	searchingUser(t, r, "carol")
	r.avoidPartner(alice.ID, "u_gonegonego")

	store.newID = func() (string, error) { return "", errors.New("no entropy") }

	_, err := m.attemptMatch()
	require.ErrorIs(t, err, errSessionCreate)

	u, _ := r.Get(alice.ID)
	assert.Equal(t, "u_gonegonego", u.LastPartner)
}

func TestAttemptMatchRollsBackWhenSessionCreationFails(t *testing.T) {
	r, store, m := newTestMatchmaker(t)

	a := searchingUser(t, r, "a")
	b := searchingUser(t, r, "b")

	store.newID = func() (string, error) { return "", errors.New("no entropy") }
	m.onMatch = func(Session, user.User, user.User) { t.Fatal("onMatch called for a failed pairing") }

	_, err := m.attemptMatch()
	require.ErrorIs(t, err, errSessionCreate)
	assert.True(t, retryable(err))

	for _, prev := range []user.User{a, b} {
		u, _ := r.Get(prev.ID)
		assert.Equal(t, user.Searching, u.State)
		assert.Equal(t, prev.SearchTicket, u.SearchTicket)
	}
	assert.Equal(t, 0, store.ActiveCount())
}

func TestMatchAllPairsEveryone(t *testing.T) {
	r, store, m := newTestMatchmaker(t)

	for i := range 7 {
		searchingUser(t, r, fmt.Sprintf("u%d", i))
	}

	created, err := m.matchAll()
	require.NoError(t, err)

	assert.Equal(t, 3, created)
	assert.Equal(t, 3, store.ActiveCount())
	assert.Equal(t, 1, r.CountState(user.Searching))
	assert.Equal(t, 6, r.CountState(user.Paired))
}

func TestSearchTaskPairsInBackground(t *testing.T) {
	r, store, m := newTestMatchmaker(t)

	a := searchingUser(t, r, "a")
	m.Search(a.ID)

	b := searchingUser(t, r, "b")
	m.Search(b.ID)

	assert.Eventually(t, func() bool {
		_, okA := store.SessionFor(a.ID)
		_, okB := store.SessionFor(b.ID)
		return okA && okB
	}, time.Second, 2*time.Millisecond)
}

func TestSearchTaskReportsExhaustion(t *testing.T) {
	r, _, m := newTestMatchmaker(t)

	exhausted := make(chan string, 1)
	m.onExhausted = func(id string) { exhausted <- id }

	a := searchingUser(t, r, "a")
	m.Search(a.ID)

	select {
	case id := <-exhausted:
		assert.Equal(t, a.ID, id)
	case <-time.After(time.Second):
		t.Fatal("search never gave up")
	}

	u, _ := r.Get(a.ID)
	assert.Equal(t, user.Searching, u.State)
	assert.Eventually(t, func() bool { return !m.tasks.pending(a.ID) }, time.Second, time.Millisecond)
}

func TestCancelStopsSearchTask(t *testing.T) {
	r, _, m := newTestMatchmaker(t)
	m.opts.BackoffBase = time.Hour
	m.opts.BackoffCap = time.Hour

	m.onExhausted = func(string) { t.Error("cancelled search must not report exhaustion") }

	a := searchingUser(t, r, "a")
	m.Search(a.ID)
	assert.True(t, m.tasks.pending(a.ID))

	m.Cancel(a.ID)
	assert.False(t, m.tasks.pending(a.ID))
}

func TestConcurrentMatchingNeverDoublePairs(t *testing.T) {
	r, store, m := newTestMatchmaker(t)

	const users = 40
	var ids []string
	for i := range users {
		ids = append(ids, searchingUser(t, r, fmt.Sprintf("u%d", i)).ID)
	}

	var (
		mu       sync.Mutex
		sessions = map[string]int{}
	)
	m.onMatch = func(sess Session, a, b user.User) {
		mu.Lock()
		defer mu.Unlock()
		sessions[a.ID]++
		sessions[b.ID]++
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := m.matchAll()
				if err == nil {
					return
				}
				if !assert.True(t, retryable(err), "unexpected error %v", err) {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, users/2, store.ActiveCount())
	for _, id := range ids {
		assert.Equal(t, 1, sessions[id], "user %s", id)
		u, _ := r.Get(id)
		assert.Equal(t, user.Paired, u.State)
	}
}
