package chat

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibechat/internal/pkg/errs"
)

func newRelayFixture(t *testing.T) (*Store, *Relay, Session) {
	t.Helper()

	store := NewStore(time.Minute)
	t.Cleanup(store.stopTimers)

	sess, err := store.Create("alice", "bob")
	require.NoError(t, err)

	return store, NewRelay(store), sess
}

func TestRelaySendValidation(t *testing.T) {
	store, relay, sess := newRelayFixture(t)

	tests := []struct {
		name      string
		sessionID string
		sender    string
		text      string
		code      int
	}{
		{"unknown session", "nope", "alice", "hi", errs.ErrNotFound},
		{"not a participant", sess.ID, "mallory", "hi", errs.ErrNotParticipant},
		{"blank text", sess.ID, "alice", "  \n\t", errs.ErrEmptyMessage},
		{"too long", sess.ID, "alice", strings.Repeat("a", MaxContentBytes+1), errs.ErrMessageContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := relay.Send(tt.sessionID, tt.sender, tt.text)
			assert.True(t, errs.HasCode(err, tt.code), "got %v", err)
		})
	}

	_, err := relay.Send(sess.ID, "alice", strings.Repeat("a", MaxContentBytes))
	assert.NoError(t, err)

	_, _, err = store.Close(sess.ID, ReasonLeft)
	require.NoError(t, err)

	_, err = relay.Send(sess.ID, "alice", "too late")
	assert.True(t, errs.HasCode(err, errs.ErrSessionInactive))
}

func TestRelayTimestampsStrictlyIncrease(t *testing.T) {
	_, relay, sess := newRelayFixture(t)

	fixed := time.UnixMilli(1_700_000_000_000)
	relay.now = func() time.Time { return fixed }

	var last int64
	for i := range 5 {
		msg, err := relay.Send(sess.ID, []string{"alice", "bob"}[i%2], "hi")
		require.NoError(t, err)
		assert.Greater(t, msg.Timestamp, last)
		last = msg.Timestamp
	}
	assert.Equal(t, fixed.UnixMilli()+4, last)

	got, ok := relay.store.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, 5, got.MessageCount)
}

func TestRelaySubscribeReplaysThenStreams(t *testing.T) {
	store, relay, sess := newRelayFixture(t)

	first, err := relay.Send(sess.ID, "alice", "hi")
	require.NoError(t, err)

	stream, err := relay.Subscribe(sess.ID, "bob")
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got)

	next := make(chan Message, 1)
	go func() {
		msg, err := stream.Next(ctx)
		if err == nil {
			next <- msg
		}
	}()

	second, err := relay.Send(sess.ID, "bob", "hello")
	require.NoError(t, err)

	select {
	case msg := <-next:
		assert.Equal(t, second, msg)
	case <-time.After(time.Second):
		t.Fatal("live message was not delivered")
	}

	_, _, err = store.Close(sess.ID, ReasonLeft)
	require.NoError(t, err)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestRelayStreamDrainsBeforeClosing(t *testing.T) {
	store, relay, sess := newRelayFixture(t)

	stream, err := relay.Subscribe(sess.ID, "alice")
	require.NoError(t, err)

	for _, text := range []string{"one", "two"} {
		_, err := relay.Send(sess.ID, "bob", text)
		require.NoError(t, err)
	}
	_, _, err = store.Close(sess.ID, ReasonLeft)
	require.NoError(t, err)

	ctx := context.Background()
	var texts []string
	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			assert.ErrorIs(t, err, ErrStreamClosed)
			break
		}
		texts = append(texts, msg.Text)
	}
	assert.Equal(t, []string{"one", "two"}, texts)
}

func TestRelayStreamCloseUnblocksNext(t *testing.T) {
	_, relay, sess := newRelayFixture(t)

	stream, err := relay.Subscribe(sess.ID, "alice")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	stream.Close()
	stream.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestRelayNextHonoursContext(t *testing.T) {
	_, relay, sess := newRelayFixture(t)

	stream, err := relay.Subscribe(sess.ID, "alice")
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRelaySubscribeRejectsOutsiders(t *testing.T) {
	_, relay, sess := newRelayFixture(t)

	_, err := relay.Subscribe(sess.ID, "mallory")
	assert.True(t, errs.HasCode(err, errs.ErrNotParticipant))

	_, err = relay.Subscribe("missing", "alice")
	assert.True(t, errs.HasCode(err, errs.ErrNotFound))

	_, err = relay.History(sess.ID, "mallory")
	assert.True(t, errs.HasCode(err, errs.ErrNotParticipant))
}

func TestRelayConcurrentSendAndClose(t *testing.T) {
	store, relay, sess := newRelayFixture(t)

	stream, err := relay.Subscribe(sess.ID, "bob")
	require.NoError(t, err)
	defer stream.Close()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := relay.Send(sess.ID, "alice", "x"); err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	_, _, err = store.Close(sess.ID, ReasonLeft)
	require.NoError(t, err)
	wg.Wait()

	delivered := 0
	var last int64
	for {
		msg, err := stream.Next(context.Background())
		if err != nil {
			break
		}
		assert.Greater(t, msg.Timestamp, last)
		last = msg.Timestamp
		delivered++
	}

	// every accepted message is delivered; none is accepted after the close
	assert.Equal(t, accepted, delivered)
}

func TestRelayBothParticipantsSeeTheSameOrder(t *testing.T) {
	store, relay, sess := newRelayFixture(t)

	const perSender = 50

	streams := map[string]*MessageStream{}
	for _, id := range []string{"alice", "bob"} {
		stream, err := relay.Subscribe(sess.ID, id)
		require.NoError(t, err)
		defer stream.Close()
		streams[id] = stream
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var readers sync.WaitGroup
	seen := map[string][]Message{}
	var seenMu sync.Mutex
	for id, stream := range streams {
		readers.Add(1)
		go func() {
			defer readers.Done()
			var got []Message
			for {
				msg, err := stream.Next(ctx)
				if err != nil {
					break
				}
				got = append(got, msg)
			}
			seenMu.Lock()
			seen[id] = got
			seenMu.Unlock()
		}()
	}

	var senders sync.WaitGroup
	for _, id := range []string{"alice", "bob"} {
		senders.Add(1)
		go func() {
			defer senders.Done()
			for i := range perSender {
				_, err := relay.Send(sess.ID, id, id+" "+strconv.Itoa(i))
				assert.NoError(t, err)
			}
		}()
	}
	senders.Wait()

	_, _, err := store.Close(sess.ID, ReasonLeft)
	require.NoError(t, err)
	readers.Wait()

	aliceSaw, bobSaw := seen["alice"], seen["bob"]
	require.Len(t, aliceSaw, 2*perSender)
	assert.Equal(t, aliceSaw, bobSaw)

	next := map[string]int{}
	for i, msg := range aliceSaw {
		if i > 0 {
			assert.Greater(t, msg.Timestamp, aliceSaw[i-1].Timestamp)
		}
		// each sender's messages keep their send order
		assert.Equal(t, msg.SenderID+" "+strconv.Itoa(next[msg.SenderID]), msg.Text)
		next[msg.SenderID]++
	}
}
