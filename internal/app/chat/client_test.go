package chat

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vibechat/internal/app/user"
	"vibechat/internal/pkg/logx"
)

func TestLaggingSessionFeedKeepsUserOnline(t *testing.T) {
	e := newTestEngine(t)
	hub := NewHub()

	u, err := e.Join("Alice")
	require.NoError(t, err)

	c := NewClient(e, hub, nil, u.ID, u.JoinID, "secret", time.Now().Add(time.Hour))
	require.Nil(t, hub.attach(c))

	f := newFeed[SessionEvent](logx.Component("test"))
	sub := f.subscribe()
	for range subscriptionBuffer + 1 {
		f.publish(SessionEvent{State: user.Available})
	}
	require.True(t, sub.Lagged())

	c.forwardSession(sub)

	assert.Equal(t, websocket.CloseTryAgainLater, c.closeCode)
	assert.False(t, c.leavesOnDisconnect())
	assert.Equal(t, 0, hub.Len())

	_, err = e.User(u.ID)
	assert.NoError(t, err)
}

func TestEndedSessionFeedClosesNormally(t *testing.T) {
	e := newTestEngine(t)
	hub := NewHub()

	u, err := e.Join("Bob")
	require.NoError(t, err)

	c := NewClient(e, hub, nil, u.ID, u.JoinID, "secret", time.Now().Add(time.Hour))
	hub.attach(c)

	f := newFeed[SessionEvent](logx.Component("test"))
	sub := f.subscribe(SessionEvent{State: user.Available})
	f.close()

	c.forwardSession(sub)

	assert.Equal(t, websocket.CloseNormalClosure, c.closeCode)
	assert.Len(t, c.send, 1)
	assert.True(t, c.leavesOnDisconnect())
}

func TestReplacedClientDoesNotLeave(t *testing.T) {
	e := newTestEngine(t)
	hub := NewHub()

	u, err := e.Join("Carol")
	require.NoError(t, err)

	first := NewClient(e, hub, nil, u.ID, u.JoinID, "secret", time.Now().Add(time.Hour))
	second := NewClient(e, hub, nil, u.ID, u.JoinID, "secret", time.Now().Add(time.Hour))

	assert.Nil(t, hub.attach(first))
	assert.Same(t, first, hub.attach(second))

	assert.False(t, first.leavesOnDisconnect())
	assert.Equal(t, 1, hub.Len())
	assert.True(t, second.leavesOnDisconnect())
}
