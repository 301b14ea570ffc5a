/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines the Client struct, representing an active WebSocket connection of one
online user. It forwards the user's presence, session and message streams to the socket
(WritePump) and turns inbound frames into engine calls (ReadPump). Closing the socket is
treated as leaving.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vibechat/internal/pkg/auth/jwt"
	"vibechat/internal/pkg/errs"
	"vibechat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// WsCloseCodeSessionKicked is a custom WebSocket Close Code (4000-4999 range)
	// used to signal the client that the session was replaced by a new connection.
	WsCloseCodeSessionKicked = 4001

	// TokenRefreshWindow defines how much time before the token expires we should attempt to refresh it.
	TokenRefreshWindow = 2 * time.Minute
)

// Client struct represents an active WebSocket connection and its associated user.
type Client struct {
	engine *Engine
	hub    *Hub

	// underlying WebSocket connection object.
	conn *websocket.Conn

	userID string

	// joinID is the join the connection was authorized for.
	joinID string

	jwtSecret string

	// tokenExpiry records the expiration time of the current JWT used by the client.
	tokenExpiry time.Time

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// done is closed once the connection is going away; closeCode is the code WritePump sends.
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	// keepPresence is set when the socket is dropped for backpressure; the user stays online
	// and may reconnect, and the heartbeat sweep removes them if they never do.
	keepPresence atomic.Bool

	// cancels the forwarders
	ctx    context.Context
	cancel context.CancelFunc

	// structured logger with client context.
	logger zerolog.Logger
}

// NewClient constructs and returns a new Client instance.
func NewClient(engine *Engine, hub *Hub, wsConn *websocket.Conn, userID, joinID, jwtSecret string, expiry time.Time) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		engine:      engine,
		hub:         hub,
		conn:        wsConn,
		userID:      userID,
		joinID:      joinID,
		jwtSecret:   jwtSecret,
		tokenExpiry: expiry,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		closeCode:   websocket.CloseNormalClosure,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logx.Logger().With().Str("client_id", userID).Logger(),
	}
}

// Start attaches the client to the hub, kicking an older connection of the same user,
// and starts the write loop and the stream forwarders. The caller then runs ReadPump.
func (c *Client) Start() error {
	sessions, err := c.engine.SubscribeSession(c.userID)
	if err != nil {
		return err
	}

	if previous := c.hub.attach(c); previous != nil {
		previous.Kick("Signed in from another connection.")
	}

	presence := c.engine.SubscribePresence()

	go c.WritePump()
	go c.forwardPresence(presence)
	go c.forwardSession(sessions)

	return nil
}

// ReadPump handles reading messages from the WebSocket connection.
// Pongs and inbound frames count as heartbeats. It performs cleanup upon connection closure.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		c.heartbeat()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.heartbeat()
		c.processInboundMessage(messageBytes)
	}
}

func (c *Client) heartbeat() {
	if err := c.engine.Heartbeat(c.userID); err != nil {
		c.logger.Debug().Err(err).Msg("Heartbeat for unknown user.")
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
// A kicked client leaves the user online for the connection that replaced it.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.shutdown(websocket.CloseNormalClosure, "")

	if c.leavesOnDisconnect() {
		if err := c.engine.Leave(c.userID); err != nil && !errs.HasCode(err, errs.ErrNotFound) {
			c.logger.Error().Err(err).Msg("Failed to remove user on disconnect")
		}
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// leavesOnDisconnect unregisters the client and reports whether closing it should take the
// user offline. A connection replaced by a newer one, or shed for being too slow, does not.
func (c *Client) leavesOnDisconnect() bool {
	return c.hub.detach(c) && !c.keepPresence.Load()
}

// shedSlow closes a connection that cannot keep up, without ending the user's presence.
func (c *Client) shedSlow(what string) {
	c.logger.Warn().Str("stream", what).Msg("Client fell behind, closing connection")
	c.keepPresence.Store(true)
	c.shutdown(websocket.CloseTryAgainLater, "Too slow.")
}

// processInboundMessage handles raw byte messages received from the client.
func (c *Client) processInboundMessage(messageBytes []byte) {
	var inboundMsg Envelope

	if err := json.Unmarshal(messageBytes, &inboundMsg); err != nil {
		c.logger.Warn().Err(err).
			Int("message_len", len(messageBytes)).
			Msg("Client sent invalid JSON")
		c.SendError(errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	var err error
	switch inboundMsg.Type {
	case TypeText:
		c.handleText(inboundMsg.Payload, inboundMsg.TempID)
		return
	case TypeSearchStart:
		err = c.engine.StartSearch(c.userID)
	case TypeSearchStop:
		err = c.engine.StopSearch(c.userID)
	case TypeNextPartner:
		err = c.engine.RequestNewPartner(c.userID)
	default:
		c.logger.Warn().Str("msg_type", string(inboundMsg.Type)).Msg("Client sent unsupported message type")
		err = errs.NewError(errs.ErrInvalidParams)
	}

	if err != nil {
		c.SendError(err)
	}
}

// handleText processes incoming text messages from the client.
func (c *Client) handleText(payloadBytes json.RawMessage, tempID string) {
	var textPayload TextPayload
	if err := json.Unmarshal(payloadBytes, &textPayload); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid TEXT payload")
		c.SendError(errs.NewError(errs.ErrInvalidParams))
		return
	}

	msg, err := c.engine.SendMessage(c.userID, textPayload.Content)
	if err != nil {
		c.SendError(err)
		return
	}

	c.sendConfirmation(tempID, msg)
}

// forwardPresence pushes online-count changes until the feed or the client ends.
func (c *Client) forwardPresence(sub *Subscription[PresenceEvent]) {
	defer sub.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Lagged() {
					c.shedSlow("presence")
				}
				return
			}
			c.push(TypePresence, ev)
		}
	}
}

// forwardSession pushes the user's state changes and keeps a message forwarder running for
// the current session. The session feed ends when the user is removed, which closes the client;
// a feed that dropped the client for lagging closes it with 1013 instead.
func (c *Client) forwardSession(sub *Subscription[SessionEvent]) {
	defer sub.Close()

	var (
		currentSession string
		stopMessages   context.CancelFunc = func() {}
	)
	defer func() { stopMessages() }()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Lagged() {
					c.shedSlow("session")
					return
				}
				c.shutdown(websocket.CloseNormalClosure, "Session ended.")
				return
			}

			c.push(TypeSession, ev)

			if ev.SessionID == currentSession {
				continue
			}

			stopMessages()
			stopMessages = func() {}
			currentSession = ev.SessionID

			if ev.SessionID != "" {
				stopMessages = c.startMessageForwarder(ev.SessionID)
			}
		}
	}
}

// startMessageForwarder streams a session's messages, history first, until the session
// closes or the returned function is called.
func (c *Client) startMessageForwarder(sessionID string) context.CancelFunc {
	stream, err := c.engine.SubscribeMessages(sessionID, c.userID)
	if err != nil {
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Could not subscribe to session messages.")
		return func() {}
	}

	ctx, cancel := context.WithCancel(c.ctx)

	go func() {
		defer stream.Close()

		for {
			msg, err := stream.Next(ctx)
			if err != nil {
				if !errors.Is(err, ErrStreamClosed) && !errors.Is(err, context.Canceled) {
					c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Message stream failed.")
				}
				return
			}
			c.push(TypeMessage, msg)
		}
	}()

	return cancel
}

// WritePump handles writing messages from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.writeQueuedMessage(message) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}

			c.checkAndRefreshToken()

		case <-c.done:
			c.writeCloseMessage()
			return
		}
	}
}

// writeQueuedMessage writes one queued frame to the WebSocket.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// writeCloseMessage drains what is already queued, then sends the close frame.
func (c *Client) writeCloseMessage() {
	for len(c.send) > 0 {
		if !c.writeQueuedMessage(<-c.send) {
			return
		}
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return
	}

	closeMessage := websocket.FormatCloseMessage(c.closeCode, c.closeText)
	if err := c.conn.WriteMessage(websocket.CloseMessage, closeMessage); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing close message")
	}
}

// checkAndRefreshToken checks if the current JWT is close to expiry and generates a new one if necessary.
func (c *Client) checkAndRefreshToken() {
	if time.Now().Before(c.tokenExpiry.Add(-TokenRefreshWindow)) {
		return
	}

	c.logger.Info().
		Time("current_expiry", c.tokenExpiry).
		Dur("refresh_window", TokenRefreshWindow).
		Msg("JWT token is nearing expiry, attempting refresh.")

	u, err := c.engine.User(c.userID)
	if err != nil || u.JoinID != c.joinID {
		return
	}

	payload := &jwt.Payload{
		ID:       u.ID,
		JoinID:   u.JoinID,
		Nickname: u.Nickname,
	}

	tokenString, err := jwt.GenerateToken(payload, c.jwtSecret, jwt.SessionIdentityExpiration)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to generate new token. Aborting refresh.")
		return
	}

	if err := c.push(TypeTokenUpdate, TokenUpdatePayload{Token: tokenString}); err != nil {
		c.logger.Error().Err(err).Msg("Failed to send token update to client.")
		return
	}

	c.tokenExpiry = time.Now().Add(jwt.SessionIdentityExpiration)
}

// push wraps payload in an envelope and queues it.
func (c *Client) push(msgType MessageType, payload any) error {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("msg_type", string(msgType)).Msg("Failed to build envelope")
		return err
	}
	return c.sendMessage(env)
}

// sendMessage marshals the data and attempts to send it to the client's send channel.
// A client that cannot keep up is disconnected rather than silently losing frames.
func (c *Client) sendMessage(data any) error {
	messageBytes, err := json.Marshal(data)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling data for client")
		return err
	}

	select {
	case <-c.done:
		return fmt.Errorf("client closed")
	default:
	}

	select {
	case c.send <- messageBytes:
		return nil
	default:
		c.shedSlow("send queue")
		return fmt.Errorf("client send queue full")
	}
}

// SendError constructs and sends a TypeError message to the client.
func (c *Client) SendError(err error) {
	customErr := errs.From(err)

	errorPayload := ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	}

	if err := c.push(TypeError, errorPayload); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to queue error message")
	}
}

// sendConfirmation acknowledges a TEXT frame with the authoritative message id and timestamp.
func (c *Client) sendConfirmation(originalTempID string, msg Message) {
	if originalTempID == "" {
		return
	}

	ack := ConfirmPayload{
		TempID:    originalTempID,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	}

	if err := c.push(TypeConfirm, ack); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to queue ACK message")
	}
}

// Kick closes the client's connection with Close Code 4001, indicating that the session
// was replaced. The user itself stays online.
func (c *Client) Kick(reason string) {
	c.logger.Warn().
		Int("close_code", WsCloseCodeSessionKicked).
		Str("reason", reason).
		Msg("Sending WS Kick message and closing connection.")

	c.shutdown(WsCloseCodeSessionKicked, reason)
}

// shutdown stops the forwarders and tells WritePump to send the close frame. Only the first call counts.
func (c *Client) shutdown(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		c.cancel()
		close(c.done)
	})
}

// Hub tracks the single live connection of each user.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// attach registers c as its user's connection and returns the connection it replaced, if any.
func (h *Hub) attach(c *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.clients[c.userID]
	h.clients[c.userID] = c
	return previous
}

// detach unregisters c. It reports false if c was already replaced by a newer connection.
func (h *Hub) detach(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.userID] != c {
		return false
	}
	delete(h.clients, c.userID)
	return true
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every attached client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown(websocket.CloseGoingAway, "Server shutting down.")
	}
}
