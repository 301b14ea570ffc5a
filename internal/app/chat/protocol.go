/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines the websocket wire protocol: a typed envelope wrapping the engine's
events on the way out, and the client commands on the way in.
*/
package chat

import (
	"encoding/json"
	"time"
)

// MessageType identifies the payload of an Envelope.
type MessageType string

const (
	// server -> client
	TypePresence MessageType = "PRESENCE"
	TypeSession  MessageType = "SESSION"
	TypeMessage  MessageType = "MESSAGE"
	TypeConfirm  MessageType = "CONFIRM"
	TypeError    MessageType = "ERROR"

	TypeTokenUpdate MessageType = "TOKEN_UPDATE"

	// client -> server
	TypeText        MessageType = "TEXT"
	TypeSearchStart MessageType = "SEARCH_START"
	TypeSearchStop  MessageType = "SEARCH_STOP"
	TypeNextPartner MessageType = "NEXT_PARTNER"
)

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TempID    string          `json:"tempId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// TextPayload is the payload of an inbound TEXT frame.
type TextPayload struct {
	Content string `json:"content"`
}

// ConfirmPayload acknowledges an inbound TEXT frame that carried a tempId.
type ConfirmPayload struct {
	TempID    string `json:"tempId"`
	MessageID string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// TokenUpdatePayload carries a refreshed identity token.
type TokenUpdatePayload struct {
	Token string `json:"token"`
}

// ErrorPayload reports a failed command back to the client.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope marshals payload into an outbound envelope stamped with the current time.
func NewEnvelope(msgType MessageType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}
