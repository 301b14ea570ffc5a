/*
Package chat contains the presence, matchmaking and message-relay engine.

This file defines the events pushed to subscribers of presence and session updates.
*/
package chat

import (
	"vibechat/internal/app/user"
	"vibechat/internal/pkg/errs"
)

// PresenceKind tells what changed in a PresenceEvent.
type PresenceKind string

const (
	// PresenceSnapshot is the first event of every presence subscription.
	PresenceSnapshot PresenceKind = "snapshot"

	// UserJoined is published after a user came online.
	UserJoined PresenceKind = "user_joined"

	// UserLeft is published after a user was removed, explicitly or by the stale sweep.
	UserLeft PresenceKind = "user_left"
)

// PresenceEvent carries the online count after the change it describes.
type PresenceEvent struct {
	Kind        PresenceKind `json:"event"`
	OnlineCount int          `json:"onlineCount"`
	User        *user.User   `json:"user,omitempty"`
}

// Notice is a non-fatal condition reported on a session stream.
type Notice struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func noticeFrom(err *errs.CustomError) *Notice {
	return &Notice{Code: err.Code, Message: err.Message}
}

// SessionEvent describes a user's matchmaking state. Partner and SessionID are set only while Paired.
type SessionEvent struct {
	State     user.State  `json:"state"`
	Partner   *user.User  `json:"partner,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Reason    CloseReason `json:"reason,omitempty"`
	Notice    *Notice     `json:"notice,omitempty"`
}
