/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, validating
the identity token, upgrading the HTTP connection to WebSocket, and initiating the client lifecycle.
*/
package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"vibechat/internal/app/chat"
	"vibechat/internal/pkg/auth/jwt"
	"vibechat/internal/pkg/errs"
	"vibechat/internal/pkg/limiter"
	"vibechat/internal/pkg/logx"
	"vibechat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// The token comes from the "token" query parameter since browsers cannot set headers on upgrades.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", limiter.ClientIP(r))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		identity := jwt.GetPayloadFromContext(r)
		if identity == nil {
			logx.Warn("WebSocket request rejected: Missing or invalid token")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		if err := deps.Engine.Authorize(identity.ID, identity.JoinID); err != nil {
			logx.Info("WebSocket connection rejected: Token does not match an online user.", "user_id", identity.ID)
			resp.RespondErr(w, r, err)
			return
		}

		logx.Debug("Attempting to upgrade connection", "user_id", identity.ID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		expiry := time.Unix(identity.ExpiresAt, 0)
		client := chat.NewClient(deps.Engine, deps.Hub, conn, identity.ID, identity.JoinID, deps.Config.JWTSecret, expiry)

		if err := client.Start(); err != nil {
			logx.Warn("WebSocket client could not start", "user_id", identity.ID, "error", err.Error())
			closeMessage := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, errs.From(err).Message)
			_ = conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}

		logx.Info("WebSocket connection established and client registered", "client_id", identity.ID)

		client.ReadPump()
	}
}
