/*
Package handler provides HTTP handler functions for joining, leaving and keeping a presence alive.
*/
package handler

import (
	"net/http"

	"vibechat/internal/app/user"
	"vibechat/internal/pkg/auth/jwt"
	"vibechat/internal/pkg/errs"
	"vibechat/internal/pkg/logx"
	"vibechat/internal/pkg/req"
	"vibechat/internal/pkg/resp"
)

type JoinInput struct {
	Nickname string `json:"nickname"`
	// UserID lets a reconnecting client ask for its previous identity. Optional.
	UserID string `json:"userId,omitempty"`
}

type JoinOutput struct {
	User  user.User `json:"user"`
	Token string    `json:"token"`
}

// HandleJoin brings the caller online and issues the identity token used by every other route.
func HandleJoin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input JoinInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		var (
			u   user.User
			err error
		)
		if input.UserID != "" {
			u, err = deps.Engine.JoinWithID(input.UserID, input.Nickname)
		} else {
			u, err = deps.Engine.Join(input.Nickname)
		}
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		payload := &jwt.Payload{
			ID:       u.ID,
			JoinID:   u.JoinID,
			Nickname: u.Nickname,
		}

		token, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.SessionIdentityExpiration)
		if err != nil {
			logx.Error(err, "Failed to generate identity token", "user_id", u.ID)

			if leaveErr := deps.Engine.Leave(u.ID); leaveErr != nil {
				logx.Error(leaveErr, "Failed to roll back join", "user_id", u.ID)
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, JoinOutput{User: u, Token: token})
	}
}

// HandleLeave takes the caller offline, ending its session if paired.
func HandleLeave(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		if err := deps.Engine.Leave(identity.ID); err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, nil)
	}
}

// HandleHeartbeat refreshes the caller's presence for clients that are not connected over websocket.
func HandleHeartbeat(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		if err := deps.Engine.Heartbeat(identity.ID); err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, nil)
	}
}

// HandleGetSession returns the caller's state, partner and session id.
func HandleGetSession(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		current, err := deps.Engine.CurrentSession(identity.ID)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, current)
	}
}
