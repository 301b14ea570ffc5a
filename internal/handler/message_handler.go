/*
Package handler provides HTTP handler functions for chat messages and presence.
*/
package handler

import (
	"net/http"

	"vibechat/internal/pkg/auth/jwt"
	"vibechat/internal/pkg/req"
	"vibechat/internal/pkg/resp"
)

type SendMessageInput struct {
	Text string `json:"text"`
}

// HandleSendMessage relays text to the caller's current partner.
func HandleSendMessage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		var input SendMessageInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		msg, err := deps.Engine.SendMessage(identity.ID, input.Text)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, msg)
	}
}

// HandleGetMessages returns the history of the caller's current session.
func HandleGetMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		current, err := deps.Engine.CurrentSession(identity.ID)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		sessionID := r.URL.Query().Get("sessionId")
		if sessionID == "" {
			sessionID = current.SessionID
		}
		if sessionID == "" {
			resp.RespondSuccess(w, r, map[string]any{"messages": []any{}})
			return
		}

		messages, err := deps.Engine.History(sessionID, identity.ID)
		if err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"messages": messages})
	}
}

// HandlePresence returns the online count.
func HandlePresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := map[string]int{
			"onlineCount": deps.Engine.OnlineCount(),
		}
		resp.RespondSuccess(w, r, data)
	}
}
