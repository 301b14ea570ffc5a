/*
Package handler provides HTTP handler functions for matchmaking.
*/
package handler

import (
	"net/http"

	"vibechat/internal/pkg/auth/jwt"
	"vibechat/internal/pkg/resp"
)

// HandleStartSearch puts the caller into the matchmaking pool. The match itself arrives on the websocket.
func HandleStartSearch(deps *AppDeps) http.HandlerFunc {
	return searchAction(deps.Engine.StartSearch)
}

// HandleStopSearch takes the caller out of the matchmaking pool.
func HandleStopSearch(deps *AppDeps) http.HandlerFunc {
	return searchAction(deps.Engine.StopSearch)
}

// HandleNextPartner ends the caller's session and searches again for both participants.
func HandleNextPartner(deps *AppDeps) http.HandlerFunc {
	return searchAction(deps.Engine.RequestNewPartner)
}

func searchAction(action func(userID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := jwt.GetPayloadFromContext(r)

		if err := action(identity.ID); err != nil {
			resp.RespondErr(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, nil)
	}
}
