/*
Package handler provides HTTP handler functions for the proof-of-work challenge in front of joining.
*/
package handler

import (
	"net/http"

	"vibechat/internal/pkg/req"
	"vibechat/internal/pkg/resp"
)

type PowVerifyInput struct {
	Nonce   string `json:"nonce"`
	Counter string `json:"counter"`
}

// HandlePowChallenge issues a challenge. With the gate disabled the difficulty is 0 and
// clients may skip straight to joining.
func HandlePowChallenge(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Pow.NewChallenge())
	}
}

// HandlePowVerify trades a solved challenge for a single-use Proof Token.
func HandlePowVerify(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input PowVerifyInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		token, customErr := deps.Pow.Verify(input.Nonce, input.Counter)
		if customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		resp.RespondSuccess(w, r, map[string]string{"powToken": token})
	}
}
