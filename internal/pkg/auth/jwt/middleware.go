package jwt

import (
	"context"
	"net/http"
	"strings"

	"vibechat/internal/pkg/errs"
	"vibechat/internal/pkg/logx"
	"vibechat/internal/pkg/resp"
)

type contextKey string

const (
	// ContextAuthPayloadKey is the key used to store the parsed Payload in the request Context.
	ContextAuthPayloadKey contextKey = "auth_payload"

	// QueryTokenKey is the query parameter browsers use to pass the token on websocket upgrades,
	// where custom headers cannot be set.
	QueryTokenKey = "token"
)

// tokenFromRequest reads "Authorization: Bearer <token>", falling back to the token query parameter.
func tokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	return r.URL.Query().Get(QueryTokenKey)
}

// IdentityExtractorMiddleware attempts to extract and validate a token from the request.
// It injects the Payload into the Context upon success. It does NOT interrupt the request
// on failure or missing token, treating the caller as anonymous instead.
func IdentityExtractorMiddleware(secretKey string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			payload, err := ParseToken(tokenString, secretKey)
			if err != nil {
				logx.Warn("Invalid or expired token provided, treating as anonymous", "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Verifier decides whether a well-formed token still identifies a live user.
type Verifier func(*Payload) error

// RequireIdentity rejects requests that reached it without a valid identity in the Context,
// or whose identity verify refuses. It must run after IdentityExtractorMiddleware.
func RequireIdentity(verify Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			payload := GetPayloadFromContext(r)
			if payload == nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			if err := verify(payload); err != nil {
				logx.Info("Token rejected for current identity", "user_id", payload.ID, "error", err.Error())
				resp.RespondError(w, r, errs.From(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetPayloadFromContext safely extracts the authenticated Payload from the request Context.
// A nil return means the caller is anonymous.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)

	if !ok {
		return nil
	}

	return payload
}
