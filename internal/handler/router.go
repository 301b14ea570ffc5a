/*
Package handler provides the HTTP handlers and routing setup for the VibeChat server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"vibechat/internal/pkg/auth/jwt"
	"vibechat/internal/pkg/limiter"
	"vibechat/internal/pkg/logx"
	"vibechat/internal/pkg/resp"
)

const (
	JoinRate      = 0.2
	JoinBurst     = 5
	WsConnectRate = 0.5
	WsBurst       = 5
)

// Limiters holds the per-IP limiters used by the router so the caller can stop their cleanup loops.
type Limiters struct {
	Join *limiter.IPRateLimiter
	WS   *limiter.IPRateLimiter
}

// NewLimiters creates the router's per-IP limiters.
func NewLimiters() *Limiters {
	return &Limiters{
		Join: limiter.NewIPRateLimiter(rate.Limit(JoinRate), JoinBurst),
		WS:   limiter.NewIPRateLimiter(rate.Limit(WsConnectRate), WsBurst),
	}
}

// Stop ends the limiters' cleanup goroutines.
func (l *Limiters) Stop() {
	l.Join.Stop()
	l.WS.Stop()
}

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It configures CORS and applies global and per-route middleware.
func Router(deps *AppDeps, limiters *Limiters) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":         "ok",
			"service":        "VibeChat Server",
			"onlineCount":    deps.Engine.OnlineCount(),
			"activeSessions": deps.Engine.ActiveSessions(),
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.Route("/pow", func(p chi.Router) {
			p.Use(limiters.Join.Middleware)
			p.Get("/challenge", HandlePowChallenge(deps))
			p.Post("/verify", HandlePowVerify(deps))
		})

		api.Get("/presence", HandlePresence(deps))

		api.Route("/session", func(session chi.Router) {
			session.With(limiters.Join.Middleware, deps.Pow.Middleware).Post("/join", HandleJoin(deps))

			session.Group(func(authed chi.Router) {
				authed.Use(jwt.RequireIdentity(authorize(deps)))

				authed.Get("/", HandleGetSession(deps))
				authed.Post("/leave", HandleLeave(deps))
				authed.Post("/heartbeat", HandleHeartbeat(deps))
			})
		})

		api.Group(func(authed chi.Router) {
			authed.Use(jwt.RequireIdentity(authorize(deps)))

			authed.Route("/search", func(search chi.Router) {
				search.Post("/start", HandleStartSearch(deps))
				search.Post("/stop", HandleStopSearch(deps))
				search.Post("/next", HandleNextPartner(deps))
			})

			authed.Post("/messages", HandleSendMessage(deps))
			authed.Get("/messages", HandleGetMessages(deps))
		})
	})

	r.With(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret)).
		Get("/ws", HandleWebSocket(wsUpgrader, limiters.WS, deps))

	return r
}
