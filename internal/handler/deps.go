package handler

import (
	"vibechat/internal/app/chat"
	"vibechat/internal/configs"
	"vibechat/internal/pkg/auth/jwt"
	"vibechat/internal/pkg/pow"
)

type AppDeps struct {
	Engine *chat.Engine
	Hub    *chat.Hub
	Pow    *pow.Gate
	Config *configs.AppConfig
}

// authorize binds token checks to the engine's current holder of the user ID.
func authorize(deps *AppDeps) jwt.Verifier {
	return func(p *jwt.Payload) error {
		return deps.Engine.Authorize(p.ID, p.JoinID)
	}
}
