/*
Package main is the entry point for the VibeChat matchmaking server.

It is responsible for loading configuration, initializing the global logging system,
opening the optional session log database, starting the chat Engine, setting up the
HTTP server, and gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vibechat/internal/app/chat"
	"vibechat/internal/app/db"
	"vibechat/internal/configs"
	"vibechat/internal/handler"
	"vibechat/internal/pkg/logx"
	"vibechat/internal/pkg/pow"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	if err := logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("log_level", logx.Logger().GetLevel().String()).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("pow_difficulty", cfg.PowDifficulty).
		Bool("session_log", cfg.DatabaseDSN != "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := chat.OptionsFromConfig(cfg)

	// The session log is optional; without a DSN sessions are not recorded.
	if cfg.DatabaseDSN != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			logx.Fatal(err, "Failed to open session log database")
		}
		defer pool.Close()

		opts.Recorder = db.NewSessionLog(pool)
	}

	engine := chat.NewEngine(opts)
	hub := chat.NewHub()

	limiters := handler.NewLimiters()
	defer limiters.Stop()

	powGate := pow.NewGate(cfg.PowDifficulty)
	defer powGate.Stop()

	deps := &handler.AppDeps{
		Engine: engine,
		Hub:    hub,
		Pow:    powGate,
		Config: cfg,
	}

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Router(deps, limiters),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("VibeChat Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	// hijacked websocket connections are not covered by server.Shutdown
	hub.CloseAll()
	engine.Shutdown()

	logx.Info("Server gracefully stopped.")
}
