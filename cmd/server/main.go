package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/action"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/config"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/httpserver"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/logging"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/session"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/store"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/ws"
)

func main() {
	logging.Init(os.Getenv("ENVIRONMENT") == "production")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	archive, err := store.NewArchive(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect conversation archive")
	}
	defer func() { _ = archive.Close() }()

	registry := session.NewRegistry()
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	registry.StartSweeper(sweepCtx)
	defer stopSweep()

	dispatcher := action.NewDispatcher(cfg.WebhookURL)
	bridge := action.NewBridge(registry, dispatcher, archive)
	wsHandler := ws.NewHandler(cfg, registry, bridge, archive)

	e := httpserver.New(wsHandler, bridge)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}
