// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command concierge starts the Aleutian Commerce concierge API server.
//
// The concierge is an LLM-planned retail sales agent with:
//   - Plan generation, validation, and one-shot governance repair
//   - Deterministic tool execution over a seeded retail catalog
//   - Per-user session memory and personalization in BadgerDB
//   - Execution traces for every turn, queryable by trace id
//   - An admin surface for catalog rows and CSV bulk import
//
// Usage:
//
//	go run ./cmd/concierge
//	go run ./cmd/concierge -port 9000 -debug
//
// With Gemini (default provider):
//
//	GEMINI_API_KEY=... go run ./cmd/concierge
//
// With Ollama (fully local):
//
//	COMMERCE_LLM_PROVIDER=ollama COMMERCE_LLM_MODEL=llama3.1 go run ./cmd/concierge
//
// With API key auth and a rules override file:
//
//	COMMERCE_API_KEY=secret COMMERCE_RULES_FILE=./rules.yaml go run ./cmd/concierge
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8000/v1/health
//
//	# One assist turn
//	curl -X POST http://localhost:8000/v1/assist \
//	  -H "Content-Type: application/json" \
//	  -d '{"user_id": "001", "message": "show me some shirts for men"}'
//
//	# Continue the same conversation
//	curl -X POST http://localhost:8000/v1/assist \
//	  -H "Content-Type: application/json" \
//	  -d '{"user_id": "001", "session_id": "<from previous reply>", "message": "anything cheaper?"}'
//
//	# Inspect the trace behind a reply
//	curl http://localhost:8000/v1/traces/<trace_id> | jq
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianCommerce/services/concierge"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/catalog"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/config"
	"github.com/AleutianAI/AleutianCommerce/services/concierge/session"
	badgerstore "github.com/AleutianAI/AleutianCommerce/services/concierge/storage/badger"
	"github.com/AleutianAI/AleutianCommerce/services/llm"
)

func main() {
	port := flag.Int("port", 0, "Port to listen on (0 = COMMERCE_PORT or 8000)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	// Set Gin mode
	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := setupLogger(*debug)
	slog.SetDefault(logger)

	cfg, err := config.LoadServiceConfig()
	if err != nil {
		slog.Error("Invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}

	ctx := context.Background()

	// Tracer provider: OTLP when OTEL_EXPORTER_OTLP_ENDPOINT is set,
	// stdout otherwise. Also installs the W3C TraceContext propagator
	// so trace context flows in from storefront callers.
	shutdownTelemetry, err := concierge.InitTelemetry(ctx, "concierge")
	if err != nil {
		slog.Error("Failed to initialize telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Catalog rows and session memory live in separate BadgerDB
	// instances so an admin DropAll on one cannot touch the other.
	catalogCfg := badgerstore.DefaultConfig()
	catalogCfg.Path = filepath.Join(cfg.DataDir, "catalog")
	catalogCfg.Logger = logger
	catalogDB, err := badgerstore.OpenDB(catalogCfg)
	if err != nil {
		slog.Error("Failed to open catalog BadgerDB",
			slog.String("path", catalogCfg.Path),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	sessionCfg := badgerstore.DefaultConfig()
	sessionCfg.Path = filepath.Join(cfg.DataDir, "sessions")
	sessionCfg.Logger = logger
	sessionDB, err := badgerstore.OpenDB(sessionCfg)
	if err != nil {
		slog.Error("Failed to open session BadgerDB",
			slog.String("path", sessionCfg.Path),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	catalogStore, err := catalog.NewStore(catalogDB, logger)
	if err != nil {
		slog.Error("Failed to build catalog store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := catalogStore.EnsureSeeded(ctx); err != nil {
		slog.Error("Failed to seed catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sessionStore, err := session.NewStore(sessionDB, logger)
	if err != nil {
		slog.Error("Failed to build session store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// With a rules file, the watcher keeps the cached document fresh
	// and the service re-reads it per request, so edits land without a
	// restart. Without one, the embedded defaults are pinned for the
	// life of the process.
	var rulesSource func(context.Context) (*config.CommerceRules, error)
	if cfg.RulesFile != "" {
		if err := config.WatchRules(ctx, cfg.RulesFile, logger); err != nil {
			slog.Error("Failed to load rules file",
				slog.String("path", cfg.RulesFile),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		rulesSource = config.GetCommerceRules
	}
	rules, err := config.GetCommerceRules(ctx)
	if err != nil {
		slog.Error("Failed to load commerce rules", slog.String("error", err.Error()))
		os.Exit(1)
	}

	client, err := llm.New(cfg.Provider, cfg.Model)
	if err != nil {
		slog.Error("Failed to build LLM client",
			slog.String("provider", cfg.Provider),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	slog.Info("LLM client ready",
		slog.String("provider", cfg.Provider),
		slog.String("model", client.ModelName()),
	)

	service, err := concierge.NewService(concierge.ServiceDeps{
		Config:      cfg,
		Rules:       rules,
		Catalog:     catalogStore,
		Sessions:    sessionStore,
		LLM:         client,
		Logger:      logger,
		RulesSource: rulesSource,
	})
	if err != nil {
		slog.Error("Failed to wire concierge service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handlers := concierge.NewHandlers(service)
	// The key source re-reads the env var on a short TTL, so rotating
	// COMMERCE_API_KEY does not require a restart.
	keySource := concierge.NewEnvKeySource("COMMERCE_API_KEY", 30*time.Second)
	router := concierge.NewRouter(handlers, keySource)

	printBanner(cfg.Port, cfg.Provider, client.ModelName(), cfg.APIKey != "")

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		<-quit
		slog.Info("Shutting down concierge server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown did not complete cleanly", slog.String("error", err.Error()))
		}
		close(drained)
	}()

	slog.Info("Starting concierge server", slog.String("address", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
	<-drained

	// In-flight turns are done; now the stores can go.
	if err := sessionDB.Close(); err != nil {
		slog.Warn("Failed to close session BadgerDB", slog.String("error", err.Error()))
	}
	if err := catalogDB.Close(); err != nil {
		slog.Warn("Failed to close catalog BadgerDB", slog.String("error", err.Error()))
	}
	if err := shutdownTelemetry(context.Background()); err != nil {
		slog.Warn("Failed to flush telemetry", slog.String("error", err.Error()))
	}
	slog.Info("Concierge stopped")
}

// setupLogger picks the slog handler for the process: human-readable
// text on a terminal, JSON when output is captured.
func setupLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func printBanner(port int, provider, model string, authEnabled bool) {
	auth := "DISABLED (set COMMERCE_API_KEY to enable)"
	if authEnabled {
		auth = "ENABLED (X-API-Key header required)"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                   ALEUTIAN COMMERCE CONCIERGE                     ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  LLM-planned retail sales agent with governed plan execution.     ║
║  Planner: %-52s ║
║  Auth:    %-52s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/health                     │  ║
║  │                                                             │  ║
║  │ # One assist turn                                           │  ║
║  │ curl -X POST http://localhost:%d/v1/assist \           │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"user_id": "001", "message": "show me shirts"}'      │  ║
║  │                                                             │  ║
║  │ # Dispatchable tools                                        │  ║
║  │ curl http://localhost:%d/v1/tools | jq                 │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Assist: POST /v1/assist, GET /v1/assist/stream (ws)         ║
║  ├── Data:   /v1/tools, /v1/sessions, /v1/traces, profiles       ║
║  ├── Admin:  /admin/users|products|inventory|orders|upload-csv   ║
║  └── Ops:    /v1/health, /v1/ready, /metrics                     ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, provider+" / "+model, auth, port, port, port)
}
