//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pgEdge/pgedge-chat-server/internal/auth"
	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/database"
	"github.com/pgEdge/pgedge-chat-server/internal/llm/factory"
	"github.com/pgEdge/pgedge-chat-server/internal/rag"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
	"github.com/pgEdge/pgedge-chat-server/internal/server"
	"github.com/pgEdge/pgedge-chat-server/internal/store"
	"github.com/pgEdge/pgedge-chat-server/internal/telemetry"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-alpha1"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help message")
		showOpenAPI = flag.Bool("openapi", false, "Output OpenAPI specification and exit")
		configPath  = flag.String("config", "", "Path to configuration file")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `pgEdge Chat Server - chat with models and brains

Usage:
    pgedge-chat-server [options]

Options:
    -config string
        Path to configuration file. If not specified, searches:
        1. /etc/pgedge/pgedge-chat-server.yaml
        2. pgedge-chat-server.yaml (in binary directory)

    -openapi
        Output OpenAPI v3 specification as JSON and exit

    -version
        Show version information and exit

    -help
        Show this help message and exit

Environment:
    RAG_CONFIG_PATH        Retrieval configuration for brain questions
    CHAT_LLM_CONFIG_PATH   Retrieval configuration for direct model chat
`)
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("pgEdge Chat Server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Build Time: %s\n", buildTime)
		fmt.Printf("  Git Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	if *showOpenAPI {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(server.BuildOpenAPISpec()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode OpenAPI spec: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// parseLogLevel maps a configured level name onto a slog level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	if err := db.SeedCatalog(ctx, cfg.Catalog); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	logger.Info("store ready",
		"driver", cfg.Database.Driver,
		"models", len(cfg.Catalog.Models),
		"brains", len(cfg.Catalog.Brains))

	providers := factory.New(config.NewAPIKeyLoader(cfg.APIKeys))

	retriever, closeRetriever, err := newRetriever(ctx, cfg, providers, logger)
	if err != nil {
		return err
	}
	defer closeRetriever()

	var emitter telemetry.Emitter
	if cfg.Telemetry.Enabled {
		httpEmitter := telemetry.NewHTTPEmitter(cfg.Telemetry.Endpoint,
			time.Duration(cfg.Telemetry.Timeout)*time.Second, logger)
		defer httpEmitter.Wait()
		emitter = httpEmitter
	} else {
		emitter = telemetry.NewLogEmitter(logger)
	}

	orchestrator := chat.NewOrchestrator(chat.OrchestratorConfig{
		Chats:        db,
		Models:       db,
		Brains:       db,
		Authorizer:   chat.NewAuthorizationGate(db),
		Usage:        chat.NewUsageGate(db, db, cfg.Usage, logger),
		Config:       retrieval.NewResolver(retrieval.NewEnvSource(cfg.Retrieval.ConfigDir), logger),
		Generator:    rag.NewGenerator(providers, retriever, logger),
		Telemetry:    emitter,
		DefaultModel: cfg.Defaults.Model,
		Logger:       logger,
	})
	// Streams record their turn after the HTTP server lets go of them;
	// wait for that before the deferred closes above run.
	defer orchestrator.Wait()

	srv := server.New(cfg, server.Dependencies{
		Answers:  orchestrator,
		Chats:    chat.NewService(db, logger),
		Verifier: auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
	}, logger)

	// Handle graceful shutdown
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal", "signal", sig)

		// Give 30 seconds for graceful shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("graceful shutdown timed out, closing open connections",
				"error", err)
			if cerr := srv.Close(); cerr != nil {
				logger.Error("failed to close server", "error", cerr)
			}
			return err
		}
		return nil
	}
}

// newRetriever connects to the knowledge database when retrieval is
// enabled. A nil retriever makes brain questions run without context.
func newRetriever(
	ctx context.Context,
	cfg *config.Config,
	providers *factory.Factory,
	logger *slog.Logger,
) (rag.Retriever, func(), error) {
	if !cfg.Knowledge.Enabled {
		logger.Info("knowledge retrieval disabled")
		return nil, func() {}, nil
	}

	pool, err := database.NewPool(ctx, cfg.Knowledge.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to knowledge database: %w", err)
	}

	embedder, err := providers.NewEmbeddingProvider(ctx, factory.Spec{
		Supplier: cfg.Knowledge.EmbeddingLLM.Provider,
		Model:    cfg.Knowledge.EmbeddingLLM.Model,
	})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	closer := func() {
		if c, ok := embedder.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Error("failed to close embedding provider", "error", err)
			}
		}
		pool.Close()
	}

	logger.Info("knowledge retrieval enabled",
		"table", cfg.Knowledge.Table,
		"embedding_provider", cfg.Knowledge.EmbeddingLLM.Provider)

	return rag.NewVectorRetriever(embedder, pool, cfg.Knowledge, logger), closer, nil
}
