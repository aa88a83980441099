// Package cmd provides CLI commands for modsift.
//
// Commands:
//   - ingest: embed a labeled dataset and build the local store or load the
//     warehouse
//   - search: retrieve the nearest labeled examples for a text
//   - migrate: apply warehouse schema migrations
//
// Commands are thin orchestration: they wire configuration, the embedding
// provider, and the retrieval core together. Signal handling uses context
// cancellation for graceful shutdown.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/modsift/modsift/internal/config"
	"github.com/modsift/modsift/internal/embed"
	"github.com/modsift/modsift/internal/log"
)

// Execute is the main entry point for the modsift CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "ingest":
		return runIngest(os.Args[2:])
	case "search":
		return runSearch(os.Args[2:])
	case "migrate":
		return runMigrate(os.Args[2:])
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("modsift - RAG retrieval for text moderation")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  modsift ingest -dataset <path> [flags]   Embed a labeled dataset and build the store")
	fmt.Println("  modsift search [flags] <text>            Retrieve nearest labeled examples")
	fmt.Println("  modsift migrate                          Apply warehouse schema migrations")
	fmt.Println("  modsift --version                        Show version information")
	fmt.Println("  modsift --help                           Show this help")
	fmt.Println()
	fmt.Println("Configuration: ~/.modsift/config.yaml or ./config.yaml; env overrides")
	fmt.Println("(MODSIFT_BACKEND, MODSIFT_STORE_PATH, DATABASE_URL, GEMINI_API_KEY).")
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newProvider builds the embedding provider from configuration: the Genkit
// Google AI embedder, rate-limited per config, wrapped in the Redis cache
// when a cache address is configured.
func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (embed.Provider, error) {
	base, err := embed.InitGoogleAI(ctx, embed.Config{
		Model:             cfg.EmbedderModel,
		Dimension:         cfg.EmbeddingDimension,
		RequestsPerSecond: cfg.EmbedRPS,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	if cfg.RedisAddr == "" {
		return base, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	cached, err := embed.NewCache(base, client, cfg.EmbedderModel, 0, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing embedding cache: %w", err)
	}
	logger.Debug("embedding cache enabled", "addr", cfg.RedisAddr)
	return cached, nil
}
