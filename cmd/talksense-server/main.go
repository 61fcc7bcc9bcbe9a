// Package main provides the TalkSense RAG engine HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/talksense-ai/rag-engine/internal/api"
	"github.com/talksense-ai/rag-engine/internal/conversation"
	"github.com/talksense-ai/rag-engine/internal/embedding"
	"github.com/talksense-ai/rag-engine/internal/generation"
	"github.com/talksense-ai/rag-engine/internal/pipeline"
	"github.com/talksense-ai/rag-engine/internal/vectorindex"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Configuration from environment
	port := getEnv("PORT", "8080")
	dataDir := getEnv("DATA_DIR", "./data")
	dbPath := getEnv("DB_PATH", "./data/talksense.db")
	vectorBackend := getEnv("VECTOR_BACKEND", "flat")
	dim := getEnvInt("EMBEDDING_DIM", vectorindex.DefaultDimension)
	chatModel := getEnv("CHAT_MODEL", "")

	// Shared OpenAI client for embeddings and generation
	client, err := embedding.NewClient()
	if err != nil {
		logger.Error("failed to create OpenAI client", "error", err)
		os.Exit(1)
	}
	embedder := embedding.NewEmbedder(embedding.NewOpenAIBackend(client, ""), dim)

	genBackend := generation.NewOpenAIBackend(client.Client(), chatModel)
	generator := generation.NewGenerator(genBackend)

	// Vector index: local flat snapshot index by default, Qdrant when configured
	var index pipeline.VectorStore
	var closeIndex func() error
	switch vectorBackend {
	case "qdrant":
		q, err := vectorindex.NewQdrant(
			getEnv("QDRANT_HOST", "localhost"),
			getEnvInt("QDRANT_PORT", 6334),
			dim,
		)
		if err != nil {
			logger.Error("failed to connect to Qdrant", "error", err)
			os.Exit(1)
		}
		index = q
		closeIndex = q.Close
	default:
		flat := vectorindex.Open(dataDir, dim, logger.With("component", "vectorindex"))
		index = flat
		closeIndex = flat.Close
	}
	defer func() {
		if err := closeIndex(); err != nil {
			logger.Warn("closing index failed", "error", err)
		}
	}()

	// Conversation store
	store, err := conversation.NewStore(dbPath)
	if err != nil {
		logger.Error("failed to open conversation store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := pipeline.NewOrchestrator(embedder, index, store, generator,
		genBackend.Model(), logger.With("component", "pipeline"))

	server := &http.Server{
		Addr:    ":" + port,
		Handler: api.NewServer(engine, store, logger.With("component", "api")).Handler(),
	}

	go func() {
		logger.Info("server listening", "port", port, "vector_backend", vectorBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}

func logLevel() slog.Level {
	if getEnv("LOG_LEVEL", "") == "debug" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// getEnv returns an environment variable value or a default.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvInt returns an environment variable as int or a default.
func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
