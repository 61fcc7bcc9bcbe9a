// Package main provides the knowledge base management CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/talksense-ai/rag-engine/internal/embedding"
	"github.com/talksense-ai/rag-engine/internal/markdown"
	"github.com/talksense-ai/rag-engine/internal/pipeline"
	"github.com/talksense-ai/rag-engine/internal/vectorindex"
)

var rootCmd = &cobra.Command{
	Use:   "talksense-kb",
	Short: "TalkSense knowledge base management tool",
	Long:  "CLI tool for seeding, searching and maintaining the TalkSense vector index",
}

var (
	seedFAQ   bool
	chunkSize int
	topK      int
)

var seedCmd = &cobra.Command{
	Use:   "seed [markdown files...]",
	Short: "Embed documents and add them to the index",
	Long: `Chunks the given markdown files, embeds each chunk and adds it to the index.
With --faq, seeds the built-in support FAQ corpus instead.

Environment variables:
  OPENAI_API_KEY OpenAI API key for embeddings (required)
  DATA_DIR       Snapshot directory for the flat index (default: ./data)
  VECTOR_BACKEND "flat" or "qdrant" (default: flat)
  QDRANT_HOST    Qdrant hostname (default: localhost)
  QDRANT_PORT    Qdrant gRPC port (default: 6334)`,
	RunE: runSeed,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index with a text query",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print index cardinality and dimension",
	RunE:  runStats,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all documents from the index",
	RunE:  runClear,
}

func init() {
	seedCmd.Flags().BoolVar(&seedFAQ, "faq", false, "seed the built-in FAQ corpus")
	seedCmd.Flags().IntVar(&chunkSize, "chunk-size", markdown.DefaultTargetSize, "target chunk size in characters")
	searchCmd.Flags().IntVar(&topK, "top-k", 3, "number of results to return")
	rootCmd.AddCommand(seedCmd, searchCmd, statsCmd, clearCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newEngine wires the embedding client and vector index into an orchestrator.
// KB commands never touch conversations or generation, so those stay nil.
func newEngine() (*pipeline.Orchestrator, func() error, error) {
	client, err := embedding.NewClient()
	if err != nil {
		return nil, nil, fmt.Errorf("create embedding client: %w", err)
	}
	dim := getEnvInt("EMBEDDING_DIM", vectorindex.DefaultDimension)
	embedder := embedding.NewEmbedder(embedding.NewOpenAIBackend(client, ""), dim)

	var index pipeline.VectorStore
	var closeIndex func() error
	if getEnv("VECTOR_BACKEND", "flat") == "qdrant" {
		q, err := vectorindex.NewQdrant(getEnv("QDRANT_HOST", "localhost"), getEnvInt("QDRANT_PORT", 6334), dim)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to Qdrant: %w", err)
		}
		index = q
		closeIndex = q.Close
	} else {
		flat := vectorindex.Open(getEnv("DATA_DIR", "./data"), dim, slog.Default())
		index = flat
		closeIndex = flat.Close
	}

	engine := pipeline.NewOrchestrator(embedder, index, nil, nil, "", slog.Default())
	return engine, closeIndex, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if !seedFAQ && len(args) == 0 {
		return fmt.Errorf("nothing to seed: pass markdown files or --faq")
	}

	engine, closeIndex, err := newEngine()
	if err != nil {
		return err
	}
	defer closeIndex()

	total := 0
	if seedFAQ {
		n, err := engine.Seed(ctx, faqCorpus())
		if err != nil {
			return fmt.Errorf("seed FAQ corpus: %w", err)
		}
		fmt.Printf("Seeded %d FAQ documents\n", n)
		total += n
	}

	chunker := markdown.NewChunker(chunkSize)
	for _, path := range args {
		n, err := engine.SeedMarkdown(ctx, path, chunker)
		if err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		fmt.Printf("Seeded %d chunks from %s\n", n, path)
		total += n
	}

	fmt.Println()
	fmt.Printf("Done: %d documents added\n", total)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, closeIndex, err := newEngine()
	if err != nil {
		return err
	}
	defer closeIndex()

	results, err := engine.SearchText(ctx, args[0], topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No results")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. %s (distance %.4f)\n", i+1, r.ID, r.Distance)
		fmt.Printf("   %s\n", r.Text)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, closeIndex, err := newEngine()
	if err != nil {
		return err
	}
	defer closeIndex()

	stats, err := engine.IndexStats(ctx)
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	fmt.Printf("Documents: %d\n", stats.DocumentCount)
	fmt.Printf("Dimension: %d\n", stats.Dimension)
	fmt.Printf("Index size: %d bytes\n", stats.IndexSize)
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	engine, closeIndex, err := newEngine()
	if err != nil {
		return err
	}
	defer closeIndex()

	if err := engine.ClearIndex(ctx); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	fmt.Println("Index cleared")
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
