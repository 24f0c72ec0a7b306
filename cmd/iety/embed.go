package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/chunking"
	"github.com/jonathan/iety/internal/db"
	"github.com/jonathan/iety/internal/embedding"
	"github.com/jonathan/iety/internal/observability"
)

var embedCmd = &cobra.Command{
	Use:   "embed <schema> <table> <source-id> <file>",
	Short: "Chunk, embed and store a document",
	Long: `Chunks the text in <file>, embeds each chunk and stores it against the given
source row. With --pending, embeds ingested rows that have no embeddings yet from
the named schema.table targets (default: all of them).

Every provider call is checked against the budget breaker and logged to the cost
ledger. A budget halt stops the run.`,
	RunE: runEmbed,
}

var (
	embedPending   bool
	embedLimit     int
	embedStrategy  string
	embedMaxTokens int
	embedOverlap   int
)

func init() {
	embedCmd.Flags().BoolVar(&embedPending, "pending", false, "Embed ingested rows that have no embeddings yet")
	embedCmd.Flags().IntVar(&embedLimit, "limit", 100, "Maximum documents per table with --pending")
	embedCmd.Flags().StringVar(&embedStrategy, "strategy", chunking.StrategyToken, "Chunking strategy: token or sentence")
	embedCmd.Flags().IntVar(&embedMaxTokens, "max-tokens", chunking.DefaultMaxTokens, "Maximum tokens per chunk")
	embedCmd.Flags().IntVar(&embedOverlap, "overlap", chunking.DefaultOverlapTokens, "Overlap between chunks (tokens, or sentences for the sentence strategy)")
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if embedPending {
		if err := checkTargets(args); err != nil {
			return err
		}
	} else if len(args) != 4 {
		return fmt.Errorf("expected <schema> <table> <source-id> <file>, or --pending")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	overlap := embedOverlap
	if embedStrategy == chunking.StrategySentence && !cmd.Flags().Changed("overlap") {
		overlap = chunking.DefaultOverlapSentences
	}
	svc, closeProvider, err := a.embeddingService(ctx, embedStrategy, embedMaxTokens, overlap)
	if err != nil {
		return err
	}
	defer closeProvider()

	if embedPending {
		err = a.embedPending(ctx, svc, args)
	} else {
		err = embedFile(ctx, svc, args[0], args[1], args[2], args[3])
	}
	if err != nil {
		return err
	}

	status, err := a.breaker.Status(ctx)
	if err != nil {
		return err
	}
	observability.NewPrinter(os.Stdout).PrintBudget(status)
	return nil
}

// checkTargets rejects schema.table names that have no document query.
func checkTargets(targets []string) error {
	known := db.DocumentTargets()
	for _, t := range targets {
		if !slices.Contains(known, t) {
			return fmt.Errorf("unknown target %q (available: %s)", t, strings.Join(known, ", "))
		}
	}
	return nil
}

func embedFile(ctx context.Context, svc *embedding.Service, schema, table, rawID, path string) error {
	sourceID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid source id: %w", err)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	ids, err := svc.EmbedAndStore(ctx, string(text), sourceID, schema, table)
	if err != nil {
		return err
	}
	fmt.Printf("Stored %d chunks for %s.%s %s\n", len(ids), schema, table, sourceID)
	return nil
}

func (a *app) embedPending(ctx context.Context, svc *embedding.Service, targets []string) error {
	if len(targets) == 0 {
		targets = db.DocumentTargets()
	}
	for _, target := range targets {
		items, err := a.db.PendingDocuments(ctx, target, embedLimit)
		if err != nil {
			return err
		}
		stored, err := svc.BatchEmbedAndStore(ctx, items)
		a.logger.Info("embedded documents",
			zap.String("target", target),
			zap.Int("documents", len(items)),
			zap.Int("chunks", stored),
		)
		fmt.Printf("%-24s %5d documents  %6d chunks\n", target, len(items), stored)
		if err != nil {
			return fmt.Errorf("%s: %w", target, err)
		}
	}
	return nil
}

// embeddingService wires the configured provider behind the budget breaker,
// cost ledger and rate limiter. The returned func closes the provider.
func (a *app) embeddingService(ctx context.Context, strategy string, maxTokens, overlap int) (*embedding.Service, func(), error) {
	tok, err := chunking.NewTiktokenTokenizer("")
	if err != nil {
		return nil, nil, err
	}
	chunker, err := chunking.New(strategy, tok, maxTokens, overlap)
	if err != nil {
		return nil, nil, err
	}

	cfg := a.cfg.EmbeddingConfig()
	provider, err := embedding.NewProvider(ctx, cfg, func(text string) int {
		return len(tok.Encode(text))
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	svc, err := embedding.NewService(embedding.ServiceConfig{
		Provider:   provider,
		Store:      a.db,
		Budget:     a.breaker,
		Costs:      a.tracker,
		Limiter:    a.limiter,
		Chunker:    chunker,
		Dimensions: cfg.Dimensions,
		Logger:     a.logger,
	})
	if err != nil {
		_ = provider.Close()
		return nil, nil, err
	}
	return svc, func() { _ = provider.Close() }, nil
}
