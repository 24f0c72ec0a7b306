package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/iety/internal/chunking"
	"github.com/jonathan/iety/internal/entity"
	"github.com/jonathan/iety/internal/search"
	"github.com/jonathan/iety/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only HTTP API",
	Long: `Starts an HTTP API exposing /status, /cost, /search, /entities/match,
/entities/by-identifier and /metrics. Stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, closeProvider, err := a.embeddingService(ctx, chunking.StrategyToken, chunking.DefaultMaxTokens, chunking.DefaultOverlapTokens)
	if err != nil {
		return err
	}
	defer closeProvider()

	srv, err := server.New(server.Config{
		Addr:       serveAddr,
		SyncStates: a.db,
		Budget:     a.breaker,
		Costs:      a.tracker,
		Search:     search.New(a.db, svc, search.WithLogger(a.logger)),
		Entities:   entity.NewResolver(a.db, entity.DefaultMatchThreshold, a.logger),
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}
