package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/iety/internal/chunking"
	"github.com/jonathan/iety/internal/observability"
	"github.com/jonathan/iety/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search embedded documents",
	Long: `Searches document chunks by vector similarity, trigram keyword similarity,
or both fused with reciprocal rank fusion (the default).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var (
	searchType   string
	searchLimit  int
	searchSchema string
	searchTable  string
	searchJSON   bool
)

func init() {
	searchCmd.Flags().StringVarP(&searchType, "type", "t", string(search.TypeHybrid), "Search type: vector, keyword or hybrid")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", search.DefaultLimit, "Maximum results")
	searchCmd.Flags().StringVarP(&searchSchema, "schema", "s", "", "Only search chunks from this source schema")
	searchCmd.Flags().StringVar(&searchTable, "table", "", "Only search chunks from this source table")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Print the response as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := search.ParseType(searchType)
	if err != nil {
		return err
	}

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

	engine := search.New(a.db, svc, search.WithLogger(a.logger))
	resp, err := engine.Search(ctx, search.Request{
		Query:  strings.Join(args, " "),
		Limit:  searchLimit,
		Type:   st,
		Schema: searchSchema,
		Table:  searchTable,
	})
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	observability.NewPrinter(os.Stdout).PrintSearchResults(resp)
	return nil
}
