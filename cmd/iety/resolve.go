package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/entity"
	"github.com/jonathan/iety/internal/observability"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve entities across sources",
}

var (
	resolveLimit     int
	matchLimit       int
	recipientUEI     string
	recipientDUNS    string
	recipientSource  string
	resolveType      string
	resolveThreshold float64
)

var resolveRecipientsCmd = &cobra.Command{
	Use:   "recipients",
	Short: "Link award recipients to canonical companies",
	Long: `Maps award recipients that have a UEI or DUNS but no canonical entity yet:
by UEI, then DUNS, then a high-confidence name match, otherwise a new entity.`,
	Args: cobra.NoArgs,
	RunE: runResolveRecipients,
}

var resolveRecipientCmd = &cobra.Command{
	Use:   "recipient <name>",
	Short: "Resolve one award recipient to a canonical company",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolveRecipient,
}

var resolveMatchCmd = &cobra.Command{
	Use:   "match <name>",
	Short: "Suggest canonical entities for a name",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolveMatch,
}

var resolveMergeCmd = &cobra.Command{
	Use:   "merge <primary-id> <secondary-id>",
	Short: "Merge the secondary entity into the primary",
	Args:  cobra.ExactArgs(2),
	RunE:  runResolveMerge,
}

func init() {
	resolveCmd.PersistentFlags().Float64Var(&resolveThreshold, "threshold", entity.DefaultMatchThreshold, "Minimum name similarity for candidates")
	resolveRecipientsCmd.Flags().IntVar(&resolveLimit, "limit", 500, "Maximum recipients to resolve")
	resolveRecipientCmd.Flags().StringVar(&recipientUEI, "uei", "", "Unique Entity Identifier")
	resolveRecipientCmd.Flags().StringVar(&recipientDUNS, "duns", "", "DUNS number")
	resolveRecipientCmd.Flags().StringVar(&recipientSource, "source-id", "", "Award row the recipient was seen in")
	resolveMatchCmd.Flags().StringVar(&resolveType, "type", string(entity.TypeCompany), "Entity type: company, person or organization")
	resolveMatchCmd.Flags().IntVar(&matchLimit, "limit", entity.DefaultMatchLimit, "Maximum candidates")

	resolveCmd.AddCommand(resolveRecipientCmd, resolveRecipientsCmd, resolveMatchCmd, resolveMergeCmd)
	rootCmd.AddCommand(resolveCmd)
}

func runResolveRecipients(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resolver := entity.NewResolver(a.db, resolveThreshold, a.logger)
	recipients, err := a.db.UnresolvedRecipients(ctx, resolveLimit)
	if err != nil {
		return err
	}

	resolved, failed := 0, 0
	for _, r := range recipients {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id, err := resolver.ResolveRecipient(ctx, r.Name, r.UEI, r.DUNS, r.SourceID)
		if err != nil {
			failed++
			a.logger.Warn("failed to resolve recipient", zap.String("name", r.Name), zap.Error(err))
			continue
		}
		resolved++
		a.logger.Debug("resolved recipient", zap.String("name", r.Name), zap.String("canonical_id", id.String()))
	}

	fmt.Printf("Resolved %d of %d recipients (%d failed)\n", resolved, len(recipients), failed)
	return nil
}

func runResolveRecipient(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := strings.Join(args, " ")

	sourceID := uuid.Nil
	if recipientSource != "" {
		id, err := uuid.Parse(recipientSource)
		if err != nil {
			return fmt.Errorf("invalid source id: %w", err)
		}
		sourceID = id
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := entity.NewResolver(a.db, resolveThreshold, a.logger).ResolveRecipient(ctx, name, recipientUEI, recipientDUNS, sourceID)
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", name, id)
	return nil
}

func runResolveMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := strings.Join(args, " ")

	entityType := entity.Type(strings.ToLower(resolveType))
	if _, ok := entity.IdentifierTypes[entityType]; !ok {
		return fmt.Errorf("unknown entity type %q", resolveType)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	matches, err := entity.NewResolver(a.db, resolveThreshold, a.logger).FindMatches(ctx, name, entityType, matchLimit)
	if err != nil {
		return err
	}
	observability.NewPrinter(os.Stdout).PrintMatches(name, matches)
	return nil
}

func runResolveMerge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	primary, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid primary id: %w", err)
	}
	secondary, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid secondary id: %w", err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := entity.NewResolver(a.db, resolveThreshold, a.logger).MergeEntities(ctx, primary, secondary)
	if err != nil {
		return err
	}
	fmt.Printf("Merged %s into %s\n", secondary, id)
	return nil
}
