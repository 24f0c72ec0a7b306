// Package observability provides formatted output for the CLI commands.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/entity"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/search"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// snippetWidth bounds chunk text shown per search result
	snippetWidth = 50
)

// Printer writes human-readable summaries.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len([]rune(line)) > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintSyncStates outputs one line per pipeline.
func (p *Printer) PrintSyncStates(states []pipeline.SyncState) {
	if len(states) == 0 {
		p.printBox("PIPELINES", "No pipeline has run yet")
		return
	}

	var sb strings.Builder
	for _, s := range states {
		last := "never"
		if s.LastSyncAt != nil {
			last = s.LastSyncAt.UTC().Format("2006-01-02 15:04")
		}
		sb.WriteString(fmt.Sprintf("%-20s %-9s %7d  %s\n", s.PipelineName, s.Status, s.RecordsProcessed, last))
		if s.LastError != "" && s.Status == pipeline.StatusError {
			sb.WriteString(fmt.Sprintf("  ⚠ %s\n", s.LastError))
		}
	}
	p.printBox("PIPELINES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBudget outputs the breaker state and spend against the limit.
func (p *Printer) PrintBudget(status *cost.Status) {
	if status == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("State:      %s\n", strings.ToUpper(status.State.String())))
	sb.WriteString(fmt.Sprintf("Spend:      $%s of $%s (%.1f%%)\n",
		status.CurrentSpend.StringFixed(2), status.BudgetLimit.StringFixed(2), status.PercentUsed*100))
	sb.WriteString(fmt.Sprintf("Remaining:  $%s\n", status.Remaining.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("Thresholds: warn %.0f%%, halt %.0f%%", status.WarningThreshold*100, status.HaltThreshold*100))
	p.printBox("BUDGET", sb.String())
}

// PrintRecommendations outputs budget advice as a bulleted list.
func (p *Printer) PrintRecommendations(recs []string) {
	if len(recs) == 0 {
		return
	}
	var sb strings.Builder
	for _, r := range recs {
		sb.WriteString(fmt.Sprintf("• %s\n", r))
	}
	p.printBox("RECOMMENDATIONS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintMonthlySummary outputs spend per service, most expensive first.
func (p *Printer) PrintMonthlySummary(summary *cost.MonthlySummary) {
	if summary == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Month:    %s\n", summary.Month.Format("2006-01")))
	sb.WriteString(fmt.Sprintf("Total:    $%s (%d requests)\n", summary.TotalCost.StringFixed(4), summary.RequestCount))

	services := make([]string, 0, len(summary.Services))
	for name := range summary.Services {
		services = append(services, name)
	}
	sort.Slice(services, func(i, j int) bool {
		return summary.Services[services[i]].GreaterThan(summary.Services[services[j]])
	})
	if len(services) > 0 {
		sb.WriteString("\n")
	}
	for _, name := range services {
		sb.WriteString(fmt.Sprintf("  • %-16s $%s\n", name, summary.Services[name].StringFixed(4)))
	}
	p.printBox("MONTHLY COSTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintDailyCosts outputs per-day totals.
func (p *Printer) PrintDailyCosts(days []cost.DailyCost) {
	if len(days) == 0 {
		return
	}

	var sb strings.Builder
	for _, d := range days {
		sb.WriteString(fmt.Sprintf("%s  $%s\n", d.Day.Format(time.DateOnly), d.Cost.StringFixed(4)))
	}
	p.printBox("DAILY COSTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRunStats outputs the counters of a finished pipeline run.
func (p *Printer) PrintRunStats(stats *pipeline.Stats) {
	if stats == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status:      %s\n", stats.Status))
	sb.WriteString(fmt.Sprintf("Batches:     %d\n", stats.BatchesProcessed))
	sb.WriteString(fmt.Sprintf("Fetched:     %d\n", stats.Fetched))
	sb.WriteString(fmt.Sprintf("Transformed: %d\n", stats.Transformed))
	sb.WriteString(fmt.Sprintf("Upserted:    %d\n", stats.Upserted))
	sb.WriteString(fmt.Sprintf("Skipped:     %d\n", stats.Skipped))
	sb.WriteString(fmt.Sprintf("Errors:      %d\n", stats.Errors))
	sb.WriteString(fmt.Sprintf("Duration:    %s", stats.Duration().Round(time.Millisecond)))
	if stats.LastError != "" {
		sb.WriteString(fmt.Sprintf("\n⚠ %s", stats.LastError))
	}
	p.printBox(strings.ToUpper(stats.Pipeline), sb.String())
}

// PrintSearchResults outputs ranked chunks with their scores.
func (p *Printer) PrintSearchResults(resp *search.Response) {
	if resp == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d results in %dms (%s)\n", resp.TotalCount, resp.LatencyMS, resp.Type))
	for i, r := range resp.Results {
		sb.WriteString(fmt.Sprintf("\n%d. [%.4f] %s.%s #%d\n", i+1, r.Score, r.SourceSchema, r.SourceTable, r.ChunkIndex))
		text := strings.Join(strings.Fields(r.ChunkText), " ")
		if len([]rune(text)) > snippetWidth {
			text = string([]rune(text)[:snippetWidth-3]) + "..."
		}
		sb.WriteString(fmt.Sprintf("   %s\n", text))
	}
	p.printBox(fmt.Sprintf("SEARCH: %s", resp.Query), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintMatches outputs entity name candidates.
func (p *Printer) PrintMatches(name string, matches []entity.Match) {
	if len(matches) == 0 {
		p.printBox("MATCHES: "+name, "No candidates above threshold")
		return
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(fmt.Sprintf("%.2f  %s (%s)\n", m.Similarity, m.CanonicalName, m.EntityType))
		sb.WriteString(fmt.Sprintf("      %s\n", m.CanonicalID))
		for _, id := range m.Identifiers {
			sb.WriteString(fmt.Sprintf("      • %s=%s\n", id.Type, id.Value))
		}
	}
	p.printBox("MATCHES: "+name, strings.TrimSuffix(sb.String(), "\n"))
}
