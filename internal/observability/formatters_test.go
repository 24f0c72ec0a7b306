package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/entity"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/search"
)

func TestPrintSyncStates(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	synced := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.PrintSyncStates([]pipeline.SyncState{
		{PipelineName: "usaspending_awards", Status: pipeline.StatusCompleted, RecordsProcessed: 1200, LastSyncAt: &synced},
		{PipelineName: "sec_companyfacts", Status: pipeline.StatusError, LastError: "status 503"},
	})
	output := buf.String()

	assert.Contains(t, output, "PIPELINES")
	assert.Contains(t, output, "usaspending_awards")
	assert.Contains(t, output, "1200")
	assert.Contains(t, output, "2024-03-01 12:00")
	assert.Contains(t, output, "never")
	assert.Contains(t, output, "status 503")
}

func TestPrintSyncStates_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintSyncStates(nil)
	assert.Contains(t, buf.String(), "No pipeline has run yet")
}

func TestPrintBudget(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintBudget(&cost.Status{
		State:            cost.StateWarning,
		CurrentSpend:     decimal.RequireFromString("46"),
		BudgetLimit:      decimal.RequireFromString("50"),
		PercentUsed:      0.92,
		Remaining:        decimal.RequireFromString("4"),
		WarningThreshold: 0.9,
		HaltThreshold:    0.95,
	})
	output := buf.String()

	assert.Contains(t, output, "WARNING")
	assert.Contains(t, output, "$46.00 of $50.00 (92.0%)")
	assert.Contains(t, output, "$4.00")
	assert.Contains(t, output, "warn 90%, halt 95%")
}

func TestPrintBudget_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintBudget(nil)
	assert.Empty(t, buf.String())
}

func TestPrintRecommendations(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRecommendations(cost.Recommendations(&cost.Status{State: cost.StateHalted}, nil))
	assert.Contains(t, buf.String(), "RECOMMENDATIONS")
	assert.Contains(t, buf.String(), "• Wait for next month")

	buf.Reset()
	p.PrintRecommendations(nil)
	assert.Empty(t, buf.String())
}

func TestPrintMonthlySummary_SortsByCost(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintMonthlySummary(&cost.MonthlySummary{
		Month:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		TotalCost:    decimal.RequireFromString("1.5"),
		RequestCount: 7,
		Services: map[string]decimal.Decimal{
			"voyage":   decimal.RequireFromString("0.5"),
			"bigquery": decimal.RequireFromString("1.0"),
		},
	})
	output := buf.String()

	assert.Contains(t, output, "2024-03")
	assert.Contains(t, output, "$1.5000 (7 requests)")
	assert.Less(t, strings.Index(output, "bigquery"), strings.Index(output, "voyage"))
}

func TestPrintRunStats(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.PrintRunStats(&pipeline.Stats{
		Pipeline:         "gdelt_events",
		Status:           pipeline.StatusCompleted,
		BatchesProcessed: 1,
		Fetched:          10,
		Upserted:         8,
		Skipped:          2,
		StartedAt:        start,
		CompletedAt:      start.Add(1500 * time.Millisecond),
	})
	output := buf.String()

	assert.Contains(t, output, "GDELT_EVENTS")
	assert.Contains(t, output, "Upserted:    8")
	assert.Contains(t, output, "1.5s")
}

func TestPrintSearchResults_TruncatesText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintSearchResults(&search.Response{
		Query:      "detention",
		Type:       search.TypeHybrid,
		TotalCount: 1,
		LatencyMS:  42,
		Results: []search.Result{{
			SourceSchema: "legal",
			SourceTable:  "opinions",
			Score:        0.0328,
			ChunkText:    strings.Repeat("habeas petition ", 20),
		}},
	})
	output := buf.String()

	assert.Contains(t, output, "SEARCH: detention")
	assert.Contains(t, output, "1 results in 42ms (hybrid)")
	assert.Contains(t, output, "legal.opinions")
	assert.Contains(t, output, "...")
}

func TestPrintMatches(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintMatches("GEO Group", []entity.Match{{
		CanonicalID:   uuid.New(),
		CanonicalName: "The GEO Group, Inc.",
		EntityType:    entity.TypeCompany,
		Similarity:    0.91,
		Identifiers:   []entity.Identifier{{Type: "cik", Value: "0000923796"}},
	}})
	output := buf.String()

	assert.Contains(t, output, "0.91")
	assert.Contains(t, output, "The GEO Group, Inc.")
	assert.Contains(t, output, "cik=0000923796")

	buf.Reset()
	p.PrintMatches("nobody", nil)
	assert.Contains(t, buf.String(), "No candidates")
}
