// Package usaspending ingests federal contract awards from the USASpending
// spending_by_award search API, restricted to ICE and CBP treasury accounts.
package usaspending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/fetch"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/schemas"
)

const (
	// PipelineName keys this source in sync_state.
	PipelineName = "usaspending_awards"
	// Service is the rate limiter bucket for the API.
	Service          = "usaspending"
	DefaultBaseURL   = "https://api.usaspending.gov/api/v2"
	DefaultBatchSize = 100

	searchPath = "/search/spending_by_award/"
)

// DefaultTASCodes are the ICE operations, ICE procurement and CBP operations
// treasury accounts.
var DefaultTASCodes = []string{"070-0540", "070-0543", "070-0532"}

// DefaultAwardTypeCodes covers contracts and IDVs.
var DefaultAwardTypeCodes = []string{
	"A", "B", "C", "D",
	"IDV_A", "IDV_B", "IDV_C", "IDV_D", "IDV_E",
}

// awardFields are the columns requested from the search endpoint.
var awardFields = []string{
	"Award ID", "Award Type", "Awarding Agency", "Awarding Agency Code",
	"Funding Agency", "Funding Agency Code", "Recipient Name", "Recipient UEI",
	"Recipient DUNS", "Award Amount", "Description", "Start Date", "End Date",
	"Treasury Account Symbol", "NAICS Code", "NAICS Description", "PSC Code",
	"PSC Description",
}

// Location is a recipient or place-of-performance address.
type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	Zip     string `json:"zip,omitempty"`
}

// Award is one row of usaspending.awards.
type Award struct {
	AwardID               string
	AwardType             string
	AwardingAgencyName    string
	AwardingAgencyCode    string
	FundingAgencyName     string
	FundingAgencyCode     string
	RecipientName         string
	RecipientUEI          string
	RecipientDUNS         string
	RecipientLocation     Location
	TotalObligation       *decimal.Decimal
	Description           string
	PeriodStart           *time.Time
	PeriodEnd             *time.Time
	FiscalYear            int
	TreasuryAccountSymbol string
	NAICSCode             string
	NAICSDescription      string
	PSCCode               string
	PSCDescription        string
	PlaceOfPerformance    Location
	Raw                   map[string]any
}

// Store upserts awards keyed by (award_id, fiscal_year).
type Store interface {
	UpsertAwards(ctx context.Context, awards []Award) (int, error)
}

// Config configures the source.
type Config struct {
	BatchSize      int
	TASCodes       []string
	AwardTypeCodes []string
}

// Source implements pipeline.Source for awards.
type Source struct {
	client *fetch.Client
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates an award source. client should be built with Service as its
// rate limiter name and the API base URL.
func New(client *fetch.Client, store Store, cfg Config, logger *zap.Logger) *Source {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if len(cfg.TASCodes) == 0 {
		cfg.TASCodes = DefaultTASCodes
	}
	if len(cfg.AwardTypeCodes) == 0 {
		cfg.AwardTypeCodes = DefaultAwardTypeCodes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger.Named(PipelineName),
		now:    time.Now,
	}
}

// Name implements pipeline.Source.
func (s *Source) Name() string {
	return PipelineName
}

type tasFilter struct {
	AID  string `json:"aid"`
	Main string `json:"main"`
}

type searchRequest struct {
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
	Sort    string   `json:"sort"`
	Order   string   `json:"order"`
	Fields  []string `json:"fields"`
	Filters struct {
		TASCodes       []tasFilter `json:"tas_codes"`
		AwardTypeCodes []string    `json:"award_type_codes"`
	} `json:"filters"`
}

func (s *Source) request(page int) searchRequest {
	req := searchRequest{
		Page:   page,
		Limit:  s.cfg.BatchSize,
		Sort:   "Award ID",
		Order:  "asc",
		Fields: awardFields,
	}
	for _, code := range s.cfg.TASCodes {
		aid, main, _ := strings.Cut(code, "-")
		req.Filters.TASCodes = append(req.Filters.TASCodes, tasFilter{AID: aid, Main: main})
	}
	req.Filters.AwardTypeCodes = s.cfg.AwardTypeCodes
	return req
}

// FetchBatch requests the page after cp.Page. When the API reports no next
// page the returned checkpoint is marked exhausted, so the following call
// returns an empty batch without another request.
func (s *Source) FetchBatch(ctx context.Context, cp pipeline.Checkpoint) ([]map[string]any, pipeline.Checkpoint, error) {
	if cp.MetaBool("exhausted") {
		return nil, cp, nil
	}

	page := cp.Page + 1
	var resp any
	if err := s.client.PostJSON(ctx, searchPath, s.request(page), &resp); err != nil {
		return nil, cp, fmt.Errorf("search awards page %d: %w", page, err)
	}

	hasNext := fetch.Bool("page_metadata.hasNext", resp)
	total, _ := fetch.Int("page_metadata.total", resp)

	records := objects(fetch.Slice("results", resp))
	next := pipeline.Checkpoint{
		Page: page,
		Metadata: map[string]any{
			"total":     total,
			"has_next":  hasNext,
			"exhausted": !hasNext,
		},
	}

	s.logger.Debug("fetched awards", zap.Int("page", page), zap.Int("count", len(records)), zap.Bool("has_next", hasNext))
	return records, next, nil
}

// Transform maps a search result to an Award. Records failing the schema
// (no Award ID) are skipped.
func (s *Source) Transform(_ context.Context, record map[string]any) (Award, bool, error) {
	if err := schemas.Validate(schemas.USASpendingAward, record); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			s.logger.Debug("skipping award", zap.Error(err))
			return Award{}, false, nil
		}
		return Award{}, false, err
	}

	str := func(field string) string {
		return strings.TrimSpace(fetch.String(`"`+field+`"`, record))
	}

	start := parseDate(str("Start Date"))
	award := Award{
		AwardID:            str("Award ID"),
		AwardType:          str("Award Type"),
		AwardingAgencyName: str("Awarding Agency"),
		AwardingAgencyCode: str("Awarding Agency Code"),
		FundingAgencyName:  str("Funding Agency"),
		FundingAgencyCode:  str("Funding Agency Code"),
		RecipientName:      str("Recipient Name"),
		RecipientUEI:       str("Recipient UEI"),
		RecipientDUNS:      str("Recipient DUNS"),
		RecipientLocation: Location{
			City:    str("Recipient City"),
			State:   str("Recipient State"),
			Country: str("Recipient Country"),
			Zip:     str("Recipient Zip Code"),
		},
		Description:           str("Description"),
		PeriodStart:           start,
		PeriodEnd:             parseDate(str("End Date")),
		TreasuryAccountSymbol: str("Treasury Account Symbol"),
		NAICSCode:             str("NAICS Code"),
		NAICSDescription:      str("NAICS Description"),
		PSCCode:               str("PSC Code"),
		PSCDescription:        str("PSC Description"),
		PlaceOfPerformance: Location{
			City:    str("Place of Performance City"),
			State:   str("Place of Performance State"),
			Country: str("Place of Performance Country"),
			Zip:     str("Place of Performance Zip Code"),
		},
		Raw: record,
	}

	if amount, ok := fetch.Float(`"Award Amount"`, record); ok {
		d := decimal.NewFromFloat(amount)
		award.TotalObligation = &d
	}

	if start != nil {
		award.FiscalYear = FiscalYear(*start)
	} else {
		award.FiscalYear = FiscalYear(s.now())
	}

	return award, true, nil
}

// Upsert writes awards through the store.
func (s *Source) Upsert(ctx context.Context, rows []Award) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return s.store.UpsertAwards(ctx, rows)
}

// FiscalYear returns the federal fiscal year containing t. The fiscal year
// starts on October 1, so October through December belong to the next year.
func FiscalYear(t time.Time) int {
	if t.Month() >= time.October {
		return t.Year() + 1
	}
	return t.Year()
}

// parseDate accepts YYYY-MM-DD and RFC 3339 timestamps.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	if len(value) > 10 {
		value = value[:10]
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil
	}
	return &t
}

func objects(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
