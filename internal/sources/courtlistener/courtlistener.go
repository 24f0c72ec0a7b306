// Package courtlistener ingests immigration opinions and dockets from the
// CourtListener REST API. Both endpoints use cursor pagination via the
// "next" URL of each response.
package courtlistener

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/fetch"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/schemas"
)

const (
	OpinionsPipelineName = "courtlistener"
	DocketsPipelineName  = "courtlistener_dockets"
	Service              = "courtlistener"
	DefaultBaseURL       = "https://www.courtlistener.com/api/rest/v3"

	DefaultQuery        = "immigration detention"
	DefaultNatureOfSuit = "462" // deportation
)

// SearchQueries are the suggested opinion searches.
var SearchQueries = []string{
	"immigration detention",
	"ICE detention",
	"deportation",
	"removal proceedings",
	"immigration enforcement",
	"CBP",
	"border patrol",
	"asylum",
}

// page is the shared response handling for both endpoints. It returns the
// result objects and the checkpoint following them.
func page(resp any, cp pipeline.Checkpoint) ([]map[string]any, pipeline.Checkpoint, error) {
	nextURL := fetch.String("next", resp)
	cursor := ""
	if nextURL != "" {
		parsed, err := url.Parse(nextURL)
		if err != nil {
			return nil, cp, fmt.Errorf("parse next url %q: %w", nextURL, err)
		}
		cursor = parsed.Query().Get("cursor")
	}

	count, _ := fetch.Int("count", resp)
	next := pipeline.Checkpoint{
		Cursor: cursor,
		Page:   cp.Page + 1,
		Metadata: map[string]any{
			"count":     count,
			"has_next":  nextURL != "",
			"exhausted": nextURL == "",
		},
	}

	var records []map[string]any
	for _, item := range fetch.Slice("results", resp) {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records, next, nil
}

func validate(schema string, record map[string]any) (bool, error) {
	if err := schemas.Validate(schema, record); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// parseDate accepts YYYY-MM-DD and RFC 3339 timestamps.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d
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

// Opinion is one row of legal.opinions.
type Opinion struct {
	OpinionID          string
	CaseName           string
	CourtID            string
	DateFiled          *time.Time
	DocketID           string
	Citations          []string
	Snippet            string
	PrecedentialStatus string
	DownloadURL        string
	Raw                map[string]any
}

// OpinionStore upserts opinions keyed by opinion_id.
type OpinionStore interface {
	UpsertOpinions(ctx context.Context, opinions []Opinion) (int, error)
}

// OpinionSource searches opinions matching a query, newest first.
type OpinionSource struct {
	client *fetch.Client
	store  OpinionStore
	query  string
	logger *zap.Logger
}

// NewOpinionSource creates an opinion search source. An empty query uses
// DefaultQuery.
func NewOpinionSource(client *fetch.Client, store OpinionStore, query string, logger *zap.Logger) *OpinionSource {
	if query == "" {
		query = DefaultQuery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpinionSource{
		client: client,
		store:  store,
		query:  query,
		logger: logger.Named(OpinionsPipelineName),
	}
}

// Name implements pipeline.Source.
func (s *OpinionSource) Name() string {
	return OpinionsPipelineName
}

// FetchBatch fetches the search page at cp.Cursor. After the last page the
// checkpoint is marked exhausted and no further requests are made.
func (s *OpinionSource) FetchBatch(ctx context.Context, cp pipeline.Checkpoint) ([]map[string]any, pipeline.Checkpoint, error) {
	if cp.MetaBool("exhausted") {
		return nil, cp, nil
	}

	params := url.Values{
		"q":        {s.query},
		"order_by": {"dateFiled desc"},
		"type":     {"o"},
	}
	if cp.Cursor != "" {
		params.Set("cursor", cp.Cursor)
	}

	var resp any
	if err := s.client.GetJSON(ctx, "/search/", params, &resp); err != nil {
		return nil, cp, fmt.Errorf("search opinions: %w", err)
	}
	records, next, err := page(resp, cp)
	s.logger.Debug("fetched opinions", zap.Int("page", next.Page), zap.Int("count", len(records)))
	return records, next, err
}

// Transform maps a search hit. Snippet highlighting markup is stripped.
func (s *OpinionSource) Transform(_ context.Context, record map[string]any) (Opinion, bool, error) {
	ok, err := validate(schemas.CourtListenerOpinion, record)
	if !ok || err != nil {
		return Opinion{}, false, err
	}

	opinion := Opinion{
		OpinionID:          fetch.String("id", record),
		CaseName:           fetch.String("caseName", record),
		CourtID:            courtID(fetch.String("court_id || court", record)),
		DateFiled:          parseDate(fetch.String("dateFiled", record)),
		DocketID:           fetch.String("docket_id", record),
		Snippet:            fetch.StripHTML(fetch.String("snippet", record)),
		PrecedentialStatus: fetch.String("status", record),
		DownloadURL:        fetch.String("download_url", record),
		Raw:                record,
	}
	for _, c := range fetch.Slice("citation", record) {
		if str, ok := c.(string); ok && str != "" {
			opinion.Citations = append(opinion.Citations, str)
		}
	}
	return opinion, true, nil
}

// Upsert writes opinions through the store.
func (s *OpinionSource) Upsert(ctx context.Context, rows []Opinion) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return s.store.UpsertOpinions(ctx, rows)
}

// Docket is one row of legal.dockets.
type Docket struct {
	DocketID         string
	CourtID          string
	CaseName         string
	DocketNumber     string
	DateFiled        *time.Time
	DateTerminated   *time.Time
	NatureOfSuit     string
	Cause            string
	JurisdictionType string
	PacerCaseID      string
	AssignedTo       string
	ReferredTo       string
	Raw              map[string]any
}

// DocketStore upserts dockets keyed by docket_id.
type DocketStore interface {
	UpsertDockets(ctx context.Context, dockets []Docket) (int, error)
}

// DocketSource lists dockets for one nature-of-suit code.
type DocketSource struct {
	client       *fetch.Client
	store        DocketStore
	natureOfSuit string
	logger       *zap.Logger
}

// NewDocketSource creates a docket source. An empty natureOfSuit uses
// DefaultNatureOfSuit.
func NewDocketSource(client *fetch.Client, store DocketStore, natureOfSuit string, logger *zap.Logger) *DocketSource {
	if natureOfSuit == "" {
		natureOfSuit = DefaultNatureOfSuit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocketSource{
		client:       client,
		store:        store,
		natureOfSuit: natureOfSuit,
		logger:       logger.Named(DocketsPipelineName),
	}
}

// Name implements pipeline.Source.
func (s *DocketSource) Name() string {
	return DocketsPipelineName
}

// FetchBatch fetches the docket page at cp.Cursor.
func (s *DocketSource) FetchBatch(ctx context.Context, cp pipeline.Checkpoint) ([]map[string]any, pipeline.Checkpoint, error) {
	if cp.MetaBool("exhausted") {
		return nil, cp, nil
	}

	params := url.Values{
		"nature_of_suit": {s.natureOfSuit},
		"order_by":       {"-date_filed"},
	}
	if cp.Cursor != "" {
		params.Set("cursor", cp.Cursor)
	}

	var resp any
	if err := s.client.GetJSON(ctx, "/dockets/", params, &resp); err != nil {
		return nil, cp, fmt.Errorf("list dockets: %w", err)
	}
	records, next, err := page(resp, cp)
	s.logger.Debug("fetched dockets", zap.Int("page", next.Page), zap.Int("count", len(records)))
	return records, next, err
}

// Transform maps a docket object.
func (s *DocketSource) Transform(_ context.Context, record map[string]any) (Docket, bool, error) {
	ok, err := validate(schemas.CourtListenerDocket, record)
	if !ok || err != nil {
		return Docket{}, false, err
	}

	return Docket{
		DocketID:         fetch.String("id", record),
		CourtID:          courtID(fetch.String("court_id || court", record)),
		CaseName:         fetch.String("case_name", record),
		DocketNumber:     fetch.String("docket_number", record),
		DateFiled:        parseDate(fetch.String("date_filed", record)),
		DateTerminated:   parseDate(fetch.String("date_terminated", record)),
		NatureOfSuit:     fetch.String("nature_of_suit", record),
		Cause:            fetch.String("cause", record),
		JurisdictionType: fetch.String("jurisdiction_type", record),
		PacerCaseID:      fetch.String("pacer_case_id", record),
		AssignedTo:       fetch.String("assigned_to_str", record),
		ReferredTo:       fetch.String("referred_to_str", record),
		Raw:              record,
	}, true, nil
}

// Upsert writes dockets through the store.
func (s *DocketSource) Upsert(ctx context.Context, rows []Docket) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return s.store.UpsertDockets(ctx, rows)
}

// courtID reduces a court resource URL such as
// https://www.courtlistener.com/api/rest/v3/courts/ca9/ to its id.
func courtID(value string) string {
	if !strings.Contains(value, "/") {
		return value
	}
	parts := strings.Split(strings.Trim(value, "/"), "/")
	return parts[len(parts)-1]
}
