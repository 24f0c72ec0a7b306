// Package sec ingests XBRL company facts from SEC EDGAR for a fixed list of
// contractor CIKs.
package sec

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/fetch"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/schemas"
)

const (
	PipelineName     = "sec_companyfacts"
	Service          = "sec"
	DefaultBaseURL   = "https://data.sec.gov"
	DefaultBatchSize = 10

	// CIKPartitions is the modulus for cik_hash.
	CIKPartitions = 8
)

// DefaultCIKs are the tracked detention and border technology contractors.
var DefaultCIKs = []string{
	"0000923796", // GEO Group
	"0001070985", // CoreCivic
	"0001321655", // Palantir
	"0000040533", // General Dynamics
	"0001336920", // Leidos
	"0000072945", // Northrop Grumman
	"0000202058", // L3Harris
	"0000082267", // Raytheon
}

// RelevantTags are the us-gaap concepts extracted from each filing.
var RelevantTags = map[string]bool{
	"Revenues": true,
	"RevenueFromContractWithCustomerExcludingAssessedTax": true,
	"ContractWithCustomerLiability":                       true,
	"ContractReceivableNet":                               true,
	"GovernmentContractsReceivable":                       true,
	"CostOfGoodsAndServicesSold":                          true,
	"NetIncomeLoss":                                       true,
	"OperatingIncomeLoss":                                 true,
}

// Fact is one row of sec.companyfacts.
type Fact struct {
	CIK             string
	Taxonomy        string
	Tag             string
	Label           string
	Description     string
	Unit            string
	Value           *decimal.Decimal
	StartDate       *time.Time
	EndDate         *time.Time
	Filed           *time.Time
	Form            string
	AccessionNumber string
	FiscalYear      *int
	FiscalPeriod    string
	CIKHash         int
}

// Company is a sec.companies row together with its extracted facts.
type Company struct {
	CIK   string
	Name  string
	Facts []Fact
}

// Store writes a company and its facts in one transaction per company.
type Store interface {
	UpsertCompanyFacts(ctx context.Context, companies []Company) (int, error)
}

// Config configures the source.
type Config struct {
	CIKs      []string
	BatchSize int
}

// Source implements pipeline.Source over the CIK list. The checkpoint offset
// indexes into the list.
type Source struct {
	client *fetch.Client
	store  Store
	ciks   []string
	batch  int
	logger *zap.Logger
}

// New creates a companyfacts source. client must send the SEC User-Agent.
func New(client *fetch.Client, store Store, cfg Config, logger *zap.Logger) *Source {
	ciks := cfg.CIKs
	if len(ciks) == 0 {
		ciks = DefaultCIKs
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		client: client,
		store:  store,
		ciks:   ciks,
		batch:  batch,
		logger: logger.Named(PipelineName),
	}
}

// Name implements pipeline.Source.
func (s *Source) Name() string {
	return PipelineName
}

// PadCIK left-pads a CIK with zeros to ten digits.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

// CIKHash is md5(cik) interpreted as an integer, mod CIKPartitions.
func CIKHash(cik string) int {
	sum := md5.Sum([]byte(cik))
	n := new(big.Int).SetBytes(sum[:])
	return int(new(big.Int).Mod(n, big.NewInt(CIKPartitions)).Int64())
}

// FetchBatch fetches the next slice of CIKs. CIKs without companyfacts (404)
// are skipped; if a whole slice is missing the next slice is tried so an
// empty result only ever means the list is done.
func (s *Source) FetchBatch(ctx context.Context, cp pipeline.Checkpoint) ([]map[string]any, pipeline.Checkpoint, error) {
	offset := cp.Offset
	var records []map[string]any

	for offset < len(s.ciks) && len(records) == 0 {
		end := min(offset+s.batch, len(s.ciks))
		for _, cik := range s.ciks[offset:end] {
			doc, err := s.fetchCompanyFacts(ctx, cik)
			if err != nil {
				return nil, cp, err
			}
			if doc != nil {
				records = append(records, doc)
			}
		}
		offset = end
	}

	next := pipeline.Checkpoint{
		Offset:   offset,
		Metadata: map[string]any{"total_ciks": len(s.ciks)},
	}
	return records, next, nil
}

func (s *Source) fetchCompanyFacts(ctx context.Context, cik string) (map[string]any, error) {
	path := fmt.Sprintf("/api/xbrl/companyfacts/CIK%s.json", PadCIK(cik))
	var doc map[string]any
	if err := s.client.GetJSON(ctx, path, nil, &doc); err != nil {
		if fetch.IsNotFound(err) {
			s.logger.Warn("no companyfacts for CIK", zap.String("cik", cik))
			return nil, nil
		}
		return nil, fmt.Errorf("companyfacts for CIK %s: %w", cik, err)
	}
	return doc, nil
}

// Transform extracts the relevant us-gaap facts from a companyfacts document.
func (s *Source) Transform(_ context.Context, doc map[string]any) (Company, bool, error) {
	if err := schemas.Validate(schemas.SECCompanyFacts, doc); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			return Company{}, false, nil
		}
		return Company{}, false, err
	}

	cik := PadCIK(fetch.String("cik", doc))
	company := Company{
		CIK:  cik,
		Name: fetch.String("entityName", doc),
	}
	hash := CIKHash(cik)

	usGAAP := fetch.Map(`facts."us-gaap"`, doc)
	for _, tag := range sortedKeys(usGAAP) {
		if !RelevantTags[tag] {
			continue
		}
		tagData, _ := usGAAP[tag].(map[string]any)
		label := fetch.String("label", tagData)
		if label == "" {
			label = tag
		}
		description := fetch.String("description", tagData)

		units := fetch.Map("units", tagData)
		for _, unit := range sortedKeys(units) {
			values, _ := units[unit].([]any)
			for _, v := range values {
				company.Facts = append(company.Facts, Fact{
					CIK:             cik,
					Taxonomy:        "us-gaap",
					Tag:             tag,
					Label:           label,
					Description:     description,
					Unit:            unit,
					Value:           decimalField("val", v),
					StartDate:       dateField("start", v),
					EndDate:         dateField("end", v),
					Filed:           dateField("filed", v),
					Form:            fetch.String("form", v),
					AccessionNumber: fetch.String("accn", v),
					FiscalYear:      intField("fy", v),
					FiscalPeriod:    fetch.String("fp", v),
					CIKHash:         hash,
				})
			}
		}
	}

	return company, true, nil
}

// Upsert writes companies and facts. The count is the number of facts.
func (s *Source) Upsert(ctx context.Context, rows []Company) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return s.store.UpsertCompanyFacts(ctx, rows)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dateField(expr string, data any) *time.Time {
	value := fetch.String(expr, data)
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil
	}
	return &t
}

func decimalField(expr string, data any) *decimal.Decimal {
	f, ok := fetch.Float(expr, data)
	if !ok {
		return nil
	}
	d := decimal.NewFromFloat(f)
	return &d
}

func intField(expr string, data any) *int {
	n, ok := fetch.Int(expr, data)
	if !ok {
		return nil
	}
	return &n
}
