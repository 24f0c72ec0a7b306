// Package gdelt polls the GDELT 2.0 15-minute event export and keeps
// immigration-related events.
package gdelt

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/fetch"
	"github.com/jonathan/iety/internal/pipeline"
	"github.com/jonathan/iety/internal/schemas"
)

const (
	PipelineName         = "gdelt_events"
	Service              = "gdelt"
	DefaultLastUpdateURL = "http://data.gdeltproject.org/gdeltv2/lastupdate.txt"
)

// Row is one export line keyed by column name.
type Row map[string]string

// Actor holds the CAMEO actor attributes of an event.
type Actor struct {
	Code           string
	Name           string
	CountryCode    string
	KnownGroupCode string
	EthnicCode     string
	Religion1Code  string
	Religion2Code  string
	Type1Code      string
	Type2Code      string
	Type3Code      string
}

// Geo is a resolved location.
type Geo struct {
	Type        *int
	FullName    string
	CountryCode string
	ADM1Code    string
	Lat         *float64
	Long        *float64
	FeatureID   string
}

// Event is one row of gdelt.events.
type Event struct {
	GlobalEventID  int64
	SQLDate        time.Time
	MonthKey       string
	Year           int
	Month          int
	Day            int
	FractionDate   *float64
	Actor1         Actor
	Actor2         Actor
	IsRootEvent    *bool
	EventCode      string
	EventBaseCode  string
	EventRootCode  string
	QuadClass      *int
	GoldsteinScale *float64
	NumMentions    *int
	NumSources     *int
	NumArticles    *int
	AvgTone        *float64
	Actor1Geo      Geo
	Actor2Geo      Geo
	ActionGeo      Geo
	SourceURL      string
}

// Store inserts events, ignoring ones already present for (global_event_id, month_key).
type Store interface {
	InsertEvents(ctx context.Context, events []Event) (int, error)
}

// Config configures the poller.
type Config struct {
	LastUpdateURL string
	// KeepAll disables the immigration filter.
	KeepAll bool
}

// Source implements pipeline.Source over the latest export file.
type Source struct {
	client *fetch.Client
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a GDELT poller.
func New(client *fetch.Client, store Store, cfg Config, logger *zap.Logger) *Source {
	if cfg.LastUpdateURL == "" {
		cfg.LastUpdateURL = DefaultLastUpdateURL
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

// FetchBatch downloads the newest export unless its URL matches the one
// recorded in the checkpoint, in which case the batch is empty.
func (s *Source) FetchBatch(ctx context.Context, cp pipeline.Checkpoint) ([]Row, pipeline.Checkpoint, error) {
	exportURL, err := s.latestExportURL(ctx)
	if err != nil {
		return nil, cp, err
	}
	if exportURL == "" {
		s.logger.Warn("no export URL in lastupdate")
		return nil, cp, nil
	}
	if exportURL == cp.MetaString("last_url") {
		s.logger.Debug("export already processed", zap.String("url", exportURL))
		return nil, cp, nil
	}

	s.logger.Info("downloading export", zap.String("url", exportURL))
	result, err := s.client.Get(ctx, exportURL, nil)
	if err != nil {
		return nil, cp, fmt.Errorf("download export: %w", err)
	}

	content := result.Body
	if strings.HasSuffix(strings.ToLower(exportURL), ".zip") {
		content, err = unzipCSV(content)
		if err != nil {
			return nil, cp, fmt.Errorf("unzip %s: %w", exportURL, err)
		}
	}

	rows, err := s.parse(content)
	if err != nil {
		return nil, cp, fmt.Errorf("parse %s: %w", exportURL, err)
	}

	now := s.now().UTC()
	next := pipeline.Checkpoint{
		LastDate: &now,
		Metadata: map[string]any{
			"last_url":        exportURL,
			"records_in_file": len(rows),
		},
	}
	return rows, next, nil
}

// latestExportURL reads lastupdate.txt ("size hash url" per line) and returns
// the export CSV URL.
func (s *Source) latestExportURL(ctx context.Context) (string, error) {
	result, err := s.client.Get(ctx, s.cfg.LastUpdateURL, nil)
	if err != nil {
		return "", fmt.Errorf("read lastupdate: %w", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(result.Body)), "\n") {
		parts := strings.Fields(line)
		if len(parts) >= 3 && strings.Contains(parts[2], "export.CSV") {
			return parts[2], nil
		}
	}
	return "", nil
}

func unzipCSV(content []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToUpper(f.Name), ".CSV") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	}
	return nil, errors.New("no CSV file in archive")
}

// parse reads the tab-delimited export, keeping rows that pass the filter.
func (s *Source) parse(content []byte) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows []Row
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		columns := columnsFor(len(fields))
		if columns == nil {
			s.logger.Debug("unexpected column count", zap.Int("fields", len(fields)))
			continue
		}
		row := make(Row, len(columns))
		for i, name := range columns {
			row[name] = fields[i]
		}
		if s.cfg.KeepAll || IsImmigrationRelated(row) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// IsImmigrationRelated keeps immigration CAMEO codes and events involving US
// government actors.
func IsImmigrationRelated(row Row) bool {
	if ImmigrationEventCodes[row["EventCode"]] {
		return true
	}
	for _, n := range []string{"1", "2"} {
		code := row["Actor"+n+"Code"]
		country := row["Actor"+n+"CountryCode"]
		if strings.Contains(country, "USA") && strings.Contains(code, "GOV") {
			return true
		}
		if usImmigrationActors[code] {
			return true
		}
	}
	return false
}

// Transform parses a row into an Event. Rows without a valid SQLDATE or id
// are skipped.
func (s *Source) Transform(_ context.Context, row Row) (Event, bool, error) {
	if err := schemas.Validate(schemas.GDELTEvent, map[string]string(row)); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			return Event{}, false, nil
		}
		return Event{}, false, err
	}

	sqlDate, err := time.Parse("20060102", row["SQLDATE"])
	if err != nil {
		return Event{}, false, nil
	}
	id, err := strconv.ParseInt(row["GLOBALEVENTID"], 10, 64)
	if err != nil {
		return Event{}, false, nil
	}

	year := sqlDate.Year()
	if y := intPtr(row["Year"]); y != nil {
		year = *y
	}

	return Event{
		GlobalEventID:  id,
		SQLDate:        sqlDate,
		MonthKey:       sqlDate.Format("2006-01"),
		Year:           year,
		Month:          int(sqlDate.Month()),
		Day:            sqlDate.Day(),
		FractionDate:   floatPtr(row["FractionDate"]),
		Actor1:         actor(row, "Actor1"),
		Actor2:         actor(row, "Actor2"),
		IsRootEvent:    boolPtr(row["IsRootEvent"]),
		EventCode:      row["EventCode"],
		EventBaseCode:  row["EventBaseCode"],
		EventRootCode:  row["EventRootCode"],
		QuadClass:      intPtr(row["QuadClass"]),
		GoldsteinScale: floatPtr(row["GoldsteinScale"]),
		NumMentions:    intPtr(row["NumMentions"]),
		NumSources:     intPtr(row["NumSources"]),
		NumArticles:    intPtr(row["NumArticles"]),
		AvgTone:        floatPtr(row["AvgTone"]),
		Actor1Geo:      geo(row, "Actor1Geo"),
		Actor2Geo:      geo(row, "Actor2Geo"),
		ActionGeo:      geo(row, "ActionGeo"),
		SourceURL:      row["SOURCEURL"],
	}, true, nil
}

// Upsert inserts events; duplicates are ignored by the store.
func (s *Source) Upsert(ctx context.Context, rows []Event) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return s.store.InsertEvents(ctx, rows)
}

func actor(row Row, prefix string) Actor {
	return Actor{
		Code:           row[prefix+"Code"],
		Name:           row[prefix+"Name"],
		CountryCode:    row[prefix+"CountryCode"],
		KnownGroupCode: row[prefix+"KnownGroupCode"],
		EthnicCode:     row[prefix+"EthnicCode"],
		Religion1Code:  row[prefix+"Religion1Code"],
		Religion2Code:  row[prefix+"Religion2Code"],
		Type1Code:      row[prefix+"Type1Code"],
		Type2Code:      row[prefix+"Type2Code"],
		Type3Code:      row[prefix+"Type3Code"],
	}
}

func geo(row Row, prefix string) Geo {
	return Geo{
		Type:        intPtr(row[prefix+"_Type"]),
		FullName:    row[prefix+"_FullName"],
		CountryCode: row[prefix+"_CountryCode"],
		ADM1Code:    row[prefix+"_ADM1Code"],
		Lat:         floatPtr(row[prefix+"_Lat"]),
		Long:        floatPtr(row[prefix+"_Long"]),
		FeatureID:   row[prefix+"_FeatureID"],
	}
}

func intPtr(value string) *int {
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return &n
}

func floatPtr(value string) *float64 {
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return &f
}

func boolPtr(value string) *bool {
	if value == "" {
		return nil
	}
	b := value == "1"
	return &b
}
