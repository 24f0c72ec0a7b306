package flights

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
	OpenSkyPipelineName   = "opensky_flights"
	OpenSkyService        = "opensky"
	OpenSkyDefaultBaseURL = "https://opensky-network.org/api"
)

// StateVector is one entry of the OpenSky "states" array:
// [icao24, callsign, origin_country, time_position, last_contact, longitude,
// latitude, baro_altitude, on_ground, velocity, true_track, vertical_rate, ...]
type StateVector []any

// OpenSkySource polls /states/all for the tracked aircraft. Credentials, if
// any, are configured on the client as basic auth.
type OpenSkySource struct {
	client *fetch.Client
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewOpenSkySource creates an OpenSky poller.
func NewOpenSkySource(client *fetch.Client, store Store, cfg Config, logger *zap.Logger) *OpenSkySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenSkySource{
		client: client,
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger.Named(OpenSkyPipelineName),
		now:    time.Now,
	}
}

// Name implements pipeline.Source.
func (s *OpenSkySource) Name() string {
	return OpenSkyPipelineName
}

// FetchBatch requests the current state of every tracked aircraft in one call.
func (s *OpenSkySource) FetchBatch(ctx context.Context, cp pipeline.Checkpoint) ([]StateVector, pipeline.Checkpoint, error) {
	now := s.now()
	if polledRecently(cp, now, s.cfg.MinPollInterval) {
		return nil, cp, nil
	}

	aircraft, err := s.store.TrackedAircraft(ctx)
	if err != nil {
		return nil, cp, fmt.Errorf("failed to list tracked aircraft: %w", err)
	}
	if len(aircraft) == 0 {
		s.logger.Warn("no charter aircraft configured for tracking")
		return nil, cp, nil
	}

	params := url.Values{}
	for _, a := range aircraft {
		params.Add("icao24", strings.ToLower(a.ICAO24))
	}

	var resp any
	if err := s.client.GetJSON(ctx, "/states/all", params, &resp); err != nil {
		return nil, cp, fmt.Errorf("fetch states: %w", err)
	}

	var states []StateVector
	for _, item := range fetch.Slice("states", resp) {
		if state, ok := item.([]any); ok {
			states = append(states, state)
		}
	}
	s.logger.Info("polled states", zap.Int("tracked", len(aircraft)), zap.Int("states", len(states)))
	return states, snapshotCheckpoint(now, len(aircraft), len(states)), nil
}

// Transform maps a state vector. The observation time is last_contact,
// falling back to time_position; vectors with neither are skipped.
func (s *OpenSkySource) Transform(_ context.Context, state StateVector) (Observation, bool, error) {
	if err := schemas.Validate(schemas.OpenSkyState, []any(state)); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			return Observation{}, false, nil
		}
		return Observation{}, false, err
	}

	data := []any(state)
	ts, ok := fetch.Float("[4] || [3]", data)
	if !ok {
		return Observation{}, false, nil
	}

	return Observation{
		ICAO24:        strings.ToLower(fetch.String("[0]", data)),
		Callsign:      strings.TrimSpace(fetch.String("[1]", data)),
		OriginCountry: fetch.String("[2]", data),
		Longitude:     ptr(fetch.Float("[5]", data)),
		Latitude:      ptr(fetch.Float("[6]", data)),
		AltitudeM:     ptr(fetch.Float("[7]", data)),
		OnGround:      fetch.Bool("[8]", data),
		VelocityMS:    ptr(fetch.Float("[9]", data)),
		Heading:       ptr(fetch.Float("[10]", data)),
		VerticalRate:  ptr(fetch.Float("[11]", data)),
		ObservedAt:    time.Unix(int64(ts), 0).UTC(),
		Source:        OpenSkyService,
	}, true, nil
}

// Upsert inserts observations.
func (s *OpenSkySource) Upsert(ctx context.Context, rows []Observation) (int, error) {
	return insert(ctx, s.store, rows)
}
