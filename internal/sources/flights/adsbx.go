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
	ADSBXPipelineName   = "adsbx_flights"
	ADSBXService        = "adsbx"
	ADSBXDefaultBaseURL = "https://adsbexchange-com1.p.rapidapi.com/v2"
	ADSBXHost           = "adsbexchange-com1.p.rapidapi.com"

	feetToMeters = 0.3048
	knotsToMS    = 0.514444
	fpmToMS      = 0.00508
)

// ADSBXHeaders returns the RapidAPI headers for apiKey.
func ADSBXHeaders(apiKey string) map[string]string {
	return map[string]string{
		"X-RapidAPI-Key":  apiKey,
		"X-RapidAPI-Host": ADSBXHost,
	}
}

// ADSBXState is an aircraft object from the "ac" array together with the
// time of the poll that returned it.
type ADSBXState struct {
	Aircraft   map[string]any
	ObservedAt time.Time
}

// ADSBXSource looks up each tracked aircraft by ICAO hex, falling back to
// its registration.
type ADSBXSource struct {
	client *fetch.Client
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewADSBXSource creates an ADS-B Exchange poller. client must carry the
// ADSBXHeaders.
func NewADSBXSource(client *fetch.Client, store Store, cfg Config, logger *zap.Logger) *ADSBXSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ADSBXSource{
		client: client,
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger.Named(ADSBXPipelineName),
		now:    time.Now,
	}
}

// Name implements pipeline.Source.
func (s *ADSBXSource) Name() string {
	return ADSBXPipelineName
}

// FetchBatch makes one lookup per tracked aircraft. Aircraft the API does not
// know are skipped.
func (s *ADSBXSource) FetchBatch(ctx context.Context, cp pipeline.Checkpoint) ([]ADSBXState, pipeline.Checkpoint, error) {
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

	var states []ADSBXState
	for _, a := range aircraft {
		ac, err := s.lookup(ctx, "/icao/"+url.PathEscape(strings.ToUpper(a.ICAO24))+"/")
		if err != nil {
			return nil, cp, err
		}
		if ac == nil && a.Registration != "" {
			ac, err = s.lookup(ctx, "/registration/"+url.PathEscape(a.Registration)+"/")
			if err != nil {
				return nil, cp, err
			}
		}
		if ac == nil {
			s.logger.Debug("aircraft not visible", zap.String("icao24", a.ICAO24))
			continue
		}
		states = append(states, ADSBXState{Aircraft: ac, ObservedAt: now.UTC()})
	}

	s.logger.Info("polled aircraft", zap.Int("tracked", len(aircraft)), zap.Int("states", len(states)))
	return states, snapshotCheckpoint(now, len(aircraft), len(states)), nil
}

// lookup returns the first aircraft of the response, or nil when there is
// none or the endpoint answers 404.
func (s *ADSBXSource) lookup(ctx context.Context, path string) (map[string]any, error) {
	var resp any
	if err := s.client.GetJSON(ctx, path, nil, &resp); err != nil {
		if fetch.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}
	return fetch.Map("ac[0]", resp), nil
}

// Transform converts an aircraft object to SI units. alt_baro is either
// feet or the literal "ground".
func (s *ADSBXSource) Transform(_ context.Context, state ADSBXState) (Observation, bool, error) {
	ac := state.Aircraft
	if err := schemas.Validate(schemas.ADSBXAircraft, ac); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			return Observation{}, false, nil
		}
		return Observation{}, false, err
	}

	alt, altOK := fetch.Float("alt_baro", ac)
	speed, speedOK := fetch.Float("gs", ac)
	rate, rateOK := fetch.Float("baro_rate", ac)

	return Observation{
		ICAO24:        strings.ToLower(fetch.String("hex", ac)),
		Callsign:      strings.TrimSpace(fetch.String("flight", ac)),
		OriginCountry: "United States",
		Longitude:     ptr(fetch.Float("lon", ac)),
		Latitude:      ptr(fetch.Float("lat", ac)),
		AltitudeM:     scale(alt, altOK, feetToMeters),
		VelocityMS:    scale(speed, speedOK, knotsToMS),
		Heading:       ptr(fetch.Float("track", ac)),
		VerticalRate:  scale(rate, rateOK, fpmToMS),
		OnGround:      fetch.String("alt_baro", ac) == "ground",
		ObservedAt:    state.ObservedAt,
		Source:        ADSBXService,
	}, true, nil
}

// Upsert inserts observations.
func (s *ADSBXSource) Upsert(ctx context.Context, rows []Observation) (int, error) {
	return insert(ctx, s.store, rows)
}

func scale(value float64, ok bool, factor float64) *float64 {
	if !ok {
		return nil
	}
	v := value * factor
	return &v
}
