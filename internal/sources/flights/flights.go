// Package flights polls flight trackers for the positions of known charter
// aircraft. Each run takes at most one snapshot: a poll within the minimum
// interval of the previous one returns an empty batch.
package flights

import (
	"context"
	"time"

	"github.com/jonathan/iety/internal/pipeline"
)

// DefaultMinPollInterval keeps repeated runs from spending tracker quota on
// near-identical snapshots.
const DefaultMinPollInterval = 5 * time.Minute

// Aircraft is a tracked row of flights.aircraft.
type Aircraft struct {
	ICAO24       string
	Registration string
	Operator     string
	AircraftType string
}

// Observation is one row of flights.observations, in SI units.
type Observation struct {
	ICAO24        string
	Callsign      string
	OriginCountry string
	Longitude     *float64
	Latitude      *float64
	AltitudeM     *float64
	VelocityMS    *float64
	Heading       *float64
	VerticalRate  *float64
	OnGround      bool
	ObservedAt    time.Time
	Source        string
}

// Store lists tracked aircraft and inserts observations. Observations
// already present for (icao24, observed_at) are ignored.
type Store interface {
	TrackedAircraft(ctx context.Context) ([]Aircraft, error)
	InsertObservations(ctx context.Context, observations []Observation) (int, error)
}

// Config is shared by both trackers.
type Config struct {
	MinPollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinPollInterval <= 0 {
		c.MinPollInterval = DefaultMinPollInterval
	}
	return c
}

// polledRecently reports whether the checkpoint's last snapshot is younger
// than interval.
func polledRecently(cp pipeline.Checkpoint, now time.Time, interval time.Duration) bool {
	return cp.LastDate != nil && now.Sub(*cp.LastDate) < interval
}

func snapshotCheckpoint(now time.Time, tracked, observations int) pipeline.Checkpoint {
	now = now.UTC()
	return pipeline.Checkpoint{
		LastDate: &now,
		Metadata: map[string]any{
			"aircraft_tracked": tracked,
			"observations":     observations,
		},
	}
}

func insert(ctx context.Context, store Store, rows []Observation) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return store.InsertObservations(ctx, rows)
}

func ptr(f float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &f
}
