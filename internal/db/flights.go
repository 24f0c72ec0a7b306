package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/iety/internal/sources/flights"
)

// TrackedAircraft returns the aircraft flagged for polling.
func (db *DB) TrackedAircraft(ctx context.Context) ([]flights.Aircraft, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT icao24, COALESCE(registration, ''), COALESCE(operator, ''), COALESCE(aircraft_type, '')
		 FROM flights.aircraft
		 WHERE is_ice_charter
		 ORDER BY icao24`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked aircraft: %w", err)
	}
	defer rows.Close()

	var aircraft []flights.Aircraft
	for rows.Next() {
		var a flights.Aircraft
		if err := rows.Scan(&a.ICAO24, &a.Registration, &a.Operator, &a.AircraftType); err != nil {
			return nil, fmt.Errorf("failed to scan aircraft: %w", err)
		}
		aircraft = append(aircraft, a)
	}
	return aircraft, rows.Err()
}

// InsertObservations stores position reports, ignoring duplicates of
// (icao24, observed_at).
func (db *DB) InsertObservations(ctx context.Context, observations []flights.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, o := range observations {
		batch.Queue(
			`INSERT INTO flights.observations
			   (icao24, callsign, origin_country, longitude, latitude, altitude_m, velocity_ms,
			    heading, vertical_rate, on_ground, observed_at, source)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (icao24, observed_at) DO NOTHING`,
			o.ICAO24, nullString(o.Callsign), nullString(o.OriginCountry), o.Longitude, o.Latitude,
			o.AltitudeM, o.VelocityMS, o.Heading, o.VerticalRate, o.OnGround, o.ObservedAt, o.Source,
		)
	}
	return db.sendBatch(ctx, batch, "observation")
}
