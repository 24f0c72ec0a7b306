package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/iety/internal/pipeline"
)

// LoadCheckpoint returns the saved checkpoint for a pipeline, or nil if it
// has never run.
func (db *DB) LoadCheckpoint(ctx context.Context, pipelineName string) (*pipeline.Checkpoint, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx,
		`SELECT checkpoint FROM integration.sync_state WHERE pipeline_name = $1`,
		pipelineName,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint for %s: %w", pipelineName, err)
	}

	var cp pipeline.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint for %s: %w", pipelineName, err)
	}
	return &cp, nil
}

// SaveCheckpoint upserts the pipeline's sync_state row. records_processed is
// incremented by update.RecordsDelta; last_error is only replaced when
// update.Error is set.
func (db *DB) SaveCheckpoint(ctx context.Context, pipelineName string, cp pipeline.Checkpoint, update pipeline.StateUpdate) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	status := update.Status
	if status == "" {
		status = pipeline.StatusIdle
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO integration.sync_state
		   (pipeline_name, checkpoint, last_sync_at, records_processed, status, last_error, last_error_at)
		 VALUES ($1, $2, NOW(), $3, $4, $5::text, CASE WHEN $5::text IS NULL THEN NULL ELSE NOW() END)
		 ON CONFLICT (pipeline_name) DO UPDATE SET
		   checkpoint = EXCLUDED.checkpoint,
		   last_sync_at = EXCLUDED.last_sync_at,
		   records_processed = integration.sync_state.records_processed + EXCLUDED.records_processed,
		   status = EXCLUDED.status,
		   last_error = COALESCE(EXCLUDED.last_error, integration.sync_state.last_error),
		   last_error_at = COALESCE(EXCLUDED.last_error_at, integration.sync_state.last_error_at),
		   updated_at = NOW()`,
		pipelineName, raw, int64(update.RecordsDelta), string(status), nullString(update.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", pipelineName, err)
	}
	return nil
}

// ListSyncStates returns every pipeline's sync_state row ordered by name.
func (db *DB) ListSyncStates(ctx context.Context) ([]pipeline.SyncState, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT pipeline_name, last_sync_at, checkpoint, records_processed, status,
		        COALESCE(last_error, ''), last_error_at
		 FROM integration.sync_state ORDER BY pipeline_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}
	defer rows.Close()

	var states []pipeline.SyncState
	for rows.Next() {
		var s pipeline.SyncState
		var raw []byte
		var status string
		if err := rows.Scan(&s.PipelineName, &s.LastSyncAt, &raw, &s.RecordsProcessed, &status, &s.LastError, &s.LastErrorAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		s.Status = pipeline.Status(status)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &s.Checkpoint); err != nil {
				return nil, fmt.Errorf("failed to decode checkpoint for %s: %w", s.PipelineName, err)
			}
		}
		states = append(states, s)
	}
	return states, rows.Err()
}
