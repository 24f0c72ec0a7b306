// Package pipeline provides the resumable fetch, transform, upsert and
// checkpoint loop shared by every ingestion source.
package pipeline

import (
	"context"
	"time"
)

// Status is the persisted state of a pipeline in sync_state.
type Status string

// Pipeline status constants
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusError     Status = "error"
	StatusCompleted Status = "completed"
)

// Checkpoint is the opaque resumption cursor a source hands back from each
// FetchBatch call. Sources use whichever fields suit their pagination.
type Checkpoint struct {
	Cursor   string         `json:"cursor,omitempty"`
	Page     int            `json:"page"`
	Offset   int            `json:"offset"`
	LastID   string         `json:"last_id,omitempty"`
	LastDate *time.Time     `json:"last_date,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetaString returns a string metadata value, or "" when absent.
func (c Checkpoint) MetaString(key string) string {
	if v, ok := c.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns a boolean metadata value, or false when absent.
func (c Checkpoint) MetaBool(key string) bool {
	if v, ok := c.Metadata[key].(bool); ok {
		return v
	}
	return false
}

// Stats are the counters for a single run. A fresh Stats is created per run
// and a copy is returned to the caller.
type Stats struct {
	Pipeline         string    `json:"pipeline"`
	Fetched          int       `json:"fetched"`
	Transformed      int       `json:"transformed"`
	Upserted         int       `json:"upserted"`
	Skipped          int       `json:"skipped"`
	Errors           int       `json:"errors"`
	BatchesProcessed int       `json:"batches_processed"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	LastError        string    `json:"last_error,omitempty"`
	Status           Status    `json:"status"`
}

// Duration is the wall time between start and completion.
func (s Stats) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// SyncState is the persisted per-pipeline row.
type SyncState struct {
	PipelineName     string
	LastSyncAt       *time.Time
	Checkpoint       Checkpoint
	RecordsProcessed int64
	Status           Status
	LastError        string
	LastErrorAt      *time.Time
}

// StateUpdate accompanies a checkpoint save. RecordsDelta is added to the
// cumulative records_processed; a non-empty Error replaces last_error.
type StateUpdate struct {
	Status       Status
	RecordsDelta int
	Error        string
}

// CheckpointStore persists checkpoints keyed by pipeline name.
type CheckpointStore interface {
	// LoadCheckpoint returns nil when the pipeline has never saved one.
	LoadCheckpoint(ctx context.Context, pipelineName string) (*Checkpoint, error)
	SaveCheckpoint(ctx context.Context, pipelineName string, cp Checkpoint, update StateUpdate) error
}

// Source is implemented by every ingestion adapter. R is the raw record type
// returned by the external API and W the row type written to storage.
type Source[R any, W any] interface {
	Name() string
	// FetchBatch returns the next records and the checkpoint that follows
	// them. An empty slice means the source is exhausted; the checkpoint
	// returned with it is still saved.
	FetchBatch(ctx context.Context, cp Checkpoint) ([]R, Checkpoint, error)
	// Transform maps one record. ok=false skips it without counting an error.
	Transform(ctx context.Context, record R) (row W, ok bool, err error)
	// Upsert writes rows idempotently and returns the number affected.
	Upsert(ctx context.Context, rows []W) (int, error)
}

// Options control a single run.
type Options struct {
	// MaxBatches caps the batches processed; zero or less means no limit.
	MaxBatches int
	DryRun     bool
	Reset      bool
	OnProgress ProgressCallback
}

// ProgressEvent is emitted after each processed batch.
type ProgressEvent struct {
	Pipeline string
	Batch    int
	Fetched  int
	Rows     int
	Stats    Stats
}

// ProgressCallback is called when a batch completes.
type ProgressCallback func(event ProgressEvent)

// Runner is a pipeline with its record types erased, so callers can hold
// heterogeneous pipelines in one map.
type Runner interface {
	Name() string
	Run(ctx context.Context, opts Options) (*Stats, error)
}
