package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/metrics"
)

// DefaultCheckpointInterval is how many batches pass between checkpoint saves.
const DefaultCheckpointInterval = 10

// Pipeline drives a Source through the run loop.
type Pipeline[R any, W any] struct {
	source   Source[R, W]
	store    CheckpointStore
	logger   *zap.Logger
	interval int
	now      func() time.Time
}

// New creates a Pipeline for source persisting checkpoints in store.
func New[R any, W any](source Source[R, W], store CheckpointStore, logger *zap.Logger) *Pipeline[R, W] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline[R, W]{
		source:   source,
		store:    store,
		logger:   logger.Named("pipeline").With(zap.String("pipeline", source.Name())),
		interval: DefaultCheckpointInterval,
		now:      time.Now,
	}
}

// Name returns the source's pipeline name.
func (p *Pipeline[R, W]) Name() string {
	return p.source.Name()
}

// Run executes batches until the source is exhausted or MaxBatches is hit.
// Stats are returned on failure as well as on success.
//
// The in-memory checkpoint only advances after a successful upsert (or in
// dry-run), so an upsert failure persists the checkpoint from before the
// failed batch and a rerun fetches that batch again.
func (p *Pipeline[R, W]) Run(ctx context.Context, opts Options) (*Stats, error) {
	name := p.source.Name()
	stats := &Stats{Pipeline: name, StartedAt: p.now(), Status: StatusRunning}

	checkpoint := Checkpoint{}
	if !opts.Reset {
		saved, err := p.store.LoadCheckpoint(ctx, name)
		if err != nil {
			return p.fail(stats, fmt.Errorf("failed to load checkpoint: %w", err))
		}
		if saved != nil {
			checkpoint = *saved
		}
	}

	p.logger.Info("starting pipeline",
		zap.Int("max_batches", opts.MaxBatches),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("reset", opts.Reset),
	)

	// upserts not yet reflected in a saved records_processed
	unsaved := 0

	for {
		if opts.MaxBatches > 0 && stats.BatchesProcessed >= opts.MaxBatches {
			p.logger.Info("reached max batches", zap.Int("max_batches", opts.MaxBatches))
			break
		}

		records, next, err := p.source.FetchBatch(ctx, checkpoint)
		if err != nil {
			return p.fail(stats, fmt.Errorf("fetch batch %d: %w", stats.BatchesProcessed+1, err))
		}
		stats.Fetched += len(records)
		metrics.PipelineRecordsTotal.WithLabelValues(name, "fetched").Add(float64(len(records)))

		if len(records) == 0 {
			// Sources may advance past data that yielded no records.
			checkpoint = next
			p.logger.Info("source exhausted")
			break
		}

		rows := p.transformBatch(ctx, records, stats)

		if len(rows) > 0 && !opts.DryRun {
			affected, err := p.source.Upsert(ctx, rows)
			if err != nil {
				stats.Errors++
				stats.LastError = err.Error()
				p.logger.Error("upsert failed", zap.Int("batch", stats.BatchesProcessed+1), zap.Error(err))

				saveErr := p.store.SaveCheckpoint(ctx, name, checkpoint, StateUpdate{
					Status:       StatusError,
					RecordsDelta: unsaved,
					Error:        err.Error(),
				})
				upsertErr := fmt.Errorf("upsert batch %d: %w", stats.BatchesProcessed+1, err)
				if saveErr != nil {
					upsertErr = errors.Join(upsertErr, fmt.Errorf("failed to save error checkpoint: %w", saveErr))
				}
				return p.fail(stats, upsertErr)
			}
			stats.Upserted += affected
			unsaved += affected
			metrics.PipelineRecordsTotal.WithLabelValues(name, "upserted").Add(float64(affected))
		}

		checkpoint = next
		stats.BatchesProcessed++
		metrics.PipelineBatchesTotal.WithLabelValues(name).Inc()

		if stats.BatchesProcessed%p.interval == 0 && !opts.DryRun {
			if err := p.store.SaveCheckpoint(ctx, name, checkpoint, StateUpdate{
				Status:       StatusRunning,
				RecordsDelta: unsaved,
			}); err != nil {
				return p.fail(stats, fmt.Errorf("failed to save checkpoint: %w", err))
			}
			unsaved = 0
		}

		p.logger.Debug("batch processed",
			zap.Int("batch", stats.BatchesProcessed),
			zap.Int("fetched", len(records)),
			zap.Int("rows", len(rows)),
		)
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressEvent{
				Pipeline: name,
				Batch:    stats.BatchesProcessed,
				Fetched:  len(records),
				Rows:     len(rows),
				Stats:    *stats,
			})
		}
	}

	stats.CompletedAt = p.now()
	stats.Status = StatusCompleted
	if !opts.DryRun {
		if err := p.store.SaveCheckpoint(ctx, name, checkpoint, StateUpdate{
			Status:       StatusCompleted,
			RecordsDelta: unsaved,
		}); err != nil {
			return p.fail(stats, fmt.Errorf("failed to save final checkpoint: %w", err))
		}
	}

	metrics.PipelineRunsTotal.WithLabelValues(name, string(StatusCompleted)).Inc()
	p.logger.Info("pipeline completed",
		zap.Int("batches", stats.BatchesProcessed),
		zap.Int("upserted", stats.Upserted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", stats.Duration()),
	)
	result := *stats
	return &result, nil
}

func (p *Pipeline[R, W]) transformBatch(ctx context.Context, records []R, stats *Stats) []W {
	name := p.source.Name()
	rows := make([]W, 0, len(records))
	for i, record := range records {
		row, ok, err := p.transformOne(ctx, record)
		switch {
		case err != nil:
			stats.Errors++
			stats.LastError = err.Error()
			metrics.PipelineRecordsTotal.WithLabelValues(name, "error").Inc()
			p.logger.Warn("transform failed", zap.Int("record", i), zap.Error(err))
		case !ok:
			stats.Skipped++
			metrics.PipelineRecordsTotal.WithLabelValues(name, "skipped").Inc()
		default:
			rows = append(rows, row)
			stats.Transformed++
			metrics.PipelineRecordsTotal.WithLabelValues(name, "transformed").Inc()
		}
	}
	return rows
}

// transformOne isolates a single record: a panic in adapter code counts as
// that record's error.
func (p *Pipeline[R, W]) transformOne(ctx context.Context, record R) (row W, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero W
			row, ok, err = zero, false, fmt.Errorf("transform panic: %v", r)
		}
	}()
	return p.source.Transform(ctx, record)
}

func (p *Pipeline[R, W]) fail(stats *Stats, err error) (*Stats, error) {
	stats.CompletedAt = p.now()
	stats.Status = StatusError
	stats.LastError = err.Error()
	metrics.PipelineRunsTotal.WithLabelValues(p.source.Name(), string(StatusError)).Inc()
	p.logger.Error("pipeline failed", zap.Error(err))
	result := *stats
	return &result, err
}
