package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ratchetdb/ratchet/api"
	"github.com/ratchetdb/ratchet/internal/data/repository"
	"github.com/rs/zerolog"
)

// DB is the database surface the engine needs: ad-hoc queries plus the
// ability to open transactions. *pgxpool.Pool satisfies it.
type DB interface {
	api.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BatchedExecutor runs a table-mutating operation in bounded chunks, each
// its own committed transaction, with a pause between chunks. Chunking
// bounds lock hold time and WAL volume per statement at the cost of
// single-statement atomicity: a failure mid-way leaves earlier chunks
// applied. Progress is checkpointed per migration version so a retry can
// account for committed chunks instead of silently starting over.
type BatchedExecutor struct {
	checkpoints repository.CheckpointRepository
	log         zerolog.Logger
}

func NewBatchedExecutor(checkpoints repository.CheckpointRepository, log zerolog.Logger) *BatchedExecutor {
	return &BatchedExecutor{
		checkpoints: checkpoints,
		log:         log.With().Str("component", "batch").Logger(),
	}
}

// Run drives op to completion against db. Each chunk commits independently;
// a chunk failure after committed chunks surfaces *api.BatchPartialError so
// the caller knows rollback cannot undo the progress already made. The
// pause between chunks is cancellable through ctx.
func (e *BatchedExecutor) Run(
	ctx context.Context,
	db DB,
	version string,
	op *api.BatchOperation,
	cfg api.BatchConfig,
) (api.BatchReport, error) {
	report := api.BatchReport{}
	if cfg.BatchSize <= 0 {
		return report, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}

	if e.checkpoints != nil {
		chunks, rows, err := e.checkpoints.Load(ctx, db, version)
		if err != nil {
			return report, fmt.Errorf("failed to load batch checkpoint for %s: %w", version, err)
		}
		if chunks > 0 {
			report.ChunksCompleted = chunks
			report.RowsProcessed = rows
			report.Resumed = true
			e.log.Info().
				Str("migration", version).
				Int("chunks_completed", chunks).
				Int64("rows_processed", rows).
				Msg("resuming batched operation from checkpoint")
		}
	}

	for {
		n, err := e.runChunk(ctx, db, op, cfg.BatchSize)
		if err != nil {
			return report, &api.BatchPartialError{
				Version:         version,
				ChunksCompleted: report.ChunksCompleted,
				RowsProcessed:   report.RowsProcessed,
				Err:             err,
			}
		}
		if n == 0 {
			break
		}

		report.ChunksCompleted++
		report.RowsProcessed += n
		e.log.Debug().
			Str("migration", version).
			Str("table", op.Table).
			Int("chunk", report.ChunksCompleted).
			Int64("rows", n).
			Msg("batch chunk committed")

		if e.checkpoints != nil {
			if err := e.checkpoints.Save(ctx, db, version, report.ChunksCompleted, report.RowsProcessed); err != nil {
				return report, &api.BatchPartialError{
					Version:         version,
					ChunksCompleted: report.ChunksCompleted,
					RowsProcessed:   report.RowsProcessed,
					Err:             fmt.Errorf("failed to save checkpoint: %w", err),
				}
			}
		}

		if int(n) < cfg.BatchSize {
			break
		}

		if cfg.Pause > 0 {
			select {
			case <-ctx.Done():
				return report, &api.BatchPartialError{
					Version:         version,
					ChunksCompleted: report.ChunksCompleted,
					RowsProcessed:   report.RowsProcessed,
					Err:             ctx.Err(),
				}
			case <-time.After(cfg.Pause):
			}
		}
	}

	if e.checkpoints != nil {
		if err := e.checkpoints.Clear(ctx, db, version); err != nil {
			return report, fmt.Errorf("batched operation for %s completed but checkpoint cleanup failed: %w", version, err)
		}
	}

	e.log.Info().
		Str("migration", version).
		Int("chunks", report.ChunksCompleted).
		Int64("rows", report.RowsProcessed).
		Msg("batched operation completed")
	return report, nil
}

func (e *BatchedExecutor) runChunk(ctx context.Context, db DB, op *api.BatchOperation, limit int) (int64, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin chunk transaction: %w", err)
	}

	n, err := op.Chunk(ctx, tx, limit)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	if n == 0 {
		// Nothing left to do; no point committing an empty transaction.
		_ = tx.Rollback(ctx)
		return 0, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit chunk: %w", err)
	}
	return n, nil
}

// RunInTx drives the same chunk loop inside an existing transaction, without
// commits, pauses or checkpoints. The dry-run simulator uses it so a batched
// migration can be rehearsed and discarded like any other.
func (e *BatchedExecutor) RunInTx(
	ctx context.Context,
	q api.Querier,
	op *api.BatchOperation,
	cfg api.BatchConfig,
) (api.BatchReport, error) {
	report := api.BatchReport{}
	if cfg.BatchSize <= 0 {
		return report, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}

	for {
		n, err := op.Chunk(ctx, q, cfg.BatchSize)
		if err != nil {
			return report, err
		}
		if n == 0 {
			break
		}
		report.ChunksCompleted++
		report.RowsProcessed += n
		if int(n) < cfg.BatchSize {
			break
		}
	}
	return report, nil
}
