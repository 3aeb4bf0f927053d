package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ratchetdb/ratchet/api"
)

// CheckpointRepository persists batched-execution progress in
// ratchet_batch_checkpoints. Checkpoints outlive a failed run on purpose: a
// resumed run reads them to skip chunks that already committed.
type CheckpointRepository struct{}

func NewCheckpointRepository() *CheckpointRepository {
	return &CheckpointRepository{}
}

func (r *CheckpointRepository) EnsureSchema(ctx context.Context, q api.Querier) error {
	query := `
        CREATE TABLE IF NOT EXISTS ratchet_batch_checkpoints (
            version VARCHAR(255) PRIMARY KEY,
            chunks_completed INT NOT NULL,
            rows_processed BIGINT NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`

	if _, err := q.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create ratchet_batch_checkpoints table: %w", err)
	}
	return nil
}

func (r *CheckpointRepository) Load(ctx context.Context, q api.Querier, version string) (int, int64, error) {
	query := `
        SELECT chunks_completed, rows_processed
        FROM ratchet_batch_checkpoints
        WHERE version = $1`

	var chunks int
	var rows int64
	err := q.QueryRow(ctx, query, version).Scan(&chunks, &rows)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return chunks, rows, nil
}

func (r *CheckpointRepository) Save(ctx context.Context, q api.Querier, version string, chunks int, rows int64) error {
	query := `
        INSERT INTO ratchet_batch_checkpoints (version, chunks_completed, rows_processed, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (version) DO UPDATE
        SET chunks_completed = EXCLUDED.chunks_completed,
            rows_processed = EXCLUDED.rows_processed,
            updated_at = NOW()`

	_, err := q.Exec(ctx, query, version, chunks, rows)
	return err
}

func (r *CheckpointRepository) Clear(ctx context.Context, q api.Querier, version string) error {
	query := `
        DELETE FROM ratchet_batch_checkpoints
        WHERE version = $1`

	_, err := q.Exec(ctx, query, version)
	return err
}
