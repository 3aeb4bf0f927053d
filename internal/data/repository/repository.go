package repository

import (
	"context"

	"github.com/ratchetdb/ratchet/api"
)

// HistoryRepository is the minimal record contract the engine needs:
// insert-on-apply, delete-on-rollback, and enumeration. Methods take a
// Querier so a record insert can share the migration's own transaction.
type HistoryRepository interface {
	EnsureSchema(ctx context.Context, q api.Querier) error
	Applied(ctx context.Context, q api.Querier) ([]api.MigrationRecord, error)
	IsApplied(ctx context.Context, q api.Querier, version string) (bool, error)
	Insert(ctx context.Context, q api.Querier, rec api.MigrationRecord) error
	Delete(ctx context.Context, q api.Querier, version string) error
}

// CheckpointRepository persists batched-execution progress per migration
// version so a retry can skip chunks that already committed.
type CheckpointRepository interface {
	EnsureSchema(ctx context.Context, q api.Querier) error
	Load(ctx context.Context, q api.Querier, version string) (chunks int, rows int64, err error)
	Save(ctx context.Context, q api.Querier, version string, chunks int, rows int64) error
	Clear(ctx context.Context, q api.Querier, version string) error
}
