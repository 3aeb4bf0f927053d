package postgres

import (
	"context"
	"fmt"

	"github.com/ratchetdb/ratchet/api"
)

// HistoryRepository tracks applied migrations in ratchet_migrations. All
// methods run against whatever Querier they are handed, so an insert can
// ride the migration's own transaction and commit atomically with the DDL.
type HistoryRepository struct{}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{}
}

func (r *HistoryRepository) EnsureSchema(ctx context.Context, q api.Querier) error {
	query := `
        CREATE TABLE IF NOT EXISTS ratchet_migrations (
            version VARCHAR(255) PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            execution_time_ms BIGINT NOT NULL DEFAULT 0
        )`

	if _, err := q.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create ratchet_migrations table: %w", err)
	}
	return nil
}

func (r *HistoryRepository) Applied(ctx context.Context, q api.Querier) ([]api.MigrationRecord, error) {
	query := `
        SELECT version, name, applied_at, execution_time_ms
        FROM ratchet_migrations
        ORDER BY version`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []api.MigrationRecord
	for rows.Next() {
		var rec api.MigrationRecord
		err := rows.Scan(
			&rec.Version,
			&rec.Name,
			&rec.AppliedAt,
			&rec.ExecutionTimeMs,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (r *HistoryRepository) IsApplied(ctx context.Context, q api.Querier, version string) (bool, error) {
	query := `
        SELECT COUNT(*)
        FROM ratchet_migrations
        WHERE version = $1`

	var count int
	if err := q.QueryRow(ctx, query, version).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *HistoryRepository) Insert(ctx context.Context, q api.Querier, rec api.MigrationRecord) error {
	query := `
        INSERT INTO ratchet_migrations (version, name, execution_time_ms)
        VALUES ($1, $2, $3)`

	_, err := q.Exec(ctx, query, rec.Version, rec.Name, rec.ExecutionTimeMs)
	return err
}

func (r *HistoryRepository) Delete(ctx context.Context, q api.Querier, version string) error {
	query := `
        DELETE FROM ratchet_migrations
        WHERE version = $1`

	_, err := q.Exec(ctx, query, version)
	return err
}
