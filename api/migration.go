package api

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the slice of a pgx connection handed to migrations and hooks.
// *pgxpool.Pool, *pgx.Conn and pgx.Tx all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MigrationFunc is one direction of a migration. It runs its own statements
// against the connection it is given and must not commit or roll back.
type MigrationFunc func(ctx context.Context, q Querier) error

// BatchOperation is a table-mutating operation executed in row-bounded
// chunks. Chunk processes at most limit rows and reports how many it
// touched; the executor stops once a chunk reports zero.
type BatchOperation struct {
	Table string
	Chunk func(ctx context.Context, q Querier, limit int) (int64, error)
}

// Migration is one versioned unit of forward/reverse schema change.
// Immutable once defined; the orchestrator never mutates it.
type Migration struct {
	Version string
	Name    string

	// Up and Down run inside the transaction the orchestrator opens for
	// this migration. Down may be nil for irreversible migrations.
	Up   MigrationFunc
	Down MigrationFunc

	// BatchUp, when set, replaces the single-statement forward path with
	// chunked execution. See engine.BatchedExecutor for the atomicity
	// trade-off this implies.
	BatchUp *BatchOperation

	// Hooks names registry hooks to run during this migration's lifecycle,
	// in registration order. Unknown names fail the run before any DDL.
	Hooks []string
}

// MigrationRecord is the persisted fact that a version has been applied.
// At most one record exists per version.
type MigrationRecord struct {
	Version         string    `json:"version" db:"version"`
	Name            string    `json:"name" db:"name"`
	AppliedAt       time.Time `json:"appliedAt" db:"applied_at"`
	ExecutionTimeMs int64     `json:"executionTimeMs" db:"execution_time_ms"`
}

// MigrationInfo is one row of a status report.
type MigrationInfo struct {
	Version   string     `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"appliedAt,omitempty"`
}

// MigrationStatus summarizes where the database stands relative to the
// known migrations.
type MigrationStatus struct {
	CurrentVersion string          `json:"currentVersion"`
	Applied        int             `json:"applied"`
	Pending        int             `json:"pending"`
	Migrations     []MigrationInfo `json:"migrations"`
}

// BatchConfig bounds chunked execution. BatchSize must be positive; the
// engine enforces no other defaults.
type BatchConfig struct {
	BatchSize int
	Pause     time.Duration
}

// BatchReport exposes how far a batched operation got, so callers can decide
// between resume, retry and manual repair after a partial failure.
type BatchReport struct {
	ChunksCompleted int
	RowsProcessed   int64
	Resumed         bool
}
