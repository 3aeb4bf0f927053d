package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/ratchetdb/ratchet/api"
	"github.com/rs/zerolog"
)

// DryRunner executes migrations for real inside a transaction that is
// unconditionally discarded. Because it replays the exact production path
// (hooks included), a dry-run success is a strong predictor of a real-run
// success; timing-dependent failures (lock contention, concurrent load) can
// still differ, which is what the confidence figure hedges against.
type DryRunner struct {
	registry *api.Registry
	pipeline *Pipeline
	batches  *BatchedExecutor
	log      zerolog.Logger
}

func NewDryRunner(registry *api.Registry, pipeline *Pipeline, batches *BatchedExecutor, log zerolog.Logger) *DryRunner {
	return &DryRunner{
		registry: registry,
		pipeline: pipeline,
		batches:  batches,
		log:      log.With().Str("component", "dryrun").Logger(),
	}
}

const lockedTablesQuery = `
    SELECT DISTINCT c.relname
    FROM pg_locks l
    JOIN pg_class c ON c.oid = l.relation
    WHERE l.pid = pg_backend_pid()
      AND c.relkind IN ('r', 'p')
      AND l.mode LIKE '%ExclusiveLock'
      AND c.relname NOT LIKE 'ratchet_%'`

// Run simulates one migration. Migration-level failures come back inside
// the result (Success=false, warnings populated); only connection-level
// faults outside the simulated migration are returned as errors.
func (d *DryRunner) Run(ctx context.Context, db DB, m api.Migration, batchCfg api.BatchConfig) (api.DryRunResult, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return api.DryRunResult{Version: m.Version, Name: m.Name},
			fmt.Errorf("failed to begin dry-run transaction: %w", err)
	}
	defer d.discard(ctx, tx)

	return d.simulate(ctx, tx, m, batchCfg), nil
}

// RunAll simulates migrations sequentially inside a single discarded
// transaction, so each one sees its predecessors' schema the way a real run
// would. The first failure stops the sequence; later migrations are
// reported as skipped.
func (d *DryRunner) RunAll(ctx context.Context, db DB, migrations []api.Migration, batchCfg api.BatchConfig) ([]api.DryRunResult, error) {
	if len(migrations) == 0 {
		return nil, nil
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin dry-run transaction: %w", err)
	}
	defer d.discard(ctx, tx)

	results := make([]api.DryRunResult, 0, len(migrations))
	for i, m := range migrations {
		result := d.simulate(ctx, tx, m, batchCfg)
		results = append(results, result)
		if !result.Success {
			for _, rest := range migrations[i+1:] {
				results = append(results, api.DryRunResult{
					Version:  rest.Version,
					Name:     rest.Name,
					Success:  false,
					Warnings: []string{fmt.Sprintf("not simulated: dry-run stopped at %s", m.Version)},
				})
			}
			break
		}
	}
	return results, nil
}

func (d *DryRunner) simulate(ctx context.Context, tx pgx.Tx, m api.Migration, batchCfg api.BatchConfig) api.DryRunResult {
	result := api.DryRunResult{Version: m.Version, Name: m.Name}
	start := time.Now()

	rows, warnings, err := d.forward(ctx, tx, m, batchCfg)
	result.ExecutionTime = time.Since(start)
	result.RowsAffected = rows
	result.Warnings = warnings

	if err != nil {
		result.Success = false
		var hookErr *api.HookError
		if errors.As(err, &hookErr) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("hook %s failed in phase %s: %v", hookErr.Hook, hookErr.Phase, hookErr.Err))
		} else {
			result.Warnings = append(result.Warnings, err.Error())
		}
		d.log.Warn().Err(err).Str("migration", m.Version).Msg("dry-run failed")
		return result
	}

	result.Success = true
	result.LockedTables = d.sampleLockedTables(ctx, tx, &result)
	result.EstimatedProductionTime = result.ExecutionTime
	result.ConfidencePercent = 85
	d.log.Info().
		Str("migration", m.Version).
		Dur("execution_time", result.ExecutionTime).
		Int64("rows_affected", result.RowsAffected).
		Msg("dry-run succeeded")
	return result
}

// forward replays the production forward path for one migration inside tx.
// A batched operation runs through RunInTx: chunk math is exercised, but
// per-chunk commits are not, which callers are warned about.
func (d *DryRunner) forward(ctx context.Context, tx pgx.Tx, m api.Migration, batchCfg api.BatchConfig) (int64, []string, error) {
	hooks, err := d.registry.Resolve(m.Hooks)
	if err != nil {
		return 0, nil, err
	}
	hctx := api.NewHookContext(m.Version, m.Name, "forward")

	var rows int64
	var warnings []string
	collect := func(results []api.HookResult) {
		for _, r := range results {
			rows += r.RowsAffected
			warnings = append(warnings, r.Warnings...)
		}
	}

	results, err := d.pipeline.Run(ctx, tx, api.BeforeValidation, hooks, hctx)
	collect(results)
	if err != nil {
		return rows, warnings, err
	}
	results, err = d.pipeline.Run(ctx, tx, api.BeforeDDL, hooks, hctx)
	collect(results)
	if err != nil {
		return rows, warnings, err
	}

	if m.Up != nil {
		if err := m.Up(ctx, tx); err != nil {
			return rows, warnings, fmt.Errorf("forward operation failed: %w", err)
		}
	}
	if m.BatchUp != nil {
		report, err := d.batches.RunInTx(ctx, tx, m.BatchUp, batchCfg)
		rows += report.RowsProcessed
		warnings = append(warnings,
			"batched operation simulated in a single transaction; a production run commits per chunk")
		if err != nil {
			return rows, warnings, fmt.Errorf("batched operation failed: %w", err)
		}
	}

	results, err = d.pipeline.Run(ctx, tx, api.AfterDDL, hooks, hctx)
	collect(results)
	if err != nil {
		return rows, warnings, err
	}
	results, err = d.pipeline.Run(ctx, tx, api.AfterValidation, hooks, hctx)
	collect(results)
	if err != nil {
		return rows, warnings, err
	}
	results, err = d.pipeline.Run(ctx, tx, api.Cleanup, hooks, hctx)
	collect(results)
	if err != nil {
		return rows, warnings, err
	}

	return rows, warnings, nil
}

func (d *DryRunner) sampleLockedTables(ctx context.Context, tx pgx.Tx, result *api.DryRunResult) []string {
	rows, err := tx.Query(ctx, lockedTablesQuery)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("could not sample locked tables: %v", err))
		return nil
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not sample locked tables: %v", err))
			return tables
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("could not sample locked tables: %v", err))
	}
	return tables
}

func (d *DryRunner) discard(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		d.log.Error().Err(err).Msg("dry-run rollback failed; the connection will drop the transaction")
	}
}
