package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ratchetdb/ratchet/api"
	"github.com/ratchetdb/ratchet/internal/data/repository"
	"github.com/ratchetdb/ratchet/internal/metrics"
	"github.com/rs/zerolog"
)

// Source loads migrations from wherever they are authored. Implementations
// live outside the engine; the engine only sequences what they return.
type Source interface {
	Load() ([]api.Migration, error)
}

// Locker hands out the cross-process migration lock.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) (*LockHandle, error)
}

// runState tracks one migration run through its lifecycle. The lock release
// is the terminal cleanup step no matter which branch a run takes.
type runState int

const (
	stateIdle runState = iota
	stateLockAcquiring
	stateLockHeld
	stateApplying
	stateComplete
	stateFailed
	stateLockReleased
)

var runStateNames = map[runState]string{
	stateIdle:          "IDLE",
	stateLockAcquiring: "LOCK_ACQUIRING",
	stateLockHeld:      "LOCK_HELD",
	stateApplying:      "APPLYING",
	stateComplete:      "COMPLETE",
	stateFailed:        "FAILED",
	stateLockReleased:  "LOCK_RELEASED",
}

func (s runState) String() string { return runStateNames[s] }

// Orchestrator drives migration runs: it takes the lock, works out what is
// pending, applies each migration through the hook pipeline, records
// completion, and releases the lock on every exit path. It owns the
// database transaction for the duration of one migration's steps; hooks and
// the batched executor receive it by reference and never open their own.
type Orchestrator struct {
	db          DB
	locks       Locker
	history     repository.HistoryRepository
	checkpoints repository.CheckpointRepository
	registry    *api.Registry
	pipeline    *Pipeline
	batches     *BatchedExecutor
	dryRunner   *DryRunner
	sources     []Source
	lockTimeout time.Duration
	batchCfg    api.BatchConfig
	log         zerolog.Logger
}

// OrchestratorDeps wires an Orchestrator. DB, Locks, History, Registry and
// at least one Source are required.
type OrchestratorDeps struct {
	DB          DB
	Locks       Locker
	History     repository.HistoryRepository
	Checkpoints repository.CheckpointRepository
	Registry    *api.Registry
	Sources     []Source
	LockTimeout time.Duration
	Batch       api.BatchConfig
	Logger      zerolog.Logger
}

func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("orchestrator requires a database")
	}
	if deps.Locks == nil {
		return nil, fmt.Errorf("orchestrator requires a lock coordinator")
	}
	if deps.History == nil {
		return nil, fmt.Errorf("orchestrator requires a history repository")
	}
	if deps.Registry == nil {
		deps.Registry = api.NewRegistry()
	}
	if len(deps.Sources) == 0 {
		return nil, fmt.Errorf("orchestrator requires at least one migration source")
	}
	if deps.Batch.BatchSize <= 0 {
		deps.Batch.BatchSize = 1000
	}

	log := deps.Logger.With().Str("component", "orchestrator").Logger()
	pipeline := NewPipeline(deps.Logger)
	batches := NewBatchedExecutor(deps.Checkpoints, deps.Logger)

	return &Orchestrator{
		db:          deps.DB,
		locks:       deps.Locks,
		history:     deps.History,
		checkpoints: deps.Checkpoints,
		registry:    deps.Registry,
		pipeline:    pipeline,
		batches:     batches,
		dryRunner:   NewDryRunner(deps.Registry, pipeline, batches, deps.Logger),
		sources:     deps.Sources,
		lockTimeout: deps.LockTimeout,
		batchCfg:    deps.Batch,
		log:         log,
	}, nil
}

// Initialize creates the tracking tables. Idempotent.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.history.EnsureSchema(ctx, o.db); err != nil {
		return err
	}
	if o.checkpoints != nil {
		if err := o.checkpoints.EnsureSchema(ctx, o.db); err != nil {
			return err
		}
	}
	return nil
}

// load merges every source and sorts ascending by version.
func (o *Orchestrator) load() ([]api.Migration, error) {
	var all []api.Migration
	seen := make(map[string]string)
	for _, src := range o.sources {
		migrations, err := src.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load migrations: %w", err)
		}
		for _, m := range migrations {
			if m.Version == "" {
				return nil, fmt.Errorf("migration %q has an empty version", m.Name)
			}
			if prev, dup := seen[m.Version]; dup {
				return nil, fmt.Errorf("duplicate migration version %s (%s and %s)", m.Version, prev, m.Name)
			}
			seen[m.Version] = m.Name
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return strings.Compare(all[i].Version, all[j].Version) < 0
	})
	return all, nil
}

// Pending returns migrations with no applied record, ascending.
func (o *Orchestrator) Pending(ctx context.Context) ([]api.Migration, error) {
	all, err := o.load()
	if err != nil {
		return nil, err
	}
	records, err := o.history.Applied(ctx, o.db)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(records))
	for _, r := range records {
		applied[r.Version] = true
	}

	var pending []api.Migration
	for _, m := range all {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Records returns the applied-migration history, ascending by version.
func (o *Orchestrator) Records(ctx context.Context) ([]api.MigrationRecord, error) {
	records, err := o.history.Applied(ctx, o.db)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	return records, nil
}

// Status reports where the database stands relative to the known migrations.
func (o *Orchestrator) Status(ctx context.Context) (*api.MigrationStatus, error) {
	all, err := o.load()
	if err != nil {
		return nil, err
	}
	records, err := o.history.Applied(ctx, o.db)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	applied := make(map[string]api.MigrationRecord, len(records))
	for _, r := range records {
		applied[r.Version] = r
	}

	status := &api.MigrationStatus{}
	for _, m := range all {
		info := api.MigrationInfo{Version: m.Version, Name: m.Name}
		if rec, ok := applied[m.Version]; ok {
			at := rec.AppliedAt
			info.Applied = true
			info.AppliedAt = &at
			status.Applied++
			if strings.Compare(rec.Version, status.CurrentVersion) > 0 {
				status.CurrentVersion = rec.Version
			}
		} else {
			status.Pending++
		}
		status.Migrations = append(status.Migrations, info)
	}
	return status, nil
}

// Up applies every pending migration in ascending version order and returns
// the versions applied. On failure, migrations already committed stay
// committed, ON_ERROR hooks run best-effort, and the rest of the run is
// abandoned.
func (o *Orchestrator) Up(ctx context.Context) ([]string, error) {
	var applied []string
	err := o.run(ctx, "forward", func(ctx context.Context, log zerolog.Logger) error {
		pending, err := o.Pending(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			log.Info().Msg("no pending migrations")
			return nil
		}

		for _, m := range pending {
			if err := o.applyOne(ctx, m, log); err != nil {
				return err
			}
			applied = append(applied, m.Version)
		}
		return nil
	})
	return applied, err
}

// DownTo rolls back applied migrations in descending order until the
// database is at target. It refuses a migration with no applied record
// rather than guessing at the database's actual state.
func (o *Orchestrator) DownTo(ctx context.Context, target string) ([]string, error) {
	var reversed []string
	err := o.run(ctx, "backward", func(ctx context.Context, log zerolog.Logger) error {
		all, err := o.load()
		if err != nil {
			return err
		}

		for i := len(all) - 1; i >= 0; i-- {
			m := all[i]
			if strings.Compare(m.Version, target) <= 0 {
				break
			}
			applied, err := o.history.IsApplied(ctx, o.db, m.Version)
			if err != nil {
				return fmt.Errorf("failed to check record for %s: %w", m.Version, err)
			}
			if !applied {
				return &api.RecordMissingError{Version: m.Version}
			}
			if err := o.reverseOne(ctx, m, log); err != nil {
				return err
			}
			reversed = append(reversed, m.Version)
		}
		return nil
	})
	return reversed, err
}

// DryRun simulates every pending migration inside one discarded transaction
// and reports per-migration results. It holds the migration lock: the
// simulation runs real SQL and must not interleave with an actual run.
func (o *Orchestrator) DryRun(ctx context.Context) ([]api.DryRunResult, error) {
	var results []api.DryRunResult
	err := o.run(ctx, "dry-run", func(ctx context.Context, log zerolog.Logger) error {
		pending, err := o.Pending(ctx)
		if err != nil {
			return err
		}
		results, err = o.dryRunner.RunAll(ctx, o.db, pending, o.batchCfg)
		return err
	})
	return results, err
}

// run wraps one migration run in the lock lifecycle and state machine.
func (o *Orchestrator) run(ctx context.Context, direction string, body func(context.Context, zerolog.Logger) error) error {
	log := o.log.With().
		Str("run_id", uuid.NewString()).
		Str("direction", direction).
		Logger()
	metrics.RunsStarted.WithLabelValues(direction).Inc()

	state := stateIdle
	transition := func(next runState) {
		log.Debug().Stringer("from", state).Stringer("to", next).Msg("run state")
		state = next
	}

	transition(stateLockAcquiring)
	lockStart := time.Now()
	handle, err := o.locks.Acquire(ctx, o.lockTimeout)
	if err != nil {
		metrics.RunsFailed.WithLabelValues(direction).Inc()
		return err
	}
	metrics.LockWaitDuration.Observe(time.Since(lockStart).Seconds())
	transition(stateLockHeld)

	defer func() {
		// Release must survive caller cancellation; a leaked lock stalls
		// every later run until someone intervenes.
		if err := handle.Release(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Msg("failed to release migration lock")
		}
		transition(stateLockReleased)
	}()

	transition(stateApplying)
	if err := body(ctx, log); err != nil {
		metrics.RunsFailed.WithLabelValues(direction).Inc()
		transition(stateFailed)
		return err
	}
	transition(stateComplete)
	return nil
}

// applyOne applies a single migration. Direct migrations run entirely in
// one transaction; batched migrations split the boundary (BEFORE phases and
// direct DDL first, chunks independently, AFTER phases and the record last).
// An unresolvable hook name fails the migration before any phase or DDL has
// run, and ON_ERROR hooks do not fire for it; they only compensate work that
// actually started.
func (o *Orchestrator) applyOne(ctx context.Context, m api.Migration, log zerolog.Logger) error {
	hooks, err := o.registry.Resolve(m.Hooks)
	if err != nil {
		return &api.MigrationError{Version: m.Version, Name: m.Name, Direction: "forward", Err: err}
	}
	hctx := api.NewHookContext(m.Version, m.Name, "forward")
	start := time.Now()

	log.Info().Str("migration", m.Version).Str("name", m.Name).Msg("applying migration")

	var applyErr error
	if m.BatchUp == nil {
		applyErr = o.applyDirect(ctx, m, hooks, hctx, start)
	} else {
		applyErr = o.applyBatched(ctx, m, hooks, hctx, start)
	}
	if applyErr != nil {
		o.runOnError(ctx, hooks, hctx, log)
		return &api.MigrationError{Version: m.Version, Name: m.Name, Direction: "forward", Err: applyErr}
	}

	metrics.MigrationsApplied.Inc()
	metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	log.Info().
		Str("migration", m.Version).
		Dur("duration", time.Since(start)).
		Msg("migration applied")
	return nil
}

func (o *Orchestrator) applyDirect(ctx context.Context, m api.Migration, hooks []api.NamedHook, hctx *api.HookContext, start time.Time) error {
	tx, err := o.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = func() error {
		if _, err := o.pipeline.Run(ctx, tx, api.BeforeValidation, hooks, hctx); err != nil {
			return err
		}
		if _, err := o.pipeline.Run(ctx, tx, api.BeforeDDL, hooks, hctx); err != nil {
			return err
		}
		if m.Up != nil {
			if err := m.Up(ctx, tx); err != nil {
				return fmt.Errorf("forward operation failed: %w", err)
			}
		}
		if _, err := o.pipeline.Run(ctx, tx, api.AfterDDL, hooks, hctx); err != nil {
			return err
		}
		if _, err := o.pipeline.Run(ctx, tx, api.AfterValidation, hooks, hctx); err != nil {
			return err
		}
		rec := api.MigrationRecord{
			Version:         m.Version,
			Name:            m.Name,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
		if err := o.history.Insert(ctx, tx, rec); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		if _, err := o.pipeline.Run(ctx, tx, api.Cleanup, hooks, hctx); err != nil {
			return err
		}
		return nil
	}()
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

func (o *Orchestrator) applyBatched(ctx context.Context, m api.Migration, hooks []api.NamedHook, hctx *api.HookContext, start time.Time) error {
	// BEFORE phases and any direct DDL commit before the chunks start, so
	// every chunk sees the prepared schema.
	tx, err := o.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	err = func() error {
		if _, err := o.pipeline.Run(ctx, tx, api.BeforeValidation, hooks, hctx); err != nil {
			return err
		}
		if _, err := o.pipeline.Run(ctx, tx, api.BeforeDDL, hooks, hctx); err != nil {
			return err
		}
		if m.Up != nil {
			if err := m.Up(ctx, tx); err != nil {
				return fmt.Errorf("forward operation failed: %w", err)
			}
		}
		return nil
	}()
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit pre-batch transaction: %w", err)
	}

	if _, err := o.batches.Run(ctx, o.db, m.Version, m.BatchUp, o.batchCfg); err != nil {
		return err
	}

	tx, err = o.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin post-batch transaction: %w", err)
	}
	err = func() error {
		if _, err := o.pipeline.Run(ctx, tx, api.AfterDDL, hooks, hctx); err != nil {
			return err
		}
		if _, err := o.pipeline.Run(ctx, tx, api.AfterValidation, hooks, hctx); err != nil {
			return err
		}
		rec := api.MigrationRecord{
			Version:         m.Version,
			Name:            m.Name,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
		if err := o.history.Insert(ctx, tx, rec); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		if _, err := o.pipeline.Run(ctx, tx, api.Cleanup, hooks, hctx); err != nil {
			return err
		}
		return nil
	}()
	if err != nil {
		_ = tx.Rollback(ctx)
		// Chunks have committed; the rollback only undoes AFTER-phase work.
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit post-batch transaction: %w", err)
	}
	return nil
}

// reverseOne rolls back a single migration: mirror phases, the reverse
// operation, and record deletion, all in one transaction.
func (o *Orchestrator) reverseOne(ctx context.Context, m api.Migration, log zerolog.Logger) error {
	if m.Down == nil {
		return &api.MigrationError{
			Version: m.Version, Name: m.Name, Direction: "backward",
			Err: fmt.Errorf("migration has no reverse operation"),
		}
	}
	hooks, err := o.registry.Resolve(m.Hooks)
	if err != nil {
		return &api.MigrationError{Version: m.Version, Name: m.Name, Direction: "backward", Err: err}
	}
	hctx := api.NewHookContext(m.Version, m.Name, "backward")

	log.Info().Str("migration", m.Version).Str("name", m.Name).Msg("rolling back migration")

	tx, err := o.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	err = func() error {
		if _, err := o.pipeline.Run(ctx, tx, api.BeforeValidation, hooks, hctx); err != nil {
			return err
		}
		if _, err := o.pipeline.Run(ctx, tx, api.BeforeDDL, hooks, hctx); err != nil {
			return err
		}
		if err := m.Down(ctx, tx); err != nil {
			return fmt.Errorf("reverse operation failed: %w", err)
		}
		if _, err := o.pipeline.Run(ctx, tx, api.AfterDDL, hooks, hctx); err != nil {
			return err
		}
		if _, err := o.pipeline.Run(ctx, tx, api.AfterValidation, hooks, hctx); err != nil {
			return err
		}
		if err := o.history.Delete(ctx, tx, m.Version); err != nil {
			return fmt.Errorf("failed to delete migration record: %w", err)
		}
		if _, err := o.pipeline.Run(ctx, tx, api.Cleanup, hooks, hctx); err != nil {
			return err
		}
		return nil
	}()
	if err != nil {
		_ = tx.Rollback(ctx)
		o.runOnError(ctx, hooks, hctx, log)
		return &api.MigrationError{Version: m.Version, Name: m.Name, Direction: "backward", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}

	metrics.MigrationsRolledBack.Inc()
	log.Info().Str("migration", m.Version).Msg("migration rolled back")
	return nil
}

// runOnError fires ON_ERROR hooks on a fresh transaction after the failed
// migration's transaction is gone. They must not assume the failed
// migration's changes exist; their own failure is logged, never propagated.
func (o *Orchestrator) runOnError(ctx context.Context, hooks []api.NamedHook, hctx *api.HookContext, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)
	tx, err := o.db.Begin(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not open transaction for ON_ERROR hooks")
		return
	}
	if _, err := o.pipeline.Run(ctx, tx, api.OnError, hooks, hctx); err != nil {
		log.Warn().Err(err).Msg("ON_ERROR hook failed")
		_ = tx.Rollback(ctx)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to commit ON_ERROR work")
	}
}
