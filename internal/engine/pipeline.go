package engine

import (
	"context"
	"time"

	"github.com/ratchetdb/ratchet/api"
	"github.com/rs/zerolog"
)

// Pipeline runs hooks for one phase inside the caller's transaction. It has
// no retry policy; retries, if any, belong to the caller.
type Pipeline struct {
	log zerolog.Logger
}

func NewPipeline(log zerolog.Logger) *Pipeline {
	return &Pipeline{log: log.With().Str("component", "pipeline").Logger()}
}

// Run executes every hook bound to phase, in the order given, against q.
// The first failing hook aborts the phase: its error comes back wrapped as
// *api.HookError and the remaining hooks in the phase do not run.
//
// Hooks bound to other phases are skipped, so callers can hand over the full
// resolved hook set on every call.
func (p *Pipeline) Run(
	ctx context.Context,
	q api.Querier,
	phase api.HookPhase,
	hooks []api.NamedHook,
	hctx *api.HookContext,
) ([]api.HookResult, error) {
	if err := hctx.EnterPhase(phase); err != nil {
		return nil, err
	}

	var results []api.HookResult
	for _, nh := range hooks {
		if nh.Hook.Phase() != phase {
			continue
		}

		start := time.Now()
		p.log.Debug().
			Str("hook", nh.Name).
			Stringer("phase", phase).
			Str("migration", hctx.Version).
			Msg("executing hook")

		result, err := nh.Hook.Execute(ctx, q, hctx)
		duration := time.Since(start)
		if err != nil {
			p.log.Error().
				Err(err).
				Str("hook", nh.Name).
				Stringer("phase", phase).
				Dur("duration", duration).
				Str("migration", hctx.Version).
				Msg("hook failed")
			return results, &api.HookError{Hook: nh.Name, Phase: phase, Err: err}
		}

		result.Hook = nh.Name
		result.Phase = phase
		result.Duration = duration
		results = append(results, result)

		p.log.Info().
			Str("hook", nh.Name).
			Stringer("phase", phase).
			Dur("duration", duration).
			Int64("rows_affected", result.RowsAffected).
			Str("migration", hctx.Version).
			Msg("hook completed")
	}

	return results, nil
}
