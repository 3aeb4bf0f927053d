package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/ratchetdb/ratchet/api"
	"github.com/rs/zerolog"
)

func TestPipelineRunsHooksInOrder(t *testing.T) {
	var trace []string
	hooks := []api.NamedHook{
		{Name: "first", Hook: &recordingHook{name: "first", phase: api.BeforeDDL, trace: &trace}},
		{Name: "other_phase", Hook: &recordingHook{name: "other_phase", phase: api.AfterDDL, trace: &trace}},
		{Name: "second", Hook: &recordingHook{name: "second", phase: api.BeforeDDL, trace: &trace, rows: 7}},
	}
	hctx := api.NewHookContext("001", "create_users", "forward")

	p := NewPipeline(zerolog.Nop())
	results, err := p.Run(context.Background(), newFakeDB(), api.BeforeDDL, hooks, hctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"first:BEFORE_DDL", "second:BEFORE_DDL"}
	if !reflect.DeepEqual(trace, want) {
		t.Errorf("Run() trace = %v, want %v", trace, want)
	}
	if len(results) != 2 {
		t.Fatalf("Run() returned %d results, want 2", len(results))
	}
	if results[0].Hook != "first" || results[1].Hook != "second" {
		t.Errorf("Run() result names = %s, %s", results[0].Hook, results[1].Hook)
	}
	if results[1].RowsAffected != 7 {
		t.Errorf("Run() rows for second = %d, want 7", results[1].RowsAffected)
	}
}

func TestPipelineStopsOnFirstFailure(t *testing.T) {
	var trace []string
	boom := fmt.Errorf("validation query failed")
	hooks := []api.NamedHook{
		{Name: "ok", Hook: &recordingHook{name: "ok", phase: api.BeforeValidation, trace: &trace}},
		{Name: "bad", Hook: &recordingHook{name: "bad", phase: api.BeforeValidation, trace: &trace, fail: boom}},
		{Name: "never", Hook: &recordingHook{name: "never", phase: api.BeforeValidation, trace: &trace}},
	}
	hctx := api.NewHookContext("001", "create_users", "forward")

	p := NewPipeline(zerolog.Nop())
	results, err := p.Run(context.Background(), newFakeDB(), api.BeforeValidation, hooks, hctx)

	var hookErr *api.HookError
	if !errors.As(err, &hookErr) {
		t.Fatalf("Run() error = %v, want *api.HookError", err)
	}
	if hookErr.Hook != "bad" || hookErr.Phase != api.BeforeValidation {
		t.Errorf("Run() HookError = %s/%s", hookErr.Hook, hookErr.Phase)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Run() error does not wrap the hook's failure")
	}

	want := []string{"ok:BEFORE_VALIDATION", "bad:BEFORE_VALIDATION"}
	if !reflect.DeepEqual(trace, want) {
		t.Errorf("Run() trace = %v, want %v", trace, want)
	}
	if len(results) != 1 || results[0].Hook != "ok" {
		t.Errorf("Run() partial results = %+v, want just ok", results)
	}
}

func TestPipelineRejectsPhaseRegression(t *testing.T) {
	hctx := api.NewHookContext("001", "create_users", "forward")
	p := NewPipeline(zerolog.Nop())
	db := newFakeDB()

	if _, err := p.Run(context.Background(), db, api.AfterDDL, nil, hctx); err != nil {
		t.Fatalf("Run(AFTER_DDL) error = %v", err)
	}
	if _, err := p.Run(context.Background(), db, api.BeforeDDL, nil, hctx); err == nil {
		t.Fatal("Run(BEFORE_DDL) after AFTER_DDL succeeded, want phase order error")
	}
}

func TestPipelineAllowsRepeatedPhase(t *testing.T) {
	hctx := api.NewHookContext("001", "create_users", "forward")
	p := NewPipeline(zerolog.Nop())
	db := newFakeDB()

	if _, err := p.Run(context.Background(), db, api.Cleanup, nil, hctx); err != nil {
		t.Fatalf("Run(CLEANUP) error = %v", err)
	}
	if _, err := p.Run(context.Background(), db, api.OnError, nil, hctx); err != nil {
		t.Fatalf("Run(ON_ERROR) after CLEANUP error = %v", err)
	}
}
