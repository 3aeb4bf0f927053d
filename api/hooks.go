package api

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HookPhase is one of six fixed points in a migration's lifecycle. The
// ordinal values define the only legal firing order; the pipeline rejects
// out-of-order invocation rather than trusting callers.
type HookPhase int

const (
	BeforeValidation HookPhase = iota + 1
	BeforeDDL
	AfterDDL
	AfterValidation
	Cleanup
	OnError
)

var phaseNames = map[HookPhase]string{
	BeforeValidation: "BEFORE_VALIDATION",
	BeforeDDL:        "BEFORE_DDL",
	AfterDDL:         "AFTER_DDL",
	AfterValidation:  "AFTER_VALIDATION",
	Cleanup:          "CLEANUP",
	OnError:          "ON_ERROR",
}

func (p HookPhase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("HookPhase(%d)", int(p))
}

// Ordinal returns the position of the phase in the fixed firing order.
func (p HookPhase) Ordinal() int { return int(p) }

// Hook is extension-supplied logic bound to exactly one phase. The engine
// treats a hook as stateless; any state is the implementation's own concern.
//
// Execute runs inside the migration's transaction, except for OnError hooks,
// which run after that transaction has been rolled back and must not assume
// the failed migration's changes exist.
type Hook interface {
	Phase() HookPhase
	Execute(ctx context.Context, q Querier, hctx *HookContext) (HookResult, error)
}

// HookContext is the read-only bundle every hook receives for one migration
// attempt. Data is a free-form map for cross-hook exchange within the same
// attempt; treating it as read-only outside one's own keys is convention.
type HookContext struct {
	Version   string
	Name      string
	Direction string
	Phase     HookPhase
	StartedAt time.Time
	Data      map[string]any

	lastPhase HookPhase
}

// NewHookContext builds the context for one migration attempt.
func NewHookContext(version, name, direction string) *HookContext {
	return &HookContext{
		Version:   version,
		Name:      name,
		Direction: direction,
		StartedAt: time.Now(),
		Data:      make(map[string]any),
	}
}

// Elapsed reports time spent on the attempt so far.
func (c *HookContext) Elapsed() time.Duration { return time.Since(c.StartedAt) }

// EnterPhase records that a phase is about to fire and rejects any attempt
// to move backwards through the ordering.
func (c *HookContext) EnterPhase(p HookPhase) error {
	if p.Ordinal() < c.lastPhase.Ordinal() {
		return fmt.Errorf("phase %s invoked after %s: phases must fire in ascending order", p, c.lastPhase)
	}
	c.lastPhase = p
	c.Phase = p
	return nil
}

// HookResult is advisory output from one hook execution. It never changes
// control flow by itself.
type HookResult struct {
	Hook         string        `json:"hook"`
	Phase        HookPhase     `json:"phase"`
	RowsAffected int64         `json:"rowsAffected"`
	Warnings     []string      `json:"warnings,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// HookError wraps a hook failure with the hook's name and phase. The
// original cause is reachable through errors.Unwrap.
type HookError struct {
	Hook  string
	Phase HookPhase
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s failed in phase %s: %v", e.Hook, e.Phase, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Registry maps hook names to implementations. It is an explicit value
// handed to the orchestrator at construction. Registration order is
// preserved and is the order the pipeline executes hooks in.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]Hook
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]Hook)}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry the ratchet binary
// wires into its orchestrator. Embedding applications can use it or build
// their own.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register binds a name to a hook. Re-registering a name silently replaces
// the implementation but keeps the name's original position in the
// execution order.
func (r *Registry) Register(name string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hooks[name]; !exists {
		r.order = append(r.order, name)
	}
	r.hooks[name] = h
}

// Get returns the hook bound to name.
func (r *Registry) Get(name string) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[name]
	return h, ok
}

// Names lists registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// NamedHook pairs a hook with the name it was registered under.
type NamedHook struct {
	Name string
	Hook Hook
}

// Resolve maps hook names to implementations, preserving the given order.
func (r *Registry) Resolve(names []string) ([]NamedHook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NamedHook, 0, len(names))
	for _, name := range names {
		h, ok := r.hooks[name]
		if !ok {
			return nil, fmt.Errorf("hook %q is not registered", name)
		}
		out = append(out, NamedHook{Name: name, Hook: h})
	}
	return out, nil
}

// HookFunc adapts a function to the Hook interface for the common case of
// single-purpose hooks.
type HookFunc struct {
	HookPhase HookPhase
	Fn        func(ctx context.Context, q Querier, hctx *HookContext) (HookResult, error)
}

func (h HookFunc) Phase() HookPhase { return h.HookPhase }

func (h HookFunc) Execute(ctx context.Context, q Querier, hctx *HookContext) (HookResult, error) {
	return h.Fn(ctx, q, hctx)
}
