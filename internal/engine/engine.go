// Package engine executes validated workflow DAGs: readiness-based
// concurrent scheduling, reference resolution against the output store,
// per-node timeouts and retries, and event emission to the session stream.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/fluxus-dev/fluxus/internal/refs"
	"github.com/fluxus-dev/fluxus/internal/validation"
	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// MaxWorkers caps per-run node concurrency.
const MaxWorkers = 8

// DefaultNodeTimeout applies when neither the node params nor the catalog
// spec provide one.
const DefaultNodeTimeout = 60 * time.Second

// Emitter publishes events onto the run's session stream. Implementations
// stamp timestamps and session ids; the engine only supplies kind and
// payload.
type Emitter interface {
	Emit(kind string, payload any)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(kind string, payload any)

func (f EmitterFunc) Emit(kind string, payload any) { f(kind, payload) }

// Engine validates and runs workflow documents against a frozen node
// registry. One Engine serves many concurrent runs.
type Engine struct {
	registry  *catalog.Registry
	validator *validation.Validator
	cond      *ConditionEvaluator
	retry     RetryPolicy

	defaultTimeout time.Duration
	cancelSiblings bool
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides the default transient-failure retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithDefaultTimeout overrides the fallback per-node deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultTimeout = d }
}

// WithCancelSiblingsOnFailure makes a node failure cancel the whole run
// instead of letting independent branches finish.
func WithCancelSiblingsOnFailure(v bool) Option {
	return func(e *Engine) { e.cancelSiblings = v }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over the given registry.
func New(registry *catalog.Registry, opts ...Option) (*Engine, error) {
	validator, err := validation.New(registry)
	if err != nil {
		return nil, err
	}
	cond, err := NewConditionEvaluator()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		registry:       registry,
		validator:      validator,
		cond:           cond,
		retry:          DefaultRetryPolicy(),
		defaultTimeout: DefaultNodeTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RunOptions parameterize one workflow run.
type RunOptions struct {
	SessionID string
	Emitter   Emitter

	// Iteration tags emitted node results with a loop iteration index.
	Iteration *int

	// Seed pre-populates output store entries (the reserved loop context).
	Seed map[string]map[string]any

	// InLoopSubgraph permits $loop references during validation.
	InLoopSubgraph bool
}

// Execute validates wf and runs it to completion. It returns the run
// summary and the final output snapshot. Validation failures return before
// any node runs. Execute never emits terminal events; the caller owns the
// end of the stream.
func (e *Engine) Execute(ctx context.Context, wf *schema.Workflow, opts RunOptions) (schema.RunSummary, map[string]map[string]any, error) {
	seedIDs := make([]string, 0, len(opts.Seed))
	for id := range opts.Seed {
		if id != validation.LoopContextID {
			seedIDs = append(seedIDs, id)
		}
	}
	norm, err := e.validator.Validate(wf, validation.Options{
		InLoopSubgraph: opts.InLoopSubgraph,
		SeedIDs:        seedIDs,
	})
	if err != nil {
		return schema.RunSummary{}, nil, err
	}

	store := refs.NewStore()
	for id, out := range opts.Seed {
		store.Seed(id, out)
	}

	emitter := opts.Emitter
	if emitter == nil {
		emitter = EmitterFunc(func(string, any) {})
	}

	r := &run{
		eng:       e,
		norm:      norm,
		store:     store,
		emitter:   emitter,
		sessionID: opts.SessionID,
		iteration: opts.Iteration,
		logger: e.logger.With(
			slog.String("session_id", opts.SessionID),
		),
	}
	summary := r.execute(ctx)
	return summary, store.Snapshot(), nil
}
