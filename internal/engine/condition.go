package engine

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// ConditionEvaluator evaluates per-node CEL guard expressions. The
// environment exposes two top-level variables:
//   - outputs: map(string, dyn) keyed by upstream node id
//   - loop:    map(string, dyn) with iteration context inside loop subgraphs
//
// Compiled programs are cached; the evaluator is safe for concurrent use.
type ConditionEvaluator struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewConditionEvaluator builds the sandboxed CEL environment.
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable("outputs", mapType),
		cel.Variable("loop", mapType),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInternal, "create CEL environment: %s", err.Error()).WithCause(err)
	}
	return &ConditionEvaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// EvalBool evaluates a guard against the given output snapshot. Non-boolean
// results are a validation error so a typo fails loudly instead of silently
// skipping a node.
func (e *ConditionEvaluator) EvalBool(expression string, outputs map[string]map[string]any) (bool, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	scope := make(map[string]any, len(outputs))
	loopCtx := map[string]any{}
	for id, out := range outputs {
		if id == "loop" {
			for k, v := range out {
				loopCtx[k] = v
			}
			continue
		}
		scope[id] = out
	}

	out, _, err := prg.Eval(map[string]any{
		"outputs": scope,
		"loop":    loopCtx,
	})
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q evaluation failed: %s", expression, err.Error()).WithCause(err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q did not evaluate to a boolean", expression)
	}
	return b, nil
}

func (e *ConditionEvaluator) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q does not compile: %s", expression, issues.Err().Error()).WithCause(issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"condition %q program error: %s", expression, err.Error()).WithCause(err)
	}

	e.cache[expression] = prg
	return prg, nil
}
