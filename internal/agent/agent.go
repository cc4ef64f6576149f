// Package agent runs the bounded reason-and-act loop: a planner picks one
// node type per iteration, the engine executes it against a private output
// store, and the observed result feeds the next planning turn.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fluxus-dev/fluxus/internal/engine"
	"github.com/fluxus-dev/fluxus/internal/llm"
	"github.com/fluxus-dev/fluxus/internal/metrics"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// DefaultMaxIterations bounds the planning loop.
const DefaultMaxIterations = 5

// Agent drives goal-directed execution over the node catalog.
type Agent struct {
	eng           *engine.Engine
	planner       llm.Planner
	maxIterations int
	logger        *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithLogger sets the agent logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New creates an Agent.
func New(eng *engine.Engine, planner llm.Planner, opts ...Option) *Agent {
	a := &Agent{
		eng:           eng,
		planner:       planner,
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run works toward the goal and returns the final answer. Each action runs
// in its own single-node workflow, so actions never see each other's
// outputs except through the planner transcript. Run emits the agent event
// stream but never a terminal event; the caller owns the end of the stream.
func (a *Agent) Run(ctx context.Context, sessionID, goal string, emitter engine.Emitter) (string, error) {
	return a.RunBudget(ctx, sessionID, goal, 0, emitter)
}

// RunBudget is Run with a one-off iteration budget. A budget of zero or
// less falls back to the configured default.
func (a *Agent) RunBudget(ctx context.Context, sessionID, goal string, budget int, emitter engine.Emitter) (string, error) {
	if budget <= 0 {
		budget = a.maxIterations
	}
	emitter.Emit(schema.EventAgentStart, map[string]any{
		"goal":           goal,
		"max_iterations": budget,
	})

	var history []llm.StepRecord
	for iter := 1; iter <= budget; iter++ {
		decision, err := a.planner.Plan(ctx, goal, history)
		if err != nil {
			metrics.AgentIterations.WithLabelValues("planner_error").Inc()
			emitter.Emit(schema.EventAgentError, map[string]any{
				"iteration": iter,
				"error":     err.Error(),
			})
			return "", err
		}

		if decision.Thought != "" {
			emitter.Emit(schema.EventAgentThinking, map[string]any{
				"iteration": iter,
				"thought":   decision.Thought,
			})
		}

		if decision.Final != "" {
			metrics.AgentIterations.WithLabelValues("final").Inc()
			emitter.Emit(schema.EventAnswer, map[string]any{"text": decision.Final})
			emitter.Emit(schema.EventAgentComplete, map[string]any{"iterations": iter})
			return decision.Final, nil
		}

		metrics.AgentIterations.WithLabelValues("action").Inc()
		history = append(history, a.act(ctx, sessionID, decision, emitter))
	}

	// Budget exhausted. Report the shortfall and salvage an answer from
	// the last observation so the session still ends usefully.
	emitter.Emit(schema.EventAgentError, map[string]any{
		"error": "iteration budget exhausted",
	})
	answer := salvageAnswer(history)
	emitter.Emit(schema.EventAnswer, map[string]any{"text": answer, "partial": true})
	emitter.Emit(schema.EventAgentComplete, map[string]any{
		"iterations": budget,
		"exhausted":  true,
	})
	metrics.AgentIterations.WithLabelValues("exhausted").Inc()
	return answer, nil
}

// act executes one planned tool call and reports it on the stream.
func (a *Agent) act(ctx context.Context, sessionID string, decision llm.Decision, emitter engine.Emitter) llm.StepRecord {
	actionID := uuid.NewString()
	emitter.Emit(schema.EventActionStart, schema.ActionPayload{
		ActionID: actionID,
		Action:   decision.Action,
		Input:    decision.Input,
	})

	rec := llm.StepRecord{Action: decision.Action, Input: decision.Input}
	result := &schema.NodeResult{NodeID: decision.Action}

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{{
		ID:     "action",
		Type:   decision.Action,
		Params: decision.Input,
	}}}
	summary, outputs, err := a.eng.Execute(ctx, wf, engine.RunOptions{
		SessionID: sessionID,
		Emitter:   &actionEmitter{inner: emitter},
	})

	switch {
	case err != nil:
		rec.Error = err.Error()
		result.Status = schema.NodeStatusFailed
		result.Error = err.Error()
	case summary.Success():
		rec.Result = outputs["action"]
		result.Status = schema.NodeStatusCompleted
		result.Data = outputs["action"]
	default:
		rec.Error = "action did not complete"
		result.Status = schema.NodeStatusFailed
		result.Error = rec.Error
	}

	if rec.Error != "" {
		a.logger.Warn("agent action failed",
			slog.String("action", decision.Action),
			slog.String("error", rec.Error))
	}
	emitter.Emit(schema.EventActionComplete, schema.ActionPayload{
		ActionID: actionID,
		Action:   decision.Action,
		Input:    decision.Input,
		Result:   result,
	})
	return rec
}

// actionEmitter forwards executor progress onto the session stream but
// suppresses node_result events: actions report through action_complete.
type actionEmitter struct {
	inner engine.Emitter
}

func (e *actionEmitter) Emit(kind string, payload any) {
	switch kind {
	case schema.EventToolProgress, schema.EventToolRetry:
		e.inner.Emit(kind, payload)
	}
}

func salvageAnswer(history []llm.StepRecord) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Error != "" || history[i].Result == nil {
			continue
		}
		if data, err := json.Marshal(history[i].Result); err == nil {
			return string(data)
		}
	}
	return "the goal could not be completed within the iteration budget"
}
