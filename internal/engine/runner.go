package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fluxus-dev/fluxus/internal/metrics"
	"github.com/fluxus-dev/fluxus/internal/refs"
	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// runNode executes one node end to end: condition guard, reference
// resolution, executor invocation with timeout and retries, output store
// write. Every path emits exactly one terminal node_result.
func (r *run) runNode(ctx context.Context, node *schema.WorkflowNode) nodeDone {
	started := time.Now().UTC()
	log := r.logger.With(slog.String("node_id", node.ID), slog.String("type", node.Type))

	finish := func(res schema.NodeResult) nodeDone {
		res.NodeID = node.ID
		res.StartedAt = timePtr(started)
		res.EndedAt = timePtr(time.Now().UTC())
		r.emitResult(res)
		metrics.NodeExecutions.WithLabelValues(node.Type, string(res.Status)).Inc()
		metrics.NodeDuration.WithLabelValues(node.Type).Observe(time.Since(started).Seconds())
		return nodeDone{id: node.ID, result: res}
	}
	fail := func(err *schema.EngineError) nodeDone {
		log.Error("node failed", slog.String("code", err.Code), slog.String("error", err.Message))
		status := schema.NodeStatusFailed
		if err.Code == schema.ErrCodeCancelled {
			status = schema.NodeStatusCancelled
		}
		return finish(schema.NodeResult{Status: status, Error: err.Error()})
	}

	if node.Condition != "" {
		ok, err := r.eng.cond.EvalBool(node.Condition, r.store.Snapshot())
		if err != nil {
			return fail(schema.AsEngineError(err, schema.ErrCodeValidation).WithNode(node.ID))
		}
		if !ok {
			log.Info("condition declined node")
			return finish(schema.NodeResult{Status: schema.NodeStatusSkipped})
		}
	}

	params, err := refs.ResolveParams(node.Params, r.store)
	if err != nil {
		return fail(schema.AsEngineError(err, schema.ErrCodeResolution).WithNode(node.ID))
	}

	r.emitResult(schema.NodeResult{
		NodeID:    node.ID,
		Status:    schema.NodeStatusRunning,
		StartedAt: timePtr(started),
	})

	spec, factory, err := r.eng.registry.Lookup(node.Type)
	if err != nil {
		return fail(schema.AsEngineError(err, schema.ErrCodeInternal).WithNode(node.ID))
	}
	exec, err := factory(catalog.ExecContext{
		SessionID:   r.sessionID,
		RunWorkflow: &nestedRunner{run: r},
	})
	if err != nil {
		return fail(schema.AsEngineError(err, schema.ErrCodeInternal).WithNode(node.ID))
	}

	progress := func(data map[string]any) {
		r.emitter.Emit(schema.EventToolProgress, map[string]any{
			"node_id": node.ID,
			"data":    data,
		})
	}

	timeout := r.nodeTimeout(params, spec)
	maxAttempts := 1
	if spec.Retriable {
		maxAttempts = r.eng.retry.MaxAttempts
	}

	var out map[string]any
	for attempt := 1; ; attempt++ {
		out, err = r.attempt(ctx, exec, params, progress, timeout)
		if err == nil {
			break
		}
		if attempt >= maxAttempts || !Retryable(err) {
			return fail(schema.AsEngineError(err, schema.ErrCodePermanentIO).WithNode(node.ID))
		}

		log.Warn("retrying node",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		metrics.RetriesTotal.WithLabelValues(node.Type).Inc()
		r.emitter.Emit(schema.EventToolRetry, schema.RetryPayload{
			NodeID:     node.ID,
			Attempt:    attempt,
			MaxRetries: maxAttempts,
			Error:      err.Error(),
		})
		if werr := WaitForBackoff(ctx, r.eng.retry.Backoff(attempt)); werr != nil {
			return fail(schema.NewError(schema.ErrCodeCancelled, "run cancelled during backoff").WithNode(node.ID))
		}
	}

	if out == nil {
		out = map[string]any{}
	}
	if werr := r.store.Write(node.ID, out); werr != nil {
		return fail(schema.AsEngineError(werr, schema.ErrCodeExecutorBug).WithNode(node.ID))
	}

	return finish(schema.NodeResult{Status: schema.NodeStatusCompleted, Data: out})
}

// attempt runs the executor once under the node deadline and classifies the
// failure mode.
func (r *run) attempt(ctx context.Context, exec catalog.NodeExecutor, params map[string]any, progress catalog.ProgressFunc, timeout time.Duration) (map[string]any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.Execute(attemptCtx, params, progress)
	if err == nil {
		return out, nil
	}

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return nil, schema.NewError(schema.ErrCodeCancelled, "run cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "node exceeded %s deadline", timeout)
	default:
		return nil, err
	}
}

// nodeTimeout picks the attempt deadline: explicit timeout param, catalog
// default, engine default, in that order. The timeout param is seconds.
func (r *run) nodeTimeout(params map[string]any, spec catalog.NodeSpec) time.Duration {
	if raw, ok := params["timeout"]; ok {
		if v, err := catalog.KindFloat.Coerce(raw); err == nil {
			if secs, ok := v.(float64); ok && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}
	if spec.TimeoutSeconds > 0 {
		return time.Duration(spec.TimeoutSeconds) * time.Second
	}
	return r.eng.defaultTimeout
}
