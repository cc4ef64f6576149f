package engine

import (
	"context"
	"encoding/json"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// nestedRunner lets composite executors (loop_node) drive a sub-workflow
// through the parent run's engine and event stream. Each nested run gets its
// own output store, seeded with the reserved loop context, and its node
// results carry the iteration index.
type nestedRunner struct {
	run *run
}

func (n *nestedRunner) RunNested(ctx context.Context, workflow map[string]any, seed map[string]any, iteration int) (map[string]map[string]any, error) {
	raw, err := json.Marshal(workflow)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "encode nested workflow: %s", err.Error()).WithCause(err)
	}
	wf, err := schema.ParseWorkflow(raw)
	if err != nil {
		return nil, err
	}

	iter := iteration
	summary, snapshot, err := n.run.eng.Execute(ctx, wf, RunOptions{
		SessionID:      n.run.sessionID,
		Emitter:        n.run.emitter,
		Iteration:      &iter,
		Seed:           map[string]map[string]any{"loop": seed},
		InLoopSubgraph: true,
	})
	if err != nil {
		return nil, err
	}

	delete(snapshot, "loop")
	if !summary.Success() {
		return snapshot, schema.NewErrorf(schema.ErrCodeDependency,
			"iteration %d: %d of %d nodes did not complete",
			iteration, summary.Total-summary.Completed, summary.Total)
	}
	return snapshot, nil
}
