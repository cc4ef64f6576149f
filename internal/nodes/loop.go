package nodes

import (
	"context"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// loopExecutor runs a sub-workflow once per array item through the engine's
// nested runner. Each iteration sees the reserved loop context and gets its
// own output store.
type loopExecutor struct {
	runner catalog.NestedRunner
}

func loopFactory() catalog.Factory {
	return func(ec catalog.ExecContext) (catalog.NodeExecutor, error) {
		if ec.RunWorkflow == nil {
			return nil, schema.NewError(schema.ErrCodeInternal, "loop executor needs a workflow runner")
		}
		return &loopExecutor{runner: ec.RunWorkflow}, nil
	}
}

func (e *loopExecutor) Execute(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	items, err := sequenceParam(params, "array")
	if err != nil {
		return nil, err
	}
	subWorkflow, err := mappingParam(params, "workflow_json")
	if err != nil {
		return nil, err
	}
	if len(subWorkflow) == 0 {
		return nil, missing("workflow_json")
	}
	continueOnError, err := boolParam(params, "continue_on_error", false)
	if err != nil {
		return nil, err
	}

	out := schema.LoopOutput{Success: true}
	for i, item := range items {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		seed := map[string]any{
			"index":  i,
			"item":   item,
			"length": len(items),
			"first":  i == 0,
			"last":   i == len(items)-1,
		}

		snapshot, iterErr := e.runner.RunNested(ctx, subWorkflow, seed, i)
		result := make(map[string]any, len(snapshot))
		for id, output := range snapshot {
			result[id] = output
		}
		out.Results = append(out.Results, result)
		out.Total++

		if progress != nil {
			progress(map[string]any{
				"iteration": i,
				"total":     len(items),
				"ok":        iterErr == nil,
			})
		}
		if iterErr != nil {
			out.Success = false
			if !continueOnError {
				return nil, schema.AsEngineError(iterErr, schema.ErrCodeDependency)
			}
		}
	}

	return map[string]any{
		"results": out.Results,
		"total":   out.Total,
		"success": out.Success,
	}, nil
}
