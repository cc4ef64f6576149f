package catalog

import "context"

// ProgressFunc republishes an intermediate update from a running executor.
// Intermediate updates surface as tool_progress events; they never touch the
// output store.
type ProgressFunc func(data map[string]any)

// NodeExecutor runs one node invocation against fully resolved parameters.
// Execute returns the terminal output on success. Failures are reported as
// *schema.EngineError values; executors mark retriable failures with the
// TRANSIENT_IO code. Execute must honor ctx cancellation promptly.
type NodeExecutor interface {
	Execute(ctx context.Context, params map[string]any, progress ProgressFunc) (map[string]any, error)
}

// ExecContext carries per-run collaborators into factories. RunWorkflow is
// non-nil only for composite node kinds (loop_node) that drive nested
// workflows through the engine.
type ExecContext struct {
	SessionID   string
	RunWorkflow NestedRunner
}

// NestedRunner executes a nested workflow document against a seeded context
// and returns the per-node terminal results. Implemented by the engine;
// declared here so leaf packages do not import it.
type NestedRunner interface {
	RunNested(ctx context.Context, workflow map[string]any, seed map[string]any, iteration int) (map[string]map[string]any, error)
}

// Factory produces a NodeExecutor instance for one invocation.
type Factory func(ec ExecContext) (NodeExecutor, error)

// ExecutorFunc adapts a function to the NodeExecutor interface.
type ExecutorFunc func(ctx context.Context, params map[string]any, progress ProgressFunc) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, params map[string]any, progress ProgressFunc) (map[string]any, error) {
	return f(ctx, params, progress)
}
