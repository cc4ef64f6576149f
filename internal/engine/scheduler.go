package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/fluxus-dev/fluxus/internal/metrics"
	"github.com/fluxus-dev/fluxus/internal/refs"
	"github.com/fluxus-dev/fluxus/internal/validation"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// run holds the mutable state of one workflow execution. A single scheduler
// goroutine owns the state; workers report back over the results channel, so
// no field needs a lock.
type run struct {
	eng       *Engine
	norm      *validation.Normalized
	store     *refs.Store
	emitter   Emitter
	sessionID string
	iteration *int
	logger    *slog.Logger

	status    map[string]schema.NodeStatus
	remaining map[string]int
	ready     []string
	inflight  int
	summary   schema.RunSummary
}

// nodeDone is a worker's completion report.
type nodeDone struct {
	id     string
	result schema.NodeResult
}

// execute drives the run to completion: dispatch every ready node, absorb
// completions, free successors, cascade skips below failures. Returns the
// aggregate summary.
func (r *run) execute(ctx context.Context) schema.RunSummary {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	nodes := r.norm.Workflow.Nodes
	r.summary.Total = len(nodes)
	r.status = make(map[string]schema.NodeStatus, len(nodes))
	r.remaining = make(map[string]int, len(nodes))
	for _, n := range nodes {
		r.status[n.ID] = schema.NodeStatusPending
		r.remaining[n.ID] = len(r.norm.Preds[n.ID])
		if r.remaining[n.ID] == 0 {
			r.markReady(n.ID)
		}
	}

	width := r.norm.MaxWidth
	if width > MaxWorkers {
		width = MaxWorkers
	}
	pool := NewWorkerPool(width)
	defer pool.Shutdown()

	// Buffered so a finishing worker never blocks behind a saturated
	// Submit in this goroutine.
	results := make(chan nodeDone, len(nodes))

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	pending := len(nodes)
loop:
	for pending > 0 {
		if err := r.dispatch(ctx, pool, results); err != nil {
			break
		}
		if r.inflight == 0 && len(r.ready) == 0 {
			break
		}

		select {
		case done := <-results:
			r.inflight--
			pending -= r.absorb(done, cancel)
		case <-ctx.Done():
			break loop
		}
	}

	cancel()
	pool.Wait()
	r.settleOutstanding(results)
	return r.summary
}

// dispatch submits every ready node, lowest rank first.
func (r *run) dispatch(ctx context.Context, pool *WorkerPool, results chan<- nodeDone) error {
	for len(r.ready) > 0 {
		id := r.ready[0]
		r.ready = r.ready[1:]
		if r.status[id] != schema.NodeStatusReady {
			continue
		}
		r.status[id] = schema.NodeStatusRunning
		r.inflight++

		node, err := r.norm.Node(id)
		if err != nil {
			// Unreachable after validation.
			return err
		}
		if err := pool.Submit(ctx, func(ctx context.Context) error {
			done := r.runNode(ctx, node)
			results <- done
			if done.result.Status == schema.NodeStatusFailed {
				return schema.NewError(schema.ErrCodeInternal, done.result.Error)
			}
			return nil
		}); err != nil {
			r.inflight--
			r.finishNode(id, schema.NodeStatusCancelled, "run cancelled")
			return err
		}
	}
	return nil
}

// absorb folds one completion into the run state and returns how many nodes
// reached a terminal status as a result.
func (r *run) absorb(done nodeDone, cancel context.CancelFunc) int {
	r.status[done.id] = done.result.Status
	settled := 1

	switch done.result.Status {
	case schema.NodeStatusCompleted:
		r.summary.Completed++
		r.freeSuccessors(done.id)

	case schema.NodeStatusSkipped:
		// Condition guard declined the node. Its dependents still run;
		// references into the skipped node surface as resolution errors.
		r.summary.Skipped++
		r.freeSuccessors(done.id)

	case schema.NodeStatusCancelled:
		r.summary.Cancelled++

	case schema.NodeStatusFailed:
		r.summary.Failed++
		settled += r.skipDownstream(done.id)
		if r.eng.cancelSiblings {
			cancel()
		}
	}

	return settled
}

// freeSuccessors decrements dependency counts below a satisfied node and
// queues any that become ready.
func (r *run) freeSuccessors(id string) {
	for _, succ := range r.norm.Succs[id] {
		if r.status[succ] != schema.NodeStatusPending {
			continue
		}
		r.remaining[succ]--
		if r.remaining[succ] == 0 {
			r.markReady(succ)
		}
	}
}

// skipDownstream marks the forward-reachable set of a failed node skipped
// and reports each as a node_result. Returns the number of nodes settled.
// skipDownstream settles the whole forward-reachable set of a failed node.
// Cascaded nodes never run; they surface as failed results carrying a
// dependency error and count into the summary's failed bucket.
func (r *run) skipDownstream(failedID string) int {
	settled := 0
	for _, id := range r.norm.ForwardReachable(failedID) {
		if r.status[id].Terminal() || r.status[id] == schema.NodeStatusRunning {
			continue
		}
		r.status[id] = schema.NodeStatusFailed
		r.summary.Failed++
		settled++

		err := schema.NewErrorf(schema.ErrCodeDependency, "dependency failed: %s", failedID).WithNode(id)
		r.emitResult(schema.NodeResult{
			NodeID: id,
			Status: schema.NodeStatusFailed,
			Error:  err.Error(),
		})
	}
	return settled
}

// settleOutstanding runs after the pool has drained: it absorbs any buffered
// completions, then cancels every node that never reached a terminal status.
func (r *run) settleOutstanding(results <-chan nodeDone) {
	for r.inflight > 0 {
		done := <-results
		r.inflight--
		r.absorb(done, func() {})
	}
	for id, st := range r.status {
		if st.Terminal() {
			continue
		}
		r.finishNode(id, schema.NodeStatusCancelled, "run cancelled")
	}
}

// markReady inserts id into the ready queue keeping rank order.
func (r *run) markReady(id string) {
	r.status[id] = schema.NodeStatusReady
	r.ready = append(r.ready, id)
	sort.Slice(r.ready, func(i, j int) bool {
		return r.norm.Rank[r.ready[i]] < r.norm.Rank[r.ready[j]]
	})
}

// finishNode settles a node that never ran.
func (r *run) finishNode(id string, status schema.NodeStatus, msg string) {
	r.status[id] = status
	if status == schema.NodeStatusCancelled {
		r.summary.Cancelled++
	}
	r.emitResult(schema.NodeResult{NodeID: id, Status: status, Error: msg})
}

// emitResult publishes a node_result, tagging loop iterations.
func (r *run) emitResult(res schema.NodeResult) {
	res.Iteration = r.iteration
	r.emitter.Emit(schema.EventNodeResult, res)
}

func timePtr(t time.Time) *time.Time { return &t }
