package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// --- helpers ---

type recorder struct {
	mu     sync.Mutex
	events []schema.Event
}

func (r *recorder) Emit(kind string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, schema.Event{Kind: kind, Payload: payload})
}

func (r *recorder) results() []schema.NodeResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schema.NodeResult
	for _, evt := range r.events {
		if evt.Kind == schema.EventNodeResult {
			out = append(out, evt.Payload.(schema.NodeResult))
		}
	}
	return out
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.Kind == kind {
			n++
		}
	}
	return n
}

// terminalStatus returns the last reported status per node.
func (r *recorder) terminalStatus() map[string]schema.NodeStatus {
	statuses := make(map[string]schema.NodeStatus)
	for _, res := range r.results() {
		statuses[res.NodeID] = res.Status
	}
	return statuses
}

type registryBuilder struct {
	t   *testing.T
	reg *catalog.Registry
}

func newBuilder(t *testing.T) *registryBuilder {
	return &registryBuilder{t: t, reg: catalog.NewRegistry()}
}

func (b *registryBuilder) add(spec catalog.NodeSpec, fn catalog.ExecutorFunc) *registryBuilder {
	b.t.Helper()
	if err := b.reg.Register(spec, func(catalog.ExecContext) (catalog.NodeExecutor, error) {
		return fn, nil
	}); err != nil {
		b.t.Fatal(err)
	}
	return b
}

func (b *registryBuilder) engine(opts ...Option) *Engine {
	b.t.Helper()
	eng, err := New(b.reg, opts...)
	if err != nil {
		b.t.Fatal(err)
	}
	return eng
}

func addSpec() catalog.NodeSpec {
	return catalog.NodeSpec{
		Type: "add",
		Params: map[string]catalog.ParamSpec{
			"a": {Kind: catalog.KindFloat, Required: true},
			"b": {Kind: catalog.KindFloat, Required: true},
		},
	}
}

func addFn(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	return map[string]any{"result": params["a"].(float64) + params["b"].(float64)}, nil
}

func echoSpec() catalog.NodeSpec {
	return catalog.NodeSpec{
		Type:   "echo",
		Params: map[string]catalog.ParamSpec{"value": {Kind: catalog.KindAny, Required: true}},
	}
}

func echoFn(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	return map[string]any{"value": params["value"]}, nil
}

func node(id, typ string, params map[string]any) schema.WorkflowNode {
	return schema.WorkflowNode{ID: id, Type: typ, Params: params}
}

// --- tests ---

func TestExecute_LinearDataFlow(t *testing.T) {
	eng := newBuilder(t).add(addSpec(), addFn).add(echoSpec(), echoFn).engine()
	rec := &recorder{}

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{
		node("sum", "add", map[string]any{"a": 2, "b": 3}),
		node("out", "echo", map[string]any{"value": "$sum.result"}),
	}}
	summary, outputs, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Success() {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if outputs["out"]["value"] != float64(5) {
		t.Errorf("reference did not flow: %v", outputs["out"])
	}
}

func TestExecute_DiamondRunsBranchesConcurrently(t *testing.T) {
	var concurrent, peak int32
	slow := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return map[string]any{"v": 1}, nil
	}

	eng := newBuilder(t).
		add(catalog.NodeSpec{Type: "slow"}, slow).
		add(echoSpec(), echoFn).
		engine()
	rec := &recorder{}

	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("root", "slow", nil),
			node("left", "slow", nil),
			node("right", "slow", nil),
			node("join", "echo", map[string]any{"value": []any{"$left.v", "$right.v"}}),
		},
		Edges: []schema.Edge{{From: "root", To: "left"}, {From: "root", To: "right"}},
	}
	summary, outputs, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Completed != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if atomic.LoadInt32(&peak) < 2 {
		t.Error("left and right should overlap")
	}
	joined := outputs["join"]["value"].([]any)
	if joined[0] != 1 || joined[1] != 1 {
		t.Errorf("join resolved wrong values: %v", joined)
	}
}

func TestExecute_FailureCascadesDownstreamOnly(t *testing.T) {
	boom := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		return nil, schema.NewError(schema.ErrCodePermanentIO, "boom")
	}
	eng := newBuilder(t).
		add(catalog.NodeSpec{Type: "boom"}, boom).
		add(echoSpec(), echoFn).
		engine()
	rec := &recorder{}

	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("bad", "boom", nil),
			node("below", "echo", map[string]any{"value": 1}),
			node("bottom", "echo", map[string]any{"value": 1}),
			node("sibling", "echo", map[string]any{"value": 1}),
		},
		Edges: []schema.Edge{{From: "bad", To: "below"}, {From: "below", To: "bottom"}},
	}
	summary, _, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 3 || summary.Skipped != 0 || summary.Completed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	statuses := rec.terminalStatus()
	if statuses["sibling"] != schema.NodeStatusCompleted {
		t.Error("independent branch must finish")
	}
	for _, id := range []string{"below", "bottom"} {
		if statuses[id] != schema.NodeStatusFailed {
			t.Errorf("%s should fail with the cascade, got %s", id, statuses[id])
		}
	}
	for _, res := range rec.results() {
		if res.NodeID == "below" && res.Status == schema.NodeStatusFailed {
			if !strings.Contains(res.Error, "dependency failed") {
				t.Errorf("cascade reason missing: %q", res.Error)
			}
		}
	}
}

func TestExecute_CancelSiblingsOption(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	boom := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		return nil, schema.NewError(schema.ErrCodePermanentIO, "boom")
	}
	blocked := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		defer once.Do(func() { close(release) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{}, nil
		}
	}
	eng := newBuilder(t).
		add(catalog.NodeSpec{Type: "boom"}, boom).
		add(catalog.NodeSpec{Type: "blocked"}, blocked).
		engine(WithCancelSiblingsOnFailure(true))
	rec := &recorder{}

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{
		node("bad", "boom", nil),
		node("slow", "blocked", nil),
	}}
	start := time.Now()
	summary, _, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("sibling was not cancelled promptly")
	}
	if summary.Failed != 1 || summary.Cancelled != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	var calls int32
	flaky := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, schema.NewError(schema.ErrCodeTransientIO, "connection reset")
		}
		return map[string]any{"ok": true}, nil
	}
	eng := newBuilder(t).
		add(catalog.NodeSpec{Type: "flaky", Retriable: true}, flaky).
		engine(WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}))
	rec := &recorder{}

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{node("f", "flaky", nil)}}
	summary, outputs, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Success() || outputs["f"]["ok"] != true {
		t.Fatalf("expected success after retries: %+v", summary)
	}
	if got := rec.count(schema.EventToolRetry); got != 2 {
		t.Errorf("expected 2 tool_retry events, got %d", got)
	}
}

func TestExecute_PermanentErrorsDoNotRetry(t *testing.T) {
	var calls int32
	angry := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, schema.NewError(schema.ErrCodePermanentIO, "forbidden")
	}
	eng := newBuilder(t).
		add(catalog.NodeSpec{Type: "angry", Retriable: true}, angry).
		engine(WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}))
	rec := &recorder{}

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{node("a", "angry", nil)}}
	summary, _, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("permanent failure must not retry, got %d calls", calls)
	}
}

func TestExecute_TimeoutFailsNode(t *testing.T) {
	sleepy := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{}, nil
		}
	}
	eng := newBuilder(t).
		add(catalog.NodeSpec{Type: "sleepy"}, sleepy).
		engine(WithDefaultTimeout(30 * time.Millisecond))
	rec := &recorder{}

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{node("s", "sleepy", nil)}}
	summary, _, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, res := range rec.results() {
		if res.Status == schema.NodeStatusFailed && !strings.Contains(res.Error, schema.ErrCodeTimeout) {
			t.Errorf("expected timeout code in %q", res.Error)
		}
	}
}

func TestExecute_ResolutionFailureIsTerminal(t *testing.T) {
	eng := newBuilder(t).add(echoSpec(), echoFn).engine()
	rec := &recorder{}

	// b references a field a never writes.
	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{
		node("a", "echo", map[string]any{"value": 1}),
		node("b", "echo", map[string]any{"value": "$a.missing.deep"}),
	}}
	summary, _, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Failed != 1 || summary.Completed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, res := range rec.results() {
		if res.NodeID == "b" && res.Status == schema.NodeStatusFailed {
			if !strings.Contains(res.Error, schema.ErrCodeResolution) {
				t.Errorf("expected resolution code in %q", res.Error)
			}
		}
	}
}

func TestExecute_ConditionSkips(t *testing.T) {
	eng := newBuilder(t).add(addSpec(), addFn).add(echoSpec(), echoFn).engine()
	rec := &recorder{}

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{
		node("sum", "add", map[string]any{"a": 1, "b": 1}),
		{
			ID: "guarded", Type: "echo",
			Params:    map[string]any{"value": "$sum.result"},
			Condition: `outputs.sum.result > 10.0`,
		},
		node("after", "echo", map[string]any{"value": "static"}),
	}, Edges: []schema.Edge{{From: "guarded", To: "after"}}}

	summary, outputs, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 1 || summary.Completed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if outputs["after"]["value"] != "static" {
		t.Error("dependents of a condition-skipped node still run")
	}
}

func TestExecute_CancellationSettlesEverything(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocked := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	eng := newBuilder(t).
		add(catalog.NodeSpec{Type: "blocked"}, blocked).
		add(echoSpec(), echoFn).
		engine()
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("b", "blocked", nil),
			node("next", "echo", map[string]any{"value": 1}),
		},
		Edges: []schema.Edge{{From: "b", To: "next"}},
	}
	summary, _, err := eng.Execute(ctx, wf, RunOptions{Emitter: rec})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	settled := summary.Completed + summary.Failed + summary.Skipped + summary.Cancelled
	if settled != summary.Total {
		t.Errorf("every node must settle on cancellation: %+v", summary)
	}
	if summary.Cancelled == 0 {
		t.Errorf("expected cancelled nodes: %+v", summary)
	}
}

func TestExecute_WildcardFanIn(t *testing.T) {
	search := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		return map[string]any{"results": []any{
			map[string]any{"link": "u1"},
			map[string]any{"link": "u2"},
		}}, nil
	}
	eng := newBuilder(t).
		add(catalog.NodeSpec{Type: "search"}, search).
		add(echoSpec(), echoFn).
		engine()

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{
		node("search", "search", nil),
		node("links", "echo", map[string]any{"value": "$search.results[*].link"}),
	}}
	_, outputs, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: &recorder{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	links := outputs["links"]["value"].([]any)
	if len(links) != 2 || links[0] != "u1" || links[1] != "u2" {
		t.Errorf("wildcard fan-in wrong: %v", links)
	}
}

func TestExecute_ProgressSurfacesAsToolProgress(t *testing.T) {
	reporter := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		progress(map[string]any{"pct": 50})
		return map[string]any{}, nil
	}
	eng := newBuilder(t).add(catalog.NodeSpec{Type: "reporter"}, reporter).engine()
	rec := &recorder{}

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{node("r", "reporter", nil)}}
	if _, _, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: rec}); err != nil {
		t.Fatal(err)
	}
	if rec.count(schema.EventToolProgress) != 1 {
		t.Error("expected one tool_progress event")
	}
}

func TestExecute_ValidationFailureRunsNothing(t *testing.T) {
	var calls int32
	counter := func(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return map[string]any{}, nil
	}
	eng := newBuilder(t).add(catalog.NodeSpec{Type: "counter"}, counter).engine()

	wf := &schema.Workflow{Nodes: []schema.WorkflowNode{
		node("ok", "counter", nil),
		node("bad", "missing_type", nil),
	}}
	_, _, err := eng.Execute(context.Background(), wf, RunOptions{Emitter: &recorder{}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("no executor may run when validation fails")
	}
}
