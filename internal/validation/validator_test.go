package validation

import (
	"strings"
	"testing"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// --- helpers ---

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	reg := catalog.NewRegistry()
	specs := []catalog.NodeSpec{
		{
			Type: "add",
			Params: map[string]catalog.ParamSpec{
				"a": {Kind: catalog.KindFloat, Required: true},
				"b": {Kind: catalog.KindFloat, Required: true},
			},
		},
		{
			Type: "echo",
			Params: map[string]catalog.ParamSpec{
				"value": {Kind: catalog.KindAny, Required: true},
			},
		},
		{
			Type: "text_concat",
			Params: map[string]catalog.ParamSpec{
				"parts":     {Kind: catalog.KindSequence, Required: true},
				"separator": {Kind: catalog.KindString, Default: ""},
			},
		},
	}
	noop := catalog.ExecutorFunc(nil)
	for _, s := range specs {
		if err := reg.Register(s, func(catalog.ExecContext) (catalog.NodeExecutor, error) {
			return noop, nil
		}); err != nil {
			t.Fatalf("register %s: %v", s.Type, err)
		}
	}
	return reg
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(testRegistry(t))
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func node(id, typ string, params map[string]any) schema.WorkflowNode {
	return schema.WorkflowNode{ID: id, Type: typ, Params: params}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	eng, ok := err.(*schema.EngineError)
	if !ok {
		t.Fatalf("expected EngineError, got %T: %v", err, err)
	}
	if eng.Code != code {
		t.Errorf("expected code %s, got %s: %s", code, eng.Code, eng.Message)
	}
}

// --- pipeline tests ---

func TestValidate_LinearChainOrder(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "add", map[string]any{"a": 1, "b": 2}),
			node("b", "echo", map[string]any{"value": "$a.result"}),
			node("c", "echo", map[string]any{"value": "$b.value"}),
		},
	}

	norm, err := newValidator(t).Validate(wf, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if norm.Rank["a"] >= norm.Rank["b"] || norm.Rank["b"] >= norm.Rank["c"] {
		t.Errorf("incorrect topological order: %v", norm.Order)
	}
	if len(norm.Workflow.Edges) != 2 {
		t.Errorf("expected 2 inferred edges, got %v", norm.Workflow.Edges)
	}
}

func TestValidate_DuplicateID(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "echo", map[string]any{"value": 1}),
			node("a", "echo", map[string]any{"value": 2}),
		},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestValidate_UnknownType(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{node("a", "teleport", nil)},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestValidate_MissingRequiredParam(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{node("a", "add", map[string]any{"a": 1})},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestValidate_DefaultApplied(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "text_concat", map[string]any{"parts": []any{"x", "y"}}),
		},
	}
	norm, err := newValidator(t).Validate(wf, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, _ := norm.Node("a")
	if sep, ok := n.Params["separator"]; !ok || sep != "" {
		t.Errorf("expected default separator, got %v", n.Params)
	}
}

func TestValidate_LiteralCoercion(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "add", map[string]any{"a": "3", "b": 4}),
		},
	}
	norm, err := newValidator(t).Validate(wf, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, _ := norm.Node("a")
	if n.Params["a"] != float64(3) {
		t.Errorf("expected coerced float 3, got %v (%T)", n.Params["a"], n.Params["a"])
	}
}

func TestValidate_RefParamSkipsCoercion(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "add", map[string]any{"a": 1, "b": 2}),
			node("b", "add", map[string]any{"a": "$a.result", "b": 1}),
		},
	}
	norm, err := newValidator(t).Validate(wf, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, _ := norm.Node("b")
	if n.Params["a"] != "$a.result" {
		t.Errorf("reference should be kept verbatim, got %v", n.Params["a"])
	}
}

func TestValidate_UnknownReference(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "echo", map[string]any{"value": "$ghost.out"}),
		},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestValidate_SelfReference(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "echo", map[string]any{"value": "$a.value"}),
		},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestValidate_LoopRefOutsideSubgraph(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "echo", map[string]any{"value": "$loop.item"}),
		},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestValidate_LoopRefInsideSubgraph(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "echo", map[string]any{"value": "$loop.item"}),
		},
	}
	norm, err := newValidator(t).Validate(wf, Options{InLoopSubgraph: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(norm.Workflow.Edges) != 0 {
		t.Errorf("loop references must not add edges, got %v", norm.Workflow.Edges)
	}
}

func TestValidate_SeededReferences(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "echo", map[string]any{"value": "$global.name"}),
		},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeValidation)

	norm, err := newValidator(t).Validate(wf, Options{SeedIDs: []string{"global"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(norm.Workflow.Edges) != 0 {
		t.Errorf("seeded references must not add edges, got %v", norm.Workflow.Edges)
	}
}

func TestValidate_SeededIDCollision(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{node("global", "echo", map[string]any{"value": 1})},
	}
	_, err := newValidator(t).Validate(wf, Options{SeedIDs: []string{"global"}})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestValidate_ReservedID(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{node("loop", "echo", map[string]any{"value": 1})},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestValidate_CycleNamesNodes(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "echo", map[string]any{"value": "$b.value"}),
			node("b", "echo", map[string]any{"value": "$a.value"}),
		},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeCycleDetected)
	if !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "b") {
		t.Errorf("cycle error should name offending nodes: %v", err)
	}
}

func TestValidate_ExplicitEdgeEndpoints(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{node("a", "echo", map[string]any{"value": 1})},
		Edges: []schema.Edge{{From: "a", To: "zz"}},
	}
	_, err := newValidator(t).Validate(wf, Options{})
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestValidate_MaxWidth(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("root", "echo", map[string]any{"value": 1}),
			node("l", "echo", map[string]any{"value": "$root.value"}),
			node("r", "echo", map[string]any{"value": "$root.value"}),
			node("join", "echo", map[string]any{"value": []any{"$l.value", "$r.value"}}),
		},
	}
	norm, err := newValidator(t).Validate(wf, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if norm.MaxWidth != 2 {
		t.Errorf("expected widest level 2, got %d", norm.MaxWidth)
	}
}

func TestForwardReachable(t *testing.T) {
	wf := &schema.Workflow{
		Nodes: []schema.WorkflowNode{
			node("a", "echo", map[string]any{"value": 1}),
			node("b", "echo", map[string]any{"value": "$a.value"}),
			node("c", "echo", map[string]any{"value": "$b.value"}),
			node("d", "echo", map[string]any{"value": 1}),
		},
	}
	norm, err := newValidator(t).Validate(wf, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := norm.ForwardReachable("a")
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("expected [b c], got %v", got)
	}
	if r := norm.ForwardReachable("d"); len(r) != 0 {
		t.Errorf("expected no downstream for d, got %v", r)
	}
}
