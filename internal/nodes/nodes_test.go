package nodes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

func exec(t *testing.T, fn catalog.ExecutorFunc, params map[string]any) map[string]any {
	t.Helper()
	out, err := fn(context.Background(), params, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return out
}

func TestBuiltinRegistry_AllSpecsWired(t *testing.T) {
	reg, err := BuiltinRegistry(Deps{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, typ := range []string{
		"add", "multiply", "text_concat", "text_replace", "echo", "sleep",
		"expr", "jq", "http_request", "file_read", "file_write",
		"db_execute", "chat", "loop_node",
	} {
		if !reg.Has(typ) {
			t.Errorf("missing builtin: %s", typ)
		}
	}
}

func TestBuiltinRegistry_DisabledDepsFailAtFactory(t *testing.T) {
	reg, err := BuiltinRegistry(Deps{})
	if err != nil {
		t.Fatal(err)
	}
	for _, typ := range []string{"chat", "db_execute"} {
		_, factory, err := reg.Lookup(typ)
		if err != nil {
			t.Fatalf("lookup %s: %v", typ, err)
		}
		if _, err := factory(catalog.ExecContext{}); err == nil {
			t.Errorf("%s factory should fail without its dependency", typ)
		}
	}
}

func TestArithmetic(t *testing.T) {
	if out := exec(t, addExec, map[string]any{"num1": 7.0, "num2": 3.0}); out["result"] != 10.0 {
		t.Errorf("add: got %v", out["result"])
	}
	if out := exec(t, multiplyExec, map[string]any{"num1": 6.0, "num2": 7.0}); out["result"] != 42.0 {
		t.Errorf("multiply: got %v", out["result"])
	}
}

func TestTextNodes(t *testing.T) {
	out := exec(t, textConcatExec, map[string]any{
		"parts":     []any{"go", "routines"},
		"separator": "-",
	})
	if out["text"] != "go-routines" {
		t.Errorf("concat: got %v", out["text"])
	}

	out = exec(t, textReplaceExec, map[string]any{
		"text": "hello world", "old": "world", "new": "there",
	})
	if out["text"] != "hello there" {
		t.Errorf("replace: got %v", out["text"])
	}
}

func TestEcho(t *testing.T) {
	payload := map[string]any{"deep": []any{1, 2}}
	out := exec(t, echoExec, map[string]any{"value": payload})
	if out["value"].(map[string]any)["deep"].([]any)[1] != 2 {
		t.Errorf("echo mangled value: %v", out["value"])
	}
}

func TestExpr(t *testing.T) {
	out := exec(t, exprExec, map[string]any{
		"expression": "items | filter(# > 2) | sum()",
		"env":        map[string]any{"items": []any{1, 2, 3, 4}},
	})
	if out["result"] != 7 {
		t.Errorf("expr: got %v (%T)", out["result"], out["result"])
	}

	_, err := exprExec(context.Background(), map[string]any{"expression": "((("}, nil)
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestJQ(t *testing.T) {
	out := exec(t, jqExec, map[string]any{
		"query": ".results[].link",
		"input": map[string]any{"results": []any{
			map[string]any{"link": "u1"},
			map[string]any{"link": "u2"},
		}},
	})
	results := out["results"].([]any)
	if len(results) != 2 || results[0] != "u1" || out["result"] != "u1" {
		t.Errorf("jq: got %v", out)
	}

	_, err := jqExec(context.Background(), map[string]any{"query": ".[", "input": nil}, nil)
	assertCode(t, err, schema.ErrCodeValidation)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "note.txt")

	out := exec(t, fileWriteExec, map[string]any{"path": path, "content": "first\n"})
	if out["written"] != 6 {
		t.Errorf("write: got %v", out["written"])
	}
	exec(t, fileWriteExec, map[string]any{"path": path, "content": "second\n", "append": true})

	out = exec(t, fileReadExec, map[string]any{"path": path})
	if out["content"] != "first\nsecond\n" {
		t.Errorf("read: got %q", out["content"])
	}

	_, err := fileReadExec(context.Background(), map[string]any{"path": filepath.Join(t.TempDir(), "absent")}, nil)
	assertCode(t, err, schema.ErrCodeNotFound)
}

func TestHTTPRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "tk" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	ex, err := httpFactory()(catalog.ExecContext{})
	if err != nil {
		t.Fatal(err)
	}
	out, err := ex.Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"X-Token": "tk"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["status"] != 200 || out["body"].(map[string]any)["ok"] != true {
		t.Errorf("unexpected response: %v", out)
	}
}

func TestHTTPRequest_ErrorClassification(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	ex, _ := httpFactory()(catalog.ExecContext{})

	status = http.StatusServiceUnavailable
	_, err := ex.Execute(context.Background(), map[string]any{"url": srv.URL}, nil)
	assertCode(t, err, schema.ErrCodeTransientIO)

	status = http.StatusNotFound
	_, err = ex.Execute(context.Background(), map[string]any{"url": srv.URL}, nil)
	assertCode(t, err, schema.ErrCodePermanentIO)
}

// stubRunner records nested invocations and fails on request.
type stubRunner struct {
	seeds   []map[string]any
	failAt  int
	outputs map[string]map[string]any
}

func (s *stubRunner) RunNested(ctx context.Context, workflow map[string]any, seed map[string]any, iteration int) (map[string]map[string]any, error) {
	s.seeds = append(s.seeds, seed)
	if s.failAt > 0 && iteration == s.failAt-1 {
		return nil, schema.NewError(schema.ErrCodePermanentIO, "boom")
	}
	return s.outputs, nil
}

func TestLoop_SeedsIterationContext(t *testing.T) {
	runner := &stubRunner{outputs: map[string]map[string]any{"body": {"v": 1}}}
	ex, err := loopFactory()(catalog.ExecContext{RunWorkflow: runner})
	if err != nil {
		t.Fatal(err)
	}

	out, err := ex.Execute(context.Background(), map[string]any{
		"array":         []any{"x", "y", "z"},
		"workflow_json": map[string]any{"nodes": []any{}},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["total"] != 3 || out["success"] != true {
		t.Fatalf("unexpected output: %v", out)
	}

	first, last := runner.seeds[0], runner.seeds[2]
	if first["index"] != 0 || first["item"] != "x" || first["first"] != true || first["last"] != false {
		t.Errorf("bad first seed: %v", first)
	}
	if last["index"] != 2 || last["last"] != true || last["length"] != 3 {
		t.Errorf("bad last seed: %v", last)
	}
}

func TestLoop_ContinueOnError(t *testing.T) {
	runner := &stubRunner{failAt: 2, outputs: map[string]map[string]any{}}
	ex, _ := loopFactory()(catalog.ExecContext{RunWorkflow: runner})

	out, err := ex.Execute(context.Background(), map[string]any{
		"array":             []any{1, 2, 3},
		"workflow_json":     map[string]any{"nodes": []any{}},
		"continue_on_error": true,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["total"] != 3 || out["success"] != false {
		t.Errorf("expected all iterations with success=false, got %v", out)
	}

	runner = &stubRunner{failAt: 2, outputs: map[string]map[string]any{}}
	ex, _ = loopFactory()(catalog.ExecContext{RunWorkflow: runner})
	_, err = ex.Execute(context.Background(), map[string]any{
		"array":         []any{1, 2, 3},
		"workflow_json": map[string]any{"nodes": []any{}},
	}, nil)
	if err == nil {
		t.Fatal("expected failure without continue_on_error")
	}
	if len(runner.seeds) != 2 {
		t.Errorf("iteration should stop at the failure, ran %d", len(runner.seeds))
	}
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
