package nodes

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/itchyny/gojq"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// exprExec evaluates an expr-lang expression. The env mapping is injected as
// top-level variables.
func exprExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	source, err := stringParam(params, "expression")
	if err != nil {
		return nil, err
	}
	env, err := mappingParam(params, "env")
	if err != nil {
		return nil, err
	}

	prg, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expression %q does not compile: %s", source, err.Error()).WithCause(err)
	}
	out, err := expr.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePermanentIO,
			"expression %q failed: %s", source, err.Error()).WithCause(err)
	}
	return map[string]any{"result": out}, nil
}

// jqExec runs a jq program against the input value. jq programs can emit
// several values; "result" carries the first and "results" all of them.
func jqExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	query, err := stringParam(params, "query")
	if err != nil {
		return nil, err
	}
	input, ok := params["input"]
	if !ok {
		return nil, missing("input")
	}

	q, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq program %q does not parse: %s", query, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq program %q does not compile: %s", query, err.Error()).WithCause(err)
	}

	iter := code.RunWithContext(ctx, input)
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if jqErr, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodePermanentIO,
				"jq program %q failed: %s", query, jqErr.Error()).WithCause(jqErr)
		}
		results = append(results, val)
	}

	var first any
	if len(results) > 0 {
		first = results[0]
	}
	return map[string]any{"result": first, "results": results}, nil
}
