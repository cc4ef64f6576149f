// Package nodes assembles the builtin node catalog: declarative specs in
// nodes.yaml paired with their executor factories.
package nodes

import (
	"bytes"
	"database/sql"
	_ "embed"

	"github.com/fluxus-dev/fluxus/internal/llm"
	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

//go:embed nodes.yaml
var catalogYAML []byte

// Deps are the external collaborators builtin nodes need. Nil fields
// disable the node kinds that depend on them: the registry entry remains so
// validation gives a clear error instead of "unknown type".
type Deps struct {
	LLM llm.Client
	DB  *sql.DB
}

// BuiltinRegistry loads nodes.yaml and wires every builtin factory. The
// returned registry is frozen.
func BuiltinRegistry(deps Deps) (*catalog.Registry, error) {
	specs, err := catalog.LoadSpecs(bytes.NewReader(catalogYAML))
	if err != nil {
		return nil, err
	}

	factories := map[string]catalog.Factory{
		"add":          simpleFactory(addExec),
		"multiply":     simpleFactory(multiplyExec),
		"text_concat":  simpleFactory(textConcatExec),
		"text_replace": simpleFactory(textReplaceExec),
		"echo":         simpleFactory(echoExec),
		"sleep":        simpleFactory(sleepExec),
		"expr":         simpleFactory(exprExec),
		"jq":           simpleFactory(jqExec),
		"http_request": httpFactory(),
		"file_read":    simpleFactory(fileReadExec),
		"file_write":   simpleFactory(fileWriteExec),
		"db_execute":   dbFactory(deps.DB),
		"chat":         chatFactory(deps.LLM),
		"loop_node":    loopFactory(),
	}

	reg := catalog.NewRegistry()
	for _, spec := range specs {
		factory, ok := factories[spec.Type]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInternal, "catalog entry %s has no executor", spec.Type)
		}
		if err := reg.Register(spec, factory); err != nil {
			return nil, err
		}
	}
	reg.Freeze()
	return reg, nil
}

// simpleFactory adapts a stateless executor function.
func simpleFactory(fn catalog.ExecutorFunc) catalog.Factory {
	return func(catalog.ExecContext) (catalog.NodeExecutor, error) {
		return fn, nil
	}
}
