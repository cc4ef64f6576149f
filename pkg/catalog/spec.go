// Package catalog holds the process-wide registry of node types: their
// parameter schemas, declared outputs, and the factories that produce
// executor instances. The registry is populated once at startup and frozen
// before the engine accepts runs.
package catalog

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// ParamKind is the declared type of a node parameter.
type ParamKind string

const (
	KindString   ParamKind = "string"
	KindInteger  ParamKind = "integer"
	KindFloat    ParamKind = "float"
	KindBoolean  ParamKind = "boolean"
	KindMapping  ParamKind = "mapping"
	KindSequence ParamKind = "sequence"
	KindTuple    ParamKind = "tuple"
	KindAny      ParamKind = "any"
)

// ParamSpec declares one parameter of a node type.
type ParamSpec struct {
	Kind     ParamKind `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Default  any       `json:"default,omitempty" yaml:"default,omitempty"`
	Doc      string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// OutputSpec documents one declared output field of a node type.
type OutputSpec struct {
	Doc string `json:"description,omitempty" yaml:"description,omitempty"`
}

// NodeSpec is a catalog entry: the immutable description of a node type.
type NodeSpec struct {
	Type        string                `json:"type" yaml:"type"`
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Params      map[string]ParamSpec  `json:"params,omitempty" yaml:"params,omitempty"`
	Outputs     map[string]OutputSpec `json:"outputs,omitempty" yaml:"output,omitempty"`

	// Retriable marks node kinds whose transient failures are retried
	// (network I/O, LLM chat, DB).
	Retriable bool `json:"retriable,omitempty" yaml:"retriable,omitempty"`

	// TimeoutSeconds is the default per-node deadline when the workflow
	// does not provide a timeout param. Zero means the engine default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Coerce converts a literal param value to the declared kind, applying the
// validator's lenient rules: numeric strings become numbers, JSON-shaped
// strings become mappings or sequences when the declared kind demands it.
// Reference expressions are never passed here.
func (k ParamKind) Coerce(value any) (any, error) {
	switch k {
	case KindAny, "":
		return value, nil

	case KindString:
		switch v := value.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
		b, err := json.Marshal(value)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot render %T as string", value)
		}
		return string(b), nil

	case KindInteger:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return int(i), nil
			}
			if f, err := v.Float64(); err == nil && f == float64(int64(f)) {
				return int(f), nil
			}
		case float64:
			if v == float64(int64(v)) {
				return int(v), nil
			}
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return i, nil
			}
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot coerce %v to integer", value)

	case KindFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, nil
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, nil
			}
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot coerce %v to float", value)

	case KindBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, nil
			}
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot coerce %v to boolean", value)

	case KindMapping:
		switch v := value.(type) {
		case map[string]any:
			return v, nil
		case string:
			var m map[string]any
			if err := json.Unmarshal([]byte(v), &m); err == nil {
				return m, nil
			}
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot coerce %T to mapping", value)

	case KindSequence, KindTuple:
		switch v := value.(type) {
		case []any:
			return v, nil
		case string:
			var s []any
			if err := json.Unmarshal([]byte(v), &s); err == nil {
				return s, nil
			}
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot coerce %T to sequence", value)
	}

	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown param kind %q", string(k))
}

// validKinds is the set of recognized parameter kinds.
var validKinds = map[ParamKind]bool{
	KindString: true, KindInteger: true, KindFloat: true, KindBoolean: true,
	KindMapping: true, KindSequence: true, KindTuple: true, KindAny: true,
}

// Validate checks internal consistency of a spec before registration.
func (s *NodeSpec) Validate() error {
	if s.Type == "" {
		return schema.NewError(schema.ErrCodeValidation, "node spec has empty type")
	}
	for name, p := range s.Params {
		if p.Kind != "" && !validKinds[p.Kind] {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"node type %s: param %s has unknown kind %q", s.Type, name, string(p.Kind))
		}
		if p.Required && p.Default != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"node type %s: param %s is required but declares a default", s.Type, name)
		}
	}
	return nil
}
