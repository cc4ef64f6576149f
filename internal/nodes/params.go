package nodes

import (
	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Typed param accessors. Validation has already coerced literals, but
// resolved references arrive with whatever type the upstream node produced,
// so executors re-coerce at the point of use.

func floatParam(params map[string]any, name string) (float64, error) {
	v, ok := params[name]
	if !ok {
		return 0, missing(name)
	}
	c, err := catalog.KindFloat.Coerce(v)
	if err != nil {
		return 0, badParam(name, err)
	}
	return c.(float64), nil
}

func stringParam(params map[string]any, name string) (string, error) {
	v, ok := params[name]
	if !ok {
		return "", missing(name)
	}
	c, err := catalog.KindString.Coerce(v)
	if err != nil {
		return "", badParam(name, err)
	}
	return c.(string), nil
}

func optionalStringParam(params map[string]any, name, fallback string) (string, error) {
	if _, ok := params[name]; !ok {
		return fallback, nil
	}
	return stringParam(params, name)
}

func boolParam(params map[string]any, name string, fallback bool) (bool, error) {
	v, ok := params[name]
	if !ok {
		return fallback, nil
	}
	c, err := catalog.KindBoolean.Coerce(v)
	if err != nil {
		return false, badParam(name, err)
	}
	return c.(bool), nil
}

func sequenceParam(params map[string]any, name string) ([]any, error) {
	v, ok := params[name]
	if !ok {
		return nil, missing(name)
	}
	c, err := catalog.KindSequence.Coerce(v)
	if err != nil {
		return nil, badParam(name, err)
	}
	return c.([]any), nil
}

func mappingParam(params map[string]any, name string) (map[string]any, error) {
	v, ok := params[name]
	if !ok {
		return map[string]any{}, nil
	}
	c, err := catalog.KindMapping.Coerce(v)
	if err != nil {
		return nil, badParam(name, err)
	}
	return c.(map[string]any), nil
}

func missing(name string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "param %q missing", name)
}

func badParam(name string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "param %q: %s", name, err.Error()).WithCause(err)
}
