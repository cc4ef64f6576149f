package catalog

import (
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// LoadSpecs parses a declarative catalog file: a YAML mapping from node type
// to its spec. Output fields may be declared as plain doc strings:
//
//	add:
//	  name: Add
//	  description: Adds two numbers.
//	  retriable: false
//	  params:
//	    num1: {type: integer, required: true, description: first operand}
//	    num2: {type: integer, required: true, description: second operand}
//	  output:
//	    result: the sum
func LoadSpecs(r io.Reader) ([]NodeSpec, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "read catalog: %s", err.Error()).WithCause(err)
	}

	var byType map[string]NodeSpec
	if err := yaml.Unmarshal(raw, &byType); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse catalog: %s", err.Error()).WithCause(err)
	}

	specs := make([]NodeSpec, 0, len(byType))
	for typ, spec := range byType {
		spec.Type = typ
		if spec.Name == "" {
			spec.Name = typ
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs, nil
}

// UnmarshalYAML accepts either a mapping with a description field or a bare
// doc string for an output declaration.
func (o *OutputSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		o.Doc = value.Value
		return nil
	}
	type plain struct {
		Doc string `yaml:"description"`
	}
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	o.Doc = p.Doc
	return nil
}
