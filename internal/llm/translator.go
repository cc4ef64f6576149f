package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"context"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Translator turns a natural-language request into a workflow document using
// the node catalog as the instruction set.
type Translator struct {
	client   Client
	registry *catalog.Registry
}

// NewTranslator builds a Translator over a frozen registry.
func NewTranslator(client Client, registry *catalog.Registry) *Translator {
	return &Translator{client: client, registry: registry}
}

// Translate asks the model for a workflow document and parses the reply.
// The model's output is untrusted: it still goes through full validation
// before anything runs.
func (t *Translator) Translate(ctx context.Context, request string) (*schema.Workflow, error) {
	reply, err := t.client.Complete(ctx, []Message{
		{Role: RoleSystem, Content: t.systemPrompt()},
		{Role: RoleUser, Content: request},
	})
	if err != nil {
		return nil, err
	}

	wf, err := schema.ParseWorkflow([]byte(StripFences(reply)))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"model did not produce a valid workflow document: %s", err.Error()).WithCause(err)
	}
	return wf, nil
}

func (t *Translator) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You translate user requests into workflow JSON documents.\n")
	b.WriteString("Reply with a single JSON object {\"nodes\": [...], \"edges\": [...]} and nothing else.\n")
	b.WriteString("Each node has: id (unique snake_case), type (from the catalog below), params.\n")
	b.WriteString("Reference an upstream node's output with \"$node_id.field\" inside params; ")
	b.WriteString("references imply dependency edges, so edges are usually unnecessary.\n\n")
	b.WriteString("Node catalog:\n")
	b.WriteString(RenderCatalog(t.registry))
	return b.String()
}

// RenderCatalog renders the registry as a compact prompt section, one node
// type per block with its params and outputs.
func RenderCatalog(registry *catalog.Registry) string {
	var b strings.Builder
	for _, spec := range registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Type, spec.Description)

		names := make([]string, 0, len(spec.Params))
		for name := range spec.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := spec.Params[name]
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    param %s (%s, %s): %s\n", name, p.Kind, req, p.Doc)
		}

		outs := make([]string, 0, len(spec.Outputs))
		for name := range spec.Outputs {
			outs = append(outs, name)
		}
		sort.Strings(outs)
		for _, name := range outs {
			fmt.Fprintf(&b, "    output %s: %s\n", name, spec.Outputs[name].Doc)
		}
	}
	return b.String()
}

// StripFences removes a surrounding markdown code fence from a model reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ExtractJSON pulls the first top-level JSON object out of free-form text.
// Models occasionally wrap their JSON in prose despite instructions.
func ExtractJSON(s string) (string, bool) {
	s = StripFences(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case inStr:
			if c == '\\' {
				i++
			} else if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}
