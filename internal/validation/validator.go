// Package validation turns a raw workflow document into a normalized,
// schedulable DAG. The pipeline is: document shape (JSON Schema), catalog
// conformance (types, params, coercion), reference soundness, implicit edge
// inference, and cycle rejection via topological sort. Validator failures
// are fatal: no executor runs.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fluxus-dev/fluxus/internal/refs"
	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// LoopContextID is the reserved node id bound to loop iteration variables
// inside a loop subgraph ($loop.item, $loop.index, ...).
const LoopContextID = "loop"

// Normalized is the validator's output: the workflow with coerced literal
// params and the full (explicit + inferred) edge set, plus the topological
// order the scheduler uses as a readiness tie-break.
type Normalized struct {
	Workflow *schema.Workflow
	Order    []string
	Rank     map[string]int
	Preds    map[string][]string
	Succs    map[string][]string

	// MaxWidth is the widest dependency level: the most nodes that can
	// ever be runnable at once. The scheduler sizes its pool from it.
	MaxWidth int
}

// Options tune a single validation pass.
type Options struct {
	// InLoopSubgraph permits references to the reserved "loop" id.
	InLoopSubgraph bool

	// SeedIDs are ids whose outputs exist before the run starts. References
	// to them are valid but imply no edge.
	SeedIDs []string
}

// Validator validates workflow documents against a node registry.
type Validator struct {
	jsonSchema *JSONSchemaValidator
	registry   *catalog.Registry
}

// New creates a Validator bound to a registry.
func New(registry *catalog.Registry) (*Validator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{jsonSchema: jsv, registry: registry}, nil
}

// Validate runs the full pipeline. The input workflow is not mutated; the
// returned Normalized owns its own node and edge slices.
func (v *Validator) Validate(wf *schema.Workflow, opts Options) (*Normalized, error) {
	if err := v.jsonSchema.ValidateDocument(wf); err != nil {
		return nil, err
	}

	nodes := make([]schema.WorkflowNode, len(wf.Nodes))
	copy(nodes, wf.Nodes)

	seeded := make(map[string]bool, len(opts.SeedIDs))
	for _, id := range opts.SeedIDs {
		seeded[id] = true
	}

	// Unique ids, known types.
	byID := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.ID == LoopContextID {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node id %q is reserved", LoopContextID)
		}
		if seeded[n.ID] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node id %q collides with a seeded id", n.ID)
		}
		if _, dup := byID[n.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id: %s", n.ID)
		}
		byID[n.ID] = i
		if !v.registry.Has(n.Type) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s has unknown type: %s", n.ID, n.Type).WithNode(n.ID)
		}
	}

	// Edge endpoints must exist.
	edges := make([]schema.Edge, 0, len(wf.Edges))
	edgeSet := make(map[schema.Edge]bool, len(wf.Edges))
	for _, e := range wf.Edges {
		if _, ok := byID[e.From]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown node: %s", e.From)
		}
		if _, ok := byID[e.To]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "edge references unknown node: %s", e.To)
		}
		if edgeSet[e] {
			continue
		}
		edgeSet[e] = true
		edges = append(edges, e)
	}

	// Params: presence, defaults, lenient coercion of literals, reference
	// soundness, implicit edge inference.
	for i := range nodes {
		node := &nodes[i]
		spec, err := v.registry.Spec(node.Type)
		if err != nil {
			return nil, err
		}

		params, err := checkParams(node, spec)
		if err != nil {
			return nil, err
		}
		node.Params = params

		for _, refID := range refs.CollectRefs(node.Params) {
			if refID == LoopContextID {
				if !opts.InLoopSubgraph {
					return nil, schema.NewErrorf(schema.ErrCodeValidation,
						"node %s references $%s outside a loop subgraph", node.ID, LoopContextID).WithNode(node.ID)
				}
				continue
			}
			if seeded[refID] {
				continue
			}
			if _, ok := byID[refID]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"node %s references unknown node: $%s", node.ID, refID).WithNode(node.ID)
			}
			if refID == node.ID {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"node %s references itself", node.ID).WithNode(node.ID)
			}
			// Every reference implies an edge; insert if absent.
			e := schema.Edge{From: refID, To: node.ID}
			if !edgeSet[e] {
				edgeSet[e] = true
				edges = append(edges, e)
			}
		}
	}

	norm := &Normalized{
		Workflow: &schema.Workflow{Nodes: nodes, Edges: edges},
		Rank:     make(map[string]int, len(nodes)),
		Preds:    make(map[string][]string, len(nodes)),
		Succs:    make(map[string][]string, len(nodes)),
	}
	for _, n := range nodes {
		norm.Preds[n.ID] = nil
		norm.Succs[n.ID] = nil
	}
	for _, e := range edges {
		norm.Preds[e.To] = append(norm.Preds[e.To], e.From)
		norm.Succs[e.From] = append(norm.Succs[e.From], e.To)
	}

	order, err := topoSort(norm)
	if err != nil {
		return nil, err
	}
	norm.Order = order
	for rank, id := range order {
		norm.Rank[id] = rank
	}

	// Group nodes by longest-path depth to find the widest level.
	depth := make(map[string]int, len(order))
	widths := make(map[int]int)
	for _, id := range order {
		d := 0
		for _, p := range norm.Preds[id] {
			if depth[p]+1 > d {
				d = depth[p] + 1
			}
		}
		depth[id] = d
		widths[d]++
		if widths[d] > norm.MaxWidth {
			norm.MaxWidth = widths[d]
		}
	}

	return norm, nil
}

// checkParams applies defaults, verifies required params, and coerces
// literal values to the declared kinds. References are kept verbatim:
// they are type-checked at resolution time. Undeclared params pass through
// unchanged (node kinds accept engine-level extras such as "timeout").
func checkParams(node *schema.WorkflowNode, spec catalog.NodeSpec) (map[string]any, error) {
	params := make(map[string]any, len(node.Params))
	for k, v := range node.Params {
		params[k] = v
	}

	for name, ps := range spec.Params {
		val, provided := params[name]
		if !provided {
			if ps.Required {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"node %s: required param %q missing", node.ID, name).WithNode(node.ID)
			}
			if ps.Default != nil {
				params[name] = ps.Default
			}
			continue
		}
		if refs.IsRef(val) {
			continue
		}
		coerced, err := ps.Kind.Coerce(val)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"node %s: param %q: %s", node.ID, name, err.Error()).WithNode(node.ID).WithCause(err)
		}
		params[name] = coerced
	}

	return params, nil
}

// topoSort runs Kahn's algorithm over the normalized graph. Roots and
// newly-freed nodes are processed in lexical order for determinism. A
// non-empty remainder is a cycle; the error names the nodes involved.
func topoSort(norm *Normalized) ([]string, error) {
	inDegree := make(map[string]int, len(norm.Preds))
	for id, preds := range norm.Preds {
		inDegree[id] = len(preds)
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(inDegree))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		succs := append([]string(nil), norm.Succs[id]...)
		sort.Strings(succs)
		for _, s := range succs {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if len(order) != len(inDegree) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"workflow contains a cycle involving: %s", strings.Join(stuck, ", "))
	}

	return order, nil
}

// ForwardReachable returns every node reachable from the given id via
// successor edges, excluding the id itself. The scheduler uses this to skip
// the downstream set of a failed node.
func (n *Normalized) ForwardReachable(id string) []string {
	seen := make(map[string]bool)
	var stack []string
	stack = append(stack, n.Succs[id]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, n.Succs[cur]...)
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Node returns the node with the given id.
func (n *Normalized) Node(id string) (*schema.WorkflowNode, error) {
	for i := range n.Workflow.Nodes {
		if n.Workflow.Nodes[i].ID == id {
			return &n.Workflow.Nodes[i], nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, fmt.Sprintf("node %q not in workflow", id))
}
