// Package diagram renders a validated workflow DAG as Mermaid or ASCII text.
// Both renderers consume the same intermediate Graph, optionally overlaid
// with per-node run results.
package diagram

import (
	"sort"

	"github.com/fluxus-dev/fluxus/internal/validation"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Graph is the renderer-independent picture of a workflow: nodes grouped
// into dependency levels plus the combined explicit and inferred edges.
type Graph struct {
	Title  string
	Nodes  []GraphNode
	Edges  []schema.Edge
	Levels [][]string
}

// GraphNode is one workflow node plus optional run state.
type GraphNode struct {
	ID        string
	Type      string
	Guarded   bool // carries a condition expression
	Status    schema.NodeStatus
	LatencyMs int64
}

// Build lays out a normalized workflow. Results may be nil; when present,
// matching node entries pick up status and latency overlays.
func Build(norm *validation.Normalized, title string, results map[string]*schema.NodeResult) *Graph {
	g := &Graph{Title: title}

	depth := make(map[string]int, len(norm.Order))
	maxDepth := 0
	for _, id := range norm.Order {
		d := 0
		for _, p := range norm.Preds[id] {
			if depth[p]+1 > d {
				d = depth[p] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	g.Levels = make([][]string, maxDepth+1)
	for _, id := range norm.Order {
		g.Levels[depth[id]] = append(g.Levels[depth[id]], id)
	}
	for _, level := range g.Levels {
		sort.Strings(level)
	}

	for _, id := range norm.Order {
		node, err := norm.Node(id)
		if err != nil {
			continue
		}
		gn := GraphNode{ID: id, Type: node.Type, Guarded: node.Condition != ""}
		if res, ok := results[id]; ok && res != nil {
			gn.Status = res.Status
			if res.StartedAt != nil && res.EndedAt != nil {
				gn.LatencyMs = res.EndedAt.Sub(*res.StartedAt).Milliseconds()
			}
		}
		g.Nodes = append(g.Nodes, gn)
	}

	for id, succs := range norm.Succs {
		for _, to := range succs {
			g.Edges = append(g.Edges, schema.Edge{From: id, To: to})
		}
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})

	return g
}

func (g *Graph) node(id string) *GraphNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}
