package diagram

import (
	"fmt"
	"strings"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// RenderMermaid renders a Graph as a Mermaid flowchart. Node shapes follow
// the node's role: loop_node gets the subroutine shape, guarded nodes the
// decision shape, everything else a plain box. Run status maps to classDefs.
func RenderMermaid(g *Graph) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if g.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", g.Title)
	}

	for _, n := range g.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(n))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(e.From), mermaidID(e.To))
	}

	if overlay := mermaidStatusLines(g); overlay != "" {
		b.WriteString("\n")
		b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
		b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
		b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
		b.WriteString("    classDef cancelled fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
		b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
		b.WriteString(overlay)
	}

	return b.String()
}

func mermaidNodeDef(n GraphNode) string {
	id := mermaidID(n.ID)
	label := n.ID
	if n.Type != "" && n.Type != n.ID {
		label = fmt.Sprintf("%s<br/>%s", n.ID, n.Type)
	}
	if n.LatencyMs > 0 {
		label += fmt.Sprintf("<br/>%dms", n.LatencyMs)
	}

	switch {
	case n.Type == "loop_node":
		return fmt.Sprintf("%s[[%q]]", id, label)
	case n.Guarded:
		return fmt.Sprintf("%s{%q}", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

func mermaidStatusLines(g *Graph) string {
	var b strings.Builder
	for _, n := range g.Nodes {
		cls := mermaidStatusClass(n.Status)
		if cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidID(n.ID), cls)
		}
	}
	return b.String()
}

func mermaidStatusClass(status schema.NodeStatus) string {
	switch status {
	case schema.NodeStatusCompleted:
		return "completed"
	case schema.NodeStatusFailed:
		return "failed"
	case schema.NodeStatusRunning:
		return "running"
	case schema.NodeStatusCancelled:
		return "cancelled"
	case schema.NodeStatusSkipped:
		return "skipped"
	}
	return ""
}

// mermaidID strips characters Mermaid treats as syntax from node ids.
func mermaidID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
