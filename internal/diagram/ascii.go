package diagram

import (
	"fmt"
	"strings"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// RenderASCII renders a Graph with box-drawing characters, one row of boxes
// per dependency level, top to bottom.
func RenderASCII(g *Graph) string {
	var b strings.Builder

	if g.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", g.Title)
	}

	for i, level := range g.Levels {
		var boxes []asciiBox
		for _, id := range level {
			if n := g.node(id); n != nil {
				boxes = append(boxes, makeBox(*n))
			}
		}
		renderBoxRow(&b, boxes)
		if i < len(g.Levels)-1 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	if len(g.Edges) > 0 {
		b.WriteString("\n--- edges ---\n")
		for _, e := range g.Edges {
			fmt.Fprintf(&b, "  %s ─→ %s\n", e.From, e.To)
		}
	}

	return b.String()
}

func statusTag(status schema.NodeStatus) string {
	switch status {
	case schema.NodeStatusCompleted:
		return "[OK]"
	case schema.NodeStatusFailed:
		return "[FAIL]"
	case schema.NodeStatusRunning:
		return "[RUN]"
	case schema.NodeStatusCancelled:
		return "[STOP]"
	case schema.NodeStatusSkipped:
		return "[SKIP]"
	case schema.NodeStatusPending, schema.NodeStatusReady:
		return "[PEND]"
	}
	return ""
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(n GraphNode) asciiBox {
	content := []string{n.ID}
	if n.Type != "" && n.Type != n.ID {
		content = append(content, n.Type)
	}
	if n.Guarded {
		content = append(content, "?cond")
	}
	if tag := statusTag(n.Status); tag != "" {
		content = append(content, tag)
	}
	if n.LatencyMs > 0 {
		content = append(content, fmt.Sprintf("%dms", n.LatencyMs))
	}

	maxLen := 0
	for _, line := range content {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}
	width := maxLen + 4

	lines := []string{"┌" + strings.Repeat("─", width-2) + "┐"}
	for _, line := range content {
		lines = append(lines, "│ "+line+strings.Repeat(" ", maxLen-len(line))+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}
	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}
