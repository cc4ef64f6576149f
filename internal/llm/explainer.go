package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Explainer narrates a finished run in plain language, streamed chunk by
// chunk so the client can render it as it arrives.
type Explainer struct {
	client Client
}

// NewExplainer builds an Explainer.
func NewExplainer(client Client) *Explainer {
	return &Explainer{client: client}
}

// Explain streams a short natural-language summary of the run. The chunk
// callback receives each delta; the full text is returned at the end.
func (e *Explainer) Explain(ctx context.Context, request string, wf *schema.Workflow, outputs map[string]map[string]any, summary schema.RunSummary, chunk func(delta string)) (string, error) {
	var b strings.Builder
	b.WriteString("Summarize for the user what this workflow run did and what came out of it. ")
	b.WriteString("Two or three sentences, no markdown, no node ids unless something failed.\n\n")
	if request != "" {
		fmt.Fprintf(&b, "User request: %s\n", request)
	}
	fmt.Fprintf(&b, "Nodes run: %d, completed: %d, failed: %d, skipped: %d.\n",
		summary.Total, summary.Completed, summary.Failed, summary.Skipped)

	if data, err := json.Marshal(outputs); err == nil {
		// Outputs can be large; the model only needs a taste.
		const cap = 4000
		s := string(data)
		if len(s) > cap {
			s = s[:cap] + "..."
		}
		fmt.Fprintf(&b, "Outputs: %s\n", s)
	}

	return e.client.Stream(ctx, []Message{
		{Role: RoleSystem, Content: "You explain workflow runs to end users, briefly and concretely."},
		{Role: RoleUser, Content: b.String()},
	}, chunk)
}
