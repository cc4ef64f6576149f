package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// Decision is one planner step: either an action to take or a final answer.
// Exactly one of Action or Final is set.
type Decision struct {
	Thought string         `json:"thought,omitempty"`
	Action  string         `json:"action,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
	Final   string         `json:"final,omitempty"`
}

// StepRecord is one completed action shown back to the planner.
type StepRecord struct {
	Action string         `json:"action"`
	Input  map[string]any `json:"input,omitempty"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Planner decides the agent's next step. The production implementation
// prompts the model with the node catalog as a tool list; tests substitute
// a scripted planner.
type Planner interface {
	Plan(ctx context.Context, goal string, history []StepRecord) (Decision, error)
}

// ChatPlanner implements Planner over a chat model.
type ChatPlanner struct {
	client   Client
	registry *catalog.Registry
}

// NewChatPlanner builds a ChatPlanner.
func NewChatPlanner(client Client, registry *catalog.Registry) *ChatPlanner {
	return &ChatPlanner{client: client, registry: registry}
}

// Plan asks the model for the next step given the goal and prior actions.
func (p *ChatPlanner) Plan(ctx context.Context, goal string, history []StepRecord) (Decision, error) {
	reply, err := p.client.Complete(ctx, []Message{
		{Role: RoleSystem, Content: p.systemPrompt()},
		{Role: RoleUser, Content: renderTranscript(goal, history)},
	})
	if err != nil {
		return Decision{}, err
	}

	raw, ok := ExtractJSON(reply)
	if !ok {
		return Decision{}, schema.NewErrorf(schema.ErrCodePermanentIO,
			"planner reply is not a JSON decision: %.120s", reply)
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, schema.NewErrorf(schema.ErrCodePermanentIO,
			"planner decision does not parse: %s", err.Error()).WithCause(err)
	}
	if d.Action == "" && d.Final == "" {
		return Decision{}, schema.NewError(schema.ErrCodePermanentIO,
			"planner decision has neither action nor final")
	}
	return d, nil
}

func (p *ChatPlanner) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You work toward the user's goal one tool call at a time.\n")
	b.WriteString("Reply with exactly one JSON object, either\n")
	b.WriteString("  {\"thought\": \"...\", \"action\": \"<tool type>\", \"input\": {...}}\n")
	b.WriteString("to invoke a tool, or\n")
	b.WriteString("  {\"thought\": \"...\", \"final\": \"<answer for the user>\"}\n")
	b.WriteString("when the goal is met. Input params must match the tool's declared params.\n\n")
	b.WriteString("Available tools:\n")
	b.WriteString(RenderCatalog(p.registry))
	return b.String()
}

func renderTranscript(goal string, history []StepRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	for i, rec := range history {
		fmt.Fprintf(&b, "\nStep %d: %s", i+1, rec.Action)
		if data, err := json.Marshal(rec.Input); err == nil {
			fmt.Fprintf(&b, " input=%s", data)
		}
		if rec.Error != "" {
			fmt.Fprintf(&b, "\n  error: %s", rec.Error)
			continue
		}
		if data, err := json.Marshal(rec.Result); err == nil {
			fmt.Fprintf(&b, "\n  result: %s", data)
		}
	}
	if len(history) > 0 {
		b.WriteString("\n\nDecide the next step.")
	}
	return b.String()
}
