// Package llm wraps the chat-completion provider behind a small interface
// and builds the prompts used for workflow translation, run explanation, and
// agent planning.
package llm

import "context"

// Message roles mirror the chat-completion wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the chat-completion surface the engine depends on. Mock it in
// tests; the production implementation lives in openai.go.
type Client interface {
	// Complete returns the full assistant reply.
	Complete(ctx context.Context, messages []Message) (string, error)

	// Stream delivers the reply incrementally through chunk and returns
	// the accumulated text.
	Stream(ctx context.Context, messages []Message, chunk func(delta string)) (string, error)
}
