package schema

import "time"

// Event kinds streamed to session subscribers.
const (
	EventStatus       = "status"
	EventWorkflow     = "workflow"
	EventNodeResult   = "node_result"
	EventExplanation  = "explanation"
	EventAnswer       = "answer"
	EventToolProgress = "tool_progress"
	EventToolRetry    = "tool_retry"

	EventActionStart    = "action_start"
	EventActionComplete = "action_complete"
	EventAgentStart     = "agent_start"
	EventAgentThinking  = "agent_thinking"
	EventAgentError     = "agent_error"
	EventAgentComplete  = "agent_complete"

	EventComplete = "complete"
	EventError    = "error"
)

// Event is one entry in a session's ordered stream.
type Event struct {
	Kind      string    `json:"event"`
	Payload   any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
}

// Terminal reports whether the event closes its session stream.
func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}

// RetryPayload is the data carried by a tool_retry event.
type RetryPayload struct {
	NodeID     string `json:"node_id"`
	Attempt    int    `json:"attempt"`
	MaxRetries int    `json:"max_retries"`
	Error      string `json:"error"`
}

// ActionPayload describes one agent tool invocation.
type ActionPayload struct {
	ActionID string         `json:"action_id"`
	Action   string         `json:"action"`
	Input    map[string]any `json:"input,omitempty"`
	Result   *NodeResult    `json:"result,omitempty"`
}
