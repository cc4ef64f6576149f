package schema

import (
	"bytes"
	"encoding/json"
	"time"
)

// Workflow is the JSON-serializable workflow document submitted by clients.
// Nodes are connected by dependency edges; params may reference upstream
// outputs with "$id.path" expressions.
type Workflow struct {
	Nodes []WorkflowNode `json:"nodes"`
	Edges []Edge         `json:"edges,omitempty"`
}

// WorkflowNode is a single typed unit of work within a workflow.
type WorkflowNode struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`

	// Condition is an optional CEL guard evaluated before execution.
	// A false result skips the node without failing the run.
	Condition string `json:"condition,omitempty"`
}

// Edge is a directed dependency between two node ids: From runs before To.
// Edges carry no payload; data flows through the output store.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// NodeStatus is the lifecycle state of a single node execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusCancelled NodeStatus = "cancelled"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Terminal reports whether the status is one a node never leaves.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusCancelled, NodeStatusSkipped:
		return true
	}
	return false
}

// NodeResult is the emitted progress record for one node.
// Data is present iff Status is completed; Error iff failed or cancelled.
type NodeResult struct {
	NodeID    string         `json:"node_id"`
	Status    NodeStatus     `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Iteration *int           `json:"iteration,omitempty"`
}

// RunSummary is the aggregate carried by the terminal complete event.
type RunSummary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
}

// Success reports whether every node completed.
func (s RunSummary) Success() bool {
	return s.Total > 0 && s.Completed == s.Total
}

// LoopOutput is the terminal output object of a loop_node.
type LoopOutput struct {
	Results []map[string]any `json:"results"`
	Total   int              `json:"total"`
	Success bool             `json:"success"`
}

// ParseWorkflow decodes a workflow document, using json.Number for numeric
// literals so that integer params survive the round trip intact.
func ParseWorkflow(raw []byte) (*Workflow, error) {
	var wf Workflow
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&wf); err != nil {
		return nil, NewErrorf(ErrCodeValidation, "parse workflow document: %s", err.Error()).WithCause(err)
	}
	return &wf, nil
}
