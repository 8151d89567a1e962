// Package workflow holds the graph model and execution record types
// shared by the engine and its stores.
package workflow

import (
	"time"

	"github.com/common-fate/rheoma/pkg/node"
)

// MainSlot is the default input and output port of a node.
const MainSlot = "main"

type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a typed unit of work. Data holds the node's configuration.
type Node struct {
	ID       string         `json:"id"`
	Type     node.Type      `json:"type"`
	Data     map[string]any `json:"data,omitempty"`
	Position Position       `json:"position"`
}

type Connection struct {
	FromNodeID     string `json:"fromNodeId"`
	ToNodeID       string `json:"toNodeId"`
	FromOutputSlot string `json:"fromOutputSlot"`
	ToInputSlot    string `json:"toInputSlot"`
}

// Normalize fills in the default slots.
func (c Connection) Normalize() Connection {
	if c.FromOutputSlot == "" {
		c.FromOutputSlot = MainSlot
	}
	if c.ToInputSlot == "" {
		c.ToInputSlot = MainSlot
	}
	return c
}

// Workflow is a snapshot of a stored graph along with its owner.
type Workflow struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	Name        string       `json:"name"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Node looks up a node by ID.
func (w *Workflow) Node(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

type Status string

const (
	Running Status = "RUNNING"
	Success Status = "SUCCESS"
	Failed  Status = "FAILED"
)

// Terminal returns true once an execution can no longer change.
func (s Status) Terminal() bool {
	return s == Success || s == Failed
}

// Execution is the durable record of one run, keyed by the
// triggering event ID.
type Execution struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflowId"`
	EventID     string         `json:"eventId"`
	Status      Status         `json:"status"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorStack  string         `json:"errorStack,omitempty"`
}

// Credential is a stored secret belonging to a user. Value is sealed.
type Credential struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Value  string `json:"-"`
}
