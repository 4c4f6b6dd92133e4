package models

import (
	"encoding/json"
	"time"
)

// NodeType is the closed set of steps a flow graph can contain.
type NodeType string

const (
	NodeTypeStart        NodeType = "start"
	NodeTypeMessage      NodeType = "message"
	NodeTypeButtons      NodeType = "buttons"
	NodeTypeCards        NodeType = "cards"
	NodeTypeWait         NodeType = "wait"
	NodeTypeAddTag       NodeType = "add_tag"
	NodeTypeRemoveTag    NodeType = "remove_tag"
	NodeTypeConditionTag NodeType = "condition_tag"
)

// Edge handles used by condition_tag nodes.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// Node is one step of a flow graph. Data holds the type-specific payload, see NodeData.
type Node struct {
	ID   string          `json:"id"   validate:"required"`
	Type NodeType        `json:"type" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Edge connects two nodes of the same graph. SourceHandle picks one of several
// outgoing paths (condition result, pressed button).
type Edge struct {
	ID           string `json:"id"                     validate:"required"`
	Source       string `json:"source"                 validate:"required"`
	Target       string `json:"target"                 validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Version is an immutable snapshot of an automation graph taken at publish time.
type Version struct {
	ID           string    `json:"id"`
	AutomationID string    `json:"automation_id"`
	Version      int       `json:"version"`
	Nodes        []*Node   `json:"nodes"`
	Edges        []*Edge   `json:"edges"`
	IsPublished  bool      `json:"is_published"`
	CreatedAt    time.Time `json:"created_at"`
}
