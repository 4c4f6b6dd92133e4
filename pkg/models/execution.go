package models

import "time"

type ExecutionStatus string

const (
	ExecutionStatusRunning  ExecutionStatus = "running"
	ExecutionStatusFinished ExecutionStatus = "finished"
	ExecutionStatusFailed   ExecutionStatus = "failed"
)

// Execution is one run of a published version for one recipient. Executions are
// never deleted and double as the audit log for dedup.
type Execution struct {
	ID            string          `json:"id"`
	AutomationID  string          `json:"automation_id"`
	VersionID     string          `json:"version_id"`
	OwnerID       string          `json:"owner_id"`
	RecipientID   string          `json:"recipient_id"`
	CurrentNodeID string          `json:"current_node_id"`
	Status        ExecutionStatus `json:"status"`
	Context       map[string]any  `json:"context,omitempty"`
	Error         string          `json:"error,omitempty"`
	// TriggeredAt is when the message that started the execution was received.
	TriggeredAt time.Time  `json:"triggered_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionStatusFinished || e.Status == ExecutionStatusFailed
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing" // Claimed by a tick
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

type JobPayload struct {
	NodeID string `json:"node_id"`
	Action string `json:"action,omitempty"`
}

// Job is one deferred unit of work advancing an execution by one node.
type Job struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	RunAt       time.Time  `json:"run_at"`
	Status      JobStatus  `json:"status"`
	Payload     JobPayload `json:"payload"`
	Error       string     `json:"error,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
