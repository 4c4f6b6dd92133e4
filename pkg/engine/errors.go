package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNotRunnable        = errors.New("automation is not published")
	ErrNotPublished       = errors.New("automation has no published version")
	ErrExecutionNotActive = errors.New("execution is not running")
	ErrNotWaiting         = errors.New("execution is not waiting for a button press")
	ErrNodeNotFound       = errors.New("node not found in version")
	ErrForeignSender      = errors.New("button pressed by someone other than the recipient")
)

// JobError is the failure of one job. Its message is what the failed execution carries.
type JobError struct {
	JobID       string
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *JobError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
	}

	return fmt.Sprintf("job %s at node %s: %v", e.JobID, e.NodeID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
