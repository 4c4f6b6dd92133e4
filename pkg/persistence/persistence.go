// Package persistence provides data storage abstraction layer for automations and their executions.
package persistence

import (
	"context"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
)

type AutomationRepository interface {
	// SaveAutomation inserts or updates an automation, including its draft graph.
	SaveAutomation(ctx context.Context, automation *models.Automation) error
	// AutomationByID returns ErrAutomationNotFound for unknown or soft-deleted automations.
	AutomationByID(ctx context.Context, id string) (*models.Automation, error)
	// AutomationsByOwner lists the owner's automations that are not deleted.
	AutomationsByOwner(ctx context.Context, ownerID string) ([]*models.Automation, error)
	DeleteAutomation(ctx context.Context, id string, at time.Time) error
}

type VersionRepository interface {
	// PublishVersion stores version as the next version number of its automation,
	// unpublishes the previous one and points the automation at it, atomically.
	PublishVersion(ctx context.Context, version *models.Version) error
	VersionByID(ctx context.Context, id string) (*models.Version, error)
	// Versions lists the automation versions, newest first.
	Versions(ctx context.Context, automationID string) ([]*models.Version, error)
}

type ExecutionRepository interface {
	// CreateExecution stores a new execution together with its first job.
	CreateExecution(ctx context.Context, execution *models.Execution, first *models.Job) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	// Executions lists the automation executions, newest first.
	Executions(ctx context.Context, automationID string, limit int) ([]*models.Execution, error)
	// LatestExecution returns the most recently triggered execution for the automation and recipient,
	// or ErrExecutionNotFound.
	LatestExecution(ctx context.Context, automationID, recipientID string) (*models.Execution, error)
	// UpdateExecution saves status, current node and error of an existing execution.
	UpdateExecution(ctx context.Context, execution *models.Execution) error
}

type JobRepository interface {
	// DueJobs returns queued jobs with run_at <= now, oldest first.
	DueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	// ClaimJob moves a job from queued to processing. It reports false when the
	// job was no longer queued.
	ClaimJob(ctx context.Context, id string, now time.Time) (bool, error)
	// CompleteJob marks the claimed job done, saves the execution and enqueues
	// next when it is not nil, atomically.
	CompleteJob(ctx context.Context, job *models.Job, execution *models.Execution, next *models.Job) error
	// FailJob marks the job failed and, when execution is not nil, saves it, atomically.
	// Both fail with ErrJobNotClaimed, changing nothing, unless the job is still processing.
	FailJob(ctx context.Context, job *models.Job, execution *models.Execution) error
	// EnqueueJob saves the execution and inserts job, atomically.
	EnqueueJob(ctx context.Context, execution *models.Execution, job *models.Job) error
	// RequeueStaleJobs returns processing jobs claimed before the cutoff to the queue.
	RequeueStaleJobs(ctx context.Context, claimedBefore time.Time) (int, error)
	JobsByExecution(ctx context.Context, executionID string) ([]*models.Job, error)
}

type CredentialRepository interface {
	SaveCredential(ctx context.Context, credential *models.Credential) error
	CredentialByOwner(ctx context.Context, ownerID string) (*models.Credential, error)
	CredentialByChannelAccount(ctx context.Context, channelAccountID string) (*models.Credential, error)
	// SwapCredentialToken replaces the token only if the stored token still equals
	// oldToken. It reports whether the swap happened.
	SwapCredentialToken(ctx context.Context, id, oldToken, newToken string, expiresAt time.Time) (bool, error)
	MarkCredentialReconnect(ctx context.Context, id, reason string) error
}

type InboundEventRepository interface {
	AppendInboundEvent(ctx context.Context, payload []byte, receivedAt time.Time) (int64, error)
	// UnprocessedInboundEvents returns the oldest entries not yet processed.
	UnprocessedInboundEvents(ctx context.Context, limit int) ([]*models.InboundEvent, error)
	MarkInboundEventProcessed(ctx context.Context, id int64, at time.Time, processingErr string) error
}

type TagRepository interface {
	AddTag(ctx context.Context, ownerID, recipientID, tag string) error
	RemoveTag(ctx context.Context, ownerID, recipientID, tag string) error
	HasTag(ctx context.Context, ownerID, recipientID, tag string) (bool, error)
	Tags(ctx context.Context, ownerID, recipientID string) ([]string, error)
}

type Persistence interface {
	AutomationRepository
	VersionRepository
	ExecutionRepository
	JobRepository
	CredentialRepository
	InboundEventRepository
	TagRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
