package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/otelhelper"
	"github.com/ogabrielsv/creatye/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBatchSize = 50
	DefaultMaxJobs   = 1000
	DefaultLease     = 5 * time.Minute
)

// TickResult counts what one tick did.
type TickResult struct {
	Requeued int `json:"requeued"`
	Claimed  int `json:"claimed"`
	Skipped  int `json:"skipped"`
	Advanced int `json:"advanced"`
	Waiting  int `json:"waiting"`
	Finished int `json:"finished"`
	Failed   int `json:"failed"`
	// Lost counts claimed jobs whose claim expired before they completed.
	Lost      int  `json:"lost"`
	Truncated bool `json:"truncated"`
}

type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomeWaiting
	outcomeFinished
	outcomeFailed
	outcomeLost
)

// Scheduler drains due jobs. It keeps no state between ticks: delays are future
// run_at values and the tick cadence is driven from outside.
type Scheduler struct {
	engine    *Engine
	batchSize int
	maxJobs   int
	lease     time.Duration
	logger    *slog.Logger
}

type SchedulerOption func(*Scheduler)

func WithBatchSize(size int) SchedulerOption {
	return func(s *Scheduler) {
		s.batchSize = size
	}
}

// WithMaxJobs caps how many jobs a single tick may claim.
func WithMaxJobs(limit int) SchedulerOption {
	return func(s *Scheduler) {
		s.maxJobs = limit
	}
}

// WithLease sets how long a claimed job may stay in processing before a tick
// returns it to the queue.
func WithLease(lease time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.lease = lease
	}
}

func NewScheduler(engine *Engine, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		engine:    engine,
		batchSize: DefaultBatchSize,
		maxJobs:   DefaultMaxJobs,
		lease:     DefaultLease,
		logger:    engine.logger.With("module", "scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Tick requeues stale claims, then claims and processes due jobs batch after batch
// until none is due or the per-tick cap is reached. Jobs enqueued during the tick
// with run_at <= now are picked up by the same tick.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.engine.tracer, "scheduler.tick")
	defer span.End()

	var result TickResult

	store := s.engine.persistence

	requeued, err := store.RequeueStaleJobs(ctx, s.engine.now().Add(-s.lease))
	if err != nil {
		otelhelper.SetError(span, err)

		return result, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}

	result.Requeued = requeued
	if requeued > 0 {
		s.logger.WarnContext(ctx, "Requeued jobs with expired claims", "count", requeued)
	}

	for {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		remaining := s.maxJobs - result.Claimed - result.Skipped
		if remaining <= 0 {
			result.Truncated = true

			break
		}

		jobs, err := store.DueJobs(ctx, s.engine.now(), min(s.batchSize, remaining))
		if err != nil {
			otelhelper.SetError(span, err)

			return result, fmt.Errorf("failed to fetch due jobs: %w", err)
		}

		if len(jobs) == 0 {
			break
		}

		for _, job := range jobs {
			claimed, err := store.ClaimJob(ctx, job.ID, s.engine.now())
			if err != nil {
				otelhelper.SetError(span, err)

				return result, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
			}

			if !claimed {
				result.Skipped++

				continue
			}

			result.Claimed++

			out, err := s.process(ctx, job)
			if err != nil {
				otelhelper.SetError(span, err)

				return result, err
			}

			switch out {
			case outcomeAdvanced:
				result.Advanced++
			case outcomeWaiting:
				result.Waiting++
			case outcomeFinished:
				result.Finished++
			case outcomeFailed:
				result.Failed++
			case outcomeLost:
				result.Lost++
			}
		}
	}

	span.SetAttributes(
		attribute.Int("creatye.tick.claimed", result.Claimed),
		attribute.Int("creatye.tick.failed", result.Failed),
	)

	if result.Claimed > 0 || result.Requeued > 0 {
		s.logger.InfoContext(ctx, "Tick completed",
			"claimed", result.Claimed,
			"advanced", result.Advanced,
			"waiting", result.Waiting,
			"finished", result.Finished,
			"failed", result.Failed,
			"skipped", result.Skipped,
			"lost", result.Lost,
			"truncated", result.Truncated)
	}

	return result, nil
}

// process runs one claimed job. Only storage failures are returned; every other
// problem fails the job and, when there is one, its execution.
func (s *Scheduler) process(ctx context.Context, job *models.Job) (outcome, error) {
	e := s.engine
	store := e.persistence

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "scheduler.job",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.NodeIDKey, job.Payload.NodeID))
	defer span.End()

	logger := s.logger.With("job_id", job.ID, "execution_id", job.ExecutionID, "node_id", job.Payload.NodeID)

	execution, err := store.ExecutionByID(ctx, job.ExecutionID)
	if err != nil {
		if isIntegrityError(err) {
			return s.fail(ctx, job, nil, err)
		}

		return outcomeFailed, err
	}

	span.SetAttributes(
		attribute.String(otelhelper.AutomationIDKey, execution.AutomationID),
		attribute.String(otelhelper.VersionIDKey, execution.VersionID))

	if execution.Status != models.ExecutionStatusRunning {
		logger.WarnContext(ctx, "Dropping stale job", "status", execution.Status)

		return s.fail(ctx, job, nil, fmt.Errorf("stale job: execution is %s: %w", execution.Status, ErrExecutionNotActive))
	}

	automation, err := store.AutomationByID(ctx, execution.AutomationID)
	if err != nil && !isIntegrityError(err) {
		return outcomeFailed, err
	}

	if err != nil || !automation.Runnable() {
		return s.fail(ctx, job, execution, ErrNotRunnable)
	}

	graph, err := e.graph(ctx, execution.VersionID)
	if err != nil {
		if isIntegrityError(err) {
			return s.fail(ctx, job, execution, err)
		}

		return outcomeFailed, err
	}

	node, ok := graph.Node(job.Payload.NodeID)
	if !ok {
		return s.fail(ctx, job, execution, fmt.Errorf("%w: %s", ErrNodeNotFound, job.Payload.NodeID))
	}

	span.SetAttributes(attribute.String(otelhelper.NodeTypeKey, string(node.Type)))

	data, err := models.DecodeNodeData(node)
	if err != nil {
		return s.fail(ctx, job, execution, err)
	}

	err = e.perform(ctx, execution, data)
	if err != nil {
		otelhelper.SetError(span, err)

		return s.fail(ctx, job, execution, err)
	}

	target, waiting, err := e.route(ctx, graph, execution, node, data)
	if err != nil {
		return s.fail(ctx, job, execution, err)
	}

	now := e.now()
	job.UpdatedAt = now

	if waiting {
		execution.CurrentNodeID = node.ID
		execution.UpdatedAt = now

		err = store.CompleteJob(ctx, job, execution, nil)
		if err != nil {
			return s.completionFailed(ctx, job, err)
		}

		logger.DebugContext(ctx, "Execution waiting for button press")

		return outcomeWaiting, nil
	}

	next, err := e.advance(graph, execution, target, now)
	if err != nil {
		return s.fail(ctx, job, execution, err)
	}

	err = store.CompleteJob(ctx, job, execution, next)
	if err != nil {
		return s.completionFailed(ctx, job, err)
	}

	if next == nil {
		e.finished(ctx, execution, node.ID)

		return outcomeFinished, nil
	}

	logger.DebugContext(ctx, "Job completed", "next_node_id", next.Payload.NodeID, "run_at", next.RunAt)

	return outcomeAdvanced, nil
}

// fail marks the job failed with cause and, when execution is not nil, fails the
// execution with it as well.
func (s *Scheduler) fail(ctx context.Context, job *models.Job, execution *models.Execution, cause error) (outcome, error) {
	e := s.engine
	now := e.now()

	jobErr := &JobError{JobID: job.ID, ExecutionID: job.ExecutionID, NodeID: job.Payload.NodeID, Err: cause}

	job.Error = jobErr.Error()
	job.UpdatedAt = now

	if execution != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.Error = cause.Error()
		execution.UpdatedAt = now
		execution.FinishedAt = &now
	}

	err := e.persistence.FailJob(ctx, job, execution)
	if err != nil {
		if errors.Is(err, persistence.ErrJobNotClaimed) {
			return s.completionFailed(ctx, job, err)
		}

		return outcomeFailed, errors.Join(fmt.Errorf("failed to record job failure: %w", err), jobErr)
	}

	if execution != nil {
		e.failed(ctx, execution, job.Payload.NodeID, cause)
	} else {
		s.logger.WarnContext(ctx, "Job failed", "job_id", job.ID, "error", jobErr)
	}

	return outcomeFailed, nil
}

// completionFailed drops the result of a job whose claim was lost to a requeue; the
// job runs again under its new claim. Other storage errors abort the tick.
func (s *Scheduler) completionFailed(ctx context.Context, job *models.Job, err error) (outcome, error) {
	if errors.Is(err, persistence.ErrJobNotClaimed) {
		s.logger.WarnContext(ctx, "Discarding result of job whose claim expired", "job_id", job.ID)

		return outcomeLost, nil
	}

	return outcomeFailed, fmt.Errorf("failed to complete job %s: %w", job.ID, err)
}
