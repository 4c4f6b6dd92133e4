// Package engine advances executions of published automations one node per job.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ogabrielsv/creatye/pkg/delivery"
	"github.com/ogabrielsv/creatye/pkg/eventbus"
	"github.com/ogabrielsv/creatye/pkg/events"
	"github.com/ogabrielsv/creatye/pkg/flow"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/otelhelper"
	"github.com/ogabrielsv/creatye/pkg/persistence"
	"github.com/ogabrielsv/creatye/pkg/template"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Credentials hands out delivery credentials for an owner. token.Manager implements it.
type Credentials interface {
	Ensure(ctx context.Context, ownerID string) (*models.Credential, error)
	Invalidate(ctx context.Context, credential *models.Credential, reason string) error
}

type Engine struct {
	persistence persistence.Persistence
	credentials Credentials
	adapter     delivery.Adapter
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithEventBus publishes execution lifecycle events on the bus.
func WithEventBus(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func New(
	persistence persistence.Persistence,
	credentials Credentials,
	adapter delivery.Adapter,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		persistence: persistence,
		credentials: credentials,
		adapter:     adapter,
		tracer:      otel.Tracer("creatye/engine"),
		logger:      logger.With("module", "engine"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start creates a running execution of the automation's published version for the
// recipient, together with its first job at the start node. triggeredAt is when the
// triggering message was received; the zero time means now.
func (e *Engine) Start(ctx context.Context, automation *models.Automation, recipientID string, triggeredAt time.Time, data map[string]any) (*models.Execution, error) {
	if !automation.Runnable() {
		return nil, fmt.Errorf("automation %s: %w", automation.ID, ErrNotRunnable)
	}

	if automation.PublishedVersionID == "" {
		return nil, fmt.Errorf("automation %s: %w", automation.ID, ErrNotPublished)
	}

	version, err := e.persistence.VersionByID(ctx, automation.PublishedVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load published version: %w", err)
	}

	graph, err := flow.FromVersion(version)
	if err != nil {
		return nil, err
	}

	now := e.now()

	if triggeredAt.IsZero() {
		triggeredAt = now
	}

	execution := &models.Execution{
		ID:            uuid.New().String(),
		AutomationID:  automation.ID,
		VersionID:     version.ID,
		OwnerID:       automation.OwnerID,
		RecipientID:   recipientID,
		CurrentNodeID: graph.Start().ID,
		Status:        models.ExecutionStatusRunning,
		Context:       data,
		TriggeredAt:   triggeredAt.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = e.persistence.CreateExecution(ctx, execution, e.newJob(execution.ID, graph.Start().ID, now))
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution started",
		"execution_id", execution.ID,
		"automation_id", automation.ID,
		"version_id", version.ID,
		"recipient_id", recipientID)

	triggerText, _ := data["text"].(string)

	e.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, automation.ID),
		ExecutionID: execution.ID,
		VersionID:   version.ID,
		RecipientID: recipientID,
		TriggerText: triggerText,
	})

	return execution, nil
}

// Resume continues an execution waiting on a buttons or cards node along the edge
// whose handle is the pressed button. Unknown handles are ignored. Only the
// execution's recipient may press its buttons.
func (e *Engine) Resume(ctx context.Context, executionID, senderID, handle string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.resume",
		attribute.String(otelhelper.ExecutionIDKey, executionID))
	defer span.End()

	logger := e.logger.With("execution_id", executionID, "handle", handle)

	execution, err := e.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	if execution.RecipientID != senderID {
		logger.WarnContext(ctx, "Ignoring button press from another sender", "sender_id", senderID)

		return fmt.Errorf("execution %s: %w", executionID, ErrForeignSender)
	}

	if execution.Status != models.ExecutionStatusRunning {
		return fmt.Errorf("execution %s is %s: %w", executionID, execution.Status, ErrExecutionNotActive)
	}

	jobs, err := e.persistence.JobsByExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Status == models.JobStatusQueued || job.Status == models.JobStatusProcessing {
			return fmt.Errorf("execution %s has pending job %s: %w", executionID, job.ID, ErrNotWaiting)
		}
	}

	automation, err := e.persistence.AutomationByID(ctx, execution.AutomationID)
	if err != nil {
		return err
	}

	if !automation.Runnable() {
		return fmt.Errorf("automation %s: %w", automation.ID, ErrNotRunnable)
	}

	graph, err := e.graph(ctx, execution.VersionID)
	if err != nil {
		return err
	}

	node, ok := graph.Node(execution.CurrentNodeID)
	if !ok || (node.Type != models.NodeTypeButtons && node.Type != models.NodeTypeCards) {
		return fmt.Errorf("execution %s at node %s: %w", executionID, execution.CurrentNodeID, ErrNotWaiting)
	}

	if !graph.HasHandle(node.ID, handle) {
		logger.WarnContext(ctx, "Ignoring button press without matching edge", "node_id", node.ID)

		return nil
	}

	now := e.now()

	next, err := e.advance(graph, execution, graph.Next(node.ID, handle), now)
	if err != nil {
		return err
	}

	if next == nil {
		err = e.persistence.UpdateExecution(ctx, execution)
		if err != nil {
			return fmt.Errorf("failed to finish execution: %w", err)
		}

		e.finished(ctx, execution, node.ID)

		return nil
	}

	err = e.persistence.EnqueueJob(ctx, execution, next)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	logger.InfoContext(ctx, "Execution resumed", "next_node_id", next.Payload.NodeID, "run_at", next.RunAt)

	return nil
}

func (e *Engine) graph(ctx context.Context, versionID string) (*flow.Graph, error) {
	version, err := e.persistence.VersionByID(ctx, versionID)
	if err != nil {
		return nil, err
	}

	return flow.FromVersion(version)
}

func (e *Engine) newJob(executionID, nodeID string, runAt time.Time) *models.Job {
	now := e.now()

	return &models.Job{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		RunAt:       runAt,
		Status:      models.JobStatusQueued,
		Payload:     models.JobPayload{NodeID: nodeID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// advance moves the execution to target. Consecutive wait nodes are collapsed into
// one delay so that no job ever targets a wait node. A nil job means the execution
// has finished and was marked so.
func (e *Engine) advance(graph *flow.Graph, execution *models.Execution, target *models.Node, now time.Time) (*models.Job, error) {
	var delay time.Duration

	for hops := 0; target != nil && target.Type == models.NodeTypeWait; hops++ {
		if hops > graph.Len() {
			return nil, fmt.Errorf("wait chain at node %s: %w", target.ID, flow.ErrCycle)
		}

		data, err := models.DecodeNodeData(target)
		if err != nil {
			return nil, err
		}

		delay += data.(models.WaitData).Delay()
		target = graph.Next(target.ID, "")
	}

	execution.UpdatedAt = now

	if target == nil {
		execution.Status = models.ExecutionStatusFinished
		execution.FinishedAt = &now

		return nil, nil
	}

	execution.CurrentNodeID = target.ID

	return e.newJob(execution.ID, target.ID, now.Add(delay)), nil
}

// perform runs the side effect of a node.
func (e *Engine) perform(ctx context.Context, execution *models.Execution, data models.NodeData) error {
	switch d := data.(type) {
	case models.StartData, models.WaitData, models.ConditionTagData:
		return nil
	case models.MessageData:
		text, err := template.RenderMessage(d.Text, execution)
		if err != nil {
			return err
		}

		return e.deliver(ctx, execution, delivery.Text(text))
	case models.ButtonsData:
		text, err := template.RenderMessage(d.Text, execution)
		if err != nil {
			return err
		}

		return e.deliver(ctx, execution, delivery.FromButtons(execution.ID, text, d))
	case models.CardsData:
		return e.deliver(ctx, execution, delivery.FromCards(execution.ID, d))
	case models.AddTagData:
		return e.persistence.AddTag(ctx, execution.OwnerID, execution.RecipientID, d.Tag)
	case models.RemoveTagData:
		return e.persistence.RemoveTag(ctx, execution.OwnerID, execution.RecipientID, d.Tag)
	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownNodeType, data)
	}
}

func (e *Engine) deliver(ctx context.Context, execution *models.Execution, payload delivery.Payload) error {
	credential, err := e.credentials.Ensure(ctx, execution.OwnerID)
	if err != nil {
		return err
	}

	result, err := e.adapter.Send(ctx, credential, execution.RecipientID, payload)
	if err != nil {
		if delivery.IsAuth(err) {
			invalidateErr := e.credentials.Invalidate(ctx, credential, err.Error())
			if invalidateErr != nil {
				e.logger.ErrorContext(ctx, "Failed to flag credential for reconnect",
					"credential_id", credential.ID,
					"error", invalidateErr)
			}
		}

		return err
	}

	e.logger.DebugContext(ctx, "Message delivered",
		"execution_id", execution.ID,
		"kind", payload.Kind,
		"message_id", result.MessageID)

	return nil
}

// route resolves where the execution goes after node. The boolean reports that the
// execution stays on node until a button press resumes it.
func (e *Engine) route(ctx context.Context, graph *flow.Graph, execution *models.Execution, node *models.Node, data models.NodeData) (*models.Node, bool, error) {
	switch d := data.(type) {
	case models.ConditionTagData:
		has, err := e.persistence.HasTag(ctx, execution.OwnerID, execution.RecipientID, d.Tag)
		if err != nil {
			return nil, false, err
		}

		handle := models.HandleFalse
		if has {
			handle = models.HandleTrue
		}

		return graph.Next(node.ID, handle), false, nil
	case models.ButtonsData, models.CardsData:
		if len(models.FlowButtons(d)) > 0 && !graph.HasHandle(node.ID, "") {
			return nil, true, nil
		}
	}

	return graph.Next(node.ID, ""), false, nil
}

func (e *Engine) finished(ctx context.Context, execution *models.Execution, lastNodeID string) {
	e.logger.InfoContext(ctx, "Execution finished",
		"execution_id", execution.ID,
		"automation_id", execution.AutomationID,
		"last_node_id", lastNodeID)

	e.publish(ctx, execution.ID, events.ExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedEvent, execution.AutomationID),
		ExecutionID: execution.ID,
		LastNodeID:  lastNodeID,
		Duration:    e.now().Sub(execution.CreatedAt),
	})
}

func (e *Engine) failed(ctx context.Context, execution *models.Execution, nodeID string, cause error) {
	e.logger.WarnContext(ctx, "Execution failed",
		"execution_id", execution.ID,
		"automation_id", execution.AutomationID,
		"node_id", nodeID,
		"error", cause)

	e.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent, execution.AutomationID),
		ExecutionID: execution.ID,
		NodeID:      nodeID,
		Error:       cause.Error(),
		Duration:    e.now().Sub(execution.CreatedAt),
	})
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err)
	}
}

// isIntegrityError reports failures caused by missing rows rather than by the store itself.
func isIntegrityError(err error) bool {
	return persistence.IsNotFound(err) || errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, flow.ErrStartNodeRequired) || errors.Is(err, models.ErrUnknownNodeType)
}
