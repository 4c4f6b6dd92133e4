package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogabrielsv/creatye/pkg/dedup"
	"github.com/ogabrielsv/creatye/pkg/models"
	"github.com/ogabrielsv/creatye/pkg/otelhelper"
	"github.com/ogabrielsv/creatye/pkg/persistence"
	"github.com/ogabrielsv/creatye/pkg/trigger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultBatchSize = 100

// Engine starts and resumes executions. engine.Engine implements it.
type Engine interface {
	Start(ctx context.Context, automation *models.Automation, recipientID string, triggeredAt time.Time, data map[string]any) (*models.Execution, error)
	Resume(ctx context.Context, executionID, senderID, handle string) error
}

type DispatchResult struct {
	Processed    int `json:"processed"`
	Invalid      int `json:"invalid"`
	Started      int `json:"started"`
	Resumed      int `json:"resumed"`
	Deduplicated int `json:"deduplicated"`
	Unmatched    int `json:"unmatched"`
}

type Dispatcher struct {
	persistence persistence.Persistence
	engine      Engine
	guard       dedup.Guard
	matcher     *trigger.Matcher
	batchSize   int
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func WithBatchSize(size int) Option {
	return func(d *Dispatcher) {
		d.batchSize = size
	}
}

func NewDispatcher(persistence persistence.Persistence, engine Engine, guard dedup.Guard, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		persistence: persistence,
		engine:      engine,
		guard:       guard,
		matcher:     trigger.NewMatcher(logger),
		batchSize:   DefaultBatchSize,
		tracer:      otel.Tracer("creatye/ingest"),
		logger:      logger.With("module", "dispatcher"),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch drains the inbound queue. Every entry is marked processed whatever the
// outcome; the error of a failed entry is stored on it.
func (d *Dispatcher) Dispatch(ctx context.Context) (DispatchResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "ingest.dispatch")
	defer span.End()

	var result DispatchResult

	for {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		entries, err := d.persistence.UnprocessedInboundEvents(ctx, d.batchSize)
		if err != nil {
			otelhelper.SetError(span, err)

			return result, fmt.Errorf("failed to read inbound events: %w", err)
		}

		if len(entries) == 0 {
			return result, nil
		}

		for _, entry := range entries {
			processingErr := d.process(ctx, entry, &result)

			errText := ""
			if processingErr != nil {
				errText = processingErr.Error()
				d.logger.WarnContext(ctx, "Inbound event processed with errors",
					"inbound_event_id", entry.ID,
					"error", processingErr)
			}

			err = d.persistence.MarkInboundEventProcessed(ctx, entry.ID, d.now(), errText)
			if err != nil {
				otelhelper.SetError(span, err)

				return result, fmt.Errorf("failed to mark inbound event %d: %w", entry.ID, err)
			}

			result.Processed++
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, entry *models.InboundEvent, result *DispatchResult) error {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "ingest.process",
		attribute.Int64(otelhelper.InboundEventIDKey, entry.ID))
	defer span.End()

	extracted, err := Parse(entry.Payload)
	if err != nil {
		result.Invalid++

		return err
	}

	var errs []error

	for _, press := range extracted.Presses {
		err = d.engine.Resume(ctx, press.ExecutionID, press.SenderID, press.ButtonID)
		if err != nil {
			errs = append(errs, fmt.Errorf("resume execution %s: %w", press.ExecutionID, err))

			continue
		}

		result.Resumed++
	}

	for _, event := range extracted.Messages {
		err = d.trigger(ctx, event, entry.ReceivedAt, result)
		if err != nil {
			errs = append(errs, err)
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// trigger resolves the account owner, matches the event against the owner's
// automations and starts an execution unless the dedup guard suppresses it.
// receivedAt is when the webhook delivery carrying the event was stored.
func (d *Dispatcher) trigger(ctx context.Context, event trigger.Event, receivedAt time.Time, result *DispatchResult) error {
	logger := d.logger.With("recipient_external_id", event.RecipientExternalID, "sender_id", event.SenderExternalID, "channel", event.Channel)

	credential, err := d.persistence.CredentialByChannelAccount(ctx, event.RecipientExternalID)
	if err != nil {
		if persistence.IsCredentialNotFound(err) {
			logger.DebugContext(ctx, "No account connected for recipient")

			result.Unmatched++

			return nil
		}

		return fmt.Errorf("resolve account %s: %w", event.RecipientExternalID, err)
	}

	candidates, err := d.persistence.AutomationsByOwner(ctx, credential.OwnerID)
	if err != nil {
		return fmt.Errorf("load automations of %s: %w", credential.OwnerID, err)
	}

	match, ok := d.matcher.Match(event, candidates)
	if !ok {
		result.Unmatched++

		return nil
	}

	automation := match.Automation
	logger = logger.With("automation_id", automation.ID)

	trace.SpanFromContext(ctx).AddEvent("trigger.matched", trace.WithAttributes(
		attribute.String(otelhelper.AutomationIDKey, automation.ID),
		attribute.String(otelhelper.ChannelKey, string(event.Channel))))

	allowed, err := d.guard.Allow(ctx, automation.ID, event.SenderExternalID, receivedAt)
	if err != nil {
		return fmt.Errorf("dedup check for automation %s: %w", automation.ID, err)
	}

	if !allowed {
		logger.InfoContext(ctx, "Suppressing duplicate trigger")

		result.Deduplicated++

		return nil
	}

	_, err = d.engine.Start(ctx, automation, event.SenderExternalID, receivedAt, map[string]any{
		"text":       event.Text,
		"channel":    string(event.Channel),
		"keyword":    match.Trigger.Keyword,
		"account_id": event.RecipientExternalID,
	})
	if err != nil {
		releaseErr := d.guard.Release(ctx, automation.ID, event.SenderExternalID, receivedAt)
		if releaseErr != nil {
			logger.ErrorContext(ctx, "Failed to release dedup claim", "error", releaseErr)
		}

		return fmt.Errorf("start automation %s: %w", automation.ID, err)
	}

	result.Started++

	return nil
}
