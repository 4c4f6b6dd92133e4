package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ogabrielsv/creatye/pkg/engine"
	"github.com/ogabrielsv/creatye/pkg/eventbus"
	"github.com/ogabrielsv/creatye/pkg/events"
	"github.com/ogabrielsv/creatye/pkg/ingest"
	"github.com/robfig/cron/v3"
)

// Worker drains the inbound queue and advances due jobs. Cycles never overlap.
type Worker struct {
	id         string
	logger     *slog.Logger
	dispatcher *ingest.Dispatcher
	scheduler  *engine.Scheduler
	eventBus   eventbus.EventBus
	mu         sync.Mutex
}

func NewWorker(
	id string,
	dispatcher *ingest.Dispatcher,
	scheduler *engine.Scheduler,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:         id,
		logger:     logger.With("module", "creatye-worker", "worker_id", id),
		dispatcher: dispatcher,
		scheduler:  scheduler,
		eventBus:   eventBus,
	}
}

// Cycle runs one dispatch followed by one tick.
func (w *Worker) Cycle(ctx context.Context) (ingest.DispatchResult, engine.TickResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dispatched, err := w.dispatcher.Dispatch(ctx)
	if err != nil {
		return dispatched, engine.TickResult{}, err
	}

	ticked, err := w.scheduler.Tick(ctx)
	if err != nil {
		return dispatched, ticked, err
	}

	w.logger.DebugContext(ctx, "Cycle finished",
		"processed", dispatched.Processed,
		"started", dispatched.Started,
		"resumed", dispatched.Resumed,
		"claimed", ticked.Claimed,
		"finished", ticked.Finished,
		"failed", ticked.Failed)

	return dispatched, ticked, nil
}

// Start runs a cycle on every schedule activation and whenever the API announces a
// webhook delivery, until the process receives SIGINT or SIGTERM.
func (w *Worker) Start(ctx context.Context, schedule string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w.logger.InfoContext(ctx, "Starting worker", "schedule", schedule)

	err := w.eventBus.Handle(events.InboundReceivedEvent, w.handleInboundReceived)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	logger := cron.VerbosePrintfLogger(slog.NewLogLogger(w.logger.Handler(), slog.LevelDebug))

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	_, err = c.AddFunc(schedule, func() {
		_, _, err := w.Cycle(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Cycle failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	c.Start()

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()
	w.logger.InfoContext(ctx, "Shutting down worker...")

	<-c.Stop().Done()

	return nil
}

func (w *Worker) handleInboundReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.InboundReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for InboundReceived")

		return nil
	}

	w.logger.DebugContext(ctx, "Inbound event announced", "inbound_event_id", received.InboundEventID)

	_, _, err := w.Cycle(ctx)

	return err
}
