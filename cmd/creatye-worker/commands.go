package main

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/ogabrielsv/creatye/pkg/cmd"
	"github.com/ogabrielsv/creatye/pkg/dedup"
	"github.com/ogabrielsv/creatye/pkg/delivery"
	"github.com/ogabrielsv/creatye/pkg/engine"
	"github.com/ogabrielsv/creatye/pkg/eventbus"
	"github.com/ogabrielsv/creatye/pkg/ingest"
	"github.com/ogabrielsv/creatye/pkg/log"
	"github.com/ogabrielsv/creatye/pkg/otelhelper"
	"github.com/ogabrielsv/creatye/pkg/persistence"
	"github.com/ogabrielsv/creatye/pkg/token"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/attribute"
)

const defaultGraphAPIURL = "https://graph.instagram.com/v21.0"

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres://... or memory://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka broker addresses",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the dedup guard (execution history is used when empty)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "dedup-window",
			Usage:   "Cooldown before the same sender can start the same automation again",
			Value:   dedup.DefaultWindow,
			Sources: cli.EnvVars("DEDUP_WINDOW"),
		},
		&cli.StringFlag{
			Name:    "graph-api-url",
			Usage:   "Base URL of the messaging provider Graph API",
			Value:   defaultGraphAPIURL,
			Sources: cli.EnvVars("GRAPH_API_URL"),
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Jobs claimed per scheduler batch",
			Value:   engine.DefaultBatchSize,
			Sources: cli.EnvVars("BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "max-jobs",
			Usage:   "Maximum jobs processed per tick",
			Value:   engine.DefaultMaxJobs,
			Sources: cli.EnvVars("MAX_JOBS"),
		},
		&cli.DurationFlag{
			Name:    "lease",
			Usage:   "How long a claimed job may stay processing before it is requeued",
			Value:   engine.DefaultLease,
			Sources: cli.EnvVars("JOB_LEASE"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.FloatFlag{
			Name:    "trace-sample-ratio",
			Usage:   "Fraction of root traces exported when tracing is enabled",
			Value:   1,
			Sources: cli.EnvVars("TRACE_SAMPLE_RATIO"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Also write logs to this rotating file",
			Sources: cli.EnvVars("LOG_FILE"),
		},
	}
}

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run dispatch and tick cycles on a schedule",
		Flags: append(flags(), &cli.StringFlag{
			Name:    "tick-schedule",
			Usage:   "Cron spec for the cycle cadence",
			Value:   "@every 1m",
			Sources: cli.EnvVars("TICK_SCHEDULE"),
		}),
		Action: func(ctx context.Context, command *cli.Command) error {
			return withWorker(ctx, command, func(worker *Worker) error {
				return worker.Start(ctx, command.String("tick-schedule"))
			})
		},
	}
}

func TickCommand() *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "Run a single dispatch and tick cycle, then exit",
		Flags: flags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			return withWorker(ctx, command, func(worker *Worker) error {
				dispatched, ticked, err := worker.Cycle(ctx)
				if err != nil {
					return err
				}

				worker.logger.InfoContext(ctx, "Cycle completed",
					"processed", dispatched.Processed,
					"invalid", dispatched.Invalid,
					"started", dispatched.Started,
					"resumed", dispatched.Resumed,
					"deduplicated", dispatched.Deduplicated,
					"unmatched", dispatched.Unmatched,
					"requeued", ticked.Requeued,
					"claimed", ticked.Claimed,
					"skipped", ticked.Skipped,
					"lost", ticked.Lost,
					"advanced", ticked.Advanced,
					"waiting", ticked.Waiting,
					"finished", ticked.Finished,
					"failed", ticked.Failed,
					"truncated", ticked.Truncated)

				return nil
			})
		},
	}
}

func withWorker(ctx context.Context, command *cli.Command, run func(*Worker) error) error {
	err := log.Setup(command.String("log-level"), command.String("log-file"))
	if err != nil {
		return err
	}

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("creatye-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing Creatye Worker")

	engineOpts := []engine.Option{}

	if command.Bool("tracing") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, otelhelper.Config{
			ServiceName: "creatye-worker",
			SampleRatio: command.Float("trace-sample-ratio"),
			Attributes:  []attribute.KeyValue{attribute.String(otelhelper.WorkerIDKey, workerID)},
		})
		if err != nil {
			return err
		}

		defer func() {
			err := shutdown(context.WithoutCancel(ctx))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
			}
		}()

		engineOpts = append(engineOpts, engine.WithTracer(tracer))
	}

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "creatye-worker", logger)
	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	guard, closeGuard := cmd.NewDedupGuard(ctx, logger, command.String("redis-url"), command.Duration("dedup-window"), persistence)
	defer func() {
		err := closeGuard()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close dedup guard", "error", err)
		}
	}()

	worker := newWorker(workerID, logger, command, persistence, eventBus, guard, engineOpts)

	return run(worker)
}

func newWorker(
	workerID string,
	logger *slog.Logger,
	command *cli.Command,
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	guard dedup.Guard,
	engineOpts []engine.Option,
) *Worker {
	graphURL := command.String("graph-api-url")

	credentials := token.NewManager(store, token.NewGraphRefresher(graphURL), logger)
	adapter := delivery.NewGraphAdapter(graphURL, logger)

	e := engine.New(store, credentials, adapter, logger,
		append(engineOpts, engine.WithEventBus(eventBus))...)

	scheduler := engine.NewScheduler(e,
		engine.WithBatchSize(int(command.Int("batch-size"))),
		engine.WithMaxJobs(int(command.Int("max-jobs"))),
		engine.WithLease(command.Duration("lease")),
	)

	dispatcher := ingest.NewDispatcher(store, e, guard, logger)

	return NewWorker(workerID, dispatcher, scheduler, eventBus, logger)
}
