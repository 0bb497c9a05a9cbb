// Package main provides the flowpilot worker, which executes queued workflow runs one step at a time.
package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/dispatcher"
	"github.com/dukex/flowpilot/pkg/log"
	"github.com/dukex/flowpilot/pkg/runs"
	"github.com/dukex/flowpilot/pkg/scheduler"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "flowpilot-worker"

func main() {
	cmd := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute workflow runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing executor plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often stale runs are re-enqueued (0 disables the sweeper)",
				Value:   time.Minute,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "stale-after",
				Usage:   "Idle time after which a queued or running run is considered lost",
				Value:   2 * time.Minute,
				Sources: cli.EnvVars("STALE_AFTER"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   log.FormatText,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			baseLogger := log.Setup(serviceName, command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(baseLogger, "worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing flowpilot worker")

			registry, err := cmd.NewRegistry(logger, command.String("plugins-path"))
			if err != nil {
				return err
			}

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, serviceName, command.StringSlice("kafka-brokers"))
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			tracer := cmd.NewTracer(ctx, logger, serviceName, command.Bool("tracing"))
			runService := runs.NewService(persistence.RunRepository(), logger)

			worker := NewWorkerManager(
				workerID,
				dispatcher.NewDispatcher(runService, registry, tracer, logger),
				runService,
				eventBus,
				scheduler.NewSweeper(persistence.RunRepository(), eventBus, command.Duration("stale-after"), logger),
				logger,
			)

			err = worker.Start(ctx, command.Duration("sweep-interval"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)

				return err
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
