package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/flowpilot/pkg/cmd"
	"github.com/dukex/flowpilot/pkg/log"
	"github.com/dukex/flowpilot/pkg/runs"
	"github.com/dukex/flowpilot/pkg/trigger"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort = 9091
	serviceName = "flowpilot-api"
)

func main() {
	cmd := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Receive trigger events and inspect workflow runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Name:    "redis-url",
				Usage:   "Redis URL for the tenant lookup cache (in-memory when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "tenant-cache-ttl",
				Usage:   "How long tenant lookups are cached",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("TENANT_CACHE_TTL"),
			},
			&cli.StringFlag{
				Name:    "extractor-url",
				Usage:   "Field extraction endpoint (extraction disabled when empty)",
				Sources: cli.EnvVars("EXTRACTOR_URL"),
			},
			&cli.DurationFlag{
				Name:    "extractor-timeout",
				Usage:   "Timeout of one field extraction call",
				Value:   20 * time.Second,
				Sources: cli.EnvVars("EXTRACTOR_TIMEOUT"),
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
			logger := log.WithModule(log.Setup(serviceName, command.String("log-level"), command.String("log-format")), "api")

			logger.InfoContext(ctx, "Initializing flowpilot API")

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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, serviceName, command.StringSlice("kafka-brokers"))
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			tenants, err := cmd.NewTenantResolver(
				persistence.ConnectionRepository(),
				command.String("redis-url"),
				command.Duration("tenant-cache-ttl"),
				logger,
			)
			if err != nil {
				return err
			}

			matcher := trigger.NewMatcher(
				persistence.WorkflowRepository(),
				runs.NewService(persistence.RunRepository(), logger),
				tenants,
				cmd.NewExtractor(command.String("extractor-url"), command.Duration("extractor-timeout")),
				cmd.NewTracer(ctx, logger, serviceName, command.Bool("tracing")),
				logger,
			)

			api := NewAPI(logger, persistence, matcher, eventBus)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

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
