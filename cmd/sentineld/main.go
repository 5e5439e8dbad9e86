package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/citygrid/sentinel/pkg/log"
)

const (
	defaultPort          = 9090
	defaultWorkers       = 8
	defaultQueueCapacity = 1024
)

func main() {
	command := &cli.Command{
		Name:                  "sentineld",
		Usage:                 "Run the response orchestration daemon",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the admin API on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Definition store URL (postgres://... or a directory path)",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the external audit stream (disabled when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "audit-stream",
				Usage:   "Redis stream name for audit entries",
				Value:   "sentinel:audit",
				Sources: cli.EnvVars("AUDIT_STREAM"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Concurrent action dispatch slots",
				Value:   defaultWorkers,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.IntFlag{
				Name:    "queue-capacity",
				Usage:   "Pending action queue capacity",
				Value:   defaultQueueCapacity,
				Sources: cli.EnvVars("QUEUE_CAPACITY"),
			},
			&cli.DurationFlag{
				Name:    "action-timeout",
				Usage:   "Default per-action timeout",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("ACTION_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("ENABLE_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log output format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("sentineld")

			runtime, err := NewRuntime(ctx, logger, optionsFromCommand(command))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to build runtime", "error", err)

				return err
			}

			return runtime.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func optionsFromCommand(command *cli.Command) Options {
	return Options{
		Port:          command.Int("port"),
		DatabaseURL:   command.String("database-url"),
		EventBus:      command.String("event-bus"),
		KafkaBrokers:  command.String("kafka-brokers"),
		RedisURL:      command.String("redis-url"),
		AuditStream:   command.String("audit-stream"),
		Workers:       command.Int("workers"),
		QueueCapacity: command.Int("queue-capacity"),
		ActionTimeout: command.Duration("action-timeout"),
		Tracing:       command.Bool("tracing"),
	}
}
