package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/dagflow/pkg/events"
	"github.com/dukex/dagflow/pkg/log"
	"github.com/dukex/dagflow/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// LogFlags are the logging flags every binary accepts.
func LogFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// SetupLogger applies the logging flags and returns a logger for module.
func SetupLogger(command *cli.Command, module string) *slog.Logger {
	log.Setup(command.String("log-level"), command.String("log-format"))

	return log.WithModule(module)
}

// EngineFlags configure the store, the queue and the job plugins.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL (postgres://, sqlite://<path>, memory://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue",
			Usage:   "Queue type (gochannel, kafka, redis)",
			Value:   QueueGoChannel,
			Sources: cli.EnvVars("QUEUE_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis connection URL",
			Value:   "redis://localhost:6379/0",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "topic",
			Usage:   "Topic or list carrying step deliveries",
			Value:   events.Topic,
			Sources: cli.EnvVars("QUEUE_TOPIC"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing job plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
	}
}

// WorkerFlags configure an in-process or standalone worker.
func WorkerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Number of steps handled at the same time",
			Value:   4,
			Sources: cli.EnvVars("WORKER_CONCURRENCY"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export step traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// WorkerID returns the --worker-id flag or a generated identifier.
func WorkerID(command *cli.Command) string {
	id := command.String("worker-id")
	if id == "" {
		return NewWorkerID()
	}

	return id
}

// EngineConfigFromCommand reads the engine flags.
func EngineConfigFromCommand(command *cli.Command, consumerID string) EngineConfig {
	return EngineConfig{
		DatabaseURL: command.String("database-url"),
		PluginsPath: command.String("plugins-path"),
		Queue: QueueConfig{
			Type:         command.String("queue"),
			KafkaBrokers: command.String("kafka-brokers"),
			RedisURL:     command.String("redis-url"),
			Topic:        command.String("topic"),
			ConsumerID:   consumerID,
		},
	}
}

// NewTracer returns an OTLP tracer when --otel is set and a no-op one otherwise.
//
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, command *cli.Command, service string) (trace.Tracer, otelhelper.ShutdownFunc, error) {
	if !command.Bool("otel") {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	return otelhelper.NewTracer(ctx, service)
}
