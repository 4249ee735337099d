package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/dagflow/pkg/channels/gochannel"
	"github.com/dukex/dagflow/pkg/channels/kafka"
	"github.com/dukex/dagflow/pkg/events"
	"github.com/dukex/dagflow/pkg/queue"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var ErrUnsupportedQueue = errors.New("unsupported queue type")

const (
	QueueGoChannel = "gochannel"
	QueueKafka     = "kafka"
	QueueRedis     = "redis"
)

type QueueConfig struct {
	Type         string
	KafkaBrokers string
	RedisURL     string
	Topic        string
	// ConsumerID names this process for backends that track deliveries per consumer.
	ConsumerID string
}

// NewQueue creates the execution backend described by config.
func NewQueue(ctx context.Context, config QueueConfig, logger *slog.Logger) (queue.Queue, error) {
	if config.Topic == "" {
		config.Topic = events.Topic
	}

	if config.ConsumerID == "" {
		config.ConsumerID = NewWorkerID()
	}

	logger.Info("Creating queue", "type", config.Type, "topic", config.Topic)

	switch config.Type {
	case "", QueueGoChannel:
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process channel: %w", err)
		}

		return queue.NewWatermillQueue(pub, sub, config.Topic, logger), nil
	case QueueKafka:
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "dagflow", kafka.ParseBrokers(config.KafkaBrokers))
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return queue.NewWatermillQueue(pub, sub, config.Topic, logger), nil
	case QueueRedis:
		options, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}

		client := redis.NewClient(options)

		err = client.Ping(ctx).Err()
		if err != nil {
			_ = client.Close()

			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		q := queue.NewRedisQueue(client, config.Topic, config.ConsumerID, logger)

		moved, err := q.Recover(ctx)
		if err != nil {
			_ = client.Close()

			return nil, fmt.Errorf("failed to recover pending deliveries: %w", err)
		}

		if moved > 0 {
			logger.Warn("Requeued deliveries left by a previous run", "count", moved)
		}

		return q, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedQueue, config.Type)
	}
}

// NewWorkerID returns a short random worker identifier.
func NewWorkerID() string {
	return "worker-" + uuid.NewString()[:8]
}
