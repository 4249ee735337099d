package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/dagflow/pkg/events"
	redis "github.com/redis/go-redis/v9"
)

const defaultBlockTimeout = time.Second

// RedisQueue is a reliable list queue: a delivery moves atomically from the
// queue list to the consumer's processing list and leaves it only when the
// handler settles it. Deliveries left behind by a crashed consumer are put
// back by Recover.
type RedisQueue struct {
	client       redis.UniversalClient
	key          string
	processing   string
	blockTimeout time.Duration
	logger       *slog.Logger
}

func NewRedisQueue(client redis.UniversalClient, key, consumerID string, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client:       client,
		key:          key,
		processing:   key + ":processing:" + consumerID,
		blockTimeout: defaultBlockTimeout,
		logger: logger.With(
			"module", "redis_queue",
			"queue", key,
			"consumer", consumerID,
		),
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, event events.StepAvailable) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal step event: %w", err)
	}

	err = q.client.LPush(ctx, q.key, payload).Err()
	if err != nil {
		return fmt.Errorf("failed to push step %d: %w", event.StepID, err)
	}

	return nil
}

// Recover moves the deliveries of this consumer's processing list back to the
// queue and returns how many were moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0

	for {
		err := q.client.LMove(ctx, q.processing, q.key, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}

		if err != nil {
			return moved, fmt.Errorf("failed to recover deliveries: %w", err)
		}

		moved++
	}

	if moved > 0 {
		q.logger.InfoContext(ctx, "Recovered unsettled deliveries", "count", moved)
	}

	return moved, nil
}

func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.blockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("failed to pop delivery from queue: %w", err)
		}

		q.process(ctx, payload, handler)
	}
}

func (q *RedisQueue) process(ctx context.Context, payload string, handler Handler) {
	settleCtx := context.WithoutCancel(ctx)

	var event events.StepAvailable

	err := json.Unmarshal([]byte(payload), &event)
	if err != nil {
		q.logger.ErrorContext(ctx, "Dropping undecodable delivery", "error", err)
		q.ack(settleCtx, payload)

		return
	}

	err = handler(ctx, event)
	if Settle(err) {
		q.ack(settleCtx, payload)

		return
	}

	q.nack(settleCtx, payload)
}

func (q *RedisQueue) ack(ctx context.Context, payload string) {
	err := q.client.LRem(ctx, q.processing, 1, payload).Err()
	if err != nil {
		q.logger.ErrorContext(ctx, "Failed to acknowledge delivery", "error", err)
	}
}

// nack puts the delivery back at the head of the queue.
func (q *RedisQueue) nack(ctx context.Context, payload string) {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, payload)
		pipe.RPush(ctx, q.key, payload)

		return nil
	})
	if err != nil {
		q.logger.ErrorContext(ctx, "Failed to requeue delivery", "error", err)
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
