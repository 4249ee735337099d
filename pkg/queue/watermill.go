package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/dagflow/pkg/events"
)

// WatermillQueue runs the backend over any watermill publisher and
// subscriber pair. Every Consume call of one queue shares a single
// subscription, so a delivery reaches only one of them.
type WatermillQueue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     *slog.Logger

	subscribeOnce sync.Once
	messages      <-chan *message.Message
	subscribeErr  error
}

func NewWatermillQueue(pub message.Publisher, sub message.Subscriber, topic string, logger *slog.Logger) *WatermillQueue {
	return &WatermillQueue{
		publisher:  pub,
		subscriber: sub,
		topic:      topic,
		logger:     logger.With("module", "watermill_queue", "topic", topic),
	}
}

func (q *WatermillQueue) Enqueue(ctx context.Context, event events.StepAvailable) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal step event: %w", err)
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, event.Key())
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.SetContext(ctx)

	err = q.publisher.Publish(q.topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish step %d: %w", event.StepID, err)
	}

	return nil
}

func (q *WatermillQueue) Consume(ctx context.Context, handler Handler) error {
	q.subscribeOnce.Do(func() {
		q.messages, q.subscribeErr = q.subscriber.Subscribe(ctx, q.topic)
	})

	if q.subscribeErr != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", q.topic, q.subscribeErr)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-q.messages:
			if !ok {
				return nil
			}

			q.process(ctx, msg, handler)
		}
	}
}

func (q *WatermillQueue) process(ctx context.Context, msg *message.Message, handler Handler) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))
	if eventType != "" && eventType != events.StepAvailableEvent {
		msg.Ack()

		return
	}

	var event events.StepAvailable

	err := json.Unmarshal(msg.Payload, &event)
	if err != nil {
		q.logger.ErrorContext(ctx, "Dropping undecodable message", "message_id", msg.UUID, "error", err)
		msg.Ack()

		return
	}

	err = handler(ctx, event)
	if Settle(err) {
		msg.Ack()

		return
	}

	msg.Nack()
}

func (q *WatermillQueue) Close() error {
	err := q.publisher.Close()
	if err != nil {
		return err
	}

	return q.subscriber.Close()
}
