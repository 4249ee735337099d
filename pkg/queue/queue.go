// Package queue is the execution backend: it carries StepAvailable deliveries
// from the engine to workers, at least once.
package queue

import (
	"context"
	"errors"

	"github.com/dukex/dagflow/pkg/events"
)

// ErrRejected is returned by a handler that refuses a delivery for good, such
// as a duplicate of an already handled step. The delivery is acknowledged and
// never redelivered.
var ErrRejected = errors.New("step delivery rejected")

// Handler processes one delivery. A nil error or ErrRejected acknowledges it;
// any other error asks the backend to redeliver it.
type Handler func(ctx context.Context, event events.StepAvailable) error

type Queue interface {
	Enqueue(ctx context.Context, event events.StepAvailable) error
	// Consume handles deliveries until ctx is done. It may be called from
	// several goroutines to process deliveries concurrently.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Settle reports whether a handler result acknowledges the delivery.
func Settle(err error) bool {
	return err == nil || errors.Is(err, ErrRejected)
}
