package mocks

import (
	"context"

	"github.com/dukex/dagflow/pkg/events"
	"github.com/dukex/dagflow/pkg/queue"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of queue.Queue interface.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, event events.StepAvailable) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockQueue) Consume(ctx context.Context, handler queue.Handler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockQueue) Close() error {
	args := m.Called()

	return args.Error(0)
}

// Enqueued returns the events passed to Enqueue, in call order.
func (m *MockQueue) Enqueued() []events.StepAvailable {
	var enqueued []events.StepAvailable

	for _, call := range m.Calls {
		if call.Method == "Enqueue" {
			enqueued = append(enqueued, call.Arguments.Get(1).(events.StepAvailable))
		}
	}

	return enqueued
}
