// Package protocol defines the contracts between the engine and the jobs it runs.
package protocol

import (
	"context"

	"github.com/dukex/dagflow/pkg/models"
)

// Job is a unit of work executed by one workflow step.
type Job interface {
	Handle(ctx context.Context) error
}

// Next runs the rest of a middleware chain, ending with the job body.
type Next func(ctx context.Context) error

// Middleware wraps the execution of a trackable job.
type Middleware func(ctx context.Context, job Trackable, next Next) error

// Trackable is the capability a job needs to be stored as a step and observed
// by the execution tracker. Embedding Tracking provides everything but Type and Handle.
type Trackable interface {
	Job

	// Type is the registry identifier used to encode and decode the job.
	Type() string

	WorkflowID() int64
	TaskID() int64
	StepID() int64

	// Bind injects the identity of the step the job runs as.
	Bind(ref models.StepRef)

	// Middleware returns the interceptors to run around Handle. The tracker
	// must be part of the returned chain.
	Middleware(tracker Middleware) []Middleware
}

// JobFactory builds empty jobs of one registered type.
type JobFactory interface {
	ID() string
	New() Trackable
}

// Validator is implemented by jobs that can check their own configuration.
type Validator interface {
	Validate() error
}

// Chain runs job through middlewares, the first one outermost.
func Chain(ctx context.Context, job Trackable, middlewares []Middleware) error {
	next := Next(job.Handle)

	for i := len(middlewares) - 1; i >= 0; i-- {
		middleware, inner := middlewares[i], next
		next = func(ctx context.Context) error {
			return middleware(ctx, job, inner)
		}
	}

	return next(ctx)
}
