// Package worker consumes step deliveries and runs their jobs through the
// execution tracker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/dagflow/pkg/events"
	"github.com/dukex/dagflow/pkg/metrics"
	"github.com/dukex/dagflow/pkg/otelhelper"
	"github.com/dukex/dagflow/pkg/protocol"
	"github.com/dukex/dagflow/pkg/queue"
	"github.com/dukex/dagflow/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

// Decoder rebuilds jobs from step payloads.
type Decoder interface {
	Decode(payload []byte) (protocol.Trackable, error)
}

type Config struct {
	ID          string
	Concurrency int
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
}

type Worker struct {
	id          string
	concurrency int
	queue       queue.Queue
	decoder     Decoder
	tracker     protocol.Middleware
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

func New(q queue.Queue, decoder Decoder, tracker protocol.Middleware, config Config, logger *slog.Logger) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}

	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}

	if config.Tracer == nil {
		config.Tracer = otelhelper.NoopTracer()
	}

	return &Worker{
		id:          config.ID,
		concurrency: config.Concurrency,
		queue:       q,
		decoder:     decoder,
		tracker:     tracker,
		metrics:     config.Metrics,
		tracer:      config.Tracer,
		logger:      logger.With("module", "worker", "worker_id", config.ID),
	}
}

// Run consumes deliveries with bounded concurrency until ctx is done or a
// consumer fails.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker", "concurrency", w.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for range w.concurrency {
		g.Go(func() error {
			return w.queue.Consume(ctx, w.Handle)
		})
	}

	err := g.Wait()
	if err != nil {
		w.logger.ErrorContext(ctx, "Worker stopped", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker stopped")

	return nil
}

// Handle runs one delivery. It is the queue.Handler of the worker.
func (w *Worker) Handle(ctx context.Context, event events.StepAvailable) error {
	done := w.metrics.StepStarted(event.Class)

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "step "+event.Class,
		attribute.Int64(otelhelper.WorkflowIDKey, event.WorkflowID),
		attribute.Int64(otelhelper.TaskIDKey, event.TaskID),
		attribute.Int64(otelhelper.StepIDKey, event.StepID),
		attribute.Int(otelhelper.StepOrderKey, event.Order),
		attribute.String(otelhelper.JobTypeKey, event.Class),
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	logger := w.logger.With(
		"workflow_id", event.WorkflowID,
		"task_id", event.TaskID,
		"step_id", event.StepID,
		"event_id", event.ID,
	)

	job, err := w.decoder.Decode(event.Payload)
	if err != nil {
		payloadType, typeErr := registry.PayloadType(event.Payload)
		if typeErr != nil {
			payloadType = "unreadable"
		}

		logger.ErrorContext(ctx, "Failed to decode step payload",
			"payload_type", payloadType,
			"error", err,
		)

		job = &undecodable{class: event.Class, err: fmt.Errorf("failed to decode step %d: %w", event.StepID, err)}
	}

	job.Bind(event.Ref())

	logger.DebugContext(ctx, "Processing step", "job_type", job.Type())

	err = protocol.Chain(ctx, job, job.Middleware(w.tracker))

	outcome := metrics.OutcomeFailed
	spanErr := err

	switch {
	case err == nil:
		outcome = metrics.OutcomeCompleted
	case errors.Is(err, queue.ErrRejected):
		outcome = metrics.OutcomeRejected
		spanErr = nil
	default:
		if _, ok := job.(*undecodable); ok {
			outcome = metrics.OutcomeInvalid
		}
	}

	done(outcome)
	otelhelper.SetStepOutcome(span, outcome, spanErr)

	return err
}

// undecodable stands in for a job whose payload cannot be decoded, so the
// step fails through the tracker like any other failing job.
type undecodable struct {
	protocol.Tracking

	class string
	err   error
}

func (j *undecodable) Type() string {
	return j.class
}

func (j *undecodable) Handle(_ context.Context) error {
	return j.err
}
