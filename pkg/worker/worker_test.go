package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/dagflow/pkg/channels/gochannel"
	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/dispatcher"
	"github.com/dukex/dagflow/pkg/events"
	"github.com/dukex/dagflow/pkg/jobs/fanout"
	logjob "github.com/dukex/dagflow/pkg/jobs/log"
	"github.com/dukex/dagflow/pkg/metrics"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence/memory"
	"github.com/dukex/dagflow/pkg/protocol"
	"github.com/dukex/dagflow/pkg/queue"
	"github.com/dukex/dagflow/pkg/registry"
	"github.com/dukex/dagflow/pkg/testutil"
	"github.com/dukex/dagflow/pkg/tracker"
	"github.com/dukex/dagflow/pkg/worker"
	"github.com/dukex/dagflow/pkg/workflow"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failJob struct {
	protocol.Tracking

	Reason string `json:"reason"`
}

func (j *failJob) Type() string { return "fail" }

func (j *failJob) Handle(_ context.Context) error {
	return errors.New(j.Reason)
}

type failFactory struct{}

func (failFactory) ID() string               { return "fail" }
func (failFactory) New() protocol.Trackable { return &failJob{} }

type engine struct {
	store    *memory.Persistence
	registry *registry.Registry
	manager  *workflow.Manager
	worker   *worker.Worker
	metrics  *metrics.Metrics
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	logger := slog.Default()
	store := memory.NewPersistence()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	q := queue.NewWatermillQueue(pub, sub, events.Topic, logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterJob(logjob.NewFactory(logger))
	reg.RegisterJob(failFactory{})
	reg.RegisterExpander(fanout.NewRangeExpander(reg))

	d := dispatcher.New(q, logger)
	manager := workflow.NewManager(store, workflow.NewRepository(store, reg), d, logger)
	reg.RegisterJob(fanout.NewFactory(reg, manager))

	m := metrics.New()
	w := worker.New(q, reg, tracker.New(store, d, logger).Intercept, worker.Config{
		ID:          "worker-test",
		Concurrency: 2,
		Metrics:     m,
	}, logger)

	return &engine{store: store, registry: reg, manager: manager, worker: w, metrics: m}
}

func (e *engine) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- e.worker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func (e *engine) build(t *testing.T, jobType string, config map[string]any) protocol.Job {
	t.Helper()

	job, err := e.registry.Build(jobType, config)
	require.NoError(t, err)

	return job
}

func (e *engine) logTask(t *testing.T, name string, steps int, dependsOn ...string) *definition.Task {
	t.Helper()

	task := &definition.Task{Name: name, DependsOn: dependsOn}
	for range steps {
		task.Jobs = append(task.Jobs, e.build(t, "log", map[string]any{"message": name}))
	}

	return task
}

func (e *engine) waitSettled(t *testing.T, workflowID int64) *models.WorkflowGraph {
	t.Helper()

	var graph *models.WorkflowGraph

	require.Eventually(t, func() bool {
		var err error

		graph, err = e.store.WorkflowGraph(context.Background(), workflowID)
		if err != nil || !graph.Workflow.Status.IsTerminal() {
			return false
		}

		for _, step := range graph.Steps {
			if step.Status == models.StatusRunning || step.Status == models.StatusPending {
				return false
			}
		}

		return true
	}, 5*time.Second, 10*time.Millisecond)

	return graph
}

func TestWorker_RunsLinearChain(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	e.start(t)

	submitted, err := e.manager.Submit(context.Background(), definition.Workflow{
		Name: "chain",
		Tasks: []definition.Entry{
			e.logTask(t, "A", 1),
			e.logTask(t, "B", 2, "A"),
			e.logTask(t, "C", 1, "B"),
		},
	})
	require.NoError(t, err)

	graph := e.waitSettled(t, submitted.ID)
	assert.Equal(t, models.StatusCompleted, graph.Workflow.Status)
	assert.NotNil(t, graph.Workflow.StartedAt)
	assert.NotNil(t, graph.Workflow.CompletedAt)

	for _, task := range graph.Tasks {
		assert.Equal(t, models.StatusCompleted, task.Status, task.Name)
	}

	a := graph.TaskByName("A")
	b := graph.TaskByName("B")
	assert.False(t, b.StartedAt.Before(*a.CompletedAt), "B starts after A completes")

	count, err := promtestutil.GatherAndCount(e.metrics.Registry(), "dagflow_steps_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWorker_FailureCancelsDependants(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	e.start(t)

	submitted, err := e.manager.Submit(context.Background(), definition.Workflow{
		Name: "failing",
		Tasks: []definition.Entry{
			e.logTask(t, "A", 1),
			&definition.Task{
				Name: "B",
				Jobs: []protocol.Job{
					e.build(t, "fail", map[string]any{"reason": "broken"}),
					e.build(t, "log", map[string]any{"message": "never"}),
				},
				DependsOn: []string{"A"},
			},
			e.logTask(t, "C", 2, "B"),
		},
	})
	require.NoError(t, err)

	graph := e.waitSettled(t, submitted.ID)
	assert.Equal(t, models.StatusFailed, graph.Workflow.Status)
	assert.Equal(t, models.StatusCompleted, graph.TaskByName("A").Status)
	assert.Equal(t, models.StatusFailed, graph.TaskByName("B").Status)
	assert.Equal(t, models.StatusCancelled, graph.TaskByName("C").Status)

	for _, step := range graph.StepsOf(graph.TaskByName("C").ID) {
		assert.Equal(t, models.StatusCancelled, step.Status)
	}

	b := graph.StepsOf(graph.TaskByName("B").ID)
	assert.Equal(t, models.StatusFailed, b[0].Status)
	assert.Equal(t, models.StatusCancelled, b[1].Status)
}

func TestWorker_FanOut(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	e.start(t)

	submitted, err := e.manager.Submit(context.Background(), definition.Workflow{
		Name: "fan-out",
		Tasks: []definition.Entry{
			e.logTask(t, "prepare", 1),
			&definition.FanOut{
				Name:     "shards",
				Expander: "range",
				Args: map[string]any{
					"count":  3,
					"job":    "log",
					"config": map[string]any{"message": "shard"},
				},
				DependsOn: []string{"prepare"},
			},
			e.logTask(t, "merge", 1, "shards:"),
		},
	})
	require.NoError(t, err)

	graph := e.waitSettled(t, submitted.ID)
	assert.Equal(t, models.StatusCompleted, graph.Workflow.Status)
	require.Len(t, graph.Tasks, 6)

	merge := graph.TaskByName("merge")

	for _, key := range []string{"0", "1", "2"} {
		shard := graph.TaskByName(definition.GeneratedName("shards", key))
		require.NotNil(t, shard, key)
		assert.Equal(t, models.StatusCompleted, shard.Status)
		assert.Contains(t, graph.DependenciesOf(shard.ID), graph.TaskByName("shards").ID)
		assert.Contains(t, graph.DependenciesOf(merge.ID), shard.ID)
		assert.False(t, merge.StartedAt.Before(*shard.CompletedAt), "merge waits for shard %s", key)
	}
}

func TestWorker_FanOutDependingOnFanOut(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	e.start(t)

	rangeArgs := map[string]any{
		"count":  2,
		"job":    "log",
		"config": map[string]any{"message": "item"},
	}

	submitted, err := e.manager.Submit(context.Background(), definition.Workflow{
		Name: "chained-fan-out",
		Tasks: []definition.Entry{
			&definition.FanOut{Name: "inner", Expander: "range", Args: rangeArgs},
			&definition.FanOut{Name: "outer", Expander: "range", Args: rangeArgs, DependsOn: []string{"inner:"}},
			e.logTask(t, "merge", 1, "outer:"),
		},
	})
	require.NoError(t, err)

	graph := e.waitSettled(t, submitted.ID)
	assert.Equal(t, models.StatusCompleted, graph.Workflow.Status)
	require.Len(t, graph.Tasks, 7)

	for _, task := range graph.Tasks {
		assert.Equal(t, models.StatusCompleted, task.Status, task.Name)
	}

	inner := graph.TaskByName("inner")
	merge := graph.TaskByName("merge")

	for _, key := range []string{"0", "1"} {
		outerItem := graph.TaskByName(definition.GeneratedName("outer", key))
		require.NotNil(t, outerItem, key)

		upstream := graph.DependenciesOf(outerItem.ID)
		assert.Contains(t, upstream, graph.TaskByName("outer").ID)
		assert.Contains(t, upstream, inner.ID)
		assert.Contains(t, upstream, graph.TaskByName(definition.GeneratedName("inner", "0")).ID)
		assert.Contains(t, upstream, graph.TaskByName(definition.GeneratedName("inner", "1")).ID)
		assert.NotContains(t, upstream, int64(0))
		assert.Contains(t, graph.DependenciesOf(merge.ID), outerItem.ID)
	}
}

func TestWorker_EmptyFanOut(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	e.start(t)

	submitted, err := e.manager.Submit(context.Background(), definition.Workflow{
		Name: "empty-fan-out",
		Tasks: []definition.Entry{
			&definition.FanOut{
				Name:     "shards",
				Expander: "range",
				Args:     map[string]any{"count": 0, "job": "log"},
			},
			e.logTask(t, "merge", 1, "shards:"),
		},
	})
	require.NoError(t, err)

	graph := e.waitSettled(t, submitted.ID)
	assert.Equal(t, models.StatusCompleted, graph.Workflow.Status)
	assert.Len(t, graph.Tasks, 2)
}

func TestWorker_Handle_UndecodablePayloadFailsStep(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	ctx := context.Background()

	graph := testutil.SeedWorkflow(ctx, t, e.store, "broken", testutil.Task("A"), testutil.Task("B", "A"))
	step := graph.StepsOf(graph.TaskByName("A").ID)[0]
	step.Payload = []byte(`{"type":"unknown","data":{}}`)

	err := e.worker.Handle(ctx, events.NewStepAvailable("evt-1", step, time.Now()))
	require.ErrorIs(t, err, registry.ErrJobTypeNotRegistered)
	assert.False(t, queue.Settle(err))

	reloaded, err := e.store.WorkflowGraph(ctx, graph.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, reloaded.Workflow.Status)
	assert.Equal(t, models.StatusCancelled, reloaded.TaskByName("B").Status)

	err = e.worker.Handle(ctx, events.NewStepAvailable("evt-1", step, time.Now()))
	require.ErrorIs(t, err, queue.ErrRejected)

	count, err := promtestutil.GatherAndCount(e.metrics.Registry(), "dagflow_steps_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
