package cmd_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/dagflow/pkg/channels/kafka"
	"github.com/dukex/dagflow/pkg/cmd"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/dukex/dagflow/pkg/queue"
	"github.com/dukex/dagflow/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	for _, databaseURL := range []string{
		"memory://",
		"sqlite://" + filepath.Join(t.TempDir(), "dagflow.db"),
		"sqlite://:memory:",
	} {
		store, err := cmd.NewPersistence(ctx, testLogger(), databaseURL)
		require.NoError(t, err, databaseURL)

		require.NoError(t, store.HealthCheck(ctx), databaseURL)

		workflows, err := store.Workflows(ctx, persistence.WorkflowFilter{})
		require.NoError(t, err)
		assert.Empty(t, workflows)

		require.NoError(t, store.Close(ctx))
	}

	for _, databaseURL := range []string{"mysql://localhost/db", "dagflow.db", ""} {
		_, err := cmd.NewPersistence(ctx, testLogger(), databaseURL)
		require.ErrorIs(t, err, cmd.ErrUnsupportedDatabase, databaseURL)
	}
}

func TestNewQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	q, err := cmd.NewQueue(ctx, cmd.QueueConfig{Type: cmd.QueueGoChannel}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &queue.WatermillQueue{}, q)
	require.NoError(t, q.Close())

	redisServer := miniredis.RunT(t)

	q, err = cmd.NewQueue(ctx, cmd.QueueConfig{
		Type:       cmd.QueueRedis,
		RedisURL:   "redis://" + redisServer.Addr() + "/0",
		ConsumerID: "worker-a",
	}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &queue.RedisQueue{}, q)
	require.NoError(t, q.Close())

	_, err = cmd.NewQueue(ctx, cmd.QueueConfig{Type: cmd.QueueRedis, RedisURL: "not a url"}, testLogger())
	require.Error(t, err)

	_, err = cmd.NewQueue(ctx, cmd.QueueConfig{Type: cmd.QueueKafka}, testLogger())
	require.ErrorIs(t, err, kafka.ErrNoBrokers)

	_, err = cmd.NewQueue(ctx, cmd.QueueConfig{Type: "nats"}, testLogger())
	require.ErrorIs(t, err, cmd.ErrUnsupportedQueue)
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	reg, err := cmd.NewRegistry(testLogger(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, []string{"file_write", "http_request", "log"}, reg.JobTypes())

	_, err = reg.Expander("range")
	require.NoError(t, err)
}

func TestNewWorkerID(t *testing.T) {
	t.Parallel()

	id := cmd.NewWorkerID()
	assert.Len(t, id, len("worker-")+8)
	assert.NotEqual(t, id, cmd.NewWorkerID())
}

const releaseManifest = `
name: release
tasks:
  - name: build
    jobs:
      - type: log
        config: {message: building}
  - fan_out:
      name: shards
      expander: range
      depends_on: [build]
      args:
        count: 2
        job: log
        config: {message: shard}
  - name: publish
    depends_on: ["shards:"]
    jobs:
      - type: log
        config: {message: publishing}
`

func TestEngine_SubmitFileAndRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := cmd.NewEngine(ctx, cmd.EngineConfig{
		DatabaseURL: "memory://",
		Queue:       cmd.QueueConfig{Type: cmd.QueueGoChannel},
	}, testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = engine.Close(context.Background()) })

	path := filepath.Join(t.TempDir(), "release.yaml")
	require.NoError(t, os.WriteFile(path, []byte(releaseManifest), 0o600))

	wf, err := engine.SubmitFile(ctx, path)
	require.NoError(t, err)

	w := engine.NewWorker(worker.Config{ID: "worker-test", Concurrency: 2})

	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool {
		graph, err := engine.Manager.Graph(ctx, wf.ID)

		return err == nil && graph.Workflow.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)

	graph, err := engine.Manager.Graph(ctx, wf.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, graph.Workflow.Status)
	assert.Len(t, graph.Tasks, 5)
	assert.NotNil(t, graph.TaskByName("shards:0"))
	assert.NotNil(t, graph.TaskByName("shards:1"))

	for _, task := range graph.Tasks {
		assert.Equal(t, models.StatusCompleted, task.Status, task.Name)
	}

	_, err = engine.SubmitFile(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
