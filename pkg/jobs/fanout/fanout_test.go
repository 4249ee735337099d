package fanout_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dukex/dagflow/pkg/jobs/fanout"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoJob struct {
	protocol.Tracking

	Config map[string]any
}

func (*echoJob) Type() string                   { return "echo" }
func (*echoJob) Handle(_ context.Context) error { return nil }

type builderFunc func(jobType string, config map[string]any) (protocol.Trackable, error)

func (f builderFunc) Build(jobType string, config map[string]any) (protocol.Trackable, error) {
	return f(jobType, config)
}

type expanderSet map[string]protocol.Expander

func (s expanderSet) Expander(id string) (protocol.Expander, error) {
	expander, ok := s[id]
	if !ok {
		return nil, errors.New("unknown expander")
	}

	return expander, nil
}

type recordingAppender struct {
	expansions []fanout.Expansion
	err        error
}

func (a *recordingAppender) AppendFanOut(_ context.Context, expansion fanout.Expansion) error {
	a.expansions = append(a.expansions, expansion)

	return a.err
}

func echoBuilder() builderFunc {
	return func(_ string, config map[string]any) (protocol.Trackable, error) {
		return &echoJob{Config: config}, nil
	}
}

func TestRangeExpander_Expand(t *testing.T) {
	t.Parallel()

	expander := fanout.NewRangeExpander(echoBuilder())
	assert.Equal(t, "range", expander.ID())

	base := map[string]any{"message": "shard"}

	items, err := expander.Expand(context.Background(), map[string]any{
		"count":  float64(3),
		"job":    "echo",
		"config": base,
	})
	require.NoError(t, err)
	require.Len(t, items, 3)

	for i, item := range items {
		require.Len(t, item.Jobs, 1)

		job := item.Jobs[0].(*echoJob)
		assert.Equal(t, i, job.Config["item"])
		assert.Equal(t, "shard", job.Config["message"])
	}

	assert.Equal(t, []string{"0", "1", "2"}, []string{items[0].Key, items[1].Key, items[2].Key})
	assert.NotContains(t, base, "item")
}

func TestRangeExpander_Expand_Errors(t *testing.T) {
	t.Parallel()

	expander := fanout.NewRangeExpander(echoBuilder())

	_, err := expander.Expand(context.Background(), map[string]any{"count": -1, "job": "echo"})
	require.ErrorIs(t, err, fanout.ErrInvalidRangeArgs)

	_, err = expander.Expand(context.Background(), map[string]any{"count": "two", "job": "echo"})
	require.ErrorIs(t, err, fanout.ErrInvalidRangeArgs)

	_, err = expander.Expand(context.Background(), map[string]any{"count": 2})
	require.ErrorIs(t, err, fanout.ErrInvalidRangeArgs)

	failing := fanout.NewRangeExpander(builderFunc(func(string, map[string]any) (protocol.Trackable, error) {
		return nil, errors.New("bad config")
	}))

	_, err = failing.Expand(context.Background(), map[string]any{"count": 1, "job": "echo"})
	require.ErrorContains(t, err, "bad config")

	items, err := expander.Expand(context.Background(), map[string]any{"count": "0", "job": "echo"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestJob_Handle(t *testing.T) {
	t.Parallel()

	appender := &recordingAppender{}
	factory := fanout.NewFactory(expanderSet{"range": fanout.NewRangeExpander(echoBuilder())}, appender)
	assert.Equal(t, fanout.Type, factory.ID())

	job := factory.New().(*fanout.Job)
	job.Name = "shards"
	job.Expander = "range"
	job.Args = map[string]any{"count": 2, "job": "echo"}
	job.DependsOn = []string{"prepare"}
	job.Gate("merge")
	job.Gate("merge")

	ref := models.StepRef{WorkflowID: 1, TaskID: 7, StepID: 9, Order: 1}
	job.Bind(ref)

	require.NoError(t, job.Handle(context.Background()))
	require.Len(t, appender.expansions, 1)

	expansion := appender.expansions[0]
	assert.Equal(t, ref, expansion.Step)
	assert.Equal(t, "shards", expansion.Name)
	assert.Equal(t, []string{"prepare"}, expansion.DependsOn)
	assert.Equal(t, []string{"merge"}, expansion.Gates)
	assert.Len(t, expansion.Items, 2)
}

func TestJob_Handle_Errors(t *testing.T) {
	t.Parallel()

	err := fanout.New("shards", "range", nil, nil).Handle(context.Background())
	require.ErrorIs(t, err, fanout.ErrNotWired)

	appender := &recordingAppender{err: errors.New("store down")}
	factory := fanout.NewFactory(expanderSet{"range": fanout.NewRangeExpander(echoBuilder())}, appender)

	job := factory.New().(*fanout.Job)
	job.Expander = "missing"
	require.Error(t, job.Handle(context.Background()))
	assert.Empty(t, appender.expansions)

	job.Expander = "range"
	job.Args = map[string]any{"count": 1, "job": "echo"}
	require.ErrorContains(t, job.Handle(context.Background()), "store down")
}

func TestJob_JSON(t *testing.T) {
	t.Parallel()

	job := fanout.New("shards", "range", map[string]any{"count": 2}, []string{"prepare"})
	job.Gate("merge")

	data, err := json.Marshal(job)
	require.NoError(t, err)

	decoded := fanout.NewFactory(nil, nil).New().(*fanout.Job)
	require.NoError(t, json.Unmarshal(data, decoded))
	assert.Equal(t, "shards", decoded.Name)
	assert.Equal(t, []string{"merge"}, decoded.Gates)
	assert.Equal(t, []string{"prepare"}, decoded.DependsOn)
}
