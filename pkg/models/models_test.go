package models_test

import (
	"testing"
	"time"

	"github.com/dukex/dagflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   models.RunStatus
		valid    bool
		terminal bool
	}{
		{models.StatusPending, true, false},
		{models.StatusRunning, true, false},
		{models.StatusCompleted, true, true},
		{models.StatusFailed, true, true},
		{models.StatusCancelled, true, true},
		{models.RunStatus("RETRYING"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.valid, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestTimestamps_Apply(t *testing.T) {
	t.Parallel()

	earlier := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	now := earlier.Add(time.Minute)

	t.Run("running clears terminal timestamps", func(t *testing.T) {
		t.Parallel()

		ts := models.Timestamps{FailedAt: &earlier, CompletedAt: &earlier}
		ts.Apply(models.StatusRunning, now)

		require.NotNil(t, ts.StartedAt)
		assert.Equal(t, now, *ts.StartedAt)
		assert.Nil(t, ts.FailedAt)
		assert.Nil(t, ts.CompletedAt)
		assert.Equal(t, now, ts.UpdatedAt)
	})

	t.Run("completed keeps start", func(t *testing.T) {
		t.Parallel()

		ts := models.Timestamps{StartedAt: &earlier}
		ts.Apply(models.StatusCompleted, now)

		assert.Equal(t, earlier, *ts.StartedAt)
		assert.Equal(t, now, *ts.CompletedAt)
		assert.Nil(t, ts.FailedAt)
	})

	t.Run("cancelled sets failed_at", func(t *testing.T) {
		t.Parallel()

		ts := models.Timestamps{}
		ts.Apply(models.StatusCancelled, now)

		assert.Equal(t, now, *ts.FailedAt)
		assert.Nil(t, ts.StartedAt)
	})
}

func TestTransitionColumns(t *testing.T) {
	t.Parallel()

	now := time.Now()

	columns := models.TransitionColumns(models.StatusRunning, now)
	assert.Equal(t, "RUNNING", columns["status"])
	assert.Equal(t, now, columns["started_at"])
	assert.Contains(t, columns, "failed_at")
	assert.Nil(t, columns["failed_at"])

	columns = models.TransitionColumns(models.StatusFailed, now)
	assert.Equal(t, now, columns["failed_at"])
	assert.NotContains(t, columns, "started_at")
}

func TestWorkflowGraph(t *testing.T) {
	t.Parallel()

	graph := &models.WorkflowGraph{
		Workflow: &models.Workflow{ID: 1, Name: "release"},
		Tasks: []*models.Task{
			{ID: 10, WorkflowID: 1, Name: "build"},
			{ID: 11, WorkflowID: 1, Name: "test"},
			{ID: 12, WorkflowID: 1, Name: "deploy"},
		},
		Steps: []*models.Step{
			{ID: 102, TaskID: 10, Order: 2},
			{ID: 101, TaskID: 10, Order: 1},
			{ID: 111, TaskID: 11, Order: 1},
		},
		Dependencies: []models.Dependency{
			{TaskID: 10, DependantTaskID: 11},
			{TaskID: 10, DependantTaskID: 12},
			{TaskID: 11, DependantTaskID: 12},
		},
	}

	assert.Equal(t, "test", graph.Task(11).Name)
	assert.Nil(t, graph.Task(99))
	assert.Equal(t, int64(12), graph.TaskByName("deploy").ID)

	steps := graph.StepsOf(10)
	require.Len(t, steps, 2)
	assert.Equal(t, int64(101), steps[0].ID)
	assert.Equal(t, int64(102), steps[1].ID)

	assert.ElementsMatch(t, []int64{10, 11}, graph.DependenciesOf(12))
	assert.ElementsMatch(t, []int64{11, 12}, graph.DependantsOf(10))
	assert.Empty(t, graph.DependenciesOf(10))

	ref := steps[1].Ref()
	assert.Equal(t, models.StepRef{TaskID: 10, StepID: 102, Order: 2}, ref)
}
