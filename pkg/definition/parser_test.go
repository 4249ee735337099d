package definition_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/jobs/fanout"
	"github.com/dukex/dagflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepJob struct {
	protocol.Tracking

	Label string `json:"label"`
}

func (j *stepJob) Type() string                 { return "step" }
func (j *stepJob) Handle(_ context.Context) error { return nil }

type plainJob struct{}

func (plainJob) Handle(_ context.Context) error { return nil }

func task(name string, dependsOn ...string) *definition.Task {
	return &definition.Task{
		Name:      name,
		Jobs:      []protocol.Job{&stepJob{Label: name}},
		DependsOn: dependsOn,
	}
}

func names(specs []definition.TaskSpec) []string {
	out := make([]string, len(specs))
	for i, spec := range specs {
		out[i] = spec.Name
	}

	return out
}

func TestParser_Parse_Flattening(t *testing.T) {
	t.Parallel()

	parser := definition.NewParser()

	specs, err := parser.Parse(definition.Workflow{
		Name: "release",
		Tasks: []definition.Entry{
			task("checkout"),
			&definition.Task{
				Name: "build",
				Jobs: []protocol.Job{
					&stepJob{Label: "compile"},
					nil,
					&stepJob{Label: "package"},
				},
				DependsOn: []string{"checkout"},
			},
		},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"checkout", "build"}, names(specs))

	build := specs[1]
	require.Len(t, build.Steps, 2)
	assert.Equal(t, 1, build.Steps[0].Order)
	assert.Equal(t, "compile", build.Steps[0].Job.(*stepJob).Label)
	assert.Equal(t, 2, build.Steps[1].Order)
	assert.Equal(t, "package", build.Steps[1].Job.(*stepJob).Label)
	assert.Equal(t, []string{"checkout"}, build.DependsOn)
	assert.Empty(t, specs[0].DependsOn)
}

func TestParser_Parse_GroupDependencyUnion(t *testing.T) {
	t.Parallel()

	parser := definition.NewParser()

	specs, err := parser.Parse(definition.Workflow{
		Name: "group",
		Tasks: []definition.Entry{
			task("lint"),
			task("checkout"),
			&definition.TaskGroup{
				DependsOn: []string{"checkout", "lint"},
				Tasks: []definition.Entry{
					task("unit", "lint"),
					task("e2e"),
					&definition.TaskGroup{
						DependsOn: []string{"unit"},
						Tasks:     []definition.Entry{task("report")},
					},
				},
			},
		},
	})
	require.NoError(t, err)

	byName := make(map[string][]string)
	for _, spec := range specs {
		byName[spec.Name] = spec.DependsOn
	}

	assert.ElementsMatch(t, []string{"lint", "checkout"}, byName["unit"])
	assert.ElementsMatch(t, []string{"checkout", "lint"}, byName["e2e"])
	assert.ElementsMatch(t, []string{"checkout", "lint", "unit"}, byName["report"])
	assert.Len(t, byName["unit"], 2)
}

func TestParser_Parse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		workflow definition.Workflow
		sentinel error
		check    func(t *testing.T, err error)
	}{
		{
			name:     "missing name",
			workflow: definition.Workflow{Tasks: []definition.Entry{task("a")}},
			sentinel: definition.ErrWorkflowWithoutName,
		},
		{
			name:     "no tasks",
			workflow: definition.Workflow{Name: "empty"},
			sentinel: definition.ErrWorkflowWithoutTasks,
		},
		{
			name: "task without job",
			workflow: definition.Workflow{Name: "w", Tasks: []definition.Entry{
				&definition.Task{Name: "idle", Jobs: []protocol.Job{nil}},
			}},
			sentinel: definition.ErrTaskWithoutJob,
			check: func(t *testing.T, err error) {
				t.Helper()
				assert.EqualError(t, err, `task "idle" does not contain any valid job`)
			},
		},
		{
			name: "job without tracking capability",
			workflow: definition.Workflow{Name: "w", Tasks: []definition.Entry{
				&definition.Task{Name: "legacy", Jobs: []protocol.Job{plainJob{}}},
			}},
			sentinel: definition.ErrMissingTrackingCapability,
			check: func(t *testing.T, err error) {
				t.Helper()

				var capabilityErr *definition.MissingTrackingCapabilityError
				require.ErrorAs(t, err, &capabilityErr)
				assert.Equal(t, "legacy", capabilityErr.Task)
				assert.Equal(t, "definition_test.plainJob", capabilityErr.JobType)
			},
		},
		{
			name: "duplicate names",
			workflow: definition.Workflow{Name: "w", Tasks: []definition.Entry{
				task("build"), task("test"), task("build"),
			}},
			sentinel: definition.ErrDuplicateTaskName,
			check: func(t *testing.T, err error) {
				t.Helper()

				var duplicateErr *definition.DuplicateTaskNameError
				require.ErrorAs(t, err, &duplicateErr)
				assert.Equal(t, []string{"build"}, duplicateErr.Names)
				assert.EqualError(t, err, "workflow contains tasks with duplicate names: build")
			},
		},
		{
			name: "unresolved dependency",
			workflow: definition.Workflow{Name: "w", Tasks: []definition.Entry{
				task("deploy", "missing"),
			}},
			sentinel: definition.ErrUnresolvedDependency,
			check: func(t *testing.T, err error) {
				t.Helper()

				var unresolvedErr *definition.UnresolvedDependencyError
				require.ErrorAs(t, err, &unresolvedErr)
				assert.Equal(t, "deploy", unresolvedErr.Task)
				assert.Equal(t, "missing", unresolvedErr.Dependency)
			},
		},
		{
			name: "cycle",
			workflow: definition.Workflow{Name: "w", Tasks: []definition.Entry{
				task("A", "B"), task("B", "C"), task("C", "A"),
			}},
			sentinel: definition.ErrCircularDependency,
			check: func(t *testing.T, err error) {
				t.Helper()

				var cycleErr *definition.CircularDependencyError
				require.ErrorAs(t, err, &cycleErr)
				assert.Equal(t, []string{"A", "B", "C", "A"}, cycleErr.Path)
				assert.EqualError(t, err, `circular dependency detected for task "A": A -> B -> C -> A`)
			},
		},
		{
			name: "self dependency",
			workflow: definition.Workflow{Name: "w", Tasks: []definition.Entry{
				task("loop", "loop"),
			}},
			sentinel: definition.ErrCircularDependency,
		},
		{
			name: "name with lazy marker",
			workflow: definition.Workflow{Name: "w", Tasks: []definition.Entry{
				task("shards:"),
			}},
			sentinel: definition.ErrInvalidTaskName,
		},
		{
			name: "lazy marker on a plain task",
			workflow: definition.Workflow{Name: "w", Tasks: []definition.Entry{
				task("build"), task("merge", "build:"),
			}},
			sentinel: definition.ErrUnresolvedDependency,
		},
		{
			name: "fan-out without expander",
			workflow: definition.Workflow{Name: "w", Tasks: []definition.Entry{
				&definition.FanOut{Name: "shards"},
			}},
			sentinel: definition.ErrMissingExpander,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			specs, err := definition.NewParser().Parse(tt.workflow)
			require.Error(t, err)
			assert.Nil(t, specs)
			require.ErrorIs(t, err, tt.sentinel)
			assert.True(t, definition.IsValidationError(err))

			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestParser_Parse_CycleRotation(t *testing.T) {
	t.Parallel()

	_, err := definition.NewParser().Parse(definition.Workflow{
		Name: "w",
		Tasks: []definition.Entry{
			task("entry"), task("B", "C", "entry"), task("C", "A"), task("A", "B"),
		},
	})

	var cycleErr *definition.CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	require.Len(t, cycleErr.Path, 4)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[3])
	assert.ElementsMatch(t, []string{"A", "B", "C"}, cycleErr.Path[:3])
}

func TestParser_Parse_FanOut(t *testing.T) {
	t.Parallel()

	specs, err := definition.NewParser().Parse(definition.Workflow{
		Name: "fan",
		Tasks: []definition.Entry{
			task("prepare"),
			&definition.FanOut{
				Name:      "shards",
				Expander:  "range",
				Args:      map[string]any{"count": 3},
				DependsOn: []string{"prepare"},
			},
			task("merge", "shards:"),
			task("notify", "shards"),
		},
	})
	require.NoError(t, err)
	require.Len(t, specs, 4)

	shards := specs[1]
	assert.True(t, shards.FanOut)
	require.Len(t, shards.Steps, 1)

	resolver, ok := shards.Steps[0].Job.(*fanout.Job)
	require.True(t, ok)
	assert.Equal(t, "range", resolver.Expander)
	assert.Equal(t, []string{"prepare"}, resolver.DependsOn)
	assert.Equal(t, []string{"merge"}, resolver.Gates)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	specs := []definition.TaskSpec{
		{Name: "shards", FanOut: true},
		{Name: "shards:0", DependsOn: []string{"shards"}},
		{Name: "merge", DependsOn: []string{"shards:", "shards:0"}},
	}
	require.NoError(t, definition.Validate(specs))

	specs = append(specs, definition.TaskSpec{Name: "shards:0"})
	require.ErrorIs(t, definition.Validate(specs), definition.ErrDuplicateTaskName)

	err := definition.Validate([]definition.TaskSpec{
		{Name: "shards", FanOut: true, DependsOn: []string{"merge"}},
		{Name: "merge", DependsOn: []string{"shards:"}},
	})
	require.ErrorIs(t, err, definition.ErrCircularDependency)
}

func TestIsValidationError(t *testing.T) {
	t.Parallel()

	assert.False(t, definition.IsValidationError(errors.New("boom")))
	assert.True(t, definition.IsValidationError(&definition.TaskError{Task: "x", Err: definition.ErrTaskWithoutJob}))
}

func TestLazyHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, definition.IsLazy("shards:"))
	assert.False(t, definition.IsLazy("shards:1"))
	assert.Equal(t, "shards", definition.LazyTarget("shards:"))
	assert.Equal(t, "shards:1", definition.GeneratedName("shards", "1"))
}
