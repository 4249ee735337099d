// Package fanout provides the resolver job of fan-out tasks: when it runs it
// enumerates items through a registered expander and asks the engine to add
// one task per item to the running workflow.
package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/protocol"
)

// Type is the registry identifier of the resolver job.
const Type = "dagflow.fanout"

var ErrNotWired = errors.New("fan-out job was not created by its factory")

// Expansion is what a resolver hands over to the engine.
type Expansion struct {
	// Step is the resolver step; its task is the fan-out task.
	Step models.StepRef
	// Name of the fan-out task.
	Name string
	// DependsOn are the fan-out task's own dependencies, inherited by every generated task.
	DependsOn []string
	// Gates are the tasks that declared the lazily-resolved dependency on the fan-out.
	Gates []string
	Items []protocol.Item
}

// Appender adds the tasks of an expansion to a persisted workflow.
type Appender interface {
	AppendFanOut(ctx context.Context, expansion Expansion) error
}

// Expanders resolves an expander by identifier.
type Expanders interface {
	Expander(id string) (protocol.Expander, error)
}

// Job is the single step of a fan-out task.
type Job struct {
	protocol.Tracking

	Name      string         `json:"name"`
	Expander  string         `json:"expander"`
	Args      map[string]any `json:"args,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Gates     []string       `json:"gates,omitempty"`

	expanders Expanders
	appender  Appender
}

// New creates the resolver job of the fan-out task name.
func New(name, expander string, args map[string]any, dependsOn []string) *Job {
	return &Job{
		Name:      name,
		Expander:  expander,
		Args:      args,
		DependsOn: dependsOn,
	}
}

func (j *Job) Type() string {
	return Type
}

// Gate records a task that waits for every generated task.
func (j *Job) Gate(task string) {
	for _, gate := range j.Gates {
		if gate == task {
			return
		}
	}

	j.Gates = append(j.Gates, task)
}

func (j *Job) Handle(ctx context.Context) error {
	if j.expanders == nil || j.appender == nil {
		return ErrNotWired
	}

	expander, err := j.expanders.Expander(j.Expander)
	if err != nil {
		return err
	}

	items, err := expander.Expand(ctx, j.Args)
	if err != nil {
		return fmt.Errorf("failed to expand fan-out %q: %w", j.Name, err)
	}

	return j.appender.AppendFanOut(ctx, Expansion{
		Step:      j.Step(),
		Name:      j.Name,
		DependsOn: j.DependsOn,
		Gates:     j.Gates,
		Items:     items,
	})
}

// Factory builds resolver jobs wired to the engine.
type Factory struct {
	expanders Expanders
	appender  Appender
}

func NewFactory(expanders Expanders, appender Appender) *Factory {
	return &Factory{
		expanders: expanders,
		appender:  appender,
	}
}

func (*Factory) ID() string {
	return Type
}

func (f *Factory) New() protocol.Trackable {
	return &Job{
		expanders: f.expanders,
		appender:  f.appender,
	}
}
