// Package definition describes workflows as declared by users and turns them
// into validated, flattened task specifications ready to be stored.
package definition

import (
	"strings"

	"github.com/dukex/dagflow/pkg/protocol"
)

// LazyMarker ends a dependency name that refers to every task generated by a
// fan-out task: "shards:" waits for all "shards:<key>" tasks.
const LazyMarker = ":"

// Entry is one element of a workflow's task list: *Task, *TaskGroup or *FanOut.
type Entry interface {
	entry()
}

// Workflow is a user-declared graph of tasks.
type Workflow struct {
	Name  string
	Tasks []Entry
}

// Task is a named sequence of jobs run one after the other.
type Task struct {
	Name      string
	Jobs      []protocol.Job
	DependsOn []string
}

// TaskGroup shares its dependencies with every task it contains.
type TaskGroup struct {
	Tasks     []Entry
	DependsOn []string
}

// FanOut is a task whose dependants are generated at run time by the named expander.
type FanOut struct {
	Name      string
	Expander  string
	Args      map[string]any
	DependsOn []string
}

func (*Task) entry()      {}
func (*TaskGroup) entry() {}
func (*FanOut) entry()    {}

// TaskSpec is a validated, flattened task.
type TaskSpec struct {
	Name      string
	Steps     []StepSpec
	DependsOn []string
	FanOut    bool
}

// StepSpec is one job of a TaskSpec. Order starts at 1.
type StepSpec struct {
	Order int
	Job   protocol.Trackable
}

// IsLazy reports whether a dependency name carries the lazily-resolved marker.
func IsLazy(dependency string) bool {
	return strings.HasSuffix(dependency, LazyMarker)
}

// LazyTarget returns the fan-out task a lazily-resolved dependency refers to.
func LazyTarget(dependency string) string {
	return strings.TrimSuffix(dependency, LazyMarker)
}

// GeneratedName is the name of the task a fan-out produces for one item.
func GeneratedName(fanOut, key string) string {
	return fanOut + LazyMarker + key
}

func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	merged := make([]string, 0)

	for _, list := range lists {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}

			seen[name] = struct{}{}
			merged = append(merged, name)
		}
	}

	return merged
}
