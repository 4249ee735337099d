package definition

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dukex/dagflow/pkg/graph"
	"github.com/dukex/dagflow/pkg/jobs/fanout"
	"github.com/dukex/dagflow/pkg/protocol"
)

// Parser flattens and validates workflow definitions.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse turns a workflow definition into validated task specs, in declaration
// order. It returns the first validation error met.
func (p *Parser) Parse(workflow Workflow) ([]TaskSpec, error) {
	if strings.TrimSpace(workflow.Name) == "" {
		return nil, ErrWorkflowWithoutName
	}

	if len(workflow.Tasks) == 0 {
		return nil, ErrWorkflowWithoutTasks
	}

	specs, err := p.ParseTasks(workflow.Tasks)
	if err != nil {
		return nil, err
	}

	gateFanOuts(specs)

	err = Validate(specs)
	if err != nil {
		return nil, err
	}

	return specs, nil
}

// ParseTasks expands groups and checks every task's jobs without looking at
// the graph as a whole.
func (p *Parser) ParseTasks(entries []Entry) ([]TaskSpec, error) {
	specs := make([]TaskSpec, 0, len(entries))

	err := p.flatten(entries, nil, &specs)
	if err != nil {
		return nil, err
	}

	return specs, nil
}

func (p *Parser) flatten(entries []Entry, inherited []string, specs *[]TaskSpec) error {
	for _, entry := range entries {
		switch e := entry.(type) {
		case *Task:
			spec, err := parseTask(e, inherited)
			if err != nil {
				return err
			}

			*specs = append(*specs, spec)
		case *TaskGroup:
			err := p.flatten(e.Tasks, union(inherited, e.DependsOn), specs)
			if err != nil {
				return err
			}
		case *FanOut:
			spec, err := parseFanOut(e, inherited)
			if err != nil {
				return err
			}

			*specs = append(*specs, spec)
		case nil:
			continue
		default:
			return fmt.Errorf("unsupported workflow entry %T", entry)
		}
	}

	return nil
}

func parseTask(task *Task, inherited []string) (TaskSpec, error) {
	err := checkName(task.Name)
	if err != nil {
		return TaskSpec{}, err
	}

	steps := make([]StepSpec, 0, len(task.Jobs))

	for _, job := range task.Jobs {
		if job == nil {
			continue
		}

		trackable, ok := job.(protocol.Trackable)
		if !ok {
			return TaskSpec{}, &MissingTrackingCapabilityError{Task: task.Name, JobType: fmt.Sprintf("%T", job)}
		}

		steps = append(steps, StepSpec{Order: len(steps) + 1, Job: trackable})
	}

	if len(steps) == 0 {
		return TaskSpec{}, &TaskError{Task: task.Name, Err: ErrTaskWithoutJob}
	}

	return TaskSpec{
		Name:      task.Name,
		Steps:     steps,
		DependsOn: union(task.DependsOn, inherited),
	}, nil
}

func parseFanOut(fanOut *FanOut, inherited []string) (TaskSpec, error) {
	err := checkName(fanOut.Name)
	if err != nil {
		return TaskSpec{}, err
	}

	if strings.TrimSpace(fanOut.Expander) == "" {
		return TaskSpec{}, &TaskError{Task: fanOut.Name, Err: ErrMissingExpander}
	}

	dependsOn := union(fanOut.DependsOn, inherited)

	return TaskSpec{
		Name:      fanOut.Name,
		Steps:     []StepSpec{{Order: 1, Job: fanout.New(fanOut.Name, fanOut.Expander, fanOut.Args, dependsOn)}},
		DependsOn: dependsOn,
		FanOut:    true,
	}, nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" || IsLazy(name) {
		return &TaskError{Task: name, Err: ErrInvalidTaskName}
	}

	return nil
}

// gateFanOuts records on each resolver job which tasks wait for everything it
// generates, so the generated tasks can be wired to them at run time.
func gateFanOuts(specs []TaskSpec) {
	resolvers := make(map[string]*fanout.Job)

	for _, spec := range specs {
		if !spec.FanOut {
			continue
		}

		if job, ok := spec.Steps[0].Job.(*fanout.Job); ok {
			resolvers[spec.Name] = job
		}
	}

	for _, spec := range specs {
		for _, dependency := range spec.DependsOn {
			if !IsLazy(dependency) {
				continue
			}

			if job, ok := resolvers[LazyTarget(dependency)]; ok {
				job.Gate(spec.Name)
			}
		}
	}
}

// Validate checks a set of specs as one graph: unique names, resolvable
// dependencies and no cycles. Only names, dependencies and the FanOut flag are read.
func Validate(specs []TaskSpec) error {
	err := checkDuplicates(specs)
	if err != nil {
		return err
	}

	err = checkDependencies(specs)
	if err != nil {
		return err
	}

	return checkCycles(specs)
}

func checkDuplicates(specs []TaskSpec) error {
	counts := make(map[string]int, len(specs))
	for _, spec := range specs {
		counts[spec.Name]++
	}

	duplicates := make([]string, 0)

	for name, count := range counts {
		if count > 1 {
			duplicates = append(duplicates, name)
		}
	}

	if len(duplicates) == 0 {
		return nil
	}

	sort.Strings(duplicates)

	return &DuplicateTaskNameError{Names: duplicates}
}

func checkDependencies(specs []TaskSpec) error {
	byName := make(map[string]TaskSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}

	for _, spec := range specs {
		for _, dependency := range spec.DependsOn {
			if IsLazy(dependency) {
				target, ok := byName[LazyTarget(dependency)]
				if !ok || !target.FanOut {
					return &UnresolvedDependencyError{Task: spec.Name, Dependency: dependency}
				}

				continue
			}

			if _, ok := byName[dependency]; !ok {
				return &UnresolvedDependencyError{Task: spec.Name, Dependency: dependency}
			}
		}
	}

	return nil
}

func checkCycles(specs []TaskSpec) error {
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}

	g := graph.New(names)

	for _, spec := range specs {
		for _, dependency := range spec.DependsOn {
			g.AddEdge(spec.Name, LazyTarget(dependency))
		}
	}

	cycle := g.FindCycle()
	if cycle != nil {
		return &CircularDependencyError{Path: cycle}
	}

	return nil
}
