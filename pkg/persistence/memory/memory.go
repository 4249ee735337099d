// Package memory provides a process-local persistence of workflow graphs.
// Transactions are serialized by a single lock and undone from a snapshot
// when they fail.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
)

type state struct {
	workflows    map[int64]models.Workflow
	tasks        map[int64]models.Task
	steps        map[int64]models.Step
	dependencies []models.Dependency
	nextID       int64
}

func (s *state) clone() *state {
	cloned := &state{
		workflows:    make(map[int64]models.Workflow, len(s.workflows)),
		tasks:        make(map[int64]models.Task, len(s.tasks)),
		steps:        make(map[int64]models.Step, len(s.steps)),
		dependencies: slices.Clone(s.dependencies),
		nextID:       s.nextID,
	}

	for id, workflow := range s.workflows {
		cloned.workflows[id] = workflow
	}

	for id, task := range s.tasks {
		cloned.tasks[id] = task
	}

	for id, step := range s.steps {
		cloned.steps[id] = step
	}

	return cloned
}

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	mu    sync.Mutex
	state *state
}

func NewPersistence() *Persistence {
	return &Persistence{
		state: &state{
			workflows: make(map[int64]models.Workflow),
			tasks:     make(map[int64]models.Task),
			steps:     make(map[int64]models.Step),
		},
	}
}

func (p *Persistence) InTx(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := p.state.clone()

	err := fn(ctx, &Tx{state: p.state})
	if err != nil {
		p.state = snapshot

		return err
	}

	return nil
}

func (p *Persistence) WorkflowGraph(ctx context.Context, id int64) (*models.WorkflowGraph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx := &Tx{state: p.state}

	workflow, err := tx.Workflow(ctx, id)
	if err != nil {
		return nil, err
	}

	tasks, _ := tx.Tasks(ctx, id)
	dependencies, _ := tx.Dependencies(ctx, id)

	steps := make([]*models.Step, 0)

	for _, step := range p.state.steps {
		if step.WorkflowID == id {
			steps = append(steps, copyStep(step))
		}
	}

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].TaskID != steps[j].TaskID {
			return steps[i].TaskID < steps[j].TaskID
		}

		return steps[i].Order < steps[j].Order
	})

	return &models.WorkflowGraph{
		Workflow:     workflow,
		Tasks:        tasks,
		Steps:        steps,
		Dependencies: dependencies,
	}, nil
}

func (p *Persistence) Workflows(_ context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	matching := make([]*models.Workflow, 0)

	for _, workflow := range p.state.workflows {
		if filter.Status != "" && workflow.Status != filter.Status {
			continue
		}

		matching = append(matching, &workflow)
	}

	sort.Slice(matching, func(i, j int) bool { return matching[i].ID > matching[j].ID })

	limit := filter.Limit
	if limit <= 0 {
		limit = persistence.DefaultListLimit
	}

	offset := min(max(filter.Offset, 0), len(matching))
	end := min(offset+limit, len(matching))

	return matching[offset:end], nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func copyStep(step models.Step) *models.Step {
	step.Payload = slices.Clone(step.Payload)

	return &step
}
