package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/dukex/dagflow/pkg/protocol"
)

var ErrNotFanOutTask = errors.New("task is not a fan-out task of the workflow")

// Encoder serializes jobs into step payloads.
type Encoder interface {
	Encode(job protocol.Trackable) ([]byte, error)
}

// Repository materializes validated task specs as persisted graphs.
type Repository struct {
	persistence persistence.Persistence
	encoder     Encoder
	now         func() time.Time
}

func NewRepository(persistence persistence.Persistence, encoder Encoder) *Repository {
	return &Repository{
		persistence: persistence,
		encoder:     encoder,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Store persists a PENDING workflow with its tasks, steps and dependency
// edges in one transaction.
func (r *Repository) Store(ctx context.Context, name string, specs []definition.TaskSpec) (*models.Workflow, error) {
	var workflow *models.Workflow

	err := r.persistence.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error

		workflow, err = r.StoreTx(ctx, tx, name, specs)

		return err
	})
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// StoreTx is Store inside a caller-owned transaction.
func (r *Repository) StoreTx(ctx context.Context, tx persistence.Tx, name string, specs []definition.TaskSpec) (*models.Workflow, error) {
	now := r.now()

	workflow := &models.Workflow{Name: name, Status: models.StatusPending}
	workflow.CreatedAt, workflow.UpdatedAt = now, now

	err := tx.InsertWorkflow(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to insert workflow: %w", err)
	}

	ids, err := r.insertTasks(ctx, tx, workflow.ID, specs, nil, now)
	if err != nil {
		return nil, err
	}

	edges := newEdgeSet()

	for _, spec := range specs {
		for _, dependency := range spec.DependsOn {
			if definition.IsLazy(dependency) {
				dependency = definition.LazyTarget(dependency)
			}

			edges.add(ids[dependency], ids[spec.Name])
		}
	}

	err = tx.InsertDependencies(ctx, edges.list)
	if err != nil {
		return nil, fmt.Errorf("failed to insert dependencies: %w", err)
	}

	return workflow, nil
}

// Append adds the tasks generated by the fan-out task fanOutTaskID to a
// stored workflow. Each generated task also becomes a dependency of every
// gated task. Lazy "X:" dependencies of the new tasks are resolved to X and
// the tasks X already generated. The augmented graph is validated as a whole
// before anything is written.
func (r *Repository) Append(
	ctx context.Context,
	workflowID, fanOutTaskID int64,
	specs []definition.TaskSpec,
	gated []string,
) error {
	return r.persistence.InTx(ctx, func(ctx context.Context, tx persistence.Tx) error {
		err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}

		tasks, err := tx.Tasks(ctx, workflowID)
		if err != nil {
			return err
		}

		dependencies, err := tx.Dependencies(ctx, workflowID)
		if err != nil {
			return err
		}

		fanOut := taskByID(tasks, fanOutTaskID)
		if fanOut == nil {
			return persistence.NewTaskError("append", fanOutTaskID, ErrNotFanOutTask)
		}

		specs = resolveLazy(specs, tasks)

		err = definition.Validate(augment(tasks, dependencies, specs, gated))
		if err != nil {
			return err
		}

		now := r.now()

		ids := make(map[string]int64, len(tasks)+len(specs))
		for _, task := range tasks {
			ids[task.Name] = task.ID
		}

		_, err = r.insertTasks(ctx, tx, workflowID, specs, ids, now)
		if err != nil {
			return err
		}

		edges := newEdgeSet()

		for _, spec := range specs {
			for _, dependency := range spec.DependsOn {
				edges.add(ids[definition.LazyTarget(dependency)], ids[spec.Name])
			}

			for _, gate := range gated {
				edges.add(ids[spec.Name], ids[gate])
			}
		}

		err = tx.InsertDependencies(ctx, edges.list)
		if err != nil {
			return fmt.Errorf("failed to insert dependencies: %w", err)
		}

		return nil
	})
}

// insertTasks stores the tasks and steps of specs and records their ids in
// ids, which is created when nil.
func (r *Repository) insertTasks(
	ctx context.Context,
	tx persistence.Tx,
	workflowID int64,
	specs []definition.TaskSpec,
	ids map[string]int64,
	now time.Time,
) (map[string]int64, error) {
	if ids == nil {
		ids = make(map[string]int64, len(specs))
	}

	tasks := make([]*models.Task, len(specs))

	for i, spec := range specs {
		task := &models.Task{WorkflowID: workflowID, Name: spec.Name, Status: models.StatusPending}
		task.CreatedAt, task.UpdatedAt = now, now
		tasks[i] = task
	}

	err := tx.InsertTasks(ctx, tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tasks: %w", err)
	}

	steps := make([]*models.Step, 0, len(specs))

	for i, spec := range specs {
		ids[spec.Name] = tasks[i].ID

		for _, stepSpec := range spec.Steps {
			payload, err := r.encoder.Encode(stepSpec.Job)
			if err != nil {
				return nil, fmt.Errorf("failed to encode step %d of task %q: %w", stepSpec.Order, spec.Name, err)
			}

			step := &models.Step{
				TaskID:     tasks[i].ID,
				WorkflowID: workflowID,
				Order:      stepSpec.Order,
				Class:      stepSpec.Job.Type(),
				Status:     models.StatusPending,
				Payload:    payload,
			}
			step.CreatedAt, step.UpdatedAt = now, now
			steps = append(steps, step)
		}
	}

	err = tx.InsertSteps(ctx, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to insert steps: %w", err)
	}

	return ids, nil
}

// augment rebuilds the specs of a stored graph and merges new specs into it,
// gating the named tasks on every new one.
func augment(tasks []*models.Task, dependencies []models.Dependency, specs []definition.TaskSpec, gated []string) []definition.TaskSpec {
	names := make(map[int64]string, len(tasks))
	for _, task := range tasks {
		names[task.ID] = task.Name
	}

	upstream := make(map[string][]string, len(tasks))
	for _, dependency := range dependencies {
		dependant := names[dependency.DependantTaskID]
		upstream[dependant] = append(upstream[dependant], names[dependency.TaskID])
	}

	for _, gate := range gated {
		for _, spec := range specs {
			upstream[gate] = append(upstream[gate], spec.Name)
		}
	}

	merged := make([]definition.TaskSpec, 0, len(tasks)+len(specs))
	for _, task := range tasks {
		merged = append(merged, definition.TaskSpec{Name: task.Name, DependsOn: upstream[task.Name]})
	}

	return append(merged, specs...)
}

// resolveLazy returns specs with every "X:" dependency replaced by X and the
// stored tasks generated by X. A fan-out only runs once X and its generated
// tasks are done, so the stored set is complete.
func resolveLazy(specs []definition.TaskSpec, tasks []*models.Task) []definition.TaskSpec {
	resolved := make([]definition.TaskSpec, len(specs))

	for i, spec := range specs {
		dependsOn := make([]string, 0, len(spec.DependsOn))

		for _, dependency := range spec.DependsOn {
			if !definition.IsLazy(dependency) {
				dependsOn = append(dependsOn, dependency)

				continue
			}

			dependsOn = append(dependsOn, definition.LazyTarget(dependency))

			for _, task := range tasks {
				if strings.HasPrefix(task.Name, dependency) {
					dependsOn = append(dependsOn, task.Name)
				}
			}
		}

		resolved[i] = spec
		resolved[i].DependsOn = dependsOn
	}

	return resolved
}

func taskByID(tasks []*models.Task, id int64) *models.Task {
	for _, task := range tasks {
		if task.ID == id {
			return task
		}
	}

	return nil
}

type edgeSet struct {
	seen map[models.Dependency]struct{}
	list []models.Dependency
}

func newEdgeSet() *edgeSet {
	return &edgeSet{
		seen: make(map[models.Dependency]struct{}),
		list: make([]models.Dependency, 0),
	}
}

func (s *edgeSet) add(from, to int64) {
	edge := models.Dependency{TaskID: from, DependantTaskID: to}
	if _, ok := s.seen[edge]; ok {
		return
	}

	s.seen[edge] = struct{}{}
	s.list = append(s.list, edge)
}
