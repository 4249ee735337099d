package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
)

// Tx implements persistence.Tx over the locked state of a Persistence.
type Tx struct {
	state *state
}

func (t *Tx) id() int64 {
	t.state.nextID++

	return t.state.nextID
}

func (t *Tx) InsertWorkflow(_ context.Context, workflow *models.Workflow) error {
	workflow.ID = t.id()
	t.state.workflows[workflow.ID] = *workflow

	return nil
}

func (t *Tx) InsertTasks(_ context.Context, tasks []*models.Task) error {
	for _, task := range tasks {
		task.ID = t.id()
		t.state.tasks[task.ID] = *task
	}

	return nil
}

func (t *Tx) InsertSteps(_ context.Context, steps []*models.Step) error {
	for _, step := range steps {
		step.ID = t.id()
		stored := *step
		stored.Payload = slices.Clone(step.Payload)
		t.state.steps[step.ID] = stored
	}

	return nil
}

func (t *Tx) InsertDependencies(_ context.Context, dependencies []models.Dependency) error {
	for _, dependency := range dependencies {
		if !slices.Contains(t.state.dependencies, dependency) {
			t.state.dependencies = append(t.state.dependencies, dependency)
		}
	}

	return nil
}

func (t *Tx) Workflow(_ context.Context, id int64) (*models.Workflow, error) {
	workflow, ok := t.state.workflows[id]
	if !ok {
		return nil, persistence.NewWorkflowError("Workflow", id, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

func (t *Tx) Task(_ context.Context, id int64) (*models.Task, error) {
	task, ok := t.state.tasks[id]
	if !ok {
		return nil, persistence.NewTaskError("Task", id, persistence.ErrTaskNotFound)
	}

	return &task, nil
}

func (t *Tx) Step(_ context.Context, id int64) (*models.Step, error) {
	step, ok := t.state.steps[id]
	if !ok {
		return nil, persistence.NewStepError("Step", id, persistence.ErrStepNotFound)
	}

	return copyStep(step), nil
}

func (t *Tx) Tasks(_ context.Context, workflowID int64) ([]*models.Task, error) {
	return t.selectTasks(func(task models.Task) bool { return task.WorkflowID == workflowID }), nil
}

func (t *Tx) Dependencies(_ context.Context, workflowID int64) ([]models.Dependency, error) {
	dependencies := make([]models.Dependency, 0)

	for _, dependency := range t.state.dependencies {
		if t.state.tasks[dependency.DependantTaskID].WorkflowID == workflowID {
			dependencies = append(dependencies, dependency)
		}
	}

	sort.Slice(dependencies, func(i, j int) bool {
		if dependencies[i].TaskID != dependencies[j].TaskID {
			return dependencies[i].TaskID < dependencies[j].TaskID
		}

		return dependencies[i].DependantTaskID < dependencies[j].DependantTaskID
	})

	return dependencies, nil
}

func (t *Tx) StepByOrder(_ context.Context, taskID int64, order int) (*models.Step, error) {
	for _, step := range t.state.steps {
		if step.TaskID == taskID && step.Order == order {
			return copyStep(step), nil
		}
	}

	return nil, nil
}

func (t *Tx) EntrypointTasks(_ context.Context, workflowID int64) ([]*models.Task, error) {
	return t.selectTasks(func(task models.Task) bool {
		return task.WorkflowID == workflowID &&
			task.Status == models.StatusPending &&
			len(t.upstream(task.ID)) == 0
	}), nil
}

func (t *Tx) ReadyDependants(_ context.Context, taskID int64) ([]*models.Task, error) {
	dependants := make(map[int64]struct{})

	for _, dependency := range t.state.dependencies {
		if dependency.TaskID == taskID {
			dependants[dependency.DependantTaskID] = struct{}{}
		}
	}

	return t.selectTasks(func(task models.Task) bool {
		if _, ok := dependants[task.ID]; !ok || task.Status != models.StatusPending {
			return false
		}

		for _, upstream := range t.upstream(task.ID) {
			if t.state.tasks[upstream].Status != models.StatusCompleted {
				return false
			}
		}

		return true
	}), nil
}

// LockWorkflow is a no-op: the whole state is locked for the transaction.
func (t *Tx) LockWorkflow(_ context.Context, _ int64) error {
	return nil
}

func (t *Tx) TransitionWorkflow(_ context.Context, id int64, from, to models.RunStatus, now time.Time) (bool, error) {
	workflow, ok := t.state.workflows[id]
	if !ok || workflow.Status != from {
		return false, nil
	}

	workflow.Status = to
	workflow.Apply(to, now)
	t.state.workflows[id] = workflow

	return true, nil
}

func (t *Tx) TransitionTask(_ context.Context, id int64, from, to models.RunStatus, now time.Time) (bool, error) {
	task, ok := t.state.tasks[id]
	if !ok || task.Status != from {
		return false, nil
	}

	task.Status = to
	task.Apply(to, now)
	t.state.tasks[id] = task

	return true, nil
}

func (t *Tx) TransitionStep(_ context.Context, id int64, from, to models.RunStatus, now time.Time) (bool, error) {
	step, ok := t.state.steps[id]
	if !ok || step.Status != from {
		return false, nil
	}

	step.Status = to
	step.Apply(to, now)
	t.state.steps[id] = step

	return true, nil
}

func (t *Tx) MarkTaskStarted(_ context.Context, id int64, now time.Time) error {
	task, ok := t.state.tasks[id]
	if ok && task.StartedAt == nil {
		task.StartedAt = &now
		task.UpdatedAt = now
		t.state.tasks[id] = task
	}

	return nil
}

func (t *Tx) MarkWorkflowStarted(_ context.Context, id int64, now time.Time) error {
	workflow, ok := t.state.workflows[id]
	if ok && workflow.StartedAt == nil {
		workflow.StartedAt = &now
		workflow.UpdatedAt = now
		t.state.workflows[id] = workflow
	}

	return nil
}

func (t *Tx) CompleteWorkflowIfSettled(ctx context.Context, id int64, now time.Time) (bool, error) {
	for _, task := range t.state.tasks {
		if task.WorkflowID == id && task.Status != models.StatusCompleted {
			return false, nil
		}
	}

	return t.TransitionWorkflow(ctx, id, models.StatusPending, models.StatusCompleted, now)
}

func (t *Tx) CancelPendingTasks(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	var count int64

	for _, id := range ids {
		ok, _ := t.TransitionTask(ctx, id, models.StatusPending, models.StatusCancelled, now)
		if ok {
			count++
		}
	}

	return count, nil
}

func (t *Tx) CancelPendingSteps(ctx context.Context, taskIDs []int64, now time.Time) (int64, error) {
	var count int64

	for id, step := range t.state.steps {
		if !slices.Contains(taskIDs, step.TaskID) {
			continue
		}

		ok, _ := t.TransitionStep(ctx, id, models.StatusPending, models.StatusCancelled, now)
		if ok {
			count++
		}
	}

	return count, nil
}

func (t *Tx) upstream(taskID int64) []int64 {
	ids := make([]int64, 0)

	for _, dependency := range t.state.dependencies {
		if dependency.DependantTaskID == taskID {
			ids = append(ids, dependency.TaskID)
		}
	}

	return ids
}

func (t *Tx) selectTasks(match func(task models.Task) bool) []*models.Task {
	tasks := make([]*models.Task, 0)

	for _, task := range t.state.tasks {
		if match(task) {
			tasks = append(tasks, &task)
		}
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	return tasks
}
