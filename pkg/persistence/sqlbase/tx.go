package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/georgysavva/scany/v2/sqlscan"
)

var (
	timestampColumns = []string{"started_at", "failed_at", "completed_at", "created_at", "updated_at"}

	workflowColumns = append([]string{"id", "name", "status"}, timestampColumns...)
	taskColumns     = append([]string{"id", "workflow_id", "name", "status"}, timestampColumns...)
	stepColumns     = append([]string{"id", "task_id", "workflow_id", `"order"`, "class", "status", "payload"}, timestampColumns...)
)

func qualified(alias string, columns []string) []string {
	out := make([]string, len(columns))
	for i, column := range columns {
		out[i] = alias + "." + column
	}

	return out
}

// Tx implements persistence.Tx over a database/sql transaction.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
	sb      sq.StatementBuilderType
}

func (t *Tx) InsertWorkflow(ctx context.Context, workflow *models.Workflow) error {
	statement, args, err := t.sb.Insert("workflows").
		Columns("name", "status", "created_at", "updated_at").
		Values(workflow.Name, string(workflow.Status), workflow.CreatedAt, workflow.UpdatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build workflow insert: %w", err)
	}

	err = t.tx.QueryRowContext(ctx, statement, args...).Scan(&workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	return nil
}

func (t *Tx) InsertTasks(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	insert := t.sb.Insert("workflow_tasks").
		Columns("workflow_id", "name", "status", "created_at", "updated_at").
		Suffix("RETURNING id, name")

	byName := make(map[string]*models.Task, len(tasks))

	for _, task := range tasks {
		insert = insert.Values(task.WorkflowID, task.Name, string(task.Status), task.CreatedAt, task.UpdatedAt)
		byName[task.Name] = task
	}

	statement, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task insert: %w", err)
	}

	var inserted []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}

	err = sqlscan.Select(ctx, t.tx, &inserted, statement, args...)
	if err != nil {
		return fmt.Errorf("failed to insert tasks: %w", err)
	}

	for _, row := range inserted {
		if task, ok := byName[row.Name]; ok {
			task.ID = row.ID
		}
	}

	return nil
}

func (t *Tx) InsertSteps(ctx context.Context, steps []*models.Step) error {
	if len(steps) == 0 {
		return nil
	}

	type stepKey struct {
		taskID int64
		order  int
	}

	insert := t.sb.Insert("workflow_task_steps").
		Columns("task_id", "workflow_id", `"order"`, "class", "status", "payload", "created_at", "updated_at").
		Suffix(`RETURNING id, task_id, "order"`)

	byKey := make(map[stepKey]*models.Step, len(steps))

	for _, step := range steps {
		insert = insert.Values(
			step.TaskID, step.WorkflowID, step.Order, step.Class, string(step.Status),
			string(step.Payload), step.CreatedAt, step.UpdatedAt,
		)
		byKey[stepKey{step.TaskID, step.Order}] = step
	}

	statement, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build step insert: %w", err)
	}

	var inserted []struct {
		ID     int64 `db:"id"`
		TaskID int64 `db:"task_id"`
		Order  int   `db:"order"`
	}

	err = sqlscan.Select(ctx, t.tx, &inserted, statement, args...)
	if err != nil {
		return fmt.Errorf("failed to insert steps: %w", err)
	}

	for _, row := range inserted {
		if step, ok := byKey[stepKey{row.TaskID, row.Order}]; ok {
			step.ID = row.ID
		}
	}

	return nil
}

func (t *Tx) InsertDependencies(ctx context.Context, dependencies []models.Dependency) error {
	if len(dependencies) == 0 {
		return nil
	}

	insert := t.sb.Insert("workflow_task_dependencies").Columns("task_id", "dependant_task_id")
	for _, dependency := range dependencies {
		insert = insert.Values(dependency.TaskID, dependency.DependantTaskID)
	}

	return t.exec(ctx, insert, "insert dependencies")
}

func (t *Tx) Workflow(ctx context.Context, id int64) (*models.Workflow, error) {
	var workflow models.Workflow

	found, err := t.get(ctx, &workflow, t.sb.Select(workflowColumns...).From("workflows").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, persistence.NewWorkflowError("Workflow", id, err)
	}

	if !found {
		return nil, persistence.NewWorkflowError("Workflow", id, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

func (t *Tx) Task(ctx context.Context, id int64) (*models.Task, error) {
	var task models.Task

	found, err := t.get(ctx, &task, t.sb.Select(taskColumns...).From("workflow_tasks").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, persistence.NewTaskError("Task", id, err)
	}

	if !found {
		return nil, persistence.NewTaskError("Task", id, persistence.ErrTaskNotFound)
	}

	return &task, nil
}

func (t *Tx) Step(ctx context.Context, id int64) (*models.Step, error) {
	var step models.Step

	found, err := t.get(ctx, &step, t.sb.Select(stepColumns...).From("workflow_task_steps").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, persistence.NewStepError("Step", id, err)
	}

	if !found {
		return nil, persistence.NewStepError("Step", id, persistence.ErrStepNotFound)
	}

	return &step, nil
}

func (t *Tx) Tasks(ctx context.Context, workflowID int64) ([]*models.Task, error) {
	return t.tasks(ctx, t.sb.Select(taskColumns...).
		From("workflow_tasks").
		Where(sq.Eq{"workflow_id": workflowID}).
		OrderBy("id"))
}

func (t *Tx) Dependencies(ctx context.Context, workflowID int64) ([]models.Dependency, error) {
	statement, args, err := t.sb.Select("d.task_id", "d.dependant_task_id").
		From("workflow_task_dependencies d").
		Join("workflow_tasks t ON t.id = d.dependant_task_id").
		Where(sq.Eq{"t.workflow_id": workflowID}).
		OrderBy("d.task_id", "d.dependant_task_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build dependencies query: %w", err)
	}

	dependencies := make([]models.Dependency, 0)

	err = sqlscan.Select(ctx, t.tx, &dependencies, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}

	return dependencies, nil
}

func (t *Tx) StepByOrder(ctx context.Context, taskID int64, order int) (*models.Step, error) {
	var step models.Step

	found, err := t.get(ctx, &step, t.sb.Select(stepColumns...).
		From("workflow_task_steps").
		Where(sq.Eq{"task_id": taskID, `"order"`: order}))
	if err != nil {
		return nil, persistence.NewTaskError("StepByOrder", taskID, err)
	}

	if !found {
		return nil, nil
	}

	return &step, nil
}

func (t *Tx) EntrypointTasks(ctx context.Context, workflowID int64) ([]*models.Task, error) {
	return t.tasks(ctx, t.sb.Select(qualified("t", taskColumns)...).
		From("workflow_tasks t").
		Where(sq.Eq{"t.workflow_id": workflowID, "t.status": string(models.StatusPending)}).
		Where("NOT EXISTS (SELECT 1 FROM workflow_task_dependencies d WHERE d.dependant_task_id = t.id)").
		OrderBy("t.id"))
}

func (t *Tx) ReadyDependants(ctx context.Context, taskID int64) ([]*models.Task, error) {
	if t.dialect.LockRows {
		lock, args, err := t.sb.Select("t.id").
			From("workflow_tasks t").
			Join("workflow_task_dependencies d ON d.dependant_task_id = t.id").
			Where(sq.Eq{"d.task_id": taskID}).
			OrderBy("t.id").
			Suffix("FOR UPDATE OF t").
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build dependant lock: %w", err)
		}

		var locked []int64

		err = sqlscan.Select(ctx, t.tx, &locked, lock, args...)
		if err != nil {
			return nil, persistence.NewTaskError("LockDependants", taskID, err)
		}
	}

	return t.tasks(ctx, t.sb.Select(qualified("t", taskColumns)...).
		From("workflow_tasks t").
		Join("workflow_task_dependencies d ON d.dependant_task_id = t.id").
		Where(sq.Eq{"d.task_id": taskID, "t.status": string(models.StatusPending)}).
		Where(`NOT EXISTS (
			SELECT 1 FROM workflow_task_dependencies up
			JOIN workflow_tasks u ON u.id = up.task_id
			WHERE up.dependant_task_id = t.id AND u.status <> ?
		)`, string(models.StatusCompleted)).
		OrderBy("t.id"))
}

func (t *Tx) LockWorkflow(ctx context.Context, id int64) error {
	if !t.dialect.LockRows {
		return nil
	}

	statement, args, err := t.sb.Select("id").From("workflows").Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return fmt.Errorf("failed to build workflow lock: %w", err)
	}

	var locked []int64

	err = sqlscan.Select(ctx, t.tx, &locked, statement, args...)
	if err != nil {
		return persistence.NewWorkflowError("LockWorkflow", id, err)
	}

	if len(locked) == 0 {
		return persistence.NewWorkflowError("LockWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (t *Tx) TransitionWorkflow(ctx context.Context, id int64, from, to models.RunStatus, now time.Time) (bool, error) {
	return t.transition(ctx, "workflows", id, from, to, now)
}

func (t *Tx) TransitionTask(ctx context.Context, id int64, from, to models.RunStatus, now time.Time) (bool, error) {
	return t.transition(ctx, "workflow_tasks", id, from, to, now)
}

func (t *Tx) TransitionStep(ctx context.Context, id int64, from, to models.RunStatus, now time.Time) (bool, error) {
	return t.transition(ctx, "workflow_task_steps", id, from, to, now)
}

func (t *Tx) MarkTaskStarted(ctx context.Context, id int64, now time.Time) error {
	return t.markStarted(ctx, "workflow_tasks", id, now)
}

func (t *Tx) MarkWorkflowStarted(ctx context.Context, id int64, now time.Time) error {
	return t.markStarted(ctx, "workflows", id, now)
}

func (t *Tx) CompleteWorkflowIfSettled(ctx context.Context, id int64, now time.Time) (bool, error) {
	update := t.sb.Update("workflows").
		SetMap(models.TransitionColumns(models.StatusCompleted, now)).
		Where(sq.Eq{"id": id, "status": string(models.StatusPending)}).
		Where("NOT EXISTS (SELECT 1 FROM workflow_tasks WHERE workflow_id = ? AND status <> ?)",
			id, string(models.StatusCompleted))

	return t.affected(ctx, update, "complete workflow")
}

func (t *Tx) CancelPendingTasks(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	return t.rowsAffected(ctx, t.sb.Update("workflow_tasks").
		SetMap(models.TransitionColumns(models.StatusCancelled, now)).
		Where(sq.Eq{"id": ids, "status": string(models.StatusPending)}), "cancel tasks")
}

func (t *Tx) CancelPendingSteps(ctx context.Context, taskIDs []int64, now time.Time) (int64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}

	return t.rowsAffected(ctx, t.sb.Update("workflow_task_steps").
		SetMap(models.TransitionColumns(models.StatusCancelled, now)).
		Where(sq.Eq{"task_id": taskIDs, "status": string(models.StatusPending)}), "cancel steps")
}

func (t *Tx) transition(ctx context.Context, table string, id int64, from, to models.RunStatus, now time.Time) (bool, error) {
	return t.affected(ctx, t.sb.Update(table).
		SetMap(models.TransitionColumns(to, now)).
		Where(sq.Eq{"id": id, "status": string(from)}), "transition "+table)
}

func (t *Tx) markStarted(ctx context.Context, table string, id int64, now time.Time) error {
	_, err := t.rowsAffected(ctx, t.sb.Update(table).
		Set("started_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "started_at": nil}), "mark started "+table)

	return err
}

func (t *Tx) steps(ctx context.Context, where sq.Sqlizer) ([]*models.Step, error) {
	statement, args, err := t.sb.Select(stepColumns...).
		From("workflow_task_steps").
		Where(where).
		OrderBy("task_id", `"order"`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build steps query: %w", err)
	}

	steps := make([]*models.Step, 0)

	err = sqlscan.Select(ctx, t.tx, &steps, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	return steps, nil
}

func (t *Tx) tasks(ctx context.Context, query sq.SelectBuilder) ([]*models.Task, error) {
	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build tasks query: %w", err)
	}

	tasks := make([]*models.Task, 0)

	err = sqlscan.Select(ctx, t.tx, &tasks, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	return tasks, nil
}

func (t *Tx) get(ctx context.Context, dst any, query sq.SelectBuilder) (bool, error) {
	statement, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build query: %w", err)
	}

	err = sqlscan.Get(ctx, t.tx, dst, statement, args...)
	if sqlscan.NotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

func (t *Tx) exec(ctx context.Context, query sq.Sqlizer, op string) error {
	_, err := t.rowsAffected(ctx, query, op)

	return err
}

func (t *Tx) affected(ctx context.Context, query sq.Sqlizer, op string) (bool, error) {
	count, err := t.rowsAffected(ctx, query, op)

	return count == 1, err
}

func (t *Tx) rowsAffected(ctx context.Context, query sq.Sqlizer, op string) (int64, error) {
	statement, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build %s: %w", op, err)
	}

	result, err := t.tx.ExecContext(ctx, statement, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}

	return count, nil
}
