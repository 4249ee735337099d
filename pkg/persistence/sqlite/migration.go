package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED')),
				started_at TIMESTAMP,
				failed_at TIMESTAMP,
				completed_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX idx_workflows_status ON workflows(status);

			CREATE TABLE workflow_tasks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				workflow_id INTEGER NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED', 'CANCELLED')),
				started_at TIMESTAMP,
				failed_at TIMESTAMP,
				completed_at TIMESTAMP,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (workflow_id, name)
			);

			CREATE INDEX idx_workflow_tasks_status ON workflow_tasks(workflow_id, status);

			CREATE TABLE workflow_task_steps (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				task_id INTEGER NOT NULL REFERENCES workflow_tasks(id) ON DELETE CASCADE,
				workflow_id INTEGER NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				"order" INTEGER NOT NULL CHECK ("order" > 0),
				class TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED', 'CANCELLED')),
				started_at TIMESTAMP,
				failed_at TIMESTAMP,
				completed_at TIMESTAMP,
				payload TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (task_id, "order")
			);

			CREATE INDEX idx_workflow_task_steps_workflow_id ON workflow_task_steps(workflow_id);

			CREATE TABLE workflow_task_dependencies (
				task_id INTEGER NOT NULL REFERENCES workflow_tasks(id) ON DELETE CASCADE,
				dependant_task_id INTEGER NOT NULL REFERENCES workflow_tasks(id) ON DELETE CASCADE,
				PRIMARY KEY (task_id, dependant_task_id)
			) WITHOUT ROWID;

			CREATE INDEX idx_workflow_task_dependencies_dependant ON workflow_task_dependencies(dependant_task_id);
		`,
	}
}
