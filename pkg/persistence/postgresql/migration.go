package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED')),
				started_at TIMESTAMP WITH TIME ZONE,
				failed_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_workflows_status ON workflows(status);

			CREATE TABLE workflow_tasks (
				id BIGSERIAL PRIMARY KEY,
				workflow_id BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED', 'CANCELLED')),
				started_at TIMESTAMP WITH TIME ZONE,
				failed_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (workflow_id, name)
			);

			CREATE INDEX idx_workflow_tasks_status ON workflow_tasks(workflow_id, status);

			CREATE TABLE workflow_task_steps (
				id BIGSERIAL PRIMARY KEY,
				task_id BIGINT NOT NULL REFERENCES workflow_tasks(id) ON DELETE CASCADE,
				workflow_id BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				"order" INTEGER NOT NULL CHECK ("order" > 0),
				class VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL
					CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED', 'CANCELLED')),
				started_at TIMESTAMP WITH TIME ZONE,
				failed_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				payload TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (task_id, "order")
			);

			CREATE INDEX idx_workflow_task_steps_workflow_id ON workflow_task_steps(workflow_id);

			CREATE TABLE workflow_task_dependencies (
				task_id BIGINT NOT NULL REFERENCES workflow_tasks(id) ON DELETE CASCADE,
				dependant_task_id BIGINT NOT NULL REFERENCES workflow_tasks(id) ON DELETE CASCADE,
				PRIMARY KEY (task_id, dependant_task_id)
			);

			CREATE INDEX idx_workflow_task_dependencies_dependant ON workflow_task_dependencies(dependant_task_id);
		`,
	}
}
