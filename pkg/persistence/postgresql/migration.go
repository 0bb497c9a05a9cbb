package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				company_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				trigger_type VARCHAR(50) NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_company_trigger ON workflows(company_id, trigger_type) WHERE active;

			CREATE TABLE workflow_runs (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				company_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('queued', 'running', 'completed', 'failed')),
				trigger_type VARCHAR(50) NOT NULL,
				trigger_payload JSONB NOT NULL DEFAULT '{}',
				definition JSONB NOT NULL,
				current_node_id VARCHAR(255),
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_runs_status_created_at ON workflow_runs(status, created_at);
			CREATE INDEX idx_workflow_runs_workflow_id ON workflow_runs(workflow_id);

			CREATE TABLE workflow_run_steps (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				position INT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'skipped')),
				attempt INT NOT NULL DEFAULT 0,
				output JSONB,
				error_message TEXT,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (run_id, node_id)
			);

			CREATE INDEX idx_workflow_run_steps_run_status ON workflow_run_steps(run_id, status);
		`,
		2: `
			CREATE TABLE integration_connections (
				provider VARCHAR(50) NOT NULL,
				external_account_id VARCHAR(255) NOT NULL,
				company_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (provider, external_account_id)
			);

			CREATE INDEX idx_integration_connections_company ON integration_connections(company_id);
		`,
		3: `
			ALTER TABLE workflow_runs ADD COLUMN updated_at TIMESTAMP WITH TIME ZONE;
			UPDATE workflow_runs SET updated_at = COALESCE(finished_at, started_at, created_at);
			ALTER TABLE workflow_runs ALTER COLUMN updated_at SET NOT NULL;

			DROP INDEX idx_workflow_runs_status_created_at;
			CREATE INDEX idx_workflow_runs_status_updated_at ON workflow_runs(status, updated_at);
		`,
	}
}
