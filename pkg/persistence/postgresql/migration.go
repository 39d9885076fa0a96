package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id UUID PRIMARY KEY,
				project_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				spec JSONB NOT NULL DEFAULT '{}',
				events JSONB NOT NULL DEFAULT '[]',
				schedule VARCHAR(255),
				enabled BOOLEAN NOT NULL DEFAULT true,
				total_runs BIGINT NOT NULL DEFAULT 0,
				successful_runs BIGINT NOT NULL DEFAULT 0,
				failed_runs BIGINT NOT NULL DEFAULT 0,
				last_run_status VARCHAR(50),
				run_counter BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_workflow_definitions_identity ON workflow_definitions(project_id, name);
			CREATE INDEX idx_workflow_definitions_enabled ON workflow_definitions(enabled);

			CREATE TABLE runs (
				id UUID PRIMARY KEY,
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				project_id VARCHAR(255) NOT NULL,
				run_number BIGINT NOT NULL,
				event VARCHAR(50) NOT NULL,
				actor VARCHAR(255),
				commit_sha VARCHAR(255),
				ref VARCHAR(255),
				payload JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL,
				conclusion VARCHAR(50),
				diagnostic TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_runs_definition_number ON runs(definition_id, run_number);
			CREATE INDEX idx_runs_status ON runs(status);
			CREATE INDEX idx_runs_created_at ON runs(created_at);

			CREATE TABLE jobs (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				job_id VARCHAR(255) NOT NULL,
				template_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				runs_on VARCHAR(255),
				needs JSONB NOT NULL DEFAULT '[]',
				matrix JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL,
				conclusion VARCHAR(50),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_jobs_run_job ON jobs(run_id, job_id);
			CREATE INDEX idx_jobs_status ON jobs(status);

			CREATE TABLE steps (
				id UUID PRIMARY KEY,
				job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				number INT NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				run_command TEXT,
				uses VARCHAR(255),
				with_params JSONB NOT NULL DEFAULT '{}',
				working_dir VARCHAR(1024),
				env JSONB NOT NULL DEFAULT '{}',
				condition VARCHAR(1024) NOT NULL DEFAULT '',
				continue_on_error BOOLEAN NOT NULL DEFAULT false,
				timeout_ns BIGINT NOT NULL DEFAULT 0,
				secrets JSONB NOT NULL DEFAULT '[]',
				stdout TEXT,
				stderr TEXT,
				exit_code INT,
				status VARCHAR(50) NOT NULL,
				conclusion VARCHAR(50),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_steps_job_number ON steps(job_id, number);

			CREATE TABLE secrets (
				id UUID PRIMARY KEY,
				scope VARCHAR(50) NOT NULL,
				scope_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				ciphertext BYTEA NOT NULL,
				created_by VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_used_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_secrets_identity ON secrets(scope, scope_id, name);

			CREATE TABLE artifacts (
				id UUID PRIMARY KEY,
				run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				size_bytes BIGINT NOT NULL DEFAULT 0,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_artifacts_run_name ON artifacts(run_id, name);
			CREATE INDEX idx_artifacts_expires_at ON artifacts(expires_at);
		`,
	}
}
