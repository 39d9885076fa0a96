package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorci/conveyor/pkg/models"
	"github.com/conveyorci/conveyor/pkg/persistence"
)

// RunRepository handles run, job and step database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Create persists the run with its jobs and steps in one transaction. The
// run number comes from the definition's run_counter via UPDATE ... RETURNING,
// so concurrent submissions serialize on the definition row and the sequence
// stays gap-free.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}

		run.ID = id.String()
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	err = tx.QueryRowContext(ctx,
		"UPDATE workflow_definitions SET run_counter = run_counter + 1 WHERE id = $1 RETURNING run_counter",
		run.DefinitionID,
	).Scan(&run.RunNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrDefinitionNotFound
		}

		return fmt.Errorf("failed to assign run number: %w", err)
	}

	payload, err := json.Marshal(orEmptyMap(run.Payload))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, definition_id, project_id, run_number, event, actor,
			commit_sha, ref, payload, status, conclusion, diagnostic,
			created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		run.ID,
		run.DefinitionID,
		run.ProjectID,
		run.RunNumber,
		string(run.Event),
		nullString(run.Actor),
		nullString(run.CommitSHA),
		nullString(run.Ref),
		payload,
		string(run.Status),
		nullString(string(run.Conclusion)),
		nullString(run.Diagnostic),
		run.CreatedAt,
		nullTime(run.StartedAt),
		nullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, job := range run.Jobs {
		job.RunID = run.ID

		if err := insertJob(ctx, tx, job); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

func insertJob(ctx context.Context, tx *sql.Tx, job *models.Job) error {
	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate job ID: %w", err)
		}

		job.ID = id.String()
	}

	needs, err := json.Marshal(orEmptySlice(job.Needs))
	if err != nil {
		return fmt.Errorf("failed to marshal needs: %w", err)
	}

	matrix, err := json.Marshal(orEmptyStringMap(job.Matrix))
	if err != nil {
		return fmt.Errorf("failed to marshal matrix: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (
			id, run_id, job_id, template_id, name, runs_on, needs, matrix,
			status, conclusion, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		job.ID,
		job.RunID,
		job.JobID,
		job.TemplateID,
		job.Name,
		nullString(job.RunsOn),
		needs,
		matrix,
		string(job.Status),
		nullString(string(job.Conclusion)),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.JobID, err)
	}

	for _, step := range job.Steps {
		step.JobID = job.ID

		if err := insertStep(ctx, tx, step); err != nil {
			return err
		}
	}

	return nil
}

func insertStep(ctx context.Context, tx *sql.Tx, step *models.Step) error {
	if step.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate step ID: %w", err)
		}

		step.ID = id.String()
	}

	with, err := json.Marshal(orEmptyMap(step.With))
	if err != nil {
		return fmt.Errorf("failed to marshal step params: %w", err)
	}

	env, err := json.Marshal(orEmptyStringMap(step.Env))
	if err != nil {
		return fmt.Errorf("failed to marshal step env: %w", err)
	}

	secrets, err := json.Marshal(orEmptySlice(step.Secrets))
	if err != nil {
		return fmt.Errorf("failed to marshal step secrets: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (
			id, job_id, number, name, run_command, uses, with_params,
			working_dir, env, condition, continue_on_error, timeout_ns,
			secrets, stdout, stderr, exit_code, status, conclusion,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		step.ID,
		step.JobID,
		step.Number,
		step.Name,
		nullString(step.Run),
		nullString(step.Uses),
		with,
		nullString(step.WorkingDir),
		env,
		step.Condition.String(),
		step.ContinueOnError,
		int64(step.Timeout),
		secrets,
		nullString(step.Stdout),
		nullString(step.Stderr),
		nullInt(step.ExitCode),
		string(step.Status),
		nullString(string(step.Conclusion)),
		nullTime(step.StartedAt),
		nullTime(step.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %d: %w", step.Number, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `
		SELECT
			id
		  , definition_id
		  , project_id
		  , run_number
		  , event
		  , actor
		  , commit_sha
		  , ref
		  , payload
		  , status
		  , conclusion
		  , diagnostic
		  , created_at
		  , started_at
		  , completed_at
		FROM runs
		WHERE id = $1
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, err
	}

	if err := r.loadJobs(ctx, run); err != nil {
		return nil, err
	}

	return run, nil
}

func (r *RunRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*models.Run, error) {
	query := `
		SELECT
			id
		  , definition_id
		  , project_id
		  , run_number
		  , event
		  , actor
		  , commit_sha
		  , ref
		  , payload
		  , status
		  , conclusion
		  , diagnostic
		  , created_at
		  , started_at
		  , completed_at
		FROM runs
		WHERE definition_id = $1
		ORDER BY run_number DESC
	`

	rows, err := r.db.QueryContext(ctx, query, definitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	for _, run := range runs {
		if err := r.loadJobs(ctx, run); err != nil {
			return nil, err
		}
	}

	return runs, nil
}

func (r *RunRepository) loadJobs(ctx context.Context, run *models.Run) error {
	query := `
		SELECT
			id
		  , run_id
		  , job_id
		  , template_id
		  , name
		  , runs_on
		  , needs
		  , matrix
		  , status
		  , conclusion
		  , started_at
		  , completed_at
		FROM jobs
		WHERE run_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, run.ID)
	if err != nil {
		return fmt.Errorf("failed to query jobs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	run.Jobs = make([]*models.Job, 0)

	for rows.Next() {
		var (
			job        models.Job
			runsOn     sql.NullString
			needs      []byte
			matrix     []byte
			conclusion sql.NullString
			startedAt  sql.NullTime
			completed  sql.NullTime
		)

		err := rows.Scan(
			&job.ID, &job.RunID, &job.JobID, &job.TemplateID, &job.Name,
			&runsOn, &needs, &matrix, &job.Status, &conclusion, &startedAt, &completed,
		)
		if err != nil {
			return fmt.Errorf("failed to scan job: %w", err)
		}

		if err := json.Unmarshal(needs, &job.Needs); err != nil {
			return fmt.Errorf("failed to unmarshal needs: %w", err)
		}

		if err := json.Unmarshal(matrix, &job.Matrix); err != nil {
			return fmt.Errorf("failed to unmarshal matrix: %w", err)
		}

		job.RunsOn = runsOn.String
		job.Conclusion = models.Conclusion(conclusion.String)
		job.StartedAt = timePtr(startedAt)
		job.CompletedAt = timePtr(completed)

		run.Jobs = append(run.Jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating jobs: %w", err)
	}

	for _, job := range run.Jobs {
		if err := r.loadSteps(ctx, job); err != nil {
			return err
		}
	}

	return nil
}

func (r *RunRepository) loadSteps(ctx context.Context, job *models.Job) error {
	query := `
		SELECT
			id
		  , job_id
		  , number
		  , name
		  , run_command
		  , uses
		  , with_params
		  , working_dir
		  , env
		  , condition
		  , continue_on_error
		  , timeout_ns
		  , secrets
		  , stdout
		  , stderr
		  , exit_code
		  , status
		  , conclusion
		  , started_at
		  , completed_at
		FROM steps
		WHERE job_id = $1
		ORDER BY number
	`

	rows, err := r.db.QueryContext(ctx, query, job.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	job.Steps = make([]*models.Step, 0)

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return err
		}

		job.Steps = append(job.Steps, step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	return nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run        models.Run
		actor      sql.NullString
		commitSHA  sql.NullString
		ref        sql.NullString
		payload    []byte
		conclusion sql.NullString
		diagnostic sql.NullString
		startedAt  sql.NullTime
		completed  sql.NullTime
	)

	err := row.Scan(
		&run.ID, &run.DefinitionID, &run.ProjectID, &run.RunNumber,
		&run.Event, &actor, &commitSHA, &ref, &payload, &run.Status,
		&conclusion, &diagnostic, &run.CreatedAt, &startedAt, &completed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if err := json.Unmarshal(payload, &run.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	run.Actor = actor.String
	run.CommitSHA = commitSHA.String
	run.Ref = ref.String
	run.Conclusion = models.Conclusion(conclusion.String)
	run.Diagnostic = diagnostic.String
	run.StartedAt = timePtr(startedAt)
	run.CompletedAt = timePtr(completed)

	return &run, nil
}

func scanStep(row rowScanner) (*models.Step, error) {
	var (
		step       models.Step
		runCmd     sql.NullString
		uses       sql.NullString
		with       []byte
		workingDir sql.NullString
		env        []byte
		condition  string
		timeoutNS  int64
		secrets    []byte
		stdout     sql.NullString
		stderr     sql.NullString
		exitCode   sql.NullInt64
		conclusion sql.NullString
		startedAt  sql.NullTime
		completed  sql.NullTime
	)

	err := row.Scan(
		&step.ID, &step.JobID, &step.Number, &step.Name, &runCmd, &uses,
		&with, &workingDir, &env, &condition, &step.ContinueOnError,
		&timeoutNS, &secrets, &stdout, &stderr, &exitCode, &step.Status,
		&conclusion, &startedAt, &completed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan step: %w", err)
	}

	if err := json.Unmarshal(with, &step.With); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step params: %w", err)
	}

	if err := json.Unmarshal(env, &step.Env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step env: %w", err)
	}

	if err := json.Unmarshal(secrets, &step.Secrets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal step secrets: %w", err)
	}

	step.Run = runCmd.String
	step.Uses = uses.String
	step.WorkingDir = workingDir.String
	step.Condition = models.ParseCondition(condition)
	step.Timeout = time.Duration(timeoutNS)
	step.Stdout = stdout.String
	step.Stderr = stderr.String
	step.Conclusion = models.Conclusion(conclusion.String)
	step.StartedAt = timePtr(startedAt)
	step.CompletedAt = timePtr(completed)

	if exitCode.Valid {
		code := int(exitCode.Int64)
		step.ExitCode = &code
	}

	return &step, nil
}

func (r *RunRepository) UpdateRun(ctx context.Context, run *models.Run) error {
	query := `
		UPDATE runs
		SET status = $2,
			conclusion = $3,
			diagnostic = $4,
			started_at = $5,
			completed_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		run.ID,
		string(run.Status),
		nullString(string(run.Conclusion)),
		nullString(run.Diagnostic),
		nullTime(run.StartedAt),
		nullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return checkAffected(result, persistence.ErrRunNotFound)
}

func (r *RunRepository) UpdateJob(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs
		SET status = $2,
			conclusion = $3,
			started_at = $4,
			completed_at = $5
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		job.ID,
		string(job.Status),
		nullString(string(job.Conclusion)),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return checkAffected(result, persistence.ErrJobNotFound)
}

func (r *RunRepository) UpdateStep(ctx context.Context, step *models.Step) error {
	query := `
		UPDATE steps
		SET stdout = $2,
			stderr = $3,
			exit_code = $4,
			status = $5,
			conclusion = $6,
			started_at = $7,
			completed_at = $8
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		step.ID,
		nullString(step.Stdout),
		nullString(step.Stderr),
		nullInt(step.ExitCode),
		string(step.Status),
		nullString(string(step.Conclusion)),
		nullTime(step.StartedAt),
		nullTime(step.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}

	return checkAffected(result, persistence.ErrStepNotFound)
}

func checkAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}

func orEmptyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}

	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}
