package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// JobStorage handles job row persistence. The row is authoritative; queue
// messages carry only the job id.
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewJobStorage creates a new job storage instance.
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

const jobColumns = `
	id, tenant_id, type, status, priority, payload, result, error,
	attempts, max_attempts, progress, progress_message, worker_id,
	queue_message_id, cancel_requested, created_at, started_at, finished_at`

// CreateJob inserts a job row.
func (j *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	payload, err := marshalJSON(job.Payload)
	if err != nil {
		return err
	}
	result, err := marshalJSON(job.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = j.db.db.ExecContext(ctx, query,
		job.ID, job.TenantID, job.Type, string(job.Status), job.Priority,
		payload, result, nullStr(job.Error),
		job.Attempts, job.MaxAttempts, job.Progress, nullStr(job.ProgressMessage),
		nullStr(job.WorkerID), nullStr(job.QueueMessageID), job.CancelRequested,
		millis(job.CreatedAt), millisPtr(job.StartedAt), millisPtr(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	j.logger.Debug().
		Str("job_id", job.ID).
		Str("type", job.Type).
		Str("tenant_id", job.TenantID).
		Msg("Job created")
	return nil
}

// GetJob fetches a job within the tenant scope.
func (j *JobStorage) GetJob(ctx context.Context, tenantID, jobID string) (*models.Job, error) {
	row := j.db.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND tenant_id = ?`,
		jobID, tenantID)
	return scanJob(row.Scan)
}

// GetJobAny fetches a job without tenant scoping. Workers resolve queue
// messages with this; handlers never call it.
func (j *JobStorage) GetJobAny(ctx context.Context, jobID string) (*models.Job, error) {
	row := j.db.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row.Scan)
}

// ClaimJob atomically transitions a queued or retrying job to running under
// this worker. Zero rows affected means another delivery won the claim.
// Callers treat ErrInvalidTransition as "skip".
func (j *JobStorage) ClaimJob(ctx context.Context, jobID, workerID string) (*models.Job, error) {
	result, err := j.db.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, worker_id = ?, attempts = attempts + 1, started_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.JobStatusRunning), workerID, millis(time.Now().UTC()),
		jobID, string(models.JobStatusQueued), string(models.JobStatusRetrying))
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, getErr := j.GetJobAny(ctx, jobID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: job %s not claimable", interfaces.ErrInvalidTransition, jobID)
	}
	return j.GetJobAny(ctx, jobID)
}

// UpdateJob persists job state.
func (j *JobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	payload, err := marshalJSON(job.Payload)
	if err != nil {
		return err
	}
	result, err := marshalJSON(job.Result)
	if err != nil {
		return err
	}

	res, err := j.db.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, priority = ?, payload = ?, result = ?, error = ?,
			attempts = ?, max_attempts = ?, progress = ?, progress_message = ?,
			worker_id = ?, queue_message_id = ?, cancel_requested = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?`,
		string(job.Status), job.Priority, payload, result, nullStr(job.Error),
		job.Attempts, job.MaxAttempts, job.Progress, nullStr(job.ProgressMessage),
		nullStr(job.WorkerID), nullStr(job.QueueMessageID), job.CancelRequested,
		millisPtr(job.StartedAt), millisPtr(job.FinishedAt),
		job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return requireRow(res)
}

// ListJobs returns a filtered, paginated page of the tenant's jobs, newest
// first.
func (j *JobStorage) ListJobs(ctx context.Context, tenantID string, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	where, args := jobFilter(tenantID, opts)
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE ` + where + ` ORDER BY created_at DESC`

	limit, offset := 50, 0
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Offset > 0 {
			offset = opts.Offset
		}
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := j.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobs returns the filtered total for pagination.
func (j *JobStorage) CountJobs(ctx context.Context, tenantID string, opts *interfaces.JobListOptions) (int, error) {
	where, args := jobFilter(tenantID, opts)
	var count int
	err := j.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE `+where, args...).Scan(&count)
	return count, err
}

func jobFilter(tenantID string, opts *interfaces.JobListOptions) (string, []interface{}) {
	clauses := []string{"tenant_id = ?"}
	args := []interface{}{tenantID}
	if opts != nil {
		if opts.Status != "" {
			clauses = append(clauses, "status = ?")
			args = append(args, string(opts.Status))
		}
		if opts.Type != "" {
			clauses = append(clauses, "type = ?")
			args = append(args, opts.Type)
		}
	}
	return strings.Join(clauses, " AND "), args
}

// CancelJob flips a non-terminal job to canceled and raises the cooperative
// flag. Terminal jobs are left alone and reported ErrInvalidTransition.
func (j *JobStorage) CancelJob(ctx context.Context, tenantID, jobID string) error {
	result, err := j.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, cancel_requested = 1, finished_at = ?
		WHERE id = ? AND tenant_id = ? AND status IN (?, ?, ?)`,
		string(models.JobStatusCanceled), millis(time.Now().UTC()),
		jobID, tenantID,
		string(models.JobStatusQueued), string(models.JobStatusRunning),
		string(models.JobStatusRetrying))
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := j.GetJob(ctx, tenantID, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job %s is terminal", interfaces.ErrInvalidTransition, jobID)
	}
	return nil
}

// DeleteJob removes a terminal job row. Live jobs must be canceled first.
func (j *JobStorage) DeleteJob(ctx context.Context, tenantID, jobID string) error {
	result, err := j.db.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id = ? AND tenant_id = ? AND status IN (?, ?, ?)`,
		jobID, tenantID,
		string(models.JobStatusSucceeded), string(models.JobStatusFailed),
		string(models.JobStatusCanceled))
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := j.GetJob(ctx, tenantID, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job %s is not terminal", interfaces.ErrInvalidTransition, jobID)
	}
	return nil
}

// FinishJob finalizes a running job. The status guard keeps a slow handler
// from overwriting a cancellation: terminal states never transition again.
func (j *JobStorage) FinishJob(ctx context.Context, jobID string, status models.JobStatus, result map[string]interface{}, errMsg string) error {
	resultJSON, err := marshalJSON(result)
	if err != nil {
		return err
	}

	var finishedAt interface{}
	if status.Terminal() {
		finishedAt = millis(time.Now().UTC())
	}

	res, err := j.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result = ?, error = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		string(status), resultJSON, nullStr(errMsg), finishedAt,
		jobID, string(models.JobStatusRunning))
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := j.GetJobAny(ctx, jobID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job %s is not running", interfaces.ErrInvalidTransition, jobID)
	}
	return nil
}

// UpdateJobProgress records handler progress. Progress for a job that is no
// longer running is dropped, not an error; handlers report past their own
// cancellation without noise.
func (j *JobStorage) UpdateJobProgress(ctx context.Context, jobID string, progress int, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := j.db.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, progress_message = ?
		WHERE id = ? AND status = ?`,
		progress, nullStr(message), jobID, string(models.JobStatusRunning))
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// CountJobsByStatus returns the tenant's job counts grouped by status.
func (j *JobStorage) CountJobsByStatus(ctx context.Context, tenantID string) (map[models.JobStatus]int, error) {
	rows, err := j.db.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE tenant_id = ? GROUP BY status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

// FailStaleJobs fails running jobs whose start predates the cutoff. Crash
// recovery for workers that died mid-job.
func (j *JobStorage) FailStaleJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := j.db.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = 'job abandoned: worker stopped reporting', finished_at = ?
		WHERE status = ? AND started_at < ?`,
		string(models.JobStatusFailed), millis(time.Now().UTC()),
		string(models.JobStatusRunning), millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	return result.RowsAffected()
}

// DeleteFinishedBefore purges terminal jobs older than the cutoff.
func (j *JobStorage) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := j.db.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status IN (?, ?, ?) AND finished_at < ?`,
		string(models.JobStatusSucceeded), string(models.JobStatusFailed),
		string(models.JobStatusCanceled), millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return result.RowsAffected()
}

func scanJob(scan func(...interface{}) error) (*models.Job, error) {
	var job models.Job
	var payload, result, errMsg, progressMessage, workerID, queueMessageID sql.NullString
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64

	err := scan(
		&job.ID, &job.TenantID, &job.Type, &job.Status, &job.Priority,
		&payload, &result, &errMsg,
		&job.Attempts, &job.MaxAttempts, &job.Progress, &progressMessage,
		&workerID, &queueMessageID, &job.CancelRequested,
		&createdAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(payload, &job.Payload); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(result, &job.Result); err != nil {
		return nil, err
	}
	job.Error = strValue(errMsg)
	job.ProgressMessage = strValue(progressMessage)
	job.WorkerID = strValue(workerID)
	job.QueueMessageID = strValue(queueMessageID)
	job.CreatedAt = timeFromMillis(createdAt)
	job.StartedAt = timePtrFromMillis(startedAt)
	job.FinishedAt = timePtrFromMillis(finishedAt)
	return &job, nil
}
