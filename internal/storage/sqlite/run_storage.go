package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// RunStorage handles extraction run persistence.
type RunStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewRunStorage creates a new run storage instance.
func NewRunStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{db: db, logger: logger}
}

const runColumns = `
	id, tenant_id, version_id, extractor_name, extractor_version, status,
	started_at, completed_at, artifact_path, profile, level, process_context,
	schema_version, vocabulary_version, claim_count, metric_count,
	constraint_count, risk_count, warnings, error_message, created_at`

// CreateRun inserts a run. The partial unique index rejects a second active
// fact run for the same (version, profile, process_context, level) slot,
// which surfaces here as ErrActiveRunExists.
func (r *RunStorage) CreateRun(ctx context.Context, run *models.ExtractionRun) error {
	warnings, err := marshalJSON(run.Warnings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO extraction_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.db.ExecContext(ctx, query,
		run.ID, run.TenantID, run.VersionID,
		run.ExtractorName, nullStr(run.ExtractorVersion), string(run.Status),
		millisPtr(run.StartedAt), millisPtr(run.CompletedAt), nullStr(run.ArtifactPath),
		string(run.Profile), run.Level, run.ProcessContext,
		nullStr(run.SchemaVersion), nullStr(run.VocabularyVersion),
		run.ClaimCount, run.MetricCount, run.ConstraintCount, run.RiskCount,
		warnings, nullStr(run.ErrorMessage), millis(run.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrActiveRunExists
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	r.logger.Debug().
		Str("run_id", run.ID).
		Str("version_id", run.VersionID).
		Str("extractor", run.ExtractorName).
		Msg("Extraction run created")
	return nil
}

// GetRun fetches a run within the tenant scope.
func (r *RunStorage) GetRun(ctx context.Context, tenantID, runID string) (*models.ExtractionRun, error) {
	row := r.db.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM extraction_runs WHERE id = ? AND tenant_id = ?`,
		runID, tenantID)
	return scanRun(row.Scan)
}

// UpdateRun persists run status, timing, and counts.
func (r *RunStorage) UpdateRun(ctx context.Context, run *models.ExtractionRun) error {
	warnings, err := marshalJSON(run.Warnings)
	if err != nil {
		return err
	}

	result, err := r.db.db.ExecContext(ctx, `
		UPDATE extraction_runs SET
			status = ?, started_at = ?, completed_at = ?, artifact_path = ?,
			schema_version = ?, vocabulary_version = ?,
			claim_count = ?, metric_count = ?, constraint_count = ?, risk_count = ?,
			warnings = ?, error_message = ?
		WHERE id = ? AND tenant_id = ?`,
		string(run.Status), millisPtr(run.StartedAt), millisPtr(run.CompletedAt),
		nullStr(run.ArtifactPath),
		nullStr(run.SchemaVersion), nullStr(run.VocabularyVersion),
		run.ClaimCount, run.MetricCount, run.ConstraintCount, run.RiskCount,
		warnings, nullStr(run.ErrorMessage),
		run.ID, run.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return requireRow(result)
}

// ListRunsByVersion returns a version's runs, newest first.
func (r *RunStorage) ListRunsByVersion(ctx context.Context, tenantID, versionID string) ([]*models.ExtractionRun, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM extraction_runs
		WHERE version_id = ? AND tenant_id = ?
		ORDER BY created_at DESC`,
		versionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ExtractionRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetLatestCompletedRun returns the most recent completed fact run for the
// exact (profile, process_context, level) scope.
func (r *RunStorage) GetLatestCompletedRun(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, level int) (*models.ExtractionRun, error) {
	row := r.db.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM extraction_runs
		WHERE version_id = ? AND tenant_id = ? AND profile = ?
		  AND process_context = ? AND level = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`,
		versionID, tenantID, string(profile), processContext, level,
		string(models.RunStatusCompleted))
	return scanRun(row.Scan)
}

// GetMaxCompletedLevel returns the highest completed extraction level for the
// scope, or 0 when nothing completed. Level upgrades must move above this.
func (r *RunStorage) GetMaxCompletedLevel(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string) (int, error) {
	var level sql.NullInt64
	err := r.db.db.QueryRowContext(ctx, `
		SELECT MAX(level) FROM extraction_runs
		WHERE version_id = ? AND tenant_id = ? AND profile = ?
		  AND process_context = ? AND status = ?`,
		versionID, tenantID, string(profile), processContext,
		string(models.RunStatusCompleted)).Scan(&level)
	if err != nil {
		return 0, fmt.Errorf("failed to get max completed level: %w", err)
	}
	if !level.Valid {
		return 0, nil
	}
	return int(level.Int64), nil
}

// DeleteRunsByDocument removes all runs for a document. Deletion protocol
// level 6; facts referencing the runs are already gone.
func (r *RunStorage) DeleteRunsByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	result, err := r.db.db.ExecContext(ctx,
		`DELETE FROM extraction_runs WHERE tenant_id = ? AND version_id IN `+versionScope,
		tenantID, documentID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}

// FailStaleRuns fails active runs created before the cutoff, releasing their
// uniqueness slots. Crash recovery; a healthy run finishes long before the
// threshold.
func (r *RunStorage) FailStaleRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.db.ExecContext(ctx, `
		UPDATE extraction_runs SET
			status = ?, completed_at = ?, error_message = 'run abandoned: exceeded stale threshold'
		WHERE status IN (?, ?) AND created_at < ?`,
		string(models.RunStatusFailed), millis(time.Now().UTC()),
		string(models.RunStatusQueued), string(models.RunStatusRunning),
		millis(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale runs: %w", err)
	}
	return result.RowsAffected()
}

func scanRun(scan func(...interface{}) error) (*models.ExtractionRun, error) {
	var run models.ExtractionRun
	var extractorVersion, artifactPath, schemaVersion, vocabVersion sql.NullString
	var warnings, errorMessage sql.NullString
	var startedAt, completedAt sql.NullInt64
	var createdAt int64

	err := scan(
		&run.ID, &run.TenantID, &run.VersionID,
		&run.ExtractorName, &extractorVersion, &run.Status,
		&startedAt, &completedAt, &artifactPath,
		&run.Profile, &run.Level, &run.ProcessContext,
		&schemaVersion, &vocabVersion,
		&run.ClaimCount, &run.MetricCount, &run.ConstraintCount, &run.RiskCount,
		&warnings, &errorMessage, &createdAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.ExtractorVersion = strValue(extractorVersion)
	run.ArtifactPath = strValue(artifactPath)
	run.SchemaVersion = strValue(schemaVersion)
	run.VocabularyVersion = strValue(vocabVersion)
	run.ErrorMessage = strValue(errorMessage)
	if err := unmarshalJSON(warnings, &run.Warnings); err != nil {
		return nil, err
	}
	run.StartedAt = timePtrFromMillis(startedAt)
	run.CompletedAt = timePtrFromMillis(completedAt)
	run.CreatedAt = timeFromMillis(createdAt)
	return &run, nil
}
