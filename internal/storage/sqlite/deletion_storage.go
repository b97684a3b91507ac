package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// DeletionStorage handles deletion protocol task persistence.
type DeletionStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewDeletionStorage creates a new deletion storage instance.
func NewDeletionStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.DeletionStorage {
	return &DeletionStorage{db: db, logger: logger}
}

// CreateTasks inserts a document's deletion plan in one transaction.
func (d *DeletionStorage) CreateTasks(ctx context.Context, tasks []*models.DeletionTask) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := d.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deletion_tasks
			(id, tenant_id, document_id, task_type, resource_id, processing_order,
			 status, retry_count, max_retries, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, task := range tasks {
		var documentID interface{}
		if task.DocumentID != nil {
			documentID = *task.DocumentID
		}
		_, err = stmt.ExecContext(ctx,
			task.ID, task.TenantID, documentID,
			string(task.TaskType), nullStr(task.ResourceID), task.ProcessingOrder,
			string(task.Status), task.RetryCount, task.MaxRetries,
			nullStr(task.Error), millis(task.CreatedAt), millisPtr(task.CompletedAt))
		if err != nil {
			return fmt.Errorf("failed to create deletion task: %w", err)
		}
	}
	return tx.Commit()
}

// ListTasksByDocument returns a document's deletion tasks ordered by
// protocol level.
func (d *DeletionStorage) ListTasksByDocument(ctx context.Context, tenantID, documentID string) ([]*models.DeletionTask, error) {
	rows, err := d.db.db.QueryContext(ctx, `
		SELECT id, tenant_id, document_id, task_type, resource_id, processing_order,
			status, retry_count, max_retries, error, created_at, completed_at
		FROM deletion_tasks
		WHERE document_id = ? AND tenant_id = ?
		ORDER BY processing_order ASC, task_type ASC`,
		documentID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deletion tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.DeletionTask
	for rows.Next() {
		var task models.DeletionTask
		var docID, resourceID, errMsg sql.NullString
		var createdAt int64
		var completedAt sql.NullInt64
		err := rows.Scan(&task.ID, &task.TenantID, &docID, &task.TaskType,
			&resourceID, &task.ProcessingOrder, &task.Status,
			&task.RetryCount, &task.MaxRetries, &errMsg, &createdAt, &completedAt)
		if err != nil {
			return nil, err
		}
		if docID.Valid {
			id := docID.String
			task.DocumentID = &id
		}
		task.ResourceID = strValue(resourceID)
		task.Error = strValue(errMsg)
		task.CreatedAt = timeFromMillis(createdAt)
		task.CompletedAt = timePtrFromMillis(completedAt)
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// DetachTasks clears the document reference on a document's tasks. The rows
// survive as the audit trail of the protocol.
func (d *DeletionStorage) DetachTasks(ctx context.Context, tenantID, documentID string) (int64, error) {
	result, err := d.db.db.ExecContext(ctx, `
		UPDATE deletion_tasks SET document_id = NULL
		WHERE document_id = ? AND tenant_id = ?`,
		documentID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to detach deletion tasks: %w", err)
	}
	return result.RowsAffected()
}

// UpdateTask persists one task's progress.
func (d *DeletionStorage) UpdateTask(ctx context.Context, task *models.DeletionTask) error {
	result, err := d.db.db.ExecContext(ctx, `
		UPDATE deletion_tasks SET
			status = ?, retry_count = ?, error = ?, completed_at = ?
		WHERE id = ? AND tenant_id = ?`,
		string(task.Status), task.RetryCount, nullStr(task.Error),
		millisPtr(task.CompletedAt),
		task.ID, task.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update deletion task: %w", err)
	}
	return requireRow(result)
}
