package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// QualityStorage handles conflict and open question persistence.
type QualityStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewQualityStorage creates a new quality storage instance.
func NewQualityStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.QualityStorage {
	return &QualityStorage{db: db, logger: logger}
}

// UpsertConflicts inserts conflicts, silently skipping rows whose
// (version_id, content_key) already exists. Re-running the analyzer over
// unchanged facts therefore inserts nothing.
func (q *QualityStorage) UpsertConflicts(ctx context.Context, conflicts []*models.Conflict) (int, error) {
	if len(conflicts) == 0 {
		return 0, nil
	}

	tx, err := q.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conflicts
			(id, tenant_id, version_id, content_key, conflict_type, severity, reason, fact_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version_id, content_key) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, conflict := range conflicts {
		factIDs, err := marshalJSON(conflict.FactIDs)
		if err != nil {
			return 0, err
		}
		result, err := stmt.ExecContext(ctx,
			conflict.ID, conflict.TenantID, conflict.VersionID, conflict.ContentKey,
			string(conflict.ConflictType), string(conflict.Severity), conflict.Reason,
			factIDs, millis(conflict.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to upsert conflict: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// UpsertOpenQuestions inserts open questions with the same content-key
// deduplication as conflicts.
func (q *QualityStorage) UpsertOpenQuestions(ctx context.Context, questions []*models.OpenQuestion) (int, error) {
	if len(questions) == 0 {
		return 0, nil
	}

	tx, err := q.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO open_questions
			(id, tenant_id, version_id, content_key, category, question, fact_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version_id, content_key) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, question := range questions {
		factIDs, err := marshalJSON(question.FactIDs)
		if err != nil {
			return 0, err
		}
		result, err := stmt.ExecContext(ctx,
			question.ID, question.TenantID, question.VersionID, question.ContentKey,
			string(question.Category), question.Question, factIDs,
			millis(question.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to upsert open question: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListConflictsByVersion returns a version's conflicts.
func (q *QualityStorage) ListConflictsByVersion(ctx context.Context, tenantID, versionID string) ([]*models.Conflict, error) {
	rows, err := q.db.db.QueryContext(ctx, `
		SELECT id, tenant_id, version_id, content_key, conflict_type, severity, reason, fact_ids, created_at
		FROM conflicts WHERE version_id = ? AND tenant_id = ?
		ORDER BY created_at ASC, id ASC`,
		versionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		var c models.Conflict
		var factIDs sql.NullString
		var createdAt int64
		err := rows.Scan(&c.ID, &c.TenantID, &c.VersionID, &c.ContentKey,
			&c.ConflictType, &c.Severity, &c.Reason, &factIDs, &createdAt)
		if err != nil {
			return nil, err
		}
		if err := unmarshalJSON(factIDs, &c.FactIDs); err != nil {
			return nil, err
		}
		c.CreatedAt = timeFromMillis(createdAt)
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}

// ListOpenQuestionsByVersion returns a version's open questions.
func (q *QualityStorage) ListOpenQuestionsByVersion(ctx context.Context, tenantID, versionID string) ([]*models.OpenQuestion, error) {
	rows, err := q.db.db.QueryContext(ctx, `
		SELECT id, tenant_id, version_id, content_key, category, question, fact_ids, created_at
		FROM open_questions WHERE version_id = ? AND tenant_id = ?
		ORDER BY created_at ASC, id ASC`,
		versionID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open questions: %w", err)
	}
	defer rows.Close()

	var questions []*models.OpenQuestion
	for rows.Next() {
		var oq models.OpenQuestion
		var factIDs sql.NullString
		var createdAt int64
		err := rows.Scan(&oq.ID, &oq.TenantID, &oq.VersionID, &oq.ContentKey,
			&oq.Category, &oq.Question, &factIDs, &createdAt)
		if err != nil {
			return nil, err
		}
		if err := unmarshalJSON(factIDs, &oq.FactIDs); err != nil {
			return nil, err
		}
		oq.CreatedAt = timeFromMillis(createdAt)
		questions = append(questions, &oq)
	}
	return questions, rows.Err()
}

// DeleteConflictsByDocument removes all conflicts for a document. Deletion
// protocol level 5.
func (q *QualityStorage) DeleteConflictsByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	result, err := q.db.db.ExecContext(ctx,
		`DELETE FROM conflicts WHERE tenant_id = ? AND version_id IN `+versionScope,
		tenantID, documentID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conflicts: %w", err)
	}
	return result.RowsAffected()
}

// DeleteOpenQuestionsByDocument removes all open questions for a document.
func (q *QualityStorage) DeleteOpenQuestionsByDocument(ctx context.Context, tenantID, documentID string) (int64, error) {
	result, err := q.db.db.ExecContext(ctx,
		`DELETE FROM open_questions WHERE tenant_id = ? AND version_id IN `+versionScope,
		tenantID, documentID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete open questions: %w", err)
	}
	return result.RowsAffected()
}
