package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// AuditStorage is the append-only audit trail.
type AuditStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewAuditStorage creates a new audit storage instance.
func NewAuditStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.AuditStorage {
	return &AuditStorage{db: db, logger: logger}
}

// Append writes one audit entry.
func (a *AuditStorage) Append(ctx context.Context, entry *models.AuditLog) error {
	details, err := marshalJSON(entry.Details)
	if err != nil {
		return err
	}

	_, err = a.db.db.ExecContext(ctx, `
		INSERT INTO audit_logs
			(id, tenant_id, action, actor_id, entity_id, request_id, ip_address, user_agent, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.Action, nullStr(entry.ActorID),
		nullStr(entry.EntityID), nullStr(entry.RequestID),
		nullStr(entry.IPAddress), nullStr(entry.UserAgent),
		details, millis(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// List returns the tenant's audit entries, newest first.
func (a *AuditStorage) List(ctx context.Context, tenantID string, opts *interfaces.ListOptions) ([]*models.AuditLog, error) {
	query := `
		SELECT id, tenant_id, action, actor_id, entity_id, request_id, ip_address, user_agent, details, created_at
		FROM audit_logs WHERE tenant_id = ?
		ORDER BY created_at DESC`
	args := []interface{}{tenantID}

	limit, offset := 100, 0
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

	rows, err := a.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditLog
	for rows.Next() {
		var entry models.AuditLog
		var actorID, entityID, requestID, ipAddress, userAgent, details sql.NullString
		var createdAt int64
		err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Action, &actorID,
			&entityID, &requestID, &ipAddress, &userAgent, &details, &createdAt)
		if err != nil {
			return nil, err
		}
		entry.ActorID = strValue(actorID)
		entry.EntityID = strValue(entityID)
		entry.RequestID = strValue(requestID)
		entry.IPAddress = strValue(ipAddress)
		entry.UserAgent = strValue(userAgent)
		if err := unmarshalJSON(details, &entry.Details); err != nil {
			return nil, err
		}
		entry.CreatedAt = timeFromMillis(createdAt)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
