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

// PackStorage handles evidence pack persistence.
type PackStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewPackStorage creates a new pack storage instance.
func NewPackStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.PackStorage {
	return &PackStorage{db: db, logger: logger}
}

// CreatePack inserts a pack row.
func (p *PackStorage) CreatePack(ctx context.Context, pack *models.EvidencePack) error {
	_, err := p.db.db.ExecContext(ctx, `
		INSERT INTO evidence_packs
			(id, tenant_id, project_id, name, description, created_by, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pack.ID, pack.TenantID, nullStr(pack.ProjectID), pack.Name,
		nullStr(pack.Description), nullStr(pack.CreatedBy),
		millis(pack.CreatedAt), millis(pack.UpdatedAt), millisPtr(pack.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to create pack: %w", err)
	}
	return nil
}

// GetPack fetches a live pack within the tenant scope.
func (p *PackStorage) GetPack(ctx context.Context, tenantID, packID string) (*models.EvidencePack, error) {
	row := p.db.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, project_id, name, description, created_by, created_at, updated_at, deleted_at
		FROM evidence_packs WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		packID, tenantID)
	return scanPack(row.Scan)
}

// ListPacks returns the tenant's live packs, optionally scoped to a project.
func (p *PackStorage) ListPacks(ctx context.Context, tenantID, projectID string) ([]*models.EvidencePack, error) {
	query := `
		SELECT id, tenant_id, project_id, name, description, created_by, created_at, updated_at, deleted_at
		FROM evidence_packs WHERE tenant_id = ? AND deleted_at IS NULL`
	args := []interface{}{tenantID}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := p.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list packs: %w", err)
	}
	defer rows.Close()

	var packs []*models.EvidencePack
	for rows.Next() {
		pack, err := scanPack(rows.Scan)
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	return packs, rows.Err()
}

// UpdatePack persists name and description.
func (p *PackStorage) UpdatePack(ctx context.Context, pack *models.EvidencePack) error {
	pack.UpdatedAt = time.Now().UTC()
	result, err := p.db.db.ExecContext(ctx, `
		UPDATE evidence_packs SET name = ?, description = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		pack.Name, nullStr(pack.Description), millis(pack.UpdatedAt),
		pack.ID, pack.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update pack: %w", err)
	}
	return requireRow(result)
}

// SoftDeletePack tombstones a pack. Items cascade when the row is eventually
// purged.
func (p *PackStorage) SoftDeletePack(ctx context.Context, tenantID, packID string) error {
	now := millis(time.Now().UTC())
	result, err := p.db.db.ExecContext(ctx, `
		UPDATE evidence_packs SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		now, now, packID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to soft delete pack: %w", err)
	}
	return requireRow(result)
}

// AddItem appends an item to a pack.
func (p *PackStorage) AddItem(ctx context.Context, item *models.EvidencePackItem) error {
	_, err := p.db.db.ExecContext(ctx, `
		INSERT INTO evidence_pack_items
			(id, tenant_id, pack_id, kind, ref_id, note, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TenantID, item.PackID, string(item.Kind), item.RefID,
		nullStr(item.Note), item.Position, millis(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add pack item: %w", err)
	}
	return nil
}

// RemoveItem deletes one item from a pack.
func (p *PackStorage) RemoveItem(ctx context.Context, tenantID, packID, itemID string) error {
	result, err := p.db.db.ExecContext(ctx, `
		DELETE FROM evidence_pack_items
		WHERE id = ? AND pack_id = ? AND tenant_id = ?`,
		itemID, packID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to remove pack item: %w", err)
	}
	return requireRow(result)
}

// ListItems returns a pack's items in position order.
func (p *PackStorage) ListItems(ctx context.Context, tenantID, packID string) ([]*models.EvidencePackItem, error) {
	rows, err := p.db.db.QueryContext(ctx, `
		SELECT id, tenant_id, pack_id, kind, ref_id, note, position, created_at
		FROM evidence_pack_items
		WHERE pack_id = ? AND tenant_id = ?
		ORDER BY position ASC, created_at ASC`,
		packID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pack items: %w", err)
	}
	defer rows.Close()

	var items []*models.EvidencePackItem
	for rows.Next() {
		var item models.EvidencePackItem
		var note sql.NullString
		var createdAt int64
		err := rows.Scan(&item.ID, &item.TenantID, &item.PackID, &item.Kind,
			&item.RefID, &note, &item.Position, &createdAt)
		if err != nil {
			return nil, err
		}
		item.Note = strValue(note)
		item.CreatedAt = timeFromMillis(createdAt)
		items = append(items, &item)
	}
	return items, rows.Err()
}

func scanPack(scan func(...interface{}) error) (*models.EvidencePack, error) {
	var pack models.EvidencePack
	var projectID, description, createdBy sql.NullString
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64

	err := scan(&pack.ID, &pack.TenantID, &projectID, &pack.Name, &description,
		&createdBy, &createdAt, &updatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	pack.ProjectID = strValue(projectID)
	pack.Description = strValue(description)
	pack.CreatedBy = strValue(createdBy)
	pack.CreatedAt = timeFromMillis(createdAt)
	pack.UpdatedAt = timeFromMillis(updatedAt)
	pack.DeletedAt = timePtrFromMillis(deletedAt)
	return &pack, nil
}
