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

// ProjectStorage handles project, attachment, and folder persistence.
type ProjectStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewProjectStorage creates a new project storage instance.
func NewProjectStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ProjectStorage {
	return &ProjectStorage{db: db, logger: logger}
}

// CreateProject inserts a project row.
func (p *ProjectStorage) CreateProject(ctx context.Context, project *models.Project) error {
	_, err := p.db.db.ExecContext(ctx, `
		INSERT INTO projects (id, tenant_id, name, description, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.TenantID, project.Name, nullStr(project.Description),
		millis(project.CreatedAt), millis(project.UpdatedAt), millisPtr(project.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject fetches a live project within the tenant scope.
func (p *ProjectStorage) GetProject(ctx context.Context, tenantID, id string) (*models.Project, error) {
	row := p.db.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, created_at, updated_at, deleted_at
		FROM projects WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		id, tenantID)
	return scanProject(row.Scan)
}

// ListProjects returns the tenant's live projects, newest first.
func (p *ProjectStorage) ListProjects(ctx context.Context, tenantID string, opts *interfaces.ListOptions) ([]*models.Project, error) {
	query := `
		SELECT id, tenant_id, name, description, created_at, updated_at, deleted_at
		FROM projects WHERE tenant_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC`
	args := []interface{}{tenantID}
	if opts != nil && opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := p.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// UpdateProject persists name and description.
func (p *ProjectStorage) UpdateProject(ctx context.Context, project *models.Project) error {
	project.UpdatedAt = time.Now().UTC()
	result, err := p.db.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		project.Name, nullStr(project.Description), millis(project.UpdatedAt),
		project.ID, project.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return requireRow(result)
}

// SoftDeleteProject tombstones a project and detaches its documents. The
// documents themselves are untouched.
func (p *ProjectStorage) SoftDeleteProject(ctx context.Context, tenantID, id string) error {
	tx, err := p.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := millis(time.Now().UTC())
	result, err := tx.ExecContext(ctx, `
		UPDATE projects SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		now, now, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to soft delete project: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM project_documents WHERE project_id = ? AND tenant_id = ?`,
		id, tenantID); err != nil {
		return fmt.Errorf("failed to detach project documents: %w", err)
	}

	return tx.Commit()
}

// AttachDocument links a document to a project. ErrDuplicate when already
// attached.
func (p *ProjectStorage) AttachDocument(ctx context.Context, link *models.ProjectDocument) error {
	_, err := p.db.db.ExecContext(ctx, `
		INSERT INTO project_documents
			(id, tenant_id, project_id, document_id, pinned_version_id, folder_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.TenantID, link.ProjectID, link.DocumentID,
		nullStr(link.PinnedVersionID), nullStr(link.FolderID), millis(link.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to attach document: %w", err)
	}
	return nil
}

// DetachDocument removes one attachment.
func (p *ProjectStorage) DetachDocument(ctx context.Context, tenantID, projectID, documentID string) error {
	result, err := p.db.db.ExecContext(ctx, `
		DELETE FROM project_documents
		WHERE project_id = ? AND document_id = ? AND tenant_id = ?`,
		projectID, documentID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to detach document: %w", err)
	}
	return requireRow(result)
}

// UpdateAttachment persists pin and folder changes.
func (p *ProjectStorage) UpdateAttachment(ctx context.Context, link *models.ProjectDocument) error {
	result, err := p.db.db.ExecContext(ctx, `
		UPDATE project_documents SET pinned_version_id = ?, folder_id = ?
		WHERE id = ? AND tenant_id = ?`,
		nullStr(link.PinnedVersionID), nullStr(link.FolderID),
		link.ID, link.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update attachment: %w", err)
	}
	return requireRow(result)
}

// ListAttachments returns a project's document links.
func (p *ProjectStorage) ListAttachments(ctx context.Context, tenantID, projectID string) ([]*models.ProjectDocument, error) {
	rows, err := p.db.db.QueryContext(ctx, `
		SELECT id, tenant_id, project_id, document_id, pinned_version_id, folder_id, created_at
		FROM project_documents
		WHERE project_id = ? AND tenant_id = ?
		ORDER BY created_at ASC`,
		projectID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var links []*models.ProjectDocument
	for rows.Next() {
		var link models.ProjectDocument
		var pinnedVersionID, folderID sql.NullString
		var createdAt int64
		err := rows.Scan(&link.ID, &link.TenantID, &link.ProjectID, &link.DocumentID,
			&pinnedVersionID, &folderID, &createdAt)
		if err != nil {
			return nil, err
		}
		link.PinnedVersionID = strValue(pinnedVersionID)
		link.FolderID = strValue(folderID)
		link.CreatedAt = timeFromMillis(createdAt)
		links = append(links, &link)
	}
	return links, rows.Err()
}

// DocumentIDsForProject returns the attached document ids. Search project
// scoping uses this.
func (p *ProjectStorage) DocumentIDsForProject(ctx context.Context, tenantID, projectID string) ([]string, error) {
	rows, err := p.db.db.QueryContext(ctx,
		`SELECT document_id FROM project_documents WHERE project_id = ? AND tenant_id = ?`,
		projectID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListProjectsForDocument returns the live projects a document belongs to.
func (p *ProjectStorage) ListProjectsForDocument(ctx context.Context, tenantID, documentID string) ([]*models.Project, error) {
	rows, err := p.db.db.QueryContext(ctx, `
		SELECT pr.id, pr.tenant_id, pr.name, pr.description, pr.created_at, pr.updated_at, pr.deleted_at
		FROM projects pr
		JOIN project_documents pd ON pd.project_id = pr.id
		WHERE pd.document_id = ? AND pr.tenant_id = ? AND pr.deleted_at IS NULL
		ORDER BY pr.created_at ASC`,
		documentID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects for document: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// DetachDocumentEverywhere removes a document from every project. Deletion
// protocol level 7.
func (p *ProjectStorage) DetachDocumentEverywhere(ctx context.Context, tenantID, documentID string) (int64, error) {
	result, err := p.db.db.ExecContext(ctx,
		`DELETE FROM project_documents WHERE document_id = ? AND tenant_id = ?`,
		documentID, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to detach document everywhere: %w", err)
	}
	return result.RowsAffected()
}

// CreateFolder inserts a folder row.
func (p *ProjectStorage) CreateFolder(ctx context.Context, folder *models.Folder) error {
	_, err := p.db.db.ExecContext(ctx, `
		INSERT INTO folders (id, tenant_id, project_id, parent_id, name, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		folder.ID, folder.TenantID, folder.ProjectID, nullStr(folder.ParentID),
		folder.Name, millis(folder.CreatedAt), millisPtr(folder.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

// GetFolder fetches a live folder within the tenant scope.
func (p *ProjectStorage) GetFolder(ctx context.Context, tenantID, folderID string) (*models.Folder, error) {
	row := p.db.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, project_id, parent_id, name, created_at, deleted_at
		FROM folders WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		folderID, tenantID)
	return scanFolder(row.Scan)
}

// ListFolders returns a project's live folders.
func (p *ProjectStorage) ListFolders(ctx context.Context, tenantID, projectID string) ([]*models.Folder, error) {
	rows, err := p.db.db.QueryContext(ctx, `
		SELECT id, tenant_id, project_id, parent_id, name, created_at, deleted_at
		FROM folders
		WHERE project_id = ? AND tenant_id = ? AND deleted_at IS NULL
		ORDER BY name ASC`,
		projectID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []*models.Folder
	for rows.Next() {
		folder, err := scanFolder(rows.Scan)
		if err != nil {
			return nil, err
		}
		folders = append(folders, folder)
	}
	return folders, rows.Err()
}

// UpdateFolder persists folder renames and moves.
func (p *ProjectStorage) UpdateFolder(ctx context.Context, folder *models.Folder) error {
	result, err := p.db.db.ExecContext(ctx, `
		UPDATE folders SET name = ?, parent_id = ?
		WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		folder.Name, nullStr(folder.ParentID), folder.ID, folder.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update folder: %w", err)
	}
	return requireRow(result)
}

// SoftDeleteFolder tombstones a folder and unfiles its attachments back to
// the project root.
func (p *ProjectStorage) SoftDeleteFolder(ctx context.Context, tenantID, folderID string) error {
	tx, err := p.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE folders SET deleted_at = ?
		WHERE id = ? AND tenant_id = ? AND deleted_at IS NULL`,
		millis(time.Now().UTC()), folderID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to soft delete folder: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE project_documents SET folder_id = NULL WHERE folder_id = ? AND tenant_id = ?`,
		folderID, tenantID); err != nil {
		return fmt.Errorf("failed to unfile folder documents: %w", err)
	}

	return tx.Commit()
}

func scanProject(scan func(...interface{}) error) (*models.Project, error) {
	var project models.Project
	var description sql.NullString
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64

	err := scan(&project.ID, &project.TenantID, &project.Name, &description,
		&createdAt, &updatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	project.Description = strValue(description)
	project.CreatedAt = timeFromMillis(createdAt)
	project.UpdatedAt = timeFromMillis(updatedAt)
	project.DeletedAt = timePtrFromMillis(deletedAt)
	return &project, nil
}

func scanFolder(scan func(...interface{}) error) (*models.Folder, error) {
	var folder models.Folder
	var parentID sql.NullString
	var createdAt int64
	var deletedAt sql.NullInt64

	err := scan(&folder.ID, &folder.TenantID, &folder.ProjectID, &parentID,
		&folder.Name, &createdAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	folder.ParentID = strValue(parentID)
	folder.CreatedAt = timeFromMillis(createdAt)
	folder.DeletedAt = timePtrFromMillis(deletedAt)
	return &folder, nil
}
