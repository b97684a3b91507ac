package interfaces

import (
	"context"

	"github.com/probatio/probatio/internal/models"
)

// AttachOptions qualifies a project-document attachment.
type AttachOptions struct {
	PinnedVersionID string
	FolderID        string
}

// ProjectService manages projects, attachments, and folders.
type ProjectService interface {
	Create(ctx context.Context, tc models.TenantContext, name, description string) (*models.Project, error)
	Get(ctx context.Context, tc models.TenantContext, projectID string) (*models.Project, error)
	List(ctx context.Context, tc models.TenantContext, opts *ListOptions) ([]*models.Project, error)
	Update(ctx context.Context, tc models.TenantContext, projectID, name, description string) (*models.Project, error)
	Delete(ctx context.Context, tc models.TenantContext, projectID string) error

	AttachDocument(ctx context.Context, tc models.TenantContext, projectID, documentID string, opts AttachOptions) (*models.ProjectDocument, error)
	DetachDocument(ctx context.Context, tc models.TenantContext, projectID, documentID string) error
	ListDocuments(ctx context.Context, tc models.TenantContext, projectID string) ([]*models.ProjectDocument, error)
	PinVersion(ctx context.Context, tc models.TenantContext, projectID, documentID, versionID string) error
	MoveToFolder(ctx context.Context, tc models.TenantContext, projectID, documentID, folderID string) error

	CreateFolder(ctx context.Context, tc models.TenantContext, projectID, parentID, name string) (*models.Folder, error)
	ListFolders(ctx context.Context, tc models.TenantContext, projectID string) ([]*models.Folder, error)
	RenameFolder(ctx context.Context, tc models.TenantContext, folderID, name string) (*models.Folder, error)
	DeleteFolder(ctx context.Context, tc models.TenantContext, folderID string) error
}

// PackService manages evidence packs and their exports.
type PackService interface {
	Create(ctx context.Context, tc models.TenantContext, projectID, name, description string) (*models.EvidencePack, error)
	Get(ctx context.Context, tc models.TenantContext, packID string) (*models.EvidencePack, error)
	List(ctx context.Context, tc models.TenantContext, projectID string) ([]*models.EvidencePack, error)
	Update(ctx context.Context, tc models.TenantContext, packID, name, description string) (*models.EvidencePack, error)
	Delete(ctx context.Context, tc models.TenantContext, packID string) error

	AddItem(ctx context.Context, tc models.TenantContext, packID string, kind models.EvidencePackItemKind, refID, note string) (*models.EvidencePackItem, error)
	RemoveItem(ctx context.Context, tc models.TenantContext, packID, itemID string) error
	ListItems(ctx context.Context, tc models.TenantContext, packID string) ([]*models.EvidencePackItem, error)

	// Export materializes the pack tree with resolved citations.
	Export(ctx context.Context, tc models.TenantContext, packID string) (*models.PackExport, error)
	// ExportPDF renders the pack as a PDF document.
	ExportPDF(ctx context.Context, tc models.TenantContext, packID string) ([]byte, error)
}
