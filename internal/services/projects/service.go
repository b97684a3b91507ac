package projects

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// Service manages projects, document attachments, and folders. Projects and
// folders soft-delete; document rows are never touched from here.
type Service struct {
	store  interfaces.ProjectStorage
	docs   interfaces.DocumentStorage
	logger arbor.ILogger
}

var _ interfaces.ProjectService = (*Service)(nil)

// NewService creates a new project service.
func NewService(logger arbor.ILogger, store interfaces.ProjectStorage, docs interfaces.DocumentStorage) *Service {
	return &Service{
		store:  store,
		docs:   docs,
		logger: logger,
	}
}

// Create makes a new project.
func (s *Service) Create(ctx context.Context, tc models.TenantContext, name, description string) (*models.Project, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", interfaces.ErrValidation)
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:          common.NewProjectID(),
		TenantID:    tc.TenantID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("project_id", project.ID).
		Str("name", name).
		Msg("Project created")
	return project, nil
}

// Get fetches one project.
func (s *Service) Get(ctx context.Context, tc models.TenantContext, projectID string) (*models.Project, error) {
	return s.store.GetProject(ctx, tc.TenantID, projectID)
}

// List returns the tenant's projects, newest first.
func (s *Service) List(ctx context.Context, tc models.TenantContext, opts *interfaces.ListOptions) ([]*models.Project, error) {
	return s.store.ListProjects(ctx, tc.TenantID, opts)
}

// Update replaces a project's name and description.
func (s *Service) Update(ctx context.Context, tc models.TenantContext, projectID, name, description string) (*models.Project, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", interfaces.ErrValidation)
	}
	project, err := s.store.GetProject(ctx, tc.TenantID, projectID)
	if err != nil {
		return nil, err
	}
	project.Name = name
	project.Description = description
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// Delete tombstones a project. Attachments are removed; documents stay.
func (s *Service) Delete(ctx context.Context, tc models.TenantContext, projectID string) error {
	if err := s.store.SoftDeleteProject(ctx, tc.TenantID, projectID); err != nil {
		return err
	}
	s.logger.Info().Str("project_id", projectID).Msg("Project deleted")
	return nil
}

// AttachDocument links a document into a project. ErrDuplicate when the pair
// already exists.
func (s *Service) AttachDocument(ctx context.Context, tc models.TenantContext, projectID, documentID string, opts interfaces.AttachOptions) (*models.ProjectDocument, error) {
	if _, err := s.store.GetProject(ctx, tc.TenantID, projectID); err != nil {
		return nil, err
	}
	doc, err := s.docs.GetDocument(ctx, tc.TenantID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.DeletionStatus == models.DeletionStatusDeleted {
		return nil, interfaces.ErrNotFound
	}
	if !doc.Visible() {
		return nil, fmt.Errorf("%w: document %s is marked for deletion", interfaces.ErrValidation, documentID)
	}

	if opts.PinnedVersionID != "" {
		if err := s.checkVersionPin(ctx, tc, documentID, opts.PinnedVersionID); err != nil {
			return nil, err
		}
	}
	if opts.FolderID != "" {
		if err := s.checkFolder(ctx, tc, projectID, opts.FolderID); err != nil {
			return nil, err
		}
	}

	link := &models.ProjectDocument{
		ID:              common.NewProjectDocumentID(),
		TenantID:        tc.TenantID,
		ProjectID:       projectID,
		DocumentID:      documentID,
		PinnedVersionID: opts.PinnedVersionID,
		FolderID:        opts.FolderID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.AttachDocument(ctx, link); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("project_id", projectID).
		Str("document_id", documentID).
		Msg("Document attached to project")
	return link, nil
}

// DetachDocument removes a document from a project.
func (s *Service) DetachDocument(ctx context.Context, tc models.TenantContext, projectID, documentID string) error {
	return s.store.DetachDocument(ctx, tc.TenantID, projectID, documentID)
}

// ListDocuments returns a project's attachments in attach order.
func (s *Service) ListDocuments(ctx context.Context, tc models.TenantContext, projectID string) ([]*models.ProjectDocument, error) {
	if _, err := s.store.GetProject(ctx, tc.TenantID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, tc.TenantID, projectID)
}

// PinVersion fixes an attachment to one version. An empty version id clears
// the pin, returning the attachment to latest-version tracking.
func (s *Service) PinVersion(ctx context.Context, tc models.TenantContext, projectID, documentID, versionID string) error {
	link, err := s.findAttachment(ctx, tc, projectID, documentID)
	if err != nil {
		return err
	}
	if versionID != "" {
		if err := s.checkVersionPin(ctx, tc, documentID, versionID); err != nil {
			return err
		}
	}
	link.PinnedVersionID = versionID
	return s.store.UpdateAttachment(ctx, link)
}

// MoveToFolder files an attachment into a folder. An empty folder id moves it
// back to the project root.
func (s *Service) MoveToFolder(ctx context.Context, tc models.TenantContext, projectID, documentID, folderID string) error {
	link, err := s.findAttachment(ctx, tc, projectID, documentID)
	if err != nil {
		return err
	}
	if folderID != "" {
		if err := s.checkFolder(ctx, tc, projectID, folderID); err != nil {
			return err
		}
	}
	link.FolderID = folderID
	return s.store.UpdateAttachment(ctx, link)
}

// CreateFolder makes a folder in a project, nested under parentID when given.
func (s *Service) CreateFolder(ctx context.Context, tc models.TenantContext, projectID, parentID, name string) (*models.Folder, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: folder name is required", interfaces.ErrValidation)
	}
	if _, err := s.store.GetProject(ctx, tc.TenantID, projectID); err != nil {
		return nil, err
	}
	if parentID != "" {
		if err := s.checkFolder(ctx, tc, projectID, parentID); err != nil {
			return nil, err
		}
	}

	folder := &models.Folder{
		ID:        common.NewFolderID(),
		TenantID:  tc.TenantID,
		ProjectID: projectID,
		ParentID:  parentID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateFolder(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// ListFolders returns a project's folders sorted by name.
func (s *Service) ListFolders(ctx context.Context, tc models.TenantContext, projectID string) ([]*models.Folder, error) {
	if _, err := s.store.GetProject(ctx, tc.TenantID, projectID); err != nil {
		return nil, err
	}
	return s.store.ListFolders(ctx, tc.TenantID, projectID)
}

// RenameFolder changes a folder's name.
func (s *Service) RenameFolder(ctx context.Context, tc models.TenantContext, folderID, name string) (*models.Folder, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: folder name is required", interfaces.ErrValidation)
	}
	folder, err := s.store.GetFolder(ctx, tc.TenantID, folderID)
	if err != nil {
		return nil, err
	}
	folder.Name = name
	if err := s.store.UpdateFolder(ctx, folder); err != nil {
		return nil, err
	}
	return folder, nil
}

// DeleteFolder tombstones a folder and its subtree. Attachments filed in the
// subtree return to the project root.
func (s *Service) DeleteFolder(ctx context.Context, tc models.TenantContext, folderID string) error {
	folder, err := s.store.GetFolder(ctx, tc.TenantID, folderID)
	if err != nil {
		return err
	}
	all, err := s.store.ListFolders(ctx, tc.TenantID, folder.ProjectID)
	if err != nil {
		return err
	}

	children := make(map[string][]string, len(all))
	for _, f := range all {
		if f.ParentID != "" {
			children[f.ParentID] = append(children[f.ParentID], f.ID)
		}
	}

	// Walk the subtree leaf-last so every folder is deleted exactly once.
	subtree := []string{folderID}
	for i := 0; i < len(subtree); i++ {
		subtree = append(subtree, children[subtree[i]]...)
	}
	for _, id := range subtree {
		if err := s.store.SoftDeleteFolder(ctx, tc.TenantID, id); err != nil {
			return err
		}
	}

	s.logger.Info().
		Str("folder_id", folderID).
		Int("folders", len(subtree)).
		Msg("Folder subtree deleted")
	return nil
}

// findAttachment locates the (project, document) link. The storage layer has
// no point query for the pair, so this scans the project's attachments.
func (s *Service) findAttachment(ctx context.Context, tc models.TenantContext, projectID, documentID string) (*models.ProjectDocument, error) {
	if _, err := s.store.GetProject(ctx, tc.TenantID, projectID); err != nil {
		return nil, err
	}
	links, err := s.store.ListAttachments(ctx, tc.TenantID, projectID)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if link.DocumentID == documentID {
			return link, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

// checkVersionPin verifies the version exists and belongs to the document.
func (s *Service) checkVersionPin(ctx context.Context, tc models.TenantContext, documentID, versionID string) error {
	version, err := s.docs.GetVersion(ctx, tc.TenantID, versionID)
	if err != nil {
		return err
	}
	if version.DocumentID != documentID {
		return fmt.Errorf("%w: version %s does not belong to document %s", interfaces.ErrValidation, versionID, documentID)
	}
	return nil
}

// checkFolder verifies the folder exists and belongs to the project.
func (s *Service) checkFolder(ctx context.Context, tc models.TenantContext, projectID, folderID string) error {
	folder, err := s.store.GetFolder(ctx, tc.TenantID, folderID)
	if err != nil {
		return err
	}
	if folder.ProjectID != projectID {
		return fmt.Errorf("%w: folder %s does not belong to project %s", interfaces.ErrValidation, folderID, projectID)
	}
	return nil
}
