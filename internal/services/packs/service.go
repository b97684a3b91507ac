package packs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// Service manages evidence packs: curated bundles of spans, claims, and
// metrics that export as a citation tree or a rendered PDF.
type Service struct {
	packs    interfaces.PackStorage
	projects interfaces.ProjectStorage
	spans    interfaces.SpanStorage
	facts    interfaces.FactStorage
	docs     interfaces.DocumentStorage
	pdf      interfaces.PDFService
	logger   arbor.ILogger
}

var _ interfaces.PackService = (*Service)(nil)

// NewService creates a new evidence pack service.
func NewService(logger arbor.ILogger, packs interfaces.PackStorage, projects interfaces.ProjectStorage,
	spans interfaces.SpanStorage, facts interfaces.FactStorage, docs interfaces.DocumentStorage,
	pdf interfaces.PDFService) *Service {
	return &Service{
		packs:    packs,
		projects: projects,
		spans:    spans,
		facts:    facts,
		docs:     docs,
		pdf:      pdf,
		logger:   logger,
	}
}

// Create makes a new pack, optionally scoped to a project.
func (s *Service) Create(ctx context.Context, tc models.TenantContext, projectID, name, description string) (*models.EvidencePack, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: pack name is required", interfaces.ErrValidation)
	}
	if projectID != "" {
		if _, err := s.projects.GetProject(ctx, tc.TenantID, projectID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	pack := &models.EvidencePack{
		ID:          common.NewPackID(),
		TenantID:    tc.TenantID,
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		CreatedBy:   tc.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.packs.CreatePack(ctx, pack); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("pack_id", pack.ID).
		Str("name", name).
		Msg("Evidence pack created")
	return pack, nil
}

// Get fetches one pack.
func (s *Service) Get(ctx context.Context, tc models.TenantContext, packID string) (*models.EvidencePack, error) {
	return s.packs.GetPack(ctx, tc.TenantID, packID)
}

// List returns the tenant's packs, optionally narrowed to a project.
func (s *Service) List(ctx context.Context, tc models.TenantContext, projectID string) ([]*models.EvidencePack, error) {
	return s.packs.ListPacks(ctx, tc.TenantID, projectID)
}

// Update replaces a pack's name and description.
func (s *Service) Update(ctx context.Context, tc models.TenantContext, packID, name, description string) (*models.EvidencePack, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: pack name is required", interfaces.ErrValidation)
	}
	pack, err := s.packs.GetPack(ctx, tc.TenantID, packID)
	if err != nil {
		return nil, err
	}
	pack.Name = name
	pack.Description = description
	if err := s.packs.UpdatePack(ctx, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// Delete tombstones a pack.
func (s *Service) Delete(ctx context.Context, tc models.TenantContext, packID string) error {
	return s.packs.SoftDeletePack(ctx, tc.TenantID, packID)
}

// AddItem appends a span, claim, or metric reference to a pack. The reference
// must resolve within the tenant at add time.
func (s *Service) AddItem(ctx context.Context, tc models.TenantContext, packID string, kind models.EvidencePackItemKind, refID, note string) (*models.EvidencePackItem, error) {
	if _, err := s.packs.GetPack(ctx, tc.TenantID, packID); err != nil {
		return nil, err
	}
	if err := s.resolveRef(ctx, tc, kind, refID); err != nil {
		return nil, err
	}

	existing, err := s.packs.ListItems(ctx, tc.TenantID, packID)
	if err != nil {
		return nil, err
	}

	item := &models.EvidencePackItem{
		ID:        common.NewPackItemID(),
		TenantID:  tc.TenantID,
		PackID:    packID,
		Kind:      kind,
		RefID:     refID,
		Note:      note,
		Position:  len(existing),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.packs.AddItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// RemoveItem deletes one item from a pack.
func (s *Service) RemoveItem(ctx context.Context, tc models.TenantContext, packID, itemID string) error {
	if _, err := s.packs.GetPack(ctx, tc.TenantID, packID); err != nil {
		return err
	}
	return s.packs.RemoveItem(ctx, tc.TenantID, packID, itemID)
}

// ListItems returns a pack's items in position order.
func (s *Service) ListItems(ctx context.Context, tc models.TenantContext, packID string) ([]*models.EvidencePackItem, error) {
	if _, err := s.packs.GetPack(ctx, tc.TenantID, packID); err != nil {
		return nil, err
	}
	return s.packs.ListItems(ctx, tc.TenantID, packID)
}

// Export materializes the pack tree. Items whose referent was deleted since
// they were added are dropped from the export, not errors: a pack outlives
// the evidence it cites.
func (s *Service) Export(ctx context.Context, tc models.TenantContext, packID string) (*models.PackExport, error) {
	pack, err := s.packs.GetPack(ctx, tc.TenantID, packID)
	if err != nil {
		return nil, err
	}
	items, err := s.packs.ListItems(ctx, tc.TenantID, packID)
	if err != nil {
		return nil, err
	}

	export := &models.PackExport{
		Pack:       pack,
		ExportedAt: time.Now().UTC(),
	}
	filenames := map[string]string{}
	dangling := 0

	for _, item := range items {
		switch item.Kind {
		case models.PackItemSpan:
			span, err := s.spans.GetSpan(ctx, tc.TenantID, item.RefID)
			if errors.Is(err, interfaces.ErrNotFound) {
				dangling++
				continue
			}
			if err != nil {
				return nil, err
			}
			export.Spans = append(export.Spans, &models.PackSpanNode{
				Span:     span,
				Citation: s.citeSpan(ctx, tc, span, filenames),
				Note:     item.Note,
			})
		case models.PackItemClaim:
			claim, err := s.facts.GetClaim(ctx, tc.TenantID, item.RefID)
			if errors.Is(err, interfaces.ErrNotFound) {
				dangling++
				continue
			}
			if err != nil {
				return nil, err
			}
			export.Claims = append(export.Claims, claim)
		case models.PackItemMetric:
			metric, err := s.facts.GetMetric(ctx, tc.TenantID, item.RefID)
			if errors.Is(err, interfaces.ErrNotFound) {
				dangling++
				continue
			}
			if err != nil {
				return nil, err
			}
			export.Metrics = append(export.Metrics, metric)
		}
	}

	if dangling > 0 {
		s.logger.Warn().
			Str("pack_id", packID).
			Int("dangling", dangling).
			Msg("Pack export dropped items whose referent no longer exists")
	}
	return export, nil
}

// ExportPDF renders the materialized pack as a PDF document.
func (s *Service) ExportPDF(ctx context.Context, tc models.TenantContext, packID string) ([]byte, error) {
	export, err := s.Export(ctx, tc, packID)
	if err != nil {
		return nil, err
	}
	markdown := exportMarkdown(export)
	return s.pdf.ConvertMarkdownToPDF(markdown, export.Pack.Name)
}

// resolveRef verifies an item reference exists within the tenant.
func (s *Service) resolveRef(ctx context.Context, tc models.TenantContext, kind models.EvidencePackItemKind, refID string) error {
	var err error
	switch kind {
	case models.PackItemSpan:
		_, err = s.spans.GetSpan(ctx, tc.TenantID, refID)
	case models.PackItemClaim:
		_, err = s.facts.GetClaim(ctx, tc.TenantID, refID)
	case models.PackItemMetric:
		_, err = s.facts.GetMetric(ctx, tc.TenantID, refID)
	default:
		return fmt.Errorf("%w: unknown pack item kind %q", interfaces.ErrValidation, kind)
	}
	return err
}

// citeSpan builds the citation for a span node. Document filenames are cached
// per export; a missing document leaves the filename empty rather than
// failing the export.
func (s *Service) citeSpan(ctx context.Context, tc models.TenantContext, span *models.Span, filenames map[string]string) models.Citation {
	locator := span.Locator
	citation := models.Citation{
		SpanID:            span.ID,
		DocumentID:        span.DocumentID,
		DocumentVersionID: span.VersionID,
		SpanType:          span.SpanType,
		Locator:           &locator,
		TextExcerpt:       excerpt(span.TextContent),
	}

	if name, ok := filenames[span.DocumentID]; ok {
		citation.DocumentFilename = name
		return citation
	}
	doc, err := s.docs.GetDocument(ctx, tc.TenantID, span.DocumentID)
	if err == nil {
		filenames[span.DocumentID] = doc.Filename
		citation.DocumentFilename = doc.Filename
	} else {
		filenames[span.DocumentID] = ""
	}
	return citation
}
