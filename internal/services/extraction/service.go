package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/storage/blob"
)

// Service routes version payloads to format extractors and records a run for
// every attempt, success or failure.
type Service struct {
	registry map[models.SourceFormat]interfaces.Extractor
	blobs    interfaces.BlobStore
	docs     interfaces.DocumentStorage
	runs     interfaces.RunStorage
	logger   arbor.ILogger
}

var _ interfaces.ExtractionService = (*Service)(nil)

// NewService builds the registry from config: every format gets its extractor,
// PDF picks local or remote-with-fallback depending on pdf_engine.
func NewService(
	logger arbor.ILogger,
	config *common.ExtractionConfig,
	blobs interfaces.BlobStore,
	docs interfaces.DocumentStorage,
	runs interfaces.RunStorage,
) *Service {
	s := &Service{
		registry: make(map[models.SourceFormat]interfaces.Extractor),
		blobs:    blobs,
		docs:     docs,
		runs:     runs,
		logger:   logger,
	}

	s.Register(NewTextExtractor())
	s.Register(NewCSVExtractor())
	s.Register(NewExcelExtractor())
	s.Register(NewHTMLExtractor())
	s.Register(NewImageExtractor(logger, config))

	if config.PDFEngine == "service" && config.ServiceURL != "" {
		s.Register(NewPDFServiceExtractor(logger, config, NewPDFLocalExtractor(logger)))
	} else {
		s.Register(NewPDFLocalExtractor(logger))
	}

	return s
}

// Register adds an extractor for every format it declares. Later
// registrations win, which lets tests swap in fakes.
func (s *Service) Register(e interfaces.Extractor) {
	for _, format := range e.Formats() {
		s.registry[format] = e
	}
}

func (s *Service) ExtractorFor(format models.SourceFormat) (interfaces.Extractor, bool) {
	e, ok := s.registry[format]
	return e, ok
}

// ExtractVersion pulls the version's original bytes from blob storage, runs
// the format extractor, stores the normalized text back on the version row,
// and records an extraction run either way.
func (s *Service) ExtractVersion(ctx context.Context, tenantID, versionID string) (*models.ExtractedContent, error) {
	version, err := s.docs.GetVersion(ctx, tenantID, versionID)
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.GetDocument(ctx, tenantID, version.DocumentID)
	if err != nil {
		return nil, err
	}

	format := models.FormatForFilename(doc.Filename)
	extractor, ok := s.ExtractorFor(format)
	if !ok {
		return nil, fmt.Errorf("no extractor registered for format %s", format)
	}

	run := &models.ExtractionRun{
		ID:               common.NewRunID(),
		TenantID:         tenantID,
		VersionID:        versionID,
		ExtractorName:    extractor.Name(),
		ExtractorVersion: extractor.Version(),
		Status:           models.RunStatusRunning,
		CreatedAt:        time.Now().UTC(),
	}
	started := time.Now().UTC()
	run.StartedAt = &started
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record extraction run: %w", err)
	}

	content, extractErr := s.extract(ctx, extractor, version.BlobKey, doc.Filename)
	if extractErr == nil {
		run.ArtifactPath, extractErr = s.storeArtifact(ctx, doc.ID, version.VersionNumber, content)
	}
	if extractErr == nil {
		version.ExtractedText = content.PlainText()
		version.PageCount = content.PageCount()
		if err := s.docs.UpdateVersion(ctx, version); err != nil {
			extractErr = fmt.Errorf("failed to store extracted text: %w", err)
		}
	}

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if extractErr != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = extractErr.Error()
	} else {
		run.Status = models.RunStatusCompleted
		run.Warnings = content.Warnings
	}
	if err := s.runs.UpdateRun(ctx, run); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to update extraction run")
	}
	if extractErr != nil {
		return nil, extractErr
	}

	s.logger.Info().
		Str("version_id", versionID).
		Str("extractor", extractor.Name()).
		Int("chars", content.CharCount()).
		Msg("Version extracted")
	return content, nil
}

// storeArtifact persists the structured content as a JSON blob so later
// stages can rebuild spans without re-parsing the original bytes.
func (s *Service) storeArtifact(ctx context.Context, documentID string, versionNumber int, content *models.ExtractedContent) (string, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to encode extraction artifact: %w", err)
	}
	key := blob.ArtifactKey(documentID, versionNumber, "extracted.json")
	if _, err := s.blobs.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to store extraction artifact: %w", err)
	}
	return key, nil
}

// LoadArtifact fetches a previously stored extraction artifact.
func (s *Service) LoadArtifact(ctx context.Context, artifactPath string) (*models.ExtractedContent, error) {
	rc, err := s.blobs.Get(ctx, artifactPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var content models.ExtractedContent
	if err := json.NewDecoder(rc).Decode(&content); err != nil {
		return nil, fmt.Errorf("failed to decode extraction artifact: %w", err)
	}
	return &content, nil
}

func (s *Service) extract(ctx context.Context, extractor interfaces.Extractor, blobKey, filename string) (*models.ExtractedContent, error) {
	rc, err := s.blobs.Get(ctx, blobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open original bytes: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read original bytes: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("blob %s is empty", blobKey)
	}

	return extractor.Extract(ctx, data, filename)
}
