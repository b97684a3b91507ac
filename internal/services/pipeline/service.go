package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// Service drives one version through the stages in order. Each stage commits
// its artifacts, then a compare-and-swap advances processing_status, so a
// crash resumes at the first incomplete stage and two workers racing on the
// same version cannot both advance it.
type Service struct {
	docs      interfaces.DocumentStorage
	runs      interfaces.RunStorage
	chunks    interfaces.SpanStorage
	extractor interfaces.ExtractionService
	spans     interfaces.SpanService
	embedder  interfaces.EmbeddingService
	facts     interfaces.FactService
	quality   interfaces.QualityService
	events    interfaces.EventService
	logger    arbor.ILogger
}

var _ interfaces.PipelineService = (*Service)(nil)

// NewService wires the pipeline. events may be nil.
func NewService(
	logger arbor.ILogger,
	docs interfaces.DocumentStorage,
	runs interfaces.RunStorage,
	chunks interfaces.SpanStorage,
	extractor interfaces.ExtractionService,
	spans interfaces.SpanService,
	embedder interfaces.EmbeddingService,
	facts interfaces.FactService,
	quality interfaces.QualityService,
	events interfaces.EventService,
) *Service {
	return &Service{
		docs:      docs,
		runs:      runs,
		chunks:    chunks,
		extractor: extractor,
		spans:     spans,
		embedder:  embedder,
		facts:     facts,
		quality:   quality,
		events:    events,
		logger:    logger,
	}
}

// ProcessVersion runs the pipeline from the version's current stage to the
// end. A FAILED version is reset first so job retries work without a
// separate reset call. Stage failures mark the version FAILED; coordination
// errors (lost CAS race, active fact run, cancellation) do not.
func (s *Service) ProcessVersion(ctx context.Context, tenantID, versionID string, opts interfaces.ProcessOptions, progress interfaces.ProgressFn) error {
	version, err := s.docs.GetVersion(ctx, tenantID, versionID)
	if err != nil {
		return err
	}
	doc, err := s.docs.GetDocument(ctx, tenantID, version.DocumentID)
	if err != nil {
		return err
	}
	if !doc.Visible() {
		return fmt.Errorf("document %s is marked for deletion", doc.ID)
	}
	if version.UploadStatus != models.UploadStatusUploaded {
		return fmt.Errorf("version %s has no uploaded bytes", versionID)
	}

	if version.ProcessingStatus == models.ProcessingStatusFailed {
		if err := s.docs.ResetVersionForReprocessing(ctx, tenantID, versionID); err != nil {
			return err
		}
		version.ProcessingStatus = models.ProcessingStatusUploaded
	}

	opts = normalize(opts)

	if err := s.run(ctx, tenantID, version, opts, progress); err != nil {
		if shouldMarkFailed(err) {
			if markErr := s.docs.MarkVersionFailed(ctx, tenantID, versionID, err.Error()); markErr != nil {
				s.logger.Warn().Err(markErr).Str("version_id", versionID).Msg("Failed to record pipeline failure")
			} else {
				s.publish(ctx, tenantID, versionID, models.ProcessingStatusFailed)
			}
		}
		return err
	}
	return nil
}

// Reprocess drops the version's derived vectors, resets it to the top of the
// pipeline, and runs again. Spans upsert by content hash and keep their ids;
// facts for the requested scope are replaced by the new extraction run.
func (s *Service) Reprocess(ctx context.Context, tenantID, versionID string, opts interfaces.ProcessOptions, progress interfaces.ProgressFn) error {
	if _, err := s.docs.GetVersion(ctx, tenantID, versionID); err != nil {
		return err
	}
	if _, err := s.chunks.DeleteChunksByVersion(ctx, tenantID, versionID); err != nil {
		return fmt.Errorf("failed to drop embedding chunks: %w", err)
	}
	if err := s.docs.ResetVersionForReprocessing(ctx, tenantID, versionID); err != nil {
		return err
	}
	s.logger.Info().
		Str("version_id", versionID).
		Msg("Version reset for reprocessing")
	return s.ProcessVersion(ctx, tenantID, versionID, opts, progress)
}

func (s *Service) run(ctx context.Context, tenantID string, version *models.DocumentVersion, opts interfaces.ProcessOptions, progress interfaces.ProgressFn) error {
	report(progress, 5, "pipeline started")

	if version.ProcessingStatus == models.ProcessingStatusPending {
		if err := s.advance(ctx, tenantID, version, models.ProcessingStatusUploaded); err != nil {
			return err
		}
	}

	var content *models.ExtractedContent
	if version.ProcessingStatus.Rank() < models.ProcessingStatusExtracted.Rank() {
		extracted, err := s.extractor.ExtractVersion(ctx, tenantID, version.ID)
		if err != nil {
			return fmt.Errorf("extract stage: %w", err)
		}
		content = extracted
		if err := s.advance(ctx, tenantID, version, models.ProcessingStatusExtracted); err != nil {
			return err
		}
	}
	report(progress, 30, "content extracted")

	if version.ProcessingStatus.Rank() < models.ProcessingStatusSpansBuilt.Rank() {
		if content == nil {
			loaded, err := s.loadContent(ctx, tenantID, version.ID)
			if err != nil {
				return fmt.Errorf("span stage: %w", err)
			}
			content = loaded
		}
		inserted, updated, err := s.spans.BuildSpans(ctx, tenantID, version.ID, content)
		if err != nil {
			return fmt.Errorf("span stage: %w", err)
		}
		s.logger.Info().
			Str("version_id", version.ID).
			Int("inserted", inserted).
			Int("updated", updated).
			Msg("Spans built")
		if err := s.advance(ctx, tenantID, version, models.ProcessingStatusSpansBuilt); err != nil {
			return err
		}
	}
	report(progress, 50, "spans built")

	if version.ProcessingStatus.Rank() < models.ProcessingStatusEmbedded.Rank() {
		count, err := s.embedder.EmbedVersion(ctx, tenantID, version.ID)
		if err != nil {
			return fmt.Errorf("embed stage: %w", err)
		}
		s.logger.Info().
			Str("version_id", version.ID).
			Int("chunks", count).
			Msg("Version embedded")
		if err := s.advance(ctx, tenantID, version, models.ProcessingStatusEmbedded); err != nil {
			return err
		}
	}
	report(progress, 70, "embeddings stored")

	if opts.SkipFacts {
		report(progress, 100, "pipeline completed without facts")
		return nil
	}

	if version.ProcessingStatus.Rank() < models.ProcessingStatusFactsExtracted.Rank() {
		already, err := s.factsAlreadyExtracted(ctx, tenantID, version.ID, opts)
		if err != nil {
			return err
		}
		if !already {
			if _, err := s.facts.ExtractFacts(ctx, tenantID, version.ID, opts.Profile, opts.ProcessContext, opts.Level); err != nil {
				return fmt.Errorf("fact stage: %w", err)
			}
		}
		if err := s.advance(ctx, tenantID, version, models.ProcessingStatusFactsExtracted); err != nil {
			return err
		}
	}
	report(progress, 85, "facts extracted")

	if opts.SkipQuality {
		report(progress, 100, "pipeline completed without quality analysis")
		return nil
	}

	if version.ProcessingStatus.Rank() < models.ProcessingStatusQualityChecked.Rank() {
		conflicts, questions, err := s.quality.AnalyzeVersion(ctx, tenantID, version.ID)
		if err != nil {
			return fmt.Errorf("quality stage: %w", err)
		}
		s.logger.Info().
			Str("version_id", version.ID).
			Int("new_conflicts", conflicts).
			Int("new_questions", questions).
			Msg("Quality analysis completed")
		if err := s.advance(ctx, tenantID, version, models.ProcessingStatusQualityChecked); err != nil {
			return err
		}
	}
	report(progress, 100, "pipeline completed")
	return nil
}

// factsAlreadyExtracted reports whether a completed run exists for the
// requested scope, so a resume after a crash between the fact commit and the
// status advance does not re-call the model.
func (s *Service) factsAlreadyExtracted(ctx context.Context, tenantID, versionID string, opts interfaces.ProcessOptions) (bool, error) {
	prior, err := s.runs.GetLatestCompletedRun(ctx, tenantID, versionID, opts.Profile, opts.ProcessContext, opts.Level)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return prior != nil, nil
}

// loadContent recovers the extracted content from the newest completed
// content run's artifact. Fact runs carry a profile and are skipped.
func (s *Service) loadContent(ctx context.Context, tenantID, versionID string) (*models.ExtractedContent, error) {
	runs, err := s.runs.ListRunsByVersion(ctx, tenantID, versionID)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.Status == models.RunStatusCompleted && run.Profile == "" && run.ArtifactPath != "" {
			return s.extractor.LoadArtifact(ctx, run.ArtifactPath)
		}
	}
	return nil, fmt.Errorf("no extraction artifact recorded for version %s", versionID)
}

func (s *Service) advance(ctx context.Context, tenantID string, version *models.DocumentVersion, to models.ProcessingStatus) error {
	if err := s.docs.AdvanceVersionStatus(ctx, tenantID, version.ID, version.ProcessingStatus, to); err != nil {
		return err
	}
	version.ProcessingStatus = to
	s.publish(ctx, tenantID, version.ID, to)
	return nil
}

func (s *Service) publish(ctx context.Context, tenantID, versionID string, status models.ProcessingStatus) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, interfaces.Event{
		Type:     interfaces.EventVersionStatusChanged,
		TenantID: tenantID,
		Payload: map[string]interface{}{
			"version_id":        versionID,
			"processing_status": string(status),
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("version_id", versionID).Msg("Failed to publish status event")
	}
}

func normalize(opts interfaces.ProcessOptions) interfaces.ProcessOptions {
	if opts.Profile == "" {
		opts.Profile = models.ProfileGeneral
	}
	if opts.Level <= 0 {
		opts.Level = 1
	}
	opts.ProcessContext = models.NormalizeProcessContext(opts.ProcessContext)
	return opts
}

func report(progress interfaces.ProgressFn, pct int, msg string) {
	if progress != nil {
		progress(pct, msg)
	}
}

// shouldMarkFailed separates stage failures, which move the version to
// FAILED, from coordination artifacts that another actor will resolve.
func shouldMarkFailed(err error) bool {
	switch {
	case errors.Is(err, interfaces.ErrNotFound),
		errors.Is(err, interfaces.ErrActiveRunExists),
		errors.Is(err, interfaces.ErrInvalidTransition),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
