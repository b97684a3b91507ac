package facts

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

const extractorName = "fact_extractor"

// Service runs LLM-backed fact extraction over a version's spans. Each run is
// scoped by (version, profile, process context, level); the run table's
// partial unique index keeps at most one active run per scope.
type Service struct {
	provider  interfaces.LLMProvider
	vocabs    *VocabularySet
	runs      interfaces.RunStorage
	factStore interfaces.FactStorage
	docs      interfaces.DocumentStorage
	spans     interfaces.SpanStorage
	logger    arbor.ILogger

	maxContextChars int
	timeout         time.Duration
}

var _ interfaces.FactService = (*Service)(nil)

func NewService(
	logger arbor.ILogger,
	config *common.FactsConfig,
	provider interfaces.LLMProvider,
	vocabs *VocabularySet,
	runs interfaces.RunStorage,
	factStore interfaces.FactStorage,
	docs interfaces.DocumentStorage,
	spans interfaces.SpanStorage,
) *Service {
	timeout := 120 * time.Second
	if config.RequestTimeout != "" {
		if parsed, err := time.ParseDuration(config.RequestTimeout); err == nil && parsed > 0 {
			timeout = parsed
		} else {
			logger.Warn().Str("request_timeout", config.RequestTimeout).Msg("Invalid facts request_timeout, using 120s")
		}
	}

	return &Service{
		provider:        provider,
		vocabs:          vocabs,
		runs:            runs,
		factStore:       factStore,
		docs:            docs,
		spans:           spans,
		logger:          logger,
		maxContextChars: config.MaxContextChars,
		timeout:         timeout,
	}
}

// ExtractFacts runs one extraction and persists its facts, replacing the
// facts of any prior completed run at the same scope. ErrActiveRunExists
// surfaces unchanged when the scope already has a queued or running run.
func (s *Service) ExtractFacts(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, level int) (*models.ExtractionRun, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("fact extraction: %w", interfaces.ErrProviderUnavailable)
	}
	vocab, err := s.vocabs.Get(profile)
	if err != nil {
		return nil, err
	}
	if level < models.ExtractionLevelMin || level > models.ExtractionLevelMax {
		return nil, fmt.Errorf("extraction level %d out of range [%d, %d]", level, models.ExtractionLevelMin, models.ExtractionLevelMax)
	}
	processContext = models.NormalizeProcessContext(processContext)

	version, err := s.docs.GetVersion(ctx, tenantID, versionID)
	if err != nil {
		return nil, err
	}
	doc, err := s.docs.GetDocument(ctx, tenantID, version.DocumentID)
	if err != nil {
		return nil, err
	}
	versionSpans, err := s.spans.ListSpansByVersion(ctx, tenantID, versionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list spans for version %s: %w", versionID, err)
	}

	now := time.Now().UTC()
	run := &models.ExtractionRun{
		ID:                common.NewRunID(),
		TenantID:          tenantID,
		VersionID:         versionID,
		ExtractorName:     extractorName,
		ExtractorVersion:  s.provider.Name() + "/" + s.provider.Model(),
		Status:            models.RunStatusRunning,
		StartedAt:         &now,
		Profile:           profile,
		Level:             level,
		ProcessContext:    processContext,
		SchemaVersion:     SchemaVersion,
		VocabularyVersion: vocab.Version,
		CreatedAt:         now,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if len(versionSpans) == 0 {
		run.Warnings = append(run.Warnings, "version has no spans to extract from")
		s.completeRun(ctx, run, nil)
		return run, nil
	}

	prior, err := s.priorFacts(ctx, tenantID, versionID, processContext, level)
	if err != nil {
		return nil, s.failRun(ctx, run, err)
	}

	systemPrompt := buildSystemPrompt(profile, level, vocab.Through(level))
	userPrompt := buildUserPrompt(doc.Filename, version.VersionNumber, versionSpans, prior, s.maxContextChars)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	response, err := s.provider.Complete(callCtx, systemPrompt, userPrompt)
	cancel()
	if err != nil {
		return nil, s.failRun(ctx, run, fmt.Errorf("fact extraction call failed: %w", err))
	}

	knownSpans := make(map[string]bool, len(versionSpans))
	for _, span := range versionSpans {
		knownSpans[span.ID] = true
	}
	bundle, warnings := parseResponse(response, factScope{
		tenantID:       tenantID,
		versionID:      versionID,
		runID:          run.ID,
		processContext: processContext,
		level:          level,
		knownSpans:     knownSpans,
	})
	run.Warnings = append(run.Warnings, warnings...)

	// Same-scope re-extraction replaces, never accumulates.
	previous, err := s.runs.GetLatestCompletedRun(ctx, tenantID, versionID, profile, processContext, level)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, s.failRun(ctx, run, fmt.Errorf("failed to look up prior run: %w", err))
	}
	if previous != nil {
		if _, err := s.factStore.DeleteFactsByRun(ctx, tenantID, previous.ID); err != nil {
			return nil, s.failRun(ctx, run, fmt.Errorf("failed to clear prior run facts: %w", err))
		}
	}

	if err := s.persistBundle(ctx, bundle); err != nil {
		return nil, s.failRun(ctx, run, err)
	}

	s.completeRun(ctx, run, bundle)
	s.logger.Info().
		Str("version_id", versionID).
		Str("profile", string(profile)).
		Int("level", level).
		Str("process_context", processContext).
		Int("claims", run.ClaimCount).
		Int("metrics", run.MetricCount).
		Int("constraints", run.ConstraintCount).
		Int("risks", run.RiskCount).
		Int("warnings", len(run.Warnings)).
		Msg("Fact extraction completed")
	return run, nil
}

// UpgradeLevel extracts at a deeper level than any completed run of the
// scope, feeding lower-level facts as prompt context.
func (s *Service) UpgradeLevel(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, targetLevel int) (*models.ExtractionRun, error) {
	processContext = models.NormalizeProcessContext(processContext)
	maxLevel, err := s.runs.GetMaxCompletedLevel(ctx, tenantID, versionID, profile, processContext)
	if err != nil {
		return nil, err
	}
	if targetLevel <= maxLevel {
		return nil, fmt.Errorf("target level %d does not exceed completed level %d: %w", targetLevel, maxLevel, interfaces.ErrInvalidTransition)
	}
	return s.ExtractFacts(ctx, tenantID, versionID, profile, processContext, targetLevel)
}

// ListFacts returns the version's facts, optionally narrowed to a process
// context.
func (s *Service) ListFacts(ctx context.Context, tc models.TenantContext, versionID, processContext string) (*models.FactBundle, error) {
	if _, err := s.docs.GetVersion(ctx, tc.TenantID, versionID); err != nil {
		return nil, err
	}
	return s.loadBundle(ctx, tc.TenantID, versionID, processContext)
}

// ListRuns returns the version's extraction runs, newest first.
func (s *Service) ListRuns(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.ExtractionRun, error) {
	if _, err := s.docs.GetVersion(ctx, tc.TenantID, versionID); err != nil {
		return nil, err
	}
	return s.runs.ListRunsByVersion(ctx, tc.TenantID, versionID)
}

// priorFacts loads facts below the target level for build-upon context.
func (s *Service) priorFacts(ctx context.Context, tenantID, versionID, processContext string, level int) (*models.FactBundle, error) {
	if level <= models.ExtractionLevelMin {
		return nil, nil
	}
	bundle, err := s.loadBundle(ctx, tenantID, versionID, processContext)
	if err != nil {
		return nil, err
	}
	prior := &models.FactBundle{}
	for _, c := range bundle.Claims {
		if c.Level < level {
			prior.Claims = append(prior.Claims, c)
		}
	}
	for _, m := range bundle.Metrics {
		if m.Level < level {
			prior.Metrics = append(prior.Metrics, m)
		}
	}
	for _, c := range bundle.Constraints {
		if c.Level < level {
			prior.Constraints = append(prior.Constraints, c)
		}
	}
	for _, r := range bundle.Risks {
		if r.Level < level {
			prior.Risks = append(prior.Risks, r)
		}
	}
	return prior, nil
}

func (s *Service) loadBundle(ctx context.Context, tenantID, versionID, processContext string) (*models.FactBundle, error) {
	claims, err := s.factStore.ListClaimsByVersion(ctx, tenantID, versionID, processContext)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	metrics, err := s.factStore.ListMetricsByVersion(ctx, tenantID, versionID, processContext)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	constraints, err := s.factStore.ListConstraintsByVersion(ctx, tenantID, versionID, processContext)
	if err != nil {
		return nil, fmt.Errorf("failed to list constraints: %w", err)
	}
	risks, err := s.factStore.ListRisksByVersion(ctx, tenantID, versionID, processContext)
	if err != nil {
		return nil, fmt.Errorf("failed to list risks: %w", err)
	}
	return &models.FactBundle{Claims: claims, Metrics: metrics, Constraints: constraints, Risks: risks}, nil
}

func (s *Service) persistBundle(ctx context.Context, bundle *models.FactBundle) error {
	if len(bundle.Claims) > 0 {
		if err := s.factStore.InsertClaims(ctx, bundle.Claims); err != nil {
			return fmt.Errorf("failed to insert claims: %w", err)
		}
	}
	if len(bundle.Metrics) > 0 {
		if err := s.factStore.InsertMetrics(ctx, bundle.Metrics); err != nil {
			return fmt.Errorf("failed to insert metrics: %w", err)
		}
	}
	if len(bundle.Constraints) > 0 {
		if err := s.factStore.InsertConstraints(ctx, bundle.Constraints); err != nil {
			return fmt.Errorf("failed to insert constraints: %w", err)
		}
	}
	if len(bundle.Risks) > 0 {
		if err := s.factStore.InsertRisks(ctx, bundle.Risks); err != nil {
			return fmt.Errorf("failed to insert risks: %w", err)
		}
	}
	return nil
}

func (s *Service) completeRun(ctx context.Context, run *models.ExtractionRun, bundle *models.FactBundle) {
	done := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.CompletedAt = &done
	if bundle != nil {
		counts := bundle.Counts()
		run.ClaimCount = counts.Claims
		run.MetricCount = counts.Metrics
		run.ConstraintCount = counts.Constraints
		run.RiskCount = counts.Risks
	}
	if err := s.runs.UpdateRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record completed run")
	}
}

// failRun marks the run failed so the active-run slot is released, then
// returns the original error.
func (s *Service) failRun(ctx context.Context, run *models.ExtractionRun, cause error) error {
	done := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.CompletedAt = &done
	run.ErrorMessage = cause.Error()
	if err := s.runs.UpdateRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record failed run")
	}
	return cause
}
