package quality

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// Service detects conflicts and raises open questions over a version's
// extracted facts. Analysis is deterministic: the same fact set always
// yields the same artifacts, and content-key deduplication makes re-runs
// insert nothing new.
type Service struct {
	facts   interfaces.FactStorage
	quality interfaces.QualityStorage
	docs    interfaces.DocumentStorage
	logger  arbor.ILogger
}

var _ interfaces.QualityService = (*Service)(nil)

// NewService creates the quality analyzer.
func NewService(logger arbor.ILogger, facts interfaces.FactStorage, quality interfaces.QualityStorage, docs interfaces.DocumentStorage) *Service {
	return &Service{
		facts:   facts,
		quality: quality,
		docs:    docs,
		logger:  logger,
	}
}

// AnalyzeVersion loads the version's facts across all process contexts,
// runs the detectors, and persists anything new. Returns the counts of
// newly inserted conflicts and open questions.
func (s *Service) AnalyzeVersion(ctx context.Context, tenantID, versionID string) (int, int, error) {
	version, err := s.docs.GetVersion(ctx, tenantID, versionID)
	if err != nil {
		return 0, 0, err
	}

	claims, err := s.facts.ListClaimsByVersion(ctx, tenantID, versionID, "")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load claims: %w", err)
	}
	metrics, err := s.facts.ListMetricsByVersion(ctx, tenantID, versionID, "")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load metrics: %w", err)
	}
	risks, err := s.facts.ListRisksByVersion(ctx, tenantID, versionID, "")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load risks: %w", err)
	}

	conflicts := detectConflicts(tenantID, versionID, claims, metrics)
	questions := raiseQuestions(tenantID, versionID, claims, metrics, risks)

	newConflicts, err := s.quality.UpsertConflicts(ctx, conflicts)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to store conflicts: %w", err)
	}
	newQuestions, err := s.quality.UpsertOpenQuestions(ctx, questions)
	if err != nil {
		return newConflicts, 0, fmt.Errorf("failed to store open questions: %w", err)
	}

	s.logger.Info().
		Str("version_id", version.ID).
		Int("claims", len(claims)).
		Int("metrics", len(metrics)).
		Int("conflicts_detected", len(conflicts)).
		Int("conflicts_new", newConflicts).
		Int("questions_detected", len(questions)).
		Int("questions_new", newQuestions).
		Msg("Quality analysis completed")

	return newConflicts, newQuestions, nil
}

// ListConflicts returns a version's conflicts under the caller's tenant.
func (s *Service) ListConflicts(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.Conflict, error) {
	if _, err := s.docs.GetVersion(ctx, tc.TenantID, versionID); err != nil {
		return nil, err
	}
	return s.quality.ListConflictsByVersion(ctx, tc.TenantID, versionID)
}

// ListOpenQuestions returns a version's open questions under the caller's
// tenant.
func (s *Service) ListOpenQuestions(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.OpenQuestion, error) {
	if _, err := s.docs.GetVersion(ctx, tc.TenantID, versionID); err != nil {
		return nil, err
	}
	return s.quality.ListOpenQuestionsByVersion(ctx, tc.TenantID, versionID)
}
