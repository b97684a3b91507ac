package interfaces

import (
	"context"

	"github.com/probatio/probatio/internal/models"
)

// ProgressFn receives stage progress while a pipeline runs. The worker wires
// this to job progress updates; tests pass nil.
type ProgressFn func(pct int, message string)

// PipelineService drives a version through the processing stages in order:
// extract, build spans, embed, extract facts, quality check. Each stage
// commits its artifacts and advances processing_status before the next
// starts, so a crash resumes at the first incomplete stage.
type PipelineService interface {
	ProcessVersion(ctx context.Context, tenantID, versionID string, opts ProcessOptions, progress ProgressFn) error
	// Reprocess resets the version to PENDING and runs the pipeline again.
	// Span upserts keep stable span ids for unchanged content.
	Reprocess(ctx context.Context, tenantID, versionID string, opts ProcessOptions, progress ProgressFn) error
}

// FactService extracts structured facts from a version's spans.
type FactService interface {
	// ExtractFacts runs one extraction at the given scope. It enforces
	// at-most-one active run per (version, profile, context, level) and
	// replaces facts from any prior completed run of the same scope.
	ExtractFacts(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, level int) (*models.ExtractionRun, error)
	// UpgradeLevel runs extraction at a higher level, feeding the prior
	// level's facts as context. ErrInvalidTransition when the target does
	// not exceed the current max completed level.
	UpgradeLevel(ctx context.Context, tenantID, versionID string, profile models.ExtractionProfile, processContext string, targetLevel int) (*models.ExtractionRun, error)
	ListFacts(ctx context.Context, tc models.TenantContext, versionID, processContext string) (*models.FactBundle, error)
	ListRuns(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.ExtractionRun, error)
}

// QualityService runs deterministic consistency analysis over a version's
// facts.
type QualityService interface {
	// AnalyzeVersion detects conflicts and raises open questions. Returns
	// (new conflicts, new questions).
	AnalyzeVersion(ctx context.Context, tenantID, versionID string) (int, int, error)
	ListConflicts(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.Conflict, error)
	ListOpenQuestions(ctx context.Context, tc models.TenantContext, versionID string) ([]*models.OpenQuestion, error)
}
