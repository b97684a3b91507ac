package models

import (
	"time"
)

// RunStatus tracks one extraction invocation.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// Active reports whether the run holds the at-most-one slot for its
// (version, profile, process_context, level) key.
func (s RunStatus) Active() bool {
	return s == RunStatusQueued || s == RunStatusRunning
}

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusSkipped
}

// ExtractionProfile selects the vocabulary and prompt bundle for fact
// extraction.
type ExtractionProfile string

const (
	ProfileGeneral   ExtractionProfile = "general"
	ProfileVC        ExtractionProfile = "vc"
	ProfilePharma    ExtractionProfile = "pharma"
	ProfileInsurance ExtractionProfile = "insurance"
)

// Extraction levels form a monotone hierarchy: level k surfaces a superset
// of the entities level k-1 surfaces.
const (
	ExtractionLevelMin = 1
	ExtractionLevelMax = 4
)

// ClampLevel normalizes out-of-range extraction levels into [1, 4].
func ClampLevel(level int) int {
	if level < ExtractionLevelMin {
		return ExtractionLevelMin
	}
	if level > ExtractionLevelMax {
		return ExtractionLevelMax
	}
	return level
}

// ExtractionRun records one invocation of a content extractor or the fact
// extractor against a version. For fact runs, (version, profile,
// process_context, level) admits at most one queued|running row at a time,
// enforced by a partial unique index.
type ExtractionRun struct {
	ID        string `json:"id"` // run_{uuid}
	TenantID  string `json:"tenant_id"`
	VersionID string `json:"version_id"`

	ExtractorName    string `json:"extractor_name"`
	ExtractorVersion string `json:"extractor_version"`

	Status       RunStatus  `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`

	// Fact-extraction fields; empty for content extraction runs.
	Profile           ExtractionProfile `json:"profile,omitempty"`
	Level             int               `json:"level,omitempty"`
	ProcessContext    string            `json:"process_context,omitempty"`
	SchemaVersion     string            `json:"schema_version,omitempty"`
	VocabularyVersion string            `json:"vocabulary_version,omitempty"`

	ClaimCount      int      `json:"claim_count"`
	MetricCount     int      `json:"metric_count"`
	ConstraintCount int      `json:"constraint_count"`
	RiskCount       int      `json:"risk_count"`
	Warnings        []string `json:"warnings,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DurationMS reports wall-clock run time, or 0 when not finished.
func (r *ExtractionRun) DurationMS() int64 {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt).Milliseconds()
}

// ExtractionSettings are a tenant's extraction defaults. They apply when a
// request leaves the corresponding field unset.
type ExtractionSettings struct {
	TenantID              string            `json:"tenant_id"`
	DefaultProfile        ExtractionProfile `json:"default_profile"`
	DefaultLevel          int               `json:"default_level"`
	DefaultProcessContext string            `json:"default_process_context,omitempty"`
	SkipQuality           bool              `json:"skip_quality"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// DefaultExtractionSettings returns the settings a tenant has before any
// update: general profile, level 1, quality analysis on.
func DefaultExtractionSettings(tenantID string) *ExtractionSettings {
	return &ExtractionSettings{
		TenantID:       tenantID,
		DefaultProfile: ProfileGeneral,
		DefaultLevel:   ExtractionLevelMin,
		UpdatedAt:      time.Now().UTC(),
	}
}
