package interfaces

import (
	"context"
	"time"

	"github.com/probatio/probatio/internal/models"
)

// TenantService manages tenants, API keys, and request authentication.
type TenantService interface {
	CreateTenant(ctx context.Context, name string) (*models.Tenant, error)
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	DeactivateTenant(ctx context.Context, id string) error

	// IssueAPIKey mints a key for the tenant. The plaintext is returned once
	// and never stored.
	IssueAPIKey(ctx context.Context, tenantID, name string, scopes []string, expiresAt *time.Time) (plaintext string, key *models.TenantAPIKey, err error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]*models.TenantAPIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, keyID string) error

	// Authenticate resolves a plaintext API key to a tenant principal.
	// ErrNotFound for unknown, revoked, expired, or inactive-tenant keys.
	Authenticate(ctx context.Context, apiKey string) (*models.TenantContext, error)

	// GetExtractionSettings returns the tenant's extraction defaults, falling
	// back to the built-ins when none are stored.
	GetExtractionSettings(ctx context.Context, tc models.TenantContext) (*models.ExtractionSettings, error)
	// UpdateExtractionSettings applies the non-zero fields of the patch.
	UpdateExtractionSettings(ctx context.Context, tc models.TenantContext, patch *ExtractionSettingsPatch) (*models.ExtractionSettings, error)

	// EnsureBootstrap creates the configured bootstrap tenant and key on
	// first startup. Idempotent.
	EnsureBootstrap(ctx context.Context) error
}

// ExtractionSettingsPatch updates a tenant's extraction defaults. Nil fields
// leave the current value untouched.
type ExtractionSettingsPatch struct {
	DefaultProfile        *models.ExtractionProfile `json:"default_profile,omitempty"`
	DefaultLevel          *int                      `json:"default_level,omitempty"`
	DefaultProcessContext *string                   `json:"default_process_context,omitempty"`
	SkipQuality           *bool                     `json:"skip_quality,omitempty"`
}

// JobService fronts job creation and management.
type JobService interface {
	// Enqueue persists the job row and pushes its envelope to the priority
	// queue.
	Enqueue(ctx context.Context, tenantID, jobType string, priority int, payload map[string]interface{}) (*models.Job, error)
	Get(ctx context.Context, tc models.TenantContext, jobID string) (*models.Job, error)
	List(ctx context.Context, tc models.TenantContext, opts *JobListOptions) ([]*models.Job, int, error)
	// Cancel requests cooperative cancellation. Queued jobs cancel
	// immediately; running jobs cancel at their next checkpoint.
	Cancel(ctx context.Context, tc models.TenantContext, jobID string) error
	// Retry re-queues a failed job as a fresh attempt.
	Retry(ctx context.Context, tc models.TenantContext, jobID string) (*models.Job, error)
	// Delete removes a terminal job record.
	Delete(ctx context.Context, tc models.TenantContext, jobID string) error
	StatusSummary(ctx context.Context, tc models.TenantContext) (map[models.JobStatus]int, error)
}

// AuditService appends audit entries without blocking callers.
type AuditService interface {
	Record(ctx context.Context, entry *models.AuditLog)
	List(ctx context.Context, tc models.TenantContext, opts *ListOptions) ([]*models.AuditLog, error)
}
