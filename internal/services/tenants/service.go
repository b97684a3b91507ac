package tenants

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

// Service manages tenants and API keys and resolves request credentials to
// tenant principals. Authentication failures never distinguish unknown,
// revoked, and expired keys to the caller.
type Service struct {
	store  interfaces.TenantStorage
	auth   *common.AuthConfig
	logger arbor.ILogger
}

var _ interfaces.TenantService = (*Service)(nil)

// NewService creates a new tenant service.
func NewService(logger arbor.ILogger, auth *common.AuthConfig, store interfaces.TenantStorage) *Service {
	return &Service{
		store:  store,
		auth:   auth,
		logger: logger,
	}
}

// CreateTenant registers a tenant. Names are unique.
func (s *Service) CreateTenant(ctx context.Context, name string) (*models.Tenant, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: tenant name is required", interfaces.ErrValidation)
	}

	tenant := models.NewTenant(name)
	if err := s.store.CreateTenant(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetTenant fetches a tenant by id.
func (s *Service) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	return s.store.GetTenant(ctx, id)
}

// ListTenants returns all tenants.
func (s *Service) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	return s.store.ListTenants(ctx)
}

// DeactivateTenant disables a tenant. Its keys stop authenticating
// immediately; rows are kept.
func (s *Service) DeactivateTenant(ctx context.Context, id string) error {
	tenant, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	tenant.Active = false
	if err := s.store.UpdateTenant(ctx, tenant); err != nil {
		return err
	}

	s.logger.Info().
		Str("tenant_id", id).
		Msg("Tenant deactivated")
	return nil
}

// IssueAPIKey mints a key for the tenant. The plaintext is returned exactly
// once and never stored.
func (s *Service) IssueAPIKey(ctx context.Context, tenantID, name string, scopes []string, expiresAt *time.Time) (string, *models.TenantAPIKey, error) {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return "", nil, err
	}
	if !tenant.Active {
		return "", nil, fmt.Errorf("%w: tenant is deactivated", interfaces.ErrValidation)
	}
	if name == "" {
		name = "default"
	}
	if len(scopes) == 0 {
		scopes = []string{"*"}
	}

	plaintext, key, err := models.GenerateAPIKey(tenantID, name, scopes, expiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("key_id", key.ID).
		Str("key_prefix", key.KeyPrefix).
		Msg("API key issued")
	return plaintext, key, nil
}

// ListAPIKeys returns a tenant's keys. Hashes never leave the model's JSON.
func (s *Service) ListAPIKeys(ctx context.Context, tenantID string) ([]*models.TenantAPIKey, error) {
	return s.store.ListAPIKeys(ctx, tenantID)
}

// RevokeAPIKey deactivates a key.
func (s *Service) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	if err := s.store.RevokeAPIKey(ctx, tenantID, keyID); err != nil {
		return err
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("key_id", keyID).
		Msg("API key revoked")
	return nil
}

// GetExtractionSettings returns the tenant's extraction defaults. Tenants
// that never saved any get the built-ins.
func (s *Service) GetExtractionSettings(ctx context.Context, tc models.TenantContext) (*models.ExtractionSettings, error) {
	settings, err := s.store.GetExtractionSettings(ctx, tc.TenantID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return models.DefaultExtractionSettings(tc.TenantID), nil
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// UpdateExtractionSettings applies the non-nil fields of the patch on top of
// the current settings and persists the result.
func (s *Service) UpdateExtractionSettings(ctx context.Context, tc models.TenantContext, patch *interfaces.ExtractionSettingsPatch) (*models.ExtractionSettings, error) {
	settings, err := s.GetExtractionSettings(ctx, tc)
	if err != nil {
		return nil, err
	}

	if patch.DefaultProfile != nil {
		switch *patch.DefaultProfile {
		case models.ProfileGeneral, models.ProfileVC, models.ProfilePharma, models.ProfileInsurance:
			settings.DefaultProfile = *patch.DefaultProfile
		default:
			return nil, fmt.Errorf("%w: unknown extraction profile %q", interfaces.ErrValidation, *patch.DefaultProfile)
		}
	}
	if patch.DefaultLevel != nil {
		settings.DefaultLevel = models.ClampLevel(*patch.DefaultLevel)
	}
	if patch.DefaultProcessContext != nil {
		settings.DefaultProcessContext = *patch.DefaultProcessContext
	}
	if patch.SkipQuality != nil {
		settings.SkipQuality = *patch.SkipQuality
	}

	if err := s.store.SaveExtractionSettings(ctx, settings); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tenant_id", tc.TenantID).
		Str("default_profile", string(settings.DefaultProfile)).
		Int("default_level", settings.DefaultLevel).
		Msg("Extraction settings updated")
	return settings, nil
}

// Authenticate resolves a plaintext API key to a tenant principal. Unknown,
// revoked, expired, and inactive-tenant keys all come back ErrNotFound so the
// handler can answer an undifferentiated 401.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.TenantContext, error) {
	if apiKey == "" {
		return nil, interfaces.ErrNotFound
	}

	key, err := s.store.GetAPIKeyByHash(ctx, models.HashAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if !key.Usable(time.Now().UTC()) {
		return nil, interfaces.ErrNotFound
	}

	tenant, err := s.store.GetTenant(ctx, key.TenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.Active {
		return nil, interfaces.ErrNotFound
	}

	// Usage stamp is best effort; a write failure must not fail the request.
	if err := s.store.TouchAPIKey(ctx, key.ID, time.Now().UTC()); err != nil {
		s.logger.Debug().Err(err).Str("key_id", key.ID).Msg("Failed to stamp API key usage")
	}

	return &models.TenantContext{
		TenantID: tenant.ID,
		ActorID:  key.ID,
		Scopes:   key.Scopes,
	}, nil
}

// EnsureBootstrap creates the configured bootstrap tenant and, when a fixed
// key is configured, registers it. Idempotent across restarts.
func (s *Service) EnsureBootstrap(ctx context.Context) error {
	if s.auth == nil || s.auth.BootstrapTenant == "" {
		return nil
	}

	tenant, err := s.store.GetTenantByName(ctx, s.auth.BootstrapTenant)
	created := false
	if errors.Is(err, interfaces.ErrNotFound) {
		tenant = models.NewTenant(s.auth.BootstrapTenant)
		if err := s.store.CreateTenant(ctx, tenant); err != nil {
			// Lost a startup race with another instance; re-read the winner.
			if !errors.Is(err, interfaces.ErrDuplicate) {
				return err
			}
			if tenant, err = s.store.GetTenantByName(ctx, s.auth.BootstrapTenant); err != nil {
				return err
			}
		} else {
			created = true
		}
	} else if err != nil {
		return err
	}

	if s.auth.BootstrapAPIKey != "" {
		return s.ensureFixedKey(ctx, tenant)
	}

	// Without a configured key a freshly created bootstrap tenant would be
	// unreachable, so mint one and surface the plaintext in the log. It is
	// shown exactly once.
	if created {
		plaintext, _, err := s.IssueAPIKey(ctx, tenant.ID, "bootstrap", []string{"*"}, nil)
		if err != nil {
			return err
		}
		s.logger.Warn().
			Str("tenant_id", tenant.ID).
			Str("api_key", plaintext).
			Msg("Bootstrap API key created; store it now, it will not be shown again")
	}
	return nil
}

// ensureFixedKey registers the configured bootstrap key hash if no key row
// carries it yet.
func (s *Service) ensureFixedKey(ctx context.Context, tenant *models.Tenant) error {
	hash := models.HashAPIKey(s.auth.BootstrapAPIKey)
	if _, err := s.store.GetAPIKeyByHash(ctx, hash); err == nil {
		return nil
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return err
	}

	key := models.APIKeyRecord(tenant.ID, "bootstrap", []string{"*"}, nil, s.auth.BootstrapAPIKey)
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		if errors.Is(err, interfaces.ErrDuplicate) {
			return nil
		}
		return err
	}

	s.logger.Info().
		Str("tenant_id", tenant.ID).
		Str("key_prefix", key.KeyPrefix).
		Msg("Bootstrap API key registered from configuration")
	return nil
}
