package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// TenantStorage handles tenant and API key persistence.
type TenantStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewTenantStorage creates a new tenant storage instance.
func NewTenantStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.TenantStorage {
	return &TenantStorage{db: db, logger: logger}
}

// CreateTenant inserts a tenant row.
func (t *TenantStorage) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := t.db.db.ExecContext(ctx, query,
		tenant.ID, tenant.Name, tenant.Active,
		millis(tenant.CreatedAt), millis(tenant.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	t.logger.Info().Str("tenant_id", tenant.ID).Str("name", tenant.Name).Msg("Tenant created")
	return nil
}

// GetTenant fetches a tenant by id.
func (t *TenantStorage) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	row := t.db.db.QueryRowContext(ctx,
		`SELECT id, name, active, created_at, updated_at FROM tenants WHERE id = ?`, id)
	return scanTenant(row)
}

// GetTenantByName fetches a tenant by its unique name.
func (t *TenantStorage) GetTenantByName(ctx context.Context, name string) (*models.Tenant, error) {
	row := t.db.db.QueryRowContext(ctx,
		`SELECT id, name, active, created_at, updated_at FROM tenants WHERE name = ?`, name)
	return scanTenant(row)
}

// ListTenants returns all tenants ordered by creation time.
func (t *TenantStorage) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := t.db.db.QueryContext(ctx,
		`SELECT id, name, active, created_at, updated_at FROM tenants ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		var tenant models.Tenant
		var createdAt, updatedAt int64
		if err := rows.Scan(&tenant.ID, &tenant.Name, &tenant.Active, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		tenant.CreatedAt = timeFromMillis(createdAt)
		tenant.UpdatedAt = timeFromMillis(updatedAt)
		tenants = append(tenants, &tenant)
	}
	return tenants, rows.Err()
}

// UpdateTenant persists name and active changes.
func (t *TenantStorage) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	tenant.UpdatedAt = time.Now().UTC()
	result, err := t.db.db.ExecContext(ctx,
		`UPDATE tenants SET name = ?, active = ?, updated_at = ? WHERE id = ?`,
		tenant.Name, tenant.Active, millis(tenant.UpdatedAt), tenant.ID)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	return requireRow(result)
}

// CreateAPIKey inserts an API key record. Only the hash is stored.
func (t *TenantStorage) CreateAPIKey(ctx context.Context, key *models.TenantAPIKey) error {
	scopesJSON, err := marshalJSON(key.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tenant_api_keys
			(id, tenant_id, name, key_hash, key_prefix, scopes, active, expires_at, created_at, revoked_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`

	_, err = t.db.db.ExecContext(ctx, query,
		key.ID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix,
		scopesJSON, key.Active, millisPtr(key.ExpiresAt),
		millis(key.CreatedAt), millisPtr(key.RevokedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicate
		}
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash looks up a key by its stored hash. Authentication path.
func (t *TenantStorage) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.TenantAPIKey, error) {
	row := t.db.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, key_hash, key_prefix, scopes, active, expires_at, created_at, revoked_at
		FROM tenant_api_keys WHERE key_hash = ?`, keyHash)
	return scanAPIKey(row.Scan)
}

// ListAPIKeys returns a tenant's keys, newest first.
func (t *TenantStorage) ListAPIKeys(ctx context.Context, tenantID string) ([]*models.TenantAPIKey, error) {
	rows, err := t.db.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, key_hash, key_prefix, scopes, active, expires_at, created_at, revoked_at
		FROM tenant_api_keys WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.TenantAPIKey
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RevokeAPIKey deactivates a key and stamps the revocation time.
func (t *TenantStorage) RevokeAPIKey(ctx context.Context, tenantID, keyID string) error {
	result, err := t.db.db.ExecContext(ctx, `
		UPDATE tenant_api_keys SET active = 0, revoked_at = ?
		WHERE id = ? AND tenant_id = ? AND revoked_at IS NULL`,
		millis(time.Now().UTC()), keyID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	return requireRow(result)
}

// TouchAPIKey records key usage. Best effort; callers drop the error.
func (t *TenantStorage) TouchAPIKey(ctx context.Context, keyID string, usedAt time.Time) error {
	_, err := t.db.db.ExecContext(ctx,
		`UPDATE tenant_api_keys SET last_used_at = ? WHERE id = ?`,
		millis(usedAt), keyID)
	return err
}

// GetExtractionSettings fetches the tenant's stored extraction defaults.
func (t *TenantStorage) GetExtractionSettings(ctx context.Context, tenantID string) (*models.ExtractionSettings, error) {
	row := t.db.db.QueryRowContext(ctx, `
		SELECT tenant_id, default_profile, default_level, default_process_context, skip_quality, updated_at
		FROM tenant_extraction_settings WHERE tenant_id = ?`, tenantID)

	var settings models.ExtractionSettings
	var processContext sql.NullString
	var updatedAt int64
	err := row.Scan(&settings.TenantID, &settings.DefaultProfile, &settings.DefaultLevel,
		&processContext, &settings.SkipQuality, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	settings.DefaultProcessContext = processContext.String
	settings.UpdatedAt = timeFromMillis(updatedAt)
	return &settings, nil
}

// SaveExtractionSettings upserts the tenant's extraction defaults.
func (t *TenantStorage) SaveExtractionSettings(ctx context.Context, settings *models.ExtractionSettings) error {
	settings.UpdatedAt = time.Now().UTC()
	_, err := t.db.db.ExecContext(ctx, `
		INSERT INTO tenant_extraction_settings
			(tenant_id, default_profile, default_level, default_process_context, skip_quality, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			default_profile = excluded.default_profile,
			default_level = excluded.default_level,
			default_process_context = excluded.default_process_context,
			skip_quality = excluded.skip_quality,
			updated_at = excluded.updated_at`,
		settings.TenantID, string(settings.DefaultProfile), settings.DefaultLevel,
		nullStr(settings.DefaultProcessContext), settings.SkipQuality, millis(settings.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save extraction settings: %w", err)
	}
	return nil
}

func scanTenant(row *sql.Row) (*models.Tenant, error) {
	var tenant models.Tenant
	var createdAt, updatedAt int64

	err := row.Scan(&tenant.ID, &tenant.Name, &tenant.Active, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tenant.CreatedAt = timeFromMillis(createdAt)
	tenant.UpdatedAt = timeFromMillis(updatedAt)
	return &tenant, nil
}

func scanAPIKey(scan func(...interface{}) error) (*models.TenantAPIKey, error) {
	var key models.TenantAPIKey
	var scopesJSON sql.NullString
	var createdAt int64
	var expiresAt, revokedAt sql.NullInt64

	err := scan(&key.ID, &key.TenantID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&scopesJSON, &key.Active, &expiresAt, &createdAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(scopesJSON, &key.Scopes); err != nil {
		return nil, err
	}
	key.CreatedAt = timeFromMillis(createdAt)
	key.ExpiresAt = timePtrFromMillis(expiresAt)
	key.RevokedAt = timePtrFromMillis(revokedAt)
	return &key, nil
}

// requireRow maps zero affected rows to ErrNotFound.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
