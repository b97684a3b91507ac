package handlers

import (
	"net/http"
	"time"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// TenantHandler administers tenants and their API keys. Every route it
// serves sits behind the admin key check in the middleware, so there is no
// tenant principal here.
type TenantHandler struct {
	tenants interfaces.TenantService
	logger  arbor.ILogger
}

func NewTenantHandler(tenants interfaces.TenantService, logger arbor.ILogger) *TenantHandler {
	return &TenantHandler{tenants: tenants, logger: logger}
}

// CreateHandler handles POST /api/tenants.
func (h *TenantHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	tenant, err := h.tenants.CreateTenant(r.Context(), body.Name)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	h.logger.Info().Str("tenant_id", tenant.ID).Str("name", tenant.Name).Msg("Tenant created")
	WriteJSON(w, http.StatusCreated, tenant)
}

// ListHandler handles GET /api/tenants.
func (h *TenantHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.ListTenants(r.Context())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tenants": tenants,
		"total":   len(tenants),
	})
}

// GetHandler handles GET /api/tenants/{id}.
func (h *TenantHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := segmentAfter(pathSegments(r), "tenants")

	tenant, err := h.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, tenant)
}

// DeactivateHandler handles DELETE /api/tenants/{id}. Deactivation cuts off
// authentication; rows stay for audit.
func (h *TenantHandler) DeactivateHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := segmentAfter(pathSegments(r), "tenants")

	if err := h.tenants.DeactivateTenant(r.Context(), tenantID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	h.logger.Info().Str("tenant_id", tenantID).Msg("Tenant deactivated")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id":   tenantID,
		"deactivated": true,
	})
}

// IssueKeyHandler handles POST /api/tenants/{id}/keys. The plaintext key
// appears in this response and nowhere else.
func (h *TenantHandler) IssueKeyHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := segmentAfter(pathSegments(r), "tenants")

	var body struct {
		Name      string     `json:"name"`
		Scopes    []string   `json:"scopes"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Name == "" {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	plaintext, key, err := h.tenants.IssueAPIKey(r.Context(), tenantID, body.Name, body.Scopes, body.ExpiresAt)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	h.logger.Info().Str("tenant_id", tenantID).Str("key_id", key.ID).Msg("API key issued")
	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"key":     plaintext,
		"api_key": key,
	})
}

// ListKeysHandler handles GET /api/tenants/{id}/keys.
func (h *TenantHandler) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := segmentAfter(pathSegments(r), "tenants")

	keys, err := h.tenants.ListAPIKeys(r.Context(), tenantID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  keys,
		"total": len(keys),
	})
}

// RevokeKeyHandler handles DELETE /api/tenants/{id}/keys/{keyID}.
func (h *TenantHandler) RevokeKeyHandler(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r)
	tenantID := segmentAfter(segments, "tenants")
	keyID := segmentAfter(segments, "keys")

	if err := h.tenants.RevokeAPIKey(r.Context(), tenantID, keyID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	h.logger.Info().Str("tenant_id", tenantID).Str("key_id", keyID).Msg("API key revoked")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"key_id":  keyID,
		"revoked": true,
	})
}
