package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Tenant is the top-level isolation boundary. Every persisted row carries a
// tenant reference and every read predicates on it.
type Tenant struct {
	ID        string    `json:"id"` // tnt_{uuid}
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTenant builds an active tenant.
func NewTenant(name string) *Tenant {
	now := time.Now().UTC()
	return &Tenant{
		ID:        "tnt_" + uuid.New().String(),
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// apiKeyPrefixLen is the display prefix retained alongside the hash so keys
// can be identified without storing plaintext.
const apiKeyPrefixLen = 12

// TenantAPIKey is a long-lived credential. Only the SHA-256 hash and a
// 12-character display prefix are stored; the plaintext key is returned
// exactly once, at creation.
type TenantAPIKey struct {
	ID        string     `json:"id"` // key_{uuid}
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"`
	KeyPrefix string     `json:"key_prefix"`
	Scopes    []string   `json:"scopes"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Usable reports whether the key authenticates requests right now.
func (k *TenantAPIKey) Usable(now time.Time) bool {
	if !k.Active || k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}
	return true
}

// HashAPIKey derives the stored form of a plaintext key.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey mints a plaintext key plus its stored record. The plaintext
// leaves this function once and is never persisted.
func GenerateAPIKey(tenantID, name string, scopes []string, expiresAt *time.Time) (plaintext string, key *TenantAPIKey, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", nil, err
	}
	plaintext = "pbk_" + hex.EncodeToString(buf)
	return plaintext, APIKeyRecord(tenantID, name, scopes, expiresAt, plaintext), nil
}

// APIKeyRecord builds the stored record for a known plaintext. Bootstrap keys
// from configuration take this path.
func APIKeyRecord(tenantID, name string, scopes []string, expiresAt *time.Time, plaintext string) *TenantAPIKey {
	prefix := plaintext
	if len(prefix) > apiKeyPrefixLen {
		prefix = prefix[:apiKeyPrefixLen]
	}
	return &TenantAPIKey{
		ID:        "key_" + uuid.New().String(),
		TenantID:  tenantID,
		Name:      name,
		KeyHash:   HashAPIKey(plaintext),
		KeyPrefix: prefix,
		Scopes:    scopes,
		Active:    true,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
}

// TenantContext is the authenticated principal threaded through every
// service call. Handlers receive an already-resolved context and cannot
// widen it; storage methods take the tenant id from here and nowhere else.
type TenantContext struct {
	TenantID string   `json:"tenant_id"`
	ActorID  string   `json:"actor_id"`
	Scopes   []string `json:"scopes"`
}

// HasScope checks scope membership; the wildcard scope grants everything.
func (t TenantContext) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// AuditLog is an append-only record of an action. The core emits these rows;
// nothing mutates them.
type AuditLog struct {
	ID        string                 `json:"id"` // aud_{uuid}
	TenantID  string                 `json:"tenant_id"`
	Action    string                 `json:"action"`
	ActorID   string                 `json:"actor_id"`
	EntityID  string                 `json:"entity_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
