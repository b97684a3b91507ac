package models

import (
	"time"
)

// Project groups documents within a tenant. Projects soft-delete: DeletedAt
// is a tombstone that hides the row from listings without breaking history.
type Project struct {
	ID          string     `json:"id"` // prj_{uuid}
	TenantID    string     `json:"tenant_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// ProjectDocument attaches a document to a project. (project_id, document_id)
// is unique. A pinned version fixes the attachment to a specific snapshot;
// otherwise the project sees the document's latest version.
type ProjectDocument struct {
	ID              string    `json:"id"` // pjd_{uuid}
	TenantID        string    `json:"tenant_id"`
	ProjectID       string    `json:"project_id"`
	DocumentID      string    `json:"document_id"`
	PinnedVersionID string    `json:"pinned_version_id,omitempty"`
	FolderID        string    `json:"folder_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Folder organizes project documents hierarchically. Folders nest via
// ParentID and soft-delete like projects.
type Folder struct {
	ID        string     `json:"id"` // fld_{uuid}
	TenantID  string     `json:"tenant_id"`
	ProjectID string     `json:"project_id"`
	ParentID  string     `json:"parent_id,omitempty"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// EvidencePack is a named bundle of spans, claims, and metrics that exports
// as a structured tree (JSON) or a rendered document (PDF).
type EvidencePack struct {
	ID          string     `json:"id"` // pack_{uuid}
	TenantID    string     `json:"tenant_id"`
	ProjectID   string     `json:"project_id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// EvidencePackItemKind names what an item references.
type EvidencePackItemKind string

const (
	PackItemSpan   EvidencePackItemKind = "span"
	PackItemClaim  EvidencePackItemKind = "claim"
	PackItemMetric EvidencePackItemKind = "metric"
)

// EvidencePackItem is one entry in a pack.
type EvidencePackItem struct {
	ID        string               `json:"id"` // pki_{uuid}
	TenantID  string               `json:"tenant_id"`
	PackID    string               `json:"pack_id"`
	Kind      EvidencePackItemKind `json:"kind"`
	RefID     string               `json:"ref_id"`
	Note      string               `json:"note,omitempty"`
	Position  int                  `json:"position"`
	CreatedAt time.Time            `json:"created_at"`
}

// PackExport is the materialized pack tree returned by the export endpoint.
type PackExport struct {
	Pack       *EvidencePack   `json:"pack"`
	Spans      []*PackSpanNode `json:"spans"`
	Claims     []*Claim        `json:"claims"`
	Metrics    []*Metric       `json:"metrics"`
	ExportedAt time.Time       `json:"exported_at"`
}

// PackSpanNode is a span with its citation context in the export tree.
type PackSpanNode struct {
	Span     *Span    `json:"span"`
	Citation Citation `json:"citation"`
	Note     string   `json:"note,omitempty"`
}
