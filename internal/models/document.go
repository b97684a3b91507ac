package models

import (
	"time"
)

// DeletionStatus tracks a document through the deletion protocol.
type DeletionStatus string

const (
	DeletionStatusActive  DeletionStatus = "ACTIVE"
	DeletionStatusMarked  DeletionStatus = "MARKED_FOR_DELETION"
	DeletionStatusFailed  DeletionStatus = "DELETION_FAILED"
	DeletionStatusDeleted DeletionStatus = "DELETED"
)

// SourceType records how a document entered the repository.
type SourceType string

const (
	SourceTypeUpload  SourceType = "upload"
	SourceTypeURL     SourceType = "url"
	SourceTypeFolder  SourceType = "folder"
	SourceTypeCrawler SourceType = "crawler"
)

// Classification buckets documents by kind for metadata filtering.
type Classification string

const (
	ClassificationAcademicPaper      Classification = "academic_paper"
	ClassificationFinancialStatement Classification = "financial_statement"
	ClassificationContract           Classification = "contract"
	ClassificationPresentation       Classification = "presentation"
	ClassificationSpreadsheet        Classification = "spreadsheet"
	ClassificationReport             Classification = "report"
	ClassificationImage              Classification = "image"
	ClassificationOther              Classification = "other"
)

// Document is the logical asset: one per distinct content hash within a
// tenant. Uploading identical bytes returns the existing document.
type Document struct {
	ID          string `json:"id"` // doc_{uuid}
	TenantID    string `json:"tenant_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ContentHash string `json:"content_hash"` // SHA-256 of the first version's bytes

	Classification Classification `json:"classification"`
	SourceType     SourceType     `json:"source_type"`
	SourceURL      string         `json:"source_url,omitempty"`

	// Extracted metadata arrays used by two-stage search filters.
	Sectors     []string `json:"sectors,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Geographies []string `json:"geographies,omitempty"`
	Companies   []string `json:"companies,omitempty"`
	Authors     []string `json:"authors,omitempty"`

	Publisher     string     `json:"publisher,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`

	DeletionStatus      DeletionStatus `json:"deletion_status"`
	DeletionRequestedBy string         `json:"deletion_requested_by,omitempty"`
	DeletionRequestedAt *time.Time     `json:"deletion_requested_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Visible reports whether the document appears in listings and search.
func (d *Document) Visible() bool {
	return d.DeletionStatus == DeletionStatusActive
}

// UploadStatus tracks whether a version's bytes have landed in blob storage.
type UploadStatus string

const (
	UploadStatusPending  UploadStatus = "PENDING"
	UploadStatusUploaded UploadStatus = "UPLOADED"
	UploadStatusFailed   UploadStatus = "FAILED"
)

// ExtractionStatus is the claim column used by the polling worker.
type ExtractionStatus string

const (
	ExtractionStatusPending    ExtractionStatus = "PENDING"
	ExtractionStatusProcessing ExtractionStatus = "PROCESSING"
	ExtractionStatusCompleted  ExtractionStatus = "COMPLETED"
	ExtractionStatusFailed     ExtractionStatus = "FAILED"
)

// DocumentVersion is an immutable snapshot of a document's bytes plus the
// derived artifacts for that snapshot. Edits create a new version.
type DocumentVersion struct {
	ID            string `json:"id"` // ver_{uuid}
	TenantID      string `json:"tenant_id"`
	DocumentID    string `json:"document_id"`
	VersionNumber int    `json:"version_number"` // monotone per document, from 1

	BlobKey     string `json:"blob_key"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash"` // SHA-256 of this version's bytes

	UploadStatus     UploadStatus     `json:"upload_status"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`

	ExtractedText string  `json:"extracted_text,omitempty"`
	PageCount     int     `json:"page_count,omitempty"`
	Truthfulness  float64 `json:"truthfulness_score,omitempty"`
	BiasScore     float64 `json:"bias_score,omitempty"`
	LastError     string  `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessingStatus marks which pipeline stage has committed for a version.
type ProcessingStatus string

const (
	ProcessingStatusPending        ProcessingStatus = "PENDING"
	ProcessingStatusUploaded       ProcessingStatus = "UPLOADED"
	ProcessingStatusExtracted      ProcessingStatus = "EXTRACTED"
	ProcessingStatusSpansBuilt     ProcessingStatus = "SPANS_BUILT"
	ProcessingStatusEmbedded       ProcessingStatus = "EMBEDDED"
	ProcessingStatusFactsExtracted ProcessingStatus = "FACTS_EXTRACTED"
	ProcessingStatusQualityChecked ProcessingStatus = "QUALITY_CHECKED"
	ProcessingStatusFailed         ProcessingStatus = "FAILED"
)

// processingOrder ranks stages for monotonicity checks. FAILED is reachable
// from any non-terminal stage and has no rank.
var processingOrder = map[ProcessingStatus]int{
	ProcessingStatusPending:        0,
	ProcessingStatusUploaded:       1,
	ProcessingStatusExtracted:      2,
	ProcessingStatusSpansBuilt:     3,
	ProcessingStatusEmbedded:       4,
	ProcessingStatusFactsExtracted: 5,
	ProcessingStatusQualityChecked: 6,
}

// Rank returns the stage's position in the pipeline order, or -1 for FAILED.
func (p ProcessingStatus) Rank() int {
	if r, ok := processingOrder[p]; ok {
		return r
	}
	return -1
}

// CanAdvanceTo reports whether a transition respects pipeline monotonicity:
// forward along the stage order, or to FAILED from any non-terminal stage.
// Backward movement requires an explicit reset, which this method does not
// sanction.
func (p ProcessingStatus) CanAdvanceTo(next ProcessingStatus) bool {
	if next == ProcessingStatusFailed {
		return p != ProcessingStatusQualityChecked
	}
	cur, ok := processingOrder[p]
	if !ok {
		// FAILED only leaves via reset to PENDING
		return next == ProcessingStatusPending
	}
	nxt, ok := processingOrder[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Terminal reports whether the version has finished the pipeline.
func (p ProcessingStatus) Terminal() bool {
	return p == ProcessingStatusQualityChecked || p == ProcessingStatusFailed
}
