package common

import (
	"github.com/google/uuid"
)

// Entity IDs carry a short type prefix so logs and API payloads are
// self-describing. Format: <prefix>_<uuid>.

// NewDocumentID generates a unique document ID with the "doc_" prefix
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}

// NewVersionID generates a unique document version ID
func NewVersionID() string {
	return "ver_" + uuid.New().String()
}

// NewSpanID generates a unique span ID
func NewSpanID() string {
	return "span_" + uuid.New().String()
}

// NewChunkID generates a unique embedding chunk ID
func NewChunkID() string {
	return "chk_" + uuid.New().String()
}

// NewRunID generates a unique extraction run ID
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewClaimID generates a unique claim ID
func NewClaimID() string {
	return "clm_" + uuid.New().String()
}

// NewMetricID generates a unique metric ID
func NewMetricID() string {
	return "mtr_" + uuid.New().String()
}

// NewConstraintID generates a unique constraint ID
func NewConstraintID() string {
	return "cst_" + uuid.New().String()
}

// NewRiskID generates a unique risk ID
func NewRiskID() string {
	return "rsk_" + uuid.New().String()
}

// NewConflictID generates a unique conflict ID
func NewConflictID() string {
	return "cfl_" + uuid.New().String()
}

// NewOpenQuestionID generates a unique open question ID
func NewOpenQuestionID() string {
	return "oqn_" + uuid.New().String()
}

// NewProjectID generates a unique project ID
func NewProjectID() string {
	return "prj_" + uuid.New().String()
}

// NewProjectDocumentID generates a unique project-document link ID
func NewProjectDocumentID() string {
	return "pjd_" + uuid.New().String()
}

// NewFolderID generates a unique folder ID
func NewFolderID() string {
	return "fld_" + uuid.New().String()
}

// NewPackID generates a unique evidence pack ID
func NewPackID() string {
	return "pack_" + uuid.New().String()
}

// NewPackItemID generates a unique evidence pack item ID
func NewPackItemID() string {
	return "pki_" + uuid.New().String()
}

// NewDeletionTaskID generates a unique deletion task ID
func NewDeletionTaskID() string {
	return "dtk_" + uuid.New().String()
}

// NewAuditLogID generates a unique audit log entry ID
func NewAuditLogID() string {
	return "aud_" + uuid.New().String()
}

// NewRequestID generates a request correlation ID
func NewRequestID() string {
	return "req_" + uuid.New().String()
}
