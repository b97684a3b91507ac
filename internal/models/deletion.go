package models

import (
	"time"
)

// DeletionTaskType names one resource kind inside the deletion protocol.
type DeletionTaskType string

const (
	DeletionTaskStorageFile      DeletionTaskType = "storage_file"
	DeletionTaskEmbeddingChunks  DeletionTaskType = "embedding_chunks"
	DeletionTaskSpans            DeletionTaskType = "spans"
	DeletionTaskFactsClaims      DeletionTaskType = "facts_claims"
	DeletionTaskFactsMetrics     DeletionTaskType = "facts_metrics"
	DeletionTaskFactsConstraints DeletionTaskType = "facts_constraints"
	DeletionTaskFactsRisks       DeletionTaskType = "facts_risks"
	DeletionTaskQualityConflicts DeletionTaskType = "quality_conflicts"
	DeletionTaskQualityQuestions DeletionTaskType = "quality_questions"
	DeletionTaskExtractionRuns   DeletionTaskType = "extraction_runs"
	DeletionTaskProjectDocuments DeletionTaskType = "project_documents"
	DeletionTaskDocumentVersions DeletionTaskType = "document_versions"
	DeletionTaskDocumentRecord   DeletionTaskType = "document_record"
)

// deletionOrder is the pre-computed topological level for each task type.
// Tasks at the same level are independent and may run in parallel; levels
// execute strictly in ascending order.
var deletionOrder = map[DeletionTaskType]int{
	DeletionTaskStorageFile:      1,
	DeletionTaskEmbeddingChunks:  2,
	DeletionTaskSpans:            3,
	DeletionTaskFactsClaims:      4,
	DeletionTaskFactsMetrics:     4,
	DeletionTaskFactsConstraints: 4,
	DeletionTaskFactsRisks:       4,
	DeletionTaskQualityConflicts: 5,
	DeletionTaskQualityQuestions: 5,
	DeletionTaskExtractionRuns:   6,
	DeletionTaskProjectDocuments: 7,
	DeletionTaskDocumentVersions: 8,
	DeletionTaskDocumentRecord:   9,
}

// ProcessingOrder returns the task type's topological level, or -1 for an
// unknown type.
func (t DeletionTaskType) ProcessingOrder() int {
	if o, ok := deletionOrder[t]; ok {
		return o
	}
	return -1
}

// DeletionTaskStatus tracks one resource deletion.
type DeletionTaskStatus string

const (
	DeletionTaskPending    DeletionTaskStatus = "pending"
	DeletionTaskInProgress DeletionTaskStatus = "in_progress"
	DeletionTaskCompleted  DeletionTaskStatus = "completed"
	// DeletionTaskSkipped marks a resource that was already absent. It is a
	// terminal success, not a failure.
	DeletionTaskSkipped DeletionTaskStatus = "skipped"
	DeletionTaskFailed  DeletionTaskStatus = "failed"
)

// Terminal reports whether the task needs no further work.
func (s DeletionTaskStatus) Terminal() bool {
	return s == DeletionTaskCompleted || s == DeletionTaskSkipped
}

// DefaultDeletionTaskRetries bounds per-task retry attempts.
const DefaultDeletionTaskRetries = 3

// DeletionTask is one resource deletion within a document delete. Tasks
// persist after completion as the audit trail of the protocol; the final
// document_record task clears DocumentID on its siblings.
type DeletionTask struct {
	ID         string  `json:"id"` // dtk_{uuid}
	TenantID   string  `json:"tenant_id"`
	DocumentID *string `json:"document_id,omitempty"`

	TaskType        DeletionTaskType   `json:"task_type"`
	ResourceID      string             `json:"resource_id,omitempty"`
	ProcessingOrder int                `json:"processing_order"`
	Status          DeletionTaskStatus `json:"status"`
	RetryCount      int                `json:"retry_count"`
	MaxRetries      int                `json:"max_retries"`
	Error           string             `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RetryExhausted reports whether the task has used its retry budget.
func (t *DeletionTask) RetryExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}
