package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus tracks a job through its lifecycle. succeeded, failed, and
// canceled are terminal; a terminal job never transitions again.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
	JobStatusRetrying  JobStatus = "retrying"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Job types dispatched by the worker.
const (
	JobTypeIngestDocument    = "ingest_document"
	JobTypeProcessVersion    = "process_version"
	JobTypeExtractFacts      = "extract_facts"
	JobTypeEmbedVersion      = "embed_version"
	JobTypeDeleteDocument    = "delete_document"
	JobTypeBulkURLIngest     = "bulk_url_ingest"
	JobTypeBulkFolderIngest  = "bulk_folder_ingest"
	JobTypeUpgradeExtraction = "upgrade_extraction_level"
)

// Queue names by priority band.
const (
	QueueHigh   = "high"
	QueueNormal = "normal"
	QueueLow    = "low"
)

// QueueForPriority maps a priority integer onto a named queue:
// >= 10 is high, < 0 is low, everything else normal.
func QueueForPriority(priority int) string {
	switch {
	case priority >= 10:
		return QueueHigh
	case priority < 0:
		return QueueLow
	default:
		return QueueNormal
	}
}

// DefaultJobMaxAttempts bounds retries when the caller does not say.
const DefaultJobMaxAttempts = 3

// Job is one queued piece of work. The row in the database is the source of
// truth; the queue entry carries only the job id.
type Job struct {
	ID       string `json:"id"` // job_{uuid}
	TenantID string `json:"tenant_id"`
	Type     string `json:"type"`

	Status   JobStatus              `json:"status"`
	Priority int                    `json:"priority"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Result   map[string]interface{} `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	Progress        int    `json:"progress"` // 0-100
	ProgressMessage string `json:"progress_message,omitempty"`

	WorkerID       string `json:"worker_id,omitempty"`
	QueueMessageID string `json:"queue_message_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CancelRequested is the cooperative cancellation flag handlers check at
	// suspension points.
	CancelRequested bool `json:"cancel_requested,omitempty"`
}

// NewJob builds a queued job with defaults applied.
func NewJob(tenantID, jobType string, priority int, payload map[string]interface{}) *Job {
	return &Job{
		ID:          "job_" + uuid.New().String(),
		TenantID:    tenantID,
		Type:        jobType,
		Status:      JobStatusQueued,
		Priority:    priority,
		Payload:     payload,
		Attempts:    0,
		MaxAttempts: DefaultJobMaxAttempts,
		Progress:    0,
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks the fields a worker depends on.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.TenantID == "" {
		return fmt.Errorf("job tenant is required")
	}
	if j.Type == "" {
		return fmt.Errorf("job type is required")
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("job progress %d out of range [0,100]", j.Progress)
	}
	return nil
}

// MarkStarted transitions the job to running under a claiming worker.
// Claiming a terminal job is a no-op error.
func (j *Job) MarkStarted(workerID string) error {
	if j.Status.Terminal() {
		return fmt.Errorf("job %s is terminal (%s)", j.ID, j.Status)
	}
	now := time.Now().UTC()
	j.Status = JobStatusRunning
	j.WorkerID = workerID
	j.Attempts++
	j.StartedAt = &now
	return nil
}

// MarkSucceeded finalizes a successful run.
func (j *Job) MarkSucceeded(result map[string]interface{}) error {
	if j.Status.Terminal() {
		return fmt.Errorf("job %s is terminal (%s)", j.ID, j.Status)
	}
	now := time.Now().UTC()
	j.Status = JobStatusSucceeded
	j.Result = result
	j.Progress = 100
	j.FinishedAt = &now
	return nil
}

// MarkFailed finalizes a failed run. The caller decides separately whether
// the job is retried; RetryEligible answers that.
func (j *Job) MarkFailed(errMsg string) error {
	if j.Status.Terminal() {
		return fmt.Errorf("job %s is terminal (%s)", j.ID, j.Status)
	}
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.Error = errMsg
	j.FinishedAt = &now
	return nil
}

// MarkCanceled finalizes a cancellation.
func (j *Job) MarkCanceled() error {
	if j.Status.Terminal() {
		return fmt.Errorf("job %s is terminal (%s)", j.ID, j.Status)
	}
	now := time.Now().UTC()
	j.Status = JobStatusCanceled
	j.FinishedAt = &now
	return nil
}

// RetryEligible reports whether a failed job may be re-queued.
func (j *Job) RetryEligible() bool {
	return j.Status == JobStatusFailed && j.Attempts < j.MaxAttempts
}

// SetProgress clamps and applies a progress report.
func (j *Job) SetProgress(pct int, message string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.Progress = pct
	j.ProgressMessage = message
}

// PayloadString reads a string parameter from the payload.
func (j *Job) PayloadString(key string) (string, bool) {
	v, ok := j.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// PayloadInt reads an integer parameter, tolerating the float64 that JSON
// decoding produces.
func (j *Job) PayloadInt(key string) (int, bool) {
	v, ok := j.Payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// PayloadBool reads a boolean parameter.
func (j *Job) PayloadBool(key string) (bool, bool) {
	v, ok := j.Payload[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// PayloadStringSlice reads a string-array parameter, tolerating the
// []interface{} that JSON decoding produces.
func (j *Job) PayloadStringSlice(key string) ([]string, bool) {
	v, ok := j.Payload[key]
	if !ok {
		return nil, false
	}
	switch s := v.(type) {
	case []string:
		return s, true
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// FilterPayload returns a copy of the payload restricted to the allowed
// parameter names. Dispatch applies this before handing a payload to a
// handler, so callers can attach ancillary fields without breaking handlers.
func (j *Job) FilterPayload(allowed []string) map[string]interface{} {
	if j.Payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(allowed))
	for _, key := range allowed {
		if v, ok := j.Payload[key]; ok {
			out[key] = v
		}
	}
	return out
}

// QueueMessage is the envelope pushed to the external queue. It carries only
// the job id; the database row is authoritative.
type QueueMessage struct {
	JobID      string    `json:"job_id"`
	TenantID   string    `json:"tenant_id"`
	Type       string    `json:"type"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ToJSON serializes the queue envelope.
func (m *QueueMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// QueueMessageFromJSON deserializes a queue envelope.
func QueueMessageFromJSON(data []byte) (*QueueMessage, error) {
	var m QueueMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse queue message: %w", err)
	}
	if m.JobID == "" {
		return nil, fmt.Errorf("queue message missing job_id")
	}
	return &m, nil
}
