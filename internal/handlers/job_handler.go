package handlers

import (
	"net/http"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/workers"
	"github.com/ternarybob/arbor"
)

// JobHandler exposes the job queue: enqueue, inspect, cancel, retry, plus
// the synchronous execution paths used by tests and single-shot tooling.
type JobHandler struct {
	jobs      interfaces.JobService
	processor *workers.Processor
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

func NewJobHandler(jobs interfaces.JobService, processor *workers.Processor, scheduler interfaces.SchedulerService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:      jobs,
		processor: processor,
		scheduler: scheduler,
		logger:    logger,
	}
}

// EnqueueHandler handles POST /api/jobs.
func (h *JobHandler) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var body struct {
		Type     string                 `json:"type"`
		Priority int                    `json:"priority"`
		Payload  map[string]interface{} `json:"payload"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.Type == "" {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "type is required")
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), tc.TenantID, body.Type, body.Priority, body.Payload)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// ListHandler handles GET /api/jobs with status and type filters.
func (h *JobHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	opts := &interfaces.JobListOptions{
		ListOptions: *GetListOptions(r),
		Status:      models.JobStatus(r.URL.Query().Get("status")),
		Type:        r.URL.Query().Get("type"),
	}

	jobs, total, err := h.jobs.List(r.Context(), tc, opts)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// SummaryHandler handles GET /api/jobs/summary: counts per status.
func (h *JobHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	summary, err := h.jobs.StatusSummary(r.Context(), tc)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"summary": summary})
}

// GetHandler handles GET /api/jobs/{id}.
func (h *JobHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	jobID := segmentAfter(pathSegments(r), "jobs")

	job, err := h.jobs.Get(r.Context(), tc, jobID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelHandler handles POST /api/jobs/{id}/cancel.
func (h *JobHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	jobID := segmentAfter(pathSegments(r), "jobs")

	if err := h.jobs.Cancel(r.Context(), tc, jobID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"status": "cancel_requested",
	})
}

// RetryHandler handles POST /api/jobs/{id}/retry.
func (h *JobHandler) RetryHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	jobID := segmentAfter(pathSegments(r), "jobs")

	job, err := h.jobs.Retry(r.Context(), tc, jobID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// DeleteHandler handles DELETE /api/jobs/{id}.
func (h *JobHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	jobID := segmentAfter(pathSegments(r), "jobs")

	if err := h.jobs.Delete(r.Context(), tc, jobID); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"job_id": jobID, "deleted": true})
}

// RunSyncHandler handles POST /api/jobs/{id}/run: execute a queued job on
// the request goroutine instead of waiting for a worker.
func (h *JobHandler) RunSyncHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	jobID := segmentAfter(pathSegments(r), "jobs")

	// Resolve through the tenant-scoped service first so cross-tenant ids
	// surface as not-found before the processor touches the row.
	if _, err := h.jobs.Get(r.Context(), tc, jobID); err != nil {
		WriteServiceError(w, r, err)
		return
	}

	job, err := h.processor.RunSync(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ProcessNextHandler handles POST /api/jobs/process-next: pull one envelope
// off the queue and run it inline. Returns ran=false when the queue is idle.
func (h *JobHandler) ProcessNextHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTenant(w, r); !ok {
		return
	}

	jobID, ran, err := h.processor.ProcessNext(r.Context())
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	resp := map[string]interface{}{"ran": ran}
	if ran {
		resp["job_id"] = jobID
	}
	WriteJSON(w, http.StatusOK, resp)
}

type batchVersionBody struct {
	VersionIDs     []string `json:"version_ids"`
	Profile        string   `json:"profile"`
	Level          int      `json:"level"`
	ProcessContext string   `json:"process_context"`
	Priority       int      `json:"priority"`
}

// BatchExtractHandler handles POST /api/jobs/batch/extract: queue fact
// extraction for a set of versions.
func (h *JobHandler) BatchExtractHandler(w http.ResponseWriter, r *http.Request) {
	h.batchEnqueue(w, r, models.JobTypeExtractFacts, func(body *batchVersionBody, versionID string) map[string]interface{} {
		return map[string]interface{}{
			"version_id":      versionID,
			"profile":         body.Profile,
			"level":           body.Level,
			"process_context": body.ProcessContext,
		}
	})
}

// BatchEmbedHandler handles POST /api/jobs/batch/embed: queue embedding for
// a set of versions.
func (h *JobHandler) BatchEmbedHandler(w http.ResponseWriter, r *http.Request) {
	h.batchEnqueue(w, r, models.JobTypeEmbedVersion, func(_ *batchVersionBody, versionID string) map[string]interface{} {
		return map[string]interface{}{"version_id": versionID}
	})
}

func (h *JobHandler) batchEnqueue(w http.ResponseWriter, r *http.Request, jobType string, payloadFor func(*batchVersionBody, string) map[string]interface{}) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var body batchVersionBody
	if !DecodeJSON(w, r, &body) {
		return
	}
	if len(body.VersionIDs) == 0 {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "version_ids is required")
		return
	}

	jobIDs := make([]string, 0, len(body.VersionIDs))
	for _, versionID := range body.VersionIDs {
		job, err := h.jobs.Enqueue(r.Context(), tc.TenantID, jobType, body.Priority, payloadFor(&body, versionID))
		if err != nil {
			h.logger.Warn().Err(err).Str("version_id", versionID).Str("type", jobType).Msg("Batch enqueue failed partway")
			WriteServiceError(w, r, err)
			return
		}
		jobIDs = append(jobIDs, job.ID)
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_ids": jobIDs,
		"count":   len(jobIDs),
	})
}

// SchedulesHandler handles GET /api/jobs/schedules: the background sweeps
// and their last/next run times.
func (h *JobHandler) SchedulesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTenant(w, r); !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running":   h.scheduler.IsRunning(),
		"schedules": h.scheduler.Jobs(),
	})
}

// CleanupStaleHandler handles POST /api/jobs/cleanup/stale: run the stale
// job sweep immediately.
func (h *JobHandler) CleanupStaleHandler(w http.ResponseWriter, r *http.Request) {
	h.triggerSweep(w, r, "stale_sweep")
}

// CleanupOldHandler handles POST /api/jobs/cleanup/old: run the terminal
// record purge immediately.
func (h *JobHandler) CleanupOldHandler(w http.ResponseWriter, r *http.Request) {
	h.triggerSweep(w, r, "purge_sweep")
}

func (h *JobHandler) triggerSweep(w http.ResponseWriter, r *http.Request, name string) {
	if _, ok := requireTenant(w, r); !ok {
		return
	}
	if err := h.scheduler.TriggerNow(name); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	h.logger.Info().Str("sweep", name).Msg("Sweep triggered via API")
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{"sweep": name, "triggered": true})
}
