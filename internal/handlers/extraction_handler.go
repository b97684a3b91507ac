package handlers

import (
	"net/http"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/ternarybob/arbor"
)

// ExtractionHandler fronts fact extraction: the profile/level vocabulary,
// per-tenant defaults, run triggering, and the derived artifacts.
type ExtractionHandler struct {
	facts   interfaces.FactService
	quality interfaces.QualityService
	tenants interfaces.TenantService
	jobs    interfaces.JobService
	runs    interfaces.RunStorage
	logger  arbor.ILogger
}

func NewExtractionHandler(
	facts interfaces.FactService,
	quality interfaces.QualityService,
	tenants interfaces.TenantService,
	jobs interfaces.JobService,
	runs interfaces.RunStorage,
	logger arbor.ILogger,
) *ExtractionHandler {
	return &ExtractionHandler{
		facts:   facts,
		quality: quality,
		tenants: tenants,
		jobs:    jobs,
		runs:    runs,
		logger:  logger,
	}
}

// ProfilesHandler handles GET /api/extraction/profiles: the fixed profile
// and level vocabulary.
func (h *ExtractionHandler) ProfilesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireTenant(w, r); !ok {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": []map[string]string{
			{"name": string(models.ProfileGeneral), "description": "Domain-neutral extraction vocabulary"},
			{"name": string(models.ProfileVC), "description": "Venture capital: funding, traction, cap table"},
			{"name": string(models.ProfilePharma), "description": "Pharma: trials, endpoints, regulatory milestones"},
			{"name": string(models.ProfileInsurance), "description": "Insurance: exposure, premiums, loss ratios"},
		},
		"levels": []map[string]interface{}{
			{"level": 1, "description": "Headline facts, highest confidence"},
			{"level": 2, "description": "Supporting facts and secondary metrics"},
			{"level": 3, "description": "Detail extraction across all sections"},
			{"level": 4, "description": "Exhaustive, lower per-fact confidence"},
		},
	})
}

// GetSettingsHandler handles GET /api/extraction/settings.
func (h *ExtractionHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	settings, err := h.tenants.GetExtractionSettings(r.Context(), tc)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}

// UpdateSettingsHandler handles PUT /api/extraction/settings.
func (h *ExtractionHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var patch interfaces.ExtractionSettingsPatch
	if !DecodeJSON(w, r, &patch) {
		return
	}

	settings, err := h.tenants.UpdateExtractionSettings(r.Context(), tc, &patch)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, settings)
}

// TriggerHandler handles POST /api/extraction/trigger: queue a fact
// extraction for a version. Unset options fall back to the tenant defaults.
func (h *ExtractionHandler) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var body struct {
		VersionID      string `json:"version_id"`
		Profile        string `json:"profile"`
		Level          int    `json:"level"`
		ProcessContext string `json:"process_context"`
		Priority       int    `json:"priority"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.VersionID == "" {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "version_id is required")
		return
	}

	settings, err := h.tenants.GetExtractionSettings(r.Context(), tc)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if body.Profile == "" {
		body.Profile = string(settings.DefaultProfile)
	}
	if body.Level == 0 {
		body.Level = settings.DefaultLevel
	}
	if body.ProcessContext == "" {
		body.ProcessContext = settings.DefaultProcessContext
	}

	job, err := h.jobs.Enqueue(r.Context(), tc.TenantID, models.JobTypeExtractFacts, body.Priority, map[string]interface{}{
		"version_id":      body.VersionID,
		"profile":         body.Profile,
		"level":           body.Level,
		"process_context": body.ProcessContext,
	})
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     job.ID,
		"version_id": body.VersionID,
		"profile":    body.Profile,
		"level":      body.Level,
	})
}

// UpgradeHandler handles POST /api/extraction/upgrade: queue extraction at a
// higher level, feeding the prior level's facts as context.
func (h *ExtractionHandler) UpgradeHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var body struct {
		VersionID      string `json:"version_id"`
		TargetLevel    int    `json:"target_level"`
		Profile        string `json:"profile"`
		ProcessContext string `json:"process_context"`
		Priority       int    `json:"priority"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if body.VersionID == "" || body.TargetLevel == 0 {
		WriteError(w, r, http.StatusBadRequest, "validation_error", "version_id and target_level are required")
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), tc.TenantID, models.JobTypeUpgradeExtraction, body.Priority, map[string]interface{}{
		"version_id":      body.VersionID,
		"target_level":    body.TargetLevel,
		"profile":         body.Profile,
		"process_context": body.ProcessContext,
	})
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":       job.ID,
		"version_id":   body.VersionID,
		"target_level": body.TargetLevel,
	})
}

// ListRunsHandler handles GET /api/versions/{id}/runs.
func (h *ExtractionHandler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	versionID := segmentAfter(pathSegments(r), "versions")

	runs, err := h.facts.ListRuns(r.Context(), tc, versionID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version_id": versionID,
		"runs":       runs,
	})
}

// GetRunHandler handles GET /api/extraction/runs/{id}.
func (h *ExtractionHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	runID := segmentAfter(pathSegments(r), "runs")

	run, err := h.runs.GetRun(r.Context(), tc.TenantID, runID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// ListFactsHandler handles GET /api/versions/{id}/facts. The optional
// process_context query parameter partitions parallel extractions.
func (h *ExtractionHandler) ListFactsHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	versionID := segmentAfter(pathSegments(r), "versions")
	processContext := r.URL.Query().Get("process_context")

	bundle, err := h.facts.ListFacts(r.Context(), tc, versionID, processContext)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, bundle)
}

// QualityHandler handles GET /api/versions/{id}/quality: conflicts and open
// questions raised by the consistency analyzer.
func (h *ExtractionHandler) QualityHandler(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	versionID := segmentAfter(pathSegments(r), "versions")

	conflicts, err := h.quality.ListConflicts(r.Context(), tc, versionID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	questions, err := h.quality.ListOpenQuestions(r.Context(), tc, versionID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version_id":     versionID,
		"conflicts":      conflicts,
		"open_questions": questions,
	})
}
