package handlers

import (
	"net/http"
	"time"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/ternarybob/arbor"
)

// HealthHandler serves liveness, readiness, and the dependency breakdown.
// These routes bypass authentication so orchestrators can probe them.
type HealthHandler struct {
	storage   interfaces.StorageManager
	queue     interfaces.QueueManager
	startedAt time.Time
	logger    arbor.ILogger
}

func NewHealthHandler(storage interfaces.StorageManager, queue interfaces.QueueManager, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{
		storage:   storage,
		queue:     queue,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// LivenessHandler handles GET /healthz. Always ok while the process serves.
func (h *HealthHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// ReadinessHandler handles GET /readyz. Ready means the database answers a
// ping and the queue answers a stats probe.
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.storage.DB().PingContext(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness probe: database unreachable")
		WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"reason": "database",
		})
		return
	}
	if _, err := h.queue.Stats(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness probe: queue unreachable")
		WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"reason": "queue",
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

// HealthHandler handles GET /health: per-dependency status plus queue depths
// and uptime.
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	checks := map[string]interface{}{}

	if err := h.storage.DB().PingContext(ctx); err != nil {
		checks["database"] = map[string]interface{}{"status": "down", "error": err.Error()}
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = map[string]interface{}{"status": "up"}
	}

	if stats, err := h.queue.Stats(ctx); err != nil {
		checks["queue"] = map[string]interface{}{"status": "down", "error": err.Error()}
		status = http.StatusServiceUnavailable
	} else {
		checks["queue"] = map[string]interface{}{"status": "up", "depths": stats}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}

	WriteJSON(w, status, map[string]interface{}{
		"status":         overall,
		"version":        common.GetVersion(),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"checks":         checks,
	})
}

// VersionHandler handles GET /api/version.
func (h *HealthHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
