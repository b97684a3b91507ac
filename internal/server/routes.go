package server

import (
	"net/http"
	"strings"

	"github.com/probatio/probatio/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health and metrics (unauthenticated)
	mux.HandleFunc("/healthz", s.app.HealthHandler.LivenessHandler)
	mux.HandleFunc("/readyz", s.app.HealthHandler.ReadinessHandler)
	mux.HandleFunc("/health", s.app.HealthHandler.HealthHandler)
	mux.Handle("/metrics", s.app.Metrics.Handler())

	// WebSocket route
	if s.app.Config.WebSocket.Enabled {
		mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)
	}

	// Presigned blob transfer (HMAC-authenticated)
	mux.HandleFunc("/api/v1/blobs/", s.app.BlobHandler.ServeBlob)

	// API routes - Documents
	mux.HandleFunc("/api/documents", s.handleDocumentsRoute)                            // GET (list), POST (upload)
	mux.HandleFunc("/api/documents/ingest", s.postOnly(s.app.DocumentHandler.IngestURLHandler))
	mux.HandleFunc("/api/documents/ingest-folder", s.postOnly(s.app.DocumentHandler.IngestFolderHandler))
	mux.HandleFunc("/api/documents/uploads", s.postOnly(s.app.DocumentHandler.AllocateUploadHandler))
	mux.HandleFunc("/api/documents/uploads/", s.handleUploadRoutes)                     // POST /{versionID}/confirm
	mux.HandleFunc("/api/documents/", s.handleDocumentRoutes)                           // /{id} and subpaths

	// API routes - Versions and evidence
	mux.HandleFunc("/api/versions/", s.handleVersionRoutes)                             // /{id} and subpaths
	mux.HandleFunc("/api/spans/", s.getOnly(s.app.EvidenceHandler.GetSpanHandler))      // GET /{id}
	mux.HandleFunc("/api/claims/", s.getOnly(s.app.EvidenceHandler.GetClaimHandler))    // GET /{id}
	mux.HandleFunc("/api/metrics/", s.getOnly(s.app.EvidenceHandler.GetMetricHandler))  // GET /{id}

	// API routes - Search
	mux.HandleFunc("/api/search", s.postOnly(s.app.SearchHandler.SearchHandler))

	// API routes - Projects and evidence packs
	mux.HandleFunc("/api/projects", s.handleProjectsRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/projects/", s.handleProjectRoutes)
	mux.HandleFunc("/api/packs/", s.handlePackRoutes)

	// API routes - Extraction
	mux.HandleFunc("/api/extraction/profiles", s.getOnly(s.app.ExtractionHandler.ProfilesHandler))
	mux.HandleFunc("/api/extraction/settings", s.handleExtractionSettingsRoute) // GET, PUT
	mux.HandleFunc("/api/extraction/trigger", s.postOnly(s.app.ExtractionHandler.TriggerHandler))
	mux.HandleFunc("/api/extraction/upgrade", s.postOnly(s.app.ExtractionHandler.UpgradeHandler))
	mux.HandleFunc("/api/extraction/runs/", s.getOnly(s.app.ExtractionHandler.GetRunHandler)) // GET /{id}

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute) // GET (list), POST (enqueue)
	mux.HandleFunc("/api/jobs/summary", s.getOnly(s.app.JobHandler.SummaryHandler))
	mux.HandleFunc("/api/jobs/schedules", s.getOnly(s.app.JobHandler.SchedulesHandler))
	mux.HandleFunc("/api/jobs/process-next", s.postOnly(s.app.JobHandler.ProcessNextHandler))
	mux.HandleFunc("/api/jobs/batch/extract", s.postOnly(s.app.JobHandler.BatchExtractHandler))
	mux.HandleFunc("/api/jobs/batch/embed", s.postOnly(s.app.JobHandler.BatchEmbedHandler))
	mux.HandleFunc("/api/jobs/cleanup/stale", s.postOnly(s.app.JobHandler.CleanupStaleHandler))
	mux.HandleFunc("/api/jobs/cleanup/old", s.postOnly(s.app.JobHandler.CleanupOldHandler))
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // /{id} and subpaths

	// API routes - Audit trail
	mux.HandleFunc("/api/audit", s.getOnly(s.app.AuditHandler.ListHandler))

	// API routes - Tenant management (admin key)
	mux.HandleFunc("/api/tenants", s.handleTenantsRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/tenants/", s.handleTenantRoutes)

	// API routes - System
	mux.HandleFunc("/api/version", s.getOnly(s.app.HealthHandler.VersionHandler))

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.apiNotFoundHandler)

	return mux
}

func (s *Server) apiNotFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, r, http.StatusNotFound, "not_found", "The requested resource does not exist")
}

func (s *Server) getOnly(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{http.MethodGet: handler})
	}
}

func (s *Server) postOnly(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RouteByMethod(w, r, MethodRouter{http.MethodPost: handler})
	}
}

// handleDocumentsRoute routes /api/documents (list and upload)
func (s *Server) handleDocumentsRoute(w http.ResponseWriter, r *http.Request) {
	RouteCollection(w, r, s.app.DocumentHandler.ListHandler, s.app.DocumentHandler.UploadHandler)
}

// handleUploadRoutes routes /api/documents/uploads/{versionID}/confirm
func (s *Server) handleUploadRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/confirm") {
		s.app.DocumentHandler.ConfirmUploadHandler(w, r)
		return
	}
	s.apiNotFoundHandler(w, r)
}

// handleDocumentRoutes routes /api/documents/{id} and its subpaths
func (s *Server) handleDocumentRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/versions"):
		RouteCollection(w, r, s.app.DocumentHandler.ListVersionsHandler, s.app.DocumentHandler.UploadVersionHandler)
	case strings.HasSuffix(path, "/deletion"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.DocumentHandler.DeletionStatusHandler})
	case strings.HasSuffix(path, "/status"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.DocumentHandler.StatusHandler})
	default:
		RouteByMethod(w, r, MethodRouter{
			http.MethodGet:    s.app.DocumentHandler.GetHandler,
			http.MethodPatch:  s.app.DocumentHandler.UpdateMetadataHandler,
			http.MethodDelete: s.app.DocumentHandler.DeleteHandler,
		})
	}
}

// handleVersionRoutes routes /api/versions/{id} and its subpaths
func (s *Server) handleVersionRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/download"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.DocumentHandler.DownloadHandler})
	case strings.HasSuffix(path, "/download-url"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.DocumentHandler.DownloadURLHandler})
	case strings.HasSuffix(path, "/reprocess"):
		RouteByMethod(w, r, MethodRouter{http.MethodPost: s.app.DocumentHandler.ReprocessHandler})
	case strings.HasSuffix(path, "/spans"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.EvidenceHandler.ListSpansHandler})
	case strings.HasSuffix(path, "/facts"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.ExtractionHandler.ListFactsHandler})
	case strings.HasSuffix(path, "/quality"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.ExtractionHandler.QualityHandler})
	case strings.HasSuffix(path, "/runs"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.ExtractionHandler.ListRunsHandler})
	default:
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.DocumentHandler.GetVersionHandler})
	}
}

// handleProjectsRoute routes /api/projects (list and create)
func (s *Server) handleProjectsRoute(w http.ResponseWriter, r *http.Request) {
	RouteCollection(w, r, s.app.ProjectHandler.ListHandler, s.app.ProjectHandler.CreateHandler)
}

// handleProjectRoutes routes /api/projects/{id} and its subpaths
func (s *Server) handleProjectRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/search"):
		RouteByMethod(w, r, MethodRouter{http.MethodPost: s.app.SearchHandler.ProjectSearchHandler})
	case strings.HasSuffix(path, "/pin"):
		RouteByMethod(w, r, MethodRouter{http.MethodPut: s.app.ProjectHandler.PinVersionHandler})
	case strings.HasSuffix(path, "/folder"):
		RouteByMethod(w, r, MethodRouter{http.MethodPut: s.app.ProjectHandler.MoveToFolderHandler})
	case strings.HasSuffix(path, "/documents"):
		RouteCollection(w, r, s.app.ProjectHandler.ListDocumentsHandler, s.app.ProjectHandler.AttachDocumentHandler)
	case strings.Contains(path, "/documents/"):
		RouteByMethod(w, r, MethodRouter{http.MethodDelete: s.app.ProjectHandler.DetachDocumentHandler})
	case strings.HasSuffix(path, "/folders"):
		RouteCollection(w, r, s.app.ProjectHandler.ListFoldersHandler, s.app.ProjectHandler.CreateFolderHandler)
	case strings.Contains(path, "/folders/"):
		RouteByMethod(w, r, MethodRouter{
			http.MethodPatch:  s.app.ProjectHandler.RenameFolderHandler,
			http.MethodDelete: s.app.ProjectHandler.DeleteFolderHandler,
		})
	case strings.HasSuffix(path, "/packs"):
		RouteCollection(w, r, s.app.PackHandler.ListHandler, s.app.PackHandler.CreateHandler)
	default:
		RouteItem(w, r, s.app.ProjectHandler.GetHandler, s.app.ProjectHandler.UpdateHandler, s.app.ProjectHandler.DeleteHandler)
	}
}

// handlePackRoutes routes /api/packs/{id} and its subpaths
func (s *Server) handlePackRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/export"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.PackHandler.ExportHandler})
	case strings.HasSuffix(path, "/export.pdf"):
		RouteByMethod(w, r, MethodRouter{http.MethodGet: s.app.PackHandler.ExportPDFHandler})
	case strings.HasSuffix(path, "/items"):
		RouteCollection(w, r, s.app.PackHandler.ListItemsHandler, s.app.PackHandler.AddItemHandler)
	case strings.Contains(path, "/items/"):
		RouteByMethod(w, r, MethodRouter{http.MethodDelete: s.app.PackHandler.RemoveItemHandler})
	default:
		RouteItem(w, r, s.app.PackHandler.GetHandler, s.app.PackHandler.UpdateHandler, s.app.PackHandler.DeleteHandler)
	}
}

// handleExtractionSettingsRoute routes /api/extraction/settings (get and update)
func (s *Server) handleExtractionSettingsRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet: s.app.ExtractionHandler.GetSettingsHandler,
		http.MethodPut: s.app.ExtractionHandler.UpdateSettingsHandler,
	})
}

// handleJobsRoute routes /api/jobs (list and enqueue)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteCollection(w, r, s.app.JobHandler.ListHandler, s.app.JobHandler.EnqueueHandler)
}

// handleJobRoutes routes /api/jobs/{id} and its subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/cancel"):
		RouteByMethod(w, r, MethodRouter{http.MethodPost: s.app.JobHandler.CancelHandler})
	case strings.HasSuffix(path, "/retry"):
		RouteByMethod(w, r, MethodRouter{http.MethodPost: s.app.JobHandler.RetryHandler})
	case strings.HasSuffix(path, "/run"):
		RouteByMethod(w, r, MethodRouter{http.MethodPost: s.app.JobHandler.RunSyncHandler})
	default:
		RouteByMethod(w, r, MethodRouter{
			http.MethodGet:    s.app.JobHandler.GetHandler,
			http.MethodDelete: s.app.JobHandler.DeleteHandler,
		})
	}
}

// handleTenantsRoute routes /api/tenants (list and create)
func (s *Server) handleTenantsRoute(w http.ResponseWriter, r *http.Request) {
	RouteCollection(w, r, s.app.TenantHandler.ListHandler, s.app.TenantHandler.CreateHandler)
}

// handleTenantRoutes routes /api/tenants/{id} and its subpaths
func (s *Server) handleTenantRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/keys"):
		RouteCollection(w, r, s.app.TenantHandler.ListKeysHandler, s.app.TenantHandler.IssueKeyHandler)
	case strings.Contains(path, "/keys/"):
		RouteByMethod(w, r, MethodRouter{http.MethodDelete: s.app.TenantHandler.RevokeKeyHandler})
	default:
		RouteByMethod(w, r, MethodRouter{
			http.MethodGet:    s.app.TenantHandler.GetHandler,
			http.MethodDelete: s.app.TenantHandler.DeactivateHandler,
		})
	}
}
