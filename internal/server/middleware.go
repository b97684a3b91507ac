package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/probatio/probatio/internal/handlers"
)

// withMiddleware wraps the router with the middleware chain. Applied in
// reverse order, so requests flow recovery -> request id -> logging ->
// cors -> auth -> routes.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	handler = s.authMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// publicPath reports whether the route skips API-key auth. Health probes and
// metrics must work for orchestrators; presigned blob URLs carry their own
// HMAC credential; the websocket route authenticates itself because browser
// clients cannot set headers.
func publicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/health", "/metrics", "/ws":
		return true
	}
	return strings.HasPrefix(path, "/api/v1/blobs/")
}

// adminPath reports whether the route requires the admin key instead of a
// tenant key.
func adminPath(path string) bool {
	return path == "/api/tenants" || strings.HasPrefix(path, "/api/tenants/")
}

// authMiddleware resolves the caller to a tenant principal. Tenant
// management routes take the admin key; everything else under /api takes a
// tenant API key. Unknown keys and cross-tenant probes both end in 401 here
// or 404 later, never 403.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if adminPath(path) {
			s.requireAdmin(w, r, next)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			if authz := r.Header.Get("Authorization"); authz != "" {
				if strings.HasPrefix(authz, "Bearer ") {
					// Token auth is not wired to an issuer yet.
					handlers.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Bearer tokens are not supported; use an API key")
					return
				}
			}
		}

		if apiKey == "" && !s.app.Config.Auth.Required && s.app.Config.Auth.BootstrapAPIKey != "" {
			// Dev mode: anonymous requests act as the bootstrap tenant.
			apiKey = s.app.Config.Auth.BootstrapAPIKey
		}

		if apiKey != "" {
			tc, err := s.app.TenantService.Authenticate(r.Context(), apiKey)
			if err != nil {
				handlers.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid or expired API key")
				return
			}
			r = r.WithContext(handlers.WithTenant(r.Context(), *tc))
			next.ServeHTTP(w, r)
			return
		}

		if publicPath(path) {
			next.ServeHTTP(w, r)
			return
		}

		handlers.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "API key required")
	})
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request, next http.Handler) {
	adminKey := s.app.Config.Auth.AdminAPIKey
	if adminKey == "" {
		handlers.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Tenant management is not enabled")
		return
	}

	presented := r.Header.Get("X-Admin-Key")
	if presented == "" {
		presented = r.Header.Get("X-API-Key")
	}
	if presented != adminKey {
		handlers.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Admin key required")
		return
	}

	next.ServeHTTP(w, r)
}

// requestIDMiddleware tags every request with an id that flows into logs,
// error envelopes, and the X-Request-ID response header.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = "req_" + uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(handlers.WithRequestID(r.Context(), requestID))
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests and responses and feeds the request
// histogram.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		logEvent := s.app.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr)
		if r.URL.RawQuery != "" {
			logEvent.Str("query", r.URL.RawQuery)
		}
		logEvent.Msg("HTTP request")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		if s.app.Metrics != nil {
			s.app.Metrics.ObserveRequest(r.Method, rw.statusCode, duration)
		}
		s.app.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", duration).
			Msg("HTTP response")
	})
}

// corsMiddleware handles CORS headers for browser clients.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := s.app.Config.Server.AllowedOrigins
	allowAll := len(allowed) == 0
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin := r.Header.Get("Origin"); origin != "" {
			for _, candidate := range allowed {
				if candidate == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Admin-Key, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.app.Logger.Error().
					Str("error", fmt.Sprintf("%v", err)).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				handlers.WriteError(w, r, http.StatusInternalServerError, "internal_error", "An internal error occurred")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker interface for WebSocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("responseWriter does not implement http.Hijacker")
}
