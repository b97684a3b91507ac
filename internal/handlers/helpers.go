package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// maxBodyBytes bounds JSON request bodies. File uploads have their own limit
// from the upload config.
const maxBodyBytes = 1 << 20

type contextKey string

const (
	tenantContextKey contextKey = "tenant_context"
	requestIDKey     contextKey = "request_id"
)

// WithTenant stamps the authenticated principal onto the request context.
// The auth middleware is the only writer.
func WithTenant(ctx context.Context, tc models.TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

// TenantFrom reads the authenticated principal off the request context.
func TenantFrom(ctx context.Context) (models.TenantContext, bool) {
	tc, ok := ctx.Value(tenantContextKey).(models.TenantContext)
	return tc, ok
}

// WithRequestID stamps the request id onto the request context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom reads the request id off the request context.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requireTenant resolves the principal or answers 401. Routes behind the auth
// middleware always have one; this guards direct handler invocation.
func requireTenant(w http.ResponseWriter, r *http.Request) (models.TenantContext, bool) {
	tc, ok := TenantFrom(r.Context())
	if !ok {
		WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Missing or invalid credentials")
	}
	return tc, ok
}

// RequireMethod validates the HTTP method, answering 405 on mismatch.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed",
			fmt.Sprintf("Method %s is not allowed for this resource", r.Method))
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// errorDetails carries the diagnostic block of the error envelope.
type errorDetails struct {
	RequestID    string `json:"request_id,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// errorEnvelope is the uniform non-2xx response body.
type errorEnvelope struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Details *errorDetails `json:"details,omitempty"`
}

// WriteError writes the error envelope with the request id attached.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) error {
	envelope := errorEnvelope{Error: code, Message: message}
	if id := RequestIDFrom(r.Context()); id != "" {
		envelope.Details = &errorDetails{RequestID: id}
	}
	return WriteJSON(w, statusCode, envelope)
}

// WriteServiceError maps service sentinels to HTTP statuses. Cross-tenant
// reads surface as not_found, never forbidden.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) error {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return WriteError(w, r, http.StatusNotFound, "not_found", "The requested resource does not exist")
	case errors.Is(err, interfaces.ErrValidation):
		return WriteError(w, r, http.StatusBadRequest, "validation_error", serviceMessage(err))
	case errors.Is(err, interfaces.ErrDuplicate):
		return WriteError(w, r, http.StatusConflict, "duplicate", serviceMessage(err))
	case errors.Is(err, interfaces.ErrActiveRunExists):
		return WriteError(w, r, http.StatusConflict, "active_run_exists", serviceMessage(err))
	case errors.Is(err, interfaces.ErrInvalidTransition):
		return WriteError(w, r, http.StatusConflict, "invalid_transition", serviceMessage(err))
	default:
		envelope := errorEnvelope{
			Error:   "internal_error",
			Message: "An internal error occurred",
			Details: &errorDetails{
				RequestID:    RequestIDFrom(r.Context()),
				ErrorType:    "internal",
				ErrorMessage: err.Error(),
			},
		}
		return WriteJSON(w, http.StatusInternalServerError, envelope)
	}
}

// serviceMessage strips nothing: sentinel-wrapped messages are already
// human-readable and carry no internals.
func serviceMessage(err error) string {
	return err.Error()
}

// DecodeJSON reads a bounded JSON body into dst. Unknown fields are ignored
// so clients can send supersets.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			WriteError(w, r, http.StatusBadRequest, "validation_error", "Request body is required")
		} else {
			WriteError(w, r, http.StatusBadRequest, "validation_error", "Invalid JSON body: "+err.Error())
		}
		return false
	}
	return true
}

// GetListOptions extracts limit/offset/sort query parameters.
// Limit defaults to 50 and caps at 200.
func GetListOptions(r *http.Request) *interfaces.ListOptions {
	opts := &interfaces.ListOptions{Limit: 50}
	query := r.URL.Query()

	if v, err := strconv.Atoi(query.Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	if opts.Limit > 200 {
		opts.Limit = 200
	}
	if v, err := strconv.Atoi(query.Get("offset")); err == nil && v >= 0 {
		opts.Offset = v
	}
	opts.SortBy = query.Get("sort_by")
	opts.SortOrder = query.Get("sort_order")
	return opts
}

// pathSegments splits the request path into its non-empty segments.
// "/api/documents/doc_1/versions" yields ["api", "documents", "doc_1", "versions"].
func pathSegments(r *http.Request) []string {
	return strings.FieldsFunc(r.URL.Path, func(c rune) bool { return c == '/' })
}

// segmentAfter returns the path segment following the named one, or "".
func segmentAfter(segments []string, name string) string {
	for i, s := range segments {
		if s == name && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return ""
}

// csvParam splits a comma-separated query parameter into trimmed values.
func csvParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
