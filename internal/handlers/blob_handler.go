package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/probatio/probatio/internal/interfaces"
	"github.com/ternarybob/arbor"
)

const blobPathPrefix = "/api/v1/blobs/"

// BlobHandler serves presigned blob URLs. The HMAC signature in the query
// string is the only credential; these routes bypass API-key auth.
type BlobHandler struct {
	blobs          interfaces.BlobStore
	maxUploadBytes int64
	logger         arbor.ILogger
}

func NewBlobHandler(blobs interfaces.BlobStore, maxUploadBytes int64, logger arbor.ILogger) *BlobHandler {
	return &BlobHandler{blobs: blobs, maxUploadBytes: maxUploadBytes, logger: logger}
}

// ServeBlob handles GET and PUT on /api/v1/blobs/{key}. Keys contain
// slashes, so the whole remainder of the path is the key.
func (h *BlobHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, blobPathPrefix)
	if key == "" || key == r.URL.Path {
		WriteError(w, r, http.StatusNotFound, "not_found", "The requested resource does not exist")
		return
	}

	query := r.URL.Query()
	verified, err := h.blobs.VerifyURL(key, query.Get("expires"), query.Get("sig"))
	if err != nil {
		// Expired and tampered both collapse to not-found.
		WriteServiceError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.download(w, r, verified)
	case http.MethodPut:
		h.upload(w, r, verified)
	default:
		WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "Method "+r.Method+" is not allowed for this resource")
	}
}

func (h *BlobHandler) download(w http.ResponseWriter, r *http.Request, key string) {
	reader, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	defer reader.Close()

	info, err := h.blobs.Stat(r.Context(), key)
	if err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.SizeBytes, 10))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+baseName(key)+`"`)

	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn().Err(err).Str("key", key).Msg("Blob download interrupted")
	}
}

func (h *BlobHandler) upload(w http.ResponseWriter, r *http.Request, key string) {
	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	defer body.Close()

	size, err := h.blobs.Put(r.Context(), key, body)
	if err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Upload exceeds the configured size limit")
			return
		}
		WriteServiceError(w, r, err)
		return
	}

	h.logger.Debug().Str("key", key).Int64("size_bytes", size).Msg("Presigned upload stored")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"key":        key,
		"size_bytes": size,
	})
}

func baseName(key string) string {
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		return key[idx+1:]
	}
	return key
}
