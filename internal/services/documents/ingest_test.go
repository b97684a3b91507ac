package documents

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

func TestEnqueueURLIngest_CreatesBulkJob(t *testing.T) {
	env := setupDocuments(t)
	ctx := context.Background()
	urls := []string{
		"https://example.com/reports/q1.pdf",
		"https://example.com/reports/q2.pdf",
	}

	jobID, err := env.svc.EnqueueURLIngest(ctx, env.tc, urls, 5, interfaces.ProcessOptions{
		Profile: models.ProfileVC,
	})
	require.NoError(t, err)

	job, err := env.db.JobStorage().GetJob(ctx, env.tc.TenantID, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeBulkURLIngest, job.Type)
	assert.Equal(t, 5, job.Priority)
	assert.Equal(t, string(models.ProfileVC), job.Payload["profile"])

	stored, ok := job.Payload["urls"].([]any)
	require.True(t, ok)
	require.Len(t, stored, 2)
	assert.Equal(t, urls[0], stored[0])
	assert.Equal(t, urls[1], stored[1])

	msg, ack, err := env.queue.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, models.JobTypeBulkURLIngest, msg.Type)
	require.NoError(t, ack())
}

func TestEnqueueURLIngest_RejectsBadInput(t *testing.T) {
	env := setupDocuments(t)
	ctx := context.Background()

	_, err := env.svc.EnqueueURLIngest(ctx, env.tc, nil, 0, interfaces.ProcessOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	// One bad URL sinks the whole batch, before any job exists.
	_, err = env.svc.EnqueueURLIngest(ctx, env.tc, []string{
		"https://example.com/fine.pdf",
		"ftp://example.com/nope.pdf",
	}, 0, interfaces.ProcessOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, _, err = env.queue.Receive(ctx)
	assert.ErrorIs(t, err, interfaces.ErrNoMessage)
}

func TestValidateIngestURL_BlocksPrivateTargets(t *testing.T) {
	strict := &Service{ingest: &common.IngestConfig{}}

	blocked := []string{
		"ftp://example.com/doc.pdf",
		"file:///etc/passwd",
		"https:///no-host.pdf",
		"https://localhost/doc.pdf",
		"https://svc.internal.localhost/doc.pdf",
		"http://127.0.0.1:8080/doc.pdf",
		"http://10.0.0.8/doc.pdf",
		"http://172.16.4.2/doc.pdf",
		"http://192.168.1.5/doc.pdf",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/doc.pdf",
		"http://0.0.0.0/doc.pdf",
	}
	for _, raw := range blocked {
		_, err := strict.validateIngestURL(raw)
		assert.ErrorIs(t, err, interfaces.ErrValidation, "expected %s to be blocked", raw)
	}

	allowed := []string{
		"https://example.com/doc.pdf",
		"http://example.com/reports/q3.pdf?version=2",
	}
	for _, raw := range allowed {
		parsed, err := strict.validateIngestURL(raw)
		require.NoError(t, err, "expected %s to pass", raw)
		assert.Equal(t, "example.com", parsed.Hostname())
	}

	// The escape hatch admits loopback targets.
	relaxed := &Service{ingest: &common.IngestConfig{AllowPrivateHosts: true}}
	_, err := relaxed.validateIngestURL("http://127.0.0.1:9/doc.pdf")
	assert.NoError(t, err)
}

func TestIngestURL_DownloadsAndStores(t *testing.T) {
	env := setupDocuments(t)
	ctx := context.Background()
	body := []byte("%PDF-1.7 briefing content")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(body)
	}))
	defer srv.Close()

	sourceURL := srv.URL + "/files/briefing.pdf"
	result, err := env.svc.IngestURL(ctx, env.tc, sourceURL, 0, interfaces.ProcessOptions{})
	require.NoError(t, err)
	assert.False(t, result.Deduplicated)
	assert.Equal(t, "briefing.pdf", result.Document.Filename)
	assert.Equal(t, "application/pdf", result.Document.ContentType)
	assert.Equal(t, models.SourceTypeURL, result.Document.SourceType)
	assert.Equal(t, sourceURL, result.Document.SourceURL)
	assert.Equal(t, common.HashBytes(body), result.Version.ContentHash)
	assert.Equal(t, models.UploadStatusUploaded, result.Version.UploadStatus)
	require.NotEmpty(t, result.JobID)
}

func TestIngestURL_ContentDispositionNamesFile(t *testing.T) {
	env := setupDocuments(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="annual-report.pdf"`)
		w.Write([]byte("attachment bytes"))
	}))
	defer srv.Close()

	result, err := env.svc.IngestURL(ctx, env.tc, srv.URL+"/dl?id=42", 0, interfaces.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "annual-report.pdf", result.Document.Filename)
}

func TestIngestURL_InfersExtensionFromContentType(t *testing.T) {
	env := setupDocuments(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		// Distinct bodies per path keep the dedup check out of the way.
		fmt.Fprintf(w, "<html><body>%s</body></html>", r.URL.Path)
	}))
	defer srv.Close()

	// Extensionless path: the media type supplies the extension.
	result, err := env.svc.IngestURL(ctx, env.tc, srv.URL+"/fetch", 0, interfaces.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fetch.html", result.Document.Filename)
	assert.Equal(t, "text/html", result.Document.ContentType)

	// Bare root path: fall back to a generic name.
	result, err = env.svc.IngestURL(ctx, env.tc, srv.URL+"/", 0, interfaces.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "download.html", result.Document.Filename)
}

func TestIngestURL_RefusesNon200(t *testing.T) {
	env := setupDocuments(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := env.svc.IngestURL(ctx, env.tc, srv.URL+"/missing.pdf", 0, interfaces.ProcessOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")

	_, total, err := env.svc.List(ctx, env.tc, nil)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIngestURL_EnforcesSizeCap(t *testing.T) {
	env := setupDocuments(t)
	ctx := context.Background()
	big := bytes.Repeat([]byte("x"), 1024*1024+1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(big)
	}))
	defer srv.Close()

	_, err := env.svc.IngestURL(ctx, env.tc, srv.URL+"/huge.pdf", 0, interfaces.ProcessOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}
