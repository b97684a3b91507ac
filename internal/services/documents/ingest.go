package documents

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

const maxIngestRedirects = 5

// EnqueueURLIngest validates the URLs up front and queues one bulk job
// covering all of them. The worker fetches each URL and reports per-URL
// progress on the job.
func (s *Service) EnqueueURLIngest(ctx context.Context, tc models.TenantContext, urls []string, priority int, opts interfaces.ProcessOptions) (string, error) {
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: no URLs to ingest", interfaces.ErrValidation)
	}
	for _, raw := range urls {
		if _, err := s.validateIngestURL(raw); err != nil {
			return "", err
		}
	}

	payload := processPayload(opts)
	payload["urls"] = urls

	job := models.NewJob(tc.TenantID, models.JobTypeBulkURLIngest, priority, payload)
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create ingestion job: %w", err)
	}
	msg := &models.QueueMessage{
		JobID:      job.ID,
		TenantID:   tc.TenantID,
		Type:       job.Type,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, models.QueueForPriority(job.Priority), msg); err != nil {
		return "", fmt.Errorf("failed to enqueue ingestion job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Int("urls", len(urls)).
		Msg("Bulk URL ingestion queued")
	return job.ID, nil
}

// IngestURL downloads one URL and runs the standard upload path on the
// payload. Worker-side: the bulk ingestion handler calls this per URL.
func (s *Service) IngestURL(ctx context.Context, tc models.TenantContext, rawURL string, priority int, opts interfaces.ProcessOptions) (*interfaces.UploadResult, error) {
	parsed, err := s.validateIngestURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if s.ingest.UserAgent != "" {
		req.Header.Set("User-Agent", s.ingest.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, rawURL)
	}

	filename := filenameFromResponse(resp, parsed)
	if err := s.validateFilename(filename); err != nil {
		return nil, err
	}

	result, err := s.Upload(ctx, tc, &interfaces.UploadRequest{
		Filename:    filename,
		ContentType: responseContentType(resp),
		Data:        resp.Body,
		SourceType:  models.SourceTypeURL,
		SourceURL:   parsed.String(),
		Priority:    priority,
		Process:     opts,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("url", parsed.String()).
		Str("document_id", result.Document.ID).
		Bool("deduplicated", result.Deduplicated).
		Msg("URL ingested")
	return result, nil
}

// validateIngestURL rejects URLs the downloader must not touch. Literal
// private addresses fail here; hostnames that resolve to private space fail
// at dial time inside the ingest client.
func (s *Service) validateIngestURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q", interfaces.ErrValidation, raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported URL scheme %q", interfaces.ErrValidation, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: URL %q has no host", interfaces.ErrValidation, raw)
	}
	if s.ingest.AllowPrivateHosts {
		return parsed, nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return nil, fmt.Errorf("%w: URL host %q is blocked", interfaces.ErrValidation, host)
	}
	if ip := net.ParseIP(host); ip != nil && privateIP(ip) {
		return nil, fmt.Errorf("%w: URL host %s is a private address", interfaces.ErrValidation, host)
	}
	return parsed, nil
}

// newIngestClient builds the download client. The dial hook re-checks every
// connection target, so DNS answers and redirect chains cannot reach private
// address space when the guard is on.
func newIngestClient(cfg *common.IngestConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.AllowPrivateHosts {
		dialer := &net.Dialer{Timeout: 10 * time.Second}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, err
			}
			for _, ip := range ips {
				if privateIP(ip) {
					return nil, fmt.Errorf("%w: %s resolves to private address %s", interfaces.ErrValidation, host, ip)
				}
			}
			// Dial the address we just vetted, not the hostname again.
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
		}
	}
	return &http.Client{
		Timeout:   cfg.URLTimeoutDuration(),
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxIngestRedirects {
				return fmt.Errorf("stopped after %d redirects", maxIngestRedirects)
			}
			return nil
		},
	}
}

// privateIP reports whether an address is off-limits for ingestion:
// loopback, RFC 1918/4193, link-local, or unspecified.
func privateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// filenameFromResponse picks the download's filename: Content-Disposition
// wins, then the URL path, then a stem with a content-type extension.
func filenameFromResponse(resp *http.Response, u *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			// "file" is the sanitizer's fallback for degenerate names.
			if name := common.SanitizeFilename(params["filename"]); name != "file" {
				return name
			}
		}
	}

	contentExt := extensionForContentType(resp.Header.Get("Content-Type"))
	if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
		name := common.SanitizeFilename(base)
		if strings.Contains(name, ".") {
			return name
		}
		return name + contentExt
	}
	return "download" + contentExt
}

func extensionForContentType(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "application/pdf":
		return ".pdf"
	case "text/html", "application/xhtml+xml":
		return ".html"
	case "text/markdown":
		return ".md"
	case "text/csv":
		return ".csv"
	case "text/plain":
		return ".txt"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}

func responseContentType(resp *http.Response) string {
	header := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(header); err == nil {
		return mediaType
	}
	return header
}
