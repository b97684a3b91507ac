package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
)

// PDFServiceExtractor calls a remote extraction API for PDFs, with a circuit
// breaker in front. While the breaker is open, or when a call fails, it falls
// back to the local extractor so ingestion keeps moving on degraded remote
// service.
type PDFServiceExtractor struct {
	serviceURL string
	apiKey     string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	fallback   interfaces.Extractor
	logger     arbor.ILogger
}

func NewPDFServiceExtractor(logger arbor.ILogger, config *common.ExtractionConfig, fallback interfaces.Extractor) *PDFServiceExtractor {
	maxFailures := config.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "pdf-extraction",
		Timeout: config.BreakerCooldownDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &PDFServiceExtractor{
		serviceURL: config.ServiceURL,
		apiKey:     config.ServiceAPIKey,
		client:     &http.Client{Timeout: config.ServiceTimeoutDuration()},
		breaker:    breaker,
		fallback:   fallback,
		logger:     logger,
	}
}

func (e *PDFServiceExtractor) Name() string    { return "pdf_service" }
func (e *PDFServiceExtractor) Version() string { return "1.0.0" }

func (e *PDFServiceExtractor) Formats() []models.SourceFormat {
	return []models.SourceFormat{models.FormatPDF}
}

// remoteResponse is the extraction API's result payload.
type remoteResponse struct {
	PageCount int `json:"page_count"`
	Pages     []struct {
		Number int    `json:"number"`
		Text   string `json:"text"`
	} `json:"pages"`
	Warnings []string `json:"warnings,omitempty"`
}

func (e *PDFServiceExtractor) Extract(ctx context.Context, data []byte, filename string) (*models.ExtractedContent, error) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.callRemote(ctx, data, filename)
	})
	if err == nil {
		return result.(*models.ExtractedContent), nil
	}

	e.logger.Warn().Err(err).Str("filename", filename).Msg("Remote PDF extraction unavailable, using local engine")
	content, fallbackErr := e.fallback.Extract(ctx, data, filename)
	if fallbackErr != nil {
		return nil, fmt.Errorf("remote extraction failed (%v) and local fallback failed: %w", err, fallbackErr)
	}
	content.Warnings = append(content.Warnings, fmt.Sprintf("remote extraction unavailable: %v", err))
	return content, nil
}

func (e *PDFServiceExtractor) callRemote(ctx context.Context, data []byte, filename string) (*models.ExtractedContent, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serviceURL+"/v1/extract", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	started := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, string(payload))
	}

	var remote remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}

	content := &models.ExtractedContent{
		Format:   models.FormatPDF,
		Warnings: remote.Warnings,
		Metadata: map[string]interface{}{
			"page_count": remote.PageCount,
			"engine":     "service",
		},
	}
	for _, page := range remote.Pages {
		content.Pages = append(content.Pages, models.PageText{Number: page.Number, Text: page.Text})
	}

	e.logger.Debug().
		Str("filename", filename).
		Int("pages", len(content.Pages)).
		Dur("elapsed", time.Since(started)).
		Msg("Remote PDF extraction completed")
	return content, nil
}
