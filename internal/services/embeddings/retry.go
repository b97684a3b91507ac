package embeddings

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openai/openai-go/v3"
)

var (
	backoffBase = time.Second
	backoffMax  = 60 * time.Second
)

// retryDelay computes exponential backoff with up to 25% jitter,
// capped at backoffMax. attempt is zero-based.
func retryDelay(attempt int) time.Duration {
	backoff := float64(backoffBase) * math.Pow(2, float64(attempt))
	backoff *= 1 + rand.Float64()*0.25
	if backoff > float64(backoffMax) {
		backoff = float64(backoffMax)
	}
	return time.Duration(backoff)
}

// retryAfter extracts the vendor's Retry-After hint, which overrides
// computed backoff when present. Returns zero when the error carries none.
func retryAfter(err error) time.Duration {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) || apiErr.Response == nil {
		return 0
	}
	header := apiErr.Response.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if seconds, convErr := strconv.Atoi(header); convErr == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, parseErr := http.ParseTime(header); parseErr == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

// retryable reports whether a vendor call is worth repeating. Rate limits
// and server-side failures are transient; schema and auth errors are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
