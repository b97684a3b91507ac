package embeddings

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"
)

func TestRetryDelay_GrowthAndCap(t *testing.T) {
	for attempt := 0; attempt < 5; attempt++ {
		floor := backoffBase * time.Duration(1<<attempt)
		ceiling := floor + floor/4
		if ceiling > backoffMax {
			ceiling = backoffMax
		}
		if floor > backoffMax {
			floor = backoffMax
		}
		for i := 0; i < 20; i++ {
			delay := retryDelay(attempt)
			if delay < floor || delay > ceiling {
				t.Fatalf("Attempt %d delay %v outside [%v, %v]", attempt, delay, floor, ceiling)
			}
		}
	}

	// 2^6 seconds already exceeds the cap, jitter included.
	for i := 0; i < 20; i++ {
		if delay := retryDelay(6); delay != backoffMax {
			t.Fatalf("Expected capped delay %v, got %v", backoffMax, delay)
		}
	}
}

func apiError(status int, header http.Header) *openai.Error {
	err := &openai.Error{StatusCode: status}
	if header != nil {
		err.Response = &http.Response{Header: header}
	}
	return err
}

func TestRetryAfter_SecondsHeader(t *testing.T) {
	err := apiError(429, http.Header{"Retry-After": []string{"7"}})
	if got := retryAfter(err); got != 7*time.Second {
		t.Fatalf("Expected 7s, got %v", got)
	}
}

func TestRetryAfter_HTTPDateHeader(t *testing.T) {
	at := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	err := apiError(429, http.Header{"Retry-After": []string{at}})
	got := retryAfter(err)
	if got <= 25*time.Second || got > 30*time.Second {
		t.Fatalf("Expected roughly 30s, got %v", got)
	}
}

func TestRetryAfter_Absent(t *testing.T) {
	if got := retryAfter(apiError(429, nil)); got != 0 {
		t.Fatalf("Expected 0 without header, got %v", got)
	}
	if got := retryAfter(errors.New("plain")); got != 0 {
		t.Fatalf("Expected 0 for non-API error, got %v", got)
	}
}

func TestRetryable_Classification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"rate limit", apiError(http.StatusTooManyRequests, nil), true},
		{"server error", apiError(http.StatusInternalServerError, nil), true},
		{"bad gateway", apiError(http.StatusBadGateway, nil), true},
		{"bad request", apiError(http.StatusBadRequest, nil), false},
		{"unauthorized", apiError(http.StatusUnauthorized, nil), false},
		{"transport", &url.Error{Op: "Post", URL: "https://api.test", Err: errors.New("connection refused")}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := retryable(tc.err); got != tc.want {
			t.Errorf("retryable(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
