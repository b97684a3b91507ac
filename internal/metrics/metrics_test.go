package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/models"
	"github.com/probatio/probatio/internal/queue"
	"github.com/probatio/probatio/internal/services/events"
)

func TestObserveSearch(t *testing.T) {
	m := New()
	m.ObserveSearch("hybrid", 50*time.Millisecond)
	m.ObserveSearch("hybrid", 10*time.Millisecond)
	m.ObserveSearch("exact", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.searchRequests.WithLabelValues("hybrid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searchRequests.WithLabelValues("exact")))
}

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, 200, 5*time.Millisecond)
	m.ObserveRequest(http.MethodGet, 200, 8*time.Millisecond)
	m.ObserveRequest(http.MethodPost, 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "404")))
}

func TestEventObserver_CountsTerminalJobs(t *testing.T) {
	m := New()
	bus := events.NewService(arbor.NewLogger())
	require.NoError(t, m.RegisterEventObserver(bus))
	ctx := context.Background()

	publish := func(status string) {
		require.NoError(t, bus.PublishSync(ctx, interfaces.Event{
			Type:     interfaces.EventJobUpdated,
			TenantID: "tnt_1",
			Payload: map[string]interface{}{
				"type":   models.JobTypeProcessVersion,
				"status": status,
			},
		}))
	}

	publish("running")
	publish("succeeded")
	publish("succeeded")
	publish("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues(models.JobTypeProcessVersion, "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues(models.JobTypeProcessVersion, "failed")))
	// Intermediate statuses are not terminal outcomes.
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues(models.JobTypeProcessVersion, "running")))
}

func TestEventObserver_CountsStageTransitions(t *testing.T) {
	m := New()
	bus := events.NewService(arbor.NewLogger())
	require.NoError(t, m.RegisterEventObserver(bus))

	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:     interfaces.EventVersionStatusChanged,
		TenantID: "tnt_1",
		Payload: map[string]interface{}{
			"version_id":        "ver_1",
			"processing_status": string(models.ProcessingStatusEmbedded),
		},
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineStages.WithLabelValues(string(models.ProcessingStatusEmbedded))))
}

func TestWatchQueue_ReportsDepthOnScrape(t *testing.T) {
	logger := arbor.NewLogger()
	q, err := queue.NewBadgerQueue(logger, &common.QueueConfig{
		Backend:           "badger",
		VisibilityTimeout: "5m",
		MaxReceive:        3,
		Badger:            common.BadgerQueue{Path: t.TempDir() + "/queue"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	ctx := context.Background()
	for _, job := range []*models.Job{
		models.NewJob("tnt_1", models.JobTypeProcessVersion, 10, nil),
		models.NewJob("tnt_1", models.JobTypeProcessVersion, 10, nil),
	} {
		require.NoError(t, q.Enqueue(ctx, models.QueueHigh, &models.QueueMessage{
			JobID:      job.ID,
			TenantID:   job.TenantID,
			Type:       job.Type,
			EnqueuedAt: time.Now().UTC(),
		}))
	}

	m := New()
	m.WatchQueue(q)

	families, err := m.registry.Gather()
	require.NoError(t, err)

	depths := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "probatio_queue_depth" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "queue" {
					depths[label.GetValue()] = metric.GetGauge().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 2.0, depths[models.QueueHigh])
	assert.Equal(t, 0.0, depths[models.QueueNormal])
}

func TestHandler_ServesRegistry(t *testing.T) {
	m := New()
	m.ObserveSearch("semantic", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "probatio_search_requests_total")
	assert.Contains(t, body, "go_goroutines")
}
