package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/probatio/probatio/internal/interfaces"
)

const namespace = "probatio"

// statsTimeout bounds the queue probe during a scrape.
const statsTimeout = 2 * time.Second

// Metrics bundles the process's prometheus collectors behind one registry.
// Job and pipeline counters feed off the event bus; HTTP and search metrics
// are observed at the handler layer.
type Metrics struct {
	registry *prometheus.Registry

	jobsProcessed  *prometheus.CounterVec
	pipelineStages *prometheus.CounterVec
	searchRequests *prometheus.CounterVec
	searchLatency  *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New builds the registry with runtime collectors and the domain series.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Jobs reaching a terminal status, by type and outcome.",
		}, []string{"type", "status"}),
		pipelineStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_transitions_total",
			Help:      "Version processing status transitions.",
		}, []string{"status"}),
		searchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests by mode.",
		}, []string{"mode"}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency by mode.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"mode"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	registry.MustRegister(
		m.jobsProcessed, m.pipelineStages,
		m.searchRequests, m.searchLatency,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one search request and its latency.
func (m *Metrics) ObserveSearch(mode string, elapsed time.Duration) {
	m.searchRequests.WithLabelValues(mode).Inc()
	m.searchLatency.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// WatchQueue registers a collector that reads per-queue depth on scrape.
func (m *Metrics) WatchQueue(queue interfaces.QueueManager) {
	m.registry.MustRegister(&queueDepthCollector{
		queue: queue,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Messages waiting per queue.",
			[]string{"queue"}, nil),
	})
}

// RegisterEventObserver subscribes counters to the event bus: terminal job
// statuses and pipeline stage transitions are counted as they happen, so the
// worker and pipeline carry no metrics dependency.
func (m *Metrics) RegisterEventObserver(bus interfaces.EventService) error {
	if err := bus.Subscribe(interfaces.EventJobUpdated, m.onJobUpdated); err != nil {
		return err
	}
	return bus.Subscribe(interfaces.EventVersionStatusChanged, m.onVersionStatusChanged)
}

func (m *Metrics) onJobUpdated(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return nil
	}
	jobType, _ := payload["type"].(string)
	status, _ := payload["status"].(string)
	if jobType == "" || status == "" {
		return nil
	}
	switch status {
	case "succeeded", "failed", "canceled":
		m.jobsProcessed.WithLabelValues(jobType, status).Inc()
	}
	return nil
}

func (m *Metrics) onVersionStatusChanged(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return nil
	}
	if status, _ := payload["processing_status"].(string); status != "" {
		m.pipelineStages.WithLabelValues(status).Inc()
	}
	return nil
}

// queueDepthCollector reads queue stats at scrape time so the gauge is never
// stale.
type queueDepthCollector struct {
	queue interfaces.QueueManager
	desc  *prometheus.Desc
}

func (c *queueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *queueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	stats, err := c.queue.Stats(ctx)
	if err != nil {
		return
	}
	for queueName, depth := range stats {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(depth), queueName)
	}
}
