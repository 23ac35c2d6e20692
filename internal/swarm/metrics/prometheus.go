package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/swarm/internal/swarm"
	"github.com/wesleyorama2/swarm/internal/swarm/client"
)

// Prometheus metric names.
const (
	MetricRequestsTotal          = "swarm_requests_total"
	MetricRequestDurationSeconds = "swarm_request_duration_seconds"
	MetricResponseBytesTotal     = "swarm_response_bytes_total"
	MetricTasksTotal             = "swarm_tasks_total"
	MetricActiveUsers            = "swarm_active_users"
)

// PrometheusExporter publishes live run metrics on an HTTP endpoint.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type PrometheusExporter struct {
	mu sync.RWMutex

	config   PrometheusExporterConfig
	registry *prometheus.Registry

	requestsTotal          *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	responseBytesTotal     prometheus.Counter
	tasksTotal             *prometheus.CounterVec
	activeUsers            prometheus.Gauge

	server  *http.Server
	ln      net.Listener
	running bool

	lastError error
}

// PrometheusExporterConfig holds configuration for the Prometheus exporter.
type PrometheusExporterConfig struct {
	// Addr is the listen address of the metrics endpoint.
	// Default: ":9090"
	Addr string

	// Path is the URL path for the metrics endpoint.
	// Default: /metrics
	Path string

	// HistogramBuckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64
}

// DefaultPrometheusExporterConfig returns default configuration.
func DefaultPrometheusExporterConfig() PrometheusExporterConfig {
	return PrometheusExporterConfig{
		Addr:             ":9090",
		Path:             "/metrics",
		HistogramBuckets: prometheus.DefBuckets,
	}
}

// NewPrometheusExporter creates an exporter with its own registry.
func NewPrometheusExporter(config PrometheusExporterConfig) *PrometheusExporter {
	if config.Addr == "" {
		config.Addr = ":9090"
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = prometheus.DefBuckets
	}

	e := &PrometheusExporter{
		config:   config,
		registry: prometheus.NewRegistry(),
	}
	e.initMetrics()
	return e
}

func (e *PrometheusExporter) initMetrics() {
	e.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricRequestsTotal,
			Help: "Total number of requests made by virtual users.",
		},
		[]string{"method", "name", "status", "success"},
	)

	e.requestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricRequestDurationSeconds,
			Help:    "Duration of requests in seconds.",
			Buckets: e.config.HistogramBuckets,
		},
		[]string{"method", "name"},
	)

	e.responseBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: MetricResponseBytesTotal,
			Help: "Total bytes received from all requests.",
		},
	)

	e.tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricTasksTotal,
			Help: "Total number of task executions by outcome.",
		},
		[]string{"class", "task", "outcome"},
	)

	e.activeUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricActiveUsers,
			Help: "Number of currently running virtual users.",
		},
	)

	e.registry.MustRegister(
		e.requestsTotal,
		e.requestDurationSeconds,
		e.responseBytesTotal,
		e.tasksTotal,
		e.activeUsers,
	)
}

// Start starts the HTTP server for the metrics endpoint.
func (e *PrometheusExporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	ln, err := net.Listen("tcp", e.config.Addr)
	if err != nil {
		return fmt.Errorf("starting Prometheus exporter: %w", err)
	}
	e.ln = ln

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.mu.Lock()
			e.lastError = err
			e.mu.Unlock()
		}
	}()

	e.running = true
	return nil
}

// Stop shuts the HTTP server down.
func (e *PrometheusExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}
	e.running = false

	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

// RecordRequest implements Recorder.
func (e *PrometheusExporter) RecordRequest(ev client.RequestEvent) {
	success := "true"
	if ev.Err != nil {
		success = "false"
	}
	e.requestsTotal.WithLabelValues(ev.Method, ev.Name, strconv.Itoa(ev.StatusCode), success).Inc()
	e.requestDurationSeconds.WithLabelValues(ev.Method, ev.Name).Observe(ev.Duration.Seconds())
	e.responseBytesTotal.Add(float64(ev.BytesReceived))
}

// RecordTask implements Recorder.
func (e *PrometheusExporter) RecordTask(ev swarm.TaskEvent) {
	outcome := ev.Outcome.String()
	switch {
	case ev.Err != nil:
		outcome = "failed"
	case ev.Outcome == swarm.OutcomeNone:
		outcome = "completed"
	}
	e.tasksTotal.WithLabelValues(ev.Class, ev.Task, outcome).Inc()
}

// SetActiveUsers implements Recorder.
func (e *PrometheusExporter) SetActiveUsers(n int) {
	e.activeUsers.Set(float64(n))
}

// Addr returns the bound listen address once started, or the configured one.
func (e *PrometheusExporter) Addr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ln != nil {
		return e.ln.Addr().String()
	}
	return e.config.Addr
}

// URL returns the full address of the metrics endpoint.
func (e *PrometheusExporter) URL() string {
	addr := e.Addr()
	host, port, err := net.SplitHostPort(addr)
	if err == nil && (host == "" || host == "::" || host == "0.0.0.0") {
		addr = net.JoinHostPort("localhost", port)
	}
	return "http://" + addr + e.config.Path
}

// IsRunning returns whether the exporter is running.
func (e *PrometheusExporter) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// LastError returns the last error from the HTTP server, if any.
func (e *PrometheusExporter) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Registry returns the Prometheus registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}
