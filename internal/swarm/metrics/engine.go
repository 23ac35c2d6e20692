// Package metrics aggregates request and task statistics for a swarm run.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/swarm/internal/swarm"
	"github.com/wesleyorama2/swarm/internal/swarm/client"
)

// Recorder receives the same events as the Engine. It is how live exporters
// such as PrometheusExporter are fed.
type Recorder interface {
	RecordRequest(ev client.RequestEvent)
	RecordTask(ev swarm.TaskEvent)
	SetActiveUsers(n int)
}

// Engine collects request latencies in HDR histograms and counts task
// outcomes.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters are atomic and every histogram
// is guarded by a mutex, since hdrhistogram.Histogram is not thread-safe.
type Engine struct {
	config EngineConfig

	// Range: HistogramMin..HistogramMax microseconds
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	requests   map[string]*requestStats
	requestsMu sync.Mutex

	tasks   map[taskKey]*TaskStats
	tasksMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	activeUsers atomic.Int32
	peakUsers   atomic.Int32

	recorders []Recorder

	startTime time.Time
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

type requestStats struct {
	method   string
	name     string
	hist     *hdrhistogram.Histogram
	failures int64
	bytes    int64
	errors   map[string]int64
}

type taskKey struct {
	class, set, task string
}

// TaskStats counts executions of one task by outcome.
type TaskStats struct {
	Class       string `json:"class"`
	TaskSet     string `json:"taskSet,omitempty"`
	Task        string `json:"task"`
	Completed   int64  `json:"completed"`
	Failed      int64  `json:"failed"`
	Interrupted int64  `json:"interrupted"`
	Stopped     int64  `json:"stopped"`
}

// NewEngine creates an engine with the default configuration.
func NewEngine(recorders ...Recorder) *Engine {
	return NewEngineWithConfig(DefaultEngineConfig(), recorders...)
}

// NewEngineWithConfig creates an engine with a custom configuration.
// Events are forwarded to every recorder after being aggregated.
func NewEngineWithConfig(config EngineConfig, recorders ...Recorder) *Engine {
	if config.HistogramMin <= 0 {
		config.HistogramMin = 1
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = DefaultEngineConfig().HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = 3
	}

	return &Engine{
		config:      config,
		latencyHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requests:    make(map[string]*requestStats),
		tasks:       make(map[taskKey]*TaskStats),
		recorders:   recorders,
		startTime:   time.Now(),
	}
}

// RecordRequest records one completed request.
func (e *Engine) RecordRequest(ev client.RequestEvent) {
	latencyMicros := e.clamp(ev.Duration.Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	e.recordRequestStats(ev, latencyMicros)

	e.totalRequests.Add(1)
	e.totalBytes.Add(ev.BytesReceived)
	if ev.Err == nil {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}

	for _, r := range e.recorders {
		r.RecordRequest(ev)
	}
}

func (e *Engine) recordRequestStats(ev client.RequestEvent, latencyMicros int64) {
	key := ev.Method + " " + ev.Name

	e.requestsMu.Lock()
	defer e.requestsMu.Unlock()

	stats, ok := e.requests[key]
	if !ok {
		stats = &requestStats{
			method: ev.Method,
			name:   ev.Name,
			hist:   hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs),
			errors: make(map[string]int64),
		}
		e.requests[key] = stats
	}
	_ = stats.hist.RecordValue(latencyMicros)
	stats.bytes += ev.BytesReceived
	if ev.Err != nil {
		stats.failures++
		stats.errors[ev.Err.Error()]++
	}
}

func (e *Engine) clamp(v int64) int64 {
	if v < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return v
}

// RequestHooks returns client hooks that feed this engine.
func (e *Engine) RequestHooks() client.Hooks {
	return client.Hooks{
		OnSuccess: e.RecordRequest,
		OnFailure: e.RecordRequest,
	}
}

// ReportTask implements swarm.TaskReporter.
func (e *Engine) ReportTask(ev swarm.TaskEvent) {
	key := taskKey{class: ev.Class, set: ev.TaskSet, task: ev.Task}

	e.tasksMu.Lock()
	stats, ok := e.tasks[key]
	if !ok {
		stats = &TaskStats{Class: ev.Class, TaskSet: ev.TaskSet, Task: ev.Task}
		e.tasks[key] = stats
	}
	switch {
	case ev.Err != nil:
		stats.Failed++
	case ev.Outcome == swarm.OutcomeInterrupted:
		stats.Interrupted++
	case ev.Outcome.Terminal():
		stats.Stopped++
	default:
		stats.Completed++
	}
	e.tasksMu.Unlock()

	for _, r := range e.recorders {
		r.RecordTask(ev)
	}
}

// SetActiveUsers updates the active user gauge.
func (e *Engine) SetActiveUsers(n int) {
	e.activeUsers.Store(int32(n))
	for {
		peak := e.peakUsers.Load()
		if int32(n) <= peak || e.peakUsers.CompareAndSwap(peak, int32(n)) {
			break
		}
	}
	for _, r := range e.recorders {
		r.SetActiveUsers(n)
	}
}

// ActiveUsers returns the current active user count.
func (e *Engine) ActiveUsers() int {
	return int(e.activeUsers.Load())
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsOf(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latency,
		RPS:             rps,
		ErrorRate:       errorRate,
		ActiveUsers:     e.ActiveUsers(),
		PeakUsers:       int(e.peakUsers.Load()),
		Requests:        e.RequestStats(),
		Tasks:           e.TaskStats(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// RequestStats returns per-request statistics ordered by name, then method.
func (e *Engine) RequestStats() []RequestStats {
	e.requestsMu.Lock()
	defer e.requestsMu.Unlock()

	result := make([]RequestStats, 0, len(e.requests))
	for _, s := range e.requests {
		errs := make(map[string]int64, len(s.errors))
		for k, v := range s.errors {
			errs[k] = v
		}
		result = append(result, RequestStats{
			Method:   s.method,
			Name:     s.name,
			Latency:  statsOf(s.hist),
			Failures: s.failures,
			Bytes:    s.bytes,
			Errors:   errs,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Method < result[j].Method
	})
	return result
}

// TaskStats returns per-task counters ordered by class, task set and task.
func (e *Engine) TaskStats() []TaskStats {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	result := make([]TaskStats, 0, len(e.tasks))
	for _, s := range e.tasks {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		if a.TaskSet != b.TaskSet {
			return a.TaskSet < b.TaskSet
		}
		return a.Task < b.Task
	})
	return result
}

// Reset clears all metrics and restarts the clock.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.requestsMu.Lock()
	e.requests = make(map[string]*requestStats)
	e.requestsMu.Unlock()

	e.tasksMu.Lock()
	e.tasks = make(map[taskKey]*TaskStats)
	e.tasksMu.Unlock()

	e.totalRequests.Store(0)
	e.successRequests.Store(0)
	e.failedRequests.Store(0)
	e.totalBytes.Store(0)
	e.peakUsers.Store(e.activeUsers.Load())
	e.startTime = time.Now()
}

func statsOf(hist *hdrhistogram.Histogram) LatencyStats {
	if hist.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64          `json:"totalRequests"`
	SuccessRequests int64          `json:"successRequests"`
	FailedRequests  int64          `json:"failedRequests"`
	TotalBytes      int64          `json:"totalBytes"`
	Latency         LatencyStats   `json:"latency"`
	RPS             float64        `json:"rps"`
	ErrorRate       float64        `json:"errorRate"`
	ActiveUsers     int            `json:"activeUsers"`
	PeakUsers       int            `json:"peakUsers"`
	Requests        []RequestStats `json:"requests"`
	Tasks           []TaskStats    `json:"tasks"`
	Elapsed         time.Duration  `json:"elapsed"`
	StartTime       time.Time      `json:"startTime"`
	Timestamp       time.Time      `json:"timestamp"`
}

// RequestStats is the breakdown for one method and request name.
type RequestStats struct {
	Method   string           `json:"method"`
	Name     string           `json:"name"`
	Latency  LatencyStats     `json:"latency"`
	Failures int64            `json:"failures"`
	Bytes    int64            `json:"bytes"`
	Errors   map[string]int64 `json:"errors,omitempty"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
