// Package metrics provides runtime statistics for the fusion server: an
// in-memory collector backing the stats endpoint and Prometheus
// instruments for scraping.
package metrics

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raphaelgruber/datafuse-go/internal/fusion"
)

// Operation names for the collector.
const (
	OpFuse    = "fuse"
	OpUpload  = "upload"
	OpRequest = "http_request"
)

var (
	fusionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "datafuse_fusion_duration_seconds",
		Help:    "Wall time of complete fusion runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})
	targetsTrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datafuse_targets_trained_total",
		Help: "Per-target models trained successfully.",
	})
	targetsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datafuse_targets_failed_total",
		Help: "Per-target model failures.",
	})
	fusedRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datafuse_fused_rows_total",
		Help: "Rows emitted in fused tables.",
	})
	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "datafuse_active_jobs",
		Help: "Background fusion jobs currently pending or running.",
	})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "datafuse_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// JobStarted and JobFinished track the active background job gauge.
func JobStarted()  { activeJobs.Inc() }
func JobFinished() { activeJobs.Dec() }

// ObserveHTTP records one HTTP request in the Prometheus histogram.
func ObserveHTTP(route, status string, duration time.Duration) {
	httpDuration.WithLabelValues(route, status).Observe(duration.Seconds())
}

// OperationMetrics holds aggregated timings for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds  float64            `json:"uptime_seconds"`
	TargetsTrained int64              `json:"targets_trained"`
	TargetsFailed  int64              `json:"targets_failed"`
	FusedRows      int64              `json:"fused_rows"`
	Fuse           *OperationSnapshot `json:"fuse,omitempty"`
	Upload         *OperationSnapshot `json:"upload,omitempty"`
	Request        *OperationSnapshot `json:"http_request,omitempty"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics

	targetsTrained int64
	targetsFailed  int64
	fusedRows      int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold the write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordFusion records one completed fusion run across both sinks.
func (c *Collector) RecordFusion(duration time.Duration, result *fusion.Result) {
	trained := int64(len(result.ModelsAToB) + len(result.ModelsBToA))
	failed := int64(len(result.FailuresAToB) + len(result.FailuresBToA))
	rows := int64(result.Fused.NumRows())

	fusionDuration.Observe(duration.Seconds())
	targetsTrained.Add(float64(trained))
	targetsFailed.Add(float64(failed))
	fusedRows.Add(float64(rows))

	c.mu.Lock()
	c.targetsTrained += trained
	c.targetsFailed += failed
	c.fusedRows += rows
	c.mu.Unlock()

	c.RecordTiming(OpFuse, duration)
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:  time.Since(c.startTime).Seconds(),
		TargetsTrained: c.targetsTrained,
		TargetsFailed:  c.targetsFailed,
		FusedRows:      c.fusedRows,
		Fuse:           snapshotOp(c.ops[OpFuse]),
		Upload:         snapshotOp(c.ops[OpUpload]),
		Request:        snapshotOp(c.ops[OpRequest]),
	}
}
