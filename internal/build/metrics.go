package build

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "kclvm"

// BuildMetrics tracks assembler activity. Counters are exported through a
// private Prometheus registry; Snapshot gives the same numbers for summaries.
type BuildMetrics struct {
	registry *prometheus.Registry

	compileCounter  *prometheus.CounterVec
	cacheCounter    *prometheus.CounterVec
	compileDuration prometheus.Histogram
	genLibsDuration *prometheus.HistogramVec
	activeGenLibs   prometheus.Gauge

	mu       sync.RWMutex
	snapshot MetricsSnapshot
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	FailedBuilds     int64
	CacheHits        int64
	CacheMisses      int64
	TotalDuration    time.Duration
	AverageDuration  time.Duration
}

// NewBuildMetrics creates a metrics tracker with its own registry.
func NewBuildMetrics() *BuildMetrics {
	m := &BuildMetrics{
		registry: prometheus.NewRegistry(),
		compileCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "build",
			Name:      "package_compiles_total",
			Help:      "Package compilations by result.",
		}, []string{"result"}),
		cacheCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Package cache lookups by result.",
		}, []string{"result"}),
		compileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "build",
			Name:      "package_compile_duration_seconds",
			Help:      "Time spent compiling one package.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		genLibsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "build",
			Name:      "gen_libs_duration_seconds",
			Help:      "Wall time of whole library generation runs by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"outcome"}),
		activeGenLibs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "build",
			Name:      "gen_libs_in_flight",
			Help:      "Library generation runs currently in progress.",
		}),
	}

	m.registry.MustRegister(
		m.compileCounter,
		m.cacheCounter,
		m.compileDuration,
		m.genLibsDuration,
		m.activeGenLibs,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *BuildMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCompile records one package compilation.
func (m *BuildMetrics) RecordCompile(pkg string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.compileCounter.WithLabelValues(result).Inc()
	m.compileDuration.Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot.TotalBuilds++
	m.snapshot.TotalDuration += duration
	if err != nil {
		m.snapshot.FailedBuilds++
	} else {
		m.snapshot.SuccessfulBuilds++
	}
	m.snapshot.AverageDuration = m.snapshot.TotalDuration / time.Duration(m.snapshot.TotalBuilds)
}

// RecordCacheLookup records a cache hit or miss.
func (m *BuildMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheCounter.WithLabelValues(result).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.snapshot.CacheHits++
	} else {
		m.snapshot.CacheMisses++
	}
}

// StartGenLibs marks a run in flight and returns a func recording its end.
func (m *BuildMetrics) StartGenLibs() func(err *error) {
	if m == nil {
		return func(*error) {}
	}
	start := time.Now()
	m.activeGenLibs.Inc()
	return func(err *error) {
		m.activeGenLibs.Dec()
		outcome := "success"
		if err != nil && *err != nil {
			outcome = "failure"
		}
		m.genLibsDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// GetSnapshot returns a copy of the counters.
func (m *BuildMetrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// GetCacheHitRate returns the cache hit rate as a percentage
func (m *BuildMetrics) GetCacheHitRate() float64 {
	s := m.GetSnapshot()
	lookups := s.CacheHits + s.CacheMisses
	if lookups == 0 {
		return 0.0
	}
	return float64(s.CacheHits) / float64(lookups) * 100.0
}

// WriteTextfile writes the registry in the text exposition format, for the
// node exporter textfile collector.
func (m *BuildMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
