package snapshotgen

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks engine performance using lock-free atomic operations.
// All methods are safe for concurrent use.
type Metrics struct {
	// Generation counts
	generationsTotal  atomic.Uint64
	generationsFailed atomic.Uint64

	// Timing (stored as nanoseconds)
	generationTimeTotal atomic.Uint64
	generationTimeMin   atomic.Uint64
	generationTimeMax   atomic.Uint64

	// Cache metrics
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	// Single-flight coalescing: calls that awaited an in-flight
	// generation rather than starting their own.
	flightCoalesced atomic.Uint64

	// Fallback-to-stored-snapshot count.
	fallbacksUsed atomic.Uint64

	// Per-package timing (map access protected internally by sync.Map)
	packageTiming sync.Map // map[string]*packageMetrics
}

// packageMetrics tracks metrics for a single package id@version.
type packageMetrics struct {
	invocations atomic.Uint64
	totalTime   atomic.Uint64 // nanoseconds
	failures    atomic.Uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.generationTimeMin.Store(^uint64(0))
	return m
}

// --- Recording Methods ---

// RecordGeneration records one completed GetSnapshot call that actually
// ran the generator (as opposed to a cache hit).
func (m *Metrics) RecordGeneration(pkg string, duration time.Duration, ok bool) {
	m.generationsTotal.Add(1)
	if !ok {
		m.generationsFailed.Add(1)
	}

	ns := uint64(duration.Nanoseconds())
	m.generationTimeTotal.Add(ns)

	for {
		old := m.generationTimeMin.Load()
		if ns >= old {
			break
		}
		if m.generationTimeMin.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := m.generationTimeMax.Load()
		if ns <= old {
			break
		}
		if m.generationTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}

	pm := m.getOrCreatePackageMetrics(pkg)
	pm.invocations.Add(1)
	pm.totalTime.Add(ns)
	if !ok {
		pm.failures.Add(1)
	}
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Add(1) }

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Add(1) }

// RecordFlightCoalesced records a call that awaited an in-flight
// generation instead of starting its own (the single-flight
// invariant).
func (m *Metrics) RecordFlightCoalesced() { m.flightCoalesced.Add(1) }

// RecordFallback records the orchestrator falling back to a stored
// snapshot after a generation failure.
func (m *Metrics) RecordFallback() { m.fallbacksUsed.Add(1) }

func (m *Metrics) getOrCreatePackageMetrics(pkg string) *packageMetrics {
	if v, ok := m.packageTiming.Load(pkg); ok {
		return v.(*packageMetrics)
	}
	pm := &packageMetrics{}
	actual, _ := m.packageTiming.LoadOrStore(pkg, pm)
	return actual.(*packageMetrics)
}

// --- Query Methods ---

// GenerationsTotal returns the total number of generator invocations.
func (m *Metrics) GenerationsTotal() uint64 { return m.generationsTotal.Load() }

// GenerationsFailed returns the number of failed generator invocations.
func (m *Metrics) GenerationsFailed() uint64 { return m.generationsFailed.Load() }

// AverageGenerationTime returns the average generation duration.
func (m *Metrics) AverageGenerationTime() time.Duration {
	total := m.generationsTotal.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.generationTimeTotal.Load() / total)
}

// MinGenerationTime returns the minimum generation duration observed.
func (m *Metrics) MinGenerationTime() time.Duration {
	v := m.generationTimeMin.Load()
	if v == ^uint64(0) {
		return 0
	}
	return time.Duration(v)
}

// MaxGenerationTime returns the maximum generation duration observed.
func (m *Metrics) MaxGenerationTime() time.Duration {
	return time.Duration(m.generationTimeMax.Load())
}

// CacheHits returns the total cache hits.
func (m *Metrics) CacheHits() uint64 { return m.cacheHits.Load() }

// CacheMisses returns the total cache misses.
func (m *Metrics) CacheMisses() uint64 { return m.cacheMisses.Load() }

// CacheHitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) CacheHitRate() float64 {
	hits, misses := m.cacheHits.Load(), m.cacheMisses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// FlightCoalesced returns the number of calls that coalesced onto an
// in-flight generation.
func (m *Metrics) FlightCoalesced() uint64 { return m.flightCoalesced.Load() }

// FallbacksUsed returns the number of times the orchestrator fell back
// to a stored snapshot.
func (m *Metrics) FallbacksUsed() uint64 { return m.fallbacksUsed.Load() }

// PackageStats summarises generation activity for one package.
type PackageStats struct {
	Package     string
	Invocations uint64
	TotalTime   time.Duration
	AvgTime     time.Duration
	Failures    uint64
}

// PackageStats returns the recorded statistics for a single package,
// identified as "id@version".
func (m *Metrics) PackageStats(pkg string) (PackageStats, bool) {
	v, ok := m.packageTiming.Load(pkg)
	if !ok {
		return PackageStats{Package: pkg}, false
	}
	pm := v.(*packageMetrics)
	invocations := pm.invocations.Load()
	totalTime := pm.totalTime.Load()

	var avg time.Duration
	if invocations > 0 {
		avg = time.Duration(totalTime / invocations)
	}
	return PackageStats{
		Package:     pkg,
		Invocations: invocations,
		TotalTime:   time.Duration(totalTime),
		AvgTime:     avg,
		Failures:    pm.failures.Load(),
	}, true
}

// AllPackageStats returns statistics for every package that has had at
// least one recorded generation.
func (m *Metrics) AllPackageStats() []PackageStats {
	var stats []PackageStats
	m.packageTiming.Range(func(key, value any) bool {
		pm := value.(*packageMetrics)
		pkg := key.(string)
		invocations := pm.invocations.Load()
		totalTime := pm.totalTime.Load()

		var avg time.Duration
		if invocations > 0 {
			avg = time.Duration(totalTime / invocations)
		}
		stats = append(stats, PackageStats{
			Package:     pkg,
			Invocations: invocations,
			TotalTime:   time.Duration(totalTime),
			AvgTime:     avg,
			Failures:    pm.failures.Load(),
		})
		return true
	})
	return stats
}

// --- Export ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	GenerationsTotal    uint64  `json:"generations_total"`
	GenerationsFailed   uint64  `json:"generations_failed"`
	AvgGenerationTimeNs uint64  `json:"avg_generation_time_ns"`
	MinGenerationTimeNs uint64  `json:"min_generation_time_ns"`
	MaxGenerationTimeNs uint64  `json:"max_generation_time_ns"`

	CacheHits       uint64  `json:"cache_hits"`
	CacheMisses     uint64  `json:"cache_misses"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	FlightCoalesced uint64  `json:"flight_coalesced"`
	FallbacksUsed   uint64  `json:"fallbacks_used"`

	Packages []PackageStats `json:"packages,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	total := m.generationsTotal.Load()
	var avg float64
	if total > 0 {
		avg = float64(m.generationTimeTotal.Load()) / float64(total)
	}
	minTime := m.generationTimeMin.Load()
	if minTime == ^uint64(0) {
		minTime = 0
	}
	return Snapshot{
		Timestamp:           time.Now(),
		GenerationsTotal:    total,
		GenerationsFailed:   m.generationsFailed.Load(),
		AvgGenerationTimeNs: uint64(avg),
		MinGenerationTimeNs: minTime,
		MaxGenerationTimeNs: m.generationTimeMax.Load(),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
		CacheHitRate:        m.CacheHitRate(),
		FlightCoalesced:     m.flightCoalesced.Load(),
		FallbacksUsed:       m.fallbacksUsed.Load(),
		Packages:            m.AllPackageStats(),
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.generationsTotal.Store(0)
	m.generationsFailed.Store(0)
	m.generationTimeTotal.Store(0)
	m.generationTimeMin.Store(^uint64(0))
	m.generationTimeMax.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.flightCoalesced.Store(0)
	m.fallbacksUsed.Store(0)
	m.packageTiming.Range(func(key, _ any) bool {
		m.packageTiming.Delete(key)
		return true
	})
}

// PrometheusCollector exports Metrics through the client_golang
// collector interface, sitting alongside the lock-free Metrics struct
// rather than replacing it. Register it with a prometheus.Registry
// when a scrape endpoint is wanted.
type PrometheusCollector struct {
	m *Metrics

	cacheHits       prometheus.Gauge
	cacheMisses     prometheus.Gauge
	generations     prometheus.Gauge
	generationsFail prometheus.Gauge
	flightCoalesced prometheus.Gauge
	fallbacksUsed   prometheus.Gauge
	avgGenSeconds   prometheus.Gauge
}

// NewPrometheusCollector wraps m for registration with a
// prometheus.Registry.
func NewPrometheusCollector(m *Metrics) *PrometheusCollector {
	namespace := "snapshotgen"
	return &PrometheusCollector{
		m: m,
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_hits_total", Help: "Snapshot cache hits.",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_misses_total", Help: "Snapshot cache misses.",
		}),
		generations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "generations_total", Help: "Snapshot generations run.",
		}),
		generationsFail: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "generations_failed_total", Help: "Snapshot generations that errored.",
		}),
		flightCoalesced: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "flight_coalesced_total", Help: "Calls coalesced onto an in-flight generation.",
		}),
		fallbacksUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "fallbacks_used_total", Help: "Fallbacks to a stored snapshot after a generation failure.",
		}),
		avgGenSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "generation_avg_seconds", Help: "Average snapshot generation duration in seconds.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges() {
		ch <- g.Desc()
	}
}

// Collect implements prometheus.Collector, refreshing each gauge from
// the underlying Metrics before emitting it.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()
	c.cacheHits.Set(float64(s.CacheHits))
	c.cacheMisses.Set(float64(s.CacheMisses))
	c.generations.Set(float64(s.GenerationsTotal))
	c.generationsFail.Set(float64(s.GenerationsFailed))
	c.flightCoalesced.Set(float64(s.FlightCoalesced))
	c.fallbacksUsed.Set(float64(s.FallbacksUsed))
	c.avgGenSeconds.Set(float64(s.AvgGenerationTimeNs) / 1e9)

	for _, g := range c.gauges() {
		ch <- g
	}
}

func (c *PrometheusCollector) gauges() []prometheus.Gauge {
	return []prometheus.Gauge{
		c.cacheHits, c.cacheMisses, c.generations, c.generationsFail,
		c.flightCoalesced, c.fallbacksUsed, c.avgGenSeconds,
	}
}
