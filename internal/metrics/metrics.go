// Package metrics exposes archival counters in Prometheus format and as a
// JSON snapshot.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects counters for the archival pipeline. All methods are safe
// on a nil receiver so components can run without metrics.
type Metrics struct {
	startTime time.Time
	registry  *prometheus.Registry

	documentsArchived *prometheus.CounterVec
	documentsFailed   *prometheus.CounterVec
	archiveDuration   prometheus.Histogram
	resolutions       *prometheus.CounterVec
	collisions        prometheus.Counter
	fallbacks         *prometheus.CounterVec
	indexResets       prometheus.Counter
	assistCalls       *prometheus.CounterVec
	activeConnections prometheus.Gauge

	archived    atomic.Int64
	failed      atomic.Int64
	collided    atomic.Int64
	resets      atomic.Int64
	connections atomic.Int64

	sourcesLock sync.Mutex
	sources     map[string]int64
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),
		registry:  reg,
		sources:   make(map[string]int64),

		documentsArchived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autodoc_documents_archived_total",
			Help: "Documents filed into the archive, by trigger",
		}, []string{"trigger"}),
		documentsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autodoc_documents_failed_total",
			Help: "Documents that could not be archived, by trigger",
		}, []string{"trigger"}),
		archiveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "autodoc_archive_duration_seconds",
			Help:    "Duration of one archival run including OCR",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autodoc_institution_resolutions_total",
			Help: "Institution resolutions by the cascade step that decided",
		}, []string{"source"}),
		collisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "autodoc_placement_collisions_total",
			Help: "Placements that needed a counter suffix",
		}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autodoc_placement_fallbacks_total",
			Help: "Placements that fell back to copying a locked source",
		}, []string{"outcome"}),
		indexResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "autodoc_index_resets_total",
			Help: "Unreadable index files moved aside",
		}),
		assistCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autodoc_assist_calls_total",
			Help: "Calls to translation and explanation services",
		}, []string{"service", "outcome"}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "autodoc_websocket_connections",
			Help: "Open event stream connections",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordArchived records a successful run started by trigger.
func (m *Metrics) RecordArchived(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.archived.Add(1)
	m.documentsArchived.WithLabelValues(trigger).Inc()
	m.archiveDuration.Observe(d.Seconds())
}

// RecordFailed records a failed run started by trigger.
func (m *Metrics) RecordFailed(trigger string) {
	if m == nil {
		return
	}
	m.failed.Add(1)
	m.documentsFailed.WithLabelValues(trigger).Inc()
}

// ObserveResolution implements institution.Observer.
func (m *Metrics) ObserveResolution(source string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source).Inc()
	m.sourcesLock.Lock()
	m.sources[source]++
	m.sourcesLock.Unlock()
}

// ObserveCollision implements archive.Observer.
func (m *Metrics) ObserveCollision() {
	if m == nil {
		return
	}
	m.collided.Add(1)
	m.collisions.Inc()
}

// ObserveFallback implements archive.Observer.
func (m *Metrics) ObserveFallback(outcome string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(outcome).Inc()
}

// ObserveIndexReset implements index.Observer.
func (m *Metrics) ObserveIndexReset() {
	if m == nil {
		return
	}
	m.resets.Add(1)
	m.indexResets.Inc()
}

// ObserveAssistCall implements assist.Observer.
func (m *Metrics) ObserveAssistCall(service, outcome string) {
	if m == nil {
		return
	}
	m.assistCalls.WithLabelValues(service, outcome).Inc()
}

func (m *Metrics) IncrementActiveConnections() {
	if m == nil {
		return
	}
	m.connections.Add(1)
	m.activeConnections.Inc()
}

func (m *Metrics) DecrementActiveConnections() {
	if m == nil {
		return
	}
	m.connections.Add(-1)
	m.activeConnections.Dec()
}

// Snapshot is a JSON friendly view of the counters
type Snapshot struct {
	Uptime            string           `json:"uptime"`
	DocumentsArchived int64            `json:"documents_archived"`
	DocumentsFailed   int64            `json:"documents_failed"`
	Collisions        int64            `json:"collisions"`
	IndexResets       int64            `json:"index_resets"`
	ActiveConnections int64            `json:"active_connections"`
	Resolutions       map[string]int64 `json:"resolutions"`
}

func (m *Metrics) Snapshot() *Snapshot {
	if m == nil {
		return &Snapshot{Resolutions: map[string]int64{}}
	}
	m.sourcesLock.Lock()
	sources := make(map[string]int64, len(m.sources))
	for k, v := range m.sources {
		sources[k] = v
	}
	m.sourcesLock.Unlock()

	return &Snapshot{
		Uptime:            time.Since(m.startTime).Round(time.Second).String(),
		DocumentsArchived: m.archived.Load(),
		DocumentsFailed:   m.failed.Load(),
		Collisions:        m.collided.Load(),
		IndexResets:       m.resets.Load(),
		ActiveConnections: m.connections.Load(),
		Resolutions:       sources,
	}
}
