package metrics

import (
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// Prometheus mirrors of the internal counters. These can be scraped from
// /metrics and visualized in Grafana.
var (
	priceUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexfeed_price_updates_total",
		Help: "Total number of price updates computed",
	})
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexfeed_cache_hits_total",
		Help: "Total number of price cache hits",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexfeed_cache_misses_total",
		Help: "Total number of price cache misses",
	})
	apiRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexfeed_api_requests_total",
		Help: "Total number of API-facing operations served",
	})
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dexfeed_ws_connections_active",
		Help: "Current number of active WebSocket sessions",
	})
	eventsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexfeed_chain_events_received_total",
		Help: "Total number of chain log events received",
	})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dexfeed_errors_total",
		Help: "Total errors recorded, by source",
	}, []string{"source"})
	droppedEmitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexfeed_confirmation_emits_dropped_total",
		Help: "Confirmation envelopes dropped while the downstream consumer was unreachable",
	})
)

const errorRingCap = 100

// RecordedError is one entry of the bounded recent-error ring.
type RecordedError struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Counters is the fixed-key counter snapshot returned by GetStats.
type Counters struct {
	PriceUpdates   int64 `json:"priceUpdates"`
	CacheHits      int64 `json:"cacheHits"`
	CacheMisses    int64 `json:"cacheMisses"`
	APIRequests    int64 `json:"apiRequests"`
	WSConnections  int64 `json:"wsConnections"`
	EventsReceived int64 `json:"eventsReceived"`
}

// Stats is the full snapshot: counters, uptime, process usage, recent errors.
type Stats struct {
	Counters
	UptimeSeconds float64         `json:"uptimeSeconds"`
	CPUPercent    float64         `json:"cpuPercent"`
	MemoryMB      float64         `json:"memoryMB"`
	RecentErrors  []RecordedError `json:"recentErrors"`
}

// Registry tracks service counters and a bounded ring of recent errors.
// All counter methods are safe for concurrent use.
type Registry struct {
	startTime time.Time

	priceUpdates   int64
	cacheHits      int64
	cacheMisses    int64
	apiRequests    int64
	wsConnections  int64
	eventsReceived int64

	mu     sync.Mutex
	ring   []RecordedError
	proc   *process.Process
	procMu sync.Mutex
}

// New creates a metrics registry anchored at the current time.
func New() *Registry {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Registry{
		startTime: time.Now(),
		ring:      make([]RecordedError, 0, errorRingCap),
		proc:      proc,
	}
}

func (r *Registry) IncPriceUpdates() {
	atomic.AddInt64(&r.priceUpdates, 1)
	priceUpdatesTotal.Inc()
}

func (r *Registry) IncCacheHits() {
	atomic.AddInt64(&r.cacheHits, 1)
	cacheHitsTotal.Inc()
}

func (r *Registry) IncCacheMisses() {
	atomic.AddInt64(&r.cacheMisses, 1)
	cacheMissesTotal.Inc()
}

func (r *Registry) IncAPIRequests() {
	atomic.AddInt64(&r.apiRequests, 1)
	apiRequestsTotal.Inc()
}

func (r *Registry) IncEventsReceived() {
	atomic.AddInt64(&r.eventsReceived, 1)
	eventsReceivedTotal.Inc()
}

// SetWSConnections tracks the live session count.
func (r *Registry) SetWSConnections(n int64) {
	atomic.StoreInt64(&r.wsConnections, n)
	wsConnectionsActive.Set(float64(n))
}

// IncDroppedEmits counts confirmation envelopes dropped while disconnected.
func (r *Registry) IncDroppedEmits() {
	droppedEmitsTotal.Inc()
}

// RecordError appends to the recent-error ring, evicting the oldest entry
// when the ring is full.
func (r *Registry) RecordError(source, message string) {
	errorsTotal.WithLabelValues(source).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) == errorRingCap {
		copy(r.ring, r.ring[1:])
		r.ring = r.ring[:errorRingCap-1]
	}
	r.ring = append(r.ring, RecordedError{
		Source:    source,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// RecentErrors returns a copy of the error ring, oldest first.
func (r *Registry) RecentErrors() []RecordedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedError, len(r.ring))
	copy(out, r.ring)
	return out
}

// CountersSnapshot returns the current counter values.
func (r *Registry) CountersSnapshot() Counters {
	return Counters{
		PriceUpdates:   atomic.LoadInt64(&r.priceUpdates),
		CacheHits:      atomic.LoadInt64(&r.cacheHits),
		CacheMisses:    atomic.LoadInt64(&r.cacheMisses),
		APIRequests:    atomic.LoadInt64(&r.apiRequests),
		WSConnections:  atomic.LoadInt64(&r.wsConnections),
		EventsReceived: atomic.LoadInt64(&r.eventsReceived),
	}
}

// GetStats snapshots counters, uptime and process usage.
func (r *Registry) GetStats() Stats {
	stats := Stats{
		Counters:      r.CountersSnapshot(),
		UptimeSeconds: time.Since(r.startTime).Seconds(),
		RecentErrors:  r.RecentErrors(),
	}

	r.procMu.Lock()
	if r.proc != nil {
		if cpu, err := r.proc.CPUPercent(); err == nil {
			stats.CPUPercent = cpu
		}
		if mem, err := r.proc.MemoryInfo(); err == nil && mem != nil {
			stats.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
	}
	r.procMu.Unlock()

	return stats
}

// Uptime returns the elapsed time since the registry was created.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Handler returns the Prometheus scrape handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
