package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "remotedocs"

// metrics holds the collectors exported by a Cache.
type metrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	evictions     prometheus.Counter
	evictedBytes  prometheus.Counter
	writeFailures prometheus.Counter
	bytesStored   prometheus.Gauge
	entries       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of cache lookups that returned a stored object.",
		}, []string{"kind"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Number of cache lookups that found nothing usable.",
		}, []string{"kind"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Number of entries evicted to satisfy a size ceiling.",
		}),
		evictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "evicted_bytes_total",
			Help:      "Bytes released by eviction.",
		}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "write_failures_total",
			Help:      "Number of objects that could not be stored.",
		}),
		bytesStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "stored_bytes",
			Help:      "Total size of all cached objects.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of cached objects.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.hits, m.misses, m.evictions, m.evictedBytes, m.writeFailures, m.bytesStored, m.entries,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *metrics) recordHit(kind Kind) {
	m.hits.WithLabelValues(string(kind)).Inc()
}

func (m *metrics) recordMiss(kind Kind) {
	m.misses.WithLabelValues(string(kind)).Inc()
}

func (m *metrics) recordEviction(size int64) {
	m.evictions.Inc()
	m.evictedBytes.Add(float64(size))
}

func (m *metrics) recordWriteFailure() {
	m.writeFailures.Inc()
}

// observe syncs the usage gauges with the index.
func (m *metrics) observe(idx *index) {
	m.bytesStored.Set(float64(idx.totalSizeBytes))
	m.entries.Set(float64(len(idx.entries)))
}
