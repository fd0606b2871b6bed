package indexer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lightlink-network/proposer-indexer/database/models"
)

const metricsNamespace = "proposer_indexer"

// Metrics holds the indexer's prometheus instrumentation.
type Metrics struct {
	cycles            *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	batches           prometheus.Counter
	recordsIndexed    prometheus.Counter
	lastIndexedHeight prometheus.Gauge
	missingHeights    prometheus.Gauge
}

// NewMetrics registers the indexer metrics with reg. A nil reg keeps them in
// a private registry, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Indexing cycles, partitioned by outcome.",
		}, []string{"status"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "How long an indexing cycle takes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_total",
			Help:      "Batches written to the store.",
		}),
		recordsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_indexed_total",
			Help:      "Heights written to the store.",
		}),
		lastIndexedHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_indexed_height",
			Help:      "Highest height written by this process.",
		}),
		missingHeights: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "missing_heights",
			Help:      "Heights absent between the lowest and highest stored height, as of the last gap audit.",
		}),
	}
}

func (m *Metrics) observeCycle(err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.cycles.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) observeBatch(records []models.ProposerHeight) {
	m.batches.Inc()
	m.recordsIndexed.Add(float64(len(records)))
	if len(records) > 0 {
		m.lastIndexedHeight.Set(float64(records[len(records)-1].Height))
	}
}
