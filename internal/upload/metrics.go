package upload

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricUploadObjects  = "upload_objects_total"
	MetricUploadBatches  = "upload_batches_total"
	MetricUploadDuration = "upload_batch_duration_seconds"
)

// Metrics contains Prometheus metrics for upload batches.
type Metrics struct {
	objects  *prometheus.CounterVec
	batches  *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		objects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricUploadObjects,
			Help: "Total number of objects uploaded to storage, by result",
		}, []string{"result"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricUploadBatches,
			Help: "Total number of upload batches, by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricUploadDuration,
			Help:    "Duration of a whole upload batch in seconds, authorization included",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.objects,
		m.batches,
		m.duration,
	}
}

func (m *Metrics) observeObject(ok bool) {
	if m == nil {
		return
	}
	m.objects.WithLabelValues(resultLabel(ok)).Inc()
}

func (m *Metrics) observeBatch(ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(resultLabel(ok)).Inc()
	m.duration.Observe(seconds)
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
