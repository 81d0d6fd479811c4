package preview

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricPreviewsActive       = "previews_active"
	MetricPreviewsCreated      = "previews_created_total"
	MetricPreviewsReleased     = "previews_released_total"
	MetricPreviewRenderFailure = "preview_render_failures_total"
)

// Metrics tracks preview locator lifecycle. A steadily growing
// previews_active gauge means locators are leaking.
type Metrics struct {
	active         prometheus.Gauge
	createdTotal   prometheus.Counter
	releasedTotal  prometheus.Counter
	renderFailures prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPreviewsActive,
			Help: "Number of preview locators currently live",
		}),
		createdTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPreviewsCreated,
			Help: "Total number of preview locators created",
		}),
		releasedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPreviewsReleased,
			Help: "Total number of preview locators released",
		}),
		renderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPreviewRenderFailure,
			Help: "Total number of previews served as original bytes because thumbnailing failed",
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
		m.active,
		m.createdTotal,
		m.releasedTotal,
		m.renderFailures,
	}
}

func (m *Metrics) created() {
	if m == nil {
		return
	}
	m.active.Inc()
	m.createdTotal.Inc()
}

func (m *Metrics) released() {
	if m == nil {
		return
	}
	m.active.Dec()
	m.releasedTotal.Inc()
}

func (m *Metrics) renderFailed() {
	if m == nil {
		return
	}
	m.renderFailures.Inc()
}
