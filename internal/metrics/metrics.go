package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pos_payments"

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	transactions       *prometheus.CounterVec
	gatewayLatency     *prometheus.HistogramVec
	pixPolls           prometheus.Counter
	pixMonitors        prometheus.Gauge
	checkoutsCompleted *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions persisted, by payment method and resulting status.",
		}, []string{"method", "status"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_latency_seconds",
			Help:      "Round trip of calls to the payment gateway.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5},
		}, []string{"operation"}),
		pixPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pix_polls_total",
			Help:      "PIX settlement status checks issued by monitors.",
		}),
		pixMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pix_monitors_active",
			Help:      "PIX monitors currently waiting for confirmation.",
		}),
		checkoutsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_completed_total",
			Help:      "Checkouts that reached payment-complete, by method.",
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transactions,
		m.gatewayLatency,
		m.pixPolls,
		m.pixMonitors,
		m.checkoutsCompleted,
	)
	return m
}

func (m *Metrics) TransactionRecorded(method, status string) {
	m.transactions.WithLabelValues(method, status).Inc()
}

func (m *Metrics) PixPollIssued() {
	m.pixPolls.Inc()
}

func (m *Metrics) PixMonitorStarted() {
	m.pixMonitors.Inc()
}

func (m *Metrics) PixMonitorStopped() {
	m.pixMonitors.Dec()
}

func (m *Metrics) CheckoutCompleted(method string) {
	m.checkoutsCompleted.WithLabelValues(method).Inc()
}

func (m *Metrics) ObserveGatewayLatency(op string, d time.Duration) {
	m.gatewayLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
