// Package metrics exposes Prometheus collectors for health probes and proxied
// requests. It satisfies both registry.ProbeObserver and proxy.Observer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"meshgate/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshgate"

var latencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics owns a private Prometheus registry so several instances can live in
// one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	servicesTotal   prometheus.Gauge
	servicesHealthy prometheus.Gauge
	serviceUp       *prometheus.GaugeVec
	probesTotal     *prometheus.CounterVec
	probeDuration   *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		servicesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "services",
			Help:      "Number of registered services",
		}),
		servicesHealthy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "services_healthy",
			Help:      "Number of registered services currently healthy",
		}),
		serviceUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "service_up",
			Help:      "1 if the last health check of the service succeeded, 0 otherwise",
		}, []string{"service"}),
		probesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total health checks by service and resulting status",
		}, []string{"service", "status"}),
		probeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Health check round trip time in seconds",
			Buckets:   latencyBuckets,
		}, []string{"service"}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total proxied requests by service, outcome and status code",
		}, []string{"service", "outcome", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Time until upstream response headers, in seconds",
			Buckets:   latencyBuckets,
		}, []string{"service", "outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveProbe records one health check. latency is zero when no response arrived.
func (m *Metrics) ObserveProbe(service string, status models.ServiceStatus, latency time.Duration) {
	m.probesTotal.WithLabelValues(service, string(status)).Inc()
	if latency > 0 {
		m.probeDuration.WithLabelValues(service).Observe(latency.Seconds())
	}
	up := 0.0
	if status == models.StatusHealthy {
		up = 1
	}
	m.serviceUp.WithLabelValues(service).Set(up)
}

// ObserveRegistry records registry size.
func (m *Metrics) ObserveRegistry(total, healthy int) {
	m.servicesTotal.Set(float64(total))
	m.servicesHealthy.Set(float64(healthy))
}

// ForgetService drops per-service series once a service is unregistered.
func (m *Metrics) ForgetService(service string) {
	m.serviceUp.DeleteLabelValues(service)
	m.probeDuration.DeleteLabelValues(service)
	m.probesTotal.DeletePartialMatch(prometheus.Labels{"service": service})
}

// ObserveForward records one proxied request.
func (m *Metrics) ObserveForward(service, outcome string, statusCode int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(service, outcome, statusText(statusCode)).Inc()
	m.requestDuration.WithLabelValues(service, outcome).Observe(elapsed.Seconds())
}

func statusText(code int) string {
	if code <= 0 {
		return "unknown"
	}
	return strconv.Itoa(code)
}
