package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meshgate/pkg/models"
	"meshgate/pkg/proxy"
	"meshgate/pkg/registry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

var (
	_ registry.ProbeObserver = (*Metrics)(nil)
	_ proxy.Observer         = (*Metrics)(nil)
)

// MetricsTestSuite tests the Prometheus observers
type MetricsTestSuite struct {
	suite.Suite
	metrics *Metrics
}

// SetupTest creates a fresh instance with its own registry
func (s *MetricsTestSuite) SetupTest() {
	s.metrics = New()
}

func (s *MetricsTestSuite) TestObserveProbe() {
	s.metrics.ObserveProbe("orders", models.StatusHealthy, 20*time.Millisecond)
	s.metrics.ObserveProbe("orders", models.StatusUnhealthy, 0)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.probesTotal.WithLabelValues("orders", "healthy")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.probesTotal.WithLabelValues("orders", "unhealthy")))
	s.Equal(0.0, testutil.ToFloat64(s.metrics.serviceUp.WithLabelValues("orders")))
	s.Equal(1, testutil.CollectAndCount(s.metrics.probeDuration))
}

func (s *MetricsTestSuite) TestObserveRegistry() {
	s.metrics.ObserveRegistry(5, 2)
	s.Equal(5.0, testutil.ToFloat64(s.metrics.servicesTotal))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.servicesHealthy))
}

func (s *MetricsTestSuite) TestForgetService() {
	s.metrics.ObserveProbe("orders", models.StatusHealthy, time.Millisecond)
	s.metrics.ObserveProbe("billing", models.StatusHealthy, time.Millisecond)

	s.metrics.ForgetService("orders")

	s.Equal(1, testutil.CollectAndCount(s.metrics.serviceUp))
	s.Equal(1, testutil.CollectAndCount(s.metrics.probesTotal))
	s.Equal(1, testutil.CollectAndCount(s.metrics.probeDuration))
}

func (s *MetricsTestSuite) TestObserveForward() {
	s.metrics.ObserveForward("orders", "ok", http.StatusOK, 5*time.Millisecond)
	s.metrics.ObserveForward("orders", "bad_gateway", http.StatusBadGateway, time.Second)
	s.metrics.ObserveForward("orders", "ok", http.StatusOK, time.Millisecond)

	s.Equal(2.0, testutil.ToFloat64(s.metrics.requestsTotal.WithLabelValues("orders", "ok", "200")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.requestsTotal.WithLabelValues("orders", "bad_gateway", "502")))
	s.Equal(2, testutil.CollectAndCount(s.metrics.requestDuration))
}

func (s *MetricsTestSuite) TestStatusText() {
	s.Equal("404", statusText(http.StatusNotFound))
	s.Equal("unknown", statusText(0))
}

func (s *MetricsTestSuite) TestHandlerExposesSeries() {
	s.metrics.ObserveRegistry(1, 1)
	s.metrics.ObserveForward("orders", "ok", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	s.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	s.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	s.Contains(body, "meshgate_registry_services 1")
	s.Contains(body, `meshgate_proxy_requests_total{code="200",outcome="ok",service="orders"} 1`)
	s.True(strings.Contains(body, "go_goroutines"))
}

func (s *MetricsTestSuite) TestInstancesAreIndependent() {
	other := New()
	s.metrics.ObserveRegistry(3, 3)
	s.Equal(0.0, testutil.ToFloat64(other.servicesTotal))
	s.NotSame(s.metrics.Registry(), other.Registry())
}

// TestMetricsTestSuite runs the metrics test suite
func TestMetricsTestSuite(t *testing.T) {
	suite.Run(t, new(MetricsTestSuite))
}
