package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/datahub-registry/datahub-registry/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func labelsMatch(dm *dto.Metric, labels prometheus.Labels) bool {
	for k, want := range labels {
		found := false
		for _, lp := range dm.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// counterValue reads the current value of one series from a CounterVec;
// -1 means the series has not been observed yet.
func counterValue(cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	ch := make(chan prometheus.Metric, 32)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(&dm, labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return -1
}

// histogramCount returns the sample count of one series from a HistogramVec.
func histogramCount(hv *prometheus.HistogramVec, labels prometheus.Labels) uint64 {
	ch := make(chan prometheus.Metric, 32)
	hv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(&dm, labels) {
			return dm.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

// pathLabels collects every value the path label currently holds.
func pathLabels(cv *prometheus.CounterVec) map[string]bool {
	paths := make(map[string]bool)
	ch := make(chan prometheus.Metric, 64)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		for _, lp := range dm.GetLabel() {
			if lp.GetName() == "path" {
				paths[lp.GetValue()] = true
			}
		}
	}
	return paths
}

func newMetricsRouter(handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/test/:id", handler)
	return r
}

func serveMetrics(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMetricsMiddleware_RecordsRequestCountAndDuration(t *testing.T) {
	counterLabels := prometheus.Labels{"method": "GET", "path": "/test/:id", "status": "200"}
	histLabels := prometheus.Labels{"method": "GET", "path": "/test/:id"}
	countBefore := counterValue(telemetry.HTTPRequestsTotal, counterLabels)
	if countBefore < 0 {
		countBefore = 0
	}
	samplesBefore := histogramCount(telemetry.HTTPRequestDuration, histLabels)

	r := newMetricsRouter(func(c *gin.Context) { c.Status(http.StatusOK) })
	serveMetrics(r, "/test/42")

	if after := counterValue(telemetry.HTTPRequestsTotal, counterLabels); after-countBefore < 1 {
		t.Errorf("http_requests_total increment not observed: before=%.0f after=%.0f", countBefore, after)
	}
	if after := histogramCount(telemetry.HTTPRequestDuration, histLabels); after <= samplesBefore {
		t.Errorf("http_request_duration_seconds sample count did not increase: before=%d after=%d", samplesBefore, after)
	}
}

func TestMetricsMiddleware_UsesRouteTemplateNotRawURL(t *testing.T) {
	r := newMetricsRouter(func(c *gin.Context) { c.Status(http.StatusOK) })
	serveMetrics(r, "/test/42")

	paths := pathLabels(telemetry.HTTPRequestsTotal)
	if paths["/test/42"] {
		t.Error("raw URL /test/42 used as path label; expected route template /test/:id")
	}
	if !paths["/test/:id"] {
		t.Error("route template /test/:id not found among path labels")
	}
}

func TestMetricsMiddleware_UnmatchedRouteUsesSentinel(t *testing.T) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	// no routes registered, every request 404s

	serveMetrics(r, "/does-not-exist")

	if !pathLabels(telemetry.HTTPRequestsTotal)["<no-route>"] {
		t.Error("expected <no-route> path label for unmatched request")
	}
}

func TestMetricsMiddleware_RecordsErrorStatus(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/test/:id", "status": "500"}
	before := counterValue(telemetry.HTTPRequestsTotal, labels)
	if before < 0 {
		before = 0
	}

	r := newMetricsRouter(func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	serveMetrics(r, "/test/err")

	if after := counterValue(telemetry.HTTPRequestsTotal, labels); after-before < 1 {
		t.Errorf("http_requests_total for status=500 not incremented: before=%.0f after=%.0f", before, after)
	}
}

func TestMetricsMiddleware_InFlightGaugeReturnsToBaseline(t *testing.T) {
	read := func() float64 {
		var dm dto.Metric
		if err := telemetry.HTTPRequestsInFlight.Write(&dm); err != nil {
			t.Fatalf("reading gauge: %v", err)
		}
		return dm.GetGauge().GetValue()
	}
	baseline := read()

	var during float64
	r := newMetricsRouter(func(c *gin.Context) {
		during = read()
		c.Status(http.StatusOK)
	})
	serveMetrics(r, "/test/1")

	if during != baseline+1 {
		t.Errorf("in-flight gauge during request = %.0f, want %.0f", during, baseline+1)
	}
	if after := read(); after != baseline {
		t.Errorf("in-flight gauge after request = %.0f, want baseline %.0f", after, baseline)
	}
}
