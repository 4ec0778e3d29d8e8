package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProvider_ServesRuntimeBuildAndDomainMetrics(t *testing.T) {
	p := NewProvider(BuildInfo{Version: "test", Revision: "r", BuildDate: "now"})

	ObserveHTTP("GET", "/api/v1/coverage/{city}", 200, 0.001)
	IncCacheHit("stats")
	ObserveAnalysis(true, 0.4)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"go_goroutines",
		`app_build_info{build_date="now",revision="r",version="test"} 1`,
		"http_requests_total",
		`coverage_cache_results_total{outcome="hit",type="stats"}`,
		"coverage_analysis_duration_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("payload missing %q:\n%s", want, body)
		}
	}
}

func TestInit_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Init(reg); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := Init(reg); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestAllCollectors_RegisterAlongsideRuntimeCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	for _, c := range allCollectors() {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register %T: %v", c, err)
		}
	}
	if n := len(allCollectors()); n != 10 {
		t.Fatalf("collectors=%d want 10", n)
	}
}

func TestRefreshCounters(t *testing.T) {
	before := testutil.ToFloat64(refreshCities.WithLabelValues("skipped"))
	AddRefreshCities(2, 1, 3)
	if got := testutil.ToFloat64(refreshCities.WithLabelValues("skipped")) - before; got != 3 {
		t.Fatalf("skipped delta=%v want 3", got)
	}
	ObserveCacheOp("redis", "get", errors.New("boom"), 0.001)
	if n := testutil.CollectAndCount(cacheOpSeconds); n == 0 {
		t.Fatalf("expected cache op samples")
	}
}
