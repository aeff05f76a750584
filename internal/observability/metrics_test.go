package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func initMetrics(t *testing.T) http.Handler {
	t.Helper()
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	})
	return handler
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler returned %d", rr.Code)
	}
	return rr.Body.String()
}

func TestInitMetrics_CustomMetricAppearsInOutput(t *testing.T) {
	handler := initMetrics(t)

	counter, err := otel.Meter("test-meter").Int64Counter("test_custom_counter")
	if err != nil {
		t.Fatalf("failed to create counter: %v", err)
	}
	counter.Add(context.Background(), 42)

	body := scrape(t, handler)
	if !strings.Contains(body, "test_custom_counter") {
		t.Errorf("expected metric output to contain 'test_custom_counter', got:\n%s", body)
	}
	if !strings.Contains(body, "42") {
		t.Errorf("expected metric value 42 in output, got:\n%s", body)
	}
}

func TestHTTPMetrics_RecordsRoutePattern(t *testing.T) {
	handler := initMetrics(t)

	m, err := NewHTTPMetrics()
	if err != nil {
		t.Fatalf("NewHTTPMetrics: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := m.Middleware(mux)

	for _, key := range []string{"a", "b", "c"} {
		srv.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/"+key, nil))
	}

	body := scrape(t, handler)
	if !strings.Contains(body, "botmaster_http_requests_total") {
		t.Fatalf("request counter missing:\n%s", body)
	}
	if !strings.Contains(body, `route="GET /jobs/{key}"`) {
		t.Errorf("route label should be the pattern:\n%s", body)
	}
	if !strings.Contains(body, `status="404"`) {
		t.Errorf("status label missing:\n%s", body)
	}
	if strings.Contains(body, `/jobs/a`) {
		t.Error("raw path leaked into labels")
	}
}
