package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func TestRegistry(t *testing.T) {
	if Registry == nil {
		t.Error("Registry should not be nil")
	}

	if Registry != prometheus.DefaultRegisterer {
		t.Error("Registry should be the default Prometheus registerer")
	}
}

var handlerProbe = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cms_metrics_handler_sample_total",
	Help: "Counter registered by the metrics handler test",
})

func TestHandler(t *testing.T) {
	handlerProbe.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "cms_metrics_handler_sample_total 1") {
		t.Errorf("sample counter missing from exposition:\n%s", body)
	}
}
