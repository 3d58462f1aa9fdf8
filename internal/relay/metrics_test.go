package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func findMetric(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	fams, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range fams {
		if fam.GetName() == name {
			return fam
		}
	}
	return nil
}

func TestNewMetricsRegistersAll(t *testing.T) {
	m := NewMetrics()

	m.Clients.Set(3)
	m.Pairs.Set(1)
	m.Signals.WithLabelValues("offer").Inc()
	m.Signals.WithLabelValues("candidate").Add(2)
	m.Errors.Inc()

	tests := []struct {
		name string
		want float64
	}{
		{"ws_clients", 3},
		{"ws_pairs", 1},
		{"ws_errors_total", 1},
	}
	for _, tt := range tests {
		fam := findMetric(t, m, tt.name)
		if fam == nil {
			t.Fatalf("%s not registered", tt.name)
		}
		mt := fam.GetMetric()[0]
		got := mt.GetGauge().GetValue() + mt.GetCounter().GetValue()
		if got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	fam := findMetric(t, m, "ws_signals_total")
	if fam == nil {
		t.Fatal("ws_signals_total not registered")
	}
	if len(fam.GetMetric()) != 2 {
		t.Fatalf("ws_signals_total has %d series, want 2", len(fam.GetMetric()))
	}
}

func TestMetricsIsolatedRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.Errors.Inc()

	fam := findMetric(t, b, "ws_errors_total")
	if fam == nil {
		t.Fatal("ws_errors_total missing on second instance")
	}
	if v := fam.GetMetric()[0].GetCounter().GetValue(); v != 0 {
		t.Fatalf("second instance saw %v errors, want 0", v)
	}
}

func TestMetricsHandlerExposition(t *testing.T) {
	m := NewMetrics()
	m.Signals.WithLabelValues("offer").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `ws_signals_total{kind="offer"} 1`) {
		t.Errorf("exposition missing signal counter:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("exposition missing Go runtime collector")
	}
}
