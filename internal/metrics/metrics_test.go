package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lattice-run/procio/internal/metrics"
)

func TestRegistryExposesMetrics(t *testing.T) {
	t.Helper()

	metrics.EmitBuildInfo()
	metrics.ProcessStarted()
	metrics.AddBytesRead("stdout", 42)
	metrics.AddBytesWritten(7)
	metrics.SetProcessorQueueDepth("0", 3)
	metrics.ProcessExited("exited")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status code from metrics handler: %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"procio_active_processes",
		"procio_processes_started_total 1",
		`procio_processes_exited_total{cause="exited"} 1`,
		`procio_bytes_read_total{stream="stdout"} 42`,
		"procio_bytes_written_total 7",
		`procio_processor_queue_depth{processor="0"} 3`,
		"procio_build_info{",
		"go_version=",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metric line %q in body:\n%s", want, body)
		}
	}
}
