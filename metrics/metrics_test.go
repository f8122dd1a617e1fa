package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	JobsEnqueued.Inc()
	GateDecisions.WithLabelValues("pro").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"snaptosize_jobs_enqueued_total", "snaptosize_gate_decisions_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in output", name)
		}
	}
}
