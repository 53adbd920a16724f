package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.Turn("ok")
	r.Turn("ok")
	r.Turn("error")
	r.Category("navigation")
	r.NodeVisit("core")

	if got := testutil.ToFloat64(r.turns.WithLabelValues("ok")); got != 2 {
		t.Errorf("expected 2 ok turns, got %v", got)
	}
	if got := testutil.ToFloat64(r.turns.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 error turn, got %v", got)
	}
	if got := testutil.ToFloat64(r.categories.WithLabelValues("navigation")); got != 1 {
		t.Errorf("expected 1 navigation category, got %v", got)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Turn("ok")
	r.Category("x")
	r.NodeVisit("core")
	r.ToolDuration("control", true, time.Second)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.ToolDuration("navigation", false, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "concierge_tool_duration_seconds") {
		t.Errorf("expected tool duration histogram in output")
	}
}
