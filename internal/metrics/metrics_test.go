package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndHandler(t *testing.T) {
	Init()
	before := testutil.ToFloat64(controllerCalls.WithLabelValues("attach", "error"))
	ObserveCommand("attach", errors.New("boom"), 10*time.Millisecond)
	if got := testutil.ToFloat64(controllerCalls.WithLabelValues("attach", "error")); got != before+1 {
		t.Fatalf("expected counter to advance, got %v", got)
	}
	IncAction("delete_file", "confirmation_required")
	SetPending(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"rasweb_controller_commands_total",
		"rasweb_actions_total",
		"rasweb_pending_actions 3",
		"rasweb_build_info",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
