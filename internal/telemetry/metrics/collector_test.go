package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Records(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordCycle(50 * time.Millisecond)
	c.RecordCycle(2 * time.Second)
	c.RecordAction(nil)
	c.RecordAction(errors.New("executor down"))
	c.RecordAction(errors.New("executor down"))
	c.RecordResolution(true)
	c.RecordResolution(false)
	c.RecordResolution(false)
	c.RecordConditionError()
	c.SetRunning(true)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"cycles", testutil.ToFloat64(c.cycles), 2},
		{"actions", testutil.ToFloat64(c.actions), 1},
		{"action errors", testutil.ToFloat64(c.actionErrors), 2},
		{"matched", testutil.ToFloat64(c.resolutions.WithLabelValues("matched")), 1},
		{"unmatched", testutil.ToFloat64(c.resolutions.WithLabelValues("unmatched")), 2},
		{"condition errors", testutil.ToFloat64(c.condErrors), 1},
		{"running", testutil.ToFloat64(c.running), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	c.SetRunning(false)
	if got := testutil.ToFloat64(c.running); got != 0 {
		t.Errorf("running after stop = %v, want 0", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.RecordCycle(time.Second)
	c.RecordAction(nil)
	c.RecordResolution(true)
	c.RecordConditionError()
	c.SetRunning(true)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(nil)
	c.RecordCycle(time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tripwire_engine_cycles_total") {
		t.Errorf("exposition missing cycles counter:\n%s", rec.Body.String())
	}
}
