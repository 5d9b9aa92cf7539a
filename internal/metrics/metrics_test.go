package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"clashdash/internal/shared/types"
)

func TestObserveCheck(t *testing.T) {
	c := NewCollector(nil)
	srv := types.ServerConfig{ID: "a", Host: "h", Port: "1"}

	c.ObserveCheck(srv, types.CheckResult{Status: types.StatusOK}, 20*time.Millisecond)
	c.ObserveCheck(srv, types.CheckResult{Status: types.StatusOK}, 30*time.Millisecond)
	c.ObserveCheck(srv, types.CheckResult{Status: types.StatusError}, time.Second)

	if got := testutil.ToFloat64(c.checks.WithLabelValues("ok")); got != 2 {
		t.Errorf("checks_total{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.checks.WithLabelValues("error")); got != 1 {
		t.Errorf("checks_total{error} = %v, want 1", got)
	}
	if testutil.ToFloat64(c.lastCheck) == 0 {
		t.Error("last_check_timestamp_seconds not set")
	}
}

func TestSetServers(t *testing.T) {
	c := NewCollector(nil)
	c.SetServers([]types.ServerConfig{
		{ID: "a", Name: "home", Status: types.StatusOK, ServerType: types.ServerTypeMeta},
		{ID: "b", Host: "10.0.0.1", Port: "9090", Status: types.StatusUnauthorized},
		{ID: "c", Name: "new"},
	})

	if got := testutil.ToFloat64(c.serverUp.WithLabelValues("a", "home", "Meta")); got != 1 {
		t.Errorf("server_up{a} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.byStatus.WithLabelValues("unknown")); got != 1 {
		t.Errorf("servers{unknown} = %v, want 1", got)
	}

	// removed servers disappear
	c.SetServers([]types.ServerConfig{{ID: "a", Name: "home", Status: types.StatusError}})
	if n := testutil.CollectAndCount(c.serverUp); n != 1 {
		t.Errorf("server_up series = %d, want 1", n)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveCheck(types.ServerConfig{}, types.CheckResult{Status: types.StatusUnauthorized}, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `clashdash_checks_total{status="unauthorized"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", body)
	}
}
