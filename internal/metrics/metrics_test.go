package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordOperationExposed(t *testing.T) {
	m := New()
	m.RecordOperation("attach", "ok", 0.01)
	m.RecordOperation("attach", "cycle_detected", 0.02)
	m.ObserveRepairs(3)
	m.ObserveTree(12)

	body := scrape(t, m)
	assert.Contains(t, body, `planline_hierarchy_operations_total{operation="attach",outcome="ok"} 1`)
	assert.Contains(t, body, `planline_hierarchy_operations_total{operation="attach",outcome="cycle_detected"} 1`)
	assert.Contains(t, body, "planline_hierarchy_operation_duration_seconds_count{operation=\"attach\"} 2")
	assert.Contains(t, body, "planline_hierarchy_depth_repairs_count 1")
	assert.Contains(t, body, "planline_tree_nodes_sum 12")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("detach", "ok", 0)
		m.ObserveRepairs(1)
		m.ObserveTree(1)
	})
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordOperation("move", "ok", 0)

	assert.NotContains(t, scrape(t, b), `operation="move"`)
}
