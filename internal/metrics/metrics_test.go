package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Transition("submit", "ok")
	m.Transition("submit", "ok")
	m.Transition("submit", "invalid_state")
	m.Released(decimal.RequireFromString("62.50"))
	m.SetProjects(map[string]int{"live": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("submit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("submit", "invalid_state")))
	assert.Equal(t, 62.5, testutil.ToFloat64(m.released))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `campusworks_transitions_total{outcome="ok",transition="submit"} 2`), body)
	assert.Contains(t, body, `campusworks_projects{status="live"} 2`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition("submit", "ok")
	m.Released(decimal.NewFromInt(1))
	m.SetProjects(nil)
}
