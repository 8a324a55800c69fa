package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()

	m.RunStarted()
	m.RunStarted()
	assert.Contains(t, scrape(t, m), "codecell_active_runs 2")

	m.RunFinished("python", "completed", 0.2)
	m.RunFinished("javascript", "failed", 0.1)
	m.RecordBoot("script", nil)
	m.RecordBoot("python", errors.New("boom"))
	m.RecordInstall(true)
	m.RecordInstall(false)
	m.RecordInstall(false)

	body := scrape(t, m)
	assert.Contains(t, body, "codecell_active_runs 0")
	assert.Contains(t, body, `codecell_runs_total{language="python",status="completed"} 1`)
	assert.Contains(t, body, `codecell_runs_total{language="javascript",status="failed"} 1`)
	assert.Contains(t, body, `codecell_run_duration_seconds_count{language="python"} 1`)
	assert.Contains(t, body, `codecell_sandbox_boots_total{family="script",result="success"} 1`)
	assert.Contains(t, body, `codecell_sandbox_boots_total{family="python",result="failure"} 1`)
	assert.Contains(t, body, `codecell_package_installs_total{result="failure"} 2`)
	assert.Contains(t, body, `codecell_package_installs_total{result="success"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished("python", "completed", 1)
		m.RecordBoot("python", nil)
		m.RecordInstall(true)
	})
}

func TestTracerStartSpan(t *testing.T) {
	tracer := NewTracer()
	ctx, span := tracer.StartSpan(context.Background(), "run", AttrRunID.String("abc"))
	require.NotNil(t, ctx)
	span.End()

	var nilTracer *Tracer
	ctx, span = nilTracer.StartSpan(context.Background(), "run")
	require.NotNil(t, ctx)
	span.End()
}
