package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRecords(t *testing.T) {
	m := New("test")

	m.InvoiceScored("high", 3*time.Millisecond, []string{"block_billing", "block_billing", "weekend_work"})
	m.InvoiceScored("low", time.Millisecond, nil)
	m.TrainingRun(OutcomeSuccess)
	m.TrainingRun(OutcomeInsufficient)
	m.ModelActivated(0.12, 40)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.invoicesScored.WithLabelValues("high")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.findings.WithLabelValues("block_billing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trainingRuns.WithLabelValues(OutcomeInsufficient)))
	assert.Equal(t, 0.12, testutil.ToFloat64(m.modelMAE))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.modelSamples))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("kestrel")
	m.HTTPRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "kestrel_http_requests_total"))
}

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.InvoiceScored("low", time.Millisecond, []string{"x"})
		m.ScoringFailed("model_not_trained")
		m.TrainingRun(OutcomeError)
		m.ModelActivated(0.2, 10)
		m.HTTPRequest("GET", "/", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}
