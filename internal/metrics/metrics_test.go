package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveSync("okta", true, time.Second)
		m.ObserveEndpoint("okta", "users", false)
		m.ObserveRecord("okta", "created")
		m.ObserveRun("manual")
		m.ObserveConnection("skipped")
		m.ObserveTransition("tripped")
	})

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveSync("okta", true, time.Second)
	m.ObserveSync("okta", false, time.Second)
	m.ObserveSync("okta", false, time.Second)
	m.ObserveRecord("github", "unchanged")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncsTotal.WithLabelValues("okta", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.syncsTotal.WithLabelValues("okta", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("github", "unchanged")))
}

func TestHandlerExposesRouteMetrics(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/42", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `integration_syncer_http_requests_total{method="GET",route="/things/{id}",status_code="200"} 1`)
}
