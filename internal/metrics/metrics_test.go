package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRPCCountsByMethodAndCode(t *testing.T) {
	m := New()
	m.ObserveRPC("text.get", 0, time.Millisecond)
	m.ObserveRPC("text.get", 0, time.Millisecond)
	m.ObserveRPC("text.get", 40100, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.rpcCalls.WithLabelValues("text.get", "0")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rpcCalls.WithLabelValues("text.get", "40100")))
}

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.InstrumentHandler)
	r.Get("/api/domains/{domain}/entities/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/domains/post/entities/p1", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	count := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/domains/{domain}/entities/{id}", "418"))
	assert.Equal(t, float64(1), count)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "strn_http_requests_total"))
}
