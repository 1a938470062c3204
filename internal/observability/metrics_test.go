package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("/users/me", http.MethodGet, http.StatusOK, 20*time.Millisecond)
	m.RecordRequest("/users/me", http.MethodGet, http.StatusOK, 10*time.Millisecond)
	m.RecordError("/users/me", http.MethodGet, "UNAUTHORIZED")
	m.RecordTokenVerification("revoked")
	m.RecordCacheLookup("id", CacheHit)
	m.RecordCacheLookup("email", CacheMiss)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/users/me", http.MethodGet, "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("/users/me", http.MethodGet, "UNAUTHORIZED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenVerifications.WithLabelValues("revoked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("id", CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("email", CacheMiss)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/", http.MethodGet, http.StatusOK, time.Millisecond)
		m.RecordError("/", http.MethodGet, "X")
		m.RecordTokenVerification("ok")
		m.RecordCacheLookup("id", CacheHit)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordTokenVerification("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), `auth_token_verifications_total{result="ok"} 1`)
}
