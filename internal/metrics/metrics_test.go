package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	m := New()
	m.ObserveOperation("book", "ok", 3*time.Millisecond)
	m.ObserveOperation("book", "ok", time.Millisecond)
	m.ObserveOperation("book", "slot_unavailable", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("book", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("book", "slot_unavailable")))
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST", "/appointments", 201, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_http_requests_total{method="POST",route="/appointments",status_code="201"} 1`)
}
