package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.WebhookEvent("invoice.paid", "applied")
	m.WebhookEvent("invoice.paid", "applied")
	m.GateDecision("blocked")
	m.Binding("cross_device")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("invoice.paid", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateDecisions.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bindings.WithLabelValues("cross_device")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.WebhookEvent("x", "y")
	m.GateDecision("allowed")
	m.Binding("none")
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	m.GateDecision("allowed")

	router := gin.New()
	router.GET("/metrics", m.Handler())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "crewdesk_gate_decisions_total"))
}
