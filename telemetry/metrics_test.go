package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, registry *prometheus.Registry) map[string]float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range metricFamilies {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	return values
}

func TestNewMetrics_WithLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	labels := map[string]string{
		"client": "test-client",
		"app":    "comments",
	}

	m := NewMetrics(registry, labels)
	m.IncConnections()

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() != "realtime_connections_total" {
			continue
		}
		found = true
		for _, metric := range mf.GetMetric() {
			labelMap := make(map[string]string)
			for _, l := range metric.GetLabel() {
				labelMap[l.GetName()] = l.GetValue()
			}
			assert.Equal(t, labels, labelMap)
			assert.Equal(t, float64(1), metric.GetCounter().GetValue())
		}
	}
	assert.True(t, found, "metric realtime_connections_total not found")
}

func TestNewMetrics_AllCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry, nil)

	m.IncConnections()
	m.IncDisconnects()
	m.IncReconnectAttempts()
	m.IncReconnectAttempts()
	m.IncChannelAuths()
	m.IncSubscriptionFailures()
	m.IncDecodeErrors()
	m.IncListenerErrors()
	m.IncDroppedEvents()
	m.SetConnectionStatus(1)

	values := gather(t, registry)
	assert.Equal(t, float64(1), values["realtime_connections_total"])
	assert.Equal(t, float64(1), values["realtime_disconnects_total"])
	assert.Equal(t, float64(2), values["realtime_reconnect_attempts_total"])
	assert.Equal(t, float64(1), values["realtime_channel_auths_total"])
	assert.Equal(t, float64(1), values["realtime_subscription_failures_total"])
	assert.Equal(t, float64(1), values["realtime_decode_errors_total"])
	assert.Equal(t, float64(1), values["realtime_listener_errors_total"])
	assert.Equal(t, float64(1), values["realtime_dropped_events_total"])
	assert.Equal(t, float64(1), values["realtime_connection_status"])
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry, nil)
	assert.Panics(t, func() { NewMetrics(registry, nil) })
}

func TestHandler_ServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry, map[string]string{"app": "comments"})
	m.IncDroppedEvents()

	srv := httptest.NewServer(Handler(registry))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `realtime_dropped_events_total{app="comments"} 1`)
}
