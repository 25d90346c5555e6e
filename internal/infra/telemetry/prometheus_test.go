package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusMetrics(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	assert.NotNil(t, m)
	assert.NotNil(t, m.invocationDuration)
	assert.NotNil(t, m.discoverDuration)
	assert.NotNil(t, m.provisionSelected)
	assert.NotNil(t, m.provisionDropped)
	assert.NotNil(t, m.publishedTools)
	assert.NotNil(t, m.backendAlive)
	assert.NotNil(t, m.framerDiscards)
}

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveInvocation("calcsrv", 10*time.Millisecond, nil)
	m.ObserveInvocation("calcsrv", 5*time.Millisecond, errors.New("boom"))
	m.ObserveDiscoverRequest(time.Millisecond, nil)
	m.ObserveProvision(3, 2)
	m.SetPublishedTools(3)
	m.SetBackendAlive("calcsrv", true)
	m.IncFramerDiscard("noise")

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, mf := range metrics {
		names = append(names, mf.GetName())
	}

	assert.Contains(t, names, "toolgate_invocation_duration_seconds")
	assert.Contains(t, names, "toolgate_discover_duration_seconds")
	assert.Contains(t, names, "toolgate_provision_selected_total")
	assert.Contains(t, names, "toolgate_provision_dropped_total")
	assert.Contains(t, names, "toolgate_published_tools")
	assert.Contains(t, names, "toolgate_backend_alive")
	assert.Contains(t, names, "toolgate_framer_discards_total")
}

func TestHealthTracker(t *testing.T) {
	tracker := NewHealthTracker()
	assert.Equal(t, "ok", tracker.Report().Status)

	tracker.SetComponent("backend.calcsrv", "ok")
	assert.Equal(t, "ok", tracker.Report().Status)

	tracker.SetComponent("backend.websrv", "disconnected")
	report := tracker.Report()
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, "disconnected", report.Components["backend.websrv"])
}
