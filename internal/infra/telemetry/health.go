package telemetry

import "sync"

type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthTracker aggregates per-component readiness into one report. Any
// component reporting not-ok flips the overall status to degraded.
type HealthTracker struct {
	mu         sync.RWMutex
	components map[string]string
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{components: make(map[string]string)}
}

func (h *HealthTracker) SetComponent(name, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = status
}

func (h *HealthTracker) Report() HealthReport {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := HealthReport{Status: "ok"}
	if len(h.components) > 0 {
		report.Components = make(map[string]string, len(h.components))
	}
	for name, status := range h.components {
		report.Components[name] = status
		if status != "ok" {
			report.Status = "degraded"
		}
	}
	return report
}
