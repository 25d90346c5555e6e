package telemetry

import (
	"time"

	"toolgate/internal/domain"
)

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) ObserveInvocation(_ string, _ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveDiscoverRequest(_ time.Duration, _ error) {}

func (n *NoopMetrics) ObserveProvision(_, _ int) {}

func (n *NoopMetrics) SetPublishedTools(_ int) {}

func (n *NoopMetrics) SetBackendAlive(_ string, _ bool) {}

func (n *NoopMetrics) IncFramerDiscard(_ string) {}

var _ domain.Metrics = (*NoopMetrics)(nil)
