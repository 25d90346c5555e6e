package domain

import "time"

// Metrics receives operational signals from the gateway core. Implementations
// must be safe for concurrent use.
type Metrics interface {
	ObserveInvocation(backend string, duration time.Duration, err error)
	ObserveDiscoverRequest(duration time.Duration, err error)
	ObserveProvision(selected, dropped int)
	SetPublishedTools(count int)
	SetBackendAlive(backend string, alive bool)
	IncFramerDiscard(kind string)
}
