package domain

import "encoding/json"

const (
	DefaultDiscoverTimeoutSeconds = 10
	DefaultInvokeTimeoutSeconds   = 30
	DefaultReconnectMinSeconds    = 5
	DefaultMaxTools               = 20
	DefaultTokenBudget            = 0

	DefaultAPIListenAddress           = "127.0.0.1:8080"
	DefaultObservabilityListenAddress = "127.0.0.1:9090"
	DefaultEnableMetrics              = true
)

// DefaultParametersSchema is carried for tools whose backend supplies no
// argument schema.
func DefaultParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}

// ToolID joins a backend name and a local tool name into the registry
// identifier.
func ToolID(backend, localName string) string {
	return backend + "_" + localName
}
