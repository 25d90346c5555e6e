package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Tool is a single capability exposed by a backend. Tools are created during
// backend discovery and are immutable afterwards; re-discovery replaces the
// whole set for that backend.
type Tool struct {
	// ID is unique and stable for the process lifetime, conventionally
	// "{backend}_{localName}".
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	// EstimatedTokens is the token cost charged against a provisioning
	// budget. Never negative.
	EstimatedTokens int    `json:"estimatedTokens"`
	Server          string `json:"server"`
}

// ToolMatch is a scored discovery result. Score is in [0,1]; MatchedTags is
// the subset of the tool's tags that matched the requested tag filter.
type ToolMatch struct {
	Tool        Tool     `json:"tool"`
	Score       float64  `json:"score"`
	MatchedTags []string `json:"matchedTags,omitempty"`
}

// ProvisionResult describes the outcome of a provisioning call.
type ProvisionResult struct {
	Tools       []Tool `json:"tools"`
	TotalTokens int    `json:"totalTokens"`
	// GatingApplied is true iff at least one candidate was dropped, whether
	// for the count limit, the token budget, or because it was unknown.
	GatingApplied bool `json:"gatingApplied"`
}

// BackendSpec describes how to launch and reach one backend tool server.
type BackendSpec struct {
	Name string            `json:"name"`
	Cmd  []string          `json:"cmd"`
	Env  map[string]string `json:"env,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
}

// BackendStatus is a read-only snapshot of a backend connection for status
// queries.
type BackendStatus struct {
	Name        string    `json:"name"`
	Alive       bool      `json:"alive"`
	ToolCount   int       `json:"toolCount"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type RuntimeConfig struct {
	DiscoverTimeoutSeconds int                 `json:"discoverTimeoutSeconds"`
	InvokeTimeoutSeconds   int                 `json:"invokeTimeoutSeconds"`
	ReconnectMinSeconds    int                 `json:"reconnectMinSeconds"`
	DefaultMaxTools        int                 `json:"defaultMaxTools"`
	DefaultTokenBudget     int                 `json:"defaultTokenBudget"`
	PopularityPath         string              `json:"popularityPath,omitempty"`
	API                    APIConfig           `json:"api"`
	Observability          ObservabilityConfig `json:"observability"`
}

type APIConfig struct {
	ListenAddress string `json:"listenAddress"`
}

type ObservabilityConfig struct {
	ListenAddress string `json:"listenAddress"`
	EnableMetrics bool   `json:"enableMetrics"`
}

// Catalog is the normalized configuration: the set of configured backends
// plus runtime knobs.
type Catalog struct {
	Backends map[string]BackendSpec
	Runtime  RuntimeConfig
}

var ErrInvalidQuery = errors.New("query is empty")
var ErrInvalidLimit = errors.New("limit must be positive")
var ErrNotProvisioned = errors.New("tool not provisioned")
var ErrUnknownTool = errors.New("tool not found")
var ErrUnknownBackend = errors.New("unknown backend")
var ErrBackendExists = errors.New("backend already registered")
var ErrDiscoveryTimeout = errors.New("discovery timed out")
var ErrDiscoveryProtocol = errors.New("discovery protocol error")
var ErrInvocationTimeout = errors.New("invocation timed out")
var ErrBackendUnavailable = errors.New("backend unavailable")
var ErrTruncatedStream = errors.New("stream truncated mid-message")
var ErrConnectionClosed = errors.New("connection closed")
var ErrReconnectTooSoon = errors.New("reconnect attempted too soon")
