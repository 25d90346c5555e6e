package catalog

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"toolgate/internal/domain"
)

type exportCatalog struct {
	Backends               []exportBackend     `yaml:"backends"`
	DiscoverTimeoutSeconds int                 `yaml:"discoverTimeoutSeconds"`
	InvokeTimeoutSeconds   int                 `yaml:"invokeTimeoutSeconds"`
	ReconnectMinSeconds    int                 `yaml:"reconnectMinSeconds"`
	DefaultMaxTools        int                 `yaml:"defaultMaxTools"`
	DefaultTokenBudget     int                 `yaml:"defaultTokenBudget"`
	PopularityPath         string              `yaml:"popularityPath,omitempty"`
	API                    exportListenAddr    `yaml:"api"`
	Observability          exportObservability `yaml:"observability"`
}

type exportBackend struct {
	Name string            `yaml:"name"`
	Cmd  []string          `yaml:"cmd"`
	Env  map[string]string `yaml:"env,omitempty"`
	Cwd  string            `yaml:"cwd,omitempty"`
}

type exportListenAddr struct {
	ListenAddress string `yaml:"listenAddress"`
}

type exportObservability struct {
	ListenAddress string `yaml:"listenAddress"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// Export renders a catalog back to canonical YAML: backends sorted by name,
// every runtime knob explicit. Useful for config inspection and for writing
// back a normalized file.
func Export(c domain.Catalog) ([]byte, error) {
	out := exportCatalog{
		Backends:               make([]exportBackend, 0, len(c.Backends)),
		DiscoverTimeoutSeconds: c.Runtime.DiscoverTimeoutSeconds,
		InvokeTimeoutSeconds:   c.Runtime.InvokeTimeoutSeconds,
		ReconnectMinSeconds:    c.Runtime.ReconnectMinSeconds,
		DefaultMaxTools:        c.Runtime.DefaultMaxTools,
		DefaultTokenBudget:     c.Runtime.DefaultTokenBudget,
		PopularityPath:         c.Runtime.PopularityPath,
		API:                    exportListenAddr{ListenAddress: c.Runtime.API.ListenAddress},
		Observability: exportObservability{
			ListenAddress: c.Runtime.Observability.ListenAddress,
			EnableMetrics: c.Runtime.Observability.EnableMetrics,
		},
	}
	for _, name := range BackendNames(c) {
		spec := c.Backends[name]
		out.Backends = append(out.Backends, exportBackend{
			Name: spec.Name,
			Cmd:  spec.Cmd,
			Env:  spec.Env,
			Cwd:  spec.Cwd,
		})
	}

	raw, err := yaml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return raw, nil
}
