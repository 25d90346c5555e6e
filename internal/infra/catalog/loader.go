// Package catalog loads and validates the gateway configuration file: the
// set of backend tool servers plus runtime knobs.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("catalog")}
}

func newCatalogViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setRuntimeDefaults(v)
	return v
}

func setRuntimeDefaults(v *viper.Viper) {
	v.SetDefault("discoverTimeoutSeconds", domain.DefaultDiscoverTimeoutSeconds)
	v.SetDefault("invokeTimeoutSeconds", domain.DefaultInvokeTimeoutSeconds)
	v.SetDefault("reconnectMinSeconds", domain.DefaultReconnectMinSeconds)
	v.SetDefault("defaultMaxTools", domain.DefaultMaxTools)
	v.SetDefault("defaultTokenBudget", domain.DefaultTokenBudget)
	v.SetDefault("api.listenAddress", domain.DefaultAPIListenAddress)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityListenAddress)
	v.SetDefault("observability.enableMetrics", domain.DefaultEnableMetrics)
}

type rawCatalog struct {
	Backends         []rawBackendSpec `mapstructure:"backends"`
	rawRuntimeConfig `mapstructure:",squash"`
}

type rawBackendSpec struct {
	Name string            `mapstructure:"name"`
	Cmd  []string          `mapstructure:"cmd"`
	Env  map[string]string `mapstructure:"env"`
	Cwd  string            `mapstructure:"cwd"`
}

type rawRuntimeConfig struct {
	DiscoverTimeoutSeconds int                    `mapstructure:"discoverTimeoutSeconds"`
	InvokeTimeoutSeconds   int                    `mapstructure:"invokeTimeoutSeconds"`
	ReconnectMinSeconds    int                    `mapstructure:"reconnectMinSeconds"`
	DefaultMaxTools        int                    `mapstructure:"defaultMaxTools"`
	DefaultTokenBudget     int                    `mapstructure:"defaultTokenBudget"`
	PopularityPath         string                 `mapstructure:"popularityPath"`
	API                    rawAPIConfig           `mapstructure:"api"`
	Observability          rawObservabilityConfig `mapstructure:"observability"`
}

type rawAPIConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
	EnableMetrics bool   `mapstructure:"enableMetrics"`
}

// Load reads, env-expands, decodes, and validates the catalog at path.
func (l *Loader) Load(ctx context.Context, path string) (domain.Catalog, error) {
	if path == "" {
		return domain.Catalog{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandConfigEnv(data)
	if err != nil {
		return domain.Catalog{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config",
			zap.String("path", path),
			zap.Strings("missing", missing),
		)
	}

	v := newCatalogViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.Catalog{}, fmt.Errorf("parse config: %w", err)
	}

	var cfg rawCatalog
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Catalog{}, fmt.Errorf("decode config: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return domain.Catalog{}, err
	}

	var validationErrors []string
	runtime, runtimeErrs := normalizeRuntimeConfig(cfg.rawRuntimeConfig)
	validationErrors = append(validationErrors, runtimeErrs...)

	backends := make(map[string]domain.BackendSpec, len(cfg.Backends))
	for i, raw := range cfg.Backends {
		spec := normalizeBackendSpec(raw)
		if errs := validateBackendSpec(spec, i); len(errs) > 0 {
			validationErrors = append(validationErrors, errs...)
			continue
		}
		if _, exists := backends[spec.Name]; exists {
			validationErrors = append(validationErrors, fmt.Sprintf("backends[%d]: duplicate name %q", i, spec.Name))
			continue
		}
		backends[spec.Name] = spec
	}

	if len(validationErrors) > 0 {
		return domain.Catalog{}, errors.New(strings.Join(validationErrors, "; "))
	}

	return domain.Catalog{
		Backends: backends,
		Runtime:  runtime,
	}, nil
}

func normalizeBackendSpec(raw rawBackendSpec) domain.BackendSpec {
	env := raw.Env
	if len(env) == 0 {
		env = nil
	}
	return domain.BackendSpec{
		Name: strings.TrimSpace(raw.Name),
		Cmd:  raw.Cmd,
		Env:  env,
		Cwd:  strings.TrimSpace(raw.Cwd),
	}
}

func validateBackendSpec(spec domain.BackendSpec, index int) []string {
	var errs []string
	if spec.Name == "" {
		errs = append(errs, fmt.Sprintf("backends[%d]: name is required", index))
	}
	if strings.ContainsAny(spec.Name, " \t_") {
		// Underscores would make tool ids ambiguous; whitespace is a typo.
		errs = append(errs, fmt.Sprintf("backends[%d]: name %q must not contain whitespace or underscores", index, spec.Name))
	}
	if len(spec.Cmd) == 0 {
		errs = append(errs, fmt.Sprintf("backends[%d]: cmd is required", index))
	}
	for key := range spec.Env {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("backends[%d]: env contains empty variable name", index))
		}
	}
	return errs
}

func normalizeRuntimeConfig(cfg rawRuntimeConfig) (domain.RuntimeConfig, []string) {
	var errs []string

	if cfg.DiscoverTimeoutSeconds <= 0 {
		errs = append(errs, "discoverTimeoutSeconds must be > 0")
	}
	if cfg.InvokeTimeoutSeconds <= 0 {
		errs = append(errs, "invokeTimeoutSeconds must be > 0")
	}
	if cfg.ReconnectMinSeconds < 0 {
		errs = append(errs, "reconnectMinSeconds must be >= 0")
	}
	if cfg.DefaultMaxTools < 0 {
		errs = append(errs, "defaultMaxTools must be >= 0")
	}
	if cfg.DefaultTokenBudget < 0 {
		// Zero means unlimited; negative is always a mistake.
		errs = append(errs, "defaultTokenBudget must be >= 0")
	}

	apiAddr := strings.TrimSpace(cfg.API.ListenAddress)
	if apiAddr == "" {
		apiAddr = domain.DefaultAPIListenAddress
	}
	obsAddr := strings.TrimSpace(cfg.Observability.ListenAddress)
	if obsAddr == "" {
		obsAddr = domain.DefaultObservabilityListenAddress
	}

	return domain.RuntimeConfig{
		DiscoverTimeoutSeconds: cfg.DiscoverTimeoutSeconds,
		InvokeTimeoutSeconds:   cfg.InvokeTimeoutSeconds,
		ReconnectMinSeconds:    cfg.ReconnectMinSeconds,
		DefaultMaxTools:        cfg.DefaultMaxTools,
		DefaultTokenBudget:     cfg.DefaultTokenBudget,
		PopularityPath:         strings.TrimSpace(cfg.PopularityPath),
		API:                    domain.APIConfig{ListenAddress: apiAddr},
		Observability: domain.ObservabilityConfig{
			ListenAddress: obsAddr,
			EnableMetrics: cfg.Observability.EnableMetrics,
		},
	}, errs
}

// BackendNames returns the catalog's backend names in sorted order.
func BackendNames(c domain.Catalog) []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
