package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"toolgate/internal/api"
	"toolgate/internal/domain"
	"toolgate/internal/infra/backend"
	"toolgate/internal/infra/catalog"
	"toolgate/internal/infra/discovery"
	"toolgate/internal/infra/gating"
	"toolgate/internal/infra/popularity"
	"toolgate/internal/infra/proxy"
	"toolgate/internal/infra/registry"
	"toolgate/internal/infra/telemetry"
	"toolgate/internal/infra/transport"
)

type App struct {
	logger *zap.Logger
}

type ServeConfig struct {
	ConfigPath string
}

type ValidateConfig struct {
	ConfigPath string
	Print      bool
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger.Named("app")}
}

// Serve boots every subsystem, registers the configured backends, and runs
// the API and observability servers until ctx is canceled.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	loader := catalog.NewLoader(a.logger)
	cat, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration loaded",
		zap.String("config", cfg.ConfigPath),
		zap.Int("backends", len(cat.Backends)),
	)

	var metrics domain.Metrics = telemetry.NewNoopMetrics()
	var gatherer prometheus.Gatherer
	if cat.Runtime.Observability.EnableMetrics {
		promRegistry := prometheus.NewRegistry()
		metrics = telemetry.NewPrometheusMetrics(promRegistry)
		gatherer = promRegistry
	}

	usage, err := popularity.Open(cat.Runtime.PopularityPath, a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = usage.Close() }()

	reg := registry.New(a.logger)
	gate := gating.NewService(reg, usage, metrics, a.logger)
	engine := discovery.NewEngine(reg, discovery.NewLexicalScorer(), metrics, a.logger)
	manager := backend.NewManager(backend.ManagerOptions{
		Launcher:        transport.NewProcessLauncher(a.logger, metrics),
		Logger:          a.logger,
		Metrics:         metrics,
		DiscoverTimeout: time.Duration(cat.Runtime.DiscoverTimeoutSeconds) * time.Second,
		InvokeTimeout:   time.Duration(cat.Runtime.InvokeTimeoutSeconds) * time.Second,
		ReconnectMin:    time.Duration(cat.Runtime.ReconnectMinSeconds) * time.Second,
	})
	defer manager.Close()

	executor := proxy.NewExecutor(gate, reg, manager, usage, a.logger)
	gateway := NewGateway(reg, engine, gate, manager, executor, a.logger)

	health := telemetry.NewHealthTracker()
	a.startBackends(ctx, gateway, cat, health)

	if cat.Runtime.DefaultMaxTools > 0 {
		result, err := gateway.Provision(ctx, nil, cat.Runtime.DefaultMaxTools, cat.Runtime.DefaultTokenBudget)
		if err != nil {
			return fmt.Errorf("initial provisioning: %w", err)
		}
		a.logger.Info("default tool set published",
			zap.Int("tools", len(result.Tools)),
			zap.Int("totalTokens", result.TotalTokens),
			zap.Bool("gated", result.GatingApplied),
		)
	}

	watcher := newCatalogWatcher(loader, gateway, cfg.ConfigPath, cat, a.logger)
	apiServer := api.NewServer(gateway, a.logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errChan := make(chan error, 3)
	go func() {
		errChan <- apiServer.Serve(runCtx, cat.Runtime.API.ListenAddress)
	}()
	go func() {
		errChan <- telemetry.StartHTTPServer(runCtx, telemetry.HTTPServerOptions{
			Addr:          cat.Runtime.Observability.ListenAddress,
			EnableMetrics: cat.Runtime.Observability.EnableMetrics,
			Health:        health,
			Registry:      gatherer,
		}, a.logger)
	}()
	go func() {
		errChan <- watcher.Run(runCtx)
	}()

	select {
	case <-ctx.Done():
		// Let the servers finish their graceful shutdowns.
		for i := 0; i < 3; i++ {
			<-errChan
		}
		return nil
	case err := <-errChan:
		cancel()
		return err
	}
}

func (a *App) startBackends(ctx context.Context, gateway *Gateway, cat domain.Catalog, health *telemetry.HealthTracker) {
	for _, name := range catalog.BackendNames(cat) {
		spec := cat.Backends[name]
		tools, err := gateway.RegisterBackend(ctx, spec)
		if err != nil {
			a.logger.Warn("backend failed to start",
				zap.String("backend", name),
				zap.Error(err),
			)
			health.SetComponent("backend."+name, "failed")
			continue
		}
		health.SetComponent("backend."+name, "ok")
		a.logger.Info("backend online",
			zap.String("backend", name),
			zap.Int("tools", len(tools)),
		)
	}
}

// Validate loads and normalizes the catalog without starting anything.
// With Print set, the canonical YAML form is written to stdout.
func (a *App) Validate(ctx context.Context, cfg ValidateConfig) error {
	cat, err := catalog.NewLoader(a.logger).Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration valid",
		zap.String("config", cfg.ConfigPath),
		zap.Int("backends", len(cat.Backends)),
	)
	if cfg.Print {
		raw, err := catalog.Export(cat)
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(raw); err != nil {
			return err
		}
	}
	return nil
}
