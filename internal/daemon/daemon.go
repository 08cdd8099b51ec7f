package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"forge/internal/artifact"
	"forge/internal/bus"
	"forge/internal/capability"
	"forge/internal/catalog"
	"forge/internal/config"
	"forge/internal/logging"
	"forge/internal/orchestrator"
	"forge/internal/store"
)

const generatorCacheSize = 128

type Daemon struct {
	addr    string
	token   string
	version string
	cfg     config.CoreConfig
	log     logging.Logger
	server  *http.Server
}

func New(addr, token, version string, cfg config.CoreConfig, log logging.Logger) *Daemon {
	if log == nil {
		log = logging.Nop()
	}
	return &Daemon{
		addr:    addr,
		token:   token,
		version: version,
		cfg:     cfg,
		log:     log,
	}
}

// Run wires storage, the event bus, the capability, and the engine together
// and serves the API until ctx is cancelled or shutdown is requested.
func (d *Daemon) Run(ctx context.Context) error {
	runsDir, err := config.RunsDir()
	if err != nil {
		return err
	}
	agentsDir, err := config.AgentsDir()
	if err != nil {
		return err
	}
	dbPath, err := config.DBPath()
	if err != nil {
		return err
	}
	stateDir, err := config.StateDir()
	if err != nil {
		return err
	}

	repo, err := store.Open(store.Backend(d.cfg.StorageBackend()), dbPath, stateDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	cat, err := catalog.Load(agentsDir)
	if err != nil {
		d.log.Warn("agent_catalog_load_failed", logging.F("error", err))
		cat = catalog.Empty()
	}

	gen, err := buildGenerator(d.cfg)
	if err != nil {
		return err
	}

	eventBus := bus.New(d.cfg.EventRetention())
	artifacts := artifact.NewStore(runsDir)
	engine := orchestrator.NewEngine(eventBus, artifacts, repo.Runs(), cat, gen,
		orchestrator.WithLogger(d.log),
		orchestrator.WithMaxStepAttempts(d.cfg.MaxStepAttempts()),
	)
	if err := engine.ReloadRuns(); err != nil {
		return err
	}

	api := &API{
		Version: d.version,
		Engine:  engine,
		Bus:     eventBus,
		Store:   artifacts,
		Catalog: cat,
		Logger:  d.log,
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	d.server = &http.Server{
		Addr:    d.addr,
		Handler: TokenAuthMiddleware(d.token, mux),
	}
	api.Shutdown = d.server.Shutdown

	errCh := make(chan error, 1)
	go func() {
		d.log.Info("daemon_listening",
			logging.F("addr", d.addr),
			logging.F("backend", string(repo.Backend())),
			logging.F("capability", d.cfg.CapabilityMode()),
			logging.F("model", d.cfg.CapabilityModel()),
		)
		errCh <- d.server.ListenAndServe()
	}()

	drain := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return engine.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return drain()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return drain()
		}
		return err
	}
}

// buildGenerator assembles the configured capability behind the prompt cache
// and the process-wide concurrency limit. The cache sits outermost so a hit
// never consumes a provider slot.
func buildGenerator(cfg config.CoreConfig) (capability.Generator, error) {
	var inner capability.Generator
	switch cfg.CapabilityMode() {
	case "mock":
		inner = capability.NewMock()
	default:
		return nil, fmt.Errorf("unsupported capability mode %q", cfg.CapabilityMode())
	}
	limited := capability.Limited(inner, int64(cfg.CapabilityConcurrency()))
	return capability.Cached(limited, generatorCacheSize), nil
}
