// Package app wires the alert core's components (C1-C7) into a running
// process: it builds the Store, Fetcher, Poller, EnrichmentQueue,
// Grouper, Fanout and their two HTTP surfaces from a loaded
// config.Config, connects enrichment completions to the Grouper and the
// Grouper's admissions to the Fanout, and shuts everything down, bounded
// by the configured shutdown grace, once the context passed to Run is
// cancelled. Grounded on the teacher's
// cmd/server/main.go wiring, generalized from one Postgres pool plus one
// HTTP server to the full component graph this core runs.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/holmesproxy/alert-core/internal/cache"
	"github.com/holmesproxy/alert-core/internal/config"
	"github.com/holmesproxy/alert-core/internal/core"
	"github.com/holmesproxy/alert-core/internal/discovery"
	"github.com/holmesproxy/alert-core/internal/enrichment"
	"github.com/holmesproxy/alert-core/internal/fanout"
	"github.com/holmesproxy/alert-core/internal/fanout/destinations"
	"github.com/holmesproxy/alert-core/internal/fetcher"
	"github.com/holmesproxy/alert-core/internal/grouping"
	"github.com/holmesproxy/alert-core/internal/investigator"
	"github.com/holmesproxy/alert-core/internal/poller"
	"github.com/holmesproxy/alert-core/internal/rulestore"
	"github.com/holmesproxy/alert-core/internal/store"
	"github.com/holmesproxy/alert-core/internal/webhook"
	"github.com/holmesproxy/alert-core/pkg/metrics"

	apipkg "github.com/holmesproxy/alert-core/internal/api"
)

// App holds every wired component and the HTTP servers fronting them.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store        *store.Store
	poller       *poller.Poller
	enrichQueue  *enrichment.Queue
	grouper      *grouping.Grouper
	fanoutReg    *fanout.Registry
	fanout       *fanout.Fanout
	ruleRepo     core.RuleRepository
	outcomeCache io.Closer // nil if unconfigured; the Redis client behind core.Cache

	webhookSrv *http.Server
	adminSrv   *http.Server

	reload *config.ReloadCoordinator

	wg sync.WaitGroup
}

// New builds every component named in cfg but starts nothing. configPath
// is retained only to re-read the file on a SIGHUP reload.
func New(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := metrics.NewMetricsRegistry(cfg.Metrics.Namespace)

	st := store.New(registry.Store(), logger)

	ruleRepo, err := newRuleRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: rule repository: %w", err)
	}

	var outcomeCache core.Cache
	var cacheCloser io.Closer
	if cfg.Cache.Addr != "" {
		rc, err := cache.New(ctx, cfg.ToCacheConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("app: connect cache: %w", err)
		}
		outcomeCache = rc
		cacheCloser = rc
	}

	inv := investigator.New(cfg.ToInvestigatorConfig(), registry.Investigator(), registry.Retry(), logger)

	grouper := grouping.New(st, inv, ruleRepo, cfg.ToGrouperConfig(), registry.Grouping(), logger)
	if err := grouper.LoadRules(ctx); err != nil {
		return nil, fmt.Errorf("app: load rules: %w", err)
	}

	fanoutReg := fanout.NewRegistry()
	if err := registerDestinations(fanoutReg, cfg.Destinations); err != nil {
		return nil, fmt.Errorf("app: destinations: %w", err)
	}
	fo := fanout.New(fanoutReg, cfg.ToFanoutConfig(), registry.Fanout(), logger)

	a := &App{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		ruleRepo:     ruleRepo,
		outcomeCache: cacheCloser,
		grouper:      grouper,
		fanoutReg:    fanoutReg,
		fanout:       fo,
	}

	enrichCfg := cfg.ToEnrichmentConfig()
	enrichCfg.OnComplete = a.onEnrichmentComplete
	a.enrichQueue = enrichment.New(st, inv, outcomeCache, enrichCfg, registry.Enrichment(), logger)

	f := fetcher.New(&http.Client{Timeout: cfg.Core.FetchTimeout}, registry.Fetcher(), logger)

	var disc core.SourceDiscovery
	if d, err := discovery.New(discovery.DefaultConfig()); err == nil {
		disc = d
	} else {
		logger.Info("in-cluster source discovery unavailable, using only statically configured sources", "error", err)
	}

	staticSources := make([]core.Source, len(cfg.Sources))
	for i, s := range cfg.Sources {
		staticSources[i] = core.Source{ID: s.ID, URL: s.URL, Transport: s.Transport}
	}
	a.poller = poller.New(f, st, a.enrichQueue, disc, cfg.ToPollerConfig(staticSources), registry.Poller(), logger)

	webhookHandler := webhook.NewHandler(st, a.enrichQueue, registry.Webhook(), logger)
	webhookRouter := mux.NewRouter()
	webhookHandler.Register(webhookRouter)
	a.webhookSrv = &http.Server{
		Addr:         cfg.Server.WebhookAddr,
		Handler:      webhookRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	adminRouter := apipkg.NewRouter(apipkg.Config{
		Store:  st,
		Groups: grouper,
		Rules:  grouper,
		Fanout: fo,
		Logger: logger,
	})
	a.adminSrv = &http.Server{
		Addr:         cfg.Server.AdminAddr,
		Handler:      adminRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	a.reload = config.NewReloadCoordinator(cfg, configPath, a, logger)

	return a, nil
}

func newRuleRepository(ctx context.Context, cfg *config.Config) (core.RuleRepository, error) {
	switch cfg.Profile {
	case config.ProfileStandard:
		return rulestore.NewPostgresRuleRepository(ctx, cfg.Storage.PostgresDSN)
	default:
		return rulestore.NewSQLiteRuleRepository(ctx, cfg.Storage.SQLitePath)
	}
}

func registerDestinations(reg *fanout.Registry, cfgs []config.DestinationConfig) error {
	for _, d := range cfgs {
		var dest core.Destination
		switch d.Kind {
		case core.DestinationChat:
			dest = destinations.NewChat(d.Name, d.URL)
		case core.DestinationRelay:
			dest = destinations.NewRelay(d.Name, d.URL, d.Headers)
		case core.DestinationWebhook:
			dest = destinations.NewWebhook(d.Name, d.URL, d.Headers)
		default:
			return fmt.Errorf("destination %s: unrecognized kind %q", d.Name, d.Kind)
		}
		if err := reg.Register(dest); err != nil {
			return err
		}
	}
	return nil
}

// onEnrichmentComplete hands a freshly enriched alert to the Grouper and,
// once it is admitted to a Group, to the Fanout. Runs on the
// EnrichmentQueue's worker goroutine; Process and Deliver both manage
// their own locking so this adds no additional synchronization.
func (a *App) onEnrichmentComplete(fingerprint string, enr *core.Enrichment) {
	if enr == nil || enr.Status != core.EnrichmentOK {
		return
	}
	alert, ok := a.store.Get(fingerprint)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Core.DestinationTimeout)
	defer cancel()

	group, err := a.grouper.Process(ctx, alert)
	if err != nil {
		a.logger.Warn("grouping failed", "fingerprint", fingerprint, "error", err)
		return
	}
	if err := a.store.SetGroupID(fingerprint, group.ID); err != nil {
		a.logger.Warn("store group assignment failed", "fingerprint", fingerprint, "error", err)
	}

	a.fanout.Deliver(ctx, alert, alert.Enrichment, group)
}

// ApplySources implements config.SourcesDestinationsReloader. The Poller
// only starts tasks for newly seen Source IDs (it never stops one, per
// its own startMissingSources semantics), so a reload can add Sources
// but cannot remove or restart one without a process restart.
func (a *App) ApplySources(ctx context.Context, sources []config.SourceConfig) error {
	coreSources := make([]core.Source, len(sources))
	for i, s := range sources {
		coreSources[i] = core.Source{ID: s.ID, URL: s.URL, Transport: s.Transport}
	}
	a.poller.AddStaticSources(coreSources)
	return nil
}

// ApplyDestinations implements config.SourcesDestinationsReloader,
// replacing the Fanout Registry's contents wholesale.
func (a *App) ApplyDestinations(ctx context.Context, dests []config.DestinationConfig) error {
	next := fanout.NewRegistry()
	if err := registerDestinations(next, dests); err != nil {
		return err
	}
	for _, d := range a.fanoutReg.List() {
		a.fanoutReg.Unregister(d.Name())
	}
	for _, d := range next.List() {
		if err := a.fanoutReg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Run starts every long-running component task and both HTTP servers,
// then blocks until ctx is cancelled, at which point it shuts everything
// down within cfg.Core.ShutdownGrace.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.wg.Add(2)
	go func() { defer a.wg.Done(); a.poller.Run(runCtx) }()
	go func() { defer a.wg.Done(); a.enrichQueue.Run(runCtx) }()

	go a.reload.WatchSignals(runCtx)

	serverErrs := make(chan error, 2)
	go func() {
		if err := a.webhookSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- fmt.Errorf("webhook server: %w", err)
			return
		}
		serverErrs <- nil
	}()
	go func() {
		if err := a.adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrs <- fmt.Errorf("admin server: %w", err)
			return
		}
		serverErrs <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErrs:
		if err != nil {
			a.logger.Error("server failed, shutting down", "error", err)
		}
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	cancelCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Core.ShutdownGrace)
	defer cancel()

	var errs []error
	if err := a.webhookSrv.Shutdown(cancelCtx); err != nil {
		errs = append(errs, fmt.Errorf("webhook server shutdown: %w", err))
	}
	if err := a.adminSrv.Shutdown(cancelCtx); err != nil {
		errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
	}

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-cancelCtx.Done():
		errs = append(errs, fmt.Errorf("component tasks did not stop within shutdown grace"))
	}

	if err := a.ruleRepo.Close(cancelCtx); err != nil {
		errs = append(errs, fmt.Errorf("close rule repository: %w", err))
	}
	if a.outcomeCache != nil {
		if err := a.outcomeCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close outcome cache: %w", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("shutdown: %v", errs)
}
