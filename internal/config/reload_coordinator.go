package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// SourcesDestinationsReloader is the subset of app wiring the
// ReloadCoordinator drives on a successful reload: swapping the
// Poller's Source list and the Fanout's Destination registry without a
// process restart. Alerts/Groups/Rules are untouched by a reload.
type SourcesDestinationsReloader interface {
	ApplySources(ctx context.Context, sources []SourceConfig) error
	ApplyDestinations(ctx context.Context, destinations []DestinationConfig) error
}

// ReloadResult summarizes one reload attempt.
type ReloadResult struct {
	Version             int64
	SourcesChanged      bool
	DestinationsChanged bool
	Error               error
}

// ReloadCoordinator re-reads the config file and, on validation success,
// diffs and applies its Source/Destination lists live. Everything else
// in Config (profile, storage, core tunables) is fixed for the process
// lifetime — changing those requires a restart.
//
// Grounded on the teacher's reload_coordinator.go's load/validate/diff/
// apply pipeline, trimmed to a single phase: this system is
// single-replica (spec's Non-goals rule out cross-process coordination),
// so there is no distributed lock, no rollback storage, and no
// multi-component health check — just "does the new file parse and
// validate, and if so, hand the new lists to the reloader."
type ReloadCoordinator struct {
	mu         sync.RWMutex
	current    *Config
	configPath string
	reloader   SourcesDestinationsReloader
	logger     *slog.Logger
	version    atomic.Int64
}

// NewReloadCoordinator creates a ReloadCoordinator seeded with the
// process's initial Config.
func NewReloadCoordinator(initial *Config, configPath string, reloader SourcesDestinationsReloader, logger *slog.Logger) *ReloadCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReloadCoordinator{
		current:    initial,
		configPath: configPath,
		reloader:   reloader,
		logger:     logger.With("component", "config_reload"),
	}
}

// Current returns the most recently applied Config.
func (c *ReloadCoordinator) Current() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Reload re-reads configPath, validates it, and applies its Source and
// Destination lists if they differ from the current ones. No other part
// of the new Config reaches the running components (pool sizes, timeouts
// and the storage profile keep their startup values), but Current
// returns the whole new Config afterwards.
func (c *ReloadCoordinator) Reload(ctx context.Context) (*ReloadResult, error) {
	next, err := LoadConfig(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("reload: load config: %w", err)
	}

	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()

	result := &ReloadResult{Version: c.version.Add(1)}

	if !sourcesEqual(prev.Sources, next.Sources) {
		if err := c.reloader.ApplySources(ctx, next.Sources); err != nil {
			return nil, fmt.Errorf("reload: apply sources: %w", err)
		}
		result.SourcesChanged = true
	}
	if !destinationsEqual(prev.Destinations, next.Destinations) {
		if err := c.reloader.ApplyDestinations(ctx, next.Destinations); err != nil {
			return nil, fmt.Errorf("reload: apply destinations: %w", err)
		}
		result.DestinationsChanged = true
	}

	c.mu.Lock()
	c.current = next
	c.mu.Unlock()

	c.logger.Info("config reloaded",
		"version", result.Version,
		"sources_changed", result.SourcesChanged,
		"destinations_changed", result.DestinationsChanged)
	return result, nil
}

// WatchSignals blocks until ctx is done, calling Reload on every SIGHUP.
// Reload errors are logged, not fatal: the previous Config stays active.
func (c *ReloadCoordinator) WatchSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if _, err := c.Reload(ctx); err != nil {
				c.logger.Error("config reload failed, keeping previous config", "error", err)
			}
		}
	}
}

func sourcesEqual(a, b []SourceConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func destinationsEqual(a, b []DestinationConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Kind != b[i].Kind || a[i].URL != b[i].URL {
			return false
		}
		if len(a[i].Headers) != len(b[i].Headers) {
			return false
		}
		for k, v := range a[i].Headers {
			if b[i].Headers[k] != v {
				return false
			}
		}
	}
	return true
}
