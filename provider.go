package outboxd

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

// StoreIdentifier names one tenant store for logging, selection and
// platform-exclusion purposes. Two identifiers with the same
// Normalized value are treated as the same physical store.
type StoreIdentifier struct {
	Name       string
	Normalized string
}

// StoreProvider resolves the current set of stores a Dispatcher or
// PollingLoop should fan out across. Implementations range from a
// fixed list (ConfiguredProvider) to one that periodically refreshes
// from an external catalog (DiscoveryProvider) to one that excludes a
// known control-plane store from a platform-wide catalog
// (PlatformProvider).
type StoreProvider interface {
	Stores(ctx context.Context) ([]ManagedStore, error)
}

// ManagedStore pairs a Store with the identifier used to address it.
type ManagedStore struct {
	ID    StoreIdentifier
	Store Store
}

// ConfiguredProvider returns a fixed, never-changing set of stores,
// supplied once at construction. This is the default for a
// single-tenant deployment or a test harness.
type ConfiguredProvider struct {
	stores []ManagedStore
}

func NewConfiguredProvider(stores []ManagedStore) *ConfiguredProvider {
	cp := make([]ManagedStore, len(stores))
	copy(cp, stores)
	return &ConfiguredProvider{stores: cp}
}

func (p *ConfiguredProvider) Stores(ctx context.Context) ([]ManagedStore, error) {
	return p.stores, nil
}

// StoreConfig is the data a Discoverer reports for one logical store:
// enough to open (or recreate) a connection, but not a live connection
// itself. Opening and disposing of connections is the DiscoveryProvider's
// job, not the Discoverer's (spec.md §4.4).
type StoreConfig struct {
	ID               StoreIdentifier
	ConnectionString string
	Schema           string
	Table            string
}

// changed reports whether cfg describes a different physical
// connection than other (same identifier, different connection
// details), meaning the existing Store must be disposed and reopened
// rather than reused.
func (cfg StoreConfig) changed(other StoreConfig) bool {
	return cfg.ConnectionString != other.ConnectionString ||
		cfg.Schema != other.Schema ||
		cfg.Table != other.Table
}

// Discoverer is the collaborator a DiscoveryProvider asks for the
// current catalog of stores. A real implementation might list
// database catalogs from a control-plane API; it is explicitly a
// caller-supplied dependency, not something this package implements.
// It reports configuration, not live connections: the provider itself
// owns opening and disposing of every Store built from that
// configuration.
type Discoverer interface {
	Discover(ctx context.Context) ([]StoreConfig, error)
}

// StoreFactory opens (and disposes of) the live Store a StoreConfig
// describes. A DiscoveryProvider calls Open for every new or changed
// config it sees and Dispose for every config that disappears, changes,
// or is still open when the provider itself stops.
type StoreFactory interface {
	Open(ctx context.Context, cfg StoreConfig) (Store, error)
	Dispose(ctx context.Context, store Store) error
}

type discoveredStore struct {
	cfg     StoreConfig
	managed ManagedStore
}

// DiscoveryProvider periodically refreshes its store set from a
// Discoverer, serializing concurrent refreshes with singleflight so a
// burst of callers triggers at most one in-flight Discover call, and
// wrapping Discover in a circuit breaker so a flaky discovery
// collaborator degrades to "serve the last known-good set" instead of
// blocking every caller on every poll. Each refresh diffs the reported
// configs against what it currently has open: new identifiers are
// opened, missing identifiers are disposed and dropped, and
// identifiers whose connection details changed are disposed and
// reopened in place (spec.md §4.4).
//
// Grounded on the teacher's lc_base start/stop discipline
// (lc_base.go) for Start/Stop, generalized with
// golang.org/x/sync/singleflight (refresh de-duplication) and
// github.com/sony/gobreaker (discovery-call circuit breaking), both
// drawn from the wider example pack rather than the teacher, which
// has no multi-store concept. The provider-owns-what-it-opens
// lifecycle (tracked per identifier, released on Dispose/Stop) follows
// the same discipline as the `beads` web UI's ConnectionPool, which
// tracks every connection it creates and is responsible for closing
// it.
type DiscoveryProvider struct {
	lcBase

	discoverer Discoverer
	factory    StoreFactory
	interval   time.Duration

	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	current map[string]discoveredStore // keyed by StoreIdentifier.Normalized

	done   chan struct{}
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewDiscoveryProvider builds a provider that refreshes every interval
// via discoverer, opening and disposing of stores through factory. The
// constructor does not contact the discoverer; Start performs the
// initial synchronous refresh.
func NewDiscoveryProvider(discoverer Discoverer, factory StoreFactory, interval time.Duration, logger *slog.Logger) *DiscoveryProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	dp := &DiscoveryProvider{
		discoverer: discoverer,
		factory:    factory,
		interval:   interval,
		logger:     logger,
		current:    map[string]discoveredStore{},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "outboxd-discovery",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
	return dp
}

// Start launches the background refresh loop. It performs one
// synchronous refresh before returning so Stores has data immediately.
func (dp *DiscoveryProvider) Start(ctx context.Context) error {
	if err := dp.tryStart(); err != nil {
		return err
	}
	dp.refresh(ctx)
	dp.done = make(chan struct{})
	loopCtx, cancel := context.WithCancel(ctx)
	dp.cancel = cancel
	go dp.loop(loopCtx)
	return nil
}

func (dp *DiscoveryProvider) loop(ctx context.Context) {
	defer close(dp.done)
	ticker := time.NewTicker(dp.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dp.refresh(ctx)
		}
	}
}

// refresh fetches the current catalog and reconciles dp.current
// against it: opens configs it has never seen, disposes and reopens
// configs whose connection details changed, and disposes configs that
// no longer appear. A failed Discover leaves the existing set
// untouched (serve last known-good).
func (dp *DiscoveryProvider) refresh(ctx context.Context) {
	_, _, _ = dp.group.Do("refresh", func() (any, error) {
		result, err := dp.breaker.Execute(func() (any, error) {
			return dp.discoverer.Discover(ctx)
		})
		if err != nil {
			dp.logger.Error("outboxd: discovery refresh failed, keeping last known set", "err", err)
			return nil, err
		}
		cfgs := result.([]StoreConfig)
		dp.reconcile(ctx, cfgs)
		return cfgs, nil
	})
}

func (dp *DiscoveryProvider) reconcile(ctx context.Context, cfgs []StoreConfig) {
	dp.mu.Lock()
	defer dp.mu.Unlock()

	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		key := cfg.ID.Normalized
		seen[key] = true

		existing, ok := dp.current[key]
		switch {
		case !ok:
			store, err := dp.factory.Open(ctx, cfg)
			if err != nil {
				dp.logger.Error("outboxd: failed to open discovered store", "store", cfg.ID.Name, "err", err)
				continue
			}
			dp.current[key] = discoveredStore{cfg: cfg, managed: ManagedStore{ID: cfg.ID, Store: store}}
		case existing.cfg.changed(cfg):
			if err := dp.factory.Dispose(ctx, existing.managed.Store); err != nil {
				dp.logger.Error("outboxd: failed to dispose changed store", "store", cfg.ID.Name, "err", err)
			}
			store, err := dp.factory.Open(ctx, cfg)
			if err != nil {
				dp.logger.Error("outboxd: failed to reopen changed store", "store", cfg.ID.Name, "err", err)
				delete(dp.current, key)
				continue
			}
			dp.current[key] = discoveredStore{cfg: cfg, managed: ManagedStore{ID: cfg.ID, Store: store}}
		default:
			// Unchanged: keep the existing connection, but refresh the
			// identifier in case only its display Name changed.
			existing.cfg.ID = cfg.ID
			existing.managed.ID = cfg.ID
			dp.current[key] = existing
		}
	}

	for key, existing := range dp.current {
		if seen[key] {
			continue
		}
		if err := dp.factory.Dispose(ctx, existing.managed.Store); err != nil {
			dp.logger.Error("outboxd: failed to dispose removed store", "store", existing.cfg.ID.Name, "err", err)
		}
		delete(dp.current, key)
	}
}

// Refresh forces an immediate reconciliation against the Discoverer,
// outside the regular interval. Safe to call concurrently with the
// background loop: singleflight still serializes them.
func (dp *DiscoveryProvider) Refresh(ctx context.Context) {
	dp.refresh(ctx)
}

// Stop halts the refresh loop, then disposes every store this
// provider opened.
func (dp *DiscoveryProvider) Stop(timeout time.Duration) error {
	err := dp.tryStop(timeout, func() <-chan struct{} {
		dp.cancel()
		return dp.done
	})
	dp.disposeAll(context.Background())
	return err
}

func (dp *DiscoveryProvider) disposeAll(ctx context.Context) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	for key, existing := range dp.current {
		if err := dp.factory.Dispose(ctx, existing.managed.Store); err != nil {
			dp.logger.Error("outboxd: failed to dispose store on stop", "store", existing.cfg.ID.Name, "err", err)
		}
		delete(dp.current, key)
	}
}

func (dp *DiscoveryProvider) Stores(ctx context.Context) ([]ManagedStore, error) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]ManagedStore, 0, len(dp.current))
	for _, existing := range dp.current {
		out = append(out, existing.managed)
	}
	return out, nil
}

// PlatformProvider wraps another StoreProvider (typically a
// DiscoveryProvider over a platform-wide catalog) and excludes one
// control-plane store by normalized connection identity, so the core
// queue components never fan out work onto the database that hosts
// the control plane itself.
type PlatformProvider struct {
	inner        StoreProvider
	controlPlane string // normalized identifier to exclude
}

func NewPlatformProvider(inner StoreProvider, controlPlaneNormalized string) *PlatformProvider {
	return &PlatformProvider{inner: inner, controlPlane: controlPlaneNormalized}
}

func (p *PlatformProvider) Stores(ctx context.Context) ([]ManagedStore, error) {
	all, err := p.inner.Stores(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ManagedStore, 0, len(all))
	for _, s := range all {
		if s.ID.Normalized == p.controlPlane {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// SortByName returns stores sorted by Name, for deterministic
// round-robin ordering across process restarts.
func SortByName(stores []ManagedStore) []ManagedStore {
	out := make([]ManagedStore, len(stores))
	copy(out, stores)
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Name < out[j].ID.Name })
	return out
}
