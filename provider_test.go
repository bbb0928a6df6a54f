package outboxd_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	outboxd "github.com/bravellian/outboxd"
	"github.com/bravellian/outboxd/sqlstore"

	_ "modernc.org/sqlite"
)

func TestConfiguredProviderReturnsFixedSet(t *testing.T) {
	want := storesNamed("a", "b")
	p := outboxd.NewConfiguredProvider(want)
	got, err := p.Stores(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stores, got %d", len(got))
	}
}

func TestPlatformProviderExcludesControlPlane(t *testing.T) {
	inner := outboxd.NewConfiguredProvider(storesNamed("tenant-a", "control-plane", "tenant-b"))
	p := outboxd.NewPlatformProvider(inner, "control-plane")

	got, err := p.Stores(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected control-plane store excluded, got %v", names(got))
	}
	for _, s := range got {
		if s.ID.Normalized == "control-plane" {
			t.Fatal("control-plane store leaked through PlatformProvider")
		}
	}
}

func names(stores []outboxd.ManagedStore) []string {
	out := make([]string, len(stores))
	for i, s := range stores {
		out[i] = s.ID.Name
	}
	return out
}

func configsNamed(names ...string) []outboxd.StoreConfig {
	out := make([]outboxd.StoreConfig, len(names))
	for i, n := range names {
		out[i] = outboxd.StoreConfig{
			ID:               outboxd.StoreIdentifier{Name: n, Normalized: n},
			ConnectionString: "file::memory:?cache=" + n,
		}
	}
	return out
}

type fakeDiscoverer struct {
	cfgs  []outboxd.StoreConfig
	err   error
	calls int
}

func (f *fakeDiscoverer) Discover(ctx context.Context) ([]outboxd.StoreConfig, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cfgs, nil
}

// fakeFactory opens real in-memory sqlite-backed stores, one per
// distinct StoreConfig, and tracks every Open/Dispose call so tests
// can assert the provider's reconciliation and cleanup behavior.
type fakeFactory struct {
	mu       sync.Mutex
	opened   []string
	disposed []string
}

func (f *fakeFactory) Open(ctx context.Context, cfg outboxd.StoreConfig) (outboxd.Store, error) {
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf("file::memory:?cache=shared&_pragma=busy_timeout(5000)&name=%s", cfg.ID.Normalized))
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	if err := sqlstore.InitSchema(ctx, db); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.opened = append(f.opened, cfg.ID.Normalized)
	f.mu.Unlock()
	return sqlstore.New(db), nil
}

func (f *fakeFactory) Dispose(ctx context.Context, store outboxd.Store) error {
	f.mu.Lock()
	f.disposed = append(f.disposed, fmt.Sprintf("%p", store))
	f.mu.Unlock()
	return nil
}

func (f *fakeFactory) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

func (f *fakeFactory) disposedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.disposed)
}

func TestDiscoveryProviderSyncsOnStart(t *testing.T) {
	disc := &fakeDiscoverer{cfgs: configsNamed("a", "b")}
	factory := &fakeFactory{}
	dp := outboxd.NewDiscoveryProvider(disc, factory, 0, nil)
	if err := dp.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer dp.Stop(time.Second)

	got, err := dp.Stores(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stores after initial sync, got %d", len(got))
	}
	if disc.calls != 1 {
		t.Fatalf("expected exactly 1 discover call from Start, got %d", disc.calls)
	}
	if factory.openCount() != 2 {
		t.Fatalf("expected 2 stores opened, got %d", factory.openCount())
	}
}

func TestDiscoveryProviderDoubleStartRejected(t *testing.T) {
	disc := &fakeDiscoverer{cfgs: configsNamed("a")}
	factory := &fakeFactory{}
	dp := outboxd.NewDiscoveryProvider(disc, factory, time.Hour, nil)
	if err := dp.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer dp.Stop(time.Second)

	if err := dp.Start(context.Background()); err != outboxd.ErrDoubleStarted {
		t.Fatalf("expected ErrDoubleStarted, got %v", err)
	}
}

func TestDiscoveryProviderReconcilesAddedAndRemovedStores(t *testing.T) {
	disc := &fakeDiscoverer{cfgs: configsNamed("a", "b")}
	factory := &fakeFactory{}
	dp := outboxd.NewDiscoveryProvider(disc, factory, time.Hour, nil)
	ctx := context.Background()
	if err := dp.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer dp.Stop(time.Second)

	// b disappears, c appears; a is untouched.
	disc.cfgs = configsNamed("a", "c")
	dp.Refresh(ctx)

	got, err := dp.Stores(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 stores after reconcile, got %d: %v", len(got), names(got))
	}
	gotNames := map[string]bool{}
	for _, s := range got {
		gotNames[s.ID.Name] = true
	}
	if !gotNames["a"] || !gotNames["c"] {
		t.Fatalf("expected a and c present, got %v", names(got))
	}
	if factory.openCount() != 3 { // a, b, c
		t.Fatalf("expected 3 total opens (a, b, c), got %d", factory.openCount())
	}
	if factory.disposedCount() != 1 { // b
		t.Fatalf("expected 1 dispose (b removed), got %d", factory.disposedCount())
	}
}

func TestDiscoveryProviderDisposesAllOnStop(t *testing.T) {
	disc := &fakeDiscoverer{cfgs: configsNamed("a", "b")}
	factory := &fakeFactory{}
	dp := outboxd.NewDiscoveryProvider(disc, factory, time.Hour, nil)
	ctx := context.Background()
	if err := dp.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := dp.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
	if factory.disposedCount() != 2 {
		t.Fatalf("expected both stores disposed on Stop, got %d", factory.disposedCount())
	}
}
