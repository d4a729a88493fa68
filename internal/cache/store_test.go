package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"copilot-proxy-go/internal/config"
)

// fakeClock is a manually advanced time source shared by the store tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestStores returns one instance of every backend, wired to clock.
func newTestStores(t *testing.T, clock *fakeClock) map[string]Store {
	t.Helper()

	mem := NewMemoryStore()
	mem.now = clock.Now

	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	sq.now = clock.Now
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{"memory": mem, "sqlite": sq}
}

func TestStore_PutGet(t *testing.T) {
	clock := newFakeClock()
	for name, s := range newTestStores(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := s.Get(ctx, "gho_client"); err != nil || ok {
				t.Fatalf("Get() on empty store = ok %v, err %v; want miss", ok, err)
			}

			if err := s.Put(ctx, "gho_client", "tid=1;exp=1700001500", time.Minute); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, ok, err := s.Get(ctx, "gho_client")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !ok {
				t.Fatal("Get() ok = false, want true")
			}
			if got != "tid=1;exp=1700001500" {
				t.Errorf("Get() = %q, want %q", got, "tid=1;exp=1700001500")
			}
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	clock := newFakeClock()
	for name, s := range newTestStores(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Put(ctx, "k", "first", time.Minute); err != nil {
				t.Fatal(err)
			}
			if err := s.Put(ctx, "k", "second", time.Minute); err != nil {
				t.Fatal(err)
			}
			got, _, err := s.Get(ctx, "k")
			if err != nil {
				t.Fatal(err)
			}
			if got != "second" {
				t.Errorf("Get() = %q, want %q", got, "second")
			}
		})
	}
}

func TestStore_Expiry(t *testing.T) {
	clock := newFakeClock()
	for name, s := range newTestStores(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Put(ctx, "short", "v", 10*time.Second); err != nil {
				t.Fatal(err)
			}
			if err := s.Put(ctx, "long", "v", time.Hour); err != nil {
				t.Fatal(err)
			}

			clock.Advance(10 * time.Second)

			if _, ok, _ := s.Get(ctx, "short"); ok {
				t.Error("Get(short) ok = true after TTL elapsed, want false")
			}
			if _, ok, _ := s.Get(ctx, "long"); !ok {
				t.Error("Get(long) ok = false before TTL elapsed, want true")
			}

			removed, err := s.Sweep(ctx, clock.Now())
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}
			if removed != 1 {
				t.Errorf("Sweep() removed = %d, want 1", removed)
			}
			if _, ok, _ := s.Get(ctx, "long"); !ok {
				t.Error("Sweep() removed an unexpired entry")
			}
		})
	}
}

func TestStore_InvalidTTL(t *testing.T) {
	clock := newFakeClock()
	for name, s := range newTestStores(t, clock) {
		t.Run(name, func(t *testing.T) {
			for _, ttl := range []time.Duration{0, -time.Second} {
				err := s.Put(context.Background(), "k", "v", ttl)
				if !errors.Is(err, ErrInvalidTTL) {
					t.Errorf("Put(ttl=%v) error = %v, want ErrInvalidTTL", ttl, err)
				}
			}
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := s1.Put(ctx, "gho_client", "token", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = s2.Close() }()

	got, ok, err := s2.Get(ctx, "gho_client")
	if err != nil || !ok || got != "token" {
		t.Errorf("Get() after reopen = (%q, %v, %v), want (%q, true, nil)", got, ok, err, "token")
	}
}

func TestSQLiteStore_HashesKeys(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	if err := s.Put(context.Background(), "gho_secret", "token", time.Hour); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM upstream_tokens WHERE key_hash = ?`, "gho_secret").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("raw credential found in key_hash column")
	}
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Fatal("NewSQLiteStore(\"\") expected error, got nil")
	}
}

func TestNewSQLiteStore_RejectsURIMetacharacters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"tokens?mode=ro.db", "tokens#1.db"} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewSQLiteStore(filepath.Join(dir, name)); err == nil {
				t.Fatalf("NewSQLiteStore(%q) expected error, got nil", name)
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	got := sqliteDSN("/var/lib/copilot-proxy/tokens.db")
	want := "file:/var/lib/copilot-proxy/tokens.db?_pragma=journal_mode%28WAL%29&_pragma=busy_timeout%285000%29&_pragma=synchronous%28NORMAL%29"
	if got != want {
		t.Errorf("sqliteDSN() = %q, want %q", got, want)
	}
}

func TestOpen(t *testing.T) {
	mem, err := Open(config.CacheConfig{Backend: config.CacheBackendMemory})
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := mem.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T, want *MemoryStore", mem)
	}

	sq, err := Open(config.CacheConfig{Backend: "SQLite", Path: filepath.Join(t.TempDir(), "c.db")})
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer func() { _ = sq.Close() }()
	if _, ok := sq.(*SQLiteStore); !ok {
		t.Errorf("Open(sqlite) = %T, want *SQLiteStore", sq)
	}

	if _, err := Open(config.CacheConfig{Backend: "redis"}); err == nil {
		t.Error("Open(redis) expected error, got nil")
	}
}

func TestSweeper_StartStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSweeper(NewMemoryStore(), "@every 1h", logger)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// A second Start is a no-op rather than a duplicate job.
	if err := s.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if n := len(s.cron.Entries()); n != 1 {
		t.Errorf("cron entries = %d, want 1", n)
	}
	s.Stop()
	s.Stop()
}

func TestSweeper_BadSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSweeper(NewMemoryStore(), "not a schedule", logger)

	if err := s.Start(); err == nil {
		t.Fatal("Start() expected error for invalid schedule, got nil")
	}
}

func TestSweeper_RunOnce(t *testing.T) {
	store := NewMemoryStore()
	clock := newFakeClock()
	store.now = clock.Now
	ctx := context.Background()

	if err := store.Put(ctx, "k", "v", time.Second); err != nil {
		t.Fatal(err)
	}

	// RunOnce sweeps against wall-clock time, far past the fake clock.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	removed, err := NewSweeper(store, "@every 1h", logger).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if removed != 1 || store.Len() != 0 {
		t.Errorf("RunOnce() removed = %d, remaining = %d; want 1, 0", removed, store.Len())
	}
}
