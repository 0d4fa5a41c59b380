package lifecycle

import (
	"os"
	"testing"
	"time"

	"github.com/sharedcode/ilm"
	"github.com/sharedcode/ilm/handlecache"
	"github.com/sharedcode/ilm/statscache"
	bolt "go.etcd.io/bbolt"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := ilm.DefaultConfiguration(t.TempDir())
	cfg.IndexBaseMapSize = 1 << 20
	cfg.IndexGrowthAmount = 1 << 20
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func beginWrite(t *testing.T, m *Manager) *bolt.Tx {
	t.Helper()
	tx, err := m.DB().Begin(true)
	if err != nil {
		t.Fatalf("Begin(true): %v", err)
	}
	return tx
}

func beginRead(t *testing.T, m *Manager) *bolt.Tx {
	t.Helper()
	tx, err := m.DB().Begin(false)
	if err != nil {
		t.Fatalf("Begin(false): %v", err)
	}
	return tx
}

// mustCreateIndex owns and commits its own write transaction, mirroring the
// contract CreateIndex documents: the transaction is committed on every
// success path and left for the caller to roll back on failure.
func mustCreateIndex(t *testing.T, m *Manager, name string, ts *Timestamps) ilm.Handle {
	t.Helper()
	tx := beginWrite(t, m)
	h, err := m.CreateIndex(tx, name, ts)
	if err != nil {
		tx.Rollback()
		t.Fatalf("CreateIndex(%q): %v", name, err)
	}
	return h
}

func mustIndex(t *testing.T, m *Manager, name string) ilm.Handle {
	t.Helper()
	tx := beginRead(t, m)
	defer tx.Rollback()
	h, err := m.Index(tx, name)
	if err != nil {
		t.Fatalf("Index(%q): %v", name, err)
	}
	return h
}

func tryIndex(m *Manager, name string) (ilm.Handle, error) {
	tx, err := m.DB().Begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return m.Index(tx, name)
}

func mustExists(t *testing.T, m *Manager, name string) bool {
	t.Helper()
	tx := beginRead(t, m)
	defer tx.Rollback()
	ok, err := m.Exists(tx, name)
	if err != nil {
		t.Fatalf("Exists(%q): %v", name, err)
	}
	return ok
}

func mustDeleteIndex(t *testing.T, m *Manager, name string) {
	t.Helper()
	tx := beginWrite(t, m)
	if err := m.DeleteIndex(tx, name); err != nil {
		tx.Rollback()
		t.Fatalf("DeleteIndex(%q): %v", name, err)
	}
}

func mustSwap(t *testing.T, m *Manager, lhs, rhs string) {
	t.Helper()
	tx := beginWrite(t, m)
	if err := m.Swap(tx, lhs, rhs); err != nil {
		tx.Rollback()
		t.Fatalf("Swap(%q, %q): %v", lhs, rhs, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit swap: %v", err)
	}
}

func mustStoreStats(t *testing.T, m *Manager, id ilm.Identifier, s statscache.Stats) {
	t.Helper()
	tx := beginWrite(t, m)
	if err := m.StoreStatsOf(tx, id, s); err != nil {
		tx.Rollback()
		t.Fatalf("StoreStatsOf: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit stats: %v", err)
	}
}

func mustStatsOf(t *testing.T, m *Manager, name string) statscache.Stats {
	t.Helper()
	tx := beginRead(t, m)
	defer tx.Rollback()
	s, err := m.StatsOf(tx, name)
	if err != nil {
		t.Fatalf("StatsOf(%q): %v", name, err)
	}
	return s
}

func idFor(t *testing.T, m *Manager, name string) ilm.Identifier {
	t.Helper()
	tx := beginRead(t, m)
	defer tx.Rollback()
	id, found, err := m.registry.Get(tx, name)
	if err != nil || !found {
		t.Fatalf("resolving %q: found=%v err=%v", name, found, err)
	}
	return id
}

func waitForPathGone(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("path %s was not removed in time", path)
}

func TestCreateOpenDeleteRoundTrip(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()

	mustCreateIndex(t, m, "books", &Timestamps{CreatedAt: now, UpdatedAt: now})

	if !mustExists(t, m, "books") {
		t.Fatal("expected books to exist after create commits")
	}

	if h := mustIndex(t, m, "books"); h == nil {
		t.Fatal("Index returned a nil handle")
	}

	dir := m.indexDir(idFor(t, m, "books"))

	mustDeleteIndex(t, m, "books")

	if mustExists(t, m, "books") {
		t.Fatal("expected books to be gone from the registry immediately after delete_index commits")
	}
	waitForPathGone(t, dir)
}

// CreateIndex called twice for the same name delegates to the existing
// handle instead of minting a second identifier.
func TestCreateIndexIsIdempotentForExistingName(t *testing.T) {
	m := newTestManager(t)
	h1 := mustCreateIndex(t, m, "books", nil)
	h2 := mustCreateIndex(t, m, "books", nil)
	if h1 != h2 {
		t.Fatal("expected the second create_index for an existing name to return the same handle")
	}
}

// Swap preserves stats, which are keyed by identifier rather than name.
func TestSwapPreservesStats(t *testing.T) {
	m := newTestManager(t)
	mustCreateIndex(t, m, "a", nil)
	mustCreateIndex(t, m, "b", nil)

	aID := idFor(t, m, "a")
	bID := idFor(t, m, "b")

	mustStoreStats(t, m, aID, statscache.Stats{NumberOfDocuments: 5})
	mustStoreStats(t, m, bID, statscache.Stats{NumberOfDocuments: 9})

	mustSwap(t, m, "a", "b")

	if s := mustStatsOf(t, m, "a"); s.NumberOfDocuments != 9 {
		t.Fatalf("stats_of(a).NumberOfDocuments = %d, want 9", s.NumberOfDocuments)
	}
	if s := mustStatsOf(t, m, "b"); s.NumberOfDocuments != 5 {
		t.Fatalf("stats_of(b).NumberOfDocuments = %d, want 5", s.NumberOfDocuments)
	}

	if id := idFor(t, m, "a"); id != bID {
		t.Fatal("expected name a to resolve to b's old identifier after swap")
	}
	if id := idFor(t, m, "b"); id != aID {
		t.Fatal("expected name b to resolve to a's old identifier after swap")
	}
}

// Creating past IndexCount evicts the least-recently-used Available slot.
func TestCapacityEviction(t *testing.T) {
	cfg := ilm.DefaultConfiguration(t.TempDir())
	cfg.IndexBaseMapSize = 1 << 20
	cfg.IndexGrowthAmount = 1 << 20
	cfg.IndexCount = 2
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	mustCreateIndex(t, m, "x", nil)
	mustCreateIndex(t, m, "y", nil)
	mustCreateIndex(t, m, "z", nil)

	xID, yID, zID := idFor(t, m, "x"), idFor(t, m, "y"), idFor(t, m, "z")
	xKind := m.handles.Get(xID).Kind
	yKind := m.handles.Get(yID).Kind
	zKind := m.handles.Get(zID).Kind

	if zKind != handlecache.Available {
		t.Fatalf("z should be Available right after its own creation, got %v", zKind)
	}

	evicted := 0
	for _, k := range []handlecache.Kind{xKind, yKind} {
		if k == handlecache.Closing || k == handlecache.Missing {
			evicted++
		} else if k != handlecache.Available {
			t.Fatalf("unexpected slot kind %v", k)
		}
	}
	if evicted != 1 {
		t.Fatalf("expected exactly one of x/y evicted to make room for z, got %d (x=%v y=%v)", evicted, xKind, yKind)
	}

	// Whichever of x/y was evicted reopens transparently on next use.
	if h := mustIndex(t, m, "x"); h == nil {
		t.Fatal("expected reopening x to succeed")
	}
	if h := mustIndex(t, m, "y"); h == nil {
		t.Fatal("expected reopening y to succeed")
	}
}

// resize_index grows the map size and the next open observes it.
func TestResizeGrowsMapSize(t *testing.T) {
	m := newTestManager(t)
	mustCreateIndex(t, m, "i", nil)

	h := mustIndex(t, m, "i")
	baseSize := h.MapSize()

	tx := beginRead(t, m)
	err := m.ResizeIndex(tx, "i")
	tx.Rollback()
	if err != nil {
		t.Fatalf("ResizeIndex: %v", err)
	}

	h2 := mustIndex(t, m, "i")
	if want := baseSize + m.cfg.IndexGrowthAmount; h2.MapSize() != want {
		t.Fatalf("MapSize() = %d, want %d", h2.MapSize(), want)
	}
}

// resize_index is a single-writer contract: calling it against a slot that
// is not Available is a caller bug and panics rather than erroring.
func TestResizeOnNonAvailableSlotPanics(t *testing.T) {
	m := newTestManager(t)
	mustCreateIndex(t, m, "i", nil)
	id := idFor(t, m, "i")
	m.handles.CloseForResize(id)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic resizing a non-Available slot")
		}
	}()
	tx := beginRead(t, m)
	defer tx.Rollback()
	_ = m.ResizeIndex(tx, "i")
}

func TestMissingName(t *testing.T) {
	m := newTestManager(t)

	if _, err := tryIndex(m, "nope"); !ilm.IsNotFound(err) {
		t.Fatalf("Index(nope) = %v, want NotFound", err)
	}

	tx := beginWrite(t, m)
	err := m.Swap(tx, "nope", "also-nope")
	tx.Rollback()
	if !ilm.IsNotFound(err) {
		t.Fatalf("Swap(nope, also-nope) = %v, want NotFound", err)
	}
}

func TestDeleteMissingNameReturnsNotFound(t *testing.T) {
	m := newTestManager(t)
	tx := beginWrite(t, m)
	err := m.DeleteIndex(tx, "nope")
	tx.Rollback()
	if !ilm.IsNotFound(err) {
		t.Fatalf("DeleteIndex(nope) = %v, want NotFound", err)
	}
}

// IndexNames reflects exactly the names with a successful create and no
// subsequent delete.
func TestIndexNamesReflectsCreateAndDelete(t *testing.T) {
	m := newTestManager(t)
	mustCreateIndex(t, m, "a", nil)
	mustCreateIndex(t, m, "b", nil)
	mustDeleteIndex(t, m, "a")

	tx := beginRead(t, m)
	names, err := m.IndexNames(tx)
	tx.Rollback()
	if err != nil {
		t.Fatalf("IndexNames: %v", err)
	}
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("IndexNames() = %v, want [b]", names)
	}
}

func TestTryForEachIndexVisitsEveryName(t *testing.T) {
	m := newTestManager(t)
	mustCreateIndex(t, m, "a", nil)
	mustCreateIndex(t, m, "b", nil)

	visited := map[string]bool{}
	tx := beginRead(t, m)
	err := m.TryForEachIndex(tx, func(name string, h ilm.Handle) error {
		visited[name] = true
		return nil
	})
	tx.Rollback()
	if err != nil {
		t.Fatalf("TryForEachIndex: %v", err)
	}
	if !visited["a"] || !visited["b"] {
		t.Fatalf("visited = %v, want both a and b", visited)
	}
}

// stats_of is read-through: a cache miss computes fresh stats without
// writing them back.
func TestStatsOfComputesFreshOnMiss(t *testing.T) {
	m := newTestManager(t)
	mustCreateIndex(t, m, "books", nil)

	s := mustStatsOf(t, m, "books")
	if s.CreatedAt.IsZero() {
		t.Fatal("expected a freshly computed Stats with a non-zero CreatedAt")
	}

	tx := beginRead(t, m)
	id, _, _ := m.registry.Get(tx, "books")
	_, cached, err := m.stats.Get(tx, id)
	tx.Rollback()
	if err != nil {
		t.Fatalf("stats.Get: %v", err)
	}
	if cached {
		t.Fatal("a read-through miss must not write the computed stats back")
	}
}
