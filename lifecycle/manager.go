// Package lifecycle wires the name registry, stats cache, and handle cache
// together into the index lifecycle manager: create/open/resize/delete/swap
// across the three stores, with the retry loops around closure events that
// make the handle cache's state machine safe to use from concurrent
// readers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sharedcode/ilm"
	"github.com/sharedcode/ilm/handlecache"
	"github.com/sharedcode/ilm/registry"
	"github.com/sharedcode/ilm/statscache"
	"github.com/sharedcode/ilm/storeenv"
	bolt "go.etcd.io/bbolt"
)

// maxRetries bounds the retry loops in Index and DeleteIndex. Exceeding it
// indicates a bug or a caller pathologically holding a handle past the
// cumulative wait budget, and is deliberately fatal: see the timeout model
// note in the ilm package's doc.go.
const maxRetries = 100

// waitHeartbeat is the liveness heartbeat used when waiting on a closure or
// reopen signal. It is not a correctness deadline: on timeout the retry loop
// just re-examines the slot.
const waitHeartbeat = 6 * time.Second

// Timestamps carries the optional creation/update times recorded for a
// freshly created index.
type Timestamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Manager is the single long-lived index lifecycle manager instance for a
// process. All state reachable by the process flows through one Manager;
// there is no implicit package-level state.
type Manager struct {
	cfg      ilm.Configuration
	env      *storeenv.Environment
	registry *registry.Registry
	stats    *statscache.Cache
	handles  *handlecache.Cache
	deleter  *ilm.TaskRunner

	sizeMu  sync.Mutex
	mapSize map[ilm.Identifier]int64
	// growth records a pending map-size increase recorded by ResizeIndex,
	// consumed by reopenFactory the next time the slot transitions back to
	// Available. An identifier with no pending resize has no entry.
	growth map[ilm.Identifier]int64
}

// New opens (creating if absent) the manager's own environment under
// cfg.BasePath and returns a ready Manager. The manager's own environment is
// distinct from each index's own environment under <base>/<uuid>/.
func New(cfg ilm.Configuration) (*Manager, error) {
	metaDir := filepath.Join(cfg.BasePath, ".manager")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating manager directory: %w", err)
	}
	env, err := storeenv.Open(filepath.Join(metaDir, "meta.db"), cfg.IndexBaseMapSize, cfg.EnableWritemap)
	if err != nil {
		return nil, fmt.Errorf("opening manager environment: %w", err)
	}

	reg := registry.New()
	stats := statscache.New()

	if err := env.DB().Update(func(tx *bolt.Tx) error {
		if err := reg.EnsureBucket(tx); err != nil {
			return err
		}
		return stats.EnsureBucket(tx)
	}); err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("initializing manager buckets: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		env:      env,
		registry: reg,
		stats:    stats,
		handles:  handlecache.New(cfg.IndexCount),
		deleter:  ilm.NewTaskRunner(context.Background(), 8),
		mapSize:  make(map[ilm.Identifier]int64),
		growth:   make(map[ilm.Identifier]int64),
	}, nil
}

// DB returns the manager's own bbolt database, for callers to begin the read
// or write transactions every public Manager operation requires.
func (m *Manager) DB() *bolt.DB {
	return m.env.DB()
}

// Close waits for background deleters to finish and closes the manager's own
// environment. It does not close any still-open index handles: callers are
// responsible for their own outstanding handles, per the Handle contract.
func (m *Manager) Close() error {
	_ = m.deleter.Wait()
	return m.env.Close()
}

func (m *Manager) indexDir(id ilm.Identifier) string {
	return filepath.Join(m.cfg.BasePath, id.String())
}

func (m *Manager) recordMapSize(id ilm.Identifier, size int64) {
	m.sizeMu.Lock()
	m.mapSize[id] = size
	m.sizeMu.Unlock()
}

func (m *Manager) currentMapSize(id ilm.Identifier) int64 {
	m.sizeMu.Lock()
	defer m.sizeMu.Unlock()
	if s, ok := m.mapSize[id]; ok {
		return s
	}
	return m.cfg.IndexBaseMapSize
}

// recordPendingGrowth marks id as due for a map-size increase of growthBytes
// the next time its Closing slot is reopened.
func (m *Manager) recordPendingGrowth(id ilm.Identifier, growthBytes int64) {
	m.sizeMu.Lock()
	m.growth[id] += growthBytes
	m.sizeMu.Unlock()
}

// takePendingGrowth returns and clears id's pending growth, 0 if none is
// recorded.
func (m *Manager) takePendingGrowth(id ilm.Identifier) int64 {
	m.sizeMu.Lock()
	defer m.sizeMu.Unlock()
	g := m.growth[id]
	delete(m.growth, id)
	return g
}

// envFactory opens id's on-disk environment at its currently recorded map
// size, unchanged. It materializes a Missing slot: a newly created index,
// or an existing index that has no slot yet. A slot evicted for capacity is
// Closing and is reopened through reopenFactory instead.
func (m *Manager) envFactory(id ilm.Identifier) func() (ilm.Handle, error) {
	return func() (ilm.Handle, error) {
		size := m.currentMapSize(id)
		h, err := storeenv.Open(filepath.Join(m.indexDir(id), "data.mdb"), size, m.cfg.EnableWritemap)
		if err != nil {
			return nil, err
		}
		m.recordMapSize(id, size)
		return h, nil
	}
}

// reopenFactory reopens id's on-disk environment via storeenv.Reopen,
// applying any growth ResizeIndex recorded against it. A Closing slot with
// no pending resize (e.g. one evicted only for capacity) reopens at its
// unchanged current size, since storeenv.Reopen with a zero growthBytes is
// exactly storeenv.Open at currentMapSize.
func (m *Manager) reopenFactory(id ilm.Identifier) func() (ilm.Handle, error) {
	return func() (ilm.Handle, error) {
		size := m.currentMapSize(id)
		growth := m.takePendingGrowth(id)
		h, err := storeenv.Reopen(filepath.Join(m.indexDir(id), "data.mdb"), size, growth, m.cfg.EnableWritemap)
		if err != nil {
			return nil, err
		}
		m.recordMapSize(id, size+growth)
		return h, nil
	}
}

// CreateIndex resolves name to an identifier, creating one if absent, and
// returns an open handle. It owns wtxn and commits it before returning on
// every success path; on failure, the caller is responsible for rolling
// back (dropping) wtxn.
//
// If the cache create fails after the on-disk directory was created, the
// directory is left in place: this is a documented limitation, to be
// reconciled by a future startup GC pass, not by this call.
func (m *Manager) CreateIndex(wtxn *bolt.Tx, name string, ts *Timestamps) (ilm.Handle, error) {
	id, found, err := m.registry.Get(wtxn, name)
	if err != nil {
		return nil, ilm.NewStoreError(err)
	}
	if found {
		h, err := m.resolveHandle(id, name)
		if err != nil {
			return nil, err
		}
		if err := wtxn.Commit(); err != nil {
			return nil, ilm.NewStoreError(err)
		}
		return h, nil
	}

	id = ilm.NewIdentifier()
	if err := m.registry.Put(wtxn, name, id); err != nil {
		return nil, ilm.NewStoreError(err)
	}

	dir := m.indexDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ilm.NewIoError(name, err)
	}

	h, err := m.handles.Create(id, m.envFactory(id))
	if err != nil {
		return nil, err
	}

	if ts != nil {
		s := statscache.Stats{CreatedAt: ts.CreatedAt, UpdatedAt: ts.UpdatedAt}
		if err := m.stats.Put(wtxn, id, s); err != nil {
			return nil, ilm.NewStoreError(err)
		}
	}

	if err := wtxn.Commit(); err != nil {
		return nil, ilm.NewStoreError(err)
	}
	return h, nil
}

// Index is the hot read path: resolve name, then drive the handle cache's
// retry loop until a handle is available or the name is confirmed deleted.
func (m *Manager) Index(rtxn *bolt.Tx, name string) (ilm.Handle, error) {
	id, found, err := m.registry.Get(rtxn, name)
	if err != nil {
		return nil, ilm.NewStoreError(err)
	}
	if !found {
		return nil, ilm.NewNotFoundError(name)
	}
	return m.resolveHandle(id, name)
}

// resolveHandle drives the bounded retry loop described in 4.4 against the
// handle cache for an already-resolved identifier. Exceeding maxRetries
// panics: only a bug, or a caller holding a handle past the cumulative
// retry budget, can cause that.
func (m *Manager) resolveHandle(id ilm.Identifier, name string) (ilm.Handle, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		st := m.handles.Get(id)
		switch st.Kind {
		case handlecache.Available:
			return st.Handle, nil
		case handlecache.Closing:
			if st.Reopen.WaitTimeout(waitHeartbeat) {
				if _, err := m.handles.Reopen(id, m.reopenFactory(id)); err != nil && !errors.Is(err, handlecache.ErrNotClosing) {
					// ErrNotClosing means another goroutine's Reopen already
					// won the race and the slot is Available again: that is
					// not a failure, just retry and observe it.
					return nil, ilm.NewStoreError(err)
				}
			}
			// Timed out, just reopened, or lost the reopen race to another
			// goroutine: re-examine the slot either way.
			continue
		case handlecache.BeingDeleted:
			return nil, ilm.NewNotFoundError(name)
		case handlecache.Missing:
			h, err := m.handles.Create(id, m.envFactory(id))
			if err != nil {
				if ilm.IsAlreadyExists(err) {
					// Another goroutine materialized the slot between our
					// Get and Create; re-examine it.
					continue
				}
				return nil, err
			}
			return h, nil
		}
	}
	panic(fmt.Sprintf("ilm: index(%q) exceeded the %d-attempt retry budget", name, maxRetries))
}

// ResizeIndex requires the slot for name to be Available; per the caller
// contract (single-writer for resize), anything else panics.
func (m *Manager) ResizeIndex(rtxn *bolt.Tx, name string) error {
	id, found, err := m.registry.Get(rtxn, name)
	if err != nil {
		return ilm.NewStoreError(err)
	}
	if !found {
		return ilm.NewNotFoundError(name)
	}

	st := m.handles.Get(id)
	if st.Kind != handlecache.Available {
		panic(fmt.Sprintf("ilm: resize_index(%q) called while slot is %s, not Available", name, st.Kind))
	}

	m.recordPendingGrowth(id, m.cfg.IndexGrowthAmount)
	m.handles.CloseForResize(id)
	return nil
}

// DeleteIndex resolves name, removes its registry and stats entries inside
// wtxn (which it owns and commits), then drives the bounded retry loop
// against the handle cache before handing disk cleanup to a background
// worker. The registry delete commits before the slot transitions to
// BeingDeleted, so a concurrent resolver always observes NotFound from the
// registry before it could ever observe BeingDeleted from the cache.
func (m *Manager) DeleteIndex(wtxn *bolt.Tx, name string) error {
	id, found, err := m.registry.Get(wtxn, name)
	if err != nil {
		return ilm.NewStoreError(err)
	}
	if !found {
		return ilm.NewNotFoundError(name)
	}

	if err := m.stats.Delete(wtxn, id); err != nil {
		return ilm.NewStoreError(err)
	}
	removed, err := m.registry.Delete(wtxn, name)
	if err != nil {
		return ilm.NewStoreError(err)
	}
	if !removed {
		panic(fmt.Sprintf("ilm: delete_index(%q): registry entry vanished between resolve and delete", name))
	}
	if err := wtxn.Commit(); err != nil {
		return ilm.NewStoreError(err)
	}

	var envClosing *handlecache.Signal
	deleted := false
	for attempt := 0; attempt < maxRetries && !deleted; attempt++ {
		outcome := m.handles.StartDeletion(id)
		switch outcome.Kind {
		case handlecache.StartOk:
			envClosing = outcome.EnvClosing
			deleted = true
		case handlecache.StartVacant:
			deleted = true
		case handlecache.StartBusyReopen:
			if outcome.Reopen.WaitTimeout(waitHeartbeat) {
				if _, err := m.handles.Reopen(id, m.reopenFactory(id)); err != nil && !errors.Is(err, handlecache.ErrNotClosing) {
					// ErrNotClosing means another goroutine already won the
					// reopen race; nothing to log, just retry.
					log.Error("delete_index: reopen before retrying deletion failed", "name", name, "err", err)
				}
			}
		}
	}
	if !deleted {
		panic(fmt.Sprintf("ilm: delete_index(%q) exceeded the %d-attempt retry budget", name, maxRetries))
	}

	dir := m.indexDir(id)
	m.deleter.Go(func() error {
		if envClosing != nil {
			envClosing.Wait()
		}
		removeDir := func(ctx context.Context) error { return os.RemoveAll(dir) }
		gaveUp := func(context.Context) {
			log.Error("index_deleter: failed to remove directory", "id", id.String(), "path", dir)
		}
		_ = ilm.Retry(m.deleter.Context(), removeDir, gaveUp)
		m.handles.EndDeletion(id)
		return nil
	})
	return nil
}

// Swap atomically rewrites both name bindings within wtxn, which the caller
// owns and commits. Stats require no change because they are keyed by
// identifier, not name.
func (m *Manager) Swap(wtxn *bolt.Tx, lhs, rhs string) error {
	lid, found, err := m.registry.Get(wtxn, lhs)
	if err != nil {
		return ilm.NewStoreError(err)
	}
	if !found {
		return ilm.NewNotFoundError(lhs)
	}
	rid, found, err := m.registry.Get(wtxn, rhs)
	if err != nil {
		return ilm.NewStoreError(err)
	}
	if !found {
		return ilm.NewNotFoundError(rhs)
	}
	if err := m.registry.Put(wtxn, lhs, rid); err != nil {
		return ilm.NewStoreError(err)
	}
	if err := m.registry.Put(wtxn, rhs, lid); err != nil {
		return ilm.NewStoreError(err)
	}
	return nil
}

// Exists reports whether name currently resolves to an identifier.
func (m *Manager) Exists(rtxn *bolt.Tx, name string) (bool, error) {
	_, found, err := m.registry.Get(rtxn, name)
	if err != nil {
		return false, ilm.NewStoreError(err)
	}
	return found, nil
}

// TryForEachIndex iterates registry entries, opening each via the same path
// as Index and invoking fn, short-circuiting on the first error. The
// traversal may cause eviction churn as it goes, by design: it never holds
// open more than the cache's capacity of indexes at once.
func (m *Manager) TryForEachIndex(rtxn *bolt.Tx, fn func(name string, h ilm.Handle) error) error {
	return m.registry.ForEach(rtxn, func(name string, id ilm.Identifier) error {
		h, err := m.resolveHandle(id, name)
		if err != nil {
			return err
		}
		return fn(name, h)
	})
}

// IndexNames returns every registered name without opening any index.
func (m *Manager) IndexNames(rtxn *bolt.Tx) ([]string, error) {
	var names []string
	err := m.registry.ForEach(rtxn, func(name string, _ ilm.Identifier) error {
		names = append(names, name)
		return nil
	})
	return names, err
}

// StatsOf is a read-through lookup: a cache hit returns the cached Stats; a
// miss opens the index and computes a fresh value without writing it back.
// Writing stats back after an index update is StoreStatsOf's job, invoked by
// a separate caller.
func (m *Manager) StatsOf(rtxn *bolt.Tx, name string) (statscache.Stats, error) {
	id, found, err := m.registry.Get(rtxn, name)
	if err != nil {
		return statscache.Stats{}, ilm.NewStoreError(err)
	}
	if !found {
		return statscache.Stats{}, ilm.NewNotFoundError(name)
	}
	s, ok, err := m.stats.Get(rtxn, id)
	if err != nil {
		return statscache.Stats{}, ilm.NewStoreError(err)
	}
	if ok {
		return s, nil
	}
	h, err := m.resolveHandle(id, name)
	if err != nil {
		return statscache.Stats{}, err
	}
	return computeFreshStats(h), nil
}

// StoreStatsOf upserts id's cached Stats. Called by a separate caller after
// an index update, never automatically by StatsOf.
func (m *Manager) StoreStatsOf(wtxn *bolt.Tx, id ilm.Identifier, s statscache.Stats) error {
	return m.stats.Put(wtxn, id, s)
}

// computeFreshStats derives what this package can see directly from the
// environment (its on-disk size). Document count and field distribution
// belong to the per-index indexing engine, which is out of scope here; a
// real deployment's StatsOf caller would populate those via StoreStatsOf
// once the engine computes them.
func computeFreshStats(h ilm.Handle) statscache.Stats {
	now := time.Now()
	s := statscache.Stats{CreatedAt: now, UpdatedAt: now}
	if env, ok := h.(*storeenv.Environment); ok {
		_ = env.DB().View(func(tx *bolt.Tx) error {
			s.DatabaseSize = uint64(tx.Size())
			return nil
		})
	}
	return s
}
