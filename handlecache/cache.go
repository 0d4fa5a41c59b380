// Package handlecache implements the bounded in-memory table of live index
// handles described by the Handle Cache Slot state machine: every slot is
// Missing, Available, Closing, or BeingDeleted, and every transition between
// them is mediated by a single readers-writer lock held for O(1) slot
// inspection or update, and by Create and Reopen also across the opening of
// an environment; it is never held across a wait. LRU bookkeeping over the
// slot table reuses the MRU cache structure in package cache.
package handlecache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sharedcode/ilm"
	"github.com/sharedcode/ilm/cache"
)

// ErrNotClosing is returned by Reopen when the slot is no longer Closing by
// the time it runs. Under the truly-parallel model (spec §5), two readers
// can both observe Closing and both have their wait fulfilled; the first to
// acquire the write lock reopens and wins, leaving the slot Available for
// the second. That is not a failure, just a race already resolved by
// another goroutine: callers should treat it as a transient condition to
// retry against, never surface it as a store error (spec §7).
var ErrNotClosing = errors.New("handlecache: reopen called on non-Closing slot")

// OutcomeKind enumerates the three outcomes StartDeletion can report.
type OutcomeKind int

const (
	// StartOk means the slot was Available (and is now BeingDeleted) or was
	// already BeingDeleted; deletion can proceed.
	StartOk OutcomeKind = iota
	// StartBusyReopen means the slot is Closing; the caller must wait on
	// Reopen and retry.
	StartBusyReopen
	// StartVacant means the slot was already absent.
	StartVacant
)

// StartOutcome is the result of StartDeletion.
type StartOutcome struct {
	Kind OutcomeKind
	// EnvClosing fires once the operating system has released the
	// environment's mapping. Set only when Kind == StartOk and a handle
	// actually existed to close.
	EnvClosing *Signal
	// Reopen is the slot's pending reopen signal. Set only when
	// Kind == StartBusyReopen.
	Reopen *Signal
}

// Cache is the bounded, LRU-evicting handle cache.
type Cache struct {
	mu       sync.RWMutex
	slots    map[ilm.Identifier]*Status
	lru      *cache.LRUSet[ilm.Identifier]
	capacity int
}

// New returns an empty Cache with the given soft capacity over Available
// slots.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		slots:    make(map[ilm.Identifier]*Status),
		lru:      cache.NewLRUSet[ilm.Identifier](capacity),
		capacity: capacity,
	}
}

// Get returns the current Status for id; an identifier with no slot reports
// Kind == Missing.
func (c *Cache) Get(id ilm.Identifier) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.slots[id]; ok {
		return *s
	}
	return Status{Kind: Missing}
}

// Create opens a brand new slot for id via open, which is called while
// holding the write lock: correctness requires single-entry initialization,
// and creates are rare enough relative to reads that this is an acceptable
// trade. Fails with AlreadyExists if the slot is not absent or Missing.
func (c *Cache) Create(id ilm.Identifier, open func() (ilm.Handle, error)) (ilm.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.slots[id]; ok && s.Kind != Missing {
		return nil, ilm.NewAlreadyExistsError(id.String())
	}

	h, err := open()
	if err != nil {
		return nil, err
	}

	c.slots[id] = &Status{Kind: Available, Handle: h}
	c.lru.Touch(id)
	c.evictOverCapacityLocked()
	return h, nil
}

// CloseForResize requires the slot to be Available; it is a caller contract
// violation (single-writer for resize) for it to be anything else, so a
// violation panics rather than returning an error. It drops the handle from
// the slot, attaches a fresh reopen-signal, and transitions to Closing. The
// actual close (which may block on outstanding readers) runs in the
// background so this call never blocks.
func (c *Cache) CloseForResize(id ilm.Identifier) *Signal {
	c.mu.Lock()
	s, ok := c.slots[id]
	if !ok || s.Kind != Available {
		c.mu.Unlock()
		panic(fmt.Sprintf("handlecache: close_for_resize called on non-Available slot for %s", id))
	}
	h := s.Handle
	c.lru.Remove(id)
	reopen := NewSignal()
	c.slots[id] = &Status{Kind: Closing, Reopen: reopen}
	c.mu.Unlock()

	go func() {
		_ = h.Close()
		reopen.Fire()
	}()
	return reopen
}

// Reopen requires the slot to be Closing; it calls open (typically a reopen,
// at a grown map size, of the environment the Closing transition already
// closed) while holding the write lock, then transitions the slot to
// Available.
func (c *Cache) Reopen(id ilm.Identifier, open func() (ilm.Handle, error)) (ilm.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[id]
	if !ok || s.Kind != Closing {
		return nil, fmt.Errorf("%w for %s", ErrNotClosing, id)
	}

	h, err := open()
	if err != nil {
		return nil, err
	}

	c.slots[id] = &Status{Kind: Available, Handle: h}
	c.lru.Touch(id)
	c.evictOverCapacityLocked()
	return h, nil
}

// StartDeletion never blocks. On StartOk with a non-nil EnvClosing, the
// caller (delete_index) should hand the signal to the background deleter,
// which waits on it before removing files from disk.
func (c *Cache) StartDeletion(id ilm.Identifier) StartOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[id]
	if !ok {
		return StartOutcome{Kind: StartVacant}
	}

	switch s.Kind {
	case Available:
		h := s.Handle
		c.lru.Remove(id)
		envClosing := NewSignal()
		c.slots[id] = &Status{Kind: BeingDeleted}
		go func() {
			_ = h.Close()
			envClosing.Fire()
		}()
		return StartOutcome{Kind: StartOk, EnvClosing: envClosing}
	case Closing:
		return StartOutcome{Kind: StartBusyReopen, Reopen: s.Reopen}
	case BeingDeleted:
		// Another deleter already claimed this identifier; idempotent no-op.
		return StartOutcome{Kind: StartOk}
	default:
		return StartOutcome{Kind: StartVacant}
	}
}

// EndDeletion transitions BeingDeleted to Missing, i.e. drops the slot
// entirely.
func (c *Cache) EndDeletion(id ilm.Identifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, id)
}

// evictOverCapacityLocked closes as many least-recently-used Available
// slots as needed to bring the tracked count back within capacity. Called
// with the write lock already held, after a Create or Reopen has added one
// more Available slot.
func (c *Cache) evictOverCapacityLocked() {
	for c.lru.Len() > c.capacity {
		victim, ok := c.lru.EvictOldest()
		if !ok {
			return
		}
		s, ok := c.slots[victim]
		if !ok || s.Kind != Available {
			continue
		}
		h := s.Handle
		reopen := NewSignal()
		c.slots[victim] = &Status{Kind: Closing, Reopen: reopen}
		go func(h ilm.Handle, sig *Signal) {
			_ = h.Close()
			sig.Fire()
		}(h, reopen)
	}
}
