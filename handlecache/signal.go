package handlecache

import (
	"sync"
	"time"
)

// Signal is a one-shot synchronization object: it starts unfired and is
// fired exactly once. The handle cache uses two kinds of these: a
// reopen-signal (fires when a Closing slot can be reinstated as
// Available) and an env-closing-signal (fires when the operating system has
// released the environment's file mapping, used by the background deleter).
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unfired Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire fulfils the signal. Safe to call more than once; only the first call
// has an effect.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// WaitTimeout blocks until the signal fires or d elapses, reporting which
// happened. The caller must not be holding the handle cache's lock: the
// cache lock is always released before any WaitTimeout.
func (s *Signal) WaitTimeout(d time.Duration) (fired bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ch:
		return true
	case <-t.C:
		return false
	}
}

// Wait blocks until the signal fires, with no timeout.
func (s *Signal) Wait() {
	<-s.ch
}
