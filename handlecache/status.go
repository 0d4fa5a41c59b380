package handlecache

import "github.com/sharedcode/ilm"

// Kind enumerates the legal states of a handle cache slot.
type Kind int

const (
	// Missing means there is no slot for the identifier: it was never opened,
	// or its deletion has finished. An evicted slot is Closing, not Missing.
	Missing Kind = iota
	// Available means the slot holds a ready-to-use handle.
	Available
	// Closing means the handle has been dropped from the slot but the
	// environment may still be released by an outstanding user.
	Closing
	// BeingDeleted means deletion is in flight; callers must fail fast.
	BeingDeleted
)

func (k Kind) String() string {
	switch k {
	case Missing:
		return "Missing"
	case Available:
		return "Available"
	case Closing:
		return "Closing"
	case BeingDeleted:
		return "BeingDeleted"
	default:
		return "Unknown"
	}
}

// Status is the value held in one handle cache slot.
type Status struct {
	Kind Kind
	// Handle is set iff Kind == Available.
	Handle ilm.Handle
	// Reopen fires when a Closing slot can be reinstated as Available. Set
	// iff Kind == Closing.
	Reopen *Signal
}
