// Package ilm implements an index lifecycle manager for a search engine: it
// owns the authoritative mapping from user-facing index names to physically
// stored indexes and mediates every transition in an index's life (create,
// open, resize, swap, delete) in the presence of concurrent readers and
// writers.
//
// Three independent state components must stay mutually consistent: the
// on-disk data directories, the transactional name registry (package
// registry), and the in-memory handle cache (package handlecache). The
// lifecycle package wires them together; see subpackage rankgraph for the
// ranking-rule graph used by the graph-based ranking rules.
package ilm

// Timeout model
//
// Lifecycle operations are bounded by two distinct mechanisms:
//  1. The caller-supplied transaction, which commits or rolls back according
//     to the backing store's own discipline.
//  2. A small number of bounded retry loops (index, delete_index) with a hard
//     iteration cap. Exceeding the cap indicates a bug or a caller holding a
//     handle well past its welcome, and is deliberately fatal.
//
// Within a retry loop, a 6-second wait_timeout on a closure/reopen signal is
// a liveness heartbeat, not a correctness deadline: a timeout just causes the
// loop to re-examine the slot and try again.
