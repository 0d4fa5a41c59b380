package ilm

// Handle is an opaque owned resource representing an open, memory-mapped
// index environment. Handles are expensive to create, finite in number (map
// size consumes address space), and must be closed before the underlying
// files are deleted or the map is resized.
//
// Once handed out from the handle cache, a Handle's validity is the caller's
// responsibility: the cache has no way to revoke it, so closure must wait
// for outstanding references to drop it.
type Handle interface {
	// Close releases the underlying memory mapping. It must be safe to call
	// exactly once; callers that received the handle from the cache never
	// call it directly, only the cache's own close/reopen machinery does.
	Close() error
	// MapSize reports the map size, in bytes, the environment was opened
	// with.
	MapSize() int64
}
