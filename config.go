package ilm

// Configuration holds the parameters set at manager construction time. All
// fields are immutable for the lifetime of the manager instance.
type Configuration struct {
	// BasePath is the filesystem directory under which per-index
	// subdirectories (named by canonical Identifier string) are created.
	BasePath string
	// IndexBaseMapSize is the initial memory-map reservation, in bytes, for
	// a newly created index environment.
	IndexBaseMapSize int64
	// IndexGrowthAmount is the additional reservation, in bytes, applied on
	// each resize.
	IndexGrowthAmount int64
	// IndexCount is the soft capacity of the handle cache: the number of
	// index environments kept open at once before LRU eviction kicks in.
	IndexCount int
	// EnableWritemap controls whether environments are opened with a
	// write-map optimization.
	EnableWritemap bool
	// IndexerConfig is opaque to this package; it is forwarded verbatim to
	// the external per-index indexing engine.
	IndexerConfig any
}

// DefaultConfiguration returns a Configuration with reasonable defaults for
// local development: a 16 MiB base map size, 16 MiB growth increments, and a
// soft capacity of 20 concurrently open indexes.
func DefaultConfiguration(basePath string) Configuration {
	return Configuration{
		BasePath:          basePath,
		IndexBaseMapSize:  16 << 20,
		IndexGrowthAmount: 16 << 20,
		IndexCount:        20,
		EnableWritemap:    false,
	}
}
