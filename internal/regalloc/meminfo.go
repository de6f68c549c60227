package regalloc

// Dense-matrix budget bounds. The limit scales with system memory on
// platforms that can report it.
const (
	denseLimitFallback = 256 << 20
	denseLimitMin      = 64 << 20
	denseLimitMax      = 1 << 30
)
