//go:build !linux

package regalloc

// defaultDenseLimit returns a fixed budget where system memory cannot be
// queried portably.
func defaultDenseLimit() int64 { return denseLimitFallback }
