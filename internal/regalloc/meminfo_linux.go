//go:build linux

package regalloc

import "golang.org/x/sys/unix"

// defaultDenseLimit sizes the dense interference matrix budget from system
// memory: a sixteenth of RAM, clamped to the shared bounds.
func defaultDenseLimit() int64 {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return denseLimitFallback
	}
	limit := int64(si.Totalram) * int64(si.Unit) / 16
	if limit < denseLimitMin {
		limit = denseLimitMin
	}
	if limit > denseLimitMax {
		limit = denseLimitMax
	}

	return limit
}
