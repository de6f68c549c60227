package regalloc

import (
	"github.com/vela-gpu/vela/internal/gir"
	"github.com/vela-gpu/vela/internal/liveness"
)

// IncrementalRA carries allocator state across coloring attempts. Level 0
// rebuilds everything per attempt; level 1 keeps the liveness cache and
// variable numbering while the code shape is unchanged; level 2 re-derives
// liveness anyway and faults if the cache drifted.
type IncrementalRA struct {
	level      int
	selectedRF gir.RegFile

	numInstrs int
	live      *liveness.Result

	varIdxOf   map[*gir.Declare]int
	nextVarIdx int

	needUpdate map[int]bool
	prevStart  map[int]int
}

func newIncrementalRA(level int) *IncrementalRA {
	return &IncrementalRA{
		level:      level,
		selectedRF: gir.RegFileNone,
		numInstrs:  -1,
		varIdxOf:   make(map[*gir.Declare]int),
		needUpdate: make(map[int]bool),
		prevStart:  make(map[int]int),
	}
}

// BeginFile keys the caches to rf, dropping them when the file switches.
func (inc *IncrementalRA) BeginFile(rf gir.RegFile) {
	if inc.selectedRF != rf {
		inc.Reset(rf)
	}
}

// Reset drops every cache and re-keys to rf.
func (inc *IncrementalRA) Reset(rf gir.RegFile) {
	inc.selectedRF = rf
	inc.live = nil
	inc.numInstrs = -1
	clear(inc.varIdxOf)
	inc.nextVarIdx = 0
	clear(inc.needUpdate)
	clear(inc.prevStart)
}

// MarkForUpdate flags a declare whose references changed since the cached
// liveness run.
func (inc *IncrementalRA) MarkForUpdate(d *gir.Declare) {
	if inc.level >= 1 {
		inc.needUpdate[d.ID()] = true
	}
}

// VarIdx hands out a stable ordering key per declare within the current
// file, so unchanged variables keep their relative position between
// attempts.
func (inc *IncrementalRA) VarIdx(d *gir.Declare) int {
	if inc.level == 0 {
		return d.ID()
	}
	if idx, ok := inc.varIdxOf[d]; ok {
		return idx
	}
	idx := inc.nextVarIdx
	inc.nextVarIdx++
	inc.varIdxOf[d] = idx

	return idx
}

// Liveness returns dataflow for the kernel's current shape. The cache is
// reused only when no instruction count change, declare growth or marked
// declare invalidated it.
func (inc *IncrementalRA) Liveness(k *gir.Kernel, numInstrs int) *liveness.Result {
	stale := inc.level == 0 || inc.live == nil ||
		inc.numInstrs != numInstrs ||
		inc.live.NumVars != len(k.Declares) ||
		len(inc.needUpdate) > 0
	if stale {
		inc.live = liveness.Analyze(k)
		inc.numInstrs = numInstrs
		clear(inc.needUpdate)

		return inc.live
	}
	if inc.level >= 2 {
		inc.verifyLiveness(k)
	}

	return inc.live
}

// verifyLiveness recomputes from scratch and insists the cache matches.
func (inc *IncrementalRA) verifyLiveness(k *gir.Kernel) {
	fresh := liveness.Analyze(k)
	for b := range fresh.LiveIn {
		if !fresh.LiveIn[b].Equal(inc.live.LiveIn[b]) ||
			!fresh.LiveOut[b].Equal(inc.live.LiveOut[b]) {
			violationf("incremental-liveness", "cached sets diverged at block %d", b)
		}
	}
}

// RecordAssignment remembers where a declare landed, to hint the next
// attempt toward a stable layout.
func (inc *IncrementalRA) RecordAssignment(d *gir.Declare, start int) {
	if inc.level >= 1 {
		inc.prevStart[d.ID()] = start
	}
}

// Hint returns the previous start unit for d, or UndefHint.
func (inc *IncrementalRA) Hint(d *gir.Declare) int {
	if s, ok := inc.prevStart[d.ID()]; ok {
		return s
	}

	return UndefHint
}
