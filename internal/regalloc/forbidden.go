package regalloc

import (
	"github.com/vela-gpu/vela/internal/bitset"
	"github.com/vela-gpu/vela/internal/gir"
)

// forbiddenKind selects one of the shared forbidden-register tables. Live
// ranges point at a table instead of owning a copy.
type forbiddenKind int

const (
	// forbiddenDefault blocks r0 and the fail-safe reserve.
	forbiddenDefault forbiddenKind = iota
	// forbiddenEOT additionally blocks everything below the
	// end-of-thread window, which spans the file's last 16 registers.
	forbiddenEOT
	// forbiddenLastGRF additionally blocks the file's last register.
	forbiddenLastGRF
	// forbiddenEOTLastGRF combines the two.
	forbiddenEOTLastGRF
	// forbiddenCallerSave blocks the caller-save partition, for ranges
	// biased into callee-save registers.
	forbiddenCallerSave
	// forbiddenCalleeSave blocks the callee-save partition.
	forbiddenCalleeSave
	// forbiddenSpillTemp blocks only r0, so spill temporaries may fall
	// back on the fail-safe reserve.
	forbiddenSpillTemp
	// forbiddenAddrFlag is the empty table for the address and flag
	// files.
	forbiddenAddrFlag

	numForbiddenKinds
)

// eotWindow is how many trailing registers an end-of-thread payload may
// occupy.
const eotWindow = 16

var forbiddenKindNames = [...]string{
	forbiddenDefault:    "default",
	forbiddenEOT:        "eot",
	forbiddenLastGRF:    "last-grf",
	forbiddenEOTLastGRF: "eot+last-grf",
	forbiddenCallerSave: "caller-save",
	forbiddenCalleeSave: "callee-save",
	forbiddenSpillTemp:  "spill-temp",
	forbiddenAddrFlag:   "none",
}

func (k forbiddenKind) String() string {
	if int(k) < len(forbiddenKindNames) {
		return forbiddenKindNames[k]
	}

	return "invalid"
}

// forbiddenTables builds each forbidden set once per coloring attempt and
// shares it across live ranges.
type forbiddenTables struct {
	p        *gir.Platform
	reserved int // fail-safe registers held out, just below the EOT window
	split    int // first callee-save register

	grf  [numForbiddenKinds]*bitset.BitSet
	addr *bitset.BitSet
	flag *bitset.BitSet
}

func newForbiddenTables(p *gir.Platform, reservedGRFs int) *forbiddenTables {
	return &forbiddenTables{
		p:        p,
		reserved: reservedGRFs,
		split:    p.NumGRF / 2,
	}
}

// reserveLo returns the first fail-safe reserved register.
func (t *forbiddenTables) reserveLo() int { return t.p.NumGRF - eotWindow - t.reserved }

func (t *forbiddenTables) base() *bitset.BitSet {
	s := bitset.New(t.p.NumGRF)
	s.Set(0) // r0 carries the thread payload
	if t.reserved > 0 {
		s.SetRange(t.reserveLo(), t.reserveLo()+t.reserved)
	}

	return s
}

// GRF returns the shared table for kind. Callers must not mutate it.
func (t *forbiddenTables) GRF(kind forbiddenKind) *bitset.BitSet {
	if t.grf[kind] != nil {
		return t.grf[kind]
	}
	if kind == forbiddenSpillTemp {
		s := bitset.New(t.p.NumGRF)
		s.Set(0)
		t.grf[kind] = s

		return s
	}
	s := t.base()
	switch kind {
	case forbiddenEOT:
		s.SetRange(1, t.p.NumGRF-eotWindow)
	case forbiddenLastGRF:
		s.Set(t.p.NumGRF - 1)
	case forbiddenEOTLastGRF:
		s.SetRange(1, t.p.NumGRF-eotWindow)
		s.Set(t.p.NumGRF - 1)
	case forbiddenCallerSave:
		s.SetRange(1, t.split)
	case forbiddenCalleeSave:
		s.SetRange(t.split, t.p.NumGRF)
	}
	t.grf[kind] = s

	return s
}

// Addr returns the (empty) address-file table.
func (t *forbiddenTables) Addr() *bitset.BitSet {
	if t.addr == nil {
		t.addr = bitset.New(t.p.NumAddrSubRegs)
	}

	return t.addr
}

// Flag returns the (empty) flag-file table.
func (t *forbiddenTables) Flag() *bitset.BitSet {
	if t.flag == nil {
		t.flag = bitset.New(t.p.NumFlagRegs)
	}

	return t.flag
}

// FreeRegs returns how many registers kind leaves allocatable in the
// general file.
func (t *forbiddenTables) FreeRegs(kind forbiddenKind) int {
	return t.p.NumGRF - t.GRF(kind).Count()
}

// assignForbidden points lr at the table matching its flags.
func (t *forbiddenTables) assignForbidden(lr *LiveRange, isSpillTemp bool) {
	switch lr.RegKind() {
	case gir.RegFileAddress:
		lr.SetForbidden(forbiddenAddrFlag, t.Addr())

		return
	case gir.RegFileFlag:
		lr.SetForbidden(forbiddenAddrFlag, t.Flag())

		return
	}

	kind := forbiddenDefault
	switch {
	case isSpillTemp && t.reserved > 0:
		kind = forbiddenSpillTemp
	case lr.IsEOTSrc() && lr.NumRegNeeded() > 1:
		// Multi-register EOT payloads stop short of the last register
		// so the whole span stays inside the window.
		kind = forbiddenEOTLastGRF
	case lr.IsEOTSrc():
		kind = forbiddenEOT
	case lr.HasCalleeSaveBias():
		kind = forbiddenCallerSave
	case lr.HasCallerSaveBias():
		kind = forbiddenCalleeSave
	}
	lr.SetForbidden(kind, t.GRF(kind))
}
