package gir

// Platform describes the register-file geometry and the bank/bundle layout
// of one GPU generation. The allocator treats it as read-only.
type Platform struct {
	Name string

	// NumGRF is the number of general registers (r0..rN-1).
	NumGRF int
	// GRFByteSize is the width of one general register in bytes.
	GRFByteSize int
	// NumAddrSubRegs is the number of allocatable a0 sub-registers.
	NumAddrSubRegs int
	// NumFlagRegs is the number of allocatable 16-bit flag units.
	NumFlagRegs int

	// TwoGRFBank16Bundles selects the bank layout where banks alternate
	// every two registers. OneGRFBank16Bundles selects per-register
	// alternation with 16 bundles. At most one should be set; with
	// neither, banks alternate per register across the whole file.
	TwoGRFBank16Bundles bool
	OneGRFBank16Bundles bool
	// PartialInt64 narrows the bundle stride (32 registers, 2 per
	// bundle) on generations without full int64 datapaths.
	PartialInt64 bool
}

// DefaultPlatform returns the geometry the tests and the demo tool use:
// 128 general registers of 32 bytes, 16 address sub-registers and 4 flag
// units.
func DefaultPlatform() *Platform {
	return &Platform{
		Name:           "vela-gen1",
		NumGRF:         128,
		GRFByteSize:    32,
		NumAddrSubRegs: 16,
		NumFlagRegs:    4,
	}
}

// Bank returns the bank number a register+offset pair maps to.
func (p *Platform) Bank(baseReg, offset int) int {
	if p.TwoGRFBank16Bundles {
		return ((baseReg + offset) % 4) / 2
	}

	return (baseReg + offset) % 2
}

// Bundle returns the access-port bundle a register+offset pair maps to.
func (p *Platform) Bundle(baseReg, offset int) int {
	if p.PartialInt64 {
		return ((baseReg + offset) % 32) / 2
	}

	return ((baseReg + offset) % 64) / 4
}

// RegsForBytes returns how many whole general registers are needed to hold
// size bytes.
func (p *Platform) RegsForBytes(size int) int {
	return (size + p.GRFByteSize - 1) / p.GRFByteSize
}

// EltsPerGRF returns how many elements of ty fit in one general register.
func (p *Platform) EltsPerGRF(ty Type) int {
	return p.GRFByteSize / ty.Size()
}
