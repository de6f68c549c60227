package gir

// Type is the element type of a declare or operand region.
type Type int

const (
	TypeUB Type = iota // unsigned byte
	TypeB              // signed byte
	TypeUW             // unsigned word
	TypeW              // signed word
	TypeUD             // unsigned dword
	TypeD              // signed dword
	TypeUQ             // unsigned qword
	TypeQ              // signed qword
	TypeHF             // half float
	TypeF              // float
	TypeDF             // double float
)

// Size returns the element size in bytes.
func (t Type) Size() int {
	switch t {
	case TypeUB, TypeB:
		return 1
	case TypeUW, TypeW, TypeHF:
		return 2
	case TypeUD, TypeD, TypeF:
		return 4
	case TypeUQ, TypeQ, TypeDF:
		return 8
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t {
	case TypeUB:
		return "ub"
	case TypeB:
		return "b"
	case TypeUW:
		return "uw"
	case TypeW:
		return "w"
	case TypeUD:
		return "ud"
	case TypeD:
		return "d"
	case TypeUQ:
		return "uq"
	case TypeQ:
		return "q"
	case TypeHF:
		return "hf"
	case TypeF:
		return "f"
	case TypeDF:
		return "df"
	default:
		return "?"
	}
}

// RegFile identifies a register class with its own allocation pool. Values
// are single bits so a set of files can be carried in one mask, which the
// incremental cache uses to detect class switches.
type RegFile int

const (
	RegFileNone    RegFile = 0
	RegFileGRF     RegFile = 1 << iota // general register file
	RegFileAddress                     // a0 sub-registers
	RegFileFlag                        // f0..fN 16-bit flag units
)

func (rf RegFile) String() string {
	switch rf {
	case RegFileGRF:
		return "grf"
	case RegFileAddress:
		return "address"
	case RegFileFlag:
		return "flag"
	default:
		return "none"
	}
}

// SubRegAlign is a required sub-register alignment in word (2-byte) units.
// Alignments only ever tighten; see regalloc's metadata table for the
// enforcement rule.
type SubRegAlign int

const (
	AlignAny     SubRegAlign = 1
	AlignEven    SubRegAlign = 2
	AlignFour    SubRegAlign = 4
	AlignEight   SubRegAlign = 8
	AlignSixteen SubRegAlign = 16
)

func (a SubRegAlign) String() string {
	switch a {
	case AlignAny:
		return "any"
	case AlignEven:
		return "even-word"
	case AlignFour:
		return "four-word"
	case AlignEight:
		return "eight-word"
	case AlignSixteen:
		return "sixteen-word"
	default:
		return "invalid"
	}
}

// Bytes returns the alignment in bytes.
func (a SubRegAlign) Bytes() int { return int(a) * 2 }
