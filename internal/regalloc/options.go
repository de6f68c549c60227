package regalloc

import (
	"context"
	"log/slog"

	"github.com/xyproto/env/v2"
)

// Options tunes one allocator instance. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	// MaxIterations bounds the spill-and-retry loop.
	MaxIterations int
	// DenseLimitBytes caps the dense interference matrix; above it the
	// build switches to sparse rows. Zero means derive from system
	// memory.
	DenseLimitBytes int64
	// GRFLimit, when positive and below the platform size, caps how many
	// general registers allocation may hand out. Zero uses the full file.
	GRFLimit int
	// Incremental selects how much state survives between Allocate calls
	// on the same kernel: 0 rebuilds everything, 1 reuses variable
	// numbering, 2 additionally re-verifies liveness against the cache.
	Incremental int
	// BankTuning enables the bank-conflict assignment heuristic.
	BankTuning bool
	// FailSafe reserves spill headroom once iterations run long.
	FailSafe bool
	// FailSafeAfter is the iteration at which fail-safe engages.
	FailSafeAfter int
	// DOTPath, when set, receives an interference-graph dump per
	// iteration.
	DOTPath string
	// Logger receives phase-level progress records. Nil disables.
	Logger *slog.Logger
}

// DefaultOptions returns the production defaults, each overridable through
// a VELA_RA_* environment knob.
func DefaultOptions() Options {
	return Options{
		MaxIterations:   env.Int("VELA_RA_MAX_ITERATIONS", 10),
		DenseLimitBytes: int64(env.Int("VELA_RA_DENSE_LIMIT", 0)),
		GRFLimit:        env.Int("VELA_RA_GRF_LIMIT", 0),
		Incremental:     env.Int("VELA_RA_INCREMENTAL", 1),
		BankTuning:      !env.Bool("VELA_RA_NO_BANK_TUNING"),
		FailSafe:        !env.Bool("VELA_RA_NO_FAILSAFE"),
		FailSafeAfter:   env.Int("VELA_RA_FAILSAFE_AFTER", 4),
		DOTPath:         env.Str("VELA_RA_DOT"),
		Logger:          nil,
	}
}

// logger returns the configured logger or a discarding one.
func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.New(discardHandler{})
}

// discardHandler drops every record. slog.DiscardHandler needs go1.24 and
// the module floor is go1.23.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool       { return false }
func (discardHandler) Handle(context.Context, slog.Record) error      { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler             { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler                  { return discardHandler{} }
