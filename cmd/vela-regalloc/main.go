// Package main provides a demonstration driver for the Vela register
// allocator. It builds a small saxpy-style kernel, runs global allocation
// and prints the resulting register map, so allocator changes can be
// eyeballed without a full compiler pipeline.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/vela-gpu/vela/internal/gir"
	"github.com/vela-gpu/vela/internal/regalloc"
)

func main() {
	var (
		simd       = flag.Int("simd", 16, "kernel SIMD width (8, 16 or 32)")
		pressure   = flag.Int("pressure", 8, "long-lived vectors held live across the loop")
		iterations = flag.Int("iterations", 0, "override the spill-retry bound (0 keeps the default)")
		grf        = flag.Int("grf", 0, "cap the general register file (0 keeps the platform size)")
		dotPath    = flag.String("dot", "", "directory for per-iteration interference graph dumps")
		jsonOut    = flag.Bool("json", false, "print the allocation result as JSON")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)

	flag.Parse()

	if *simd != 8 && *simd != 16 && *simd != 32 {
		fmt.Fprintf(os.Stderr, "unsupported SIMD width %d\n", *simd)
		os.Exit(1)
	}

	if err := run(*simd, *pressure, *iterations, *grf, *dotPath, *jsonOut, *verbose); err != nil {
		log.Fatalf("allocation failed: %v", err)
	}
}

func run(simd, pressure, iterations, grf int, dotPath string, jsonOut, verbose bool) error {
	k := buildSampleKernel(simd, pressure)
	numDcls := len(k.Declares)

	opts := regalloc.DefaultOptions()
	opts.DOTPath = dotPath
	if iterations > 0 {
		opts.MaxIterations = iterations
	}
	if grf > 0 {
		opts.GRFLimit = grf
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	res, err := regalloc.Allocate(k, opts)
	if err != nil {
		return err
	}

	if jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))

		return nil
	}

	printRegisterMap(k, numDcls)
	printSummary(k, res)

	return nil
}

// buildSampleKernel shapes a predicated saxpy loop: two indirect loads, a
// mad, a compare feeding a select, plus pressure long-lived vectors that
// span the loop. Raising pressure past the register budget forces spills.
func buildSampleKernel(simd, pressure int) *gir.Kernel {
	k := gir.NewKernel("saxpy", simd, nil)

	entry := k.NewBlock("entry")
	loop := k.NewBlock("loop")
	exit := k.NewBlock("exit")
	k.AddEdge(entry, loop)
	k.AddEdge(loop, loop)
	k.AddEdge(loop, exit)
	loop.LoopDepth = 1

	base := k.NewDeclare("base", gir.RegFileAddress, gir.TypeUW, 1)
	alpha := k.NewDeclare("alpha", gir.RegFileGRF, gir.TypeF, 1)
	x := k.NewDeclare("x", gir.RegFileGRF, gir.TypeF, simd)
	y := k.NewDeclare("y", gir.RegFileGRF, gir.TypeF, simd)
	acc := k.NewDeclare("acc", gir.RegFileGRF, gir.TypeF, simd)
	out := k.NewDeclare("out", gir.RegFileGRF, gir.TypeF, simd)
	mask := k.NewDeclare("mask", gir.RegFileFlag, gir.TypeUW, 1)

	entry.Append(gir.NewMov(1, gir.NewDst(base, 0, 0), nil))
	entry.Append(gir.NewMov(1, gir.NewDst(alpha, 0, 0), nil))
	entry.Append(gir.NewMov(simd, gir.FullDst(acc), nil))
	entry.Append(gir.NewMov(simd, gir.FullDst(out), nil))

	long := make([]*gir.Declare, pressure)
	for i := range long {
		long[i] = k.NewDeclare(fmt.Sprintf("t%d", i), gir.RegFileGRF, gir.TypeF, simd)
		entry.Append(gir.NewMov(simd, gir.FullDst(long[i]), nil))
	}

	load := func(dst *gir.Declare) *gir.Instruction {
		src := &gir.SrcRegion{Dcl: base, Indirect: true, VertStride: simd, Width: simd, HorzStride: 1, Ty: gir.TypeF}

		return gir.NewMov(simd, gir.FullDst(dst), src)
	}
	loop.Append(load(x))
	loop.Append(load(y))
	loop.Append(gir.NewTernary(gir.OpMad, simd, gir.FullDst(acc),
		gir.FullSrc(y), gir.NewScalarSrc(alpha, 0, 0), gir.FullSrc(x)))
	loop.Append(gir.NewCmp(simd, &gir.CondMod{Dcl: mask}, gir.FullSrc(acc), gir.FullSrc(x)))

	sel := gir.NewBinary(gir.OpSel, simd, gir.FullDst(out), gir.FullSrc(acc), gir.FullSrc(y))
	sel.Pred = &gir.Predicate{Dcl: mask}
	loop.Append(sel)
	loop.Append(gir.NewBinary(gir.OpAddrAdd, 1, gir.NewDst(base, 0, 0),
		gir.NewScalarSrc(base, 0, 0), nil))

	for _, d := range long {
		exit.Append(gir.NewBinary(gir.OpAdd, simd, gir.FullDst(out),
			gir.FullSrc(out), gir.FullSrc(d)))
	}
	exit.Append(gir.NewSend(simd, nil, gir.FullSrc(out), true))

	return k
}

func printRegisterMap(k *gir.Kernel, numDcls int) {
	fmt.Printf("kernel %s: simd%d, %d declares, %d blocks\n\n", k.Name, k.SimdSize, numDcls, len(k.Blocks))
	fmt.Printf("  %-12s %-8s %6s  %s\n", "name", "file", "bytes", "reg")

	for _, d := range k.Declares[:numDcls] {
		fmt.Printf("  %-12s %-8s %6d  %s\n", d.Name(), d.RegFile(), d.ByteSize(), regString(d))
	}
	fmt.Println()
}

func printSummary(k *gir.Kernel, res *regalloc.Result) {
	failSafe := "no"
	if res.FailSafeUsed {
		failSafe = fmt.Sprintf("yes (%d reserved)", res.ReservedGRFs)
	}

	fmt.Printf("iterations: %d  spilled: %d  edges: %d  max grf: %d/%d\n",
		res.Iterations, res.SpilledVars, res.EdgeCount, res.MaxGRFUsed, k.Platform.NumGRF)
	fmt.Printf("scratch: %dB  fills: %d  stores: %d  fail-safe: %s\n",
		res.Spill.SpillMemUsed, res.Spill.SpillFills, res.Spill.SpillStores, failSafe)
}

func regString(d *gir.Declare) string {
	if !d.HasPhyReg() {
		return "<spilled>"
	}

	r := d.PhyReg()
	switch d.RegFile() {
	case gir.RegFileGRF:
		if d.PhyRegOff() > 0 {
			return fmt.Sprintf("r%d.%d", r.Num, d.PhyRegOff())
		}

		return r.String()
	case gir.RegFileAddress:
		return fmt.Sprintf("a0.%d", d.PhyRegOff())
	default:
		return r.String()
	}
}
