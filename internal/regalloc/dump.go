package regalloc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/davecgh/go-spew/spew"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/vela-gpu/vela/internal/gir"
)

// dotNode labels one live range in the exported interference graph.
type dotNode struct {
	id    int64
	label string
	style string
}

func (n dotNode) ID() int64     { return n.id }
func (n dotNode) DOTID() string { return fmt.Sprintf("n%d", n.id) }

func (n dotNode) Attributes() []encoding.Attribute {
	attrs := []encoding.Attribute{{Key: "label", Value: n.label}}
	if n.style != "" {
		attrs = append(attrs, encoding.Attribute{Key: "style", Value: n.style})
	}

	return attrs
}

// dotGraph lowers the strong edges of one attempt into a gonum graph.
// Weak edges stay out; they constrain alignment, not placement.
func dotGraph(cs *coloringState) *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for _, lr := range cs.lrs {
		n := dotNode{
			id:    int64(lr.ID()),
			label: fmt.Sprintf("%s\nneed=%d deg=%d", lr.Dcl.Name(), lr.NumRegNeeded(), lr.Degree()),
		}
		switch {
		case lr.IsPseudoNode():
			n.style = "dotted"
		case lr.IsSpilled():
			n.style = "dashed"
		}
		g.AddNode(n)
	}
	for _, lr := range cs.lrs {
		for _, nb := range cs.ig.Neighbors(lr.ID()) {
			if nb <= lr.ID() {
				continue
			}
			g.SetEdge(simple.Edge{F: g.Node(int64(lr.ID())), T: g.Node(int64(nb))})
		}
	}

	return g
}

// dumpDOT writes the attempt's graph under Options.DOTPath. Dumps are
// best effort; failures are logged and allocation continues.
func (a *Allocator) dumpDOT(cs *coloringState, file gir.RegFile, iter int) {
	if err := os.MkdirAll(a.opts.DOTPath, 0o755); err != nil {
		a.log.Warn("dot dump", "err", err)

		return
	}
	name := fmt.Sprintf("%s_%s_i%d.dot", a.k.Name, file, iter)
	data, err := dot.Marshal(dotGraph(cs), a.k.Name, "", "  ")
	if err != nil {
		a.log.Warn("dot dump", "err", err)

		return
	}
	path := filepath.Join(a.opts.DOTPath, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		a.log.Warn("dot dump", "err", err)

		return
	}
	a.log.Debug("dot dump written", "path", path,
		"nodes", len(cs.lrs), "edges", cs.ig.EdgeCount())
}

// dumpSpills debug-logs the spill picks of one iteration.
func (a *Allocator) dumpSpills(spilled []*LiveRange) {
	names := make([]string, len(spilled))
	for i, lr := range spilled {
		names[i] = lr.String()
	}
	a.log.Debug("spill candidates", "ranges", names)
}

// dumpMetrics debug-logs the full spill counters with field names, which
// keeps the final summary line short.
func (a *Allocator) dumpMetrics() {
	a.log.Debug("spill metrics", "detail", spew.Sdump(a.sm.Metrics))
}
