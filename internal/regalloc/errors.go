// Package regalloc colors a kernel's variables onto physical registers by
// building an interference graph, simplifying it in spill-cost order and
// assigning in reverse, inserting spill code and retrying when coloring
// fails. Allocate is the entry point.
package regalloc

import (
	"fmt"
	"strings"
)

// ConsistencyError reports a broken internal invariant: a degree going
// negative, a late write to a frozen interference matrix, an alignment
// loosening. These are allocator bugs, not bad input, so the checks panic
// and Allocate recovers them into its error return.
type ConsistencyError struct {
	Check  string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("allocator consistency: %s: %s", e.Check, e.Detail)
}

// violationf aborts the current allocation attempt.
func violationf(check, format string, args ...any) {
	panic(&ConsistencyError{Check: check, Detail: fmt.Sprintf(format, args...)})
}

// recoverViolation converts a ConsistencyError panic into *errp. Anything
// else keeps unwinding.
func recoverViolation(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	ce, ok := r.(*ConsistencyError)
	if !ok {
		panic(r)
	}
	*errp = ce
}

// UnresolvableSpillError means coloring failed but every remaining
// candidate carries infinite spill cost, so inserting spill code cannot
// make progress.
type UnresolvableSpillError struct {
	Kernel     string
	Iteration  int
	Candidates []string
}

func (e *UnresolvableSpillError) Error() string {
	return fmt.Sprintf("%s: iteration %d cannot spill: all %d candidates are unspillable (%s)",
		e.Kernel, e.Iteration, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// IterationLimitError means the spill-and-retry loop hit its bound without
// converging.
type IterationLimitError struct {
	Kernel     string
	Iterations int
	LastSpills int
}

func (e *IterationLimitError) Error() string {
	return fmt.Sprintf("%s: no fit after %d iterations (%d spills in last round)",
		e.Kernel, e.Iterations, e.LastSpills)
}
