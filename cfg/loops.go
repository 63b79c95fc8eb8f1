package cfg

import (
	"fmt"
	"sort"

	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/mir"
)

// IrreducibleControlFlowError reports a loop with more than one entry.
// The producing front end guarantees reducibility, so this is a
// producer bug and fatal for the session.
type IrreducibleControlFlowError struct {
	Function string
	Block    mir.BlockID // the block entered or retargeted irregularly
	Header   mir.BlockID // loop header involved, NoBlock when no natural loop exists
	Span     diag.Span
}

func (e *IrreducibleControlFlowError) Error() string {
	if e.Header != mir.NoBlock {
		return fmt.Sprintf("irreducible control flow in %s: block %d enters the loop at %d without passing its header",
			e.Function, e.Block, e.Header)
	}
	return fmt.Sprintf("irreducible control flow in %s: cycle through block %d has no dominating header",
		e.Function, e.Block)
}

// DiagnosticClass marks the error fatal for the session.
func (e *IrreducibleControlFlowError) DiagnosticClass() diag.Class { return diag.Internal }

// DiagnosticSpan returns the function's declaration span.
func (e *IrreducibleControlFlowError) DiagnosticSpan() diag.Span { return e.Span }

// Loop is one natural loop: a header dominating a body reachable back
// to itself without leaving the loop.
type Loop struct {
	Header mir.BlockID
	Blocks []mir.BlockID // ascending, header included
	Exits  []mir.BlockID // distinct exit targets outside the loop, ascending
	Parent *Loop
	Depth  int // 1 for outermost

	member map[mir.BlockID]bool
}

// Contains reports whether b belongs to the loop body.
func (l *Loop) Contains(b mir.BlockID) bool {
	return l.member[b]
}

// LoopForest is the nesting forest of all natural loops of one
// function.
type LoopForest struct {
	Loops    []*Loop // by discovery order of headers in reverse postorder
	byHeader map[mir.BlockID]*Loop
	inner    []*Loop // innermost enclosing loop per block, nil when none
}

// HeaderLoop returns the loop headed by b, or nil.
func (f *LoopForest) HeaderLoop(b mir.BlockID) *Loop {
	return f.byHeader[b]
}

// Enclosing returns the innermost loop containing b, or nil.
func (f *LoopForest) Enclosing(b mir.BlockID) *Loop {
	return f.inner[b]
}

// FindLoops discovers the natural loops of fn and verifies the
// reducibility contract.
func FindLoops(fn *mir.Function, dom *DomTree) (*LoopForest, error) {
	if err := checkRetreatingEdges(fn, dom); err != nil {
		return nil, err
	}

	forest := &LoopForest{
		byHeader: make(map[mir.BlockID]*Loop),
		inner:    make([]*Loop, len(fn.Blocks)),
	}

	// Back edges grouped by header, in reverse postorder of headers so
	// outer loops are discovered before inner ones sharing structure.
	for _, h := range dom.RPO() {
		var tails []mir.BlockID
		for _, p := range dom.Preds(h) {
			if dom.Dominates(h, p) {
				tails = append(tails, p)
			}
		}
		if len(tails) == 0 {
			continue
		}
		forest.addLoop(fn, dom, h, tails)
	}

	if err := forest.nest(fn, dom); err != nil {
		return nil, err
	}
	return forest, nil
}

// checkRetreatingEdges runs a depth-first search and rejects any
// retreating edge whose target does not dominate its source: the
// classical reducibility criterion, catching cycles with no
// dominating header.
func checkRetreatingEdges(fn *mir.Function, dom *DomTree) error {
	n := len(fn.Blocks)
	state := make([]uint8, n) // 0 unvisited, 1 on path, 2 done
	type frame struct {
		block mir.BlockID
		next  int
	}
	stack := []frame{{block: fn.Entry}}
	state[fn.Entry] = 1
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		succ := dom.Succs(f.block)
		if f.next < len(succ) {
			s := succ[f.next]
			f.next++
			if state[s] == 1 && !dom.Dominates(s, f.block) {
				return &IrreducibleControlFlowError{
					Function: fn.Symbol,
					Block:    s,
					Header:   mir.NoBlock,
					Span:     fn.Span,
				}
			}
			if state[s] == 0 {
				state[s] = 1
				stack = append(stack, frame{block: s})
			}
			continue
		}
		state[f.block] = 2
		stack = stack[:len(stack)-1]
	}
	return nil
}

// addLoop collects the natural loop of header h from its back-edge
// tails: every block reaching a tail without passing h.
func (f *LoopForest) addLoop(fn *mir.Function, dom *DomTree, h mir.BlockID, tails []mir.BlockID) {
	member := map[mir.BlockID]bool{h: true}
	work := make([]mir.BlockID, 0, len(tails))
	for _, t := range tails {
		if !member[t] {
			member[t] = true
			work = append(work, t)
		}
	}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, p := range dom.Preds(b) {
			if !member[p] {
				member[p] = true
				work = append(work, p)
			}
		}
	}

	l := &Loop{Header: h, member: member}
	for b := range member {
		l.Blocks = append(l.Blocks, b)
	}
	sort.Slice(l.Blocks, func(i, j int) bool { return l.Blocks[i] < l.Blocks[j] })

	exitSet := map[mir.BlockID]bool{}
	for _, b := range l.Blocks {
		for _, s := range dom.Succs(b) {
			if !member[s] {
				exitSet[s] = true
			}
		}
	}
	for t := range exitSet {
		l.Exits = append(l.Exits, t)
	}
	sort.Slice(l.Exits, func(i, j int) bool { return l.Exits[i] < l.Exits[j] })

	f.Loops = append(f.Loops, l)
	f.byHeader[h] = l
}

// nest links parents, assigns depths and innermost-loop lookups, and
// verifies the single-entry property of every loop.
func (f *LoopForest) nest(fn *mir.Function, dom *DomTree) error {
	// Smaller loops nest inside larger ones; sorting by size makes the
	// first containing loop the innermost.
	bySize := make([]*Loop, len(f.Loops))
	copy(bySize, f.Loops)
	sort.SliceStable(bySize, func(i, j int) bool { return len(bySize[i].Blocks) < len(bySize[j].Blocks) })

	for _, l := range bySize {
		for _, b := range l.Blocks {
			if f.inner[b] == nil {
				f.inner[b] = l
			}
		}
	}
	for _, l := range bySize {
		for _, candidate := range bySize {
			if candidate != l && candidate.Contains(l.Header) {
				l.Parent = candidate
				break
			}
		}
	}
	for _, l := range f.Loops {
		l.Depth = 1
		for p := l.Parent; p != nil; p = p.Parent {
			l.Depth++
		}
	}

	// Single-entry check: a non-header loop block with a predecessor
	// outside the loop is a second entry.
	for _, l := range f.Loops {
		for _, b := range l.Blocks {
			if b == l.Header {
				continue
			}
			for _, p := range dom.Preds(b) {
				if !l.Contains(p) {
					return &IrreducibleControlFlowError{
						Function: fn.Symbol,
						Block:    b,
						Header:   l.Header,
						Span:     fn.Span,
					}
				}
			}
		}
	}
	return nil
}
