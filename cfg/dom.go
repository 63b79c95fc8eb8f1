// Package cfg analyzes and structurizes the control-flow graphs of
// monomorphized functions.
//
// Analysis computes reachability, a dominator tree, and the natural
// loop forest. Structurize turns a reducible CFG into a tree of
// Block/Sequence/If/Loop regions with explicit merge points, the form
// the structured target format requires.
package cfg

import (
	"github.com/gogpu/spvgen/mir"
)

// DomTree holds per-function dominance facts. Blocks unreachable from
// the entry have no dominator and appear in no ordering.
type DomTree struct {
	fn       *mir.Function
	idom     []mir.BlockID   // immediate dominator; NoBlock for entry and unreachable blocks
	rpo      []mir.BlockID   // reverse postorder over reachable blocks
	rpoIndex []int32         // position in rpo; -1 when unreachable
	succs    [][]mir.BlockID // per-block successors, deduplicated, deterministic order
	preds    [][]mir.BlockID // per-block predecessors over reachable edges
	pre      []int32         // dominator-tree DFS intervals for O(1) queries
	post     []int32
}

// NewDomTree computes the dominator tree of fn using the iterative
// reverse-postorder algorithm.
func NewDomTree(fn *mir.Function) *DomTree {
	n := len(fn.Blocks)
	d := &DomTree{
		fn:       fn,
		idom:     make([]mir.BlockID, n),
		rpoIndex: make([]int32, n),
		succs:    make([][]mir.BlockID, n),
		preds:    make([][]mir.BlockID, n),
		pre:      make([]int32, n),
		post:     make([]int32, n),
	}
	for i := range d.idom {
		d.idom[i] = mir.NoBlock
		d.rpoIndex[i] = -1
	}
	for b := range fn.Blocks {
		d.succs[b] = dedupBlocks(mir.Successors(fn.Blocks[b].Term))
	}
	d.computeRPO()
	for _, b := range d.rpo {
		for _, s := range d.succs[b] {
			d.preds[s] = append(d.preds[s], b)
		}
	}
	d.computeIdom()
	d.numberTree()
	return d
}

func dedupBlocks(in []mir.BlockID) []mir.BlockID {
	out := in[:0:len(in)]
	for _, b := range in {
		seen := false
		for _, o := range out {
			if o == b {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, b)
		}
	}
	return out
}

// computeRPO runs an iterative depth-first search from the entry and
// records the reverse postorder.
func (d *DomTree) computeRPO() {
	n := len(d.fn.Blocks)
	state := make([]uint8, n) // 0 unvisited, 1 on stack, 2 done
	type frame struct {
		block mir.BlockID
		next  int
	}
	var post []mir.BlockID
	stack := []frame{{block: d.fn.Entry}}
	state[d.fn.Entry] = 1
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		succ := d.succs[f.block]
		if f.next < len(succ) {
			s := succ[f.next]
			f.next++
			if state[s] == 0 {
				state[s] = 1
				stack = append(stack, frame{block: s})
			}
			continue
		}
		state[f.block] = 2
		post = append(post, f.block)
		stack = stack[:len(stack)-1]
	}
	d.rpo = make([]mir.BlockID, len(post))
	for i, b := range post {
		pos := len(post) - 1 - i
		d.rpo[pos] = b
		d.rpoIndex[b] = int32(pos)
	}
}

// computeIdom iterates the two-finger intersection to a fixed point.
func (d *DomTree) computeIdom() {
	entry := d.fn.Entry
	d.idom[entry] = entry
	changed := true
	for changed {
		changed = false
		for _, b := range d.rpo {
			if b == entry {
				continue
			}
			var newIdom = mir.NoBlock
			for _, p := range d.preds[b] {
				if d.idom[p] == mir.NoBlock {
					continue // not yet processed
				}
				if newIdom == mir.NoBlock {
					newIdom = p
				} else {
					newIdom = d.intersect(p, newIdom)
				}
			}
			if newIdom != mir.NoBlock && d.idom[b] != newIdom {
				d.idom[b] = newIdom
				changed = true
			}
		}
	}
	d.idom[entry] = mir.NoBlock
}

func (d *DomTree) intersect(a, b mir.BlockID) mir.BlockID {
	for a != b {
		for d.rpoIndex[a] > d.rpoIndex[b] {
			a = d.idom[a]
		}
		for d.rpoIndex[b] > d.rpoIndex[a] {
			b = d.idom[b]
		}
	}
	return a
}

// numberTree assigns DFS entry/exit numbers over the dominator tree so
// Dominates answers in constant time.
func (d *DomTree) numberTree() {
	n := len(d.fn.Blocks)
	children := make([][]mir.BlockID, n)
	for _, b := range d.rpo {
		if p := d.idom[b]; p != mir.NoBlock {
			children[p] = append(children[p], b)
		}
	}
	clock := int32(1)
	type frame struct {
		block mir.BlockID
		next  int
	}
	stack := []frame{{block: d.fn.Entry}}
	d.pre[d.fn.Entry] = clock
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next < len(children[f.block]) {
			c := children[f.block][f.next]
			f.next++
			clock++
			d.pre[c] = clock
			stack = append(stack, frame{block: c})
			continue
		}
		clock++
		d.post[f.block] = clock
		stack = stack[:len(stack)-1]
	}
}

// Reachable reports whether b is reachable from the entry.
func (d *DomTree) Reachable(b mir.BlockID) bool {
	return d.rpoIndex[b] >= 0
}

// Idom returns the immediate dominator of b, or NoBlock for the entry
// and unreachable blocks.
func (d *DomTree) Idom(b mir.BlockID) mir.BlockID {
	return d.idom[b]
}

// Dominates reports whether a dominates b. Reflexive; false when
// either block is unreachable.
func (d *DomTree) Dominates(a, b mir.BlockID) bool {
	if !d.Reachable(a) || !d.Reachable(b) {
		return false
	}
	return d.pre[a] <= d.pre[b] && d.post[b] <= d.post[a]
}

// RPO returns the reachable blocks in reverse postorder. Callers must
// not mutate the slice.
func (d *DomTree) RPO() []mir.BlockID {
	return d.rpo
}

// Succs returns b's deduplicated successors in terminator order.
func (d *DomTree) Succs(b mir.BlockID) []mir.BlockID {
	return d.succs[b]
}

// Preds returns b's predecessors over reachable edges.
func (d *DomTree) Preds(b mir.BlockID) []mir.BlockID {
	return d.preds[b]
}
