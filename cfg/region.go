package cfg

import (
	"github.com/gogpu/spvgen/mir"
)

// Region is one node of the structured control-flow tree. The four
// shapes are Leaf (one block's straight-line code), Sequence, If, and
// Loop. Control enters every region at one point and leaves through
// its merge; the only other escapes are the enclosing loop's recorded
// header (continue) and exit targets (break).
type Region interface {
	region()
}

// Sequence executes its child regions in order.
type Sequence struct {
	Regions []Region
}

// Leaf is the code of one basic block whose terminator does not
// branch conditionally: an unconditional branch resolved against the
// enclosing structure, a return, or unreachable.
type Leaf struct {
	Block mir.BlockID
}

// If is a two-way selection. For a conditional branch, Cond is the
// boolean condition. For one link of a switch chain, Cases holds the
// selector literals of the then-edge and Cond is the selector value;
// lowering synthesizes the comparison.
//
// A nil arm means the corresponding edge leaves the construct
// directly (to the merge, or to an enclosing loop boundary); its
// original CFG target is preserved for edge resolution.
type If struct {
	Head       mir.BlockID
	HeadCode   bool // emit Head's instructions before branching; false for inner switch links
	Cond       mir.ValueID
	Cases      []uint64 // nil for a plain conditional
	Then       *Sequence
	Else       *Sequence
	ThenTarget mir.BlockID
	ElseTarget mir.BlockID
	Merge      mir.BlockID // convergence block; NoBlock when no arm falls through
}

// LoopExit is one distinct exit target of a Loop with its dispatch
// arm. Arm is nil when the target is the loop's continuation or an
// enclosing boundary resolved by position.
type LoopExit struct {
	Target mir.BlockID
	Arm    *Sequence
}

// LoopRegion is a natural loop in structured form. Body covers every
// loop block; all exit edges have been redirected to one synthetic
// merge. With more than one distinct exit target, lowering stores an
// exit index on each leaving path and emits a post-loop dispatch
// selection over Exits.
//
// Continuation is where control resumes after the loop (and after the
// dispatch, when present); NoBlock for infinite loops and loops whose
// every exit leaves an enclosing construct.
type LoopRegion struct {
	Header       mir.BlockID
	Body         *Sequence
	Exits        []LoopExit
	Continuation mir.BlockID
}

func (*Sequence) region()   {}
func (Leaf) region()        {}
func (*If) region()         {}
func (*LoopRegion) region() {}
