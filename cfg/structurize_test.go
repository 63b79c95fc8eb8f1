package cfg

import (
	"errors"
	"reflect"
	"testing"

	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/mir"
)

// coveredBlocks counts how often each block appears in the region
// tree, counting If heads only where the head's code is owned by the
// link.
func coveredBlocks(root *Sequence) map[mir.BlockID]int {
	counts := make(map[mir.BlockID]int)
	var visit func(r Region)
	visitSeq := func(s *Sequence) {
		if s == nil {
			return
		}
		for _, r := range s.Regions {
			visit(r)
		}
	}
	visit = func(r Region) {
		switch n := r.(type) {
		case Leaf:
			counts[n.Block]++
		case *If:
			if n.HeadCode {
				counts[n.Head]++
			}
			visitSeq(n.Then)
			visitSeq(n.Else)
		case *LoopRegion:
			visitSeq(n.Body)
			for _, e := range n.Exits {
				visitSeq(e.Arm)
			}
		case *Sequence:
			visitSeq(n)
		}
	}
	visitSeq(root)
	return counts
}

// checkCoversOnce verifies the region tree places every reachable
// block exactly once and drops every unreachable one.
func checkCoversOnce(t *testing.T, plan *Plan) {
	t.Helper()
	counts := coveredBlocks(plan.Root)
	for id := range plan.Fn.Blocks {
		b := mir.BlockID(id)
		if plan.Dom.Reachable(b) {
			if counts[b] != 1 {
				t.Errorf("block b%d placed %d times, want 1", b, counts[b])
			}
		} else if counts[b] != 0 {
			t.Errorf("unreachable block b%d placed %d times", b, counts[b])
		}
	}
}

func mustStructurize(t *testing.T, fn *mir.Function) *Plan {
	t.Helper()
	plan, err := Structurize(fn)
	if err != nil {
		t.Fatal(err)
	}
	checkCoversOnce(t, plan)
	return plan
}

func asLeaf(t *testing.T, r Region) Leaf {
	t.Helper()
	l, ok := r.(Leaf)
	if !ok {
		t.Fatalf("region is %T, want Leaf", r)
	}
	return l
}

func asIf(t *testing.T, r Region) *If {
	t.Helper()
	n, ok := r.(*If)
	if !ok {
		t.Fatalf("region is %T, want *If", r)
	}
	return n
}

func asLoop(t *testing.T, r Region) *LoopRegion {
	t.Helper()
	n, ok := r.(*LoopRegion)
	if !ok {
		t.Fatalf("region is %T, want *LoopRegion", r)
	}
	return n
}

func TestStructurize_StraightLine(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "straight")
	first := b.Block()
	second := b.Block()
	b.At(first)
	b.Branch(second)
	b.At(second)
	b.Return()

	plan := mustStructurize(t, b.Finish())
	if len(plan.Root.Regions) != 2 {
		t.Fatalf("root has %d regions, want 2", len(plan.Root.Regions))
	}
	if asLeaf(t, plan.Root.Regions[0]).Block != first {
		t.Error("first region should be the entry block")
	}
	if asLeaf(t, plan.Root.Regions[1]).Block != second {
		t.Error("second region should follow in sequence")
	}
}

func TestStructurize_IfElseMerge(t *testing.T) {
	fn := diamondFunc(t)
	plan := mustStructurize(t, fn)

	if len(plan.Root.Regions) != 2 {
		t.Fatalf("root has %d regions, want if + merge", len(plan.Root.Regions))
	}
	sel := asIf(t, plan.Root.Regions[0])
	if sel.Head != 0 || !sel.HeadCode {
		t.Errorf("selection head = b%d headcode=%v", sel.Head, sel.HeadCode)
	}
	if sel.Merge != 3 {
		t.Errorf("merge = b%d, want b3", sel.Merge)
	}
	if sel.Then == nil || asLeaf(t, sel.Then.Regions[0]).Block != 1 {
		t.Error("then arm should hold b1")
	}
	if sel.Else == nil || asLeaf(t, sel.Else.Regions[0]).Block != 2 {
		t.Error("else arm should hold b2")
	}
	if asLeaf(t, plan.Root.Regions[1]).Block != 3 {
		t.Error("merge block should follow the selection")
	}
}

func TestStructurize_IfWithoutElse(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "onearm")
	head := b.Block()
	then := b.Block()
	merge := b.Block()

	b.At(head)
	b.CondBranch(b.Bool(true), then, merge)
	b.At(then)
	b.Branch(merge)
	b.At(merge)
	b.Return()

	plan := mustStructurize(t, b.Finish())
	sel := asIf(t, plan.Root.Regions[0])
	if sel.Merge != merge {
		t.Errorf("merge = b%d, want b%d", sel.Merge, merge)
	}
	if sel.Then == nil {
		t.Fatal("then arm should carry code")
	}
	if sel.Else != nil {
		t.Error("else edge goes straight to the merge, arm must stay empty")
	}
	if sel.ElseTarget != merge {
		t.Errorf("else target = b%d, want the merge", sel.ElseTarget)
	}
}

func TestStructurize_WhileLoop(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "while")
	entry := b.Block()
	header := b.Block()
	body := b.Block()
	exit := b.Block()

	b.At(entry)
	b.Branch(header)
	b.At(header)
	b.CondBranch(b.Bool(true), body, exit)
	b.At(body)
	b.Branch(header)
	b.At(exit)
	b.Return()

	plan := mustStructurize(t, b.Finish())
	if len(plan.Root.Regions) != 3 {
		t.Fatalf("root has %d regions, want entry + loop + exit", len(plan.Root.Regions))
	}
	loop := asLoop(t, plan.Root.Regions[1])
	if loop.Header != header {
		t.Errorf("loop header = b%d, want b%d", loop.Header, header)
	}
	if len(loop.Exits) != 1 || loop.Exits[0].Target != exit {
		t.Fatalf("loop exits = %+v, want single exit to b%d", loop.Exits, exit)
	}
	if loop.Exits[0].Arm != nil {
		t.Error("single exit needs no dispatch arm")
	}
	if loop.Continuation != exit {
		t.Errorf("continuation = b%d, want b%d", loop.Continuation, exit)
	}

	// The header's conditional keeps its code and treats the exit
	// edge as a break.
	head := asIf(t, loop.Body.Regions[0])
	if head.Head != header || !head.HeadCode {
		t.Errorf("body head = b%d headcode=%v", head.Head, head.HeadCode)
	}
	if head.ElseTarget != exit {
		t.Errorf("break edge target = b%d, want b%d", head.ElseTarget, exit)
	}
}

func TestStructurize_LoopBreakAndNaturalExitConverge(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "twoexits")
	entry := b.Block()
	header := b.Block()
	body := b.Block()
	latch := b.Block()
	natural := b.Block()
	broke := b.Block()
	after := b.Block()

	b.At(entry)
	b.Branch(header)
	b.At(header)
	b.CondBranch(b.Bool(true), body, natural)
	b.At(body)
	b.CondBranch(b.Bool(false), broke, latch)
	b.At(latch)
	b.Branch(header)
	b.At(natural)
	b.Branch(after)
	b.At(broke)
	b.Branch(after)
	b.At(after)
	b.Return()

	plan := mustStructurize(t, b.Finish())
	loop := asLoop(t, plan.Root.Regions[1])

	if len(loop.Exits) != 2 {
		t.Fatalf("loop has %d exit targets, want 2", len(loop.Exits))
	}
	// Dispatch order is by ascending block id.
	if loop.Exits[0].Target != natural || loop.Exits[1].Target != broke {
		t.Fatalf("exit targets = b%d, b%d", loop.Exits[0].Target, loop.Exits[1].Target)
	}
	for i, e := range loop.Exits {
		if e.Arm == nil {
			t.Fatalf("exit %d should carry a dispatch arm", i)
		}
		if got := asLeaf(t, e.Arm.Regions[0]).Block; got != e.Target {
			t.Errorf("exit %d arm starts at b%d, want b%d", i, got, e.Target)
		}
	}
	if loop.Continuation != after {
		t.Errorf("continuation = b%d, want b%d", loop.Continuation, after)
	}
	if got := asLeaf(t, plan.Root.Regions[2]).Block; got != after {
		t.Errorf("sequence resumes at b%d, want b%d", got, after)
	}
}

func TestStructurize_NestedLoopEarlyExits(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "nestedexits")
	entry := b.Block()      // b0
	outerHead := b.Block()  // b1
	innerHead := b.Block()  // b2
	innerBody := b.Block()  // b3
	breakBoth := b.Block()  // b4
	innerLatch := b.Block() // b5
	innerAfter := b.Block() // b6
	outerExit := b.Block()  // b7
	breakTail := b.Block()  // b8
	merge := b.Block()      // b9

	b.At(entry)
	b.Branch(outerHead)
	b.At(outerHead)
	b.CondBranch(b.Bool(true), innerHead, outerExit)
	b.At(innerHead)
	b.CondBranch(b.Bool(true), innerBody, innerAfter)
	b.At(innerBody)
	b.CondBranch(b.Bool(false), breakBoth, innerLatch)
	b.At(breakBoth)
	b.Branch(breakTail)
	b.At(innerLatch)
	b.Branch(innerHead)
	b.At(innerAfter)
	b.Branch(outerHead)
	b.At(outerExit)
	b.Branch(merge)
	b.At(breakTail)
	b.Branch(merge)
	b.At(merge)
	b.Return()

	plan := mustStructurize(t, b.Finish())

	outer := asLoop(t, plan.Root.Regions[1])
	if outer.Header != outerHead {
		t.Fatalf("outer header = b%d", outer.Header)
	}

	// Inner loop sits behind the outer header's conditional.
	inner := asLoop(t, outer.Body.Regions[1])
	if inner.Header != innerHead {
		t.Fatalf("inner header = b%d", inner.Header)
	}
	if len(inner.Exits) != 2 {
		t.Fatalf("inner loop has %d exit targets, want 2", len(inner.Exits))
	}
	if inner.Exits[0].Target != breakBoth || inner.Exits[1].Target != innerAfter {
		t.Fatalf("inner exit targets = b%d, b%d", inner.Exits[0].Target, inner.Exits[1].Target)
	}
	// The break-both target leaves the outer loop too, so its arm is
	// deferred to the outer dispatch; the loop continuation needs no
	// arm either.
	if inner.Exits[0].Arm != nil {
		t.Error("escaping exit must not carry an arm")
	}
	if inner.Exits[1].Arm != nil {
		t.Error("continuation exit must not carry an arm")
	}
	if inner.Continuation != innerAfter {
		t.Errorf("inner continuation = b%d, want b%d", inner.Continuation, innerAfter)
	}

	// The outer dispatch handles both ways out: the plain outer exit
	// and the double break threaded through the inner dispatch.
	if len(outer.Exits) != 2 {
		t.Fatalf("outer loop has %d exit targets, want 2", len(outer.Exits))
	}
	if outer.Exits[0].Target != breakBoth || outer.Exits[1].Target != outerExit {
		t.Fatalf("outer exit targets = b%d, b%d", outer.Exits[0].Target, outer.Exits[1].Target)
	}
	if outer.Exits[0].Arm == nil || outer.Exits[1].Arm == nil {
		t.Fatal("both outer exits converge later and need arms")
	}
	if outer.Continuation != merge {
		t.Errorf("outer continuation = b%d, want b%d", outer.Continuation, merge)
	}
	if got := asLeaf(t, plan.Root.Regions[2]).Block; got != merge {
		t.Errorf("sequence resumes at b%d, want b%d", got, merge)
	}
}

func TestStructurize_SwitchChain(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "switch")
	head := b.Block()
	caseA := b.Block()
	caseB := b.Block()
	def := b.Block()
	merge := b.Block()

	b.At(head)
	sel := b.U32(7)
	b.Switch(sel, def,
		mir.SwitchCase{Value: 1, Target: caseA},
		mir.SwitchCase{Value: 2, Target: caseA},
		mir.SwitchCase{Value: 3, Target: caseB},
	)
	b.At(caseA)
	b.Branch(merge)
	b.At(caseB)
	b.Branch(merge)
	b.At(def)
	b.Branch(merge)
	b.At(merge)
	b.Return()

	plan := mustStructurize(t, b.Finish())

	first := asIf(t, plan.Root.Regions[0])
	if !first.HeadCode {
		t.Error("first link owns the head block's code")
	}
	if !reflect.DeepEqual(first.Cases, []uint64{1, 2}) {
		t.Errorf("first link cases = %v, want [1 2]", first.Cases)
	}
	if first.ThenTarget != caseA || first.Merge != merge {
		t.Errorf("first link then=b%d merge=b%d", first.ThenTarget, first.Merge)
	}

	if first.Else == nil || len(first.Else.Regions) != 1 {
		t.Fatal("first link chains to a second selection")
	}
	second := asIf(t, first.Else.Regions[0])
	if second.HeadCode {
		t.Error("chained link must not re-emit the head block")
	}
	if !reflect.DeepEqual(second.Cases, []uint64{3}) {
		t.Errorf("second link cases = %v, want [3]", second.Cases)
	}
	if second.ThenTarget != caseB || second.ElseTarget != def {
		t.Errorf("second link then=b%d else=b%d", second.ThenTarget, second.ElseTarget)
	}
	if second.Else == nil || asLeaf(t, second.Else.Regions[0]).Block != def {
		t.Error("default arm should hold the default block")
	}
	if second.Merge != merge {
		t.Errorf("chain links share the merge, got b%d", second.Merge)
	}
	if got := asLeaf(t, plan.Root.Regions[1]).Block; got != merge {
		t.Errorf("sequence resumes at b%d, want b%d", got, merge)
	}
}

func TestStructurize_SwitchAllCasesDefault(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "degenerate")
	head := b.Block()
	def := b.Block()

	b.At(head)
	sel := b.U32(0)
	b.Switch(sel, def,
		mir.SwitchCase{Value: 1, Target: def},
		mir.SwitchCase{Value: 2, Target: def},
	)
	b.At(def)
	b.Return()

	plan := mustStructurize(t, b.Finish())
	if len(plan.Root.Regions) != 2 {
		t.Fatalf("root has %d regions, want plain sequence", len(plan.Root.Regions))
	}
	if asLeaf(t, plan.Root.Regions[0]).Block != head {
		t.Error("head collapses to a leaf when every case hits the default")
	}
}

func TestStructurize_InfiniteLoop(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "forever")
	entry := b.Block()
	header := b.Block()
	body := b.Block()

	b.At(entry)
	b.Branch(header)
	b.At(header)
	b.Branch(body)
	b.At(body)
	b.Branch(header)

	plan := mustStructurize(t, b.Finish())
	loop := asLoop(t, plan.Root.Regions[1])
	if len(loop.Exits) != 0 {
		t.Fatalf("infinite loop has %d exits", len(loop.Exits))
	}
	if loop.Continuation != mir.NoBlock {
		t.Error("infinite loop has no continuation")
	}
	if len(plan.Root.Regions) != 2 {
		t.Error("nothing follows an infinite loop")
	}
}

func TestStructurize_ReturnInsideLoop(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "earlyreturn")
	entry := b.Block()
	header := b.Block()
	body := b.Block()
	done := b.Block()

	b.At(entry)
	b.Branch(header)
	b.At(header)
	b.CondBranch(b.Bool(true), body, done)
	b.At(body)
	b.Return()
	b.At(done)
	b.Return()

	plan := mustStructurize(t, b.Finish())
	// No back edge survives the return, so header and body form no
	// loop at all.
	if len(plan.Loops.Loops) != 0 {
		t.Fatalf("found %d loops, want 0", len(plan.Loops.Loops))
	}
	sel := asIf(t, plan.Root.Regions[1])
	if sel.Head != header {
		t.Errorf("selection head = b%d, want b%d", sel.Head, header)
	}
}

func TestStructurize_IrreducibleReported(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "knot")
	entry := b.Block()
	left := b.Block()
	right := b.Block()

	b.At(entry)
	b.CondBranch(b.Bool(true), left, right)
	b.At(left)
	b.Branch(right)
	b.At(right)
	b.Branch(left)

	_, err := Structurize(b.Finish())
	var ice *IrreducibleControlFlowError
	if !errors.As(err, &ice) {
		t.Fatalf("got %v, want IrreducibleControlFlowError", err)
	}
}

func TestStructurize_UnreachableSideEffectReported(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "deadstore")
	entry := b.Block()
	dead := b.Block()
	tail := b.Block()

	loc := b.Local("tmp", b.TypeU32())
	b.At(entry)
	b.Branch(tail)
	b.At(dead)
	b.Store(b.LocalAddr(loc), b.U32(1))
	b.Branch(tail)
	b.At(tail)
	b.Return()

	_, err := Structurize(b.Finish())
	var ierr *diag.InternalError
	if !errors.As(err, &ierr) {
		t.Fatalf("got %v, want internal error", err)
	}
	if diag.FromError(err, "deadstore").Class != diag.Internal {
		t.Error("dropped side effects must be classified internal")
	}
}

func TestStructurize_IrregularJoinReported(t *testing.T) {
	b := mir.NewFuncBuilder(mir.NewProgram(), "irregular")
	head := b.Block()
	a := b.Block()
	c := b.Block()
	join := b.Block()
	tail := b.Block()

	// a and c converge at join, but c also reaches tail directly, so
	// join and tail are both partial merge points.
	b.At(head)
	b.CondBranch(b.Bool(true), a, c)
	b.At(a)
	b.Branch(join)
	b.At(c)
	b.CondBranch(b.Bool(false), join, tail)
	b.At(join)
	b.Branch(tail)
	b.At(tail)
	b.Return()

	_, err := Structurize(b.Finish())
	var ierr *diag.InternalError
	if !errors.As(err, &ierr) {
		t.Fatalf("got %v, want internal error", err)
	}
}
