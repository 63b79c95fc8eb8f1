package spirv

import (
	"fmt"
	"math"

	"github.com/gogpu/spvgen/cfg"
	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/mir"
)

// InvalidStorageClassError reports a pointer operation whose result
// class differs from the class of the pointer it derives from. Logical
// addressing has no class-changing casts, so the operation cannot be
// expressed.
type InvalidStorageClassError struct {
	Function string
	Base     mir.StorageClass
	Result   mir.StorageClass
	Span     diag.Span
}

func (e *InvalidStorageClassError) Error() string {
	return fmt.Sprintf("pointer in %s crosses from storage class %s to %s",
		e.Function, e.Base, e.Result)
}

// DiagnosticClass marks the error as user-facing.
func (e *InvalidStorageClassError) DiagnosticClass() diag.Class { return diag.UserFacing }

// DiagnosticSpan returns the offending operation's source location.
func (e *InvalidStorageClassError) DiagnosticSpan() diag.Span { return e.Span }

// ClassWord maps an IR storage class to its binary enumerant.
func ClassWord(c mir.StorageClass) StorageClass {
	switch c {
	case mir.ClassFunction:
		return StorageClassFunction
	case mir.ClassPrivate:
		return StorageClassPrivate
	case mir.ClassWorkgroup:
		return StorageClassWorkgroup
	case mir.ClassUniform:
		return StorageClassUniform
	case mir.ClassStorage:
		return StorageClassStorageBuffer
	case mir.ClassPushConstant:
		return StorageClassPushConstant
	case mir.ClassInput:
		return StorageClassInput
	case mir.ClassOutput:
		return StorageClassOutput
	default:
		return StorageClassPrivate
	}
}

// CallSite records one outgoing call for the linker: the callee symbol,
// the signature the caller used, and where the call appears.
type CallSite struct {
	Symbol string
	Sig    mir.TypeID
	Span   diag.Span
}

// FuncCode is one lowered function: its body as symbolic instructions
// plus the linkage data the linker resolves against. Result ids inside
// Code are function-local virtuals, dense from 1; Bound is one past
// the highest.
type FuncCode struct {
	Symbol string
	Export bool
	Type   mir.TypeID
	Result mir.TypeID
	Code   []Instruction
	Calls  []CallSite
	Bound  uint32
	Span   diag.Span
}

// LowerFunction emits the symbolic instruction stream for one
// structured function. The region tree drives emission; branches that
// leave a region are resolved innermost-first against the stack of
// open constructs, so breaks, continues, and switch-chain hops all
// land on merge labels the structural rules allow.
func LowerFunction(prog *mir.Program, plan *cfg.Plan) (*FuncCode, error) {
	fn := plan.Fn
	s := &lowerer{
		prog:       prog,
		fn:         fn,
		next:       1,
		labels:     make(map[mir.BlockID]uint32),
		vals:       make(map[mir.ValueID]uint32),
		chainEntry: make(map[*cfg.If]uint32),
		spanHint:   fn.Span,
	}
	s.emit(Ins(OpFunction, TypeRef(fn.Result), FuncRef(fn.Symbol),
		Word(uint32(FunctionControlNone)), TypeRef(fn.Type)))
	s.params = make([]uint32, len(fn.Params))
	for i, p := range fn.Params {
		id := s.newID()
		s.params[i] = id
		s.emit(Ins(OpFunctionParameter, TypeRef(p.Type), Value(id)))
	}

	// Synthetic entry block. Function-storage variables may only appear
	// in the first block, and the branch keeps a loop-header entry
	// block legal (a header may not be the function's first block).
	s.openBlock(s.newID())
	s.locals = make([]uint32, len(fn.Locals))
	for i, l := range fn.Locals {
		ptr := prog.Types.Intern(mir.Pointer{Pointee: l.Type, Class: mir.ClassFunction})
		id := s.newID()
		s.locals[i] = id
		ops := []Operand{TypeRef(ptr), Value(id), Word(uint32(StorageClassFunction))}
		if l.Init != nil {
			ops = append(ops, ConstRef(*l.Init))
		}
		s.emit(Ins(OpVariable, ops...))
	}
	if needsSelector(plan.Root) {
		ptr := prog.Types.Intern(mir.Pointer{Pointee: s.u32Type(), Class: mir.ClassFunction})
		s.selVar = s.newID()
		s.emit(Ins(OpVariable, TypeRef(ptr), Value(s.selVar), Word(uint32(StorageClassFunction))))
	}
	s.emit(Ins(OpBranch, Value(s.labelFor(fn.Entry))))

	if err := s.emitSeq(plan.Root); err != nil {
		return nil, err
	}
	s.emit(Ins(OpFunctionEnd))
	return &FuncCode{
		Symbol: fn.Symbol,
		Export: fn.Export,
		Type:   fn.Type,
		Result: fn.Result,
		Code:   s.code,
		Calls:  s.calls,
		Bound:  s.next,
		Span:   fn.Span,
	}, nil
}

// needsSelector reports whether any loop in the tree has several exit
// targets and therefore stores a dispatch index.
func needsSelector(r cfg.Region) bool {
	switch x := r.(type) {
	case *cfg.Sequence:
		for _, c := range x.Regions {
			if needsSelector(c) {
				return true
			}
		}
	case *cfg.If:
		if x.Then != nil && needsSelector(x.Then) {
			return true
		}
		if x.Else != nil && needsSelector(x.Else) {
			return true
		}
	case *cfg.LoopRegion:
		if len(x.Exits) > 1 {
			return true
		}
		if needsSelector(x.Body) {
			return true
		}
		for _, e := range x.Exits {
			if e.Arm != nil && needsSelector(e.Arm) {
				return true
			}
		}
	}
	return false
}

type frameKind uint8

const (
	frameLoop frameKind = iota
	frameSelect
)

// frame is one open structured construct during emission. A branch
// out of the current region resolves innermost-first against the
// stack: a loop's header becomes its continue edge, a recorded exit
// target becomes a break (storing the dispatch index when the loop
// has several exits), and a selection's merge block becomes a hop to
// that selection's local merge label.
type frame struct {
	kind          frameKind
	header        mir.BlockID
	continueLabel uint32
	mergeBlock    mir.BlockID
	mergeLabel    uint32
	exitIndex     map[mir.BlockID]int
	selStore      bool
}

// lowerer holds per-function emission state.
type lowerer struct {
	prog       *mir.Program
	fn         *mir.Function
	code       []Instruction
	next       uint32
	labels     map[mir.BlockID]uint32
	vals       map[mir.ValueID]uint32
	chainEntry map[*cfg.If]uint32
	params     []uint32
	locals     []uint32
	selVar     uint32
	frames     []frame
	calls      []CallSite
	spanHint   diag.Span
}

func (s *lowerer) newID() uint32 {
	id := s.next
	s.next++
	return id
}

func (s *lowerer) emit(in Instruction) {
	in.Span = s.spanHint
	s.code = append(s.code, in)
}

func (s *lowerer) openBlock(label uint32) {
	s.emit(Ins(OpLabel, Value(label)))
}

func (s *lowerer) labelFor(b mir.BlockID) uint32 {
	if l, ok := s.labels[b]; ok {
		return l
	}
	l := s.newID()
	s.labels[b] = l
	return l
}

func (s *lowerer) internalf(format string, args ...any) error {
	err := diag.Internalf(format, args...)
	err.Function = s.fn.Symbol
	err.Span = s.spanHint
	return err
}

// branchTo terminates the open block with a branch to target,
// resolved against the frame stack.
func (s *lowerer) branchTo(target mir.BlockID) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := &s.frames[i]
		switch f.kind {
		case frameLoop:
			if target == f.header {
				s.emit(Ins(OpBranch, Value(f.continueLabel)))
				return
			}
			if idx, ok := f.exitIndex[target]; ok {
				if f.selStore {
					c := s.prog.Consts.Scalar(s.u32Type(), uint64(idx))
					s.emit(Ins(OpStore, Value(s.selVar), ConstRef(c)))
				}
				s.emit(Ins(OpBranch, Value(f.mergeLabel)))
				return
			}
		case frameSelect:
			if target == f.mergeBlock {
				s.emit(Ins(OpBranch, Value(f.mergeLabel)))
				return
			}
		}
	}
	s.emit(Ins(OpBranch, Value(s.labelFor(target))))
}

// directTarget resolves target like branchTo but without emitting,
// for use as a conditional-branch operand. It reports false when the
// resolution needs code of its own (a dispatch-index store), in which
// case the edge gets a trampoline block.
func (s *lowerer) directTarget(target mir.BlockID) (uint32, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := &s.frames[i]
		switch f.kind {
		case frameLoop:
			if target == f.header {
				return f.continueLabel, true
			}
			if _, ok := f.exitIndex[target]; ok {
				if f.selStore {
					return 0, false
				}
				return f.mergeLabel, true
			}
		case frameSelect:
			if target == f.mergeBlock {
				return f.mergeLabel, true
			}
		}
	}
	return s.labelFor(target), true
}

// frameResolves reports whether some open construct already claims b
// as a boundary. A selection whose merge block is claimed must route
// through a fresh local label instead of sharing the outer one.
func (s *lowerer) frameResolves(b mir.BlockID) bool {
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := &s.frames[i]
		switch f.kind {
		case frameLoop:
			if b == f.header {
				return true
			}
			if _, ok := f.exitIndex[b]; ok {
				return true
			}
		case frameSelect:
			if b == f.mergeBlock {
				return true
			}
		}
	}
	return false
}

// trampoline is a pending stub block for a conditional-branch edge
// whose resolution needs code before leaving.
type trampoline struct {
	label  uint32
	target mir.BlockID
}

// armEntry returns the label a selection arm's edge branches to: the
// first block of a walked arm, or the resolved target of a bare edge.
func (s *lowerer) armEntry(arm *cfg.Sequence, target mir.BlockID, pending *[]trampoline) uint32 {
	if arm != nil {
		return s.firstLabel(arm)
	}
	if l, ok := s.directTarget(target); ok {
		return l
	}
	l := s.newID()
	*pending = append(*pending, trampoline{label: l, target: target})
	return l
}

func (s *lowerer) flush(pending []trampoline) {
	for _, t := range pending {
		s.openBlock(t.label)
		s.branchTo(t.target)
	}
}

// firstLabel returns the label the first region of seq will open.
// Inner switch links have no block of their own and get a synthetic
// entry label, remembered for when the link is emitted.
func (s *lowerer) firstLabel(seq *cfg.Sequence) uint32 {
	r := seq.Regions[0]
	for {
		switch x := r.(type) {
		case cfg.Leaf:
			return s.labelFor(x.Block)
		case *cfg.If:
			if x.HeadCode {
				return s.labelFor(x.Head)
			}
			l, ok := s.chainEntry[x]
			if !ok {
				l = s.newID()
				s.chainEntry[x] = l
			}
			return l
		case *cfg.LoopRegion:
			return s.labelFor(x.Header)
		case *cfg.Sequence:
			r = x.Regions[0]
		}
	}
}

func (s *lowerer) emitSeq(seq *cfg.Sequence) error {
	for _, r := range seq.Regions {
		if err := s.emitRegion(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *lowerer) emitRegion(r cfg.Region) error {
	switch x := r.(type) {
	case cfg.Leaf:
		return s.emitLeaf(x.Block)
	case *cfg.If:
		return s.emitIf(x)
	case *cfg.LoopRegion:
		return s.emitLoop(x)
	case *cfg.Sequence:
		return s.emitSeq(x)
	}
	return s.internalf("unknown region shape %T", r)
}

func (s *lowerer) emitLeaf(b mir.BlockID) error {
	s.openBlock(s.labelFor(b))
	if err := s.blockCode(b); err != nil {
		return err
	}
	switch t := s.fn.Blocks[b].Term.(type) {
	case mir.Branch:
		s.branchTo(t.Target)
	case mir.Return:
		if t.Value != nil {
			s.emit(Ins(OpReturnValue, s.operand(*t.Value)))
		} else {
			s.emit(Ins(OpReturn))
		}
	case mir.Unreachable:
		s.emit(Ins(OpUnreachable))
	case mir.Switch:
		// every case folded into the default
		s.branchTo(t.Default)
	default:
		return s.internalf("block %d ends a straight-line region with %T", b, t)
	}
	return nil
}

func (s *lowerer) emitIf(n *cfg.If) error {
	if n.HeadCode {
		s.openBlock(s.labelFor(n.Head))
		if err := s.blockCode(n.Head); err != nil {
			return err
		}
	} else {
		l, ok := s.chainEntry[n]
		if !ok {
			return s.internalf("switch link for block %d has no entry edge", n.Head)
		}
		s.openBlock(l)
	}
	cond := s.condition(n)

	// A merge block an enclosing construct already claims cannot serve
	// as this selection's merge; a fresh local label keeps the nesting
	// legal and the closing branch hops outward from it.
	synthetic := n.Merge == mir.NoBlock || s.frameResolves(n.Merge)
	var ml uint32
	if synthetic {
		ml = s.newID()
	} else {
		ml = s.labelFor(n.Merge)
	}
	s.frames = append(s.frames, frame{kind: frameSelect, mergeBlock: n.Merge, mergeLabel: ml})
	var pending []trampoline
	thenL := s.armEntry(n.Then, n.ThenTarget, &pending)
	elseL := s.armEntry(n.Else, n.ElseTarget, &pending)
	s.emit(Ins(OpSelectionMerge, Value(ml), Word(uint32(SelectionControlNone))))
	s.emit(Ins(OpBranchConditional, cond, Value(thenL), Value(elseL)))
	s.flush(pending)
	if n.Then != nil {
		if err := s.emitSeq(n.Then); err != nil {
			return err
		}
	}
	if n.Else != nil {
		if err := s.emitSeq(n.Else); err != nil {
			return err
		}
	}
	s.frames = s.frames[:len(s.frames)-1]
	if synthetic {
		s.openBlock(ml)
		if n.Merge != mir.NoBlock {
			s.branchTo(n.Merge)
		}
		// with no converging arm the label stays unterminated; the
		// legalizer caps it
	}
	return nil
}

// condition returns the boolean steering an If: the condition value
// itself, or for a switch link an equality chain over the case
// literals, emitted into the open block.
func (s *lowerer) condition(n *cfg.If) Operand {
	if n.Cases == nil {
		return s.operand(n.Cond)
	}
	selT := s.valueType(n.Cond)
	boolT := s.boolType()
	sel := s.operand(n.Cond)
	var acc uint32
	for i, lit := range n.Cases {
		c := s.prog.Consts.Scalar(selT, lit)
		cmp := s.newID()
		s.emit(Ins(OpIEqual, TypeRef(boolT), Value(cmp), sel, ConstRef(c)))
		if i == 0 {
			acc = cmp
			continue
		}
		or := s.newID()
		s.emit(Ins(OpLogicalOr, TypeRef(boolT), Value(or), Value(acc), Value(cmp)))
		acc = or
	}
	return Value(acc)
}

func (s *lowerer) emitLoop(n *cfg.LoopRegion) error {
	hl := s.labelFor(n.Header)
	bodyL := s.newID()
	cl := s.newID()
	ml := s.newID()

	// Preamble block: the merge declaration and nothing else. The
	// header's code runs in the body's first block, so back edges and
	// the entry edge meet only here.
	s.openBlock(hl)
	s.emit(Ins(OpLoopMerge, Value(ml), Value(cl), Word(uint32(LoopControlNone))))
	s.emit(Ins(OpBranch, Value(bodyL)))

	saved := s.labels[n.Header]
	s.labels[n.Header] = bodyL
	f := frame{
		kind:          frameLoop,
		header:        n.Header,
		continueLabel: cl,
		mergeLabel:    ml,
		exitIndex:     make(map[mir.BlockID]int, len(n.Exits)),
		selStore:      len(n.Exits) > 1,
	}
	for i, e := range n.Exits {
		f.exitIndex[e.Target] = i
	}
	s.frames = append(s.frames, f)
	err := s.emitSeq(n.Body)
	s.frames = s.frames[:len(s.frames)-1]
	s.labels[n.Header] = saved
	if err != nil {
		return err
	}

	s.openBlock(cl)
	s.emit(Ins(OpBranch, Value(hl)))

	s.openBlock(ml)
	switch {
	case len(n.Exits) == 0:
		// infinite loop; the merge label stays unterminated and the
		// legalizer caps it
		return nil
	case len(n.Exits) == 1:
		s.branchTo(n.Exits[0].Target)
		return nil
	default:
		u32 := s.u32Type()
		sel := s.newID()
		s.emit(Ins(OpLoad, TypeRef(u32), Value(sel), Value(s.selVar)))
		return s.dispatchLink(n, 0, sel)
	}
}

// dispatchLink emits one link of the post-loop dispatch chain: a test
// of the stored exit index steering into that exit's arm, with the
// remaining links nested in its else edge. Every link's local merge
// branches to the enclosing link's, and the outermost resolves the
// loop's continuation.
func (s *lowerer) dispatchLink(n *cfg.LoopRegion, i int, sel uint32) error {
	e := n.Exits[i]
	if i == len(n.Exits)-1 {
		// the last arm runs straight off the preceding failed test
		if e.Arm == nil {
			s.branchTo(e.Target)
			return nil
		}
		s.emit(Ins(OpBranch, Value(s.firstLabel(e.Arm))))
		return s.emitSeq(e.Arm)
	}
	boolT := s.boolType()
	c := s.prog.Consts.Scalar(s.u32Type(), uint64(i))
	cmp := s.newID()
	s.emit(Ins(OpIEqual, TypeRef(boolT), Value(cmp), Value(sel), ConstRef(c)))
	ml := s.newID()
	elseL := s.newID()
	s.frames = append(s.frames, frame{kind: frameSelect, mergeBlock: n.Continuation, mergeLabel: ml})
	var pending []trampoline
	armL := s.armEntry(e.Arm, e.Target, &pending)
	s.emit(Ins(OpSelectionMerge, Value(ml), Word(uint32(SelectionControlNone))))
	s.emit(Ins(OpBranchConditional, Value(cmp), Value(armL), Value(elseL)))
	s.flush(pending)
	if e.Arm != nil {
		if err := s.emitSeq(e.Arm); err != nil {
			return err
		}
	}
	s.openBlock(elseL)
	if err := s.dispatchLink(n, i+1, sel); err != nil {
		return err
	}
	s.frames = s.frames[:len(s.frames)-1]
	s.openBlock(ml)
	if n.Continuation != mir.NoBlock {
		s.branchTo(n.Continuation)
	}
	return nil
}

func (s *lowerer) blockCode(b mir.BlockID) error {
	for _, v := range s.fn.Blocks[b].Code {
		if err := s.lowerValue(v); err != nil {
			return err
		}
	}
	return nil
}

// operand resolves a value reference. Pure references read their
// source directly; computed values read the virtual id assigned at
// their definition.
func (s *lowerer) operand(v mir.ValueID) Operand {
	switch k := s.fn.Instr(v).Kind.(type) {
	case mir.ConstRef:
		return ConstRef(k.Const)
	case mir.GlobalAddr:
		return GlobalRef(k.Global)
	case mir.ParamRef:
		return Value(s.params[k.Index])
	case mir.LocalAddr:
		return Value(s.locals[k.Local])
	default:
		return Value(s.vals[v])
	}
}

func (s *lowerer) define(v mir.ValueID) uint32 {
	id := s.newID()
	s.vals[v] = id
	return id
}

func (s *lowerer) lowerValue(v mir.ValueID) error {
	in := s.fn.Instr(v)
	if in.Span.IsValid() {
		s.spanHint = in.Span
	}
	switch k := in.Kind.(type) {
	case mir.ConstRef, mir.ParamRef, mir.LocalAddr, mir.GlobalAddr:
		// pure references, resolved at each use
		return nil
	case mir.Binary:
		return s.lowerBinary(v, in, k)
	case mir.Unary:
		return s.lowerUnary(v, in, k)
	case mir.Compose:
		ops := make([]Operand, 0, len(k.Args)+2)
		ops = append(ops, TypeRef(in.Type), Value(s.define(v)))
		for _, a := range k.Args {
			ops = append(ops, s.operand(a))
		}
		s.emit(Ins(OpCompositeConstruct, ops...))
		return nil
	case mir.Extract:
		s.emit(Ins(OpCompositeExtract, TypeRef(in.Type), Value(s.define(v)),
			s.operand(k.Base), Word(k.Index)))
		return nil
	case mir.Index:
		return s.lowerIndex(v, in, k)
	case mir.Load:
		s.emit(Ins(OpLoad, TypeRef(in.Type), Value(s.define(v)), s.operand(k.Ptr)))
		return nil
	case mir.Store:
		s.emit(Ins(OpStore, s.operand(k.Ptr), s.operand(k.Value)))
		return nil
	case mir.Call:
		ops := make([]Operand, 0, len(k.Args)+3)
		ops = append(ops, TypeRef(in.Type), Value(s.define(v)), FuncRef(k.Symbol))
		sig := mir.FuncType{Params: make([]mir.TypeID, len(k.Args)), Result: in.Type}
		for i, a := range k.Args {
			ops = append(ops, s.operand(a))
			sig.Params[i] = s.valueType(a)
		}
		s.emit(Ins(OpFunctionCall, ops...))
		s.calls = append(s.calls, CallSite{
			Symbol: k.Symbol,
			Sig:    s.prog.Types.Intern(sig),
			Span:   in.Span,
		})
		return nil
	case mir.Intrinsic:
		return s.lowerIntrinsic(v, in, k)
	case mir.Convert:
		return s.lowerConvert(v, in, k)
	case mir.Bitcast:
		return s.lowerBitcast(v, in, k)
	case mir.Select:
		s.emit(Ins(OpSelect, TypeRef(in.Type), Value(s.define(v)),
			s.operand(k.Cond), s.operand(k.Then), s.operand(k.Else)))
		return nil
	case mir.ArrayLength:
		s.emit(Ins(OpArrayLength, TypeRef(in.Type), Value(s.define(v)),
			s.operand(k.Ptr), Word(k.Member)))
		return nil
	default:
		return s.internalf("instruction %d has unhandled kind %T", v, in.Kind)
	}
}

func (s *lowerer) lowerBinary(v mir.ValueID, in *mir.Instr, k mir.Binary) error {
	lt := s.valueType(k.LHS)
	lhs, rhs := s.operand(k.LHS), s.operand(k.RHS)
	var op OpCode
	if k.Op == mir.OpMul {
		var swap bool
		op, swap = s.mulOpcode(lt, s.valueType(k.RHS))
		if swap {
			lhs, rhs = rhs, lhs
		}
	} else {
		kind, ok := s.scalarKind(lt)
		if !ok {
			return s.internalf("operator %s applied to non-numeric operands", k.Op)
		}
		op, ok = binaryOpcode(k.Op, kind)
		if !ok {
			return s.internalf("operator %s has no form for %s operands", k.Op, kind)
		}
	}
	s.emit(Ins(op, TypeRef(in.Type), Value(s.define(v)), lhs, rhs))
	return nil
}

// binaryOpcode selects the opcode for a homogeneous binary operation.
// Comparisons pick signedness from the operands, not the boolean
// result.
func binaryOpcode(op mir.BinaryOp, kind mir.ScalarKind) (OpCode, bool) {
	f := kind == mir.ScalarKindFloat
	b := kind == mir.ScalarKindBool
	signed := kind == mir.ScalarKindSint
	switch op {
	case mir.OpAdd:
		if f {
			return OpFAdd, true
		}
		return OpIAdd, true
	case mir.OpSub:
		if f {
			return OpFSub, true
		}
		return OpISub, true
	case mir.OpDiv:
		switch {
		case f:
			return OpFDiv, true
		case signed:
			return OpSDiv, true
		default:
			return OpUDiv, true
		}
	case mir.OpRem:
		switch {
		case f:
			return OpFRem, true
		case signed:
			return OpSRem, true
		default:
			return OpUMod, true
		}
	case mir.OpAnd:
		if b {
			return OpLogicalAnd, true
		}
		return OpBitwiseAnd, true
	case mir.OpOr:
		if b {
			return OpLogicalOr, true
		}
		return OpBitwiseOr, true
	case mir.OpXor:
		if b {
			return OpLogicalNotEqual, true
		}
		return OpBitwiseXor, true
	case mir.OpShiftLeft:
		if f || b {
			return 0, false
		}
		return OpShiftLeftLogical, true
	case mir.OpShiftRight:
		if f || b {
			return 0, false
		}
		if signed {
			return OpShiftRightArithmetic, true
		}
		return OpShiftRightLogical, true
	case mir.OpEqual:
		switch {
		case b:
			return OpLogicalEqual, true
		case f:
			return OpFOrdEqual, true
		default:
			return OpIEqual, true
		}
	case mir.OpNotEqual:
		switch {
		case b:
			return OpLogicalNotEqual, true
		case f:
			return OpFOrdNotEqual, true
		default:
			return OpINotEqual, true
		}
	case mir.OpLess:
		switch {
		case f:
			return OpFOrdLessThan, true
		case signed:
			return OpSLessThan, true
		default:
			return OpULessThan, true
		}
	case mir.OpLessEqual:
		switch {
		case f:
			return OpFOrdLessThanEqual, true
		case signed:
			return OpSLessThanEqual, true
		default:
			return OpULessThanEqual, true
		}
	case mir.OpGreater:
		switch {
		case f:
			return OpFOrdGreaterThan, true
		case signed:
			return OpSGreaterThan, true
		default:
			return OpUGreaterThan, true
		}
	case mir.OpGreaterEqual:
		switch {
		case f:
			return OpFOrdGreaterThanEqual, true
		case signed:
			return OpSGreaterThanEqual, true
		default:
			return OpUGreaterThanEqual, true
		}
	case mir.OpLogicalAnd:
		return OpLogicalAnd, true
	case mir.OpLogicalOr:
		return OpLogicalOr, true
	}
	return 0, false
}

type shapeKind uint8

const (
	shapeScalar shapeKind = iota
	shapeVector
	shapeMatrix
)

func (s *lowerer) shape(t mir.TypeID) shapeKind {
	switch s.prog.Types.Get(t).(type) {
	case mir.Vector:
		return shapeVector
	case mir.Matrix:
		return shapeMatrix
	default:
		return shapeScalar
	}
}

// mulOpcode dispatches multiplication on the operand shapes. The
// scalar-times-composite forms put the composite first, so a scalar
// left operand reports swap.
func (s *lowerer) mulOpcode(lt, rt mir.TypeID) (op OpCode, swap bool) {
	ls, rs := s.shape(lt), s.shape(rt)
	switch {
	case ls == shapeMatrix && rs == shapeMatrix:
		return OpMatrixTimesMatrix, false
	case ls == shapeMatrix && rs == shapeVector:
		return OpMatrixTimesVector, false
	case ls == shapeVector && rs == shapeMatrix:
		return OpVectorTimesMatrix, false
	case ls == shapeMatrix:
		return OpMatrixTimesScalar, false
	case rs == shapeMatrix:
		return OpMatrixTimesScalar, true
	case ls == shapeVector && rs == shapeScalar:
		return OpVectorTimesScalar, false
	case ls == shapeScalar && rs == shapeVector:
		return OpVectorTimesScalar, true
	default:
		if kind, _ := s.scalarKind(lt); kind == mir.ScalarKindFloat {
			return OpFMul, false
		}
		return OpIMul, false
	}
}

func (s *lowerer) lowerUnary(v mir.ValueID, in *mir.Instr, k mir.Unary) error {
	var op OpCode
	switch k.Op {
	case mir.OpNegate:
		if kind, _ := s.scalarKind(s.valueType(k.X)); kind == mir.ScalarKindFloat {
			op = OpFNegate
		} else {
			op = OpSNegate
		}
	case mir.OpLogicalNot:
		op = OpLogicalNot
	case mir.OpBitNot:
		op = OpNot
	default:
		return s.internalf("unary operator %d has no lowering", k.Op)
	}
	s.emit(Ins(op, TypeRef(in.Type), Value(s.define(v)), s.operand(k.X)))
	return nil
}

func (s *lowerer) lowerIndex(v mir.ValueID, in *mir.Instr, k mir.Index) error {
	base, ok := s.prog.Types.Get(s.valueType(k.Base)).(mir.Pointer)
	if !ok {
		return s.internalf("index base of value %d is not a pointer", v)
	}
	res, ok := s.prog.Types.Get(in.Type).(mir.Pointer)
	if !ok {
		return s.internalf("index result of value %d is not a pointer", v)
	}
	if res.Class != base.Class {
		return &InvalidStorageClassError{
			Function: s.fn.Symbol,
			Base:     base.Class,
			Result:   res.Class,
			Span:     s.spanHint,
		}
	}
	s.emit(Ins(OpAccessChain, TypeRef(in.Type), Value(s.define(v)),
		s.operand(k.Base), s.operand(k.Index)))
	return nil
}

func (s *lowerer) lowerBitcast(v mir.ValueID, in *mir.Instr, k mir.Bitcast) error {
	if base, ok := s.prog.Types.Get(s.valueType(k.X)).(mir.Pointer); ok {
		if res, ok := s.prog.Types.Get(in.Type).(mir.Pointer); ok && res.Class != base.Class {
			return &InvalidStorageClassError{
				Function: s.fn.Symbol,
				Base:     base.Class,
				Result:   res.Class,
				Span:     s.spanHint,
			}
		}
	}
	s.emit(Ins(OpBitcast, TypeRef(in.Type), Value(s.define(v)), s.operand(k.X)))
	return nil
}

func (s *lowerer) lowerIntrinsic(v mir.ValueID, in *mir.Instr, k mir.Intrinsic) error {
	rec, ok := lookupIntrinsic(k.Name, len(k.Args))
	if !ok {
		return s.internalf("unknown intrinsic %q with %d arguments", k.Name, len(k.Args))
	}
	var kind mir.ScalarKind
	if len(k.Args) > 0 {
		kind, _ = s.scalarKind(s.valueType(k.Args[0]))
	}
	core, ext, ok := rec.pick(kind)
	if !ok {
		return s.internalf("intrinsic %q has no form for %s operands", k.Name, kind)
	}
	if core != 0 {
		ops := make([]Operand, 0, len(k.Args)+2)
		ops = append(ops, TypeRef(in.Type), Value(s.define(v)))
		for _, a := range k.Args {
			ops = append(ops, s.operand(a))
		}
		s.emit(Ins(core, ops...))
		return nil
	}
	ops := make([]Operand, 0, len(k.Args)+4)
	ops = append(ops, TypeRef(in.Type), Value(s.define(v)), ExtImportRef(), Word(uint32(ext)))
	for _, a := range k.Args {
		ops = append(ops, s.operand(a))
	}
	s.emit(Ins(OpExtInst, ops...))
	return nil
}

func (s *lowerer) lowerConvert(v mir.ValueID, in *mir.Instr, k mir.Convert) error {
	from := s.valueType(k.X)
	fk, ok1 := s.scalarKind(from)
	tk, ok2 := s.scalarKind(in.Type)
	if !ok1 || !ok2 {
		return s.internalf("conversion of value %d is not between numeric types", v)
	}

	// Booleans have no numeric representation; select between typed
	// one and zero going out, compare against zero coming in.
	if fk == mir.ScalarKindBool {
		one := uint64(1)
		if tk == mir.ScalarKindFloat {
			one = floatOneBits(s.scalarWidth(in.Type))
		}
		s.emit(Ins(OpSelect, TypeRef(in.Type), Value(s.define(v)), s.operand(k.X),
			ConstRef(s.splat(in.Type, one)), ConstRef(s.splat(in.Type, 0))))
		return nil
	}
	if tk == mir.ScalarKindBool {
		op := OpINotEqual
		if fk == mir.ScalarKindFloat {
			op = OpFOrdNotEqual
		}
		s.emit(Ins(op, TypeRef(in.Type), Value(s.define(v)), s.operand(k.X),
			ConstRef(s.splat(from, 0))))
		return nil
	}

	var op OpCode
	switch {
	case fk == mir.ScalarKindFloat && tk == mir.ScalarKindFloat:
		op = OpFConvert
	case fk == mir.ScalarKindFloat && tk == mir.ScalarKindSint:
		op = OpConvertFToS
	case fk == mir.ScalarKindFloat && tk == mir.ScalarKindUint:
		op = OpConvertFToU
	case fk == mir.ScalarKindSint && tk == mir.ScalarKindFloat:
		op = OpConvertSToF
	case fk == mir.ScalarKindUint && tk == mir.ScalarKindFloat:
		op = OpConvertUToF
	case fk == mir.ScalarKindSint && tk == mir.ScalarKindSint:
		op = OpSConvert
	case fk == mir.ScalarKindUint && tk == mir.ScalarKindUint:
		op = OpUConvert
	case s.scalarWidth(from) == s.scalarWidth(in.Type):
		// signedness reinterpretation at equal width
		op = OpBitcast
	case fk == mir.ScalarKindSint:
		// width and signedness both change; extend with the source's
		// signedness
		op = OpSConvert
	default:
		op = OpUConvert
	}
	s.emit(Ins(op, TypeRef(in.Type), Value(s.define(v)), s.operand(k.X)))
	return nil
}

// splat interns the scalar constant bits at t, broadcast across t's
// components when t is a vector.
func (s *lowerer) splat(t mir.TypeID, bits uint64) mir.ConstID {
	if vec, ok := s.prog.Types.Get(t).(mir.Vector); ok {
		e := s.prog.Consts.Scalar(vec.Elem, bits)
		elems := make([]mir.ConstID, vec.Size)
		for i := range elems {
			elems[i] = e
		}
		return s.prog.Consts.Composite(t, elems)
	}
	return s.prog.Consts.Scalar(t, bits)
}

func floatOneBits(width uint8) uint64 {
	switch width {
	case 8:
		return math.Float64bits(1)
	case 2:
		return 0x3C00
	default:
		return uint64(math.Float32bits(1))
	}
}

func (s *lowerer) valueType(v mir.ValueID) mir.TypeID {
	return s.fn.Instr(v).Type
}

// scalarKind resolves the element kind of a scalar, vector, or matrix
// type.
func (s *lowerer) scalarKind(t mir.TypeID) (mir.ScalarKind, bool) {
	for {
		switch d := s.prog.Types.Get(t).(type) {
		case mir.Scalar:
			return d.Kind, true
		case mir.Vector:
			t = d.Elem
		case mir.Matrix:
			t = d.Column
		default:
			return 0, false
		}
	}
}

func (s *lowerer) scalarWidth(t mir.TypeID) uint8 {
	for {
		switch d := s.prog.Types.Get(t).(type) {
		case mir.Scalar:
			return d.Width
		case mir.Vector:
			t = d.Elem
		case mir.Matrix:
			t = d.Column
		default:
			return 0
		}
	}
}

func (s *lowerer) boolType() mir.TypeID {
	return s.prog.Types.Intern(mir.Scalar{Kind: mir.ScalarKindBool, Width: 1})
}

func (s *lowerer) u32Type() mir.TypeID {
	return s.prog.Types.Intern(mir.Scalar{Kind: mir.ScalarKindUint, Width: 4})
}
