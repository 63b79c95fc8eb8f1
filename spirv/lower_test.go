package spirv

import (
	"errors"
	"testing"

	"github.com/gogpu/spvgen/cfg"
	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/mir"
)

func lowered(t *testing.T, prog *mir.Program, fn *mir.Function) *FuncCode {
	t.Helper()
	plan, err := cfg.Structurize(fn)
	if err != nil {
		t.Fatalf("Structurize: %v", err)
	}
	code, err := LowerFunction(prog, plan)
	if err != nil {
		t.Fatalf("LowerFunction: %v", err)
	}
	return code
}

func opSeq(code []Instruction) []OpCode {
	out := make([]OpCode, len(code))
	for i, in := range code {
		out[i] = in.Opcode
	}
	return out
}

func countOp(code []Instruction, op OpCode) int {
	n := 0
	for _, in := range code {
		if in.Opcode == op {
			n++
		}
	}
	return n
}

func findOp(t *testing.T, code []Instruction, op OpCode) Instruction {
	t.Helper()
	for _, in := range code {
		if in.Opcode == op {
			return in
		}
	}
	t.Fatalf("no %s in lowered code", op)
	return Instruction{}
}

func wantSeq(t *testing.T, got []OpCode, want []OpCode) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("opcode count = %d, want %d\ngot %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("opcode[%d] = %s, want %s\ngot %v", i, got[i], want[i], got)
		}
	}
}

func TestLowerFunction_StraightLine(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "main")
	b.Block()
	b.At(0).Return()
	code := lowered(t, prog, b.Finish())

	wantSeq(t, opSeq(code.Code), []OpCode{
		OpFunction, OpLabel, OpBranch, OpLabel, OpReturn, OpFunctionEnd,
	})
	if code.Symbol != "main" || code.Export {
		t.Errorf("linkage = (%q, %v), want (main, false)", code.Symbol, code.Export)
	}
	if code.Bound != 3 {
		t.Errorf("Bound = %d, want 3", code.Bound)
	}
}

func TestLowerFunction_ParamsAndLocals(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "accumulate")
	u32 := b.TypeU32()
	b.SetResult(u32)
	p := b.Param("x", u32)
	init := prog.Consts.Scalar(u32, 5)
	l := b.LocalInit("acc", u32, init)
	b.Block()
	b.At(0)
	addr := b.LocalAddr(l)
	v := b.Load(u32, addr)
	px := b.ParamValue(p)
	sum := b.Binary(mir.OpAdd, u32, v, px)
	b.Store(addr, sum)
	b.ReturnValue(sum)
	code := lowered(t, prog, b.Finish())

	wantSeq(t, opSeq(code.Code), []OpCode{
		OpFunction, OpFunctionParameter, OpLabel, OpVariable, OpBranch,
		OpLabel, OpLoad, OpIAdd, OpStore, OpReturnValue, OpFunctionEnd,
	})
	va := findOp(t, code.Code, OpVariable)
	if len(va.Operands) != 4 || va.Operands[3].Kind != OperandConst {
		t.Errorf("local variable missing constant initializer: %v", va.Operands)
	}
	if cls := va.Operands[2].Word; cls != uint32(StorageClassFunction) {
		t.Errorf("local storage class word = %d, want %d", cls, StorageClassFunction)
	}
	// the parameter takes the first virtual id
	add := findOp(t, code.Code, OpIAdd)
	if add.Operands[3].Word != 1 {
		t.Errorf("add rhs = %%%d, want the parameter id %%1", add.Operands[3].Word)
	}
}

func TestLowerFunction_IfElseMerge(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "pick")
	head := b.Block()
	then := b.Block()
	els := b.Block()
	merge := b.Block()
	b.At(head)
	c := b.Bool(true)
	b.CondBranch(c, then, els)
	b.At(then).Branch(merge)
	b.At(els).Branch(merge)
	b.At(merge).Return()
	code := lowered(t, prog, b.Finish())

	wantSeq(t, opSeq(code.Code), []OpCode{
		OpFunction, OpLabel, OpBranch,
		OpLabel, OpSelectionMerge, OpBranchConditional,
		OpLabel, OpBranch,
		OpLabel, OpBranch,
		OpLabel, OpReturn, OpFunctionEnd,
	})
	_ = c

	// the declared merge is the label that closes the selection
	sm := findOp(t, code.Code, OpSelectionMerge)
	var ret int
	for i, in := range code.Code {
		if in.Opcode == OpReturn {
			ret = i
		}
	}
	mergeLabel := code.Code[ret-1]
	if mergeLabel.Opcode != OpLabel || mergeLabel.Operands[0].Word != sm.Operands[0].Word {
		t.Errorf("merge declaration %%%d does not match closing label %v",
			sm.Operands[0].Word, mergeLabel.Operands)
	}
	// both arms branch to the merge
	for i, in := range code.Code {
		if in.Opcode == OpBranch && i > 5 && i < ret-1 {
			if in.Operands[0].Word != sm.Operands[0].Word {
				t.Errorf("arm branch targets %%%d, want merge %%%d",
					in.Operands[0].Word, sm.Operands[0].Word)
			}
		}
	}
}

func TestLowerFunction_WhileLoop(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "spin")
	head := b.Block()
	body := b.Block()
	exit := b.Block()
	b.At(head)
	c := b.Bool(true)
	b.CondBranch(c, body, exit)
	b.At(body).Branch(head)
	b.At(exit).Return()
	_ = c
	code := lowered(t, prog, b.Finish())

	if n := countOp(code.Code, OpLoopMerge); n != 1 {
		t.Fatalf("OpLoopMerge count = %d, want 1", n)
	}
	if n := countOp(code.Code, OpVariable); n != 0 {
		t.Errorf("single-exit loop allocated %d variables, want 0", n)
	}

	var hl, cl, ml uint32
	for i, in := range code.Code {
		if in.Opcode == OpLoopMerge {
			ml, cl = in.Operands[0].Word, in.Operands[1].Word
			prev := code.Code[i-1]
			if prev.Opcode != OpLabel {
				t.Fatalf("merge declaration not at head of its block")
			}
			hl = prev.Operands[0].Word
			if next := code.Code[i+1]; next.Opcode != OpBranch {
				t.Fatalf("header block holds more than the merge declaration: %s", next.Opcode)
			}
		}
	}
	// the continue block branches straight back to the header
	for i, in := range code.Code {
		if in.Opcode == OpLabel && in.Operands[0].Word == cl {
			back := code.Code[i+1]
			if back.Opcode != OpBranch || back.Operands[0].Word != hl {
				t.Errorf("continue block ends with %v, want branch to %%%d", back, hl)
			}
		}
		if in.Opcode == OpLabel && in.Operands[0].Word == ml {
			out := code.Code[i+1]
			if out.Opcode != OpBranch {
				t.Errorf("merge block ends with %s, want a branch to the exit", out.Opcode)
			}
		}
	}
}

func TestLowerFunction_TwoExitLoopDispatch(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "scan")
	head := b.Block()
	body := b.Block()
	broke := b.Block()
	natural := b.Block()
	after := b.Block()
	b.At(head)
	c := b.Bool(true)
	b.CondBranch(c, body, natural)
	b.At(body)
	c2 := b.Bool(false)
	b.CondBranch(c2, broke, head)
	b.At(broke).Branch(after)
	b.At(natural).Branch(after)
	b.At(after).Return()
	_, _ = c, c2
	code := lowered(t, prog, b.Finish())

	// one selector variable, one store per leaving path, one load for
	// the dispatch
	if n := countOp(code.Code, OpVariable); n != 1 {
		t.Fatalf("OpVariable count = %d, want the exit selector only", n)
	}
	if n := countOp(code.Code, OpStore); n != 2 {
		t.Errorf("OpStore count = %d, want 2", n)
	}
	if n := countOp(code.Code, OpLoad); n != 1 {
		t.Errorf("OpLoad count = %d, want 1", n)
	}
	if n := countOp(code.Code, OpIEqual); n != 1 {
		t.Errorf("OpIEqual count = %d, want one dispatch test", n)
	}

	selVar := findOp(t, code.Code, OpVariable).Operands[1].Word
	seen := map[uint32]bool{}
	for _, in := range code.Code {
		if in.Opcode != OpStore {
			continue
		}
		if in.Operands[0].Word != selVar {
			t.Errorf("store writes %%%d, want selector %%%d", in.Operands[0].Word, selVar)
		}
		if in.Operands[1].Kind != OperandConst {
			t.Errorf("selector store operand kind = %d, want constant", in.Operands[1].Kind)
		}
		seen[in.Operands[1].Word] = true
	}
	if len(seen) != 2 {
		t.Errorf("exit paths stored %d distinct indexes, want 2", len(seen))
	}
}

func TestLowerFunction_SwitchChain(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "dispatch")
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
	b.At(caseA).Branch(merge)
	b.At(caseB).Branch(merge)
	b.At(def).Branch(merge)
	b.At(merge).Return()
	code := lowered(t, prog, b.Finish())

	// first link tests {1,2}, second tests {3}
	if n := countOp(code.Code, OpIEqual); n != 3 {
		t.Errorf("OpIEqual count = %d, want 3", n)
	}
	if n := countOp(code.Code, OpLogicalOr); n != 1 {
		t.Errorf("OpLogicalOr count = %d, want 1", n)
	}
	if n := countOp(code.Code, OpSelectionMerge); n != 2 {
		t.Errorf("OpSelectionMerge count = %d, want one per link", n)
	}

	// the inner link's merge block hops outward to the shared merge
	var merges []uint32
	for _, in := range code.Code {
		if in.Opcode == OpSelectionMerge {
			merges = append(merges, in.Operands[0].Word)
		}
	}
	outer, inner := merges[0], merges[1]
	for i, in := range code.Code {
		if in.Opcode == OpLabel && in.Operands[0].Word == inner {
			hop := code.Code[i+1]
			if hop.Opcode != OpBranch || hop.Operands[0].Word != outer {
				t.Errorf("inner merge ends with %v, want branch to %%%d", hop, outer)
			}
		}
	}
}

func TestLowerFunction_StorageClassCrossing(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "oob")
	u32 := b.TypeU32()
	arr := prog.Types.Intern(mir.Array{Elem: u32, Count: 4, Stride: 4})
	l := b.Local("buf", arr)
	b.Block()
	b.At(0)
	b.SetSpan(diag.Span{File: "kernel.src", Line: 12, Col: 5})
	base := b.LocalAddr(l)
	bad := prog.Types.Intern(mir.Pointer{Pointee: u32, Class: mir.ClassPrivate})
	b.Index(bad, base, b.U32(0))
	b.Return()
	fn := b.Finish()

	plan, err := cfg.Structurize(fn)
	if err != nil {
		t.Fatalf("Structurize: %v", err)
	}
	_, err = LowerFunction(prog, plan)
	var cls *InvalidStorageClassError
	if !errors.As(err, &cls) {
		t.Fatalf("LowerFunction error = %v, want InvalidStorageClassError", err)
	}
	if cls.Base != mir.ClassFunction || cls.Result != mir.ClassPrivate {
		t.Errorf("classes = (%s, %s), want (function, private)", cls.Base, cls.Result)
	}
	if cls.DiagnosticClass() != diag.UserFacing {
		t.Errorf("DiagnosticClass = %v, want UserFacing", cls.DiagnosticClass())
	}
	if cls.Span.Line != 12 {
		t.Errorf("span = %v, want the indexing site", cls.Span)
	}
}

func TestLowerFunction_IntrinsicForms(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "mathy")
	f32 := b.TypeF32()
	i32 := b.TypeI32()
	v2 := prog.Types.Intern(mir.Vector{Size: 2, Elem: f32})
	b.Block()
	b.At(0)
	x := b.F32(2)
	s := b.Intrinsic(f32, "sqrt", x)
	b.Intrinsic(i32, "abs", b.I32(-3))
	vv := b.Compose(v2, x, s)
	b.Intrinsic(f32, "dot", vv, vv)
	b.Return()
	code := lowered(t, prog, b.Finish())

	var extOps []uint32
	for _, in := range code.Code {
		if in.Opcode != OpExtInst {
			continue
		}
		if in.Operands[2].Kind != OperandExtImport {
			t.Errorf("OpExtInst set operand kind = %d, want ext import", in.Operands[2].Kind)
		}
		extOps = append(extOps, in.Operands[3].Word)
	}
	want := []uint32{uint32(GLSLSqrt), uint32(GLSLSAbs)}
	if len(extOps) != len(want) {
		t.Fatalf("OpExtInst count = %d, want %d", len(extOps), len(want))
	}
	for i := range want {
		if extOps[i] != want[i] {
			t.Errorf("ext instruction[%d] = %d, want %d", i, extOps[i], want[i])
		}
	}
	if n := countOp(code.Code, OpDot); n != 1 {
		t.Errorf("OpDot count = %d, want 1", n)
	}
}

func TestLowerFunction_BoolConversions(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "casts")
	f32 := b.TypeF32()
	b.Block()
	b.At(0)
	c := b.Bool(true)
	f := b.Convert(f32, c)
	b.Convert(b.TypeBool(), f)
	b.Convert(b.TypeU32(), f)
	b.Return()
	code := lowered(t, prog, b.Finish())

	sel := findOp(t, code.Code, OpSelect)
	if sel.Operands[3].Kind != OperandConst || sel.Operands[4].Kind != OperandConst {
		t.Errorf("bool widening should select between constants: %v", sel.Operands)
	}
	if n := countOp(code.Code, OpFOrdNotEqual); n != 1 {
		t.Errorf("OpFOrdNotEqual count = %d, want 1", n)
	}
	if n := countOp(code.Code, OpConvertFToU); n != 1 {
		t.Errorf("OpConvertFToU count = %d, want 1", n)
	}
}

func TestLowerFunction_MulShapes(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "shapes")
	f32 := b.TypeF32()
	v2 := prog.Types.Intern(mir.Vector{Size: 2, Elem: f32})
	m2 := prog.Types.Intern(mir.Matrix{Cols: 2, Column: v2})
	b.Block()
	b.At(0)
	x := b.F32(3)
	vec := b.Compose(v2, x, x)
	col := b.Compose(v2, x, x)
	mat := b.Compose(m2, col, col)
	b.Binary(mir.OpMul, v2, vec, x)   // vector * scalar
	b.Binary(mir.OpMul, v2, x, vec)   // scalar * vector, operands swap
	b.Binary(mir.OpMul, v2, mat, vec) // matrix * vector
	b.Binary(mir.OpMul, m2, mat, mat) // matrix * matrix
	b.Binary(mir.OpMul, v2, vec, vec) // componentwise
	b.Return()
	code := lowered(t, prog, b.Finish())

	if n := countOp(code.Code, OpVectorTimesScalar); n != 2 {
		t.Errorf("OpVectorTimesScalar count = %d, want 2", n)
	}
	if n := countOp(code.Code, OpMatrixTimesVector); n != 1 {
		t.Errorf("OpMatrixTimesVector count = %d, want 1", n)
	}
	if n := countOp(code.Code, OpMatrixTimesMatrix); n != 1 {
		t.Errorf("OpMatrixTimesMatrix count = %d, want 1", n)
	}
	if n := countOp(code.Code, OpFMul); n != 1 {
		t.Errorf("OpFMul count = %d, want 1", n)
	}

	// the swapped form puts the vector first
	var vts []Instruction
	for _, in := range code.Code {
		if in.Opcode == OpVectorTimesScalar {
			vts = append(vts, in)
		}
	}
	if vts[0].Operands[2].Word != vts[1].Operands[2].Word {
		t.Errorf("swapped scalar*vector should lead with the vector: %v vs %v",
			vts[0].Operands, vts[1].Operands)
	}
}

func TestLowerFunction_ComparisonSignedness(t *testing.T) {
	prog := mir.NewProgram()
	b := mir.NewFuncBuilder(prog, "cmp")
	boolT := b.TypeBool()
	b.Block()
	b.At(0)
	u := b.U32(1)
	i := b.I32(1)
	f := b.F32(1)
	b.Binary(mir.OpLess, boolT, u, u)
	b.Binary(mir.OpLess, boolT, i, i)
	b.Binary(mir.OpLess, boolT, f, f)
	b.Binary(mir.OpShiftRight, b.TypeU32(), u, u)
	b.Binary(mir.OpShiftRight, b.TypeI32(), i, i)
	b.Return()
	code := lowered(t, prog, b.Finish())

	for _, want := range []OpCode{
		OpULessThan, OpSLessThan, OpFOrdLessThan,
		OpShiftRightLogical, OpShiftRightArithmetic,
	} {
		if n := countOp(code.Code, want); n != 1 {
			t.Errorf("%s count = %d, want 1", want, n)
		}
	}
}
