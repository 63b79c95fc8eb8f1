// Package legalize rewrites merged modules into the shape the target
// accepts. The passes are fixed, ordered, and total: dead blocks,
// dead functions, constant struct indexes, debug-name uniquification,
// merge-block repair. They run between symbol resolution and
// finalization.
package legalize

import (
	"fmt"

	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/link"
	"github.com/gogpu/spvgen/mir"
	"github.com/gogpu/spvgen/spirv"
)

// DynamicStructIndexError reports a struct field selected by a value
// computed at run time. Field selection must be constant; only array,
// vector, and matrix indexing may be dynamic.
type DynamicStructIndexError struct {
	Function string
	Struct   string // rendered struct type
	Span     diag.Span
}

func (e *DynamicStructIndexError) Error() string {
	return fmt.Sprintf("dynamic index into struct %s; field selection must be constant", e.Struct)
}

// DiagnosticClass marks the error recoverable.
func (e *DynamicStructIndexError) DiagnosticClass() diag.Class { return diag.UserFacing }

// DiagnosticSpan returns the offending access's span.
func (e *DynamicStructIndexError) DiagnosticSpan() diag.Span { return e.Span }

// Run applies the passes in order. Errors abort per function, never
// the whole set, so every offending function surfaces one failure.
// The returned diagnostics are rename warnings from uniquification.
func Run(set *link.Set) ([]diag.Diagnostic, []error) {
	prog := set.Program()
	for _, fc := range set.Functions() {
		deadBlocks(fc)
	}
	deadFunctions(set)
	var errs []error
	for _, fc := range set.Functions() {
		if err := constIndexes(prog, fc); err != nil {
			errs = append(errs, err)
		}
	}
	warns := uniquify(set)
	for _, fc := range set.Functions() {
		mergeRepair(fc)
	}
	return warns, errs
}

// span is one label-delimited block as an instruction range.
type span struct{ start, end int }

// blocks splits a function body into its preamble (OpFunction through
// the variables header's label) and label-delimited blocks. The block
// holding index start runs to the next label or OpFunctionEnd.
func blocks(code []spirv.Instruction) (pre int, spans []span) {
	pre = len(code)
	for i, in := range code {
		if in.Opcode == spirv.OpLabel {
			pre = i
			break
		}
	}
	start := -1
	for i := pre; i < len(code); i++ {
		switch code[i].Opcode {
		case spirv.OpLabel:
			if start >= 0 {
				spans = append(spans, span{start, i})
			}
			start = i
		case spirv.OpFunctionEnd:
			if start >= 0 {
				spans = append(spans, span{start, i})
				start = -1
			}
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(code)})
	}
	return pre, spans
}

func isTerminator(op spirv.OpCode) bool {
	switch op {
	case spirv.OpBranch, spirv.OpBranchConditional, spirv.OpSwitch,
		spirv.OpReturn, spirv.OpReturnValue, spirv.OpKill, spirv.OpUnreachable:
		return true
	}
	return false
}

// targets returns the label ids an instruction references: branch
// targets plus declared merge and continue blocks.
func targets(in spirv.Instruction) []uint32 {
	switch in.Opcode {
	case spirv.OpBranch:
		return []uint32{in.Operands[0].Word}
	case spirv.OpBranchConditional:
		return []uint32{in.Operands[1].Word, in.Operands[2].Word}
	case spirv.OpLoopMerge:
		return []uint32{in.Operands[0].Word, in.Operands[1].Word}
	case spirv.OpSelectionMerge:
		return []uint32{in.Operands[0].Word}
	}
	return nil
}

// deadBlocks drops blocks that are neither branched to nor declared
// as a merge or continue target, walking from the entry block.
func deadBlocks(fc *spirv.FuncCode) {
	pre, spans := blocks(fc.Code)
	if len(spans) < 2 {
		return
	}
	byLabel := make(map[uint32]int, len(spans))
	for i, sp := range spans {
		if ops := fc.Code[sp.start].Operands; len(ops) > 0 {
			byLabel[ops[0].Word] = i
		}
	}
	live := make([]bool, len(spans))
	live[0] = true
	queue := []int{0}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for i := spans[b].start; i < spans[b].end; i++ {
			for _, t := range targets(fc.Code[i]) {
				if j, ok := byLabel[t]; ok && !live[j] {
					live[j] = true
					queue = append(queue, j)
				}
			}
		}
	}
	all := true
	for _, l := range live {
		all = all && l
	}
	if all {
		return
	}
	out := append(make([]spirv.Instruction, 0, len(fc.Code)), fc.Code[:pre]...)
	for i, sp := range spans {
		if live[i] {
			out = append(out, fc.Code[sp.start:sp.end]...)
		}
	}
	out = append(out, fc.Code[spans[len(spans)-1].end:]...)
	fc.Code = out
}

// deadFunctions removes functions unreachable from the link roots.
// Their capability requirements drop out with them.
func deadFunctions(set *link.Set) {
	live := make(map[string]bool)
	queue := set.Roots()
	for _, fc := range queue {
		live[fc.Symbol] = true
	}
	for len(queue) > 0 {
		fc := queue[0]
		queue = queue[1:]
		for _, call := range fc.Calls {
			callee, ok := set.Lookup(call.Symbol)
			if !ok || live[callee.Symbol] {
				continue
			}
			live[callee.Symbol] = true
			queue = append(queue, callee)
		}
	}
	for _, fc := range set.Functions() {
		if !live[fc.Symbol] {
			set.Remove(fc.Symbol)
		}
	}
}

// constIndexes rewrites access chains stepping through a struct so
// the member index is a canonical constant reference. Index
// expressions whose whole definition is constant (bitcasts, width
// converts, integer arithmetic over constants) fold; anything else
// fails. The first failure aborts the function.
func constIndexes(prog *mir.Program, fc *spirv.FuncCode) error {
	defs := defSites(fc)
	for i := range fc.Code {
		in := &fc.Code[i]
		if in.Opcode != spirv.OpAccessChain || len(in.Operands) < 4 {
			continue
		}
		if err := checkChain(prog, fc, defs, in); err != nil {
			return err
		}
	}
	return nil
}

func checkChain(prog *mir.Program, fc *spirv.FuncCode, defs map[uint32]int, in *spirv.Instruction) error {
	cur, ok := pointeeType(prog, fc, defs, in.Operands[2])
	if !ok {
		return nil
	}
	for j := 3; j < len(in.Operands); j++ {
		switch d := prog.Types.Get(cur).(type) {
		case mir.Struct:
			member, err := structMember(prog, fc, defs, in, j, cur)
			if err != nil {
				return err
			}
			if int(member) >= len(d.Members) {
				ierr := diag.Internalf("struct index %d out of range for %s",
					member, prog.Types.Describe(cur))
				ierr.Function = fc.Symbol
				ierr.Span = in.Span
				return ierr
			}
			cur = d.Members[member].Type
		case mir.Array:
			cur = d.Elem
		case mir.Vector:
			cur = d.Elem
		case mir.Matrix:
			cur = d.Column
		default:
			return nil
		}
	}
	return nil
}

// structMember resolves one struct index operand, rewriting a
// foldable expression into its constant form in place.
func structMember(prog *mir.Program, fc *spirv.FuncCode, defs map[uint32]int, in *spirv.Instruction, j int, structType mir.TypeID) (uint64, error) {
	op := in.Operands[j]
	switch op.Kind {
	case spirv.OperandConst:
		return prog.Consts.Get(mir.ConstID(op.Word)).Bits, nil
	case spirv.OperandValue:
		if bits, t, ok := fold(prog, fc, defs, op.Word); ok {
			in.Operands[j] = spirv.ConstRef(prog.Consts.Scalar(t, bits))
			return bits, nil
		}
	}
	return 0, &DynamicStructIndexError{
		Function: fc.Symbol,
		Struct:   prog.Types.Describe(structType),
		Span:     in.Span,
	}
}

// defSites maps each virtual value to its defining instruction.
// Value-producing instructions in the lowered shape lead with the
// result type and result id.
func defSites(fc *spirv.FuncCode) map[uint32]int {
	defs := make(map[uint32]int)
	for i, in := range fc.Code {
		if len(in.Operands) >= 2 &&
			in.Operands[0].Kind == spirv.OperandType &&
			in.Operands[1].Kind == spirv.OperandValue {
			defs[in.Operands[1].Word] = i
		}
	}
	return defs
}

// pointeeType resolves the pointee type of an access-chain base.
func pointeeType(prog *mir.Program, fc *spirv.FuncCode, defs map[uint32]int, op spirv.Operand) (mir.TypeID, bool) {
	switch op.Kind {
	case spirv.OperandGlobal:
		g := int(op.Word)
		if g >= len(prog.Globals) {
			return 0, false
		}
		return prog.Globals[g].Type, true
	case spirv.OperandValue:
		idx, ok := defs[op.Word]
		if !ok {
			return 0, false
		}
		t := mir.TypeID(fc.Code[idx].Operands[0].Word)
		if ptr, ok := prog.Types.Get(t).(mir.Pointer); ok {
			return ptr.Pointee, true
		}
	}
	return 0, false
}

// fold evaluates a virtual value as a scalar constant when its whole
// defining expression is constant, returning the raw bits and the
// expression's result type.
func fold(prog *mir.Program, fc *spirv.FuncCode, defs map[uint32]int, v uint32) (uint64, mir.TypeID, bool) {
	idx, ok := defs[v]
	if !ok {
		return 0, 0, false
	}
	def := fc.Code[idx]
	t := mir.TypeID(def.Operands[0].Word)
	arg := func(k int) (uint64, bool) {
		if k >= len(def.Operands) {
			return 0, false
		}
		op := def.Operands[k]
		switch op.Kind {
		case spirv.OperandConst:
			return prog.Consts.Get(mir.ConstID(op.Word)).Bits, true
		case spirv.OperandValue:
			bits, _, ok := fold(prog, fc, defs, op.Word)
			return bits, ok
		}
		return 0, false
	}
	switch def.Opcode {
	case spirv.OpBitcast, spirv.OpUConvert:
		bits, ok := arg(2)
		if !ok {
			return 0, 0, false
		}
		return maskTo(prog, t, bits), t, true
	case spirv.OpSConvert:
		bits, ok := arg(2)
		if !ok {
			return 0, 0, false
		}
		if src, ok := operandScalar(prog, fc, defs, def.Operands[2]); ok {
			bits = signExtend(bits, src.Width)
		}
		return maskTo(prog, t, bits), t, true
	case spirv.OpIAdd:
		a, ok1 := arg(2)
		b, ok2 := arg(3)
		if !ok1 || !ok2 {
			return 0, 0, false
		}
		return maskTo(prog, t, a+b), t, true
	case spirv.OpISub:
		a, ok1 := arg(2)
		b, ok2 := arg(3)
		if !ok1 || !ok2 {
			return 0, 0, false
		}
		return maskTo(prog, t, a-b), t, true
	case spirv.OpIMul:
		a, ok1 := arg(2)
		b, ok2 := arg(3)
		if !ok1 || !ok2 {
			return 0, 0, false
		}
		return maskTo(prog, t, a*b), t, true
	}
	return 0, 0, false
}

// operandScalar resolves the scalar type of a constant or virtual
// operand.
func operandScalar(prog *mir.Program, fc *spirv.FuncCode, defs map[uint32]int, op spirv.Operand) (mir.Scalar, bool) {
	var t mir.TypeID
	switch op.Kind {
	case spirv.OperandConst:
		t = prog.Consts.Get(mir.ConstID(op.Word)).Type
	case spirv.OperandValue:
		idx, ok := defs[op.Word]
		if !ok {
			return mir.Scalar{}, false
		}
		t = mir.TypeID(fc.Code[idx].Operands[0].Word)
	default:
		return mir.Scalar{}, false
	}
	sc, ok := prog.Types.Get(t).(mir.Scalar)
	return sc, ok
}

// maskTo truncates bits to the width of scalar type t; 64-bit and
// non-scalar types pass through.
func maskTo(prog *mir.Program, t mir.TypeID, bits uint64) uint64 {
	if sc, ok := prog.Types.Get(t).(mir.Scalar); ok && sc.Width > 0 && sc.Width < 8 {
		return bits & (1<<(uint(sc.Width)*8) - 1)
	}
	return bits
}

func signExtend(bits uint64, width uint8) uint64 {
	if width == 0 || width >= 8 {
		return bits
	}
	shift := 64 - uint(width)*8
	return uint64(int64(bits<<shift) >> shift)
}

// uniquify de-collides debug names across functions and globals with
// numeric suffixes. Functions claim first in unit order, then globals
// in declaration order, so renames are deterministic.
func uniquify(set *link.Set) []diag.Diagnostic {
	used := make(map[string]bool)
	claim := func(name string) (string, bool) {
		if name == "" || !used[name] {
			if name != "" {
				used[name] = true
			}
			return name, false
		}
		for i := 1; ; i++ {
			cand := fmt.Sprintf("%s.%d", name, i)
			if !used[cand] {
				used[cand] = true
				return cand, true
			}
		}
	}
	var warns []diag.Diagnostic
	for _, fc := range set.Functions() {
		orig := set.DebugName(fc.Symbol)
		name, renamed := claim(orig)
		if renamed {
			set.SetDebugName(fc.Symbol, name)
			warns = append(warns, renameWarning(orig, name, fc.Symbol))
		}
	}
	prog := set.Program()
	for g := range prog.Globals {
		gid := mir.GlobalID(g)
		orig := set.GlobalDebugName(gid)
		name, renamed := claim(orig)
		if renamed {
			set.SetGlobalDebugName(gid, name)
			warns = append(warns, renameWarning(orig, name, ""))
		}
	}
	return warns
}

func renameWarning(orig, name, function string) diag.Diagnostic {
	return diag.Diagnostic{
		Severity: diag.SeverityWarning,
		Class:    diag.UserFacing,
		Message:  fmt.Sprintf("debug name %q collides; emitting %q", orig, name),
		Function: function,
	}
}

// mergeRepair terminates blocks that end without a terminator.
// Structurization gives every loop a merge block even when no exit
// branches to it; such blocks arrive as a bare OpLabel.
func mergeRepair(fc *spirv.FuncCode) {
	pre, spans := blocks(fc.Code)
	if len(spans) == 0 {
		return
	}
	needs := make([]bool, len(spans))
	n := 0
	for i, sp := range spans {
		if !isTerminator(fc.Code[sp.end-1].Opcode) {
			needs[i] = true
			n++
		}
	}
	if n == 0 {
		return
	}
	out := append(make([]spirv.Instruction, 0, len(fc.Code)+n), fc.Code[:pre]...)
	for i, sp := range spans {
		out = append(out, fc.Code[sp.start:sp.end]...)
		if needs[i] {
			out = append(out, spirv.Ins(spirv.OpUnreachable))
		}
	}
	out = append(out, fc.Code[spans[len(spans)-1].end:]...)
	fc.Code = out
}
