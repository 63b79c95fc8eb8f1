package spirv

import (
	"fmt"
	"strings"
)

// Disassemble renders a resolved module in a form close to the
// reference disassembler's: ids as %N, strings quoted, literal
// operands as bare numbers.
func Disassemble(m *Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "; Version: %d.%d, Bound: %d\n", m.Version.Major, m.Version.Minor, m.Bound)
	for _, sec := range m.sections() {
		for _, in := range sec {
			writeDisasm(&b, in)
		}
	}
	return b.String()
}

func writeDisasm(b *strings.Builder, in Instruction) {
	info := opInfos[in.Opcode]
	name := info.name
	if name == "" {
		name = fmt.Sprintf("Op(%d)", uint16(in.Opcode))
	}
	ops := in.Operands
	idx := 0
	typeID := uint32(0)
	if info.resultType && idx < len(ops) {
		typeID = ops[idx].Word
		idx++
	}
	head := ""
	if info.result && idx < len(ops) {
		head = fmt.Sprintf("%%%d = ", ops[idx].Word)
		idx++
	}
	fmt.Fprintf(b, "%15s%s", head, name)
	if info.resultType {
		fmt.Fprintf(b, " %%%d", typeID)
	}
	pat := operandPattern(in.Opcode)
	cursor := 0
	for _, op := range ops[idx:] {
		if op.Kind == OperandString {
			fmt.Fprintf(b, " %q", op.Str)
			continue
		}
		if operandClass(pat, &cursor) == 'i' {
			fmt.Fprintf(b, " %%%d", op.Word)
		} else {
			fmt.Fprintf(b, " %d", op.Word)
		}
	}
	b.WriteByte('\n')
}

// operandPattern describes the operand classes following the result
// slots: 'i' for an id, 'l' for a literal word, a trailing '*'
// repeating the last class. String operands are recognized by kind
// and consume no pattern position.
func operandPattern(op OpCode) string {
	switch op {
	case OpCapability, OpTypeFloat:
		return "l"
	case OpMemoryModel, OpTypeInt:
		return "ll"
	case OpConstant:
		return "l*"
	case OpTypeVector, OpTypeMatrix:
		return "il"
	case OpTypePointer, OpFunction:
		return "li"
	case OpVariable:
		return "li"
	case OpEntryPoint:
		return "lii*"
	case OpExecutionMode, OpDecorate, OpName:
		return "il*"
	case OpMemberDecorate, OpMemberName:
		return "ill*"
	case OpCompositeExtract, OpArrayLength:
		return "il*"
	case OpExtInst:
		return "ili*"
	case OpLoopMerge:
		return "iil"
	case OpSelectionMerge:
		return "il"
	default:
		return "i*"
	}
}

func operandClass(pat string, cursor *int) byte {
	if *cursor >= len(pat) {
		return 'l'
	}
	c := pat[*cursor]
	if c == '*' {
		return pat[*cursor-1]
	}
	*cursor++
	return c
}
