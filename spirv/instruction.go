package spirv

import (
	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/mir"
)

// OperandKind tags how an instruction operand resolves to words.
type OperandKind uint8

const (
	// OperandWord is a final literal word.
	OperandWord OperandKind = iota
	// OperandType references a session type awaiting a module id.
	OperandType
	// OperandConst references a session constant.
	OperandConst
	// OperandGlobal references a module global variable.
	OperandGlobal
	// OperandFunc references a function by symbol name.
	OperandFunc
	// OperandValue is a function-local virtual id, renumbered when
	// the function is placed in a module.
	OperandValue
	// OperandExtImport is the GLSL.std.450 import id.
	OperandExtImport
	// OperandString is an embedded string literal, packed into words
	// on encoding.
	OperandString
)

// Operand is one operand of a symbolic instruction.
type Operand struct {
	Kind OperandKind
	Word uint32
	Str  string
}

// Word wraps a literal operand word.
func Word(w uint32) Operand { return Operand{Kind: OperandWord, Word: w} }

// TypeRef references a session type.
func TypeRef(t mir.TypeID) Operand { return Operand{Kind: OperandType, Word: uint32(t)} }

// ConstRef references a session constant.
func ConstRef(c mir.ConstID) Operand { return Operand{Kind: OperandConst, Word: uint32(c)} }

// GlobalRef references a module global.
func GlobalRef(g mir.GlobalID) Operand { return Operand{Kind: OperandGlobal, Word: uint32(g)} }

// FuncRef references a function by symbol.
func FuncRef(symbol string) Operand { return Operand{Kind: OperandFunc, Str: symbol} }

// Value references a function-local virtual id.
func Value(v uint32) Operand { return Operand{Kind: OperandValue, Word: v} }

// ExtImportRef references the extended instruction set import.
func ExtImportRef() Operand { return Operand{Kind: OperandExtImport} }

// Str embeds a string literal.
func Str(s string) Operand { return Operand{Kind: OperandString, Str: s} }

// Instruction is one SPIR-V instruction. Until linking, operands may
// reference session handles and virtual values; a resolved
// instruction carries only word and string operands.
type Instruction struct {
	Opcode   OpCode
	Operands []Operand
	Span     diag.Span // source provenance, zero when synthetic
}

// Ins builds an instruction from its operands.
func Ins(op OpCode, operands ...Operand) Instruction {
	return Instruction{Opcode: op, Operands: operands}
}

// Resolved reports whether every operand is a literal word or string.
func (i Instruction) Resolved() bool {
	for _, op := range i.Operands {
		if op.Kind != OperandWord && op.Kind != OperandString {
			return false
		}
	}
	return true
}

// WordCount returns the encoded size, including the opcode word.
func (i Instruction) WordCount() int {
	n := 1
	for _, op := range i.Operands {
		if op.Kind == OperandString {
			n += len(packString(op.Str))
		} else {
			n++
		}
	}
	return n
}

// Encode appends the instruction's words to dst. Every operand must
// be resolved.
func (i Instruction) Encode(dst []uint32) ([]uint32, error) {
	dst = append(dst, uint32(i.WordCount())<<16|uint32(i.Opcode))
	for _, op := range i.Operands {
		switch op.Kind {
		case OperandWord:
			dst = append(dst, op.Word)
		case OperandString:
			dst = append(dst, packString(op.Str)...)
		default:
			return nil, diag.Internalf("unresolved operand (kind %d) in %s", op.Kind, i.Opcode)
		}
	}
	return dst, nil
}

// packString encodes a string as null-terminated UTF-8 padded to a
// word boundary, little-endian within each word.
func packString(s string) []uint32 {
	bytes := append([]byte(s), 0)
	for len(bytes)%4 != 0 {
		bytes = append(bytes, 0)
	}
	words := make([]uint32, 0, len(bytes)/4)
	for i := 0; i < len(bytes); i += 4 {
		word := uint32(bytes[i]) |
			uint32(bytes[i+1])<<8 |
			uint32(bytes[i+2])<<16 |
			uint32(bytes[i+3])<<24
		words = append(words, word)
	}
	return words
}

// unpackString decodes a packed string starting at words[0],
// returning the text and the number of words consumed.
func unpackString(words []uint32) (string, int) {
	var buf []byte
	for n, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(buf), n + 1
			}
			buf = append(buf, c)
		}
	}
	return string(buf), len(words)
}
