package spirv

import (
	"encoding/binary"
	"fmt"
)

// Decode parses an encoded module back into its sections. It is the
// inverse of Encode for modules this package produces; other binaries
// in the standard section layout decode too, with unrecognized
// instructions carried as raw words.
func Decode(bin []byte) (*Module, error) {
	if len(bin)%4 != 0 {
		return nil, fmt.Errorf("spirv: module length %d is not a whole number of words", len(bin))
	}
	words := make([]uint32, len(bin)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(bin[i*4:])
	}
	return DecodeWords(words)
}

// DecodeWords parses a module from its word stream.
func DecodeWords(words []uint32) (*Module, error) {
	if len(words) < headerWords {
		return nil, fmt.Errorf("spirv: module header truncated at %d words", len(words))
	}
	if words[0] != MagicNumber {
		return nil, fmt.Errorf("spirv: bad magic %#08x", words[0])
	}
	m := &Module{
		Version: Version{Major: uint8(words[1] >> 16), Minor: uint8(words[1] >> 8)},
		Bound:   words[3],
	}
	inFunctions := false
	for at := headerWords; at < len(words); {
		wc := int(words[at] >> 16)
		if wc == 0 {
			return nil, fmt.Errorf("spirv: zero word count at word %d", at)
		}
		if at+wc > len(words) {
			return nil, fmt.Errorf("spirv: instruction at word %d overruns the module", at)
		}
		in := decodeInstruction(OpCode(words[at]&0xFFFF), words[at+1:at+wc])
		if in.Opcode == OpFunction {
			inFunctions = true
		}
		if inFunctions {
			m.Functions = append(m.Functions, in)
		} else {
			m.place(in)
		}
		at += wc
	}
	return m, nil
}

// place appends a module-level instruction to the section its opcode
// belongs to.
func (m *Module) place(in Instruction) {
	switch in.Opcode {
	case OpCapability:
		m.Capabilities = append(m.Capabilities, in)
	case OpExtension:
		m.Extensions = append(m.Extensions, in)
	case OpExtInstImport:
		m.ExtImports = append(m.ExtImports, in)
	case OpMemoryModel:
		m.MemoryModel = in
	case OpEntryPoint:
		m.EntryPoints = append(m.EntryPoints, in)
	case OpExecutionMode:
		m.ExecModes = append(m.ExecModes, in)
	case OpSource, OpString, OpName, OpMemberName:
		m.Debug = append(m.Debug, in)
	case OpDecorate, OpMemberDecorate:
		m.Decorations = append(m.Decorations, in)
	default:
		m.Globals = append(m.Globals, in)
	}
}

// decodeInstruction rebuilds operands from raw words, re-packing the
// string literal of the opcodes that carry one.
func decodeInstruction(op OpCode, words []uint32) Instruction {
	strAt := stringOperandIndex(op)
	ops := make([]Operand, 0, len(words))
	for i := 0; i < len(words); {
		if len(ops) == strAt {
			s, n := unpackString(words[i:])
			ops = append(ops, Str(s))
			i += n
			continue
		}
		ops = append(ops, Word(words[i]))
		i++
	}
	return Instruction{Opcode: op, Operands: ops}
}

// stringOperandIndex gives the operand position where an opcode's
// string literal starts, -1 for opcodes without one. Positions count
// result slots.
func stringOperandIndex(op OpCode) int {
	switch op {
	case OpString, OpExtInstImport, OpName:
		return 1
	case OpMemberName, OpEntryPoint:
		return 2
	default:
		return -1
	}
}
