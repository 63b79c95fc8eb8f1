package spirv

import (
	"encoding/binary"

	"github.com/gogpu/spvgen/diag"
)

// Module is a fully linked binary module. Every instruction is
// resolved: operands are literal words and strings, ids are final.
// The section slices follow the order the binary layout mandates;
// Encode concatenates them after the five-word header.
type Module struct {
	Version Version
	Bound   uint32

	Capabilities []Instruction
	Extensions   []Instruction
	ExtImports   []Instruction
	MemoryModel  Instruction
	EntryPoints  []Instruction
	ExecModes    []Instruction
	Debug        []Instruction
	Decorations  []Instruction
	Globals      []Instruction // types, constants, module-scope variables
	Functions    []Instruction

	// word offset of each instruction in encoding order, for mapping
	// validator findings back to source spans
	offsets []spanEntry
}

type spanEntry struct {
	word uint32
	span diag.Span
}

func (m *Module) sections() [][]Instruction {
	var mm []Instruction
	if m.MemoryModel.Opcode != OpNop || len(m.MemoryModel.Operands) > 0 {
		mm = []Instruction{m.MemoryModel}
	}
	return [][]Instruction{
		m.Capabilities,
		m.Extensions,
		m.ExtImports,
		mm,
		m.EntryPoints,
		m.ExecModes,
		m.Debug,
		m.Decorations,
		m.Globals,
		m.Functions,
	}
}

// WordCount returns the encoded module size in words.
func (m *Module) WordCount() int {
	n := headerWords
	for _, sec := range m.sections() {
		for _, in := range sec {
			n += in.WordCount()
		}
	}
	return n
}

const headerWords = 5

// EncodeWords serializes the module to its word stream: magic,
// version, generator, bound, schema, then the sections in order. The
// per-instruction offset table for SpanAt is rebuilt as a side
// effect.
func (m *Module) EncodeWords() ([]uint32, error) {
	words := make([]uint32, 0, m.WordCount())
	words = append(words, MagicNumber, m.Version.Word(), GeneratorID, m.Bound, 0)
	m.offsets = m.offsets[:0]
	for _, sec := range m.sections() {
		for _, in := range sec {
			m.offsets = append(m.offsets, spanEntry{word: uint32(len(words)), span: in.Span})
			var err error
			words, err = in.Encode(words)
			if err != nil {
				return nil, err
			}
		}
	}
	return words, nil
}

// Encode serializes the module to bytes, little-endian within each
// word.
func (m *Module) Encode() ([]byte, error) {
	words, err := m.EncodeWords()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf, nil
}

// SpanAt maps a byte offset in the encoded module back to the source
// span of the instruction covering it. External validators report
// findings by binary offset; this recovers their provenance. The zero
// span is returned for the header, for offsets past the end, and
// before any encode.
func (m *Module) SpanAt(byteOffset uint32) diag.Span {
	word := byteOffset / 4
	lo, hi := 0, len(m.offsets)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.offsets[mid].word <= word {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return diag.Span{}
	}
	return m.offsets[lo-1].span
}
