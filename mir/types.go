package mir

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gogpu/spvgen/diag"
)

// ScalarKind discriminates the numeric interpretation of a scalar.
type ScalarKind uint8

const (
	ScalarKindSint ScalarKind = iota
	ScalarKindUint
	ScalarKindFloat
	ScalarKindBool
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarKindSint:
		return "i"
	case ScalarKindUint:
		return "u"
	case ScalarKindFloat:
		return "f"
	case ScalarKindBool:
		return "bool"
	default:
		return "?"
	}
}

// Descriptor is the tagged variant over all type shapes. Operand types
// are referenced by TypeID, never nested structurally, so recursive
// graphs are identifier references into the table.
type Descriptor interface {
	descriptor()
}

// Void is the empty result type.
type Void struct{}

// Scalar is a numeric or boolean scalar. Width is in bytes; booleans
// use width 1.
type Scalar struct {
	Kind  ScalarKind
	Width uint8
}

// Vector is a short vector of 2..4 scalar elements.
type Vector struct {
	Size uint8
	Elem TypeID // must be a Scalar
}

// Matrix is a column-major matrix of vector columns.
type Matrix struct {
	Cols   uint8
	Column TypeID // must be a Vector
}

// Array is a fixed or runtime-sized element sequence. Count is ignored
// when Runtime is set. A non-zero Stride is the byte distance between
// elements for memory-backed layouts.
type Array struct {
	Elem    TypeID
	Count   uint32
	Runtime bool
	Stride  uint32
}

// StructMember is one field of a Struct with its byte offset.
type StructMember struct {
	Name         string
	Type         TypeID
	Offset       uint32
	MatrixStride uint32 // non-zero only for matrix-typed members
}

// Struct is an ordered field aggregate with explicit layout.
type Struct struct {
	Members []StructMember
}

// Pointer is a storage-class-qualified pointer.
type Pointer struct {
	Pointee TypeID
	Class   StorageClass
}

// FuncType is a function signature. Result is the void type id for
// functions that return nothing.
type FuncType struct {
	Params []TypeID
	Result TypeID
}

func (Void) descriptor()     {}
func (Scalar) descriptor()   {}
func (Vector) descriptor()   {}
func (Matrix) descriptor()   {}
func (Array) descriptor()    {}
func (Struct) descriptor()   {}
func (Pointer) descriptor()  {}
func (FuncType) descriptor() {}

// CyclicValueTypeError reports a recursive value type with no pointer
// indirection on the cycle. Such types have no finite layout and are
// forbidden.
type CyclicValueTypeError struct {
	Type TypeID
	Name string // type name, when one was set
}

func (e *CyclicValueTypeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("type %q is recursive without pointer indirection", e.Name)
	}
	return fmt.Sprintf("type #%d is recursive without pointer indirection", e.Type)
}

// DiagnosticClass marks the error recoverable: the offending type (and
// whatever uses it) fails, the session continues.
func (e *CyclicValueTypeError) DiagnosticClass() diag.Class { return diag.UserFacing }

type typeEntry struct {
	desc    Descriptor
	name    string
	defined bool
}

// TypeTable interns type descriptors, structurally deduplicating them.
// Structural identity is shallow: descriptors are equal when the
// variant and all operand ids match. The table is safe for concurrent
// interning; one coarse mutex covers table operations only.
type TypeTable struct {
	mu     sync.Mutex
	types  []typeEntry
	keys   map[string]TypeID
	keyBuf []byte
}

// NewTypeTable creates an empty table.
func NewTypeTable() *TypeTable {
	return &TypeTable{
		keys: make(map[string]TypeID),
	}
}

// Intern returns the id for desc, reusing an existing id when a
// structurally identical descriptor was interned before. Idempotent
// regardless of call order.
func (t *TypeTable) Intern(desc Descriptor) TypeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := t.normalize(desc)
	if id, ok := t.keys[key]; ok {
		return id
	}
	id := TypeID(len(t.types))
	t.types = append(t.types, typeEntry{desc: desc, defined: true})
	t.keys[key] = id
	return id
}

// Reserve allocates an id with no descriptor, allowing forward
// references from descriptors interned before Define completes the
// cycle.
func (t *TypeTable) Reserve() TypeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := TypeID(len(t.types))
	t.types = append(t.types, typeEntry{})
	return id
}

// Define completes a reserved id. It fails with CyclicValueTypeError
// when desc participates in a cycle that never passes through a
// pointer. Defining an unreserved or already-defined id is a misuse
// and panics.
func (t *TypeTable) Define(id TypeID, desc Descriptor) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.types) {
		panic("mir: Define of unreserved type id")
	}
	if t.types[id].defined {
		panic("mir: Define of already defined type id")
	}
	t.types[id].desc = desc
	t.types[id].defined = true
	if t.cyclic(id, desc, id) {
		t.types[id].desc = nil
		t.types[id].defined = false
		return &CyclicValueTypeError{Type: id, Name: t.types[id].name}
	}
	key := t.normalize(desc)
	if _, ok := t.keys[key]; !ok {
		t.keys[key] = id
	}
	return nil
}

// cyclic walks non-pointer operand edges from desc through defined
// descriptors, looking for target. Pointer pointees break the walk:
// recursion through indirection is legal.
func (t *TypeTable) cyclic(id TypeID, desc Descriptor, target TypeID) bool {
	check := func(op TypeID) bool {
		if op == target {
			return true
		}
		if int(op) >= len(t.types) || !t.types[op].defined {
			return false
		}
		return t.cyclic(op, t.types[op].desc, target)
	}
	switch d := desc.(type) {
	case Vector:
		return check(d.Elem)
	case Matrix:
		return check(d.Column)
	case Array:
		return check(d.Elem)
	case Struct:
		for _, m := range d.Members {
			if check(m.Type) {
				return true
			}
		}
	case FuncType:
		for _, p := range d.Params {
			if check(p) {
				return true
			}
		}
		return check(d.Result)
	}
	return false
}

// Get returns the descriptor for id. Reserved-but-undefined ids
// return nil.
func (t *TypeTable) Get(id TypeID) Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.types) {
		return nil
	}
	return t.types[id].desc
}

// Defined reports whether id has a descriptor.
func (t *TypeTable) Defined(id TypeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(id) < len(t.types) && t.types[id].defined
}

// Len returns the number of allocated ids, reserved ones included.
func (t *TypeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.types)
}

// SetName attaches a debug name to id.
func (t *TypeTable) SetName(id TypeID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) < len(t.types) {
		t.types[id].name = name
	}
}

// Name returns the debug name for id, or "".
func (t *TypeTable) Name(id TypeID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.types) {
		return ""
	}
	return t.types[id].name
}

// Key returns the structural key of id's descriptor. Identical keys
// mean identical structure; callers use it to canonicalize duplicates
// the two-phase path can produce.
func (t *TypeTable) Key(id TypeID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.types) || !t.types[id].defined {
		return ""
	}
	return t.normalize(t.types[id].desc)
}

// normalize produces the structural map key for a descriptor. Must be
// called with the mutex held.
func (t *TypeTable) normalize(desc Descriptor) string {
	buf := t.keyBuf[:0]
	switch d := desc.(type) {
	case Void:
		buf = append(buf, "void"...)
	case Scalar:
		buf = append(buf, "scalar:"...)
		buf = append(buf, d.Kind.String()...)
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(d.Width), 10)
	case Vector:
		buf = append(buf, "vec:"...)
		buf = strconv.AppendUint(buf, uint64(d.Size), 10)
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(d.Elem), 10)
	case Matrix:
		buf = append(buf, "mat:"...)
		buf = strconv.AppendUint(buf, uint64(d.Cols), 10)
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(d.Column), 10)
	case Array:
		buf = append(buf, "arr:"...)
		buf = strconv.AppendUint(buf, uint64(d.Elem), 10)
		buf = append(buf, ':')
		if d.Runtime {
			buf = append(buf, "rt"...)
		} else {
			buf = strconv.AppendUint(buf, uint64(d.Count), 10)
		}
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(d.Stride), 10)
	case Pointer:
		buf = append(buf, "ptr:"...)
		buf = strconv.AppendUint(buf, uint64(d.Pointee), 10)
		buf = append(buf, ':')
		buf = append(buf, d.Class.String()...)
	case Struct:
		// Structs key on member types, offsets, and strides; member
		// names are debug information, not structure.
		s := "struct:"
		for _, m := range d.Members {
			s += fmt.Sprintf("%d@%d/%d,", m.Type, m.Offset, m.MatrixStride)
		}
		return s
	case FuncType:
		s := "fn:"
		for _, p := range d.Params {
			s += fmt.Sprintf("%d,", p)
		}
		return s + fmt.Sprintf("->%d", d.Result)
	default:
		panic(fmt.Sprintf("mir: unknown descriptor %T", desc))
	}
	t.keyBuf = buf
	return string(buf)
}

// Describe renders id as human-readable type text for diagnostics.
func (t *TypeTable) Describe(id TypeID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.describe(id, 0)
}

func (t *TypeTable) describe(id TypeID, depth int) string {
	if int(id) >= len(t.types) {
		return fmt.Sprintf("#%d", id)
	}
	e := t.types[id]
	if e.name != "" {
		return e.name
	}
	if !e.defined || depth > 8 {
		return fmt.Sprintf("#%d", id)
	}
	switch d := e.desc.(type) {
	case Void:
		return "void"
	case Scalar:
		if d.Kind == ScalarKindBool {
			return "bool"
		}
		return fmt.Sprintf("%s%d", d.Kind, uint32(d.Width)*8)
	case Vector:
		return fmt.Sprintf("vec%d<%s>", d.Size, t.describe(d.Elem, depth+1))
	case Matrix:
		col := fmt.Sprintf("#%d", d.Column)
		rows := uint8(0)
		if v, ok := t.types[d.Column].desc.(Vector); ok {
			col = t.describe(v.Elem, depth+1)
			rows = v.Size
		}
		return fmt.Sprintf("mat%dx%d<%s>", d.Cols, rows, col)
	case Array:
		if d.Runtime {
			return fmt.Sprintf("array<%s>", t.describe(d.Elem, depth+1))
		}
		return fmt.Sprintf("array<%s, %d>", t.describe(d.Elem, depth+1), d.Count)
	case Struct:
		var b strings.Builder
		b.WriteString("struct{")
		for i, m := range d.Members {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(t.describe(m.Type, depth+1))
		}
		b.WriteString("}")
		return b.String()
	case Pointer:
		return fmt.Sprintf("ptr<%s, %s>", d.Class, t.describe(d.Pointee, depth+1))
	case FuncType:
		var b strings.Builder
		b.WriteString("fn(")
		for i, p := range d.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(t.describe(p, depth+1))
		}
		b.WriteString(") -> ")
		b.WriteString(t.describe(d.Result, depth+1))
		return b.String()
	default:
		return fmt.Sprintf("#%d", id)
	}
}
