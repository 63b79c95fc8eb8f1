// Package mir defines the monomorphized input IR consumed by the
// backend.
//
// A Program aggregates the session-wide type table and constant pool,
// global variables, entry points, and one or more compilation units.
// Functions are control-flow graphs: an arena of instructions, a slice
// of basic blocks referencing instruction values by id, and exactly one
// terminator per block. The front end guarantees reducibility, dominance
// of definitions over uses, and type agreement; the backend does not
// re-validate beyond what structurization needs.
package mir

import (
	"github.com/gogpu/spvgen/diag"
)

// TypeID identifies an interned type descriptor in the session table.
type TypeID uint32

// ConstID identifies an interned constant in the session pool.
type ConstID uint32

// GlobalID identifies a global variable within a Program.
type GlobalID uint32

// LocalID identifies a local variable within a Function.
type LocalID uint32

// ValueID identifies an instruction result within a Function. It
// indexes the function's instruction arena; instructions with a void
// type produce no referencable value.
type ValueID uint32

// BlockID identifies a basic block within a Function.
type BlockID uint32

// NoBlock is the sentinel for an absent block reference.
const NoBlock = BlockID(^uint32(0))

// StorageClass qualifies where a pointer or variable's memory resides.
type StorageClass uint8

const (
	ClassFunction StorageClass = iota
	ClassPrivate
	ClassWorkgroup
	ClassUniform
	ClassStorage
	ClassPushConstant
	ClassInput
	ClassOutput
)

func (c StorageClass) String() string {
	switch c {
	case ClassFunction:
		return "function"
	case ClassPrivate:
		return "private"
	case ClassWorkgroup:
		return "workgroup"
	case ClassUniform:
		return "uniform"
	case ClassStorage:
		return "storage"
	case ClassPushConstant:
		return "push_constant"
	case ClassInput:
		return "input"
	case ClassOutput:
		return "output"
	default:
		return "unknown"
	}
}

// Stage is the pipeline stage of an entry point.
type Stage uint8

const (
	StageVertex Stage = iota
	StageFragment
	StageCompute
)

func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// BuiltIn identifies a pipeline-provided variable.
type BuiltIn uint8

const (
	BuiltInPosition BuiltIn = iota
	BuiltInVertexIndex
	BuiltInInstanceIndex
	BuiltInFragCoord
	BuiltInFragDepth
	BuiltInGlobalInvocationID
	BuiltInLocalInvocationID
	BuiltInWorkgroupID
	BuiltInNumWorkgroups
)

// Binding is a descriptor-set resource binding for a global variable.
type Binding struct {
	Group   uint32
	Binding uint32
}

// GlobalVar is a module-scope variable.
type GlobalVar struct {
	Name     string
	Class    StorageClass
	Type     TypeID // value type; the pointer type is derived from Class
	Init     *ConstID
	Binding  *Binding // descriptor-backed classes
	Location *uint32  // input/output interface variables
	BuiltIn  *BuiltIn
}

// EntryPoint declares an externally visible pipeline entry.
type EntryPoint struct {
	Name          string // name exported in the binary
	Stage         Stage
	Symbol        string // function symbol the entry binds to
	WorkgroupSize [3]uint32
}

// Param is a function parameter.
type Param struct {
	Name string
	Type TypeID
}

// Local is a function-scope variable, addressable via LocalAddr.
type Local struct {
	Name string
	Type TypeID
	Init *ConstID
}

// Instr is one instruction in a function's arena. Its index is the
// ValueID of the produced value; instructions with a void Type produce
// none.
type Instr struct {
	Kind InstrKind
	Type TypeID
	Span diag.Span
}

// Block is a basic block: ordered instruction references plus exactly
// one terminator.
type Block struct {
	Code []ValueID
	Term Terminator
}

// Function is one monomorphized function in CFG form.
type Function struct {
	Symbol string
	Export bool
	Type   TypeID // interned function type; the linking signature
	Result TypeID // result type (void type when nothing is returned)
	Params []Param
	Locals []Local
	Instrs []Instr
	Blocks []Block
	Entry  BlockID
	Span   diag.Span
}

// Instr returns the instruction defining v.
func (f *Function) Instr(v ValueID) *Instr {
	return &f.Instrs[v]
}

// Unit is one independently compiled batch of functions sharing the
// session tables.
type Unit struct {
	Name      string
	Functions []*Function
}

// AddFunction appends fn to the unit and returns it for chaining.
func (u *Unit) AddFunction(fn *Function) *Function {
	u.Functions = append(u.Functions, fn)
	return fn
}

// Program is the complete backend input: session tables plus all units.
type Program struct {
	Types       *TypeTable
	Consts      *ConstPool
	Globals     []GlobalVar
	EntryPoints []EntryPoint
	Units       []*Unit
}

// NewProgram creates an empty program with fresh session tables.
func NewProgram() *Program {
	return &Program{
		Types:  NewTypeTable(),
		Consts: NewConstPool(),
	}
}

// AddGlobal appends a global variable and returns its id.
func (p *Program) AddGlobal(g GlobalVar) GlobalID {
	p.Globals = append(p.Globals, g)
	return GlobalID(len(p.Globals) - 1)
}

// AddEntryPoint declares a pipeline entry bound to a function symbol.
func (p *Program) AddEntryPoint(ep EntryPoint) {
	p.EntryPoints = append(p.EntryPoints, ep)
}

// AddUnit creates a named compilation unit.
func (p *Program) AddUnit(name string) *Unit {
	u := &Unit{Name: name}
	p.Units = append(p.Units, u)
	return u
}

// Terminator ends a basic block. Exactly one per block.
type Terminator interface {
	terminator()
}

// Branch transfers control unconditionally.
type Branch struct {
	Target BlockID
}

// CondBranch transfers control on a boolean condition.
type CondBranch struct {
	Cond ValueID
	Then BlockID
	Else BlockID
}

// SwitchCase is one selector value of a Switch terminator.
type SwitchCase struct {
	Value  uint64 // raw bits of the selector-typed literal
	Target BlockID
}

// Switch transfers control by comparing an integer selector against
// case literals.
type Switch struct {
	Selector ValueID
	Cases    []SwitchCase
	Default  BlockID
}

// Return leaves the function, optionally with a value.
type Return struct {
	Value *ValueID
}

// Unreachable marks a block the front end proves never executes.
type Unreachable struct{}

func (Branch) terminator()      {}
func (CondBranch) terminator()  {}
func (Switch) terminator()      {}
func (Return) terminator()      {}
func (Unreachable) terminator() {}

// Successors returns the successor blocks of t in deterministic order.
// Switch successors list cases first, then the default; duplicates are
// preserved.
func Successors(t Terminator) []BlockID {
	switch term := t.(type) {
	case Branch:
		return []BlockID{term.Target}
	case CondBranch:
		return []BlockID{term.Then, term.Else}
	case Switch:
		out := make([]BlockID, 0, len(term.Cases)+1)
		for _, c := range term.Cases {
			out = append(out, c.Target)
		}
		return append(out, term.Default)
	default:
		return nil
	}
}
