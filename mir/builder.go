package mir

import (
	"fmt"
	"math"

	"github.com/gogpu/spvgen/diag"
)

// FuncBuilder constructs a Function block by block. It is the
// append-only construction API used by front ends and tests; emit
// methods append to the current block and return the new value's id.
//
// Misuse (emitting with no current block, finishing with an
// unterminated block) panics: the builder is driven by generated
// code, not user input.
type FuncBuilder struct {
	prog *Program
	fn   *Function
	cur  BlockID
	open bool
	span diag.Span
}

// NewFuncBuilder starts building a function with the given linkage
// symbol. The result type defaults to void until SetResult is called.
func NewFuncBuilder(prog *Program, symbol string) *FuncBuilder {
	b := &FuncBuilder{
		prog: prog,
		fn:   &Function{Symbol: symbol},
	}
	b.fn.Result = prog.Types.Intern(Void{})
	return b
}

// Export marks the function resolvable from other units.
func (b *FuncBuilder) Export() *FuncBuilder {
	b.fn.Export = true
	return b
}

// SetSpan sets the provenance applied to subsequently emitted
// instructions.
func (b *FuncBuilder) SetSpan(s diag.Span) {
	b.span = s
}

// SetFunctionSpan sets the function's declaration-site provenance.
func (b *FuncBuilder) SetFunctionSpan(s diag.Span) {
	b.fn.Span = s
}

// Param declares a parameter and returns its index.
func (b *FuncBuilder) Param(name string, t TypeID) uint32 {
	b.fn.Params = append(b.fn.Params, Param{Name: name, Type: t})
	return uint32(len(b.fn.Params) - 1)
}

// SetResult declares the result type.
func (b *FuncBuilder) SetResult(t TypeID) {
	b.fn.Result = t
}

// Local declares a function-scope variable.
func (b *FuncBuilder) Local(name string, t TypeID) LocalID {
	b.fn.Locals = append(b.fn.Locals, Local{Name: name, Type: t})
	return LocalID(len(b.fn.Locals) - 1)
}

// LocalInit declares a function-scope variable with an initializer.
func (b *FuncBuilder) LocalInit(name string, t TypeID, init ConstID) LocalID {
	b.fn.Locals = append(b.fn.Locals, Local{Name: name, Type: t, Init: &init})
	return LocalID(len(b.fn.Locals) - 1)
}

// Block allocates a new basic block. The first allocated block is the
// entry. The cursor does not move; call At to emit into it.
func (b *FuncBuilder) Block() BlockID {
	b.fn.Blocks = append(b.fn.Blocks, Block{})
	return BlockID(len(b.fn.Blocks) - 1)
}

// At moves the emission cursor to block id.
func (b *FuncBuilder) At(id BlockID) *FuncBuilder {
	if int(id) >= len(b.fn.Blocks) {
		panic(fmt.Sprintf("mir: At(%d) out of range", id))
	}
	b.cur = id
	b.open = true
	return b
}

func (b *FuncBuilder) emit(kind InstrKind, t TypeID) ValueID {
	if !b.open {
		panic("mir: emit with no current block (call At first)")
	}
	if b.fn.Blocks[b.cur].Term != nil {
		panic(fmt.Sprintf("mir: emit into terminated block %d", b.cur))
	}
	v := ValueID(len(b.fn.Instrs))
	b.fn.Instrs = append(b.fn.Instrs, Instr{Kind: kind, Type: t, Span: b.span})
	blk := &b.fn.Blocks[b.cur]
	blk.Code = append(blk.Code, v)
	return v
}

func (b *FuncBuilder) terminate(t Terminator) {
	if !b.open {
		panic("mir: terminator with no current block")
	}
	if b.fn.Blocks[b.cur].Term != nil {
		panic(fmt.Sprintf("mir: block %d already terminated", b.cur))
	}
	b.fn.Blocks[b.cur].Term = t
}

// Scalar type shorthands. Each interns on first use.

func (b *FuncBuilder) TypeBool() TypeID {
	return b.prog.Types.Intern(Scalar{Kind: ScalarKindBool, Width: 1})
}

func (b *FuncBuilder) TypeU32() TypeID {
	return b.prog.Types.Intern(Scalar{Kind: ScalarKindUint, Width: 4})
}

func (b *FuncBuilder) TypeI32() TypeID {
	return b.prog.Types.Intern(Scalar{Kind: ScalarKindSint, Width: 4})
}

func (b *FuncBuilder) TypeF32() TypeID {
	return b.prog.Types.Intern(Scalar{Kind: ScalarKindFloat, Width: 4})
}

func (b *FuncBuilder) TypeF64() TypeID {
	return b.prog.Types.Intern(Scalar{Kind: ScalarKindFloat, Width: 8})
}

// Constant shorthands: intern the constant and materialize it as a
// value in the current block.

func (b *FuncBuilder) U32(v uint32) ValueID {
	t := b.TypeU32()
	return b.Const(b.prog.Consts.Scalar(t, uint64(v)))
}

func (b *FuncBuilder) I32(v int32) ValueID {
	t := b.TypeI32()
	return b.Const(b.prog.Consts.Scalar(t, uint64(uint32(v))))
}

func (b *FuncBuilder) F32(v float32) ValueID {
	t := b.TypeF32()
	return b.Const(b.prog.Consts.Scalar(t, uint64(math.Float32bits(v))))
}

func (b *FuncBuilder) F64(v float64) ValueID {
	t := b.TypeF64()
	return b.Const(b.prog.Consts.Scalar(t, math.Float64bits(v)))
}

func (b *FuncBuilder) Bool(v bool) ValueID {
	t := b.TypeBool()
	bits := uint64(0)
	if v {
		bits = 1
	}
	return b.Const(b.prog.Consts.Scalar(t, bits))
}

// Const materializes an interned constant as a value.
func (b *FuncBuilder) Const(c ConstID) ValueID {
	return b.emit(ConstRef{Const: c}, b.prog.Consts.Get(c).Type)
}

// ParamValue materializes parameter index as a value.
func (b *FuncBuilder) ParamValue(index uint32) ValueID {
	return b.emit(ParamRef{Index: index}, b.fn.Params[index].Type)
}

// Binary emits a two-operand operation with result type t.
func (b *FuncBuilder) Binary(op BinaryOp, t TypeID, lhs, rhs ValueID) ValueID {
	return b.emit(Binary{Op: op, LHS: lhs, RHS: rhs}, t)
}

// Unary emits a one-operand operation with result type t.
func (b *FuncBuilder) Unary(op UnaryOp, t TypeID, x ValueID) ValueID {
	return b.emit(Unary{Op: op, X: x}, t)
}

// Compose emits a composite construction of type t.
func (b *FuncBuilder) Compose(t TypeID, args ...ValueID) ValueID {
	own := make([]ValueID, len(args))
	copy(own, args)
	return b.emit(Compose{Args: own}, t)
}

// Extract emits a literal-index component read with result type t.
func (b *FuncBuilder) Extract(t TypeID, base ValueID, index uint32) ValueID {
	return b.emit(Extract{Base: base, Index: index}, t)
}

// Index emits a pointer element derivation with result type t, which
// must be a pointer in the base pointer's storage class.
func (b *FuncBuilder) Index(t TypeID, base, index ValueID) ValueID {
	return b.emit(Index{Base: base, Index: index}, t)
}

// LocalAddr emits the address of local l. The pointer type is interned
// on demand.
func (b *FuncBuilder) LocalAddr(l LocalID) ValueID {
	pt := b.prog.Types.Intern(Pointer{Pointee: b.fn.Locals[l].Type, Class: ClassFunction})
	return b.emit(LocalAddr{Local: l}, pt)
}

// GlobalAddr emits the address of global g in the global's declared
// storage class.
func (b *FuncBuilder) GlobalAddr(g GlobalID) ValueID {
	gv := b.prog.Globals[g]
	pt := b.prog.Types.Intern(Pointer{Pointee: gv.Type, Class: gv.Class})
	return b.emit(GlobalAddr{Global: g}, pt)
}

// Load emits a read through ptr with result type t.
func (b *FuncBuilder) Load(t TypeID, ptr ValueID) ValueID {
	return b.emit(Load{Ptr: ptr}, t)
}

// Store emits a write through ptr.
func (b *FuncBuilder) Store(ptr, value ValueID) {
	b.emit(Store{Ptr: ptr, Value: value}, b.prog.Types.Intern(Void{}))
}

// Call emits a symbolic call with result type t.
func (b *FuncBuilder) Call(t TypeID, symbol string, args ...ValueID) ValueID {
	own := make([]ValueID, len(args))
	copy(own, args)
	return b.emit(Call{Symbol: symbol, Args: own}, t)
}

// Intrinsic emits a built-in operation with result type t.
func (b *FuncBuilder) Intrinsic(t TypeID, name string, args ...ValueID) ValueID {
	own := make([]ValueID, len(args))
	copy(own, args)
	return b.emit(Intrinsic{Name: name, Args: own}, t)
}

// Convert emits a numeric conversion to type t.
func (b *FuncBuilder) Convert(t TypeID, x ValueID) ValueID {
	return b.emit(Convert{X: x}, t)
}

// Bitcast emits a bit reinterpretation as type t.
func (b *FuncBuilder) Bitcast(t TypeID, x ValueID) ValueID {
	return b.emit(Bitcast{X: x}, t)
}

// Select emits a conditional choice with result type t.
func (b *FuncBuilder) Select(t TypeID, cond, then, els ValueID) ValueID {
	return b.emit(Select{Cond: cond, Then: then, Else: els}, t)
}

// ArrayLen emits a runtime-array length read (a u32).
func (b *FuncBuilder) ArrayLen(ptr ValueID, member uint32) ValueID {
	return b.emit(ArrayLength{Ptr: ptr, Member: member}, b.TypeU32())
}

// Terminators.

func (b *FuncBuilder) Branch(target BlockID) {
	b.terminate(Branch{Target: target})
}

func (b *FuncBuilder) CondBranch(cond ValueID, then, els BlockID) {
	b.terminate(CondBranch{Cond: cond, Then: then, Else: els})
}

func (b *FuncBuilder) Switch(selector ValueID, def BlockID, cases ...SwitchCase) {
	own := make([]SwitchCase, len(cases))
	copy(own, cases)
	b.terminate(Switch{Selector: selector, Cases: own, Default: def})
}

func (b *FuncBuilder) Return() {
	b.terminate(Return{})
}

func (b *FuncBuilder) ReturnValue(v ValueID) {
	b.terminate(Return{Value: &v})
}

func (b *FuncBuilder) Unreachable() {
	b.terminate(Unreachable{})
}

// Finish interns the signature and returns the built function. Every
// allocated block must be terminated.
func (b *FuncBuilder) Finish() *Function {
	if len(b.fn.Blocks) == 0 {
		panic("mir: function has no blocks")
	}
	for i, blk := range b.fn.Blocks {
		if blk.Term == nil {
			panic(fmt.Sprintf("mir: block %d missing terminator", i))
		}
	}
	params := make([]TypeID, len(b.fn.Params))
	for i, p := range b.fn.Params {
		params[i] = p.Type
	}
	b.fn.Type = b.prog.Types.Intern(FuncType{Params: params, Result: b.fn.Result})
	b.fn.Entry = 0
	return b.fn
}
