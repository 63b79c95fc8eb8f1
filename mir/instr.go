package mir

// InstrKind is the tagged variant over all instruction operations.
type InstrKind interface {
	instrKind()
}

// BinaryOp is a two-operand arithmetic, bitwise, comparison, or
// logical operation.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShiftLeft
	OpShiftRight
	OpEqual
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpLogicalAnd
	OpLogicalOr
)

func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpRem:
		return "%"
	case OpAnd:
		return "&"
	case OpOr:
		return "|"
	case OpXor:
		return "^"
	case OpShiftLeft:
		return "<<"
	case OpShiftRight:
		return ">>"
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLogicalAnd:
		return "&&"
	case OpLogicalOr:
		return "||"
	default:
		return "?"
	}
}

// UnaryOp is a one-operand operation.
type UnaryOp uint8

const (
	OpNegate UnaryOp = iota
	OpLogicalNot
	OpBitNot
)

// Binary applies a BinaryOp to two values.
type Binary struct {
	Op  BinaryOp
	LHS ValueID
	RHS ValueID
}

// Unary applies a UnaryOp to one value.
type Unary struct {
	Op UnaryOp
	X  ValueID
}

// ConstRef materializes an interned constant as a value.
type ConstRef struct {
	Const ConstID
}

// ParamRef materializes a function parameter as a value.
type ParamRef struct {
	Index uint32
}

// Compose builds a composite value from per-member values.
type Compose struct {
	Args []ValueID
}

// Extract reads one component of a composite value by literal index.
type Extract struct {
	Base  ValueID
	Index uint32
}

// Index derives a pointer to one element of a pointed-to composite.
// The index may be any integer value for arrays, vectors, and matrix
// columns; struct field selection must resolve to a constant by
// legalization time.
type Index struct {
	Base  ValueID
	Index ValueID
}

// LocalAddr takes the address of a function-local variable.
type LocalAddr struct {
	Local LocalID
}

// GlobalAddr takes the address of a module-scope variable.
type GlobalAddr struct {
	Global GlobalID
}

// Load reads through a pointer.
type Load struct {
	Ptr ValueID
}

// Store writes through a pointer. Produces no value.
type Store struct {
	Ptr   ValueID
	Value ValueID
}

// Call invokes a function by linkage symbol; the target may live in
// another unit and is resolved by the linker.
type Call struct {
	Symbol string
	Args   []ValueID
}

// Intrinsic invokes a built-in operation resolved through the static
// (name, argument-shape) recipe table during lowering.
type Intrinsic struct {
	Name string
	Args []ValueID
}

// Convert changes a value's numeric type, with the destination given
// by the instruction's declared type.
type Convert struct {
	X ValueID
}

// Bitcast reinterprets a value's bits as the instruction's declared
// type.
type Bitcast struct {
	X ValueID
}

// Select chooses between two values on a boolean condition.
type Select struct {
	Cond ValueID
	Then ValueID
	Else ValueID
}

// ArrayLength reads the element count of the runtime-sized array in
// member Member of the struct pointed to by Ptr.
type ArrayLength struct {
	Ptr    ValueID
	Member uint32
}

func (Binary) instrKind()      {}
func (Unary) instrKind()       {}
func (ConstRef) instrKind()    {}
func (ParamRef) instrKind()    {}
func (Compose) instrKind()     {}
func (Extract) instrKind()     {}
func (Index) instrKind()       {}
func (LocalAddr) instrKind()   {}
func (GlobalAddr) instrKind()  {}
func (Load) instrKind()        {}
func (Store) instrKind()       {}
func (Call) instrKind()        {}
func (Intrinsic) instrKind()   {}
func (Convert) instrKind()     {}
func (Bitcast) instrKind()     {}
func (Select) instrKind()      {}
func (ArrayLength) instrKind() {}

// HasSideEffects reports whether k writes memory or calls out; used by
// the structurizer's unreachable-code consistency check.
func HasSideEffects(k InstrKind) bool {
	switch k.(type) {
	case Store, Call:
		return true
	default:
		return false
	}
}
