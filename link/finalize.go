package link

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/mir"
	"github.com/gogpu/spvgen/spirv"
)

// Options configures finalization.
type Options struct {
	// Version is stamped into the header and drives version-dependent
	// encoding rules. The zero value means 1.5.
	Version spirv.Version
	// DebugNames emits OpName/OpMemberName for functions, globals,
	// and struct members.
	DebugNames bool
}

// Finalize assembles the resolved module: reachable functions in unit
// order, every session handle replaced by a final identifier, sections
// in binary order. Identifiers come from one canonical walk — the
// extended-set import first, then types, constants, and globals in
// order of first use with dependencies before dependents, then
// function ids in unit order, then each function's labels and values
// in emission order. The walk never consults table interning order,
// so the same merged set always produces byte-identical output.
func Finalize(set *Set, opts Options) (*spirv.Module, error) {
	if opts.Version == (spirv.Version{}) {
		opts.Version = spirv.Version1_5
	}
	e := &emitter{
		set:      set,
		prog:     set.prog,
		opts:     opts,
		m:        &spirv.Module{Version: opts.Version},
		next:     1,
		typeIDs:  make(map[string]uint32),
		typeByID: make(map[mir.TypeID]uint32),
		typeBusy: make(map[mir.TypeID]bool),
		constIDs: make(map[mir.ConstID]uint32),
		constKey: make(map[string]uint32),
		globIDs:  make(map[mir.GlobalID]uint32),
		funcIDs:  make(map[string]uint32),
		blockSet: make(map[uint32]bool),
	}

	funcs := e.reachable()
	if usesExtImport(funcs) {
		e.extID = e.alloc()
		e.m.ExtImports = append(e.m.ExtImports,
			spirv.Ins(spirv.OpExtInstImport, spirv.Word(e.extID), spirv.Str(spirv.GLSLExtName)))
	}
	for _, fc := range funcs {
		for _, in := range fc.Code {
			for _, op := range in.Operands {
				switch op.Kind {
				case spirv.OperandType:
					e.typeID(mir.TypeID(op.Word))
				case spirv.OperandConst:
					e.constID(mir.ConstID(op.Word))
				case spirv.OperandGlobal:
					e.globalID(mir.GlobalID(op.Word))
				}
			}
		}
	}
	for _, fc := range funcs {
		e.funcIDs[fc.Symbol] = e.alloc()
	}
	for _, fc := range funcs {
		e.emitFunc(fc)
	}

	e.entryPoints()
	e.capabilities()
	e.m.MemoryModel = spirv.Ins(spirv.OpMemoryModel,
		spirv.Word(uint32(spirv.AddressingLogical)), spirv.Word(uint32(spirv.MemoryGLSL450)))
	if opts.DebugNames {
		e.debugNames(funcs)
	}
	e.m.Bound = e.next
	if e.err != nil {
		return nil, e.err
	}
	return e.m, nil
}

type emitter struct {
	set  *Set
	prog *mir.Program
	opts Options
	m    *spirv.Module

	next     uint32
	typeIDs  map[string]uint32 // resolved structural key -> final id
	typeByID map[mir.TypeID]uint32
	typeBusy map[mir.TypeID]bool
	constIDs map[mir.ConstID]uint32
	constKey map[string]uint32
	globIDs  map[mir.GlobalID]uint32
	funcIDs  map[string]uint32
	extID    uint32
	blockSet map[uint32]bool // struct ids already carrying Block

	names []nameInst
	err   error
}

type nameInst struct {
	id     uint32
	member int // -1 for OpName
	inst   spirv.Instruction
}

func (e *emitter) alloc() uint32 {
	id := e.next
	e.next++
	return id
}

// fail records the first internal failure. Emission keeps going so
// one error surfaces instead of a mid-walk panic.
func (e *emitter) fail(format string, args ...any) uint32 {
	if e.err == nil {
		e.err = diag.Internalf(format, args...)
	}
	return 0
}

// emit appends one instruction to the types/constants/globals section.
func (e *emitter) emit(in spirv.Instruction) {
	e.m.Globals = append(e.m.Globals, in)
}

func (e *emitter) decorate(target uint32, d spirv.Decoration, args ...uint32) {
	ops := []spirv.Operand{spirv.Word(target), spirv.Word(uint32(d))}
	for _, a := range args {
		ops = append(ops, spirv.Word(a))
	}
	e.m.Decorations = append(e.m.Decorations, spirv.Ins(spirv.OpDecorate, ops...))
}

func (e *emitter) decorateMember(target, member uint32, d spirv.Decoration, args ...uint32) {
	ops := []spirv.Operand{spirv.Word(target), spirv.Word(member), spirv.Word(uint32(d))}
	for _, a := range args {
		ops = append(ops, spirv.Word(a))
	}
	e.m.Decorations = append(e.m.Decorations, spirv.Ins(spirv.OpMemberDecorate, ops...))
}

// reachable returns the functions to emit: the breadth-first closure
// of the roots over recorded call sites, kept in unit order.
func (e *emitter) reachable() []*spirv.FuncCode {
	live := make(map[string]bool)
	queue := e.set.Roots()
	for _, fc := range queue {
		live[fc.Symbol] = true
	}
	for len(queue) > 0 {
		fc := queue[0]
		queue = queue[1:]
		for _, call := range fc.Calls {
			callee, ok := e.set.Lookup(call.Symbol)
			if !ok || live[callee.Symbol] {
				continue
			}
			live[callee.Symbol] = true
			queue = append(queue, callee)
		}
	}
	var out []*spirv.FuncCode
	for _, fc := range e.set.Functions() {
		if live[fc.Symbol] {
			out = append(out, fc)
		}
	}
	return out
}

func usesExtImport(funcs []*spirv.FuncCode) bool {
	for _, fc := range funcs {
		for _, in := range fc.Code {
			for _, op := range in.Operands {
				if op.Kind == spirv.OperandExtImport {
					return true
				}
			}
		}
	}
	return false
}

// typeID returns the final id for a session type, emitting its
// declaration (dependencies first) on first use. Deduplication keys
// on the resolved operand words plus the layout decorations, so two
// table ids that only differ through duplicate operand ids still
// collapse to one declaration.
func (e *emitter) typeID(t mir.TypeID) uint32 {
	if id, ok := e.typeByID[t]; ok {
		return id
	}
	desc := e.prog.Types.Get(t)
	if desc == nil {
		return e.fail("type #%d referenced but never defined", t)
	}
	if e.typeBusy[t] {
		return e.fail("type %s is recursive through a pointer and has no logical-addressing form",
			e.prog.Types.Describe(t))
	}
	e.typeBusy[t] = true
	defer delete(e.typeBusy, t)

	var op spirv.OpCode
	var tail []uint32
	var layout string
	switch d := desc.(type) {
	case mir.Void:
		op = spirv.OpTypeVoid
	case mir.Scalar:
		op, tail = scalarTypeOp(d)
	case mir.Vector:
		op = spirv.OpTypeVector
		tail = []uint32{e.typeID(d.Elem), uint32(d.Size)}
	case mir.Matrix:
		op = spirv.OpTypeMatrix
		tail = []uint32{e.typeID(d.Column), uint32(d.Cols)}
	case mir.Array:
		if d.Runtime {
			op = spirv.OpTypeRuntimeArray
			tail = []uint32{e.typeID(d.Elem)}
		} else {
			// The length operand must be an already-declared constant.
			op = spirv.OpTypeArray
			elem := e.typeID(d.Elem)
			u32 := e.prog.Types.Intern(mir.Scalar{Kind: mir.ScalarKindUint, Width: 4})
			length := e.constID(e.prog.Consts.Scalar(u32, uint64(d.Count)))
			tail = []uint32{elem, length}
		}
		layout = fmt.Sprintf("s%d", d.Stride)
	case mir.Struct:
		op = spirv.OpTypeStruct
		var lay strings.Builder
		for _, m := range d.Members {
			tail = append(tail, e.typeID(m.Type))
			fmt.Fprintf(&lay, "@%d/%d", m.Offset, m.MatrixStride)
		}
		layout = lay.String()
	case mir.Pointer:
		op = spirv.OpTypePointer
		tail = []uint32{uint32(spirv.ClassWord(d.Class)), e.typeID(d.Pointee)}
	case mir.FuncType:
		op = spirv.OpTypeFunction
		tail = append(tail, e.typeID(d.Result))
		for _, p := range d.Params {
			tail = append(tail, e.typeID(p))
		}
	default:
		return e.fail("type #%d has unknown descriptor %T", t, desc)
	}

	key := fmt.Sprintf("%d:%v:%s", op, tail, layout)
	if id, ok := e.typeIDs[key]; ok {
		e.typeByID[t] = id
		return id
	}
	id := e.alloc()
	ops := make([]spirv.Operand, 0, len(tail)+1)
	ops = append(ops, spirv.Word(id))
	for _, w := range tail {
		ops = append(ops, spirv.Word(w))
	}
	e.emit(spirv.Ins(op, ops...))
	e.typeDecorations(id, desc)
	e.typeNames(t, id, desc)
	e.typeIDs[key] = id
	e.typeByID[t] = id
	return id
}

func scalarTypeOp(d mir.Scalar) (spirv.OpCode, []uint32) {
	bits := uint32(d.Width) * 8
	switch d.Kind {
	case mir.ScalarKindBool:
		return spirv.OpTypeBool, nil
	case mir.ScalarKindFloat:
		return spirv.OpTypeFloat, []uint32{bits}
	case mir.ScalarKindSint:
		return spirv.OpTypeInt, []uint32{bits, 1}
	default:
		return spirv.OpTypeInt, []uint32{bits, 0}
	}
}

func (e *emitter) typeDecorations(id uint32, desc mir.Descriptor) {
	switch d := desc.(type) {
	case mir.Array:
		if d.Stride != 0 {
			e.decorate(id, spirv.DecorationArrayStride, d.Stride)
		}
	case mir.Struct:
		for i, m := range d.Members {
			e.decorateMember(id, uint32(i), spirv.DecorationOffset, m.Offset)
			if m.MatrixStride != 0 {
				e.decorateMember(id, uint32(i), spirv.DecorationColMajor)
				e.decorateMember(id, uint32(i), spirv.DecorationMatrixStride, m.MatrixStride)
			}
		}
	}
}

func (e *emitter) typeNames(t mir.TypeID, id uint32, desc mir.Descriptor) {
	if !e.opts.DebugNames {
		return
	}
	if d, ok := desc.(mir.Struct); ok {
		for i, m := range d.Members {
			if m.Name != "" {
				e.names = append(e.names, nameInst{id: id, member: i,
					inst: spirv.Ins(spirv.OpMemberName,
						spirv.Word(id), spirv.Word(uint32(i)), spirv.Str(m.Name))})
			}
		}
	}
	if n := e.prog.Types.Name(t); n != "" {
		e.names = append(e.names, nameInst{id: id, member: -1,
			inst: spirv.Ins(spirv.OpName, spirv.Word(id), spirv.Str(n))})
	}
}

// constID returns the final id for a session constant, emitting its
// declaration on first use. Equal values over structurally equal
// types collapse to one declaration.
func (e *emitter) constID(c mir.ConstID) uint32 {
	if id, ok := e.constIDs[c]; ok {
		return id
	}
	k := e.prog.Consts.Get(c)
	tid := e.typeID(k.Type)
	var elems []uint32
	if k.Kind == mir.ConstComposite {
		elems = make([]uint32, len(k.Elems))
		for i, el := range k.Elems {
			elems[i] = e.constID(el)
		}
	}
	key := fmt.Sprintf("%d:%d:%x:%v", k.Kind, tid, k.Bits, elems)
	if id, ok := e.constKey[key]; ok {
		e.constIDs[c] = id
		return id
	}
	id := e.alloc()
	switch k.Kind {
	case mir.ConstScalar:
		e.emit(e.scalarConst(tid, id, k))
	case mir.ConstComposite:
		ops := make([]spirv.Operand, 0, len(elems)+2)
		ops = append(ops, spirv.Word(tid), spirv.Word(id))
		for _, el := range elems {
			ops = append(ops, spirv.Word(el))
		}
		e.emit(spirv.Ins(spirv.OpConstantComposite, ops...))
	case mir.ConstUndef:
		e.emit(spirv.Ins(spirv.OpUndef, spirv.Word(tid), spirv.Word(id)))
	}
	e.constKey[key] = id
	e.constIDs[c] = id
	return id
}

// scalarConst builds one scalar constant declaration. Bool uses the
// dedicated opcodes; 64-bit values split into low and high words.
func (e *emitter) scalarConst(tid, id uint32, k mir.Constant) spirv.Instruction {
	if sc, ok := e.prog.Types.Get(k.Type).(mir.Scalar); ok {
		switch {
		case sc.Kind == mir.ScalarKindBool && k.Bits != 0:
			return spirv.Ins(spirv.OpConstantTrue, spirv.Word(tid), spirv.Word(id))
		case sc.Kind == mir.ScalarKindBool:
			return spirv.Ins(spirv.OpConstantFalse, spirv.Word(tid), spirv.Word(id))
		case sc.Width == 8:
			return spirv.Ins(spirv.OpConstant, spirv.Word(tid), spirv.Word(id),
				spirv.Word(uint32(k.Bits)), spirv.Word(uint32(k.Bits>>32)))
		}
	}
	return spirv.Ins(spirv.OpConstant, spirv.Word(tid), spirv.Word(id), spirv.Word(uint32(k.Bits)))
}

// globalID returns the final id for a module global, emitting its
// pointer type, optional initializer, variable, and decorations on
// first use.
func (e *emitter) globalID(g mir.GlobalID) uint32 {
	if id, ok := e.globIDs[g]; ok {
		return id
	}
	if int(g) >= len(e.prog.Globals) {
		return e.fail("global #%d out of range", g)
	}
	gv := e.prog.Globals[g]
	ptr := e.typeID(e.prog.Types.Intern(mir.Pointer{Pointee: gv.Type, Class: gv.Class}))
	var init uint32
	if gv.Init != nil {
		init = e.constID(*gv.Init)
	}
	id := e.alloc()
	ops := []spirv.Operand{spirv.Word(ptr), spirv.Word(id),
		spirv.Word(uint32(spirv.ClassWord(gv.Class)))}
	if gv.Init != nil {
		ops = append(ops, spirv.Word(init))
	}
	e.emit(spirv.Ins(spirv.OpVariable, ops...))
	if gv.Binding != nil {
		e.decorate(id, spirv.DecorationDescriptorSet, gv.Binding.Group)
		e.decorate(id, spirv.DecorationBinding, gv.Binding.Binding)
	}
	if gv.Location != nil {
		e.decorate(id, spirv.DecorationLocation, *gv.Location)
	}
	if gv.BuiltIn != nil {
		e.decorate(id, spirv.DecorationBuiltIn, uint32(builtinWord(*gv.BuiltIn)))
	}
	if bufferClass(gv.Class) {
		if _, ok := e.prog.Types.Get(gv.Type).(mir.Struct); ok {
			sid := e.typeID(gv.Type)
			if !e.blockSet[sid] {
				e.blockSet[sid] = true
				e.decorate(sid, spirv.DecorationBlock)
			}
		}
	}
	if e.opts.DebugNames {
		if n := e.set.GlobalDebugName(g); n != "" {
			e.names = append(e.names, nameInst{id: id, member: -1,
				inst: spirv.Ins(spirv.OpName, spirv.Word(id), spirv.Str(n))})
		}
	}
	e.globIDs[g] = id
	return id
}

// bufferClass reports whether globals of class c are memory-backed
// resources whose struct pointee carries the Block decoration.
func bufferClass(c mir.StorageClass) bool {
	switch c {
	case mir.ClassUniform, mir.ClassStorage, mir.ClassPushConstant:
		return true
	}
	return false
}

func builtinWord(b mir.BuiltIn) spirv.BuiltIn {
	switch b {
	case mir.BuiltInPosition:
		return spirv.BuiltInPosition
	case mir.BuiltInVertexIndex:
		return spirv.BuiltInVertexIndex
	case mir.BuiltInInstanceIndex:
		return spirv.BuiltInInstanceIndex
	case mir.BuiltInFragCoord:
		return spirv.BuiltInFragCoord
	case mir.BuiltInFragDepth:
		return spirv.BuiltInFragDepth
	case mir.BuiltInWorkgroupID:
		return spirv.BuiltInWorkgroupID
	case mir.BuiltInNumWorkgroups:
		return spirv.BuiltInNumWorkgroups
	case mir.BuiltInLocalInvocationID:
		return spirv.BuiltInLocalInvocationID
	default:
		return spirv.BuiltInGlobalInvocationID
	}
}

// emitFunc renumbers one function body onto final ids and appends it
// to the functions section. The first-use pass has already assigned
// every type, constant, and global this body references.
func (e *emitter) emitFunc(fc *spirv.FuncCode) {
	base := e.next
	if fc.Bound > 0 {
		e.next += fc.Bound - 1
	}
	for _, in := range fc.Code {
		ops := make([]spirv.Operand, len(in.Operands))
		for i, op := range in.Operands {
			switch op.Kind {
			case spirv.OperandWord, spirv.OperandString:
				ops[i] = op
			case spirv.OperandType:
				ops[i] = spirv.Word(e.typeID(mir.TypeID(op.Word)))
			case spirv.OperandConst:
				ops[i] = spirv.Word(e.constID(mir.ConstID(op.Word)))
			case spirv.OperandGlobal:
				ops[i] = spirv.Word(e.globalID(mir.GlobalID(op.Word)))
			case spirv.OperandFunc:
				fid, ok := e.funcIDs[op.Str]
				if !ok {
					e.fail("unresolved function reference %q in %s", op.Str, fc.Symbol)
				}
				ops[i] = spirv.Word(fid)
			case spirv.OperandValue:
				ops[i] = spirv.Word(base + op.Word - 1)
			case spirv.OperandExtImport:
				if e.extID == 0 {
					e.fail("extended-set reference in %s with no import", fc.Symbol)
				}
				ops[i] = spirv.Word(e.extID)
			default:
				e.fail("operand kind %d in %s cannot be resolved", op.Kind, fc.Symbol)
			}
		}
		e.m.Functions = append(e.m.Functions, spirv.Instruction{
			Opcode:   in.Opcode,
			Operands: ops,
			Span:     in.Span,
		})
	}
}

// entryPoints emits OpEntryPoint and the per-stage execution modes.
func (e *emitter) entryPoints() {
	for _, ep := range e.prog.EntryPoints {
		fc, ok := e.set.Lookup(ep.Symbol)
		if !ok {
			continue // merge reported it
		}
		fid, ok := e.funcIDs[fc.Symbol]
		if !ok {
			continue
		}
		ops := []spirv.Operand{
			spirv.Word(uint32(execModel(ep.Stage))),
			spirv.Word(fid),
			spirv.Str(ep.Name),
		}
		for _, gid := range e.interfaceIDs(fc) {
			ops = append(ops, spirv.Word(gid))
		}
		e.m.EntryPoints = append(e.m.EntryPoints, spirv.Ins(spirv.OpEntryPoint, ops...))
		switch ep.Stage {
		case mir.StageFragment:
			e.m.ExecModes = append(e.m.ExecModes, spirv.Ins(spirv.OpExecutionMode,
				spirv.Word(fid), spirv.Word(uint32(spirv.ExecutionModeOriginUpperLeft))))
		case mir.StageCompute:
			size := ep.WorkgroupSize
			for i, v := range size {
				if v == 0 {
					size[i] = 1
				}
			}
			e.m.ExecModes = append(e.m.ExecModes, spirv.Ins(spirv.OpExecutionMode,
				spirv.Word(fid), spirv.Word(uint32(spirv.ExecutionModeLocalSize)),
				spirv.Word(size[0]), spirv.Word(size[1]), spirv.Word(size[2])))
		}
	}
}

func execModel(s mir.Stage) spirv.ExecutionModel {
	switch s {
	case mir.StageVertex:
		return spirv.ExecutionModelVertex
	case mir.StageFragment:
		return spirv.ExecutionModelFragment
	default:
		return spirv.ExecutionModelGLCompute
	}
}

// interfaceIDs collects the globals the entry's call tree references,
// as sorted final ids. Before 1.4 the interface may list only input
// and output variables.
func (e *emitter) interfaceIDs(root *spirv.FuncCode) []uint32 {
	seen := map[string]bool{root.Symbol: true}
	queue := []*spirv.FuncCode{root}
	globals := make(map[mir.GlobalID]bool)
	for len(queue) > 0 {
		fc := queue[0]
		queue = queue[1:]
		for _, in := range fc.Code {
			for _, op := range in.Operands {
				if op.Kind == spirv.OperandGlobal {
					globals[mir.GlobalID(op.Word)] = true
				}
			}
		}
		for _, call := range fc.Calls {
			if callee, ok := e.set.Lookup(call.Symbol); ok && !seen[callee.Symbol] {
				seen[callee.Symbol] = true
				queue = append(queue, callee)
			}
		}
	}
	all := e.opts.Version.AtLeast(1, 4)
	ids := make([]uint32, 0, len(globals))
	for g := range globals {
		if !all {
			c := e.prog.Globals[g].Class
			if c != mir.ClassInput && c != mir.ClassOutput {
				continue
			}
		}
		if id, ok := e.globIDs[g]; ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// capabilities computes the capability and extension sections as the
// union over everything emitted, Shader always included.
func (e *emitter) capabilities() {
	caps := map[spirv.Capability]bool{spirv.CapabilityShader: true}
	exts := make(map[string]bool)
	scan := func(ins []spirv.Instruction) {
		for _, in := range ins {
			cs, xs := spirv.Requires(in, e.opts.Version)
			for _, c := range cs {
				caps[c] = true
			}
			for _, x := range xs {
				exts[x] = true
			}
		}
	}
	scan(e.m.Globals)
	scan(e.m.Functions)
	capList := make([]spirv.Capability, 0, len(caps))
	for c := range caps {
		capList = append(capList, c)
	}
	sort.Slice(capList, func(i, j int) bool { return capList[i] < capList[j] })
	for _, c := range capList {
		e.m.Capabilities = append(e.m.Capabilities,
			spirv.Ins(spirv.OpCapability, spirv.Word(uint32(c))))
	}
	extList := make([]string, 0, len(exts))
	for x := range exts {
		extList = append(extList, x)
	}
	sort.Strings(extList)
	for _, x := range extList {
		e.m.Extensions = append(e.m.Extensions,
			spirv.Ins(spirv.OpExtension, spirv.Str(x)))
	}
}

// debugNames emits OpName for functions plus the names collected
// while declaring types and globals, ordered by target id.
func (e *emitter) debugNames(funcs []*spirv.FuncCode) {
	for _, fc := range funcs {
		fid, ok := e.funcIDs[fc.Symbol]
		if !ok {
			continue
		}
		if n := e.set.DebugName(fc.Symbol); n != "" {
			e.names = append(e.names, nameInst{id: fid, member: -1,
				inst: spirv.Ins(spirv.OpName, spirv.Word(fid), spirv.Str(n))})
		}
	}
	sort.SliceStable(e.names, func(i, j int) bool {
		if e.names[i].id != e.names[j].id {
			return e.names[i].id < e.names[j].id
		}
		return e.names[i].member < e.names[j].member
	})
	for _, n := range e.names {
		e.m.Debug = append(e.m.Debug, n.inst)
	}
}
