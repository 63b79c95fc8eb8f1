package link

import (
	"math"
	"reflect"
	"testing"

	"github.com/gogpu/spvgen/mir"
	"github.com/gogpu/spvgen/spirv"
)

func mergeOne(t *testing.T, prog *mir.Program, fns ...*spirv.FuncCode) *Set {
	t.Helper()
	set, errs := Merge(prog, []*Unit{{Name: "u", Funcs: fns}})
	if len(errs) != 0 {
		t.Fatalf("merge errors: %v", errs)
	}
	return set
}

func finalize(t *testing.T, set *Set, opts Options) *spirv.Module {
	t.Helper()
	mod, err := Finalize(set, opts)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return mod
}

func countOp(ins []spirv.Instruction, op spirv.OpCode) int {
	n := 0
	for _, in := range ins {
		if in.Opcode == op {
			n++
		}
	}
	return n
}

// hasInstr reports whether ins contains an instruction with the given
// opcode and exact word operands.
func hasInstr(ins []spirv.Instruction, op spirv.OpCode, words ...uint32) bool {
	for _, in := range ins {
		if in.Opcode != op || len(in.Operands) != len(words) {
			continue
		}
		match := true
		for i, w := range words {
			if in.Operands[i].Word != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// findVariable returns the result id of the module-scope OpVariable
// declared in the given storage class.
func findVariable(t *testing.T, mod *spirv.Module, class uint32) uint32 {
	t.Helper()
	for _, in := range mod.Globals {
		if in.Opcode == spirv.OpVariable && in.Operands[2].Word == class {
			return in.Operands[1].Word
		}
	}
	t.Fatalf("no OpVariable with storage class %d", class)
	return 0
}

func TestFinalizeMinimalModule(t *testing.T) {
	prog := mir.NewProgram()
	fc := voidFn(t, prog, "main", true)
	mod := finalize(t, mergeOne(t, prog, fc), Options{})

	if len(mod.Globals) != 2 {
		t.Fatalf("globals section has %d instructions, want void + function type", len(mod.Globals))
	}
	if mod.Globals[0].Opcode != spirv.OpTypeVoid || mod.Globals[0].Operands[0].Word != 1 {
		t.Fatalf("first declaration = %v, want OpTypeVoid %%1", mod.Globals[0])
	}
	if mod.Globals[1].Opcode != spirv.OpTypeFunction ||
		mod.Globals[1].Operands[0].Word != 2 || mod.Globals[1].Operands[1].Word != 1 {
		t.Fatalf("second declaration = %v, want OpTypeFunction %%2 %%1", mod.Globals[1])
	}

	wantOps := []spirv.OpCode{spirv.OpFunction, spirv.OpLabel, spirv.OpBranch,
		spirv.OpLabel, spirv.OpReturn, spirv.OpFunctionEnd}
	if len(mod.Functions) != len(wantOps) {
		t.Fatalf("function body has %d instructions, want %d", len(mod.Functions), len(wantOps))
	}
	for i, op := range wantOps {
		if mod.Functions[i].Opcode != op {
			t.Fatalf("body[%d] = %v, want %v", i, mod.Functions[i].Opcode, op)
		}
	}
	fn := mod.Functions[0]
	if fn.Operands[0].Word != 1 || fn.Operands[1].Word != 3 ||
		fn.Operands[2].Word != 0 || fn.Operands[3].Word != 2 {
		t.Fatalf("OpFunction operands = %v, want result type 1, id 3, control 0, type 2", fn.Operands)
	}
	if mod.Functions[1].Operands[0].Word != 4 || mod.Functions[3].Operands[0].Word != 5 {
		t.Fatal("body labels should take ids 4 and 5 in emission order")
	}
	if mod.Functions[2].Operands[0].Word != 5 {
		t.Fatal("entry branch should target the first structured block")
	}
	if mod.Bound != 6 {
		t.Fatalf("Bound = %d, want 6", mod.Bound)
	}

	if len(mod.Capabilities) != 1 ||
		mod.Capabilities[0].Operands[0].Word != uint32(spirv.CapabilityShader) {
		t.Fatalf("capabilities = %v, want Shader only", mod.Capabilities)
	}
	mm := mod.MemoryModel
	if mm.Operands[0].Word != uint32(spirv.AddressingLogical) ||
		mm.Operands[1].Word != uint32(spirv.MemoryGLSL450) {
		t.Fatalf("memory model = %v, want Logical GLSL450", mm.Operands)
	}
	if len(mod.EntryPoints) != 0 || len(mod.ExecModes) != 0 ||
		len(mod.Extensions) != 0 || len(mod.Debug) != 0 {
		t.Fatal("sections beyond the minimum should be empty")
	}

	words, err := mod.EncodeWords()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if words[0] != spirv.MagicNumber {
		t.Fatalf("header magic = %#x", words[0])
	}
	if words[1] != spirv.Version1_5.Word() {
		t.Fatalf("header version = %#x, want the 1.5 default", words[1])
	}
	if words[3] != mod.Bound || words[4] != 0 {
		t.Fatalf("header bound/schema = %d/%d", words[3], words[4])
	}
}

// TestFinalizeDeterministicOutput interns session-table noise in two
// different orders and expects byte-identical words both times:
// identifiers follow first use in the emitted module, never table
// order.
func TestFinalizeDeterministicOutput(t *testing.T) {
	build := func(noise func(p *mir.Program)) []uint32 {
		prog := mir.NewProgram()
		noise(prog)
		b := mir.NewFuncBuilder(prog, "main").Export()
		f32 := b.TypeF32()
		b.SetResult(f32)
		b.At(b.Block())
		b.ReturnValue(b.F32(1.5))
		fc := lowerFn(t, prog, b.Finish())
		mod := finalize(t, mergeOne(t, prog, fc), Options{})
		words, err := mod.EncodeWords()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return words
	}
	first := build(func(p *mir.Program) {
		p.Types.Intern(mir.Scalar{Kind: mir.ScalarKindFloat, Width: 8})
		p.Types.Intern(mir.Scalar{Kind: mir.ScalarKindSint, Width: 2})
	})
	second := build(func(p *mir.Program) {
		p.Types.Intern(mir.Scalar{Kind: mir.ScalarKindSint, Width: 2})
		p.Types.Intern(mir.Scalar{Kind: mir.ScalarKindFloat, Width: 8})
	})
	if !reflect.DeepEqual(first, second) {
		t.Fatal("interning order leaked into the encoded words")
	}
}

// TestFinalizeDropsUnusedDeclarations interns types the function never
// touches and expects them absent from the emitted module.
func TestFinalizeDropsUnusedDeclarations(t *testing.T) {
	prog := mir.NewProgram()
	prog.Types.Intern(mir.Scalar{Kind: mir.ScalarKindFloat, Width: 8})
	u32 := prog.Types.Intern(mir.Scalar{Kind: mir.ScalarKindUint, Width: 4})
	prog.Consts.Scalar(u32, 41)
	fc := voidFn(t, prog, "main", true)
	mod := finalize(t, mergeOne(t, prog, fc), Options{})
	if hasInstr(mod.Globals, spirv.OpTypeFloat, 64) || countOp(mod.Globals, spirv.OpConstant) != 0 {
		t.Fatal("unused table entries must not be declared")
	}
	if len(mod.Globals) != 2 {
		t.Fatalf("globals section has %d instructions, want 2", len(mod.Globals))
	}
}

// buildFragment assembles a one-function fragment pipeline: a uniform
// block read and an output write, bound to entry point "main".
func buildFragment(t *testing.T) *Set {
	t.Helper()
	prog := mir.NewProgram()
	f32 := prog.Types.Intern(mir.Scalar{Kind: mir.ScalarKindFloat, Width: 4})
	uni := prog.Types.Intern(mir.Struct{Members: []mir.StructMember{
		{Name: "x", Type: f32, Offset: 0},
	}})
	prog.Types.SetName(uni, "Uniforms")
	loc := uint32(0)
	ubo := prog.AddGlobal(mir.GlobalVar{Name: "ubo", Class: mir.ClassUniform, Type: uni,
		Binding: &mir.Binding{Group: 0, Binding: 1}})
	out := prog.AddGlobal(mir.GlobalVar{Name: "color", Class: mir.ClassOutput, Type: f32,
		Location: &loc})
	prog.AddEntryPoint(mir.EntryPoint{Name: "main", Stage: mir.StageFragment, Symbol: "fs_main"})

	b := mir.NewFuncBuilder(prog, "fs_main")
	b.At(b.Block())
	pf32 := prog.Types.Intern(mir.Pointer{Pointee: f32, Class: mir.ClassUniform})
	fld := b.Index(pf32, b.GlobalAddr(ubo), b.U32(0))
	b.Store(b.GlobalAddr(out), b.Load(f32, fld))
	b.Return()
	fc := lowerFn(t, prog, b.Finish())
	return mergeOne(t, prog, fc)
}

func TestFinalizeEntryPointInterface(t *testing.T) {
	set := buildFragment(t)

	mod := finalize(t, set, Options{Version: spirv.Version1_3})
	if len(mod.EntryPoints) != 1 {
		t.Fatalf("entry points = %d, want 1", len(mod.EntryPoints))
	}
	ep := mod.EntryPoints[0]
	if ep.Operands[0].Word != uint32(spirv.ExecutionModelFragment) {
		t.Fatalf("execution model = %d", ep.Operands[0].Word)
	}
	if ep.Operands[2].Str != "main" {
		t.Fatalf("entry name = %q", ep.Operands[2].Str)
	}
	outID := findVariable(t, mod, uint32(spirv.StorageClassOutput))
	if n := len(ep.Operands); n != 4 || ep.Operands[3].Word != outID {
		t.Fatalf("1.3 interface = %v, want the output variable %d only", ep.Operands[3:], outID)
	}
	fid := ep.Operands[1].Word
	if !hasInstr(mod.ExecModes, spirv.OpExecutionMode, fid,
		uint32(spirv.ExecutionModeOriginUpperLeft)) {
		t.Fatal("fragment entry must carry OriginUpperLeft")
	}

	mod15 := finalize(t, set, Options{Version: spirv.Version1_5})
	ep15 := mod15.EntryPoints[0]
	if n := len(ep15.Operands); n != 5 {
		t.Fatalf("1.5 interface lists %d ids, want every referenced global", n-3)
	}
	if ep15.Operands[3].Word >= ep15.Operands[4].Word {
		t.Fatal("interface ids must be sorted ascending")
	}
}

func TestFinalizeDecorations(t *testing.T) {
	set := buildFragment(t)
	mod := finalize(t, set, Options{Version: spirv.Version1_3})
	outID := findVariable(t, mod, uint32(spirv.StorageClassOutput))
	uboID := findVariable(t, mod, uint32(spirv.StorageClassUniform))
	if !hasInstr(mod.Decorations, spirv.OpDecorate, outID, uint32(spirv.DecorationLocation), 0) {
		t.Fatal("output variable missing Location 0")
	}
	if !hasInstr(mod.Decorations, spirv.OpDecorate, uboID, uint32(spirv.DecorationDescriptorSet), 0) {
		t.Fatal("uniform variable missing DescriptorSet 0")
	}
	if !hasInstr(mod.Decorations, spirv.OpDecorate, uboID, uint32(spirv.DecorationBinding), 1) {
		t.Fatal("uniform variable missing Binding 1")
	}
	var sid uint32
	for _, in := range mod.Globals {
		if in.Opcode == spirv.OpTypeStruct {
			sid = in.Operands[0].Word
		}
	}
	if sid == 0 {
		t.Fatal("struct type not declared")
	}
	if !hasInstr(mod.Decorations, spirv.OpDecorate, sid, uint32(spirv.DecorationBlock)) {
		t.Fatal("uniform block struct missing Block")
	}
	if !hasInstr(mod.Decorations, spirv.OpMemberDecorate, sid, 0, uint32(spirv.DecorationOffset), 0) {
		t.Fatal("struct member missing Offset")
	}
}

func TestFinalizeCapabilitiesAndExtensions(t *testing.T) {
	prog := mir.NewProgram()
	f32 := prog.Types.Intern(mir.Scalar{Kind: mir.ScalarKindFloat, Width: 4})
	buf := prog.Types.Intern(mir.Struct{Members: []mir.StructMember{
		{Name: "data", Type: f32, Offset: 0},
	}})
	sb := prog.AddGlobal(mir.GlobalVar{Name: "buf", Class: mir.ClassStorage, Type: buf,
		Binding: &mir.Binding{Group: 0, Binding: 0}})

	b := mir.NewFuncBuilder(prog, "k").Export()
	f64 := b.TypeF64()
	b.SetResult(f64)
	b.At(b.Block())
	pf32 := prog.Types.Intern(mir.Pointer{Pointee: f32, Class: mir.ClassStorage})
	b.Load(f32, b.Index(pf32, b.GlobalAddr(sb), b.U32(0)))
	b.ReturnValue(b.F64(2))
	fc := lowerFn(t, prog, b.Finish())
	set := mergeOne(t, prog, fc)

	mod := finalize(t, set, Options{Version: spirv.Version1_0})
	if len(mod.Capabilities) != 2 ||
		mod.Capabilities[0].Operands[0].Word != uint32(spirv.CapabilityShader) ||
		mod.Capabilities[1].Operands[0].Word != uint32(spirv.CapabilityFloat64) {
		t.Fatalf("capabilities = %v, want [Shader Float64]", mod.Capabilities)
	}
	if len(mod.Extensions) != 1 || mod.Extensions[0].Operands[0].Str != spirv.ExtStorageBufferClass {
		t.Fatalf("extensions = %v, want the storage-buffer class extension below 1.3", mod.Extensions)
	}

	mod13 := finalize(t, set, Options{Version: spirv.Version1_3})
	if len(mod13.Extensions) != 0 {
		t.Fatalf("extensions at 1.3 = %v, want none", mod13.Extensions)
	}
}

func TestFinalizeSkipsUnreachable(t *testing.T) {
	prog := mir.NewProgram()
	prog.AddEntryPoint(mir.EntryPoint{Name: "main", Stage: mir.StageCompute,
		Symbol: "cs_main", WorkgroupSize: [3]uint32{8, 0, 0}})
	cs := voidFn(t, prog, "cs_main", false)

	b := mir.NewFuncBuilder(prog, "wide")
	f64 := b.TypeF64()
	b.SetResult(f64)
	b.At(b.Block())
	b.ReturnValue(b.F64(1))
	wide := lowerFn(t, prog, b.Finish())

	set := mergeOne(t, prog, cs, wide)
	mod := finalize(t, set, Options{})
	if n := countOp(mod.Functions, spirv.OpFunction); n != 1 {
		t.Fatalf("emitted %d functions, want the entry only", n)
	}
	if hasInstr(mod.Capabilities, spirv.OpCapability, uint32(spirv.CapabilityFloat64)) {
		t.Fatal("unreached f64 helper must not demand Float64")
	}
	if len(mod.ExecModes) != 1 {
		t.Fatalf("exec modes = %d, want 1", len(mod.ExecModes))
	}
	em := mod.ExecModes[0]
	if em.Operands[1].Word != uint32(spirv.ExecutionModeLocalSize) ||
		em.Operands[2].Word != 8 || em.Operands[3].Word != 1 || em.Operands[4].Word != 1 {
		t.Fatalf("LocalSize operands = %v, want 8 1 1 with zeroes defaulted", em.Operands)
	}
}

func TestFinalizeDebugNames(t *testing.T) {
	set := buildFragment(t)
	mod := finalize(t, set, Options{DebugNames: true})

	names := make(map[string]bool)
	for _, in := range mod.Debug {
		switch in.Opcode {
		case spirv.OpName:
			names[in.Operands[1].Str] = true
		case spirv.OpMemberName:
			names["."+in.Operands[2].Str] = true
		}
	}
	for _, want := range []string{"fs_main", "ubo", "color", "Uniforms", ".x"} {
		if !names[want] {
			t.Errorf("debug section missing name %q", want)
		}
	}
	for i := 1; i < len(mod.Debug); i++ {
		if mod.Debug[i].Operands[0].Word < mod.Debug[i-1].Operands[0].Word {
			t.Fatal("debug names must be ordered by target id")
		}
	}

	set.SetDebugName("fs_main", "fs_main.1")
	renamed := finalize(t, set, Options{DebugNames: true})
	found := false
	for _, in := range renamed.Debug {
		if in.Opcode == spirv.OpName && in.Operands[1].Str == "fs_main.1" {
			found = true
		}
	}
	if !found {
		t.Fatal("debug name override not emitted")
	}

	bare := finalize(t, set, Options{DebugNames: false})
	if len(bare.Debug) != 0 {
		t.Fatalf("debug section with names disabled = %v, want empty", bare.Debug)
	}
}

// TestFinalizeDedupesDuplicateTypes drives the reserve/define path to
// produce a second table id for f32 and checks that declarations,
// pointers, and constants over the duplicate collapse onto one id.
func TestFinalizeDedupesDuplicateTypes(t *testing.T) {
	prog := mir.NewProgram()
	f32 := prog.Types.Intern(mir.Scalar{Kind: mir.ScalarKindFloat, Width: 4})
	dup := prog.Types.Reserve()
	if err := prog.Types.Define(dup, mir.Scalar{Kind: mir.ScalarKindFloat, Width: 4}); err != nil {
		t.Fatalf("define: %v", err)
	}
	one := uint64(math.Float32bits(1))
	ca := prog.Consts.Scalar(f32, one)
	cb := prog.Consts.Scalar(dup, one)

	b := mir.NewFuncBuilder(prog, "k").Export()
	b.LocalInit("a", f32, ca)
	b.LocalInit("b", dup, cb)
	b.At(b.Block())
	b.Return()
	fc := lowerFn(t, prog, b.Finish())
	mod := finalize(t, mergeOne(t, prog, fc), Options{})

	if n := countOp(mod.Globals, spirv.OpTypeFloat); n != 1 {
		t.Fatalf("declared %d float types, want 1", n)
	}
	if n := countOp(mod.Globals, spirv.OpTypePointer); n != 1 {
		t.Fatalf("declared %d pointer types, want 1", n)
	}
	if n := countOp(mod.Globals, spirv.OpConstant); n != 1 {
		t.Fatalf("declared %d constants, want 1", n)
	}
	var vars []spirv.Instruction
	for _, in := range mod.Functions {
		if in.Opcode == spirv.OpVariable {
			vars = append(vars, in)
		}
	}
	if len(vars) != 2 {
		t.Fatalf("lowered %d locals, want 2", len(vars))
	}
	if vars[0].Operands[0].Word != vars[1].Operands[0].Word {
		t.Fatal("locals over duplicate types should share one pointer type id")
	}
	if vars[0].Operands[3].Word != vars[1].Operands[3].Word {
		t.Fatal("initializers over duplicate types should share one constant id")
	}
}
