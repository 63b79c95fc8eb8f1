// Package spvgen compiles monomorphized CFG IR to SPIR-V binary
// modules.
//
// The input is a mir.Program: a session-wide type table and constant
// pool, globals, entry points, and compilation units of functions in
// control-flow-graph form. Compilation structurizes each function
// into single-entry regions, lowers the region tree to symbolic
// instructions, merges all units, legalizes the result, and assigns
// final identifiers in one deterministic pass before encoding the
// binary words.
//
// Example:
//
//	prog := mir.NewProgram()
//	unit := prog.AddUnit("shader")
//	// ... build functions with mir.NewFuncBuilder ...
//	bin, err := spvgen.Compile(prog)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Individual stages are exposed by the cfg, spirv, link, and legalize
// packages.
package spvgen

import (
	"errors"
	"runtime"
	"sync"

	"github.com/gogpu/spvgen/cfg"
	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/legalize"
	"github.com/gogpu/spvgen/link"
	"github.com/gogpu/spvgen/mir"
	"github.com/gogpu/spvgen/spirv"
)

// Options configures compilation.
type Options struct {
	// Version is the target SPIR-V version (default 1.5).
	Version spirv.Version

	// DebugNames emits OpName/OpMemberName for functions, globals,
	// and struct members.
	DebugNames bool

	// Workers caps the goroutines lowering functions concurrently.
	// Zero means GOMAXPROCS.
	Workers int

	// Validator, when set, receives the encoded module. Returned
	// findings are reported as external diagnostics with their byte
	// offsets mapped back to source spans; an empty return means the
	// module validated.
	Validator func([]byte) []Finding
}

// Finding is one validator report, located by byte offset into the
// encoded module.
type Finding struct {
	Offset  uint32
	Message string
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Version:    spirv.Version1_5,
		DebugNames: true,
	}
}

// Compile compiles prog to a SPIR-V binary module using default
// options.
func Compile(prog *mir.Program) ([]byte, error) {
	return CompileWithOptions(prog, DefaultOptions())
}

// CompileWithOptions compiles prog with custom options.
//
// The pipeline is:
//  1. Structurize and lower every function, across workers
//  2. Merge the lowered units and resolve symbols
//  3. Legalize the merged set
//  4. Finalize identifiers and sections, encode the binary
//
// Failures come back as a diag.List. A user-facing failure skips its
// function and the session keeps going, so one compile surfaces as
// many diagnostics as it can; an internal failure discards all
// partial results.
func CompileWithOptions(prog *mir.Program, opts Options) ([]byte, error) {
	bag := diag.NewBag()
	units := lowerUnits(prog, opts.Workers, bag)
	if bag.Fatal() {
		return nil, bag.List()
	}

	set, errs := link.Merge(prog, units)
	for _, err := range errs {
		fn := ""
		var unres *link.UnresolvedSymbolError
		if errors.As(err, &unres) && !unres.Entry {
			fn = unres.Caller
		}
		bag.AddError(err, fn)
	}

	warns, lerrs := legalize.Run(set)
	for _, d := range warns {
		bag.Add(d)
	}
	for _, err := range lerrs {
		fn := ""
		var dyn *legalize.DynamicStructIndexError
		if errors.As(err, &dyn) {
			fn = dyn.Function
		}
		bag.AddError(err, fn)
	}
	if bag.HasErrors() {
		return nil, bag.List()
	}

	mod, err := link.Finalize(set, link.Options{
		Version:    opts.Version,
		DebugNames: opts.DebugNames,
	})
	if err != nil {
		bag.AddError(err, "")
		return nil, bag.List()
	}
	bin, err := mod.Encode()
	if err != nil {
		bag.AddError(err, "")
		return nil, bag.List()
	}

	if opts.Validator != nil {
		for _, f := range opts.Validator(bin) {
			bag.Add(diag.Diagnostic{
				Severity: diag.SeverityError,
				Class:    diag.External,
				Message:  f.Message,
				Span:     mod.SpanAt(f.Offset),
			})
		}
		if bag.HasErrors() {
			return nil, bag.List()
		}
	}
	return bin, nil
}

// lowerUnits structurizes and lowers every function, fanning the work
// out to workers. Results land in a per-function slot indexed by
// (unit, function) so downstream order never depends on scheduling.
// User-facing failures skip their function; internal failures mark
// the bag fatal.
func lowerUnits(prog *mir.Program, workers int, bag *diag.Bag) []*link.Unit {
	type task struct {
		unit, slot int
		fn         *mir.Function
	}
	var tasks []task
	units := make([]*link.Unit, len(prog.Units))
	slots := make([][]*spirv.FuncCode, len(prog.Units))
	for i, u := range prog.Units {
		units[i] = &link.Unit{Name: u.Name}
		slots[i] = make([]*spirv.FuncCode, len(u.Functions))
		for j, fn := range u.Functions {
			tasks = append(tasks, task{unit: i, slot: j, fn: fn})
		}
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	ch := make(chan task)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tk := range ch {
				fc, err := lowerOne(prog, tk.fn)
				if err != nil {
					bag.AddError(err, tk.fn.Symbol)
					continue
				}
				slots[tk.unit][tk.slot] = fc
			}
		}()
	}
	for _, tk := range tasks {
		ch <- tk
	}
	close(ch)
	wg.Wait()

	for i := range units {
		for _, fc := range slots[i] {
			if fc != nil {
				units[i].Funcs = append(units[i].Funcs, fc)
			}
		}
	}
	return units
}

// lowerOne structurizes one function's CFG and lowers the region
// tree to symbolic instructions.
func lowerOne(prog *mir.Program, fn *mir.Function) (*spirv.FuncCode, error) {
	plan, err := cfg.Structurize(fn)
	if err != nil {
		return nil, err
	}
	return spirv.LowerFunction(prog, plan)
}
