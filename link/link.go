// Package link merges lowered compilation units into one resolved
// SPIR-V module.
//
// Linking runs in two phases. Merge builds the symbol table over all
// units and resolves every call site and entry-point binding by name
// and signature. Finalize then walks the reachable functions in
// canonical order, assigns final identifiers, and assembles the
// binary sections. The legalize package rewrites the merged set
// between the two phases.
package link

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/mir"
	"github.com/gogpu/spvgen/spirv"
)

// DuplicateSymbolError reports two function definitions under one
// symbol. The first definition wins for resolution.
type DuplicateSymbolError struct {
	Symbol string
	First  string // unit of the kept definition
	Second string // unit of the rejected one
	Span   diag.Span
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("duplicate symbol %q: defined in unit %q and again in unit %q",
		e.Symbol, e.First, e.Second)
}

// DiagnosticClass marks the error recoverable.
func (e *DuplicateSymbolError) DiagnosticClass() diag.Class { return diag.UserFacing }

// DiagnosticSpan returns the rejected definition's span.
func (e *DuplicateSymbolError) DiagnosticSpan() diag.Span { return e.Span }

// UnresolvedSymbolError reports a reference to a function no unit
// defines, or one whose definition does not match the referencing
// signature.
type UnresolvedSymbolError struct {
	Symbol string
	Caller string // referencing function symbol, or entry-point name
	Entry  bool   // the reference is an entry-point binding
	Span   diag.Span
	Hint   string
}

func (e *UnresolvedSymbolError) Error() string {
	kind := "function"
	if e.Entry {
		kind = "entry point"
	}
	msg := fmt.Sprintf("unresolved symbol %q referenced from %s %q", e.Symbol, kind, e.Caller)
	if e.Hint != "" {
		msg += "; " + e.Hint
	}
	return msg
}

// DiagnosticClass marks the error recoverable.
func (e *UnresolvedSymbolError) DiagnosticClass() diag.Class { return diag.UserFacing }

// DiagnosticSpan returns the referencing call's span.
func (e *UnresolvedSymbolError) DiagnosticSpan() diag.Span { return e.Span }

// Unit is one lowered compilation unit, the link-side counterpart of
// mir.Unit.
type Unit struct {
	Name  string
	Funcs []*spirv.FuncCode
}

// Set is the merged view over all units: one symbol table with unit
// order preserved. Legalizer passes may remove functions and override
// debug names before finalization.
type Set struct {
	prog   *mir.Program
	units  []*Unit
	funcs  map[string]*spirv.FuncCode
	owner  map[string]string
	fnames map[string]string
	gnames map[mir.GlobalID]string
}

// Merge builds the merged set and resolves every call site and
// entry-point binding. All resolution failures are returned in
// deterministic order: duplicates in unit order, then call sites in
// unit, function, and emission order, then entry points. Each failure
// is recoverable, so callers report them all and keep the session
// alive. The set is returned even on errors, resolved as far as the
// first definition of each symbol allows.
func Merge(prog *mir.Program, units []*Unit) (*Set, []error) {
	s := &Set{
		prog:  prog,
		units: units,
		funcs: make(map[string]*spirv.FuncCode),
		owner: make(map[string]string),
	}
	var errs []error
	for _, u := range units {
		for _, fc := range u.Funcs {
			if prev, ok := s.owner[fc.Symbol]; ok {
				errs = append(errs, &DuplicateSymbolError{
					Symbol: fc.Symbol,
					First:  prev,
					Second: u.Name,
					Span:   fc.Span,
				})
				continue
			}
			s.funcs[fc.Symbol] = fc
			s.owner[fc.Symbol] = u.Name
		}
	}
	for _, fc := range s.Functions() {
		for _, call := range fc.Calls {
			errs = s.resolve(fc, call, errs)
		}
	}
	for _, ep := range prog.EntryPoints {
		if _, ok := s.funcs[ep.Symbol]; !ok {
			errs = append(errs, &UnresolvedSymbolError{
				Symbol: ep.Symbol,
				Caller: ep.Name,
				Entry:  true,
				Hint:   s.closeMatch(ep.Symbol),
			})
		}
	}
	return s, errs
}

// resolve checks one call site against the symbol table.
func (s *Set) resolve(caller *spirv.FuncCode, call spirv.CallSite, errs []error) []error {
	callee, ok := s.funcs[call.Symbol]
	if !ok {
		return append(errs, &UnresolvedSymbolError{
			Symbol: call.Symbol,
			Caller: caller.Symbol,
			Span:   call.Span,
			Hint:   s.closeMatch(call.Symbol),
		})
	}
	if callee.Type == call.Sig {
		return errs
	}
	// Distinct ids can still be one structure when the table's
	// two-phase path produced duplicates.
	if s.prog.Types.Key(callee.Type) == s.prog.Types.Key(call.Sig) {
		return errs
	}
	return append(errs, &UnresolvedSymbolError{
		Symbol: call.Symbol,
		Caller: caller.Symbol,
		Span:   call.Span,
		Hint: fmt.Sprintf("%q is defined with signature %s, the call expects %s",
			call.Symbol, s.prog.Types.Describe(callee.Type), s.prog.Types.Describe(call.Sig)),
	})
}

// closeMatch suggests a defined symbol plausibly meant by want: an
// exact match under case folding, or a name within edit distance two.
// Candidates are tried in sorted order so hints are deterministic.
func (s *Set) closeMatch(want string) string {
	cands := make([]string, 0, len(s.funcs))
	for sym := range s.funcs {
		cands = append(cands, sym)
	}
	sort.Strings(cands)
	for _, c := range cands {
		if strings.EqualFold(c, want) {
			return fmt.Sprintf("did you mean %q?", c)
		}
	}
	if len(want) < 4 {
		return ""
	}
	best, bestDist := "", 3
	for _, c := range cands {
		if d := editDistance(want, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf("did you mean %q?", best)
}

func editDistance(a, b string) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	prev := make([]int, len(a)+1)
	cur := make([]int, len(a)+1)
	for i := range prev {
		prev[i] = i
	}
	for j := 1; j <= len(b); j++ {
		cur[0] = j
		for i := 1; i <= len(a); i++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[i] = min(cur[i-1]+1, prev[i]+1, prev[i-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(a)]
}

// Program returns the session program the units were lowered from.
func (s *Set) Program() *mir.Program { return s.prog }

// Lookup returns the function defining symbol.
func (s *Set) Lookup(symbol string) (*spirv.FuncCode, bool) {
	fc, ok := s.funcs[symbol]
	return fc, ok
}

// Functions returns the live functions in unit order. Rejected
// duplicates and removed functions are excluded.
func (s *Set) Functions() []*spirv.FuncCode {
	var out []*spirv.FuncCode
	for _, u := range s.units {
		for _, fc := range u.Funcs {
			if s.funcs[fc.Symbol] == fc {
				out = append(out, fc)
			}
		}
	}
	return out
}

// Remove drops symbol from the set. Dead-function elimination uses
// this; removing an unknown symbol is a no-op.
func (s *Set) Remove(symbol string) {
	delete(s.funcs, symbol)
	delete(s.owner, symbol)
}

// Roots returns the functions finalization must keep: the ones entry
// points bind to, or every exported function when no entry point is
// declared, or every function when nothing is exported either.
func (s *Set) Roots() []*spirv.FuncCode {
	var out []*spirv.FuncCode
	seen := make(map[string]bool)
	add := func(fc *spirv.FuncCode) {
		if fc != nil && !seen[fc.Symbol] {
			seen[fc.Symbol] = true
			out = append(out, fc)
		}
	}
	for _, ep := range s.prog.EntryPoints {
		add(s.funcs[ep.Symbol])
	}
	if len(s.prog.EntryPoints) > 0 {
		return out
	}
	for _, fc := range s.Functions() {
		if fc.Export {
			add(fc)
		}
	}
	if len(out) > 0 {
		return out
	}
	return s.Functions()
}

// SetDebugName overrides the debug name emitted for a function. The
// uniquification pass uses this to de-collide names.
func (s *Set) SetDebugName(symbol, name string) {
	if s.fnames == nil {
		s.fnames = make(map[string]string)
	}
	s.fnames[symbol] = name
}

// DebugName returns the debug name for a function symbol.
func (s *Set) DebugName(symbol string) string {
	if n, ok := s.fnames[symbol]; ok {
		return n
	}
	return symbol
}

// SetGlobalDebugName overrides the debug name emitted for a global.
func (s *Set) SetGlobalDebugName(g mir.GlobalID, name string) {
	if s.gnames == nil {
		s.gnames = make(map[mir.GlobalID]string)
	}
	s.gnames[g] = name
}

// GlobalDebugName returns the debug name for a global.
func (s *Set) GlobalDebugName(g mir.GlobalID) string {
	if n, ok := s.gnames[g]; ok {
		return n
	}
	return s.prog.Globals[g].Name
}
