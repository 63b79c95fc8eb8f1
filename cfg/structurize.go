package cfg

import (
	"github.com/gogpu/spvgen/diag"
	"github.com/gogpu/spvgen/mir"
)

// Plan is the structured form of one function: its dominator tree,
// loop forest, and the region tree covering every reachable block
// exactly once.
type Plan struct {
	Fn    *mir.Function
	Dom   *DomTree
	Loops *LoopForest
	Root  *Sequence
}

// Structurize rebuilds fn's control flow as a region tree. The input
// must be reducible; irreducible flow reports
// IrreducibleControlFlowError. Irregular joins that the region
// vocabulary cannot express, and unreachable blocks containing
// side-effecting code, report internal errors.
func Structurize(fn *mir.Function) (*Plan, error) {
	if len(fn.Blocks) == 0 {
		err := diag.Internalf("function has no blocks")
		err.Function = fn.Symbol
		return nil, err
	}

	dom := NewDomTree(fn)
	loops, err := FindLoops(fn, dom)
	if err != nil {
		return nil, err
	}

	// Dead blocks are dropped from the structured output, so refuse
	// inputs where dropping one would lose a store or call.
	for id := range fn.Blocks {
		b := mir.BlockID(id)
		if dom.Reachable(b) {
			continue
		}
		for _, v := range fn.Blocks[id].Code {
			if mir.HasSideEffects(fn.Instr(v).Kind) {
				ierr := diag.Internalf("unreachable block b%d contains side-effecting code", b)
				ierr.Function = fn.Symbol
				ierr.Span = fn.Instr(v).Span
				return nil, ierr
			}
		}
	}

	s := &structurizer{
		fn:      fn,
		dom:     dom,
		loops:   loops,
		active:  make(map[mir.BlockID]*Loop),
		covered: make(map[mir.BlockID]bool),
	}
	root, err := s.walk(fn.Entry, nil, false)
	if err != nil {
		return nil, err
	}
	for id := range fn.Blocks {
		b := mir.BlockID(id)
		if dom.Reachable(b) && !s.covered[b] {
			ierr := diag.Internalf("block b%d was not placed in the region tree", b)
			ierr.Function = fn.Symbol
			return nil, ierr
		}
	}
	return &Plan{Fn: fn, Dom: dom, Loops: loops, Root: root}, nil
}

type structurizer struct {
	fn    *mir.Function
	dom   *DomTree
	loops *LoopForest

	frames  []*Loop               // loops being emitted, innermost last
	active  map[mir.BlockID]*Loop // same loops, by header
	covered map[mir.BlockID]bool
}

type blockSet map[mir.BlockID]struct{}

func (s blockSet) has(b mir.BlockID) bool {
	_, ok := s[b]
	return ok
}

func (s blockSet) with(b mir.BlockID) blockSet {
	out := make(blockSet, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	out[b] = struct{}{}
	return out
}

// escapes reports whether an edge to b leaves the construct being
// built: a stop block owned by an enclosing selection, or any block
// outside the innermost open loop. The loop's own header counts as an
// escape too, since reaching it again is the back edge.
func (s *structurizer) escapes(b mir.BlockID, stops blockSet) bool {
	if stops.has(b) {
		return true
	}
	if len(s.frames) > 0 {
		l := s.frames[len(s.frames)-1]
		return b == l.Header || !l.Contains(b)
	}
	return false
}

// walk builds the region sequence from start, ending at an escape or
// when control cannot continue. enter forces the first block in, so a
// loop body can begin at its own header.
func (s *structurizer) walk(start mir.BlockID, stops blockSet, enter bool) (*Sequence, error) {
	seq := &Sequence{}
	cur := start
	for cur != mir.NoBlock {
		if !enter && s.escapes(cur, stops) {
			break
		}
		enter = false

		if l := s.loops.HeaderLoop(cur); l != nil && s.active[cur] == nil {
			region, next, err := s.buildLoop(l, stops)
			if err != nil {
				return nil, err
			}
			seq.Regions = append(seq.Regions, region)
			cur = next
			continue
		}

		if s.covered[cur] {
			err := diag.Internalf("block b%d is reached on two control paths that never formally converge", cur)
			err.Function = s.fn.Symbol
			return nil, err
		}
		s.covered[cur] = true

		b := &s.fn.Blocks[cur]
		switch t := b.Term.(type) {
		case mir.Branch:
			seq.Regions = append(seq.Regions, Leaf{Block: cur})
			cur = t.Target
		case mir.Return, mir.Unreachable:
			seq.Regions = append(seq.Regions, Leaf{Block: cur})
			cur = mir.NoBlock
		case mir.CondBranch:
			region, next, err := s.buildIf(cur, t, stops)
			if err != nil {
				return nil, err
			}
			seq.Regions = append(seq.Regions, region)
			cur = next
		case mir.Switch:
			region, next, err := s.buildSwitch(cur, t, stops)
			if err != nil {
				return nil, err
			}
			seq.Regions = append(seq.Regions, region)
			cur = next
		default:
			err := diag.Internalf("block b%d has no terminator", cur)
			err.Function = s.fn.Symbol
			return nil, err
		}
	}
	return seq, nil
}

// buildLoop structurizes one natural loop and the dispatch arms of
// its exits, returning the block where the enclosing sequence
// resumes.
func (s *structurizer) buildLoop(l *Loop, stops blockSet) (*LoopRegion, mir.BlockID, error) {
	s.frames = append(s.frames, l)
	s.active[l.Header] = l
	body, err := s.walk(l.Header, stops, true)
	s.frames = s.frames[:len(s.frames)-1]
	delete(s.active, l.Header)
	if err != nil {
		return nil, mir.NoBlock, err
	}

	// Exit targets that leave an enclosing construct as well are
	// resolved by position, not by code of their own; only the rest
	// can converge into a continuation.
	local := make([]mir.BlockID, 0, len(l.Exits))
	for _, t := range l.Exits {
		if !s.escapes(t, stops) {
			local = append(local, t)
		}
	}
	cont := s.converge(local, stops)

	armStops := stops
	if cont != mir.NoBlock {
		armStops = stops.with(cont)
	}
	exits := make([]LoopExit, len(l.Exits))
	for i, t := range l.Exits {
		arm, err := s.armFor(t, cont, stops, armStops)
		if err != nil {
			return nil, mir.NoBlock, err
		}
		exits[i] = LoopExit{Target: t, Arm: arm}
	}

	region := &LoopRegion{
		Header:       l.Header,
		Body:         body,
		Exits:        exits,
		Continuation: cont,
	}
	return region, cont, nil
}

// buildIf structurizes a two-way branch. Arms that immediately leave
// the construct, or that are the merge itself, stay nil and are
// resolved from their recorded targets.
func (s *structurizer) buildIf(head mir.BlockID, t mir.CondBranch, stops blockSet) (*If, mir.BlockID, error) {
	seeds := s.localSeeds([]mir.BlockID{t.Then, t.Else}, stops)
	m := s.converge(seeds, stops)

	region := &If{
		Head:       head,
		HeadCode:   true,
		Cond:       t.Cond,
		ThenTarget: t.Then,
		ElseTarget: t.Else,
		Merge:      m,
	}
	armStops := stops
	if m != mir.NoBlock {
		armStops = stops.with(m)
	}
	var err error
	if region.Then, err = s.armFor(t.Then, m, stops, armStops); err != nil {
		return nil, mir.NoBlock, err
	}
	if region.Else, err = s.armFor(t.Else, m, stops, armStops); err != nil {
		return nil, mir.NoBlock, err
	}
	return region, m, nil
}

// buildSwitch expands a switch terminator into a chain of selections,
// one link per distinct case target, with the default as the final
// else. All links share the head block's selector and converge on the
// same merge. Cases targeting the default fold into it.
func (s *structurizer) buildSwitch(head mir.BlockID, t mir.Switch, stops blockSet) (Region, mir.BlockID, error) {
	type switchArm struct {
		target mir.BlockID
		values []uint64
	}
	var arms []switchArm
	index := make(map[mir.BlockID]int)
	for _, c := range t.Cases {
		if c.Target == t.Default {
			continue
		}
		if i, ok := index[c.Target]; ok {
			arms[i].values = append(arms[i].values, c.Value)
			continue
		}
		index[c.Target] = len(arms)
		arms = append(arms, switchArm{target: c.Target, values: []uint64{c.Value}})
	}

	// Every case lands on the default: plain control transfer.
	if len(arms) == 0 {
		return Leaf{Block: head}, t.Default, nil
	}

	targets := make([]mir.BlockID, 0, len(arms)+1)
	for _, a := range arms {
		targets = append(targets, a.target)
	}
	targets = append(targets, t.Default)
	m := s.converge(s.localSeeds(targets, stops), stops)

	armStops := stops
	if m != mir.NoBlock {
		armStops = stops.with(m)
	}

	last := len(arms) - 1
	link := &If{
		Head:       head,
		HeadCode:   last == 0,
		Cond:       t.Selector,
		Cases:      arms[last].values,
		ThenTarget: arms[last].target,
		ElseTarget: t.Default,
		Merge:      m,
	}
	var err error
	if link.Then, err = s.armFor(arms[last].target, m, stops, armStops); err != nil {
		return nil, mir.NoBlock, err
	}
	if link.Else, err = s.armFor(t.Default, m, stops, armStops); err != nil {
		return nil, mir.NoBlock, err
	}
	for i := last - 1; i >= 0; i-- {
		outer := &If{
			Head:       head,
			HeadCode:   i == 0,
			Cond:       t.Selector,
			Cases:      arms[i].values,
			ThenTarget: arms[i].target,
			ElseTarget: mir.NoBlock, // else is the next link
			Else:       &Sequence{Regions: []Region{link}},
			Merge:      m,
		}
		if outer.Then, err = s.armFor(arms[i].target, m, stops, armStops); err != nil {
			return nil, mir.NoBlock, err
		}
		link = outer
	}
	return link, m, nil
}

// armFor walks one branch arm until the merge. Arms that escape or
// that are the merge itself carry no code.
func (s *structurizer) armFor(target, merge mir.BlockID, stops, armStops blockSet) (*Sequence, error) {
	if target == merge || s.escapes(target, stops) {
		return nil, nil
	}
	return s.walk(target, armStops, false)
}

// localSeeds filters branch targets down to the distinct ones the
// current construct keeps, in source order.
func (s *structurizer) localSeeds(targets []mir.BlockID, stops blockSet) []mir.BlockID {
	seeds := make([]mir.BlockID, 0, len(targets))
	for _, t := range targets {
		if s.escapes(t, stops) {
			continue
		}
		dup := false
		for _, prev := range seeds {
			if prev == t {
				dup = true
				break
			}
		}
		if !dup {
			seeds = append(seeds, t)
		}
	}
	return seeds
}

// converge finds the block where the flows starting at seeds first
// meet: breadth-first search advances every flow in turn, and the
// first block claimed by a second flow is the merge. One seed is its
// own merge; flows that never meet yield NoBlock.
func (s *structurizer) converge(seeds []mir.BlockID, stops blockSet) mir.BlockID {
	if len(seeds) == 0 {
		return mir.NoBlock
	}
	if len(seeds) == 1 {
		return seeds[0]
	}
	owner := make(map[mir.BlockID]int, 2*len(seeds))
	queues := make([][]mir.BlockID, len(seeds))
	for i, b := range seeds {
		owner[b] = i
		queues[i] = []mir.BlockID{b}
	}
	for {
		progress := false
		for i := range queues {
			if len(queues[i]) == 0 {
				continue
			}
			b := queues[i][0]
			queues[i] = queues[i][1:]
			progress = true
			for _, succ := range s.dom.Succs(b) {
				if s.escapes(succ, stops) {
					continue
				}
				if j, ok := owner[succ]; ok {
					if j != i {
						return succ
					}
					continue
				}
				owner[succ] = i
				queues[i] = append(queues[i], succ)
			}
		}
		if !progress {
			return mir.NoBlock
		}
	}
}
