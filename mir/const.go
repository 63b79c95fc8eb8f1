package mir

import (
	"fmt"
	"strconv"
	"sync"
)

// ConstKind discriminates constant flavors in the pool.
type ConstKind uint8

const (
	ConstScalar ConstKind = iota
	ConstComposite
	ConstUndef
)

// Constant is one interned constant value.
type Constant struct {
	Kind  ConstKind
	Type  TypeID
	Bits  uint64 // raw bit pattern for scalars, zero-extended below 64 bits
	Elems []ConstID
}

// ConstPool interns constants, deduplicating scalars per (type, bit
// pattern) and composites per (type, element ids). Aggregates are
// built from already-interned elements. Safe for concurrent interning
// under one coarse mutex.
type ConstPool struct {
	mu     sync.Mutex
	consts []Constant
	keys   map[string]ConstID
	keyBuf []byte
}

// NewConstPool creates an empty pool.
func NewConstPool() *ConstPool {
	return &ConstPool{
		keys: make(map[string]ConstID),
	}
}

// Scalar interns a scalar constant of type t with the given raw bits.
// Boolean constants use bits 0 and 1 over the bool type.
func (p *ConstPool) Scalar(t TypeID, bits uint64) ConstID {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := append(p.keyBuf[:0], 's', ':')
	buf = strconv.AppendUint(buf, uint64(t), 10)
	buf = append(buf, ':')
	buf = strconv.AppendUint(buf, bits, 16)
	p.keyBuf = buf
	return p.intern(string(buf), Constant{Kind: ConstScalar, Type: t, Bits: bits})
}

// Composite interns an aggregate constant from element constants.
func (p *ConstPool) Composite(t TypeID, elems []ConstID) ConstID {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := append(p.keyBuf[:0], 'c', ':')
	buf = strconv.AppendUint(buf, uint64(t), 10)
	for _, e := range elems {
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, uint64(e), 10)
	}
	p.keyBuf = buf
	own := make([]ConstID, len(elems))
	copy(own, elems)
	return p.intern(string(buf), Constant{Kind: ConstComposite, Type: t, Elems: own})
}

// Undef interns the distinguished undefined/poison constant for t.
func (p *ConstPool) Undef(t TypeID) ConstID {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := append(p.keyBuf[:0], 'u', ':')
	buf = strconv.AppendUint(buf, uint64(t), 10)
	p.keyBuf = buf
	return p.intern(string(buf), Constant{Kind: ConstUndef, Type: t})
}

// intern must be called with the mutex held.
func (p *ConstPool) intern(key string, c Constant) ConstID {
	if id, ok := p.keys[key]; ok {
		return id
	}
	id := ConstID(len(p.consts))
	p.consts = append(p.consts, c)
	p.keys[key] = id
	return id
}

// Get returns the constant for id.
func (p *ConstPool) Get(id ConstID) Constant {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(id) >= len(p.consts) {
		panic(fmt.Sprintf("mir: constant id %d out of range", id))
	}
	return p.consts[id]
}

// Len returns the number of interned constants.
func (p *ConstPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.consts)
}
