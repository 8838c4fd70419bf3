// Package symtab implements the SymbolTable: an append-only canonicalization map
// from dense integer handles to operands, shared by every TAC in one batch.
package symtab

import (
	"github.com/bh-ve/vengine/dtype"
	"github.com/bh-ve/vengine/view"
)

// Handle is a dense integer index into a SymbolTable. Handles are only meaningful
// within the SymbolTable that produced them.
type Handle int

// Invalid is the zero-value-adjacent handle no valid operand ever gets, used as a
// sentinel for "no second input" on unary TACs.
const Invalid Handle = -1

type arrayKey struct {
	base   *view.BaseArray
	offset int
	// shape/stride compared by string form to keep the key comparable; canonicalizing
	// on a *view.BaseArray already narrows collisions to views of the same base.
	dims string
}

// SymbolTable canonicalizes operands into handles and tracks, per batch, which
// handles are pure temporaries (produced and consumed only inside this batch).
type SymbolTable struct {
	operands []view.Operand
	byArray  map[arrayKey]Handle

	writers    map[Handle]int // number of TACs in this batch that write this handle
	readers    map[Handle]int // number of TACs in this batch that read this handle
	writtenAll bool           // count_tmp has run

	temp map[Handle]bool
}

// New allocates a SymbolTable pre-sized to capacity entries. Per spec, callers must
// pass 6*N+2 for a batch of N instructions -- this is a hard invariant for fingerprint
// reproducibility across batches with the same instruction count and shape.
func New(capacity int) *SymbolTable {
	if capacity < 0 {
		capacity = 0
	}
	return &SymbolTable{
		operands: make([]view.Operand, 0, capacity),
		byArray:  make(map[arrayKey]Handle, capacity),
		writers:  make(map[Handle]int),
		readers:  make(map[Handle]int),
		temp:     make(map[Handle]bool),
	}
}

func dimsKey(shape, stride []int) string {
	b := make([]byte, 0, 8*(len(shape)+len(stride)))
	for _, d := range shape {
		b = appendInt(b, d)
	}
	b = append(b, '|')
	for _, s := range stride {
		b = appendInt(b, s)
	}
	return string(b)
}

func appendInt(b []byte, v int) []byte {
	// Fast, allocation-light int encoding for map keys; not meant to be human-legible.
	if v < 0 {
		b = append(b, '-')
		v = -v
	}
	start := len(b)
	if v == 0 {
		b = append(b, '0')
	}
	for v > 0 {
		b = append(b, byte('0'+v%10))
		v /= 10
	}
	// reverse the digits just appended
	end := len(b) - 1
	for start < end {
		b[start], b[end] = b[end], b[start]
		start, end = start+1, end-1
	}
	return append(b, ',')
}

func (st *SymbolTable) intern(o view.Operand) Handle {
	h := Handle(len(st.operands))
	st.operands = append(st.operands, o)
	return h
}

// InternView canonicalizes a view into a handle: identical (base, shape, stride,
// offset) always yields the same handle within this SymbolTable.
func (st *SymbolTable) InternView(v view.View) Handle {
	if v.Base == nil {
		return st.intern(view.Operand{View: v, Layout: view.ComputeLayout(v)})
	}
	key := arrayKey{base: v.Base, offset: v.Offset, dims: dimsKey(v.Shape, v.Stride)}
	if h, ok := st.byArray[key]; ok {
		return h
	}
	o := view.Operand{View: v, Layout: view.ComputeLayout(v), DType: v.Base.DType}
	h := st.intern(o)
	st.byArray[key] = h
	return h
}

// InternConstant always allocates a fresh handle tagged Constant: two textually
// identical constants in a batch are never coalesced, matching spec §4.2 ("constants
// get distinct handles").
func (st *SymbolTable) InternConstant(dt dtype.DType) Handle {
	return st.intern(view.Operand{Layout: view.Constant, DType: dt})
}

// Get returns the operand for h. Panics on an out-of-range handle: that is a
// programming invariant violation (spec §3, "every operand referenced by any TAC has
// an entry in the SymbolTable"), not a recoverable error.
func (st *SymbolTable) Get(h Handle) view.Operand {
	return st.operands[h]
}

// Len returns the number of handles allocated so far.
func (st *SymbolTable) Len() int { return len(st.operands) }

// MarkWrite records that some TAC in this batch writes h.
func (st *SymbolTable) MarkWrite(h Handle) {
	if h == Invalid {
		return
	}
	st.writers[h]++
}

// MarkRead records that some TAC in this batch reads h.
func (st *SymbolTable) MarkRead(h Handle) {
	if h == Invalid {
		return
	}
	st.readers[h]++
}

// CountTmp marks handles written exactly once and read at least once, entirely
// within this batch, as scalar-replacement candidates (spec §4.2).
func (st *SymbolTable) CountTmp() {
	for h, writes := range st.writers {
		if writes == 1 && st.readers[h] >= 1 {
			st.temp[h] = true
		}
	}
	st.writtenAll = true
}

// IsTemp reports whether h is a scalar-replacement candidate. Only meaningful after
// CountTmp has run.
func (st *SymbolTable) IsTemp(h Handle) bool {
	return st.temp[h]
}

// Writes and Reads report the recorded write/read counts for h within this batch.
func (st *SymbolTable) Writes(h Handle) int { return st.writers[h] }
func (st *SymbolTable) Reads(h Handle) int  { return st.readers[h] }
