package block

import (
	"github.com/bh-ve/vengine/dag"
	"github.com/bh-ve/vengine/symtab"
	"github.com/bh-ve/vengine/tac"
	"github.com/bh-ve/vengine/view"
)

// Fuser sweeps a composed Block left to right, splitting it into fuse ranges,
// deciding scalar replacement within each range, and (separately) merging adjacent
// blocks that are data-parallel compatible.
type Fuser struct{}

// ComputeRanges implements spec §4.4's range-splitting rules, in order:
//
//  1. SYSTEM/NOOP TACs are skipped: they neither close the current range nor join
//     it (the corrected Open Question semantics: "SYSTEM or NOOP TACs are skipped",
//     not the source's self-contradictory `&&`).
//  2. Any op not in {MAP, ZIP} closes the current range and starts a singleton range
//     containing just that TAC.
//  3. An output operand incompatible (view.Compatible) with the output of the first
//     TAC of the current range closes it; input operands are not compared.
func (Fuser) ComputeRanges(b *Block, st *symtab.SymbolTable) []Range {
	var ranges []Range
	start := -1
	var refOut symtab.Handle

	closeOpen := func(end int) {
		if start >= 0 {
			ranges = append(ranges, Range{Start: start, End: end})
			start = -1
		}
	}

	for i, t := range b.TACs {
		switch {
		case t.Op == tac.SYSTEM || t.Op == tac.NOOP:
			continue
		case t.Op != tac.MAP && t.Op != tac.ZIP:
			closeOpen(i)
			ranges = append(ranges, Range{Start: i, End: i + 1})
		default:
			if start < 0 {
				start = i
				refOut = t.Out
				continue
			}
			if refOut != symtab.Invalid && t.Out != symtab.Invalid && !view.Compatible(st.Get(refOut), st.Get(t.Out)) {
				closeOpen(i)
				start = i
				refOut = t.Out
			}
		}
	}
	closeOpen(len(b.TACs))
	return ranges
}

// ApplyScalarReplacement marks, among st's temp handles, those whose sole producer
// and sole consumer both fall inside the same range of b: they become register-
// resident in the generated kernel, with no base buffer and no FREE (spec §4.4).
func (Fuser) ApplyScalarReplacement(b *Block, st *symtab.SymbolTable) {
	rangeOf := make(map[int]int, len(b.TACs))
	for ri, r := range b.Ranges {
		for i := r.Start; i < r.End; i++ {
			rangeOf[i] = ri
		}
	}

	producer := make(map[symtab.Handle]int)
	consumer := make(map[symtab.Handle]int)
	for i, t := range b.TACs {
		if t.Out != symtab.Invalid {
			if _, seen := producer[t.Out]; !seen {
				producer[t.Out] = i
			}
		}
		for _, h := range [...]symtab.Handle{t.In1, t.In2} {
			if h == symtab.Invalid {
				continue
			}
			if _, seen := consumer[h]; !seen {
				consumer[h] = i
			}
		}
	}

	for h, pIdx := range producer {
		if !st.IsTemp(h) {
			continue
		}
		// A handle read anywhere outside this block -- in particular by a TAC in a
		// different subgraph that this fuse range can't see -- must keep a real base
		// buffer. The in-block consumer map only ever sees the first in-block
		// reference, so it can't by itself rule that out; st.Reads is the batch-wide
		// count and is what actually does.
		if st.Reads(h) != 1 {
			continue
		}
		cIdx, ok := consumer[h]
		if !ok {
			continue
		}
		pr, pOK := rangeOf[pIdx]
		cr, cOK := rangeOf[cIdx]
		if pOK && cOK && pr == cr {
			b.ScalarReplaced[h] = true
		}
	}
}

// Fuse runs the full per-subgraph fusion pipeline: compose, split into ranges, apply
// scalar replacement, then recompute the fingerprint. This is what Engine's fuse_mode
// calls for a subgraph whose omask clears NON_FUSABLE and intersects ARRAY_OPS.
func (f Fuser) Fuse(prog tac.Program, sg dag.Subgraph, st *symtab.SymbolTable) *Block {
	b := Compose(prog, sg)
	b.Ranges = f.ComputeRanges(b, st)
	f.ApplyScalarReplacement(b, st)
	b.Symbolize(st)
	return b
}

// DataParallelCompatible reports whether every instruction pair (x from a, y from b)
// has x's output either disjoint from or aligned with every operand of y, and
// vice versa (spec §4.4). Any other overlap is a hard barrier: merging the loops
// could reorder a read and a write on the same cells.
func DataParallelCompatible(a, b *Block, st *symtab.SymbolTable) bool {
	for _, x := range a.TACs {
		for _, y := range b.TACs {
			if !instructionPairCompatible(x, y, st) {
				return false
			}
		}
	}
	return true
}

func instructionPairCompatible(x, y tac.TAC, st *symtab.SymbolTable) bool {
	xOut, xOK := outView(x, st)
	yOut, yOK := outView(y, st)
	if xOK {
		for _, h := range operandsOf(y) {
			if v, ok := viewOf(h, st); ok && !disjointOrAligned(xOut, v) {
				return false
			}
		}
	}
	if yOK {
		for _, h := range operandsOf(x) {
			if v, ok := viewOf(h, st); ok && !disjointOrAligned(yOut, v) {
				return false
			}
		}
	}
	return true
}

func disjointOrAligned(a, b view.View) bool {
	return view.Disjoint(a, b) || view.Aligned(a, b)
}

func outView(t tac.TAC, st *symtab.SymbolTable) (view.View, bool) {
	return viewOf(t.Out, st)
}

func viewOf(h symtab.Handle, st *symtab.SymbolTable) (view.View, bool) {
	if h == symtab.Invalid {
		return view.View{}, false
	}
	v := st.Get(h).View
	if v.Base == nil {
		return view.View{}, false
	}
	return v, true
}

func operandsOf(t tac.TAC) []symtab.Handle {
	out := make([]symtab.Handle, 0, 3)
	if t.Out != symtab.Invalid {
		out = append(out, t.Out)
	}
	if t.In1 != symtab.Invalid {
		out = append(out, t.In1)
	}
	if t.In2 != symtab.Invalid {
		out = append(out, t.In2)
	}
	return out
}

// Reshapable blocks may be merged with a neighbor whose nesting size divides theirs
// evenly, rather than requiring an exact size match.
type ReshapeInfo struct {
	Size       int
	Reshapable bool
}

// MergeReshape implements spec §4.4's reshape-based fusion: two adjacent blocks at
// equal rank may be merged if their size at the current nesting dimension matches, or
// one is Reshapable and the other's size divides it evenly. The merged block takes
// the smaller size and both instruction lists are concatenated (re-nested together);
// the caller must still check DataParallelCompatible before calling this.
func MergeReshape(a *Block, ai ReshapeInfo, b *Block, bi ReshapeInfo, st *symtab.SymbolTable) (*Block, bool) {
	size, ok := reshapeSize(ai, bi)
	if !ok {
		return nil, false
	}
	merged := &Block{
		TACs:           make([]tac.TAC, 0, len(a.TACs)+len(b.TACs)),
		ScalarReplaced: make(map[symtab.Handle]bool, len(a.ScalarReplaced)+len(b.ScalarReplaced)),
	}
	merged.TACs = append(merged.TACs, a.TACs...)
	offset := len(a.TACs)
	merged.Ranges = append(merged.Ranges, a.Ranges...)
	for _, r := range b.Ranges {
		merged.Ranges = append(merged.Ranges, Range{Start: r.Start + offset, End: r.End + offset})
	}
	merged.TACs = append(merged.TACs, b.TACs...)
	for h, v := range a.ScalarReplaced {
		merged.ScalarReplaced[h] = v
	}
	for h, v := range b.ScalarReplaced {
		merged.ScalarReplaced[h] = v
	}
	_ = size // the nesting size itself is a Specializer concern; merge only re-nests TACs here.
	merged.Symbolize(st)
	return merged, true
}

func reshapeSize(a, b ReshapeInfo) (int, bool) {
	if a.Size == b.Size {
		return a.Size, true
	}
	if a.Reshapable && a.Size != 0 && b.Size != 0 && a.Size%b.Size == 0 {
		return b.Size, true
	}
	if b.Reshapable && a.Size != 0 && b.Size != 0 && b.Size%a.Size == 0 {
		return a.Size, true
	}
	return 0, false
}
