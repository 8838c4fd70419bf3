// Package block implements Block composition and fingerprinting, plus (in fuser.go)
// the Fuser that merges adjacent TACs into fuse ranges and decides scalar replacement.
package block

import (
	"fmt"
	"strings"

	"github.com/bh-ve/vengine/dag"
	"github.com/bh-ve/vengine/symtab"
	"github.com/bh-ve/vengine/tac"
)

// Range is a maximal contiguous sub-range of a Block's TACs, expressed as indices into
// Block.TACs, that the Specializer renders as a single inner loop nest.
type Range struct {
	Start, End int // [Start, End)
}

// Len returns the number of TACs in the range.
func (r Range) Len() int { return r.End - r.Start }

// Block is an ordered set of TACs composed from one dag.Subgraph, carrying the
// structural fingerprint (symbol) Storage keys compiled kernels by.
type Block struct {
	TACs []tac.TAC

	// Ranges partitions TACs into fuse-range candidates; populated by Fuser.Compute.
	// Before fusion runs, Compose seeds it with one range per TAC.
	Ranges []Range

	// ScalarReplaced marks handles that are register-resident in the generated
	// kernel: no base buffer is allocated for them and no FREE is honored for them
	// (spec §4.4, "gets no base buffer and no FREE").
	ScalarReplaced map[symtab.Handle]bool

	// symbol caches Fingerprint's result; cleared whenever the block's TACs change.
	symbol string
}

// Compose builds a Block from sg's members, taken in their stored order (which is
// already a topological order consistent with the DAG: dag.Build never places a TAC
// ahead of anything it structurally depends on within the same subgraph).
func Compose(prog tac.Program, sg dag.Subgraph) *Block {
	b := &Block{
		TACs:           make([]tac.TAC, len(sg.Members)),
		ScalarReplaced: make(map[symtab.Handle]bool),
	}
	for i, m := range sg.Members {
		b.TACs[i] = prog[m]
	}
	b.Ranges = make([]Range, len(b.TACs))
	for i := range b.TACs {
		b.Ranges[i] = Range{Start: i, End: i + 1}
	}
	return b
}

// ComposeOne builds a single-TAC Block, used by sij mode (spec §4.8's "block.compose(v,
// v)" per vertex when a subgraph is not fused).
func ComposeOne(t tac.TAC) *Block {
	return &Block{
		TACs:           []tac.TAC{t},
		Ranges:         []Range{{Start: 0, End: 1}},
		ScalarReplaced: make(map[symtab.Handle]bool),
	}
}

// Symbolize computes (or recomputes, after fusion changes the block) the structural
// fingerprint: spec §3, "a canonical string of (op, subop, dtype, layout, ndim,
// ref-pattern) for each TAC in order, with operand handles renumbered locally". Two
// structurally identical blocks in different batches -- even with entirely different
// SymbolTable handles -- must hash to the same symbol; local renumbering by
// first-occurrence order is what makes that true.
func (b *Block) Symbolize(st *symtab.SymbolTable) string {
	b.symbol = Fingerprint(b, st)
	return b.symbol
}

// Symbol returns the last value Symbolize computed, or "" if it has never run.
func (b *Block) Symbol() string { return b.symbol }

// Fingerprint computes a Block's structural fingerprint without mutating it.
func Fingerprint(b *Block, st *symtab.SymbolTable) string {
	local := make(map[symtab.Handle]int)
	localOf := func(h symtab.Handle) int {
		if h == symtab.Invalid {
			return -1
		}
		if i, ok := local[h]; ok {
			return i
		}
		i := len(local)
		local[h] = i
		return i
	}

	var sb strings.Builder
	for ri, r := range b.Ranges {
		fmt.Fprintf(&sb, "R%d[", ri)
		for i := r.Start; i < r.End; i++ {
			t := b.TACs[i]
			fmt.Fprintf(&sb, "%s/%s", t.Op, t.SubOp)
			writeOperand(&sb, st, localOf, t.Out, b.ScalarReplaced)
			writeOperand(&sb, st, localOf, t.In1, b.ScalarReplaced)
			writeOperand(&sb, st, localOf, t.In2, b.ScalarReplaced)
			if t.Op == tac.REDUCE || t.Op == tac.SCAN {
				fmt.Fprintf(&sb, "@axis%d", t.Axis)
			}
			sb.WriteByte(';')
		}
		sb.WriteString("]")
	}
	return sb.String()
}

func writeOperand(sb *strings.Builder, st *symtab.SymbolTable, localOf func(symtab.Handle) int, h symtab.Handle, scalarReplaced map[symtab.Handle]bool) {
	if h == symtab.Invalid {
		sb.WriteString("(-)")
		return
	}
	o := st.Get(h)
	tag := "b"
	if scalarReplaced[h] {
		tag = "s"
	}
	fmt.Fprintf(sb, "(%s%d:%s/%s/%dd)", tag, localOf(h), o.DType, o.Layout, o.View.Ndim())
}
