package dag

import (
	"testing"

	"github.com/bh-ve/vengine/dtype"
	"github.com/bh-ve/vengine/instr"
	"github.com/bh-ve/vengine/symtab"
	"github.com/bh-ve/vengine/tac"
	"github.com/bh-ve/vengine/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func base(id int64, n int) *view.BaseArray {
	return &view.BaseArray{ID: id, DType: dtype.Float64, Nelem: n}
}

func vec(b *view.BaseArray, n int) view.View {
	return view.View{Base: b, Shape: []int{n}, Stride: []int{1}}
}

func lower(t *testing.T, batch []instr.Instruction) (tac.Program, *symtab.SymbolTable) {
	st := symtab.New(6*len(batch) + 2)
	prog := make(tac.Program, len(batch))
	require.NoError(t, tac.Lower(batch, prog, st))
	st.CountTmp()
	return prog, st
}

func TestTempFusionSubgraph(t *testing.T) {
	a := base(1, 1000)
	b := base(2, 1000)
	tb := base(3, 1000)
	out := base(4, 1000)

	batch := []instr.Instruction{
		{Opcode: instr.MUL, Operands: []view.View{vec(tb, 1000), vec(a, 1000), vec(b, 1000)}},
		{Opcode: instr.ADD, Operands: []view.View{vec(out, 1000), vec(tb, 1000), vec(a, 1000)}},
		{Opcode: instr.FREE, Operands: []view.View{vec(tb, 1000)}},
	}
	prog, st := lower(t, batch)
	g := Build(st, prog)

	require.Len(t, g.Subgraphs(), 2, "the two ZIPs fuse, FREE is its own barrier subgraph")
	fused := g.Subgraphs()[0]
	assert.ElementsMatch(t, []int{0, 1}, fused.Members)
	assert.Equal(t, tac.MaskZip, g.OMask(0))
}

func TestReductionSplitsSubgraph(t *testing.T) {
	a := base(1, 100)
	b := base(2, 100)
	u := base(3, 100)
	s := base(4, 1)
	v := base(5, 100)

	batch := []instr.Instruction{
		{Opcode: instr.ADD, Operands: []view.View{vec(u, 100), vec(a, 100), vec(b, 100)}},
		{Opcode: instr.SUM, Operands: []view.View{vec(s, 1), vec(u, 100)}},
		{Opcode: instr.MUL, Operands: []view.View{vec(v, 100), vec(u, 100), vec(a, 100)}},
	}
	prog, st := lower(t, batch)
	g := Build(st, prog)

	// REDUCE is never fusible, so ADD and MUL cannot land in the same subgraph as it.
	// ADD and MUL themselves do share a fusible edge (MUL's aligned RAW read of u), so
	// they form one subgraph and SUM sits alone in its own.
	for _, sg := range g.Subgraphs() {
		for _, m := range sg.Members {
			if prog[m].Op == tac.REDUCE {
				assert.Len(t, sg.Members, 1)
			}
		}
	}
}

func TestDisjointWritesNoEdge(t *testing.T) {
	a := base(1, 100)
	b := base(2, 100)
	out := base(3, 200)

	left := view.View{Base: out, Shape: []int{100}, Stride: []int{1}, Offset: 0}
	right := view.View{Base: out, Shape: []int{100}, Stride: []int{1}, Offset: 100}

	batch := []instr.Instruction{
		{Opcode: instr.ADD, Operands: []view.View{left, vec(a, 100), vec(b, 100)}},
		{Opcode: instr.ADD, Operands: []view.View{right, vec(a, 100), vec(b, 100)}},
	}
	prog, st := lower(t, batch)
	g := Build(st, prog)
	for _, e := range g.Edges() {
		assert.Falsef(t, e.From == 0 && e.To == 1, "disjoint writes to out should not create a dependency edge")
	}
}

func TestDOTRendersNodesAndEdges(t *testing.T) {
	a := base(1, 10)
	b := base(2, 10)
	c := base(3, 10)
	batch := []instr.Instruction{
		{Opcode: instr.ADD, Operands: []view.View{vec(c, 10), vec(a, 10), vec(b, 10)}},
	}
	prog, st := lower(t, batch)
	g := Build(st, prog)
	dot := g.DOT()
	assert.Contains(t, dot, "digraph batch")
	assert.Contains(t, dot, "ZIP/ADD")
}
