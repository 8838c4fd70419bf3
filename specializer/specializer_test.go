package specializer

import (
	"strings"
	"testing"

	"github.com/bh-ve/vengine/block"
	"github.com/bh-ve/vengine/dag"
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

func buildFusedBlock(t *testing.T) (*block.Block, *symtab.SymbolTable) {
	a := base(1, 1000)
	b := base(2, 1000)
	tArr := base(3, 1000)
	out := base(4, 1000)

	// No FREE on tArr: a FREE counts as a read, and tArr is only scalar-replaced when
	// the ADD is its sole reader in the batch.
	batch := []instr.Instruction{
		{Opcode: instr.MUL, Operands: []view.View{vec(tArr, 1000), vec(a, 1000), vec(b, 1000)}},
		{Opcode: instr.ADD, Operands: []view.View{vec(out, 1000), vec(tArr, 1000), vec(a, 1000)}},
	}
	st := symtab.New(6*len(batch) + 2)
	prog := make(tac.Program, len(batch))
	require.NoError(t, tac.Lower(batch, prog, st))
	st.CountTmp()

	g := dag.Build(st, prog)
	f := block.Fuser{}
	for _, sg := range g.Subgraphs() {
		if len(sg.Members) > 1 {
			return f.Fuse(prog, sg, st), st
		}
	}
	t.Fatal("no fused subgraph found")
	return nil, nil
}

func TestRenderIsPureForIdenticalFingerprint(t *testing.T) {
	s, err := New("templates")
	require.NoError(t, err)

	b1, st1 := buildFusedBlock(t)
	b2, st2 := buildFusedBlock(t)

	src1, err := s.Render(b1, st1)
	require.NoError(t, err)
	src2, err := s.Render(b2, st2)
	require.NoError(t, err)

	assert.Equal(t, src1, src2)
	assert.Contains(t, src1, b1.Symbol())
}

func TestRenderOmitsScalarReplacedFromSignature(t *testing.T) {
	s, err := New("templates")
	require.NoError(t, err)
	b, st := buildFusedBlock(t)

	src, err := s.Render(b, st)
	require.NoError(t, err)
	assert.True(t, strings.Contains(src, "void execute("))
	// The scalar-replaced temp never appears as a pointer parameter.
	for h, replaced := range b.ScalarReplaced {
		if replaced {
			assert.NotContains(t, src, "p"+itoa(localIndexOf(b, h))+"[i]")
		}
	}
}

// localIndexOf mirrors BuildData's first-occurrence renumbering so the test can name
// the generated pointer parameter for a given handle.
func localIndexOf(b *block.Block, h symtab.Handle) int {
	local := make(map[symtab.Handle]int)
	n := 0
	for _, t := range b.TACs {
		for _, hh := range [...]symtab.Handle{t.Out, t.In1, t.In2} {
			if hh == symtab.Invalid {
				continue
			}
			if _, ok := local[hh]; !ok {
				local[hh] = n
				n++
			}
		}
	}
	return local[h]
}
