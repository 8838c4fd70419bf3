package block

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

func lowerAndBuild(t *testing.T, batch []instr.Instruction) (tac.Program, *symtab.SymbolTable) {
	st := symtab.New(6*len(batch) + 2)
	prog := make(tac.Program, len(batch))
	require.NoError(t, tac.Lower(batch, prog, st))
	st.CountTmp()
	return prog, st
}

func TestFingerprintStableUnderHandleRenumbering(t *testing.T) {
	// Two structurally identical batches over entirely different bases must yield
	// the same fingerprint once composed into a Block (spec §8 "Fingerprint
	// stability").
	batch1 := []instr.Instruction{
		{Opcode: instr.ADD, Operands: []view.View{vec(base(1, 4), 4), vec(base(2, 4), 4), vec(base(3, 4), 4)}},
	}
	batch2 := []instr.Instruction{
		{Opcode: instr.ADD, Operands: []view.View{vec(base(101, 4), 4), vec(base(102, 4), 4), vec(base(103, 4), 4)}},
	}

	prog1, st1 := lowerAndBuild(t, batch1)
	prog2, st2 := lowerAndBuild(t, batch2)

	b1 := ComposeOne(prog1[0])
	b2 := ComposeOne(prog2[0])

	assert.Equal(t, b1.Symbolize(st1), b2.Symbolize(st2))
}

func TestFingerprintDiffersOnAxis(t *testing.T) {
	u := base(1, 100)
	s0 := base(2, 1)
	s1 := base(3, 1)

	batchAxis0 := []instr.Instruction{
		{Opcode: instr.SUM, Operands: []view.View{vec(s0, 1), vec(u, 100)}, Constant: &instr.Constant{DType: dtype.Int64, Bytes: axisBytes(0)}},
	}
	batchAxis1 := []instr.Instruction{
		{Opcode: instr.SUM, Operands: []view.View{vec(s1, 1), vec(u, 100)}, Constant: &instr.Constant{DType: dtype.Int64, Bytes: axisBytes(1)}},
	}

	prog0, st0 := lowerAndBuild(t, batchAxis0)
	prog1, st1 := lowerAndBuild(t, batchAxis1)

	b0 := ComposeOne(prog0[0])
	b1 := ComposeOne(prog1[0])

	assert.NotEqual(t, b0.Symbolize(st0), b1.Symbolize(st1))
}

func axisBytes(axis int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(axis >> (8 * i))
	}
	return b
}
