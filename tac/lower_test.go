package tac

import (
	"testing"

	"github.com/bh-ve/vengine/dtype"
	"github.com/bh-ve/vengine/instr"
	"github.com/bh-ve/vengine/symtab"
	"github.com/bh-ve/vengine/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBase(id int64, n int) *view.BaseArray {
	return &view.BaseArray{ID: id, DType: dtype.Int32, Nelem: n}
}

func vec(b *view.BaseArray, n int) view.View {
	return view.View{Base: b, Shape: []int{n}, Stride: []int{1}}
}

func TestLowerScalarAdd(t *testing.T) {
	a := makeBase(1, 4)
	b := makeBase(2, 4)
	c := makeBase(3, 4)

	batch := []instr.Instruction{
		{Opcode: instr.ADD, Operands: []view.View{vec(c, 4), vec(a, 4), vec(b, 4)}},
		{Opcode: instr.SYNC, Operands: []view.View{vec(c, 4)}},
		{Opcode: instr.FREE, Operands: []view.View{vec(a, 4)}},
		{Opcode: instr.FREE, Operands: []view.View{vec(b, 4)}},
	}
	st := symtab.New(6*len(batch) + 2)
	prog := make(Program, len(batch))
	require.NoError(t, Lower(batch, prog, st))

	assert.Equal(t, ZIP, prog[0].Op)
	assert.Equal(t, instr.ADD, prog[0].SubOp)
	assert.Equal(t, SYSTEM, prog[1].Op)
	assert.Equal(t, instr.SYNC, prog[1].SubOp)
	assert.Equal(t, SYSTEM, prog[2].Op)
	assert.Equal(t, instr.FREE, prog[2].SubOp)
}

func TestLowerUnknownOpcodeErrors(t *testing.T) {
	batch := []instr.Instruction{{Opcode: instr.Opcode(9999)}}
	st := symtab.New(8)
	prog := make(Program, 1)
	err := Lower(batch, prog, st)
	assert.Error(t, err)
}

func TestLowerExtension(t *testing.T) {
	out := makeBase(1, 4)
	batch := []instr.Instruction{
		{Opcode: instr.Opcode(10042), Operands: []view.View{vec(out, 4)}},
	}
	st := symtab.New(8)
	prog := make(Program, 1)
	require.NoError(t, Lower(batch, prog, st))
	assert.Equal(t, EXTENSION, prog[0].Op)
	require.NotNil(t, prog[0].Ext)
}

func TestCountTmpFusionCandidate(t *testing.T) {
	a := makeBase(1, 1000)
	b := makeBase(2, 1000)
	out := makeBase(3, 1000)
	tBase := makeBase(4, 1000)

	batch := []instr.Instruction{
		{Opcode: instr.MUL, Operands: []view.View{vec(tBase, 1000), vec(a, 1000), vec(b, 1000)}},
		{Opcode: instr.ADD, Operands: []view.View{vec(out, 1000), vec(tBase, 1000), vec(a, 1000)}},
		{Opcode: instr.FREE, Operands: []view.View{vec(tBase, 1000)}},
	}
	st := symtab.New(6*len(batch) + 2)
	prog := make(Program, len(batch))
	require.NoError(t, Lower(batch, prog, st))
	st.CountTmp()

	tHandle := prog[0].Out
	assert.True(t, st.IsTemp(tHandle))
}
