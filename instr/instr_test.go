package instr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bh-ve/vengine/dtype"
	"github.com/bh-ve/vengine/view"
)

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "ADD", ADD.String())
	assert.Equal(t, "FREE", FREE.String())
	assert.Equal(t, "RANDOM", RANDOM.String())
	assert.Equal(t, "Opcode(9999)", Opcode(9999).String())
	assert.Equal(t, "EXTENSION(10007)", Opcode(extensionBase+7).String())
}

func TestIsExtension(t *testing.T) {
	assert.False(t, ADD.IsExtension())
	assert.False(t, Opcode(extensionBase-1).IsExtension())
	assert.True(t, extensionBase.IsExtension())
	assert.True(t, Opcode(extensionBase+1).IsExtension())
}

func TestInstructionString(t *testing.T) {
	in := Instruction{
		Opcode:   ADD,
		Operands: []view.View{{}, {}, {}},
	}
	assert.Equal(t, "instr(ADD, 3 operands)", in.String())
}

func TestConstantCarriesDTypeAndBytes(t *testing.T) {
	c := &Constant{DType: dtype.Float64, Bytes: make([]byte, dtype.Sizeof(dtype.Float64))}
	assert.Equal(t, dtype.Float64, c.DType)
	assert.Len(t, c.Bytes, 8)
}
