package dtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeof(t *testing.T) {
	assert.Equal(t, 4, Sizeof(Int32))
	assert.Equal(t, 8, Sizeof(Float64))
	assert.Equal(t, 16, Sizeof(Complex128))
	assert.Equal(t, 0, Sizeof(Invalid))
}

func TestString(t *testing.T) {
	assert.Equal(t, "int32", Int32.String())
	assert.Equal(t, "complex128", Complex128.String())
}

func TestOk(t *testing.T) {
	assert.True(t, Int32.Ok())
	assert.False(t, Invalid.Ok())
	assert.False(t, DType(999).Ok())
}
