package view

import (
	"testing"

	"github.com/bh-ve/vengine/dtype"
	"github.com/stretchr/testify/assert"
)

func TestIsRowMajorContiguous(t *testing.T) {
	base := &BaseArray{ID: 1, DType: dtype.Int32, Nelem: 12}
	v := View{Base: base, Shape: []int{3, 4}, Stride: []int{4, 1}, Offset: 0}
	assert.True(t, v.IsRowMajorContiguous())

	strided := View{Base: base, Shape: []int{3, 4}, Stride: []int{1, 3}, Offset: 0}
	assert.False(t, strided.IsRowMajorContiguous())
}

func TestAlignedAndDisjoint(t *testing.T) {
	base := &BaseArray{ID: 1, DType: dtype.Float64, Nelem: 100}
	a := View{Base: base, Shape: []int{10}, Stride: []int{1}, Offset: 0}
	b := View{Base: base, Shape: []int{10}, Stride: []int{1}, Offset: 0}
	assert.True(t, Aligned(a, b))
	assert.False(t, Disjoint(a, b))

	c := View{Base: base, Shape: []int{10}, Stride: []int{1}, Offset: 20}
	assert.False(t, Aligned(a, c))
	assert.True(t, Disjoint(a, c))

	overlap := View{Base: base, Shape: []int{10}, Stride: []int{1}, Offset: 5}
	assert.False(t, Disjoint(a, overlap))

	otherBase := &BaseArray{ID: 2, DType: dtype.Float64, Nelem: 100}
	d := View{Base: otherBase, Shape: []int{10}, Stride: []int{1}, Offset: 0}
	assert.True(t, Disjoint(a, d))
}

func TestComputeLayout(t *testing.T) {
	base := &BaseArray{ID: 1, DType: dtype.Int32, Nelem: 12}
	scalar := View{Base: base, Shape: nil}
	assert.Equal(t, Scalar, ComputeLayout(scalar))

	contiguous := View{Base: base, Shape: []int{3, 4}, Stride: []int{4, 1}, Offset: 0}
	assert.Equal(t, Contiguous, ComputeLayout(contiguous))

	strided := View{Base: base, Shape: []int{3, 4}, Stride: []int{1, 3}, Offset: 0}
	assert.Equal(t, Strided, ComputeLayout(strided))
}

func TestMerge(t *testing.T) {
	assert.Equal(t, Strided, Merge(Scalar, Strided))
	assert.Equal(t, Contiguous, Merge(Contiguous, Constant))
}

func TestCompatible(t *testing.T) {
	base := &BaseArray{ID: 1, DType: dtype.Int32, Nelem: 12}
	v := View{Base: base, Shape: []int{3, 4}, Stride: []int{4, 1}, Offset: 0}
	a := Operand{View: v, Layout: Contiguous}
	b := Operand{View: v, Layout: Contiguous}
	assert.True(t, Compatible(a, b))

	scalarOperand := Operand{View: View{Shape: nil}, Layout: Scalar}
	assert.True(t, Compatible(a, scalarOperand))

	other := &BaseArray{ID: 2, DType: dtype.Int32, Nelem: 12}
	v2 := View{Base: other, Shape: []int{3, 4}, Stride: []int{4, 1}, Offset: 0}
	c := Operand{View: v2, Layout: Contiguous}
	assert.True(t, Compatible(a, c)) // same shape, both contiguous, different bases
}
