// Package view defines the non-owning descriptors the engine computes over, and the
// base arrays that own their storage.
package view

import (
	"fmt"

	"github.com/bh-ve/vengine/dtype"
)

// BaseArray owns a contiguous typed buffer. Its lifetime begins at first reference by
// an instruction and ends at an explicit FREE; Data is nil until the buffer is
// realized (see vcache.Malloc) and becomes nil again once freed.
type BaseArray struct {
	// ID uniquely identifies this base for the lifetime of the process; assigned by
	// whoever produces the instruction batch (the front-end, in tests: the caller).
	ID    int64
	DType dtype.DType
	Nelem int
	Data  []byte
}

// Bytes returns the size in bytes of this base's buffer, realized or not.
func (b *BaseArray) Bytes() int {
	return b.Nelem * dtype.Sizeof(b.DType)
}

// Realized reports whether the base currently owns a buffer.
func (b *BaseArray) Realized() bool {
	return b.Data != nil
}

func (b *BaseArray) String() string {
	return fmt.Sprintf("base#%d(%s, nelem=%d, realized=%v)", b.ID, b.DType, b.Nelem, b.Realized())
}

// View is a non-owning descriptor over a BaseArray: shape, stride and offset are in
// units of elements, not bytes.
type View struct {
	Base   *BaseArray
	Shape  []int
	Stride []int
	Offset int
}

// Ndim returns the number of axes of the view.
func (v View) Ndim() int { return len(v.Shape) }

// Nelem returns the number of elements addressed by the view (product of Shape).
func (v View) Nelem() int {
	n := 1
	for _, d := range v.Shape {
		n *= d
	}
	return n
}

// IsRowMajorContiguous reports whether v walks its base with unit stride in
// row-major (C) order and no gaps.
func (v View) IsRowMajorContiguous() bool {
	if v.Ndim() == 0 {
		return true
	}
	expected := 1
	for i := v.Ndim() - 1; i >= 0; i-- {
		if v.Shape[i] == 1 {
			// A size-1 axis never constrains stride.
			continue
		}
		if v.Stride[i] != expected {
			return false
		}
		expected *= v.Shape[i]
	}
	return true
}

// indexRange returns the inclusive [lo, hi] range of linear element offsets (from the
// start of the base) that v can address. It is a bounding box, not an exact index
// set: strided/overlapping accesses inside the box are possible even when the box of
// two views intersects.
func (v View) indexRange() (lo, hi int) {
	lo, hi = v.Offset, v.Offset
	for i := 0; i < v.Ndim(); i++ {
		if v.Shape[i] <= 1 {
			continue
		}
		span := v.Stride[i] * (v.Shape[i] - 1)
		if span >= 0 {
			hi += span
		} else {
			lo += span
		}
	}
	return lo, hi
}

// Aligned reports whether a and b are identical views (same base, shape, stride and
// offset) -- the case where fusing them can share one set of loop indices exactly.
func Aligned(a, b View) bool {
	if a.Base != b.Base || a.Base == nil {
		return false
	}
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] || a.Stride[i] != b.Stride[i] {
			return false
		}
	}
	return a.Offset == b.Offset
}

// Disjoint reports whether a and b provably do not address any common element.
// Views over different bases are always disjoint. Views over the same base are
// disjoint only when their bounding index ranges do not overlap; overlapping bounding
// ranges are conservatively treated as non-disjoint (the fuser then also checks
// Aligned before permitting a merge, per spec's data-parallel-compatibility rule).
func Disjoint(a, b View) bool {
	if a.Base != b.Base {
		return true
	}
	if a.Base == nil {
		return true
	}
	aLo, aHi := a.indexRange()
	bLo, bHi := b.indexRange()
	return aHi < bLo || bHi < aLo
}

func (v View) String() string {
	return fmt.Sprintf("view(base=%v, shape=%v, stride=%v, offset=%d)", v.Base, v.Shape, v.Stride, v.Offset)
}
