package view

import (
	"fmt"

	"github.com/bh-ve/vengine/dtype"
)

// Layout ranks how regular an operand's memory access is. The ordering itself is
// meaningful: Merge combines two layouts by taking the max, the least-specialized
// layout that covers both. The fuser does not merge layouts; its range splitting
// only checks operands with Compatible.
type Layout int

const (
	Scalar Layout = iota
	Constant
	Contiguous
	Strided
	Sparse
)

//go:generate stringer -type=Layout layout.go

var layoutNames = [...]string{
	Scalar:     "scalar",
	Constant:   "constant",
	Contiguous: "contiguous",
	Strided:    "strided",
	Sparse:     "sparse",
}

func (l Layout) String() string {
	if l < 0 || int(l) >= len(layoutNames) {
		return fmt.Sprintf("Layout(%d)", int(l))
	}
	return layoutNames[l]
}

// Merge returns the least-specialized layout that covers both a and b.
func Merge(a, b Layout) Layout {
	if a > b {
		return a
	}
	return b
}

// ComputeLayout derives the layout tag for a view whose operand is not a compile-time
// constant. Constants are tagged Constant explicitly by whoever creates their operand
// (see symtab), since a constant's view carries no base to inspect.
//
// Tie-break (spec §9 Open Question, "instrs_to_tacs and compatible() ... exact
// tie-breaks ... must be documented"): a view that is both single-element and
// row-major contiguous is tagged Scalar, the lowest layout tag that still preserves
// semantics, since a scalar is trivially contiguous but the more specific tag lets
// the fuser broadcast it into any shape.
func ComputeLayout(v View) Layout {
	if v.Nelem() <= 1 {
		return Scalar
	}
	if v.IsRowMajorContiguous() {
		return Contiguous
	}
	return Strided
}

// Operand is a View annotated with the layout tag the fuser and specializer act on,
// plus the element type. DType is redundant with View.Base.DType for array operands,
// but constants carry no base, so it is recorded explicitly.
type Operand struct {
	View   View
	Layout Layout
	DType  dtype.DType
}

func (o Operand) String() string {
	return fmt.Sprintf("operand(%s, %s)", o.Layout, o.View)
}

// Compatible reports whether b can share a's fuse range: identical view, one is a
// Scalar broadcasting into the other's shape, or both Contiguous or Constant with equal
// shape. This is the tie-break named in spec §9's second Open Question.
func Compatible(a, b Operand) bool {
	if Aligned(a.View, b.View) {
		return true
	}
	if a.Layout == Scalar || b.Layout == Scalar {
		return true
	}
	if (a.Layout == Contiguous || a.Layout == Constant) && (b.Layout == Contiguous || b.Layout == Constant) {
		return sameShape(a.View.Shape, b.View.Shape)
	}
	return false
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
