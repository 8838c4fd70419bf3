package engine

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/bh-ve/vengine/dtype"
	"github.com/bh-ve/vengine/instr"
	"github.com/bh-ve/vengine/symtab"
	"github.com/bh-ve/vengine/tac"
	"github.com/bh-ve/vengine/view"
)

// numeric is the closed set of element types the naive table executes directly. Any
// other dtype (bool, the 8/16-bit integers, complex) only ever reaches the engine
// through a compiled kernel -- a deliberate restriction mirrored from
// ve/naive/bh_ve_naive.cpp in the original sources, which likewise special-cased a
// handful of arithmetic types rather than templating over the full type table.
type numeric interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint32 | ~uint64
}

// KernelTable is the pure-Go fallback executor consulted when config.JITEnabled is
// false; with JIT enabled every block goes through a compiled kernel instead. It
// holds no state: every
// Execute call derives everything it needs from its arguments.
type KernelTable struct{}

// NewKernelTable returns a ready-to-use naive executor.
func NewKernelTable() *KernelTable { return &KernelTable{} }

// Execute runs one TAC directly against already-realized buffers. The caller must have
// allocated every output base first (vcache.Malloc); Execute never allocates.
func (k *KernelTable) Execute(t tac.TAC, st *symtab.SymbolTable) error {
	switch t.Op {
	case tac.MAP:
		return k.runMap(t, st)
	case tac.ZIP:
		return k.runZip(t, st)
	case tac.REDUCE:
		return k.runReduce(t, st)
	case tac.SCAN:
		return k.runScan(t, st)
	case tac.GENERATE:
		return k.runGenerate(t, st)
	default:
		return errors.Errorf("engine: naive fallback has no case for TAC class %s", t.Op)
	}
}

func (k *KernelTable) runMap(t tac.TAC, st *symtab.SymbolTable) error {
	out := st.Get(t.Out)
	switch out.DType {
	case dtype.Float32:
		return mapOp[float32](t, st, out)
	case dtype.Float64:
		return mapOp[float64](t, st, out)
	case dtype.Int32:
		return mapOp[int32](t, st, out)
	case dtype.Int64:
		return mapOp[int64](t, st, out)
	case dtype.Uint32:
		return mapOp[uint32](t, st, out)
	case dtype.Uint64:
		return mapOp[uint64](t, st, out)
	default:
		return &TypeNotSupportedError{Op: t.SubOp.String(), DType: out.DType.String()}
	}
}

func mapOp[T numeric](t tac.TAC, st *symtab.SymbolTable, out view.Operand) error {
	fn, err := unaryFunc[T](t.SubOp)
	if err != nil {
		return err
	}
	a := operandReader[T](st.Get(t.In1))
	o := bufferOf[T](out.View.Base)
	forEachIndex(out.View.Shape, func(idx []int) {
		o[linearOffset(out.View, idx)] = fn(a(idx))
	})
	return nil
}

func (k *KernelTable) runZip(t tac.TAC, st *symtab.SymbolTable) error {
	out := st.Get(t.Out)
	switch out.DType {
	case dtype.Float32:
		return zipOp[float32](t, st, out)
	case dtype.Float64:
		return zipOp[float64](t, st, out)
	case dtype.Int32:
		return zipOp[int32](t, st, out)
	case dtype.Int64:
		return zipOp[int64](t, st, out)
	case dtype.Uint32:
		return zipOp[uint32](t, st, out)
	case dtype.Uint64:
		return zipOp[uint64](t, st, out)
	default:
		return &TypeNotSupportedError{Op: t.SubOp.String(), DType: out.DType.String()}
	}
}

func zipOp[T numeric](t tac.TAC, st *symtab.SymbolTable, out view.Operand) error {
	fn, err := binaryFunc[T](t.SubOp)
	if err != nil {
		return err
	}
	a := operandReader[T](st.Get(t.In1))
	var b func(idx []int) T
	if t.Const != nil {
		cv := constantAs[T](t.Const)
		b = func(idx []int) T { return cv }
	} else {
		b = operandReader[T](st.Get(t.In2))
	}
	o := bufferOf[T](out.View.Base)
	forEachIndex(out.View.Shape, func(idx []int) {
		o[linearOffset(out.View, idx)] = fn(a(idx), b(idx))
	})
	return nil
}

// runReduce folds In1 along Axis into Out, which must carry the same rank as In1 with
// Out.Shape[Axis] == 1 (keepdims) -- the Open Question decision recorded in DESIGN.md,
// since neither spec.md nor original_source/ pin an exact reduced-rank convention.
func (k *KernelTable) runReduce(t tac.TAC, st *symtab.SymbolTable) error {
	out := st.Get(t.Out)
	switch out.DType {
	case dtype.Float32:
		return reduceOp[float32](t, st, out)
	case dtype.Float64:
		return reduceOp[float64](t, st, out)
	case dtype.Int32:
		return reduceOp[int32](t, st, out)
	case dtype.Int64:
		return reduceOp[int64](t, st, out)
	case dtype.Uint32:
		return reduceOp[uint32](t, st, out)
	case dtype.Uint64:
		return reduceOp[uint64](t, st, out)
	default:
		return &TypeNotSupportedError{Op: t.SubOp.String(), DType: out.DType.String()}
	}
}

func reduceOp[T numeric](t tac.TAC, st *symtab.SymbolTable, out view.Operand) error {
	init, combine, err := reduceFunc[T](t.SubOp)
	if err != nil {
		return err
	}
	in := st.Get(t.In1)
	a := bufferOf[T](in.View.Base)
	o := bufferOf[T](out.View.Base)

	axisLen := 1
	if t.Axis >= 0 && t.Axis < in.View.Ndim() {
		axisLen = in.View.Shape[t.Axis]
	}
	forEachIndex(out.View.Shape, func(outIdx []int) {
		acc := init
		idx := append([]int(nil), outIdx...)
		for i := 0; i < axisLen; i++ {
			idx[t.Axis] = i
			acc = combine(acc, a[linearOffset(in.View, idx)])
		}
		o[linearOffset(out.View, outIdx)] = acc
	})
	return nil
}

// runScan computes In1's running fold along Axis into Out, same rank and shape as In1
// (a scan never reduces rank, unlike REDUCE).
func (k *KernelTable) runScan(t tac.TAC, st *symtab.SymbolTable) error {
	out := st.Get(t.Out)
	switch out.DType {
	case dtype.Float32:
		return scanOp[float32](t, st, out)
	case dtype.Float64:
		return scanOp[float64](t, st, out)
	case dtype.Int32:
		return scanOp[int32](t, st, out)
	case dtype.Int64:
		return scanOp[int64](t, st, out)
	case dtype.Uint32:
		return scanOp[uint32](t, st, out)
	case dtype.Uint64:
		return scanOp[uint64](t, st, out)
	default:
		return &TypeNotSupportedError{Op: t.SubOp.String(), DType: out.DType.String()}
	}
}

func scanOp[T numeric](t tac.TAC, st *symtab.SymbolTable, out view.Operand) error {
	subop := t.SubOp
	if subop == instr.CUMSUM {
		subop = instr.SUM
	} else if subop == instr.CUMPRODUCT {
		subop = instr.PRODUCT
	}
	init, combine, err := reduceFunc[T](subop)
	if err != nil {
		return err
	}
	in := st.Get(t.In1)
	a := bufferOf[T](in.View.Base)
	o := bufferOf[T](out.View.Base)

	axisLen := 1
	if t.Axis >= 0 && t.Axis < in.View.Ndim() {
		axisLen = in.View.Shape[t.Axis]
	}
	// Every fiber along Axis is independent, so iterate over the axis-collapsed index
	// space (mirroring runReduce's outer loop) and run the running fold along Axis.
	outerShape := append([]int(nil), in.View.Shape...)
	outerShape[t.Axis] = 1
	forEachIndex(outerShape, func(base []int) {
		acc := init
		idx := append([]int(nil), base...)
		for i := 0; i < axisLen; i++ {
			idx[t.Axis] = i
			acc = combine(acc, a[linearOffset(in.View, idx)])
			o[linearOffset(out.View, idx)] = acc
		}
	})
	return nil
}

func (k *KernelTable) runGenerate(t tac.TAC, st *symtab.SymbolTable) error {
	out := st.Get(t.Out)
	switch out.DType {
	case dtype.Float32:
		return generateOp[float32](t, st, out)
	case dtype.Float64:
		return generateOp[float64](t, st, out)
	case dtype.Int32:
		return generateOp[int32](t, st, out)
	case dtype.Int64:
		return generateOp[int64](t, st, out)
	case dtype.Uint32:
		return generateOp[uint32](t, st, out)
	case dtype.Uint64:
		return generateOp[uint64](t, st, out)
	default:
		return &TypeNotSupportedError{Op: t.SubOp.String(), DType: out.DType.String()}
	}
}

func generateOp[T numeric](t tac.TAC, st *symtab.SymbolTable, out view.Operand) error {
	o := bufferOf[T](out.View.Base)
	switch t.SubOp {
	case instr.FILL:
		v := constantAs[T](t.Const)
		forEachIndex(out.View.Shape, func(idx []int) {
			o[linearOffset(out.View, idx)] = v
		})
		return nil
	case instr.RANGE:
		i := 0
		forEachIndex(out.View.Shape, func(idx []int) {
			o[linearOffset(out.View, idx)] = T(i)
			i++
		})
		return nil
	default:
		return &UserFuncNotSupportedError{Opcode: t.SubOp.String()}
	}
}

func unaryFunc[T numeric](op instr.Opcode) (func(T) T, error) {
	switch op {
	case instr.IDENTITY:
		return func(x T) T { return x }, nil
	case instr.ABS:
		return func(x T) T {
			if x < 0 {
				return -x
			}
			return x
		}, nil
	case instr.EXP:
		return floatUnary[T](math.Exp, op)
	case instr.LOG:
		return floatUnary[T](math.Log, op)
	case instr.SQRT:
		return floatUnary[T](math.Sqrt, op)
	default:
		return nil, &TypeNotSupportedError{Op: op.String(), DType: "(naive unary)"}
	}
}

// floatUnary applies a float64 math function to T by round-tripping through float64; it
// errors for integer T, since EXP/LOG/SQRT are meaningless without fractional results.
func floatUnary[T numeric](f func(float64) float64, op instr.Opcode) (func(T) T, error) {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return func(x T) T { return T(f(float64(x))) }, nil
	default:
		return nil, &TypeNotSupportedError{Op: op.String(), DType: "integer"}
	}
}

func binaryFunc[T numeric](op instr.Opcode) (func(a, b T) T, error) {
	switch op {
	case instr.ADD:
		return func(a, b T) T { return a + b }, nil
	case instr.SUB:
		return func(a, b T) T { return a - b }, nil
	case instr.MUL:
		return func(a, b T) T { return a * b }, nil
	case instr.DIV:
		return func(a, b T) T { return a / b }, nil
	case instr.MINIMUM:
		return func(a, b T) T {
			if a < b {
				return a
			}
			return b
		}, nil
	case instr.MAXIMUM:
		return func(a, b T) T {
			if a > b {
				return a
			}
			return b
		}, nil
	default:
		return nil, &TypeNotSupportedError{Op: op.String(), DType: "(naive binary)"}
	}
}

func reduceFunc[T numeric](op instr.Opcode) (init T, combine func(acc, x T) T, err error) {
	switch op {
	case instr.SUM:
		return 0, func(acc, x T) T { return acc + x }, nil
	case instr.PRODUCT:
		return 1, func(acc, x T) T { return acc * x }, nil
	case instr.MAX:
		return minValue[T](), func(acc, x T) T {
			if acc > x {
				return acc
			}
			return x
		}, nil
	case instr.MIN:
		return maxValue[T](), func(acc, x T) T {
			if acc < x {
				return acc
			}
			return x
		}, nil
	default:
		return 0, nil, &TypeNotSupportedError{Op: op.String(), DType: "(naive reduce)"}
	}
}

func minValue[T numeric]() T {
	var zero T
	switch any(zero).(type) {
	case float32:
		return any(float32(math.Inf(-1))).(T)
	case float64:
		return any(math.Inf(-1)).(T)
	case int32:
		return any(int32(math.MinInt32)).(T)
	case uint32:
		return any(uint32(0)).(T)
	case uint64:
		return any(uint64(0)).(T)
	default:
		return any(int64(math.MinInt64)).(T)
	}
}

func maxValue[T numeric]() T {
	var zero T
	switch any(zero).(type) {
	case float32:
		return any(float32(math.Inf(1))).(T)
	case float64:
		return any(math.Inf(1)).(T)
	case int32:
		return any(int32(math.MaxInt32)).(T)
	case uint32:
		return any(uint32(math.MaxUint32)).(T)
	case uint64:
		return any(uint64(math.MaxUint64)).(T)
	default:
		return any(int64(math.MaxInt64)).(T)
	}
}

// operandReader returns a function that reads one element of o at a logical index into
// out's iteration space. A Scalar operand (Nelem<=1, per view.ComputeLayout) is read at
// its sole offset regardless of idx, giving the broadcast behavior spec §4.4's
// Compatible tie-break assumes.
func operandReader[T numeric](o view.Operand) func(idx []int) T {
	buf := bufferOf[T](o.View.Base)
	return func(idx []int) T {
		return buf[linearOffset(o.View, idx)]
	}
}

// bufferOf reinterprets b's raw byte buffer as a []T, mirroring the teacher's
// simplego backend's own unsafe.Slice reinterpretation of tensor storage.
func bufferOf[T numeric](b *view.BaseArray) []T {
	if b == nil || len(b.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b.Data[0])), b.Nelem)
}

// constantAs decodes c's little-endian byte payload as T.
func constantAs[T numeric](c *instr.Constant) T {
	if c == nil {
		var zero T
		return zero
	}
	var zero T
	switch any(zero).(type) {
	case float32:
		return T(math.Float32frombits(binary.LittleEndian.Uint32(c.Bytes)))
	case float64:
		return T(math.Float64frombits(binary.LittleEndian.Uint64(c.Bytes)))
	case int32:
		return T(int32(binary.LittleEndian.Uint32(c.Bytes)))
	case int64:
		return T(int64(binary.LittleEndian.Uint64(c.Bytes)))
	case uint32:
		return T(binary.LittleEndian.Uint32(c.Bytes))
	case uint64:
		return T(binary.LittleEndian.Uint64(c.Bytes))
	default:
		return zero
	}
}

// forEachIndex calls fn once per multi-index over shape, in row-major order (last axis
// fastest), mirroring how Specializer-rendered C loops walk the same space.
func forEachIndex(shape []int, fn func(idx []int)) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n == 0 {
		return
	}
	idx := make([]int, len(shape))
	for i := 0; i < n; i++ {
		fn(idx)
		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
}

// linearOffset maps idx (in v's own shape space) to the element offset into v.Base.Data,
// in elements (not bytes). Axes of size <=1 never advance past v.Offset, which is what
// lets a Scalar operand's reader ignore idx entirely.
func linearOffset(v view.View, idx []int) int {
	off := v.Offset
	for d := range idx {
		if d >= v.Ndim() || v.Shape[d] <= 1 {
			continue
		}
		off += idx[d] * v.Stride[d]
	}
	return off
}
