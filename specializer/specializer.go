// Package specializer renders a self-contained C source file for a Block: a nested
// loop program specialized to that block's shape/layout/op signature. The Specializer
// is pure -- identical fingerprint implies byte-identical source -- since it only ever
// reads the Block and SymbolTable passed to Render, never ambient state.
package specializer

import (
	"bytes"
	"strings"
	"text/template"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/bh-ve/vengine/block"
	"github.com/bh-ve/vengine/dtype"
	"github.com/bh-ve/vengine/instr"
	"github.com/bh-ve/vengine/symtab"
	"github.com/bh-ve/vengine/tac"
	"github.com/bh-ve/vengine/view"
)

// Specializer renders C source from a Block, via templates loaded once from
// template_directory (spec §4.5).
type Specializer struct {
	tmpl *template.Template
}

// New parses every *.tmpl file in templateDir. A missing or empty directory, or a
// template that fails to parse, is a toolchain-adjacent configuration error (spec §7
// category 3: engine.New returns it as an error, not a panic).
func New(templateDir string) (*Specializer, error) {
	pattern := strings.TrimRight(templateDir, "/") + "/*.tmpl"
	t, err := template.New("kernel").ParseGlob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "specializer: loading templates from %s", templateDir)
	}
	return &Specializer{tmpl: t}, nil
}

// operandData is one entry in Data.Operands, in first-occurrence (local-handle) order.
type operandData struct {
	Handle         symtab.Handle
	Local          int
	DType          dtype.DType
	Layout         string
	Ndim           int
	CType          string
	ScalarReplaced bool
}

type opData struct {
	Kind      string // "elementwise", "reduce", "scan", "generate"
	Out       int
	CType     string
	ScalarOut bool
	Expr      string
	Init      string
}

type rangeData struct {
	Operands []operandData
	Ops      []opData
	refs     []symtab.Handle // every non-scalar-replaced handle this range's ops touch, first-occurrence order
}

// Data is the template's root value.
type Data struct {
	Fingerprint string
	NeedsMath   bool
	Nelem       int
	Operands    []operandData
	Ranges      []rangeData
}

// DataList builds the launcher(void *data_list[]) argument for a rendered block: one
// slot per local operand index (dense, including scalar-replaced slots so pointer
// parameter offsets line up with the C source's data_list[N] references), resolved
// through resolve for every operand the generated code actually dereferences. Scalar-
// replaced slots are left nil; the generated kernel never reads data_list at that
// index (spec §4.4, scalar-replaced operands "get no base buffer").
func DataList(data Data, resolve func(symtab.Handle) unsafe.Pointer) []any {
	n := 0
	for _, o := range data.Operands {
		if o.Local+1 > n {
			n = o.Local + 1
		}
	}
	out := make([]any, n)
	for _, o := range data.Operands {
		if o.ScalarReplaced {
			continue
		}
		out[o.Local] = resolve(o.Handle)
	}
	return out
}

// Render produces this block's C source. b must already have been Symbolize()d (its
// Symbol() is embedded verbatim as a header comment and used nowhere else -- the
// source's actual content is derived structurally, same as the fingerprint itself).
func (s *Specializer) Render(b *block.Block, st *symtab.SymbolTable) (string, error) {
	data, err := BuildData(b, st)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "kernel.c.tmpl", data); err != nil {
		return "", errors.Wrap(err, "specializer: executing kernel template")
	}
	return buf.String(), nil
}

// BuildData derives the template's input purely from b and st: same block structure
// (renamed handles included) always yields the same Data, which is what makes Render
// pure.
func BuildData(b *block.Block, st *symtab.SymbolTable) (Data, error) {
	local := make(map[symtab.Handle]int)
	order := make([]symtab.Handle, 0, len(b.TACs)*2)
	localOf := func(h symtab.Handle) int {
		if h == symtab.Invalid {
			return -1
		}
		if i, ok := local[h]; ok {
			return i
		}
		i := len(local)
		local[h] = i
		order = append(order, h)
		return i
	}

	nelem := 0
	needsMath := false

	ranges := make([]rangeData, 0, len(b.Ranges))
	for _, r := range b.Ranges {
		rd := rangeData{}
		seen := make(map[symtab.Handle]bool)
		addRef := func(h symtab.Handle) {
			if h == symtab.Invalid || b.ScalarReplaced[h] || seen[h] {
				return
			}
			seen[h] = true
			rd.refs = append(rd.refs, h)
		}
		for i := r.Start; i < r.End; i++ {
			t := b.TACs[i]
			op, err := buildOp(t, st, localOf, b.ScalarReplaced)
			if err != nil {
				return Data{}, err
			}
			if op.Kind == "" {
				continue // SYSTEM/NOOP: no kernel code, spec §4.4 rule 1
			}
			rd.Ops = append(rd.Ops, op)
			addRef(t.Out)
			addRef(t.In1)
			addRef(t.In2)
			if needsMathOp(t.SubOp) {
				needsMath = true
			}
			if t.Out != symtab.Invalid {
				if o := st.Get(t.Out); o.View.Base != nil && o.View.Nelem() > nelem {
					nelem = o.View.Nelem()
				}
			}
		}
		ranges = append(ranges, rd)
	}

	byHandle := make(map[symtab.Handle]operandData, len(order))
	operands := make([]operandData, 0, len(order))
	for _, h := range order {
		o := st.Get(h)
		od := operandData{
			Handle:         h,
			Local:          local[h],
			DType:          o.DType,
			Layout:         o.Layout.String(),
			Ndim:           o.View.Ndim(),
			CType:          cType(o.DType),
			ScalarReplaced: b.ScalarReplaced[h],
		}
		operands = append(operands, od)
		byHandle[h] = od
	}
	for i := range ranges {
		for _, h := range ranges[i].refs {
			ranges[i].Operands = append(ranges[i].Operands, byHandle[h])
		}
	}

	return Data{
		Fingerprint: b.Symbol(),
		NeedsMath:   needsMath,
		Nelem:       nelem,
		Operands:    operands,
		Ranges:      ranges,
	}, nil
}

func needsMathOp(op instr.Opcode) bool {
	switch op {
	case instr.EXP, instr.LOG, instr.SQRT, instr.ABS:
		return true
	default:
		return false
	}
}

func cType(d dtype.DType) string {
	switch d {
	case dtype.Bool:
		return "unsigned char"
	case dtype.Int8:
		return "signed char"
	case dtype.Int16:
		return "short"
	case dtype.Int32:
		return "int"
	case dtype.Int64:
		return "long long"
	case dtype.Uint8:
		return "unsigned char"
	case dtype.Uint16:
		return "unsigned short"
	case dtype.Uint32:
		return "unsigned int"
	case dtype.Uint64:
		return "unsigned long long"
	case dtype.Float32:
		return "float"
	case dtype.Float64:
		return "double"
	case dtype.Complex64:
		return "float complex"
	case dtype.Complex128:
		return "double complex"
	default:
		return "void"
	}
}

func buildOp(t tac.TAC, st *symtab.SymbolTable, localOf func(symtab.Handle) int, scalarReplaced map[symtab.Handle]bool) (opData, error) {
	switch t.Op {
	case tac.SYSTEM, tac.NOOP, tac.EXTENSION:
		return opData{}, nil
	}

	out := localOf(t.Out)
	ct := cType(st.Get(t.Out).DType)
	scalarOut := scalarReplaced[t.Out]

	ref := func(h symtab.Handle) string {
		i := localOf(h)
		if scalarReplaced[h] {
			return cname("v", i)
		}
		if l := st.Get(h).Layout; l == view.Scalar || l == view.Constant {
			return "*" + cname("p", i)
		}
		return cname("p", i) + "[i]"
	}

	switch t.Op {
	case tac.ZIP:
		expr, err := binaryExpr(t.SubOp, ref(t.In1), ref(t.In2))
		if err != nil {
			return opData{}, err
		}
		return opData{Kind: "elementwise", Out: out, CType: ct, ScalarOut: scalarOut, Expr: expr}, nil
	case tac.MAP:
		expr, err := unaryExpr(t.SubOp, ref(t.In1))
		if err != nil {
			return opData{}, err
		}
		return opData{Kind: "elementwise", Out: out, CType: ct, ScalarOut: scalarOut, Expr: expr}, nil
	case tac.REDUCE:
		init, combine, err := reduceExpr(t.SubOp, ct)
		if err != nil {
			return opData{}, err
		}
		acc := cname("acc", out)
		return opData{Kind: "reduce", Out: out, CType: ct, Expr: combine(acc, ref(t.In1)), Init: init}, nil
	case tac.SCAN:
		init, combine, err := reduceExpr(scanToReduce(t.SubOp), ct)
		if err != nil {
			return opData{}, err
		}
		acc := cname("acc", out)
		return opData{Kind: "scan", Out: out, CType: ct, Expr: combine(acc, ref(t.In1)), Init: init}, nil
	case tac.GENERATE:
		expr, err := generateExpr(t, ref)
		if err != nil {
			return opData{}, err
		}
		return opData{Kind: "generate", Out: out, CType: ct, Expr: expr}, nil
	default:
		return opData{}, errors.Errorf("specializer: unhandled TAC class %s", t.Op)
	}
}

func cname(prefix string, local int) string {
	return prefix + itoa(local)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func binaryExpr(op instr.Opcode, a, b string) (string, error) {
	switch op {
	case instr.ADD:
		return a + " + " + b, nil
	case instr.SUB:
		return a + " - " + b, nil
	case instr.MUL:
		return a + " * " + b, nil
	case instr.DIV:
		return a + " / " + b, nil
	case instr.MINIMUM:
		return "(" + a + " < " + b + " ? " + a + " : " + b + ")", nil
	case instr.MAXIMUM:
		return "(" + a + " > " + b + " ? " + a + " : " + b + ")", nil
	default:
		return "", errors.Errorf("specializer: unsupported ZIP subop %s", op)
	}
}

func unaryExpr(op instr.Opcode, a string) (string, error) {
	switch op {
	case instr.EXP:
		return "exp(" + a + ")", nil
	case instr.LOG:
		return "log(" + a + ")", nil
	case instr.ABS:
		return "fabs(" + a + ")", nil
	case instr.SQRT:
		return "sqrt(" + a + ")", nil
	case instr.IDENTITY:
		return a, nil
	default:
		return "", errors.Errorf("specializer: unsupported MAP subop %s", op)
	}
}

func reduceExpr(op instr.Opcode, ct string) (init string, combine func(acc, x string) string, err error) {
	switch op {
	case instr.SUM:
		return "0", func(acc, x string) string { return acc + " + " + x }, nil
	case instr.PRODUCT:
		return "1", func(acc, x string) string { return acc + " * " + x }, nil
	case instr.MAX:
		return minInitFor(ct), func(acc, x string) string { return "(" + acc + " > " + x + " ? " + acc + " : " + x + ")" }, nil
	case instr.MIN:
		return maxInitFor(ct), func(acc, x string) string { return "(" + acc + " < " + x + " ? " + acc + " : " + x + ")" }, nil
	default:
		return "", nil, errors.Errorf("specializer: unsupported REDUCE/SCAN subop %s", op)
	}
}

func scanToReduce(op instr.Opcode) instr.Opcode {
	switch op {
	case instr.CUMSUM:
		return instr.SUM
	case instr.CUMPRODUCT:
		return instr.PRODUCT
	default:
		return op
	}
}

func minInitFor(ct string) string {
	if ct == "float" || ct == "double" {
		return "-1.0/0.0" // -inf as a C constant expression, rendered as the MAX fold seed
	}
	return "0"
}

func maxInitFor(ct string) string {
	if ct == "float" || ct == "double" {
		return "1.0/0.0"
	}
	return "0"
}

// generateExpr renders a GENERATE TAC's per-element value. FILL's fill value is a
// compile-time constant the SymbolTable only records the dtype of (spec §4.2: a
// constant handle is tagged CONSTANT but carries no byte payload past lowering); the
// value itself rides on t.Const (see tac.TAC.Const) and reaches the kernel as a
// dereferenced one-element buffer the engine resolves at invocation time, same as
// any other operand -- so a different fill value never forces a recompile of an
// otherwise-identical structural nest. RANGE renders the loop index itself.
func generateExpr(t tac.TAC, ref func(symtab.Handle) string) (string, error) {
	switch t.SubOp {
	case instr.FILL:
		if t.In1 == symtab.Invalid {
			return "", errors.Errorf("specializer: FILL TAC missing its constant operand")
		}
		return ref(t.In1), nil
	case instr.RANGE:
		return "(double)i", nil
	default:
		return "", errors.Errorf("specializer: unsupported GENERATE subop %s", t.SubOp)
	}
}
