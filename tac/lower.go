package tac

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/bh-ve/vengine/instr"
	"github.com/bh-ve/vengine/symtab"
)

// classify maps a builtin instr.Opcode to its TAC class. Extension opcodes (anything
// instr.Opcode.IsExtension() reports true for) are handled separately by Lower, since
// they carry no fixed arity known ahead of time.
func classify(op instr.Opcode) (Op, bool) {
	switch op {
	case instr.NONE:
		return NOOP, true
	case instr.DISCARD, instr.SYNC, instr.FREE:
		return SYSTEM, true
	case instr.ADD, instr.SUB, instr.MUL, instr.DIV, instr.MINIMUM, instr.MAXIMUM:
		return ZIP, true
	case instr.EXP, instr.LOG, instr.ABS, instr.SQRT, instr.IDENTITY:
		return MAP, true
	case instr.SUM, instr.PRODUCT, instr.MAX, instr.MIN:
		return REDUCE, true
	case instr.CUMSUM, instr.CUMPRODUCT:
		return SCAN, true
	case instr.RANGE, instr.FILL, instr.RANDOM:
		return GENERATE, true
	default:
		return NOOP, false
	}
}

func decodeAxis(c *instr.Constant) int {
	if c == nil || len(c.Bytes) < 8 {
		return 0
	}
	return int(int64(binary.LittleEndian.Uint64(c.Bytes)))
}

// Lower walks a batch of instructions and produces one TAC per instruction, interning
// every operand into st. prog must have length len(batch); st must be sized 6*N+2 for
// N := len(batch) (spec §3 invariant).
func Lower(batch []instr.Instruction, prog Program, st *symtab.SymbolTable) error {
	if len(prog) != len(batch) {
		return errors.Errorf("tac.Lower: prog has length %d, batch has %d", len(prog), len(batch))
	}
	for i, in := range batch {
		t, err := lowerOne(in, st)
		if err != nil {
			return errors.Wrapf(err, "tac.Lower: instruction %d (%s)", i, in.Opcode)
		}
		prog[i] = t
	}
	for i := range prog {
		markRefs(prog[i], st)
	}
	return nil
}

func lowerOne(in instr.Instruction, st *symtab.SymbolTable) (TAC, error) {
	if in.Opcode.IsExtension() {
		t := TAC{Op: EXTENSION, SubOp: in.Opcode, Out: symtab.Invalid, In1: symtab.Invalid, In2: symtab.Invalid, Ext: &in}
		if len(in.Operands) > 0 {
			t.Out = st.InternView(in.Operands[0])
		}
		return t, nil
	}

	class, ok := classify(in.Opcode)
	if !ok {
		return TAC{}, errors.Errorf("unknown opcode %s: not builtin and not >= extension base", in.Opcode)
	}

	t := TAC{Op: class, SubOp: in.Opcode, Out: symtab.Invalid, In1: symtab.Invalid, In2: symtab.Invalid}

	switch class {
	case NOOP:
		// NONE carries no operands worth interning.
	case SYSTEM:
		if len(in.Operands) != 1 {
			return TAC{}, errors.Errorf("%s expects exactly 1 operand, got %d", in.Opcode, len(in.Operands))
		}
		t.Out = st.InternView(in.Operands[0])
	case MAP:
		if len(in.Operands) != 2 {
			return TAC{}, errors.Errorf("%s expects exactly 2 operands (out, in1), got %d", in.Opcode, len(in.Operands))
		}
		t.Out = st.InternView(in.Operands[0])
		t.In1 = st.InternView(in.Operands[1])
	case ZIP:
		if len(in.Operands) == 3 {
			t.Out = st.InternView(in.Operands[0])
			t.In1 = st.InternView(in.Operands[1])
			t.In2 = st.InternView(in.Operands[2])
		} else if len(in.Operands) == 2 && in.Constant != nil {
			// One side is a compile-time constant: out, in1, constant.
			t.Out = st.InternView(in.Operands[0])
			t.In1 = st.InternView(in.Operands[1])
			t.In2 = st.InternConstant(in.Constant.DType)
			t.Const = in.Constant
		} else {
			return TAC{}, errors.Errorf("%s expects 3 array operands or 2 operands + a constant, got %d operands, constant=%v",
				in.Opcode, len(in.Operands), in.Constant != nil)
		}
	case REDUCE, SCAN:
		if len(in.Operands) != 2 {
			return TAC{}, errors.Errorf("%s expects exactly 2 operands (out, in1), got %d", in.Opcode, len(in.Operands))
		}
		t.Out = st.InternView(in.Operands[0])
		t.In1 = st.InternView(in.Operands[1])
		t.Axis = decodeAxis(in.Constant)
	case GENERATE:
		if len(in.Operands) != 1 {
			return TAC{}, errors.Errorf("%s expects exactly 1 operand (out), got %d", in.Opcode, len(in.Operands))
		}
		t.Out = st.InternView(in.Operands[0])
		if in.Constant != nil {
			t.In1 = st.InternConstant(in.Constant.DType)
			t.Const = in.Constant
		}
	}
	return t, nil
}

func markRefs(t TAC, st *symtab.SymbolTable) {
	switch t.Op {
	case SYSTEM:
		// DISCARD/SYNC/FREE all reference the base without writing a new value.
		st.MarkRead(t.Out)
	case NOOP:
		// no operands
	default:
		if t.Out != symtab.Invalid {
			st.MarkWrite(t.Out)
		}
		if t.In1 != symtab.Invalid {
			st.MarkRead(t.In1)
		}
		if t.In2 != symtab.Invalid {
			st.MarkRead(t.In2)
		}
	}
}
