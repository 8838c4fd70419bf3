// Package instr defines the batch input the front-end produces: the wire format of
// one array instruction, before the engine lowers it into internal three-address code.
package instr

import (
	"fmt"

	"github.com/bh-ve/vengine/dtype"
	"github.com/bh-ve/vengine/view"
)

// Opcode identifies what an Instruction does. Values below extensionBase are builtin
// and understood by tac.Lower directly; values at or above extensionBase are
// user-registered (see engine.Engine.RegisterExtension) and always lower to an
// EXTENSION TAC.
type Opcode int

// System opcodes: control the lifetime and visibility of a base array rather than
// computing over it.
const (
	NONE Opcode = iota
	DISCARD
	SYNC
	FREE
)

// Arithmetic opcodes lower by opcode: ADD through MAXIMUM to ZIP (two array inputs, or
// one array input plus a Constant), EXP through IDENTITY to MAP (one array input).
const (
	ADD Opcode = iota + 100
	SUB
	MUL
	DIV
	EXP
	LOG
	ABS
	SQRT
	MINIMUM
	MAXIMUM
	IDENTITY // MAP with a single input, used for casts/copies
)

// Reduction opcodes lower to REDUCE.
const (
	SUM Opcode = iota + 200
	PRODUCT
	MAX
	MIN
)

// Scan (prefix) opcodes lower to SCAN.
const (
	CUMSUM Opcode = iota + 300
	CUMPRODUCT
)

// Generator opcodes lower to GENERATE.
const (
	RANGE Opcode = iota + 400
	FILL
	RANDOM
)

// extensionBase is the first opcode value reserved for user registrations. It sits
// well above the builtin ranges above so a growing builtin table never collides with
// an already-registered extension.
const extensionBase Opcode = 10000

// IsExtension reports whether op is a user-registered opcode rather than a builtin.
func (op Opcode) IsExtension() bool {
	return op >= extensionBase
}

var opcodeNames = map[Opcode]string{
	NONE: "NONE", DISCARD: "DISCARD", SYNC: "SYNC", FREE: "FREE",
	ADD: "ADD", SUB: "SUB", MUL: "MUL", DIV: "DIV", EXP: "EXP", LOG: "LOG",
	ABS: "ABS", SQRT: "SQRT", MINIMUM: "MINIMUM", MAXIMUM: "MAXIMUM", IDENTITY: "IDENTITY",
	SUM: "SUM", PRODUCT: "PRODUCT", MAX: "MAX", MIN: "MIN",
	CUMSUM: "CUMSUM", CUMPRODUCT: "CUMPRODUCT",
	RANGE: "RANGE", FILL: "FILL", RANDOM: "RANDOM",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	if op.IsExtension() {
		return fmt.Sprintf("EXTENSION(%d)", int(op))
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// Constant is a compile-time-known scalar value carried by an instruction (e.g. the
// fill value of FILL, or the addend in `array + 3`).
type Constant struct {
	DType dtype.DType
	Bytes []byte // little-endian encoding of one dtype.Sizeof(DType)-byte value
}

// Instruction is one front-end array instruction: an opcode over views of base
// arrays, plus optional constant and user-function payload.
type Instruction struct {
	Opcode Opcode

	// Operands are views into base arrays. By convention the output is Operands[0]
	// when the opcode produces one (system opcodes have exactly one operand: the
	// base they act on).
	Operands []view.View

	// Constant is set for instructions that mix an array operand with a compile-time
	// scalar (e.g. ZIP against a constant); nil otherwise.
	Constant *Constant

	// UserFunc is the opaque payload EXTENSION instructions carry; nil for builtins.
	// Its lifetime is scoped to the batch it arrived in (spec §9 "Cyclic references").
	UserFunc any
}

func (in Instruction) String() string {
	return fmt.Sprintf("instr(%s, %d operands)", in.Opcode, len(in.Operands))
}
