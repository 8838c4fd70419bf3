// Package tac implements the three-address-code form of one instruction batch: the
// flat intermediate the DAG, Block and Fuser all operate over.
package tac

import (
	"fmt"

	"github.com/bh-ve/vengine/instr"
	"github.com/bh-ve/vengine/symtab"
)

// Op classifies a TAC. It is also used, bit-packed via Mask, as the vertex omask the
// DAG accumulates over a subgraph.
type Op int

const (
	NOOP Op = iota
	SYSTEM
	EXTENSION
	MAP
	ZIP
	GENERATE
	REDUCE
	SCAN
)

func (op Op) String() string {
	switch op {
	case NOOP:
		return "NOOP"
	case SYSTEM:
		return "SYSTEM"
	case EXTENSION:
		return "EXTENSION"
	case MAP:
		return "MAP"
	case ZIP:
		return "ZIP"
	case GENERATE:
		return "GENERATE"
	case REDUCE:
		return "REDUCE"
	case SCAN:
		return "SCAN"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// Mask is a bitwise-OR-able set of Ops, used for a DAG vertex's/subgraph's omask.
type Mask uint

const (
	MaskNoop Mask = 1 << iota
	MaskSystem
	MaskExtension
	MaskMap
	MaskZip
	MaskGenerate
	MaskReduce
	MaskScan
)

// Mask returns the single-bit Mask for op.
func (op Op) Mask() Mask {
	switch op {
	case NOOP:
		return MaskNoop
	case SYSTEM:
		return MaskSystem
	case EXTENSION:
		return MaskExtension
	case MAP:
		return MaskMap
	case ZIP:
		return MaskZip
	case GENERATE:
		return MaskGenerate
	case REDUCE:
		return MaskReduce
	case SCAN:
		return MaskScan
	default:
		return 0
	}
}

// ArrayOps is the set of classes that read/write array data (as opposed to pure
// system bookkeeping), used by Engine.Execute to decide whether a subgraph needs a
// compiled kernel at all.
const ArrayOps = MaskMap | MaskZip | MaskGenerate | MaskReduce | MaskScan

// NonFusable is the set of classes the Fuser never merges across a subgraph boundary:
// a subgraph touching any of these always runs one TAC at a time (sij mode), since
// REDUCE/SCAN change iteration order and SYSTEM/EXTENSION carry no loop nest at all.
const NonFusable = MaskSystem | MaskExtension | MaskReduce | MaskScan

// TAC is one three-address-code record: an opcode refining a class, an output and up
// to two input operand handles, and (for EXTENSION) the payload named in spec §9's
// design note ("Opaque pointer payload on EXTENSION TACs").
type TAC struct {
	Op    Op
	SubOp instr.Opcode
	Out   symtab.Handle
	In1   symtab.Handle
	In2   symtab.Handle
	// Axis applies to REDUCE/SCAN; zero otherwise. It is part of the structural
	// fingerprint, since reducing over a different axis changes the generated loop.
	Axis int
	// Ext is non-nil only for EXTENSION TACs: a non-owning reference to the raw
	// instruction, scoped to the batch's lifetime (never outlives it).
	Ext *instr.Instruction
	// Const carries the compile-time scalar payload for a ZIP-against-constant or a
	// GENERATE/FILL TAC (the handle named by In2 or In1 respectively is tagged
	// symtab.Constant in the SymbolTable, which records only its dtype -- the byte
	// value itself must ride along on the TAC so the engine can supply it at
	// invocation time without it ever affecting the structural fingerprint, which
	// only ever inspects (op, subop, dtype, layout, ndim, axis).
	Const *instr.Constant
}

// NumOperands returns how many of Out/In1/In2 are meaningful for this TAC.
func (t TAC) NumOperands() int {
	switch {
	case t.In2 != symtab.Invalid:
		return 3
	case t.In1 != symtab.Invalid:
		return 2
	case t.Out != symtab.Invalid:
		return 1
	default:
		return 0
	}
}

func (t TAC) String() string {
	return fmt.Sprintf("tac(%s/%s out=%d in1=%d in2=%d)", t.Op, t.SubOp, t.Out, t.In1, t.In2)
}

// Program is a batch's flat TAC sequence, in front-end submission order.
type Program []TAC
