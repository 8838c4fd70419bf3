// Package engine implements the batch -> DAG -> Block -> Fuser -> Specializer ->
// Storage -> Compiler pipeline's orchestrator: the one entry point (Execute) a
// front-end actually calls.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/bh-ve/vengine/block"
	"github.com/bh-ve/vengine/config"
	"github.com/bh-ve/vengine/dag"
	"github.com/bh-ve/vengine/dtype"
	"github.com/bh-ve/vengine/instr"
	"github.com/bh-ve/vengine/specializer"
	"github.com/bh-ve/vengine/storage"
	"github.com/bh-ve/vengine/symtab"
	"github.com/bh-ve/vengine/tac"
	"github.com/bh-ve/vengine/vcache"
	"github.com/bh-ve/vengine/view"
)

// Toolchain abstracts "turn C source into a loadable shared object" (spec §4.6):
// *compiler.Compiler satisfies this without engine needing to import compiler
// directly, which keeps a naive/no-JIT engine buildable without a C toolchain in
// scope at all.
type Toolchain interface {
	Compile(srcPath, objPath, src string) error
}

// ExtensionPayload is what an ExtensionFunc receives: the operand views, any
// compile-time constant, and the opaque user-function payload the front-end attached.
// Assembled either from a true EXTENSION TAC's instr.Instruction (Operands/Constant/
// UserFunc all present) or, when a builtin opcode is intercepted before ever reaching
// the Specializer (RANDOM being the motivating case, spec §12), reconstructed from the
// TAC's own Out/In1/In2/Const fields.
type ExtensionPayload struct {
	Opcode   instr.Opcode
	Operands []view.View
	Constant *instr.Constant
	UserFunc any
}

// ExtensionFunc implements one registered opcode against already-allocated operand
// views. It must fill payload.Operands[0]'s buffer itself; Engine only guarantees the
// output base is realized before calling it.
type ExtensionFunc func(payload ExtensionPayload) error

type extensionEntry struct {
	name string
	fn   ExtensionFunc
}

// Engine drives one batch at a time through the JIT pipeline (spec §5: no concurrent
// Execute calls are supported, mirroring the single-threaded VE loop in
// ve/cpu/engine.cpp).
type Engine struct {
	cfg         config.Config
	vc          *vcache.VCache
	storage     *storage.Storage
	specializer *specializer.Specializer
	toolchain   Toolchain
	naive       *KernelTable
	extensions  map[instr.Opcode]extensionEntry
	execCount   int
}

// New builds an Engine from cfg, resolving compiled kernels through loader and driving
// fresh compiles through toolchain. If cfg.Preload is set, it warms Storage's launcher
// cache from cfg.ObjectDirectory before returning.
func New(cfg config.Config, loader storage.KernelLoader, toolchain Toolchain) (*Engine, error) {
	spec, err := specializer.New(cfg.TemplateDirectory)
	if err != nil {
		return nil, errors.Wrap(err, "engine: initializing specializer")
	}
	st := storage.New(cfg.KernelDirectory, cfg.ObjectDirectory, loader)
	e := &Engine{
		cfg:         cfg,
		vc:          vcache.New(cfg.VCacheSize),
		storage:     st,
		specializer: spec,
		toolchain:   toolchain,
		naive:       NewKernelTable(),
		extensions:  make(map[instr.Opcode]extensionEntry),
	}
	if cfg.Preload {
		if err := st.Preload(); err != nil {
			return nil, errors.Wrap(err, "engine: preloading kernel cache")
		}
	}
	return e, nil
}

// RegisterExtension installs fn as the handler for opcode. Re-registering an opcode
// already bound warns rather than erroring (spec §12, mirroring engine.cpp's
// register_extension): the last registration wins.
func (e *Engine) RegisterExtension(name string, opcode instr.Opcode, fn ExtensionFunc) error {
	if fn == nil {
		return errors.Errorf("engine: RegisterExtension(%s): nil handler", name)
	}
	if prior, exists := e.extensions[opcode]; exists {
		klog.Warningf("engine: opcode %s already registered to extension %q, overwriting with %q", opcode, prior.name, name)
	}
	e.extensions[opcode] = extensionEntry{name: name, fn: fn}
	return nil
}

// Execute lowers batch to TAC, partitions it into subgraphs and runs each one, either
// through a compiled kernel (fuseMode/sijMode's array-op branch) or a registered
// extension. Category-4 invariant violations raised anywhere below are recovered here
// and returned as a plain error; every other failure is returned as encountered.
func (e *Engine) Execute(ctx context.Context, batch []instr.Instruction) error {
	return guardInvariants(func() error {
		return e.execute(ctx, batch)
	})
}

func (e *Engine) execute(ctx context.Context, batch []instr.Instruction) error {
	n := len(batch)
	st := symtab.New(6*n + 2)
	prog := make(tac.Program, n)
	if err := tac.Lower(batch, prog, st); err != nil {
		return errors.Wrap(err, "engine: lowering batch")
	}
	st.CountTmp()

	g := dag.Build(st, prog)
	e.execCount++
	klog.V(2).Infof("engine: batch %d: %d TACs, %d subgraphs", e.execCount, n, len(g.Subgraphs()))

	if e.cfg.DumpRep {
		name := fmt.Sprintf("graph%d.dot", e.execCount)
		if err := os.WriteFile(name, []byte(g.DOT()), 0o644); err != nil {
			klog.Warningf("engine: writing %s: %v", name, err)
		}
	}

	for i, sg := range g.Subgraphs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		mask := g.OMask(i)
		fusable := e.cfg.JITFusion && mask&tac.NonFusable == 0 && mask&tac.ArrayOps != 0
		if fusable {
			if err := e.fuseMode(prog, sg, st); err != nil {
				return err
			}
			continue
		}
		if err := e.sijMode(prog, sg, st); err != nil {
			return err
		}
	}
	return nil
}

// fuseMode composes sg into one fused Block and runs it as a single kernel. A subgraph
// can only reach here with an omask clearing NON_FUSABLE, so none of its members are
// SYSTEM, EXTENSION, REDUCE or SCAN (spec §4.8) -- runBlock never needs to special-case
// those classes. A subgraph with a member whose opcode has a registered extension is
// handed to sijMode instead, which is where extension dispatch happens.
func (e *Engine) fuseMode(prog tac.Program, sg dag.Subgraph, st *symtab.SymbolTable) error {
	for _, m := range sg.Members {
		if _, ok := e.extensions[prog[m].SubOp]; ok {
			return e.sijMode(prog, sg, st)
		}
	}
	b := block.Fuser{}.Fuse(prog, sg, st)
	return e.runBlock(b, st)
}

// sijMode runs sg one TAC at a time: SYSTEM TACs execute inline with no compilation at
// all, EXTENSION TACs and any builtin opcode with a registered extension dispatch to
// that extension before ever reaching the Specializer, and everything else composes a
// singleton Block through the same compile-or-naive path fuseMode uses.
func (e *Engine) sijMode(prog tac.Program, sg dag.Subgraph, st *symtab.SymbolTable) error {
	for _, m := range sg.Members {
		t := prog[m]
		switch t.Op {
		case tac.NOOP:
			continue
		case tac.SYSTEM:
			if err := e.runSystem(t, st); err != nil {
				return err
			}
			continue
		case tac.EXTENSION:
			if err := e.runExtensionTAC(t, st); err != nil {
				return err
			}
			continue
		}
		if entry, ok := e.extensions[t.SubOp]; ok {
			if err := e.runInterceptedExtension(entry, t, st); err != nil {
				return err
			}
			continue
		}
		b := block.ComposeOne(t)
		b.Symbolize(st)
		if err := e.runBlock(b, st); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runSystem(t tac.TAC, st *symtab.SymbolTable) error {
	switch t.SubOp {
	case instr.FREE:
		if o := st.Get(t.Out); o.View.Base != nil {
			e.vc.Free(o.View.Base)
		}
		return nil
	case instr.DISCARD:
		// DISCARD drops the buffer outright rather than recycling it through vcache:
		// the base is never referenced again after a DISCARD, so extending vcache's
		// FIFO with it would only crowd out entries a FREE might actually reuse.
		if o := st.Get(t.Out); o.View.Base != nil {
			o.View.Base.Data = nil
		}
		return nil
	case instr.SYNC:
		// Execute processes one batch at a time on a single goroutine (spec §5), so
		// there is never anything outstanding for SYNC to wait on.
		return nil
	default:
		invariantf("unhandled SYSTEM subop %s", t.SubOp)
		return nil
	}
}

func (e *Engine) runExtensionTAC(t tac.TAC, st *symtab.SymbolTable) error {
	entry, ok := e.extensions[t.SubOp]
	if !ok {
		return &UserFuncNotSupportedError{Opcode: t.SubOp.String()}
	}
	payload := ExtensionPayload{Opcode: t.SubOp}
	if t.Ext != nil {
		payload.Operands = t.Ext.Operands
		payload.Constant = t.Ext.Constant
		payload.UserFunc = t.Ext.UserFunc
	}
	if err := e.allocateExtensionOutput(t, st); err != nil {
		return err
	}
	if err := entry.fn(payload); err != nil {
		return errors.Wrapf(err, "engine: extension %s", entry.name)
	}
	return nil
}

// runInterceptedExtension handles a builtin-classified opcode (RANDOM being the
// motivating case: tac.classify puts it in GENERATE, but an operator without a
// hardware RNG kernel wants to supply one via RegisterExtension instead) that a caller
// has registered a handler for. The payload is reconstructed from the TAC's own
// operand handles, since a builtin TAC carries no *instr.Instruction of its own.
func (e *Engine) runInterceptedExtension(entry extensionEntry, t tac.TAC, st *symtab.SymbolTable) error {
	payload := ExtensionPayload{Opcode: t.SubOp, Constant: t.Const}
	for _, h := range [...]symtab.Handle{t.Out, t.In1, t.In2} {
		if h == symtab.Invalid {
			continue
		}
		payload.Operands = append(payload.Operands, st.Get(h).View)
	}
	if err := e.allocateExtensionOutput(t, st); err != nil {
		return err
	}
	if err := entry.fn(payload); err != nil {
		return errors.Wrapf(err, "engine: extension %s", entry.name)
	}
	return nil
}

func (e *Engine) allocateExtensionOutput(t tac.TAC, st *symtab.SymbolTable) error {
	if t.Out == symtab.Invalid {
		return nil
	}
	o := st.Get(t.Out)
	if o.View.Base == nil {
		return nil
	}
	if err := e.vc.Malloc(o.View.Base); err != nil {
		return &OutOfMemoryError{Bytes: o.View.Base.Bytes()}
	}
	return nil
}

// runBlock allocates b's outputs and executes it, either through the naive fallback
// (Config.JITEnabled == false) or the compile-cache/Specializer/Compiler path.
func (e *Engine) runBlock(b *block.Block, st *symtab.SymbolTable) error {
	if err := e.allocateOutputs(b, st); err != nil {
		return err
	}
	if !e.cfg.JITEnabled {
		return e.runNaive(b, st)
	}
	return e.runCompiled(b, st)
}

// allocateOutputs realizes every output base of b. Scalar-replaced outputs get no
// buffer when a compiled kernel will run; the naive fallback has no registers and
// writes every output to its buffer, so there they are allocated too.
func (e *Engine) allocateOutputs(b *block.Block, st *symtab.SymbolTable) error {
	seen := make(map[*view.BaseArray]bool)
	for _, t := range b.TACs {
		if t.Out == symtab.Invalid || (e.cfg.JITEnabled && b.ScalarReplaced[t.Out]) {
			continue
		}
		base := st.Get(t.Out).View.Base
		if base == nil || seen[base] {
			continue
		}
		seen[base] = true
		if err := e.vc.Malloc(base); err != nil {
			return &OutOfMemoryError{Bytes: base.Bytes()}
		}
	}
	return nil
}

func (e *Engine) runNaive(b *block.Block, st *symtab.SymbolTable) error {
	for _, t := range b.TACs {
		if err := e.naive.Execute(t, st); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runCompiled(b *block.Block, st *symtab.SymbolTable) error {
	fp := b.Symbol()
	compile := func() error {
		src, err := e.specializer.Render(b, st)
		if err != nil {
			return err
		}
		if e.cfg.JITDumpSrc {
			klog.V(2).Infof("engine: fingerprint %s:\n%s", fp, src)
		}
		srcPath := e.storage.SrcAbspath(fp)
		objPath := e.storage.ObjAbspath(fp)
		if err := e.toolchain.Compile(srcPath, objPath, src); err != nil {
			klog.Errorf("engine: compiling fingerprint %s: %v", fp, err)
			return errors.Wrapf(err, "engine: compiling fingerprint %s", fp)
		}
		return e.storage.AddSymbol(fp, objPath)
	}
	if err := e.storage.EnsureCompiled(fp, compile); err != nil {
		return err
	}

	launcher := e.storage.Func(fp)
	if launcher == nil {
		invariantf("fingerprint %s reported compiled but has no cached launcher", fp)
	}

	data, err := specializer.BuildData(b, st)
	if err != nil {
		return err
	}
	consts := constantsOf(b)
	dataList := specializer.DataList(data, func(h symtab.Handle) unsafe.Pointer {
		return e.resolveOperand(h, st, consts)
	})
	if err := launcher(dataList); err != nil {
		return errors.Wrapf(err, "engine: invoking kernel for fingerprint %s", fp)
	}
	return nil
}

// constantsOf indexes b's TACs by the handle their compile-time constant payload rides
// on: the SymbolTable only ever records a constant handle's dtype (spec §4.2), so the
// actual bytes have to be recovered from the TAC that introduced them, not from st.
func constantsOf(b *block.Block) map[symtab.Handle]*instr.Constant {
	m := make(map[symtab.Handle]*instr.Constant)
	for _, t := range b.TACs {
		if t.Const == nil {
			continue
		}
		switch t.Op {
		case tac.ZIP:
			if t.In2 != symtab.Invalid {
				m[t.In2] = t.Const
			}
		case tac.GENERATE:
			if t.In1 != symtab.Invalid {
				m[t.In1] = t.Const
			}
		}
	}
	return m
}

// resolveOperand maps a rendered kernel's local operand handle to the raw pointer its
// launcher(void *data_list[]) expects: a byte offset into a realized base array's
// buffer for anything with a base, or a freshly materialized one-element buffer for a
// Constant-layout operand (the kernel dereferences it exactly like any other pointer
// operand, per the *pN rendering of the ref closure in specializer's buildOp).
func (e *Engine) resolveOperand(h symtab.Handle, st *symtab.SymbolTable, consts map[symtab.Handle]*instr.Constant) unsafe.Pointer {
	o := st.Get(h)
	if o.Layout == view.Constant {
		c, ok := consts[h]
		if !ok || c == nil {
			invariantf("constant handle %d has no constant payload recorded on its block", int(h))
		}
		buf := append([]byte(nil), c.Bytes...)
		return unsafe.Pointer(&buf[0])
	}
	base := o.View.Base
	if base == nil {
		invariantf("operand handle %d has neither a base array nor constant layout", int(h))
	}
	byteOffset := o.View.Offset * dtype.Sizeof(base.DType)
	return unsafe.Pointer(&base.Data[byteOffset])
}

// String renders the engine's active configuration, mirroring engine.cpp's
// Engine::text() (spec §12).
func (e *Engine) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "engine{vcache_size=%d preload=%v jit_enabled=%v jit_fusion=%v jit_dumpsrc=%v dump_rep=%v compiler=%q",
		e.cfg.VCacheSize, e.cfg.Preload, e.cfg.JITEnabled, e.cfg.JITFusion, e.cfg.JITDumpSrc, e.cfg.DumpRep, e.cfg.CompilerCmd)
	fmt.Fprintf(&b, " template_dir=%q kernel_dir=%q object_dir=%q extensions=%d exec_count=%d}",
		e.cfg.TemplateDirectory, e.cfg.KernelDirectory, e.cfg.ObjectDirectory, len(e.extensions), e.execCount)
	return b.String()
}

// Text is an explicit alias for String, named after engine.cpp's Engine::text().
func (e *Engine) Text() string { return e.String() }
