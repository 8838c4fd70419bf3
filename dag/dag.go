// Package dag builds the dependency graph over one batch's TACs and partitions it
// into fusible subgraphs.
package dag

import (
	"fmt"
	"strings"

	"github.com/bh-ve/vengine/symtab"
	"github.com/bh-ve/vengine/tac"
	"github.com/bh-ve/vengine/view"
)

// EdgeKind distinguishes a fusible data edge from a barrier.
type EdgeKind int

const (
	Fusible EdgeKind = iota
	Barrier
)

// Edge is a dependency from From to To (From must execute first).
type Edge struct {
	From, To int
	Kind     EdgeKind
}

// Subgraph is a maximal weakly-connected component over Fusible edges: a candidate
// nest for the Fuser. Members are TAC indices in original program order.
type Subgraph struct {
	Members []int
}

// DAG is the dependency graph over one batch's TAC program.
type DAG struct {
	prog      tac.Program
	st        *symtab.SymbolTable
	edges     []Edge
	subgraphs []Subgraph
	omasks    []tac.Mask // parallel to subgraphs
}

type readRecord struct {
	idx int
	v   view.View
}

type baseState struct {
	lastWriter int // -1 if none
	writerView view.View
	readers    []readRecord
}

// Build constructs the dependency graph for prog, whose operand handles are resolved
// through st.
func Build(st *symtab.SymbolTable, prog tac.Program) *DAG {
	d := &DAG{prog: prog, st: st}
	d.buildEdges()
	d.buildSubgraphs()
	return d
}

func fusibleClass(op tac.Op) bool {
	return op == tac.MAP || op == tac.ZIP || op == tac.GENERATE
}

type role int

const (
	roleRead role = iota
	roleWrite
	// roleFence marks a SYSTEM/EXTENSION reference: not genuine array data flow, but
	// an ordering fence that nothing on the same base may float past (spec §4.3,
	// "order edges for SYSTEM ops").
	roleFence
)

type baseRef struct {
	v    view.View
	role role
}

// refs returns the operand references a TAC touches, in argument order, tagged with
// their data-flow role.
func refs(t tac.TAC, st *symtab.SymbolTable) []baseRef {
	var out []baseRef
	switch t.Op {
	case tac.NOOP:
		// no operands
	case tac.SYSTEM, tac.EXTENSION:
		if t.Out != symtab.Invalid {
			if o := st.Get(t.Out); o.View.Base != nil {
				out = append(out, baseRef{o.View, roleFence})
			}
		}
	default:
		if t.Out != symtab.Invalid {
			if o := st.Get(t.Out); o.View.Base != nil {
				out = append(out, baseRef{o.View, roleWrite})
			}
		}
		if t.In1 != symtab.Invalid {
			if o := st.Get(t.In1); o.View.Base != nil {
				out = append(out, baseRef{o.View, roleRead})
			}
		}
		if t.In2 != symtab.Invalid {
			if o := st.Get(t.In2); o.View.Base != nil {
				out = append(out, baseRef{o.View, roleRead})
			}
		}
	}
	return out
}

func (d *DAG) buildEdges() {
	states := make(map[*view.BaseArray]*baseState)

	stateFor := func(b *view.BaseArray) *baseState {
		s, ok := states[b]
		if !ok {
			s = &baseState{lastWriter: -1}
			states[b] = s
		}
		return s
	}

	// barrierFromPast orders `to` after everything a fence reference must not float
	// past: unconditional, since a SYSTEM/EXTENSION op (FREE, DISCARD, an opaque
	// extension) is never known to be region-disjoint from anything that touched the
	// same base before it.
	barrierFromPast := func(s *baseState, to int) {
		if s.lastWriter >= 0 {
			d.edges = append(d.edges, Edge{From: s.lastWriter, To: to, Kind: Barrier})
		}
		for _, reader := range s.readers {
			d.edges = append(d.edges, Edge{From: reader.idx, To: to, Kind: Barrier})
		}
	}

	for i, t := range d.prog {
		// Whether *this* TAC's own class can ever anchor a Fusible edge. REDUCE/SCAN
		// reads are genuine reads (tracked below like any other), but the edge landing
		// on a REDUCE/SCAN is always a Barrier: fusing into a reduction changes loop
		// structure, so it can never join a MAP/ZIP/GENERATE nest.
		canFuse := fusibleClass(t.Op)
		for _, r := range refs(t, d.st) {
			base := r.v.Base
			if base == nil {
				continue
			}
			s := stateFor(base)
			switch r.role {
			case roleWrite:
				// WAW: a second write only orders after the prior write if their
				// regions can actually alias; two writes to disjoint slices of the
				// same base (e.g. two halves of an output array) are independent.
				if s.lastWriter >= 0 && !view.Disjoint(s.writerView, r.v) {
					d.edges = append(d.edges, Edge{From: s.lastWriter, To: i, Kind: Barrier})
				}
				// WAR: likewise, only order after readers whose region overlaps.
				kept := s.readers[:0]
				for _, reader := range s.readers {
					if !view.Disjoint(reader.v, r.v) {
						d.edges = append(d.edges, Edge{From: reader.idx, To: i, Kind: Barrier})
					} else {
						kept = append(kept, reader)
					}
				}
				s.readers = kept
				s.lastWriter = i
				s.writerView = r.v

			case roleRead:
				// A genuine data read, regardless of the reading TAC's class: record it
				// as a reader, adding a RAW edge to the last writer (if any) classified
				// by alias relationship. A read with no prior writer on this base, or
				// one whose region is disjoint from the write, is simply independent.
				if s.lastWriter >= 0 && !view.Disjoint(s.writerView, r.v) {
					kind := Barrier
					if canFuse && view.Aligned(s.writerView, r.v) {
						kind = Fusible
					}
					d.edges = append(d.edges, Edge{From: s.lastWriter, To: i, Kind: kind})
				}
				s.readers = append(s.readers, readRecord{idx: i, v: r.v})

			case roleFence:
				// SYSTEM/EXTENSION reference: order edge only, acting as a pseudo-write
				// so nothing after it can float past, matching spec's "order edges for
				// SYSTEM ops that must not float past user ops on the same base".
				barrierFromPast(s, i)
				s.lastWriter = i
				s.writerView = r.v
				s.readers = s.readers[:0]
			}
		}
	}
}

// unionFind over TAC indices.
type unionFind struct{ parent []int }

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

func (d *DAG) buildSubgraphs() {
	n := len(d.prog)
	uf := newUnionFind(n)
	for _, e := range d.edges {
		if e.Kind == Fusible {
			uf.union(e.From, e.To)
		}
	}

	groups := make(map[int][]int)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		if _, ok := groups[root]; !ok {
			order = append(order, root)
		}
		groups[root] = append(groups[root], i)
	}

	// Subgraphs are already listed in a program order consistent with the DAG: the
	// front-end emits instructions in a valid topological order, and union-find only
	// merges along fusible (same-base, aligned, array-op) edges, never reordering
	// across a barrier.
	d.subgraphs = make([]Subgraph, 0, len(order))
	d.omasks = make([]tac.Mask, 0, len(order))
	for _, root := range order {
		members := groups[root]
		var mask tac.Mask
		for _, m := range members {
			mask |= d.prog[m].Op.Mask()
		}
		d.subgraphs = append(d.subgraphs, Subgraph{Members: members})
		d.omasks = append(d.omasks, mask)
	}
}

// Subgraphs returns the DAG's subgraphs in a topologically valid processing order.
func (d *DAG) Subgraphs() []Subgraph { return d.subgraphs }

// OMask returns the bitwise-OR of op classes in subgraph i.
func (d *DAG) OMask(i int) tac.Mask { return d.omasks[i] }

// Edges exposes the raw dependency edges, mainly for DOT rendering and tests.
func (d *DAG) Edges() []Edge { return d.edges }

// DOT renders the DAG as Graphviz dot source (spec's dump_rep / "graph<N>.dot"),
// solid edges for fusible, dashed for barrier.
func (d *DAG) DOT() string {
	var b strings.Builder
	b.WriteString("digraph batch {\n")
	for i, t := range d.prog {
		fmt.Fprintf(&b, "  %d [label=%q];\n", i, fmt.Sprintf("%s/%s", t.Op, t.SubOp))
	}
	for _, e := range d.edges {
		style := "solid"
		if e.Kind == Barrier {
			style = "dashed"
		}
		fmt.Fprintf(&b, "  %d -> %d [style=%s];\n", e.From, e.To, style)
	}
	b.WriteString("}\n")
	return b.String()
}
