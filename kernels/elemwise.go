// Package kernels provides the elementwise IR-template catalog the trace
// builder appends, the host-side interpreter the backend.Host reference
// backend uses to actually execute a substituted trace, and the
// hand-tuned collective kernels (fill/reduce/scan/all/any/mkperm).
package kernels

import "github.com/brindleforge/jitgraph/core"

// Op identifies the operation an elementwise Variable's Stmt template
// encodes. The host reference backend recognizes a Stmt by exact match
// against Template(op) to recover which Op it is, rather than re-parsing
// arbitrary IR text — acceptable because the catalog is closed and small
// (core/template.go's "the template grammar is tiny" design note).
type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
	OpMin
	OpMax
	OpAnd
	OpOr
	OpXor
	OpCast
	OpCounter
	OpGatherLoad
	OpScatterAdd
	OpBroadcastCopy
)

// Template returns the IR template string trace_append_k stores in a
// Variable's Stmt for op. Placeholders follow core/template.go's grammar.
func Template(op Op) string {
	switch op {
	case OpAdd:
		return "$r0 = $r1 + $r2;"
	case OpSub:
		return "$r0 = $r1 - $r2;"
	case OpMul:
		return "$r0 = $r1 * $r2;"
	case OpDiv:
		return "$r0 = $r1 / $r2;"
	case OpMin:
		return "$r0 = min($r1, $r2);"
	case OpMax:
		return "$r0 = max($r1, $r2);"
	case OpAnd:
		return "$r0 = $r1 & $r2;"
	case OpOr:
		return "$r0 = $r1 | $r2;"
	case OpXor:
		return "$r0 = $r1 ^ $r2;"
	case OpCast:
		return "$r0 = ($t0)$r1;"
	case OpCounter:
		return "$r0 = $w0 lane_index;"
	case OpGatherLoad:
		return "$r0 = $r1[$r2];"
	case OpScatterAdd:
		return "$r1[$r2] += $r3;"
	case OpBroadcastCopy:
		return "$r0 = $r1;"
	default:
		return ""
	}
}

// templatesByText is the reverse index Template builds once, letting the
// host interpreter recover an Op from a Variable's Stmt in O(1).
var templatesByText = func() map[string]Op {
	m := make(map[string]Op, 14)
	for op := OpAdd; op <= OpBroadcastCopy; op++ {
		m[Template(op)] = op
	}
	return m
}()

// Recognize returns the Op whose canonical template matches stmt, and
// whether a match was found.
func Recognize(stmt string) (Op, bool) {
	op, ok := templatesByText[stmt]
	return op, ok
}

// IsScatter reports whether op is the 3-arg scatter/atomic-add shape the
// trace builder must pin via extra_dep.
func IsScatter(op Op) bool { return op == OpScatterAdd }

// Arity returns the number of operand Deps op consumes.
func Arity(op Op) int {
	switch op {
	case OpCounter:
		return 0
	case OpCast, OpBroadcastCopy:
		return 1
	case OpAdd, OpSub, OpMul, OpDiv, OpMin, OpMax, OpAnd, OpOr, OpXor, OpGatherLoad:
		return 2
	case OpScatterAdd:
		return 3
	default:
		return 0
	}
}

// Elem reads the element at index i of a typed buffer as a float64 for
// uniform interpreter arithmetic. This is a deliberate simplification of
// the host reference backend (documented in DESIGN.md): real backends
// compute in the operand's native width, but the portable interpreter
// normalizes through float64, which is exact for every type narrower than
// 53 bits of mantissa and adequate for a reference/test backend.
func Elem(buf []byte, typ core.Type, i int) float64 {
	return readElem(buf, typ, i)
}

// SetElem writes v into the element at index i of a typed buffer,
// truncating/rounding to typ's representation.
func SetElem(buf []byte, typ core.Type, i int, v float64) {
	writeElem(buf, typ, i, v)
}
