package kernels

import (
	"math"

	"github.com/brindleforge/jitgraph/core"
)

// ReduceOp is the binary operator for Reduce.
type ReduceOp int

const (
	ReduceAdd ReduceOp = iota
	ReduceMul
	ReduceMin
	ReduceMax
	ReduceAnd
	ReduceOr
)

func apply(op ReduceOp, a, b float64) float64 {
	switch op {
	case ReduceAdd:
		return a + b
	case ReduceMul:
		return a * b
	case ReduceMin:
		return math.Min(a, b)
	case ReduceMax:
		return math.Max(a, b)
	case ReduceAnd:
		return float64(int64(a) & int64(b))
	case ReduceOr:
		return float64(int64(a) | int64(b))
	default:
		return a
	}
}

func identity(op ReduceOp) float64 {
	switch op {
	case ReduceMul:
		return 1
	case ReduceMin:
		return math.Inf(1)
	case ReduceMax:
		return math.Inf(-1)
	case ReduceAnd:
		return float64(^int64(0))
	default:
		return 0
	}
}

// Fill implements fill(type, ptr, n, src): write *src to all n elements.
// src must hold exactly one element's worth of bytes.
func Fill(typ core.Type, buf []byte, n int, src []byte) {
	v := readElem(src, typ, 0)
	for i := 0; i < n; i++ {
		writeElem(buf, typ, i, v)
	}
}

// Reduce implements reduce(type, op, ptr, n, out): full reduction into a
// single element.
func Reduce(typ core.Type, op ReduceOp, buf []byte, n int, out []byte) {
	acc := identity(op)
	for i := 0; i < n; i++ {
		acc = apply(op, acc, readElem(buf, typ, i))
	}
	if n == 0 {
		acc = 0
	}
	writeElem(out, typ, 0, acc)
}

// scanBlock is the GPU block size a scan rounds up to for n > 4096: the
// implementation rounds n up to the next multiple of 4096 and
// reads/writes up to that boundary.
const scanBlock = 4096

// ScanBound returns the number of elements Scan will actually touch for a
// request of n elements. Callers must allocate `in`/`out` to at least
// this many elements when n > 4096.
func ScanBound(n int) int {
	if n <= scanBlock {
		return n
	}
	return ((n + scanBlock - 1) / scanBlock) * scanBlock
}

// Scan implements scan(in, out, n): an exclusive prefix sum over 32-bit
// unsigned integers. May be called with in == out for an
// in-place scan.
func Scan(in, out []uint32, n int) {
	bound := ScanBound(n)
	var sum uint32
	for i := 0; i < bound; i++ {
		var v uint32
		if i < len(in) {
			v = in[i]
		}
		if i < len(out) {
			out[i] = sum
		}
		sum += v
	}
}

// All implements all(values, n): boolean AND reduction. A block-rounded
// implementation may touch up to three bytes past n; this portable
// implementation only reads exactly n bytes, a conservative
// strengthening documented in DESIGN.md.
func All(values []byte, n int) bool {
	for i := 0; i < n; i++ {
		if values[i] == 0 {
			return false
		}
	}
	return true
}

// Any implements any(values, n): boolean OR reduction.
func Any(values []byte, n int) bool {
	for i := 0; i < n; i++ {
		if values[i] != 0 {
			return true
		}
	}
	return false
}

// Bucket is one non-empty bucket's descriptor, populated by Mkperm's
// offsets output: (bucket_id, start, length).
type Bucket struct {
	ID     uint32
	Start  uint32
	Length uint32
}

// Mkperm implements mkperm(values, n, bucket_count, perm, offsets):
// computes a permutation that bucket-sorts values (entries in
// [0, bucket_count)) via a counting sort. The sort is not stable — ties
// within a bucket are emitted in reverse encounter order because the
// fill pass walks the input high-to-low while each bucket's cursor
// advances upward from the bucket's start, matching
// how a GPU counting-sort scatter pass would interleave without order
// preservation. Returns the non-empty bucket descriptors.
func Mkperm(values []uint32, n int, bucketCount int, perm []uint32) []Bucket {
	counts := make([]uint32, bucketCount)
	for i := 0; i < n; i++ {
		counts[values[i]]++
	}
	cursors := make([]uint32, bucketCount)
	var running uint32
	buckets := make([]Bucket, 0, bucketCount)
	for b := 0; b < bucketCount; b++ {
		cursors[b] = running
		if counts[b] > 0 {
			buckets = append(buckets, Bucket{ID: uint32(b), Start: running, Length: counts[b]})
		}
		running += counts[b]
	}
	for i := n - 1; i >= 0; i-- {
		b := values[i]
		perm[cursors[b]] = uint32(i)
		cursors[b]++
	}
	return buckets
}
