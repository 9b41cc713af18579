package kernels

import (
	"testing"

	"github.com/brindleforge/jitgraph/core"
)

func TestSetElemGetElemFloat32(t *testing.T) {
	buf := make([]byte, 16)
	for i, v := range []float64{1, -2, 3.5, 0} {
		SetElem(buf, core.Float32, i, v)
	}
	for i, want := range []float64{1, -2, 3.5, 0} {
		if got := Elem(buf, core.Float32, i); got != want {
			t.Fatalf("Elem(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestFill(t *testing.T) {
	buf := make([]byte, 4*8)
	src := make([]byte, 4)
	SetElem(src, core.Int32, 0, 7)
	Fill(core.Int32, buf, 8, src)
	for i := 0; i < 8; i++ {
		if got := Elem(buf, core.Int32, i); got != 7 {
			t.Fatalf("Fill: element %d = %v, want 7", i, got)
		}
	}
}

func TestReduceAdd(t *testing.T) {
	buf := make([]byte, 4*5)
	for i := 0; i < 5; i++ {
		SetElem(buf, core.Float32, i, float64(i+1))
	}
	out := make([]byte, 4)
	Reduce(core.Float32, ReduceAdd, buf, 5, out)
	if got := Elem(out, core.Float32, 0); got != 15 {
		t.Fatalf("Reduce(add) = %v, want 15", got)
	}
}

func TestReduceEmptyIsZero(t *testing.T) {
	out := make([]byte, 4)
	Reduce(core.Float32, ReduceMax, nil, 0, out)
	if got := Elem(out, core.Float32, 0); got != 0 {
		t.Fatalf("Reduce over zero elements = %v, want 0", got)
	}
}

func TestScanExclusivePrefixSum(t *testing.T) {
	in := []uint32{1, 2, 3, 4}
	out := make([]uint32, 4)
	Scan(in, out, 4)
	want := []uint32{0, 1, 3, 6}
	for i, w := range want {
		if out[i] != w {
			t.Fatalf("Scan()[%d] = %d, want %d", i, out[i], w)
		}
	}
}

func TestScanInPlace(t *testing.T) {
	buf := []uint32{5, 1, 1, 1}
	Scan(buf, buf, 4)
	want := []uint32{0, 5, 6, 7}
	for i, w := range want {
		if buf[i] != w {
			t.Fatalf("in-place Scan()[%d] = %d, want %d", i, buf[i], w)
		}
	}
}

func TestAllAny(t *testing.T) {
	allTrue := []byte{1, 1, 1}
	if !All(allTrue, 3) {
		t.Fatal("All should be true when every byte is nonzero")
	}
	mixed := []byte{1, 0, 1}
	if All(mixed, 3) {
		t.Fatal("All should be false when any byte is zero")
	}
	if !Any(mixed, 3) {
		t.Fatal("Any should be true when at least one byte is nonzero")
	}
	allFalse := []byte{0, 0, 0}
	if Any(allFalse, 3) {
		t.Fatal("Any should be false when every byte is zero")
	}
}

func TestMkpermBucketsAndPermutation(t *testing.T) {
	values := []uint32{2, 0, 1, 0, 2}
	perm := make([]uint32, len(values))
	buckets := Mkperm(values, len(values), 3, perm)

	if len(buckets) != 3 {
		t.Fatalf("expected 3 non-empty buckets, got %d", len(buckets))
	}
	counts := map[uint32]int{}
	for _, b := range buckets {
		counts[b.ID] = int(b.Length)
	}
	if counts[0] != 2 || counts[1] != 1 || counts[2] != 2 {
		t.Fatalf("unexpected bucket lengths: %+v", counts)
	}

	// perm must be a valid permutation of [0, len(values)) and every entry
	// in bucket b must point at an index whose value is b.
	seen := make([]bool, len(values))
	for _, b := range buckets {
		for i := b.Start; i < b.Start+b.Length; i++ {
			idx := perm[i]
			if seen[idx] {
				t.Fatalf("index %d emitted twice", idx)
			}
			seen[idx] = true
			if values[idx] != b.ID {
				t.Fatalf("perm[%d]=%d has value %d, want bucket %d", i, idx, values[idx], b.ID)
			}
		}
	}
	for i, s := range seen {
		if !s {
			t.Fatalf("index %d never appeared in the permutation", i)
		}
	}
}

func TestMkpermEmptyBucketsOmitted(t *testing.T) {
	values := []uint32{0, 0}
	perm := make([]uint32, 2)
	buckets := Mkperm(values, 2, 3, perm)
	if len(buckets) != 1 {
		t.Fatalf("expected exactly 1 non-empty bucket, got %d", len(buckets))
	}
}
