package runtime

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/brindleforge/jitgraph/alloc"
	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/jitc"
	"github.com/brindleforge/jitgraph/kernels"
)

func float32Bytes(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func testOptions() Options {
	o := DefaultOptions()
	o.DisableDisk = true
	o.ParallelDispatch = false
	return o
}

func TestCounterPlusScalarEndToEnd(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer ctx.Shutdown(false)

	s, err := ctx.DeviceSet(-1, 0)
	if err != nil {
		t.Fatalf("DeviceSet failed: %v", err)
	}

	scalarID, err := ctx.CopyToDevice(s, core.Float32, float32Bytes(1.5))
	if err != nil {
		t.Fatalf("CopyToDevice failed: %v", err)
	}
	counterID, err := ctx.TraceAppend(s, core.Float32, kernels.OpCounter, [core.MaxDeps]core.ID{}, 4)
	if err != nil {
		t.Fatalf("TraceAppend(counter) failed: %v", err)
	}
	sumID, err := ctx.TraceAppend(s, core.Float32, kernels.OpAdd, [core.MaxDeps]core.ID{counterID, scalarID}, 0)
	if err != nil {
		t.Fatalf("TraceAppend(add) failed: %v", err)
	}

	if _, err := ctx.Eval(s); err != nil {
		t.Fatalf("Eval failed: %v", err)
	}

	for i, want := range []float64{1.5, 2.5, 3.5, 4.5} {
		got, err := ctx.Read(s, sumID, i)
		if err != nil {
			t.Fatalf("Read(%d) failed: %v", i, err)
		}
		if got != want {
			t.Fatalf("Read(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestTraceAppendCSEDedupObservableThroughContext(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer ctx.Shutdown(false)
	s, _ := ctx.DeviceSet(-1, 0)

	a, err := ctx.CopyToDevice(s, core.Float32, float32Bytes(1))
	if err != nil {
		t.Fatalf("CopyToDevice failed: %v", err)
	}
	b, err := ctx.CopyToDevice(s, core.Float32, float32Bytes(2))
	if err != nil {
		t.Fatalf("CopyToDevice failed: %v", err)
	}
	id1, err := ctx.TraceAppend(s, core.Float32, kernels.OpAdd, [core.MaxDeps]core.ID{a, b}, 0)
	if err != nil {
		t.Fatalf("TraceAppend failed: %v", err)
	}
	id2, err := ctx.TraceAppend(s, core.Float32, kernels.OpAdd, [core.MaxDeps]core.ID{a, b}, 0)
	if err != nil {
		t.Fatalf("second TraceAppend failed: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("identical trace_append calls should be deduped via CSE: got %d and %d", id1, id2)
	}
}

func TestDirtyWriteForcesEvalBeforeNextAppend(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer ctx.Shutdown(false)
	s, _ := ctx.DeviceSet(-1, 0)

	a, err := ctx.CopyToDevice(s, core.Float32, float32Bytes(10))
	if err != nil {
		t.Fatalf("CopyToDevice failed: %v", err)
	}
	if err := ctx.Write(s, a, 0, 99); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	b, err := ctx.CopyToDevice(s, core.Float32, float32Bytes(1))
	if err != nil {
		t.Fatalf("CopyToDevice failed: %v", err)
	}
	sum, err := ctx.TraceAppend(s, core.Float32, kernels.OpAdd, [core.MaxDeps]core.ID{a, b}, 0)
	if err != nil {
		t.Fatalf("TraceAppend after a dirty write failed: %v", err)
	}
	if _, err := ctx.Eval(s); err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	got, err := ctx.Read(s, sum, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != 100 {
		t.Fatalf("Read(sum) = %v, want 100 (dirty write must be visible to the append)", got)
	}
}

func TestScatterAddThenGatherThroughContext(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer ctx.Shutdown(false)
	s, _ := ctx.DeviceSet(-1, 0)

	bufInit := make([]byte, 8*4)
	for i := 0; i < 8; i++ {
		kernels.SetElem(bufInit, core.Float32, i, float64(i))
	}
	bufID, err := ctx.CopyToDevice(s, core.Float32, bufInit)
	if err != nil {
		t.Fatalf("CopyToDevice(buf) failed: %v", err)
	}

	idxBytes := make([]byte, 3*4)
	kernels.SetElem(idxBytes, core.UInt32, 0, 0)
	kernels.SetElem(idxBytes, core.UInt32, 1, 2)
	kernels.SetElem(idxBytes, core.UInt32, 2, 4)
	idxID, err := ctx.CopyToDevice(s, core.UInt32, idxBytes)
	if err != nil {
		t.Fatalf("CopyToDevice(idx) failed: %v", err)
	}

	valBytes := make([]byte, 3*4)
	for i := 0; i < 3; i++ {
		kernels.SetElem(valBytes, core.Float32, i, 1)
	}
	valID, err := ctx.CopyToDevice(s, core.Float32, valBytes)
	if err != nil {
		t.Fatalf("CopyToDevice(val) failed: %v", err)
	}

	scatterID, err := ctx.TraceAppend(s, core.Float32, kernels.OpScatterAdd, [core.MaxDeps]core.ID{bufID, idxID, valID}, 3)
	if err != nil {
		t.Fatalf("TraceAppend(scatter) failed: %v", err)
	}

	gatherIdxBytes := make([]byte, 8*4)
	for i := 0; i < 8; i++ {
		kernels.SetElem(gatherIdxBytes, core.UInt32, i, float64(i))
	}
	gatherIdxID, err := ctx.CopyToDevice(s, core.UInt32, gatherIdxBytes)
	if err != nil {
		t.Fatalf("CopyToDevice(gatherIdx) failed: %v", err)
	}

	gatherID, err := ctx.TraceAppend(s, core.Float32, kernels.OpGatherLoad, [core.MaxDeps]core.ID{bufID, gatherIdxID}, 8)
	if err != nil {
		t.Fatalf("TraceAppend(gather) failed: %v", err)
	}
	_ = scatterID

	stats, err := ctx.Eval(s)
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if stats.Partitions != 2 {
		t.Fatalf("a single Eval call should cover both the scatter (size 3) and gather (size 8) partitions: got %d", stats.Partitions)
	}

	want := []float64{1, 1, 3, 3, 5, 5, 6, 7}
	for i, w := range want {
		got, err := ctx.Read(s, gatherID, i)
		if err != nil {
			t.Fatalf("Read(%d) failed: %v", i, err)
		}
		if got != w {
			t.Fatalf("Read(gather, %d) = %v, want %v", i, got, w)
		}
	}

	stats2, err := ctx.Eval(s)
	if err != nil {
		t.Fatalf("second Eval failed: %v", err)
	}
	if stats2.Partitions != 0 {
		t.Fatalf("gather was already materialized by the first Eval; a second Eval must be a no-op, got %d partitions", stats2.Partitions)
	}
}

func TestMallocFreeReuseThroughContext(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer ctx.Shutdown(false)
	s, _ := ctx.DeviceSet(-1, 0)

	p1, err := ctx.Malloc(alloc.Host, s, 64)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	if err := ctx.Free(p1, s); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	p2, err := ctx.Malloc(alloc.Host, s, 64)
	if err != nil {
		t.Fatalf("second Malloc failed: %v", err)
	}
	if p2 != p1 {
		t.Fatalf("expected the freed pointer to be reused: got %x, want %x", p2, p1)
	}
}

func TestMemcpyAndMemcpyAsyncCopyBytes(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer ctx.Shutdown(false)
	s, _ := ctx.DeviceSet(-1, 0)

	src, err := ctx.Malloc(alloc.Host, s, 4)
	if err != nil {
		t.Fatalf("Malloc(src) failed: %v", err)
	}
	dst, err := ctx.Malloc(alloc.Host, s, 4)
	if err != nil {
		t.Fatalf("Malloc(dst) failed: %v", err)
	}
	copy(ctx.alloc.Bytes(src), []byte{1, 2, 3, 4})

	ctx.MemcpyAsync(dst, src, 4)
	if got := ctx.alloc.Bytes(dst)[:4]; string(got) != "\x01\x02\x03\x04" {
		t.Fatalf("MemcpyAsync did not copy bytes: got %v", got)
	}

	dst2, err := ctx.Malloc(alloc.Host, s, 4)
	if err != nil {
		t.Fatalf("Malloc(dst2) failed: %v", err)
	}
	if err := ctx.Memcpy(s, dst2, src, 4); err != nil {
		t.Fatalf("Memcpy failed: %v", err)
	}
	if got := ctx.alloc.Bytes(dst2)[:4]; string(got) != "\x01\x02\x03\x04" {
		t.Fatalf("Memcpy did not copy bytes: got %v", got)
	}
}

func TestShutdownReportsLeaksWithoutErroring(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	s, _ := ctx.DeviceSet(-1, 0)
	if _, err := ctx.CopyToDevice(s, core.Float32, float32Bytes(1)); err != nil {
		t.Fatalf("CopyToDevice failed: %v", err)
	}
	// Intentionally never DecRefExt the variable above: Shutdown must
	// still succeed and merely log the leak.
	if err := ctx.Shutdown(false); err != nil {
		t.Fatalf("Shutdown must not fail on leaked variables: %v", err)
	}
}

func TestDeviceSetRejectsOutOfRangeDevice(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer ctx.Shutdown(false)
	if _, err := ctx.DeviceSet(5, 0); err == nil {
		t.Fatal("DeviceSet with an out-of-range device must fail")
	}
}

func TestTraceAppendRejectsNullOperandWithinArity(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer ctx.Shutdown(false)
	s, _ := ctx.DeviceSet(-1, 0)

	a, err := ctx.CopyToDevice(s, core.Float32, float32Bytes(1))
	if err != nil {
		t.Fatalf("CopyToDevice failed: %v", err)
	}
	_, err = ctx.TraceAppend(s, core.Float32, kernels.OpAdd, [core.MaxDeps]core.ID{a, core.NullID}, 0)
	if err == nil {
		t.Fatal("TraceAppend(OpAdd) with a null second operand must fail")
	}
	if !jitc.Is(err, jitc.ErrNullOperand) {
		t.Fatalf("expected jitc.ErrNullOperand, got %v", err)
	}
}

func TestIsAllTrueIsAllFalse(t *testing.T) {
	ctx, err := Init(testOptions())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer ctx.Shutdown(false)
	s, _ := ctx.DeviceSet(-1, 0)

	buf := []byte{1, 1}
	id, err := ctx.CopyToDevice(s, core.Bool, buf)
	if err != nil {
		t.Fatalf("CopyToDevice failed: %v", err)
	}
	allTrue, err := ctx.IsAllTrue(s, id)
	if err != nil {
		t.Fatalf("IsAllTrue failed: %v", err)
	}
	if !allTrue {
		t.Fatal("expected IsAllTrue to be true for an all-nonzero buffer")
	}
	if err := ctx.Write(s, id, 1, 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	allFalse, err := ctx.IsAllFalse(s, id)
	if err != nil {
		t.Fatalf("IsAllFalse failed: %v", err)
	}
	if allFalse {
		t.Fatal("expected IsAllFalse to be false (one element is still nonzero)")
	}
}
