package backend

import (
	"testing"

	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/kernels"
)

func TestHostCounterPlusScalar(t *testing.T) {
	h := NewHost("generic", nil, 1)

	scalarID := core.ID(1)
	counterID := core.ID(2)
	sumID := core.ID(3)

	nodes := []Node{
		{ID: scalarID, Type: core.Float32, Size: 1, IsParam: true},
		{ID: counterID, Op: kernels.OpCounter, Type: core.Float32, Size: 4},
		{ID: sumID, Op: kernels.OpAdd, Type: core.Float32, Size: 4, Deps: [core.MaxDeps]core.ID{counterID, scalarID}},
	}
	artifact, err := h.Compile("// text is not reinterpreted by Host", nodes, []core.ID{sumID})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	scalarBuf := make([]byte, 4)
	kernels.SetElem(scalarBuf, core.Float32, 0, 10)
	out := make([]byte, 16)

	params := LaunchParams{
		Size:    4,
		Inputs:  map[core.ID][]byte{scalarID: scalarBuf},
		Outputs: map[core.ID][]byte{sumID: out},
	}
	if _, err := h.Launch(artifact, params); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	for i, want := range []float64{10, 11, 12, 13} {
		if got := kernels.Elem(out, core.Float32, i); got != want {
			t.Fatalf("out[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestHostSerializeRoundTrip(t *testing.T) {
	h := NewHost("generic", nil, 1)
	nodes := []Node{{ID: 1, Op: kernels.OpCounter, Type: core.Int32, Size: 3}}
	artifact, err := h.Compile("", nodes, []core.ID{1})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	data, err := h.Serialize(artifact)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	restored, err := h.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}

	out := make([]byte, 12)
	params := LaunchParams{Size: 3, Inputs: map[core.ID][]byte{}, Outputs: map[core.ID][]byte{1: out}}
	if _, err := h.Launch(restored, params); err != nil {
		t.Fatalf("Launch on deserialized artifact failed: %v", err)
	}
	for i, want := range []float64{0, 1, 2} {
		if got := kernels.Elem(out, core.Int32, i); got != want {
			t.Fatalf("out[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestHostScatterAdd(t *testing.T) {
	h := NewHost("generic", nil, 1)

	bufID, idxID, valID, scatterID := core.ID(1), core.ID(2), core.ID(3), core.ID(4)
	nodes := []Node{
		{ID: bufID, Type: core.Float32, Size: 4, IsParam: true},
		{ID: idxID, Type: core.UInt32, Size: 2, IsParam: true},
		{ID: valID, Type: core.Float32, Size: 2, IsParam: true},
		{ID: scatterID, Op: kernels.OpScatterAdd, Type: core.Float32, Size: 2, Deps: [core.MaxDeps]core.ID{bufID, idxID, valID}},
	}
	artifact, err := h.Compile("", nodes, []core.ID{scatterID})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	buf := make([]byte, 16)
	kernels.SetElem(buf, core.Float32, 0, 100)
	kernels.SetElem(buf, core.Float32, 1, 200)
	idx := make([]byte, 8)
	kernels.SetElem(idx, core.UInt32, 0, 0)
	kernels.SetElem(idx, core.UInt32, 1, 1)
	val := make([]byte, 8)
	kernels.SetElem(val, core.Float32, 0, 1)
	kernels.SetElem(val, core.Float32, 1, 2)

	out := make([]byte, 8)
	params := LaunchParams{
		Size: 2,
		Inputs: map[core.ID][]byte{
			bufID: buf, idxID: idx, valID: val,
		},
		Outputs: map[core.ID][]byte{scatterID: out},
	}
	if _, err := h.Launch(artifact, params); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if got := kernels.Elem(buf, core.Float32, 0); got != 101 {
		t.Fatalf("buf[0] = %v, want 101", got)
	}
	if got := kernels.Elem(buf, core.Float32, 1); got != 202 {
		t.Fatalf("buf[1] = %v, want 202", got)
	}
}
