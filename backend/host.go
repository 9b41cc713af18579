package backend

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/brindleforge/jitgraph/alloc"
	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/jitc"
	"github.com/brindleforge/jitgraph/kernels"
)

// Host is the pure-Go reference backend: it interprets a compiled Node
// plan directly instead of emitting real machine code, so jitgraph runs
// end-to-end without a CUDA or LLVM driver.
type Host struct {
	cpu      string
	features []string
	width    int
}

// NewHost returns a Host backend configured the way llvm_set_target
// would configure a real LLVM backend: a target CPU, a
// feature list, and a vector width, all purely advisory here since Host
// does not vectorize.
func NewHost(cpu string, features []string, width int) *Host {
	if width <= 0 {
		width = 1
	}
	return &Host{cpu: cpu, features: features, width: width}
}

func (h *Host) Name() string { return "host" }

func (h *Host) TargetTag() string {
	tag := h.cpu
	for _, f := range h.features {
		tag += "+" + f
	}
	return tag
}

// hostArtifact is the Host backend's "compiled machine code": the
// ordered Node plan plus the roots to store. Because it carries no
// concrete buffer addresses it is safe to cache in memory and on disk
// and replayed against any concrete memory of matching shape.
type hostArtifact struct {
	Nodes []Node
	Roots []core.ID
}

func (a *hostArtifact) Backend() string { return "host" }

func (h *Host) Compile(text string, nodes []Node, roots []core.ID) (Artifact, error) {
	// text is not reinterpreted; its only role for Host is the content
	// hash computed by package eval before Compile is even called. A
	// real backend would invoke its driver compiler here.
	_ = text
	return &hostArtifact{Nodes: nodes, Roots: roots}, nil
}

func (h *Host) Launch(artifact Artifact, params LaunchParams) (alloc.Event, error) {
	a, ok := artifact.(*hostArtifact)
	if !ok {
		return nil, jitc.New(jitc.ErrCompileFailed, "host backend: artifact of wrong type")
	}

	values := make(map[core.ID][]byte, len(a.Nodes))
	for _, n := range a.Nodes {
		if n.IsParam {
			buf, ok := params.Inputs[n.ID]
			if !ok {
				return nil, jitc.New(jitc.ErrCompileFailed, "host backend: missing input buffer for id %d", n.ID)
			}
			values[n.ID] = buf
			continue
		}
		out := make([]byte, n.Size*n.Type.ByteSize())
		if err := h.execute(n, values, out); err != nil {
			return nil, err
		}
		values[n.ID] = out
	}

	for _, root := range a.Roots {
		dst, ok := params.Outputs[root]
		if !ok {
			return nil, jitc.New(jitc.ErrCompileFailed, "host backend: missing output buffer for root %d", root)
		}
		src, ok := values[root]
		if !ok {
			return nil, jitc.New(jitc.ErrCompileFailed, "host backend: root %d never computed", root)
		}
		copy(dst, src)
	}

	return alloc.DoneEvent, nil
}

func (h *Host) execute(n Node, values map[core.ID][]byte, out []byte) error {
	operand := func(slot int) []byte {
		id := n.Deps[slot]
		return values[id]
	}
	t := n.Type

	switch n.Op {
	case kernels.OpCounter:
		for i := 0; i < n.Size; i++ {
			kernels.SetElem(out, t, i, float64(i))
		}
	case kernels.OpCast:
		a := operand(0)
		sz := n.Size
		for i := 0; i < sz; i++ {
			kernels.SetElem(out, t, i, kernels.Elem(a, depType(n, 0), broadcastIndex(a, t, i)))
		}
	case kernels.OpBroadcastCopy:
		a := operand(0)
		for i := 0; i < n.Size; i++ {
			kernels.SetElem(out, t, i, kernels.Elem(a, t, broadcastIndex(a, t, i)))
		}
	case kernels.OpAdd, kernels.OpSub, kernels.OpMul, kernels.OpDiv,
		kernels.OpMin, kernels.OpMax, kernels.OpAnd, kernels.OpOr, kernels.OpXor:
		a, b := operand(0), operand(1)
		for i := 0; i < n.Size; i++ {
			av := kernels.Elem(a, t, broadcastIndex(a, t, i))
			bv := kernels.Elem(b, t, broadcastIndex(b, t, i))
			kernels.SetElem(out, t, i, binaryOp(n.Op, av, bv))
		}
	case kernels.OpGatherLoad:
		buf, idx := operand(0), operand(1)
		for i := 0; i < n.Size; i++ {
			ix := int(kernels.Elem(idx, core.UInt32, broadcastIndex(idx, core.UInt32, i)))
			kernels.SetElem(out, t, i, kernels.Elem(buf, t, ix))
		}
	case kernels.OpScatterAdd:
		buf, idx, val := operand(0), operand(1), operand(2)
		for i := 0; i < n.Size; i++ {
			ix := int(kernels.Elem(idx, core.UInt32, broadcastIndex(idx, core.UInt32, i)))
			vv := kernels.Elem(val, t, broadcastIndex(val, t, i))
			kernels.SetElem(buf, t, ix, kernels.Elem(buf, t, ix)+vv)
		}
	default:
		return jitc.New(jitc.ErrCompileFailed, "host backend: unrecognized op for id %d", n.ID)
	}
	return nil
}

// depType returns the element type of Deps[slot], defaulting to n.Type
// when unavailable (the interpreter does not track every operand's type
// separately from the result, a documented simplification — see
// DESIGN.md).
func depType(n Node, slot int) core.Type { return n.Type }

// broadcastIndex maps result-lane i back to operand index 0 when the
// operand buffer holds a single (scalar) element, implementing
// scalar-broadcast at execution time.
func broadcastIndex(buf []byte, t core.Type, i int) int {
	w := t.ByteSize()
	if w == 0 || len(buf) <= w {
		return 0
	}
	return i
}

func binaryOp(op kernels.Op, a, b float64) float64 {
	switch op {
	case kernels.OpAdd:
		return a + b
	case kernels.OpSub:
		return a - b
	case kernels.OpMul:
		return a * b
	case kernels.OpDiv:
		return a / b
	case kernels.OpMin:
		if a < b {
			return a
		}
		return b
	case kernels.OpMax:
		if a > b {
			return a
		}
		return b
	case kernels.OpAnd:
		return float64(int64(a) & int64(b))
	case kernels.OpOr:
		return float64(int64(a) | int64(b))
	case kernels.OpXor:
		return float64(int64(a) ^ int64(b))
	default:
		return 0
	}
}

func (h *Host) Serialize(a Artifact) ([]byte, error) {
	ha, ok := a.(*hostArtifact)
	if !ok {
		return nil, jitc.New(jitc.ErrCompileFailed, "host backend: cannot serialize foreign artifact")
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ha); err != nil {
		return nil, fmt.Errorf("host backend: encoding artifact: %w", err)
	}
	return buf.Bytes(), nil
}

func (h *Host) Deserialize(data []byte) (Artifact, error) {
	var ha hostArtifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ha); err != nil {
		return nil, fmt.Errorf("host backend: decoding artifact: %w", err)
	}
	return &ha, nil
}

// Teardown does nothing: Host holds no caches of its own and no external
// driver context, so light and full teardown are identical. A CUDA-style
// backend would additionally destroy its driver context here.
func (h *Host) Teardown(light bool) error {
	_ = light
	return nil
}
