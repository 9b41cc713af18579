// Package eval implements the evaluation engine: it partitions a
// stream's pending set by output size, walks each partition's dependency
// DAG in topological order, assembles and substitutes IR text, hashes
// it, consults the memory and disk caches, compiles on a miss, launches,
// and installs results back into the variable table.
package eval

import (
	"fmt"
	"sort"

	"github.com/brindleforge/jitgraph/alloc"
	"github.com/brindleforge/jitgraph/backend"
	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/jitc"
	"github.com/brindleforge/jitgraph/jitlog"
	"github.com/brindleforge/jitgraph/kernels"
)

// Table is the subset of vartable.Table the engine depends on, narrowed
// so tests can supply a fake.
type Table interface {
	Pending(sk core.StreamKey) []core.ID
	Get(id core.ID) (*core.Variable, error)
	InstallResult(id core.ID, sk core.StreamKey, data uintptr) error
}

// Engine drives evaluation for one backend. runtime.Context owns one
// Engine per backend (CUDA/LLVM in the original spec; this module ships
// only the Host backend, see backend.Host).
type Engine struct {
	Table     Table
	Alloc     *alloc.Allocator
	Backend   backend.Backend
	Mem       *MemCache
	Disk      *DiskCache
	Log       *jitlog.LevelLogger
	OutClass  alloc.Class
	ParallelDispatch bool
}

// Stats summarizes one Eval call, for cmd/jitctl run and tests.
type Stats struct {
	Partitions  int
	MemHits     int
	DiskHits    int
	Compiles    int
	RootsStored int
}

// Eval implements eval(): partition sk's pending set by size, schedule
// one kernel per partition, run each to completion, and install results.
// It is a no-op if the pending set is empty.
func (e *Engine) Eval(sk core.StreamKey) (Stats, error) {
	var stats Stats

	pending := e.Table.Pending(sk)
	if len(pending) == 0 {
		return stats, nil
	}

	partitions, err := e.partition(pending)
	if err != nil {
		return stats, err
	}
	stats.Partitions = len(partitions)

	// If parallel dispatch is enabled and multiple partitions exist, they
	// are launched onto separate streams. The Host backend has no real
	// concurrent driver streams to exploit, so parallel dispatch here
	// means launching the independent partitions concurrently from
	// goroutines; result application is still serialized through Table,
	// which is itself safe for concurrent use.
	if e.ParallelDispatch && len(partitions) > 1 {
		return e.evalParallel(sk, partitions, &stats)
	}

	for _, roots := range partitions {
		if err := e.evalPartition(sk, roots, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (e *Engine) evalParallel(sk core.StreamKey, partitions [][]core.ID, stats *Stats) (Stats, error) {
	type result struct {
		s   Stats
		err error
	}
	results := make(chan result, len(partitions))
	for _, roots := range partitions {
		roots := roots
		go func() {
			var local Stats
			err := e.evalPartition(sk, roots, &local)
			results <- result{s: local, err: err}
		}()
	}
	var firstErr error
	for range partitions {
		r := <-results
		stats.MemHits += r.s.MemHits
		stats.DiskHits += r.s.DiskHits
		stats.Compiles += r.s.Compiles
		stats.RootsStored += r.s.RootsStored
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return *stats, firstErr
}

// partition groups pending ids by output Size: larger sizes typically
// cannot fuse with smaller sizes except where the smaller operand is
// scalar and embeds as a broadcast — broadcast operands are handled
// inside a single kernel via the walk, not by merging partitions, so
// grouping by exact size is sufficient and exact.
func (e *Engine) partition(pending []core.ID) ([][]core.ID, error) {
	bySize := make(map[int][]core.ID)
	for _, id := range pending {
		v, err := e.Table.Get(id)
		if err != nil {
			return nil, err
		}
		bySize[v.Size] = append(bySize[v.Size], id)
	}
	sizes := make([]int, 0, len(bySize))
	for s := range bySize {
		sizes = append(sizes, s)
	}
	sort.Ints(sizes)
	out := make([][]core.ID, 0, len(sizes))
	for _, s := range sizes {
		out = append(out, bySize[s])
	}
	return out, nil
}

// evalPartition compiles (or fetches from cache) and launches the kernel
// for one size partition, installing results back into the table.
func (e *Engine) evalPartition(sk core.StreamKey, roots []core.ID, stats *Stats) error {
	order, err := e.walk(roots)
	if err != nil {
		return err
	}
	text, err := e.assemble(order, roots)
	if err != nil {
		return err
	}
	hash := Hash(e.Backend.Name() + "|" + e.Backend.TargetTag() + "|" + text)

	artifact, hit, hitKind, err := e.resolve(hash, text, order, roots)
	if err != nil {
		return err
	}
	switch hitKind {
	case "mem":
		stats.MemHits++
	case "disk":
		stats.DiskHits++
	default:
		stats.Compiles++
	}
	_ = hit

	size := 0
	if len(order) > 0 {
		size = order[len(order)-1].Size
	}

	params := backend.LaunchParams{Size: size, Inputs: map[core.ID][]byte{}, Outputs: map[core.ID][]byte{}}
	for _, n := range order {
		if n.IsParam {
			v, err := e.Table.Get(n.ID)
			if err != nil {
				return err
			}
			params.Inputs[n.ID] = e.Alloc.Bytes(v.Data)
		}
	}
	for _, root := range roots {
		v, err := e.Table.Get(root)
		if err != nil {
			return err
		}
		ptr, err := e.Alloc.Malloc(e.OutClass, sk.Device, sk, uintptr(v.Size*v.Type.ByteSize()))
		if err != nil {
			return jitc.Wrap(jitc.ErrOutOfMemory, err, "allocating result buffer for id %d", root)
		}
		params.Outputs[root] = e.Alloc.Bytes(ptr)
	}

	ev, err := e.Backend.Launch(artifact, params)
	if err != nil {
		return jitc.Wrap(jitc.ErrCompileFailed, err, "launching kernel")
	}
	if ev != nil {
		ev.Wait()
	}

	for _, root := range roots {
		v, err := e.Table.Get(root)
		if err != nil {
			return err
		}
		ptr := findPtr(params.Outputs[root])
		_ = v
		if err := e.Table.InstallResult(root, sk, ptr); err != nil {
			return err
		}
		stats.RootsStored++
	}
	if e.Log != nil {
		e.Log.Log(jitlog.LevelDebug, "evaluated partition", "roots", len(roots), "nodes", len(order))
	}
	return nil
}

// findPtr recovers the allocator pointer backing buf. Host "device"
// memory is ordinary Go memory addressed by &backing[0], so the pointer
// that was handed out by Allocator.Malloc is exactly the address of
// buf's first byte.
func findPtr(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return ptrOf(buf)
}

func (e *Engine) resolve(hash uint64, text string, order []backend.Node, roots []core.ID) (backend.Artifact, bool, string, error) {
	if cached, ok := e.Mem.Get(hash); ok {
		return cached.(backend.Artifact), true, "mem", nil
	}
	if e.Disk != nil {
		if payload, ok, err := e.Disk.Load(hash, e.Backend.Name(), e.Backend.TargetTag()); err != nil {
			return nil, false, "", err
		} else if ok {
			artifact, err := e.Backend.Deserialize(payload)
			if err != nil {
				return nil, false, "", err
			}
			e.Mem.Put(hash, artifact)
			return artifact, true, "disk", nil
		}
	}

	artifact, err := e.Backend.Compile(text, order, roots)
	if err != nil {
		return nil, false, "", jitc.Wrap(jitc.ErrCompileFailed, err, "compiling kernel")
	}
	e.Mem.Put(hash, artifact)
	if e.Disk != nil {
		payload, err := e.Backend.Serialize(artifact)
		if err == nil {
			_ = e.Disk.Store(hash, e.Backend.Name(), e.Backend.TargetTag(), payload)
		}
	}
	return artifact, false, "", nil
}

// walk performs a DAG walk rooted at the pending outputs, in dependency
// order, turning each Variable into a backend.Node. Already-evaluated
// operands become IsParam leaves.
func (e *Engine) walk(roots []core.ID) ([]backend.Node, error) {
	visited := make(map[core.ID]bool)
	var order []backend.Node
	var visit func(id core.ID) error
	visit = func(id core.ID) error {
		if id == core.NullID || visited[id] {
			return nil
		}
		visited[id] = true
		v, err := e.Table.Get(id)
		if err != nil {
			return err
		}
		if v.IsEvaluated() {
			order = append(order, backend.Node{ID: id, Type: v.Type, Size: v.Size, IsParam: true})
			return nil
		}
		op, ok := kernels.Recognize(v.Stmt)
		if !ok {
			jitc.Panic("eval: unrecognized IR template for id %d: %q", id, v.Stmt)
		}
		for _, d := range v.Deps {
			if err := visit(d); err != nil {
				return err
			}
		}
		if err := visit(v.ExtraDep); err != nil {
			return err
		}
		order = append(order, backend.Node{ID: id, Op: op, Type: v.Type, Size: v.Size, Deps: v.Deps})
		return nil
	}
	for _, r := range roots {
		if err := visit(r); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// assemble substitutes placeholders in each non-param node's template in
// walk order, then appends one store line per root, producing the text
// that gets hashed.
func (e *Engine) assemble(order []backend.Node, roots []core.ID) (string, error) {
	typeOf := make(map[core.ID]core.Type, len(order))
	for _, n := range order {
		typeOf[n.ID] = n.Type
	}

	text := fmt.Sprintf("// preamble backend=%s target=%s\n", e.Backend.Name(), e.Backend.TargetTag())
	for _, n := range order {
		if n.IsParam {
			continue
		}
		v, err := e.Table.Get(n.ID)
		if err != nil {
			return "", err
		}
		sub, err := core.Substitute(v.Stmt, core.SubstituteParams{
			Register: func(operand int) (string, error) {
				if operand == 0 {
					return regName(n.ID), nil
				}
				dep := n.Deps[operand-1]
				return regName(dep), nil
			},
			Type: func(operand int) (string, error) {
				if operand == 0 {
					return n.Type.String(), nil
				}
				return typeOf[n.Deps[operand-1]].String(), nil
			},
			Binary: func(operand int) (string, error) {
				t := n.Type
				if operand != 0 {
					t = typeOf[n.Deps[operand-1]]
				}
				return t.SameWidthBinary().String(), nil
			},
			Width: func() (string, error) { return "1", nil },
		})
		if err != nil {
			return "", fmt.Errorf("eval: substituting template for id %d: %w", n.ID, err)
		}
		text += sub + "\n"
	}
	for _, root := range roots {
		text += fmt.Sprintf("store %s -> out\n", regName(root))
	}
	return text, nil
}

func regName(id core.ID) string { return fmt.Sprintf("r%d", id) }
