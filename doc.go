// Package jitgraph implements a tracing just-in-time compiler for array
// programs: host code builds a lazy dependency graph of typed buffers by
// calling trace_append-style operations, and the graph is only compiled and
// executed when the result is actually needed (a read, a sync point, or an
// explicit eval()).
//
// # Architecture Overview
//
// jitgraph is organized as a pipeline of small, independently testable
// packages rather than one monolithic engine:
//
//   - core: the scalar type system, the Variable DAG node, and the
//     "$rN/$tN/$bN/$wN" IR template substitution grammar
//   - vartable: the live variable table, its CSE index, and the per-stream
//     pending set that trace_append_* calls populate
//   - kernels: the elementwise op catalog (Template/Recognize) and the
//     hand-written collective kernels (fill/reduce/scan/all/any/mkperm)
//   - alloc: the caching allocator, with per-(class, device) free lists and
//     deferred reclamation gated on stream-completion events
//   - registry: dense pointer<->id bijections for domains of opaque
//     driver handles (cuBLAS contexts, cuDNN descriptors, and similar)
//   - backend: the Backend interface (Compile/Launch/Serialize/Teardown)
//     and Host, the portable reference interpreter this module ships
//   - eval: partitions a stream's pending set, walks each partition's DAG,
//     assembles and hashes its IR text, and resolves it through the memory
//     and disk kernel caches before compiling
//   - runtime: Context, the single lock-guarded object that owns every
//     subsystem above and exposes the public operation surface
//   - jitc: the structured Error/Kind type plus the Fatal panic sentinel
//     used for invariant violations
//   - jitlog: a logr-backed leveled logger with an optional callback sink
//   - cmd/jitctl, cmd/jitrun, cmd/jitbench: CLI entry points
//
// # Execution Model
//
// Building a trace never runs a kernel: trace_append returns a symbolic
// id immediately, deduplicating against an identical pending node via
// common-subexpression elimination. Evaluation happens lazily, triggered by
// a read, a dirty operand forcing a clean view before the next append, or
// an explicit Context.Eval call — at which point the engine partitions the
// pending set by output size, walks each partition's dependency DAG,
// substitutes its kernel template, and either reuses a cached compiled
// artifact (keyed by content hash) or compiles one via the active backend.
//
// # Basic Usage
//
//	ctx, err := runtime.Init(runtime.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Shutdown(false)
//
//	s, _ := ctx.DeviceSet(-1, 0)
//	counter, _ := ctx.TraceAppend(s, core.Float32, kernels.OpCounter, [core.MaxDeps]core.ID{}, 16)
//	str, _ := ctx.Str(s, counter)
//	fmt.Println(str)
//
// For more information, see the documentation at https://pkg.go.dev/github.com/brindleforge/jitgraph
// and the project repository at https://github.com/brindleforge/jitgraph
package jitgraph
