// Package backend defines the narrow capability set the evaluation
// engine drives and ships the Host reference implementation: a pure-Go
// backend that interprets a substituted trace directly rather than going
// through a real PTX/LLVM driver, the same portable-stand-in role a
// non-SIMD fallback path plays for an optimized kernel.
package backend

import (
	"github.com/brindleforge/jitgraph/alloc"
	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/kernels"
)

// Node is the structural (address-independent) description of one DAG
// node in a compiled kernel: enough to re-derive its IR text and to
// execute it, but carrying no concrete buffer pointers so the resulting
// Artifact can be cached and replayed against different concrete memory.
type Node struct {
	ID       core.ID
	Op       kernels.Op
	Type     core.Type
	Size     int
	Deps     [core.MaxDeps]core.ID
	IsParam  bool // true if this id is an already-evaluated leaf (kernel input)
	ParamTyp core.Type
}

// LaunchParams carries the per-call concrete memory an Artifact executes
// against: Inputs are evaluated leaf dependency buffers keyed by
// Variable id, Outputs are pre-allocated root result buffers keyed by id.
type LaunchParams struct {
	Size    int
	Inputs  map[core.ID][]byte
	Outputs map[core.ID][]byte
}

// Artifact is a compiled kernel: backend-specific machine code (or, for
// the Host backend, an executable Node plan) plus enough metadata to
// persist it to the disk cache.
type Artifact interface {
	Backend() string
}

// Backend is the capability set a backend implementer must provide:
// preamble/op/store emission is folded into the shared text-assembly
// path in package eval (the templates are already backend-agnostic
// pseudo-IR, so nothing backend-specific remains to emit there); what
// stays backend-specific is turning assembled text + a Node plan into
// something executable, running it, and tearing it down.
type Backend interface {
	// Name identifies the backend for cache file tagging.
	Name() string

	// TargetTag reports the backend's compilation target fingerprint
	// (SM version for CUDA, feature set for LLVM) used in the disk cache
	// filename/header so a binary built for one target is never loaded
	// for another.
	TargetTag() string

	// Compile turns assembled, substituted IR text plus its structural
	// Node plan into an executable Artifact. text is used for the
	// content hash only; nodes is what Host actually executes.
	Compile(text string, nodes []Node, roots []core.ID) (Artifact, error)

	// Launch executes artifact against params, returning an event that
	// completes when the kernel finishes.
	Launch(artifact Artifact, params LaunchParams) (alloc.Event, error)

	// Serialize/Deserialize persist an Artifact to/from the disk cache.
	Serialize(Artifact) ([]byte, error)
	Deserialize([]byte) (Artifact, error)

	// Teardown shuts the backend down: light=true drops in-memory state
	// only; light=false must also release any backend-owned external
	// resources (a driver context, for backends that have one).
	Teardown(light bool) error
}
