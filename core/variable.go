package core

// Variable flag bits.
const (
	FlagFreeVariable = 1 << iota // owns Data
	FlagDirectPointer            // literal pointer node
	FlagSideEffect                // executes for effect only, not a value
	FlagDirty                     // a scatter/write may have invalidated Data
)

// MaxDeps is the maximum operand arity a Variable can carry directly.
const MaxDeps = 3

// Variable is a single node in the trace DAG: an arithmetic, memory, or
// control-flow operation recorded but not necessarily evaluated yet.
//
// Variable is a plain data record — all behavior (CSE lookup, ref count
// transitions, eval scheduling) lives in the vartable and eval packages
// that own the table Variables live in.
type Variable struct {
	ID ID

	Backend Backend
	Type    Type
	Size    int // number of elements; 1 broadcasts

	Stmt string // IR template string; empty once materialized

	Deps     [MaxDeps]ID
	ExtraDep ID // pinned dependency (e.g. scatter/gather target buffer)

	Data   uintptr // device/host pointer once evaluated; 0 otherwise
	TSize  int     // recursive template-size estimate: 1 + sum(tsize(dep))

	RefCountExt uint32 // references held by the host program
	RefCountInt uint32 // references held by other variables (via Deps/ExtraDep)

	Flags uint32
	Label string // optional diagnostic label
}

// HasFlag reports whether all bits in flag are set.
func (v *Variable) HasFlag(flag uint32) bool { return v.Flags&flag == flag }

// SetFlag sets the given bits.
func (v *Variable) SetFlag(flag uint32) { v.Flags |= flag }

// ClearFlag clears the given bits.
func (v *Variable) ClearFlag(flag uint32) { v.Flags &^= flag }

// IsEvaluated reports whether the variable has been materialized to a
// concrete buffer and does not need re-evaluation.
func (v *Variable) IsEvaluated() bool {
	return v.Data != 0 && !v.HasFlag(FlagDirty)
}

// Live reports whether the variable is still referenced by anything.
func (v *Variable) Live() bool {
	return v.RefCountExt > 0 || v.RefCountInt > 0
}

// DepCount returns the number of non-null entries in Deps.
func (v *Variable) DepCount() int {
	n := 0
	for _, d := range v.Deps {
		if d != NullID {
			n++
		}
	}
	return n
}

// CSEEligible reports whether this variable may be deduplicated against
// an equivalent pending node: materialized, dirty, and side-effect nodes
// are excluded. A side-effect node (a scatter/atomic-add) must execute
// once per trace_append call and is never merged with a prior identical
// call; a dirty node is dropped so a later identical call builds fresh.
func (v *Variable) CSEEligible() bool {
	return v.Data == 0 && !v.HasFlag(FlagDirty) && !v.HasFlag(FlagSideEffect)
}

// Key is the structural identity used by the CSE table: two variables with
// an equal Key compute the same value from the same inputs and may be
// deduplicated while both are CSE-eligible.
type Key struct {
	Backend Backend
	Type    Type
	Stmt    string
	Deps    [MaxDeps]ID
	Size    int
}

// KeyOf builds the CSE key for v.
func KeyOf(v *Variable) Key {
	return Key{Backend: v.Backend, Type: v.Type, Stmt: v.Stmt, Deps: v.Deps, Size: v.Size}
}
