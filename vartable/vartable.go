// Package vartable owns the variable table, the CSE table, and the trace
// builder: it is where trace_append_* calls land, where
// common-subexpression elimination happens, and where the pending set
// per stream is tracked. It is a dense-array node table (ids as map
// keys, tombstone-on-free) with a seen-map CSE index layered over a
// live, mutable, ref-counted DAG rather than a static compiled graph.
package vartable

import (
	"sync"

	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/jitc"
)

// VariableInfo is the structured whos() dump entry for one variable.
type VariableInfo struct {
	ID          core.ID
	Backend     core.Backend
	Type        core.Type
	Size        int
	RefCountExt uint32
	RefCountInt uint32
	Evaluated   bool
	Label       string
}

// Table is the live variable DAG plus its CSE index and per-stream
// pending sets. Every exported method takes the Table's own mutex;
// runtime.Context calls them without holding a lock of its own.
type Table struct {
	mu      sync.Mutex
	nextID  core.ID
	vars    map[core.ID]*core.Variable
	cse     map[core.Key]core.ID
	pending map[core.StreamKey]map[core.ID]struct{}

	// ptrLiterals dedups register_ptr by address: one pointer-literal
	// variable per distinct address, shared across the program through a
	// pointer->id side table.
	ptrLiterals map[uintptr]core.ID
}

// New returns an empty Table. Id 0 is reserved and never issued.
func New() *Table {
	return &Table{
		nextID:      1,
		vars:        make(map[core.ID]*core.Variable),
		cse:         make(map[core.Key]core.ID),
		pending:     make(map[core.StreamKey]map[core.ID]struct{}),
		ptrLiterals: make(map[uintptr]core.ID),
	}
}

func (t *Table) alloc(v *core.Variable) core.ID {
	id := t.nextID
	t.nextID++
	v.ID = id
	t.vars[id] = v
	return id
}

// Get returns the live variable for id, or a jitc.Error{Kind:
// ErrUnknownVariable} if it is not in the table.
func (t *Table) Get(id core.ID) (*core.Variable, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(id)
}

func (t *Table) get(id core.ID) (*core.Variable, error) {
	v, ok := t.vars[id]
	if !ok {
		return nil, jitc.New(jitc.ErrUnknownVariable, "id %d", id)
	}
	return v, nil
}

func (t *Table) pendingSet(sk core.StreamKey) map[core.ID]struct{} {
	s, ok := t.pending[sk]
	if !ok {
		s = make(map[core.ID]struct{})
		t.pending[sk] = s
	}
	return s
}

// Pending returns a snapshot of the pending ids for sk, in ascending id
// order for deterministic scheduling.
func (t *Table) Pending(sk core.StreamKey) []core.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.pending[sk]
	out := make([]core.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []core.ID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// incRefInt bumps the internal ref count of id (0 is a no-op, matching
// deps[i] == 0 meaning "absent").
func (t *Table) incRefInt(id core.ID) {
	if id == core.NullID {
		return
	}
	v := t.vars[id]
	if v == nil {
		jitc.Panic("vartable: incRefInt on missing id %d", id)
	}
	v.RefCountInt++
}

// decRefInt drops the internal ref count of id and destroys it if it is
// now unreferenced by both counters.
func (t *Table) decRefInt(id core.ID) {
	if id == core.NullID {
		return
	}
	v := t.vars[id]
	if v == nil {
		jitc.Panic("vartable: decRefInt on missing id %d", id)
	}
	if v.RefCountInt == 0 {
		jitc.Panic("vartable: ref-count underflow (internal) on id %d", id)
	}
	v.RefCountInt--
	t.maybeDestroy(v)
}

func (t *Table) maybeDestroy(v *core.Variable) {
	if v.Live() {
		return
	}
	for _, d := range v.Deps {
		t.decRefInt(d)
	}
	if v.ExtraDep != core.NullID {
		t.decRefInt(v.ExtraDep)
	}
	delete(t.vars, v.ID)
	if v.CSEEligible() {
		delete(t.cse, core.KeyOf(v))
	}
}

// decRefExtInternal decrements an external ref count as part of tearing
// down a variable's ExtraDep pin.
func (t *Table) decRefExtInternal(id core.ID) {
	v, ok := t.vars[id]
	if !ok {
		return // already destroyed via some other path
	}
	if v.RefCountExt == 0 {
		jitc.Panic("vartable: ref-count underflow (external via extra_dep) on id %d", id)
	}
	v.RefCountExt--
	t.dropFromAllPending(id)
	t.maybeDestroy(v)
}

func (t *Table) dropFromAllPending(id core.ID) {
	for _, set := range t.pending {
		delete(set, id)
	}
}

// IncRefExt implements inc_ref_ext: the host program takes another
// reference to id.
func (t *Table) IncRefExt(id core.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return err
	}
	v.RefCountExt++
	return nil
}

// DecRefExt implements dec_ref_ext: the host program drops its reference
// to id. When RefCountExt reaches zero, id is removed from its stream's
// pending set and destroyed if RefCountInt is also zero.
func (t *Table) DecRefExt(id core.ID, sk core.StreamKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return err
	}
	if v.RefCountExt == 0 {
		return jitc.New(jitc.ErrRefCountUnderflow, "dec_ref_ext on id %d", id)
	}
	v.RefCountExt--
	if v.RefCountExt == 0 {
		delete(t.pendingSet(sk), id)
	}
	t.maybeDestroy(v)
	return nil
}

// AppendParams describes one trace_append_k call (k = number of non-null
// Deps).
type AppendParams struct {
	Backend core.Backend
	Type    core.Type
	Stmt    string
	Deps    [core.MaxDeps]core.ID
	// Size, if zero, is computed from operand sizes via the broadcast
	// policy. A caller passing a fixed size (e.g. a
	// literal or counter) sets it explicitly.
	Size       int
	SideEffect bool
}

// Append implements trace_append(type, stmt, deps..., size?):
// construct-or-reuse-by-CSE, bump ext ref, register into the active
// stream's pending set.
func (t *Table) Append(sk core.StreamKey, p AppendParams) (core.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size, err := t.resolveSize(p.Deps, p.Size)
	if err != nil {
		return core.NullID, err
	}
	for _, d := range p.Deps {
		if d == core.NullID {
			continue
		}
		if _, ok := t.vars[d]; !ok {
			return core.NullID, jitc.New(jitc.ErrUnknownVariable, "operand id %d", d)
		}
	}

	key := core.Key{Backend: p.Backend, Type: p.Type, Stmt: p.Stmt, Deps: p.Deps, Size: size}
	if existing, ok := t.cse[key]; ok {
		v := t.vars[existing]
		if v != nil && v.CSEEligible() {
			v.RefCountExt++
			return existing, nil
		}
		delete(t.cse, key) // stale entry: dirty nodes drop out
	}

	v := &core.Variable{
		Backend:     p.Backend,
		Type:        p.Type,
		Size:        size,
		Stmt:        p.Stmt,
		Deps:        p.Deps,
		RefCountExt: 1,
	}
	if p.SideEffect {
		v.SetFlag(core.FlagSideEffect)
	}
	v.TSize = 1
	for _, d := range p.Deps {
		if d != core.NullID {
			v.TSize += t.vars[d].TSize
		}
	}

	id := t.alloc(v)
	if v.CSEEligible() {
		t.cse[key] = id
	}
	for _, d := range p.Deps {
		t.incRefInt(d)
	}
	t.pendingSet(sk)[id] = struct{}{}
	return id, nil
}

// resolveSize applies the broadcast policy: result size
// is max(operand sizes); any operand whose size is neither 1 nor the
// result size is a shape mismatch. explicitSize, if nonzero, is used
// as-is (for zero-arity or literal appends) but still checked against
// deps if any are given.
func (t *Table) resolveSize(deps [core.MaxDeps]core.ID, explicitSize int) (int, error) {
	max := 0
	for _, d := range deps {
		if d == core.NullID {
			continue
		}
		dv := t.vars[d]
		if dv == nil {
			return 0, jitc.New(jitc.ErrUnknownVariable, "operand id %d", d)
		}
		if dv.Size > max {
			max = dv.Size
		}
	}
	if explicitSize != 0 {
		max = explicitSize
	}
	if max == 0 {
		max = 1
	}
	for _, d := range deps {
		if d == core.NullID {
			continue
		}
		dv := t.vars[d]
		if dv.Size != 1 && dv.Size != max {
			return 0, jitc.New(jitc.ErrShapeMismatch, "operand %d has size %d, result size %d", d, dv.Size, max)
		}
	}
	return max, nil
}

// SetExtraDep implements set_extra_dep, pinning an additional dependency
// that holds an internal ref on dep until id is destroyed. A second call on a
// variable that already has an ExtraDep is rejected rather than silently
// overwritten or chained.
func (t *Table) SetExtraDep(id, dep core.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return err
	}
	if v.ExtraDep != core.NullID {
		return jitc.New(jitc.ErrExtraDepSet, "id %d already has extra_dep %d", id, v.ExtraDep)
	}
	if dep != core.NullID {
		if _, err := t.get(dep); err != nil {
			return err
		}
		t.incRefInt(dep)
	}
	v.ExtraDep = dep
	return nil
}

// MarkDirty implements mark_dirty: a scatter target's Data may have been
// mutated, so any node depending on it must observe the write before its
// next read. A dirty node is dropped from the CSE table until its next
// evaluation clears Dirty, so a later identical trace_append call builds
// a fresh node rather than reusing the stale one.
func (t *Table) MarkDirty(id core.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return err
	}
	if v.CSEEligible() {
		delete(t.cse, core.KeyOf(v))
	}
	v.SetFlag(core.FlagDirty)
	return nil
}

// MarkSideEffect implements mark_side_effect.
func (t *Table) MarkSideEffect(id core.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return err
	}
	v.SetFlag(core.FlagSideEffect)
	return nil
}

// SetLabel / Label implement set_label / label.
func (t *Table) SetLabel(id core.ID, label string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return err
	}
	v.Label = label
	return nil
}

func (t *Table) Label(id core.ID) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return "", err
	}
	return v.Label, nil
}

// Size implements size(id).
func (t *Table) Size(id core.ID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return 0, err
	}
	return v.Size, nil
}

// SetSize implements set_size(id, size, allow_copy): a
// materialized scalar may be resized into a copy (a new id) when
// allowCopy is set; anything else is an invalid resize. copyStmt is the
// IR template the caller wants used for the inserted copy node (backend-
// specific "broadcast scalar to buffer" template).
func (t *Table) SetSize(id core.ID, sk core.StreamKey, size int, allowCopy bool, copyStmt string) (core.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return core.NullID, err
	}
	if v.Size == size {
		return id, nil
	}
	if !(v.IsEvaluated() && v.Size == 1) {
		return core.NullID, jitc.New(jitc.ErrInvalidResize, "id %d: resize of materialized non-scalar", id)
	}
	if !allowCopy {
		return core.NullID, jitc.New(jitc.ErrInvalidResize, "id %d: resize rejected, allow_copy not set", id)
	}

	deps := [core.MaxDeps]core.ID{id}
	key := core.Key{Backend: v.Backend, Type: v.Type, Stmt: copyStmt, Deps: deps, Size: size}
	nv := &core.Variable{
		Backend:     v.Backend,
		Type:        v.Type,
		Size:        size,
		Stmt:        copyStmt,
		Deps:        deps,
		RefCountExt: 1,
		TSize:       v.TSize + 1,
	}
	nid := t.alloc(nv)
	if nv.CSEEligible() {
		t.cse[key] = nid
	}
	t.incRefInt(id)
	t.pendingSet(sk)[nid] = struct{}{}
	return nid, nil
}

// Register implements register(buf, n, free): adopts an externally
// managed buffer as a materialized variable of size n. If free is true
// the variable is flagged FlagFreeVariable as the owner of buf; the
// table does not release buf when the variable is destroyed.
func (t *Table) Register(backend core.Backend, typ core.Type, buf uintptr, n int, free bool) core.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := &core.Variable{
		Backend:     backend,
		Type:        typ,
		Size:        n,
		Data:        buf,
		RefCountExt: 1,
		TSize:       1,
	}
	if free {
		v.SetFlag(core.FlagFreeVariable)
	}
	return t.alloc(v)
}

// RegisterPtr implements register_ptr: a unique pointer-literal variable
// per distinct address, deduplicated via ptrLiterals so recompiling after
// an address changes still hits the IR cache — the literal address is
// never baked into the IR text, only a kernel parameter reference is.
func (t *Table) RegisterPtr(backend core.Backend, ptr uintptr) core.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ptrLiterals[ptr]; ok {
		if v, ok := t.vars[id]; ok {
			v.RefCountExt++
			return id
		}
		delete(t.ptrLiterals, ptr)
	}
	v := &core.Variable{
		Backend:     backend,
		Type:        core.Ptr,
		Size:        1,
		Data:        ptr,
		RefCountExt: 1,
		TSize:       1,
	}
	v.SetFlag(core.FlagDirectPointer)
	id := t.alloc(v)
	t.ptrLiterals[ptr] = id
	return id
}

// Map implements map(): adopts buf as a variable without taking
// ownership, equivalent to Register(..., free=false), kept as a distinct
// entry point to match the separate `map` verb callers expect.
func (t *Table) Map(backend core.Backend, typ core.Type, buf uintptr, n int) core.ID {
	return t.Register(backend, typ, buf, n, false)
}

// InstallResult is called by the evaluation engine once a pending root
// has been compiled and launched: it materializes id's Data, clears Stmt
// (no longer needed for CSE once evaluated), and drops it from the
// pending set. Releasing internal refs on its now-superfluous operands
// is intentionally NOT done here — operands stay referenced until id
// itself is destroyed, since only destruction decrements operand
// internal refs, not evaluation.
func (t *Table) InstallResult(id core.ID, sk core.StreamKey, data uintptr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return err
	}
	if v.CSEEligible() {
		delete(t.cse, core.KeyOf(v))
	}
	v.Data = data
	v.SetFlag(core.FlagFreeVariable)
	v.Stmt = ""
	v.ClearFlag(core.FlagDirty)
	delete(t.pendingSet(sk), id)
	return nil
}

// UpdateData installs a new Data pointer for an already-materialized
// variable, used by migrate(id, class, device) once the allocator has
// copied the backing bytes to their new home.
func (t *Table) UpdateData(id core.ID, data uintptr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := t.get(id)
	if err != nil {
		return err
	}
	v.Data = data
	return nil
}

// Whos returns a diagnostic dump of every live variable.
func (t *Table) Whos() []VariableInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]VariableInfo, 0, len(t.vars))
	for id, v := range t.vars {
		out = append(out, VariableInfo{
			ID: id, Backend: v.Backend, Type: v.Type, Size: v.Size,
			RefCountExt: v.RefCountExt, RefCountInt: v.RefCountInt,
			Evaluated: v.IsEvaluated(), Label: v.Label,
		})
	}
	return out
}

// Leaks returns up to n live variables with nonzero ref counts, for a
// shutdown leak report, plus an aggregate count of all leaked variables.
func (t *Table) Leaks(n int) (sample []VariableInfo, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, v := range t.vars {
		total++
		if len(sample) < n {
			sample = append(sample, VariableInfo{
				ID: id, Backend: v.Backend, Type: v.Type, Size: v.Size,
				RefCountExt: v.RefCountExt, RefCountInt: v.RefCountInt,
				Evaluated: v.IsEvaluated(), Label: v.Label,
			})
		}
	}
	return sample, total
}

// Count returns the number of live variables, for tests.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.vars)
}
