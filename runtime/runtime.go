// Package runtime implements the process-wide Context: device/stream
// management, the configuration lock, and the public operation surface
// (init, device/stream, logging, memory, registry, variables,
// kernels/collectives) that the rest of jitgraph's core sits behind.
package runtime

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/brindleforge/jitgraph/alloc"
	"github.com/brindleforge/jitgraph/backend"
	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/eval"
	"github.com/brindleforge/jitgraph/jitc"
	"github.com/brindleforge/jitgraph/jitlog"
	"github.com/brindleforge/jitgraph/kernels"
	"github.com/brindleforge/jitgraph/registry"
	"github.com/brindleforge/jitgraph/vartable"
	"github.com/go-logr/logr"
)

// Options is the runtime-wide configuration, populated by DefaultOptions.
type Options struct {
	EnableLLVM bool // enables the Host/LLVM-style backend
	EnableCUDA bool // always rejected: no CUDA driver binding ships in this module

	LLVMCPU      string
	LLVMFeatures []string
	LLVMWidth    int

	ParallelDispatch bool
	OutputClass      alloc.Class // class used for freshly evaluated root buffers
	DeviceCount      int         // number of non-host "devices" Host simulates

	CacheDir    string // empty selects eval.DefaultCacheDir()
	DisableDisk bool   // skip the disk cache entirely (useful for tests)

	LogMinLevel jitlog.Level
	LogCallback jitlog.Callback
	Logr        logr.Logger
}

// DefaultOptions returns the zero-value-safe configuration jitgraph ships
// with: LLVM/Host enabled, no CUDA, one simulated device, parallel
// dispatch on, Device-class output buffers, disk cache at its default
// path, minimum log level Info with logr.Discard() as the log sink.
func DefaultOptions() Options {
	return Options{
		EnableLLVM:       true,
		LLVMCPU:          "generic",
		LLVMWidth:        1,
		ParallelDispatch: true,
		OutputClass:      alloc.Device,
		DeviceCount:      1,
		LogMinLevel:      jitlog.LevelInfo,
		Logr:             logr.Discard(),
	}
}

// Stream is the idiomatic-Go rendition of the implicit thread-local
// active (device, stream) pair a device_set call would otherwise select:
// rather than a true thread-local, callers carry the Stream handle
// DeviceSet returns explicitly, the same way they would thread a
// context.Context. Every stream-scoped operation takes one explicitly;
// see DESIGN.md for the reasoning.
type Stream struct {
	key core.StreamKey
}

// Key exposes the underlying (device, stream) identity for packages that
// need it (alloc, eval).
func (s *Stream) Key() core.StreamKey { return s.key }

// Context is the single shared instance owning the variable table,
// registry, allocator and backend. c.mu guards only the options and the
// backend/engine configuration; the variable table (with its CSE index),
// the registry and the allocator each guard their own state with an
// internal mutex, and trace, variable, memory, registry and collective
// calls do not take c.mu. Eval releases c.mu before the blocking engine
// call.
type Context struct {
	mu   sync.Mutex
	opts Options

	table    *vartable.Table
	registry *registry.Registry
	alloc    *alloc.Allocator

	be     backend.Backend
	engine *eval.Engine

	log *jitlog.LevelLogger

	shutdownOnce sync.Once
}

// Init constructs and fully initializes a Context. CUDA is never
// available in this module; passing EnableCUDA returns an error rather
// than silently ignoring the request.
func Init(opts Options) (*Context, error) {
	if opts.EnableCUDA {
		return nil, jitc.New(jitc.ErrCompileFailed, "init: CUDA backend not available (core ships only the Host reference backend)")
	}
	c := &Context{
		opts:     opts,
		table:    vartable.New(),
		registry: registry.New(),
		alloc:    alloc.New(),
	}
	c.log = jitlog.NewLevelLogger(opts.Logr, opts.LogMinLevel, opts.LogCallback)

	if !opts.EnableLLVM {
		return c, nil
	}
	if err := c.initBackend(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) initBackend() error {
	c.be = backend.NewHost(c.opts.LLVMCPU, c.opts.LLVMFeatures, c.opts.LLVMWidth)

	dir := c.opts.CacheDir
	if dir == "" {
		dir = eval.DefaultCacheDir()
	}
	var disk *eval.DiskCache
	if !c.opts.DisableDisk {
		d, err := eval.NewDiskCache(dir)
		if err != nil {
			return fmt.Errorf("runtime: initializing disk cache: %w", err)
		}
		disk = d
	}

	c.engine = &eval.Engine{
		Table:            c.table,
		Alloc:            c.alloc,
		Backend:          c.be,
		Mem:              eval.NewMemCache(),
		Disk:             disk,
		Log:              c.log,
		OutClass:         c.opts.OutputClass,
		ParallelDispatch: c.opts.ParallelDispatch,
	}
	return nil
}

// InitAsync launches Init in the background and returns a Context
// immediately, guarded so any call that needs c.mu blocks until
// initialization completes rather than racing it.
func InitAsync(opts Options) *Context {
	c := &Context{
		opts:     opts,
		table:    vartable.New(),
		registry: registry.New(),
		alloc:    alloc.New(),
	}
	c.log = jitlog.NewLevelLogger(opts.Logr, opts.LogMinLevel, opts.LogCallback)
	if !opts.EnableLLVM {
		return c
	}
	c.mu.Lock()
	go func() {
		defer c.mu.Unlock()
		_ = c.initBackend()
	}()
	return c
}

// HasLLVM / HasCUDA report backend availability.
func (c *Context) HasLLVM() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.be != nil }
func (c *Context) HasCUDA() bool { return false }

// DeviceCount reports the number of devices Host simulates.
func (c *Context) DeviceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.DeviceCount
}

// DeviceSet returns a Stream handle for (device, stream); device == -1
// means host. It validates the device range but performs no I/O: trace
// building stays non-blocking until a dirty operand forces an eval.
func (c *Context) DeviceSet(device, stream int) (*Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if device < -1 || device >= c.opts.DeviceCount {
		return nil, jitc.New(jitc.ErrUninitializedStream, "device_set: device %d out of range [-1,%d)", device, c.opts.DeviceCount)
	}
	return &Stream{key: core.StreamKey{Device: device, Stream: stream}}, nil
}

// LLVMSetTarget reconfigures the Host/LLVM-style backend's target triple.
func (c *Context) LLVMSetTarget(cpu string, features []string, width int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.LLVMCPU, c.opts.LLVMFeatures, c.opts.LLVMWidth = cpu, features, width
	if c.be != nil {
		c.be = backend.NewHost(cpu, features, width)
		if c.engine != nil {
			c.engine.Backend = c.be
		}
	}
}

// LLVMIfAtLeast implements the jitc_llvm_if_at_least capability
// predicate: does the configured feature set include feat, at vector
// width >= w?
func (c *Context) LLVMIfAtLeast(w int, feat string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opts.LLVMWidth < w {
		return false
	}
	for _, f := range c.opts.LLVMFeatures {
		if f == feat {
			return true
		}
	}
	return false
}

// ParallelSetDispatch toggles concurrent partition launch.
func (c *Context) ParallelSetDispatch(enable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.ParallelDispatch = enable
	if c.engine != nil {
		c.engine.ParallelDispatch = enable
	}
}

// SetLogLevel / SetLogCallback change the minimum log level and
// optional callback sink at runtime.
func (c *Context) SetLogLevel(level jitlog.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.SetMinLevel(level)
}

func (c *Context) SetLogCallback(cb jitlog.Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = jitlog.NewLevelLogger(c.opts.Logr, c.log.MinLevel(), cb)
}

// requireEngine returns the evaluation engine or a jitc error if the
// backend was never initialized (EnableLLVM was false at Init).
func (c *Context) requireEngine() (*eval.Engine, error) {
	if c.engine == nil {
		return nil, jitc.New(jitc.ErrUninitializedStream, "no backend initialized (Options.EnableLLVM was false)")
	}
	return c.engine, nil
}

// Eval implements eval(): evaluate every pending variable on s.
func (c *Context) Eval(s *Stream) (eval.Stats, error) {
	c.mu.Lock()
	engine, err := c.requireEngine()
	c.mu.Unlock()
	if err != nil {
		return eval.Stats{}, err
	}
	return engine.Eval(s.key)
}

// VarEval implements var_eval(id): a no-op if the variable is already
// materialized and clean, otherwise a full Eval of its stream —
// evaluation always proceeds by stream, never by single variable.
func (c *Context) VarEval(s *Stream, id core.ID) error {
	v, err := c.table.Get(id)
	if err != nil {
		return err
	}
	if v.IsEvaluated() {
		return nil
	}
	_, err = c.Eval(s)
	return err
}

// SyncStream / SyncDevice force everything pending on the stream (or
// every stream on the device) to complete. The Host backend already
// executes synchronously inside
// Eval, so these reduce to draining any remaining pending work.
func (c *Context) SyncStream(s *Stream) error {
	_, err := c.Eval(s)
	return err
}

func (c *Context) SyncDevice(device int) error {
	// jitgraph does not track which streams were ever opened on a
	// device (Stream handles are caller-held, not registered), so
	// SyncDevice(device) is expressed as "sync the default stream for
	// that device" — the common case of one stream per device used by a
	// single host thread.
	return c.SyncStream(&Stream{key: core.StreamKey{Device: device, Stream: 0}})
}

// ensureClean forces an Eval of s if any of ids is dirty: the trace
// builder must force an immediate eval before appending a dependent node
// on a dirty operand.
func (c *Context) ensureClean(s *Stream, ids [core.MaxDeps]core.ID) error {
	dirty := false
	for _, id := range ids {
		if id == core.NullID {
			continue
		}
		v, err := c.table.Get(id)
		if err != nil {
			return err
		}
		if v.HasFlag(core.FlagDirty) {
			dirty = true
			break
		}
	}
	if !dirty {
		return nil
	}
	if _, err := c.Eval(s); err != nil {
		return err
	}
	// A dirty materialized operand (written through Write) already holds
	// its new bytes; once s is drained it is clean again and the next
	// kernel reads it as a parameter.
	for _, id := range ids {
		if v, err := c.table.Get(id); err == nil && v.Data != 0 {
			v.ClearFlag(core.FlagDirty)
		}
	}
	return nil
}

// TraceAppend implements trace_append_{0..3}: deps
// with fewer than Arity(op) entries pass core.NullID in the unused
// slots. Scatter-shaped ops (kernels.OpScatterAdd) automatically pin
// their buffer operand via extra_dep, applied here as an explicit side
// effect of the append.
func (c *Context) TraceAppend(s *Stream, typ core.Type, op kernels.Op, deps [core.MaxDeps]core.ID, size int) (core.ID, error) {
	arity := kernels.Arity(op)
	for i := 0; i < arity; i++ {
		if deps[i] == core.NullID {
			return core.NullID, jitc.New(jitc.ErrNullOperand, "operand %d of op %v referenced at id 0", i, op)
		}
	}
	if err := c.ensureClean(s, deps); err != nil {
		return core.NullID, err
	}
	id, err := c.table.Append(s.key, vartable.AppendParams{
		Backend: core.LLVM,
		Type:    typ,
		Stmt:    kernels.Template(op),
		Deps:    deps,
		Size:    size,
	})
	if err != nil {
		return core.NullID, err
	}
	if kernels.IsScatter(op) {
		if err := c.table.SetExtraDep(id, deps[0]); err != nil {
			return core.NullID, err
		}
	}
	return id, nil
}

// Map / Register / RegisterPtr are the variable-adoption entry points
// for externally-owned buffers.
func (c *Context) Map(typ core.Type, buf uintptr, n int) core.ID {
	return c.table.Map(core.LLVM, typ, buf, n)
}

func (c *Context) Register(typ core.Type, buf uintptr, n int, free bool) core.ID {
	return c.table.Register(core.LLVM, typ, buf, n, free)
}

func (c *Context) RegisterPtr(ptr uintptr) core.ID {
	return c.table.RegisterPtr(core.LLVM, ptr)
}

// CopyToDevice implements copy_to_device: copy a host buffer into a
// fresh Device-class allocation and register the result as a
// materialized variable. No separate bounce buffer is used. The Host
// backend has no real device memory, so the "async copy" is a
// synchronous byte copy.
func (c *Context) CopyToDevice(s *Stream, typ core.Type, data []byte) (core.ID, error) {
	ptr, err := c.alloc.Malloc(alloc.Device, s.key.Device, s.key, uintptr(len(data)))
	if err != nil {
		return core.NullID, err
	}
	copy(c.alloc.Bytes(ptr), data)
	n := len(data) / typ.ByteSize()
	return c.table.Register(core.LLVM, typ, ptr, n, true), nil
}

// IncRefExt / DecRefExt implement inc_ref_ext / dec_ref_ext.
func (c *Context) IncRefExt(id core.ID) error { return c.table.IncRefExt(id) }
func (c *Context) DecRefExt(s *Stream, id core.ID) error {
	return c.table.DecRefExt(id, s.key)
}

// Ptr implements ptr(id): the materialized data pointer, or 0 if id is
// still symbolic.
func (c *Context) Ptr(id core.ID) (uintptr, error) {
	v, err := c.table.Get(id)
	if err != nil {
		return 0, err
	}
	return v.Data, nil
}

// Size / SetSize implement size(id) / set_size(id, size, allow_copy).
func (c *Context) Size(id core.ID) (int, error) { return c.table.Size(id) }

func (c *Context) SetSize(s *Stream, id core.ID, size int, allowCopy bool) (core.ID, error) {
	return c.table.SetSize(id, s.key, size, allowCopy, kernels.Template(kernels.OpBroadcastCopy))
}

// SetLabel / Label implement set_label / label.
func (c *Context) SetLabel(id core.ID, label string) error { return c.table.SetLabel(id, label) }
func (c *Context) Label(id core.ID) (string, error)        { return c.table.Label(id) }

// MarkSideEffect / MarkDirty / SetExtraDep expose the corresponding
// vartable operations directly.
func (c *Context) MarkSideEffect(id core.ID) error    { return c.table.MarkSideEffect(id) }
func (c *Context) MarkDirty(id core.ID) error          { return c.table.MarkDirty(id) }
func (c *Context) SetExtraDep(id, dep core.ID) error   { return c.table.SetExtraDep(id, dep) }

// Migrate implements migrate(id, class, device): re-home a materialized
// variable's Data, updating the table in place once the copy completes.
func (c *Context) Migrate(s *Stream, id core.ID, class alloc.Class, device int) error {
	v, err := c.table.Get(id)
	if err != nil {
		return err
	}
	if v.Data == 0 {
		return jitc.New(jitc.ErrInvalidResize, "migrate: id %d not materialized", id)
	}
	newPtr, err := c.alloc.Migrate(v.Data, class, device, s.key, alloc.DoneEvent, nil)
	if err != nil {
		return err
	}
	return c.table.UpdateData(id, newPtr)
}

// Whos implements whos().
func (c *Context) Whos() []vartable.VariableInfo { return c.table.Whos() }

// IsAllTrue / IsAllFalse implement is_all_true / is_all_false: force a
// clean read, then reduce the buffer with kernels.All/Any.
func (c *Context) IsAllTrue(s *Stream, id core.ID) (bool, error) {
	buf, n, err := c.readBuffer(s, id)
	if err != nil {
		return false, err
	}
	return kernels.All(buf, n), nil
}

func (c *Context) IsAllFalse(s *Stream, id core.ID) (bool, error) {
	buf, n, err := c.readBuffer(s, id)
	if err != nil {
		return false, err
	}
	return !kernels.Any(buf, n), nil
}

func (c *Context) readBuffer(s *Stream, id core.ID) ([]byte, int, error) {
	if err := c.VarEval(s, id); err != nil {
		return nil, 0, err
	}
	v, err := c.table.Get(id)
	if err != nil {
		return nil, 0, err
	}
	return c.alloc.Bytes(v.Data), v.Size, nil
}

// Read implements read(id, k): the k-th element's value, normalized to
// float64 (see kernels.Elem's documented simplification).
func (c *Context) Read(s *Stream, id core.ID, k int) (float64, error) {
	buf, n, err := c.readBuffer(s, id)
	if err != nil {
		return 0, err
	}
	if k < 0 || k >= n {
		return 0, jitc.New(jitc.ErrShapeMismatch, "read: index %d out of range [0,%d)", k, n)
	}
	v, _ := c.table.Get(id)
	return kernels.Elem(buf, v.Type, k), nil
}

// Write implements write(id, k, value): pokes the k-th element directly
// and marks id dirty, since this bypasses the trace's own write path.
func (c *Context) Write(s *Stream, id core.ID, k int, value float64) error {
	buf, n, err := c.readBuffer(s, id)
	if err != nil {
		return err
	}
	if k < 0 || k >= n {
		return jitc.New(jitc.ErrShapeMismatch, "write: index %d out of range [0,%d)", k, n)
	}
	v, _ := c.table.Get(id)
	kernels.SetElem(buf, v.Type, k, value)
	return c.table.MarkDirty(id)
}

// Str implements str(id): a short diagnostic rendering of up to the
// first 8 elements, forcing evaluation first.
func (c *Context) Str(s *Stream, id core.ID) (string, error) {
	buf, n, err := c.readBuffer(s, id)
	if err != nil {
		return "", err
	}
	v, _ := c.table.Get(id)
	shown := n
	if shown > 8 {
		shown = 8
	}
	out := fmt.Sprintf("[%s; size=%d]{", v.Type, n)
	for i := 0; i < shown; i++ {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%v", kernels.Elem(buf, v.Type, i))
	}
	if shown < n {
		out += ", ..."
	}
	return out + "}", nil
}

// --- Memory ---

func (c *Context) Malloc(class alloc.Class, s *Stream, size uintptr) (uintptr, error) {
	return c.alloc.Malloc(class, s.key.Device, s.key, size)
}

func (c *Context) Free(ptr uintptr, s *Stream) error { return c.alloc.Free(ptr, s.key, alloc.DoneEvent) }

func (c *Context) MallocMigrate(ptr uintptr, class alloc.Class, s *Stream) (uintptr, error) {
	return c.alloc.Migrate(ptr, class, s.key.Device, s.key, alloc.DoneEvent, nil)
}

func (c *Context) MallocTrim() { c.alloc.Trim() }

func (c *Context) MallocPrefetch(ptr uintptr, device int) error { return c.alloc.Prefetch(ptr, device) }

// MemcpyAsync implements memcpy_async(dst, src, n): enqueues a copy of n
// bytes between two allocator-backed buffers without waiting for s's
// pending work to complete first. "Async" is synchronous under Host,
// matching CopyToDevice's note.
func (c *Context) MemcpyAsync(dst, src uintptr, n int) {
	copy(c.alloc.Bytes(dst)[:n], c.alloc.Bytes(src)[:n])
}

// Memcpy implements memcpy(dst, src, n, stream): the blocking counterpart
// to MemcpyAsync. It synchronizes s first, so the copy only reads/writes
// data stable to a caller that already knows the stream is done, then
// performs the same byte copy.
func (c *Context) Memcpy(s *Stream, dst, src uintptr, n int) error {
	if err := c.SyncStream(s); err != nil {
		return err
	}
	c.MemcpyAsync(dst, src, n)
	return nil
}

// --- Registry ---

func (c *Context) RegistryPut(domain string, ptr uintptr) uint32   { return c.registry.Put(domain, ptr) }
func (c *Context) RegistryRemove(domain string, ptr uintptr) error { return c.registry.Remove(domain, ptr) }
func (c *Context) RegistryGetID(domain string, ptr uintptr) uint32 { return c.registry.GetID(domain, ptr) }
func (c *Context) RegistryGetPtr(domain string, id uint32) uintptr { return c.registry.GetPtr(domain, id) }
func (c *Context) RegistryGetMax(domain string) uint32             { return c.registry.GetMax(domain) }
func (c *Context) RegistryTrim()                                   { c.registry.Trim() }

// RegistryGetDomain implements get_domain(ptr): the domain ptr was
// registered under by a prior RegistryPut.
func (c *Context) RegistryGetDomain(ptr uintptr) (string, error) { return c.registry.GetDomain(ptr) }

// --- Collectives: operate directly on allocator-backed
// buffers, independent of the trace graph. ---

func (c *Context) Fill(typ core.Type, ptr uintptr, n int, src []byte) {
	kernels.Fill(typ, c.alloc.Bytes(ptr), n, src)
}

func (c *Context) Reduce(typ core.Type, op kernels.ReduceOp, ptr uintptr, n int, out []byte) {
	kernels.Reduce(typ, op, c.alloc.Bytes(ptr), n, out)
}

func (c *Context) Scan(in, out uintptr, n int) {
	kernels.Scan(u32View(c.alloc.Bytes(in)), u32View(c.alloc.Bytes(out)), n)
}

func (c *Context) All(ptr uintptr, n int) bool { return kernels.All(c.alloc.Bytes(ptr), n) }
func (c *Context) Any(ptr uintptr, n int) bool { return kernels.Any(c.alloc.Bytes(ptr), n) }

func (c *Context) Mkperm(values uintptr, n, bucketCount int, perm uintptr) []kernels.Bucket {
	v := u32View(c.alloc.Bytes(values))
	p := u32View(c.alloc.Bytes(perm))
	return kernels.Mkperm(v, n, bucketCount, p)
}

// --- Shutdown ---

// Shutdown implements shutdown(light). It synchronizes
// nothing extra (Host executes synchronously already), reports leaked
// variables as Warn-level log entries (error kind 10), and tears down
// the backend. At light=false the backend's Teardown releases any
// external resources regardless of leaks; at light=true leaked variables
// are reported but do not fail the call.
func (c *Context) Shutdown(light bool) error {
	var outerErr error
	c.shutdownOnce.Do(func() {
		sample, total := c.table.Leaks(10)
		if total > 0 {
			kv := []interface{}{"count", total}
			for _, v := range sample {
				kv = append(kv, "var", fmt.Sprintf("id=%d ext=%d int=%d size=%d", v.ID, v.RefCountExt, v.RefCountInt, v.Size))
			}
			c.log.Log(jitlog.LevelWarn, "leaked variables at shutdown", kv...)
		}
		if c.be != nil {
			if err := c.be.Teardown(light); err != nil {
				outerErr = fmt.Errorf("runtime: backend teardown: %w", err)
			}
		}
	})
	return outerErr
}

// u32View reinterprets b as a []uint32 in place (little-endian host
// assumption, matching kernels.readElem/writeElem's native encoding), so
// kernels.Scan/Mkperm write directly into the allocator's backing memory
// instead of a throwaway copy.
func u32View(b []byte) []uint32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}
