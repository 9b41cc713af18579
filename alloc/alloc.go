// Package alloc implements the per-device, per-stream caching allocator:
// typed, asynchronous memory that defers reclamation until a stream
// event has passed, so memory freed by one kernel can be reused by the
// next without a CPU/GPU synchronization. It generalizes a single bump
// region into power-of-two size-class free lists per (Class, device).
package alloc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/brindleforge/jitgraph/core"
	"github.com/brindleforge/jitgraph/jitc"
)

// Class is one of the five allocation classes.
type Class int

const (
	Host Class = iota
	HostPinned
	Device
	Managed
	ManagedReadMostly
)

func (c Class) String() string {
	switch c {
	case Host:
		return "host"
	case HostPinned:
		return "host_pinned"
	case Device:
		return "device"
	case Managed:
		return "managed"
	case ManagedReadMostly:
		return "managed_read_mostly"
	default:
		return "invalid"
	}
}

// deviceAccessible reports whether frees of this class must go through a
// stream's release chain rather than returning to the free list
// immediately.
func (c Class) deviceAccessible() bool { return c != Host }

// Event is a completed-or-not marker for an asynchronous operation
// (kernel launch, copy) on a stream. The Host reference backend
// implements this with an immediately-signaled event; a real CUDA/LLVM
// backend would wrap a driver event handle behind the same interface.
type Event interface {
	// Done reports whether the operation has completed. It must not
	// block; Wait is used when blocking is acceptable.
	Done() bool
	// Wait blocks until the operation completes.
	Wait()
}

// doneEvent is immediately complete, used for Host-class frees (which
// never enter a release chain) and as a zero-latency stand-in when a
// backend performs its work synchronously.
type doneEvent struct{}

func (doneEvent) Done() bool { return true }
func (doneEvent) Wait()      {}

// DoneEvent is the shared immediately-signaled Event.
var DoneEvent Event = doneEvent{}

// ChanEvent is a channel-backed Event a backend can signal from a
// goroutine once a launch completes, modeling a driver event without a
// real driver.
type ChanEvent struct {
	done chan struct{}
}

// NewChanEvent returns an unsignaled ChanEvent.
func NewChanEvent() *ChanEvent { return &ChanEvent{done: make(chan struct{})} }

// Signal marks the event complete. Safe to call at most once.
func (e *ChanEvent) Signal() { close(e.done) }

func (e *ChanEvent) Done() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *ChanEvent) Wait() { <-e.done }

// allocation is the live record behind a pointer: the Class it belongs
// to, the device it was allocated on, its rounded size, and the backing
// Go memory keeping it alive (jitgraph has no real device memory; the
// Host reference backend's "device" allocations are ordinary Go heap
// memory addressed by the allocation's synthetic pointer).
type allocation struct {
	class   Class
	device  int
	size    uintptr
	backing []byte
}

func (a *allocation) ptr() uintptr {
	if len(a.backing) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&a.backing[0]))
}

// poolKey identifies a free list: a rounded size within a (class, device).
type poolKey struct {
	class  Class
	device int
	size   uintptr
}

// releaseRecord is one entry of a stream's release chain: a pointer list
// gated on a single completion event.
type releaseRecord struct {
	event Event
	ptrs  []uintptr
}

// streamKey is an alias for core.StreamKey, the shared (device, stream)
// identity used across vartable, alloc, and runtime.
type streamKey = core.StreamKey

// Stats are the watermark/current-usage diagnostic counters per class.
type Stats struct {
	Live      int64 // live allocation count
	Bytes     int64 // live byte count
	Watermark int64 // peak live byte count
}

// Allocator is the process-wide async caching allocator. One Allocator
// instance is embedded in runtime.Context; all state is guarded by its
// own mutex independent of the caller's process-wide lock, so malloc/free
// can be called while holding runtime.Context's lock without recursion.
type Allocator struct {
	mu    sync.Mutex
	pools map[poolKey][]*allocation
	live  map[uintptr]*allocation
	stats [5]Stats

	chains map[streamKey][]releaseRecord
}

// New returns an empty Allocator.
func New() *Allocator {
	return &Allocator{
		pools:  make(map[poolKey][]*allocation),
		live:   make(map[uintptr]*allocation),
		chains: make(map[streamKey][]releaseRecord),
	}
}

// roundPow2 rounds n up to the next power of two so allocations of
// nearby sizes share one free-list pool for cache reuse. n == 0 rounds
// to 1 to keep a valid pool key.
func roundPow2(n uintptr) uintptr {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// drainChain moves any pointers whose release event has completed from
// stream sk's release chain back into the free pools. Called with mu
// held.
func (a *Allocator) drainChain(sk streamKey) {
	records := a.chains[sk]
	if len(records) == 0 {
		return
	}
	kept := records[:0]
	for _, rec := range records {
		if rec.event.Done() {
			for _, p := range rec.ptrs {
				alc, ok := a.live[p]
				if !ok {
					continue
				}
				delete(a.live, p)
				key := poolKey{class: alc.class, device: alc.device, size: alc.size}
				a.pools[key] = append(a.pools[key], alc)
			}
		} else {
			kept = append(kept, rec)
		}
	}
	a.chains[sk] = kept
}

// Malloc allocates size bytes of the given class on device, optionally
// polling sk's release chain first so memory freed by a just-finished
// kernel on the same stream can be reused without a host sync. device is
// part of the pool key for every class, Host/HostPinned included.
func (a *Allocator) Malloc(class Class, device int, sk streamKey, size uintptr) (uintptr, error) {
	if size == 0 {
		return 0, jitc.New(jitc.ErrOutOfMemory, "malloc: zero-size request")
	}
	rounded := roundPow2(size)
	key := poolKey{class: class, device: device, size: rounded}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.drainChain(sk)

	if free := a.pools[key]; len(free) > 0 {
		alc := free[len(free)-1]
		a.pools[key] = free[:len(free)-1]
		a.live[alc.ptr()] = alc
		a.track(class, int64(rounded))
		return alc.ptr(), nil
	}

	alc := &allocation{class: class, device: device, size: rounded, backing: make([]byte, rounded)}
	p := alc.ptr()
	if p == 0 {
		return 0, jitc.New(jitc.ErrOutOfMemory, "malloc: failed to back %d bytes", rounded)
	}
	a.live[p] = alc
	a.track(class, int64(rounded))
	return p, nil
}

func (a *Allocator) track(class Class, delta int64) {
	s := &a.stats[class]
	live := atomic.AddInt64(&s.Bytes, delta)
	atomic.AddInt64(&s.Live, 1)
	for {
		wm := atomic.LoadInt64(&s.Watermark)
		if live <= wm || atomic.CompareAndSwapInt64(&s.Watermark, wm, live) {
			break
		}
	}
}

func (a *Allocator) untrack(class Class, size int64) {
	atomic.AddInt64(&a.stats[class].Bytes, -size)
	atomic.AddInt64(&a.stats[class].Live, -1)
}

// Free releases ptr. Host-class frees return to the pool immediately;
// device-accessible classes append ptr to sk's release chain, which is
// only drained once ev (typically the completion event of the kernel
// that last touched ptr on sk) reports Done.
func (a *Allocator) Free(ptr uintptr, sk streamKey, ev Event) error {
	if ptr == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	alc, ok := a.live[ptr]
	if !ok {
		return jitc.New(jitc.ErrOutOfMemory, "free: unknown pointer")
	}
	a.untrack(alc.class, int64(alc.size))

	if !alc.class.deviceAccessible() {
		delete(a.live, ptr)
		key := poolKey{class: alc.class, device: alc.device, size: alc.size}
		a.pools[key] = append(a.pools[key], alc)
		return nil
	}
	if ev == nil {
		ev = DoneEvent
	}
	// ptr stays in a.live (so drainChain can resolve it by pointer) until
	// its release record's event completes and it moves into the pool.
	a.chains[sk] = append(a.chains[sk], releaseRecord{event: ev, ptrs: []uintptr{ptr}})
	return nil
}

// Trim returns all free-list memory to the OS/driver. Go has no explicit
// free; dropping the backing slices lets the GC reclaim them.
func (a *Allocator) Trim() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pools = make(map[poolKey][]*allocation)
}

// FreeListSize reports how many allocations sit in class's free lists,
// used by the "after malloc_trim, free-list size for every class is
// zero" testable property.
func (a *Allocator) FreeListSize(class Class) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for k, v := range a.pools {
		if k.class == class {
			n += len(v)
		}
	}
	return n
}

// StatsFor returns a snapshot of class's live/watermark counters.
func (a *Allocator) StatsFor(class Class) Stats {
	return Stats{
		Live:      atomic.LoadInt64(&a.stats[class].Live),
		Bytes:     atomic.LoadInt64(&a.stats[class].Bytes),
		Watermark: atomic.LoadInt64(&a.stats[class].Watermark),
	}
}

// Migrate implements malloc_migrate(p, class): a call whose destination
// class and device both match the allocation's is a no-op; otherwise it allocates in the destination class/device, copies
// the bytes, and schedules the source for release on sk once ev
// completes. copyFn lets the caller perform a real
// device-to-device or peer-to-peer copy; a nil copyFn does a plain byte
// copy, correct for the Host reference backend where "device" memory is
// host memory.
func (a *Allocator) Migrate(ptr uintptr, dstClass Class, dstDevice int, sk streamKey, ev Event, copyFn func(dst, src []byte)) (uintptr, error) {
	a.mu.Lock()
	alc, ok := a.live[ptr]
	a.mu.Unlock()
	if !ok {
		return 0, jitc.New(jitc.ErrOutOfMemory, "migrate: unknown pointer")
	}
	if alc.class == dstClass && alc.device == dstDevice {
		return ptr, nil
	}

	newPtr, err := a.Malloc(dstClass, dstDevice, sk, alc.size)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	dst := a.live[newPtr]
	a.mu.Unlock()

	if copyFn != nil {
		copyFn(dst.backing, alc.backing)
	} else {
		copy(dst.backing, alc.backing)
	}

	if err := a.Free(ptr, sk, ev); err != nil {
		return 0, fmt.Errorf("migrate: scheduling source release: %w", err)
	}
	return newPtr, nil
}

// Prefetch checks that ptr is a live allocation and otherwise does
// nothing: no hint is recorded for any class, Managed/ManagedReadMostly
// included, because the Host reference backend has no separate device
// memory to migrate pages into. device (-1 for host, -2 for "all GPUs")
// is accepted and ignored.
func (a *Allocator) Prefetch(ptr uintptr, device int) error {
	a.mu.Lock()
	alc, ok := a.live[ptr]
	a.mu.Unlock()
	if !ok {
		return jitc.New(jitc.ErrOutOfMemory, "prefetch: unknown pointer")
	}
	if alc.class != Managed && alc.class != ManagedReadMostly {
		return nil
	}
	_ = device
	return nil
}

// Bytes returns a byte slice view of the memory at ptr, for the Host
// reference backend to read/write through. It panics via jitc.Panic if
// ptr is not a live allocation, an internal invariant violation rather
// than a recoverable error.
func (a *Allocator) Bytes(ptr uintptr) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	alc, ok := a.live[ptr]
	if !ok {
		jitc.Panic("alloc: Bytes on unknown pointer")
	}
	return alc.backing
}

// StreamKey builds the (device, stream) key used by Malloc/Free/Migrate.
func StreamKey(device, stream int) streamKey { return core.StreamKey{Device: device, Stream: stream} }
