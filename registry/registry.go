// Package registry implements the dense (domain, ptr) ⇄ small-integer id
// bijection used to compile indirect calls and polymorphic dispatch into
// plain integer lookups instead of pointer comparisons baked into IR
// text. It is a dense-array-with-tombstone table (slot reuse keyed by a
// free list rather than always appending), one table per domain string.
package registry

import (
	"sync"

	"github.com/brindleforge/jitgraph/jitc"
)

// domainTable is one (ptr -> id, id -> ptr) bijection for a single domain.
// id 0 is reserved (the null pointer maps to it); byID[0] is always 0 and
// unused otherwise.
type domainTable struct {
	byPtr map[uintptr]uint32
	byID  []uintptr
	free  []uint32 // reclaimed ids, popped before extending byID
}

func newDomainTable() *domainTable {
	return &domainTable{
		byPtr: make(map[uintptr]uint32),
		byID:  []uintptr{0},
	}
}

func (t *domainTable) put(ptr uintptr) uint32 {
	if ptr == 0 {
		return 0
	}
	if id, ok := t.byPtr[ptr]; ok {
		return id
	}
	var id uint32
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
		t.byID[id] = ptr
	} else {
		id = uint32(len(t.byID))
		t.byID = append(t.byID, ptr)
	}
	t.byPtr[ptr] = id
	return id
}

func (t *domainTable) remove(ptr uintptr) bool {
	id, ok := t.byPtr[ptr]
	if !ok {
		return false
	}
	delete(t.byPtr, ptr)
	t.byID[id] = 0
	t.free = append(t.free, id)
	return true
}

func (t *domainTable) getID(ptr uintptr) uint32 {
	if ptr == 0 {
		return 0
	}
	return t.byPtr[ptr]
}

func (t *domainTable) getPtr(id uint32) uintptr {
	if id == 0 || int(id) >= len(t.byID) {
		return 0
	}
	return t.byID[id]
}

func (t *domainTable) maxID() uint32 {
	return uint32(len(t.byID) - 1)
}

// trim drops trailing free slots, shrinking byID. It cannot compact
// interior holes without renumbering live ids, which would break any
// cached reference to them, so it only reclaims the tail.
func (t *domainTable) trim() {
	for len(t.byID) > 1 && t.byID[len(t.byID)-1] == 0 {
		last := uint32(len(t.byID) - 1)
		t.byID = t.byID[:last]
		for i, f := range t.free {
			if f == last {
				t.free = append(t.free[:i], t.free[i+1:]...)
				break
			}
		}
	}
}

// Registry holds one domainTable per domain string, all guarded by a
// single mutex that every exported method takes; runtime.Context calls
// these methods without holding a lock of its own.
type Registry struct {
	mu        sync.Mutex
	domains   map[string]*domainTable
	ptrDomain map[uintptr]string // reverse index for GetDomain
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{domains: make(map[string]*domainTable), ptrDomain: make(map[uintptr]string)}
}

func (r *Registry) table(domain string) *domainTable {
	t, ok := r.domains[domain]
	if !ok {
		t = newDomainTable()
		r.domains[domain] = t
	}
	return t
}

// Put registers ptr under domain, returning its id. put(nil) (ptr == 0)
// yields 0 without allocating a domain table entry.
func (r *Registry) Put(domain string, ptr uintptr) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ptr == 0 {
		return 0
	}
	id := r.table(domain).put(ptr)
	r.ptrDomain[ptr] = domain
	return id
}

// Remove unregisters ptr from domain. It returns a registry jitc.Error if
// ptr was never registered in that domain.
func (r *Registry) Remove(domain string, ptr uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.domains[domain]
	if !ok || !t.remove(ptr) {
		return jitc.New(jitc.ErrRegistry, "remove: ptr not registered in domain %q", domain)
	}
	delete(r.ptrDomain, ptr)
	return nil
}

// GetDomain returns the domain ptr was registered under, looked up in the
// reverse index that Put fills and Remove clears (a ptr put in several
// domains reports the most recent one). It returns a registry jitc.Error
// if ptr is nil or is not in that index.
func (r *Registry) GetDomain(ptr uintptr) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ptr == 0 {
		return "", jitc.New(jitc.ErrRegistry, "get_domain: nil pointer has no domain")
	}
	domain, ok := r.ptrDomain[ptr]
	if !ok {
		return "", jitc.New(jitc.ErrRegistry, "get_domain: ptr not registered in any domain")
	}
	return domain, nil
}

// GetID returns the id ptr was registered under in domain, or 0 if ptr is
// nil or unregistered (get_id(null) == 0).
func (r *Registry) GetID(domain string, ptr uintptr) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.domains[domain]
	if !ok {
		return 0
	}
	return t.getID(ptr)
}

// GetPtr returns the pointer registered under id in domain, or 0 if id is
// out of range or was never assigned.
func (r *Registry) GetPtr(domain string, id uint32) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.domains[domain]
	if !ok {
		return 0
	}
	return t.getPtr(id)
}

// GetMax returns the highest id slot in domain's table, including freed
// interior slots but not trailing slots dropped by Trim (0 if the domain
// is unknown or empty).
func (r *Registry) GetMax(domain string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.domains[domain]
	if !ok {
		return 0
	}
	return t.maxID()
}

// Trim compacts every domain's table by dropping trailing empty entries.
func (r *Registry) Trim() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.domains {
		t.trim()
	}
}

// Domains returns every domain string that has had a non-nil Put, even
// if all of its pointers were later removed, for diagnostics
// (`whos`-style dumps).
func (r *Registry) Domains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.domains))
	for d := range r.domains {
		out = append(out, d)
	}
	return out
}
