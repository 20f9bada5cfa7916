// resource/registry.go
package resource

import (
	"sync"
	"sync/atomic"

	"linuxhal-go/types"
)

// Info is a point-in-time snapshot of one tracked resource.
type Info struct {
	ID       uint64
	Kind     types.ResourceKind
	Name     string
	Handle   any
	RefCount uint32
	InUse    bool
}

// record is the registry-owned metadata for one handle. The handle itself is
// owned by the registering collaborator; the registry never closes it.
type record struct {
	id       uint64
	kind     types.ResourceKind
	name     string
	handle   any
	refCount atomic.Uint32
	inUse    atomic.Bool
}

// Registry tracks hardware resource handles, reference counts, and busy
// flags under concurrent access. The id→record map is guarded by a single
// mutex; refCount and inUse are atomics so hot-path reads on a held record
// avoid the map lock. Record removal always takes the map lock, so no
// reader can observe a half-destroyed record.
type Registry struct {
	mu      sync.Mutex
	nextID  atomic.Uint64
	records map[uint64]*record
}

func NewRegistry() *Registry {
	return &Registry{records: map[uint64]*record{}}
}

// Register tracks a new handle and returns its fresh id.
// The registrant holds the initial reference: refcount starts at 1.
func (r *Registry) Register(kind types.ResourceKind, name string, handle any) uint64 {
	id := r.nextID.Add(1)

	rec := &record{id: id, kind: kind, name: name, handle: handle}
	rec.refCount.Store(1)

	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()

	return id
}

// Unregister erases the record for id. It refuses (returns false) if the id
// is unknown or the refcount is still nonzero; it never force-frees a
// referenced resource.
func (r *Registry) Unregister(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	if rec.refCount.Load() > 0 {
		return false
	}
	delete(r.records, id)
	return true
}

// AddRef increments the refcount and returns the new count.
// Unknown ids return 0 and have no effect.
func (r *Registry) AddRef(id uint64) uint32 {
	rec := r.find(id)
	if rec == nil {
		return 0
	}
	return rec.refCount.Add(1)
}

// Release decrements the refcount and returns the new count. It never
// decrements below zero; unknown ids return 0 and have no effect.
func (r *Registry) Release(id uint64) uint32 {
	rec := r.find(id)
	if rec == nil {
		return 0
	}
	for {
		cur := rec.refCount.Load()
		if cur == 0 {
			return 0
		}
		if rec.refCount.CompareAndSwap(cur, cur-1) {
			return cur - 1
		}
	}
}

// RefCount reports the current refcount, or 0 for unknown ids.
func (r *Registry) RefCount(id uint64) uint32 {
	rec := r.find(id)
	if rec == nil {
		return 0
	}
	return rec.refCount.Load()
}

// InUse reports the advisory busy flag. It carries no enforcement over the
// refcount.
func (r *Registry) InUse(id uint64) bool {
	rec := r.find(id)
	if rec == nil {
		return false
	}
	return rec.inUse.Load()
}

// SetInUse updates the advisory busy flag. Unknown ids are ignored.
func (r *Registry) SetInUse(id uint64, inUse bool) {
	if rec := r.find(id); rec != nil {
		rec.inUse.Store(inUse)
	}
}

// Info returns a snapshot of the record for id.
func (r *Registry) Info(id uint64) (Info, bool) {
	rec := r.find(id)
	if rec == nil {
		return Info{}, false
	}
	return Info{
		ID:       rec.id,
		Kind:     rec.kind,
		Name:     rec.name,
		Handle:   rec.handle,
		RefCount: rec.refCount.Load(),
		InUse:    rec.inUse.Load(),
	}, true
}

// Count reports the number of tracked records.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ClearAll drops every record regardless of refcount. Handles are untouched;
// they remain the registrants' responsibility.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.records)
}

func (r *Registry) find(id uint64) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}
