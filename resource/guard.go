package resource

// Guard holds one reference on a registry record for a scoped stretch of
// work. Acquire takes the reference, Release drops it exactly once, and
// Detach hands the reference to someone else without dropping it. The usual
// shape is:
//
//	g := reg.Acquire(id)
//	defer g.Release()
//
// which keeps refcounts balanced across every early return.
type Guard struct {
	reg  *Registry
	id   uint64
	held bool
}

// Acquire adds a reference for id and returns the owning guard.
// An id of 0 produces an inert guard.
func (r *Registry) Acquire(id uint64) *Guard {
	g := &Guard{reg: r, id: id}
	if id != 0 {
		r.AddRef(id)
		g.held = true
	}
	return g
}

// Release drops the held reference. Safe to call more than once; only the
// first call releases.
func (g *Guard) Release() {
	if g.held {
		g.held = false
		g.reg.Release(g.id)
	}
}

// Detach transfers ownership of the reference to the caller and returns the
// id. The guard no longer releases; the caller must.
func (g *Guard) Detach() uint64 {
	g.held = false
	return g.id
}

// ID reports the guarded resource id.
func (g *Guard) ID() uint64 { return g.id }
