package intercept

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Registry holds the handlers registered per message type in two sets:
// primary handlers (Observing and Cancelable) and cancel-confirmation
// handlers.
//
// Writers are serialized and publish a fresh immutable table, so readers
// never lock and a dispatch in progress keeps the table it started with even
// if Clear runs concurrently.
type Registry struct {
	mu    sync.Mutex // serializes writers
	table atomic.Pointer[table]
}

type table struct {
	primary map[MessageType][]Descriptor
	confirm map[MessageType][]Descriptor
}

var emptyTable = &table{
	primary: map[MessageType][]Descriptor{},
	confirm: map[MessageType][]Descriptor{},
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.table.Store(emptyTable)
	return r
}

// snapshot returns the current table. Callers must not modify it.
func (r *Registry) snapshot() *table {
	if t := r.table.Load(); t != nil {
		return t
	}
	return emptyTable
}

// Primary returns the primary handlers for t in registration order. The
// result is never nil and may be modified by the caller.
func (r *Registry) Primary(t MessageType) []Descriptor {
	return clone(r.snapshot().primary[t])
}

// Confirm returns the cancel-confirmation handlers for t in registration
// order. The result is never nil and may be modified by the caller.
func (r *Registry) Confirm(t MessageType) []Descriptor {
	return clone(r.snapshot().confirm[t])
}

// Types returns every message type with at least one registered handler of
// either set.
func (r *Registry) Types() []MessageType {
	tab := r.snapshot()
	seen := make(map[MessageType]struct{}, len(tab.primary)+len(tab.confirm))
	types := make([]MessageType, 0, len(tab.primary)+len(tab.confirm))
	for _, m := range []map[MessageType][]Descriptor{tab.primary, tab.confirm} {
		for t := range m {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			types = append(types, t)
		}
	}
	return types
}

// Len returns the total number of registered handlers.
func (r *Registry) Len() int {
	tab := r.snapshot()
	n := 0
	for _, ds := range tab.primary {
		n += len(ds)
	}
	for _, ds := range tab.confirm {
		n += len(ds)
	}
	return n
}

// Clear removes every handler from both sets.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table.Store(emptyTable)
}

// add appends d to the set selected by d.Confirm.
func (r *Registry) add(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snapshot()
	next := &table{primary: cur.primary, confirm: cur.confirm}
	if d.Confirm {
		next.confirm = appendCopy(cur.confirm, d)
	} else {
		next.primary = appendCopy(cur.primary, d)
	}
	r.table.Store(next)
}

// appendCopy returns a copy of m with d appended to the list for d.Type. The
// list for d.Type is copied too; other lists are shared with m.
func appendCopy(m map[MessageType][]Descriptor, d Descriptor) map[MessageType][]Descriptor {
	out := make(map[MessageType][]Descriptor, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	list := make([]Descriptor, 0, len(m[d.Type])+1)
	list = append(list, m[d.Type]...)
	out[d.Type] = append(list, d)
	return out
}

func clone(ds []Descriptor) []Descriptor {
	if ds == nil {
		return []Descriptor{}
	}
	return slices.Clone(ds)
}
