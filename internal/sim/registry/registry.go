package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"worldhost.ai/internal/sim/worldinfo"
)

var ErrAlreadyRegistered = errors.New("already registered")

// Entry is the view of a live world the registry indexes on.
type Entry interface {
	ID() uuid.UUID
	Name() string
	Slot() int32
}

// Registry indexes worlds in two tiers: properties of every world known to the
// process, loaded or not, and the live handles of loaded worlds.
type Registry[H Entry] struct {
	mu sync.RWMutex

	props       map[uuid.UUID]*worldinfo.Record
	propsByName map[string]uuid.UUID

	byID   map[uuid.UUID]H
	byName map[string]H
	bySlot map[int32]H
}

func New[H Entry]() *Registry[H] {
	return &Registry[H]{
		props:       make(map[uuid.UUID]*worldinfo.Record),
		propsByName: make(map[string]uuid.UUID),
		byID:        make(map[uuid.UUID]H),
		byName:      make(map[string]H),
		bySlot:      make(map[int32]H),
	}
}

// PutProperties publishes rec as the known properties of its world. rec must
// not be mutated afterwards.
func (r *Registry[H]) PutProperties(rec *worldinfo.Record) {
	if rec == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.props[rec.UniqueID]; ok && old.Name != rec.Name {
		if r.propsByName[old.Name] == rec.UniqueID {
			delete(r.propsByName, old.Name)
		}
	}
	r.props[rec.UniqueID] = rec
	r.propsByName[rec.Name] = rec.UniqueID
}

func (r *Registry[H]) Properties(id uuid.UUID) (*worldinfo.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.props[id]
	return rec, ok
}

func (r *Registry[H]) PropertiesByName(name string) (*worldinfo.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.propsByName[name]
	if !ok {
		return nil, false
	}
	rec, ok := r.props[id]
	return rec, ok
}

// FolderOf returns the storage name last known for id.
func (r *Registry[H]) FolderOf(id uuid.UUID) (string, bool) {
	rec, ok := r.Properties(id)
	if !ok {
		return "", false
	}
	return rec.Name, true
}

// AllProperties returns the known records sorted by name.
func (r *Registry[H]) AllProperties() []*worldinfo.Record {
	r.mu.RLock()
	out := make([]*worldinfo.Record, 0, len(r.props))
	for _, rec := range r.props {
		out = append(out, rec)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Register adds a live handle. It fails if the id, name or slot already maps to
// a different handle; re-registering the same handle is a no-op.
func (r *Registry[H]) Register(h H) error {
	id, name, slot := h.ID(), h.Name(), h.Slot()

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID[id]; ok {
		if same(cur, h) {
			return nil
		}
		return fmt.Errorf("%w: id %s held by %q", ErrAlreadyRegistered, id, cur.Name())
	}
	if cur, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: name %q held by %s", ErrAlreadyRegistered, name, cur.ID())
	}
	if cur, ok := r.bySlot[slot]; ok {
		return fmt.Errorf("%w: slot %d held by %q", ErrAlreadyRegistered, slot, cur.Name())
	}
	r.byID[id] = h
	r.byName[name] = h
	r.bySlot[slot] = h
	return nil
}

// Unregister removes the live handle for id, if any.
func (r *Registry[H]) Unregister(id uuid.UUID) (H, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	if !ok {
		var zero H
		return zero, false
	}
	delete(r.byID, id)
	if cur, ok := r.byName[h.Name()]; ok && same(cur, h) {
		delete(r.byName, h.Name())
	}
	if cur, ok := r.bySlot[h.Slot()]; ok && same(cur, h) {
		delete(r.bySlot, h.Slot())
	}
	return h, true
}

func (r *Registry[H]) LookupByID(id uuid.UUID) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

func (r *Registry[H]) LookupByName(name string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

func (r *Registry[H]) LookupBySlot(slot int32) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.bySlot[slot]
	return h, ok
}

// All returns a snapshot of the live handles ordered by slot.
func (r *Registry[H]) All() []H {
	r.mu.RLock()
	out := make([]H, 0, len(r.byID))
	for _, h := range r.byID {
		out = append(out, h)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slot() < out[j].Slot() })
	return out
}

func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry[H]) KnownLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.props)
}

func same[H Entry](a, b H) bool {
	return any(a) == any(b)
}
