package domain

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/errdefs"
	"github.com/jbweber/corral/internal/toolstack"
)

// Registry indexes every known domain by identity and by name.
type Registry struct {
	mu     sync.Mutex
	byUUID map[uuid.UUID]*Object
	byName map[string]*Object
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUUID: make(map[uuid.UUID]*Object),
		byName: make(map[string]*Object),
	}
}

// InsertOptions controls how Insert treats the new entry and conflicts.
type InsertOptions struct {
	// Persistent marks the new object persistent.
	Persistent bool

	// ReuseDefined lets an existing persistent, inactive domain with the
	// same identity and name be returned instead of failing. Define uses it
	// to replace the definition, CreateTransient to start the domain with a
	// live configuration.
	ReuseDefined bool
}

// Insert adds a domain built from def. A newly created Object is returned
// locked, before any other caller can reach it. When ReuseDefined matches
// an existing domain, that Object is returned unlocked with created false
// and session is left to the caller.
func (r *Registry) Insert(def *v1alpha1.Domain, session toolstack.Session, opts InsertOptions) (obj *Object, created bool, err error) {
	id, err := def.GetUUID()
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byUUID[id]; ok {
		switch {
		case existing.name != def.Name:
			return nil, false, fmt.Errorf("%w: domain %q already exists with uuid %s", errdefs.ErrDuplicateIdentity, existing.name, id)
		case existing.scanActive():
			return nil, false, fmt.Errorf("%w: domain %q is already active", errdefs.ErrDuplicateIdentity, existing.name)
		case !existing.persistent.Load():
			return nil, false, fmt.Errorf("%w: domain %q is being started", errdefs.ErrDuplicateIdentity, existing.name)
		case !opts.ReuseDefined:
			return nil, false, fmt.Errorf("%w: domain %q is already defined", errdefs.ErrDuplicateIdentity, existing.name)
		}
		return existing, false, nil
	}

	if existing, ok := r.byName[def.Name]; ok {
		return nil, false, fmt.Errorf("%w: domain %q already exists with uuid %s", errdefs.ErrDuplicateName, def.Name, existing.id)
	}

	obj = newObject(id, def, session, opts.Persistent)
	// The only domain lock taken under r.mu. obj is not yet reachable, so
	// this cannot wait.
	obj.Lock()
	r.byUUID[id] = obj
	r.byName[def.Name] = obj
	return obj, true, nil
}

// FindByUUID returns the domain with the given identity.
func (r *Registry) FindByUUID(id uuid.UUID) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.byUUID[id]
	if !ok {
		return nil, fmt.Errorf("%w: no domain with matching uuid %s", errdefs.ErrNotFound, id)
	}
	return obj, nil
}

// FindByName returns the domain with the given name.
func (r *Registry) FindByName(name string) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: no domain with matching name %q", errdefs.ErrNotFound, name)
	}
	return obj, nil
}

// FindByRuntimeID returns the active domain running as runtimeID.
func (r *Registry) FindByRuntimeID(runtimeID int) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, obj := range r.byUUID {
		if obj.scanActive() && obj.scanRuntimeID() == runtimeID {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("%w: no domain with matching id %d", errdefs.ErrNotFound, runtimeID)
}

// Remove drops obj from both indices and closes its toolstack session. The
// caller must hold obj's lock. The returned error is from closing the session.
func (r *Registry) Remove(obj *Object) error {
	r.mu.Lock()
	if r.byUUID[obj.id] == obj {
		delete(r.byUUID, obj.id)
	}
	if r.byName[obj.name] == obj {
		delete(r.byName, obj.name)
	}
	r.mu.Unlock()

	if obj.removed {
		return nil
	}
	obj.removed = true
	if obj.session == nil {
		return nil
	}
	return obj.session.Close()
}

// ListActiveIDs returns the runtime ids of active domains in ascending order.
func (r *Registry) ListActiveIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int
	for _, obj := range r.byUUID {
		if obj.scanActive() {
			ids = append(ids, obj.scanRuntimeID())
		}
	}
	slices.Sort(ids)
	return ids
}

// ListInactiveNames returns the names of inactive domains in sorted order.
func (r *Registry) ListInactiveNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name, obj := range r.byName {
		if !obj.scanActive() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Count returns the number of active domains, or of inactive ones.
func (r *Registry) Count(active bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, obj := range r.byUUID {
		if obj.scanActive() == active {
			n++
		}
	}
	return n
}

// All returns every registered object ordered by name. The caller locks
// each one individually.
func (r *Registry) All() []*Object {
	r.mu.Lock()
	defer r.mu.Unlock()

	objs := make([]*Object, 0, len(r.byUUID))
	for _, obj := range r.byUUID {
		objs = append(objs, obj)
	}
	slices.SortFunc(objs, func(a, b *Object) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})
	return objs
}
