package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/domain"
	"github.com/jbweber/corral/internal/errdefs"
	"github.com/jbweber/corral/internal/toolstack"
)

// Info is a point-in-time view of a domain's resources.
type Info struct {
	Name      string               `json:"name"`
	UUID      uuid.UUID            `json:"uuid"`
	State     v1alpha1.DomainState `json:"state"`
	RuntimeID int                  `json:"runtimeID"`
	MaxMemKiB uint64               `json:"maxMemKiB"`
	MemoryKiB uint64               `json:"memoryKiB"`
	VCPUs     int                  `json:"vcpus"`
	CPUTimeNs uint64               `json:"cpuTimeNs"`
}

// LookupByUUID returns a snapshot of the domain with the given identity.
func (m *Manager) LookupByUUID(id uuid.UUID) (*v1alpha1.Domain, error) {
	return m.snapshot(m.reg.FindByUUID(id))
}

// LookupByName returns a snapshot of the domain with the given name.
func (m *Manager) LookupByName(name string) (*v1alpha1.Domain, error) {
	return m.snapshot(m.reg.FindByName(name))
}

// LookupByRuntimeID returns a snapshot of the active domain running as runtimeID.
func (m *Manager) LookupByRuntimeID(runtimeID int) (*v1alpha1.Domain, error) {
	obj, err := m.reg.FindByRuntimeID(runtimeID)
	if err != nil {
		return nil, err
	}
	obj.Lock()
	defer obj.Unlock()

	if obj.Removed() || !obj.IsActive() || obj.RuntimeID() != runtimeID {
		return nil, fmt.Errorf("%w: no domain with matching id %d", errdefs.ErrNotFound, runtimeID)
	}
	return obj.Snapshot(), nil
}

// Resolve maps a name or UUID string to a domain identity.
func (m *Manager) Resolve(ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		if _, err := m.reg.FindByUUID(id); err == nil {
			return id, nil
		}
	}
	obj, err := m.reg.FindByName(ref)
	if err != nil {
		return uuid.Nil, err
	}
	return obj.UUID(), nil
}

// ListActive returns the runtime ids of active domains.
func (m *Manager) ListActive() []int { return m.reg.ListActiveIDs() }

// ListInactiveNames returns the names of inactive domains.
func (m *Manager) ListInactiveNames() []string { return m.reg.ListInactiveNames() }

// CountActive returns the number of active domains.
func (m *Manager) CountActive() int { return m.reg.Count(true) }

// CountInactive returns the number of inactive domains.
func (m *Manager) CountInactive() int { return m.reg.Count(false) }

// List returns snapshots of every domain ordered by name.
func (m *Manager) List() []*v1alpha1.Domain {
	objs := m.reg.All()
	out := make([]*v1alpha1.Domain, 0, len(objs))
	for _, obj := range objs {
		obj.Lock()
		if !obj.Removed() {
			out = append(out, obj.Snapshot())
		}
		obj.Unlock()
	}
	return out
}

// GetInfo reports live resource usage for an active domain and the
// configured values for an inactive one.
func (m *Manager) GetInfo(ctx context.Context, id uuid.UUID) (Info, error) {
	obj, err := m.acquire(id)
	if err != nil {
		return Info{}, err
	}
	defer obj.Unlock()

	def := obj.Definition()
	info := Info{
		Name:      obj.Name(),
		UUID:      obj.UUID(),
		State:     obj.State(),
		RuntimeID: obj.RuntimeID(),
		MaxMemKiB: uint64(def.Spec.MemoryMiB) * 1024,
		VCPUs:     def.Spec.VCPUs,
	}
	if !obj.IsActive() {
		return info, nil
	}

	live, err := obj.Session().QueryInfo(ctx, obj.RuntimeID())
	if err != nil {
		if errors.Is(err, toolstack.ErrInstanceNotFound) {
			return Info{}, fmt.Errorf("%w: %w", errdefs.ErrNotFound, err)
		}
		return Info{}, toolstackErr("query info", err)
	}
	info.MaxMemKiB = live.MaxMemKiB
	info.MemoryKiB = live.MemoryKiB
	info.VCPUs = live.VCPUs
	info.CPUTimeNs = live.CPUTimeNs
	return info, nil
}

// DumpDefinition returns the domain serialized the way it is stored.
func (m *Manager) DumpDefinition(id uuid.UUID) ([]byte, error) {
	d, err := m.LookupByUUID(id)
	if err != nil {
		return nil, err
	}
	return m.defs.Serialize(d)
}

// IsActive reports whether the domain is Running or Paused.
func (m *Manager) IsActive(id uuid.UUID) (bool, error) {
	d, err := m.LookupByUUID(id)
	if err != nil {
		return false, err
	}
	return d.Status.State.IsActive(), nil
}

// IsPersistent reports whether the domain has a stored definition.
func (m *Manager) IsPersistent(id uuid.UUID) (bool, error) {
	d, err := m.LookupByUUID(id)
	if err != nil {
		return false, err
	}
	return d.Status.Persistent, nil
}

func (m *Manager) snapshot(obj *domain.Object, err error) (*v1alpha1.Domain, error) {
	if err != nil {
		return nil, err
	}
	obj.Lock()
	defer obj.Unlock()

	if obj.Removed() {
		return nil, fmt.Errorf("%w: domain %s was removed", errdefs.ErrNotFound, obj.UUID())
	}
	return obj.Snapshot(), nil
}
