package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/errdefs"
	"github.com/jbweber/corral/internal/vm"
)

// call records one controller invocation.
type call struct {
	op     string
	id     uuid.UUID
	name   string
	paused bool
	force  bool
}

// fakeController keeps domains in memory and records every mutating call.
type fakeController struct {
	mu      sync.Mutex
	domains map[uuid.UUID]*v1alpha1.Domain
	calls   []call
	errs    map[string]error
}

func newFakeController() *fakeController {
	return &fakeController{domains: map[uuid.UUID]*v1alpha1.Domain{}, errs: map[string]error{}}
}

func (f *fakeController) add(name string, state v1alpha1.DomainState) *v1alpha1.Domain {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := v1alpha1.NewDomain(name)
	d.Status.State = state
	if state.IsActive() {
		d.Status.RuntimeID = len(f.domains) + 1
	}
	f.domains[uuid.MustParse(d.UID)] = d
	return d.DeepCopy()
}

func (f *fakeController) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeController) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeController) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.errs[c.op]
}

func (f *fakeController) CreateTransient(_ context.Context, def *v1alpha1.Domain, paused bool) (*v1alpha1.Domain, error) {
	if err := f.record(call{op: "create", name: def.Name, paused: paused}); err != nil {
		return nil, err
	}
	d := def.DeepCopy()
	d.Status.State = v1alpha1.DomainStateRunning
	if paused {
		d.Status.State = v1alpha1.DomainStatePaused
	}
	d.Status.RuntimeID = 7
	return d, nil
}

func (f *fakeController) Define(_ context.Context, def *v1alpha1.Domain) (*v1alpha1.Domain, error) {
	if err := f.record(call{op: "define", name: def.Name}); err != nil {
		return nil, err
	}
	d := def.DeepCopy()
	d.Status.Persistent = true
	return d, nil
}

func (f *fakeController) Start(_ context.Context, id uuid.UUID, paused bool) (*v1alpha1.Domain, error) {
	if err := f.record(call{op: "start", id: id, paused: paused}); err != nil {
		return nil, err
	}
	return f.LookupByUUID(id)
}

func (f *fakeController) Shutdown(_ context.Context, id uuid.UUID) error {
	return f.record(call{op: "shutdown", id: id})
}

func (f *fakeController) Reboot(_ context.Context, id uuid.UUID) error {
	return f.record(call{op: "reboot", id: id})
}

func (f *fakeController) Destroy(_ context.Context, id uuid.UUID, force bool) error {
	return f.record(call{op: "destroy", id: id, force: force})
}

func (f *fakeController) Undefine(_ context.Context, id uuid.UUID) error {
	return f.record(call{op: "undefine", id: id})
}

func (f *fakeController) Resume(_ context.Context, id uuid.UUID) (*v1alpha1.Domain, error) {
	if err := f.record(call{op: "resume", id: id}); err != nil {
		return nil, err
	}
	return f.LookupByUUID(id)
}

func (f *fakeController) Resolve(ref string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, err := uuid.Parse(ref); err == nil {
		if _, ok := f.domains[id]; ok {
			return id, nil
		}
	}
	for id, d := range f.domains {
		if d.Name == ref {
			return id, nil
		}
	}
	return uuid.Nil, fmt.Errorf("%w: no domain with matching name or uuid %q", errdefs.ErrNotFound, ref)
}

func (f *fakeController) LookupByUUID(id uuid.UUID) (*v1alpha1.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrNotFound, id)
	}
	return d.DeepCopy(), nil
}

func (f *fakeController) List() []*v1alpha1.Domain {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*v1alpha1.Domain, 0, len(f.domains))
	for _, d := range f.domains {
		out = append(out, d.DeepCopy())
	}
	return out
}

func (f *fakeController) GetInfo(_ context.Context, id uuid.UUID) (vm.Info, error) {
	d, err := f.LookupByUUID(id)
	if err != nil {
		return vm.Info{}, err
	}
	return vm.Info{
		Name:      d.Name,
		UUID:      id,
		State:     d.Status.State,
		RuntimeID: d.Status.RuntimeID,
		MaxMemKiB: uint64(d.Spec.MemoryMiB) * 1024,
		VCPUs:     d.Spec.VCPUs,
	}, nil
}

func (f *fakeController) DumpDefinition(id uuid.UUID) ([]byte, error) {
	d, err := f.LookupByUUID(id)
	if err != nil {
		return nil, err
	}
	return []byte("metadata:\n  name: " + d.Name + "\n"), nil
}

const manifest = `apiVersion: corral.jbweber.dev/v1alpha1
kind: Domain
metadata:
  name: web-01
spec:
  vcpus: 2
  memoryMiB: 1024
`
