package vm

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/events"
	"github.com/jbweber/corral/internal/loader"
	"github.com/jbweber/corral/internal/portpool"
	"github.com/jbweber/corral/internal/toolstack"
)

// fakeToolstack is an in-memory hypervisor. Instances start paused, the way
// CreateInstance is specified.
type fakeToolstack struct {
	mu sync.Mutex

	nextID    int
	instances map[int]*fakeInstance
	waiters   map[int]*fakeWaiter
	open      int

	// Configurable behavior
	createErr   error
	unpauseErr  error
	destroyErr  error
	shutdownErr error
	storeErr    error

	// openErr is returned once openErrAt sessions are open.
	openErr   error
	openErrAt int

	// Call tracking
	destroyCalls  []destroyCall
	shutdownCalls []shutdownCall
}

type fakeInstance struct {
	id       uuid.UUID
	name     string
	paused   bool
	vcpus    int
	memKiB   uint64
	metadata map[string][]byte
}

type destroyCall struct {
	runtimeID int
	force     bool
}

type shutdownCall struct {
	runtimeID int
	reason    toolstack.ShutdownReason
}

func newFakeToolstack() *fakeToolstack {
	return &fakeToolstack{
		nextID:    1,
		instances: make(map[int]*fakeInstance),
		waiters:   make(map[int]*fakeWaiter),
	}
}

func (f *fakeToolstack) OpenSession(ctx context.Context, id uuid.UUID, name string) (toolstack.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil && f.open >= f.openErrAt {
		return nil, f.openErr
	}
	f.open++
	return &fakeSession{ts: f, id: id, name: name}, nil
}

// plant registers a running instance that no session created.
func (f *fakeToolstack) plant(id uuid.UUID, name string, metadata map[string][]byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	rid := f.nextID
	f.nextID++
	f.instances[rid] = &fakeInstance{id: id, name: name, vcpus: 1, memKiB: 524288, metadata: metadata}
	return rid
}

// kill removes the instance and reports its death.
func (f *fakeToolstack) kill(runtimeID int, reason toolstack.ShutdownReason) {
	f.mu.Lock()
	delete(f.instances, runtimeID)
	f.mu.Unlock()
	f.notify(runtimeID, toolstack.Event{Kind: toolstack.EventDeath, RuntimeID: runtimeID, Reason: reason})
}

// notify delivers ev to the waiter watching runtimeID, if any.
func (f *fakeToolstack) notify(runtimeID int, ev toolstack.Event) {
	f.mu.Lock()
	w := f.waiters[runtimeID]
	f.mu.Unlock()
	if w != nil {
		w.push(ev)
	}
}

func (f *fakeToolstack) instance(runtimeID int) (fakeInstance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[runtimeID]
	if !ok {
		return fakeInstance{}, false
	}
	return *inst, true
}

func (f *fakeToolstack) instanceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

func (f *fakeToolstack) openSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeToolstack) destroys() []destroyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]destroyCall(nil), f.destroyCalls...)
}

func (f *fakeToolstack) shutdowns() []shutdownCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shutdownCall(nil), f.shutdownCalls...)
}

func (f *fakeToolstack) setErr(target *error, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*target = err
}

type fakeSession struct {
	ts     *fakeToolstack
	id     uuid.UUID
	name   string
	closed bool
}

// lookup returns the instance, which must belong to the session. Caller holds ts.mu.
func (s *fakeSession) lookup(runtimeID int) (*fakeInstance, error) {
	inst, ok := s.ts.instances[runtimeID]
	if !ok || inst.id != s.id {
		return nil, toolstack.ErrInstanceNotFound
	}
	return inst, nil
}

func (s *fakeSession) CreateInstance(ctx context.Context, def *v1alpha1.Domain) (int, error) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if s.ts.createErr != nil {
		return 0, s.ts.createErr
	}
	rid := s.ts.nextID
	s.ts.nextID++
	s.ts.instances[rid] = &fakeInstance{
		id:       s.id,
		name:     s.name,
		paused:   true,
		vcpus:    def.Spec.VCPUs,
		memKiB:   uint64(def.Spec.MemoryMiB) * 1024,
		metadata: make(map[string][]byte),
	}
	return rid, nil
}

func (s *fakeSession) Unpause(ctx context.Context, runtimeID int) error {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if s.ts.unpauseErr != nil {
		return s.ts.unpauseErr
	}
	inst, err := s.lookup(runtimeID)
	if err != nil {
		return err
	}
	inst.paused = false
	return nil
}

func (s *fakeSession) DestroyInstance(ctx context.Context, runtimeID int, force bool) error {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	s.ts.destroyCalls = append(s.ts.destroyCalls, destroyCall{runtimeID: runtimeID, force: force})
	if s.ts.destroyErr != nil {
		return s.ts.destroyErr
	}
	if _, err := s.lookup(runtimeID); err != nil {
		return err
	}
	delete(s.ts.instances, runtimeID)
	return nil
}

func (s *fakeSession) RequestShutdown(ctx context.Context, runtimeID int, reason toolstack.ShutdownReason) error {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	s.ts.shutdownCalls = append(s.ts.shutdownCalls, shutdownCall{runtimeID: runtimeID, reason: reason})
	if s.ts.shutdownErr != nil {
		return s.ts.shutdownErr
	}
	_, err := s.lookup(runtimeID)
	return err
}

func (s *fakeSession) QueryInfo(ctx context.Context, runtimeID int) (toolstack.InstanceInfo, error) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	inst, err := s.lookup(runtimeID)
	if err != nil {
		return toolstack.InstanceInfo{}, err
	}
	return info(runtimeID, inst), nil
}

func (s *fakeSession) LookupInstance(ctx context.Context) (toolstack.InstanceInfo, error) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	for rid, inst := range s.ts.instances {
		if inst.id == s.id {
			return info(rid, inst), nil
		}
	}
	return toolstack.InstanceInfo{}, toolstack.ErrInstanceNotFound
}

func info(runtimeID int, inst *fakeInstance) toolstack.InstanceInfo {
	return toolstack.InstanceInfo{
		RuntimeID: runtimeID,
		UUID:      inst.id,
		Name:      inst.name,
		Paused:    inst.paused,
		MaxMemKiB: inst.memKiB,
		MemoryKiB: inst.memKiB,
		VCPUs:     inst.vcpus,
		CPUTimeNs: 42,
	}
}

func (s *fakeSession) StoreMetadata(ctx context.Context, runtimeID int, key string, data []byte) error {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if s.ts.storeErr != nil {
		return s.ts.storeErr
	}
	inst, err := s.lookup(runtimeID)
	if err != nil {
		return err
	}
	if inst.metadata == nil {
		inst.metadata = make(map[string][]byte)
	}
	inst.metadata[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeSession) RetrieveMetadata(ctx context.Context, runtimeID int, key string) ([]byte, error) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	inst, err := s.lookup(runtimeID)
	if err != nil {
		return nil, err
	}
	data, ok := inst.metadata[key]
	if !ok {
		return nil, errors.New("metadata not found")
	}
	return data, nil
}

func (s *fakeSession) SubscribeDeath(ctx context.Context, runtimeID int) (toolstack.DeathWaiter, error) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	w := &fakeWaiter{runtimeID: runtimeID, ready: make(chan struct{}, 1)}
	s.ts.waiters[runtimeID] = w
	return w, nil
}

func (s *fakeSession) Unsubscribe(w toolstack.DeathWaiter) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	fw := w.(*fakeWaiter)
	if s.ts.waiters[fw.runtimeID] == fw {
		delete(s.ts.waiters, fw.runtimeID)
	}
}

func (s *fakeSession) Close() error {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.ts.open--
	}
	return nil
}

type fakeWaiter struct {
	runtimeID int
	ready     chan struct{}

	mu    sync.Mutex
	queue []toolstack.Event
}

func (w *fakeWaiter) Ready() <-chan struct{} { return w.ready }

func (w *fakeWaiter) Next() (toolstack.Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return toolstack.Event{}, errors.New("no event")
	}
	ev := w.queue[0]
	w.queue = w.queue[1:]
	if len(w.queue) > 0 {
		w.signal()
	}
	return ev, nil
}

func (w *fakeWaiter) push(ev toolstack.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, ev)
	w.signal()
}

func (w *fakeWaiter) signal() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// fakeRecorder counts observations.
type fakeRecorder struct {
	mu     sync.Mutex
	ops    map[string]int
	deaths map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{ops: make(map[string]int), deaths: make(map[string]int)}
}

func (r *fakeRecorder) ObserveOperation(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "success"
	if err != nil {
		result = "error"
	}
	r.ops[op+"/"+result]++
}

func (r *fakeRecorder) ObserveDeath(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deaths[reason]++
}

func (r *fakeRecorder) snapshot() (map[string]int, map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.ops), maps.Clone(r.deaths)
}

// harness is a manager wired to the fake toolstack, file stores under a
// temporary directory, a real port pool and a running dispatcher.
type harness struct {
	t        *testing.T
	ts       *fakeToolstack
	defs     *loader.Store
	statuses *loader.Store
	ports    *portpool.Pool
	rec      *fakeRecorder
	mgr      *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:        t,
		ts:       newFakeToolstack(),
		defs:     loader.NewStore(dir + "/domains"),
		statuses: loader.NewStore(dir + "/run"),
	}
	require.NoError(t, h.defs.Ensure())
	require.NoError(t, h.statuses.Ensure())
	h.mgr = h.restart()
	return h
}

// restart builds a fresh manager over the same stores and toolstack, the
// way a new process would, and runs Init.
func (h *harness) restart() *Manager {
	h.t.Helper()
	mgr := h.newManager()
	require.NoError(h.t, mgr.Init(context.Background()))
	h.mgr = mgr
	return mgr
}

// newManager builds a manager over the harness stores without loading them.
func (h *harness) newManager() *Manager {
	h.t.Helper()

	ports, err := portpool.New(5900, 5902)
	require.NoError(h.t, err)
	h.ports = ports
	h.rec = newFakeRecorder()

	dispatcher := events.NewDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatcher.Run(ctx)
	}()
	h.t.Cleanup(func() {
		cancel()
		<-done
	})

	mgr, err := NewManager(Options{
		Toolstack:   h.ts,
		Definitions: h.defs,
		Statuses:    h.statuses,
		Ports:       ports,
		Events:      dispatcher,
		Recorder:    h.rec,
	})
	require.NoError(h.t, err)
	return mgr
}

func testDomain(name string) *v1alpha1.Domain {
	d := v1alpha1.NewDomain(name)
	d.Spec.Disks = []v1alpha1.DiskSpec{{Device: "vda", Path: "/var/lib/corral/" + name + ".qcow2", Format: "qcow2"}}
	return d
}

func autoPortDomain(name string) *v1alpha1.Domain {
	d := testDomain(name)
	d.Spec.Graphics = &v1alpha1.GraphicsSpec{Type: v1alpha1.GraphicsVNC, AutoPort: true}
	return d
}

// eventually waits for the domain to satisfy cond.
func (h *harness) eventually(id uuid.UUID, cond func(d *v1alpha1.Domain, err error) bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		d, err := h.mgr.LookupByUUID(id)
		return cond(d, err)
	}, 2*time.Second, 5*time.Millisecond)
}

func mustUUID(t *testing.T, d *v1alpha1.Domain) uuid.UUID {
	t.Helper()
	id, err := d.GetUUID()
	require.NoError(t, err)
	return id
}

// requireConsistent checks that a domain is inactive exactly when it has no runtime id.
func requireConsistent(t *testing.T, d *v1alpha1.Domain) {
	t.Helper()
	require.Equal(t, d.Status.State == v1alpha1.DomainStateInactive, d.Status.RuntimeID == -1,
		"state %s with runtime id %d", d.Status.State, d.Status.RuntimeID)
}
