package libvirt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/errdefs"
	"github.com/jbweber/corral/internal/metadata"
	"github.com/jbweber/corral/internal/toolstack"
)

// API is the part of go-libvirt the toolstack binding drives.
// *libvirt.Libvirt satisfies it.
type API interface {
	metadata.Client
	StorageAPI

	DomainCreateXML(XMLDesc string, Flags libvirt.DomainCreateFlags) (libvirt.Domain, error)
	DomainResume(Dom libvirt.Domain) error
	DomainDestroyFlags(Dom libvirt.Domain, Flags libvirt.DomainDestroyFlagsValues) error
	DomainShutdown(Dom libvirt.Domain) error
	DomainGetInfo(Dom libvirt.Domain) (rState uint8, rMaxMem uint64, rMemory uint64, rNrVirtCPU uint16, rCPUTime uint64, err error)
	DomainLookupByID(ID int32) (libvirt.Domain, error)
	DomainLookupByUUID(UUID libvirt.UUID) (libvirt.Domain, error)
	LifecycleEvents(ctx context.Context) (<-chan libvirt.DomainEventLifecycleMsg, error)
}

// Toolstack implements toolstack.Toolstack on one libvirt connection.
// Run must be running for death subscriptions to fire.
type Toolstack struct {
	api API
	log *zap.Logger

	mu      sync.Mutex
	waiters map[uuid.UUID]*deathWaiter
	reboots map[uuid.UUID]bool
}

var _ toolstack.Toolstack = (*Toolstack)(nil)

// NewToolstack wraps api. A nil logger discards output.
func NewToolstack(api API, log *zap.Logger) *Toolstack {
	if log == nil {
		log = zap.NewNop()
	}
	return &Toolstack{
		api:     api,
		log:     log.Named("libvirt"),
		waiters: make(map[uuid.UUID]*deathWaiter),
		reboots: make(map[uuid.UUID]bool),
	}
}

// OpenSession returns the session for one domain.
func (t *Toolstack) OpenSession(ctx context.Context, id uuid.UUID, name string) (toolstack.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{ts: t, id: id, name: name}, nil
}

// Run pumps libvirt lifecycle events into death subscriptions until ctx is
// done. It returns an error if the event stream ends while ctx is live,
// which means the connection was lost.
func (t *Toolstack) Run(ctx context.Context) error {
	events, err := t.api.LifecycleEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: lifecycle event stream closed", toolstack.ErrConnectionLost)
			}
			t.deliver(msg)
		}
	}
}

func (t *Toolstack) deliver(msg libvirt.DomainEventLifecycleMsg) {
	id := uuid.UUID(msg.Dom.UUID)

	t.mu.Lock()
	w := t.waiters[id]
	ev := toolstack.Event{Kind: toolstack.EventOther}
	if libvirt.DomainEventType(msg.Event) == libvirt.DomainEventStopped {
		ev.Kind = toolstack.EventDeath
		ev.Reason = stopReason(libvirt.DomainEventStoppedDetailType(msg.Detail), t.reboots[id])
		delete(t.reboots, id)
	}
	t.mu.Unlock()

	log := t.log.With(zap.String("domain", msg.Dom.Name), zap.Int32("event", msg.Event), zap.Int32("detail", msg.Detail))
	if w == nil {
		log.Debug("lifecycle event for unwatched domain")
		return
	}

	ev.RuntimeID = w.runtimeID
	log.Debug("lifecycle event", zap.Stringer("reason", ev.Reason))
	w.push(ev)
}

func stopReason(detail libvirt.DomainEventStoppedDetailType, rebootPending bool) toolstack.ShutdownReason {
	switch detail {
	case libvirt.DomainEventStoppedShutdown, libvirt.DomainEventStoppedDestroyed:
		if rebootPending {
			return toolstack.ReasonReboot
		}
		return toolstack.ReasonPoweroff
	case libvirt.DomainEventStoppedCrashed, libvirt.DomainEventStoppedFailed:
		return toolstack.ReasonCrash
	case libvirt.DomainEventStoppedSaved:
		return toolstack.ReasonSuspend
	default:
		return toolstack.ReasonHalt
	}
}

func (t *Toolstack) setReboot(id uuid.UUID, pending bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pending {
		t.reboots[id] = true
	} else {
		delete(t.reboots, id)
	}
}

// session is the toolstack context of one domain, keyed by its uuid.
type session struct {
	ts   *Toolstack
	id   uuid.UUID
	name string

	mu     sync.Mutex
	closed bool
}

var _ toolstack.Session = (*session)(nil)

var errSessionClosed = errors.New("toolstack session closed")

func (s *session) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	return nil
}

// lookup resolves runtimeID and confirms it still belongs to this domain.
func (s *session) lookup(runtimeID int) (libvirt.Domain, error) {
	dom, err := s.ts.api.DomainLookupByID(int32(runtimeID))
	if err != nil {
		if libvirt.IsNotFound(err) {
			return dom, fmt.Errorf("%w: id %d", toolstack.ErrInstanceNotFound, runtimeID)
		}
		return dom, fmt.Errorf("failed to look up domain id %d: %w", runtimeID, err)
	}
	if uuid.UUID(dom.UUID) != s.id {
		return dom, fmt.Errorf("%w: id %d now belongs to %s", toolstack.ErrInstanceNotFound, runtimeID, dom.Name)
	}
	return dom, nil
}

func notFound(err error, runtimeID int) error {
	if libvirt.IsNotFound(err) {
		return fmt.Errorf("%w: id %d", toolstack.ErrInstanceNotFound, runtimeID)
	}
	return err
}

func (s *session) CreateInstance(ctx context.Context, def *v1alpha1.Domain) (int, error) {
	if err := s.check(ctx); err != nil {
		return -1, err
	}

	if err := checkVolumes(s.ts.api, def); err != nil {
		return -1, err
	}
	xml, err := GenerateDomainXML(def)
	if err != nil {
		return -1, err
	}

	dom, err := s.ts.api.DomainCreateXML(xml, libvirt.DomainStartPaused)
	if err != nil {
		return -1, fmt.Errorf("failed to create domain %s: %w", s.name, err)
	}
	if dom.ID <= 0 {
		return -1, fmt.Errorf("%w: libvirt returned invalid id %d for %s", errdefs.ErrMalformedResponse, dom.ID, s.name)
	}

	s.ts.log.Debug("created paused instance", zap.String("domain", s.name), zap.Int32("id", dom.ID))
	return int(dom.ID), nil
}

func (s *session) Unpause(ctx context.Context, runtimeID int) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	dom, err := s.lookup(runtimeID)
	if err != nil {
		return err
	}
	if err := s.ts.api.DomainResume(dom); err != nil {
		return fmt.Errorf("failed to resume domain %s: %w", s.name, notFound(err, runtimeID))
	}
	return nil
}

func (s *session) DestroyInstance(ctx context.Context, runtimeID int, force bool) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	dom, err := s.lookup(runtimeID)
	if err != nil {
		return err
	}

	flags := libvirt.DomainDestroyGraceful
	if force {
		flags = libvirt.DomainDestroyDefault
	}
	if err := s.ts.api.DomainDestroyFlags(dom, flags); err != nil {
		return fmt.Errorf("failed to destroy domain %s: %w", s.name, notFound(err, runtimeID))
	}
	return nil
}

// RequestShutdown asks the guest to power off. A reboot request is a
// shutdown whose stop event is reported with ReasonReboot.
func (s *session) RequestShutdown(ctx context.Context, runtimeID int, reason toolstack.ShutdownReason) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	dom, err := s.lookup(runtimeID)
	if err != nil {
		return err
	}

	s.ts.setReboot(s.id, reason == toolstack.ReasonReboot)
	if err := s.ts.api.DomainShutdown(dom); err != nil {
		s.ts.setReboot(s.id, false)
		return fmt.Errorf("failed to request %s of %s: %w", reason, s.name, notFound(err, runtimeID))
	}
	return nil
}

func (s *session) QueryInfo(ctx context.Context, runtimeID int) (toolstack.InstanceInfo, error) {
	if err := s.check(ctx); err != nil {
		return toolstack.InstanceInfo{}, err
	}
	dom, err := s.lookup(runtimeID)
	if err != nil {
		return toolstack.InstanceInfo{}, err
	}
	return s.info(dom)
}

func (s *session) info(dom libvirt.Domain) (toolstack.InstanceInfo, error) {
	state, maxMem, mem, vcpus, cpuTime, err := s.ts.api.DomainGetInfo(dom)
	if err != nil {
		return toolstack.InstanceInfo{}, fmt.Errorf("failed to get info for %s: %w", s.name, notFound(err, int(dom.ID)))
	}
	return toolstack.InstanceInfo{
		RuntimeID: int(dom.ID),
		UUID:      uuid.UUID(dom.UUID),
		Name:      dom.Name,
		Paused:    libvirt.DomainState(state) == libvirt.DomainPaused,
		MaxMemKiB: maxMem,
		MemoryKiB: mem,
		VCPUs:     int(vcpus),
		CPUTimeNs: cpuTime,
	}, nil
}

func (s *session) LookupInstance(ctx context.Context) (toolstack.InstanceInfo, error) {
	if err := s.check(ctx); err != nil {
		return toolstack.InstanceInfo{}, err
	}
	dom, err := s.ts.api.DomainLookupByUUID(libvirt.UUID(s.id))
	if err != nil {
		if libvirt.IsNotFound(err) {
			return toolstack.InstanceInfo{}, fmt.Errorf("%w: uuid %s", toolstack.ErrInstanceNotFound, s.id)
		}
		return toolstack.InstanceInfo{}, fmt.Errorf("failed to look up domain %s: %w", s.id, err)
	}
	if dom.ID <= 0 {
		return toolstack.InstanceInfo{}, fmt.Errorf("%w: %s is not running", toolstack.ErrInstanceNotFound, dom.Name)
	}
	return s.info(dom)
}

func (s *session) StoreMetadata(ctx context.Context, runtimeID int, key string, data []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	dom, err := s.lookup(runtimeID)
	if err != nil {
		return err
	}
	return metadata.Store(s.ts.api, dom, key, data)
}

func (s *session) RetrieveMetadata(ctx context.Context, runtimeID int, key string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	dom, err := s.lookup(runtimeID)
	if err != nil {
		return nil, err
	}
	return metadata.Load(s.ts.api, dom, key)
}

func (s *session) SubscribeDeath(ctx context.Context, runtimeID int) (toolstack.DeathWaiter, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	w := &deathWaiter{runtimeID: runtimeID, ready: make(chan struct{}, 1)}
	s.ts.mu.Lock()
	s.ts.waiters[s.id] = w
	s.ts.mu.Unlock()
	return w, nil
}

func (s *session) Unsubscribe(w toolstack.DeathWaiter) {
	s.ts.mu.Lock()
	defer s.ts.mu.Unlock()
	if cur, ok := s.ts.waiters[s.id]; ok && toolstack.DeathWaiter(cur) == w {
		delete(s.ts.waiters, s.id)
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.ts.mu.Lock()
	delete(s.ts.waiters, s.id)
	delete(s.ts.reboots, s.id)
	s.ts.mu.Unlock()
	return nil
}

// deathWaiter queues events for one runtime instance. Ready holds at most
// one token; Next re-arms it while events remain.
type deathWaiter struct {
	runtimeID int
	ready     chan struct{}

	mu    sync.Mutex
	queue []toolstack.Event
}

var errNoEvent = errors.New("no pending event")

func (w *deathWaiter) Ready() <-chan struct{} { return w.ready }

func (w *deathWaiter) Next() (toolstack.Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) == 0 {
		return toolstack.Event{}, errNoEvent
	}
	ev := w.queue[0]
	w.queue = w.queue[1:]
	if len(w.queue) > 0 {
		w.signal()
	}
	return ev, nil
}

func (w *deathWaiter) push(ev toolstack.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, ev)
	w.signal()
}

func (w *deathWaiter) signal() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}
