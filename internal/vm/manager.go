package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/domain"
	"github.com/jbweber/corral/internal/errdefs"
	"github.com/jbweber/corral/internal/toolstack"
)

// metadataKey tags the definition stored with every instance this manager launches.
const metadataKey = "corral-domain"

// Options configures a Manager. Recorder and Log are optional.
type Options struct {
	Toolstack toolstack.Toolstack

	// Definitions holds persistent definitions. Statuses holds the running
	// configuration of active domains.
	Definitions DomainStore
	Statuses    DomainStore

	Ports    PortAllocator
	Events   Dispatcher
	Recorder Recorder
	Log      *zap.Logger
}

// Manager is the lifecycle driver context. All methods are safe for
// concurrent use once Init has returned.
type Manager struct {
	ts       toolstack.Toolstack
	defs     DomainStore
	statuses DomainStore
	ports    PortAllocator
	events   Dispatcher
	rec      Recorder
	log      *zap.Logger

	reg *domain.Registry
}

// NewManager creates a Manager with an empty registry.
func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.Toolstack == nil:
		return nil, errors.New("vm: toolstack is required")
	case opts.Definitions == nil || opts.Statuses == nil:
		return nil, errors.New("vm: definition and status stores are required")
	case opts.Ports == nil:
		return nil, errors.New("vm: port allocator is required")
	case opts.Events == nil:
		return nil, errors.New("vm: event dispatcher is required")
	}

	m := &Manager{
		ts:       opts.Toolstack,
		defs:     opts.Definitions,
		statuses: opts.Statuses,
		ports:    opts.Ports,
		events:   opts.Events,
		rec:      opts.Recorder,
		log:      opts.Log,
		reg:      domain.NewRegistry(),
	}
	if m.rec == nil {
		m.rec = nopRecorder{}
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	m.log = m.log.Named("vm")
	return m, nil
}

// Init populates the registry and reconciles it with the toolstack. Status
// files name the domains that were active when the last process exited;
// they are loaded first, as transient. Persistent definitions are loaded
// next and mark any matching entry persistent. Every entry then goes
// through the reconnect scan.
//
// Unreadable files are logged and skipped. An error is returned only when
// the toolstack cannot be reached at all.
func (m *Manager) Init(ctx context.Context) error {
	statuses, err := m.statuses.LoadAll()
	if err != nil {
		m.log.Warn("some status files could not be loaded", zap.Error(err))
	}
	for _, def := range statuses {
		if err := m.load(ctx, def, false); err != nil {
			m.unload()
			return err
		}
	}

	defs, err := m.defs.LoadAll()
	if err != nil {
		m.log.Warn("some definitions could not be loaded", zap.Error(err))
	}
	for _, def := range defs {
		if err := m.load(ctx, def, true); err != nil {
			m.unload()
			return err
		}
	}

	m.reconnectAll(ctx)

	m.log.Info("domains loaded",
		zap.Int("active", m.reg.Count(true)),
		zap.Int("inactive", m.reg.Count(false)))
	return nil
}

// load registers one domain read from disk.
func (m *Manager) load(ctx context.Context, def *v1alpha1.Domain, persistent bool) error {
	log := m.log.With(zap.String("domain", def.Name), zap.String("uuid", def.UID))

	id, err := def.GetUUID()
	if err != nil {
		log.Warn("skipping domain with invalid uuid", zap.Error(err))
		return nil
	}

	if obj, err := m.reg.FindByUUID(id); err == nil {
		obj.Lock()
		if persistent && obj.Name() == def.Name {
			// The status file holds the live configuration.
			obj.SetPersistent(true)
			obj.SetStoredDefinition(def)
		} else {
			log.Warn("skipping duplicate domain", zap.String("existing", obj.Name()))
		}
		obj.Unlock()
		return nil
	}

	session, err := m.ts.OpenSession(ctx, id, def.Name)
	if err != nil {
		return fmt.Errorf("failed to open toolstack session for %s: %w", def.Name, err)
	}

	obj, _, err := m.reg.Insert(def, session, domain.InsertOptions{Persistent: persistent})
	if err != nil {
		_ = session.Close()
		log.Warn("skipping domain", zap.Error(err))
		return nil
	}
	obj.Unlock()
	return nil
}

// unload drops every registered domain and closes its session.
func (m *Manager) unload() {
	for _, obj := range m.reg.All() {
		obj.Lock()
		m.remove(obj)
		obj.Unlock()
	}
}

// acquire returns the domain locked. The caller must Unlock it.
func (m *Manager) acquire(id uuid.UUID) (*domain.Object, error) {
	obj, err := m.reg.FindByUUID(id)
	if err != nil {
		return nil, err
	}
	obj.Lock()
	if obj.Removed() {
		obj.Unlock()
		return nil, fmt.Errorf("%w: domain %s was removed", errdefs.ErrNotFound, id)
	}
	return obj, nil
}

// remove drops a locked domain from the registry.
func (m *Manager) remove(obj *domain.Object) {
	if err := m.reg.Remove(obj); err != nil {
		m.log.Warn("failed to close toolstack session", zap.String("domain", obj.Name()), zap.Error(err))
	}
}

func toolstackErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", errdefs.ErrToolstack, op, err)
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", errdefs.ErrPersistence, op, err)
}

func invalidState(obj *domain.Object, format string, args ...any) error {
	return fmt.Errorf("%w: domain %s: %s", errdefs.ErrInvalidState, obj.Name(), fmt.Sprintf(format, args...))
}
