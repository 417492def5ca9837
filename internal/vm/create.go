package vm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/domain"
	"github.com/jbweber/corral/internal/errdefs"
)

// CreateTransient registers def and starts it. The domain leaves the
// registry as soon as it stops. If the start fails nothing stays registered.
//
// When def names an inactive persistent domain, that domain is started with
// def as its live configuration instead. It stays persistent, and its stored
// definition applies again once it stops or if the start fails.
func (m *Manager) CreateTransient(ctx context.Context, def *v1alpha1.Domain, paused bool) (_ *v1alpha1.Domain, err error) {
	defer func() { m.rec.ObserveOperation("create", err) }()

	id, err := def.GetUUID()
	if err != nil {
		return nil, err
	}

	session, err := m.ts.OpenSession(ctx, id, def.Name)
	if err != nil {
		return nil, toolstackErr("open session", err)
	}

	obj, created, err := m.reg.Insert(def, session, domain.InsertOptions{ReuseDefined: true})
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	if !created {
		_ = session.Close()
		return m.startLive(ctx, obj, def, paused)
	}
	defer obj.Unlock()

	if err := m.start(ctx, obj, paused); err != nil {
		m.remove(obj)
		return nil, err
	}
	return obj.Snapshot(), nil
}

// startLive starts the defined domain obj with def as its live configuration.
func (m *Manager) startLive(ctx context.Context, obj *domain.Object, def *v1alpha1.Domain, paused bool) (*v1alpha1.Domain, error) {
	obj.Lock()
	defer obj.Unlock()

	if obj.Removed() {
		return nil, fmt.Errorf("%w: domain %s was removed", errdefs.ErrNotFound, obj.UUID())
	}
	if obj.IsActive() {
		return nil, fmt.Errorf("%w: domain %q is already active", errdefs.ErrDuplicateIdentity, obj.Name())
	}

	if err := obj.SetLiveDefinition(def); err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrInvalidState, err)
	}
	if err := m.start(ctx, obj, paused); err != nil {
		obj.RestoreDefinition()
		return nil, err
	}

	m.log.Info("defined domain started with live configuration", zap.String("domain", obj.Name()))
	return obj.Snapshot(), nil
}

// Define stores def as a persistent, inactive domain. Defining an existing
// inactive persistent domain with the same name and uuid replaces its
// definition.
func (m *Manager) Define(ctx context.Context, def *v1alpha1.Domain) (_ *v1alpha1.Domain, err error) {
	defer func() { m.rec.ObserveOperation("define", err) }()

	id, err := def.GetUUID()
	if err != nil {
		return nil, err
	}

	session, err := m.ts.OpenSession(ctx, id, def.Name)
	if err != nil {
		return nil, toolstackErr("open session", err)
	}

	obj, created, err := m.reg.Insert(def, session, domain.InsertOptions{Persistent: true, ReuseDefined: true})
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	if created {
		defer obj.Unlock()
		if err := m.defs.Save(obj.Definition()); err != nil {
			m.remove(obj)
			return nil, persistenceErr("save definition", err)
		}
		m.log.Info("domain defined", zap.String("domain", obj.Name()), zap.Stringer("uuid", id))
		return obj.Snapshot(), nil
	}

	_ = session.Close()
	obj.Lock()
	defer obj.Unlock()

	if obj.Removed() {
		return nil, fmt.Errorf("%w: domain %s was removed", errdefs.ErrNotFound, id)
	}
	if obj.IsActive() {
		return nil, fmt.Errorf("%w: domain %q is already active", errdefs.ErrDuplicateIdentity, obj.Name())
	}

	prev, err := obj.Redefine(def)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrInvalidState, err)
	}
	if err := m.defs.Save(obj.Definition()); err != nil {
		obj.RevertDefinition(prev)
		return nil, persistenceErr("save definition", err)
	}

	m.log.Info("domain redefined",
		zap.String("domain", obj.Name()),
		zap.Stringer("uuid", id),
		zap.Int64("generation", obj.Definition().Generation))
	return obj.Snapshot(), nil
}
