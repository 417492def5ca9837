package vm

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/corral/internal/status"
	"github.com/jbweber/corral/internal/toolstack"
)

// Destroy terminates a running or paused domain immediately and reaps it.
// A transient domain is removed from the registry. Without force the
// toolstack is asked to give the guest a moment to flush before killing it.
func (m *Manager) Destroy(ctx context.Context, id uuid.UUID, force bool) (err error) {
	defer func() { m.rec.ObserveOperation("destroy", err) }()

	obj, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer obj.Unlock()

	if !obj.IsActive() {
		return invalidState(obj, "cannot destroy: domain is not running")
	}

	runtimeID := obj.RuntimeID()
	err = obj.Session().DestroyInstance(ctx, runtimeID, force)
	if err != nil && !errors.Is(err, toolstack.ErrInstanceNotFound) {
		return toolstackErr("destroy instance", err)
	}

	m.reap(obj, status.ReasonDestroyed, "domain destroyed")
	if !obj.IsPersistent() {
		m.remove(obj)
	}

	m.log.Info("domain destroyed", zap.String("domain", obj.Name()), zap.Int("runtimeID", runtimeID))
	return nil
}

// Undefine removes an inactive persistent domain and its stored definition.
func (m *Manager) Undefine(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { m.rec.ObserveOperation("undefine", err) }()

	obj, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer obj.Unlock()

	if obj.IsActive() {
		return invalidState(obj, "cannot undefine: domain is %s", obj.State())
	}
	if !obj.IsPersistent() {
		return invalidState(obj, "cannot undefine a transient domain")
	}

	if err := m.defs.Delete(obj.Definition()); err != nil {
		return persistenceErr("delete definition", err)
	}
	m.remove(obj)

	m.log.Info("domain undefined", zap.String("domain", obj.Name()))
	return nil
}
