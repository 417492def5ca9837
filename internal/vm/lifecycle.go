package vm

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/domain"
	"github.com/jbweber/corral/internal/status"
	"github.com/jbweber/corral/internal/toolstack"
)

// Start launches an inactive persistent domain, Paused if paused is set and
// Running otherwise.
func (m *Manager) Start(ctx context.Context, id uuid.UUID, paused bool) (_ *v1alpha1.Domain, err error) {
	defer func() { m.rec.ObserveOperation("start", err) }()

	obj, err := m.acquire(id)
	if err != nil {
		return nil, err
	}
	defer obj.Unlock()

	if err := m.start(ctx, obj, paused); err != nil {
		return nil, err
	}
	return obj.Snapshot(), nil
}

// Shutdown asks the guest to power off. The domain becomes inactive when
// the death event arrives.
func (m *Manager) Shutdown(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { m.rec.ObserveOperation("shutdown", err) }()
	return m.requestShutdown(ctx, id, toolstack.ReasonPoweroff)
}

// Reboot asks the guest to restart. When the death event arrives the old
// instance is reaped and a new one started from the same definition.
func (m *Manager) Reboot(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { m.rec.ObserveOperation("reboot", err) }()
	return m.requestShutdown(ctx, id, toolstack.ReasonReboot)
}

func (m *Manager) requestShutdown(ctx context.Context, id uuid.UUID, reason toolstack.ShutdownReason) error {
	obj, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer obj.Unlock()

	if !obj.IsActive() {
		return invalidState(obj, "cannot %s: domain is not running", reason)
	}
	if err := obj.Session().RequestShutdown(ctx, obj.RuntimeID(), reason); err != nil {
		return toolstackErr("request "+reason.String(), err)
	}

	m.log.Info("requested guest shutdown",
		zap.String("domain", obj.Name()),
		zap.Int("runtimeID", obj.RuntimeID()),
		zap.Stringer("reason", reason))
	return nil
}

// Resume unpauses a Paused domain.
func (m *Manager) Resume(ctx context.Context, id uuid.UUID) (_ *v1alpha1.Domain, err error) {
	defer func() { m.rec.ObserveOperation("resume", err) }()

	obj, err := m.acquire(id)
	if err != nil {
		return nil, err
	}
	defer obj.Unlock()

	if obj.State() != v1alpha1.DomainStatePaused {
		return nil, invalidState(obj, "cannot resume: domain is %s", obj.State())
	}
	if err := obj.Session().Unpause(ctx, obj.RuntimeID()); err != nil {
		return nil, toolstackErr("unpause", err)
	}
	if err := obj.MarkResumed(); err != nil {
		return nil, err
	}
	m.saveStatus(obj)
	return obj.Snapshot(), nil
}

// start launches obj, which must be locked and inactive. Every step after
// the instance exists is rolled back on failure and obj is left inactive.
func (m *Manager) start(ctx context.Context, obj *domain.Object, paused bool) (err error) {
	if obj.IsActive() {
		return invalidState(obj, "cannot start: domain is already %s", obj.State())
	}

	def := obj.Definition()
	session := obj.Session()
	log := m.log.With(zap.String("domain", obj.Name()), zap.Stringer("uuid", obj.UUID()))

	if def.UsesAutoPort() {
		port, rerr := m.ports.Reserve(0)
		if rerr != nil {
			return rerr
		}
		def.Spec.Graphics.Port = port
		defer func() {
			if err != nil {
				m.ports.Release(port)
				def.Spec.Graphics.Port = 0
			}
		}()
	}

	runtimeID, err := session.CreateInstance(ctx, def)
	if err != nil {
		return toolstackErr("create instance", err)
	}
	defer func() {
		if err == nil {
			return
		}
		m.unsubscribe(obj)
		if derr := session.DestroyInstance(context.WithoutCancel(ctx), runtimeID, true); derr != nil && !errors.Is(derr, toolstack.ErrInstanceNotFound) {
			log.Warn("failed to destroy instance after failed start", zap.Int("runtimeID", runtimeID), zap.Error(derr))
		}
		obj.MarkInactive(status.ReasonStartFailed, err.Error())
	}()

	payload, err := m.defs.Serialize(def)
	if err != nil {
		return err
	}
	if err = session.StoreMetadata(ctx, runtimeID, metadataKey, payload); err != nil {
		return toolstackErr("store metadata", err)
	}

	if err = m.subscribe(ctx, obj, runtimeID); err != nil {
		return err
	}

	if !paused {
		if err = session.Unpause(ctx, runtimeID); err != nil {
			return toolstackErr("unpause", err)
		}
	}
	if err = obj.MarkStarted(runtimeID, paused); err != nil {
		return err
	}

	if err = m.statuses.Save(obj.Snapshot()); err != nil {
		return persistenceErr("save status", err)
	}

	log.Info("domain started", zap.Int("runtimeID", runtimeID), zap.Bool("paused", paused))
	return nil
}

// reap releases everything tied to a stopped instance and marks obj
// inactive. It is safe to call on an inactive domain.
func (m *Manager) reap(obj *domain.Object, reason, message string) {
	m.unsubscribe(obj)

	def := obj.Definition()
	if def.UsesAutoPort() {
		if obj.IsActive() && def.Spec.Graphics.Port > 0 {
			m.ports.Release(def.Spec.Graphics.Port)
		}
		def.Spec.Graphics.Port = 0
	}

	if err := m.statuses.Delete(def); err != nil {
		m.log.Warn("failed to delete status file", zap.String("domain", obj.Name()), zap.Error(err))
	}

	obj.MarkInactive(reason, message)
	obj.RestoreDefinition()
}

// killInstance force-destroys whatever is left of runtimeID.
func (m *Manager) killInstance(ctx context.Context, obj *domain.Object, runtimeID int) {
	err := obj.Session().DestroyInstance(ctx, runtimeID, true)
	if err != nil && !errors.Is(err, toolstack.ErrInstanceNotFound) {
		m.log.Warn("failed to destroy stopped instance",
			zap.String("domain", obj.Name()), zap.Int("runtimeID", runtimeID), zap.Error(err))
	}
}

func (m *Manager) saveStatus(obj *domain.Object) {
	if err := m.statuses.Save(obj.Snapshot()); err != nil {
		m.log.Warn("failed to save status", zap.String("domain", obj.Name()), zap.Error(err))
	}
}
