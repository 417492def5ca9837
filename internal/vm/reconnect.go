package vm

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jbweber/corral/internal/domain"
	"github.com/jbweber/corral/internal/status"
	"github.com/jbweber/corral/internal/toolstack"
)

// reconnectAll runs the reconnect scan over every registered domain.
func (m *Manager) reconnectAll(ctx context.Context) {
	for _, obj := range m.reg.All() {
		obj.Lock()
		if !obj.Removed() {
			m.reconnect(ctx, obj)
		}
		obj.Unlock()
	}
}

// reconnect adopts the live instance carrying obj's identity, if this
// manager launched it. Anything else leaves obj inactive.
func (m *Manager) reconnect(ctx context.Context, obj *domain.Object) {
	log := m.log.With(zap.String("domain", obj.Name()), zap.Stringer("uuid", obj.UUID()))
	session := obj.Session()

	info, err := session.LookupInstance(ctx)
	if err != nil {
		if !errors.Is(err, toolstack.ErrInstanceNotFound) {
			log.Warn("failed to query instance", zap.Error(err))
		}
		m.forget(obj, "no running instance")
		return
	}

	data, err := session.RetrieveMetadata(ctx, info.RuntimeID, metadataKey)
	if err != nil {
		log.Warn("instance has no corral metadata, treating as foreign", zap.Int("runtimeID", info.RuntimeID), zap.Error(err))
		m.forget(obj, "running instance is not managed by corral")
		return
	}
	launched, err := m.defs.Parse(data)
	if err != nil || launched.UID != obj.Definition().UID {
		log.Warn("instance metadata does not match, treating as foreign", zap.Int("runtimeID", info.RuntimeID), zap.Error(err))
		m.forget(obj, "running instance is not managed by corral")
		return
	}

	// The port is recorded only once this manager owns it, so reap never
	// releases a port held by another domain.
	def := obj.Definition()
	if def.UsesAutoPort() {
		def.Spec.Graphics.Port = 0
		if launched.Spec.Graphics != nil && launched.Spec.Graphics.Port > 0 {
			port := launched.Spec.Graphics.Port
			if _, err := m.ports.Reserve(port); err != nil {
				log.Warn("console port of adopted domain is unavailable", zap.Int("port", port), zap.Error(err))
			} else {
				def.Spec.Graphics.Port = port
			}
		}
	}

	if err := obj.MarkAdopted(info.RuntimeID); err != nil {
		log.Error("failed to adopt instance", zap.Error(err))
		return
	}
	if err := m.subscribe(ctx, obj, info.RuntimeID); err != nil {
		log.Error("failed to watch adopted instance", zap.Error(err))
	}
	m.saveStatus(obj)

	log.Info("adopted running instance", zap.Int("runtimeID", info.RuntimeID))
}

// forget reaps obj without adopting anything and drops it if transient.
func (m *Manager) forget(obj *domain.Object, message string) {
	m.reap(obj, status.ReasonNotFound, message)
	if !obj.IsPersistent() {
		m.remove(obj)
	}
}
