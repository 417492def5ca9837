package vm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/corral/internal/domain"
	"github.com/jbweber/corral/internal/events"
	"github.com/jbweber/corral/internal/status"
	"github.com/jbweber/corral/internal/toolstack"
)

// subscribe watches runtimeID for death events. obj must be locked.
func (m *Manager) subscribe(ctx context.Context, obj *domain.Object, runtimeID int) error {
	w, err := obj.Session().SubscribeDeath(ctx, runtimeID)
	if err != nil {
		return toolstackErr("subscribe death", err)
	}

	id := obj.UUID()
	tok := m.events.Register(w.Ready(), func(tok events.Token) {
		m.handleDeath(id, tok)
	})
	obj.SetWaiter(&domain.Waiter{Handle: w, Token: tok})
	return nil
}

// unsubscribe drops obj's death subscription, if any. obj must be locked.
func (m *Manager) unsubscribe(obj *domain.Object) {
	w := obj.TakeWaiter()
	if w == nil {
		return
	}
	m.events.Deregister(w.Token)
	obj.Session().Unsubscribe(w.Handle)
}

// handleDeath runs on the dispatcher goroutine. The domain is looked up
// again and the notification dropped if tok is no longer its registration.
func (m *Manager) handleDeath(id uuid.UUID, tok events.Token) {
	log := m.log.With(zap.Stringer("uuid", id))

	obj, err := m.acquire(id)
	if err != nil {
		log.Debug("dropping event for unknown domain")
		m.events.Deregister(tok)
		return
	}
	defer obj.Unlock()

	w := obj.Waiter()
	if w == nil || w.Token != tok {
		log.Debug("dropping stale event", zap.Uint64("token", uint64(tok)))
		m.events.Deregister(tok)
		return
	}

	ev, err := w.Handle.Next()
	if err != nil {
		log.Debug("spurious readiness", zap.Error(err))
		return
	}

	runtimeID := obj.RuntimeID()
	if ev.Kind != toolstack.EventDeath || ev.RuntimeID != runtimeID {
		log.Debug("ignoring event", zap.Int("kind", int(ev.Kind)), zap.Int("runtimeID", ev.RuntimeID))
		return
	}

	m.unsubscribe(obj)
	m.rec.ObserveDeath(ev.Reason.String())

	log = log.With(zap.String("domain", obj.Name()), zap.Int("runtimeID", runtimeID), zap.Stringer("reason", ev.Reason))
	ctx := context.Background()

	switch ev.Reason {
	case toolstack.ReasonPoweroff, toolstack.ReasonCrash:
		reason := status.ReasonShutdown
		if ev.Reason == toolstack.ReasonCrash {
			reason = status.ReasonCrashed
		}
		m.killInstance(ctx, obj, runtimeID)
		m.reap(obj, reason, fmt.Sprintf("guest stopped: %s", ev.Reason))
		if !obj.IsPersistent() {
			m.remove(obj)
		}
		log.Info("domain stopped")

	case toolstack.ReasonReboot:
		m.killInstance(ctx, obj, runtimeID)
		m.reap(obj, status.ReasonShutdown, "guest rebooting")
		if err := m.start(ctx, obj, false); err != nil {
			log.Error("failed to restart domain after reboot", zap.Error(err))
			if !obj.IsPersistent() {
				m.remove(obj)
			}
			return
		}
		log.Info("domain rebooted", zap.Int("newRuntimeID", obj.RuntimeID()))

	default:
		log.Info("domain stopped with unhandled reason, leaving state unchanged")
	}
}
