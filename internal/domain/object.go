// Package domain holds the in-memory model of managed domains: the Object
// carrying one domain's definition and runtime state, and the Registry
// indexing every Object by identity and by name.
//
// Locking: each Object has its own mutex guarding its mutable fields. The
// Registry mutex is a leaf lock. Registry scans read atomic mirrors of an
// Object's activity and runtime id, so nothing ever waits for a domain lock
// while holding the registry lock. The one exception is Insert, which locks
// a new Object under the registry mutex before publishing it; no other
// goroutine can hold that lock yet.
package domain

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/events"
	"github.com/jbweber/corral/internal/status"
	"github.com/jbweber/corral/internal/toolstack"
)

// Waiter records an active death subscription and the dispatcher
// registration watching it.
type Waiter struct {
	Handle toolstack.DeathWaiter
	Token  events.Token
}

// Object is one managed domain. Accessors other than UUID and Name require
// the caller to hold the lock.
type Object struct {
	mu sync.Mutex

	id   uuid.UUID
	name string

	def *v1alpha1.Domain
	// stored is the persistent definition set aside while a live one runs.
	stored  *v1alpha1.Domain
	session toolstack.Session
	waiter  *Waiter
	removed bool

	// Mirrors for lock-free registry scans. Written only with mu held.
	active     atomic.Bool
	runtimeID  atomic.Int64
	persistent atomic.Bool
}

func newObject(id uuid.UUID, def *v1alpha1.Domain, session toolstack.Session, persistent bool) *Object {
	def.Status.State = v1alpha1.DomainStateInactive
	def.Status.RuntimeID = -1
	def.Status.Persistent = persistent

	o := &Object{id: id, name: def.Name, def: def, session: session}
	o.runtimeID.Store(-1)
	o.persistent.Store(persistent)
	return o
}

func (o *Object) Lock()   { o.mu.Lock() }
func (o *Object) Unlock() { o.mu.Unlock() }

// UUID returns the immutable identity.
func (o *Object) UUID() uuid.UUID { return o.id }

// Name returns the immutable name.
func (o *Object) Name() string { return o.name }

// Definition returns the live definition. Callers may modify the spec while
// holding the lock; status changes go through the transition methods.
func (o *Object) Definition() *v1alpha1.Domain { return o.def }

// Redefine replaces the definition of an inactive domain and returns the
// previous one.
func (o *Object) Redefine(def *v1alpha1.Domain) (*v1alpha1.Domain, error) {
	if o.IsActive() {
		return nil, fmt.Errorf("cannot redefine active domain %s", o.name)
	}
	if def.Name != o.name || def.UID != o.def.UID {
		return nil, fmt.Errorf("redefinition of %s must keep name and uid", o.name)
	}
	prev := o.def
	def.Status = prev.Status
	def.Status.Conditions = slices.Clone(prev.Status.Conditions)
	def.CreationTimestamp = prev.CreationTimestamp
	def.Generation = prev.Generation + 1
	o.def = def
	return prev, nil
}

// SetLiveDefinition runs def in place of the stored definition until the
// domain next stops. The domain must be inactive and def must keep its name
// and uid.
func (o *Object) SetLiveDefinition(def *v1alpha1.Domain) error {
	if o.IsActive() {
		return fmt.Errorf("cannot replace configuration of active domain %s", o.name)
	}
	if def.Name != o.name || def.UID != o.def.UID {
		return fmt.Errorf("live configuration of %s must keep name and uid", o.name)
	}
	if o.stored == nil {
		o.stored = o.def
	}
	def.Status = o.def.Status
	def.Status.Conditions = slices.Clone(o.def.Status.Conditions)
	def.CreationTimestamp = o.def.CreationTimestamp
	def.Generation = o.def.Generation
	o.def = def
	return nil
}

// SetStoredDefinition records def as the persistent definition behind a
// live configuration loaded from a status file.
func (o *Object) SetStoredDefinition(def *v1alpha1.Domain) {
	o.stored = def
}

// HasLiveDefinition reports whether a live configuration overrides the
// stored definition.
func (o *Object) HasLiveDefinition() bool { return o.stored != nil }

// RestoreDefinition drops the live configuration, if any, and puts the
// stored definition back, keeping the current status.
func (o *Object) RestoreDefinition() {
	if o.stored == nil {
		return
	}
	st := o.def.Status
	st.Conditions = slices.Clone(o.def.Status.Conditions)
	o.stored.Status = st
	o.def = o.stored
	o.stored = nil
}

// RevertDefinition puts back a definition returned by Redefine.
func (o *Object) RevertDefinition(prev *v1alpha1.Domain) {
	o.def = prev
}

// State returns the lifecycle state.
func (o *Object) State() v1alpha1.DomainState { return o.def.Status.State }

// RuntimeID returns the hypervisor handle, -1 while inactive.
func (o *Object) RuntimeID() int { return o.def.Status.RuntimeID }

// IsActive reports whether the domain is Running or Paused.
func (o *Object) IsActive() bool { return o.def.Status.State.IsActive() }

// IsPersistent reports whether the definition survives deactivation.
func (o *Object) IsPersistent() bool { return o.def.Status.Persistent }

// SetPersistent marks the domain persistent or transient.
func (o *Object) SetPersistent(p bool) {
	o.def.Status.Persistent = p
	o.persistent.Store(p)
}

// Session returns the domain's toolstack session.
func (o *Object) Session() toolstack.Session { return o.session }

// Waiter returns the pending death subscription, if any.
func (o *Object) Waiter() *Waiter { return o.waiter }

// SetWaiter records a death subscription.
func (o *Object) SetWaiter(w *Waiter) { o.waiter = w }

// TakeWaiter clears and returns the pending death subscription.
func (o *Object) TakeWaiter() *Waiter {
	w := o.waiter
	o.waiter = nil
	return w
}

// Removed reports whether the object has left the registry. A removed
// object must not be operated on.
func (o *Object) Removed() bool { return o.removed }

// MarkStarted records a new runtime instance, Paused or Running.
func (o *Object) MarkStarted(runtimeID int, paused bool) error {
	var err error
	if paused {
		err = status.TransitionToPaused(o.def, runtimeID)
	} else {
		err = status.TransitionToRunning(o.def, runtimeID, status.ReasonStarted, "domain started")
	}
	if err != nil {
		return err
	}
	o.sync()
	return nil
}

// MarkResumed moves a Paused domain to Running.
func (o *Object) MarkResumed() error {
	if err := status.TransitionToRunning(o.def, o.def.Status.RuntimeID, status.ReasonResumed, "domain resumed"); err != nil {
		return err
	}
	o.sync()
	return nil
}

// MarkAdopted records a live instance found by the reconnect scan.
func (o *Object) MarkAdopted(runtimeID int) error {
	if err := status.TransitionToRunning(o.def, runtimeID, status.ReasonReconnected, "adopted running instance"); err != nil {
		return err
	}
	o.sync()
	return nil
}

// MarkInactive moves the domain to Inactive and clears its runtime id.
func (o *Object) MarkInactive(reason, message string) {
	status.TransitionToInactive(o.def, reason, message)
	o.sync()
}

// Snapshot returns a copy of the definition with current status.
func (o *Object) Snapshot() *v1alpha1.Domain {
	return o.def.DeepCopy()
}

func (o *Object) sync() {
	o.active.Store(o.def.Status.State.IsActive())
	o.runtimeID.Store(int64(o.def.Status.RuntimeID))
}

func (o *Object) scanActive() bool { return o.active.Load() }

func (o *Object) scanRuntimeID() int { return int(o.runtimeID.Load()) }
