// Package toolstack describes the hypervisor control surface the lifecycle
// manager drives. The libvirt package provides the production binding.
package toolstack

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jbweber/corral/api/v1alpha1"
)

// ErrInstanceNotFound is returned when a runtime instance no longer exists.
var ErrInstanceNotFound = errors.New("runtime instance not found")

// ErrConnectionLost is returned when the hypervisor connection goes away.
var ErrConnectionLost = errors.New("toolstack connection lost")

// ShutdownReason is why an instance stopped, or what a shutdown request asks for.
type ShutdownReason int

const (
	ReasonPoweroff ShutdownReason = iota
	ReasonReboot
	ReasonSuspend
	ReasonCrash
	ReasonHalt
	ReasonUnknown
)

func (r ShutdownReason) String() string {
	switch r {
	case ReasonPoweroff:
		return "poweroff"
	case ReasonReboot:
		return "reboot"
	case ReasonSuspend:
		return "suspend"
	case ReasonCrash:
		return "crash"
	case ReasonHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// EventKind classifies a toolstack event.
type EventKind int

const (
	EventDeath EventKind = iota + 1
	EventOther
)

// Event is one notification read from a DeathWaiter.
type Event struct {
	Kind      EventKind
	RuntimeID int
	Reason    ShutdownReason
}

// InstanceInfo describes a live runtime instance.
type InstanceInfo struct {
	RuntimeID int
	UUID      uuid.UUID
	Name      string
	Paused    bool
	MaxMemKiB uint64
	MemoryKiB uint64
	VCPUs     int
	CPUTimeNs uint64
}

// Toolstack opens per-domain sessions on a shared hypervisor connection.
type Toolstack interface {
	OpenSession(ctx context.Context, id uuid.UUID, name string) (Session, error)
}

// Session is the toolstack context owned by exactly one domain.
type Session interface {
	// CreateInstance launches def paused and returns its runtime id.
	CreateInstance(ctx context.Context, def *v1alpha1.Domain) (int, error)
	Unpause(ctx context.Context, runtimeID int) error
	DestroyInstance(ctx context.Context, runtimeID int, force bool) error
	RequestShutdown(ctx context.Context, runtimeID int, reason ShutdownReason) error
	QueryInfo(ctx context.Context, runtimeID int) (InstanceInfo, error)

	// LookupInstance finds the live instance carrying the session's identity.
	LookupInstance(ctx context.Context) (InstanceInfo, error)

	StoreMetadata(ctx context.Context, runtimeID int, key string, data []byte) error
	RetrieveMetadata(ctx context.Context, runtimeID int, key string) ([]byte, error)

	SubscribeDeath(ctx context.Context, runtimeID int) (DeathWaiter, error)
	Unsubscribe(w DeathWaiter)

	Close() error
}

// DeathWaiter is an in-flight death subscription. Ready receives a value
// whenever Next has an event to return.
type DeathWaiter interface {
	Ready() <-chan struct{}
	Next() (Event, error)
}
