package vm

import (
	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/events"
)

// DomainStore persists domains as files keyed by name.
//
// In production, this is satisfied by *loader.Store.
type DomainStore interface {
	LoadAll() ([]*v1alpha1.Domain, error)
	Save(d *v1alpha1.Domain) error
	Delete(d *v1alpha1.Domain) error
	Serialize(d *v1alpha1.Domain) ([]byte, error)
	Parse(data []byte) (*v1alpha1.Domain, error)
}

// PortAllocator hands out console ports.
//
// In production, this is satisfied by *portpool.Pool.
type PortAllocator interface {
	// Reserve returns port if it is free, or the lowest free port when port is 0.
	Reserve(port int) (int, error)
	// Release frees port. Releasing a free port is a no-op.
	Release(port int)
}

// Dispatcher delivers readiness notifications on one goroutine.
//
// In production, this is satisfied by *events.Dispatcher.
type Dispatcher interface {
	Register(ready <-chan struct{}, h events.Handler) events.Token
	Deregister(tok events.Token)
}

// Recorder observes lifecycle activity.
//
// In production, this is satisfied by *metrics.Metrics.
type Recorder interface {
	ObserveOperation(op string, err error)
	ObserveDeath(reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, error) {}
func (nopRecorder) ObserveDeath(string)            {}
