// Package control exposes the lifecycle manager owned by `corral serve` on a
// local unix socket, and provides the client the CLI uses to reach it.
//
// Every domain operation a CLI command performs runs inside the serving
// process, so a single registry, port pool and event dispatcher see all of
// them.
package control

import (
	"context"

	"github.com/google/uuid"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/vm"
)

// Controller is the lifecycle surface served over the socket. *vm.Manager
// implements it.
type Controller interface {
	CreateTransient(ctx context.Context, def *v1alpha1.Domain, paused bool) (*v1alpha1.Domain, error)
	Define(ctx context.Context, def *v1alpha1.Domain) (*v1alpha1.Domain, error)
	Start(ctx context.Context, id uuid.UUID, paused bool) (*v1alpha1.Domain, error)
	Shutdown(ctx context.Context, id uuid.UUID) error
	Reboot(ctx context.Context, id uuid.UUID) error
	Destroy(ctx context.Context, id uuid.UUID, force bool) error
	Undefine(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) (*v1alpha1.Domain, error)

	Resolve(ref string) (uuid.UUID, error)
	LookupByUUID(id uuid.UUID) (*v1alpha1.Domain, error)
	List() []*v1alpha1.Domain
	GetInfo(ctx context.Context, id uuid.UUID) (vm.Info, error)
	DumpDefinition(id uuid.UUID) ([]byte, error)
}

var _ Controller = (*vm.Manager)(nil)
