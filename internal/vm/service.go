package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/corral/internal/config"
	"github.com/jbweber/corral/internal/events"
	"github.com/jbweber/corral/internal/libvirt"
	"github.com/jbweber/corral/internal/loader"
	"github.com/jbweber/corral/internal/metrics"
	"github.com/jbweber/corral/internal/portpool"
)

// Service is a Manager bound to a live libvirt connection, file stores
// under the configured directories and a console port pool.
type Service struct {
	*Manager

	client     *libvirt.Client
	toolstack  *libvirt.Toolstack
	dispatcher *events.Dispatcher
	ports      *portpool.Pool
}

// Open connects to libvirt, builds the manager and runs Init. reg may be
// nil when metrics are not exported.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}

	defs := loader.NewStore(cfg.ConfigDir)
	statuses := loader.NewStore(cfg.StateDir)
	for _, s := range []*loader.Store{defs, statuses} {
		if err := s.Ensure(); err != nil {
			return nil, err
		}
	}

	ports, err := portpool.New(cfg.Console.PortMin, cfg.Console.PortMax)
	if err != nil {
		return nil, err
	}

	client, err := libvirt.ConnectWithContext(ctx, cfg.Libvirt.Socket, cfg.Libvirt.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}

	ts := libvirt.NewToolstack(client.Libvirt(), log)
	dispatcher := events.NewDispatcher(log)

	mgr, err := NewManager(Options{
		Toolstack:   ts,
		Definitions: defs,
		Statuses:    statuses,
		Ports:       ports,
		Events:      dispatcher,
		Recorder:    metrics.New(reg),
		Log:         log,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	if err := mgr.Init(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	if reg != nil {
		metrics.RegisterGauges(reg, mgr, ports)
	}

	return &Service{
		Manager:    mgr,
		client:     client,
		toolstack:  ts,
		dispatcher: dispatcher,
		ports:      ports,
	}, nil
}

// Run delivers lifecycle events until ctx is cancelled or the libvirt
// event stream is lost.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.dispatcher.Run(ctx) })
	g.Go(func() error { return s.toolstack.Run(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Host describes the libvirt daemon the service is connected to.
func (s *Service) Host() (libvirt.HostInfo, error) {
	return s.client.Info()
}

// Ping checks the libvirt connection.
func (s *Service) Ping() error {
	return s.client.Ping()
}

// Close releases the libvirt connection. Running guests are left alone.
func (s *Service) Close() error {
	return s.client.Close()
}
