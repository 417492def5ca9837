// Package libvirt binds the lifecycle manager to a local libvirt daemon.
//
// This package wraps github.com/digitalocean/go-libvirt to provide:
//   - Connection management (connect, disconnect, ping, host info)
//   - Launch XML generation from Domain definitions
//   - Resolution of pool-backed disk volumes before launch
//   - Toolstack, the toolstack.Toolstack implementation
//
// Connection Management:
//
//	client, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Toolstack:
//
// Instances are created from transient XML, paused, with every lifecycle
// action set to destroy. The manager decides what a stop means from the
// death event Toolstack.Run delivers:
//
//	ts := libvirt.NewToolstack(client.Libvirt(), log)
//	go ts.Run(ctx)
//	session, err := ts.OpenSession(ctx, id, name)
//
// Consumer-Side Interfaces:
//
// API lists only the go-libvirt calls Toolstack makes, so tests drive it
// with an in-memory fake. *libvirt.Libvirt satisfies it implicitly.
package libvirt
