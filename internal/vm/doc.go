// Package vm manages the lifecycle of corral domains.
//
// Manager is the driver context: it owns the domain registry and drives a
// toolstack.Toolstack through create, start, shutdown, reboot, destroy and
// undefine. Service wires a Manager to libvirt, the on-disk stores, the
// console port pool and Prometheus for the corral command.
//
// The main operations are:
//   - CreateTransient: register and start a domain that disappears once it stops
//   - Define: store a persistent definition without starting it
//   - Start, Resume: launch or unpause a defined domain
//   - Shutdown, Reboot: ask the guest to stop; the result arrives as a death event
//   - Destroy: terminate immediately and reap
//   - Undefine: drop a stopped persistent domain
//
// Locking:
//
// Every operation looks a domain up in the registry, then holds that domain's
// lock for the whole transition, including the toolstack calls. Death events
// are delivered on the events.Dispatcher goroutine carrying only the domain's
// UUID and a registration token; the handler looks the domain up again and
// drops the event if the token no longer matches. A shutdown racing a reboot
// notification is therefore serialized by the domain lock, and whichever runs
// second sees the state the first one left.
//
// Error Handling:
//
// Failures are classified with the errdefs sentinels. Start rolls back a
// created instance before returning an error. Work triggered by death events
// has no caller, so its failures are logged.
package vm
