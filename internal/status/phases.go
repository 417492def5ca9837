package status

import (
	"fmt"

	"github.com/jbweber/corral/api/v1alpha1"
)

// Reasons recorded on the Ready condition.
const (
	ReasonStarted     = "Started"
	ReasonResumed     = "Resumed"
	ReasonReconnected = "Reconnected"
	ReasonPaused      = "Paused"
	ReasonDefined     = "Defined"
	ReasonShutdown    = "Shutdown"
	ReasonCrashed     = "Crashed"
	ReasonDestroyed   = "Destroyed"
	ReasonStartFailed = "StartFailed"
	ReasonNotFound    = "NotFound"
)

// TransitionToRunning moves a domain to Running. Valid from Inactive (start
// or reconnect) and from Paused (unpause).
func TransitionToRunning(d *v1alpha1.Domain, runtimeID int, reason, message string) error {
	switch d.Status.State {
	case v1alpha1.DomainStateInactive, "":
		if runtimeID < 0 {
			return fmt.Errorf("cannot transition to Running without a runtime id")
		}
		d.Status.RuntimeID = runtimeID
	case v1alpha1.DomainStatePaused:
		if runtimeID != d.Status.RuntimeID {
			return fmt.Errorf("cannot resume runtime id %d, domain is running as %d", runtimeID, d.Status.RuntimeID)
		}
	default:
		return fmt.Errorf("cannot transition to Running from state %s", d.Status.State)
	}

	d.Status.State = v1alpha1.DomainStateRunning
	SetCondition(d, v1alpha1.ConditionReady, v1alpha1.ConditionTrue, reason, message)
	return nil
}

// TransitionToPaused moves a freshly created instance to Paused. Only valid
// from Inactive.
func TransitionToPaused(d *v1alpha1.Domain, runtimeID int) error {
	if d.Status.State != v1alpha1.DomainStateInactive && d.Status.State != "" {
		return fmt.Errorf("cannot transition to Paused from state %s", d.Status.State)
	}
	if runtimeID < 0 {
		return fmt.Errorf("cannot transition to Paused without a runtime id")
	}

	d.Status.State = v1alpha1.DomainStatePaused
	d.Status.RuntimeID = runtimeID
	SetCondition(d, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, ReasonPaused, "domain is paused")
	return nil
}

// TransitionToInactive moves a domain to Inactive from any state and clears
// its runtime id.
func TransitionToInactive(d *v1alpha1.Domain, reason, message string) {
	d.Status.State = v1alpha1.DomainStateInactive
	d.Status.RuntimeID = -1
	SetCondition(d, v1alpha1.ConditionReady, v1alpha1.ConditionFalse, reason, message)
}

// IsActive returns true for Running and Paused.
func IsActive(state v1alpha1.DomainState) bool {
	return state.IsActive()
}
