// Package status maintains the observed state of a Domain: its lifecycle
// state and the conditions reported alongside it.
package status

import (
	"time"

	"github.com/jbweber/corral/api/v1alpha1"
)

// SetCondition adds or updates a condition. LastTransitionTime only moves
// when the status value changes.
func SetCondition(d *v1alpha1.Domain, condType string, status v1alpha1.ConditionStatus, reason, message string) {
	now := v1alpha1.Time{Time: time.Now()}

	for i := range d.Status.Conditions {
		existing := &d.Status.Conditions[i]
		if existing.Type != condType {
			continue
		}
		if existing.Status != status {
			existing.LastTransitionTime = now
		}
		existing.Status = status
		existing.Reason = reason
		existing.Message = message
		existing.ObservedGeneration = d.Generation
		return
	}

	d.Status.Conditions = append(d.Status.Conditions, v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		ObservedGeneration: d.Generation,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(d *v1alpha1.Domain, condType string) *v1alpha1.Condition {
	for i := range d.Status.Conditions {
		if d.Status.Conditions[i].Type == condType {
			return &d.Status.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(d *v1alpha1.Domain, condType string) bool {
	cond := GetCondition(d, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionTrue
}

// IsConditionFalse returns true if the condition exists and has status False.
func IsConditionFalse(d *v1alpha1.Domain, condType string) bool {
	cond := GetCondition(d, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionFalse
}

// RemoveCondition removes a condition by type.
func RemoveCondition(d *v1alpha1.Domain, condType string) {
	filtered := make([]v1alpha1.Condition, 0, len(d.Status.Conditions))
	for _, c := range d.Status.Conditions {
		if c.Type != condType {
			filtered = append(filtered, c)
		}
	}
	d.Status.Conditions = filtered
}
