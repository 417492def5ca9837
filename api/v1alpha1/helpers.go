package v1alpha1

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for corral resources.
	GroupName = "corral.jbweber.dev"

	// Version is the API version.
	Version = "v1alpha1"

	// DomainKind is the kind string for Domain resources.
	DomainKind = "Domain"
)

// NewDomain creates a Domain with a fresh identity and sensible defaults.
func NewDomain(name string) *Domain {
	return &Domain{
		TypeMeta: TypeMeta{
			APIVersion: GroupName + "/" + Version,
			Kind:       DomainKind,
		},
		ObjectMeta: ObjectMeta{
			Name:              name,
			UID:               uuid.New().String(),
			CreationTimestamp: Time{Time: time.Now()},
			Generation:        1,
		},
		Spec: DomainSpec{
			Type:      "kvm",
			VCPUs:     1,
			MemoryMiB: 512,
			CPUMode:   "host-model",
		},
		Status: DomainStatus{
			State:     DomainStateInactive,
			RuntimeID: -1,
		},
	}
}

// SetDefaultAPIVersion fills in apiVersion and kind when a file omits them.
func SetDefaultAPIVersion(d *Domain) {
	if d.APIVersion == "" {
		d.APIVersion = GroupName + "/" + Version
	}
	if d.Kind == "" {
		d.Kind = DomainKind
	}
}

// GetUUID parses metadata.uid.
func (d *Domain) GetUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(d.UID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid metadata.uid %q: %w", d.UID, err)
	}
	return id, nil
}

// GetType returns the hypervisor type with default fallback.
func (d *Domain) GetType() string {
	if d.Spec.Type == "" {
		return "kvm"
	}
	return d.Spec.Type
}

// GetCPUMode returns the CPU mode with default fallback.
func (d *Domain) GetCPUMode() string {
	if d.Spec.CPUMode == "" {
		return "host-model"
	}
	return d.Spec.CPUMode
}

// UsesAutoPort reports whether the console port is assigned by the manager.
func (d *Domain) UsesAutoPort() bool {
	return d.Spec.Graphics != nil && d.Spec.Graphics.Type == GraphicsVNC && d.Spec.Graphics.AutoPort
}

// IsActive reports whether the recorded state is Running or Paused.
func (s DomainState) IsActive() bool {
	return s == DomainStateRunning || s == DomainStatePaused
}

// Normalize lowercases the name and fills in omitted defaults.
func (d *Domain) Normalize() {
	d.Name = strings.ToLower(strings.TrimSpace(d.Name))
	if d.Spec.Type == "" {
		d.Spec.Type = "kvm"
	}
	if d.Spec.CPUMode == "" {
		d.Spec.CPUMode = "host-model"
	}
	for i := range d.Spec.Disks {
		if d.Spec.Disks[i].Format == "" {
			d.Spec.Disks[i].Format = "qcow2"
		}
	}
	if d.Status.State == "" {
		d.Status.State = DomainStateInactive
		d.Status.RuntimeID = -1
	}
}
