package v1alpha1

import "slices"

// Domain is a virtual machine managed by corral.
//
// Spec is the definition the administrator supplies. Status is owned by the
// manager and written to the state directory while the domain is active.
type Domain struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec   DomainSpec   `json:"spec" yaml:"spec"`
	Status DomainStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// DomainSpec defines how a domain is launched.
type DomainSpec struct {
	// Type is the hypervisor type: kvm (default), qemu or xen.
	// +optional
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// +kubebuilder:validation:Minimum=1
	VCPUs int `json:"vcpus" yaml:"vcpus"`

	// MemoryMiB is the boot and maximum memory in mebibytes.
	// +kubebuilder:validation:Minimum=1
	MemoryMiB int `json:"memoryMiB" yaml:"memoryMiB"`

	// CPUMode is host-model (default) or host-passthrough.
	// +optional
	CPUMode string `json:"cpuMode,omitempty" yaml:"cpuMode,omitempty"`

	// +optional
	Disks []DiskSpec `json:"disks,omitempty" yaml:"disks,omitempty"`

	// +optional
	NetworkInterfaces []NetworkInterfaceSpec `json:"networkInterfaces,omitempty" yaml:"networkInterfaces,omitempty"`

	// Graphics configures the remote display. Nil means headless.
	// +optional
	Graphics *GraphicsSpec `json:"graphics,omitempty" yaml:"graphics,omitempty"`
}

// DiskSpec attaches an existing disk image. Exactly one of Path or Volume is set.
type DiskSpec struct {
	// Device is the guest target, e.g. vda.
	Device string `json:"device" yaml:"device"`

	// +optional
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Pool and Volume reference a libvirt storage volume.
	// +optional
	Pool string `json:"pool,omitempty" yaml:"pool,omitempty"`
	// +optional
	Volume string `json:"volume,omitempty" yaml:"volume,omitempty"`

	// Format is qcow2 (default) or raw.
	// +optional
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// +optional
	ReadOnly bool `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
}

// NetworkInterfaceSpec attaches the guest to an existing host bridge.
type NetworkInterfaceSpec struct {
	Bridge string `json:"bridge" yaml:"bridge"`

	// IP, if set, derives a stable MAC address and tap device name.
	// +optional
	IP string `json:"ip,omitempty" yaml:"ip,omitempty"`

	// +optional
	MAC string `json:"mac,omitempty" yaml:"mac,omitempty"`
}

// GraphicsType names a remote display protocol.
type GraphicsType string

const (
	GraphicsVNC GraphicsType = "vnc"
)

// GraphicsSpec configures the remote display.
type GraphicsSpec struct {
	Type GraphicsType `json:"type" yaml:"type"`

	// AutoPort asks the manager to assign a console port from its pool on
	// every start. Port then holds the assigned value while active.
	// +optional
	AutoPort bool `json:"autoPort,omitempty" yaml:"autoPort,omitempty"`

	// +optional
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// +optional
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// DomainState is the lifecycle state of a domain.
type DomainState string

const (
	DomainStateInactive DomainState = "Inactive"
	DomainStateRunning  DomainState = "Running"
	DomainStatePaused   DomainState = "Paused"
)

// DomainStatus is the observed state of a domain.
type DomainStatus struct {
	// +optional
	State DomainState `json:"state,omitempty" yaml:"state,omitempty"`

	// RuntimeID is the hypervisor's numeric handle, -1 while inactive.
	// +optional
	RuntimeID int `json:"runtimeID,omitempty" yaml:"runtimeID,omitempty"`

	// +optional
	Persistent bool `json:"persistent,omitempty" yaml:"persistent,omitempty"`

	// +optional
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Condition types.
const (
	// ConditionReady is True while the guest is running.
	ConditionReady = "Ready"
)

// DeepCopy creates a deep copy of the Domain.
func (in *Domain) DeepCopy() *Domain {
	if in == nil {
		return nil
	}
	out := new(Domain)
	*out = *in
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.Spec.Disks = slices.Clone(in.Spec.Disks)
	out.Spec.NetworkInterfaces = slices.Clone(in.Spec.NetworkInterfaces)
	if in.Spec.Graphics != nil {
		g := *in.Spec.Graphics
		out.Spec.Graphics = &g
	}
	out.Status.Conditions = slices.Clone(in.Status.Conditions)
	return out
}
