package v1alpha1

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomain(t *testing.T) {
	d := NewDomain("web")

	assert.Equal(t, GroupName+"/"+Version, d.APIVersion)
	assert.Equal(t, DomainKind, d.Kind)
	assert.Equal(t, "web", d.Name)
	assert.Equal(t, int64(1), d.Generation)
	assert.False(t, d.CreationTimestamp.IsZero())
	assert.Equal(t, DomainStateInactive, d.Status.State)
	assert.Equal(t, -1, d.Status.RuntimeID)

	id, err := d.GetUUID()
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	other := NewDomain("web")
	assert.NotEqual(t, d.UID, other.UID, "every domain gets its own identity")
}

func TestGetUUID_Invalid(t *testing.T) {
	d := &Domain{ObjectMeta: ObjectMeta{UID: "not-a-uuid"}}
	_, err := d.GetUUID()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata.uid")
}

func TestSetDefaultAPIVersion(t *testing.T) {
	d := &Domain{}
	SetDefaultAPIVersion(d)
	assert.Equal(t, "corral.jbweber.dev/v1alpha1", d.APIVersion)
	assert.Equal(t, "Domain", d.Kind)

	custom := &Domain{TypeMeta: TypeMeta{APIVersion: "other/v1", Kind: "Other"}}
	SetDefaultAPIVersion(custom)
	assert.Equal(t, "other/v1", custom.APIVersion)
	assert.Equal(t, "Other", custom.Kind)
}

func TestDefaultsFallback(t *testing.T) {
	d := &Domain{}
	assert.Equal(t, "kvm", d.GetType())
	assert.Equal(t, "host-model", d.GetCPUMode())

	d.Spec.Type = "xen"
	d.Spec.CPUMode = "host-passthrough"
	assert.Equal(t, "xen", d.GetType())
	assert.Equal(t, "host-passthrough", d.GetCPUMode())
}

func TestUsesAutoPort(t *testing.T) {
	tests := []struct {
		name     string
		graphics *GraphicsSpec
		want     bool
	}{
		{name: "headless", graphics: nil, want: false},
		{name: "vnc autoport", graphics: &GraphicsSpec{Type: GraphicsVNC, AutoPort: true}, want: true},
		{name: "vnc fixed port", graphics: &GraphicsSpec{Type: GraphicsVNC, Port: 5910}, want: false},
		{name: "unknown type", graphics: &GraphicsSpec{Type: "spice", AutoPort: true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Domain{Spec: DomainSpec{Graphics: tt.graphics}}
			assert.Equal(t, tt.want, d.UsesAutoPort())
		})
	}
}

func TestDomainStateIsActive(t *testing.T) {
	assert.False(t, DomainStateInactive.IsActive())
	assert.True(t, DomainStateRunning.IsActive())
	assert.True(t, DomainStatePaused.IsActive())
}

func TestNormalize(t *testing.T) {
	d := &Domain{
		ObjectMeta: ObjectMeta{Name: "  Web-01 "},
		Spec: DomainSpec{
			Disks: []DiskSpec{{Device: "vda", Path: "/img/a.qcow2"}, {Device: "vdb", Path: "/img/b.raw", Format: "raw"}},
		},
	}
	d.Normalize()

	assert.Equal(t, "web-01", d.Name)
	assert.Equal(t, "kvm", d.Spec.Type)
	assert.Equal(t, "host-model", d.Spec.CPUMode)
	assert.Equal(t, "qcow2", d.Spec.Disks[0].Format)
	assert.Equal(t, "raw", d.Spec.Disks[1].Format)
	assert.Equal(t, DomainStateInactive, d.Status.State)
	assert.Equal(t, -1, d.Status.RuntimeID)
}

func TestDomainDeepCopy(t *testing.T) {
	d := NewDomain("web")
	d.Labels = map[string]string{"tier": "front"}
	d.Spec.Disks = []DiskSpec{{Device: "vda", Path: "/img/a.qcow2"}}
	d.Spec.Graphics = &GraphicsSpec{Type: GraphicsVNC, AutoPort: true, Port: 5901}
	d.Status.Conditions = []Condition{{Type: ConditionReady, Status: ConditionTrue}}

	c := d.DeepCopy()
	require.Equal(t, d, c)

	c.Labels["tier"] = "back"
	c.Spec.Disks[0].Path = "/img/other"
	c.Spec.Graphics.Port = 5999
	c.Status.Conditions[0].Status = ConditionFalse

	assert.Equal(t, "front", d.Labels["tier"])
	assert.Equal(t, "/img/a.qcow2", d.Spec.Disks[0].Path)
	assert.Equal(t, 5901, d.Spec.Graphics.Port)
	assert.Equal(t, ConditionTrue, d.Status.Conditions[0].Status)

	var nilDomain *Domain
	assert.Nil(t, nilDomain.DeepCopy())
}
