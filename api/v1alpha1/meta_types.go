// Package v1alpha1 contains the corral.jbweber.dev/v1alpha1 resource types.
//
// Field names and JSON tags follow Kubernetes API conventions so definitions
// read like any other declarative manifest, without pulling in apimachinery.
package v1alpha1

import (
	"encoding/json"
	"maps"
	"time"

	"gopkg.in/yaml.v3"
)

// TypeMeta carries the kind and API version of a serialized resource.
type TypeMeta struct {
	Kind       string `json:"kind,omitempty" yaml:"kind,omitempty"`
	APIVersion string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
}

// ObjectMeta is the metadata every stored resource has.
type ObjectMeta struct {
	// Name is unique among domains present at the same time.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// UID is the immutable identity of the resource. For domains it is an
	// RFC 4122 UUID and doubles as the hypervisor UUID.
	UID string `json:"uid,omitempty" yaml:"uid,omitempty"`

	// +optional
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// +optional
	Annotations map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`

	// CreationTimestamp is set when the resource is first defined or created.
	CreationTimestamp Time `json:"creationTimestamp,omitempty" yaml:"creationTimestamp,omitempty"`

	// Generation is bumped every time the definition is replaced.
	Generation int64 `json:"generation,omitempty" yaml:"generation,omitempty"`
}

// Time wraps time.Time with RFC3339 JSON and YAML encoding. The zero value
// encodes as null.
type Time struct {
	time.Time `json:"-" yaml:"-"`
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" || string(b) == `""` {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (t Time) MarshalYAML() (interface{}, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.Time.Format(time.RFC3339), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Time) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" || node.Value == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, node.Value)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// Condition is one observation about a domain, e.g. whether it is Ready.
type Condition struct {
	Type   string          `json:"type" yaml:"type"`
	Status ConditionStatus `json:"status" yaml:"status"`

	// ObservedGeneration is the metadata.generation the condition was computed from.
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`

	// LastTransitionTime changes only when Status changes.
	LastTransitionTime Time `json:"lastTransitionTime,omitempty" yaml:"lastTransitionTime,omitempty"`

	// Reason is a CamelCase machine-readable cause.
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// ConditionStatus is True, False or Unknown.
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "True"
	ConditionFalse   ConditionStatus = "False"
	ConditionUnknown ConditionStatus = "Unknown"
)

// DeepCopy creates a deep copy of ObjectMeta.
func (in *ObjectMeta) DeepCopy() *ObjectMeta {
	if in == nil {
		return nil
	}
	out := new(ObjectMeta)
	*out = *in
	if in.Labels != nil {
		out.Labels = maps.Clone(in.Labels)
	}
	if in.Annotations != nil {
		out.Annotations = maps.Clone(in.Annotations)
	}
	return out
}
