// Package loader reads and writes Domain resources as YAML, both for
// one-off manifests and for the definition and status directories the
// manager keeps on disk.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/naming"
)

var namePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9_.]*[a-z0-9])?$`)

// LoadFromFile loads a Domain from a YAML file.
func LoadFromFile(path string) (*v1alpha1.Domain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML parses, defaults and validates a Domain. A missing
// metadata.uid is filled with a new identity.
func LoadFromYAML(data []byte) (*v1alpha1.Domain, error) {
	var d v1alpha1.Domain
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if d.APIVersion == "" {
		return nil, fmt.Errorf("missing required field: apiVersion")
	}
	if d.Kind == "" {
		return nil, fmt.Errorf("missing required field: kind")
	}

	expectedAPIVersion := v1alpha1.GroupName + "/" + v1alpha1.Version
	if d.APIVersion != expectedAPIVersion {
		return nil, fmt.Errorf("unsupported apiVersion: %s (expected: %s)", d.APIVersion, expectedAPIVersion)
	}
	if d.Kind != v1alpha1.DomainKind {
		return nil, fmt.Errorf("unsupported kind: %s (expected: %s)", d.Kind, v1alpha1.DomainKind)
	}

	applyDefaults(&d)

	if err := validateSpec(&d); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &d, nil
}

// Marshal serializes a Domain to YAML.
func Marshal(d *v1alpha1.Domain) ([]byte, error) {
	v1alpha1.SetDefaultAPIVersion(d)

	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal domain %s to YAML: %w", d.Name, err)
	}
	return data, nil
}

// SaveToFile writes a Domain to path, replacing any existing file atomically.
func SaveToFile(d *v1alpha1.Domain, path string) error {
	data, err := Marshal(d)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod file %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}

func applyDefaults(d *v1alpha1.Domain) {
	d.Normalize()
	if d.UID == "" {
		d.UID = uuid.New().String()
	}
	if d.Generation == 0 {
		d.Generation = 1
	}
}

func validateSpec(d *v1alpha1.Domain) error {
	if d.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("metadata.name %q must be lowercase alphanumerics, '-', '_' or '.'", d.Name)
	}
	if _, err := d.GetUUID(); err != nil {
		return err
	}

	switch d.Spec.Type {
	case "kvm", "qemu", "xen":
	default:
		return fmt.Errorf("spec.type %q is not supported (kvm, qemu, xen)", d.Spec.Type)
	}
	switch d.Spec.CPUMode {
	case "host-model", "host-passthrough":
	default:
		return fmt.Errorf("spec.cpuMode %q is not supported (host-model, host-passthrough)", d.Spec.CPUMode)
	}

	if d.Spec.VCPUs <= 0 {
		return fmt.Errorf("spec.vcpus must be greater than 0")
	}
	if d.Spec.MemoryMiB <= 0 {
		return fmt.Errorf("spec.memoryMiB must be greater than 0")
	}

	devicesSeen := make(map[string]bool)
	for i, disk := range d.Spec.Disks {
		if disk.Device == "" {
			return fmt.Errorf("spec.disks[%d].device is required", i)
		}
		if devicesSeen[disk.Device] {
			return fmt.Errorf("spec.disks[%d].device %q is duplicated", i, disk.Device)
		}
		devicesSeen[disk.Device] = true

		hasVolume := disk.Pool != "" || disk.Volume != ""
		if disk.Path == "" && !hasVolume {
			return fmt.Errorf("spec.disks[%d] must specify either 'path' or 'pool' and 'volume'", i)
		}
		if disk.Path != "" && hasVolume {
			return fmt.Errorf("spec.disks[%d] cannot specify both 'path' and a volume", i)
		}
		if hasVolume && (disk.Pool == "" || disk.Volume == "") {
			return fmt.Errorf("spec.disks[%d] volume references need both 'pool' and 'volume'", i)
		}
		if disk.Format != "qcow2" && disk.Format != "raw" {
			return fmt.Errorf("spec.disks[%d].format %q is not supported (qcow2, raw)", i, disk.Format)
		}
	}

	for i, iface := range d.Spec.NetworkInterfaces {
		if iface.Bridge == "" {
			return fmt.Errorf("spec.networkInterfaces[%d].bridge is required", i)
		}
		if iface.IP != "" {
			if _, err := naming.MACFromIP(iface.IP); err != nil {
				return fmt.Errorf("spec.networkInterfaces[%d].ip: %w", i, err)
			}
		}
	}

	if g := d.Spec.Graphics; g != nil {
		if g.Type != v1alpha1.GraphicsVNC {
			return fmt.Errorf("spec.graphics.type %q is not supported (vnc)", g.Type)
		}
		if g.Port < 0 || g.Port > 65535 {
			return fmt.Errorf("spec.graphics.port %d is out of range", g.Port)
		}
		if !g.AutoPort && g.Port == 0 {
			return fmt.Errorf("spec.graphics.port is required unless autoPort is set")
		}
	}

	return nil
}
