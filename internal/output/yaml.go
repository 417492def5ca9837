package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/corral/api/v1alpha1"
)

// YAMLFormatter formats domains as YAML.
type YAMLFormatter struct{}

// FormatDomain formats a single domain as YAML.
func (f *YAMLFormatter) FormatDomain(d *v1alpha1.Domain) (string, error) {
	// Ensure TypeMeta is set
	v1alpha1.SetDefaultAPIVersion(d)

	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain to YAML: %w", err)
	}
	return string(data), nil
}

// FormatDomainList formats domains as a YAML stream, one document each.
func (f *YAMLFormatter) FormatDomainList(ds []*v1alpha1.Domain) (string, error) {
	var buf bytes.Buffer
	for i, d := range ds {
		v1alpha1.SetDefaultAPIVersion(d)

		data, err := yaml.Marshal(d)
		if err != nil {
			return "", fmt.Errorf("failed to marshal domain %s to YAML: %w", d.Name, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}
