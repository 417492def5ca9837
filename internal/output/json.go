package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jbweber/corral/api/v1alpha1"
)

// JSONFormatter formats domains as indented JSON.
type JSONFormatter struct{}

// FormatDomain formats a single domain as JSON.
func (f *JSONFormatter) FormatDomain(d *v1alpha1.Domain) (string, error) {
	// Ensure TypeMeta is set
	v1alpha1.SetDefaultAPIVersion(d)

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// FormatDomainList formats domains as a List object:
//
//	{
//	  "apiVersion": "corral.jbweber.dev/v1alpha1",
//	  "kind": "DomainList",
//	  "items": [...]
//	}
func (f *JSONFormatter) FormatDomainList(ds []*v1alpha1.Domain) (string, error) {
	// Ensure TypeMeta is set for all domains
	for _, d := range ds {
		v1alpha1.SetDefaultAPIVersion(d)
	}
	if ds == nil {
		ds = []*v1alpha1.Domain{}
	}

	wrapper := map[string]interface{}{
		"apiVersion": v1alpha1.GroupName + "/" + v1alpha1.Version,
		"kind":       v1alpha1.DomainKind + "List",
		"items":      ds,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(wrapper); err != nil {
		return "", fmt.Errorf("failed to marshal domain list to JSON: %w", err)
	}
	return buf.String(), nil
}
