// Package metadata stores opaque payloads in libvirt's custom XML metadata
// of a running domain, so the definition a domain was launched with travels
// with the instance and can be recovered after the manager restarts.
package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/corral/internal/errdefs"
)

const (
	// Namespace is the XML namespace corral metadata lives under.
	Namespace = "http://corral.jbweber.dev/v1alpha1"

	// Prefix is the namespace prefix libvirt writes into the domain XML.
	Prefix = "corral"
)

// ErrNotOwned is returned when the metadata element exists but was written
// under a different key.
var ErrNotOwned = errors.New("metadata belongs to another key")

// Client is the part of the libvirt API this package needs.
// *libvirt.Libvirt satisfies it.
type Client interface {
	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
}

// Element is the XML wrapper around a payload. The payload is kept as
// character data so YAML stays readable in `virsh dumpxml`.
type Element struct {
	XMLName xml.Name `xml:"payload"`
	Key     string   `xml:"key,attr"`
	Data    string   `xml:",chardata"`
}

// Store writes data under key, replacing anything stored there before.
func Store(c Client, dom libvirt.Domain, key string, data []byte) error {
	out, err := xml.Marshal(Element{Key: key, Data: string(data)})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata XML: %w", err)
	}

	err = c.DomainSetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{string(out)},
		libvirt.OptString{Prefix},
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return fmt.Errorf("failed to set libvirt domain metadata: %w", err)
	}
	return nil
}

// Load returns the payload stored under key.
func Load(c Client, dom libvirt.Domain, key string) ([]byte, error) {
	raw, err := c.DomainGetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt domain metadata: %w", err)
	}

	var el Element
	if err := xml.Unmarshal([]byte(raw), &el); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal metadata XML: %w", errdefs.ErrMalformedResponse, err)
	}
	if el.Key != key {
		return nil, fmt.Errorf("%w: found %q, want %q", ErrNotOwned, el.Key, key)
	}
	return []byte(el.Data), nil
}

// Delete removes corral metadata from a domain.
func Delete(c Client, dom libvirt.Domain) error {
	err := c.DomainSetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{},
		libvirt.OptString{Prefix},
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return fmt.Errorf("failed to delete libvirt domain metadata: %w", err)
	}
	return nil
}

// Exists reports whether corral metadata is present on a domain.
func Exists(c Client, dom libvirt.Domain) bool {
	_, err := c.DomainGetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	return err == nil
}
