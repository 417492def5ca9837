// Package naming derives stable host-side names for guest resources.
//
// A guest interface with a configured IP gets a MAC address and tap device
// name computed from that IP, so the same definition always produces the
// same wiring on the host bridge.
package naming

import (
	"fmt"
	"net/netip"
	"strings"
)

// macPrefix is a locally administered prefix.
const macPrefix = "be:ef"

// tapPrefix keeps tap names at ten characters, under the 15 byte IFNAMSIZ limit.
const tapPrefix = "vm"

// MACFromIP calculates a deterministic MAC address from an IPv4 address.
//
// Example: IP 10.55.22.22 → MAC be:ef:0a:37:16:16
func MACFromIP(ip string) (string, error) {
	b, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%02x:%02x:%02x:%02x", macPrefix, b[0], b[1], b[2], b[3]), nil
}

// InterfaceNameFromIP calculates a deterministic tap interface name from an IPv4 address.
//
// Example: IP 10.55.22.22 → vm0a371616
func InterfaceNameFromIP(ip string) (string, error) {
	b, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%02x%02x%02x%02x", tapPrefix, b[0], b[1], b[2], b[3]), nil
}

// parseIPv4 accepts "10.1.2.3" and "10.1.2.3/24".
func parseIPv4(ip string) ([4]byte, error) {
	var addr netip.Addr
	if strings.Contains(ip, "/") {
		p, err := netip.ParsePrefix(ip)
		if err != nil {
			return [4]byte{}, fmt.Errorf("invalid IP/CIDR: %w", err)
		}
		addr = p.Addr()
	} else {
		a, err := netip.ParseAddr(ip)
		if err != nil {
			return [4]byte{}, fmt.Errorf("invalid IP address: %s", ip)
		}
		addr = a
	}

	addr = addr.Unmap()
	if !addr.Is4() {
		return [4]byte{}, fmt.Errorf("not an IPv4 address: %s", ip)
	}
	return addr.As4(), nil
}
