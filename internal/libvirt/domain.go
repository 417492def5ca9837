package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/corral/api/v1alpha1"
	"github.com/jbweber/corral/internal/naming"
)

// Poweroff and crash end the instance so the manager sees the stop event
// and decides what happens next. A reboot the guest starts itself resets
// the instance in place and keeps its runtime id. A reboot the manager
// requests is a shutdown followed by a fresh start.
const (
	stopAction   = "destroy"
	rebootAction = "restart"
)

// GenerateDomainXML renders the launch XML for a domain. Autoport graphics
// must already carry the port the manager assigned.
func GenerateDomainXML(def *v1alpha1.Domain) (string, error) {
	domain := &libvirtxml.Domain{
		Type: def.GetType(),
		Name: def.Name,
		UUID: def.UID,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(def.Spec.MemoryMiB),
			Unit:  "MiB",
		},
		CurrentMemory: &libvirtxml.DomainCurrentMemory{
			Value: uint(def.Spec.MemoryMiB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(def.Spec.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
			PAE:  &libvirtxml.DomainFeature{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: def.GetCPUMode(),
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: stopAction,
		OnReboot:   rebootAction,
		OnCrash:    stopAction,
		Devices: &libvirtxml.DomainDeviceList{
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}
	if def.GetType() != "xen" {
		domain.OS.Firmware = "efi"
	}

	for i, d := range def.Spec.Disks {
		disk := libvirtxml.DomainDisk{
			Device: "disk",
			Driver: &libvirtxml.DomainDiskDriver{
				Name:  "qemu",
				Type:  d.Format,
				Cache: "none",
			},
			Source: diskSource(d),
			Target: &libvirtxml.DomainDiskTarget{
				Dev: d.Device,
				Bus: "virtio",
			},
		}
		if d.ReadOnly {
			disk.ReadOnly = &libvirtxml.DomainDiskReadOnly{}
		}
		if i == 0 {
			disk.Boot = &libvirtxml.DomainDeviceBoot{Order: 1}
		}
		domain.Devices.Disks = append(domain.Devices.Disks, disk)
	}

	for _, iface := range def.Spec.NetworkInterfaces {
		netIface, err := bridgeInterface(iface)
		if err != nil {
			return "", err
		}
		domain.Devices.Interfaces = append(domain.Devices.Interfaces, netIface)
	}

	if g := def.Spec.Graphics; g != nil {
		graphic, err := vncGraphic(g)
		if err != nil {
			return "", err
		}
		domain.Devices.Graphics = append(domain.Devices.Graphics, graphic)
	}

	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}

	return xml, nil
}

func diskSource(d v1alpha1.DiskSpec) *libvirtxml.DomainDiskSource {
	if d.Path != "" {
		return &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: d.Path},
		}
	}
	return &libvirtxml.DomainDiskSource{
		Volume: &libvirtxml.DomainDiskSourceVolume{
			Pool:   d.Pool,
			Volume: d.Volume,
		},
	}
}

func bridgeInterface(iface v1alpha1.NetworkInterfaceSpec) (libvirtxml.DomainInterface, error) {
	netIface := libvirtxml.DomainInterface{
		Source: &libvirtxml.DomainInterfaceSource{
			Bridge: &libvirtxml.DomainInterfaceSourceBridge{
				Bridge: iface.Bridge,
			},
		},
		Model: &libvirtxml.DomainInterfaceModel{
			Type: "virtio",
		},
	}

	mac := iface.MAC
	if iface.IP != "" {
		derived, err := naming.MACFromIP(iface.IP)
		if err != nil {
			return netIface, fmt.Errorf("failed to calculate MAC address for %s: %w", iface.IP, err)
		}
		if mac == "" {
			mac = derived
		}

		tap, err := naming.InterfaceNameFromIP(iface.IP)
		if err != nil {
			return netIface, fmt.Errorf("failed to calculate interface name for %s: %w", iface.IP, err)
		}
		netIface.Target = &libvirtxml.DomainInterfaceTarget{Dev: tap}
	}
	if mac != "" {
		netIface.MAC = &libvirtxml.DomainInterfaceMAC{Address: mac}
	}

	return netIface, nil
}

func vncGraphic(g *v1alpha1.GraphicsSpec) (libvirtxml.DomainGraphic, error) {
	if g.Type != v1alpha1.GraphicsVNC {
		return libvirtxml.DomainGraphic{}, fmt.Errorf("unsupported graphics type %q", g.Type)
	}
	if g.Port <= 0 {
		return libvirtxml.DomainGraphic{}, fmt.Errorf("console port not assigned")
	}

	vnc := &libvirtxml.DomainGraphicVNC{
		Port:     g.Port,
		AutoPort: "no",
	}
	if g.Listen != "" {
		vnc.Listeners = []libvirtxml.DomainGraphicListener{
			{Address: &libvirtxml.DomainGraphicListenerAddress{Address: g.Listen}},
		}
	}
	return libvirtxml.DomainGraphic{VNC: vnc}, nil
}
