package libvirt

import (
	"fmt"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/corral/api/v1alpha1"
)

// StorageAPI is the part of go-libvirt used to resolve volume-backed disks.
type StorageAPI interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
}

// ResolveVolume returns the host path of volume in pool.
func ResolveVolume(api StorageAPI, pool, volume string) (string, error) {
	p, err := api.StoragePoolLookupByName(pool)
	if err != nil {
		return "", fmt.Errorf("pool %s not found: %w", pool, err)
	}
	vol, err := api.StorageVolLookupByName(p, volume)
	if err != nil {
		return "", fmt.Errorf("volume %s not found in pool %s: %w", volume, pool, err)
	}
	path, err := api.StorageVolGetPath(vol)
	if err != nil {
		return "", fmt.Errorf("failed to get path of volume %s/%s: %w", pool, volume, err)
	}
	return path, nil
}

// checkVolumes verifies that every volume-backed disk of def exists, so a
// missing volume fails before anything is launched.
func checkVolumes(api StorageAPI, def *v1alpha1.Domain) error {
	for _, d := range def.Spec.Disks {
		if d.Volume == "" {
			continue
		}
		if _, err := ResolveVolume(api, d.Pool, d.Volume); err != nil {
			return fmt.Errorf("disk %s: %w", d.Device, err)
		}
	}
	return nil
}
