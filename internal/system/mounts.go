package system

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// MountPoint is one active use of a device: a mounted filesystem or swap.
type MountPoint struct {
	Device     string
	Mountpoint string
	Fstype     string
}

// MountTable answers the two questions the safety guard asks of the OS.
type MountTable interface {
	// RootSource returns the device backing the root filesystem.
	RootSource(ctx context.Context) (string, error)
	// InUse lists mounts and swap areas on the disk that owns devicePath.
	InUse(ctx context.Context, devicePath string) ([]MountPoint, error)
}

var (
	ErrRootNotFound = errors.New("root filesystem source not found")
	// ErrRootNotDevice means / is mounted from something other than a block
	// device: overlay, squashfs or tmpfs on live media.
	ErrRootNotDevice = errors.New("root filesystem is not backed by a block device")
)

// HostMounts reads mount and swap state through gopsutil.
type HostMounts struct{}

func (HostMounts) RootSource(ctx context.Context) (string, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return "", fmt.Errorf("list mounts: %w", err)
	}
	return rootFrom(parts)
}

func rootFrom(parts []disk.PartitionStat) (string, error) {
	var virtual *disk.PartitionStat
	for i, p := range parts {
		if p.Mountpoint != "/" {
			continue
		}
		if strings.HasPrefix(p.Device, "/dev/") {
			return p.Device, nil
		}
		if virtual == nil {
			virtual = &parts[i]
		}
	}
	if virtual != nil {
		return "", fmt.Errorf("%w: %s (%s)", ErrRootNotDevice, virtual.Device, virtual.Fstype)
	}
	return "", ErrRootNotFound
}

func (HostMounts) InUse(ctx context.Context, devicePath string) ([]MountPoint, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list mounts: %w", err)
	}
	target := BaseDisk(devicePath)

	var used []MountPoint
	for _, p := range parts {
		if !strings.HasPrefix(p.Device, "/dev/") {
			continue
		}
		if BaseDisk(p.Device) == target {
			used = append(used, MountPoint{Device: p.Device, Mountpoint: p.Mountpoint, Fstype: p.Fstype})
		}
	}

	swaps, err := mem.SwapDevicesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list swap: %w", err)
	}
	for _, s := range swaps {
		if strings.HasPrefix(s.Name, "/dev/") && BaseDisk(s.Name) == target {
			used = append(used, MountPoint{Device: s.Name, Mountpoint: "[swap]", Fstype: "swap"})
		}
	}
	return used, nil
}
