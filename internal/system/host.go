package system

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/host"
)

// HostInfo identifies the machine that ran the wipe.
type HostInfo struct {
	Hostname        string `json:"hostname" yaml:"hostname"`
	OS              string `json:"os" yaml:"os"`
	Platform        string `json:"platform,omitempty" yaml:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty" yaml:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version" yaml:"kernel_version"`
	KernelArch      string `json:"kernel_arch,omitempty" yaml:"kernel_arch,omitempty"`
}

// CollectHostInfo never fails; unknown fields stay empty.
func CollectHostInfo(ctx context.Context) HostInfo {
	info := HostInfo{}
	if hi, err := host.InfoWithContext(ctx); err == nil {
		info = HostInfo{
			Hostname:        hi.Hostname,
			OS:              hi.OS,
			Platform:        hi.Platform,
			PlatformVersion: hi.PlatformVersion,
			KernelVersion:   hi.KernelVersion,
			KernelArch:      hi.KernelArch,
		}
	}
	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}
	return info
}
