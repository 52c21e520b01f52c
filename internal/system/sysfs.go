package system

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// sysfsRoot is replaced in tests.
var sysfsRoot = "/sys"

var (
	nvmePartition = regexp.MustCompile(`^(nvme\d+n\d+)p\d+$`)
	mmcPartition  = regexp.MustCompile(`^((?:mmcblk|loop|nbd)\d+)p\d+$`)
	sdPartition   = regexp.MustCompile(`^((?:sd|hd|vd|xvd)[a-z]+)\d+$`)
)

// KernelName resolves symlinks such as /dev/disk/by-id/* and returns the
// kernel device name (sda2, nvme0n1p1, dm-0).
func KernelName(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return filepath.Base(path)
}

// BaseDisk returns the whole-disk kernel name that owns path. Partitions map
// to their parent and device-mapper nodes to their first underlying disk.
func BaseDisk(path string) string {
	name := KernelName(path)
	if strings.HasPrefix(path, "/dev/mapper/") && !strings.HasPrefix(name, "dm-") {
		// Unresolved mapper name; nothing in sysfs is keyed by it.
		return name
	}
	return baseOf(name, 0)
}

func baseOf(name string, depth int) string {
	blockDir := filepath.Join(sysfsRoot, "class", "block", name)

	if depth < 8 {
		if slaves, err := os.ReadDir(filepath.Join(blockDir, "slaves")); err == nil && len(slaves) > 0 {
			return baseOf(slaves[0].Name(), depth+1)
		}
	}

	if _, err := os.Stat(filepath.Join(blockDir, "partition")); err == nil {
		if target, err := filepath.EvalSymlinks(blockDir); err == nil {
			return filepath.Base(filepath.Dir(target))
		}
	}

	for _, re := range []*regexp.Regexp{nvmePartition, mmcPartition, sdPartition} {
		if m := re.FindStringSubmatch(name); m != nil {
			return m[1]
		}
	}
	return name
}

// readSysfsAttr reads /sys/class/block/<name>/<rel>, trimmed.
func readSysfsAttr(name string, rel ...string) string {
	parts := append([]string{sysfsRoot, "class", "block", name}, rel...)
	data, err := os.ReadFile(filepath.Join(parts...))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
