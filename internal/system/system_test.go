package system

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestClassify(t *testing.T) {
	cases := map[string]Transport{
		"/dev/nvme0n1":   TransportNVMe,
		"/dev/nvme12n3":  TransportNVMe,
		"/dev/nvme0n1p2": TransportNVMe,
		"/dev/sda":       TransportATA,
		"/dev/sdb3":      TransportATA,
		"/dev/nvme0":     TransportATA,
		"/dev/mmcblk0":   TransportATA,
		"/dev/vdb":       TransportATA,
	}
	for path, want := range cases {
		assert.Equal(t, want, Classify(path), path)
	}
}

// fakeSysfs builds class/block entries under a temp root. Partitions are
// symlinks into their parent disk directory, as on a real system.
func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	devices := filepath.Join(root, "devices", "pci0000:00")
	class := filepath.Join(root, "class", "block")
	require.NoError(t, os.MkdirAll(class, 0o755))

	mkdisk := func(disk string, parts ...string) {
		diskDir := filepath.Join(devices, disk)
		require.NoError(t, os.MkdirAll(filepath.Join(diskDir, "device"), 0o755))
		require.NoError(t, os.Symlink(diskDir, filepath.Join(class, disk)))
		for _, p := range parts {
			partDir := filepath.Join(diskDir, p)
			require.NoError(t, os.MkdirAll(partDir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(partDir, "partition"), []byte("1\n"), 0o644))
			require.NoError(t, os.Symlink(partDir, filepath.Join(class, p)))
		}
	}
	mkdisk("sda", "sda1", "sda2")
	mkdisk("nvme0n1", "nvme0n1p1")
	require.NoError(t, os.WriteFile(filepath.Join(devices, "sda", "device", "model"), []byte("Samsung SSD 870 \n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(devices, "sda", "device", "serial"), []byte("S5XXNJ0R\n"), 0o644))

	// dm-0 sits on top of nvme0n1p1.
	dm := filepath.Join(root, "devices", "virtual", "block", "dm-0")
	require.NoError(t, os.MkdirAll(filepath.Join(dm, "slaves"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(class, "nvme0n1p1"), filepath.Join(dm, "slaves", "nvme0n1p1")))
	require.NoError(t, os.Symlink(dm, filepath.Join(class, "dm-0")))
	return root
}

func withSysfs(t *testing.T, root string) {
	t.Helper()
	old := sysfsRoot
	sysfsRoot = root
	t.Cleanup(func() { sysfsRoot = old })
}

func TestBaseDiskFromSysfs(t *testing.T) {
	withSysfs(t, fakeSysfs(t))

	assert.Equal(t, "sda", BaseDisk("/dev/sda"))
	assert.Equal(t, "sda", BaseDisk("/dev/sda2"))
	assert.Equal(t, "nvme0n1", BaseDisk("/dev/nvme0n1p1"))
	assert.Equal(t, "nvme0n1", BaseDisk("/dev/dm-0"))
}

func TestBaseDiskNameHeuristics(t *testing.T) {
	withSysfs(t, t.TempDir())

	cases := map[string]string{
		"/dev/sdc4":      "sdc",
		"/dev/sdaa12":    "sdaa",
		"/dev/nvme1n2p3": "nvme1n2",
		"/dev/mmcblk0p1": "mmcblk0",
		"/dev/vda1":      "vda",
		"/dev/sdb":       "sdb",
	}
	for path, want := range cases {
		assert.Equal(t, want, BaseDisk(path), path)
	}
}

type memBlock struct {
	size       int64
	sectorSize int
}

func (m *memBlock) ReadAt(p []byte, off int64) (int, error)  { return len(p), nil }
func (m *memBlock) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (m *memBlock) Close() error                             { return nil }
func (m *memBlock) Size() int64                              { return m.size }
func (m *memBlock) SectorSize() int                          { return m.sectorSize }
func (m *memBlock) Discard(offset, length int64) error       { return nil }
func (m *memBlock) Sync() error                              { return nil }

func TestProbe(t *testing.T) {
	withSysfs(t, fakeSysfs(t))
	open := func(path string, writable bool) (BlockDevice, error) {
		assert.False(t, writable)
		return &memBlock{size: 1 << 30, sectorSize: 4096}, nil
	}

	dev, err := Probe("/dev/sda", open)
	require.NoError(t, err)
	assert.Equal(t, "sda", dev.Name)
	assert.Equal(t, TransportATA, dev.Transport)
	assert.Equal(t, int64(1<<30), dev.SizeBytes)
	assert.Equal(t, 4096, dev.SectorSize)
	assert.Equal(t, int64(1<<18), dev.Sectors())
	assert.Equal(t, "Samsung SSD 870", dev.Model)
	assert.Equal(t, "S5XXNJ0R", dev.Serial)
}

func TestProbeDefaultsSectorSize(t *testing.T) {
	withSysfs(t, t.TempDir())
	open := func(path string, writable bool) (BlockDevice, error) {
		return &memBlock{size: 4096 + 100}, nil
	}
	dev, err := Probe("/dev/nvme0n1", open)
	require.NoError(t, err)
	assert.Equal(t, DefaultSectorSize, dev.SectorSize)
	assert.Equal(t, TransportNVMe, dev.Transport)
	assert.Equal(t, int64(8), dev.Sectors())
}

func TestProbeOpenError(t *testing.T) {
	boom := errors.New("permission denied")
	_, err := Probe("/dev/sda", func(string, bool) (BlockDevice, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestCheckBlockDeviceRejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.img")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	assert.ErrorIs(t, CheckBlockDevice(path), ErrNotBlockDevice)
	assert.Error(t, CheckBlockDevice(filepath.Join(t.TempDir(), "missing")))
}

func TestLockDeviceIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 512), 0o600))

	release, err := LockDevice(path)
	require.NoError(t, err)

	_, err = LockDevice(path)
	assert.ErrorIs(t, err, ErrDeviceLocked)

	release()
	release()

	again, err := LockDevice(path)
	require.NoError(t, err)
	again()
}

func TestOpenBlockDeviceOnImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0o600))

	bd, err := OpenBlockDevice(path, true)
	require.NoError(t, err)
	defer bd.Close()

	assert.Equal(t, int64(8192), bd.Size())
	n, err := bd.WriteAt([]byte{0xAA}, 4096)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, bd.Sync())

	buf := make([]byte, 1)
	_, err = bd.ReadAt(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), buf[0])
	assert.True(t, IsUnsupported(bd.Discard(0, 4096)), "regular files have no BLKDISCARD")
}

func TestErrnoClassification(t *testing.T) {
	assert.True(t, IsUnsupported(unix.EOPNOTSUPP))
	assert.True(t, IsUnsupported(unix.ENOTTY))
	assert.False(t, IsUnsupported(unix.EIO))
	assert.False(t, IsUnsupported(nil))
	assert.True(t, IsMediaError(unix.EIO))
	assert.False(t, IsMediaError(unix.ENOTTY))
}

type pathRunner map[string]bool

func (p pathRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return Result{}, nil
}

func (p pathRunner) LookPath(name string) (string, error) {
	if p[name] {
		return "/usr/bin/" + name, nil
	}
	return "", exec.ErrNotFound
}

func TestProbeCapabilities(t *testing.T) {
	tools := ToolSet{NVMe: "nvme", Hdparm: "hdparm", Shred: "shred"}

	caps := ProbeCapabilities(pathRunner{"hdparm": true}, tools, TransportATA)
	require.Len(t, caps, 3)
	assert.NoError(t, MissingRequired(caps))
	assert.Equal(t, "PASS", caps[1].Status())
	assert.Equal(t, "WARN", caps[2].Status())

	caps = ProbeCapabilities(pathRunner{"hdparm": true}, tools, TransportNVMe)
	err := MissingRequired(caps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nvme")
	assert.Equal(t, "FAIL", caps[0].Status())
}

func TestExecRunner(t *testing.T) {
	r := ExecRunner{}
	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, res.Code)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Equal(t, "out\nerr", res.Combined())

	res, err = r.Run(context.Background(), "true")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Code)
}

func TestRootFrom(t *testing.T) {
	root, err := rootFrom([]disk.PartitionStat{
		{Device: "rootfs", Mountpoint: "/", Fstype: "rootfs"},
		{Device: "/dev/nvme0n1p2", Mountpoint: "/", Fstype: "ext4"},
		{Device: "/dev/nvme0n1p1", Mountpoint: "/boot/efi", Fstype: "vfat"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/dev/nvme0n1p2", root)

	_, err = rootFrom([]disk.PartitionStat{
		{Device: "overlay", Mountpoint: "/", Fstype: "overlay"},
		{Device: "/dev/sr0", Mountpoint: "/run/live/medium", Fstype: "iso9660"},
	})
	assert.ErrorIs(t, err, ErrRootNotDevice)
	assert.Contains(t, err.Error(), "overlay")

	_, err = rootFrom([]disk.PartitionStat{{Device: "/dev/sda1", Mountpoint: "/data"}})
	assert.ErrorIs(t, err, ErrRootNotFound)
}
