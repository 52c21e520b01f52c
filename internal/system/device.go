package system

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

type linuxDevice struct {
	f          *os.File
	size       int64
	sectorSize int
}

// OpenBlockDevice opens a device node and reads its geometry through the
// BLKGETSIZE64 and BLKSSZGET ioctls.
func OpenBlockDevice(path string, writable bool) (BlockDevice, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	d := &linuxDevice{f: f}
	if d.size, err = ioctlSize(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("size of %s: %w", path, err)
	}
	d.sectorSize = DefaultSectorSize
	if ss, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET); err == nil && ss > 0 {
		d.sectorSize = ss
	}
	return d, nil
}

func ioctlSize(f *os.File) (int64, error) {
	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		// Regular files (images) have no ioctl; fall back to stat.
		fi, err := f.Stat()
		if err != nil || !fi.Mode().IsRegular() {
			return 0, errno
		}
		return fi.Size(), nil
	}
	runtime.KeepAlive(f)
	return int64(size), nil
}

func (d *linuxDevice) ReadAt(p []byte, off int64) (int, error)  { return d.f.ReadAt(p, off) }
func (d *linuxDevice) WriteAt(p []byte, off int64) (int, error) { return d.f.WriteAt(p, off) }
func (d *linuxDevice) Size() int64                              { return d.size }
func (d *linuxDevice) SectorSize() int                          { return d.sectorSize }
func (d *linuxDevice) Sync() error                              { return d.f.Sync() }
func (d *linuxDevice) Close() error                             { return d.f.Close() }

func (d *linuxDevice) Discard(offset, length int64) error {
	r := [2]uint64{uint64(offset), uint64(length)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKDISCARD, uintptr(unsafe.Pointer(&r[0])))
	runtime.KeepAlive(d)
	if errno != 0 {
		return errno
	}
	return nil
}
