package system

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrDeviceLocked means another process holds the device lock.
var ErrDeviceLocked = errors.New("device is locked by another process")

// LockDevice takes a non-blocking exclusive flock on the device node. The
// returned release func is idempotent.
func LockDevice(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s for locking: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrDeviceLocked)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	unlocked := false
	return func() {
		if unlocked {
			return
		}
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		unlocked = true
	}, nil
}
