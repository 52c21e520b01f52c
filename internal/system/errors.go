package system

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsUnsupported reports whether err means the device or kernel does not
// implement the requested operation, as opposed to the operation failing.
func IsUnsupported(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range []unix.Errno{unix.EOPNOTSUPP, unix.ENOTTY, unix.ENOSYS, unix.EINVAL} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// IsMediaError reports errno values that indicate an unreadable or
// unwritable region rather than a setup problem.
func IsMediaError(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range []unix.Errno{unix.EIO, unix.ENOSPC, unix.ENXIO, unix.EMEDIUMTYPE} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the process runs with effective uid 0.
func IsPrivileged() bool {
	return unix.Geteuid() == 0
}
