package app

import (
	"github.com/cockroachdb/errors"

	"disksanitizer/internal/security"
	"disksanitizer/internal/system"
)

// Process exit codes.
const (
	ExitOK                = 0
	ExitUsage             = 1
	ExitPlaceholder       = 2
	ExitDeclined          = 4
	ExitRootDisk          = 9
	ExitInUse             = 10
	ExitLocked            = 11
	ExitVerifyFailed      = 20
	ExitMissingCapability = 127
)

var (
	ErrDeclined          = errors.New("operator declined confirmation")
	ErrMissingCapability = errors.New("required external tool missing")
	ErrVerifyFailed      = errors.New("verification failed")
)

// ExitCode maps a pipeline error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, security.ErrPlaceholder):
		return ExitPlaceholder
	case errors.Is(err, ErrDeclined):
		return ExitDeclined
	case errors.Is(err, security.ErrRootDisk):
		return ExitRootDisk
	case errors.Is(err, security.ErrMounted):
		return ExitInUse
	case errors.Is(err, system.ErrDeviceLocked):
		return ExitLocked
	case errors.Is(err, ErrVerifyFailed):
		return ExitVerifyFailed
	case errors.Is(err, ErrMissingCapability):
		return ExitMissingCapability
	default:
		return ExitUsage
	}
}
