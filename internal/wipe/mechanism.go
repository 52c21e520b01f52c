package wipe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"disksanitizer/internal/system"
)

// Mechanism is one way of erasing a device.
type Mechanism interface {
	Name() string
	Tier() Tier
	// Attempt runs the mechanism once. Errors wrapping ErrUnavailable mean
	// the mechanism cannot work on this device and must not be retried.
	Attempt(ctx context.Context, dev system.Device) error
}

// Mechanism names as they appear in reports.
const (
	NameNVMeSanitize     = "nvme-sanitize-block-erase"
	NameNVMeCryptoFormat = "nvme-format-crypto-erase"
	NameNVMeUserFormat   = "nvme-format-user-erase"
	NameATAEnhancedErase = "ata-enhanced-security-erase"
	NameATAStandardErase = "ata-security-erase"
	NameDiscard          = "discard"
	NameOverwrite        = "overwrite"
	NameBoundaryZero     = "boundary-zero"
)

var ErrUnavailable = errors.New("mechanism unavailable")

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// OutcomeOf maps an Attempt error to its recorded outcome.
func OutcomeOf(err error) AttemptOutcome {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeFailed
	}
}

var unsupportedMarkers = []string{
	"not supported",
	"unsupported",
	"invalid opcode",
	"invalid_opcode",
	"invalid field in command",
	"invalid_field",
	"invalid command opcode",
}

// commandError turns a failed tool invocation into an Attempt error. Output
// saying the device lacks the feature becomes ErrUnavailable.
func commandError(what string, res system.Result, err error, redact func(string) string) error {
	out := res.Combined()
	if redact != nil {
		out = redact(out)
	}
	if len(out) > 512 {
		out = out[:512] + "..."
	}
	lower := strings.ToLower(out)
	for _, m := range unsupportedMarkers {
		if strings.Contains(lower, m) {
			return unavailable("%s: %s", what, out)
		}
	}
	if errors.Is(err, system.ErrTimeout) {
		return fmt.Errorf("%s: %w", what, err)
	}
	if out == "" {
		return fmt.Errorf("%s: exit %d: %v", what, res.Code, err)
	}
	return fmt.Errorf("%s: exit %d: %s", what, res.Code, out)
}

// requireTool reports ErrUnavailable when tool is not installed.
func requireTool(r system.Runner, tool string) error {
	if _, err := r.LookPath(tool); err != nil {
		return unavailable("%s not installed", tool)
	}
	return nil
}
