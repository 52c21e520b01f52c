package wipe

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"disksanitizer/internal/logging"
	"disksanitizer/internal/system"
)

// Unlocker exposes sectors hidden by a Host Protected Area or a Device
// Configuration Overlay. Every step is best-effort; Unlock never fails.
type Unlocker struct {
	Runner system.Runner
	Tool   string
	Logger *logging.Logger
}

var maxSectorsRe = regexp.MustCompile(`max sectors\s*=\s*(\d+)\s*/\s*(\d+)`)

// ParseMaxSectors reads "max sectors = current/native" from `hdparm -N`.
func ParseMaxSectors(out string) (current, native uint64, ok bool) {
	m := maxSectorsRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, false
	}
	current, err1 := strconv.ParseUint(m[1], 10, 64)
	native, err2 := strconv.ParseUint(m[2], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return current, native, true
}

func (u *Unlocker) Unlock(ctx context.Context, dev system.Device) UnlockResult {
	res := UnlockResult{HPA: StepSkipped, DCOIdentify: StepSkipped, DCORestore: StepSkipped}
	if dev.Transport != system.TransportATA {
		u.Logger.Log("INFO", "hidden-area unlock not applicable", "device", dev.Path, "transport", dev.Transport)
		return res
	}
	if _, err := u.Runner.LookPath(u.Tool); err != nil {
		u.Logger.Log("WARN", "hidden-area unlock skipped, tool missing", "tool", u.Tool)
		res.HPA, res.DCOIdentify, res.DCORestore = StepUnsupported, StepUnsupported, StepUnsupported
		return res
	}

	res.HPA = u.revealHPA(ctx, dev, &res)
	res.DCOIdentify = u.step(ctx, dev, "dco identify", "--dco-identify", dev.Path)
	res.DCORestore = u.step(ctx, dev, "dco restore", "--yes-i-know-what-i-am-doing", "--dco-restore", dev.Path)
	return res
}

// ErrHPAUnknown means `hdparm -N` ran but its output had no sector counts.
var ErrHPAUnknown = errors.New("hpa state not reported")

// QueryHPA reads the current and native max sector counts without changing
// anything on the device.
func (u *Unlocker) QueryHPA(ctx context.Context, dev system.Device) (current, native uint64, out system.Result, err error) {
	out, err = u.Runner.Run(ctx, u.Tool, "-N", dev.Path)
	if err != nil {
		return 0, 0, out, err
	}
	current, native, ok := ParseMaxSectors(out.Combined())
	if !ok {
		return 0, 0, out, ErrHPAUnknown
	}
	return current, native, out, nil
}

func (u *Unlocker) revealHPA(ctx context.Context, dev system.Device, res *UnlockResult) StepResult {
	current, native, out, err := u.QueryHPA(ctx, dev)
	if errors.Is(err, ErrHPAUnknown) {
		u.Logger.Log("WARN", "hpa query output not understood", "device", dev.Path)
		return StepUnsupported
	}
	if err != nil {
		return u.classify("hpa query", out, err)
	}
	res.CurrentMaxSectors, res.NativeMaxSectors = current, native
	if current == native {
		u.Logger.Log("INFO", "no host protected area", "device", dev.Path, "sectors", native)
		return StepSkipped
	}

	res.HPADetected = true
	u.Logger.Log("WARN", "host protected area found", "device", dev.Path, "current", current, "native", native)
	return u.step(ctx, dev, "hpa reveal", "--yes-i-know-what-i-am-doing", "-N", "p"+strconv.FormatUint(native, 10), dev.Path)
}

func (u *Unlocker) step(ctx context.Context, dev system.Device, what string, args ...string) StepResult {
	out, err := u.Runner.Run(ctx, u.Tool, args...)
	if err != nil {
		return u.classify(what, out, err)
	}
	u.Logger.Log("INFO", what+" done", "device", dev.Path)
	return StepSucceeded
}

func (u *Unlocker) classify(what string, out system.Result, err error) StepResult {
	lower := strings.ToLower(out.Combined())
	for _, m := range unsupportedMarkers {
		if strings.Contains(lower, m) {
			u.Logger.Log("INFO", what+" unsupported", "output", out.Combined())
			return StepUnsupported
		}
	}
	u.Logger.Log("WARN", what+" failed", "error", err, "output", out.Combined())
	return StepFailed
}
