// Package app wires the guard, classifier, unlocker, erase engine, verifier
// and reporter into the commands the CLI exposes.
package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"

	"disksanitizer/internal/config"
	"disksanitizer/internal/logging"
	"disksanitizer/internal/reporting"
	"disksanitizer/internal/security"
	"disksanitizer/internal/system"
	"disksanitizer/internal/verify"
	"disksanitizer/internal/wipe"
)

// Dependencies are the host-facing collaborators. Tests replace them with
// in-memory fakes.
type Dependencies struct {
	Mounts     system.MountTable
	Runner     system.Runner
	Open       system.Opener
	Probe      func(path string, open system.Opener) (system.Device, error)
	Lock       func(path string) (func(), error)
	Host       func(ctx context.Context) system.HostInfo
	Privileged func() bool
	BlockCheck func(path string) error
	Confirm    Confirmer
	Progress   wipe.ProgressFunc
	Timer      backoff.Timer
	Now        func() time.Time
	Console    *Console
	// Signals receives SIGINT/SIGTERM while the erase stage runs.
	Signals func(c chan<- os.Signal)
}

// DefaultDependencies talks to the real host.
func DefaultDependencies(cfg *config.Config) Dependencies {
	return Dependencies{
		Mounts:     system.HostMounts{},
		Runner:     system.ExecRunner{Timeout: cfg.CommandTimeout()},
		Open:       system.OpenBlockDevice,
		Probe:      system.Probe,
		Lock:       system.LockDevice,
		Host:       system.CollectHostInfo,
		Privileged: system.IsPrivileged,
		BlockCheck: system.CheckBlockDevice,
		Confirm:    SurveyConfirm,
		Progress:   TerminalProgress(os.Stderr),
		Now:        time.Now,
		Console:    NewConsole(os.Stdout),
		Signals: func(c chan<- os.Signal) {
			signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		},
	}
}

// Sanitizer runs one invocation against one device.
type Sanitizer struct {
	cfg     *config.Config
	logger  *logging.Logger
	deps    Dependencies
	version string
}

func New(cfg *config.Config, logger *logging.Logger, deps Dependencies, version string) *Sanitizer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Console == nil {
		deps.Console = NewConsole(io.Discard)
	}
	if deps.Host == nil {
		deps.Host = func(context.Context) system.HostInfo { return system.HostInfo{} }
	}
	return &Sanitizer{cfg: cfg, logger: logger, deps: deps, version: version}
}

// Result is what an erase run produced.
type Result struct {
	Outcome      *wipe.RunOutcome
	Verification verify.Result
	ReportPath   string
}

func (s *Sanitizer) guard() (*security.Guard, error) {
	g, err := security.NewGuard(s.cfg, s.deps.Mounts, s.logger)
	if err != nil {
		return nil, err
	}
	if s.deps.Privileged != nil {
		g.Privileged = s.deps.Privileged
	}
	if s.deps.BlockCheck != nil {
		g.BlockCheck = s.deps.BlockCheck
	}
	return g, nil
}

func (s *Sanitizer) tools() system.ToolSet {
	return system.ToolSet{NVMe: s.cfg.Tools.NVMe, Hdparm: s.cfg.Tools.Hdparm, Shred: s.cfg.Tools.Shred}
}

// probe classifies the target and checks that the tools its transport
// requires are installed.
func (s *Sanitizer) probe(path string) (system.Device, error) {
	dev, err := s.deps.Probe(path, s.deps.Open)
	if err != nil {
		return system.Device{}, errors.WithHint(
			errors.Wrapf(errors.Mark(err, security.ErrInvalidTarget), "probe %s", path),
			"the device could not be opened read-only")
	}
	s.logger.Log("INFO", "device classified", "device", dev.Path, "transport", dev.Transport,
		"size", dev.SizeBytes, "sector_size", dev.SectorSize, "model", dev.Model, "serial", dev.Serial)

	caps := system.ProbeCapabilities(s.deps.Runner, s.tools(), dev.Transport)
	if err := system.MissingRequired(caps); err != nil {
		return dev, errors.WithHint(errors.Mark(err, ErrMissingCapability),
			"install nvme-cli for NVMe targets or hdparm for ATA targets")
	}
	return dev, nil
}

// Erase runs the full pipeline. A report is written iff the erase engine
// started; a failed verification returns ErrVerifyFailed alongside a
// complete Result.
func (s *Sanitizer) Erase(ctx context.Context, path string, assumeYes bool) (*Result, error) {
	con := s.deps.Console

	con.Stage("checking %s", path)
	g, err := s.guard()
	if err != nil {
		return nil, err
	}
	if err := g.Check(ctx, path); err != nil {
		return nil, err
	}

	dev, err := s.probe(path)
	if err != nil {
		return nil, err
	}
	con.OK("%s: %s, %s, %s %s", dev.Path, dev.Transport, humanBytes(dev.SizeBytes), dev.Model, dev.Serial)

	if s.cfg.Security.LockDevice && s.deps.Lock != nil {
		release, err := s.deps.Lock(path)
		if err != nil {
			return nil, errors.WithHint(err, "another disksan run is using this device")
		}
		defer release()
	}

	if s.cfg.Security.RequireConfirmation && !assumeYes {
		if s.deps.Confirm == nil {
			return nil, errors.WithHint(ErrDeclined, "no interactive confirmation available; pass --yes")
		}
		ok, err := s.deps.Confirm(dev)
		if err != nil {
			return nil, errors.Wrap(errors.Mark(err, ErrDeclined), "confirmation")
		}
		if !ok {
			s.logger.Log("INFO", "operator declined", "device", dev.Path)
			return nil, ErrDeclined
		}
	}

	stopSignals := s.holdSignals()
	defer stopSignals()

	out := wipe.NewRunOutcome(dev, s.deps.Now())
	log := s.logger.With("run_id", out.ID)
	log.Log("INFO", "run started", "device", dev.Path, "version", s.version)

	con.Stage("revealing hidden areas")
	unlocker := &wipe.Unlocker{Runner: s.deps.Runner, Tool: s.cfg.Tools.Hdparm, Logger: log}
	out.HiddenArea = unlocker.Unlock(ctx, dev)
	if out.HiddenArea.HPADetected {
		out.Note("host protected area found: %d of %d sectors visible, reveal %s",
			out.HiddenArea.CurrentMaxSectors, out.HiddenArea.NativeMaxSectors, out.HiddenArea.HPA)
		if reprobed, err := s.deps.Probe(path, s.deps.Open); err == nil && reprobed.SizeBytes > dev.SizeBytes {
			out.Note("capacity grew from %d to %d bytes after unlock", dev.SizeBytes, reprobed.SizeBytes)
			dev = reprobed
			out.Device = dev
		}
	}

	con.Stage("erasing")
	opts := []wipe.Option{wipe.WithClock(s.deps.Now)}
	if s.deps.Timer != nil {
		opts = append(opts, wipe.WithTimer(s.deps.Timer))
	}
	if s.deps.Progress != nil {
		opts = append(opts, wipe.WithProgress(s.deps.Progress))
	}
	wipe.NewEngine(s.cfg, log, s.deps.Runner, s.deps.Open, opts...).Run(ctx, dev, out)
	s.narrateErase(out)

	con.Stage("verifying %d sampled sectors", s.cfg.Verify.Samples)
	res := s.verify(ctx, log, path)
	if res.Reason != "" {
		out.Note("verification incomplete: %s", res.Reason)
	}
	out.SetVerification(res.Summary())
	out.EndTime = s.deps.Now().UTC()

	report := reporting.Generate(out, s.deps.Host(ctx), s.cfg, s.version)
	reportPath, err := reporting.Save(report, s.cfg.Reporting.OutputDir, s.cfg.Reporting.Format, out.StartTime)
	err = reportDurability(log, reportPath, err)
	if err != nil {
		log.Log("ERROR", "report not written", "error", err)
		return &Result{Outcome: out, Verification: res}, errors.WithHint(err, "check reporting.output_dir")
	}
	log.Log("INFO", "run finished", "status", out.Status, "method", out.Method, "report", reportPath)

	result := &Result{Outcome: out, Verification: res, ReportPath: reportPath}
	if !res.Passed() {
		con.Fail("verification: %d/%d sectors blank, status %s", res.Blank, res.Samples, out.Status)
		con.Detail("report: %s", reportPath)
		return result, errors.Wrapf(ErrVerifyFailed, "%d of %d sampled sectors not blank, %d unreadable",
			res.NonBlank+res.Unreadable, res.Samples, res.Unreadable)
	}
	con.OK("verification: %d/%d sectors blank, status %s", res.Blank, res.Samples, out.Status)
	con.Detail("report: %s", reportPath)
	return result, nil
}

// reportDurability downgrades a directory sync failure to a warning once
// the report file itself is on disk.
func reportDurability(log *logging.Logger, path string, err error) error {
	if err != nil && path != "" && errors.Is(err, reporting.ErrDirSync) {
		log.Log("WARN", "report written but directory not synced", "report", path, "error", err)
		return nil
	}
	return err
}

func (s *Sanitizer) narrateErase(out *wipe.RunOutcome) {
	con := s.deps.Console
	for _, a := range out.Attempts {
		switch a.Outcome {
		case wipe.OutcomeSucceeded:
			con.OK("%s (%d tries)", a.Mechanism, a.Tries)
		case wipe.OutcomeUnavailable:
			con.Detail("%s unavailable: %s", a.Mechanism, a.Error)
		default:
			con.Warn("%s failed after %d tries: %s", a.Mechanism, a.Tries, a.Error)
		}
	}
	if out.Status == string(wipe.StatusFallbackDegraded) {
		con.Fail("erase degraded: method %s", out.Method)
		return
	}
	con.OK("erase: %s via %s", out.Status, out.Method)
}

// verify reopens the device so reads do not come from a handle the engine
// wrote through.
func (s *Sanitizer) verify(ctx context.Context, log *logging.Logger, path string) verify.Result {
	v := verify.New(s.cfg.Verify.Samples, s.cfg.Verify.Seed, log)
	bd, err := s.deps.Open(path, false)
	if err != nil {
		log.Log("ERROR", "cannot reopen device for verification", "error", err)
		return verify.Result{Seed: v.Seed(), Reason: "device could not be reopened: " + err.Error()}
	}
	defer bd.Close()
	return v.Verify(ctx, bd)
}

// holdSignals logs and ignores SIGINT/SIGTERM until the returned func runs.
func (s *Sanitizer) holdSignals() func() {
	if s.deps.Signals == nil {
		return func() {}
	}
	ch := make(chan os.Signal, 1)
	s.deps.Signals(ch)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				s.logger.Log("WARN", "signal ignored while erasing", "signal", sig.String())
				s.deps.Console.Warn("%s ignored: the erase cannot be interrupted safely", sig)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// VerifyOnly samples a device without erasing it. reportDir, when not
// empty, receives a verification report.
func (s *Sanitizer) VerifyOnly(ctx context.Context, path, reportDir string) (verify.Result, string, error) {
	g, err := s.guard()
	if err != nil {
		return verify.Result{}, "", err
	}
	if err := g.Check(ctx, path); err != nil {
		return verify.Result{}, "", err
	}
	dev, err := s.deps.Probe(path, s.deps.Open)
	if err != nil {
		return verify.Result{}, "", errors.Mark(err, security.ErrInvalidTarget)
	}

	at := s.deps.Now()
	s.deps.Console.Stage("verifying %d sampled sectors of %s", s.cfg.Verify.Samples, path)
	res := s.verify(ctx, s.logger, path)

	var reportPath string
	if reportDir != "" {
		r := reporting.GenerateVerificationReport(dev, s.deps.Host(ctx), res, s.version, at)
		reportPath, err = reporting.SaveVerificationReport(r, reportDir, s.cfg.Reporting.Format, at)
		err = reportDurability(s.logger, reportPath, err)
		if err != nil {
			return res, "", err
		}
	}

	if !res.Passed() {
		s.deps.Console.Fail("%d/%d sectors blank (seed %d)", res.Blank, res.Samples, res.Seed)
		return res, reportPath, errors.Wrapf(ErrVerifyFailed, "%d non-blank, %d unreadable", res.NonBlank, res.Unreadable)
	}
	s.deps.Console.OK("%d/%d sectors blank (seed %d)", res.Blank, res.Samples, res.Seed)
	return res, reportPath, nil
}

// DeviceInfo is what Info reports about a target without changing it.
type DeviceInfo struct {
	Device            system.Device       `json:"device" yaml:"device"`
	HPAQueried        bool                `json:"hpa_queried" yaml:"hpa_queried"`
	HPADetected       bool                `json:"hpa_detected" yaml:"hpa_detected"`
	CurrentMaxSectors uint64              `json:"current_max_sectors,omitempty" yaml:"current_max_sectors,omitempty"`
	NativeMaxSectors  uint64              `json:"native_max_sectors,omitempty" yaml:"native_max_sectors,omitempty"`
	Capabilities      []system.Capability `json:"capabilities" yaml:"capabilities"`
}

// Info probes and classifies path and queries the HPA read-only.
func (s *Sanitizer) Info(ctx context.Context, path string) (*DeviceInfo, error) {
	g, err := s.guard()
	if err != nil {
		return nil, err
	}
	if err := g.CheckArgument(path); err != nil {
		return nil, err
	}
	if err := g.BlockCheck(path); err != nil {
		return nil, errors.Mark(err, security.ErrInvalidTarget)
	}
	dev, err := s.deps.Probe(path, s.deps.Open)
	if err != nil {
		return nil, errors.Mark(err, security.ErrInvalidTarget)
	}

	info := &DeviceInfo{
		Device:       dev,
		Capabilities: system.ProbeCapabilities(s.deps.Runner, s.tools(), dev.Transport),
	}
	if dev.Transport == system.TransportATA {
		if _, err := s.deps.Runner.LookPath(s.cfg.Tools.Hdparm); err == nil {
			u := &wipe.Unlocker{Runner: s.deps.Runner, Tool: s.cfg.Tools.Hdparm, Logger: s.logger}
			current, native, _, err := u.QueryHPA(ctx, dev)
			if err == nil {
				info.HPAQueried = true
				info.CurrentMaxSectors, info.NativeMaxSectors = current, native
				info.HPADetected = current != native
			} else {
				s.logger.Log("WARN", "hpa query failed", "device", path, "error", err)
			}
		}
	}
	return info, nil
}

// Check lists external tool capabilities. A required tool for transport
// that is missing returns ErrMissingCapability.
func (s *Sanitizer) Check(transport system.Transport) ([]system.Capability, error) {
	caps := system.ProbeCapabilities(s.deps.Runner, s.tools(), transport)
	if err := system.MissingRequired(caps); err != nil {
		return caps, errors.Mark(err, ErrMissingCapability)
	}
	return caps, nil
}

// WriteCapabilities prints one PASS/WARN/FAIL line per capability.
func WriteCapabilities(w io.Writer, caps []system.Capability) {
	con := NewConsole(w)
	for _, c := range caps {
		switch c.Status() {
		case "PASS":
			con.OK("%-14s %s (%s)", c.Name, c.Path, c.Purpose)
		case "FAIL":
			con.Fail("%-14s %s not found (%s)", c.Name, c.Tool, c.Purpose)
		default:
			con.Warn("%-14s %s not found (%s)", c.Name, c.Tool, c.Purpose)
		}
	}
}
