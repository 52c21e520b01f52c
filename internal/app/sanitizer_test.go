package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disksanitizer/internal/config"
	"disksanitizer/internal/logging"
	"disksanitizer/internal/reporting"
	"disksanitizer/internal/security"
	"disksanitizer/internal/system"
	"disksanitizer/internal/testutil"
	"disksanitizer/internal/wipe"
)

const hdparmIdentify = `
/dev/sdb:

ATA device, with non-removable media
	Model Number:       WDC WD10EZEX-08WN4A0
	Serial Number:      WD-WCC6Y0000000
Security:
	Master password revision code = 65534
		supported
	not	enabled
	not	locked
	not	frozen
	not	expired: security count
		supported: enhanced erase
`

// effectRunner applies a side effect to the in-memory device when a
// matching command succeeds, standing in for what the firmware would do.
type effectRunner struct {
	*testutil.FakeRunner
	match  string
	effect func()
}

func (r *effectRunner) Run(ctx context.Context, name string, args ...string) (system.Result, error) {
	res, err := r.FakeRunner.Run(ctx, name, args...)
	line := name + " " + strings.Join(args, " ")
	if err == nil && strings.Contains(line, r.match) {
		r.effect()
	}
	return res, err
}

type harness struct {
	cfg      *config.Config
	dev      *testutil.MemDevice
	mounts   *testutil.FakeMounts
	timer    *testutil.RecordingTimer
	console  *bytes.Buffer
	locked   int
	released int
	asked    int
	answer   bool
}

func newHarness(t *testing.T, dev *testutil.MemDevice) *harness {
	cfg := config.Default()
	cfg.Reporting.OutputDir = t.TempDir()
	cfg.Verify.Samples = 64
	cfg.Verify.Seed = 1234
	cfg.Erase.ChunkSize = 4096
	cfg.Erase.BoundaryZeroMiB = 1
	return &harness{
		cfg:     cfg,
		dev:     dev,
		mounts:  &testutil.FakeMounts{Root: "/dev/sda2"},
		timer:   &testutil.RecordingTimer{},
		console: &bytes.Buffer{},
		answer:  true,
	}
}

func (h *harness) sanitizer(runner system.Runner) *Sanitizer {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	deps := Dependencies{
		Mounts: h.mounts,
		Runner: runner,
		Open:   h.dev.Opener(),
		Probe: func(path string, open system.Opener) (system.Device, error) {
			return h.dev.DeviceInfo(path), nil
		},
		Lock: func(path string) (func(), error) {
			h.locked++
			return func() { h.released++ }, nil
		},
		Privileged: func() bool { return true },
		BlockCheck: func(string) error { return nil },
		Confirm: func(system.Device) (bool, error) {
			h.asked++
			return h.answer, nil
		},
		Timer: h.timer,
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
		Console: NewConsole(h.console),
	}
	return New(h.cfg, logging.Nop(), deps, "test")
}

func (h *harness) reports(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.cfg.Reporting.OutputDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestEraseNVMeSanitizeVerified(t *testing.T) {
	dev := testutil.NewMemDevice(2048, 512).Fill(0xC3)
	h := newHarness(t, dev)
	runner := &effectRunner{
		FakeRunner: testutil.NewFakeRunner("nvme").
			OK("nvme sanitize /dev/nvme1n1", "").
			On(&testutil.Response{Match: "sanitize-log", Times: 1, Result: system.Result{Stdout: []byte(`{"sanitize_log":{"sstat":0}}`)}}).
			OK("sanitize-log", `{"sanitize_log":{"sstat":1}}`),
		match:  "nvme sanitize /dev/nvme1n1",
		effect: func() { dev.Fill(0) },
	}

	res, err := h.sanitizer(runner).Erase(context.Background(), "/dev/nvme1n1", false)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(err))

	assert.Equal(t, "FirmwareEraseOK+Verified", res.Outcome.Status)
	assert.Equal(t, wipe.NameNVMeSanitize, res.Outcome.Method)
	assert.Equal(t, 64, res.Verification.Samples)
	assert.Zero(t, runner.Count("hdparm"), "no ATA commands for NVMe")
	assert.Equal(t, 1, h.asked)
	assert.Equal(t, 1, h.locked)
	assert.Equal(t, 1, h.released)

	data, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "FirmwareEraseOK+Verified", report["status"])
	assert.Equal(t, "nvme-sanitize-block-erase", report["method"])
	assert.True(t, strings.HasPrefix(filepath.Base(res.ReportPath), "disksan_nvme1n1_"))
	assert.Contains(t, h.console.String(), "verification: 64/64 sectors blank")
}

func TestEraseATAFallsBackToDiscard(t *testing.T) {
	dev := testutil.NewMemDevice(4096, 512).Fill(0x42)
	h := newHarness(t, dev)
	h.cfg.Erase.MaxAttempts = 3
	runner := testutil.NewFakeRunner("hdparm").
		Fail("hdparm -N", "SG_IO: bad/missing sense data").
		Fail("--dco-identify", "SG_IO: bad/missing sense data").
		Fail("--dco-restore", "SG_IO: bad/missing sense data").
		OK("hdparm -I", hdparmIdentify).
		OK("--security-set-pass", "").
		Fail("--security-erase-enhanced", "SECURITY_ERASE: Input/output error").
		Fail("--security-erase ", "SECURITY_ERASE: Input/output error").
		OK("--security-disable", "")

	res, err := h.sanitizer(runner).Erase(context.Background(), "/dev/sdb", true)
	require.NoError(t, err)

	out := res.Outcome
	assert.Equal(t, "FallbackOK+Verified", out.Status)
	assert.Equal(t, "discard+overwrite(zero-fill)+boundary-zero", out.Method)
	assert.Equal(t, wipe.StepFailed, out.HiddenArea.HPA)
	assert.Equal(t, 3, runner.Count("--security-erase-enhanced"))
	assert.Equal(t, 6, runner.Count("--security-erase"), "enhanced and standard, three tries each")
	assert.Equal(t, 1, dev.DiscardCalls)
	assert.Equal(t, make([]byte, 4096*512), dev.Bytes())
	assert.Zero(t, h.asked, "--yes skips the prompt")

	s := time.Second
	assert.Equal(t, []time.Duration{2 * s, 4 * s, 2 * s, 4 * s}, h.timer.Delays())
	assert.Len(t, h.reports(t), 1)
}

func TestEraseVerificationFailureStillReports(t *testing.T) {
	dev := testutil.NewMemDevice(64, 512).Fill(0x99)
	for i := int64(0); i < 64; i += 2 {
		dev.Stuck[i] = true
	}
	h := newHarness(t, dev)
	h.cfg.Verify.Samples = 32

	res, err := h.sanitizer(testutil.NewFakeRunner("hdparm")).Erase(context.Background(), "/dev/sdc", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVerifyFailed))
	assert.Equal(t, ExitVerifyFailed, ExitCode(err))

	out := res.Outcome
	assert.True(t, strings.HasSuffix(out.Status, "+VerifyFail"), out.Status)
	assert.Positive(t, res.Verification.NonBlank)
	require.NotEmpty(t, res.ReportPath)

	data, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "+VerifyFail")
	assert.Contains(t, string(data), `"seed": 1234`)
}

func TestGuardAbortWritesNoReport(t *testing.T) {
	cases := map[string]struct {
		path   string
		setup  func(h *harness)
		target error
		code   int
	}{
		"placeholder": {path: "/dev/sdX", target: security.ErrPlaceholder, code: ExitPlaceholder},
		"root disk": {
			path:   "/dev/sda",
			target: security.ErrRootDisk,
			code:   ExitRootDisk,
		},
		"mounted": {
			path: "/dev/sdd",
			setup: func(h *harness) {
				h.mounts.Used = map[string][]system.MountPoint{"/dev/sdd": {{Device: "/dev/sdd1", Mountpoint: "/mnt/data"}}}
			},
			target: security.ErrMounted,
			code:   ExitInUse,
		},
		"declined": {
			path:   "/dev/sde",
			setup:  func(h *harness) { h.answer = false },
			target: ErrDeclined,
			code:   ExitDeclined,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			dev := testutil.NewMemDevice(64, 512).Fill(0x11)
			h := newHarness(t, dev)
			if tc.setup != nil {
				tc.setup(h)
			}
			runner := testutil.NewFakeRunner("hdparm", "nvme", "shred")

			res, err := h.sanitizer(runner).Erase(context.Background(), tc.path, false)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, tc.target), err.Error())
			assert.Equal(t, tc.code, ExitCode(err))
			assert.Empty(t, h.reports(t))
			assert.Empty(t, runner.Calls())
			assert.Zero(t, dev.BytesWritten)
		})
	}
}

func TestEraseLockedDevice(t *testing.T) {
	dev := testutil.NewMemDevice(64, 512)
	h := newHarness(t, dev)
	s := h.sanitizer(testutil.NewFakeRunner("hdparm"))
	s.deps.Lock = func(path string) (func(), error) {
		return nil, errors.Wrap(system.ErrDeviceLocked, path)
	}

	_, err := s.Erase(context.Background(), "/dev/sdb", true)
	require.Error(t, err)
	assert.Equal(t, ExitLocked, ExitCode(err))
	assert.Empty(t, h.reports(t))
}

func TestEraseMissingFirmwareTool(t *testing.T) {
	dev := testutil.NewMemDevice(64, 512)
	h := newHarness(t, dev)

	_, err := h.sanitizer(testutil.NewFakeRunner("shred")).Erase(context.Background(), "/dev/nvme0n1", true)
	require.Error(t, err)
	assert.Equal(t, ExitMissingCapability, ExitCode(err))
	assert.Empty(t, h.reports(t))
}

func TestVerifyOnly(t *testing.T) {
	dev := testutil.NewMemDevice(256, 512)
	h := newHarness(t, dev)
	s := h.sanitizer(testutil.NewFakeRunner())
	dir := t.TempDir()

	res, path, err := s.VerifyOnly(context.Background(), "/dev/sdf", dir)
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.FileExists(t, path)

	dev.Fill(0x5A)
	_, _, err = s.VerifyOnly(context.Background(), "/dev/sdf", "")
	assert.Equal(t, ExitVerifyFailed, ExitCode(err))
}

func TestInfoQueriesHPAReadOnly(t *testing.T) {
	dev := testutil.NewMemDevice(64, 512)
	h := newHarness(t, dev)
	runner := testutil.NewFakeRunner("hdparm").
		OK("hdparm -N /dev/sdb", "\n/dev/sdb:\n max sectors   = 1000000/1953525168, HPA is enabled\n")

	info, err := h.sanitizer(runner).Info(context.Background(), "/dev/sdb")
	require.NoError(t, err)
	assert.True(t, info.HPAQueried)
	assert.True(t, info.HPADetected)
	assert.EqualValues(t, 1953525168, info.NativeMaxSectors)
	assert.Equal(t, []string{"hdparm -N /dev/sdb"}, runner.Calls())
}

func TestCheckCapabilities(t *testing.T) {
	h := newHarness(t, testutil.NewMemDevice(8, 512))
	s := h.sanitizer(testutil.NewFakeRunner("hdparm"))

	caps, err := s.Check(system.TransportATA)
	require.NoError(t, err)
	assert.Len(t, caps, 3)

	_, err = s.Check(system.TransportNVMe)
	assert.Equal(t, ExitMissingCapability, ExitCode(err))

	var buf bytes.Buffer
	WriteCapabilities(&buf, caps)
	assert.Contains(t, buf.String(), "ata-firmware")
	assert.Contains(t, buf.String(), "not found")
}

func TestExitCodeDefaults(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitUsage, ExitCode(security.ErrNotPrivileged))
	assert.Equal(t, ExitUsage, ExitCode(errors.New("anything else")))
}

func TestReportDirSyncFailureIsWarningOnly(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(&buf, "INFO")
	synced := fmt.Errorf("%w: fsync: invalid argument", reporting.ErrDirSync)

	assert.NoError(t, reportDurability(log, "/var/log/disksan/r.json", synced))
	assert.Contains(t, buf.String(), "directory not synced")

	assert.ErrorIs(t, reportDurability(log, "", synced), reporting.ErrDirSync)
	other := errors.New("write report: disk full")
	assert.Equal(t, other, reportDurability(log, "", other))
	assert.NoError(t, reportDurability(log, "/var/log/disksan/r.json", nil))
}
