package wipe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"disksanitizer/internal/logging"
	"disksanitizer/internal/system"
	"disksanitizer/internal/testutil"
)

func ataDevice() system.Device {
	return system.Device{Path: "/dev/sdb", Name: "sdb", Transport: system.TransportATA, SizeBytes: 1 << 20, SectorSize: 512}
}

func TestParseMaxSectors(t *testing.T) {
	cur, native, ok := ParseMaxSectors("\n/dev/sdb:\n max sectors   = 1953523055/1953525168, HPA is enabled\n")
	assert.True(t, ok)
	assert.Equal(t, uint64(1953523055), cur)
	assert.Equal(t, uint64(1953525168), native)

	_, _, ok = ParseMaxSectors("SG_IO: bad/missing sense data")
	assert.False(t, ok)
}

func TestUnlockRevealsHPA(t *testing.T) {
	runner := testutil.NewFakeRunner("hdparm").
		OK("hdparm -N /dev/sdb", " max sectors   = 1000/2000, HPA is enabled").
		OK("-N p2000 /dev/sdb", " setting max visible sectors to 2000 (permanent)").
		OK("--dco-identify", "DCO Revision: 0x0002").
		OK("--dco-restore", "")
	u := &Unlocker{Runner: runner, Tool: "hdparm", Logger: logging.Nop()}

	res := u.Unlock(context.Background(), ataDevice())
	assert.True(t, res.HPADetected)
	assert.Equal(t, uint64(1000), res.CurrentMaxSectors)
	assert.Equal(t, uint64(2000), res.NativeMaxSectors)
	assert.Equal(t, StepSucceeded, res.HPA)
	assert.Equal(t, StepSucceeded, res.DCOIdentify)
	assert.Equal(t, StepSucceeded, res.DCORestore)
}

func TestUnlockWithoutHPAStillTriesDCO(t *testing.T) {
	runner := testutil.NewFakeRunner("hdparm").
		OK("hdparm -N /dev/sdb", " max sectors   = 2000/2000, HPA is disabled").
		Fail("--dco-identify", "The device does not support the DCO feature set: Input/output error (not supported)").
		Fail("--dco-restore", "SG_IO: bad/missing sense data")
	u := &Unlocker{Runner: runner, Tool: "hdparm", Logger: logging.Nop()}

	res := u.Unlock(context.Background(), ataDevice())
	assert.False(t, res.HPADetected)
	assert.Equal(t, StepSkipped, res.HPA)
	assert.Equal(t, StepUnsupported, res.DCOIdentify)
	assert.Equal(t, StepFailed, res.DCORestore)
	assert.Zero(t, runner.Count(" p2000"))
}

func TestUnlockSkipsNVMe(t *testing.T) {
	runner := testutil.NewFakeRunner("hdparm")
	u := &Unlocker{Runner: runner, Tool: "hdparm", Logger: logging.Nop()}

	dev := system.Device{Path: "/dev/nvme0n1", Transport: system.TransportNVMe}
	res := u.Unlock(context.Background(), dev)
	assert.Equal(t, UnlockResult{HPA: StepSkipped, DCOIdentify: StepSkipped, DCORestore: StepSkipped}, res)
	assert.Empty(t, runner.Calls())
}

func TestUnlockToolMissing(t *testing.T) {
	u := &Unlocker{Runner: testutil.NewFakeRunner(), Tool: "hdparm", Logger: logging.Nop()}
	res := u.Unlock(context.Background(), ataDevice())
	assert.Equal(t, StepUnsupported, res.HPA)
	assert.Equal(t, StepUnsupported, res.DCORestore)
}

func TestParseSecurityState(t *testing.T) {
	st, found := ParseSecurityState(hdparmIdentify)
	assert.True(t, found)
	assert.Equal(t, SecurityState{Supported: true, EnhancedSupported: true}, st)

	_, found = ParseSecurityState("/dev/sdb:\n\nATA device\n")
	assert.False(t, found)
}

func TestParseSanitizeStatus(t *testing.T) {
	cases := map[string]uint64{
		`{"/dev/nvme0n1":{"sprog":65535,"sstat":257}}`:         257,
		`{"sanitize_log":{"nvme0":{"sstat":"0x2","sprog":1}}}`: 2,
		`[{"SSTAT":1}]`: 1,
	}
	for in, want := range cases {
		got, ok := parseSanitizeStatus([]byte(in))
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := parseSanitizeStatus([]byte("not json"))
	assert.False(t, ok)
}
