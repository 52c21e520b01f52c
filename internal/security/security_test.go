package security

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disksanitizer/internal/config"
	"disksanitizer/internal/logging"
	"disksanitizer/internal/system"
	"disksanitizer/internal/testutil"
)

func newGuard(t *testing.T, mounts *testutil.FakeMounts) (*Guard, *int) {
	t.Helper()
	g, err := NewGuard(config.Default(), mounts, logging.Nop())
	require.NoError(t, err)
	blockChecks := 0
	g.Privileged = func() bool { return true }
	g.BlockCheck = func(string) error { blockChecks++; return nil }
	return g, &blockChecks
}

func TestPlaceholderRejectedBeforeDeviceAccess(t *testing.T) {
	for _, path := range []string{"/dev/sdX", "/dev/sdX1", "/dev/nvmeXn1", "<device>", "/dev/CHANGEME", "/dev/your-disk"} {
		t.Run(path, func(t *testing.T) {
			mounts := &testutil.FakeMounts{Root: "/dev/sda2"}
			g, blockChecks := newGuard(t, mounts)

			err := g.Check(context.Background(), path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrPlaceholder))
			assert.Zero(t, *blockChecks)
			assert.Zero(t, mounts.Queried)
			assert.NotEmpty(t, Hint(err))
		})
	}
}

func TestRootDiskRejected(t *testing.T) {
	mounts := &testutil.FakeMounts{Root: "/dev/sda2"}
	g, _ := newGuard(t, mounts)

	for _, path := range []string{"/dev/sda", "/dev/sda1"} {
		err := g.Check(context.Background(), path)
		require.Error(t, err, path)
		assert.True(t, errors.Is(err, ErrRootDisk), path)
	}
}

func TestRootUnknownFailsClosed(t *testing.T) {
	mounts := &testutil.FakeMounts{RootErr: system.ErrRootNotFound}
	g, _ := newGuard(t, mounts)

	err := g.Check(context.Background(), "/dev/sdb")
	assert.True(t, errors.Is(err, ErrRootDisk))
}

func TestRootWithoutBackingDiskChecksMountsOnly(t *testing.T) {
	mounts := &testutil.FakeMounts{
		RootErr: fmt.Errorf("%w: overlay (overlay)", system.ErrRootNotDevice),
		Used: map[string][]system.MountPoint{
			"/dev/sdc": {{Device: "/dev/sdc1", Mountpoint: "/run/live/medium", Fstype: "iso9660"}},
		},
	}
	g, _ := newGuard(t, mounts)

	assert.NoError(t, g.Check(context.Background(), "/dev/sdb"))

	err := g.Check(context.Background(), "/dev/sdc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMounted), "boot medium is still caught as mounted")
}

func TestMountedRejected(t *testing.T) {
	mounts := &testutil.FakeMounts{
		Root: "/dev/nvme0n1p2",
		Used: map[string][]system.MountPoint{
			"/dev/sdb": {{Device: "/dev/sdb1", Mountpoint: "/mnt/data", Fstype: "ext4"}},
		},
	}
	g, _ := newGuard(t, mounts)

	err := g.Check(context.Background(), "/dev/sdb")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMounted))
	assert.Contains(t, err.Error(), "/mnt/data")
}

func TestSafeTargetPasses(t *testing.T) {
	mounts := &testutil.FakeMounts{Root: "/dev/nvme0n1p2"}
	g, blockChecks := newGuard(t, mounts)

	require.NoError(t, g.Check(context.Background(), "/dev/sdb"))
	assert.Equal(t, 1, *blockChecks)
}

func TestNotPrivileged(t *testing.T) {
	g, _ := newGuard(t, &testutil.FakeMounts{Root: "/dev/sda1"})
	g.Privileged = func() bool { return false }

	err := g.Check(context.Background(), "/dev/sdb")
	assert.True(t, errors.Is(err, ErrNotPrivileged))
}

func TestMissingArgument(t *testing.T) {
	g, _ := newGuard(t, &testutil.FakeMounts{Root: "/dev/sda1"})
	assert.True(t, errors.Is(g.Check(context.Background(), "  "), ErrMissingArgument))
}

func TestNotBlockDevice(t *testing.T) {
	g, _ := newGuard(t, &testutil.FakeMounts{Root: "/dev/sda1"})
	g.BlockCheck = system.CheckBlockDevice

	err := g.Check(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTarget))
	assert.True(t, errors.Is(err, system.ErrNotBlockDevice))
}

func TestInvalidPatternRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Security.PlaceholderPatterns = []string{"("}
	_, err := NewGuard(cfg, &testutil.FakeMounts{}, logging.Nop())
	assert.Error(t, err)
}
