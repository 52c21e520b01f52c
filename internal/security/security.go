package security

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"disksanitizer/internal/config"
	"disksanitizer/internal/logging"
	"disksanitizer/internal/system"
)

// Guard rejection reasons. Callers match them with errors.Is.
var (
	ErrNotPrivileged   = errors.New("not running as root")
	ErrMissingArgument = errors.New("no target device given")
	ErrPlaceholder     = errors.New("target is an unsafe placeholder value")
	ErrInvalidTarget   = errors.New("target is not a usable block device")
	ErrRootDisk        = errors.New("target is the system root disk")
	ErrMounted         = errors.New("target has mounted partitions")
)

// Guard decides whether a device may be erased. It has no side effects.
type Guard struct {
	cfg      *config.Config
	mounts   system.MountTable
	logger   *logging.Logger
	patterns []*regexp.Regexp

	// Privileged and BlockCheck are replaceable for tests.
	Privileged func() bool
	BlockCheck func(path string) error
}

func NewGuard(cfg *config.Config, mounts system.MountTable, logger *logging.Logger) (*Guard, error) {
	g := &Guard{
		cfg:        cfg,
		mounts:     mounts,
		logger:     logger,
		Privileged: system.IsPrivileged,
		BlockCheck: system.CheckBlockDevice,
	}
	for _, p := range cfg.Security.PlaceholderPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid placeholder pattern %q: %w", p, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

// Check runs every precondition in order and returns the first violation.
func (g *Guard) Check(ctx context.Context, path string) error {
	if err := g.CheckArgument(path); err != nil {
		return err
	}

	if err := g.BlockCheck(path); err != nil {
		return errors.WithHint(
			errors.Wrapf(errors.Mark(err, ErrInvalidTarget), "%s", path),
			"pass the whole-disk device node, for example /dev/sdb or /dev/nvme1n1")
	}

	if err := g.checkRootDisk(ctx, path); err != nil {
		return err
	}
	return g.checkMounted(ctx, path)
}

// CheckArgument covers the checks that touch no device: privilege, a
// missing argument and placeholder values.
func (g *Guard) CheckArgument(path string) error {
	if g.cfg.Security.RequireRoot && !g.Privileged() {
		return errors.WithHint(ErrNotPrivileged, "re-run with sudo or as root")
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return errors.WithHint(ErrMissingArgument, "usage: disksan <device>")
	}

	for _, re := range g.patterns {
		if re.MatchString(path) {
			g.logger.Log("ERROR", "placeholder device rejected", "device", path, "pattern", re.String())
			return errors.WithHint(
				errors.Wrapf(ErrPlaceholder, "%q matches %s", path, re.String()),
				"replace the example value with the real device path; list disks with lsblk")
		}
	}
	return nil
}

func (g *Guard) checkRootDisk(ctx context.Context, path string) error {
	rootSource, err := g.mounts.RootSource(ctx)
	if errors.Is(err, system.ErrRootNotDevice) {
		g.logger.Log("WARN", "root filesystem has no backing disk, skipping root disk check", "error", err)
		return nil
	}
	if err != nil {
		g.logger.Log("ERROR", "cannot resolve root filesystem source", "error", err)
		return errors.WithHint(
			errors.Wrapf(ErrRootDisk, "root filesystem source unknown (%v); refusing", err),
			"run from a live environment where the root device is identifiable")
	}

	target := system.BaseDisk(path)
	root := system.BaseDisk(rootSource)
	g.logger.Log("DEBUG", "root disk check", "target_base", target, "root_source", rootSource, "root_base", root)
	if target == root {
		g.logger.Log("ERROR", "target is the root disk", "device", path, "root", rootSource)
		return errors.WithHint(
			errors.Wrapf(ErrRootDisk, "%s and / (%s) share disk %s", path, rootSource, root),
			"boot from other media to wipe the system disk")
	}
	return nil
}

func (g *Guard) checkMounted(ctx context.Context, path string) error {
	used, err := g.mounts.InUse(ctx, path)
	if err != nil {
		return errors.WithHint(errors.Wrapf(ErrMounted, "mount state unknown: %v", err),
			"check /proc/mounts and swap manually")
	}
	if len(used) == 0 {
		return nil
	}

	points := make([]string, 0, len(used))
	for _, m := range used {
		points = append(points, m.Device+" on "+m.Mountpoint)
	}
	g.logger.Log("ERROR", "target in use", "device", path, "mounts", points)
	return errors.WithHint(
		errors.Wrapf(ErrMounted, "%s", strings.Join(points, ", ")),
		"unmount every partition and run swapoff before erasing")
}

// Hint returns the operator hints attached to err, if any.
func Hint(err error) string {
	return errors.FlattenHints(err)
}
