package wipe

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"disksanitizer/internal/logging"
	"disksanitizer/internal/system"
)

// ProgressFunc returns a sink that counts written bytes for a long pass, or
// nil for no progress display.
type ProgressFunc func(description string, total int64) io.Writer

// Discard issues BLKDISCARD over the whole device.
type Discard struct {
	Open    system.Opener
	Enabled bool
}

func (m *Discard) Name() string { return NameDiscard }
func (m *Discard) Tier() Tier   { return TierFallback }

func (m *Discard) Attempt(ctx context.Context, dev system.Device) error {
	if !m.Enabled {
		return unavailable("discard disabled by configuration")
	}
	bd, err := m.Open(dev.Path, true)
	if err != nil {
		return fmt.Errorf("open for discard: %w", err)
	}
	defer bd.Close()

	if err := bd.Discard(0, bd.Size()); err != nil {
		if system.IsUnsupported(err) {
			return unavailable("device does not support discard: %v", err)
		}
		return fmt.Errorf("discard: %w", err)
	}
	return nil
}

// Overwrite runs shred when installed and otherwise writes the pass plan
// itself, ending with a zero pass.
type Overwrite struct {
	Runner       system.Runner
	Tool         string
	Passes       int
	RandomPasses int
	Open         system.Opener
	ChunkSize    int
	MaxSpeedMBps float64
	Progress     ProgressFunc
	Logger       *logging.Logger

	variant string
}

func (m *Overwrite) Name() string { return NameOverwrite }
func (m *Overwrite) Tier() Tier   { return TierFallback }

// Variant names what the last Attempt used: "shred" or "zero-fill".
func (m *Overwrite) Variant() string { return m.variant }

func (m *Overwrite) Attempt(ctx context.Context, dev system.Device) error {
	if _, err := m.Runner.LookPath(m.Tool); err == nil {
		m.variant = "shred"
		m.Logger.Log("INFO", "overwriting with shred", "device", dev.Path, "passes", m.Passes)
		res, err := m.Runner.Run(ctx, m.Tool, "-v", "-n", strconv.Itoa(m.Passes), "-z", dev.Path)
		if err != nil {
			return commandError("shred", res, err, nil)
		}
		return nil
	}

	m.variant = "zero-fill"
	m.Logger.Log("INFO", "shred not installed, writing directly", "device", dev.Path, "random_passes", m.RandomPasses)
	bd, err := m.Open(dev.Path, true)
	if err != nil {
		return fmt.Errorf("open for overwrite: %w", err)
	}
	defer bd.Close()

	w := NewThrottledWriter(bd, m.MaxSpeedMBps, m.ChunkSize)
	plan := PassPlan(m.RandomPasses)
	failed := 0
	var firstErr error
	for i, method := range plan {
		var progress io.Writer
		if m.Progress != nil {
			progress = m.Progress(fmt.Sprintf("pass %d/%d (%s)", i+1, len(plan), method), bd.Size())
		}
		res := writeRange(ctx, w, 0, bd.Size(), m.ChunkSize, method, progress)
		if res.FailedChunks > 0 {
			failed += res.FailedChunks
			if firstErr == nil {
				firstErr = res.err()
			}
			m.Logger.Log("WARN", "overwrite pass incomplete", "device", dev.Path, "pass", i+1, "failed_chunks", res.FailedChunks)
		}
	}
	if err := bd.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync: %w", err)
	}
	m.Logger.Log("INFO", "zero-fill finished", "device", dev.Path, "passes", len(plan), "bytes_written", w.Written())
	if firstErr != nil {
		return fmt.Errorf("zero-fill: %d failed chunk(s): %w", failed, firstErr)
	}
	return nil
}

// BoundaryZero zeroes the first and last Bytes of the device, where
// partition tables and their backups live.
type BoundaryZero struct {
	Open         system.Opener
	Bytes        int64
	ChunkSize    int
	MaxSpeedMBps float64
}

func (m *BoundaryZero) Name() string { return NameBoundaryZero }
func (m *BoundaryZero) Tier() Tier   { return TierFallback }

func (m *BoundaryZero) Attempt(ctx context.Context, dev system.Device) error {
	bd, err := m.Open(dev.Path, true)
	if err != nil {
		return fmt.Errorf("open for boundary zero: %w", err)
	}
	defer bd.Close()

	size := bd.Size()
	n := m.Bytes
	if n > size {
		n = size
	}
	w := NewThrottledWriter(bd, m.MaxSpeedMBps, m.ChunkSize)

	head := writeRange(ctx, w, 0, n, m.ChunkSize, MethodZero, nil)
	tailStart := size - n
	if tailStart < n {
		tailStart = n
	}
	tail := writeRange(ctx, w, tailStart, size, m.ChunkSize, MethodZero, nil)

	if err := head.err(); err != nil {
		return fmt.Errorf("head: %w", err)
	}
	if err := tail.err(); err != nil {
		return fmt.Errorf("tail: %w", err)
	}
	return bd.Sync()
}
