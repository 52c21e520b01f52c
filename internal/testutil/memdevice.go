// Package testutil holds in-memory stand-ins for block devices, external
// tools, mount tables and backoff timers.
package testutil

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"disksanitizer/internal/system"
)

// MemDevice is an in-memory block device. Sectors listed in Stuck ignore
// writes and discards; sectors in Unreadable fail every read.
type MemDevice struct {
	mu         sync.Mutex
	data       []byte
	sectorSize int

	Stuck            map[int64]bool
	Unreadable       map[int64]bool
	DiscardErr       error
	WriteErr         error
	DiscardCalls     int
	BytesWritten     int64
	DiscardSupported bool
	Closed           bool
}

// NewMemDevice returns a zeroed device of sectors*sectorSize bytes.
func NewMemDevice(sectors int64, sectorSize int) *MemDevice {
	return &MemDevice{
		data:             make([]byte, sectors*int64(sectorSize)),
		sectorSize:       sectorSize,
		Stuck:            map[int64]bool{},
		Unreadable:       map[int64]bool{},
		DiscardSupported: true,
	}
}

// Fill sets every byte to b.
func (d *MemDevice) Fill(b byte) *MemDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.data {
		d.data[i] = b
	}
	return d
}

// SetSector overwrites one sector directly, bypassing Stuck.
func (d *MemDevice) SetSector(idx int64, b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := idx * int64(d.sectorSize)
	for i := off; i < off+int64(d.sectorSize) && i < int64(len(d.data)); i++ {
		d.data[i] = b
	}
}

// Bytes returns a copy of the device contents.
func (d *MemDevice) Bytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data...)
}

func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off < 0 || off >= int64(len(d.data)) {
		return 0, fmt.Errorf("read at %d: %w", off, unix.EIO)
	}
	first := off / int64(d.sectorSize)
	last := (off + int64(len(p)) - 1) / int64(d.sectorSize)
	for s := first; s <= last; s++ {
		if d.Unreadable[s] {
			return 0, fmt.Errorf("read sector %d: %w", s, unix.EIO)
		}
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, errors.New("short read")
	}
	return n, nil
}

func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WriteErr != nil {
		return 0, d.WriteErr
	}
	if off < 0 || off > int64(len(d.data)) {
		return 0, fmt.Errorf("write at %d: %w", off, unix.ENOSPC)
	}
	n := 0
	for i, b := range p {
		pos := off + int64(i)
		if pos >= int64(len(d.data)) {
			return n, fmt.Errorf("write past end: %w", unix.ENOSPC)
		}
		if !d.Stuck[pos/int64(d.sectorSize)] {
			d.data[pos] = b
		}
		n++
	}
	d.BytesWritten += int64(n)
	return n, nil
}

// Discard zeroes the range, mimicking a deterministic-read-zero TRIM.
func (d *MemDevice) Discard(offset, length int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DiscardCalls++
	if !d.DiscardSupported {
		return unix.EOPNOTSUPP
	}
	if d.DiscardErr != nil {
		return d.DiscardErr
	}
	end := offset + length
	if end > int64(len(d.data)) {
		end = int64(len(d.data))
	}
	for pos := offset; pos < end; pos++ {
		if !d.Stuck[pos/int64(d.sectorSize)] {
			d.data[pos] = 0
		}
	}
	return nil
}

func (d *MemDevice) Size() int64     { return int64(len(d.data)) }
func (d *MemDevice) SectorSize() int { return d.sectorSize }
func (d *MemDevice) Sync() error     { return nil }

// Close is a no-op so the same device can be reopened by later stages.
func (d *MemDevice) Close() error {
	d.mu.Lock()
	d.Closed = true
	d.mu.Unlock()
	return nil
}

// Opener returns a system.Opener that always hands out d.
func (d *MemDevice) Opener() system.Opener {
	return func(path string, writable bool) (system.BlockDevice, error) {
		return d, nil
	}
}

// DeviceInfo describes d as a probed system.Device at path.
func (d *MemDevice) DeviceInfo(path string) system.Device {
	return system.Device{
		Path:       path,
		Name:       system.KernelName(path),
		Transport:  system.Classify(path),
		SizeBytes:  d.Size(),
		SectorSize: d.sectorSize,
		Model:      "MEMDISK",
		Serial:     "MEM0001",
	}
}
