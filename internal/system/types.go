package system

import "io"

// Transport is the device family that decides which firmware commands apply.
type Transport string

const (
	TransportNVMe Transport = "nvme"
	TransportATA  Transport = "ata"
)

// Device describes the target for the whole run. It is not modified after
// probing.
type Device struct {
	Path       string    `json:"path" yaml:"path"`
	Name       string    `json:"name" yaml:"name"`
	Transport  Transport `json:"transport" yaml:"transport"`
	SizeBytes  int64     `json:"size_bytes" yaml:"size_bytes"`
	SectorSize int       `json:"sector_size" yaml:"sector_size"`
	Model      string    `json:"model,omitempty" yaml:"model,omitempty"`
	Serial     string    `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// DefaultSectorSize is assumed when the kernel does not report one.
const DefaultSectorSize = 512

// Sectors returns the number of whole sectors on the device.
func (d Device) Sectors() int64 {
	ss := int64(d.SectorSize)
	if ss <= 0 {
		ss = DefaultSectorSize
	}
	return d.SizeBytes / ss
}

// BlockDevice is an open handle on a device node.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Size() int64
	SectorSize() int
	// Discard issues a whole-range discard/TRIM.
	Discard(offset, length int64) error
	Sync() error
}

// Opener opens a device node for raw access.
type Opener func(path string, writable bool) (BlockDevice, error)
