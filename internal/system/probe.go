package system

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotBlockDevice is returned when the target is not a block device node.
var ErrNotBlockDevice = errors.New("not a block device")

// CheckBlockDevice stats path and requires a block device node.
func CheckBlockDevice(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := fi.Mode()
	if mode&os.ModeDevice == 0 || mode&os.ModeCharDevice != 0 {
		return fmt.Errorf("%s: %w", path, ErrNotBlockDevice)
	}
	return nil
}

// Probe opens path read-only and fills a Device with geometry, transport
// and sysfs identity.
func Probe(path string, open Opener) (Device, error) {
	bd, err := open(path, false)
	if err != nil {
		return Device{}, err
	}
	defer bd.Close()

	name := KernelName(path)
	dev := Device{
		Path:       path,
		Name:       name,
		Transport:  Classify(path),
		SizeBytes:  bd.Size(),
		SectorSize: bd.SectorSize(),
	}
	if dev.SectorSize <= 0 {
		dev.SectorSize = DefaultSectorSize
	}

	base := BaseDisk(path)
	dev.Model = readSysfsAttr(base, "device", "model")
	dev.Serial = readSysfsAttr(base, "device", "serial")
	if dev.Serial == "" {
		dev.Serial = strings.TrimPrefix(readSysfsAttr(base, "wwid"), "eui.")
	}
	return dev, nil
}
