package system

import (
	"path/filepath"
	"regexp"
)

var nvmeNamespace = regexp.MustCompile(`^nvme\d+n\d+`)

// Classify decides the transport family from the device path alone.
// Anything that is not an NVMe namespace is treated as ATA.
func Classify(path string) Transport {
	if nvmeNamespace.MatchString(filepath.Base(path)) {
		return TransportNVMe
	}
	return TransportATA
}
