package system

import (
	"fmt"
	"strings"
)

// Capability is one external tool the engine may call.
type Capability struct {
	Name     string `json:"name"`
	Tool     string `json:"tool"`
	Path     string `json:"path,omitempty"`
	Required bool   `json:"required"`
	Present  bool   `json:"present"`
	Purpose  string `json:"purpose"`
}

// Status is PASS, FAIL (required and missing) or WARN (optional and missing).
func (c Capability) Status() string {
	switch {
	case c.Present:
		return "PASS"
	case c.Required:
		return "FAIL"
	default:
		return "WARN"
	}
}

// ToolSet names the binaries used for each capability.
type ToolSet struct {
	NVMe   string
	Hdparm string
	Shred  string
}

// ProbeCapabilities checks which tools are on PATH. transport selects which
// firmware tool is required; an empty transport marks none required.
func ProbeCapabilities(r Runner, tools ToolSet, transport Transport) []Capability {
	caps := []Capability{
		{Name: "nvme-firmware", Tool: tools.NVMe, Required: transport == TransportNVMe, Purpose: "NVMe sanitize and format"},
		{Name: "ata-firmware", Tool: tools.Hdparm, Required: transport == TransportATA, Purpose: "ATA security erase, HPA and DCO"},
		{Name: "overwrite", Tool: tools.Shred, Purpose: "multi-pass overwrite (zero-fill substitute when absent)"},
	}
	for i := range caps {
		if path, err := r.LookPath(caps[i].Tool); err == nil {
			caps[i].Present = true
			caps[i].Path = path
		}
	}
	return caps
}

// MissingRequired returns an error naming every required capability that
// is absent, or nil.
func MissingRequired(caps []Capability) error {
	var missing []string
	for _, c := range caps {
		if c.Required && !c.Present {
			missing = append(missing, fmt.Sprintf("%s (%s)", c.Tool, c.Purpose))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("required tool not found: %s", strings.Join(missing, ", "))
}
