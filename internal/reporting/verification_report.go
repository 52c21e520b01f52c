package reporting

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"disksanitizer/internal/system"
	"disksanitizer/internal/verify"
)

// VerificationReport is written by a standalone verification run, one that
// samples a device without erasing it first.
type VerificationReport struct {
	Program       string          `json:"program" yaml:"program"`
	SchemaVersion int             `json:"schema_version" yaml:"schema_version"`
	Kind          string          `json:"kind" yaml:"kind"`
	RunID         string          `json:"run_id" yaml:"run_id"`
	Tool          ToolInfo        `json:"tool" yaml:"tool"`
	Host          system.HostInfo `json:"host" yaml:"host"`
	Device        system.Device   `json:"device" yaml:"device"`
	Time          string          `json:"time" yaml:"time"`
	Passed        bool            `json:"passed" yaml:"passed"`
	SampleCount   int             `json:"sample_count" yaml:"sample_count"`
	Blank         int             `json:"blank" yaml:"blank"`
	NonBlank      int             `json:"non_blank" yaml:"non_blank"`
	Unreadable    int             `json:"unreadable" yaml:"unreadable"`
	Seed          uint64          `json:"seed" yaml:"seed"`
	DurationMS    int64           `json:"duration_ms" yaml:"duration_ms"`
	Reason        string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	Anomalies     []verify.Sample `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
}

func GenerateVerificationReport(dev system.Device, host system.HostInfo, res verify.Result, version string, at time.Time) *VerificationReport {
	return &VerificationReport{
		Program:       Program,
		SchemaVersion: SchemaVersion,
		Kind:          "verification",
		RunID:         uuid.NewString(),
		Tool:          ToolInfo{Name: Program, Version: version},
		Host:          host,
		Device:        dev,
		Time:          formatTime(at),
		Passed:        res.Passed(),
		SampleCount:   res.Samples,
		Blank:         res.Blank,
		NonBlank:      res.NonBlank,
		Unreadable:    res.Unreadable,
		Seed:          res.Seed,
		DurationMS:    res.Duration.Milliseconds(),
		Reason:        res.Reason,
		Anomalies:     res.Anomalies,
	}
}

// SaveVerificationReport writes r with the same write-once rules as Save.
func SaveVerificationReport(r *VerificationReport, dir, format string, at time.Time) (string, error) {
	data, err := Encode(r, format)
	if err != nil {
		return "", fmt.Errorf("encode verification report: %w", err)
	}
	return writeOnce(dir, r.RunID, data, func(id string) string {
		return FileName("disksan-verify", r.Device, at, id, format)
	})
}
