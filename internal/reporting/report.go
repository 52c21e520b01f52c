package reporting

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"disksanitizer/internal/config"
	"disksanitizer/internal/system"
	"disksanitizer/internal/wipe"
)

const (
	Program       = "disksanitizer"
	SchemaVersion = 1

	// TimeFormat is UTC with second precision.
	TimeFormat = "2006-01-02T15:04:05Z"
	fileStamp  = "20060102T150405Z"
)

// Report is the fixed-schema record of one completed run. It is written
// once and never modified.
type Report struct {
	Program       string            `json:"program" yaml:"program"`
	SchemaVersion int               `json:"schema_version" yaml:"schema_version"`
	RunID         string            `json:"run_id" yaml:"run_id"`
	Tool          ToolInfo          `json:"tool" yaml:"tool"`
	Host          system.HostInfo   `json:"host" yaml:"host"`
	Device        system.Device     `json:"device" yaml:"device"`
	Method        string            `json:"method" yaml:"method"`
	Status        string            `json:"status" yaml:"status"`
	StartTime     string            `json:"start_time" yaml:"start_time"`
	EndTime       string            `json:"end_time" yaml:"end_time"`
	DurationSec   int64             `json:"duration_seconds" yaml:"duration_seconds"`
	Notes         []string          `json:"notes" yaml:"notes"`
	Attempts      []AttemptReport   `json:"attempts" yaml:"attempts"`
	HiddenArea    wipe.UnlockResult `json:"hidden_area" yaml:"hidden_area"`
	Verification  VerificationInfo  `json:"verification" yaml:"verification"`
	Settings      Settings          `json:"settings" yaml:"settings"`
}

type ToolInfo struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

type AttemptReport struct {
	Mechanism string `json:"mechanism" yaml:"mechanism"`
	Tier      string `json:"tier" yaml:"tier"`
	Outcome   string `json:"outcome" yaml:"outcome"`
	Tries     int    `json:"tries" yaml:"tries"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	Time      string `json:"time" yaml:"time"`
}

type VerificationInfo struct {
	SampleCount int    `json:"sample_count" yaml:"sample_count"`
	Blank       int    `json:"blank" yaml:"blank"`
	NonBlank    int    `json:"non_blank" yaml:"non_blank"`
	Unreadable  int    `json:"unreadable" yaml:"unreadable"`
	Seed        uint64 `json:"seed" yaml:"seed"`
	Passed      bool   `json:"passed" yaml:"passed"`
}

// Settings records the configuration that shaped the run.
type Settings struct {
	MaxAttempts     int     `json:"max_attempts" yaml:"max_attempts"`
	RetryInitial    string  `json:"retry_initial" yaml:"retry_initial"`
	RetryMax        string  `json:"retry_max" yaml:"retry_max"`
	OverwritePasses int     `json:"overwrite_passes" yaml:"overwrite_passes"`
	BoundaryZeroMiB int64   `json:"boundary_zero_mib" yaml:"boundary_zero_mib"`
	DiscardEnabled  bool    `json:"discard_enabled" yaml:"discard_enabled"`
	MaxSpeedMBps    float64 `json:"max_speed_mbps" yaml:"max_speed_mbps"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(TimeFormat)
}

// Generate builds a report from a finished run outcome.
func Generate(out *wipe.RunOutcome, host system.HostInfo, cfg *config.Config, version string) *Report {
	r := &Report{
		Program:       Program,
		SchemaVersion: SchemaVersion,
		RunID:         out.ID,
		Tool:          ToolInfo{Name: Program, Version: version},
		Host:          host,
		Device:        out.Device,
		Method:        out.Method,
		Status:        out.Status,
		StartTime:     formatTime(out.StartTime),
		EndTime:       formatTime(out.EndTime),
		Notes:         append([]string{}, out.Notes...),
		Attempts:      make([]AttemptReport, 0, len(out.Attempts)),
		HiddenArea:    out.HiddenArea,
		Settings: Settings{
			MaxAttempts:     cfg.Erase.MaxAttempts,
			RetryInitial:    cfg.Erase.RetryInitial,
			RetryMax:        cfg.Erase.RetryMax,
			OverwritePasses: cfg.Erase.OverwritePasses,
			BoundaryZeroMiB: cfg.Erase.BoundaryZeroMiB,
			DiscardEnabled:  cfg.Erase.EnableDiscard,
			MaxSpeedMBps:    cfg.Erase.MaxSpeedMBps,
		},
	}
	if !out.StartTime.IsZero() && !out.EndTime.IsZero() {
		r.DurationSec = int64(out.EndTime.Sub(out.StartTime).Round(time.Second) / time.Second)
	}
	for _, a := range out.Attempts {
		r.Attempts = append(r.Attempts, AttemptReport{
			Mechanism: a.Mechanism,
			Tier:      string(a.Tier),
			Outcome:   string(a.Outcome),
			Tries:     a.Tries,
			Error:     a.Error,
			Time:      formatTime(a.Timestamp),
		})
	}
	if v := out.Verification; v != nil {
		r.Verification = VerificationInfo{
			SampleCount: v.Samples,
			Blank:       v.Blank,
			NonBlank:    v.NonBlank,
			Unreadable:  v.Unreadable,
			Seed:        v.Seed,
			Passed:      v.Passed,
		}
	}
	return r
}

// Encode serializes r as json or yaml.
func Encode(r interface{}, format string) ([]byte, error) {
	switch format {
	case "", "json":
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml":
		return yaml.Marshal(r)
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileName is <prefix>_<device>_<UTC stamp>_<id>.<ext>.
func FileName(prefix string, dev system.Device, start time.Time, id, format string) string {
	ext := "json"
	if format == "yaml" {
		ext = "yaml"
	}
	name := dev.Name
	if name == "" {
		name = filepath.Base(dev.Path)
	}
	name = unsafeName.ReplaceAllString(name, "_")
	return fmt.Sprintf("%s_%s_%s_%s.%s", prefix, name, start.UTC().Format(fileStamp), id, ext)
}

const maxNameAttempts = 8

// ErrDirSync means the report file is written and synced but its directory
// entry could not be flushed. The returned path is valid.
var ErrDirSync = errors.New("report directory not synced")

// Save writes r into dir and returns the path written.
func Save(r *Report, dir, format string, start time.Time) (string, error) {
	data, err := Encode(r, format)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return writeOnce(dir, r.RunID, data, func(id string) string {
		return FileName("disksan", r.Device, start, id, format)
	})
}

// writeOnce creates a new file with O_EXCL and fsyncs the file and its
// directory. An existing file is never overwritten; a fresh id suffix is
// drawn instead.
func writeOnce(dir, runID string, data []byte, name func(id string) string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	id := shortID(runID)
	for i := 0; i < maxNameAttempts; i++ {
		path := filepath.Join(dir, name(id))
		err := writeExclusive(path, data)
		if err == nil {
			if err := syncDir(dir); err != nil {
				return path, fmt.Errorf("%w: %v", ErrDirSync, err)
			}
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("write report: %w", err)
		}
		id = shortID(uuid.NewString())
	}
	return "", fmt.Errorf("write report: no unused file name after %d attempts", maxNameAttempts)
}

func shortID(id string) string {
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type reportFile interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

var createExclusive = func(path string) (reportFile, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
}

// writeExclusive removes the file again if it could not be fully written,
// so a partial report never stays behind.
func writeExclusive(path string, data []byte) error {
	f, err := createExclusive(path)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}

var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
