package wipe

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"disksanitizer/internal/system"
)

// Tier groups mechanisms by strength.
type Tier string

const (
	TierFirmware Tier = "firmware"
	TierFallback Tier = "fallback"
)

// AttemptOutcome is the result of one mechanism after retries.
type AttemptOutcome string

const (
	OutcomeSucceeded   AttemptOutcome = "succeeded"
	OutcomeFailed      AttemptOutcome = "failed"
	OutcomeUnavailable AttemptOutcome = "unavailable"
)

// Status is the terminal engine state, later suffixed with the verification
// result.
type Status string

const (
	StatusFirmwareEraseOK  Status = "FirmwareEraseOK"
	StatusFallbackOK       Status = "FallbackOK"
	StatusFallbackDegraded Status = "FallbackDegraded"

	SuffixVerified   = "+Verified"
	SuffixVerifyFail = "+VerifyFail"
)

// Attempt records one mechanism invocation.
type Attempt struct {
	Mechanism string         `json:"mechanism" yaml:"mechanism"`
	Tier      Tier           `json:"tier" yaml:"tier"`
	Outcome   AttemptOutcome `json:"outcome" yaml:"outcome"`
	Tries     int            `json:"tries" yaml:"tries"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
}

// StepResult is the tri-state (plus skipped) result of a best-effort step.
type StepResult string

const (
	StepSucceeded   StepResult = "succeeded"
	StepFailed      StepResult = "failed"
	StepUnsupported StepResult = "unsupported"
	StepSkipped     StepResult = "skipped"
)

// UnlockResult is what the hidden-area unlocker found and changed.
type UnlockResult struct {
	HPADetected       bool       `json:"hpa_detected" yaml:"hpa_detected"`
	CurrentMaxSectors uint64     `json:"current_max_sectors,omitempty" yaml:"current_max_sectors,omitempty"`
	NativeMaxSectors  uint64     `json:"native_max_sectors,omitempty" yaml:"native_max_sectors,omitempty"`
	HPA               StepResult `json:"hpa" yaml:"hpa"`
	DCOIdentify       StepResult `json:"dco_identify" yaml:"dco_identify"`
	DCORestore        StepResult `json:"dco_restore" yaml:"dco_restore"`
}

// VerificationSummary is the part of a verification result kept in the
// run outcome.
type VerificationSummary struct {
	Samples    int    `json:"samples" yaml:"samples"`
	Blank      int    `json:"blank" yaml:"blank"`
	NonBlank   int    `json:"non_blank" yaml:"non_blank"`
	Unreadable int    `json:"unreadable" yaml:"unreadable"`
	Seed       uint64 `json:"seed" yaml:"seed"`
	Passed     bool   `json:"passed" yaml:"passed"`
}

// RunOutcome is the single record of one invocation.
type RunOutcome struct {
	ID           string               `json:"id"`
	Device       system.Device        `json:"device"`
	Method       string               `json:"method"`
	Status       string               `json:"status"`
	Notes        []string             `json:"notes"`
	StartTime    time.Time            `json:"start_time"`
	EndTime      time.Time            `json:"end_time"`
	Attempts     []Attempt            `json:"attempts"`
	HiddenArea   UnlockResult         `json:"hidden_area"`
	Verification *VerificationSummary `json:"verification,omitempty"`
}

func NewRunOutcome(dev system.Device, start time.Time) *RunOutcome {
	return &RunOutcome{
		ID:        uuid.NewString(),
		Device:    dev,
		StartTime: start.UTC(),
		Notes:     []string{},
	}
}

// Note appends a free-form note. Notes are never removed.
func (o *RunOutcome) Note(format string, args ...interface{}) {
	o.Notes = append(o.Notes, fmt.Sprintf(format, args...))
}

func (o *RunOutcome) Record(a Attempt) {
	o.Attempts = append(o.Attempts, a)
}

// SetVerification stores the summary and suffixes the status.
func (o *RunOutcome) SetVerification(v VerificationSummary) {
	o.Verification = &v
	if v.Passed {
		o.Status += SuffixVerified
		return
	}
	o.Status += SuffixVerifyFail
	o.Note("verification failed: %d of %d sampled sectors not blank, %d unreadable",
		v.NonBlank+v.Unreadable, v.Samples, v.Unreadable)
}

// Verified reports whether the status carries a passing verification.
func (o *RunOutcome) Verified() bool {
	return strings.HasSuffix(o.Status, SuffixVerified)
}
