package wipe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"disksanitizer/internal/logging"
	"disksanitizer/internal/system"
)

// NVMeSanitize issues a block-erase sanitize and waits for the controller
// to report completion in the sanitize log.
type NVMeSanitize struct {
	Runner  system.Runner
	Tool    string
	Poll    time.Duration
	Timeout time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error
	Logger  *logging.Logger
}

func (m *NVMeSanitize) Name() string { return NameNVMeSanitize }
func (m *NVMeSanitize) Tier() Tier   { return TierFirmware }

func (m *NVMeSanitize) Attempt(ctx context.Context, dev system.Device) error {
	if err := requireTool(m.Runner, m.Tool); err != nil {
		return err
	}
	baseline, haveBaseline := m.readStatus(ctx, dev)
	res, err := m.Runner.Run(ctx, m.Tool, "sanitize", dev.Path, "--sanact=2")
	if err != nil {
		return commandError("nvme sanitize", res, err, nil)
	}
	return m.waitComplete(ctx, dev, baseline, haveBaseline)
}

// Sanitize status field values (SSTAT bits 2:0).
const (
	sstatNever      = 0
	sstatCompleted  = 1
	sstatInProgress = 2
	sstatFailed     = 3
	sstatNoDealloc  = 4
)

// readStatus returns the raw SSTAT word, or false when the log cannot be
// read or parsed.
func (m *NVMeSanitize) readStatus(ctx context.Context, dev system.Device) (uint64, bool) {
	res, err := m.Runner.Run(ctx, m.Tool, "sanitize-log", dev.Path, "--output-format=json")
	if err != nil {
		return 0, false
	}
	return parseSanitizeStatus(res.Stdout)
}

// waitComplete polls the sanitize log. A completion is accepted only after
// the log has shown the operation in progress, or when it differs from the
// status read before the command was issued. A controller still reporting
// "never sanitized" has not started the operation.
func (m *NVMeSanitize) waitComplete(ctx context.Context, dev system.Device, baseline uint64, haveBaseline bool) error {
	var waited time.Duration
	seenProgress := false
	for {
		sstat, ok := m.readStatus(ctx, dev)
		if !ok {
			m.Logger.Log("WARN", "sanitize log unreadable, trusting command status", "device", dev.Path)
			return nil
		}

		switch sstat & 0x7 {
		case sstatCompleted, sstatNoDealloc:
			if seenProgress || !haveBaseline || sstat != baseline {
				return nil
			}
			return fmt.Errorf("nvme sanitize: log still shows the previous completion (sstat %#x)", sstat)
		case sstatFailed:
			return errors.New("nvme sanitize: controller reports sanitize failed")
		case sstatNever:
			return errors.New("nvme sanitize: controller accepted the command but never started")
		case sstatInProgress:
			seenProgress = true
		default:
			return fmt.Errorf("nvme sanitize: unexpected sanitize status %#x", sstat)
		}

		if waited >= m.Timeout {
			return fmt.Errorf("nvme sanitize: not complete after %s", m.Timeout)
		}
		m.Logger.Log("DEBUG", "sanitize in progress", "device", dev.Path, "waited", waited.String())
		if err := m.Sleep(ctx, m.Poll); err != nil {
			return err
		}
		waited += m.Poll
	}
}

// parseSanitizeStatus finds the "sstat" value anywhere in nvme-cli JSON
// output. Layouts differ between nvme-cli releases.
func parseSanitizeStatus(out []byte) (uint64, bool) {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(out))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return 0, false
	}
	return findKey(doc, "sstat")
}

func findKey(node interface{}, key string) (uint64, bool) {
	switch v := node.(type) {
	case map[string]interface{}:
		for k, child := range v {
			if strings.EqualFold(k, key) {
				if n, ok := toUint(child); ok {
					return n, true
				}
			}
		}
		for _, child := range v {
			if n, ok := findKey(child, key); ok {
				return n, true
			}
		}
	case []interface{}:
		for _, child := range v {
			if n, ok := findKey(child, key); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func toUint(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 0, 64)
		return u, err == nil
	case string:
		u, err := strconv.ParseUint(strings.TrimSpace(n), 0, 64)
		return u, err == nil
	}
	return 0, false
}

// NVMeFormat runs a Format NVM with the given secure erase setting:
// 2 is cryptographic erase, 1 is user data erase.
type NVMeFormat struct {
	Runner system.Runner
	Tool   string
	SES    int
}

func (m *NVMeFormat) Name() string {
	if m.SES == 2 {
		return NameNVMeCryptoFormat
	}
	return NameNVMeUserFormat
}

func (m *NVMeFormat) Tier() Tier { return TierFirmware }

func (m *NVMeFormat) Attempt(ctx context.Context, dev system.Device) error {
	if err := requireTool(m.Runner, m.Tool); err != nil {
		return err
	}
	res, err := m.Runner.Run(ctx, m.Tool, "format", dev.Path, fmt.Sprintf("--ses=%d", m.SES))
	if err != nil {
		return commandError(fmt.Sprintf("nvme format ses=%d", m.SES), res, err, nil)
	}
	return nil
}

// ATASecurity drives the ATA security feature set through hdparm with one
// temporary password for the whole run.
type ATASecurity struct {
	Runner   system.Runner
	Tool     string
	Password string
	Logger   *logging.Logger
}

// SecurityState is the part of `hdparm -I` the engine cares about.
type SecurityState struct {
	Supported         bool
	Enabled           bool
	Locked            bool
	Frozen            bool
	EnhancedSupported bool
}

// ParseSecurityState reads the "Security:" block of `hdparm -I`.
func ParseSecurityState(out string) (SecurityState, bool) {
	var st SecurityState
	inSection := false
	found := false
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Security:") {
			inSection, found = true, true
			continue
		}
		if !inSection {
			continue
		}
		if line != "" && line[0] != ' ' && line[0] != '\t' {
			break
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		negated := fields[0] == "not"
		if negated {
			fields = fields[1:]
		}
		switch strings.Join(fields, " ") {
		case "supported":
			st.Supported = !negated
		case "enabled":
			st.Enabled = !negated
		case "locked":
			st.Locked = !negated
		case "frozen":
			st.Frozen = !negated
		case "supported: enhanced erase":
			st.EnhancedSupported = !negated
		}
	}
	return st, found
}

// Inspect reads the security state. It returns ErrUnavailable when the
// feature set is missing or frozen.
func (s *ATASecurity) Inspect(ctx context.Context, dev system.Device) (SecurityState, error) {
	if err := requireTool(s.Runner, s.Tool); err != nil {
		return SecurityState{}, err
	}
	res, err := s.Runner.Run(ctx, s.Tool, "-I", dev.Path)
	if err != nil {
		return SecurityState{}, commandError("hdparm -I", res, err, s.redact)
	}
	st, found := ParseSecurityState(string(res.Stdout))
	switch {
	case !found || !st.Supported:
		return st, unavailable("ATA security feature set not supported")
	case st.Frozen:
		return st, unavailable("ATA security is frozen; suspend/resume or hot-plug the drive to unfreeze")
	case st.Locked:
		return st, unavailable("drive is security-locked with an unknown password")
	}
	return st, nil
}

func (s *ATASecurity) SetPassword(ctx context.Context, dev system.Device) error {
	res, err := s.Runner.Run(ctx, s.Tool, "--user-master", "u", "--security-set-pass", s.Password, dev.Path)
	if err != nil {
		return commandError("hdparm --security-set-pass", res, err, s.redact)
	}
	return nil
}

func (s *ATASecurity) Erase(ctx context.Context, dev system.Device, enhanced bool) error {
	flag := "--security-erase"
	if enhanced {
		flag = "--security-erase-enhanced"
	}
	res, err := s.Runner.Run(ctx, s.Tool, "--user-master", "u", flag, s.Password, dev.Path)
	if err != nil {
		return commandError("hdparm "+flag, res, err, s.redact)
	}
	return nil
}

// Clear disables security if it is still enabled. A successful erase
// already leaves security disabled, in which case nothing is sent.
func (s *ATASecurity) Clear(ctx context.Context, dev system.Device) (bool, error) {
	if res, err := s.Runner.Run(ctx, s.Tool, "-I", dev.Path); err == nil {
		if st, found := ParseSecurityState(string(res.Stdout)); found && !st.Enabled {
			return false, nil
		}
	}
	res, err := s.Runner.Run(ctx, s.Tool, "--user-master", "u", "--security-disable", s.Password, dev.Path)
	if err != nil {
		return true, commandError("hdparm --security-disable", res, err, s.redact)
	}
	return true, nil
}

func (s *ATASecurity) redact(out string) string {
	if s.Password == "" {
		return out
	}
	return strings.ReplaceAll(out, s.Password, "********")
}

// ATAEnhancedErase runs SECURITY ERASE UNIT in enhanced mode.
type ATAEnhancedErase struct {
	Security *ATASecurity
	// Supported is false when hdparm reports no enhanced erase.
	Supported bool
}

func (m *ATAEnhancedErase) Name() string { return NameATAEnhancedErase }
func (m *ATAEnhancedErase) Tier() Tier   { return TierFirmware }

func (m *ATAEnhancedErase) Attempt(ctx context.Context, dev system.Device) error {
	if !m.Supported {
		return unavailable("enhanced security erase not supported by drive")
	}
	return m.Security.Erase(ctx, dev, true)
}

// ATAStandardErase runs SECURITY ERASE UNIT in normal mode.
type ATAStandardErase struct {
	Security *ATASecurity
}

func (m *ATAStandardErase) Name() string { return NameATAStandardErase }
func (m *ATAStandardErase) Tier() Tier   { return TierFirmware }

func (m *ATAStandardErase) Attempt(ctx context.Context, dev system.Device) error {
	return m.Security.Erase(ctx, dev, false)
}
