package wipe

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"

	"disksanitizer/internal/config"
	"disksanitizer/internal/logging"
	"disksanitizer/internal/system"
)

// Engine runs the tiered erase state machine:
//
//	Start -> FirmwareTier -> Success
//	                      -> FallbackTier -> FallbackOK | FallbackDegraded
//
// Every firmware mechanism is retried with backoff. The fallback tier always
// runs all of its steps.
type Engine struct {
	cfg      *config.Config
	logger   *logging.Logger
	runner   system.Runner
	open     system.Opener
	timer    backoff.Timer
	progress ProgressFunc
	now      func() time.Time
}

type Option func(*Engine)

// WithTimer replaces the backoff timer, so tests do not sleep.
func WithTimer(t backoff.Timer) Option { return func(e *Engine) { e.timer = t } }

// WithProgress shows progress for native overwrite passes.
func WithProgress(p ProgressFunc) Option { return func(e *Engine) { e.progress = p } }

// WithClock sets the attempt timestamp source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(cfg *config.Config, logger *logging.Logger, runner system.Runner, open system.Opener, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, logger: logger, runner: runner, open: open, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) retry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: e.cfg.Erase.MaxAttempts,
		Initial:     e.cfg.RetryInitial(),
		Max:         e.cfg.RetryMax(),
		Timer:       e.timer,
		Logger:      e.logger,
	}
}

// Run erases dev and fills in the status, method, attempts and notes of out.
// Cancellation of ctx is ignored: once started the erase runs to a terminal
// state.
func (e *Engine) Run(ctx context.Context, dev system.Device, out *RunOutcome) {
	ctx = context.WithoutCancel(ctx)
	e.logger.Log("INFO", "erase started", "device", dev.Path, "transport", dev.Transport, "size", dev.SizeBytes)

	var winner string
	switch dev.Transport {
	case system.TransportNVMe:
		winner = e.runNVMe(ctx, dev, out)
	default:
		winner = e.runATA(ctx, dev, out)
	}

	if winner != "" {
		out.Status = string(StatusFirmwareEraseOK)
		out.Method = winner
		e.logger.Log("INFO", "firmware erase succeeded", "device", dev.Path, "mechanism", winner)
		return
	}

	e.logger.Log("WARN", "firmware tier exhausted, running fallback tier", "device", dev.Path)
	out.Note("firmware erase unavailable or failed; fallback tier used")
	e.runFallback(ctx, dev, out)
}

func (e *Engine) nvmeMechanisms() []Mechanism {
	tool := e.cfg.Tools.NVMe
	return []Mechanism{
		&NVMeSanitize{
			Runner:  e.runner,
			Tool:    tool,
			Poll:    e.cfg.SanitizePoll(),
			Timeout: e.cfg.SanitizeTimeout(),
			Sleep:   e.sleep,
			Logger:  e.logger,
		},
		&NVMeFormat{Runner: e.runner, Tool: tool, SES: 2},
		&NVMeFormat{Runner: e.runner, Tool: tool, SES: 1},
	}
}

func (e *Engine) runNVMe(ctx context.Context, dev system.Device, out *RunOutcome) string {
	return e.firstSuccess(ctx, dev, out, e.nvmeMechanisms())
}

func (e *Engine) runATA(ctx context.Context, dev system.Device, out *RunOutcome) string {
	password := e.cfg.Erase.ATAPassword
	if password == "" {
		password = generatePassword()
	}
	sec := &ATASecurity{Runner: e.runner, Tool: e.cfg.Tools.Hdparm, Password: password, Logger: e.logger}
	enhanced := &ATAEnhancedErase{Security: sec}
	standard := &ATAStandardErase{Security: sec}

	state, err := sec.Inspect(ctx, dev)
	if err != nil {
		e.logger.Log("WARN", "ata security erase not possible", "device", dev.Path, "error", err.Error())
		for _, m := range []Mechanism{enhanced, standard} {
			e.record(out, m, 0, err)
		}
		return ""
	}
	enhanced.Supported = state.EnhancedSupported

	tries, err := e.retry().Do(ctx, "ata-set-password", func() error { return sec.SetPassword(ctx, dev) })
	if err != nil {
		out.Note("ATA temporary password could not be set after %d tries: %v", tries, err)
		for _, m := range []Mechanism{enhanced, standard} {
			e.record(out, m, 0, unavailable("security password not set"))
		}
		e.clearPassword(ctx, dev, sec, out)
		return ""
	}

	winner := e.firstSuccess(ctx, dev, out, []Mechanism{enhanced, standard})
	e.clearPassword(ctx, dev, sec, out)
	return winner
}

func (e *Engine) clearPassword(ctx context.Context, dev system.Device, sec *ATASecurity, out *RunOutcome) {
	var sent bool
	_, err := e.retry().Do(ctx, "ata-clear-password", func() error {
		var err error
		sent, err = sec.Clear(ctx, dev)
		return err
	})
	switch {
	case err != nil:
		e.logger.Log("ERROR", "ata password could not be cleared", "device", dev.Path, "error", err.Error())
		out.Note("WARNING: ATA temporary password could not be cleared: %v", err)
	case sent:
		e.logger.Log("INFO", "ata password cleared", "device", dev.Path)
		out.Note("ATA temporary password cleared")
	default:
		e.logger.Log("INFO", "ata security already disabled", "device", dev.Path)
	}
}

// firstSuccess tries mechanisms in order with retries and returns the name
// of the first that succeeds, or "".
func (e *Engine) firstSuccess(ctx context.Context, dev system.Device, out *RunOutcome, mechanisms []Mechanism) string {
	for _, m := range mechanisms {
		e.logger.Log("INFO", "trying mechanism", "device", dev.Path, "mechanism", m.Name())
		tries, err := e.retry().Do(ctx, m.Name(), func() error { return m.Attempt(ctx, dev) })
		e.record(out, m, tries, err)
		if err == nil {
			return m.Name()
		}
		e.logger.Log("WARN", "mechanism did not succeed", "mechanism", m.Name(),
			"outcome", OutcomeOf(err), "tries", tries, "error", err.Error())
	}
	return ""
}

func (e *Engine) fallbackMechanisms() []Mechanism {
	chunk := int(e.cfg.Erase.ChunkSize)
	return []Mechanism{
		&Discard{Open: e.open, Enabled: e.cfg.Erase.EnableDiscard},
		&Overwrite{
			Runner:       e.runner,
			Tool:         e.cfg.Tools.Shred,
			Passes:       e.cfg.Erase.OverwritePasses,
			RandomPasses: e.cfg.Erase.NativeRandomPasses,
			Open:         e.open,
			ChunkSize:    chunk,
			MaxSpeedMBps: e.cfg.Erase.MaxSpeedMBps,
			Progress:     e.progress,
			Logger:       e.logger,
		},
		&BoundaryZero{
			Open:         e.open,
			Bytes:        e.cfg.BoundaryZeroBytes(),
			ChunkSize:    chunk,
			MaxSpeedMBps: e.cfg.Erase.MaxSpeedMBps,
		},
	}
}

func (e *Engine) runFallback(ctx context.Context, dev system.Device, out *RunOutcome) {
	var errs *multierror.Error
	var used []string
	discardOK := false

	for _, m := range e.fallbackMechanisms() {
		e.logger.Log("INFO", "fallback step", "device", dev.Path, "mechanism", m.Name())
		err := m.Attempt(ctx, dev)
		e.record(out, m, 1, err)

		name := m.Name()
		if o, ok := m.(*Overwrite); ok && o.Variant() != "" {
			name += "(" + o.Variant() + ")"
			out.Note("overwrite performed with %s", o.Variant())
		}
		if err != nil {
			errs = multierror.Append(errs, &stepError{name: name, err: err})
			e.logger.Log("WARN", "fallback step did not succeed", "mechanism", name, "outcome", OutcomeOf(err), "error", err.Error())
			continue
		}
		used = append(used, name)
		if m.Name() == NameDiscard {
			discardOK = true
		}
	}

	if errs != nil {
		for _, err := range errs.Errors {
			out.Note("fallback %s", err.Error())
		}
	}

	out.Method = strings.Join(used, "+")
	if out.Method == "" {
		out.Method = "none"
	}
	if discardOK {
		out.Status = string(StatusFallbackOK)
	} else {
		out.Status = string(StatusFallbackDegraded)
	}
	e.logger.Log("INFO", "fallback tier finished", "device", dev.Path, "status", out.Status, "method", out.Method)
}

type stepError struct {
	name string
	err  error
}

func (s *stepError) Error() string {
	return s.name + " " + string(OutcomeOf(s.err)) + ": " + s.err.Error()
}
func (s *stepError) Unwrap() error { return s.err }

func (e *Engine) record(out *RunOutcome, m Mechanism, tries int, err error) {
	a := Attempt{
		Mechanism: m.Name(),
		Tier:      m.Tier(),
		Outcome:   OutcomeOf(err),
		Tries:     tries,
		Timestamp: e.now().UTC(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	out.Record(a)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	t := e.timer
	if t == nil {
		tm := time.NewTimer(d)
		defer tm.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tm.C:
			return nil
		}
	}
	t.Start(d)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

func generatePassword() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "disksan-" + time.Now().Format("150405")
	}
	return hex.EncodeToString(b)
}
