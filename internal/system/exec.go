package system

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result is the captured outcome of one external command.
type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	return string(bytes.TrimSpace(append(append([]byte{}, r.Stdout...), r.Stderr...)))
}

// Runner executes external tools. Every firmware mechanism goes through it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
	LookPath(name string) (string, error)
}

var ErrTimeout = errors.New("command timed out")

// ExecRunner runs real processes with a per-command timeout.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cctx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return res, ErrTimeout
	}
	return res, err
}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
