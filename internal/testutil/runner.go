package testutil

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"disksanitizer/internal/system"
)

// Response is a canned command result. Match is a substring of the full
// command line ("hdparm --security-erase ..."). Times limits how often the
// response is used; zero means unlimited.
type Response struct {
	Match  string
	Result system.Result
	Err    error
	Times  int
	used   int
}

// FakeRunner replays canned responses. Unmatched commands exit 1.
type FakeRunner struct {
	mu        sync.Mutex
	available map[string]bool
	responses []*Response
	calls     []string
}

// NewFakeRunner reports the given tool names as installed.
func NewFakeRunner(tools ...string) *FakeRunner {
	f := &FakeRunner{available: map[string]bool{}}
	for _, t := range tools {
		f.available[t] = true
	}
	return f
}

// OK registers a successful response with the given stdout.
func (f *FakeRunner) OK(match, stdout string) *FakeRunner {
	return f.On(&Response{Match: match, Result: system.Result{Stdout: []byte(stdout)}})
}

// Fail registers a non-zero exit.
func (f *FakeRunner) Fail(match, stderr string) *FakeRunner {
	return f.On(&Response{
		Match:  match,
		Result: system.Result{Stderr: []byte(stderr), Code: 5},
		Err:    errors.New("exit status 5"),
	})
}

func (f *FakeRunner) On(r *Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, r)
	return f
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (system.Result, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)
	if err := ctx.Err(); err != nil {
		return system.Result{Code: -1}, err
	}
	for _, r := range f.responses {
		if !strings.Contains(line, r.Match) {
			continue
		}
		if r.Times > 0 && r.used >= r.Times {
			continue
		}
		r.used++
		return r.Result, r.Err
	}
	return system.Result{Code: 1, Stderr: []byte("unexpected command")}, fmt.Errorf("unexpected command %q", line)
}

func (f *FakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.available[name] {
		return "/usr/sbin/" + name, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

// Calls returns every command line run so far.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many command lines contained match.
func (f *FakeRunner) Count(match string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c, match) {
			n++
		}
	}
	return n
}
