package testutil

import (
	"sync"
	"time"
)

// RecordingTimer satisfies backoff.Timer. It fires immediately and keeps
// every requested delay.
type RecordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func (t *RecordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delays = append(t.delays, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *RecordingTimer) Stop() {}

func (t *RecordingTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

// Delays returns the delays requested so far.
func (t *RecordingTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}
