package wipe

import (
	"context"
	"io"
	"sync"

	"golang.org/x/time/rate"
)

// ThrottledWriter limits the write rate to a device (thread-safe).
// A zero speed means unlimited.
type ThrottledWriter struct {
	dev     io.WriterAt
	limiter *rate.Limiter
	mu      sync.Mutex
	written int64
}

// NewThrottledWriter allows bursts of up to burst bytes; burst must be at
// least the largest single write.
func NewThrottledWriter(dev io.WriterAt, maxSpeedMBps float64, burst int) *ThrottledWriter {
	tw := &ThrottledWriter{dev: dev}
	if maxSpeedMBps > 0 {
		bytesPerSec := maxSpeedMBps * 1024 * 1024
		if burst < int(bytesPerSec) {
			burst = int(bytesPerSec)
		}
		tw.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}
	return tw
}

func (tw *ThrottledWriter) WriteAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if tw.limiter != nil {
		if err := tw.limiter.WaitN(ctx, len(p)); err != nil {
			return 0, err
		}
	}

	n, err := tw.dev.WriteAt(p, off)
	tw.mu.Lock()
	tw.written += int64(n)
	tw.mu.Unlock()
	return n, err
}

// Written returns the total bytes accepted by the device.
func (tw *ThrottledWriter) Written() int64 {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.written
}
