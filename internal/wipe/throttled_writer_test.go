package wipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disksanitizer/internal/testutil"
)

func TestThrottledWriterLimitsRate(t *testing.T) {
	// 256 KiB/s; the first second's budget is available as burst.
	dev := testutil.NewMemDevice(768, 512)
	w := NewThrottledWriter(dev, 0.25, 64*1024)
	require.NotNil(t, w.limiter)

	start := time.Now()
	res := writeRange(context.Background(), w, 0, dev.Size(), 64*1024, MethodZero, nil)
	elapsed := time.Since(start)

	require.NoError(t, res.err())
	assert.Equal(t, dev.Size(), w.Written())
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond, "128 KiB beyond the burst takes about half a second")
	assert.Less(t, elapsed, 5*time.Second)
}

func TestThrottledWriterHonoursContext(t *testing.T) {
	dev := testutil.NewMemDevice(768, 512)
	w := NewThrottledWriter(dev, 0.25, 64*1024)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := w.WriteAtContext(ctx, make([]byte, 256*1024), 0)
	require.NoError(t, err)

	cancel()
	_, err = w.WriteAtContext(ctx, make([]byte, 64*1024), 256*1024)
	assert.Error(t, err)
	assert.Equal(t, int64(256*1024), w.Written())
}

func TestThrottledWriterUnlimited(t *testing.T) {
	dev := testutil.NewMemDevice(16, 512)
	w := NewThrottledWriter(dev, 0, 4096)
	assert.Nil(t, w.limiter)

	n, err := w.WriteAtContext(context.Background(), make([]byte, 4096), 0)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.Equal(t, int64(4096), w.Written())
}
