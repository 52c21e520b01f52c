package wipe

import (
	"context"
	"fmt"
	"io"

	"disksanitizer/internal/system"
)

// WipeMethod is the data pattern of one native overwrite pass.
type WipeMethod string

const (
	MethodZero   WipeMethod = "zero"
	MethodRandom WipeMethod = "random"
)

// FillPattern fills buf for the given method.
func FillPattern(method WipeMethod, buf []byte) error {
	switch method {
	case MethodZero:
		FillBufferPattern(buf, 0x00)
		return nil
	case MethodRandom:
		if err := FillRandom(buf); err != nil {
			return fmt.Errorf("random pattern: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown wipe method: %s", method)
	}
}

// PassPlan returns randomPasses random passes followed by one zero pass.
// The final zero pass is what verification checks for.
func PassPlan(randomPasses int) []WipeMethod {
	plan := make([]WipeMethod, 0, randomPasses+1)
	for i := 0; i < randomPasses; i++ {
		plan = append(plan, MethodRandom)
	}
	return append(plan, MethodZero)
}

// rangeResult summarizes one writeRange call.
type rangeResult struct {
	Written      int64
	FailedChunks int
	FirstErr     error
}

func (r rangeResult) err() error {
	if r.FailedChunks == 0 {
		return nil
	}
	return fmt.Errorf("%d chunk(s) could not be written, first error: %w", r.FailedChunks, r.FirstErr)
}

// writeRange writes the method's pattern over [start, end). A chunk that
// fails with a media error or a short write is skipped and counted. Any
// other write error stops the range.
func writeRange(ctx context.Context, w *ThrottledWriter, start, end int64, chunk int, method WipeMethod, progress io.Writer) rangeResult {
	var res rangeResult
	if end <= start {
		return res
	}
	if int64(chunk) > end-start {
		chunk = int(end - start)
	}

	buf := GetBuffer(chunk)
	defer PutBuffer(buf)
	if err := FillPattern(method, buf); err != nil {
		res.FailedChunks++
		res.FirstErr = err
		return res
	}

	for off := start; off < end; off += int64(chunk) {
		n := int64(chunk)
		if off+n > end {
			n = end - off
		}
		if method == MethodRandom && off != start {
			if err := FillPattern(method, buf[:n]); err != nil {
				res.FailedChunks++
				if res.FirstErr == nil {
					res.FirstErr = err
				}
				continue
			}
		}

		written, err := w.WriteAtContext(ctx, buf[:n], off)
		res.Written += int64(written)
		if progress != nil && written > 0 {
			_, _ = progress.Write(buf[:written])
		}
		if err != nil || int64(written) < n {
			res.FailedChunks++
			if res.FirstErr == nil {
				first := err
				if first == nil {
					first = io.ErrShortWrite
				}
				res.FirstErr = fmt.Errorf("offset %d: %w", off, first)
			}
			if ctx.Err() != nil || (err != nil && !system.IsMediaError(err)) {
				return res
			}
		}
	}
	return res
}
