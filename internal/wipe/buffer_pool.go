package wipe

import (
	"crypto/rand"
	"sync"
)

// chunkPools keeps one sync.Pool per chunk size. A run uses a single chunk
// size, so in practice this holds one or two entries.
var chunkPools sync.Map // int -> *sync.Pool

func poolFor(size int) *sync.Pool {
	if p, ok := chunkPools.Load(size); ok {
		return p.(*sync.Pool)
	}
	p, _ := chunkPools.LoadOrStore(size, &sync.Pool{
		New: func() interface{} {
			b := make([]byte, size)
			return &b
		},
	})
	return p.(*sync.Pool)
}

// GetBuffer returns a chunk buffer of exactly size bytes. Contents are
// whatever the previous user left; callers fill it before writing.
func GetBuffer(size int) []byte {
	if size <= 0 {
		return nil
	}
	return *poolFor(size).Get().(*[]byte)
}

// PutBuffer hands buf back for reuse by the next chunk of the same size.
func PutBuffer(buf []byte) {
	if len(buf) == 0 {
		return
	}
	poolFor(len(buf)).Put(&buf)
}

func FillBufferPattern(buf []byte, pattern byte) {
	for i := range buf {
		buf[i] = pattern
	}
}

// FillRandom fills buf from crypto/rand.
func FillRandom(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}
