package display

import (
	"sync"
	"sync/atomic"
)

// Frame is one received frame image. Data is never modified after construction.
// Release must be called once the frame has been superseded.
type Frame struct {
	Surface string
	Seq     uint64
	Data    []byte

	onRelease   func(*Frame)
	releaseOnce sync.Once
	released    atomic.Bool
}

// NewFrame wraps data received for a surface. onRelease may be nil.
func NewFrame(surface string, seq uint64, data []byte, onRelease func(*Frame)) *Frame {
	return &Frame{Surface: surface, Seq: seq, Data: data, onRelease: onRelease}
}

// Release frees the frame. Only the first call has any effect.
func (f *Frame) Release() {
	f.releaseOnce.Do(func() {
		f.released.Store(true)
		if f.onRelease != nil {
			f.onRelease(f)
		}
	})
}

func (f *Frame) Released() bool {
	return f.released.Load()
}
