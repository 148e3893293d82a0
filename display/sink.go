package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Sink displays frames. A sink owns every frame passed to Show and must release the frame it
// displayed before as soon as the new one replaces it, whether or not displaying the new one succeeded.
type Sink interface {
	Show(ctx context.Context, f *Frame) error
}

// Current holds the frame a sink is displaying.
type Current struct {
	mut   sync.Mutex
	frame *Frame
}

// Replace stores f and releases the frame it supersedes.
func (c *Current) Replace(f *Frame) {
	c.mut.Lock()
	prev := c.frame
	c.frame = f
	c.mut.Unlock()
	if prev != nil && prev != f {
		prev.Release()
	}
}

func (c *Current) Get() *Frame {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.frame
}

// Clear releases the current frame, if any.
func (c *Current) Clear() {
	c.Replace(nil)
}

// MemorySink keeps the latest frame in memory.
type MemorySink struct {
	Current
	shown atomic.Uint64
}

func (s *MemorySink) Show(ctx context.Context, f *Frame) error {
	s.Replace(f)
	s.shown.Add(1)
	return nil
}

// Shown returns the number of frames passed to Show.
func (s *MemorySink) Shown() uint64 {
	return s.shown.Load()
}

// FileSink writes the latest frame to a file, replacing it atomically.
type FileSink struct {
	Path string

	current Current
}

func (s *FileSink) Show(ctx context.Context, f *Frame) error {
	defer s.current.Replace(f)

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("creating frame dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".frame-*")
	if err != nil {
		return fmt.Errorf("creating temp frame file: %w", err)
	}
	_, err = tmp.Write(f.Data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing frame: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing frame file: %w", err)
	}
	return nil
}

// Close releases the last frame.
func (s *FileSink) Close() error {
	s.current.Clear()
	return nil
}

// Tee shows every frame on all of its sinks. The frame is released once every sink has released it.
type Tee []Sink

func (t Tee) Show(ctx context.Context, f *Frame) error {
	if len(t) == 0 {
		f.Release()
		return nil
	}
	var remaining atomic.Int32
	remaining.Store(int32(len(t)))
	var errs []error
	for _, sink := range t {
		child := NewFrame(f.Surface, f.Seq, f.Data, func(*Frame) {
			if remaining.Add(-1) == 0 {
				f.Release()
			}
		})
		if err := sink.Show(ctx, child); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard releases every frame immediately.
type Discard struct{}

func (Discard) Show(ctx context.Context, f *Frame) error {
	f.Release()
	return nil
}
