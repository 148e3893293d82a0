package session

import "sync"

// Surface measures the area a session renders into.
type Surface interface {
	// Size returns the current rendered size in (possibly fractional) pixels.
	Size() (width, height float64)
}

// FixedSurface is a Surface whose size is set by the host.
type FixedSurface struct {
	mut    sync.Mutex
	width  float64
	height float64
}

func NewFixedSurface(width, height float64) *FixedSurface {
	return &FixedSurface{width: width, height: height}
}

func (s *FixedSurface) Size() (float64, float64) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.width, s.height
}

func (s *FixedSurface) SetSize(width, height float64) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.width, s.height = width, height
}
