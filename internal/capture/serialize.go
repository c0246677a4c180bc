package capture

import "sync"

type serialized struct {
	mu sync.Mutex
	c  Capturer
}

// Serialize wraps c so that at most one Capture runs at a time. The HTTP
// listener and the direct capture path share one serialized capturer.
func Serialize(c Capturer) Capturer {
	if s, ok := c.(*serialized); ok {
		return s
	}
	return &serialized{c: c}
}

func (s *serialized) Capture(window WindowHandle, scale float64) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Capture(window, scale)
}
