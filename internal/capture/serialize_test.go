package capture

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSerializeNeverOverlaps(t *testing.T) {
	var active, peak atomic.Int32
	inner := CapturerFunc(func(WindowHandle, float64) (*Result, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return &Result{}, nil
	})

	c := Serialize(inner)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Capture(1, 1)
		}()
	}
	wg.Wait()

	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrency = %d, want 1", got)
	}
}

func TestSerializeIsIdempotent(t *testing.T) {
	c := Serialize(CapturerFunc(func(WindowHandle, float64) (*Result, error) { return nil, nil }))
	if Serialize(c) != c {
		t.Error("Serialize wrapped an already serialized capturer")
	}
}
