package capture

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrInvalidWindow is returned for a zero, stale or destroyed window handle.
	ErrInvalidWindow = errors.New("invalid window handle")

	// ErrInvalidScale is returned for a scale factor that is not a positive number.
	ErrInvalidScale = errors.New("invalid scale factor")

	// ErrEmptyClientArea is returned when the scaled client area has no pixels,
	// e.g. for a minimized window. The window is still restored.
	ErrEmptyClientArea = errors.New("window client area is empty")

	// ErrPixelRead is returned when reading the captured bitmap back fails.
	ErrPixelRead = errors.New("failed to read captured pixels")

	// ErrNativeCall wraps any other failed windowing or graphics call.
	ErrNativeCall = errors.New("native graphics call failed")

	// ErrEncode is returned when a capture cannot be serialized.
	ErrEncode = errors.New("failed to encode capture")

	// ErrUnsupported is returned on platforms without a capture backend.
	ErrUnsupported = errors.New("window capture is not supported on this platform")
)

// WindowHandle identifies a native window. It is owned by the caller and may
// become invalid between captures.
type WindowHandle uintptr

// Result is a captured client area in RGBA order.
type Result struct {
	Image  *image.RGBA
	Width  int
	Height int
}

// Capturer captures the client area of a window.
type Capturer interface {
	// Capture grabs the client area of window at scale times its logical size.
	Capture(window WindowHandle, scale float64) (*Result, error)
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(window WindowHandle, scale float64) (*Result, error)

// Capture calls f(window, scale).
func (f CapturerFunc) Capture(window WindowHandle, scale float64) (*Result, error) {
	return f(window, scale)
}

const (
	// MaxScale bounds the scale factor. Windows display scaling stops at 500%.
	MaxScale = 16.0

	// MaxDimension bounds either side of a capture in physical pixels.
	MaxDimension = 1 << 16

	// maxBufferBytes bounds the 32bpp pixel buffer; GDI sizes DIBs in 32 bits.
	maxBufferBytes = math.MaxInt32
)

// ScaleDimensions converts a logical client size to physical pixels,
// rounding up. Negative sizes clamp to zero. Scales outside (0, MaxScale]
// and results larger than MaxDimension per side or 2 GiB of pixels are
// rejected with ErrInvalidScale.
func ScaleDimensions(clientWidth, clientHeight int, scale float64) (int, int, error) {
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 || scale > MaxScale {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	w := math.Ceil(float64(max(clientWidth, 0)) * scale)
	h := math.Ceil(float64(max(clientHeight, 0)) * scale)
	if w > MaxDimension || h > MaxDimension || w*h*4 > maxBufferBytes {
		return 0, 0, fmt.Errorf("%w: %vx%v at scale %v exceeds capture limits", ErrInvalidScale, w, h, scale)
	}
	return int(w), int(h), nil
}
