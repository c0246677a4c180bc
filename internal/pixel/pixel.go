// Package pixel converts raw GDI pixel buffers into Go images.
package pixel

import (
	"errors"
	"fmt"
	"image"
)

// ErrMalformedBuffer means the buffer length does not match width*height*4.
var ErrMalformedBuffer = errors.New("malformed pixel buffer")

// SwapRB swaps the first and third byte of every 4-byte group in place.
// Trailing bytes that do not form a full group are left alone.
func SwapRB(buf []byte) {
	for i := 0; i+3 < len(buf); i += 4 {
		buf[i], buf[i+2] = buf[i+2], buf[i]
	}
}

// Convert interprets buf as top-down rows of BGRA pixels and returns an RGBA
// image that owns buf. Alpha and green are copied untouched.
func Convert(width, height int, buf []byte) (*image.RGBA, error) {
	if width < 0 || height < 0 || len(buf) != width*height*4 {
		return nil, fmt.Errorf("%w: %dx%d needs %d bytes, got %d",
			ErrMalformedBuffer, width, height, max(width*height*4, 0), len(buf))
	}

	SwapRB(buf)
	return &image.RGBA{
		Pix:    buf,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}
