package capture

import (
	"errors"
	"fmt"

	"github.com/comfycap/comfycap/internal/logger"
	"github.com/comfycap/comfycap/internal/pixel"
	"github.com/rs/zerolog"
)

// WindowCapturer captures a window's client area by hiding the window,
// making it colour-key transparent and blitting the desktop beneath it.
//
// All native handles are acquired and released within a single Capture call.
// The window's visibility and extended style are restored on every path once
// they have been changed.
type WindowCapturer struct {
	api nativeAPI
	log *zerolog.Logger
}

// NewWindowCapturer returns a capturer bound to the platform graphics API.
func NewWindowCapturer() (*WindowCapturer, error) {
	api, err := newNativeAPI()
	if err != nil {
		return nil, err
	}
	return newWindowCapturer(api), nil
}

func newWindowCapturer(api nativeAPI) *WindowCapturer {
	return &WindowCapturer{
		api: api,
		log: logger.WithComponent("capture"),
	}
}

// Capture implements Capturer.
func (c *WindowCapturer) Capture(window WindowHandle, scale float64) (*Result, error) {
	if _, _, err := ScaleDimensions(0, 0, scale); err != nil {
		return nil, err
	}
	if window == 0 || !c.api.IsWindow(window) {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidWindow, uintptr(window))
	}

	c.api.ShowWindow(window, false)
	style := c.api.ExStyle(window)

	restored := false
	restore := func() {
		if restored {
			return
		}
		restored = true
		if err := c.api.SetExStyle(window, style); err != nil {
			c.log.Error().Err(err).Uint64("hwnd", uint64(window)).Msg("Failed to restore window style")
		}
		c.api.ShowWindow(window, true)
	}
	defer restore()

	if err := c.api.SetExStyle(window, style|wsExLayered); err != nil {
		c.log.Warn().Err(err).Uint64("hwnd", uint64(window)).Msg("Failed to make window layered")
	}
	if err := c.api.SetColorKeyTransparent(window); err != nil {
		c.log.Warn().Err(err).Uint64("hwnd", uint64(window)).Msg("Failed to set colour key")
	}

	if mon, err := c.api.MonitorRect(window); err != nil {
		c.log.Warn().Err(err).Msg("Failed to resolve monitor")
	} else {
		c.log.Debug().
			Int32("left", mon.Left).
			Int32("top", mon.Top).
			Int32("right", mon.Right).
			Int32("bottom", mon.Bottom).
			Msg("Monitor bounds")
	}

	desktop, screenDC, err := c.api.DesktopDC()
	if err != nil {
		return nil, fmt.Errorf("%w: desktop device context: %v", ErrNativeCall, err)
	}
	defer func() {
		if err := c.api.ReleaseDC(desktop, screenDC); err != nil {
			c.log.Error().Err(err).Uint64("hdc", uint64(screenDC)).Msg("ReleaseDC failed")
		}
	}()

	memDC, err := c.api.CreateCompatibleDC(screenDC)
	if err != nil {
		return nil, fmt.Errorf("%w: memory device context: %v", ErrNativeCall, err)
	}
	defer func() {
		if err := c.api.DeleteDC(memDC); err != nil {
			c.log.Error().Err(err).Uint64("hdc", uint64(memDC)).Msg("DeleteDC failed")
		}
	}()

	client, err := c.api.ClientRect(window)
	if err != nil {
		return nil, fmt.Errorf("%w: client rect: %v", ErrInvalidWindow, err)
	}
	origin, err := c.api.ClientToScreen(window, point{X: client.Left, Y: client.Top})
	if err != nil {
		return nil, fmt.Errorf("%w: client to screen: %v", ErrInvalidWindow, err)
	}

	width, height, err := ScaleDimensions(int(client.Right-client.Left), int(client.Bottom-client.Top), scale)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyClientArea, width, height)
	}

	c.log.Debug().
		Int("width", width).
		Int("height", height).
		Int32("x", origin.X).
		Int32("y", origin.Y).
		Msg("Capturing client area")

	bitmap, err := c.api.CreateCompatibleBitmap(screenDC, width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: compatible bitmap %dx%d: %v", ErrNativeCall, width, height, err)
	}
	defer func() {
		if err := c.api.DeleteObject(bitmap); err != nil {
			c.log.Error().Err(err).Uint64("hbitmap", uint64(bitmap)).Msg("DeleteObject failed")
		}
	}()

	prev, err := c.api.SelectObject(memDC, bitmap)
	if err != nil {
		return nil, fmt.Errorf("%w: select bitmap: %v", ErrNativeCall, err)
	}
	// A bitmap still selected into a DC cannot be deleted.
	defer func() {
		if _, err := c.api.SelectObject(memDC, prev); err != nil {
			c.log.Error().Err(err).Msg("Failed to deselect bitmap")
		}
	}()

	if err := c.api.BitBlt(memDC, width, height, screenDC, origin.X, origin.Y); err != nil {
		return nil, fmt.Errorf("%w: blit: %v", ErrNativeCall, err)
	}

	restore()

	buf := make([]byte, width*height*4)
	if err := c.api.GetDIBits(memDC, bitmap, width, height, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPixelRead, err)
	}

	img, err := pixel.Convert(width, height, buf)
	if err != nil {
		if errors.Is(err, pixel.ErrMalformedBuffer) {
			c.log.Error().Err(err).Msg("Pixel buffer does not match bitmap size")
		}
		return nil, err
	}

	return &Result{Image: img, Width: width, Height: height}, nil
}
