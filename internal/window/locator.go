package window

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/comfycap/comfycap/internal/capture"
)

// Locator yields the window to capture. Resolve is called before every
// capture because a handle can go stale between calls.
type Locator interface {
	Resolve() (capture.WindowHandle, error)
	String() string
}

type fixed capture.WindowHandle

// Fixed returns a Locator that always yields h.
func Fixed(h capture.WindowHandle) Locator {
	return fixed(h)
}

func (f fixed) Resolve() (capture.WindowHandle, error) {
	if f == 0 {
		return 0, fmt.Errorf("%w: zero handle", capture.ErrInvalidWindow)
	}
	return capture.WindowHandle(f), nil
}

func (f fixed) String() string {
	return fmt.Sprintf("hwnd %#x", uintptr(f))
}

type byTitle string

// ByTitle returns a Locator that looks up a top-level window by its exact
// title on every call.
func ByTitle(title string) Locator {
	return byTitle(title)
}

func (t byTitle) Resolve() (capture.WindowHandle, error) {
	if t == "" {
		return 0, fmt.Errorf("%w: empty window title", capture.ErrInvalidWindow)
	}
	return findWindow(string(t))
}

func (t byTitle) String() string {
	return fmt.Sprintf("title %q", string(t))
}

// ParseHandle parses a decimal or 0x-prefixed hexadecimal window handle.
func ParseHandle(s string) (capture.WindowHandle, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: %q", capture.ErrInvalidWindow, s)
	}
	return capture.WindowHandle(v), nil
}

// New picks a Locator from a handle string and a title; the handle wins.
func New(handle, title string) (Locator, error) {
	if handle != "" {
		h, err := ParseHandle(handle)
		if err != nil {
			return nil, err
		}
		return Fixed(h), nil
	}
	if title != "" {
		return ByTitle(title), nil
	}
	return nil, fmt.Errorf("%w: no window handle or title configured", capture.ErrInvalidWindow)
}
