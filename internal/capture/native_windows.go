//go:build windows

package capture

import (
	"fmt"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

const (
	lwaColorKey = 0x00000001
	hgdiError   = ^uintptr(0)
)

// GWL_EXSTYLE is negative; a variable converts to uintptr with sign extension.
var gwlExStyle int32 = win.GWL_EXSTYLE

// user32 entry points lxn/win does not wrap, or whose errno it discards.
var (
	libuser32                      = windows.NewLazySystemDLL("user32.dll")
	procGetWindowDC                = libuser32.NewProc("GetWindowDC")
	procIsWindow                   = libuser32.NewProc("IsWindow")
	procSetLayeredWindowAttributes = libuser32.NewProc("SetLayeredWindowAttributes")
	procSetWindowLongW             = libuser32.NewProc("SetWindowLongW")
)

type gdiAPI struct{}

func newNativeAPI() (nativeAPI, error) {
	for _, p := range []*windows.LazyProc{procGetWindowDC, procIsWindow, procSetLayeredWindowAttributes, procSetWindowLongW} {
		if err := p.Find(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
	}
	return gdiAPI{}, nil
}

func lastError(call string) error {
	return fmt.Errorf("%s failed: winerr=%d", call, win.GetLastError())
}

func (gdiAPI) IsWindow(w WindowHandle) bool {
	ret, _, _ := procIsWindow.Call(uintptr(w))
	return ret != 0
}

func (gdiAPI) ShowWindow(w WindowHandle, show bool) {
	cmd := int32(win.SW_HIDE)
	if show {
		cmd = win.SW_SHOW
	}
	// The return value is the previous visibility, not a status.
	win.ShowWindow(win.HWND(w), cmd)
}

func (gdiAPI) ExStyle(w WindowHandle) int32 {
	return win.GetWindowLong(win.HWND(w), win.GWL_EXSTYLE)
}

func (gdiAPI) SetExStyle(w WindowHandle, style int32) error {
	// A zero return is only a failure when the last error was set by this
	// call, so clear it first. Call reads the errno on the same thread.
	win.SetLastError(0)
	ret, _, errno := procSetWindowLongW.Call(uintptr(w), uintptr(gwlExStyle), uintptr(uint32(style)))
	if ret == 0 && errno != windows.ERROR_SUCCESS {
		return fmt.Errorf("SetWindowLong failed: %v", errno)
	}
	return nil
}

func (gdiAPI) SetColorKeyTransparent(w WindowHandle) error {
	// Colour key black, alpha 0.
	ret, _, err := procSetLayeredWindowAttributes.Call(uintptr(w), 0, 0, lwaColorKey)
	if ret == 0 {
		return fmt.Errorf("SetLayeredWindowAttributes failed: %v", err)
	}
	return nil
}

func (gdiAPI) MonitorRect(w WindowHandle) (rect, error) {
	monitor := win.MonitorFromWindow(win.HWND(w), win.MONITOR_DEFAULTTONEAREST)
	if monitor == 0 {
		return rect{}, lastError("MonitorFromWindow")
	}
	var info win.MONITORINFO
	info.CbSize = uint32(unsafe.Sizeof(info))
	if !win.GetMonitorInfo(monitor, &info) {
		return rect{}, lastError("GetMonitorInfo")
	}
	r := info.RcMonitor
	return rect{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom}, nil
}

func (gdiAPI) DesktopDC() (WindowHandle, hdc, error) {
	desktop := win.GetDesktopWindow()
	ret, _, err := procGetWindowDC.Call(uintptr(desktop))
	if ret == 0 {
		return 0, 0, fmt.Errorf("GetWindowDC failed: %v", err)
	}
	return WindowHandle(desktop), hdc(ret), nil
}

func (gdiAPI) ReleaseDC(owner WindowHandle, dc hdc) error {
	if !win.ReleaseDC(win.HWND(owner), win.HDC(dc)) {
		return lastError("ReleaseDC")
	}
	return nil
}

func (gdiAPI) CreateCompatibleDC(dc hdc) (hdc, error) {
	mem := win.CreateCompatibleDC(win.HDC(dc))
	if mem == 0 {
		return 0, lastError("CreateCompatibleDC")
	}
	return hdc(mem), nil
}

func (gdiAPI) DeleteDC(dc hdc) error {
	if !win.DeleteDC(win.HDC(dc)) {
		return lastError("DeleteDC")
	}
	return nil
}

func (gdiAPI) ClientRect(w WindowHandle) (rect, error) {
	var r win.RECT
	if !win.GetClientRect(win.HWND(w), &r) {
		return rect{}, lastError("GetClientRect")
	}
	return rect{Left: r.Left, Top: r.Top, Right: r.Right, Bottom: r.Bottom}, nil
}

func (gdiAPI) ClientToScreen(w WindowHandle, p point) (point, error) {
	pt := win.POINT{X: p.X, Y: p.Y}
	if !win.ClientToScreen(win.HWND(w), &pt) {
		return point{}, lastError("ClientToScreen")
	}
	return point{X: pt.X, Y: pt.Y}, nil
}

func (gdiAPI) CreateCompatibleBitmap(dc hdc, width, height int) (gdiobj, error) {
	bm := win.CreateCompatibleBitmap(win.HDC(dc), int32(width), int32(height))
	if bm == 0 {
		return 0, lastError("CreateCompatibleBitmap")
	}
	return gdiobj(bm), nil
}

func (gdiAPI) DeleteObject(obj gdiobj) error {
	if !win.DeleteObject(win.HGDIOBJ(obj)) {
		return lastError("DeleteObject")
	}
	return nil
}

func (gdiAPI) SelectObject(dc hdc, obj gdiobj) (gdiobj, error) {
	prev := win.SelectObject(win.HDC(dc), win.HGDIOBJ(obj))
	if prev == 0 || uintptr(prev) == hgdiError {
		return 0, lastError("SelectObject")
	}
	return gdiobj(prev), nil
}

func (gdiAPI) BitBlt(dst hdc, width, height int, src hdc, x, y int32) error {
	if !win.BitBlt(win.HDC(dst), 0, 0, int32(width), int32(height), win.HDC(src), x, y, win.SRCCOPY) {
		return lastError("BitBlt")
	}
	return nil
}

func (gdiAPI) GetDIBits(dc hdc, bitmap gdiobj, width, height int, buf []byte) error {
	if len(buf) != width*height*4 || len(buf) == 0 {
		return fmt.Errorf("GetDIBits: buffer of %d bytes for %dx%d", len(buf), width, height)
	}
	var bi win.BITMAPINFO
	bi.BmiHeader = win.BITMAPINFOHEADER{
		BiSize:        uint32(unsafe.Sizeof(win.BITMAPINFOHEADER{})),
		BiWidth:       int32(width),
		BiHeight:      -int32(height), // top-down rows
		BiPlanes:      1,
		BiBitCount:    32,
		BiCompression: win.BI_RGB,
		BiSizeImage:   uint32(len(buf)),
	}
	lines := win.GetDIBits(win.HDC(dc), win.HBITMAP(bitmap), 0, uint32(height), &buf[0], &bi, win.DIB_RGB_COLORS)
	if lines == 0 {
		return lastError("GetDIBits")
	}
	return nil
}
