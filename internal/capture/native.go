package capture

// Extended window style bit that enables layered (colour-keyed) rendering.
const wsExLayered = 0x00080000

type (
	hdc    uintptr
	gdiobj uintptr
)

type rect struct {
	Left, Top, Right, Bottom int32
}

type point struct {
	X, Y int32
}

// nativeAPI is the slice of the windowing and GDI API the capture engine uses.
// Every call reports failure as an error carrying the OS error code.
type nativeAPI interface {
	IsWindow(w WindowHandle) bool
	ShowWindow(w WindowHandle, show bool)
	ExStyle(w WindowHandle) int32
	SetExStyle(w WindowHandle, style int32) error
	SetColorKeyTransparent(w WindowHandle) error
	MonitorRect(w WindowHandle) (rect, error)

	DesktopDC() (WindowHandle, hdc, error)
	ReleaseDC(owner WindowHandle, dc hdc) error
	CreateCompatibleDC(dc hdc) (hdc, error)
	DeleteDC(dc hdc) error

	ClientRect(w WindowHandle) (rect, error)
	ClientToScreen(w WindowHandle, p point) (point, error)

	CreateCompatibleBitmap(dc hdc, width, height int) (gdiobj, error)
	DeleteObject(obj gdiobj) error
	SelectObject(dc hdc, obj gdiobj) (gdiobj, error)
	BitBlt(dst hdc, width, height int, src hdc, x, y int32) error
	GetDIBits(dc hdc, bitmap gdiobj, width, height int, buf []byte) error
}
