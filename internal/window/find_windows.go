//go:build windows

package window

import (
	"fmt"
	"unsafe"

	"github.com/comfycap/comfycap/internal/capture"
	"golang.org/x/sys/windows"
)

var (
	libuser32       = windows.NewLazySystemDLL("user32.dll")
	procFindWindowW = libuser32.NewProc("FindWindowW")
)

func findWindow(title string) (capture.WindowHandle, error) {
	p, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", capture.ErrInvalidWindow, err)
	}
	ret, _, callErr := procFindWindowW.Call(0, uintptr(unsafe.Pointer(p)))
	if ret == 0 {
		return 0, fmt.Errorf("%w: no window titled %q: %v", capture.ErrInvalidWindow, title, callErr)
	}
	return capture.WindowHandle(ret), nil
}
