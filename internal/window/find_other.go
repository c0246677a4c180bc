//go:build !windows

package window

import "github.com/comfycap/comfycap/internal/capture"

func findWindow(string) (capture.WindowHandle, error) {
	return 0, capture.ErrUnsupported
}
