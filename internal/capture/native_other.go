//go:build !windows

package capture

func newNativeAPI() (nativeAPI, error) {
	return nil, ErrUnsupported
}
