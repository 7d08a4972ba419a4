//go:build !linux || !cgo

package rtc

import "errors"

// CameraSource requires the Linux capture stack; other platforms run in
// receive-only mode via NullSource.
type CameraSource = NullSource

// NewCameraSource always fails off-Linux; the caller degrades to NullSource.
func NewCameraSource() (*CameraSource, error) {
	return nil, errors.New("local media capture is only supported on linux")
}
