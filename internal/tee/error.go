package tee

import "errors"

// ErrCaptureOpen is returned by OpenCapture when a capture is already
// running; the existing capture is left untouched.
var ErrCaptureOpen = errors.New("capture already open")
