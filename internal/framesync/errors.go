package framesync

import "errors"

// ErrDropped is wrapped by every error that causes a tick to be abandoned.
var (
	ErrDropped           = errors.New("tick dropped")
	ErrFrameMissing      = errors.New("depth or color frame missing")
	ErrDimensionMismatch = errors.New("frame dimensions do not match")
	ErrTickFailed        = errors.New("frame processing failed")
)
