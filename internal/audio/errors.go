package audio

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceUnavailable = errors.New("audio input device unavailable")
	ErrPermissionDenied  = errors.New("microphone permission not granted")
)

type CaptureErrorKind int

const (
	CaptureDeviceUnavailable CaptureErrorKind = iota + 1
	CapturePermissionDenied
	CaptureConverterInit
)

func (k CaptureErrorKind) String() string {
	switch k {
	case CaptureDeviceUnavailable:
		return "device unavailable"
	case CapturePermissionDenied:
		return "permission denied"
	case CaptureConverterInit:
		return "converter init failed"
	default:
		return "unknown"
	}
}

type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture: %s", e.Kind)
	}
	return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

func classifyDeviceError(err error) *CaptureError {
	if errors.Is(err, ErrPermissionDenied) {
		return &CaptureError{Kind: CapturePermissionDenied, Err: err}
	}
	return &CaptureError{Kind: CaptureDeviceUnavailable, Err: err}
}
