package transcriber

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindHTTPStatus ErrorKind = iota + 1
	KindNetwork
	KindEncode
)

func (k ErrorKind) String() string {
	switch k {
	case KindHTTPStatus:
		return "http status"
	case KindNetwork:
		return "network"
	case KindEncode:
		return "encode"
	default:
		return "unknown"
	}
}

type UploadError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		if e.Message != "" {
			return fmt.Sprintf("%s: backend returned status %d: %s", e.Op, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

func IsNetworkError(err error) bool {
	var ue *UploadError
	return errors.As(err, &ue) && ue.Kind == KindNetwork
}
