package lms

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed web-service call.
type ErrorKind string

const (
	// KindConnectivity covers transport failures and timeouts.
	KindConnectivity ErrorKind = "connectivity"
	// KindStatus is a non-2xx HTTP response.
	KindStatus ErrorKind = "status"
	// KindRemote is a 200 response carrying the platform's exception envelope.
	KindRemote ErrorKind = "remote"
	// KindDecode is a payload that does not match the expected shape.
	KindDecode ErrorKind = "decode"
)

// Error is returned by every Client method that fails.
type Error struct {
	Kind       ErrorKind
	Function   string
	StatusCode int
	// Code is the platform error code (e.g. invalidtoken) for KindRemote.
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("lms %s: status %d: %s", e.Function, e.StatusCode, e.Message)
	case KindRemote:
		return fmt.Sprintf("lms %s: %s: %s", e.Function, e.Code, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("lms %s: %s: %v", e.Function, e.Kind, e.Err)
		}
		return fmt.Sprintf("lms %s: %s: %s", e.Function, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsConnectivity reports whether err is (or wraps) a transport-level failure.
func IsConnectivity(err error) bool {
	return isKind(err, KindConnectivity)
}

// IsRemote reports whether err is (or wraps) a platform exception.
func IsRemote(err error) bool {
	return isKind(err, KindRemote)
}

// IsDecode reports whether err is (or wraps) a schema mismatch.
func IsDecode(err error) bool {
	return isKind(err, KindDecode)
}

// RemoteCode returns the platform error code carried by err, or "".
func RemoteCode(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRemote {
		return e.Code
	}
	return ""
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
