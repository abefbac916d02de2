// ABOUTME: Typed microphone acquisition errors
// ABOUTME: Classifies device failures as permission, missing device or other
package capture

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a capture failure
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota
	DeviceNotFound
	Other
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission denied"
	case DeviceNotFound:
		return "device not found"
	default:
		return "capture failed"
	}
}

// Error is returned when the microphone cannot be acquired
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "microphone " + e.Kind.String()
	}
	return fmt.Sprintf("microphone %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrPermissionDenied = &Error{Kind: PermissionDenied}
	ErrDeviceNotFound   = &Error{Kind: DeviceNotFound}
)

// classify maps a backend error to an *Error by its message
func classify(err error) *Error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*Error); ok {
		return ce
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"):
		return &Error{Kind: PermissionDenied, Err: err}
	case strings.Contains(msg, "no device"), strings.Contains(msg, "does not exist"), strings.Contains(msg, "not found"):
		return &Error{Kind: DeviceNotFound, Err: err}
	default:
		return &Error{Kind: Other, Err: err}
	}
}
