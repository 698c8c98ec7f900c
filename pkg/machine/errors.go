package machine

import (
	"errors"
	"fmt"

	"github.com/medik8s/machine-wdt/pkg/taskwdt"
)

// Kind is the tag of an operation result
type Kind int

const (
	KindNone Kind = iota
	KindInvalidArgument
	KindOSError
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidArgument:
		return "invalid argument"
	case KindOSError:
		return "os error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ArgumentError is raised for arguments rejected before the watchdog is touched
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	if e.Msg == "" {
		return "invalid argument"
	}
	return "invalid argument: " + e.Msg
}

// OSError carries the status returned by the task watchdog subsystem
type OSError struct {
	Code taskwdt.Status
	Err  error
}

func (e *OSError) Error() string {
	return fmt.Sprintf("os error %d (%s)", int32(e.Code), e.Code)
}

func (e *OSError) Unwrap() error {
	return e.Err
}

func osError(err error) error {
	return &OSError{Code: taskwdt.StatusOf(err), Err: err}
}

// KindOf returns the tag of err. Errors not raised by this package are KindOSError.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ae *ArgumentError
	if errors.As(err, &ae) {
		return KindInvalidArgument
	}
	return KindOSError
}
