package taskwdt

import (
	"errors"
	"fmt"
)

// Status is a status code of the task watchdog subsystem. Values match the ESP-IDF esp_err_t codes.
type Status int32

const (
	StatusOK           Status = 0
	StatusFail         Status = -1
	StatusNoMem        Status = 0x101
	StatusInvalidArg   Status = 0x102
	StatusInvalidState Status = 0x103
	StatusNotFound     Status = 0x105
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ESP_OK"
	case StatusFail:
		return "ESP_FAIL"
	case StatusNoMem:
		return "ESP_ERR_NO_MEM"
	case StatusInvalidArg:
		return "ESP_ERR_INVALID_ARG"
	case StatusInvalidState:
		return "ESP_ERR_INVALID_STATE"
	case StatusNotFound:
		return "ESP_ERR_NOT_FOUND"
	default:
		return fmt.Sprintf("0x%x", int32(s))
	}
}

// StatusError is returned by every failing Subsystem operation
type StatusError struct {
	Code Status
	Op   string
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task watchdog %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("task watchdog %s: %s", e.Op, e.Code)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func newStatusError(op string, code Status, cause error) *StatusError {
	return &StatusError{Code: code, Op: op, Err: cause}
}

// StatusOf returns the status carried by err. A nil error is StatusOK, an error not
// produced by the subsystem is StatusFail.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusFail
}
