//go:build !linux

package taskwdt

import (
	"runtime"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// NewLinux is only available on linux
func NewLinux(_ logr.Logger, _ LinuxOptions, _ Config) (*TaskWatchdog, error) {
	return nil, errors.Errorf("watchdog devices are not supported on %s", runtime.GOOS)
}
