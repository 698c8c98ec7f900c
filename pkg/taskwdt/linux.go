//go:build linux

package taskwdt

import (
	"bytes"
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/utils/clock"
)

// ensure we only have 1 instance
var mutex sync.Mutex
var linuxWatchdogInstantiated = false

var _ timerImpl = &linuxTimer{}

// linuxTimer provides the linux specific implementation of the timerImpl interface
type linuxTimer struct {
	path string
	fd   int
	log  logr.Logger
}

type watchdogInfo struct {
	options         uint32
	firmwareVersion uint32
	identity        [32]byte
}

// NewLinux returns a task watchdog backed by a linux watchdog device.
// The device is opened, and with that armed, when the first user registers.
func NewLinux(log logr.Logger, opts LinuxOptions, cfg Config) (*TaskWatchdog, error) {
	mutex.Lock()
	if linuxWatchdogInstantiated {
		mutex.Unlock()
		return nil, fmt.Errorf("linux watchdog already instantiated")
	}
	linuxWatchdogInstantiated = true
	mutex.Unlock()

	path := opts.DevicePath
	if path == "" {
		path = DefaultDevicePath()
	}

	if err := checkWatchdogExists(path); err != nil {
		if !opts.EnableSoftdog {
			return nil, err
		}
		log.Error(err, "watchdog file path couldn't be accessed")
		log.Info("trying to enable softdog")

		if err := enableSoftdog(); err != nil {
			log.Error(err, "failed to enable softdog")
			return nil, err
		}

		softdog, err := getLastModifiedWatchdog(watchdogsFolder)
		if err != nil {
			log.Error(err, "failed to find softdog path")
			return nil, err
		}
		log.Info("auto detected softdog path", "path", softdog)

		if err := checkWatchdogExists(softdog); err != nil {
			log.Error(err, "softdog file path couldn't be accessed")
			return nil, err
		}
		path = softdog
	}

	t := &linuxTimer{path: path, fd: -1, log: log}
	return newTaskWatchdog(log, t, clock.RealClock{}, cfg)
}

func (t *linuxTimer) start(timeout time.Duration) error {
	fd, err := unix.Open(t.path, unix.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open watchdog device %s", t.path)
	}
	t.fd = fd

	if info := getInfo(fd); info != nil {
		t.log.Info("opened watchdog device", "path", t.path,
			"identity", string(bytes.TrimRight(info.identity[:], "\x00")), "firmware", info.firmwareVersion)
	}

	if err := t.setTimeout(timeout); err != nil {
		// no feeding without timeout, so disarm
		_ = t.stop()
		return err
	}
	return nil
}

func (t *linuxTimer) setTimeout(timeout time.Duration) error {
	if err := unix.IoctlSetPointerInt(t.fd, unix.WDIOC_SETTIMEOUT, timeoutSeconds(timeout)); err != nil {
		return errors.Wrapf(err, "failed to set timeout of watchdog %s", t.path)
	}
	actual, err := unix.IoctlGetInt(t.fd, unix.WDIOC_GETTIMEOUT)
	if err != nil {
		return errors.Wrapf(err, "failed to get timeout of watchdog %s", t.path)
	}
	t.log.V(1).Info("watchdog device timeout set", "requested", timeout, "actual", time.Duration(actual)*time.Second)
	return nil
}

func (t *linuxTimer) kick() error {
	err := unix.IoctlWatchdogKeepalive(t.fd)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.ENOTTY) {
		return errors.Wrap(err, "ioctl WDIOC_KEEPALIVE failed")
	}
	// the driver has no keepalive ioctl, any write feeds it
	_, err = unix.Write(t.fd, []byte("a"))
	return err
}

// stop closes the watchdog without triggering a reboot, even if it will not be fed any more
func (t *linuxTimer) stop() error {
	if t.fd < 0 {
		return nil
	}
	b := []byte("V") // "V" is a special char for signaling watchdog disarm
	if _, err := unix.Write(t.fd, b); err != nil {
		return err
	}
	err := unix.Close(t.fd)
	t.fd = -1
	return err
}

func (t *linuxTimer) expired(unreset []string, triggerPanic bool) {
	if triggerPanic {
		t.log.Info("watchdog device is not fed anymore and will reset the system", "path", t.path)
		return
	}
	// without panic an expiry is reported only, keep the device from resetting the system
	if err := t.kick(); err != nil {
		t.log.Error(err, "failed to feed watchdog device after expiry", "path", t.path)
	}
}

func getInfo(fd int) *watchdogInfo {
	info := watchdogInfo{}
	_, _, errNo := syscall.Syscall(
		syscall.SYS_IOCTL, uintptr(fd),
		unix.WDIOC_GETSUPPORT, uintptr(unsafe.Pointer(&info)))

	if errNo != 0 {
		return nil
	}

	return &info
}
