package taskwdt

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	watchdogsFolder       = "/dev"
	watchdogPrefix        = "watchdog"
	defaultWatchdogDevice = "/dev/watchdog"
	watchdogPathEnvVar    = "WATCHDOG_PATH"
)

// LinuxOptions selects the watchdog device used by NewLinux
type LinuxOptions struct {
	// DevicePath of the watchdog device, DefaultDevicePath() if empty
	DevicePath string
	// EnableSoftdog loads the softdog module if the device does not exist
	EnableSoftdog bool
}

// DefaultDevicePath returns $WATCHDOG_PATH, or /dev/watchdog if it isn't set
func DefaultDevicePath() string {
	if p := os.Getenv(watchdogPathEnvVar); p != "" {
		return p
	}
	return defaultWatchdogDevice
}

func enableSoftdog() error {
	return exec.Command("modprobe", "softdog").Run()
}

func checkWatchdogExists(watchdogFilePath string) error {
	if _, err := os.Stat(watchdogFilePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("watchdog device not found: %v", err)
		}
		return fmt.Errorf("failed to check for watchdog device: %v", err)
	}
	return nil
}

// getLastModifiedWatchdog returns the watchdog in folder with the latest modification time,
// which is the softdog right after it was enabled
func getLastModifiedWatchdog(folder string) (string, error) {
	files, err := ioutil.ReadDir(folder)
	if err != nil {
		return "", errors.Wrap(err, "failed to list watchdogs folder: "+folder)
	}

	maxModTime := time.Time{}
	latestWatchdog := ""
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		if !strings.HasPrefix(file.Name(), watchdogPrefix) {
			continue
		}

		if file.ModTime().After(maxModTime) || file.ModTime().Equal(maxModTime) {
			maxModTime = file.ModTime()
			latestWatchdog = filepath.Join(folder, file.Name())
		}
	}

	if latestWatchdog == "" { //didn't find any watchdog
		return "", errors.New("failed to find softdog path")
	}

	return latestWatchdog, nil
}

// timeoutSeconds rounds up to the whole seconds a watchdog device accepts
func timeoutSeconds(timeout time.Duration) int {
	secs := int((timeout + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
