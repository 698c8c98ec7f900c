package taskwdt

import (
	"time"
)

// Config is the task watchdog configuration, applied globally to all users
type Config struct {
	// Timeout after which the watchdog expires if not every user reset it
	Timeout time.Duration
	// IdleCoreMask selects the cores whose idle tasks are watched. Kept for parity with the
	// hardware config, there are no idle tasks to subscribe in this process.
	IdleCoreMask uint32
	// TriggerPanic makes an expiry reset the system instead of only reporting it
	TriggerPanic bool
}

// UserHandle is the opaque token of a registered user. A nil handle is never registered.
type UserHandle *user

// Subsystem is the public facing interface of the task watchdog
type Subsystem interface {
	// Reconfigure applies cfg to the watchdog and all of its users immediately
	Reconfigure(cfg Config) error
	// AddUser registers a new named user which has to reset the watchdog periodically
	AddUser(name string) (UserHandle, error)
	// ResetUser signals liveness of the given user
	ResetUser(h UserHandle) error
}

// timerImpl is the internal interface providing the hardware specific methods of a watchdog timer
type timerImpl interface {
	start(timeout time.Duration) error
	setTimeout(timeout time.Duration) error
	kick() error
	stop() error
	expired(unreset []string, triggerPanic bool)
}
