package taskwdt

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

var _ Subsystem = &TaskWatchdog{}

type user struct {
	name  string
	reset bool
}

// TaskWatchdog implements the Subsystem interface with synchronized calls of the timer specific methods.
// The hardware timer is kicked only once every registered user has reset the watchdog.
type TaskWatchdog struct {
	impl      timerImpl
	clock     clock.Clock
	config    Config
	users     []*user
	running   bool
	closed    bool
	lastReset time.Time
	mutex     sync.Mutex
	log       logr.Logger

	// wakes up the monitor after the countdown was restarted
	rearm chan struct{}
	done  chan struct{}
}

func newTaskWatchdog(log logr.Logger, impl timerImpl, clk clock.Clock, cfg Config) (*TaskWatchdog, error) {
	if cfg.Timeout <= 0 {
		return nil, newStatusError("init", StatusInvalidArg, errors.New("timeout must be positive"))
	}
	tw := &TaskWatchdog{
		impl:   impl,
		clock:  clk,
		config: cfg,
		log:    log,
		rearm:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	timer := clk.NewTimer(cfg.Timeout)
	timer.Stop()
	go tw.monitor(timer)
	return tw, nil
}

// Reconfigure applies cfg immediately, for every registered user, and restarts the countdown
func (tw *TaskWatchdog) Reconfigure(cfg Config) error {
	tw.mutex.Lock()
	defer tw.mutex.Unlock()
	if tw.closed {
		return newStatusError("reconfigure", StatusInvalidState, nil)
	}
	if cfg.Timeout <= 0 {
		return newStatusError("reconfigure", StatusInvalidArg, errors.New("timeout must be positive"))
	}
	if tw.running {
		if err := tw.impl.setTimeout(cfg.Timeout); err != nil {
			return implError("reconfigure", err)
		}
	}
	tw.config = cfg
	tw.restartCountdown()
	tw.log.V(1).Info("task watchdog reconfigured", "timeout", cfg.Timeout,
		"idleCoreMask", cfg.IdleCoreMask, "triggerPanic", cfg.TriggerPanic)
	return nil
}

// AddUser registers a named user. The first user starts the hardware timer.
func (tw *TaskWatchdog) AddUser(name string) (UserHandle, error) {
	tw.mutex.Lock()
	defer tw.mutex.Unlock()
	if tw.closed {
		return nil, newStatusError("add user", StatusInvalidState, nil)
	}
	if name == "" {
		return nil, newStatusError("add user", StatusInvalidArg, errors.New("user name is empty"))
	}
	if !tw.running {
		if err := tw.impl.start(tw.config.Timeout); err != nil {
			return nil, implError("add user", err)
		}
		tw.running = true
		tw.restartCountdown()
		tw.log.Info("task watchdog started", "timeout", tw.config.Timeout)
	}
	u := &user{name: name}
	tw.users = append(tw.users, u)
	tw.log.V(1).Info("task watchdog user added", "user", name)
	return u, nil
}

// ResetUser marks the user as alive, kicking the hardware timer when all users did so
func (tw *TaskWatchdog) ResetUser(h UserHandle) error {
	tw.mutex.Lock()
	defer tw.mutex.Unlock()
	if tw.closed {
		return newStatusError("reset user", StatusInvalidState, nil)
	}
	if h == nil {
		return newStatusError("reset user", StatusInvalidArg, errors.New("user handle is not registered"))
	}
	var found *user
	for _, u := range tw.users {
		if u == (*user)(h) {
			found = u
			break
		}
	}
	if found == nil {
		return newStatusError("reset user", StatusNotFound, nil)
	}
	found.reset = true

	for _, u := range tw.users {
		if !u.reset {
			return nil
		}
	}
	if err := tw.impl.kick(); err != nil {
		return implError("reset user", err)
	}
	tw.restartCountdown()
	return nil
}

// Close stops the monitor and disarms the hardware timer. Every later call fails with StatusInvalidState.
func (tw *TaskWatchdog) Close() error {
	tw.mutex.Lock()
	defer tw.mutex.Unlock()
	if tw.closed {
		return nil
	}
	tw.closed = true
	close(tw.done)
	if !tw.running {
		return nil
	}
	tw.running = false
	if err := tw.impl.stop(); err != nil {
		tw.log.Error(err, "failed to disarm task watchdog!")
		return implError("close", err)
	}
	tw.log.Info("disarmed task watchdog")
	return nil
}

// Timeout returns the active timeout
func (tw *TaskWatchdog) Timeout() time.Duration {
	tw.mutex.Lock()
	defer tw.mutex.Unlock()
	return tw.config.Timeout
}

// Config returns the active configuration
func (tw *TaskWatchdog) Config() Config {
	tw.mutex.Lock()
	defer tw.mutex.Unlock()
	return tw.config
}

// Users returns the names of the registered users in registration order
func (tw *TaskWatchdog) Users() []string {
	tw.mutex.Lock()
	defer tw.mutex.Unlock()
	names := make([]string, 0, len(tw.users))
	for _, u := range tw.users {
		names = append(names, u.name)
	}
	return names
}

// LastReset returns the time the countdown was last restarted
func (tw *TaskWatchdog) LastReset() time.Time {
	tw.mutex.Lock()
	defer tw.mutex.Unlock()
	return tw.lastReset
}

// restartCountdown must be called with the mutex held
func (tw *TaskWatchdog) restartCountdown() {
	for _, u := range tw.users {
		u.reset = false
	}
	tw.lastReset = tw.clock.Now()
	select {
	case tw.rearm <- struct{}{}:
	default:
	}
}

func (tw *TaskWatchdog) monitor(timer clock.Timer) {
	for {
		select {
		case <-tw.done:
			timer.Stop()
			return
		case <-tw.rearm:
		case <-timer.C():
		}

		next, ok := tw.check()
		if !timer.Stop() {
			select {
			case <-timer.C():
			default:
			}
		}
		if ok {
			timer.Reset(next)
		}
	}
}

// check reports the expiry if the deadline passed, and returns the duration until the next deadline
func (tw *TaskWatchdog) check() (time.Duration, bool) {
	tw.mutex.Lock()
	defer tw.mutex.Unlock()
	if tw.closed || !tw.running {
		return 0, false
	}
	remaining := tw.config.Timeout - tw.clock.Since(tw.lastReset)
	if remaining > 0 {
		return remaining, true
	}

	var unreset []string
	for _, u := range tw.users {
		if !u.reset {
			unreset = append(unreset, u.name)
		}
	}
	tw.log.Error(errors.New("task watchdog got triggered"), "users did not reset the watchdog in time",
		"users", unreset, "triggerPanic", tw.config.TriggerPanic)
	tw.impl.expired(unreset, tw.config.TriggerPanic)

	tw.lastReset = tw.clock.Now()
	return tw.config.Timeout, true
}

// implError keeps the status of a timer failure that already carries one
func implError(op string, err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		return newStatusError(op, se.Code, se.Err)
	}
	return newStatusError(op, StatusFail, err)
}
