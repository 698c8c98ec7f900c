package taskwdt

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// FakeOp names a fake timer operation for failure injection
type FakeOp string

const (
	FakeStart      FakeOp = "start"
	FakeSetTimeout FakeOp = "setTimeout"
	FakeKick       FakeOp = "kick"
	FakeStop       FakeOp = "stop"
)

// Expiry is an expiry reported to the fake timer
type Expiry struct {
	Unreset      []string
	TriggerPanic bool
}

var _ timerImpl = &FakeTimer{}

// FakeTimer provides the fake implementation of the timerImpl interface for tests
type FakeTimer struct {
	mutex    sync.Mutex
	running  bool
	timeouts []time.Duration
	kicks    int
	expiries []Expiry
	failures map[FakeOp]Status
}

// NewFake returns a task watchdog on a fake timer, and the timer for inspection
func NewFake(log logr.Logger, clk clock.Clock, cfg Config) (*TaskWatchdog, *FakeTimer, error) {
	ft := &FakeTimer{failures: map[FakeOp]Status{}}
	tw, err := newTaskWatchdog(log.WithName("fake"), ft, clk, cfg)
	if err != nil {
		return nil, nil, err
	}
	return tw, ft, nil
}

// Fail makes every following call of op fail with status, StatusOK clears the failure
func (f *FakeTimer) Fail(op FakeOp, status Status) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if status == StatusOK {
		delete(f.failures, op)
		return
	}
	f.failures[op] = status
}

func (f *FakeTimer) failure(op FakeOp) error {
	if s, ok := f.failures[op]; ok {
		return newStatusError(string(op), s, errors.Errorf("fake timer %s failed", op))
	}
	return nil
}

func (f *FakeTimer) start(timeout time.Duration) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failure(FakeStart); err != nil {
		return err
	}
	f.running = true
	f.timeouts = append(f.timeouts, timeout)
	return nil
}

func (f *FakeTimer) setTimeout(timeout time.Duration) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failure(FakeSetTimeout); err != nil {
		return err
	}
	f.timeouts = append(f.timeouts, timeout)
	return nil
}

func (f *FakeTimer) kick() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failure(FakeKick); err != nil {
		return err
	}
	f.kicks++
	return nil
}

func (f *FakeTimer) stop() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.failure(FakeStop); err != nil {
		return err
	}
	f.running = false
	return nil
}

func (f *FakeTimer) expired(unreset []string, triggerPanic bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.expiries = append(f.expiries, Expiry{Unreset: unreset, TriggerPanic: triggerPanic})
}

// IsRunning returns if the timer was started and not stopped since
func (f *FakeTimer) IsRunning() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.running
}

// Timeouts returns every timeout programmed into the timer
func (f *FakeTimer) Timeouts() []time.Duration {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]time.Duration(nil), f.timeouts...)
}

// Kicks returns how often the timer was kicked
func (f *FakeTimer) Kicks() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.kicks
}

// Expiries returns the reported expiries
func (f *FakeTimer) Expiries() []Expiry {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]Expiry(nil), f.expiries...)
}
