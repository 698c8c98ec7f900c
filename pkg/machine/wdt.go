package machine

import (
	"math"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/medik8s/machine-wdt/pkg/taskwdt"
)

const (
	// DefaultID is the only supported watchdog id
	DefaultID = 0
	// DefaultTimeoutMs is the timeout of WDT() without arguments
	DefaultTimeoutMs = 5000
	// MaxTimeoutMs is the longest timeout representable as a time.Duration
	MaxTimeoutMs int64 = math.MaxInt64 / int64(time.Millisecond)
	// UserName is the name of the watchdog user registered by the binding
	UserName = "mpy_machine_wdt"
)

// Binding owns the watchdog singleton of a process. It is created once at startup
// and passed to whatever needs the watchdog.
type Binding struct {
	sub   taskwdt.Subsystem
	log   logr.Logger
	mutex sync.Mutex
	wdt   WDT
}

// WDT is the watchdog object handed out to scripts
type WDT struct {
	binding *Binding
	handle  taskwdt.UserHandle
}

// NewBinding returns the binding owning the watchdog singleton of sub
func NewBinding(sub taskwdt.Subsystem, log logr.Logger) *Binding {
	b := &Binding{
		sub: sub,
		log: log,
	}
	b.wdt.binding = b
	return b
}

// Create configures the watchdog with timeoutMs and returns the singleton, registering
// it as a watchdog user on the first successful call. Every call reconfigures the
// watchdog for all of its users.
func (b *Binding) Create(id, timeoutMs int) (*WDT, error) {
	if id != DefaultID {
		return nil, &ArgumentError{}
	}
	if timeoutMs <= 0 {
		return nil, &ArgumentError{Msg: "WDT timeout too short"}
	}
	if int64(timeoutMs) > MaxTimeoutMs {
		return nil, &ArgumentError{Msg: "WDT timeout too long"}
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	cfg := taskwdt.Config{
		Timeout:      time.Duration(int64(timeoutMs)) * time.Millisecond,
		IdleCoreMask: 0,
		TriggerPanic: true,
	}
	if err := b.sub.Reconfigure(cfg); err != nil {
		return nil, osError(err)
	}

	// a failing registration keeps the new timeout
	if b.wdt.handle == nil {
		h, err := b.sub.AddUser(UserName)
		if err != nil {
			return nil, osError(err)
		}
		b.wdt.handle = h
		b.log.Info("watchdog user registered", "user", UserName, "timeout", cfg.Timeout)
	}
	return &b.wdt, nil
}

// WDT returns the singleton, which isn't registered before the first successful Create
func (b *Binding) WDT() *WDT {
	return &b.wdt
}

// IsRegistered returns if the singleton is registered as a watchdog user
func (b *Binding) IsRegistered() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.wdt.handle != nil
}

// Feed resets the watchdog of this process. Feeding an unregistered watchdog fails
// with an OSError of taskwdt.StatusInvalidArg.
func (w *WDT) Feed() error {
	w.binding.mutex.Lock()
	h := w.handle
	w.binding.mutex.Unlock()

	if err := w.binding.sub.ResetUser(h); err != nil {
		return osError(err)
	}
	return nil
}
