// Package machine binds the single watchdog peripheral of the task watchdog subsystem
// to script code, as the WDT object of the machine module.
//
// A script constructs the watchdog with WDT(id=0, timeout=5000) and then calls feed()
// faster than the timeout to keep the system from being reset. Every construction
// returns the same object, since there is only one watchdog instance.
package machine
