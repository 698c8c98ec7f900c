/*
Copyright 2021.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/medik8s/machine-wdt/pkg/machine"
	"github.com/medik8s/machine-wdt/pkg/taskwdt"
)

var (
	setupLog = ctrl.Log.WithName("setup")
)

type agent interface {
	taskwdt.Subsystem
	Close() error
}

func main() {
	var id int
	var timeoutMs int
	var feedInterval time.Duration
	var watchdogPath string
	var enableSoftdog bool
	var fake bool
	flag.IntVar(&id, "id", machine.DefaultID, "The id of the watchdog, only 0 is supported.")
	flag.IntVar(&timeoutMs, "timeout", machine.DefaultTimeoutMs, "The watchdog timeout in milliseconds.")
	flag.DurationVar(&feedInterval, "feed-interval", 0,
		"How often the watchdog is fed. Defaults to a third of the timeout.")
	flag.StringVar(&watchdogPath, "watchdog-path", taskwdt.DefaultDevicePath(),
		"The watchdog device. Defaults to $WATCHDOG_PATH or /dev/watchdog.")
	flag.BoolVar(&enableSoftdog, "enable-softdog", false,
		"Load the softdog module if the watchdog device doesn't exist.")
	flag.BoolVar(&fake, "fake", false, "Use a fake watchdog timer which never resets the system.")
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	sub, err := newSubsystem(ctrl.Log.WithName("task watchdog"), fake, watchdogPath, enableSoftdog)
	if err != nil {
		setupLog.Error(err, "unable to initialize the task watchdog")
		os.Exit(1)
	}

	binding := machine.NewBinding(sub, ctrl.Log.WithName("machine wdt"))
	wdt, err := binding.Create(id, timeoutMs)
	if err != nil {
		setupLog.Error(err, "unable to create watchdog", "id", id, "timeout", timeoutMs, "kind", machine.KindOf(err))
		_ = sub.Close()
		os.Exit(1)
	}
	if feedInterval <= 0 {
		feedInterval = time.Duration(int64(timeoutMs)) * time.Millisecond / 3
	}

	setupLog.Info("feeding watchdog", "timeout", timeoutMs, "feedInterval", feedInterval)
	feed(ctrl.SetupSignalHandler(), ctrl.Log.WithName("feeder"), wdt, feedInterval)

	// stopped by a signal, disarm!
	if err := sub.Close(); err != nil {
		setupLog.Error(err, "failed to disarm watchdog")
		os.Exit(1)
	}
}

// newSubsystem starts with the default timeout, the binding applies the requested one
func newSubsystem(log logr.Logger, fake bool, path string, enableSoftdog bool) (agent, error) {
	cfg := taskwdt.Config{Timeout: machine.DefaultTimeoutMs * time.Millisecond, TriggerPanic: true}
	if fake {
		tw, _, err := taskwdt.NewFake(log, clock.RealClock{}, cfg)
		if err != nil {
			return nil, err
		}
		return tw, nil
	}
	tw, err := taskwdt.NewLinux(log, taskwdt.LinuxOptions{DevicePath: path, EnableSoftdog: enableSoftdog}, cfg)
	if err != nil {
		return nil, err
	}
	return tw, nil
}

// feed until ctx is done
func feed(ctx context.Context, log logr.Logger, wdt *machine.WDT, interval time.Duration) {
	wait.NonSlidingUntilWithContext(ctx, func(ctx context.Context) {
		if err := wdt.Feed(); err != nil {
			log.Error(err, "failed to feed watchdog!")
		}
	}, interval)
}
