package machine_test

import (
	"math"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pkg/errors"
	testingclock "k8s.io/utils/clock/testing"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/medik8s/machine-wdt/pkg/machine"
	"github.com/medik8s/machine-wdt/pkg/taskwdt"
)

var _ = Describe("WDT", func() {

	var tw *taskwdt.TaskWatchdog
	var ft *taskwdt.FakeTimer
	var sub *recordingSubsystem
	var binding *machine.Binding

	BeforeEach(func() {
		var err error
		tw, ft, err = taskwdt.NewFake(ctrl.Log.WithName("task watchdog"), testingclock.NewFakeClock(time.Now()),
			taskwdt.Config{Timeout: 5 * time.Second, TriggerPanic: true})
		Expect(err).NotTo(HaveOccurred())
		sub = &recordingSubsystem{TaskWatchdog: tw}
		binding = machine.NewBinding(sub, ctrl.Log.WithName("machine wdt"))
	})

	AfterEach(func() {
		_ = tw.Close()
	})

	Context("arguments", func() {
		It("should reject any id but 0 without touching the watchdog", func() {
			w, err := binding.Create(1, machine.DefaultTimeoutMs)
			Expect(w).To(BeNil())
			Expect(machine.KindOf(err)).To(Equal(machine.KindInvalidArgument))
			Expect(err.Error()).To(Equal("invalid argument"))
			Expect(sub.configs).To(BeEmpty())
			Expect(sub.users).To(BeEmpty())
		})

		It("should reject a non positive timeout", func() {
			for _, timeout := range []int{0, -1} {
				w, err := binding.Create(machine.DefaultID, timeout)
				Expect(w).To(BeNil())
				Expect(machine.KindOf(err)).To(Equal(machine.KindInvalidArgument))
				Expect(err.Error()).To(ContainSubstring("timeout too short"))
			}
			Expect(sub.configs).To(BeEmpty())
		})

		It("should reject a timeout too long for a duration", func() {
			if strconv.IntSize < 64 {
				Skip("int cannot hold the timeout limit")
			}
			limit := machine.MaxTimeoutMs
			for _, timeout := range []int64{limit + 1, 9300000000000, 18446744073710, math.MaxInt64} {
				w, err := binding.Create(machine.DefaultID, int(timeout))
				Expect(w).To(BeNil())
				Expect(machine.KindOf(err)).To(Equal(machine.KindInvalidArgument))
				Expect(err.Error()).To(ContainSubstring("timeout too long"))
			}
			Expect(sub.configs).To(BeEmpty())
			Expect(tw.Timeout()).To(Equal(5 * time.Second))
		})

		It("should accept the longest timeout", func() {
			if strconv.IntSize < 64 {
				Skip("int cannot hold the timeout limit")
			}
			limit := machine.MaxTimeoutMs
			_, err := binding.Create(machine.DefaultID, int(limit))
			Expect(err).NotTo(HaveOccurred())
			Expect(tw.Timeout()).To(Equal(time.Duration(limit) * time.Millisecond))
			Expect(tw.Timeout()).To(BeNumerically(">", 0))
		})
	})

	Context("created", func() {
		var w *machine.WDT

		BeforeEach(func() {
			var err error
			w, err = binding.Create(machine.DefaultID, 1000)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should configure and register the watchdog", func() {
			Expect(sub.configs).To(Equal([]taskwdt.Config{{Timeout: time.Second, IdleCoreMask: 0, TriggerPanic: true}}))
			Expect(tw.Users()).To(Equal([]string{machine.UserName}))
			Expect(binding.IsRegistered()).To(BeTrue())
			Expect(w).To(BeIdenticalTo(binding.WDT()))
		})

		It("should be fed", func() {
			Expect(w.Feed()).To(Succeed())
			Expect(w.Feed()).To(Succeed())
			Expect(ft.Kicks()).To(Equal(2))
		})

		It("should return the same instance and reconfigure the shared watchdog", func() {
			Expect(w.Feed()).To(Succeed())
			again, err := binding.Create(machine.DefaultID, 2000)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(BeIdenticalTo(w))
			Expect(tw.Timeout()).To(Equal(2 * time.Second))
			Expect(ft.Timeouts()).To(Equal([]time.Duration{time.Second, 2 * time.Second}))
			Expect(sub.users).To(HaveLen(1))
		})

		It("should keep the registration when the reconfiguration fails", func() {
			ft.Fail(taskwdt.FakeSetTimeout, taskwdt.StatusFail)
			again, err := binding.Create(machine.DefaultID, 2000)
			Expect(again).To(BeNil())
			Expect(machine.KindOf(err)).To(Equal(machine.KindOSError))

			var osErr *machine.OSError
			Expect(errors.As(err, &osErr)).To(BeTrue())
			Expect(osErr.Code).To(Equal(taskwdt.StatusFail))
			Expect(binding.IsRegistered()).To(BeTrue())
			Expect(tw.Timeout()).To(Equal(time.Second))
			Expect(w.Feed()).To(Succeed())
		})

		It("should forward the status of a failing feed", func() {
			Expect(tw.Close()).To(Succeed())
			err := w.Feed()
			var osErr *machine.OSError
			Expect(errors.As(err, &osErr)).To(BeTrue())
			Expect(osErr.Code).To(Equal(taskwdt.StatusInvalidState))
		})
	})

	Context("not created", func() {
		It("should reject feeding an unregistered watchdog", func() {
			err := binding.WDT().Feed()
			Expect(machine.KindOf(err)).To(Equal(machine.KindOSError))
			var osErr *machine.OSError
			Expect(errors.As(err, &osErr)).To(BeTrue())
			Expect(osErr.Code).To(Equal(taskwdt.StatusInvalidArg))
		})

		It("should not register when the reconfiguration fails", func() {
			sub.reconfigureErr = &taskwdt.StatusError{Code: taskwdt.StatusInvalidState, Op: "reconfigure"}
			_, err := binding.Create(machine.DefaultID, 1000)
			var osErr *machine.OSError
			Expect(errors.As(err, &osErr)).To(BeTrue())
			Expect(osErr.Code).To(Equal(taskwdt.StatusInvalidState))
			Expect(binding.IsRegistered()).To(BeFalse())
			Expect(sub.users).To(BeEmpty())
		})

		It("should keep the new timeout when the registration fails", func() {
			ft.Fail(taskwdt.FakeStart, taskwdt.StatusNoMem)
			_, err := binding.Create(machine.DefaultID, 3000)
			var osErr *machine.OSError
			Expect(errors.As(err, &osErr)).To(BeTrue())
			Expect(osErr.Code).To(Equal(taskwdt.StatusNoMem))
			Expect(err.Error()).To(Equal("os error 257 (ESP_ERR_NO_MEM)"))
			Expect(binding.IsRegistered()).To(BeFalse())
			Expect(tw.Timeout()).To(Equal(3 * time.Second))

			ft.Fail(taskwdt.FakeStart, taskwdt.StatusOK)
			w, err := binding.Create(machine.DefaultID, 3000)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Feed()).To(Succeed())
			Expect(tw.Users()).To(Equal([]string{machine.UserName}))
		})

		It("should register once for concurrent first calls", func() {
			var wg sync.WaitGroup
			results := make([]*machine.WDT, 8)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					w, err := binding.Create(machine.DefaultID, machine.DefaultTimeoutMs)
					Expect(err).NotTo(HaveOccurred())
					results[i] = w
				}(i)
			}
			wg.Wait()

			for _, w := range results {
				Expect(w).To(BeIdenticalTo(binding.WDT()))
			}
			Expect(tw.Users()).To(HaveLen(1))
		})
	})

	It("should tag results", func() {
		Expect(machine.KindOf(nil)).To(Equal(machine.KindNone))
		Expect(machine.KindOf(errors.New("boom"))).To(Equal(machine.KindOSError))
		Expect(machine.KindInvalidArgument.String()).To(Equal("invalid argument"))
	})
})
