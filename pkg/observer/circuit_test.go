package observer_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataview/dataview/pkg/dataerr"
	"github.com/dataview/dataview/pkg/observer"
)

var _ = Describe("CircuitBreaker", func() {
	var (
		b   *observer.CircuitBreaker
		now time.Time
	)

	BeforeEach(func() {
		now = time.Now()
		b = observer.NewCircuitBreaker("payments", observer.BreakerConfig{
			SampleSize:       4,
			FailureThreshold: 0.5,
			OpenTimeout:      10 * time.Second,
			HalfOpenMax:      2,
		})
	})

	It("starts Closed and admits calls", func() {
		Expect(b.State()).To(Equal(observer.Closed))
		Expect(b.Allow(now)).To(Succeed())
	})

	It("stays Closed while the failure rate sits at the threshold", func() {
		b.RecordResult(false, now)
		b.RecordResult(false, now)
		b.RecordResult(true, now)
		b.RecordResult(true, now)
		// 2/4 = 0.5, not strictly greater than threshold -> still closed
		Expect(b.State()).To(Equal(observer.Closed))
	})

	It("opens once the failure rate over the sample exceeds the threshold", func() {
		b.RecordResult(false, now)
		b.RecordResult(false, now)
		b.RecordResult(false, now)
		// 3/4 = 0.75 > 0.5 once the window fills
		b.RecordResult(true, now)
		Expect(b.State()).To(Equal(observer.Open))
	})

	It("fails fast while Open and before the open timeout elapses", func() {
		for i := 0; i < 4; i++ {
			b.RecordResult(false, now)
		}
		Expect(b.State()).To(Equal(observer.Open))

		err := b.Allow(now.Add(1 * time.Second))
		Expect(err).To(HaveOccurred())
		Expect(dataerr.IsCircuitOpen(err)).To(BeTrue())
	})

	It("transitions to HalfOpen after the open timeout and admits limited probes", func() {
		for i := 0; i < 4; i++ {
			b.RecordResult(false, now)
		}
		later := now.Add(11 * time.Second)
		Expect(b.Allow(later)).To(Succeed())
		Expect(b.State()).To(Equal(observer.HalfOpen))
		Expect(b.Allow(later)).To(Succeed())

		// third probe exceeds HalfOpenMax=2
		err := b.Allow(later)
		Expect(err).To(HaveOccurred())
	})

	It("returns to Closed when half-open probes mostly succeed", func() {
		for i := 0; i < 4; i++ {
			b.RecordResult(false, now)
		}
		later := now.Add(11 * time.Second)
		_ = b.Allow(later)
		_ = b.Allow(later)
		b.RecordResult(true, later)
		b.RecordResult(true, later)
		Expect(b.State()).To(Equal(observer.Closed))
	})

	It("returns to Open when half-open probes mostly fail", func() {
		for i := 0; i < 4; i++ {
			b.RecordResult(false, now)
		}
		later := now.Add(11 * time.Second)
		_ = b.Allow(later)
		_ = b.Allow(later)
		b.RecordResult(false, later)
		b.RecordResult(false, later)
		Expect(b.State()).To(Equal(observer.Open))
	})

	It("maps breaker state to a degradation level", func() {
		Expect(b.Degradation()).To(Equal(observer.Normal))
		for i := 0; i < 4; i++ {
			b.RecordResult(false, now)
		}
		Expect(b.Degradation()).To(Equal(observer.Critical))
	})
})

var _ = Describe("DegradationMonitor", func() {
	It("reports the worst level among tracked breakers", func() {
		mon := observer.NewDegradationMonitor()
		healthy := observer.NewCircuitBreaker("a", observer.BreakerConfig{})
		unhealthy := observer.NewCircuitBreaker("b", observer.BreakerConfig{SampleSize: 2, FailureThreshold: 0.5})
		mon.Track(healthy)
		mon.Track(unhealthy)

		Expect(mon.Overall()).To(Equal(observer.Normal))

		now := time.Now()
		unhealthy.RecordResult(false, now)
		unhealthy.RecordResult(false, now)
		Expect(mon.Overall()).To(Equal(observer.Critical))
	})
})
