package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestJobQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Job Queue Suite")
}

var _ = Describe("MemoryQueue", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("dequeues in FIFO order and tracks queue depth", func() {
		q := NewMemory()
		Expect(q.Enqueue(ctx, Job{ID: "a", MaxAttempts: 3})).NotTo(HaveOccurred())
		Expect(q.Enqueue(ctx, Job{ID: "b", MaxAttempts: 3})).NotTo(HaveOccurred())

		depth, _ := q.QueueDepth(ctx)
		Expect(depth).To(Equal(2))

		jobs, err := q.Dequeue(ctx, 10, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(2))
		Expect(jobs[0].ID).To(Equal("a"))
		Expect(jobs[0].State).To(Equal(Running))
	})

	It("reclaims a job past its visibility deadline back to pending", func() {
		q := NewMemory()
		Expect(q.Enqueue(ctx, Job{ID: "a", MaxAttempts: 3})).NotTo(HaveOccurred())
		_, err := q.Dequeue(ctx, 10, time.Millisecond)
		Expect(err).NotTo(HaveOccurred())

		time.Sleep(5 * time.Millisecond)
		jobs, err := q.Dequeue(ctx, 10, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].ID).To(Equal("a"))
	})

	It("acknowledges a job, removing it entirely", func() {
		q := NewMemory()
		Expect(q.Enqueue(ctx, Job{ID: "a", MaxAttempts: 3})).NotTo(HaveOccurred())
		q.Dequeue(ctx, 10, time.Minute)
		Expect(q.Acknowledge(ctx, "a")).NotTo(HaveOccurred())

		_, found, err := q.GetStatus(ctx, "a")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())
	})

	It("dead-letters on Fail once the attempt reaches max_attempts", func() {
		q := NewMemory()
		Expect(q.Enqueue(ctx, Job{ID: "a", MaxAttempts: 1, Backoff: DefaultExponential()})).NotTo(HaveOccurred())
		jobs, _ := q.Dequeue(ctx, 10, time.Minute)

		Expect(q.Fail(ctx, jobs[0], errors.New("boom"))).NotTo(HaveOccurred())

		dlqSize, _ := q.DLQSize(ctx)
		Expect(dlqSize).To(Equal(1))

		entries, err := q.DeadLetters(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Reason).To(Equal("boom"))
	})

	It("retries when attempts remain", func() {
		q := NewMemory()
		Expect(q.Enqueue(ctx, Job{ID: "a", MaxAttempts: 5, Backoff: DefaultExponential()})).NotTo(HaveOccurred())
		jobs, _ := q.Dequeue(ctx, 10, time.Minute)

		Expect(q.Fail(ctx, jobs[0], errors.New("transient"))).NotTo(HaveOccurred())

		depth, _ := q.QueueDepth(ctx)
		Expect(depth).To(Equal(1))
		dlqSize, _ := q.DLQSize(ctx)
		Expect(dlqSize).To(Equal(0))
	})
})

var _ = Describe("BackoffPolicy", func() {
	It("computes the default exponential curve deterministically", func() {
		p := DefaultExponential()
		Expect(p.NextDelay(1)).To(Equal(1 * time.Second))
		Expect(p.NextDelay(2)).To(Equal(2 * time.Second))
		Expect(p.NextDelay(3)).To(Equal(4 * time.Second))
	})

	It("caps exponential delay at max", func() {
		p := DefaultExponential()
		Expect(p.NextDelay(10)).To(Equal(60 * time.Second))
	})

	It("computes the default linear curve", func() {
		p := DefaultLinear()
		Expect(p.NextDelay(1)).To(Equal(5 * time.Second))
		Expect(p.NextDelay(4)).To(Equal(20 * time.Second))
	})

	It("caps linear delay at max", func() {
		p := DefaultLinear()
		Expect(p.NextDelay(100)).To(Equal(30 * time.Second))
	})

	It("returns a constant delay for Fixed", func() {
		p := BackoffPolicy{Strategy: Fixed, InitialMs: 2000}
		Expect(p.NextDelay(1)).To(Equal(2 * time.Second))
		Expect(p.NextDelay(9)).To(Equal(2 * time.Second))
	})
})
