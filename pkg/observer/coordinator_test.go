package observer_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataview/dataview/pkg/observer"
)

var _ = Describe("Coordinator", func() {
	It("elects no leader with no healthy members", func() {
		c := observer.NewCoordinator()
		_, ok := c.Leader(time.Now())
		Expect(ok).To(BeFalse())
	})

	It("elects the lexicographically smallest healthy member deterministically", func() {
		c := observer.NewCoordinator()
		now := time.Now()
		c.Register("listener-b", now)
		c.Register("listener-a", now)
		c.Register("listener-c", now)

		leader, ok := c.Leader(now)
		Expect(ok).To(BeTrue())
		Expect(leader).To(Equal("listener-a"))
	})

	It("excludes a member whose heartbeat has gone stale", func() {
		c := observer.NewCoordinator()
		now := time.Now()
		c.Register("listener-a", now)
		c.Register("listener-b", now)

		stale := now.Add(90 * time.Second)
		c.Heartbeat("listener-b", stale)

		leader, ok := c.Leader(stale)
		Expect(ok).To(BeTrue())
		Expect(leader).To(Equal("listener-b"))
	})

	It("excludes a stopped member even with a fresh heartbeat", func() {
		c := observer.NewCoordinator()
		now := time.Now()
		c.Register("listener-a", now)
		c.Stop("listener-a")

		_, ok := c.Leader(now)
		Expect(ok).To(BeFalse())
	})
})
