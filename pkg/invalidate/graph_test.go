package invalidate

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestInvalidate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cascade Invalidator Suite")
}

var _ = Describe("Graph", func() {
	It("rejects self-edges", func() {
		g := New()
		err := g.AddDependency("orders_view", "orders_view")
		Expect(err).To(HaveOccurred())
	})

	It("keeps forward and reverse indices as mutual inverses", func() {
		g := New()
		Expect(g.AddDependency("order_summary_view", "orders_view")).To(Succeed())
		snap := g.Snapshot()
		Expect(snap.Forward["order_summary_view"]).To(ConsistOf("orders_view"))
		Expect(snap.Reverse["orders_view"]).To(ConsistOf("order_summary_view"))
	})

	It("returns the inclusive transitive dependent set via BFS", func() {
		g := New()
		Expect(g.AddDependency("order_summary_view", "orders_view")).To(Succeed())
		Expect(g.AddDependency("dashboard_view", "order_summary_view")).To(Succeed())

		affected := g.CascadeInvalidate("orders_view")
		Expect(affected).To(ConsistOf("orders_view", "order_summary_view", "dashboard_view"))
	})

	It("terminates on a cyclic graph", func() {
		g := New()
		Expect(g.AddDependency("a", "b")).To(Succeed())
		Expect(g.AddDependency("b", "c")).To(Succeed())
		Expect(g.AddDependency("c", "a")).To(Succeed())

		done := make(chan []string, 1)
		go func() { done <- g.CascadeInvalidate("a") }()
		Eventually(done).Should(Receive(ConsistOf("a", "b", "c")))
	})

	It("tracks cascade count, total invalidated and max fan-out", func() {
		g := New()
		Expect(g.AddDependency("x", "root")).To(Succeed())
		Expect(g.AddDependency("y", "root")).To(Succeed())

		g.CascadeInvalidate("root")
		snap := g.Snapshot()
		Expect(snap.Stats.CascadeCount).To(Equal(int64(1)))
		Expect(snap.Stats.TotalInvalidated).To(Equal(int64(3)))
		Expect(snap.Stats.MaxFanOut).To(Equal(3))
	})

	It("finds a forward dependency path even across a cycle", func() {
		g := New()
		Expect(g.AddDependency("a", "b")).To(Succeed())
		Expect(g.AddDependency("b", "c")).To(Succeed())
		Expect(g.AddDependency("c", "a")).To(Succeed())

		Expect(g.HasDependencyPath("a", "c")).To(BeTrue())
		Expect(g.HasDependencyPath("a", "zzz")).To(BeFalse())
	})
})
