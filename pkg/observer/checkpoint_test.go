package observer_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataview/dataview/pkg/observer"
)

var _ = Describe("MemoryCheckpointStore", func() {
	var (
		ctx   context.Context
		store *observer.MemoryCheckpointStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = observer.NewMemoryCheckpointStore()
	})

	It("reports no checkpoint for an unknown listener", func() {
		_, ok, err := store.Load(ctx, "listener-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("upserts on Save and reflects it on Load", func() {
		state := observer.CheckpointState{ListenerID: "listener-1", LastProcessedID: "evt-1", EventCount: 1, LastProcessedAt: time.Now()}
		Expect(store.Save(ctx, state)).To(Succeed())

		loaded, ok, err := store.Load(ctx, "listener-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(loaded.LastProcessedID).To(Equal("evt-1"))
	})

	It("swaps only when the expected state matches what is stored", func() {
		initial := observer.CheckpointState{ListenerID: "listener-1", LastProcessedID: "evt-1", EventCount: 1}
		Expect(store.Save(ctx, initial)).To(Succeed())

		next := observer.CheckpointState{ListenerID: "listener-1", LastProcessedID: "evt-2", EventCount: 2}
		swapped, err := store.CompareAndSwap(ctx, "listener-1", initial, next)
		Expect(err).NotTo(HaveOccurred())
		Expect(swapped).To(BeTrue())

		loaded, _, _ := store.Load(ctx, "listener-1")
		Expect(loaded.LastProcessedID).To(Equal("evt-2"))
	})

	It("rejects a CompareAndSwap whose expected state is stale", func() {
		initial := observer.CheckpointState{ListenerID: "listener-1", LastProcessedID: "evt-1", EventCount: 1}
		Expect(store.Save(ctx, initial)).To(Succeed())

		stale := observer.CheckpointState{ListenerID: "listener-1", LastProcessedID: "evt-0", EventCount: 0}
		next := observer.CheckpointState{ListenerID: "listener-1", LastProcessedID: "evt-2", EventCount: 2}
		swapped, err := store.CompareAndSwap(ctx, "listener-1", stale, next)
		Expect(err).NotTo(HaveOccurred())
		Expect(swapped).To(BeFalse())

		loaded, _, _ := store.Load(ctx, "listener-1")
		Expect(loaded.LastProcessedID).To(Equal("evt-1"))
	})

	It("accepts the zero-value expected state for a first swap", func() {
		next := observer.CheckpointState{ListenerID: "listener-2", LastProcessedID: "evt-1", EventCount: 1}
		swapped, err := store.CompareAndSwap(ctx, "listener-2", observer.CheckpointState{}, next)
		Expect(err).NotTo(HaveOccurred())
		Expect(swapped).To(BeTrue())
	})

	It("deletes a checkpoint", func() {
		Expect(store.Save(ctx, observer.CheckpointState{ListenerID: "listener-1"})).To(Succeed())
		Expect(store.Delete(ctx, "listener-1")).To(Succeed())
		_, ok, _ := store.Load(ctx, "listener-1")
		Expect(ok).To(BeFalse())
	})
})
