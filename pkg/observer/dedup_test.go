package observer_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataview/dataview/pkg/eventbus"
	"github.com/dataview/dataview/pkg/observer"
)

var _ = Describe("DedupStore", func() {
	event := eventbus.EntityEvent{EventType: eventbus.Updated, EntityType: "order", EntityID: "o-1"}

	It("admits the first occurrence of a key", func() {
		d := observer.NewDedupStore(5 * time.Minute)
		Expect(d.CheckAndMark(event, time.Now())).To(BeFalse())
	})

	It("suppresses a repeat within the window and counts it", func() {
		d := observer.NewDedupStore(5 * time.Minute)
		now := time.Now()
		Expect(d.CheckAndMark(event, now)).To(BeFalse())
		Expect(d.CheckAndMark(event, now.Add(1*time.Minute))).To(BeTrue())
		Expect(d.SkippedCount()).To(Equal(int64(1)))
	})

	It("admits again once the window has elapsed", func() {
		d := observer.NewDedupStore(5 * time.Minute)
		now := time.Now()
		Expect(d.CheckAndMark(event, now)).To(BeFalse())
		Expect(d.CheckAndMark(event, now.Add(6*time.Minute))).To(BeFalse())
	})

	It("falls back to the 5 minute default for a non-positive window", func() {
		d := observer.NewDedupStore(0)
		now := time.Now()
		Expect(d.CheckAndMark(event, now)).To(BeFalse())
		Expect(d.CheckAndMark(event, now.Add(4*time.Minute))).To(BeTrue())
	})

	It("sweeps expired entries", func() {
		d := observer.NewDedupStore(1 * time.Minute)
		now := time.Now()
		d.CheckAndMark(event, now)
		removed := d.Sweep(now.Add(2 * time.Minute))
		Expect(removed).To(Equal(1))
		Expect(d.CheckAndMark(event, now.Add(2*time.Minute))).To(BeFalse())
	})
})
