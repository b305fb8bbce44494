package observer_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataview/dataview/pkg/observer"
)

var _ = Describe("ResultCache", func() {
	It("misses before anything is stored", func() {
		c := observer.NewResultCache()
		_, ok := c.Get("send-email", "abc", "order", time.Now())
		Expect(ok).To(BeFalse())
	})

	It("hits with the stored value within the TTL", func() {
		c := observer.NewResultCache()
		now := time.Now()
		c.Put("send-email", "abc", "order", "sent", 1*time.Minute, now)

		v, ok := c.Get("send-email", "abc", "order", now.Add(30*time.Second))
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("sent"))
	})

	It("expires after the TTL", func() {
		c := observer.NewResultCache()
		now := time.Now()
		c.Put("send-email", "abc", "order", "sent", 1*time.Minute, now)

		_, ok := c.Get("send-email", "abc", "order", now.Add(2*time.Minute))
		Expect(ok).To(BeFalse())
	})

	It("does not cache with a non-positive TTL", func() {
		c := observer.NewResultCache()
		now := time.Now()
		c.Put("send-email", "abc", "order", "sent", 0, now)

		_, ok := c.Get("send-email", "abc", "order", now)
		Expect(ok).To(BeFalse())
	})

	It("keys by the full (action, event hash, entity) tuple", func() {
		c := observer.NewResultCache()
		now := time.Now()
		c.Put("send-email", "abc", "order", "sent", 1*time.Minute, now)

		_, ok := c.Get("send-email", "abc", "invoice", now)
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("EventHash", func() {
	It("is stable for identical payloads", func() {
		a := observer.EventHash([]byte(`{"x":1}`))
		b := observer.EventHash([]byte(`{"x":1}`))
		Expect(a).To(Equal(b))
	})

	It("differs for different payloads", func() {
		a := observer.EventHash([]byte(`{"x":1}`))
		b := observer.EventHash([]byte(`{"x":2}`))
		Expect(a).NotTo(Equal(b))
	})
})
