package observer_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataview/dataview/pkg/eventbus"
	"github.com/dataview/dataview/pkg/observer"
)

var _ = Describe("Matcher", func() {
	var m *observer.Matcher

	BeforeEach(func() {
		m = observer.NewMatcher()
		m.Rebuild([]observer.ObserverDefinition{
			{Name: "order-created-exact", EventType: eventbus.Created, Entity: "order"},
			{Name: "any-created-wildcard", EventType: eventbus.Created, Entity: "*"},
			{Name: "order-updated", EventType: eventbus.Updated, Entity: "order"},
		})
	})

	It("unions exact and wildcard matches, exact first", func() {
		matched := m.Match(eventbus.Created, "order")
		Expect(matched).To(HaveLen(2))
		Expect(matched[0].Name).To(Equal("order-created-exact"))
		Expect(matched[1].Name).To(Equal("any-created-wildcard"))
	})

	It("still applies the wildcard to an entity with no exact registration", func() {
		matched := m.Match(eventbus.Created, "invoice")
		Expect(matched).To(HaveLen(1))
		Expect(matched[0].Name).To(Equal("any-created-wildcard"))
	})

	It("does not cross operations", func() {
		matched := m.Match(eventbus.Deleted, "order")
		Expect(matched).To(BeEmpty())
	})

	It("preserves declaration order within a bucket", func() {
		m.Rebuild([]observer.ObserverDefinition{
			{Name: "first", EventType: eventbus.Updated, Entity: "order"},
			{Name: "second", EventType: eventbus.Updated, Entity: "order"},
		})
		matched := m.Match(eventbus.Updated, "order")
		Expect(matched).To(HaveLen(2))
		Expect(matched[0].Name).To(Equal("first"))
		Expect(matched[1].Name).To(Equal("second"))
	})

	It("reflects a rebuild atomically", func() {
		m.Rebuild(nil)
		Expect(m.Match(eventbus.Created, "order")).To(BeEmpty())
	})
})
