package observer_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataview/dataview/pkg/eventbus"
	"github.com/dataview/dataview/pkg/jobqueue"
	"github.com/dataview/dataview/pkg/observer"
)

var _ = Describe("Dispatcher", func() {
	var (
		ctx     context.Context
		matcher *observer.Matcher
		dedup   *observer.DedupStore
		results *observer.ResultCache
		queue   *jobqueue.MemoryQueue
		d       *observer.Dispatcher
		now     time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		matcher = observer.NewMatcher()
		dedup = observer.NewDedupStore(5 * time.Minute)
		results = observer.NewResultCache()
		queue = jobqueue.NewMemory()
		d = observer.NewDispatcher(matcher, dedup, results, queue, nil)
		now = time.Now()
	})

	It("runs an inline action for a matched observer", func() {
		var ran int
		d.RegisterAction("notify", func(ctx context.Context, event eventbus.EntityEvent) (any, error) {
			ran++
			return "ok", nil
		})
		matcher.Rebuild([]observer.ObserverDefinition{
			{Name: "notify-on-create", EventType: eventbus.Created, Entity: "order",
				Actions: []observer.ActionDefinition{{Name: "notify", Dispatch: observer.Inline}}},
		})

		event := eventbus.EntityEvent{EventType: eventbus.Created, EntityType: "order", EntityID: "o-1", Data: []byte(`{}`)}
		Expect(d.Dispatch(ctx, event, now)).To(Succeed())
		Expect(ran).To(Equal(1))
	})

	It("skips the action when the condition does not match", func() {
		var ran int
		d.RegisterAction("notify", func(ctx context.Context, event eventbus.EntityEvent) (any, error) {
			ran++
			return nil, nil
		})
		matcher.Rebuild([]observer.ObserverDefinition{
			{Name: "high-value", EventType: eventbus.Created, Entity: "order", Condition: "amount > 1000",
				Actions: []observer.ActionDefinition{{Name: "notify", Dispatch: observer.Inline}}},
		})

		event := eventbus.EntityEvent{EventType: eventbus.Created, EntityType: "order", Data: []byte(`{"amount":10}`)}
		Expect(d.Dispatch(ctx, event, now)).To(Succeed())
		Expect(ran).To(Equal(0))
	})

	It("enqueues an action flagged for deferred dispatch", func() {
		matcher.Rebuild([]observer.ObserverDefinition{
			{Name: "send-receipt", EventType: eventbus.Created, Entity: "order",
				Actions: []observer.ActionDefinition{{Name: "send-receipt", Dispatch: observer.Enqueued, MaxAttempts: 3}}},
		})

		event := eventbus.EntityEvent{EventType: eventbus.Created, EntityType: "order", EntityID: "o-1", Data: []byte(`{}`)}
		Expect(d.Dispatch(ctx, event, now)).To(Succeed())

		depth, err := queue.QueueDepth(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(depth).To(Equal(1))
	})

	It("deduplicates repeated events within the window", func() {
		var ran int
		d.RegisterAction("notify", func(ctx context.Context, event eventbus.EntityEvent) (any, error) {
			ran++
			return nil, nil
		})
		matcher.Rebuild([]observer.ObserverDefinition{
			{Name: "notify-on-update", EventType: eventbus.Updated, Entity: "order",
				Actions: []observer.ActionDefinition{{Name: "notify", Dispatch: observer.Inline}}},
		})

		event := eventbus.EntityEvent{EventType: eventbus.Updated, EntityType: "order", EntityID: "o-1", Data: []byte(`{}`)}
		Expect(d.Dispatch(ctx, event, now)).To(Succeed())
		Expect(d.Dispatch(ctx, event, now.Add(1*time.Minute))).To(Succeed())
		Expect(ran).To(Equal(1))
	})

	It("serves a deterministic action from the result cache on the second dispatch", func() {
		var ran int
		d.RegisterAction("compute", func(ctx context.Context, event eventbus.EntityEvent) (any, error) {
			ran++
			return "computed", nil
		})
		matcher.Rebuild([]observer.ObserverDefinition{
			{Name: "compute-on-update", EventType: eventbus.Updated, Entity: "order",
				Actions: []observer.ActionDefinition{{Name: "compute", Dispatch: observer.Inline, ResultTTL: 60_000}}},
		})

		eventA := eventbus.EntityEvent{EventType: eventbus.Updated, EntityType: "order", EntityID: "o-1", Data: []byte(`{"x":1}`)}
		eventB := eventbus.EntityEvent{EventType: eventbus.Updated, EntityType: "order", EntityID: "o-2", Data: []byte(`{"x":1}`)}

		Expect(d.Dispatch(ctx, eventA, now)).To(Succeed())
		// distinct entity_id avoids the dedup store, exercising the result cache alone
		Expect(d.Dispatch(ctx, eventB, now.Add(10*time.Second))).To(Succeed())
		Expect(ran).To(Equal(1))
	})

	It("halts an observer after an action failure under the Halt policy", func() {
		d.RegisterAction("flaky", func(ctx context.Context, event eventbus.EntityEvent) (any, error) {
			return nil, errors.New("boom")
		})
		matcher.Rebuild([]observer.ObserverDefinition{
			{Name: "flaky-observer", EventType: eventbus.Created, Entity: "order", OnFailure: observer.Halt,
				Actions: []observer.ActionDefinition{{Name: "flaky", Dispatch: observer.Inline}}},
		})

		event1 := eventbus.EntityEvent{EventType: eventbus.Created, EntityType: "order", EntityID: "o-1", Data: []byte(`{}`)}
		event2 := eventbus.EntityEvent{EventType: eventbus.Created, EntityType: "order", EntityID: "o-2", Data: []byte(`{}`)}

		Expect(d.Dispatch(ctx, event1, now)).To(Succeed())
		Expect(d.Dispatch(ctx, event2, now.Add(1*time.Second))).To(Succeed())
		// second event is a distinct entity id, so only the halt (not dedup)
		// explains the observer no longer running: metrics below confirm it.
		Expect(d.Metrics().Halted).To(Equal(int64(1)))
	})

	It("persists the event and action payload to the dead letter queue under the DeadLetter policy", func() {
		d.RegisterAction("charge-card", func(ctx context.Context, event eventbus.EntityEvent) (any, error) {
			return nil, errors.New("issuer declined")
		})
		matcher.Rebuild([]observer.ObserverDefinition{
			{Name: "charge-on-create", EventType: eventbus.Created, Entity: "order", OnFailure: observer.DeadLetter,
				Actions: []observer.ActionDefinition{{Name: "charge-card", Dispatch: observer.Inline}}},
		})

		event := eventbus.EntityEvent{EventType: eventbus.Created, EntityType: "order", EntityID: "o-1", Data: []byte(`{"amount":42}`)}
		Expect(d.Dispatch(ctx, event, now)).To(Succeed())

		entries, err := queue.DeadLetters(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Job.Action).To(Equal("charge-card"))
		Expect(entries[0].Job.EventType).To(Equal(eventbus.Created.String()))
		Expect(entries[0].Job.Payload).To(MatchJSON(`{"amount":42}`))
		Expect(entries[0].Reason).To(ContainSubstring("issuer declined"))
	})

	It("matches and counts but never dispatches an action under DryRun", func() {
		var ran int
		d.RegisterAction("notify", func(ctx context.Context, event eventbus.EntityEvent) (any, error) {
			ran++
			return "ok", nil
		})
		matcher.Rebuild([]observer.ObserverDefinition{
			{Name: "notify-on-create", EventType: eventbus.Created, Entity: "order", DryRun: true,
				Actions: []observer.ActionDefinition{{Name: "notify", Dispatch: observer.Enqueued}}},
		})

		event := eventbus.EntityEvent{EventType: eventbus.Created, EntityType: "order", EntityID: "o-1", Data: []byte(`{}`)}
		Expect(d.Dispatch(ctx, event, now)).To(Succeed())

		Expect(ran).To(Equal(0))
		depth, err := queue.QueueDepth(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(depth).To(Equal(0))
		Expect(d.Metrics().Dispatched).To(Equal(int64(1)))
	})
})
