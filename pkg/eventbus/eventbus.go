// Package eventbus implements EventTransport, the pluggable entity-
// change event source the observer runtime (C7) consumes: subscribe
// with a filter, publish an event. Delivery is at-least-once; transport
// implementations own their own reconnection and backoff, surfacing
// failures as stream items rather than panicking.
package eventbus

import (
	"context"
	"time"
)

// EventType enumerates the kinds of entity change an EntityEvent can
// carry.
type EventType int

const (
	Created EventType = iota
	Updated
	Deleted
	Custom
)

func (t EventType) String() string {
	switch t {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "custom"
	}
}

// EntityEvent is one entity-change notification flowing from a
// transport to the observer runtime.
type EntityEvent struct {
	EventType  EventType
	EntityType string
	EntityID   string
	Data       []byte
	TenantID   string
	Timestamp  time.Time
}

// Filter narrows a subscription by entity type, operation, and tenant.
// An empty field matches everything for that dimension.
type Filter struct {
	EntityType string
	Operation  EventType
	HasOperation bool
	TenantID   string
}

// Matches reports whether event satisfies f.
func (f Filter) Matches(event EntityEvent) bool {
	if f.EntityType != "" && f.EntityType != event.EntityType {
		return false
	}
	if f.HasOperation && f.Operation != event.EventType {
		return false
	}
	if f.TenantID != "" && f.TenantID != event.TenantID {
		return false
	}
	return true
}

// Item is one delivered stream element: either an event or a
// terminal/transient transport error. Consumers should treat an Err
// item as informational unless the transport closes its channel.
type Item struct {
	Event EntityEvent
	Err   error
}

// EventTransport abstracts the pluggable source of entity-change
// events: PostgreSQL LISTEN/NOTIFY, NATS JetStream, or an in-memory bus
// for tests.
type EventTransport interface {
	Subscribe(ctx context.Context, filter Filter) (<-chan Item, error)
	Publish(ctx context.Context, event EntityEvent) error
	Close() error
}
