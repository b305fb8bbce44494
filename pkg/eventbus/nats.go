package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/dataview/dataview/pkg/dataerr"
	"github.com/dataview/dataview/pkg/logging"
)

// NatsBus is an EventTransport over a NATS JetStream stream, one
// subject per entity type and operation (see subjectFor), so a
// subscription's consumer filter subject can narrow on either token.
type NatsBus struct {
	js      jetstream.JetStream
	stream  string
	subject string
	log     logging.Logger
}

// NewNats constructs a NatsBus publishing to
// subjectPrefix.<entity_type>.<operation> within the named JetStream
// stream, created by the caller via jetstream.CreateStream rather than
// by this constructor: connection and stream lifecycle stay under the
// caller's control instead of happening as a side effect here.
func NewNats(js jetstream.JetStream, stream, subjectPrefix string, log logging.Logger) *NatsBus {
	if log == nil {
		log = logging.Noop()
	}
	return &NatsBus{js: js, stream: stream, subject: subjectPrefix, log: log}
}

// subjectFor builds the three-token subject prefix.entity_type.operation.
// A blank entityType or operation is rendered as the NATS single-token
// wildcard "*" so Subscribe can filter as narrowly as the caller's
// Filter allows while Publish always supplies both tokens concretely.
func (b *NatsBus) subjectFor(entityType, operation string) string {
	if entityType == "" {
		entityType = "*"
	}
	if operation == "" {
		operation = "*"
	}
	return fmt.Sprintf("%s.%s.%s", b.subject, entityType, operation)
}

// durableName derives a stable JetStream consumer name from a subject so
// repeated Subscribe calls for the same filter bind the same durable
// consumer instead of creating a new one each time. NATS durable names
// may not contain '.', '*', or '>', so those are mapped to '_', "any"
// and "all" respectively.
func durableName(stream, subject string) string {
	r := strings.NewReplacer(".", "_", "*", "any", ">", "all")
	return stream + "-" + r.Replace(subject)
}

func (b *NatsBus) Publish(ctx context.Context, event EntityEvent) error {
	env := notifyEnvelope{
		EventType:  event.EventType.String(),
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Data:       event.Data,
		TenantID:   event.TenantID,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return &dataerr.InternalError{Error: dataerr.Error{Op: "eventbus.NatsBus.Publish", Kind: dataerr.KindInternal, Err: err}}
	}

	subject := b.subjectFor(event.EntityType, event.EventType.String())
	if _, err := b.js.Publish(ctx, subject, raw); err != nil {
		return &dataerr.TransportError{Error: dataerr.Error{Op: "eventbus.NatsBus.Publish", Kind: dataerr.KindTransport, Err: err}}
	}
	return nil
}

func (b *NatsBus) Subscribe(ctx context.Context, filter Filter) (<-chan Item, error) {
	operation := ""
	if filter.HasOperation {
		operation = filter.Operation.String()
	}
	subject := b.subjectFor(filter.EntityType, operation)
	durable := durableName(b.stream, subject)

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, &dataerr.TransportError{Error: dataerr.Error{Op: "eventbus.NatsBus.Subscribe", Kind: dataerr.KindTransport, Err: err}}
	}

	out := make(chan Item, 64)
	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var env notifyEnvelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			b.log.Warn("eventbus nats: malformed message: %v", err)
			_ = msg.Nak()
			return
		}
		event := EntityEvent{
			EventType:  parseEventType(env.EventType),
			EntityType: env.EntityType,
			EntityID:   env.EntityID,
			Data:       env.Data,
			TenantID:   env.TenantID,
		}
		if !filter.Matches(event) {
			_ = msg.Ack()
			return
		}
		select {
		case out <- Item{Event: event}:
			_ = msg.Ack()
		case <-ctx.Done():
		}
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		select {
		case out <- Item{Err: &dataerr.TransportError{Error: dataerr.Error{Op: "eventbus.NatsBus.Subscribe", Kind: dataerr.KindTransport, Err: err}}}:
		default:
		}
	}))
	if err != nil {
		close(out)
		return nil, &dataerr.TransportError{Error: dataerr.Error{Op: "eventbus.NatsBus.Subscribe", Kind: dataerr.KindTransport, Err: err}}
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Stop()
		close(out)
	}()

	return out, nil
}

func (b *NatsBus) Close() error { return nil }

var _ EventTransport = (*NatsBus)(nil)

// connectNats dials a NATS connection with explicit options rather than
// defaulting to a bare URL, so callers always state timeouts and
// reconnect behavior up front.
func connectNats(url string, opts ...nats.Option) (*nats.Conn, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, &dataerr.TransportError{Error: dataerr.Error{Op: "eventbus.connectNats", Kind: dataerr.KindTransport, Err: err}}
	}
	return nc, nil
}
