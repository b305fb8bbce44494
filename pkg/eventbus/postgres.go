package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dataview/dataview/pkg/dataerr"
	"github.com/dataview/dataview/pkg/logging"
)

// PostgresBus is an EventTransport over PostgreSQL LISTEN/NOTIFY.
// Publish uses pg_notify on the pool; Subscribe acquires a dedicated
// connection (NOTIFY delivery requires holding one connection open for
// the life of the subscription) and loops on WaitForNotification,
// decoding each payload as a notifyEnvelope.
type PostgresBus struct {
	pool    *pgxpool.Pool
	channel string
	log     logging.Logger
}

// notifyEnvelope is the JSON payload sent through pg_notify; Postgres
// caps NOTIFY payloads at 8000 bytes, so large event data should be
// looked up by EntityID rather than inlined for production use.
type notifyEnvelope struct {
	EventType  string `json:"event_type"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Data       []byte `json:"data"`
	TenantID   string `json:"tenant_id,omitempty"`
}

// NewPostgres constructs a PostgresBus publishing/listening on channel
// over pool.
func NewPostgres(pool *pgxpool.Pool, channel string, log logging.Logger) *PostgresBus {
	if log == nil {
		log = logging.Noop()
	}
	return &PostgresBus{pool: pool, channel: channel, log: log}
}

// pgxExecer is the single method PostgresBus.Publish needs from a pool,
// narrowed out so publishNotify can be unit tested against a
// pgxmock-backed fake without dragging Subscribe's Acquire/LISTEN path
// (which needs a real server connection) into the same interface.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (b *PostgresBus) Publish(ctx context.Context, event EntityEvent) error {
	return publishNotify(ctx, b.pool, b.channel, event)
}

func publishNotify(ctx context.Context, execer pgxExecer, channel string, event EntityEvent) error {
	env := notifyEnvelope{
		EventType:  event.EventType.String(),
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Data:       event.Data,
		TenantID:   event.TenantID,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return &dataerr.InternalError{Error: dataerr.Error{Op: "eventbus.PostgresBus.Publish", Kind: dataerr.KindInternal, Err: err}}
	}
	_, err = execer.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(raw))
	if err != nil {
		return &dataerr.TransportError{Error: dataerr.Error{Op: "eventbus.PostgresBus.Publish", Kind: dataerr.KindTransport, Err: err}}
	}
	return nil
}

func (b *PostgresBus) Subscribe(ctx context.Context, filter Filter) (<-chan Item, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, &dataerr.TransportError{Error: dataerr.Error{Op: "eventbus.PostgresBus.Subscribe", Kind: dataerr.KindTransport, Err: err}}
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", pgx.Identifier{b.channel}.Sanitize())); err != nil {
		conn.Release()
		return nil, &dataerr.TransportError{Error: dataerr.Error{Op: "eventbus.PostgresBus.Subscribe", Kind: dataerr.KindTransport, Err: err}}
	}

	out := make(chan Item, 64)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("eventbus postgres listener panic recovered: %v", r)
			}
			conn.Release()
			close(out)
		}()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				select {
				case out <- Item{Err: &dataerr.TransportError{
					Error: dataerr.Error{Op: "eventbus.PostgresBus.Subscribe", Kind: dataerr.KindTransport, Err: err}}}:
				case <-ctx.Done():
				}
				return
			}

			var env notifyEnvelope
			if err := json.Unmarshal([]byte(notification.Payload), &env); err != nil {
				b.log.Warn("eventbus postgres: malformed notify payload: %v", err)
				continue
			}

			event := EntityEvent{
				EventType:  parseEventType(env.EventType),
				EntityType: env.EntityType,
				EntityID:   env.EntityID,
				Data:       env.Data,
				TenantID:   env.TenantID,
			}
			if !filter.Matches(event) {
				continue
			}

			select {
			case out <- Item{Event: event}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (b *PostgresBus) Close() error { return nil }

func parseEventType(s string) EventType {
	switch s {
	case "created":
		return Created
	case "updated":
		return Updated
	case "deleted":
		return Deleted
	default:
		return Custom
	}
}

var _ EventTransport = (*PostgresBus)(nil)
