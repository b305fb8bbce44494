package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dataview/dataview/pkg/dataerr"
)

// CheckpointState records how far a listener has progressed through
// its event stream.
type CheckpointState struct {
	ListenerID      string    `json:"listener_id"`
	LastProcessedID string    `json:"last_processed_id"`
	LastProcessedAt time.Time `json:"last_processed_at"`
	BatchSize       int       `json:"batch_size"`
	EventCount      int64     `json:"event_count"`
}

// CheckpointStore persists CheckpointState, extending the
// Save/Load/Delete shape used elsewhere in this corpus for durable
// execution state with a CompareAndSwap for safe concurrent progress.
type CheckpointStore interface {
	Save(ctx context.Context, state CheckpointState) error
	Load(ctx context.Context, listenerID string) (CheckpointState, bool, error)
	CompareAndSwap(ctx context.Context, listenerID string, expected, next CheckpointState) (bool, error)
	Delete(ctx context.Context, listenerID string) error
}

// MemoryCheckpointStore is an in-process CheckpointStore for tests and
// single-instance deployments.
type MemoryCheckpointStore struct {
	mu    sync.Mutex
	state map[string]CheckpointState
}

// NewMemoryCheckpointStore returns an empty MemoryCheckpointStore.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{state: make(map[string]CheckpointState)}
}

// Save performs an upsert of state keyed by state.ListenerID.
func (s *MemoryCheckpointStore) Save(_ context.Context, state CheckpointState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[state.ListenerID] = state
	return nil
}

func (s *MemoryCheckpointStore) Load(_ context.Context, listenerID string) (CheckpointState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[listenerID]
	return st, ok, nil
}

// CompareAndSwap replaces the stored state with next only if the
// current stored value equals expected (compared by LastProcessedID
// and EventCount, the fields that change on every advance).
func (s *MemoryCheckpointStore) CompareAndSwap(_ context.Context, listenerID string, expected, next CheckpointState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.state[listenerID]
	if !checkpointEqual(cur, expected, ok) {
		return false, nil
	}
	s.state[listenerID] = next
	return true, nil
}

func (s *MemoryCheckpointStore) Delete(_ context.Context, listenerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, listenerID)
	return nil
}

func checkpointEqual(cur, expected CheckpointState, curExists bool) bool {
	if !curExists {
		return expected.LastProcessedID == "" && expected.EventCount == 0
	}
	return cur.LastProcessedID == expected.LastProcessedID && cur.EventCount == expected.EventCount
}

var _ CheckpointStore = (*MemoryCheckpointStore)(nil)

// RedisCheckpointStore persists CheckpointState in Redis, using
// client.Watch for CompareAndSwap instead of a plain Set so concurrent
// listeners racing to advance the same checkpoint cannot silently
// clobber each other.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCheckpointStore returns a RedisCheckpointStore using the
// given key prefix (default "observer:checkpoint:" when empty).
func NewRedisCheckpointStore(client *redis.Client, prefix string) *RedisCheckpointStore {
	if prefix == "" {
		prefix = "observer:checkpoint:"
	}
	return &RedisCheckpointStore{client: client, prefix: prefix}
}

func (s *RedisCheckpointStore) key(listenerID string) string {
	return fmt.Sprintf("%s%s", s.prefix, listenerID)
}

func (s *RedisCheckpointStore) Save(ctx context.Context, state CheckpointState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &dataerr.InternalError{Error: dataerr.Error{Op: "observer.RedisCheckpointStore.Save", Kind: dataerr.KindInternal, Err: err}}
	}
	if err := s.client.Set(ctx, s.key(state.ListenerID), data, 0).Err(); err != nil {
		return &dataerr.TransportError{Error: dataerr.Error{Op: "observer.RedisCheckpointStore.Save", Kind: dataerr.KindTransport, Err: err}}
	}
	return nil
}

func (s *RedisCheckpointStore) Load(ctx context.Context, listenerID string) (CheckpointState, bool, error) {
	data, err := s.client.Get(ctx, s.key(listenerID)).Bytes()
	if err == redis.Nil {
		return CheckpointState{}, false, nil
	}
	if err != nil {
		return CheckpointState{}, false, &dataerr.TransportError{Error: dataerr.Error{Op: "observer.RedisCheckpointStore.Load", Kind: dataerr.KindTransport, Err: err}}
	}
	var state CheckpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return CheckpointState{}, false, &dataerr.InternalError{Error: dataerr.Error{Op: "observer.RedisCheckpointStore.Load", Kind: dataerr.KindInternal, Err: err}}
	}
	return state, true, nil
}

func (s *RedisCheckpointStore) CompareAndSwap(ctx context.Context, listenerID string, expected, next CheckpointState) (bool, error) {
	key := s.key(listenerID)
	swapped := false

	txf := func(tx *redis.Tx) error {
		cur, exists, err := loadFromTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if !checkpointEqual(cur, expected, exists) {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if err != nil {
		return false, &dataerr.TransportError{Error: dataerr.Error{Op: "observer.RedisCheckpointStore.CompareAndSwap", Kind: dataerr.KindTransport, Err: err}}
	}
	return swapped, nil
}

func loadFromTx(ctx context.Context, tx *redis.Tx, key string) (CheckpointState, bool, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return CheckpointState{}, false, nil
	}
	if err != nil {
		return CheckpointState{}, false, err
	}
	var state CheckpointState
	if err := json.Unmarshal(data, &state); err != nil {
		return CheckpointState{}, false, err
	}
	return state, true, nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, listenerID string) error {
	if err := s.client.Del(ctx, s.key(listenerID)).Err(); err != nil {
		return &dataerr.TransportError{Error: dataerr.Error{Op: "observer.RedisCheckpointStore.Delete", Kind: dataerr.KindTransport, Err: err}}
	}
	return nil
}

var _ CheckpointStore = (*RedisCheckpointStore)(nil)
