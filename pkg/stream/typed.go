package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dataview/dataview/pkg/dataerr"
)

// TypedItem is one delivered, deserialized element.
type TypedItem[T any] struct {
	Value T
	Err   error
}

// QueryStream wraps a JsonStream, applying an optional predicate on the
// raw JSON value and then deserializing into T. T affects neither the
// SQL nor the wire protocol — it is consumer-side only.
type QueryStream[T any] struct {
	inner     *JsonStream
	predicate func(json.RawMessage) bool
}

// NewQueryStream wraps inner with an optional predicate; a nil predicate
// passes every row through.
func NewQueryStream[T any](inner *JsonStream, predicate func(json.RawMessage) bool) *QueryStream[T] {
	return &QueryStream[T]{inner: inner, predicate: predicate}
}

// Each ranges over the wrapped stream, applying the predicate and
// deserializing matching rows into T, invoking fn for each delivered
// item. It returns early if fn returns false or ctx is done.
func (q *QueryStream[T]) Each(ctx context.Context, fn func(TypedItem[T]) bool) {
	for {
		select {
		case item, open := <-q.inner.Items():
			if !open {
				return
			}
			if item.Err != nil {
				if !fn(TypedItem[T]{Err: item.Err}) {
					return
				}
				continue
			}
			if q.predicate != nil && !q.predicate(item.Doc) {
				continue
			}
			var v T
			if err := json.Unmarshal(item.Doc, &v); err != nil {
				typed := TypedItem[T]{Err: &dataerr.DeserializationError{
					Error:    dataerr.Error{Op: "stream.QueryStream.Each", Kind: dataerr.KindDeserialization, Err: err},
					TypeName: fmt.Sprintf("%T", v),
				}}
				if !fn(typed) {
					return
				}
				continue
			}
			if !fn(TypedItem[T]{Value: v}) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stats delegates to the wrapped JsonStream.
func (q *QueryStream[T]) Stats() StatsSnapshot { return q.inner.Stats() }

// Pause/Resume/Close delegate to the wrapped JsonStream.
func (q *QueryStream[T]) Pause()        { q.inner.Pause() }
func (q *QueryStream[T]) Resume()       { q.inner.Resume() }
func (q *QueryStream[T]) Close() error  { return q.inner.Close() }
