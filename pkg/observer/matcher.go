// Package observer implements the event-driven observer runtime: match
// incoming entity events against registered observer definitions,
// evaluate their conditions, and dispatch their actions either inline
// or through the job queue.
package observer

import (
	"sync"
	"sync/atomic"

	"github.com/dataview/dataview/pkg/eventbus"
)

// OnFailure selects what happens when an observer's action exhausts
// retries or fails permanently.
type OnFailure int

const (
	Log OnFailure = iota
	DeadLetter
	Halt
)

// DispatchMode selects whether a matched observer's actions run inline
// or are handed off to the job queue.
type DispatchMode int

const (
	Inline DispatchMode = iota
	Enqueued
)

// ActionDefinition is one step of an ObserverDefinition's action list.
type ActionDefinition struct {
	Name       string
	Dispatch   DispatchMode
	ResultTTL  int64 // milliseconds; 0 disables the action-result cache for this action
	MaxAttempts int
}

// ObserverDefinition binds an event_type/entity pair (entity may be
// "*") to an optional condition expression, an ordered action list, and
// a failure policy.
type ObserverDefinition struct {
	Name      string
	EventType eventbus.EventType
	Entity    string
	Condition string
	Actions   []ActionDefinition
	OnFailure OnFailure
	// DryRun, when true, matches and evaluates the condition as usual
	// but stops short of enqueuing or running any action: it logs what
	// it would have dispatched instead, for safely rolling out a new
	// observer against live traffic.
	DryRun bool
}

const wildcardEntity = "*"

// index is one immutable snapshot of the (operation, entity) lookup
// table. Matcher swaps its pointer atomically on Rebuild so Match never
// observes a partially-built index.
type index struct {
	byKey map[matchKey][]ObserverDefinition
}

type matchKey struct {
	op     eventbus.EventType
	entity string
}

// Matcher indexes observer definitions by (operation, entity) with
// entity="*" as a wildcard union, rebuilding atomically so concurrent
// Match calls never block on registration.
type Matcher struct {
	mu  sync.Mutex // serializes Rebuild calls; Match only reads the atomic pointer
	cur atomic.Pointer[index]
}

// NewMatcher returns an empty Matcher.
func NewMatcher() *Matcher {
	m := &Matcher{}
	m.cur.Store(&index{byKey: make(map[matchKey][]ObserverDefinition)})
	return m
}

// Rebuild replaces the matcher's index with one built from defs,
// preserving declaration order within each (operation, entity) bucket.
func (m *Matcher) Rebuild(defs []ObserverDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := &index{byKey: make(map[matchKey][]ObserverDefinition)}
	for _, d := range defs {
		key := matchKey{op: d.EventType, entity: d.Entity}
		next.byKey[key] = append(next.byKey[key], d)
	}
	m.cur.Store(next)
}

// Match returns, in declaration order, every observer whose event_type
// equals op and whose entity is either an exact match for entity or the
// wildcard "*". Exact matches precede wildcard matches.
func (m *Matcher) Match(op eventbus.EventType, entity string) []ObserverDefinition {
	idx := m.cur.Load()

	var result []ObserverDefinition
	if exact, ok := idx.byKey[matchKey{op: op, entity: entity}]; ok {
		result = append(result, exact...)
	}
	if entity != wildcardEntity {
		if wild, ok := idx.byKey[matchKey{op: op, entity: wildcardEntity}]; ok {
			result = append(result, wild...)
		}
	}
	return result
}
