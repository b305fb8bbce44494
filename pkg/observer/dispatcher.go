package observer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dataview/dataview/pkg/dataerr"
	"github.com/dataview/dataview/pkg/eventbus"
	"github.com/dataview/dataview/pkg/jobqueue"
	"github.com/dataview/dataview/pkg/logging"
)

// Action is the executable body behind an ActionDefinition's name.
// Deterministic, result-cacheable actions should return the same value
// for the same event payload.
type Action func(ctx context.Context, event eventbus.EntityEvent) (any, error)

// DispatcherMetrics counts dispatch outcomes for observability.
type DispatcherMetrics struct {
	Dispatched   atomic.Int64
	Deduplicated atomic.Int64
	CacheHits    atomic.Int64
	Halted       atomic.Int64
}

// DispatcherSnapshot is a point-in-time copy of DispatcherMetrics safe
// to pass by value.
type DispatcherSnapshot struct {
	Dispatched   int64
	Deduplicated int64
	CacheHits    int64
	Halted       int64
}

// Dispatcher matches incoming events against registered observers,
// evaluates conditions, applies dedup and result-cache checks, and runs
// each matched observer's actions inline or through the job queue.
type Dispatcher struct {
	matcher *Matcher
	dedup   *DedupStore
	results *ResultCache
	queue   jobqueue.Queue
	actions map[string]Action
	log     logging.Logger
	metrics DispatcherMetrics

	haltedObservers map[string]struct{}
}

// NewDispatcher wires a Dispatcher around an existing Matcher, dedup
// store, result cache, and job queue (nil queue disables Enqueued
// dispatch and falls back to inline execution with a logged warning).
func NewDispatcher(matcher *Matcher, dedup *DedupStore, results *ResultCache, queue jobqueue.Queue, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Noop()
	}
	return &Dispatcher{
		matcher:         matcher,
		dedup:           dedup,
		results:         results,
		queue:           queue,
		actions:         make(map[string]Action),
		log:             log,
		haltedObservers: make(map[string]struct{}),
	}
}

// RegisterAction binds a named action implementation, looked up by
// ActionDefinition.Name at dispatch time.
func (d *Dispatcher) RegisterAction(name string, action Action) {
	d.actions[name] = action
}

// Metrics returns a point-in-time snapshot of dispatch counters.
func (d *Dispatcher) Metrics() DispatcherSnapshot {
	return DispatcherSnapshot{
		Dispatched:   d.metrics.Dispatched.Load(),
		Deduplicated: d.metrics.Deduplicated.Load(),
		CacheHits:    d.metrics.CacheHits.Load(),
		Halted:       d.metrics.Halted.Load(),
	}
}

// Dispatch matches event against the registered observer definitions
// and runs each one's actions in declaration order. It returns the
// first unrecoverable error encountered building a job, if any;
// per-action failures are handled via each observer's on_failure
// policy and do not abort dispatch of the remaining observers.
func (d *Dispatcher) Dispatch(ctx context.Context, event eventbus.EntityEvent, now time.Time) error {
	if d.dedup != nil && d.dedup.CheckAndMark(event, now) {
		d.metrics.Deduplicated.Add(1)
		return nil
	}

	matched := d.matcher.Match(event.EventType, event.EntityType)
	eventHash := EventHash(event.Data)

	for _, def := range matched {
		if _, halted := d.haltedObservers[def.Name]; halted {
			continue
		}

		ok, err := EvaluateCondition(def.Condition, event.Data)
		if err != nil {
			d.log.Warn("observer %s: condition evaluation failed, treating as not matched: %v", def.Name, err)
			continue
		}
		if !ok {
			continue
		}

		if err := d.runObserver(ctx, def, event, eventHash, now); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) runObserver(ctx context.Context, def ObserverDefinition, event eventbus.EntityEvent, eventHash string, now time.Time) error {
	if def.DryRun {
		for _, action := range def.Actions {
			d.log.Info("observer %s: dry run, would dispatch action %s (%v) for entity=%s/%s",
				def.Name, action.Name, action.Dispatch, event.EntityType, event.EntityID)
		}
		d.metrics.Dispatched.Add(1)
		return nil
	}

	for _, action := range def.Actions {
		if d.results != nil && action.ResultTTL > 0 {
			if _, hit := d.results.Get(action.Name, eventHash, event.EntityType, now); hit {
				d.metrics.CacheHits.Add(1)
				continue
			}
		}

		switch action.Dispatch {
		case Enqueued:
			if d.queue == nil {
				d.log.Warn("observer %s: action %s requested Enqueued dispatch with no queue configured, running inline", def.Name, action.Name)
				d.executeInline(ctx, def, action, event, eventHash, now)
				continue
			}
			if err := d.enqueue(ctx, def, action, event, now); err != nil {
				return err
			}
		default:
			d.executeInline(ctx, def, action, event, eventHash, now)
		}
	}

	d.metrics.Dispatched.Add(1)
	return nil
}

// deadLetter persists the full event and action payload for manual
// retry: it builds a synthetic Job already at its attempt ceiling and
// routes it through Fail, which dead-letters a job on sight once
// attempt >= max_attempts rather than requeuing it. With no queue
// configured there is nowhere to persist to, so the case degrades to
// the log line handleFailure already wrote.
func (d *Dispatcher) deadLetter(ctx context.Context, def ObserverDefinition, action ActionDefinition, event eventbus.EntityEvent, cause error) {
	if d.queue == nil {
		d.log.Warn("observer %s: action %s dead-lettered with no queue configured to persist it", def.Name, action.Name)
		return
	}

	job := jobqueue.Job{
		ID:          jobqueue.NewJobID(),
		EventType:   event.EventType.String(),
		Action:      action.Name,
		Payload:     event.Data,
		Attempt:     0,
		MaxAttempts: 0,
		State:       jobqueue.Running,
	}
	if err := d.queue.Fail(ctx, job, cause); err != nil {
		d.log.Error("observer %s: action %s failed to persist dead letter: %v", def.Name, action.Name, err)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, def ObserverDefinition, action ActionDefinition, event eventbus.EntityEvent, now time.Time) error {
	maxAttempts := action.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	job := jobqueue.Job{
		ID:          jobqueue.NewJobID(),
		EventType:   event.EventType.String(),
		Action:      action.Name,
		Payload:     event.Data,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		Backoff:     jobqueue.DefaultExponential(),
		State:       jobqueue.Pending,
		CreatedAt:   now,
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return &dataerr.InternalError{Error: dataerr.Error{
			Op:  fmt.Sprintf("observer.Dispatcher.enqueue[%s/%s]", def.Name, action.Name),
			Kind: dataerr.KindInternal,
			Err: err,
		}}
	}
	return nil
}

// RunJob executes the action named by a dequeued job directly, for a
// jobqueue.Pool wired around Enqueued-dispatch actions. Unlike Dispatch,
// it performs no matching, condition evaluation, or dedup — the
// dispatcher already decided this action should run when it built the
// job.
func (d *Dispatcher) RunJob(ctx context.Context, job jobqueue.Job) error {
	fn, ok := d.actions[job.Action]
	if !ok {
		return fmt.Errorf("observer: no action registered for %q", job.Action)
	}

	event := eventbus.EntityEvent{
		EventType: eventTypeFromString(job.EventType),
		Data:      job.Payload,
	}

	_, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("action %s panicked: %v", job.Action, r)
			}
		}()
		return fn(ctx, event)
	}()
	return err
}

func eventTypeFromString(s string) eventbus.EventType {
	switch s {
	case eventbus.Created.String():
		return eventbus.Created
	case eventbus.Updated.String():
		return eventbus.Updated
	case eventbus.Deleted.String():
		return eventbus.Deleted
	default:
		return eventbus.Custom
	}
}

func (d *Dispatcher) executeInline(ctx context.Context, def ObserverDefinition, action ActionDefinition, event eventbus.EntityEvent, eventHash string, now time.Time) {
	fn, ok := d.actions[action.Name]
	if !ok {
		d.log.Error("observer %s: no action registered for %q", def.Name, action.Name)
		return
	}

	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("action %s panicked: %v", action.Name, r)
			}
		}()
		return fn(ctx, event)
	}()

	if err != nil {
		d.handleFailure(ctx, def, action, event, err)
		return
	}

	if d.results != nil && action.ResultTTL > 0 {
		d.results.Put(action.Name, eventHash, event.EntityType, result, time.Duration(action.ResultTTL)*time.Millisecond, now)
	}
}

func (d *Dispatcher) handleFailure(ctx context.Context, def ObserverDefinition, action ActionDefinition, event eventbus.EntityEvent, err error) {
	switch def.OnFailure {
	case DeadLetter:
		d.log.Error("observer %s: action %s failed, dead-lettering: entity=%s/%s err=%v",
			def.Name, action.Name, event.EntityType, event.EntityID, err)
		d.deadLetter(ctx, def, action, event, err)
	case Halt:
		d.log.Error("observer %s: action %s failed, halting observer: %v", def.Name, action.Name, err)
		d.haltedObservers[def.Name] = struct{}{}
		d.metrics.Halted.Add(1)
	default:
		d.log.Warn("observer %s: action %s failed, swallowing per Log policy: %v", def.Name, action.Name, err)
	}
}
