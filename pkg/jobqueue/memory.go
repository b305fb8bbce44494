package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dataview/dataview/pkg/dataerr"
)

// MemoryQueue is an in-process Queue implementation: pending is a
// slice-backed FIFO, processing is a map keyed by job id holding each
// job's visibility deadline, and the dead letter queue is a simple
// append-only slice. Safe for concurrent use.
type MemoryQueue struct {
	mu sync.Mutex

	pending    []string
	processing map[string]processingEntry
	jobs       map[string]Job
	dlq        []DeadLetterEntry
}

type processingEntry struct {
	deadline time.Time
}

// NewMemory constructs an empty MemoryQueue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{
		processing: make(map[string]processingEntry),
		jobs:       make(map[string]Job),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.State = Pending
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)
	return nil
}

// Dequeue first reaps any processing job past its deadline back to
// pending, then pops up to batchSize ids and records a new deadline for
// each.
func (q *MemoryQueue) Dequeue(_ context.Context, batchSize int, visibilityTimeout time.Duration) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reapLocked()

	n := batchSize
	if n > len(q.pending) {
		n = len(q.pending)
	}
	ids := q.pending[:n]
	q.pending = q.pending[n:]

	out := make([]Job, 0, n)
	now := time.Now()
	for _, id := range ids {
		job := q.jobs[id]
		job.State = Running
		q.jobs[id] = job
		q.processing[id] = processingEntry{deadline: now.Add(visibilityTimeout)}
		out = append(out, job)
	}
	return out, nil
}

// reapLocked moves every processing job past its deadline back to
// pending. Must be called with q.mu held.
func (q *MemoryQueue) reapLocked() {
	now := time.Now()
	for id, entry := range q.processing {
		if now.After(entry.deadline) {
			delete(q.processing, id)
			job := q.jobs[id]
			job.State = Pending
			q.jobs[id] = job
			q.pending = append(q.pending, id)
		}
	}
}

func (q *MemoryQueue) Acknowledge(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, id)
	delete(q.jobs, id)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job Job, reason error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, job.ID)

	job.Attempt++
	if job.Attempt < job.MaxAttempts {
		job.State = Pending
		job.NextRetryAt = time.Now().Add(job.Backoff.NextDelay(job.Attempt))
		q.jobs[job.ID] = job
		q.pending = append(q.pending, job.ID)
		return nil
	}

	job.State = DeadLettered
	delete(q.jobs, job.ID)
	reasonText := "max attempts exceeded"
	if reason != nil {
		reasonText = reason.Error()
	}
	q.dlq = append(q.dlq, DeadLetterEntry{Job: job, Reason: reasonText, At: time.Now()})
	return nil
}

func (q *MemoryQueue) GetStatus(_ context.Context, id string) (State, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.jobs[id]; ok {
		return job.State, true, nil
	}
	for _, entry := range q.dlq {
		if entry.Job.ID == id {
			return DeadLettered, true, nil
		}
	}
	return 0, false, nil
}

func (q *MemoryQueue) QueueDepth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

func (q *MemoryQueue) DLQSize(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq), nil
}

// DeadLetters returns a snapshot of the dead letter queue, for
// operator inspection (e.g. the CLI's `jobs dlq` command and the
// ops HTTP surface).
func (q *MemoryQueue) DeadLetters(_ context.Context) ([]DeadLetterEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetterEntry, len(q.dlq))
	copy(out, q.dlq)
	return out, nil
}

var _ Queue = (*MemoryQueue)(nil)
var _ DLQInspector = (*MemoryQueue)(nil)

// errNotFound is returned by implementations (e.g. Redis) when an id
// has no corresponding job.
func errNotFound(op, id string) error {
	return &dataerr.StateError{
		Error:         dataerr.Error{Op: op, Kind: dataerr.KindState, Err: fmt.Errorf("job %s not found", id)},
		CurrentState:  "absent",
		RequiredState: "present",
	}
}
