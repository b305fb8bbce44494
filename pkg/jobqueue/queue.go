// Package jobqueue implements the durable job queue (C8): pending
// FIFO, processing-by-deadline visibility timeout, dead-letter queue,
// and configurable backoff, behind a Queue interface with in-memory and
// Redis-backed implementations.
package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.jetify.com/typeid"
)

// State is a Job's lifecycle state.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	DeadLettered
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "dead_lettered"
	}
}

// Job is one unit of work owned by the queue from Enqueue until a
// terminal state.
type Job struct {
	ID         string
	EventType  string
	Action     string
	Payload    []byte
	Attempt    int
	MaxAttempts int
	Backoff    BackoffPolicy
	State      State
	CreatedAt  time.Time
	NextRetryAt time.Time
}

// Queue is the durable job store: enqueue, lease-dequeue, ack, retry,
// dead-letter, all backed by one of several storage implementations.
type Queue interface {
	// Enqueue persists job's payload and appends its id to the tail of
	// the pending FIFO.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue pops up to batchSize ids from pending, recording a
	// deadline of now+visibilityTimeout in the processing set for each
	// and marking them Running. It also reclaims any job past its
	// previous deadline back to pending before popping new ones.
	Dequeue(ctx context.Context, batchSize int, visibilityTimeout time.Duration) ([]Job, error)

	// Acknowledge removes job id from processing and deletes its payload.
	Acknowledge(ctx context.Context, id string) error

	// Fail removes job from processing and increments its attempt; if
	// the incremented attempt is still below max_attempts it is
	// re-inserted into pending, otherwise it moves to the dead letter
	// queue with reason.
	Fail(ctx context.Context, job Job, reason error) error

	GetStatus(ctx context.Context, id string) (State, bool, error)
	QueueDepth(ctx context.Context) (int, error)
	DLQSize(ctx context.Context) (int, error)
}

// DeadLetterEntry is a job that exhausted its retries or hit a
// permanent error, retained with the reason for manual inspection.
type DeadLetterEntry struct {
	Job    Job
	Reason string
	At     time.Time
}

// DLQInspector is implemented by Queue backends that can list their
// dead-lettered jobs, for the operational CLI and HTTP surface.
type DLQInspector interface {
	DeadLetters(ctx context.Context) ([]DeadLetterEntry, error)
}

// NewJobID generates a "job_"-prefixed TypeID, so a job id is
// self-describing wherever it's logged or printed (DLQ listings,
// metrics) instead of a bare UUID. Falls back to a plain UUID if
// TypeID generation ever errors.
func NewJobID() string {
	tid, err := typeid.WithPrefix("job")
	if err != nil {
		return uuid.NewString()
	}
	return tid.String()
}
