package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is the language-partitioned job queue contract: it carries full
// Job payloads, not just submission ids, plus status/result lookups.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Reserve(ctx context.Context, language string, visibility time.Duration) (Job, bool, error)
	Ack(ctx context.Context, language string, job Job) error
	RequeueExpired(ctx context.Context, language string, now time.Time) ([]Job, error)
	SetStatus(ctx context.Context, submissionID int64, status Status) error
	GetStatus(ctx context.Context, submissionID int64) (Status, bool, error)
	SetResult(ctx context.Context, v Verdict) error
	GetResult(ctx context.Context, submissionID int64) (Verdict, bool, error)
	Length(ctx context.Context, language string) (int64, error)
	Peek(ctx context.Context, language string, count int64) ([]Job, error)
	HealthCheck(ctx context.Context) error
}

// RedisJobQueue implements Queue on top of RedisQueue's reserve/ack/
// reclaim primitives, adding JSON (de)serialization of Job/Verdict and
// the status/result side-keys.
type RedisJobQueue struct {
	client *redis.Client
	queue  RedisClient
}

// NewRedisJobQueue wires a RedisJobQueue from an already-connected
// go-redis client.
func NewRedisJobQueue(client *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{client: client, queue: NewRedisQueue(client)}
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.queue.Enqueue(ctx, queueKey(job.Language), string(b)); err != nil {
		return err
	}
	return q.SetStatus(ctx, job.SubmissionID, StatusQueued)
}

func (q *RedisJobQueue) Reserve(ctx context.Context, language string, visibility time.Duration) (Job, bool, error) {
	raw, err := q.queue.Reserve(ctx, queueKey(language), processingKey(language), visibility)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Job{}, false, nil
		}
		return Job{}, false, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, false, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, true, nil
}

func (q *RedisJobQueue) Ack(ctx context.Context, language string, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.queue.Ack(ctx, processingKey(language), string(b))
}

// RequeueExpired moves processing-list entries whose visibility deadline
// has passed back onto the pending queue. This is the at-least-once
// recovery path for a worker that dies mid-job: the job is re-delivered
// to another worker instead of lost.
func (q *RedisJobQueue) RequeueExpired(ctx context.Context, language string, now time.Time) ([]Job, error) {
	raws, err := q.queue.RequeueExpired(ctx, processingKey(language), queueKey(language), now)
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (q *RedisJobQueue) SetStatus(ctx context.Context, submissionID int64, status Status) error {
	return q.client.Set(ctx, statusKey(strconv.FormatInt(submissionID, 10)), string(status), DefaultStatusTTL).Err()
}

func (q *RedisJobQueue) GetStatus(ctx context.Context, submissionID int64) (Status, bool, error) {
	v, err := q.client.Get(ctx, statusKey(strconv.FormatInt(submissionID, 10))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return Status(v), true, nil
}

func (q *RedisJobQueue) SetResult(ctx context.Context, v Verdict) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	key := resultKey(strconv.FormatInt(v.SubmissionID, 10))
	if err := q.client.Set(ctx, key, string(b), DefaultStatusTTL).Err(); err != nil {
		return err
	}
	return q.SetStatus(ctx, v.SubmissionID, v.Status)
}

func (q *RedisJobQueue) GetResult(ctx context.Context, submissionID int64) (Verdict, bool, error) {
	s, err := q.client.Get(ctx, resultKey(strconv.FormatInt(submissionID, 10))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Verdict{}, false, nil
		}
		return Verdict{}, false, err
	}
	var v Verdict
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return Verdict{}, false, err
	}
	return v, true, nil
}

func (q *RedisJobQueue) Length(ctx context.Context, language string) (int64, error) {
	return q.client.LLen(ctx, queueKey(language)).Result()
}

// Peek returns up to count queued jobs for language without consuming
// them (count <= 0 means 10).
func (q *RedisJobQueue) Peek(ctx context.Context, language string, count int64) ([]Job, error) {
	if count <= 0 {
		count = 10
	}
	raws, err := q.client.LRange(ctx, queueKey(language), 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (q *RedisJobQueue) HealthCheck(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
