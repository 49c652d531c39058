package core

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisJobQueue, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return NewRedisJobQueue(client), cleanup
}

func TestQueueEnqueueReserveAck(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := NewJob(1, 10, 100, "python", "print('hi')", nil, Limits{TimeLimitMs: 1000, MemoryLimitMb: 256})
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	status, ok, err := q.GetStatus(ctx, job.SubmissionID)
	if err != nil || !ok {
		t.Fatalf("GetStatus after enqueue: ok=%v err=%v", ok, err)
	}
	if status != StatusQueued {
		t.Errorf("status after enqueue = %s, want QUEUED", status)
	}

	got, ok, err := q.Reserve(ctx, "python", 30*time.Second)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !ok {
		t.Fatal("Reserve returned ok=false, want a job")
	}
	if got.ID != job.ID {
		t.Errorf("reserved job ID = %s, want %s", got.ID, job.ID)
	}

	if err := q.Ack(ctx, "python", got); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	if n, err := q.Length(ctx, "python"); err != nil || n != 0 {
		t.Errorf("Length after ack = %d (err=%v), want 0", n, err)
	}
}

func TestQueueReserveEmptyReturnsNotOK(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	_, ok, err := q.Reserve(ctx, "python", 30*time.Second)
	if err != nil {
		t.Fatalf("Reserve on empty queue: %v", err)
	}
	if ok {
		t.Error("Reserve on empty queue returned ok=true, want false")
	}
}

func TestQueueIsFIFOPerLanguage(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	first := NewJob(1, 1, 1, "cpp", "a", nil, Limits{})
	second := NewJob(2, 1, 1, "cpp", "b", nil, Limits{})
	if err := q.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := q.Enqueue(ctx, second); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	got1, _, err := q.Reserve(ctx, "cpp", time.Minute)
	if err != nil {
		t.Fatalf("reserve 1: %v", err)
	}
	if got1.ID != first.ID {
		t.Errorf("first reserved job = %s, want %s (FIFO order)", got1.ID, first.ID)
	}

	got2, _, err := q.Reserve(ctx, "cpp", time.Minute)
	if err != nil {
		t.Fatalf("reserve 2: %v", err)
	}
	if got2.ID != second.ID {
		t.Errorf("second reserved job = %s, want %s (FIFO order)", got2.ID, second.ID)
	}
}

func TestQueueLanguagesAreIsolated(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := NewJob(1, 1, 1, "java", "x", nil, Limits{})
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	_, ok, err := q.Reserve(ctx, "python", time.Minute)
	if err != nil {
		t.Fatalf("reserve python: %v", err)
	}
	if ok {
		t.Error("reserving from python queue saw a java job, queues are not isolated")
	}
}

func TestQueueRequeueExpired(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := NewJob(1, 1, 1, "python", "x", nil, Limits{})
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok, err := q.Reserve(ctx, "python", time.Millisecond); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}
	time.Sleep(10 * time.Millisecond)

	requeued, err := q.RequeueExpired(ctx, "python", time.Now())
	if err != nil {
		t.Fatalf("RequeueExpired: %v", err)
	}
	if len(requeued) != 1 || requeued[0].ID != job.ID {
		t.Fatalf("RequeueExpired = %v, want [%s]", requeued, job.ID)
	}

	got, ok, err := q.Reserve(ctx, "python", time.Minute)
	if err != nil || !ok {
		t.Fatalf("reserve after requeue: ok=%v err=%v", ok, err)
	}
	if got.ID != job.ID {
		t.Errorf("re-reserved job = %s, want %s", got.ID, job.ID)
	}
}

func TestQueueSetResultAlsoUpdatesStatus(t *testing.T) {
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	v := Verdict{SubmissionID: 7, Status: StatusAccepted, Score: 100, Language: "python"}
	if err := q.SetResult(ctx, v); err != nil {
		t.Fatalf("SetResult: %v", err)
	}

	status, ok, err := q.GetStatus(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("GetStatus: ok=%v err=%v", ok, err)
	}
	if status != StatusAccepted {
		t.Errorf("status = %s, want ACCEPTED", status)
	}

	got, ok, err := q.GetResult(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("GetResult: ok=%v err=%v", ok, err)
	}
	if got.Score != 100 {
		t.Errorf("score = %d, want 100", got.Score)
	}
}
