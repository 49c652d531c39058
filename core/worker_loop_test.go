package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type fakeExecutor struct {
	language string
	verdict  Verdict
	err      error
	calls    int
}

func (f *fakeExecutor) Language() string { return f.language }
func (f *fakeExecutor) Execute(ctx context.Context, job Job) (Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

// loopQueue extends fakeQueue with tracking of Ack/Enqueue calls for
// assertions the worker-loop tests need.
type loopQueue struct {
	fakeQueue
	acked    []Job
	enqueued []Job
}

func (q *loopQueue) Ack(ctx context.Context, language string, job Job) error {
	q.acked = append(q.acked, job)
	return nil
}

func (q *loopQueue) Enqueue(ctx context.Context, job Job) error {
	q.enqueued = append(q.enqueued, job)
	return nil
}

func newTestLoop(language string, queue Queue, exec Executor, repo SubmissionRepository) *WorkerLoop {
	loop := NewWorkerLoop(language, queue, exec, repo, nil)
	loop.IdleBackoff = &backoff.StopBackOff{}
	return loop
}

func TestProcessOneLanguageMismatchGuard(t *testing.T) {
	queue := &loopQueue{}
	repo := &fakeSubmissionRepo{}
	exec := &fakeExecutor{language: "python"}
	loop := newTestLoop("python", queue, exec, repo)

	job := NewJob(1, 1, 1, "java", "class Main{}", nil, Limits{})
	loop.processOne(context.Background(), job)

	if exec.calls != 0 {
		t.Error("executor should not run a job routed to the wrong language worker")
	}
	if len(queue.acked) != 1 {
		t.Fatalf("acked = %d jobs, want 1", len(queue.acked))
	}
}

func TestProcessOneFinishesOnSuccess(t *testing.T) {
	queue := &loopQueue{}
	repo := &fakeSubmissionRepo{}
	exec := &fakeExecutor{language: "python", verdict: Verdict{SubmissionID: 1, Status: StatusAccepted, Score: 100}}
	loop := newTestLoop("python", queue, exec, repo)

	job := NewJob(1, 1, 1, "python", "print(1)", nil, Limits{})
	loop.processOne(context.Background(), job)

	if exec.calls != 1 {
		t.Errorf("executor calls = %d, want 1", exec.calls)
	}
	if len(queue.acked) != 1 {
		t.Fatalf("acked = %d jobs, want 1", len(queue.acked))
	}
}

// eventRepo and eventQueue record the order AcquirePending/SetStatus/
// SetResult are called in, so TestProcessOneMarksRunningBeforeTerminalVerdict
// can assert the submission passes through RUNNING before any terminal
// verdict is persisted.
type eventRepo struct {
	fakeSubmissionRepo
	events *[]string
}

func (r *eventRepo) AcquirePending(ctx context.Context, id int64) (*Submission, error) {
	*r.events = append(*r.events, "acquire")
	return &Submission{ID: id, Status: "running"}, nil
}

type eventQueue struct {
	loopQueue
	events *[]string
}

func (q *eventQueue) SetStatus(ctx context.Context, submissionID int64, status Status) error {
	*q.events = append(*q.events, "status:"+string(status))
	return q.loopQueue.SetStatus(ctx, submissionID, status)
}

func (q *eventQueue) SetResult(ctx context.Context, v Verdict) error {
	*q.events = append(*q.events, "result:"+string(v.Status))
	return q.loopQueue.SetResult(ctx, v)
}

func TestProcessOneMarksRunningBeforeTerminalVerdict(t *testing.T) {
	var events []string
	queue := &eventQueue{events: &events}
	repo := &eventRepo{events: &events}
	exec := &fakeExecutor{language: "python", verdict: Verdict{SubmissionID: 1, Status: StatusAccepted, Score: 100}}
	loop := newTestLoop("python", queue, exec, repo)

	job := NewJob(1, 1, 1, "python", "print(1)", nil, Limits{})
	loop.processOne(context.Background(), job)

	want := []string{"acquire", "status:RUNNING", "result:ACCEPTED"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestRetryOrFailReenqueuesWhileUnderMaxRetries(t *testing.T) {
	queue := &loopQueue{}
	repo := &fakeSubmissionRepo{}
	exec := &fakeExecutor{language: "python", err: errors.New("sandbox unreachable")}
	loop := newTestLoop("python", queue, exec, repo)
	loop.MaxRetries = 2

	job := NewJob(1, 1, 1, "python", "print(1)", nil, Limits{})

	// A failure re-enqueues and acks the job (IncrementRetry returns 1 every
	// call from the fake, which is <= MaxRetries). The give-up path is
	// covered by TestRetryOrFailGivesUpAfterMaxRetries.
	loop.processOne(context.Background(), job)
	if len(queue.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1 after first failure", len(queue.enqueued))
	}
	if len(queue.acked) != 1 {
		t.Fatalf("acked = %d, want 1 after re-enqueue", len(queue.acked))
	}
}

func TestRetryOrFailGivesUpAfterMaxRetries(t *testing.T) {
	queue := &loopQueue{}
	repo := &countingRetryRepo{fakeSubmissionRepo: fakeSubmissionRepo{}, retries: 10}
	exec := &fakeExecutor{language: "python", err: errors.New("sandbox unreachable")}
	loop := newTestLoop("python", queue, exec, repo)
	loop.MaxRetries = 2

	job := NewJob(1, 1, 1, "python", "print(1)", nil, Limits{})
	loop.processOne(context.Background(), job)

	if len(queue.enqueued) != 0 {
		t.Errorf("enqueued = %d, want 0 once retries are exhausted", len(queue.enqueued))
	}
	if len(queue.acked) != 1 {
		t.Fatalf("acked = %d, want 1 (final RUNTIME_ERROR verdict still acks)", len(queue.acked))
	}
}

// countingRetryRepo always reports a retry count above MaxRetries, to
// exercise the give-up path deterministically.
type countingRetryRepo struct {
	fakeSubmissionRepo
	retries int
}

func (r *countingRetryRepo) IncrementRetry(ctx context.Context, id int64) (int, error) {
	return r.retries, nil
}

func TestWorkerLoopIdleBackoffResetReturnsToInitialInterval(t *testing.T) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	loop := &WorkerLoop{IdleBackoff: b}
	loop.IdleBackoff.NextBackOff()
	loop.IdleBackoff.NextBackOff()
	loop.IdleBackoff.Reset()
	if loop.IdleBackoff.NextBackOff() > 5*time.Millisecond {
		t.Error("Reset should bring the backoff back down near InitialInterval")
	}
}
