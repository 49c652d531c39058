package core

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WorkerLoop is one goroutine reserving Jobs for a single language,
// running them through an Executor, and persisting the Verdict. It
// rejects a job whose language does not match the worker it was
// dequeued by, guarding against a misrouted queue entry, and marks the
// submission RUNNING before handing it to the Executor.
type WorkerLoop struct {
	Language    string
	Queue       Queue
	Executor    Executor
	Submissions SubmissionRepository
	Heartbeat   *HeartbeatState
	Metrics     *PromMetrics
	Visibility  time.Duration
	MaxRetries  int
	IdleBackoff backoff.BackOff
}

const defaultMaxRetries = 3

// NewWorkerLoop builds a loop that retries immediately while work is
// flowing and backs off when the queue is dry.
func NewWorkerLoop(language string, queue Queue, executor Executor, submissions SubmissionRepository, hb *HeartbeatState) *WorkerLoop {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0 // never stop retrying; it's an idle queue, not a failure

	return &WorkerLoop{
		Language:    language,
		Queue:       queue,
		Executor:    executor,
		Submissions: submissions,
		Heartbeat:   hb,
		Visibility:  DefaultVisibilityTimeout,
		MaxRetries:  defaultMaxRetries,
		IdleBackoff: b,
	}
}

// Run blocks, reserving and processing jobs until ctx is canceled.
func (w *WorkerLoop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, ok, err := w.Queue.Reserve(ctx, w.Language, w.Visibility)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("[worker %s] reserve error: %v", w.Language, err)
			w.sleep(ctx, w.IdleBackoff.NextBackOff())
			continue
		}
		if !ok {
			w.sleep(ctx, w.IdleBackoff.NextBackOff())
			continue
		}
		w.IdleBackoff.Reset()

		w.processOne(ctx, job)
	}
}

func (w *WorkerLoop) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (w *WorkerLoop) processOne(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker %s] panic while processing job %s: %v", w.Language, job.ID, r)
			w.retryOrFail(ctx, job, errors.New("worker panic while processing job"))
		}
	}()

	if job.Language != w.Language {
		log.Printf("[worker %s] routing bug: dequeued job %s for language %q", w.Language, job.ID, job.Language)
		v := buildVerdict(job.SubmissionID, job.Language, nil, 0, "")
		v.Status = StatusRuntimeError
		v.ErrorMessage = "job routed to the wrong language worker"
		w.finish(ctx, job, v, nil)
		return
	}

	if _, err := w.Submissions.AcquirePending(ctx, job.SubmissionID); err != nil {
		if errors.Is(err, ErrSubmissionNotPending) {
			log.Printf("[worker %s] submission %d already left pending, skipping duplicate delivery", w.Language, job.SubmissionID)
			_ = w.Queue.Ack(ctx, w.Language, job)
			return
		}
		w.retryOrFail(ctx, job, err)
		return
	}
	if err := w.Queue.SetStatus(ctx, job.SubmissionID, StatusRunning); err != nil {
		log.Printf("[worker %s] mark running failed for submission %d: %v", w.Language, job.SubmissionID, err)
	}

	if w.Heartbeat != nil {
		w.Heartbeat.JobStarted(job.ID)
	}
	start := time.Now()

	verdict, err := w.Executor.Execute(ctx, job)
	if err != nil {
		w.retryOrFail(ctx, job, err)
		if w.Heartbeat != nil {
			w.Heartbeat.JobFinished(job.ID, err)
		}
		return
	}

	w.finish(ctx, job, verdict, nil)
	if w.Metrics != nil {
		w.Metrics.Observe(w.Language, verdict.Status, time.Since(start).Seconds())
	}
	if w.Heartbeat != nil {
		w.Heartbeat.JobFinished(job.ID, nil)
	}
}

func (w *WorkerLoop) finish(ctx context.Context, job Job, verdict Verdict, _ error) {
	if err := w.Submissions.SaveVerdict(ctx, verdict); err != nil {
		log.Printf("[worker %s] save verdict failed for submission %d: %v", w.Language, job.SubmissionID, err)
	}
	if err := w.Queue.SetResult(ctx, verdict); err != nil {
		log.Printf("[worker %s] cache result failed for submission %d: %v", w.Language, job.SubmissionID, err)
	}
	if err := w.Queue.Ack(ctx, w.Language, job); err != nil {
		log.Printf("[worker %s] ack failed for job %s: %v", w.Language, job.ID, err)
	}
}

// retryOrFail re-enqueues a job that failed for a system reason (sandbox
// unreachable, i/o error) up to MaxRetries times, then gives up with a
// RUNTIME_ERROR verdict so the submission does not hang forever. Before
// re-enqueueing it puts the submission row back to pending, so the
// redelivered job passes AcquirePending instead of being skipped.
func (w *WorkerLoop) retryOrFail(ctx context.Context, job Job, cause error) {
	retries, _ := w.Submissions.IncrementRetry(ctx, job.SubmissionID)
	if retries <= w.MaxRetries {
		log.Printf("[worker %s] job %s failed (%v), retry %d/%d", w.Language, job.ID, cause, retries, w.MaxRetries)
		if err := w.Submissions.MarkStatus(ctx, job.SubmissionID, StatusQueued.dbCode()); err != nil {
			log.Printf("[worker %s] reset to pending failed for submission %d: %v", w.Language, job.SubmissionID, err)
		}
		if err := w.Queue.Enqueue(ctx, job); err != nil {
			log.Printf("[worker %s] re-enqueue job %s failed: %v", w.Language, job.ID, err)
		}
		_ = w.Queue.Ack(ctx, w.Language, job)
		return
	}

	v := buildVerdict(job.SubmissionID, job.Language, nil, 0, "")
	v.Status = StatusRuntimeError
	v.ErrorMessage = cause.Error()
	w.finish(ctx, job, v, nil)
}
