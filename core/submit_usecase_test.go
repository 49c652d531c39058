package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProblemRepo struct {
	public    bool
	detail    *ProblemDetail
	testcases []ProblemTestcase
}

func (f *fakeProblemRepo) ExistsAndPublic(ctx context.Context, id int64) (bool, error) { return f.public, nil }
func (f *fakeProblemRepo) Exists(ctx context.Context, id int64) (bool, error)          { return true, nil }
func (f *fakeProblemRepo) ListPublic(ctx context.Context) ([]ProblemMeta, error)       { return nil, nil }
func (f *fakeProblemRepo) FindDetail(ctx context.Context, id int64) (*ProblemDetail, error) {
	return f.detail, nil
}
func (f *fakeProblemRepo) FindDetailAdmin(ctx context.Context, id int64) (*ProblemDetail, error) {
	return f.detail, nil
}
func (f *fakeProblemRepo) ListTestcases(ctx context.Context, id int64) ([]ProblemTestcase, error) {
	return f.testcases, nil
}
func (f *fakeProblemRepo) CreateWithTestcases(ctx context.Context, input ProblemCreateInput) (int64, error) {
	return 0, nil
}
func (f *fakeProblemRepo) UpdateProblem(ctx context.Context, id int64, input ProblemUpdateInput) error {
	return nil
}
func (f *fakeProblemRepo) AdminList(ctx context.Context, page, perPage int) ([]ProblemAdminListItem, int, error) {
	return nil, 0, nil
}
func (f *fakeProblemRepo) ProblemStats(ctx context.Context, id int64) (*ProblemStats, error) {
	return nil, nil
}

type fakeSubmissionRepo struct {
	nextID      int64
	deleted     []int64
	createErr   error
	createdCode string
}

func (f *fakeSubmissionRepo) FindByID(ctx context.Context, id int64) (*Submission, error) { return nil, nil }
func (f *fakeSubmissionRepo) MarkStatus(ctx context.Context, id int64, status string) error { return nil }
func (f *fakeSubmissionRepo) SaveResult(ctx context.Context, result SubmissionResult, finalStatus string) error {
	return nil
}
func (f *fakeSubmissionRepo) Create(ctx context.Context, userID, problemID int64, language, code string) (int64, time.Time, error) {
	if f.createErr != nil {
		return 0, time.Time{}, f.createErr
	}
	f.nextID++
	f.createdCode = code
	return f.nextID, time.Now(), nil
}
func (f *fakeSubmissionRepo) Delete(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeSubmissionRepo) FindWithResult(ctx context.Context, id int64) (*SubmissionResultView, error) {
	return nil, nil
}
func (f *fakeSubmissionRepo) AcquirePending(ctx context.Context, id int64) (*Submission, error) {
	return nil, nil
}
func (f *fakeSubmissionRepo) IncrementRetry(ctx context.Context, id int64) (int, error) { return 1, nil }
func (f *fakeSubmissionRepo) CountByUser(ctx context.Context, userID int64) (int, error) { return 0, nil }
func (f *fakeSubmissionRepo) CountSolvedProblemsByUser(ctx context.Context, userID int64) (int, error) {
	return 0, nil
}
func (f *fakeSubmissionRepo) ListByUser(ctx context.Context, userID int64, problemID *int64, page, perPage int) ([]SubmissionListItem, int, error) {
	return nil, 0, nil
}
func (f *fakeSubmissionRepo) ListByProblem(ctx context.Context, problemID int64, page, perPage int) ([]SubmissionListItem, int, error) {
	return nil, 0, nil
}
func (f *fakeSubmissionRepo) SaveVerdict(ctx context.Context, v Verdict) error { return nil }

type fakeQueue struct {
	enqueued  []Job
	enqueueErr error
}

func (f *fakeQueue) Enqueue(ctx context.Context, job Job) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}
func (f *fakeQueue) Reserve(ctx context.Context, language string, visibility time.Duration) (Job, bool, error) {
	return Job{}, false, nil
}
func (f *fakeQueue) Ack(ctx context.Context, language string, job Job) error { return nil }
func (f *fakeQueue) RequeueExpired(ctx context.Context, language string, now time.Time) ([]Job, error) {
	return nil, nil
}
func (f *fakeQueue) SetStatus(ctx context.Context, submissionID int64, status Status) error { return nil }
func (f *fakeQueue) GetStatus(ctx context.Context, submissionID int64) (Status, bool, error) {
	return "", false, nil
}
func (f *fakeQueue) SetResult(ctx context.Context, v Verdict) error { return nil }
func (f *fakeQueue) GetResult(ctx context.Context, submissionID int64) (Verdict, bool, error) {
	return Verdict{}, false, nil
}
func (f *fakeQueue) Length(ctx context.Context, language string) (int64, error) { return 0, nil }
func (f *fakeQueue) Peek(ctx context.Context, language string, count int64) ([]Job, error) {
	return nil, nil
}
func (f *fakeQueue) HealthCheck(ctx context.Context) error { return nil }

func newTestUseCase(problems *fakeProblemRepo, submissions *fakeSubmissionRepo, queue *fakeQueue) *SubmitCodeUseCase {
	return NewSubmitCodeUseCase(submissions, problems, queue)
}

func validDetail() *ProblemDetail {
	return &ProblemDetail{ProblemMeta: ProblemMeta{ID: 1, TimeLimitMS: 2000, MemoryLimitKB: 262144}}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	u := newTestUseCase(&fakeProblemRepo{public: true}, &fakeSubmissionRepo{}, &fakeQueue{})
	_, err := u.Submit(context.Background(), 1, "user", SubmitCodeRequest{ProblemID: 1, Language: "brainfuck", Code: "x"})
	if err == nil {
		t.Fatal("expected a validation error for an unsupported language")
	}
}

func TestSubmitRejectsNonStudentRole(t *testing.T) {
	u := newTestUseCase(&fakeProblemRepo{public: true, detail: validDetail(), testcases: []ProblemTestcase{{InputText: "1\n", OutputText: "1\n"}}}, &fakeSubmissionRepo{}, &fakeQueue{})
	_, err := u.Submit(context.Background(), 1, "admin", SubmitCodeRequest{ProblemID: 1, Language: "python", Code: "print(1)"})
	if !errors.Is(err, ErrSubmitterNotStudent) {
		t.Fatalf("err = %v, want ErrSubmitterNotStudent", err)
	}
}

func TestSubmitRejectsNonPublicProblem(t *testing.T) {
	u := newTestUseCase(&fakeProblemRepo{public: false}, &fakeSubmissionRepo{}, &fakeQueue{})
	_, err := u.Submit(context.Background(), 1, "user", SubmitCodeRequest{ProblemID: 1, Language: "python", Code: "print(1)"})
	if !errors.Is(err, ErrProblemNotPublished) {
		t.Fatalf("err = %v, want ErrProblemNotPublished", err)
	}
}

func TestSubmitRejectsProblemWithNoTestCases(t *testing.T) {
	problems := &fakeProblemRepo{public: true, detail: validDetail(), testcases: nil}
	u := newTestUseCase(problems, &fakeSubmissionRepo{}, &fakeQueue{})
	_, err := u.Submit(context.Background(), 1, "user", SubmitCodeRequest{ProblemID: 1, Language: "python", Code: "print(1)"})
	if !errors.Is(err, ErrNoTestCases) {
		t.Fatalf("err = %v, want ErrNoTestCases", err)
	}
}

func TestSubmitHappyPathEnqueuesJobWithSnapshot(t *testing.T) {
	problems := &fakeProblemRepo{
		public: true,
		detail: validDetail(),
		testcases: []ProblemTestcase{
			{InputText: "1 2\n", OutputText: "3\n", IsSample: true},
			{InputText: "5 5\n", OutputText: "10\n", IsSample: false},
		},
	}
	submissions := &fakeSubmissionRepo{}
	queue := &fakeQueue{}
	u := newTestUseCase(problems, submissions, queue)

	id, err := u.Submit(context.Background(), 42, "user", SubmitCodeRequest{ProblemID: 1, Language: "python", Code: "print(sum(map(int,input().split())))"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("enqueued = %d jobs, want 1", len(queue.enqueued))
	}
	job := queue.enqueued[0]
	if len(job.TestCases) != 2 {
		t.Errorf("job has %d test cases, want 2 (snapshotted at enqueue time)", len(job.TestCases))
	}
	if job.TestCases[0].IsHidden {
		t.Error("sample test case should not be hidden")
	}
	if !job.TestCases[1].IsHidden {
		t.Error("non-sample test case should be hidden")
	}
	if job.Limits.TimeLimitMs != 2000 || job.Limits.MemoryLimitMb != 256 {
		t.Errorf("limits = %+v, want 2000ms/256mb", job.Limits)
	}
	if submissions.createdCode != "print(sum(map(int,input().split())))" {
		t.Errorf("created submission code = %q, want the request's code", submissions.createdCode)
	}
}

func TestSubmitCompensatesDeleteWhenEnqueueFails(t *testing.T) {
	problems := &fakeProblemRepo{
		public:    true,
		detail:    validDetail(),
		testcases: []ProblemTestcase{{InputText: "1\n", OutputText: "1\n"}},
	}
	submissions := &fakeSubmissionRepo{}
	queue := &fakeQueue{enqueueErr: errors.New("redis unreachable")}
	u := newTestUseCase(problems, submissions, queue)

	_, err := u.Submit(context.Background(), 1, "user", SubmitCodeRequest{ProblemID: 1, Language: "python", Code: "print(1)"})
	if err == nil {
		t.Fatal("expected an error when enqueue fails")
	}
	if len(submissions.deleted) != 1 || submissions.deleted[0] != 1 {
		t.Errorf("deleted = %v, want [1] (compensating delete)", submissions.deleted)
	}
}
