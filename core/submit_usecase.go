package core

import (
	"context"
	"errors"
	"fmt"
)

// SubmitCodeUseCase validates a submission request, snapshots the
// problem's test cases onto a Job, persists the submission row, and
// enqueues the job — compensating with a delete if enqueue fails, so a
// submission row never outlives its queue entry.
type SubmitCodeUseCase struct {
	submissions SubmissionRepository
	problems    ProblemRepository
	queue       Queue
}

func NewSubmitCodeUseCase(submissions SubmissionRepository, problems ProblemRepository, queue Queue) *SubmitCodeUseCase {
	return &SubmitCodeUseCase{submissions: submissions, problems: problems, queue: queue}
}

var (
	ErrProblemNotPublished = errors.New("problem is not published")
	ErrNoTestCases         = errors.New("problem has no test cases")
	ErrSubmitterNotStudent = errors.New("only student accounts may submit code")
)

// studentRole is the account role allowed to submit code. Admin accounts
// manage problems/users through the admin routes instead.
const studentRole = "user"

// Submit validates, persists, and enqueues one submission. It returns the
// new submission ID on success.
func (u *SubmitCodeUseCase) Submit(ctx context.Context, userID int64, role string, req SubmitCodeRequest) (int64, error) {
	if role != studentRole {
		return 0, ErrSubmitterNotStudent
	}
	if err := ValidateSubmitCodeRequest(req); err != nil {
		return 0, err
	}

	isPublic, err := u.problems.ExistsAndPublic(ctx, req.ProblemID)
	if err != nil {
		return 0, fmt.Errorf("look up problem: %w", err)
	}
	if !isPublic {
		return 0, ErrProblemNotPublished
	}

	detail, err := u.problems.FindDetail(ctx, req.ProblemID)
	if err != nil {
		return 0, fmt.Errorf("load problem detail: %w", err)
	}
	dbCases, err := u.problems.ListTestcases(ctx, req.ProblemID)
	if err != nil {
		return 0, fmt.Errorf("load test cases: %w", err)
	}
	if len(dbCases) == 0 {
		return 0, ErrNoTestCases
	}

	submissionID, _, err := u.submissions.Create(ctx, userID, req.ProblemID, req.Language, req.Code)
	if err != nil {
		return 0, fmt.Errorf("create submission: %w", err)
	}

	cases := make([]TestCase, 0, len(dbCases))
	for i, tc := range dbCases {
		cases = append(cases, TestCase{
			ID:             fmt.Sprintf("%d", i+1),
			Input:          tc.InputText,
			ExpectedOutput: tc.OutputText,
			IsHidden:       !tc.IsSample,
			OrderIndex:     i,
		})
	}

	limits := Limits{TimeLimitMs: int(detail.TimeLimitMS), MemoryLimitMb: int((detail.MemoryLimitKB + 1023) / 1024)}
	if limits.TimeLimitMs <= 0 {
		limits.TimeLimitMs = 2000
	}
	if limits.MemoryLimitMb <= 0 {
		limits.MemoryLimitMb = 256
	}

	job := NewJob(submissionID, req.ProblemID, userID, req.Language, req.Code, cases, limits)

	if err := u.queue.Enqueue(ctx, job); err != nil {
		if delErr := u.submissions.Delete(ctx, submissionID); delErr != nil {
			return 0, fmt.Errorf("enqueue failed (%v) and compensating delete failed: %w", err, delErr)
		}
		return 0, fmt.Errorf("enqueue job: %w", err)
	}

	return submissionID, nil
}
