package core

import (
	"time"

	"github.com/google/uuid"
)

// TestCase is one (stdin, expected stdout, order) triple snapshotted
// onto a Job at enqueue time.
type TestCase struct {
	ID             string `json:"id"`
	Input          string `json:"input,omitempty"`
	ExpectedOutput string `json:"expected_output"`
	IsHidden       bool   `json:"is_hidden"`
	OrderIndex     int    `json:"order_index"`
}

// Limits bounds a single test case's execution.
type Limits struct {
	TimeLimitMs   int `json:"time_limit_ms"`
	MemoryLimitMb int `json:"memory_limit_mb"`
}

// Job is the self-contained queue payload: everything a worker needs
// to execute a submission without re-querying the store.
type Job struct {
	ID           string     `json:"id"`
	SubmissionID int64      `json:"submission_id"`
	ChallengeID  int64      `json:"challenge_id"`
	UserID       int64      `json:"user_id"`
	Language     string     `json:"language"`
	Code         string     `json:"code"`
	TestCases    []TestCase `json:"test_cases"`
	Limits       Limits     `json:"limits"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
}

// NewJob builds a Job with a fresh id and the current enqueue timestamp.
func NewJob(submissionID, challengeID, userID int64, language, code string, cases []TestCase, limits Limits) Job {
	return Job{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		ChallengeID:  challengeID,
		UserID:       userID,
		Language:     language,
		Code:         code,
		TestCases:    cases,
		Limits:       limits,
		EnqueuedAt:   time.Now().UTC(),
	}
}
