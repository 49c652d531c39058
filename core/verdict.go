package core

// CaseResult is one test case's outcome, including Output/ExpectedOutput
// for diagnostics.
type CaseResult struct {
	CaseID         string `json:"case_id"`
	Status         Status `json:"status"`
	TimeMs         int    `json:"time_ms"`
	MemoryMb       int    `json:"memory_mb"`
	Output         string `json:"output,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Verdict is the aggregate result of running one submission's test cases.
type Verdict struct {
	SubmissionID int64        `json:"submission_id"`
	Status       Status       `json:"status"`
	Score        int          `json:"score"`
	TotalTimeMs  int          `json:"total_time_ms"`
	Language     string       `json:"language"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Cases        []CaseResult `json:"cases"`
}

// aggregateStatus applies the precedence rule: any COMPILATION_ERROR >
// any RUNTIME_ERROR > any TIME_LIMIT_EXCEEDED > all ACCEPTED > else
// WRONG_ANSWER.
func aggregateStatus(cases []CaseResult) Status {
	if len(cases) == 0 {
		return StatusRuntimeError
	}

	sawCompilationError := false
	sawRuntimeError := false
	sawTimeLimitExceeded := false
	allAccepted := true

	for _, c := range cases {
		switch c.Status {
		case StatusCompilationError:
			sawCompilationError = true
		case StatusRuntimeError:
			sawRuntimeError = true
		case StatusTimeLimitExceeded:
			sawTimeLimitExceeded = true
		}
		if c.Status != StatusAccepted {
			allAccepted = false
		}
	}

	switch {
	case sawCompilationError:
		return StatusCompilationError
	case sawRuntimeError:
		return StatusRuntimeError
	case sawTimeLimitExceeded:
		return StatusTimeLimitExceeded
	case allAccepted:
		return StatusAccepted
	default:
		return StatusWrongAnswer
	}
}

// score computes round(100 * accepted / total) using nearest-integer
// rounding, not truncation.
func score(cases []CaseResult) int {
	if len(cases) == 0 {
		return 0
	}
	accepted := 0
	for _, c := range cases {
		if c.Status == StatusAccepted {
			accepted++
		}
	}
	return int((100*accepted + len(cases)/2) / len(cases))
}

// buildVerdict assembles the final Verdict from completed per-case
// results, applying the aggregation precedence and score rule.
func buildVerdict(submissionID int64, language string, cases []CaseResult, totalTimeMs int, compileError string) Verdict {
	if compileError != "" {
		return Verdict{
			SubmissionID: submissionID,
			Status:       StatusCompilationError,
			Score:        0,
			TotalTimeMs:  totalTimeMs,
			Language:     language,
			ErrorMessage: compileError,
			Cases:        cases,
		}
	}
	st := aggregateStatus(cases)
	v := Verdict{
		SubmissionID: submissionID,
		Status:       st,
		Score:        score(cases),
		TotalTimeMs:  totalTimeMs,
		Language:     language,
		Cases:        cases,
	}
	if st != StatusAccepted {
		for _, c := range cases {
			if c.Status != StatusAccepted && c.ErrorMessage != "" {
				v.ErrorMessage = c.ErrorMessage
				break
			}
		}
	}
	return v
}
