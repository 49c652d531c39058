package core

import "testing"

func TestAggregateStatusPrecedence(t *testing.T) {
	cases := []struct {
		name  string
		cases []CaseResult
		want  Status
	}{
		{
			name:  "all accepted",
			cases: []CaseResult{{Status: StatusAccepted}, {Status: StatusAccepted}},
			want:  StatusAccepted,
		},
		{
			name:  "one wrong answer",
			cases: []CaseResult{{Status: StatusAccepted}, {Status: StatusWrongAnswer}},
			want:  StatusWrongAnswer,
		},
		{
			name:  "tle beats wrong answer",
			cases: []CaseResult{{Status: StatusWrongAnswer}, {Status: StatusTimeLimitExceeded}},
			want:  StatusTimeLimitExceeded,
		},
		{
			name:  "runtime error beats tle",
			cases: []CaseResult{{Status: StatusTimeLimitExceeded}, {Status: StatusRuntimeError}},
			want:  StatusRuntimeError,
		},
		{
			name:  "compilation error beats everything",
			cases: []CaseResult{{Status: StatusRuntimeError}, {Status: StatusCompilationError}, {Status: StatusAccepted}},
			want:  StatusCompilationError,
		},
		{
			name:  "no cases",
			cases: nil,
			want:  StatusRuntimeError,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := aggregateStatus(c.cases); got != c.want {
				t.Errorf("aggregateStatus(%v) = %s, want %s", c.cases, got, c.want)
			}
		})
	}
}

func TestScoreRounding(t *testing.T) {
	cases := []struct {
		name     string
		accepted int
		total    int
		want     int
	}{
		{"all accepted", 4, 4, 100},
		{"none accepted", 0, 4, 0},
		{"one of three", 1, 3, 33},
		{"rounds up, not truncated", 2, 3, 67},
		{"rounds down below one half", 5, 6, 83},
		{"empty", 0, 0, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			results := make([]CaseResult, c.total)
			for i := 0; i < c.accepted; i++ {
				results[i].Status = StatusAccepted
			}
			for i := c.accepted; i < c.total; i++ {
				results[i].Status = StatusWrongAnswer
			}
			if got := score(results); got != c.want {
				t.Errorf("score(%d/%d) = %d, want %d", c.accepted, c.total, got, c.want)
			}
		})
	}
}

func TestBuildVerdictCompilationErrorShortCircuits(t *testing.T) {
	v := buildVerdict(42, "python", []CaseResult{{Status: StatusAccepted}}, 100, "SyntaxError: invalid syntax")
	if v.Status != StatusCompilationError {
		t.Errorf("Status = %s, want COMPILATION_ERROR", v.Status)
	}
	if v.Score != 0 {
		t.Errorf("Score = %d, want 0", v.Score)
	}
	if v.ErrorMessage != "SyntaxError: invalid syntax" {
		t.Errorf("ErrorMessage = %q, want compile error text", v.ErrorMessage)
	}
}

func TestBuildVerdictCarriesFirstFailureMessage(t *testing.T) {
	cases := []CaseResult{
		{Status: StatusAccepted},
		{Status: StatusRuntimeError, ErrorMessage: "index out of range"},
		{Status: StatusWrongAnswer, ErrorMessage: "should not surface, first error wins"},
	}
	v := buildVerdict(1, "cpp", cases, 50, "")
	if v.Status != StatusRuntimeError {
		t.Fatalf("Status = %s, want RUNTIME_ERROR", v.Status)
	}
	if v.ErrorMessage != "index out of range" {
		t.Errorf("ErrorMessage = %q, want first failing case's message", v.ErrorMessage)
	}
}
