package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Executor runs one submission's code against its test cases and
// produces a Verdict. One Executor exists per supported language.
type Executor interface {
	Language() string
	Execute(ctx context.Context, job Job) (Verdict, error)
}

// forbiddenImport is a single deny-listed pattern for a language.
// Matching one rejects the submission before any sandbox invocation
// happens, at zero resource cost.
type forbiddenImport struct {
	pattern *regexp.Regexp
	label   string
}

func mustForbid(pattern, label string) forbiddenImport {
	return forbiddenImport{pattern: regexp.MustCompile(pattern), label: label}
}

var forbiddenByLanguage = map[string][]forbiddenImport{
	"python": {
		mustForbid(`\bimport\s+os\b`, "os"),
		mustForbid(`\bimport\s+sys\b`, "sys"),
		mustForbid(`\bimport\s+subprocess\b`, "subprocess"),
		mustForbid(`\bimport\s+socket\b`, "socket"),
		mustForbid(`\bimport\s+shutil\b`, "shutil"),
		mustForbid(`\bfrom\s+os\s+import\b`, "os"),
		mustForbid(`\bfrom\s+subprocess\s+import\b`, "subprocess"),
	},
	"java": {
		mustForbid(`\bRuntime\s*\.\s*getRuntime\s*\(`, "java.lang.Runtime"),
		mustForbid(`\bnew\s+ProcessBuilder\b`, "java.lang.ProcessBuilder"),
		mustForbid(`\bjava\.io\.File\b`, "java.io.File"),
	},
	"cpp": {
		mustForbid(`\bfork\s*\(`, "fork"),
		mustForbid(`\bexecve?\s*\(`, "exec"),
		mustForbid(`\bpopen\s*\(`, "popen"),
		mustForbid(`#include\s*<sys/socket\.h>`, "socket.h"),
		mustForbid(`#include\s*<fstream>`, "fstream"),
	},
	"c": {
		mustForbid(`\bfork\s*\(`, "fork"),
		mustForbid(`\bexecve?\s*\(`, "exec"),
		mustForbid(`\bpopen\s*\(`, "popen"),
		mustForbid(`#include\s*<sys/socket\.h>`, "socket.h"),
	},
	"nodejs": {
		mustForbid(`require\s*\(\s*['"]child_process['"]\s*\)`, "child_process"),
		mustForbid(`require\s*\(\s*['"]fs['"]\s*\)`, "fs"),
		mustForbid(`require\s*\(\s*['"]net['"]\s*\)`, "net"),
	},
}

// checkForbiddenImports returns the first matching forbidden pattern's
// label, or "" if the source is clean.
func checkForbiddenImports(language, source string) string {
	for _, f := range forbiddenByLanguage[language] {
		if f.pattern.MatchString(source) {
			return f.label
		}
	}
	return ""
}

// sandboxExecutor is the single Executor implementation shared by every
// language: the per-language behavior lives entirely in judgeLangConfigs
// (core/judge_client.go) and forbiddenByLanguage above, so one compile/run
// flow drives all of python/java/nodejs/cpp/c.
type sandboxExecutor struct {
	language           string
	judge              JudgeClient
	compileTimeLimitMs int
}

const defaultCompileTimeLimitMs = 5000

// NewExecutor builds the Executor for language, or an error if the
// language is not supported. compileTimeLimitMs <= 0 falls back to
// defaultCompileTimeLimitMs.
func NewExecutor(language string, judge JudgeClient, compileTimeLimitMs int) (Executor, error) {
	if !IsSupportedLanguage(language) {
		return nil, fmt.Errorf("unsupported language %q", language)
	}
	if compileTimeLimitMs <= 0 {
		compileTimeLimitMs = defaultCompileTimeLimitMs
	}
	return &sandboxExecutor{language: language, judge: judge, compileTimeLimitMs: compileTimeLimitMs}, nil
}

func (e *sandboxExecutor) Language() string { return e.language }

func (e *sandboxExecutor) Execute(ctx context.Context, job Job) (Verdict, error) {
	if label := checkForbiddenImports(e.language, job.Code); label != "" {
		return buildVerdict(job.SubmissionID, e.language, nil, 0,
			fmt.Sprintf("use of disallowed import/call %q is not permitted", label)), nil
	}

	compileRes, _, artifactID, err := e.judge.Compile(ctx, e.language, job.Code, e.compileTimeLimitMs, job.Limits.MemoryLimitMb)
	if err != nil {
		return Verdict{}, fmt.Errorf("compile: %w", err)
	}
	if compileRes.Status != "Accepted" || compileRes.ExitStatus != 0 {
		msg := compileRes.Error
		if msg == "" {
			msg = compileRes.Files["stderr"]
		}
		if msg == "" {
			msg = "compilation failed"
		}
		cases := []CaseResult{{Status: StatusCompilationError, ErrorMessage: msg}}
		return buildVerdict(job.SubmissionID, e.language, cases, 0, msg), nil
	}
	defer e.judge.RemoveFiles(context.WithoutCancel(ctx), artifactID)

	cases := make([]CaseResult, 0, len(job.TestCases))
	totalTimeMs := 0
	for _, tc := range job.TestCases {
		cr, err := e.runCase(ctx, artifactID, tc, job.Limits)
		if err != nil {
			return Verdict{}, fmt.Errorf("run case %s: %w", tc.ID, err)
		}
		totalTimeMs += cr.TimeMs
		cases = append(cases, cr)
	}

	return buildVerdict(job.SubmissionID, e.language, cases, totalTimeMs, ""), nil
}

// runCase enforces a wall-clock timeout of limits.TimeLimitMs+1000ms
// around the sandbox call, on top of whatever limit the sandbox itself
// applies: a sandbox that hangs or never reports back must not wedge the
// worker forever. A breach is re-classified as TIME_LIMIT_EXCEEDED
// rather than surfaced as a system error.
func (e *sandboxExecutor) runCase(ctx context.Context, artifactID string, tc TestCase, limits Limits) (CaseResult, error) {
	wallTimeout := time.Duration(limits.TimeLimitMs+1000) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, wallTimeout)
	defer cancel()

	runRes, err := e.judge.RunWithArtifact(runCtx, e.language, artifactID, tc.Input, limits.TimeLimitMs, limits.MemoryLimitMb)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			runRes = &judgeResponse{
				Status:     "Time Limit Exceeded",
				ExitStatus: 124,
				Time:       int64(limits.TimeLimitMs) * int64(time.Millisecond),
				Files:      map[string]string{"stderr": "timeout"},
			}
		} else {
			return CaseResult{}, err
		}
	}

	result := CaseResult{CaseID: tc.ID}
	if runRes != nil {
		result.TimeMs = int(runRes.Time / 1_000_000)
		result.MemoryMb = int(runRes.Memory / (1024 * 1024))
	}

	status := mapJudgeStatus(runRes)
	if status == StatusAccepted {
		actual := ""
		if runRes != nil {
			actual = runRes.Files["stdout"]
		}
		if normalizeOutput(actual) != normalizeOutput(tc.ExpectedOutput) {
			status = StatusWrongAnswer
			result.Output = actual
			result.ExpectedOutput = tc.ExpectedOutput
		}
	} else if runRes != nil {
		result.Output = runRes.Files["stdout"]
		result.ExpectedOutput = tc.ExpectedOutput
		if runRes.Error != "" {
			result.ErrorMessage = runRes.Error
		} else if stderr := runRes.Files["stderr"]; stderr != "" {
			result.ErrorMessage = stderr
		}
	}
	result.Status = status
	return result, nil
}

// mapJudgeStatus translates a go-judge run status into the canonical
// Status enum, folding memory- and output-limit violations into
// RUNTIME_ERROR rather than introducing new terminal states for them.
func mapJudgeStatus(res *judgeResponse) Status {
	if res == nil {
		return StatusRuntimeError
	}
	switch res.Status {
	case "Accepted":
		if res.ExitStatus == 0 {
			return StatusAccepted
		}
		return StatusRuntimeError
	case "Time Limit Exceeded":
		return StatusTimeLimitExceeded
	default:
		return StatusRuntimeError
	}
}
