package model

import "time"

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusSubmitted    SubmissionStatus = "submitted"
	StatusJudging      SubmissionStatus = "judging"
	StatusAccepted     SubmissionStatus = "accepted"
	StatusWrongAnswer  SubmissionStatus = "wrong_answer"
	StatusTimeLimit    SubmissionStatus = "time_limit"
	StatusMemoryLimit  SubmissionStatus = "memory_limit"
	StatusRuntimeError SubmissionStatus = "runtime_error"
	StatusCompileError SubmissionStatus = "compile_error"
	// StatusPending means the problem had no test cases when judged.
	StatusPending SubmissionStatus = "pending"
	// StatusSystemError marks a judging pass that failed inside the engine.
	StatusSystemError SubmissionStatus = "system_error"
)

// IsTerminal reports whether no further judging is in progress.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case StatusSubmitted, StatusJudging, "":
		return false
	default:
		return true
	}
}

// Valid reports whether s is a known status.
func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusSubmitted, StatusJudging, StatusAccepted, StatusWrongAnswer, StatusTimeLimit,
		StatusMemoryLimit, StatusRuntimeError, StatusCompileError, StatusPending, StatusSystemError:
		return true
	}
	return false
}

// TestCaseStatus is the outcome of a single test case.
type TestCaseStatus string

const (
	TestCasePassed       TestCaseStatus = "passed"
	TestCaseWrongAnswer  TestCaseStatus = "wrong_answer"
	TestCaseTimeLimit    TestCaseStatus = "time_limit"
	TestCaseRuntimeError TestCaseStatus = "runtime_error"
)

// Judge methods recorded on a result.
const (
	JudgeMethodTraditional = "traditional"
	JudgeMethodAI          = "ai"
)

// TestCaseResult is the per-test record kept on a submission.
type TestCaseResult struct {
	Input    string         `json:"input"`
	Expected string         `json:"expected"`
	Output   string         `json:"output"`
	Status   TestCaseStatus `json:"status"`
	Time     int64          `json:"time"`
	Error    string         `json:"error,omitempty"`
}

// JudgingResult is the verdict of one judging pass.
type JudgingResult struct {
	Status          SubmissionStatus `json:"status"`
	TestCasesPassed int              `json:"test_cases_passed"`
	TotalTestCases  int              `json:"total_test_cases"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	TestCasesResult []TestCaseResult `json:"test_cases_result"`
	JudgeMethod     string           `json:"judge_method,omitempty"`
	AIAnalysis      string           `json:"ai_analysis,omitempty"`
}

// Submission is the persisted attempt of a user on a problem.
type Submission struct {
	ID              string           `json:"id"`
	UserID          int64            `json:"user_id"`
	ProblemID       int64            `json:"problem_id"`
	ContestID       string           `json:"contest_id,omitempty"`
	Language        string           `json:"language"`
	Code            string           `json:"code"`
	Status          SubmissionStatus `json:"status"`
	TestCasesPassed int              `json:"test_cases_passed"`
	TotalTestCases  int              `json:"total_test_cases"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	TestCasesResult []TestCaseResult `json:"test_cases_result,omitempty"`
	JudgeMethod     string           `json:"judge_method,omitempty"`
	AIAnalysis      string           `json:"ai_analysis,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ApplyResult copies a verdict onto the submission.
func (s *Submission) ApplyResult(res JudgingResult) {
	s.Status = res.Status
	s.TestCasesPassed = res.TestCasesPassed
	s.TotalTestCases = res.TotalTestCases
	s.ExecutionTimeMs = res.ExecutionTimeMs
	s.ErrorMessage = res.ErrorMessage
	s.TestCasesResult = res.TestCasesResult
	s.JudgeMethod = res.JudgeMethod
	s.AIAnalysis = res.AIAnalysis
}

// ResetJudging clears every field a previous judging pass wrote.
func (s *Submission) ResetJudging() {
	s.ApplyResult(JudgingResult{Status: StatusSubmitted})
}
