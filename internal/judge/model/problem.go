package model

// Problem is the judge-facing view of a problem.
type Problem struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	// TimeLimitMs <= 0 means unset.
	TimeLimitMs int64 `json:"time_limit_ms"`
	// MemoryLimitMB is advisory and not enforced.
	MemoryLimitMB   int64 `json:"memory_limit_mb"`
	AcceptedCount   int64 `json:"accepted_count"`
	SubmissionCount int64 `json:"submission_count"`
}

// TestCase is one input/expected-output pair.
type TestCase struct {
	ID             int64  `json:"id"`
	ProblemID      int64  `json:"problem_id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	IsHidden       bool   `json:"is_hidden"`
}
