package model

// JudgeMessage represents the Kafka payload for judge tasks.
type JudgeMessage struct {
	SubmissionID string `json:"submission_id"`
	ProblemID    int64  `json:"problem_id"`
	UserID       int64  `json:"user_id"`
	ContestID    string `json:"contest_id,omitempty"`
	Language     string `json:"language"`
	Rejudge      bool   `json:"rejudge,omitempty"`
}
