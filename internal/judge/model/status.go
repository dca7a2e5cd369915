package model

// Progress counts finished test cases.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// JudgeStatus is the live view of a submission kept in the status cache.
type JudgeStatus struct {
	SubmissionID string           `json:"submission_id"`
	Status       SubmissionStatus `json:"status"`
	Progress     Progress         `json:"progress"`
	Result       *JudgingResult   `json:"result,omitempty"`
	ErrorCode    int              `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	UpdatedAt    int64            `json:"updated_at"`
}

const StatusEventFinal = "final"

// StatusEvent is published once a submission reaches a terminal status.
type StatusEvent struct {
	Type      string      `json:"type"`
	Status    JudgeStatus `json:"status"`
	CreatedAt int64       `json:"created_at"`
}
