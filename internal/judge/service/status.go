package service

import (
	"context"
	"time"

	"codejudge/internal/judge/model"
)

// StatusStore keeps the live status of submissions.
type StatusStore interface {
	Get(ctx context.Context, submissionID string) (model.JudgeStatus, error)
	Save(ctx context.Context, status model.JudgeStatus) error
}

// StatusReporter writes orchestrator progress to the status store.
type StatusReporter struct {
	store   StatusStore
	timeout time.Duration
}

func NewStatusReporter(store StatusStore, timeout time.Duration) *StatusReporter {
	return &StatusReporter{store: store, timeout: timeout}
}

func (r *StatusReporter) Judging(ctx context.Context, submissionID string, total int) error {
	return r.save(ctx, model.JudgeStatus{
		SubmissionID: submissionID,
		Status:       model.StatusJudging,
		Progress:     model.Progress{Total: total},
	})
}

func (r *StatusReporter) TestCaseDone(ctx context.Context, submissionID string, index, total int, res model.TestCaseResult) error {
	return r.save(ctx, model.JudgeStatus{
		SubmissionID: submissionID,
		Status:       model.StatusJudging,
		Progress:     model.Progress{Done: index + 1, Total: total},
	})
}

func (r *StatusReporter) save(ctx context.Context, status model.JudgeStatus) error {
	status.UpdatedAt = time.Now().Unix()
	return saveWithTimeout(ctx, r.store, r.timeout, status)
}

func saveWithTimeout(ctx context.Context, store StatusStore, timeout time.Duration, status model.JudgeStatus) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return store.Save(ctx, status)
}
