package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
)

const statusKeyPrefix = "judge:status:"

const (
	defaultStatusCacheTTL      = 30 * time.Minute
	defaultStatusCacheEmptyTTL = 5 * time.Minute
)

// SubmissionReader loads persisted submissions for status fallback.
type SubmissionReader interface {
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)
}

// StatusRepository keeps the live judge status in the cache. A cache miss
// falls back to the persisted submission.
type StatusRepository struct {
	cache       cache.Cache
	submissions SubmissionReader
	publisher   StatusEventPublisher
	ttl         time.Duration
	emptyTTL    time.Duration
}

// NewStatusRepository creates a new repository. submissions and publisher may be nil.
func NewStatusRepository(cacheClient cache.Cache, submissions SubmissionReader, ttl, emptyTTL time.Duration, publisher StatusEventPublisher) *StatusRepository {
	if ttl <= 0 {
		ttl = defaultStatusCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultStatusCacheEmptyTTL
	}
	return &StatusRepository{
		cache:       cacheClient,
		submissions: submissions,
		publisher:   publisher,
		ttl:         ttl,
		emptyTTL:    emptyTTL,
	}
}

// Get returns status by submission id.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (model.JudgeStatus, error) {
	if submissionID == "" {
		return model.JudgeStatus{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return r.statusFromSubmission(ctx, submissionID)
	}

	status, err := cache.GetWithCached[*model.JudgeStatus](
		ctx,
		r.cache,
		statusKeyPrefix+submissionID,
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(st *model.JudgeStatus) bool { return st == nil },
		marshalStatus,
		unmarshalStatus,
		func(ctx context.Context) (*model.JudgeStatus, error) {
			status, err := r.statusFromSubmission(ctx, submissionID)
			if err != nil {
				if appErr.Is(err, appErr.SubmissionNotFound) {
					return nil, nil
				}
				return nil, err
			}
			return &status, nil
		},
	)
	if err != nil {
		return model.JudgeStatus{}, err
	}
	if status == nil {
		return model.JudgeStatus{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission status not found")
	}
	return *status, nil
}

// Save stores status and publishes a final event once it is terminal.
func (r *StatusRepository) Save(ctx context.Context, status model.JudgeStatus) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if status.UpdatedAt == 0 {
		status.UpdatedAt = time.Now().Unix()
	}
	if r.cache != nil {
		data, err := json.Marshal(status)
		if err != nil {
			return fmt.Errorf("marshal status failed: %w", err)
		}
		if err := r.cache.Set(ctx, statusKeyPrefix+status.SubmissionID, string(data), r.ttl); err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "store status failed")
		}
	}
	if !status.Status.IsTerminal() {
		return nil
	}
	if r.publisher == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	return r.publisher.PublishFinalStatus(ctx, status)
}

func (r *StatusRepository) statusFromSubmission(ctx context.Context, submissionID string) (model.JudgeStatus, error) {
	if r.submissions == nil {
		return model.JudgeStatus{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission status not found")
	}
	sub, err := r.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, ErrSubmissionNotFound) {
			return model.JudgeStatus{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission status not found")
		}
		return model.JudgeStatus{}, appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	return StatusFromSubmission(sub), nil
}

// StatusFromSubmission builds the status view of a persisted submission.
func StatusFromSubmission(sub *model.Submission) model.JudgeStatus {
	status := model.JudgeStatus{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		UpdatedAt:    sub.UpdatedAt.Unix(),
	}
	if sub.Status.IsTerminal() {
		status.Progress = model.Progress{Done: len(sub.TestCasesResult), Total: sub.TotalTestCases}
		status.Result = &model.JudgingResult{
			Status:          sub.Status,
			TestCasesPassed: sub.TestCasesPassed,
			TotalTestCases:  sub.TotalTestCases,
			ExecutionTimeMs: sub.ExecutionTimeMs,
			ErrorMessage:    sub.ErrorMessage,
			TestCasesResult: sub.TestCasesResult,
			JudgeMethod:     sub.JudgeMethod,
			AIAnalysis:      sub.AIAnalysis,
		}
	}
	return status
}

func marshalStatus(status *model.JudgeStatus) string {
	if status == nil {
		return ""
	}
	data, err := json.Marshal(status)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalStatus(data string) (*model.JudgeStatus, error) {
	var status model.JudgeStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, err
	}
	return &status, nil
}
