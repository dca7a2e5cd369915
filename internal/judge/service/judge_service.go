package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"codejudge/internal/common/db"
	"codejudge/internal/common/mq"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/strategy"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const defaultMaxCodeBytes = 64 << 10

// Transactor runs fn inside a database transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx db.Transaction) error) error
}

// ResultArchiver stores full judging results out of band.
type ResultArchiver interface {
	Save(ctx context.Context, submissionID string, res model.JudgingResult) error
}

// Config holds service dependencies and settings.
type Config struct {
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	UserStats   repository.UserStatsRepository
	Transactor  Transactor
	Status      StatusStore
	Judge       strategy.Judge
	// Languages rejects unsupported languages at intake.
	Languages orchestrator.LanguageResolver
	// Archive is optional.
	Archive ResultArchiver
	// Pool runs judging locally. Required unless Queue and JudgeTopic are set.
	Pool *Pool
	// Queue and JudgeTopic route new work through the message queue.
	Queue      mq.Producer
	JudgeTopic string
	Retry      RetryConfig

	WorkerTimeout time.Duration
	StatusTimeout time.Duration
	MaxCodeBytes  int
}

// SubmitRequest is a new attempt at a problem.
type SubmitRequest struct {
	ProblemID int64  `json:"problem_id"`
	UserID    int64  `json:"user_id"`
	ContestID string `json:"contest_id,omitempty"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

// Service owns submission persistence around the judging engine.
type Service struct {
	cfg      Config
	inflight *xsync.MapOf[string, *inflightJudge]
}

type inflightJudge struct {
	cancel     context.CancelFunc
	superseded atomic.Bool
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.UserStats == nil {
		return nil, fmt.Errorf("user stats repository is required")
	}
	if cfg.Transactor == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if cfg.Status == nil {
		return nil, fmt.Errorf("status store is required")
	}
	if cfg.Judge == nil {
		return nil, fmt.Errorf("judge is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language resolver is required")
	}
	if cfg.Pool == nil && (cfg.Queue == nil || cfg.JudgeTopic == "") {
		return nil, fmt.Errorf("either a worker pool or a judge topic is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	return &Service{cfg: cfg, inflight: xsync.NewMapOf[string, *inflightJudge]()}, nil
}

// Submit stores the attempt, replacing any earlier one by the same user on
// the same problem, and dispatches it for judging.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Submission, error) {
	if req.ProblemID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	if req.UserID <= 0 {
		return nil, appErr.ValidationError("user_id", "required")
	}
	if strings.TrimSpace(req.Language) == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	if strings.TrimSpace(req.Code) == "" {
		return nil, appErr.ValidationError("code", "required")
	}
	if len(req.Code) > s.cfg.MaxCodeBytes {
		return nil, appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", s.cfg.MaxCodeBytes)
	}
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if _, err := s.cfg.Languages.Resolve(lang); err != nil {
		return nil, err
	}
	if _, err := s.loadProblem(ctx, req.ProblemID); err != nil {
		return nil, err
	}

	sub := &model.Submission{
		UserID:    req.UserID,
		ProblemID: req.ProblemID,
		ContestID: req.ContestID,
		Language:  lang,
		Code:      req.Code,
	}
	if err := s.cfg.Submissions.Upsert(ctx, nil, sub); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "store submission failed")
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, sub.ID)

	// A resubmission replaces the row a running pass would write to.
	if running, ok := s.inflight.Load(sub.ID); ok {
		running.superseded.Store(true)
		running.cancel()
		logger.Info(ctx, "superseded running judge")
	}

	s.saveStatus(ctx, model.JudgeStatus{SubmissionID: sub.ID, Status: model.StatusSubmitted})
	if err := s.dispatch(ctx, sub, false); err != nil {
		return nil, err
	}
	logger.Info(ctx, "submission accepted for judging",
		zap.Int64("problem_id", sub.ProblemID),
		zap.String("language", sub.Language))
	return sub, nil
}

// dispatch hands the submission to the queue or the local pool. A submission
// that cannot be dispatched is closed as system_error.
func (s *Service) dispatch(ctx context.Context, sub *model.Submission, rejudge bool) error {
	var err error
	if s.cfg.Queue != nil && s.cfg.JudgeTopic != "" {
		err = s.publish(ctx, sub, rejudge)
	} else {
		id := sub.ID
		err = s.cfg.Pool.Submit(ctx, func(poolCtx context.Context) {
			poolCtx = contextkey.Propagate(poolCtx, ctx)
			if judgeErr := s.Judge(poolCtx, id); judgeErr != nil {
				logger.Error(poolCtx, "judge submission failed", zap.String("submission_id", id), zap.Error(judgeErr))
			}
		})
	}
	if err == nil {
		return nil
	}
	logger.Warn(ctx, "dispatch submission failed", zap.Error(err))
	res := systemErrorResult(0, err)
	if saveErr := s.cfg.Submissions.SaveResult(context.WithoutCancel(ctx), nil, sub.ID, res); saveErr != nil {
		logger.Error(ctx, "persist dispatch failure failed", zap.Error(saveErr))
	}
	s.saveStatus(context.WithoutCancel(ctx), finalStatus(sub.ID, res, err))
	return err
}

func (s *Service) publish(ctx context.Context, sub *model.Submission, rejudge bool) error {
	payload, err := json.Marshal(model.JudgeMessage{
		SubmissionID: sub.ID,
		ProblemID:    sub.ProblemID,
		UserID:       sub.UserID,
		ContestID:    sub.ContestID,
		Language:     sub.Language,
		Rejudge:      rejudge,
	})
	if err != nil {
		return fmt.Errorf("marshal judge message failed: %w", err)
	}
	msg := mq.NewMessage(payload)
	msg.ID = sub.ID
	if err := s.cfg.Queue.Publish(ctx, s.cfg.JudgeTopic, msg); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish judge task failed")
	}
	return nil
}

// HandleMessage is the message queue entry point. It judges on the pool and
// waits for the result so the offset is committed after judging.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.JudgeMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Warn(ctx, "drop undecodable judge message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.SubmissionID == "" {
		logger.Warn(ctx, "drop judge message without submission id", zap.String("message_id", msg.ID))
		return nil
	}
	if s.cfg.Pool == nil {
		return s.Judge(ctx, payload.SubmissionID)
	}

	done := make(chan error, 1)
	err := s.cfg.Pool.Submit(ctx, func(poolCtx context.Context) {
		done <- s.Judge(contextkey.Propagate(poolCtx, ctx), payload.SubmissionID)
	})
	if appErr.Is(err, appErr.JudgeQueueFull) {
		return RequeueForPoolFull(ctx, s.cfg.Queue, s.cfg.Retry, msg)
	}
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Judge runs one judging pass for a stored submission and persists the
// verdict. Verdicts, including internal failures, are recorded on the
// submission; an error is returned only when persisting failed.
func (s *Service) Judge(ctx context.Context, submissionID string) error {
	ctx = context.WithValue(ctx, contextkey.SubmissionID, submissionID)
	sub, err := s.cfg.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			logger.Warn(ctx, "skip judging unknown submission")
			return nil
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}

	var judgeCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.WorkerTimeout > 0 {
		judgeCtx, cancel = context.WithTimeout(ctx, s.cfg.WorkerTimeout)
	} else {
		judgeCtx, cancel = context.WithCancel(ctx)
	}
	entry := &inflightJudge{cancel: cancel}
	if prev, loaded := s.inflight.LoadAndStore(submissionID, entry); loaded {
		prev.superseded.Store(true)
		prev.cancel()
	}
	release := func() {
		cancel()
		s.inflight.Compute(submissionID, func(cur *inflightJudge, loaded bool) (*inflightJudge, bool) {
			return cur, !loaded || cur == entry
		})
	}
	defer release()

	res, judgeErr := s.judgeRecovered(judgeCtx, sub)
	// Released before finalize so a rejudge triggered by the final status sees it idle.
	release()
	if entry.superseded.Load() {
		logger.Info(ctx, "discard superseded judging result")
		return nil
	}
	return s.finalize(context.WithoutCancel(ctx), sub, res, judgeErr)
}

// judgeRecovered turns a panic in the judging path into a system_error
// verdict so the submission is still finalized.
func (s *Service) judgeRecovered(ctx context.Context, sub *model.Submission) (res model.JudgingResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judging panicked", zap.Any("panic", r))
			err = appErr.Newf(appErr.JudgeSystemError, "Internal judge error: %v", r)
			res = systemErrorResult(0, err)
		}
	}()
	return s.runJudge(ctx, sub)
}

func (s *Service) runJudge(ctx context.Context, sub *model.Submission) (model.JudgingResult, error) {
	problem, err := s.loadProblem(ctx, sub.ProblemID)
	if err != nil {
		return systemErrorResult(0, err), err
	}
	tests, err := s.cfg.Problems.ListTestCases(ctx, sub.ProblemID)
	if err != nil {
		err = appErr.Wrapf(err, appErr.DatabaseError, "load test cases failed")
		return systemErrorResult(0, err), err
	}
	if err := s.cfg.Submissions.UpdateStatus(ctx, nil, sub.ID, model.StatusJudging); err != nil {
		logger.Warn(ctx, "mark submission judging failed", zap.Error(err))
	}

	res, err := s.cfg.Judge.Judge(ctx, orchestrator.Task{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		Problem:      *problem,
		TestCases:    tests,
		Code:         sub.Code,
		Language:     sub.Language,
	})
	if err != nil && !res.Status.IsTerminal() {
		res = systemErrorResult(len(tests), err)
	}
	return res, err
}

// finalize persists the verdict and counters in one transaction, then
// archives it and publishes the terminal status.
func (s *Service) finalize(ctx context.Context, sub *model.Submission, res model.JudgingResult, judgeErr error) error {
	if res.TestCasesResult == nil {
		res.TestCasesResult = []model.TestCaseResult{}
	}
	err := s.cfg.Transactor.Transaction(ctx, func(tx db.Transaction) error {
		if err := s.cfg.Submissions.SaveResult(ctx, tx, sub.ID, res); err != nil {
			return err
		}
		switch res.Status {
		case model.StatusAccepted:
			if err := s.cfg.Problems.IncrementCounters(ctx, tx, sub.ProblemID, true); err != nil {
				return err
			}
			return s.cfg.UserStats.IncrementSolved(ctx, tx, sub.UserID)
		case model.StatusPending, model.StatusSystemError:
			return nil
		default:
			return s.cfg.Problems.IncrementCounters(ctx, tx, sub.ProblemID, false)
		}
	})
	if err != nil {
		err = appErr.Wrapf(err, appErr.DatabaseError, "persist judging result failed")
	} else if res.Status != model.StatusPending && res.Status != model.StatusSystemError {
		if invErr := s.cfg.Problems.InvalidateProblem(ctx, sub.ProblemID); invErr != nil {
			logger.Warn(ctx, "invalidate problem cache failed", zap.Error(invErr))
		}
	}

	if s.cfg.Archive != nil && err == nil {
		if archiveErr := s.cfg.Archive.Save(ctx, sub.ID, res); archiveErr != nil {
			logger.Warn(ctx, "archive judging result failed", zap.Error(archiveErr))
		}
	}
	s.saveStatus(ctx, finalStatus(sub.ID, res, judgeErr))

	logger.Info(ctx, "judging finished",
		zap.String("status", string(res.Status)),
		zap.Int("passed", res.TestCasesPassed),
		zap.Int("total", res.TotalTestCases),
		zap.String("judge_method", res.JudgeMethod),
		zap.Int64("time_ms", res.ExecutionTimeMs))
	return err
}

// AddTestCase stores a test case and re-dispatches every submission of the
// problem that was waiting for test cases.
func (s *Service) AddTestCase(ctx context.Context, problemID int64, tc model.TestCase) (model.TestCase, int, error) {
	if problemID <= 0 {
		return model.TestCase{}, 0, appErr.ValidationError("problem_id", "required")
	}
	if tc.ExpectedOutput == "" {
		return model.TestCase{}, 0, appErr.New(appErr.TestCaseInvalid).WithMessage("expected_output is required")
	}
	if _, err := s.loadProblem(ctx, problemID); err != nil {
		return model.TestCase{}, 0, err
	}
	tc.ProblemID = problemID
	if err := s.cfg.Problems.AddTestCase(ctx, &tc); err != nil {
		return model.TestCase{}, 0, appErr.Wrapf(err, appErr.DatabaseError, "store test case failed")
	}
	n, err := s.Rejudge(ctx, problemID, []model.SubmissionStatus{model.StatusPending})
	return tc, n, err
}

// Rejudge re-dispatches the problem's submissions whose status is in
// statuses. An empty list means pending submissions only.
func (s *Service) Rejudge(ctx context.Context, problemID int64, statuses []model.SubmissionStatus) (int, error) {
	if problemID <= 0 {
		return 0, appErr.ValidationError("problem_id", "required")
	}
	wanted := mapset.NewThreadUnsafeSet[model.SubmissionStatus](statuses...)
	if wanted.IsEmpty() {
		wanted.Add(model.StatusPending)
	}
	for _, st := range wanted.ToSlice() {
		if !st.Valid() || !st.IsTerminal() {
			return 0, appErr.ValidationError("statuses", fmt.Sprintf("cannot rejudge status %q", st))
		}
	}

	subs, err := s.cfg.Submissions.ListByProblemAndStatus(ctx, problemID, wanted.ToSlice())
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	dispatched := 0
	for _, sub := range subs {
		if _, running := s.inflight.Load(sub.ID); running {
			continue
		}
		if err := s.cfg.Submissions.UpdateStatus(ctx, nil, sub.ID, model.StatusSubmitted); err != nil {
			return dispatched, appErr.Wrapf(err, appErr.DatabaseError, "reset submission failed")
		}
		s.saveStatus(ctx, model.JudgeStatus{SubmissionID: sub.ID, Status: model.StatusSubmitted})
		if err := s.dispatch(ctx, sub, true); err != nil {
			return dispatched, err
		}
		dispatched++
	}
	logger.Info(ctx, "rejudge dispatched",
		zap.Int64("problem_id", problemID),
		zap.Int("matched", len(subs)),
		zap.Int("dispatched", dispatched))
	return dispatched, nil
}

// Cancel stops a judging pass running in this process.
func (s *Service) Cancel(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	entry, ok := s.inflight.Load(submissionID)
	if !ok {
		return appErr.New(appErr.SubmissionNotJudging)
	}
	entry.cancel()
	logger.Info(ctx, "judging cancel requested", zap.String("submission_id", submissionID))
	return nil
}

// Status returns the live status of a submission.
func (s *Service) Status(ctx context.Context, submissionID string) (model.JudgeStatus, error) {
	return s.cfg.Status.Get(ctx, submissionID)
}

// Running reports how many judging passes are in flight.
func (s *Service) Running() int {
	return s.inflight.Size()
}

func (s *Service) loadProblem(ctx context.Context, problemID int64) (*model.Problem, error) {
	problem, err := s.cfg.Problems.GetByID(ctx, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, appErr.Newf(appErr.ProblemNotFound, "problem %d not found", problemID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	return problem, nil
}

func (s *Service) saveStatus(ctx context.Context, status model.JudgeStatus) {
	status.UpdatedAt = time.Now().Unix()
	if err := saveWithTimeout(ctx, s.cfg.Status, s.cfg.StatusTimeout, status); err != nil {
		logger.Warn(ctx, "update judge status failed", zap.String("status", string(status.Status)), zap.Error(err))
	}
}

func systemErrorResult(total int, err error) model.JudgingResult {
	return model.JudgingResult{
		Status:          model.StatusSystemError,
		TotalTestCases:  total,
		ErrorMessage:    err.Error(),
		TestCasesResult: []model.TestCaseResult{},
	}
}

func finalStatus(submissionID string, res model.JudgingResult, err error) model.JudgeStatus {
	status := model.JudgeStatus{
		SubmissionID: submissionID,
		Status:       res.Status,
		Progress:     model.Progress{Done: len(res.TestCasesResult), Total: res.TotalTestCases},
		Result:       &res,
	}
	if err != nil {
		status.ErrorCode = int(appErr.GetCode(err))
		status.ErrorMessage = err.Error()
	}
	return status
}
