// Package orchestrator drives one judging pass: write source, compile, run
// every test case in order and produce a verdict.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codejudge/internal/judge/evaluator"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/workspace"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/contextkey"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultCompileTimeout = 10 * time.Second
	// Matches the historical default applied to problems without a limit.
	defaultTimeLimit = 1800000 * time.Millisecond

	pendingMessage  = "awaiting test cases"
	canceledMessage = "Judging canceled"
)

// Task is everything needed to judge one submission.
type Task struct {
	SubmissionID string
	UserID       int64
	Problem      model.Problem
	TestCases    []model.TestCase
	Code         string
	Language     string
}

// Reporter receives incremental progress. Errors are logged and ignored.
type Reporter interface {
	Judging(ctx context.Context, submissionID string, total int) error
	TestCaseDone(ctx context.Context, submissionID string, index, total int, res model.TestCaseResult) error
}

// LanguageResolver looks up a language by id.
type LanguageResolver interface {
	Resolve(id string) (language.Language, error)
}

// Workspaces creates scratch directories.
type Workspaces interface {
	Create(prefix string) (*workspace.Dir, error)
}

// Config holds judging timeouts.
type Config struct {
	CompileTimeout   time.Duration `yaml:"compileTimeout"`
	DefaultTimeLimit time.Duration `yaml:"defaultTimeLimit"`
}

// Orchestrator judges submissions with the traditional compile-and-compare flow.
type Orchestrator struct {
	languages  LanguageResolver
	runner     engine.Runner
	evaluator  *evaluator.Evaluator
	workspaces Workspaces
	reporter   Reporter
	cfg        Config
}

// New creates an orchestrator. reporter may be nil.
func New(languages LanguageResolver, runner engine.Runner, workspaces Workspaces, reporter Reporter, cfg Config) (*Orchestrator, error) {
	if languages == nil {
		return nil, fmt.Errorf("language resolver is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if workspaces == nil {
		return nil, fmt.Errorf("workspaces are required")
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = defaultCompileTimeout
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = defaultTimeLimit
	}
	return &Orchestrator{
		languages:  languages,
		runner:     runner,
		evaluator:  evaluator.New(runner, nil),
		workspaces: workspaces,
		reporter:   reporter,
		cfg:        cfg,
	}, nil
}

// Judge runs the task and returns its verdict. Verdicts are data: an error is
// returned only for internal failures and cancellation, together with a
// system_error result describing them.
func (o *Orchestrator) Judge(ctx context.Context, task Task) (model.JudgingResult, error) {
	ctx = context.WithValue(ctx, contextkey.SubmissionID, task.SubmissionID)
	total := len(task.TestCases)
	o.reportJudging(ctx, task.SubmissionID, total)

	if total == 0 {
		return model.JudgingResult{
			Status:          model.StatusPending,
			ErrorMessage:    pendingMessage,
			TestCasesResult: []model.TestCaseResult{},
		}, nil
	}

	lang, err := o.languages.Resolve(task.Language)
	if err != nil {
		return model.JudgingResult{
			Status:          model.StatusRuntimeError,
			TotalTestCases:  total,
			ErrorMessage:    err.Error(),
			TestCasesResult: []model.TestCaseResult{},
		}, nil
	}

	dir, err := o.workspaces.Create(task.SubmissionID)
	if err != nil {
		return internalFailure(total, err)
	}
	defer dir.Cleanup(context.WithoutCancel(ctx))

	if _, err := dir.WriteFile(lang.SourceFile(dir.Path()), []byte(task.Code)); err != nil {
		return internalFailure(total, err)
	}

	if res, failed, err := o.compile(ctx, lang, dir.Path(), total); failed || err != nil {
		return res, err
	}

	runCmd, err := lang.RunCommand(dir.Path())
	if err != nil {
		return internalFailure(total, err)
	}

	timeLimit := o.cfg.DefaultTimeLimit
	if task.Problem.TimeLimitMs > 0 {
		timeLimit = time.Duration(task.Problem.TimeLimitMs) * time.Millisecond
	}

	results := make([]model.TestCaseResult, 0, total)
	var elapsed int64
	for i, tc := range task.TestCases {
		if err := ctx.Err(); err != nil {
			return canceled(total, len(results), elapsed, results, err)
		}

		out, err := o.evaluator.Evaluate(ctx, runCmd, dir.Path(), tc, timeLimit)
		if err != nil {
			return internalFailure(total, err)
		}
		if err := ctx.Err(); err != nil {
			// The run was killed by cancellation, so its outcome is meaningless.
			return canceled(total, len(results), elapsed, results, err)
		}

		tcResult := model.TestCaseResult{
			Input:    tc.Input,
			Expected: tc.ExpectedOutput,
			Output:   out.ActualOutput,
			Status:   out.Status,
			Time:     out.ElapsedMs,
			Error:    out.Error,
		}
		results = append(results, tcResult)
		elapsed += out.ElapsedMs
		o.reportTestCase(ctx, task.SubmissionID, i, total, tcResult)

		if out.Status != model.TestCasePassed {
			return model.JudgingResult{
				Status:          failureStatus(out.Status),
				TestCasesPassed: i,
				TotalTestCases:  total,
				ExecutionTimeMs: elapsed,
				ErrorMessage:    failureMessage(out, i+1),
				TestCasesResult: results,
			}, nil
		}
	}

	logger.Debug(ctx, "all test cases passed", zap.Int("total", total), zap.Int64("time_ms", elapsed))
	return model.JudgingResult{
		Status:          model.StatusAccepted,
		TestCasesPassed: total,
		TotalTestCases:  total,
		ExecutionTimeMs: elapsed,
		TestCasesResult: results,
	}, nil
}

// compile returns failed=true with a compile_error result when the compiler rejects the source.
func (o *Orchestrator) compile(ctx context.Context, lang language.Language, dir string, total int) (model.JudgingResult, bool, error) {
	cmd, ok, err := lang.CompileCommand(dir)
	if err != nil {
		res, err := internalFailure(total, err)
		return res, true, err
	}
	if !ok {
		return model.JudgingResult{}, false, nil
	}

	res, err := o.runner.Run(ctx, engine.Request{Cmd: cmd, Dir: dir, Timeout: o.cfg.CompileTimeout})
	if err != nil {
		out, err := internalFailure(total, err)
		return out, true, err
	}
	if err := ctx.Err(); err != nil {
		out, err := canceled(total, 0, 0, nil, err)
		return out, true, err
	}
	if res.ExitedNormally {
		return model.JudgingResult{}, false, nil
	}

	msg := res.Stderr
	if msg == "" {
		msg = "Compilation error"
	}
	logger.Debug(ctx, "compilation failed", zap.Bool("timed_out", res.TimedOut), zap.Int("exit_code", res.ExitCode))
	return model.JudgingResult{
		Status:          model.StatusCompileError,
		TotalTestCases:  total,
		ErrorMessage:    msg,
		TestCasesResult: []model.TestCaseResult{},
	}, true, nil
}

func failureStatus(status model.TestCaseStatus) model.SubmissionStatus {
	switch status {
	case model.TestCaseTimeLimit:
		return model.StatusTimeLimit
	case model.TestCaseRuntimeError:
		return model.StatusRuntimeError
	default:
		return model.StatusWrongAnswer
	}
}

func failureMessage(out evaluator.Outcome, n int) string {
	switch out.Status {
	case model.TestCaseTimeLimit:
		return fmt.Sprintf("Time Limit Exceeded on test case %d", n)
	case model.TestCaseRuntimeError:
		return fmt.Sprintf("Runtime Error on test case %d: %s", n, out.Error)
	default:
		return fmt.Sprintf("Wrong Answer on test case %d", n)
	}
}

func internalFailure(total int, err error) (model.JudgingResult, error) {
	wrapped := appErr.Wrapf(err, appErr.JudgeSystemError, "Internal judge error: %s", err.Error())
	return model.JudgingResult{
		Status:          model.StatusSystemError,
		TotalTestCases:  total,
		ErrorMessage:    wrapped.Error(),
		TestCasesResult: []model.TestCaseResult{},
	}, wrapped
}

func canceled(total, passed int, elapsed int64, results []model.TestCaseResult, cause error) (model.JudgingResult, error) {
	msg := canceledMessage
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "Judging timed out"
	}
	if results == nil {
		results = []model.TestCaseResult{}
	}
	return model.JudgingResult{
		Status:          model.StatusSystemError,
		TestCasesPassed: passed,
		TotalTestCases:  total,
		ExecutionTimeMs: elapsed,
		ErrorMessage:    msg,
		TestCasesResult: results,
	}, appErr.Wrapf(cause, appErr.JudgeCanceled, "%s", msg)
}

func (o *Orchestrator) reportJudging(ctx context.Context, submissionID string, total int) {
	if o.reporter == nil {
		return
	}
	if err := o.reporter.Judging(ctx, submissionID, total); err != nil {
		logger.Warn(ctx, "report judging status failed", zap.Error(err))
	}
}

func (o *Orchestrator) reportTestCase(ctx context.Context, submissionID string, index, total int, res model.TestCaseResult) {
	if o.reporter == nil {
		return
	}
	if err := o.reporter.TestCaseDone(ctx, submissionID, index, total, res); err != nil {
		logger.Warn(ctx, "report test case progress failed", zap.Int("index", index), zap.Error(err))
	}
}
