// Package adhoc runs code once against a user supplied input without touching
// any submission.
package adhoc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/sandbox/engine"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultMaxInputBytes = 1 << 20
)

// Config controls ad-hoc runs.
type Config struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxInputBytes int           `yaml:"maxInputBytes"`
	MaxCodeBytes  int           `yaml:"maxCodeBytes"`
}

// Output is what the caller sees of one run.
type Output struct {
	Output          string `json:"output"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// Service compiles and runs code once.
type Service struct {
	languages  orchestrator.LanguageResolver
	runner     engine.Runner
	workspaces orchestrator.Workspaces
	cfg        Config
}

func NewService(languages orchestrator.LanguageResolver, runner engine.Runner, workspaces orchestrator.Workspaces, cfg Config) (*Service, error) {
	if languages == nil || runner == nil || workspaces == nil {
		return nil, fmt.Errorf("languages, runner and workspaces are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = defaultMaxInputBytes
	}
	return &Service{languages: languages, runner: runner, workspaces: workspaces, cfg: cfg}, nil
}

// RunOnce compiles code if needed and runs it with input on stdin. Program
// failures are reported in Output.Error; the returned error covers invalid
// requests and internal failures only.
func (s *Service) RunOnce(ctx context.Context, code, lang, input string) (Output, error) {
	if strings.TrimSpace(code) == "" {
		return Output{}, appErr.ValidationError("code", "required")
	}
	if strings.TrimSpace(lang) == "" {
		return Output{}, appErr.ValidationError("language", "required")
	}
	if s.cfg.MaxCodeBytes > 0 && len(code) > s.cfg.MaxCodeBytes {
		return Output{}, appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", s.cfg.MaxCodeBytes)
	}
	if len(input) > s.cfg.MaxInputBytes {
		return Output{}, appErr.Newf(appErr.CustomInputTooLarge, "input exceeds %d bytes", s.cfg.MaxInputBytes)
	}

	l, err := s.languages.Resolve(lang)
	if err != nil {
		return Output{}, err
	}

	dir, err := s.workspaces.Create("run")
	if err != nil {
		return Output{}, appErr.Wrapf(err, appErr.JudgeSystemError, "create workspace failed")
	}
	defer dir.Cleanup(context.WithoutCancel(ctx))

	if _, err := dir.WriteFile(l.SourceFile(dir.Path()), []byte(code)); err != nil {
		return Output{}, appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
	}

	compileCmd, needsCompile, err := l.CompileCommand(dir.Path())
	if err != nil {
		return Output{}, appErr.Wrapf(err, appErr.JudgeSystemError, "build compile command failed")
	}
	if needsCompile {
		res, err := s.runner.Run(ctx, engine.Request{Cmd: compileCmd, Dir: dir.Path(), Timeout: s.cfg.Timeout})
		if err != nil {
			return Output{}, appErr.Wrapf(err, appErr.JudgeSystemError, "compile failed")
		}
		if !res.ExitedNormally {
			msg := res.Stderr
			if msg == "" {
				msg = "Compilation error"
			}
			return Output{Error: msg}, nil
		}
	}

	runCmd, err := l.RunCommand(dir.Path())
	if err != nil {
		return Output{}, appErr.Wrapf(err, appErr.JudgeSystemError, "build run command failed")
	}
	res, err := s.runner.Run(ctx, engine.Request{Cmd: runCmd, Dir: dir.Path(), Stdin: input, Timeout: s.cfg.Timeout})
	if err != nil {
		return Output{}, appErr.Wrapf(err, appErr.JudgeSystemError, "run failed")
	}
	if err := ctx.Err(); err != nil {
		return Output{}, appErr.Wrapf(err, appErr.JudgeCanceled, "run canceled")
	}
	logger.Debug(ctx, "ad-hoc run finished",
		zap.String("language", l.ID()),
		zap.Int64("time_ms", res.WallTimeMs),
		zap.Bool("timed_out", res.TimedOut))

	switch {
	case res.TimedOut:
		return Output{
			Error:           fmt.Sprintf("Time Limit Exceeded (%s)", s.cfg.Timeout),
			ExecutionTimeMs: res.WallTimeMs,
		}, nil
	case !res.ExitedNormally:
		return Output{Output: res.Stdout, Error: res.ExitDescription(), ExecutionTimeMs: res.WallTimeMs}, nil
	}
	return Output{Output: res.Stdout, ExecutionTimeMs: res.WallTimeMs}, nil
}
