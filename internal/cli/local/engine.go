// Package local runs the judging engine in-process for the developer CLI.
package local

import (
	"context"
	"fmt"

	"codejudge/internal/cli/config"
	"codejudge/internal/judge/adhoc"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/strategy"
	"codejudge/internal/judge/workspace"

	"github.com/google/uuid"
)

// Engine bundles the pieces needed to run and judge code without a database.
type Engine struct {
	languages *language.Adapter
	judge     strategy.Judge
	runs      *adhoc.Service
}

// NewEngine builds an engine from CLI config. runner may be nil to use the process runner.
func NewEngine(cfg config.Config, runner engine.Runner) (*Engine, error) {
	languages, err := language.NewAdapter(cfg.Language)
	if err != nil {
		return nil, err
	}
	workspaces, err := workspace.NewManager(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = engine.NewProcessRunner(cfg.Runner)
	}
	orch, err := orchestrator.New(languages, runner, workspaces, nil, cfg.Orchestrator)
	if err != nil {
		return nil, err
	}
	runs, err := adhoc.NewService(languages, runner, workspaces, cfg.Run)
	if err != nil {
		return nil, err
	}
	return &Engine{languages: languages, judge: strategy.NewTraditional(orch), runs: runs}, nil
}

// Languages lists supported language ids.
func (e *Engine) Languages() []string {
	return e.languages.Languages()
}

// Run executes code once with input on stdin.
func (e *Engine) Run(ctx context.Context, lang, code, input string) (adhoc.Output, error) {
	return e.runs.RunOnce(ctx, code, lang, input)
}

// Judge runs code against every test of p.
func (e *Engine) Judge(ctx context.Context, lang, code string, p Problem) (model.JudgingResult, error) {
	if len(p.Tests) == 0 {
		return model.JudgingResult{}, fmt.Errorf("problem %q has no tests", p.Title)
	}
	return e.judge.Judge(ctx, orchestrator.Task{
		SubmissionID: "local-" + uuid.NewString(),
		Problem:      p.Model(),
		TestCases:    p.TestCases(),
		Code:         code,
		Language:     lang,
	})
}
