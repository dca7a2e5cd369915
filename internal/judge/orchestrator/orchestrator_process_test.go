//go:build unix

package orchestrator_test

import (
	"context"
	"testing"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/orchestrator"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/workspace"
)

func TestJudgeWithShellInterpreter(t *testing.T) {
	t.Parallel()
	adapter, err := language.NewAdapter(language.Config{
		Languages: []language.Spec{{ID: "sh", SourceName: "main.sh", RunCmd: "/bin/sh {src}"}},
	})
	if err != nil {
		t.Fatalf("new adapter failed: %v", err)
	}
	root := t.TempDir()
	mgr, err := workspace.NewManager(workspace.Config{Root: root})
	if err != nil {
		t.Fatalf("new workspace manager failed: %v", err)
	}
	orch, err := orchestrator.New(adapter, engine.NewProcessRunner(engine.Config{}), mgr, nil, orchestrator.Config{})
	if err != nil {
		t.Fatalf("new orchestrator failed: %v", err)
	}

	code := "read a b\necho $((a + b))\n"
	res, err := orch.Judge(context.Background(), orchestrator.Task{
		SubmissionID: "sh-1",
		Problem:      model.Problem{TimeLimitMs: 5000},
		TestCases: []model.TestCase{
			{Input: "1 2\n", ExpectedOutput: "3"},
			{Input: "20 22\n", ExpectedOutput: "42\n"},
			{Input: "1 1\n", ExpectedOutput: "3"},
		},
		Code:     code,
		Language: "sh",
	})
	if err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if res.Status != model.StatusWrongAnswer || res.ErrorMessage != "Wrong Answer on test case 3" {
		t.Fatalf("unexpected verdict: %s %q", res.Status, res.ErrorMessage)
	}
	if res.TestCasesResult[2].Output != "2" {
		t.Fatalf("unexpected output: %q", res.TestCasesResult[2].Output)
	}
	assertWorkspaceClean(t, root)
}
