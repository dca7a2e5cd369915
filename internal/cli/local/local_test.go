package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codejudge/internal/cli/config"
	"codejudge/internal/cli/local"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/workspace"
)

// echoRunner behaves like a program that prints its input upper-cased.
type echoRunner struct{}

func (echoRunner) Run(_ context.Context, req engine.Request) (engine.Result, error) {
	return engine.Result{ExitedNormally: true, Stdout: strings.ToUpper(req.Stdin), WallTimeMs: 1}, nil
}

func newEngine(t *testing.T) *local.Engine {
	t.Helper()
	cfg := config.Config{
		Workspace: workspace.Config{Root: t.TempDir()},
		Language: language.Config{Languages: []language.Spec{
			{ID: "upper", SourceName: "main.up", RunCmd: "upper {src}"},
		}},
	}
	eng, err := local.NewEngine(cfg, echoRunner{})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	return eng
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadTestDirOrdersNumerically(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for name, in := range map[string]string{"10": "ten", "2": "two", "1": "one", "extra": "x"} {
		writeFile(t, filepath.Join(dir, name+".in"), in)
		writeFile(t, filepath.Join(dir, name+".out"), strings.ToUpper(in))
	}
	tests, err := local.LoadTestDir(dir)
	if err != nil {
		t.Fatalf("LoadTestDir returned error: %v", err)
	}
	var got []string
	for _, tc := range tests {
		got = append(got, tc.In)
	}
	if strings.Join(got, ",") != "one,two,ten,x" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestLoadTestDirErrors(t *testing.T) {
	t.Parallel()
	if _, err := local.LoadTestDir(t.TempDir()); err == nil {
		t.Fatalf("expected error for empty dir")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "1.in"), "x")
	if _, err := local.LoadTestDir(dir); err == nil {
		t.Fatalf("expected error for missing answer")
	}
}

func TestLoadProblemFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "tests"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "tests", "1.in"), "b")
	writeFile(t, filepath.Join(dir, "tests", "1.out"), "B")
	path := filepath.Join(dir, "upper.toml")
	writeFile(t, path, `
time_limit_ms = 500
tests_dir = "tests"

[[tests]]
in = "a"
ans = "A"
`)
	p, err := local.LoadProblemFile(path)
	if err != nil {
		t.Fatalf("LoadProblemFile returned error: %v", err)
	}
	if p.Title != "upper" || p.TimeLimitMs != 500 {
		t.Fatalf("unexpected problem %+v", p)
	}
	cases := p.TestCases()
	if len(cases) != 2 || cases[0].Input != "a" || cases[1].ExpectedOutput != "B" || cases[1].ID != 2 {
		t.Fatalf("unexpected test cases %+v", cases)
	}
}

func TestEngineJudge(t *testing.T) {
	t.Parallel()
	eng := newEngine(t)

	pass := local.Problem{Title: "up", Tests: []local.Test{{In: "a", Ans: "A\n"}, {In: "b", Ans: "B"}}}
	res, err := eng.Judge(context.Background(), "upper", "code", pass)
	if err != nil {
		t.Fatalf("Judge returned error: %v", err)
	}
	if res.Status != model.StatusAccepted || res.TestCasesPassed != 2 || res.JudgeMethod != model.JudgeMethodTraditional {
		t.Fatalf("unexpected result %+v", res)
	}

	fail := local.Problem{Title: "up", Tests: []local.Test{{In: "a", Ans: "A"}, {In: "b", Ans: "x"}, {In: "c", Ans: "C"}}}
	res, err = eng.Judge(context.Background(), "upper", "code", fail)
	if err != nil {
		t.Fatalf("Judge returned error: %v", err)
	}
	if res.Status != model.StatusWrongAnswer || res.TestCasesPassed != 1 || len(res.TestCasesResult) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := eng.Judge(context.Background(), "upper", "code", local.Problem{Title: "empty"}); err == nil {
		t.Fatalf("expected error for a problem without tests")
	}
}

func TestEngineRunAndLanguages(t *testing.T) {
	t.Parallel()
	eng := newEngine(t)
	out, err := eng.Run(context.Background(), "upper", "code", "hi")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out.Output != "HI" || out.Error != "" {
		t.Fatalf("unexpected output %+v", out)
	}
	langs := strings.Join(eng.Languages(), ",")
	if !strings.Contains(langs, "upper") || !strings.Contains(langs, "python") {
		t.Fatalf("unexpected languages %s", langs)
	}
}
