package repl_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/local"
	"codejudge/internal/cli/repl"
	"codejudge/internal/judge/adhoc"
	"codejudge/internal/judge/model"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

type fakeLocal struct {
	lastProblem local.Problem
	lastInput   string
}

func (f *fakeLocal) Languages() []string { return []string{"cpp", "python"} }

func (f *fakeLocal) Run(_ context.Context, lang, code, input string) (adhoc.Output, error) {
	f.lastInput = input
	return adhoc.Output{Output: strings.ToUpper(code), ExecutionTimeMs: 3}, nil
}

func (f *fakeLocal) Judge(_ context.Context, lang, code string, p local.Problem) (model.JudgingResult, error) {
	f.lastProblem = p
	return model.JudgingResult{
		Status:          model.StatusWrongAnswer,
		TestCasesPassed: 0,
		TotalTestCases:  len(p.Tests),
		TestCasesResult: []model.TestCaseResult{
			{Input: "1", Expected: "2", Output: "3", Status: model.TestCaseWrongAnswer, Time: 1},
		},
	}, nil
}

type fakeRemote struct {
	submitted httpclient.SubmitRequest
	canceled  string
}

func (f *fakeRemote) Submit(_ context.Context, req httpclient.SubmitRequest) (httpclient.SubmitResult, error) {
	f.submitted = req
	return httpclient.SubmitResult{SubmissionID: "sub-1", Status: model.StatusSubmitted}, nil
}

func (f *fakeRemote) Status(_ context.Context, id string) (model.JudgeStatus, error) {
	if id == "missing" {
		return model.JudgeStatus{}, errors.New("submission not found")
	}
	return model.JudgeStatus{SubmissionID: id, Status: model.StatusJudging, Progress: model.Progress{Done: 1, Total: 3}}, nil
}

func (f *fakeRemote) Watch(_ context.Context, id string, fn func(model.JudgeStatus)) (model.JudgeStatus, error) {
	snapshots := []model.JudgeStatus{
		{SubmissionID: id, Status: model.StatusJudging, Progress: model.Progress{Done: 0, Total: 2}},
		{SubmissionID: id, Status: model.StatusJudging, Progress: model.Progress{Done: 0, Total: 2}},
		{SubmissionID: id, Status: model.StatusJudging, Progress: model.Progress{Done: 1, Total: 2}},
		{SubmissionID: id, Status: model.StatusAccepted, Progress: model.Progress{Done: 2, Total: 2}},
	}
	for _, st := range snapshots {
		fn(st)
	}
	return snapshots[len(snapshots)-1], nil
}

func (f *fakeRemote) Cancel(_ context.Context, id string) error {
	f.canceled = id
	return nil
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestExecuteRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "main.py"), "hello")
	in := writeFile(t, filepath.Join(dir, "in.txt"), "42")

	var out bytes.Buffer
	l := &fakeLocal{}
	s := repl.New(l, nil, &out, "")
	if err := s.Execute(context.Background(), "run lang=python file="+src+" input="+in); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if l.lastInput != "42" {
		t.Fatalf("expected input to be forwarded, got %q", l.lastInput)
	}
	if !strings.Contains(out.String(), "HELLO") || !strings.Contains(out.String(), "(3 ms)") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestExecuteJudgeWithTestsDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "main.cpp"), "int main(){}")
	tests := filepath.Join(dir, "tests")
	if err := os.Mkdir(tests, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(tests, "1.in"), "1")
	writeFile(t, filepath.Join(tests, "1.out"), "2")

	var out bytes.Buffer
	l := &fakeLocal{}
	s := repl.New(l, nil, &out, "")
	if err := s.Execute(context.Background(), "judge lang=cpp file="+src+" tests="+tests+" tl=1500"); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(l.lastProblem.Tests) != 1 || l.lastProblem.TimeLimitMs != 1500 {
		t.Fatalf("unexpected problem %+v", l.lastProblem)
	}
	got := out.String()
	if !strings.Contains(got, "WRONG_ANSWER") || !strings.Contains(got, "expected: 2") || !strings.Contains(got, "got:      3") {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestExecuteJudgeNeedsTests(t *testing.T) {
	t.Parallel()
	src := writeFile(t, filepath.Join(t.TempDir(), "main.cpp"), "int main(){}")
	s := repl.New(&fakeLocal{}, nil, &bytes.Buffer{}, "")
	err := s.Execute(context.Background(), "judge lang=cpp file="+src)
	if err == nil || !strings.Contains(err.Error(), "tests=<dir>") {
		t.Fatalf("expected missing tests error, got %v", err)
	}
}

func TestExecuteRemoteCommands(t *testing.T) {
	t.Parallel()
	src := writeFile(t, filepath.Join(t.TempDir(), "main.cpp"), "int main(){}")
	var out bytes.Buffer
	r := &fakeRemote{}
	s := repl.New(&fakeLocal{}, r, &out, "")
	ctx := context.Background()

	if err := s.Execute(ctx, "submit problem=7 lang=cpp file="+src+" user=9"); err != nil {
		t.Fatalf("submit returned error: %v", err)
	}
	if r.submitted.ProblemID != 7 || r.submitted.UserID != 9 || r.submitted.Code != "int main(){}" {
		t.Fatalf("unexpected submit request %+v", r.submitted)
	}
	got := out.String()
	if !strings.Contains(got, "submitted sub-1") || !strings.Contains(got, "sub-1 accepted") {
		t.Fatalf("unexpected submit output %q", got)
	}
	if strings.Count(got, "judging [0/2]") != 1 {
		t.Fatalf("duplicate progress lines should be collapsed: %q", got)
	}

	out.Reset()
	if err := s.Execute(ctx, "status id=sub-1"); err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	if !strings.Contains(out.String(), "[1/3]") {
		t.Fatalf("unexpected status output %q", out.String())
	}
	if err := s.Execute(ctx, "status id=missing"); err == nil {
		t.Fatalf("expected status error")
	}

	if err := s.Execute(ctx, "cancel submission_id=sub-2"); err != nil {
		t.Fatalf("cancel returned error: %v", err)
	}
	if r.canceled != "sub-2" {
		t.Fatalf("expected cancel of sub-2, got %q", r.canceled)
	}
}

func TestExecuteMisc(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	s := repl.New(&fakeLocal{}, nil, &out, "")
	ctx := context.Background()

	if err := s.Execute(ctx, "   "); err != nil {
		t.Fatalf("blank line returned error: %v", err)
	}
	if err := s.Execute(ctx, "langs"); err != nil || !strings.Contains(out.String(), "cpp python") {
		t.Fatalf("langs: %v %q", err, out.String())
	}
	if err := s.Execute(ctx, "help"); err != nil || !strings.Contains(out.String(), "submit problem=<n>") {
		t.Fatalf("help: %v %q", err, out.String())
	}
	if err := s.Execute(ctx, "status id=x"); err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("expected remote disabled error, got %v", err)
	}
	if err := s.Execute(ctx, "frobnicate"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
	if err := s.Execute(ctx, `run lang="python`); err == nil {
		t.Fatalf("expected quoting error")
	}
	if err := s.Execute(ctx, "exit"); !errors.Is(err, repl.ErrQuit) {
		t.Fatalf("expected ErrQuit, got %v", err)
	}
}
