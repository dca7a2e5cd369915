package evaluator_test

import (
	"context"
	"testing"
	"time"

	"codejudge/internal/judge/evaluator"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/engine"
)

type fakeRunner struct {
	res engine.Result
	req engine.Request
}

func (f *fakeRunner) Run(ctx context.Context, req engine.Request) (engine.Result, error) {
	f.req = req
	return f.res, nil
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"  hello\n":         "hello",
		"a\r\nb\r\n":        "a\nb",
		"a\rb":              "a\nb",
		"\n\n1 2 3\r\n4\n ": "1 2 3\n4",
		"":                  "",
	}
	for in, want := range cases {
		got := evaluator.Normalize(in)
		if got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
		if again := evaluator.Normalize(got); again != got {
			t.Fatalf("Normalize not idempotent for %q: %q", in, again)
		}
	}
}

func TestEvaluatePassesInputAndTimeout(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{res: engine.Result{ExitedNormally: true, Stdout: "3\r\n", WallTimeMs: 12}}
	ev := evaluator.New(runner, nil)
	out, err := ev.Evaluate(context.Background(), []string{"prog"}, "/work", model.TestCase{Input: "1 2\n", ExpectedOutput: "3"}, 2*time.Second)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if out.Status != model.TestCasePassed || out.ActualOutput != "3" || out.ElapsedMs != 12 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if runner.req.Stdin != "1 2\n" || runner.req.Timeout != 2*time.Second || runner.req.Dir != "/work" {
		t.Fatalf("unexpected request: %+v", runner.req)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		res      engine.Result
		expected string
		want     model.TestCaseStatus
		wantErr  string
	}{
		{
			name:     "timeout wins over matching output",
			res:      engine.Result{TimedOut: true, Stdout: "3", ExitCode: -1},
			expected: "3",
			want:     model.TestCaseTimeLimit,
		},
		{
			name:     "non zero exit uses stderr",
			res:      engine.Result{ExitCode: 1, Stderr: "ZeroDivisionError"},
			expected: "3",
			want:     model.TestCaseRuntimeError,
			wantErr:  "ZeroDivisionError",
		},
		{
			name:     "non zero exit without stderr",
			res:      engine.Result{ExitCode: 2},
			expected: "3",
			want:     model.TestCaseRuntimeError,
			wantErr:  "process exited with code 2",
		},
		{
			name:     "wrong answer",
			res:      engine.Result{ExitedNormally: true, Stdout: "4\n"},
			expected: "3",
			want:     model.TestCaseWrongAnswer,
		},
		{
			name:     "whitespace differences inside lines matter",
			res:      engine.Result{ExitedNormally: true, Stdout: "1  2"},
			expected: "1 2",
			want:     model.TestCaseWrongAnswer,
		},
		{
			name:     "line ending differences ignored",
			res:      engine.Result{ExitedNormally: true, Stdout: "1\r\n2\r\n"},
			expected: "1\n2\n",
			want:     model.TestCasePassed,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			out := evaluator.Classify(tc.res, tc.expected, nil)
			if out.Status != tc.want {
				t.Fatalf("status = %s, want %s", out.Status, tc.want)
			}
			if out.Error != tc.wantErr {
				t.Fatalf("error = %q, want %q", out.Error, tc.wantErr)
			}
		})
	}
}

type lengthComparator struct{}

func (lengthComparator) Equal(a, b string) bool { return len(a) == len(b) }

func TestCustomComparator(t *testing.T) {
	t.Parallel()
	out := evaluator.Classify(engine.Result{ExitedNormally: true, Stdout: "YES"}, "yes", lengthComparator{})
	if out.Status != model.TestCasePassed {
		t.Fatalf("expected custom comparator to accept, got %s", out.Status)
	}
}
