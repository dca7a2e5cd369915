// Package evaluator runs one test case and classifies its outcome.
package evaluator

import (
	"context"
	"strings"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/engine"
)

// Outcome is the classified result of one test case.
type Outcome struct {
	Status model.TestCaseStatus
	// ActualOutput is the normalized program output.
	ActualOutput string
	ElapsedMs    int64
	Error        string
}

// Comparator decides whether normalized actual output matches the expected one.
type Comparator interface {
	Equal(actual, expected string) bool
}

// ExactComparator requires byte equality after normalization.
type ExactComparator struct{}

func (ExactComparator) Equal(actual, expected string) bool {
	return actual == expected
}

// Evaluator executes programs through a Runner.
type Evaluator struct {
	runner     engine.Runner
	comparator Comparator
}

// New creates an evaluator. A nil comparator falls back to ExactComparator.
func New(runner engine.Runner, comparator Comparator) *Evaluator {
	if comparator == nil {
		comparator = ExactComparator{}
	}
	return &Evaluator{runner: runner, comparator: comparator}
}

// Evaluate runs runCmd in dir with the test input and compares the output.
// Timeouts win over any output the process produced.
func (e *Evaluator) Evaluate(ctx context.Context, runCmd []string, dir string, tc model.TestCase, timeout time.Duration) (Outcome, error) {
	res, err := e.runner.Run(ctx, engine.Request{
		Cmd:     runCmd,
		Dir:     dir,
		Stdin:   tc.Input,
		Timeout: timeout,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Classify(res, tc.ExpectedOutput, e.comparator), nil
}

// Classify maps a process result to a test case outcome.
func Classify(res engine.Result, expected string, comparator Comparator) Outcome {
	if comparator == nil {
		comparator = ExactComparator{}
	}
	out := Outcome{ElapsedMs: res.WallTimeMs}
	switch {
	case res.TimedOut:
		out.Status = model.TestCaseTimeLimit
	case !res.ExitedNormally:
		out.Status = model.TestCaseRuntimeError
		out.Error = res.ExitDescription()
	default:
		out.ActualOutput = Normalize(res.Stdout)
		if comparator.Equal(out.ActualOutput, Normalize(expected)) {
			out.Status = model.TestCasePassed
		} else {
			out.Status = model.TestCaseWrongAnswer
		}
	}
	return out
}

// Normalize trims surrounding whitespace and converts line endings to \n.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
