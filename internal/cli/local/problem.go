package local

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"codejudge/internal/judge/model"

	"github.com/pelletier/go-toml/v2"
)

// Test is one input/answer pair.
type Test struct {
	In  string `toml:"in"`
	Ans string `toml:"ans"`
}

// Problem is a problem described on disk.
type Problem struct {
	Title       string `toml:"title"`
	TimeLimitMs int64  `toml:"time_limit_ms"`
	// TestsDir is read relative to the problem file and appended after inline tests.
	TestsDir string `toml:"tests_dir"`
	Tests    []Test `toml:"tests"`
}

// Model converts p to the engine's problem type.
func (p Problem) Model() model.Problem {
	return model.Problem{Title: p.Title, TimeLimitMs: p.TimeLimitMs}
}

// TestCases converts the tests to the engine's test case type.
func (p Problem) TestCases() []model.TestCase {
	out := make([]model.TestCase, 0, len(p.Tests))
	for i, t := range p.Tests {
		out = append(out, model.TestCase{ID: int64(i + 1), Input: t.In, ExpectedOutput: t.Ans})
	}
	return out
}

// LoadProblemFile parses a TOML problem description.
//
//	title = "A+B"
//	time_limit_ms = 1000
//	[[tests]]
//	in = "1 2\n"
//	ans = "3\n"
func LoadProblemFile(path string) (Problem, error) {
	var p Problem
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read problem file failed: %w", err)
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse problem file failed: %w", err)
	}
	if p.Title == "" {
		p.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if p.TestsDir != "" {
		dir := p.TestsDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(path), dir)
		}
		tests, err := LoadTestDir(dir)
		if err != nil {
			return p, err
		}
		p.Tests = append(p.Tests, tests...)
	}
	return p, nil
}

// LoadTestDir reads N.in / N.out pairs from dir. Numeric names sort
// numerically, everything else lexically after them.
func LoadTestDir(dir string) ([]Test, error) {
	inputs, err := filepath.Glob(filepath.Join(dir, "*.in"))
	if err != nil {
		return nil, fmt.Errorf("list tests failed: %w", err)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no .in files in %s", dir)
	}
	names := make([]string, 0, len(inputs))
	for _, in := range inputs {
		names = append(names, strings.TrimSuffix(filepath.Base(in), ".in"))
	}
	sort.Slice(names, func(i, j int) bool {
		a, aErr := strconv.Atoi(names[i])
		b, bErr := strconv.Atoi(names[j])
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return names[i] < names[j]
	})

	tests := make([]Test, 0, len(names))
	for _, name := range names {
		in, err := os.ReadFile(filepath.Join(dir, name+".in"))
		if err != nil {
			return nil, fmt.Errorf("read test %s failed: %w", name, err)
		}
		ans, err := os.ReadFile(filepath.Join(dir, name+".out"))
		if err != nil {
			return nil, fmt.Errorf("read answer for test %s failed: %w", name, err)
		}
		tests = append(tests, Test{In: string(in), Ans: string(ans)})
	}
	return tests, nil
}
