// Package engine runs one external process per call with a wall-clock limit
// and bounded output capture.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

const defaultOutputLimitBytes int64 = 10 << 20

// Runner executes a single command.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Request describes one process invocation.
type Request struct {
	Cmd     []string
	Dir     string
	Stdin   string
	Timeout time.Duration
	// Env is appended to the parent environment.
	Env []string
}

// Result reports how the process ended.
type Result struct {
	ExitedNormally bool
	ExitCode       int
	Stdout         string
	Stderr         string
	WallTimeMs     int64
	TimedOut       bool
	// Truncated is set when either stream exceeded the output limit.
	Truncated bool
}

// Config controls process runner behavior.
type Config struct {
	OutputLimitBytes int64         `yaml:"outputLimitBytes"`
	WaitDelay        time.Duration `yaml:"waitDelay"`
}

// ProcessRunner is the default Runner backed by os/exec.
type ProcessRunner struct {
	cfg Config
}

// NewProcessRunner creates a runner, applying defaults to cfg.
func NewProcessRunner(cfg Config) *ProcessRunner {
	if cfg.OutputLimitBytes <= 0 {
		cfg.OutputLimitBytes = defaultOutputLimitBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 500 * time.Millisecond
	}
	return &ProcessRunner{cfg: cfg}
}

func validateRequest(req Request) error {
	if len(req.Cmd) == 0 || req.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.Dir == "" {
		return fmt.Errorf("work dir is required")
	}
	return nil
}

// Run starts req.Cmd and waits for it. Only an invalid request returns an error.
func (r *ProcessRunner) Run(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}

	cmd := exec.Command(req.Cmd[0], req.Cmd[1:]...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(cmd.Environ(), req.Env...)
	}
	prepareCommand(cmd)
	cmd.WaitDelay = r.cfg.WaitDelay

	stdout := newLimitedBuffer(r.cfg.OutputLimitBytes)
	stderr := newLimitedBuffer(r.cfg.OutputLimitBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return startFailure(err), nil
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return startFailure(err), nil
	}

	go func() {
		// EPIPE from a process that ignores stdin is expected.
		_, _ = stdin.Write([]byte(req.Stdin))
		_ = stdin.Close()
	}()

	var timedOut bool
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		var timer <-chan time.Time
		if req.Timeout > 0 {
			t := time.NewTimer(req.Timeout)
			defer t.Stop()
			timer = t.C
		}
		select {
		case <-ctx.Done():
			killProcess(cmd)
		case <-timer:
			mu.Lock()
			timedOut = true
			mu.Unlock()
			killProcess(cmd)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	elapsed := time.Since(start).Milliseconds()

	mu.Lock()
	res := Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		WallTimeMs: elapsed,
		TimedOut:   timedOut,
		Truncated:  stdout.Truncated() || stderr.Truncated(),
	}
	mu.Unlock()

	res.ExitCode = -1
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	// ErrWaitDelay only means a descendant kept the pipes open after the process exited.
	waitOK := waitErr == nil || errors.Is(waitErr, exec.ErrWaitDelay)
	res.ExitedNormally = waitOK && res.ExitCode == 0 && !res.TimedOut
	if !waitOK && !res.TimedOut && res.Stderr == "" {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			res.Stderr = waitErr.Error()
		}
	}
	return res, nil
}

func startFailure(err error) Result {
	return Result{ExitCode: -1, Stderr: err.Error()}
}

// ExitDescription describes an abnormal exit when the process wrote nothing to stderr.
func (r Result) ExitDescription() string {
	if r.Stderr != "" {
		return r.Stderr
	}
	if r.ExitCode < 0 {
		return "process terminated abnormally"
	}
	return fmt.Sprintf("process exited with code %d", r.ExitCode)
}

// limitedBuffer keeps at most limit bytes and silently drops the rest.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func newLimitedBuffer(limit int64) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - int64(b.buf.Len())
	if remaining <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
