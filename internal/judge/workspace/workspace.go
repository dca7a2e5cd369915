// Package workspace creates and removes the scratch directories a judging pass runs in.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config controls where directories live and how removal is retried.
type Config struct {
	Root             string        `yaml:"root"`
	CleanupRetries   int           `yaml:"cleanupRetries"`
	CleanupBaseDelay time.Duration `yaml:"cleanupBaseDelay"`
	CleanupMaxDelay  time.Duration `yaml:"cleanupMaxDelay"`
}

// Manager hands out uniquely named directories under Root.
type Manager struct {
	cfg Config
}

// NewManager applies defaults and makes sure Root exists.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Root == "" {
		cfg.Root = filepath.Join(os.TempDir(), "codejudge")
	}
	if cfg.CleanupRetries <= 0 {
		cfg.CleanupRetries = 3
	}
	if cfg.CleanupBaseDelay <= 0 {
		cfg.CleanupBaseDelay = 100 * time.Millisecond
	}
	if cfg.CleanupMaxDelay <= 0 {
		cfg.CleanupMaxDelay = time.Second
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create work root failed")
	}
	return &Manager{cfg: cfg}, nil
}

// Root returns the parent directory of all workspaces.
func (m *Manager) Root() string {
	return m.cfg.Root
}

// Create makes a fresh directory named <prefix>-<uuid>.
func (m *Manager) Create(prefix string) (*Dir, error) {
	if prefix == "" {
		prefix = "run"
	}
	path := filepath.Join(m.cfg.Root, fmt.Sprintf("%s-%s", prefix, uuid.NewString()))
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create workspace failed")
	}
	return &Dir{path: path, cfg: m.cfg}, nil
}

// Dir is one scratch directory.
type Dir struct {
	path string
	cfg  Config
}

func (d *Dir) Path() string { return d.path }

// WriteFile writes data to name inside the directory.
func (d *Dir) WriteFile(name string, data []byte) (string, error) {
	full := name
	if !filepath.IsAbs(name) {
		full = filepath.Join(d.path, name)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", appErr.Wrapf(err, appErr.JudgeSystemError, "write %s failed", filepath.Base(full))
	}
	return full, nil
}

// Cleanup removes the directory tree. Failures are retried with backoff and
// then logged; they never propagate.
func (d *Dir) Cleanup(ctx context.Context) {
	var err error
	for attempt := 0; attempt <= d.cfg.CleanupRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(ComputeBackoff(attempt-1, d.cfg.CleanupBaseDelay, d.cfg.CleanupMaxDelay))
		}
		if err = os.RemoveAll(d.path); err == nil {
			return
		}
	}
	logger.Warn(ctx, "workspace cleanup failed",
		zap.String("path", d.path),
		zap.Int("retries", d.cfg.CleanupRetries),
		zap.Error(err))
}

// ComputeBackoff doubles base for every retry and caps the result at max.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
