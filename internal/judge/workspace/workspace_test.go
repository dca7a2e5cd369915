package workspace_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codejudge/internal/judge/workspace"
)

func TestCreateAndCleanup(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	mgr, err := workspace.NewManager(workspace.Config{Root: root})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	first, err := mgr.Create("sub-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := mgr.Create("sub-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.Path() == second.Path() {
		t.Fatalf("expected unique directories")
	}
	if !strings.HasPrefix(filepath.Base(first.Path()), "sub-1-") {
		t.Fatalf("unexpected directory name: %s", first.Path())
	}

	path, err := first.WriteFile("solution.py", []byte("print(1)"))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(first.Path(), "nested", "deep"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	first.Cleanup(context.Background())
	second.Cleanup(context.Background())
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty root after cleanup, got %d entries", len(entries))
	}
}

func TestCleanupMissingDirIsNoop(t *testing.T) {
	t.Parallel()
	mgr, err := workspace.NewManager(workspace.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	dir, _ := mgr.Create("gone")
	if err := os.RemoveAll(dir.Path()); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	dir.Cleanup(context.Background())
}

func TestComputeBackoff(t *testing.T) {
	t.Parallel()
	base := 100 * time.Millisecond
	max := time.Second
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := workspace.ComputeBackoff(tc.retry, base, max); got != tc.want {
			t.Fatalf("retry %d: got %v want %v", tc.retry, got, tc.want)
		}
	}
	if got := workspace.ComputeBackoff(3, 0, max); got != 0 {
		t.Fatalf("zero base should disable backoff, got %v", got)
	}
}
