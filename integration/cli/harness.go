//go:build integration

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/patchsync/internal/testutil"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the patchsync binary once and runs it against a throwaway
// workspace holding a source tree, a patch tree and a config file.
type Harness struct {
	t          *testing.T
	binary     string
	workspace  string
	keepOnFail bool
}

// NewHarness creates a harness with an empty workspace.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	testutil.RequireGit(t)
	return &Harness{
		t:          t,
		workspace:  t.TempDir(),
		keepOnFail: os.Getenv("INTEGRATION_KEEP_WORKSPACE") == "1",
	}
}

// BuildBinary compiles cmd/patchsync into the harness's temp directory.
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.binary = filepath.Join(h.t.TempDir(), "patchsync")
	h.t.Logf("Building %s", h.binary)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/patchsync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Cleanup logs where the workspace is when a failed test asked to keep it.
func (h *Harness) Cleanup() {
	h.t.Helper()
	if h.keepOnFail && h.t.Failed() {
		kept, err := os.MkdirTemp("", "patchsync-integration-*")
		if err != nil {
			h.t.Logf("Warning: cannot keep workspace: %v", err)
			return
		}
		if err := os.CopyFS(kept, os.DirFS(h.workspace)); err != nil {
			h.t.Logf("Warning: cannot keep workspace: %v", err)
			return
		}
		h.t.Logf("Test failed and INTEGRATION_KEEP_WORKSPACE=1, workspace copied to %s", kept)
	}
}

// Path returns rel joined to the workspace.
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.workspace, filepath.FromSlash(rel))
}

// InitRepo creates a committed repository at rel below the workspace.
func (h *Harness) InitRepo(rel string, files map[string]string) string {
	h.t.Helper()
	dir := h.Path(rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.t.Fatalf("mkdir %s: %v", dir, err)
	}
	testutil.InitRepo(h.t, dir)
	testutil.CommitFiles(h.t, dir, files, "initial")
	return dir
}

// Exec runs the binary in the workspace.
func (h *Harness) Exec(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binary == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Dir = h.workspace
	cmd.Env = append(os.Environ(), "NO_COLOR=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustExec runs the binary and fails the test if it exits non-zero.
func (h *Harness) MustExec(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// WriteFile writes content to rel below the workspace.
func (h *Harness) WriteFile(rel, content string) {
	h.t.Helper()
	testutil.WriteFile(h.t, h.workspace, rel, content)
}

// ReadFile reads rel below the workspace.
func (h *Harness) ReadFile(rel string) string {
	h.t.Helper()
	return testutil.ReadFile(h.t, h.workspace, rel)
}

// FileExists reports whether rel below the workspace is a regular file.
func (h *Harness) FileExists(rel string) bool {
	info, err := os.Stat(h.Path(rel))
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes rel below the workspace.
func (h *Harness) Remove(rel string) {
	h.t.Helper()
	if err := os.Remove(h.Path(rel)); err != nil {
		h.t.Fatalf("remove %s: %v", rel, err)
	}
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// gitCheckout restores the committed content of the repository at rel.
func gitCheckout(h *Harness, rel string) {
	h.t.Helper()
	testutil.Git(h.t, h.Path(rel), "checkout", "--", ".")
}
