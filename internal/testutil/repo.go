package testutil

import (
	"os/exec"
	"testing"
)

// RequireGit skips the test when the git executable is not available.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

// InitRepo creates a repository in dir with a committer identity configured.
func InitRepo(t testing.TB, dir string) {
	t.Helper()
	RequireGit(t)
	Git(t, "", "init", "-b", "main", dir)
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "user.name", "Test")
	Git(t, dir, "config", "core.autocrlf", "false")
}

// CommitFiles writes each rel -> content pair and commits them together.
func CommitFiles(t testing.TB, repoDir string, files map[string]string, msg string) {
	t.Helper()
	for rel, content := range files {
		WriteFile(t, repoDir, rel, content)
		Git(t, repoDir, "add", "--", rel)
	}
	Git(t, repoDir, "commit", "-m", msg)
}

// Git runs git with args in dir and returns its combined output.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	out, err := exec.Command("git", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, out)
	}
	return string(out)
}
