package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Client provides the git operations needed to generate and apply patches.
type Client interface {
	// ModifiedPaths lists repository-relative paths whose content is modified
	// in the working tree (not added, not deleted).
	ModifiedPaths(ctx context.Context, repoDir string) ([]string, error)
	// DiffFile returns a self-contained diff for one modified file.
	DiffFile(ctx context.Context, repoDir, relPath string) (string, error)
	// AffectedFiles lists the repository-relative paths a patch would touch.
	AffectedFiles(ctx context.Context, repoDir, patchPath string) ([]string, error)
	// Apply applies a patch to the working tree.
	Apply(ctx context.Context, repoDir, patchPath string) error
	// Reset restores the given paths to their committed content.
	Reset(ctx context.Context, repoDir string, relPaths []string) error
}

// DefaultTimeout bounds a single git invocation when none is configured.
const DefaultTimeout = 2 * time.Minute

// applyArgs makes apply tolerant to whitespace-only differences.
var applyArgs = []string{"--ignore-space-change", "--ignore-whitespace"}

// numstatPrefix matches the "<added> <deleted> " columns of --numstat output.
var numstatPrefix = regexp.MustCompile(`^((\d|-)+\s+){2}`)

// CommandError is returned when git exits with a non-zero status.
type CommandError struct {
	Dir    string
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git command failed in %s: args: %s: %v: stdout: %s: stderr: %s",
		e.Dir, strings.Join(e.Args, " "), e.Err,
		strings.TrimSpace(e.Stdout), strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ShellClient implements Client by shelling out to the git command.
type ShellClient struct {
	timeout time.Duration
}

// NewShellClient creates a new git client that uses the git command. Each
// invocation is bounded by timeout; zero selects DefaultTimeout.
func NewShellClient(timeout time.Duration) *ShellClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ShellClient{timeout: timeout}
}

// ModifiedPaths lists files with modified content, ignoring submodules and
// end-of-line whitespace changes. Paths are NUL-separated by git so they
// come back unquoted.
func (c *ShellClient) ModifiedPaths(ctx context.Context, repoDir string) ([]string, error) {
	out, err := c.run(ctx, repoDir,
		"diff", "--ignore-submodules", "--diff-filter=M", "--name-only", "-z", "--ignore-space-at-eol")
	if err != nil {
		return nil, fmt.Errorf("failed to get modified paths: %w", err)
	}

	var paths []string
	for _, p := range strings.Split(out, "\x00") {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// DiffFile diffs a single file with fixed prefixes and full blob hashes so
// the output does not depend on the user's git configuration.
func (c *ShellClient) DiffFile(ctx context.Context, repoDir, relPath string) (string, error) {
	out, err := c.run(ctx, repoDir, "--literal-pathspecs",
		"diff", "--src-prefix=a/", "--dst-prefix=b/", "--full-index", "--", relPath)
	if err != nil {
		return "", fmt.Errorf("failed to diff %s: %w", relPath, err)
	}
	return out, nil
}

// AffectedFiles asks git which files the patch would touch without applying it.
func (c *ShellClient) AffectedFiles(ctx context.Context, repoDir, patchPath string) ([]string, error) {
	args := append([]string{"apply", patchPath, "--numstat", "-z"}, applyArgs...)
	out, err := c.run(ctx, repoDir, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read affected files of %s: %w", patchPath, err)
	}
	return ParseNumstat(out), nil
}

// Apply applies the patch to the working tree.
func (c *ShellClient) Apply(ctx context.Context, repoDir, patchPath string) error {
	args := append([]string{"apply", patchPath}, applyArgs...)
	if _, err := c.run(ctx, repoDir, args...); err != nil {
		return fmt.Errorf("failed to apply %s: %w", patchPath, err)
	}
	return nil
}

// Reset checks out the committed version of the given paths.
func (c *ShellClient) Reset(ctx context.Context, repoDir string, relPaths []string) error {
	if len(relPaths) == 0 {
		return nil
	}
	args := append([]string{"--literal-pathspecs", "checkout", "--"}, relPaths...)
	if _, err := c.run(ctx, repoDir, args...); err != nil {
		return fmt.Errorf("failed to reset repo files: %w", err)
	}
	return nil
}

// ParseNumstat extracts paths from `git apply --numstat -z` output. Records
// may be separated by NUL or newline and carry leading whitespace.
func ParseNumstat(out string) []string {
	records := strings.FieldsFunc(out, func(r rune) bool {
		return r == 0 || r == '\n' || r == '\r'
	})

	var paths []string
	for _, record := range records {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		if p := numstatPrefix.ReplaceAllString(record, ""); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// run executes git in repoDir and returns stdout. A non-zero exit is
// reported as *CommandError.
func (c *ShellClient) run(ctx context.Context, repoDir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &CommandError{
			Dir:    repoDir,
			Args:   args,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.String(), nil
}
