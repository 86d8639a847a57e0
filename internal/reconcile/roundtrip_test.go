package reconcile_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/patchsync/internal/artifact"
	"github.com/schaermu/patchsync/internal/generate"
	"github.com/schaermu/patchsync/internal/git"
	"github.com/schaermu/patchsync/internal/reconcile"
	"github.com/schaermu/patchsync/internal/testutil"
)

func TestGenerateThenApply(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	layout := artifact.DefaultLayout()
	client := git.NewShellClient(0)

	root := t.TempDir()
	repoDir := filepath.Join(root, "src")
	patchDir := filepath.Join(root, "patches")
	require.NoError(t, os.MkdirAll(repoDir, 0o755))
	testutil.InitRepo(t, repoDir)

	committed := map[string]string{
		"base/main.cc":     "int main() {\n  return 0;\n}\n",
		"base/util/util.h": "#pragma once\nint util();\n",
		"README":           "readme\n",
	}
	testutil.CommitFiles(t, repoDir, committed, "initial")

	edited := map[string]string{
		"base/main.cc":     "int main() {\n  return util();\n}\n",
		"base/util/util.h": "#pragma once\nint util();\nint more();\n",
	}
	for rel, content := range edited {
		testutil.WriteFile(t, repoDir, rel, content)
	}

	written, err := generate.New(repoDir, patchDir, layout, client, logger, generate.Options{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(patchDir, "base-main.cc.patch"),
		filepath.Join(patchDir, "base-util-util.h.patch"),
	}, written)

	// Start over from a pristine checkout.
	testutil.Git(t, repoDir, "checkout", "--", ".")
	for rel, content := range committed {
		require.Equal(t, content, testutil.ReadFile(t, repoDir, rel))
	}

	patcher := reconcile.New(repoDir, patchDir, layout, client, logger, reconcile.Options{})
	results, err := patcher.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Failed(), "unexpected error: %v", r.Err)
		assert.Equal(t, reconcile.NoLedger, r.Reason)
	}
	for rel, content := range edited {
		assert.Equal(t, content, testutil.ReadFile(t, repoDir, rel))
	}

	results, err = patcher.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, results, "second run must be a no-op")

	// Editing a patched file makes its artifact stale; reapplying restores it.
	testutil.WriteFile(t, repoDir, "base/main.cc", "int main() { return 2; }\n")
	results, err = patcher.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, reconcile.SourceChanged, results[0].Reason)
	assert.False(t, results[0].Failed(), "unexpected error: %v", results[0].Err)
	assert.Equal(t, edited["base/main.cc"], testutil.ReadFile(t, repoDir, "base/main.cc"))

	// Dropping an artifact resets its file and purges its ledger.
	require.NoError(t, os.Remove(filepath.Join(patchDir, "base-util-util.h.patch")))
	results, err = patcher.Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, reconcile.ArtifactRemoved, results[0].Reason)
	assert.Empty(t, results[0].Warning)
	assert.Equal(t, filepath.Join(repoDir, "base", "util", "util.h"), results[0].FilePath)
	assert.Equal(t, committed["base/util/util.h"], testutil.ReadFile(t, repoDir, "base/util/util.h"))
	assert.NoFileExists(t, filepath.Join(patchDir, "base-util-util.h.patchinfo"))
}
