package ledger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/schaermu/patchsync/internal/checksum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVersion = 1

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type classifyFixture struct {
	repoDir  string
	artifact string
	ledger   string
}

// newClassifyFixture lays out a repo with third_party/foo/bar.cc, its
// artifact and a ledger matching the current content.
func newClassifyFixture(t *testing.T) classifyFixture {
	t.Helper()
	root := t.TempDir()
	repoDir := filepath.Join(root, "repo")
	patchDir := filepath.Join(root, "patches")
	require.NoError(t, os.MkdirAll(filepath.Join(repoDir, "third_party", "foo"), 0o755))
	require.NoError(t, os.MkdirAll(patchDir, 0o755))

	src := filepath.Join(repoDir, "third_party", "foo", "bar.cc")
	require.NoError(t, os.WriteFile(src, []byte("patched\n"), 0o644))

	f := classifyFixture{
		repoDir:  repoDir,
		artifact: filepath.Join(patchDir, "third_party-foo-bar.cc.patch"),
		ledger:   filepath.Join(patchDir, "third_party-foo-bar.cc.patchinfo"),
	}
	require.NoError(t, os.WriteFile(f.artifact, []byte("diff body\n"), 0o644))

	f.writeLedger(t, testVersion)
	return f
}

func (f classifyFixture) writeLedger(t *testing.T, version int) {
	t.Helper()
	patchSum, err := checksum.File(f.artifact)
	require.NoError(t, err)
	srcSum, err := checksum.File(filepath.Join(f.repoDir, "third_party", "foo", "bar.cc"))
	require.NoError(t, err)

	info := New(version, patchSum, []AffectedFile{NewAffectedFile("third_party/foo/bar.cc", srcSum)})
	require.NoError(t, info.Write(f.ledger))
}

func (f classifyFixture) classify() Status {
	return Classify(f.repoDir, f.artifact, f.ledger, testVersion, testLogger())
}

func TestClassify_Fresh(t *testing.T) {
	f := newClassifyFixture(t)
	assert.Equal(t, Fresh, f.classify())
}

func TestClassify_NoLedger(t *testing.T) {
	f := newClassifyFixture(t)
	require.NoError(t, os.Remove(f.ledger))
	assert.Equal(t, NoLedger, f.classify())

	// Even when everything else is broken, a missing ledger wins.
	require.NoError(t, os.Remove(f.artifact))
	assert.Equal(t, NoLedger, f.classify())
}

func TestClassify_LedgerUnreadable(t *testing.T) {
	f := newClassifyFixture(t)
	require.NoError(t, os.WriteFile(f.ledger, []byte("{garbage"), 0o644))
	assert.Equal(t, LedgerUnreadable, f.classify())
}

func TestClassify_SchemaVersionMismatch(t *testing.T) {
	f := newClassifyFixture(t)
	f.writeLedger(t, testVersion+1)
	assert.Equal(t, LedgerUnreadable, f.classify())
}

func TestClassify_ArtifactChanged(t *testing.T) {
	f := newClassifyFixture(t)
	require.NoError(t, os.WriteFile(f.artifact, []byte("new diff body\n"), 0o644))
	assert.Equal(t, ArtifactChanged, f.classify())
}

func TestClassify_ArtifactChangedBeforeSourceChanged(t *testing.T) {
	f := newClassifyFixture(t)
	require.NoError(t, os.WriteFile(f.artifact, []byte("new diff body\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.repoDir, "third_party", "foo", "bar.cc"), []byte("edited\n"), 0o644))
	assert.Equal(t, ArtifactChanged, f.classify())
}

func TestClassify_SourceChanged(t *testing.T) {
	f := newClassifyFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.repoDir, "third_party", "foo", "bar.cc"), []byte("edited\n"), 0o644))
	assert.Equal(t, SourceChanged, f.classify())
}

func TestClassify_SourceMissing(t *testing.T) {
	f := newClassifyFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.repoDir, "third_party", "foo", "bar.cc")))
	assert.Equal(t, SourceChanged, f.classify())
}

func TestClassify_NullPatchChecksum(t *testing.T) {
	f := newClassifyFixture(t)
	require.NoError(t, os.WriteFile(f.ledger, []byte(`{"schema_version": 1, "patch_checksum": null, "affected_files": []}`), 0o644))
	assert.Equal(t, ArtifactChanged, f.classify())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "fresh", Fresh.String())
	assert.Equal(t, "source-changed", SourceChanged.String())
	assert.Equal(t, "unknown", Status(99).String())
}
