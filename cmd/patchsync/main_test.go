package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/patchsync/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// saveGlobals restores the flag globals when the test ends.
func saveGlobals(t *testing.T) {
	t.Helper()
	origCfgFile, origLevel, origFormat := cfgFile, logLevel, logFormat
	origReport, origDryRun := printReport, dryRun
	t.Cleanup(func() {
		cfgFile, logLevel, logFormat = origCfgFile, origLevel, origFormat
		printReport, dryRun = origReport, origDryRun
	})
}

func TestSetupLogger(t *testing.T) {
	saveGlobals(t)

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestResolveFlags_Environment(t *testing.T) {
	saveGlobals(t)
	t.Setenv("PATCHSYNC_LOG_LEVEL", "debug")
	t.Setenv("PATCHSYNC_CONFIG", "/etc/patchsync.yaml")
	t.Setenv("PATCHSYNC_REPORT", "false")

	if err := resolveFlags(rootCmd, nil); err != nil {
		t.Fatalf("resolveFlags returned error: %v", err)
	}
	if logLevel != "debug" {
		t.Errorf("expected log level from environment, got %q", logLevel)
	}
	if cfgFile != "/etc/patchsync.yaml" {
		t.Errorf("expected config path from environment, got %q", cfgFile)
	}
	if printReport {
		t.Error("expected report to be disabled from environment")
	}
	if logFormat != "text" {
		t.Errorf("expected default log format, got %q", logFormat)
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	saveGlobals(t)

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "patchsync.yaml")
	if err := os.WriteFile(cfgPath, []byte("source_dir: src\npatches_dir: patches\n"), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath
	cfg, err := loadConfig(quietLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.SourceDir != filepath.Join(tmpDir, "src") {
		t.Errorf("unexpected source_dir %s", cfg.SourceDir)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	saveGlobals(t)

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")
	if _, err := loadConfig(quietLogger()); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	saveGlobals(t)
	cfgFile = ""

	// Expect error because there is no config file in the package directory.
	if _, err := loadConfig(quietLogger()); err == nil {
		t.Error("expected error when default config file doesn't exist")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, []string{})
	if !strings.HasPrefix(buf.String(), "patchsync ") {
		t.Errorf("unexpected version output: %q", buf.String())
	}
}

// setupWorkspace creates a committed repository below src/ with a config
// file next to it and points the globals at that config.
func setupWorkspace(t *testing.T) (root, repoDir string) {
	t.Helper()
	saveGlobals(t)

	root = t.TempDir()
	repoDir = filepath.Join(root, "src")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.InitRepo(t, repoDir)
	testutil.CommitFiles(t, repoDir, map[string]string{
		"lib/a.cc": "int a() { return 0; }\n",
		"b.orig":   "orig\n",
	}, "initial")

	cfgPath := testutil.WriteFile(t, root, "patchsync.yaml",
		"source_dir: src\npatches_dir: patches\ngenerate:\n  ignore: [\"*.orig\"]\n")

	cfgFile = cfgPath
	logLevel = "error"
	logFormat = "text"
	printReport = true
	dryRun = false
	return root, repoDir
}

func TestGenerateAndApplyCommands(t *testing.T) {
	root, repoDir := setupWorkspace(t)

	testutil.WriteFile(t, repoDir, "lib/a.cc", "int a() { return 1; }\n")
	testutil.WriteFile(t, repoDir, "b.orig", "changed\n")

	if err := runGenerate(generateCmd, nil); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "patches", "lib-a.cc.patch")); err != nil {
		t.Fatalf("expected artifact to be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "patches", "b.orig.patch")); !os.IsNotExist(err) {
		t.Errorf("ignored file must not get an artifact, stat err = %v", err)
	}

	testutil.Git(t, repoDir, "checkout", "--", ".")

	var buf bytes.Buffer
	applyCmd.SetOut(&buf)
	t.Cleanup(func() { applyCmd.SetOut(nil) })

	if err := runApply(applyCmd, nil); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if got := testutil.ReadFile(t, repoDir, "lib/a.cc"); got != "int a() { return 1; }\n" {
		t.Errorf("patch not applied, got %q", got)
	}
	if !strings.Contains(buf.String(), "1 successful:") {
		t.Errorf("unexpected report:\n%s", buf.String())
	}

	buf.Reset()
	if err := runApply(applyCmd, nil); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if !strings.Contains(buf.String(), "There are no updates to apply.") {
		t.Errorf("expected no-op report, got:\n%s", buf.String())
	}
}

func TestApplyCommand_Failure(t *testing.T) {
	root, repoDir := setupWorkspace(t)

	testutil.WriteFile(t, root, "patches/lib-a.cc.patch", "diff --git a/lib/a.cc b/lib/a.cc\n"+
		"--- a/lib/a.cc\n"+
		"+++ b/lib/a.cc\n"+
		"@@ -1 +1 @@\n"+
		"-this line is not in the file\n"+
		"+replacement\n")

	printReport = false
	err := runApply(applyCmd, nil)
	if !errors.Is(err, errApplyFailed) {
		t.Fatalf("expected errApplyFailed, got %v", err)
	}
	if got := testutil.ReadFile(t, repoDir, "lib/a.cc"); got != "int a() { return 0; }\n" {
		t.Errorf("file must stay untouched, got %q", got)
	}
}

func TestApplyCommand_DryRun(t *testing.T) {
	root, repoDir := setupWorkspace(t)

	testutil.WriteFile(t, repoDir, "lib/a.cc", "int a() { return 1; }\n")
	if err := runGenerate(generateCmd, nil); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	testutil.Git(t, repoDir, "checkout", "--", ".")

	dryRun = true
	if err := runApply(applyCmd, nil); err != nil {
		t.Fatalf("dry-run apply failed: %v", err)
	}
	if got := testutil.ReadFile(t, repoDir, "lib/a.cc"); got != "int a() { return 0; }\n" {
		t.Errorf("dry-run must not modify files, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "patches", "lib-a.cc.patchinfo")); !os.IsNotExist(err) {
		t.Errorf("dry-run must not write ledgers, stat err = %v", err)
	}
}
