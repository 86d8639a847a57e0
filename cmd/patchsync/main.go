package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/schaermu/patchsync/internal/config"
	"github.com/schaermu/patchsync/internal/generate"
	"github.com/schaermu/patchsync/internal/git"
	"github.com/schaermu/patchsync/internal/reconcile"
	"github.com/schaermu/patchsync/internal/report"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile     string
	logLevel    string
	logFormat   string
	printReport bool
	dryRun      bool

	// v layers PATCHSYNC_* environment variables under the flags.
	v = viper.New()
)

// errApplyFailed is returned when at least one patch could not be applied.
var errApplyFailed = errors.New("not all patches were successful")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patchsync",
	Short: "Keep a directory of patch files in sync with a git checkout",
	Long: `patchsync maintains one patch file per locally modified file of one or more
git repositories.

Generate captures uncommitted edits as patch files. Apply replays them onto a
checkout, remembering fingerprints so that unchanged patches are skipped and
patches removed from the patch directory are reverted.`,
	SilenceUsage:      true,
	PersistentPreRunE: resolveFlags,
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply new or changed patches and revert removed ones",
	Long: `Apply compares every patch file with its ledger and the files it touched last
time, resets and reapplies the stale ones, and reverts files whose patch was
deleted.

The command exits non-zero if any patch failed to apply. Warnings, such as a
reset of a file that no longer exists, do not change the exit status.`,
	RunE: runApply,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a patch file for every modified file",
	Long: `Generate writes one patch file per modified file of each configured repository
and deletes patch files that no longer correspond to a modification.`,
	RunE: runGenerate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "patchsync %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultFileName+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&printReport, "report", true, "print a report of applied changes")

	// Apply command flags
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	for _, name := range []string{"config", "log-level", "log-format", "report"} {
		_ = v.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	_ = v.BindPFlag("dry-run", applyCmd.Flags().Lookup("dry-run"))
	v.SetEnvPrefix("PATCHSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Add commands
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveFlags copies flag values, overridden by the environment where a
// flag was not set explicitly, into the globals.
func resolveFlags(cmd *cobra.Command, args []string) error {
	cfgFile = v.GetString("config")
	logLevel = v.GetString("log-level")
	logFormat = v.GetString("log-format")
	printReport = v.GetBool("report")
	dryRun = v.GetBool("dry-run")
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	gitClient := git.NewShellClient(cfg.Git.Timeout)
	opts := reconcile.Options{Workers: cfg.Apply.Workers, DryRun: dryRun}

	var results []reconcile.FileChangeResult
	for _, repo := range cfg.Repos() {
		logRepo(logger, "applying patches", repo)
		patcher := reconcile.New(repo.RepoDir, repo.PatchDir, cfg.Layout(), gitClient, logger, opts)
		repoResults, err := patcher.Run(ctx)
		if err != nil {
			logger.Error("apply failed", "repo", repo.Name, "error", err)
			return err
		}
		results = append(results, repoResults...)
	}

	if dryRun {
		logger.Info("dry-run complete, no changes applied")
		return nil
	}

	if printReport {
		if err := report.Print(cmd.OutOrStdout(), results); err != nil {
			return fmt.Errorf("failed to print report: %w", err)
		}
	}

	if report.HasFailures(results) {
		logger.Error("apply finished with failures")
		return errApplyFailed
	}

	logger.Info("patches applied successfully", "changes", len(results))
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	gitClient := git.NewShellClient(cfg.Git.Timeout)
	opts := generate.Options{Exclude: cfg.IgnoreFilter(), Keep: cfg.Generate.Keep}

	total := 0
	for _, repo := range cfg.Repos() {
		logRepo(logger, "generating patches", repo)
		written, err := generate.New(repo.RepoDir, repo.PatchDir, cfg.Layout(), gitClient, logger, opts).Run(ctx)
		if err != nil {
			logger.Error("generate failed", "repo", repo.Name, "error", err)
			return err
		}
		total += len(written)
	}

	logger.Info("patches generated successfully", "artifacts", total)
	return nil
}

// logRepo logs the repository a command is about to work on, including its
// branch and HEAD when they can be determined.
func logRepo(logger *slog.Logger, msg string, repo config.RepoMapping) {
	attrs := []any{"repo", repo.Name, "repo_dir", repo.RepoDir, "patch_dir", repo.PatchDir}
	if info, err := git.Describe(repo.RepoDir); err == nil {
		attrs = append(attrs, "branch", info.Branch, "head", info.Head)
	} else {
		logger.Debug("cannot describe repository", "repo", repo.Name, "error", err)
	}
	logger.Info(msg, attrs...)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultFileName
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"source_dir", cfg.SourceDir,
		"patches_dir", cfg.PatchesDir,
		"repo_dirs", cfg.RepoDirs,
		"schema_version", cfg.Ledger.Version)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
