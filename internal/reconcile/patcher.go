// Package reconcile brings a repository checkout in line with a directory of
// patch artifacts and their ledgers.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/patchsync/internal/artifact"
	"github.com/schaermu/patchsync/internal/checksum"
	"github.com/schaermu/patchsync/internal/git"
	"github.com/schaermu/patchsync/internal/ledger"
)

// Options tunes a Patcher.
type Options struct {
	// Workers bounds concurrent classification; zero means one per CPU.
	Workers int
	// DryRun classifies and logs the plan without touching any file.
	DryRun bool
}

// Patcher applies the artifacts of one patch directory to one repository.
type Patcher struct {
	repoDir  string
	patchDir string
	layout   artifact.Layout
	git      git.Client
	logger   *slog.Logger
	workers  int
	dryRun   bool
}

// New creates a Patcher for repoDir and patchDir.
func New(repoDir, patchDir string, layout artifact.Layout, client git.Client, logger *slog.Logger, opts Options) *Patcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if abs, err := filepath.Abs(patchDir); err == nil {
		patchDir = abs
	}
	return &Patcher{
		repoDir:  repoDir,
		patchDir: patchDir,
		layout:   layout,
		git:      client,
		logger:   logger.With("repo", repoDir),
		workers:  workers,
		dryRun:   opts.DryRun,
	}
}

// Run reapplies every stale artifact and purges ledgers whose artifact is
// gone. Per-unit failures are reported in the results; the returned error is
// reserved for problems that prevent the run as a whole.
func (p *Patcher) Run(ctx context.Context) ([]FileChangeResult, error) {
	if !artifact.IsDir(p.patchDir) {
		p.logger.Debug("patch directory does not exist, nothing to do", "patch_dir", p.patchDir)
		return nil, nil
	}
	if !artifact.IsDir(p.repoDir) {
		return nil, fmt.Errorf("%w: %s", ErrRepositoryMissing, p.repoDir)
	}

	pending, err := p.discoverPending(ctx)
	if err != nil {
		return nil, err
	}
	obsolete, err := p.discoverObsolete()
	if err != nil {
		return nil, err
	}

	p.logger.Info("reconcile plan",
		"patch_dir", p.patchDir,
		"apply", len(pending),
		"obsolete", len(obsolete),
		"dry_run", p.dryRun)

	if p.dryRun {
		p.logPlanDetails(pending, obsolete)
		return nil, nil
	}

	var results []FileChangeResult
	if len(pending) > 0 {
		results = append(results, p.applyPending(ctx, pending)...)
	}
	if len(obsolete) > 0 {
		results = append(results, p.handleObsolete(ctx, obsolete)...)
	}
	return results, nil
}

// discoverPending classifies every artifact and returns the stale ones in
// discovery order.
func (p *Patcher) discoverPending(ctx context.Context) ([]*unit, error) {
	artifacts, err := artifact.Discover(p.patchDir, p.layout.PatchExt)
	if err != nil {
		return nil, fmt.Errorf("failed to discover artifacts: %w", err)
	}

	statuses := make([]ledger.Status, len(artifacts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, path := range artifacts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			statuses[i] = ledger.Classify(p.repoDir, path, p.layout.LedgerPathFor(path), p.layout.SchemaVersion, p.logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to classify artifacts: %w", err)
	}

	var pending []*unit
	for i, path := range artifacts {
		reason, stale := ReasonFor(statuses[i])
		if !stale {
			p.logger.Debug("artifact is fresh, skipping", "artifact", path)
			continue
		}
		p.logger.Info("artifact needs apply", "artifact", path, "reason", reason.String())
		pending = append(pending, &unit{
			artifactPath: path,
			ledgerPath:   p.layout.LedgerPathFor(path),
			reason:       reason,
		})
	}
	return pending, nil
}

// discoverObsolete returns the ledgers whose paired artifact no longer exists.
func (p *Patcher) discoverObsolete() ([]string, error) {
	ledgers, err := artifact.Discover(p.patchDir, p.layout.LedgerExt)
	if err != nil {
		return nil, fmt.Errorf("failed to discover ledgers: %w", err)
	}

	var obsolete []string
	for _, path := range ledgers {
		if artifact.IsFile(p.layout.ArtifactPathFor(path)) {
			continue
		}
		p.logger.Info("ledger is obsolete", "ledger", path, "reason", ArtifactRemoved.String())
		obsolete = append(obsolete, path)
	}
	return obsolete, nil
}

// applyPending resets, applies and records every pending unit. Units fail
// independently; only their results carry the error.
func (p *Patcher) applyPending(ctx context.Context, units []*unit) []FileChangeResult {
	for _, u := range units {
		files, err := p.affectedFiles(ctx, u.artifactPath)
		if err != nil {
			u.err = err
			p.logger.Error("cannot read artifact", "artifact", u.artifactPath, "error", err)
			continue
		}
		u.files = files
	}

	var toReset []string
	for _, u := range units {
		if u.err == nil {
			toReset = append(toReset, relPaths(u.files)...)
		}
	}
	toReset = dedupe(toReset)
	if len(toReset) > 0 {
		p.logger.Info("resetting affected files", "count", len(toReset))
		if err := p.git.Reset(ctx, p.repoDir, toReset); err != nil {
			p.logger.Warn("reset before apply failed", "files", toReset, "error", err)
			for _, u := range units {
				if u.err == nil && len(u.files) > 0 {
					u.warning = resetWarning
				}
			}
		}
	}

	// Patches may overlap, so they are applied one at a time in discovery order.
	for _, u := range units {
		if u.err != nil {
			continue
		}
		p.logger.Info("applying artifact", "artifact", u.artifactPath)
		if err := p.git.Apply(ctx, p.repoDir, u.artifactPath); err != nil {
			u.err = err
			p.logger.Error("apply failed", "artifact", u.artifactPath, "error", err)
		}
	}

	for _, u := range units {
		if u.err != nil {
			continue
		}
		if err := p.writeLedger(u); err != nil {
			u.err = err
			p.logger.Error("cannot record applied artifact", "artifact", u.artifactPath, "error", err)
		}
	}

	var results []FileChangeResult
	for _, u := range units {
		if len(u.files) == 0 {
			results = append(results, FileChangeResult{
				ArtifactPath: u.artifactPath,
				Reason:       u.reason,
				Err:          u.err,
				Warning:      u.warning,
			})
			continue
		}
		for _, f := range u.files {
			results = append(results, FileChangeResult{
				FilePath:     p.repoPath(f.RelativePath),
				ArtifactPath: u.artifactPath,
				Reason:       u.reason,
				Err:          u.err,
				Warning:      u.warning,
			})
		}
	}
	return results
}

// affectedFiles lists the files an artifact touches with their current
// fingerprints.
func (p *Patcher) affectedFiles(ctx context.Context, artifactPath string) ([]ledger.AffectedFile, error) {
	rels, err := p.git.AffectedFiles(ctx, p.repoDir, artifactPath)
	if err != nil {
		return nil, fmt.Errorf("could not read data from artifact: %w", err)
	}

	files := make([]ledger.AffectedFile, 0, len(rels))
	for _, rel := range rels {
		sum, err := checksum.File(p.repoPath(rel))
		if err != nil {
			return nil, fmt.Errorf("could not read data from artifact: %w", err)
		}
		files = append(files, ledger.NewAffectedFile(rel, sum))
	}
	return files, nil
}

// writeLedger fingerprints the artifact and its freshly patched files and
// stores them. Nothing is written unless every fingerprint succeeds.
func (p *Patcher) writeLedger(u *unit) error {
	patchSum, err := checksum.File(u.artifactPath)
	if err != nil {
		return fmt.Errorf("%w: artifact: %w", ErrChecksumFailure, err)
	}

	files := make([]ledger.AffectedFile, 0, len(u.files))
	for _, f := range u.files {
		sum, err := checksum.File(p.repoPath(f.RelativePath))
		if err != nil {
			return fmt.Errorf("%w: affected file %s: %w", ErrChecksumFailure, f.RelativePath, err)
		}
		files = append(files, ledger.NewAffectedFile(f.RelativePath, sum))
	}
	u.files = files

	p.logger.Debug("writing ledger", "ledger", u.ledgerPath)
	return ledger.New(p.layout.SchemaVersion, patchSum, files).Write(u.ledgerPath)
}

// handleObsolete deletes ledgers whose artifact disappeared and resets the
// files they recorded.
func (p *Patcher) handleObsolete(ctx context.Context, ledgerPaths []string) []FileChangeResult {
	var toReset []string
	var results []FileChangeResult

	for _, path := range ledgerPaths {
		info, err := ledger.Parse(path)
		if err != nil {
			p.logger.Warn("cannot read obsolete ledger, leaving it in place", "ledger", path, "error", err)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("cannot remove obsolete ledger", "ledger", path, "error", err)
			continue
		}
		p.logger.Info("removed obsolete ledger", "ledger", path)

		artifactPath := p.layout.ArtifactPathFor(path)
		for _, rel := range info.RelativePaths() {
			toReset = append(toReset, rel)
			results = append(results, FileChangeResult{
				FilePath:     p.repoPath(rel),
				ArtifactPath: artifactPath,
				Reason:       ArtifactRemoved,
			})
		}
	}

	toReset = dedupe(toReset)
	if len(toReset) == 0 {
		return results
	}
	p.logger.Info("resetting files of removed artifacts", "count", len(toReset))
	if err := p.git.Reset(ctx, p.repoDir, toReset); err != nil {
		// Some of the recorded files may no longer exist.
		p.logger.Warn("reset of removed artifacts failed", "files", toReset, "error", err)
		for i := range results {
			results[i].Warning = resetWarning
		}
	}
	return results
}

// logPlanDetails logs what a real run would do.
func (p *Patcher) logPlanDetails(pending []*unit, obsolete []string) {
	for _, u := range pending {
		attrs := []any{"artifact", u.artifactPath, "reason", u.reason.String()}
		if body, err := os.ReadFile(u.artifactPath); err == nil {
			if summary, err := artifact.Inspect(string(body)); err == nil {
				attrs = append(attrs, "changes", summary.String())
			} else {
				attrs = append(attrs, "inspect_error", err)
			}
		}
		p.logger.Info("[dry-run] would apply", attrs...)
	}
	for _, path := range obsolete {
		p.logger.Info("[dry-run] would purge", "ledger", path, "reason", ArtifactRemoved.String())
	}
}

func (p *Patcher) repoPath(rel string) string {
	return filepath.Join(p.repoDir, filepath.FromSlash(rel))
}

func relPaths(files []ledger.AffectedFile) []string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.RelativePath)
	}
	return paths
}

// dedupe drops repeated paths, keeping first occurrences in order.
func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
