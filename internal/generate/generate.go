// Package generate turns uncommitted edits of a repository into one patch
// artifact per modified file.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/schaermu/patchsync/internal/artifact"
	"github.com/schaermu/patchsync/internal/git"
)

// ErrNameCollision is returned when two modified paths encode to the same
// artifact name.
var ErrNameCollision = errors.New("artifact name collision")

// ErrEmptyDiff is returned when git reports a file as modified but produces
// no diff for it.
var ErrEmptyDiff = errors.New("empty diff")

// Options tunes a Generator.
type Options struct {
	// Exclude reports whether a repository-relative path gets no artifact.
	Exclude func(relPath string) bool
	// Keep lists artifact file names that are never pruned.
	Keep []string
}

// Generator writes artifacts for one repository into one patch directory.
type Generator struct {
	repoDir  string
	patchDir string
	layout   artifact.Layout
	git      git.Client
	logger   *slog.Logger
	exclude  func(string) bool
	keep     map[string]bool
	remove   func(string) error
}

// New creates a Generator for repoDir and patchDir.
func New(repoDir, patchDir string, layout artifact.Layout, client git.Client, logger *slog.Logger, opts Options) *Generator {
	keep := make(map[string]bool, len(opts.Keep))
	for _, name := range opts.Keep {
		keep[name] = true
	}
	return &Generator{
		repoDir:  repoDir,
		patchDir: patchDir,
		layout:   layout,
		git:      client,
		logger:   logger.With("repo", repoDir),
		exclude:  opts.Exclude,
		keep:     keep,
		remove:   os.Remove,
	}
}

// Run writes an artifact for every modified file and prunes artifacts that
// no longer match one. It returns the written artifact paths. Any failure
// aborts the batch.
func (g *Generator) Run(ctx context.Context) ([]string, error) {
	modified, err := g.git.ModifiedPaths(ctx, g.repoDir)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(modified))
	var rels []string
	for _, rel := range modified {
		if g.exclude != nil && g.exclude(rel) {
			g.logger.Debug("excluded from generation", "file", rel)
			continue
		}
		name := g.layout.ArtifactName(rel)
		if other, ok := names[name]; ok {
			return nil, fmt.Errorf("%w: %s and %s both map to %s", ErrNameCollision, other, rel, name)
		}
		names[name] = rel
		rels = append(rels, rel)
	}

	g.logger.Info("generating artifacts", "modified", len(modified), "selected", len(rels), "patch_dir", g.patchDir)

	if err := os.MkdirAll(g.patchDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create patch directory: %w", err)
	}

	written := make([]string, 0, len(rels))
	for _, rel := range rels {
		path, err := g.writeArtifact(ctx, rel)
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if err := g.prune(names); err != nil {
		return written, err
	}
	return written, nil
}

func (g *Generator) writeArtifact(ctx context.Context, rel string) (string, error) {
	body, err := g.git.DiffFile(ctx, g.repoDir, rel)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("%w for %s", ErrEmptyDiff, rel)
	}

	path := filepath.Join(g.patchDir, g.layout.ArtifactName(rel))
	if summary, err := artifact.Inspect(body); err != nil {
		g.logger.Warn("diff could not be inspected, writing it verbatim", "file", rel, "error", err)
	} else {
		g.logger.Info("writing artifact", "file", rel, "artifact", path, "changes", summary.String())
	}

	if err := atomic.WriteFile(path, strings.NewReader(body)); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return path, nil
}

// prune deletes artifacts that were neither just written nor kept.
func (g *Generator) prune(written map[string]string) error {
	existing, err := artifact.Discover(g.patchDir, g.layout.PatchExt)
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}

	for _, path := range existing {
		name := filepath.Base(path)
		if _, ok := written[name]; ok || g.keep[name] {
			continue
		}
		g.logger.Info("removing stale artifact", "artifact", path)
		if err := g.remove(path); err != nil {
			return fmt.Errorf("failed to remove stale artifact %s: %w", path, err)
		}
	}
	return nil
}
