package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/patchsync/internal/artifact"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = ".patchsync.yaml"

// Config represents the complete patchsync configuration
type Config struct {
	SourceDir  string         `yaml:"source_dir"`
	PatchesDir string         `yaml:"patches_dir"`
	RepoDirs   []string       `yaml:"repo_dirs"`
	Ledger     LedgerConfig   `yaml:"ledger"`
	Patch      PatchConfig    `yaml:"patch"`
	Generate   GenerateConfig `yaml:"generate"`
	Git        GitConfig      `yaml:"git"`
	Apply      ApplyConfig    `yaml:"apply"`
}

// LedgerConfig configures ledger files
type LedgerConfig struct {
	Version int    `yaml:"version"`
	Ext     string `yaml:"ext"`
}

// PatchConfig configures patch artifact files
type PatchConfig struct {
	Ext       string `yaml:"ext"`
	Separator string `yaml:"separator"`
}

// GenerateConfig configures patch generation
type GenerateConfig struct {
	// Ignore holds doublestar globs of repository-relative paths that never
	// get an artifact.
	Ignore []string `yaml:"ignore"`
	// Keep holds artifact file names that are never pruned.
	Keep []string `yaml:"keep"`
}

// GitConfig configures git invocations
type GitConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ApplyConfig configures the apply command
type ApplyConfig struct {
	// Workers bounds concurrent classification; zero means one per CPU.
	Workers int `yaml:"workers"`
}

// RepoMapping pairs a repository checkout with the directory holding its patches.
type RepoMapping struct {
	Name     string
	RepoDir  string
	PatchDir string
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.SourceDir = os.ExpandEnv(c.SourceDir)
	c.PatchesDir = os.ExpandEnv(c.PatchesDir)
	for i, dir := range c.RepoDirs {
		c.RepoDirs[i] = os.ExpandEnv(dir)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	def := artifact.DefaultLayout()

	if c.Ledger.Version == 0 {
		c.Ledger.Version = def.SchemaVersion
	}
	c.Ledger.Ext = strings.TrimPrefix(c.Ledger.Ext, ".")
	if c.Ledger.Ext == "" {
		c.Ledger.Ext = def.LedgerExt
	}
	c.Patch.Ext = strings.TrimPrefix(c.Patch.Ext, ".")
	if c.Patch.Ext == "" {
		c.Patch.Ext = def.PatchExt
	}
	if c.Patch.Separator == "" {
		c.Patch.Separator = def.Separator
	}
	if len(c.RepoDirs) == 0 {
		c.RepoDirs = []string{"."}
	}
}

// resolvePaths makes relative source and patch directories relative to base.
func (c *Config) resolvePaths(base string) {
	if c.SourceDir != "" && !filepath.IsAbs(c.SourceDir) {
		c.SourceDir = filepath.Join(base, c.SourceDir)
	}
	if c.PatchesDir != "" && !filepath.IsAbs(c.PatchesDir) {
		c.PatchesDir = filepath.Join(base, c.PatchesDir)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.SourceDir == "" {
		return fmt.Errorf("source_dir is required")
	}
	if c.PatchesDir == "" {
		return fmt.Errorf("patches_dir is required")
	}

	for _, dir := range c.RepoDirs {
		if filepath.IsAbs(dir) || strings.HasPrefix(dir, "/") {
			return fmt.Errorf("repo_dirs entry must be relative: %s", dir)
		}
		if cleaned := path.Clean(filepath.ToSlash(dir)); cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return fmt.Errorf("repo_dirs entry escapes source_dir: %s", dir)
		}
	}

	if c.Ledger.Version < 1 {
		return fmt.Errorf("ledger.version must be at least 1, got %d", c.Ledger.Version)
	}
	if c.Ledger.Ext == c.Patch.Ext {
		return fmt.Errorf("ledger.ext and patch.ext must differ (both %q)", c.Patch.Ext)
	}
	for _, ext := range []string{c.Ledger.Ext, c.Patch.Ext} {
		if strings.ContainsAny(ext, `./\`) {
			return fmt.Errorf("file extension must be a single suffix without dots or path separators: %q", ext)
		}
	}

	if c.Patch.Separator == "" {
		return fmt.Errorf("patch.separator is required")
	}
	if strings.ContainsAny(c.Patch.Separator, `/\`) {
		return fmt.Errorf("patch.separator must not contain a path separator: %q", c.Patch.Separator)
	}

	for _, pattern := range c.Generate.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid generate.ignore pattern: %s", pattern)
		}
	}

	if c.Git.Timeout < 0 {
		return fmt.Errorf("git.timeout must not be negative")
	}
	if c.Apply.Workers < 0 {
		return fmt.Errorf("apply.workers must not be negative")
	}

	return nil
}

// Layout returns the immutable naming and schema settings shared by every
// component.
func (c *Config) Layout() artifact.Layout {
	return artifact.Layout{
		SchemaVersion: c.Ledger.Version,
		PatchExt:      c.Patch.Ext,
		LedgerExt:     c.Ledger.Ext,
		Separator:     c.Patch.Separator,
	}
}

// Repos maps each configured repository directory to its checkout and patch
// directory.
func (c *Config) Repos() []RepoMapping {
	mappings := make([]RepoMapping, 0, len(c.RepoDirs))
	for _, dir := range c.RepoDirs {
		rel := filepath.FromSlash(path.Clean(filepath.ToSlash(dir)))
		mappings = append(mappings, RepoMapping{
			Name:     filepath.ToSlash(rel),
			RepoDir:  filepath.Join(c.SourceDir, rel),
			PatchDir: filepath.Join(c.PatchesDir, rel),
		})
	}
	return mappings
}

// IgnoreFilter returns a predicate reporting whether a repository-relative
// path is excluded from generation, or nil when nothing is ignored.
func (c *Config) IgnoreFilter() func(string) bool {
	if len(c.Generate.Ignore) == 0 {
		return nil
	}
	patterns := append([]string(nil), c.Generate.Ignore...)
	return func(relPath string) bool {
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, filepath.ToSlash(relPath)); ok {
				return true
			}
		}
		return false
	}
}
