package ledger

import (
	"log/slog"
	"path/filepath"

	"github.com/schaermu/patchsync/internal/artifact"
	"github.com/schaermu/patchsync/internal/checksum"
)

// Status tells whether an artifact has to be (re)applied and why.
type Status int

// Statuses in evaluation priority order; the first match wins.
const (
	Fresh Status = iota
	NoLedger
	LedgerUnreadable
	ArtifactChanged
	SourceChanged
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case NoLedger:
		return "no-ledger"
	case LedgerUnreadable:
		return "ledger-unreadable"
	case ArtifactChanged:
		return "artifact-changed"
	case SourceChanged:
		return "source-changed"
	default:
		return "unknown"
	}
}

// Classify compares an artifact and the repository files it touched against
// the paired ledger entry. It only reads from disk.
func Classify(repoDir, artifactPath, ledgerPath string, version int, logger *slog.Logger) Status {
	if !artifact.IsFile(ledgerPath) {
		return NoLedger
	}

	info, err := Parse(ledgerPath)
	if err != nil {
		logger.Warn("ledger unreadable", "ledger", ledgerPath, "error", err)
		return LedgerUnreadable
	}
	if info.SchemaVersion != version {
		logger.Debug("ledger schema version mismatch",
			"ledger", ledgerPath,
			"found", info.SchemaVersion,
			"want", version)
		return LedgerUnreadable
	}

	current, err := checksum.File(artifactPath)
	if err != nil {
		logger.Warn("cannot fingerprint artifact", "artifact", artifactPath, "error", err)
		return ArtifactChanged
	}
	if info.PatchChecksum == nil || *info.PatchChecksum != current {
		logger.Debug("artifact fingerprint changed", "artifact", artifactPath, "current", current)
		return ArtifactChanged
	}

	for _, entry := range info.AffectedFiles {
		sum, err := checksum.File(filepath.Join(repoDir, filepath.FromSlash(entry.RelativePath)))
		if err != nil {
			logger.Debug("cannot fingerprint affected file", "file", entry.RelativePath, "error", err)
			return SourceChanged
		}
		if entry.Checksum == nil || *entry.Checksum != sum {
			logger.Debug("affected file fingerprint changed", "file", entry.RelativePath, "current", sum)
			return SourceChanged
		}
	}

	return Fresh
}
