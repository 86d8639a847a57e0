package reconcile

import (
	"errors"

	"github.com/schaermu/patchsync/internal/ledger"
)

var (
	// ErrRepositoryMissing is returned when the repository directory does not exist.
	ErrRepositoryMissing = errors.New("repository directory does not exist")
	// ErrChecksumFailure marks a unit whose files could not be fingerprinted
	// after the patch applied.
	ErrChecksumFailure = errors.New("failed to fingerprint patched files")
)

// resetWarning is attached to results whose files took part in a failed reset.
const resetWarning = "some resets failed"

// Reason explains why a file was changed during a run.
type Reason int

const (
	// NoLedger means the artifact was never applied.
	NoLedger Reason = iota + 1
	// LedgerOutdated means the ledger was unreadable or had another schema version.
	LedgerOutdated
	// ArtifactChanged means the artifact was edited since it was last applied.
	ArtifactChanged
	// SourceChanged means a patched file was edited since the artifact was applied.
	SourceChanged
	// ArtifactRemoved means the ledger outlived its artifact.
	ArtifactRemoved
)

// String returns the human-readable message for the reason.
func (r Reason) String() string {
	switch r {
	case NoLedger:
		return "no ledger file was found"
	case LedgerOutdated:
		return "ledger file was unreadable or not in the current schema version"
	case ArtifactChanged:
		return "artifact was modified since last applied"
	case SourceChanged:
		return "target file was modified since the patch was last applied"
	case ArtifactRemoved:
		return "artifact removed since last applied"
	default:
		return "unknown"
	}
}

// ReasonFor maps a staleness status to the reason for reapplying the
// artifact. It reports false for Fresh, which needs no work.
func ReasonFor(status ledger.Status) (Reason, bool) {
	switch status {
	case ledger.NoLedger:
		return NoLedger, true
	case ledger.LedgerUnreadable:
		return LedgerOutdated, true
	case ledger.ArtifactChanged:
		return ArtifactChanged, true
	case ledger.SourceChanged:
		return SourceChanged, true
	default:
		return 0, false
	}
}

// FileChangeResult describes what happened to one file during a run.
type FileChangeResult struct {
	// FilePath is the changed file joined to the repository directory, or
	// empty when the artifact's files could not be determined.
	FilePath     string
	ArtifactPath string
	Reason       Reason
	Err          error
	Warning      string
}

// Failed reports whether the change failed.
func (r FileChangeResult) Failed() bool {
	return r.Err != nil
}

// unit tracks one artifact through the apply phase.
type unit struct {
	artifactPath string
	ledgerPath   string
	reason       Reason
	files        []ledger.AffectedFile
	err          error
	warning      string
}
