// Package artifact names, discovers and inspects patch artifacts and the
// ledger files paired with them.
package artifact

import (
	"path"
	"path/filepath"
	"strings"
)

// Layout describes how artifacts and ledgers are named on disk. It is built
// once from configuration and passed by value to every component.
type Layout struct {
	// SchemaVersion is the ledger schema version written and accepted.
	SchemaVersion int
	// PatchExt is the artifact extension without the leading dot.
	PatchExt string
	// LedgerExt is the ledger extension without the leading dot.
	LedgerExt string
	// Separator replaces path separators when encoding artifact names.
	Separator string
}

// DefaultLayout returns the layout used when configuration leaves it unset.
func DefaultLayout() Layout {
	return Layout{
		SchemaVersion: 1,
		PatchExt:      "patch",
		LedgerExt:     "patchinfo",
		Separator:     "-",
	}
}

// ArtifactName encodes a repository-relative path as an artifact file name.
// For example: base/win/create_string.cc -> base-win-create_string.cc.patch
func (l Layout) ArtifactName(relPath string) string {
	slashed := path.Clean(filepath.ToSlash(relPath))
	return strings.ReplaceAll(slashed, "/", l.Separator) + "." + l.PatchExt
}

// LedgerPathFor returns the ledger path paired with an artifact path.
func (l Layout) LedgerPathFor(artifactPath string) string {
	return swapExt(artifactPath, l.PatchExt, l.LedgerExt)
}

// ArtifactPathFor returns the artifact path paired with a ledger path.
func (l Layout) ArtifactPathFor(ledgerPath string) string {
	return swapExt(ledgerPath, l.LedgerExt, l.PatchExt)
}

// hasExt matches the final extension only, so ext must not contain a dot.
func hasExt(name, ext string) bool {
	return filepath.Ext(name) == "."+ext
}

func swapExt(p, from, to string) string {
	return strings.TrimSuffix(p, "."+from) + "." + to
}
