package artifact

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// FileStat summarizes the changes a diff makes to one file.
type FileStat struct {
	Path    string
	Added   int
	Deleted int
}

// Summary summarizes a whole artifact body.
type Summary struct {
	Files   []FileStat
	Added   int
	Deleted int
}

// String renders the summary as "+added -deleted in N file(s)".
func (s Summary) String() string {
	return fmt.Sprintf("+%d -%d in %d file(s)", s.Added, s.Deleted, len(s.Files))
}

// Inspect parses a unified diff body and returns per-file line counts.
func Inspect(body string) (Summary, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(body)).ReadAllFiles()
	if err != nil {
		return Summary{}, fmt.Errorf("invalid diff format: %w", err)
	}

	var summary Summary
	for _, fd := range fileDiffs {
		name := fd.NewName
		if name == "" || name == "/dev/null" {
			name = fd.OrigName
		}
		name = strings.TrimPrefix(name, "a/")
		name = strings.TrimPrefix(name, "b/")

		stat := fd.Stat()
		// go-diff reports a replaced line as "changed"; count it on both sides.
		added := int(stat.Added + stat.Changed)
		deleted := int(stat.Deleted + stat.Changed)

		summary.Files = append(summary.Files, FileStat{Path: name, Added: added, Deleted: deleted})
		summary.Added += added
		summary.Deleted += deleted
	}

	return summary, nil
}
