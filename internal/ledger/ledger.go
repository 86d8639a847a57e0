// Package ledger persists what was applied for each patch artifact and
// decides whether an artifact is still fresh.
package ledger

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnreadable is returned when a ledger file cannot be parsed or does not
// match the ledger schema.
var ErrUnreadable = errors.New("ledger unreadable")

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

// PatchInfo is the ledger entry paired with one patch artifact.
type PatchInfo struct {
	SchemaVersion int            `json:"schema_version"`
	PatchChecksum *string        `json:"patch_checksum"`
	AffectedFiles []AffectedFile `json:"affected_files"`
}

// AffectedFile records a file touched by a patch and its fingerprint right
// after the patch was applied.
type AffectedFile struct {
	RelativePath string  `json:"file_relative_path"`
	Checksum     *string `json:"file_checksum"`
}

// New builds a ledger entry for a successfully applied patch.
func New(version int, patchChecksum string, files []AffectedFile) *PatchInfo {
	if files == nil {
		files = []AffectedFile{}
	}
	return &PatchInfo{
		SchemaVersion: version,
		PatchChecksum: &patchChecksum,
		AffectedFiles: files,
	}
}

// NewAffectedFile pairs a relative path with its fingerprint.
func NewAffectedFile(relPath, sum string) AffectedFile {
	return AffectedFile{RelativePath: relPath, Checksum: &sum}
}

// Parse reads and validates the ledger file at path. Any read, syntax or
// schema problem is reported as ErrUnreadable.
func Parse(path string) (*PatchInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnreadable, path, err)
	}
	return Decode(data)
}

// Decode validates data against the ledger schema and decodes it.
func Decode(data []byte) (*PatchInfo, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrUnreadable, strings.Join(problems, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var info PatchInfo
	if err := dec.Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if info.AffectedFiles == nil {
		info.AffectedFiles = []AffectedFile{}
	}

	return &info, nil
}

// Write stores the entry at path, replacing any previous file atomically.
func (p *PatchInfo) Write(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger %s: %w", path, err)
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing ledger %s: %w", path, err)
	}
	return nil
}

// RelativePaths lists the affected files in stored order.
func (p *PatchInfo) RelativePaths() []string {
	paths := make([]string, 0, len(p.AffectedFiles))
	for _, f := range p.AffectedFiles {
		paths = append(paths, f.RelativePath)
	}
	return paths
}

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compiling ledger schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}
