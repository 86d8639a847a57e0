// Package checksum computes content fingerprints for files on disk.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// bufferSize bounds the memory used per read regardless of file size.
const bufferSize = 32 * 1024

var (
	// ErrNotFound is returned when the path does not exist.
	ErrNotFound = errors.New("file does not exist")
	// ErrNotAFile is returned when the path exists but is not a regular file.
	ErrNotAFile = errors.New("path is not a regular file")
	// ErrIOFailure is returned when the file could not be read.
	ErrIOFailure = errors.New("checksum calculation failed")
)

// File returns the lowercase hex SHA-256 digest of the file at path.
func File(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("%w for %s: %v", ErrIOFailure, path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotAFile, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w for %s: %v", ErrIOFailure, path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("%w for %s: %v", ErrIOFailure, path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
