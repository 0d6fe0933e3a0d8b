// Package store is a safe file store for uploaded and derived DICOM
// files. Names are sanitized and suffixed with a content hash; lookups
// are confined to the store root.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists files under a single root directory.
type FileStore struct {
	root string
}

// New creates the store, creating the root directory eagerly so saves do
// not fail at runtime.
func New(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the store root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Save persists the bytes under a sanitized stem plus a content hash,
// avoiding collisions and unsafe path characters. The stored filename is
// returned.
func (s *FileStore) Save(originalName string, data []byte) (string, error) {
	stem := sanitizeFilename(strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName)))
	if stem == "" {
		stem = "dicom"
	}

	digest := sha256.Sum256(data)
	name := fmt.Sprintf("%s-%s.dcm", stem, hex.EncodeToString(digest[:])[:12])
	if err := os.WriteFile(filepath.Join(s.root, name), data, 0o644); err != nil {
		return "", fmt.Errorf("persisting uploaded file: %w", err)
	}
	return name, nil
}

// Resolve maps a stored name back to its absolute path, rejecting any
// name that would escape the store root.
func (s *FileStore) Resolve(name string) (string, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	candidate, err := filepath.Abs(filepath.Join(root, name))
	if err != nil {
		return "", err
	}
	if candidate != root && !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
		return "", fmt.Errorf("file %q is outside the storage root", name)
	}
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("requested file not found: %w", err)
	}
	return candidate, nil
}

// DerivedPath returns the stored name and absolute path for an output
// derived from a source file, e.g. its anonymized copy or a rendered
// frame.
func (s *FileStore) DerivedPath(sourceName, suffix, extension string) (string, string) {
	stem := sanitizeFilename(strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName)))
	if stem == "" {
		stem = "dicom"
	}
	name := fmt.Sprintf("%s-%s.%s", stem, suffix, extension)
	return name, filepath.Join(s.root, name)
}

// sanitizeFilename keeps only ASCII word characters and safe separators.
func sanitizeFilename(input string) string {
	var out strings.Builder
	for _, c := range input {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' {
			out.WriteRune(c)
		}
	}
	return out.String()
}
