// Copyright (c) 2025 The Firma-Sign Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package blobstore is a content-addressed file store for document bytes.
// Files live under a configurable root in a {category}/{YYYY}/{MM}/{id}/
// tree; every write is checksummed and atomic (write-temp-then-rename), and
// file names are sanitized so client-supplied names can't escape the tree.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// the default cap on a single stored file
const DefaultMaxFileSize = 500 * 1024 * 1024

// a directory listing entry
type Entry struct {
	Name string
	Type string // "file" or "directory"
	Size int64
}

// indicates that a write would exceed the store's size cap
type TooLargeError struct {
	Size, Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file of %d bytes exceeds the %d byte limit", e.Size, e.Limit)
}

// indicates that stored bytes no longer match their recorded checksum
type ChecksumError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s",
		e.Path, e.Expected, e.Actual)
}

// Store is a blob store rooted at a single directory.
type Store struct {
	root        string
	maxFileSize int64
	useChecksum bool
}

// creates a blob store rooted at the given directory, creating it if needed
func New(root string, maxFileSize int64, useChecksum bool) (*Store, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &Store{
		root:        root,
		maxFileSize: maxFileSize,
		useChecksum: useChecksum,
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// SanitizeName replaces every character outside [A-Za-z0-9.-] with '_',
// which (among other things) strips path separators out of client-supplied
// file names.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	// ".." never survives sanitization, even though dots themselves do
	out := b.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", "_")
	}
	return out
}

// resolves a relative path inside the root, sanitizing each element
func (s *Store) resolve(relPath string) string {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		clean = append(clean, SanitizeName(part))
	}
	return filepath.Join(append([]string{s.root}, clean...)...)
}

// Save writes bytes at the given relative path, returning the SHA-256 of the
// content. The write is atomic. If content already exists at the path with a
// different checksum, the write is rejected.
func (s *Store) Save(relPath string, data []byte) (string, error) {
	if int64(len(data)) > s.maxFileSize {
		return "", &TooLargeError{Size: int64(len(data)), Limit: s.maxFileSize}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	path := s.resolve(relPath)
	if existing, err := os.ReadFile(path); err == nil {
		existingSum := sha256.Sum256(existing)
		existingHash := hex.EncodeToString(existingSum[:])
		if existingHash != hash {
			return "", &ChecksumError{Path: relPath, Expected: existingHash, Actual: hash}
		}
		return hash, nil // identical content already present
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	// write to a temp file in the same directory, then rename into place
	temp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", err
	}
	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return "", err
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return "", err
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return "", err
	}
	return hash, nil
}

// Read returns the bytes at the given relative path. When the store was
// created with checksum verification and expectedHash is non-empty, the
// content is re-verified against it.
func (s *Store) Read(relPath, expectedHash string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(relPath))
	if err != nil {
		return nil, err
	}
	if s.useChecksum && expectedHash != "" {
		sum := sha256.Sum256(data)
		actual := hex.EncodeToString(sum[:])
		if actual != expectedHash {
			return nil, &ChecksumError{Path: relPath, Expected: expectedHash, Actual: actual}
		}
	}
	return data, nil
}

// Delete unlinks the file at the given relative path.
func (s *Store) Delete(relPath string) error {
	return os.Remove(s.resolve(relPath))
}

// Exists reports whether a file exists at the given relative path.
func (s *Store) Exists(relPath string) bool {
	info, err := os.Stat(s.resolve(relPath))
	return err == nil && !info.IsDir()
}

// List returns the entries of the given directory, typed file or directory.
func (s *Store) List(relDir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.resolve(relDir))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		entry := Entry{Name: dirEntry.Name(), Type: "file"}
		if dirEntry.IsDir() {
			entry.Type = "directory"
		} else if info, err := dirEntry.Info(); err == nil {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
