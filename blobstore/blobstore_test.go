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

package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestStore(t *testing.T, useChecksum bool) *Store {
	t.Helper()
	store, err := New(t.TempDir(), 1024, useChecksum)
	if err != nil {
		t.Fatalf("Couldn't create blob store: %s", err)
	}
	return store
}

func TestSaveAndReadRoundTrip(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t, true)

	data := []byte("signed document bytes")
	hash, err := store.Save("uploaded/2026/08/doc-1/a.pdf", data)
	assert.Nil(err)

	sum := sha256.Sum256(data)
	assert.Equal(hex.EncodeToString(sum[:]), hash)

	read, err := store.Read("uploaded/2026/08/doc-1/a.pdf", hash)
	assert.Nil(err)
	assert.Equal(data, read)
}

func TestSaveRejectsMismatchedOverwrite(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t, true)

	_, err := store.Save("uploaded/2026/08/doc-1/a.pdf", []byte("original"))
	assert.Nil(err)

	// identical content is fine
	_, err = store.Save("uploaded/2026/08/doc-1/a.pdf", []byte("original"))
	assert.Nil(err)

	// different content at the same path is rejected
	_, err = store.Save("uploaded/2026/08/doc-1/a.pdf", []byte("tampered"))
	assert.NotNil(err)
	_, ok := err.(*ChecksumError)
	assert.True(ok)
}

func TestReadVerifiesChecksum(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t, true)

	hash, err := store.Save("uploaded/2026/08/doc-1/a.pdf", []byte("content"))
	assert.Nil(err)

	// corrupt the stored bytes behind the store's back
	path := filepath.Join(store.Root(), "uploaded", "2026", "08", "doc-1", "a.pdf")
	assert.Nil(os.WriteFile(path, []byte("corrupted"), 0644))

	_, err = store.Read("uploaded/2026/08/doc-1/a.pdf", hash)
	assert.NotNil(err)
	_, ok := err.(*ChecksumError)
	assert.True(ok)
}

func TestMaxFileSizeEnforced(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t, false)

	_, err := store.Save("uploaded/big.bin", make([]byte, 2048))
	assert.NotNil(err)
	_, ok := err.(*TooLargeError)
	assert.True(ok)
}

func TestSanitizeNameBlocksTraversal(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t, false)

	_, err := store.Save("uploaded/../../../etc/passwd", []byte("nope"))
	assert.Nil(err)

	// nothing was written outside the root
	_, statErr := os.Stat(filepath.Join(store.Root(), "..", "etc", "passwd"))
	assert.True(os.IsNotExist(statErr))

	sanitized := SanitizeName("../../../etc/passwd")
	assert.NotContains(sanitized, "/")
	assert.NotContains(sanitized, "..")
	assert.Regexp(regexp.MustCompile(`^[A-Za-z0-9._-]+$`), sanitized)
}

func TestExistsDeleteAndList(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t, false)

	_, err := store.Save("uploaded/2026/08/doc-1/a.pdf", []byte("bytes"))
	assert.Nil(err)
	assert.True(store.Exists("uploaded/2026/08/doc-1/a.pdf"))

	entries, err := store.List("uploaded/2026/08")
	assert.Nil(err)
	assert.Len(entries, 1)
	assert.Equal("doc-1", entries[0].Name)
	assert.Equal("directory", entries[0].Type)

	entries, err = store.List("uploaded/2026/08/doc-1")
	assert.Nil(err)
	assert.Len(entries, 1)
	assert.Equal("file", entries[0].Type)
	assert.Equal(int64(5), entries[0].Size)

	assert.Nil(store.Delete("uploaded/2026/08/doc-1/a.pdf"))
	assert.False(store.Exists("uploaded/2026/08/doc-1/a.pdf"))
}
