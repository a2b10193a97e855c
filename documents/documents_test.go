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

package documents

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firma-sign/firma-sign/blobstore"
	"github.com/firma-sign/firma-sign/fstest"
	"github.com/firma-sign/firma-sign/store"
)

var TESTING_DIR string

func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}

func setup() {
	fstest.EnableDebugLogging()
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "firma-sign-document-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

func breakdown() {
	if TESTING_DIR != "" {
		os.RemoveAll(TESTING_DIR)
	}
}

// creates a service backed by fresh store and blob directories
func newTestService(t *testing.T) (*Service, *store.Store) {
	dir, err := os.MkdirTemp(TESTING_DIR, "case-")
	assert.Nil(t, err)
	st, err := store.Open(filepath.Join(dir, "firma-sign.db"))
	assert.Nil(t, err)
	t.Cleanup(func() { st.Close() })
	blobs, err := blobstore.New(filepath.Join(dir, "storage"), 0, true)
	assert.Nil(t, err)
	return NewService(st, blobs), st
}

func TestStoreAndGet(t *testing.T) {
	assert := assert.New(t)
	service, st := newTestService(t)
	ctx := context.Background()

	doc, err := service.Store(ctx, StoreRequest{
		FileName: "contract.pdf",
		Data:     []byte("pdf bytes"),
		Metadata: map[string]any{"pages": 3},
	})
	assert.Nil(err)
	assert.Regexp(`^doc-\d+-[0-9a-f]{6}$`, doc.Id)
	assert.Equal(store.CategoryUploaded, doc.Category)
	assert.Equal(store.DocumentDraft, doc.Status)
	assert.NotEmpty(doc.Hash)

	// a local upload gets a stub transfer so the foreign key holds
	transfer, err := st.Transfers.FindById(ctx, doc.TransferId)
	assert.Nil(err)
	assert.Equal(true, transfer.Metadata["local"])

	stored, data, err := service.Get(ctx, doc.Id)
	assert.Nil(err)
	assert.Equal("contract.pdf", stored.FileName)
	assert.Equal([]byte("pdf bytes"), data)
}

func TestHostileFileNamesAreDefanged(t *testing.T) {
	assert := assert.New(t)
	service, _ := newTestService(t)
	ctx := context.Background()

	doc, err := service.Store(ctx, StoreRequest{
		FileName: "../../../etc/passwd",
		Data:     []byte("nope"),
	})
	assert.Nil(err)
	assert.NotContains(doc.StoredName, "..")
	assert.NotContains(doc.StoredName, "/")

	_, data, err := service.Get(ctx, doc.Id)
	assert.Nil(err)
	assert.Equal([]byte("nope"), data)
}

func TestUpdateStatusMovesSignedDocuments(t *testing.T) {
	assert := assert.New(t)
	service, _ := newTestService(t)
	ctx := context.Background()

	doc, err := service.Store(ctx, StoreRequest{
		FileName: "lease.pdf",
		Data:     []byte("lease bytes"),
	})
	assert.Nil(err)

	signed, err := service.UpdateStatus(ctx, doc.Id, store.DocumentSigned, "peer-alice",
		[]byte("alice signature bytes"))
	assert.Nil(err)
	assert.Equal(store.DocumentSigned, signed.Status)
	assert.Equal(store.CategorySigned, signed.Category)
	assert.Equal("peer-alice", signed.SignedBy)
	assert.NotNil(signed.SignedAt)
	assert.Equal([]byte("alice signature bytes"), signed.Signature)

	// the bytes moved with the document
	_, data, err := service.Get(ctx, doc.Id)
	assert.Nil(err)
	assert.Equal([]byte("lease bytes"), data)
}

func TestUpdateStatusRejectsInvalidTransitions(t *testing.T) {
	assert := assert.New(t)
	service, _ := newTestService(t)
	ctx := context.Background()

	doc, err := service.Store(ctx, StoreRequest{
		FileName: "memo.pdf",
		Data:     []byte("memo"),
	})
	assert.Nil(err)

	_, err = service.UpdateStatus(ctx, doc.Id, store.DocumentArchived, "", nil)
	var invalid *InvalidTransitionError
	assert.True(errors.As(err, &invalid))
	assert.Equal(store.DocumentDraft, invalid.From)
	assert.Equal(store.DocumentArchived, invalid.To)
}

func TestVersionChain(t *testing.T) {
	assert := assert.New(t)
	service, _ := newTestService(t)
	ctx := context.Background()

	first, err := service.Store(ctx, StoreRequest{
		FileName: "terms.pdf",
		Data:     []byte("v1"),
	})
	assert.Nil(err)
	second, err := service.CreateVersion(ctx, first.Id, "", []byte("v2"))
	assert.Nil(err)
	assert.Equal(2, second.Version)
	assert.Equal(first.Id, second.PreviousVersionId)
	third, err := service.CreateVersion(ctx, second.Id, "terms-final.pdf", []byte("v3"))
	assert.Nil(err)
	assert.Equal(3, third.Version)

	// the full chain is reachable from any version
	for _, id := range []string{first.Id, second.Id, third.Id} {
		versions, err := service.Versions(ctx, id)
		assert.Nil(err)
		assert.Equal(3, len(versions))
		assert.Equal(first.Id, versions[0].Id)
		assert.Equal(third.Id, versions[2].Id)
	}
}

func TestSearch(t *testing.T) {
	assert := assert.New(t)
	service, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Store(ctx, StoreRequest{FileName: "alpha-report.pdf", Data: []byte("a")})
	assert.Nil(err)
	_, err = service.Store(ctx, StoreRequest{FileName: "beta-report.pdf", Data: []byte("b")})
	assert.Nil(err)

	docs, err := service.Search(ctx, store.DocumentCriteria{NameQuery: "alpha"})
	assert.Nil(err)
	assert.Equal(1, len(docs))
	assert.Equal("alpha-report.pdf", docs[0].FileName)

	docs, err = service.Search(ctx, store.DocumentCriteria{Category: store.CategoryUploaded})
	assert.Nil(err)
	assert.Equal(2, len(docs))
}

func TestDeleteIsPermanent(t *testing.T) {
	assert := assert.New(t)
	service, _ := newTestService(t)
	ctx := context.Background()

	doc, err := service.Store(ctx, StoreRequest{
		FileName: "scratch.pdf",
		Data:     []byte("scratch"),
	})
	assert.Nil(err)

	assert.Nil(service.Delete(ctx, doc.Id))
	_, _, err = service.Get(ctx, doc.Id)
	var notFound *store.NotFoundError
	assert.True(errors.As(err, &notFound))
}
