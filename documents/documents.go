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

// Package documents manages document intake, retrieval, status transitions,
// versioning, and search. Metadata lives in the relational store; bytes live
// in the blob store under {category}/{year}/{month}/{documentId}/.
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firma-sign/firma-sign/blobstore"
	"github.com/firma-sign/firma-sign/store"
)

// a request to store a new document
type StoreRequest struct {
	FileName   string
	Data       []byte
	Category   store.DocumentCategory
	TransferId string // empty for local uploads
	Metadata   map[string]any
}

// indicates a status transition the document lifecycle doesn't allow
type InvalidTransitionError struct {
	From, To store.DocumentStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("a document cannot move from status %s to %s", e.From, e.To)
}

// Service coordinates the relational store and the blob store for documents.
type Service struct {
	store *store.Store
	blobs *blobstore.Store
}

func NewService(st *store.Store, blobs *blobstore.Store) *Service {
	return &Service{store: st, blobs: blobs}
}

// generates a document identifier of the form doc-{millis}-{suffix}
func newDocumentId() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("doc-%d-%s", time.Now().UnixMilli(), suffix)
}

// the blob-store path for a document's bytes
func blobPath(doc *store.Document) string {
	return fmt.Sprintf("%s/%04d/%02d/%s/%s", doc.Category,
		doc.CreatedAt.Year(), int(doc.CreatedAt.Month()), doc.Id, doc.StoredName)
}

// Store saves a document's bytes and metadata. Local uploads (no transfer)
// get a stub transfer row so the foreign key always holds.
func (s *Service) Store(ctx context.Context, request StoreRequest) (*store.Document, error) {
	if request.Category == "" {
		request.Category = store.CategoryUploaded
	}

	doc := &store.Document{
		Id:         newDocumentId(),
		TransferId: request.TransferId,
		FileName:   request.FileName,
		FileSize:   int64(len(request.Data)),
		Status:     store.DocumentDraft,
		Category:   request.Category,
		StoredName: blobstore.SanitizeName(request.FileName),
		Version:    1,
		Metadata:   request.Metadata,
		CreatedAt:  time.Now().UTC(),
	}

	hash, err := s.blobs.Save(blobPath(doc), request.Data)
	if err != nil {
		return nil, err
	}
	doc.Hash = hash

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if doc.TransferId == "" {
			stub := &store.Transfer{
				Id:       fmt.Sprintf("local-%s", doc.Id),
				Type:     store.TransferOutgoing,
				Status:   store.TransferPending,
				Metadata: map[string]any{"local": true},
			}
			if err := tx.Transfers.Create(ctx, stub); err != nil {
				return err
			}
			doc.TransferId = stub.Id
		}
		return tx.Documents.Create(ctx, doc)
	})
	if err != nil {
		// the blob is orphaned if we leave it behind
		s.blobs.Delete(blobPath(doc))
		return nil, err
	}

	slog.Info(fmt.Sprintf("Stored document %s (%d bytes) in category %s",
		doc.Id, doc.FileSize, doc.Category))
	return doc, nil
}

// Get returns a document's metadata and bytes, verifying the stored checksum.
func (s *Service) Get(ctx context.Context, id string) (*store.Document, []byte, error) {
	doc, err := s.store.Documents.FindById(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.blobs.Read(blobPath(doc), doc.Hash)
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

// categories a document moves to when its status changes
var categoryForStatus = map[store.DocumentStatus]store.DocumentCategory{
	store.DocumentSigned:   store.CategorySigned,
	store.DocumentArchived: store.CategoryArchived,
}

// transitions the lifecycle allows out of each status
var allowedTransitions = map[store.DocumentStatus][]store.DocumentStatus{
	store.DocumentDraft:      {store.DocumentPending, store.DocumentInProgress, store.DocumentSigned, store.DocumentRejected, store.DocumentDeleted},
	store.DocumentPending:    {store.DocumentInProgress, store.DocumentSigned, store.DocumentRejected, store.DocumentDeleted},
	store.DocumentInProgress: {store.DocumentSigned, store.DocumentRejected, store.DocumentDeleted},
	store.DocumentSigned:     {store.DocumentCompleted, store.DocumentArchived},
	store.DocumentCompleted:  {store.DocumentArchived},
	store.DocumentRejected:   {store.DocumentDeleted},
	store.DocumentArchived:   {},
	store.DocumentDeleted:    {},
}

func transitionAllowed(from, to store.DocumentStatus) bool {
	for _, status := range allowedTransitions[from] {
		if status == to {
			return true
		}
	}
	return false
}

// UpdateStatus advances a document's lifecycle status, recording the signer
// and signature bytes on transitions into signed. Transitions into signed or
// archived also move the bytes into the matching category; the move is
// copy-then-delete, so a failure leaves the original in place.
func (s *Service) UpdateStatus(ctx context.Context, id string,
	status store.DocumentStatus, signedBy string, signature []byte) (*store.Document, error) {
	doc, err := s.store.Documents.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if !transitionAllowed(doc.Status, status) {
		return nil, &InvalidTransitionError{From: doc.Status, To: status}
	}

	patch := store.DocumentPatch{Status: &status}
	now := time.Now().UTC()
	if status == store.DocumentSigned {
		patch.SignedBy = &signedBy
		patch.SignedAt = &now
		patch.Signature = signature
	}

	if newCategory, moves := categoryForStatus[status]; moves && doc.Category != newCategory {
		oldPath := blobPath(doc)
		moved := *doc
		moved.Category = newCategory
		newPath := blobPath(&moved)

		data, err := s.blobs.Read(oldPath, doc.Hash)
		if err != nil {
			return nil, err
		}
		if _, err := s.blobs.Save(newPath, data); err != nil {
			return nil, err
		}
		patch.Category = &newCategory
		if err := s.store.Documents.Update(ctx, id, patch); err != nil {
			s.blobs.Delete(newPath) // undo the copy
			return nil, err
		}
		if err := s.blobs.Delete(oldPath); err != nil {
			slog.Error(fmt.Sprintf("Couldn't remove old copy of document %s: %s",
				id, err.Error()))
		}
	} else {
		if err := s.store.Documents.Update(ctx, id, patch); err != nil {
			return nil, err
		}
	}

	return s.store.Documents.FindById(ctx, id)
}

// Search returns the documents matching the given criteria.
func (s *Service) Search(ctx context.Context, criteria store.DocumentCriteria) ([]store.Document, error) {
	return s.store.Documents.Find(ctx, criteria)
}

// CreateVersion stores new bytes as the next version of an existing document.
func (s *Service) CreateVersion(ctx context.Context, baseId string, fileName string,
	data []byte) (*store.Document, error) {
	base, err := s.store.Documents.FindById(ctx, baseId)
	if err != nil {
		return nil, err
	}
	if fileName == "" {
		fileName = base.FileName
	}

	doc := &store.Document{
		Id:                newDocumentId(),
		TransferId:        base.TransferId,
		FileName:          fileName,
		FileSize:          int64(len(data)),
		Status:            store.DocumentPending,
		Category:          base.Category,
		StoredName:        blobstore.SanitizeName(fileName),
		Version:           base.Version + 1,
		PreviousVersionId: base.Id,
		Metadata:          base.Metadata,
		CreatedAt:         time.Now().UTC(),
	}

	hash, err := s.blobs.Save(blobPath(doc), data)
	if err != nil {
		return nil, err
	}
	doc.Hash = hash

	if err := s.store.Documents.Create(ctx, doc); err != nil {
		s.blobs.Delete(blobPath(doc))
		return nil, err
	}
	return doc, nil
}

// Versions returns a document's full version chain, oldest first.
func (s *Service) Versions(ctx context.Context, id string) ([]store.Document, error) {
	doc, err := s.store.Documents.FindById(ctx, id)
	if err != nil {
		return nil, err
	}

	// walk back to the first version
	first := doc
	for first.PreviousVersionId != "" {
		previous, err := s.store.Documents.FindById(ctx, first.PreviousVersionId)
		if err != nil {
			return nil, err
		}
		first = previous
	}

	// walk forward collecting the chain
	versions := []store.Document{*first}
	current := first
	for {
		next, err := s.store.Documents.FindNextVersion(ctx, current.Id)
		if err != nil {
			var notFound *store.NotFoundError
			if errors.As(err, &notFound) {
				break
			}
			return nil, err
		}
		versions = append(versions, *next)
		current = next
	}
	return versions, nil
}

// Delete permanently removes a document's bytes and metadata.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.store.Documents.FindById(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Documents.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(blobPath(doc)); err != nil {
		slog.Error(fmt.Sprintf("Couldn't remove bytes for deleted document %s: %s",
			id, err.Error()))
	}
	return nil
}
