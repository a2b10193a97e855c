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

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository for document rows; the bytes themselves live in the blob store.
type DocumentRepository struct {
	q querier
}

// fields of a document that may be updated after creation
type DocumentPatch struct {
	Status     *DocumentStatus
	Category   *DocumentCategory
	StoredName *string
	SignedBy   *string
	SignedAt   *time.Time
	Signature  []byte
	Metadata   map[string]any
}

// criteria for searching documents; zero values are ignored
type DocumentCriteria struct {
	Category   DocumentCategory
	Status     DocumentStatus
	TransferId string
	UploadedBy string
	SignedBy   string
	Tags       []string
	After      *time.Time
	Before     *time.Time
	NameQuery  string
	Offset     int
	Limit      int
}

const documentColumns = `id, transfer_id, file_name, file_size, file_hash, status, category,
	stored_name, signed_by, signed_at, signature, version, previous_version_id, metadata,
	created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = DocumentDraft
	}
	if doc.Category == "" {
		doc.Category = CategoryUploaded
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Id, doc.TransferId, doc.FileName, doc.FileSize, doc.Hash, doc.Status,
		doc.Category, doc.StoredName, doc.SignedBy, doc.SignedAt, doc.Signature,
		doc.Version, doc.PreviousVersionId, encodeJSON(doc.Metadata), now, now)
	return mapError(err)
}

func (r *DocumentRepository) Update(ctx context.Context, id string, patch DocumentPatch) error {
	doc, err := r.FindById(ctx, id)
	if err != nil {
		return err
	}
	if patch.Status != nil {
		doc.Status = *patch.Status
	}
	if patch.Category != nil {
		doc.Category = *patch.Category
	}
	if patch.StoredName != nil {
		doc.StoredName = *patch.StoredName
	}
	if patch.SignedBy != nil {
		doc.SignedBy = *patch.SignedBy
	}
	if patch.SignedAt != nil {
		doc.SignedAt = patch.SignedAt
	}
	if patch.Signature != nil {
		doc.Signature = patch.Signature
	}
	if patch.Metadata != nil {
		doc.Metadata = patch.Metadata
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE documents SET status = ?, category = ?, stored_name = ?, signed_by = ?,
			signed_at = ?, signature = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		doc.Status, doc.Category, doc.StoredName, doc.SignedBy, doc.SignedAt,
		doc.Signature, encodeJSON(doc.Metadata), time.Now().UTC(), id)
	return mapError(err)
}

func (r *DocumentRepository) FindById(ctx context.Context, id string) (*Document, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "document", Id: id}
		}
		return nil, mapError(err)
	}
	return doc, nil
}

func (r *DocumentRepository) FindByTransfer(ctx context.Context, transferId string) ([]Document, error) {
	return r.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE transfer_id = ? ORDER BY created_at`,
		transferId)
}

// returns the document whose previous-version link points at the given id
func (r *DocumentRepository) FindNextVersion(ctx context.Context, id string) (*Document, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE previous_version_id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "document", Id: id}
		}
		return nil, mapError(err)
	}
	return doc, nil
}

func (r *DocumentRepository) Find(ctx context.Context, criteria DocumentCriteria) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	args := []any{}
	if criteria.Category != "" {
		query += ` AND category = ?`
		args = append(args, criteria.Category)
	}
	if criteria.Status != "" {
		query += ` AND status = ?`
		args = append(args, criteria.Status)
	}
	if criteria.TransferId != "" {
		query += ` AND transfer_id = ?`
		args = append(args, criteria.TransferId)
	}
	if criteria.UploadedBy != "" {
		query += ` AND json_extract(metadata, '$.uploadedBy') = ?`
		args = append(args, criteria.UploadedBy)
	}
	if criteria.SignedBy != "" {
		query += ` AND signed_by = ?`
		args = append(args, criteria.SignedBy)
	}
	// tag sets are a subset match against the metadata's tags array
	for _, tag := range criteria.Tags {
		query += ` AND EXISTS (SELECT 1 FROM json_each(metadata, '$.tags') WHERE json_each.value = ?)`
		args = append(args, tag)
	}
	if criteria.After != nil {
		query += ` AND created_at >= ?`
		args = append(args, criteria.After.UTC())
	}
	if criteria.Before != nil {
		query += ` AND created_at <= ?`
		args = append(args, criteria.Before.UTC())
	}
	if criteria.NameQuery != "" {
		query += ` AND file_name LIKE ?`
		args = append(args, "%"+criteria.NameQuery+"%")
	}
	query += ` ORDER BY created_at DESC`
	if criteria.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, criteria.Limit)
	}
	if criteria.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, criteria.Offset)
	}
	return r.queryDocuments(ctx, query, args...)
}

func (r *DocumentRepository) FindAll(ctx context.Context) ([]Document, error) {
	return r.Find(ctx, DocumentCriteria{})
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return mapError(err)
}

func (r *DocumentRepository) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, mapError(err)
		}
		docs = append(docs, *doc)
	}
	return docs, mapError(rows.Err())
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var signedAt sql.NullTime
	var metadata string
	err := row.Scan(&doc.Id, &doc.TransferId, &doc.FileName, &doc.FileSize, &doc.Hash,
		&doc.Status, &doc.Category, &doc.StoredName, &doc.SignedBy, &signedAt,
		&doc.Signature, &doc.Version, &doc.PreviousVersionId, &metadata,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if signedAt.Valid {
		doc.SignedAt = &signedAt.Time
	}
	doc.Metadata = decodeJSON(metadata)
	return &doc, nil
}
