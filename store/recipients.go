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

// Repository for transfer recipients.
type RecipientRepository struct {
	q querier
}

// fields of a recipient that may be updated after creation
type RecipientPatch struct {
	Status      *RecipientStatus
	Preferences map[string]any
	NotifiedAt  *time.Time
	ViewedAt    *time.Time
	SignedAt    *time.Time
}

const recipientColumns = `id, transfer_id, identifier, transport, status, preferences,
	notified_at, viewed_at, signed_at, created_at, updated_at`

func (r *RecipientRepository) Create(ctx context.Context, recipient *Recipient) error {
	now := time.Now().UTC()
	recipient.CreatedAt = now
	recipient.UpdatedAt = now
	if recipient.Status == "" {
		recipient.Status = RecipientPending
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO recipients (`+recipientColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recipient.Id, recipient.TransferId, recipient.Identifier, recipient.Transport,
		recipient.Status, encodeJSON(recipient.Preferences), recipient.NotifiedAt,
		recipient.ViewedAt, recipient.SignedAt, now, now)
	return mapError(err)
}

func (r *RecipientRepository) Update(ctx context.Context, id string, patch RecipientPatch) error {
	recipient, err := r.FindById(ctx, id)
	if err != nil {
		return err
	}
	if patch.Status != nil {
		recipient.Status = *patch.Status
	}
	if patch.Preferences != nil {
		recipient.Preferences = patch.Preferences
	}
	if patch.NotifiedAt != nil {
		recipient.NotifiedAt = patch.NotifiedAt
	}
	if patch.ViewedAt != nil {
		recipient.ViewedAt = patch.ViewedAt
	}
	if patch.SignedAt != nil {
		recipient.SignedAt = patch.SignedAt
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE recipients SET status = ?, preferences = ?, notified_at = ?, viewed_at = ?,
			signed_at = ?, updated_at = ? WHERE id = ?`,
		recipient.Status, encodeJSON(recipient.Preferences), recipient.NotifiedAt,
		recipient.ViewedAt, recipient.SignedAt, time.Now().UTC(), id)
	return mapError(err)
}

func (r *RecipientRepository) FindById(ctx context.Context, id string) (*Recipient, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id)
	recipient, err := scanRecipient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "recipient", Id: id}
		}
		return nil, mapError(err)
	}
	return recipient, nil
}

func (r *RecipientRepository) FindByTransfer(ctx context.Context, transferId string) ([]Recipient, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE transfer_id = ? ORDER BY created_at`,
		transferId)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var recipients []Recipient
	for rows.Next() {
		recipient, err := scanRecipient(rows)
		if err != nil {
			return nil, mapError(err)
		}
		recipients = append(recipients, *recipient)
	}
	return recipients, mapError(rows.Err())
}

func (r *RecipientRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM recipients WHERE id = ?`, id)
	return mapError(err)
}

func scanRecipient(row rowScanner) (*Recipient, error) {
	var recipient Recipient
	var preferences string
	var notifiedAt, viewedAt, signedAt sql.NullTime
	err := row.Scan(&recipient.Id, &recipient.TransferId, &recipient.Identifier,
		&recipient.Transport, &recipient.Status, &preferences, &notifiedAt,
		&viewedAt, &signedAt, &recipient.CreatedAt, &recipient.UpdatedAt)
	if err != nil {
		return nil, err
	}
	recipient.Preferences = decodeJSON(preferences)
	if notifiedAt.Valid {
		recipient.NotifiedAt = &notifiedAt.Time
	}
	if viewedAt.Valid {
		recipient.ViewedAt = &viewedAt.Time
	}
	if signedAt.Valid {
		recipient.SignedAt = &signedAt.Time
	}
	return &recipient, nil
}
