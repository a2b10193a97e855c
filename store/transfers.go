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

// Repository for transfers, the parents of documents and recipients.
type TransferRepository struct {
	q querier
}

// fields of a transfer that may be updated after creation
type TransferPatch struct {
	Status   *TransferStatus
	Metadata map[string]any
}

// criteria for finding transfers; zero values are ignored
type TransferCriteria struct {
	Type   TransferType
	Status TransferStatus
	Limit  int
}

const transferColumns = `id, type, status, code, sender, transport, metadata, created_at, updated_at`

func (r *TransferRepository) Create(ctx context.Context, transfer *Transfer) error {
	now := time.Now().UTC()
	transfer.CreatedAt = now
	transfer.UpdatedAt = now
	if transfer.Status == "" {
		transfer.Status = TransferPending
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO transfers (`+transferColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transfer.Id, transfer.Type, transfer.Status, transfer.Code,
		encodeJSON(transfer.Sender), transfer.Transport, encodeJSON(transfer.Metadata),
		now, now)
	return mapError(err)
}

func (r *TransferRepository) Update(ctx context.Context, id string, patch TransferPatch) error {
	transfer, err := r.FindById(ctx, id)
	if err != nil {
		return err
	}
	if patch.Status != nil {
		transfer.Status = *patch.Status
	}
	if patch.Metadata != nil {
		transfer.Metadata = patch.Metadata
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE transfers SET status = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		transfer.Status, encodeJSON(transfer.Metadata), time.Now().UTC(), id)
	return mapError(err)
}

func (r *TransferRepository) FindById(ctx context.Context, id string) (*Transfer, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id)
	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "transfer", Id: id}
		}
		return nil, mapError(err)
	}
	return transfer, nil
}

// returns the transfer carrying the given (canonical) code
func (r *TransferRepository) FindByCode(ctx context.Context, code string) (*Transfer, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE code = ?`, code)
	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "transfer", Id: code}
		}
		return nil, mapError(err)
	}
	return transfer, nil
}

func (r *TransferRepository) Find(ctx context.Context, criteria TransferCriteria) ([]Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE 1=1`
	args := []any{}
	if criteria.Type != "" {
		query += ` AND type = ?`
		args = append(args, criteria.Type)
	}
	if criteria.Status != "" {
		query += ` AND status = ?`
		args = append(args, criteria.Status)
	}
	query += ` ORDER BY created_at DESC`
	if criteria.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, criteria.Limit)
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var transfers []Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, mapError(err)
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, mapError(rows.Err())
}

func (r *TransferRepository) FindAll(ctx context.Context) ([]Transfer, error) {
	return r.Find(ctx, TransferCriteria{})
}

// deletes the transfer, cascading to its documents and recipients
func (r *TransferRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM transfers WHERE id = ?`, id)
	return mapError(err)
}

// counts transfers of each type mentioning the given peer as sender or
// recipient; used for per-peer transfer history
func (r *TransferRepository) CountByPeer(ctx context.Context, peerId string) (sent int, received int, err error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT count(*) FROM transfers t
		 WHERE t.type = ? AND EXISTS
			(SELECT 1 FROM recipients r WHERE r.transfer_id = t.id AND r.identifier = ?)`,
		TransferOutgoing, peerId)
	if err = row.Scan(&sent); err != nil {
		return 0, 0, mapError(err)
	}
	row = r.q.QueryRowContext(ctx,
		`SELECT count(*) FROM transfers WHERE type = ? AND json_extract(sender, '$.peerId') = ?`,
		TransferIncoming, peerId)
	if err = row.Scan(&received); err != nil {
		return 0, 0, mapError(err)
	}
	return sent, received, nil
}

// returns transfers involving the given peer, filtered by type when given
func (r *TransferRepository) FindByPeer(ctx context.Context, peerId string, transferType TransferType) ([]Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers t
		WHERE (EXISTS (SELECT 1 FROM recipients r WHERE r.transfer_id = t.id AND r.identifier = ?)
			OR json_extract(t.sender, '$.peerId') = ?)`
	args := []any{peerId, peerId}
	if transferType != "" {
		query += ` AND t.type = ?`
		args = append(args, transferType)
	}
	query += ` ORDER BY t.created_at DESC`
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var transfers []Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, mapError(err)
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, mapError(rows.Err())
}

func scanTransfer(row rowScanner) (*Transfer, error) {
	var transfer Transfer
	var sender, metadata string
	err := row.Scan(&transfer.Id, &transfer.Type, &transfer.Status, &transfer.Code,
		&sender, &transfer.Transport, &metadata, &transfer.CreatedAt, &transfer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	transfer.Sender = decodeJSON(sender)
	transfer.Metadata = decodeJSON(metadata)
	return &transfer, nil
}
