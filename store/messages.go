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
	"fmt"
	"time"
)

// Repository for the per-peer message journal.
type MessageRepository struct {
	q querier
}

const messageColumns = `id, from_peer, to_peer, content, type, transport, direction, status,
	attachments, encrypted, sent_at, delivered_at, read_at, created_at`

func (r *MessageRepository) Create(ctx context.Context, message *Message) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.Status == "" {
		message.Status = MessagePending
	}
	if message.Type == "" {
		message.Type = MessageText
	}
	if message.Direction == "" {
		message.Direction = DirectionOutbound
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.Id, message.FromPeer, message.ToPeer, message.Content, message.Type,
		message.Transport, message.Direction, message.Status,
		encodeAttachments(message.Attachments), message.Encrypted,
		message.SentAt, message.DeliveredAt, message.ReadAt, message.CreatedAt)
	return mapError(err)
}

func (r *MessageRepository) FindById(ctx context.Context, id string) (*Message, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "message", Id: id}
		}
		return nil, mapError(err)
	}
	return message, nil
}

// AdvanceStatus moves a message forward through the pending -> sent ->
// delivered -> read state machine, stamping the timestamp for the new state.
// Failed is a terminal sink reachable from any non-terminal state. A call
// that would move the status backward (or out of a terminal state) is a
// no-op and reports false.
func (r *MessageRepository) AdvanceStatus(ctx context.Context, id string, status MessageStatus, at time.Time) (bool, error) {
	message, err := r.FindById(ctx, id)
	if err != nil {
		return false, err
	}

	if message.Status == MessageFailed || message.Status == MessageRead {
		return false, nil
	}
	if status == MessageFailed {
		_, err := r.q.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`,
			MessageFailed, id)
		return err == nil, mapError(err)
	}

	newRank, ok := messageStatusRank[status]
	if !ok {
		return false, fmt.Errorf("invalid message status: %s", status)
	}
	if newRank <= messageStatusRank[message.Status] {
		return false, nil
	}

	// a timestamp for a later state implies timestamps for all earlier ones
	at = at.UTC()
	if message.SentAt == nil && newRank >= messageStatusRank[MessageSent] {
		message.SentAt = &at
	}
	if message.DeliveredAt == nil && newRank >= messageStatusRank[MessageDelivered] {
		message.DeliveredAt = &at
	}
	if message.ReadAt == nil && newRank >= messageStatusRank[MessageRead] {
		message.ReadAt = &at
	}

	_, err = r.q.ExecContext(ctx,
		`UPDATE messages SET status = ?, sent_at = ?, delivered_at = ?, read_at = ? WHERE id = ?`,
		status, message.SentAt, message.DeliveredAt, message.ReadAt, id)
	if err != nil {
		return false, mapError(err)
	}
	return true, nil
}

// returns up to limit messages between the two peers (either direction),
// newest first, older than before / newer than after when given
func (r *MessageRepository) FindByPeerPair(ctx context.Context, peerA, peerB string, before, after *time.Time, limit int) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE ((from_peer = ? AND to_peer = ?) OR (from_peer = ? AND to_peer = ?))`
	args := []any{peerA, peerB, peerB, peerA}
	if before != nil {
		query += ` AND created_at < ?`
		args = append(args, before.UTC())
	}
	if after != nil {
		query += ` AND created_at > ?`
		args = append(args, after.UTC())
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryMessages(ctx, query, args...)
}

// marks the given not-yet-read messages addressed to toPeer as read,
// returning how many were actually updated
func (r *MessageRepository) MarkRead(ctx context.Context, toPeer string, ids []string, at time.Time) (int, error) {
	updated := 0
	for _, id := range ids {
		message, err := r.FindById(ctx, id)
		if err != nil {
			var notFound *NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return updated, err
		}
		if message.ToPeer != toPeer {
			continue
		}
		advanced, err := r.AdvanceStatus(ctx, id, MessageRead, at)
		if err != nil {
			return updated, err
		}
		if advanced {
			updated++
		}
	}
	return updated, nil
}

// returns ids of all unread messages from fromPeer to toPeer
func (r *MessageRepository) UnreadIds(ctx context.Context, fromPeer, toPeer string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id FROM messages
		 WHERE from_peer = ? AND to_peer = ? AND status NOT IN (?, ?)`,
		fromPeer, toPeer, MessageRead, MessageFailed)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		ids = append(ids, id)
	}
	return ids, mapError(rows.Err())
}

// count of messages addressed to the peer that haven't been read
func (r *MessageRepository) UnreadCount(ctx context.Context, toPeer string) (int, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT count(*) FROM messages WHERE to_peer = ? AND status NOT IN (?, ?)`,
		toPeer, MessageRead, MessageFailed)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// substring search on content across both directions of the peer's
// conversations, newest first, capped at limit
func (r *MessageRepository) Search(ctx context.Context, peerId, query string, limit int) ([]Message, error) {
	return r.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE (from_peer = ? OR to_peer = ?) AND content LIKE ?
		 ORDER BY created_at DESC LIMIT ?`,
		peerId, peerId, "%"+query+"%", limit)
}

func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return mapError(err)
}

func (r *MessageRepository) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var messages []Message
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, mapError(err)
		}
		messages = append(messages, *message)
	}
	return messages, mapError(rows.Err())
}

func scanMessage(row rowScanner) (*Message, error) {
	var message Message
	var attachments string
	var sentAt, deliveredAt, readAt sql.NullTime
	err := row.Scan(&message.Id, &message.FromPeer, &message.ToPeer, &message.Content,
		&message.Type, &message.Transport, &message.Direction, &message.Status,
		&attachments, &message.Encrypted, &sentAt, &deliveredAt, &readAt,
		&message.CreatedAt)
	if err != nil {
		return nil, err
	}
	message.Attachments = decodeAttachments(attachments)
	if sentAt.Valid {
		message.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		message.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		message.ReadAt = &readAt.Time
	}
	return &message, nil
}
