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

// Package store is the relational state store for the Firma-Sign server. It
// owns the SQLite schema and exposes one repository per entity plus a
// transactional unit of work. All relational writes in the system flow
// through this package; SQLite serializes them internally.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // Import for registration side-effect.
)

// the subset of database/sql shared by *sql.DB and *sql.Tx; repositories are
// written against this so they work inside and outside a unit of work
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is an open handle on the relational database with its repositories.
type Store struct {
	db *sql.DB

	Peers       *PeerRepository
	Connections *ConnectionRepository
	Transfers   *TransferRepository
	Documents   *DocumentRepository
	Recipients  *RecipientRepository
	Messages    *MessageRepository
	Groups      *GroupRepository
	Transports  *TransportConfigRepository
}

// Open opens (creating if necessary) the database at the given path and
// brings its schema up to date. A migration failure is fatal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3",
		fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, err
	}

	// SQLite allows exactly one writer; a single connection keeps
	// database/sql from queueing writes behind a locked sibling
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info(fmt.Sprintf("Opened relational store at %s", path))

	store := &Store{db: db}
	store.bind(db)
	return store, nil
}

// attaches the repository set to the given querier
func (s *Store) bind(q querier) {
	s.Peers = &PeerRepository{q}
	s.Connections = &ConnectionRepository{q}
	s.Transfers = &TransferRepository{q}
	s.Documents = &DocumentRepository{q}
	s.Recipients = &RecipientRepository{q}
	s.Messages = &MessageRepository{q}
	s.Groups = &GroupRepository{q}
	s.Transports = &TransportConfigRepository{q}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

//--------------
// JSON columns
//--------------

// Open-ended metadata maps are persisted as JSON text; the store treats
// them as pass-through payloads.

func encodeJSON(m map[string]any) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeJSON(text string) map[string]any {
	if text == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return map[string]any{}
	}
	return m
}

func encodeAttachments(attachments []Attachment) string {
	if attachments == nil {
		attachments = []Attachment{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeAttachments(text string) []Attachment {
	var attachments []Attachment
	if err := json.Unmarshal([]byte(text), &attachments); err != nil {
		return nil
	}
	return attachments
}
