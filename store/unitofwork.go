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
)

// A Tx is a repository set bound to a single transaction. Everything done
// through it commits or rolls back atomically.
type Tx struct {
	tx *sql.Tx

	Peers       *PeerRepository
	Connections *ConnectionRepository
	Transfers   *TransferRepository
	Documents   *DocumentRepository
	Recipients  *RecipientRepository
	Messages    *MessageRepository
	Groups      *GroupRepository
	Transports  *TransportConfigRepository
}

type txMarker struct{}

// WithTx runs fn inside a unit of work: every repository operation performed
// through the supplied Tx is committed atomically when fn returns nil and
// rolled back when it returns an error (or panics). Opening a unit of work
// inside another one is rejected.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if ctx.Value(txMarker{}) != nil {
		return &NestedTransactionError{}
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}

	tx := &Tx{
		tx:          sqlTx,
		Peers:       &PeerRepository{sqlTx},
		Connections: &ConnectionRepository{sqlTx},
		Transfers:   &TransferRepository{sqlTx},
		Documents:   &DocumentRepository{sqlTx},
		Recipients:  &RecipientRepository{sqlTx},
		Messages:    &MessageRepository{sqlTx},
		Groups:      &GroupRepository{sqlTx},
		Transports:  &TransportConfigRepository{sqlTx},
	}

	ctx = context.WithValue(ctx, txMarker{}, struct{}{})

	defer func() {
		if r := recover(); r != nil {
			sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	return mapError(sqlTx.Commit())
}
