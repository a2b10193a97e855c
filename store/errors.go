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
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// indicates a violated database constraint (unique, foreign key, check)
type ConstraintError struct {
	Column  string
	Message string
}

func (e *ConstraintError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("constraint violated on %s: %s", e.Column, e.Message)
	}
	return fmt.Sprintf("constraint violated: %s", e.Message)
}

// indicates a transient database condition (busy/locked); the caller may retry
type TransientError struct {
	Message string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient database error: %s", e.Message)
}

// indicates a fatal schema problem encountered during migration
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s", e.Message)
}

// indicates that an entity lookup came up empty
type NotFoundError struct {
	Entity string
	Id     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Id)
}

// indicates an attempt to open a unit of work inside another one
type NestedTransactionError struct{}

func (e *NestedTransactionError) Error() string {
	return "a unit of work is already open"
}

// translates driver-level errors into the store's taxonomy
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return err // callers wrap this with entity context
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return &ConstraintError{
				Column:  constraintColumn(sqliteErr.Error()),
				Message: sqliteErr.Error(),
			}
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &TransientError{Message: sqliteErr.Error()}
		}
	}
	return err
}

// SQLite reports constraint failures as "UNIQUE constraint failed:
// table.column"; fish the column name out when it's present.
func constraintColumn(message string) string {
	idx := strings.LastIndex(message, ": ")
	if idx < 0 {
		return ""
	}
	qualified := message[idx+2:]
	if dot := strings.LastIndex(qualified, "."); dot >= 0 {
		return qualified[dot+1:]
	}
	return qualified
}
