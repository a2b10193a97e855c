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

package transfers

import (
	"fmt"

	"github.com/firma-sign/firma-sign/store"
)

// indicates a request that doesn't describe a sendable transfer
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transfer request: %s", e.Message)
}

// indicates an operation that the transfer's current state doesn't allow
type InvalidStateError struct {
	Id     string
	Status store.TransferStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("transfer %s is %s and cannot be modified", e.Id, e.Status)
}

// indicates a signature naming a document the transfer doesn't contain
type UnknownDocumentError struct {
	TransferId string
	DocumentId string
}

func (e *UnknownDocumentError) Error() string {
	return fmt.Sprintf("transfer %s has no document %s", e.TransferId, e.DocumentId)
}
