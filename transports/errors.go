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

package transports

import "fmt"

// indicates a request for a transport that isn't registered or isn't active
type UnavailableError struct {
	Name string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("transport %s is not available", e.Name)
}

// indicates a delivery failure that may succeed on retry
type TransientError struct {
	Name    string
	Message string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure on transport %s: %s", e.Name, e.Message)
}

// indicates a delivery failure that retrying cannot fix (bad credentials,
// unsupported operation)
type PermanentError struct {
	Name    string
	Message string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure on transport %s: %s", e.Name, e.Message)
}

// indicates an attempt to register a provider under a name already taken
type AlreadyRegisteredError struct {
	Name string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("a transport provider named %s is already registered", e.Name)
}
