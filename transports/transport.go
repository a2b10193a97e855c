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

import "context"

// This "enum" type identifies the lifecycle status of a transport.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusActive        Status = "active"
	StatusInactive      Status = "inactive"
	StatusError         Status = "error"
)

// status reported for a transport, with an error message when initialization
// or operation failed
type StatusInfo struct {
	Status Status         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Info   map[string]any `json:"info,omitempty"`
}

// a document carried inside an envelope
type DocumentRef struct {
	Id       string `json:"id"`
	FileName string `json:"fileName"`
	Hash     string `json:"hash"`
	Data     []byte `json:"data,omitempty"`
}

// An Envelope is the payload handed to a transport for delivery to a single
// recipient address.
type Envelope struct {
	TransferId string         `json:"transferId"`
	Recipient  string         `json:"recipient"`
	Documents  []DocumentRef  `json:"documents"`
	Sender     map[string]any `json:"sender,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// an event delivered by a transport from the outside world
type Inbound struct {
	Transport  string         `json:"transport"`
	TransferId string         `json:"transferId,omitempty"`
	From       string         `json:"from"`
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// a peer discovered by a transport
type PeerCandidate struct {
	Identifier  string         `json:"identifier"`
	DisplayName string         `json:"displayName,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// This type represents a pluggable delivery channel. Implementations must
// tolerate duplicate deliveries: dispatch upstream is at-least-once.
type Transport interface {
	// prepares the transport for use with the given opaque settings
	Initialize(ctx context.Context, settings map[string]any) error
	// delivers an envelope to its recipient
	Send(ctx context.Context, envelope Envelope) error
	// registers the callback invoked for events arriving from outside
	Receive(callback func(Inbound))
	// reports the transport's current status
	GetStatus() StatusInfo
	// releases the transport's resources
	Shutdown(ctx context.Context) error
}

// optional capability: transports that hold per-peer connections
type Connector interface {
	Connect(ctx context.Context, peer string, options map[string]any) error
	Disconnect(ctx context.Context, peer string) error
}

// optional capability: transports that can enumerate reachable peers
type Discoverer interface {
	DiscoverPeers(ctx context.Context, query string) ([]PeerCandidate, error)
}
