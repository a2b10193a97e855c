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

// Package web implements the in-process "web" transport. Deliveries don't
// leave the process: sent envelopes land in a bounded outbox that the
// WebSocket gateway surfaces to browser clients, and frames injected from
// the gateway loop back into the receive callback.
package web

import (
	"context"
	"sync"

	"github.com/firma-sign/firma-sign/transports"
)

// cap on undelivered envelopes held in memory
const outboxSize = 1024

type Transport struct {
	mutex    sync.Mutex
	active   bool
	outbox   []transports.Envelope
	callback func(transports.Inbound)
}

// registers this transport under the given name with a registry
func Register(registry *transports.Registry, name string) error {
	return registry.RegisterProvider(name, func(name string) (transports.Transport, error) {
		return &Transport{}, nil
	})
}

func (t *Transport) Initialize(ctx context.Context, settings map[string]any) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.active = true
	t.outbox = make([]transports.Envelope, 0)
	return nil
}

func (t *Transport) Send(ctx context.Context, envelope transports.Envelope) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if !t.active {
		return &transports.UnavailableError{Name: "web"}
	}
	if len(t.outbox) >= outboxSize {
		return &transports.TransientError{Name: "web", Message: "outbox is full"}
	}
	t.outbox = append(t.outbox, envelope)
	return nil
}

func (t *Transport) Receive(callback func(transports.Inbound)) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.callback = callback
}

func (t *Transport) GetStatus() transports.StatusInfo {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	status := transports.StatusInactive
	if t.active {
		status = transports.StatusActive
	}
	return transports.StatusInfo{
		Status: status,
		Info:   map[string]any{"pending": len(t.outbox)},
	}
}

func (t *Transport) Shutdown(ctx context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.active = false
	t.outbox = nil
	return nil
}

// Drain removes and returns every pending envelope, oldest first.
func (t *Transport) Drain() []transports.Envelope {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	pending := t.outbox
	t.outbox = make([]transports.Envelope, 0)
	return pending
}

// Inject feeds an inbound frame to the registered receive callback, as if
// it had arrived from a remote peer.
func (t *Transport) Inject(inbound transports.Inbound) {
	t.mutex.Lock()
	callback := t.callback
	t.mutex.Unlock()
	if callback != nil {
		inbound.Transport = "web"
		callback(inbound)
	}
}
