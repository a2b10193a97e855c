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

// This package contains testing utilities for the Firma-Sign server.
package fstest

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/firma-sign/firma-sign/transports"
)

// Enables DEBUG log messages for the structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

//--------------------------
// Transport Test Fixtures
//--------------------------

// This type implements a transports.Transport test fixture. Deliveries take
// DeliveryDuration to "arrive"; the first FailCount sends fail with a
// transient error, which lets tests exercise retry behavior.
type Transport struct {
	DeliveryDuration time.Duration
	FailCount        int
	Permanent        bool // when true, failures are permanent instead of transient

	mutex    sync.Mutex
	name     string
	failures int
	sent     []transports.Envelope
	callback func(transports.Inbound)
}

// Registers a transport test fixture with the given name in a registry,
// assigning it a delivery duration and failure budget appropriate to the
// tests of interest. The returned fixture is the instance the registry will
// hand out.
func RegisterTransport(registry *transports.Registry, name string,
	deliveryDuration time.Duration, failCount int) (*Transport, error) {
	fixture := &Transport{
		DeliveryDuration: deliveryDuration,
		FailCount:        failCount,
		name:             name,
	}
	err := registry.RegisterProvider(name, func(name string) (transports.Transport, error) {
		return fixture, nil
	})
	if err != nil {
		return nil, err
	}
	return fixture, nil
}

func (t *Transport) Initialize(ctx context.Context, settings map[string]any) error {
	return nil
}

func (t *Transport) Send(ctx context.Context, envelope transports.Envelope) error {
	if t.DeliveryDuration > 0 {
		time.Sleep(t.DeliveryDuration)
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.failures < t.FailCount {
		t.failures++
		if t.Permanent {
			return &transports.PermanentError{Name: t.name, Message: "rejected by fixture"}
		}
		return &transports.TransientError{Name: t.name, Message: "dropped by fixture"}
	}
	t.sent = append(t.sent, envelope)
	return nil
}

func (t *Transport) Receive(callback func(transports.Inbound)) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.callback = callback
}

func (t *Transport) GetStatus() transports.StatusInfo {
	return transports.StatusInfo{Status: transports.StatusActive}
}

func (t *Transport) Shutdown(ctx context.Context) error {
	return nil
}

// Sent returns a copy of the envelopes that were delivered so far.
func (t *Transport) Sent() []transports.Envelope {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	sent := make([]transports.Envelope, len(t.sent))
	copy(sent, t.sent)
	return sent
}

// Attempts returns the number of failed sends consumed so far.
func (t *Transport) Attempts() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.failures + len(t.sent)
}

// Inject feeds an inbound frame to the registered receive callback.
func (t *Transport) Inject(inbound transports.Inbound) {
	t.mutex.Lock()
	callback := t.callback
	t.mutex.Unlock()
	if callback != nil {
		inbound.Transport = t.name
		callback(inbound)
	}
}
