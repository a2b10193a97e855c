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

// Package transports manages the named delivery channels (p2p, email,
// discord, telegram, web) behind a single registry. Concrete transports
// register themselves as providers; the registry owns their lifecycle,
// tracks their status, and dispatches sends. Retry policy belongs to the
// transfer router, not here.
package transports

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/firma-sign/firma-sign/events"
)

// the transport names the service knows about
var KnownNames = []string{"p2p", "email", "discord", "telegram", "web"}

// creates a transport instance for a registered name
type Provider func(name string) (Transport, error)

// The Registry maps transport names to instances and tracks a parallel
// status map. Transports are never shared across names.
type Registry struct {
	mutex      sync.Mutex
	providers  map[string]Provider
	transports map[string]Transport
	statuses   map[string]StatusInfo
	bus        *events.Bus
}

func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{
		providers:  make(map[string]Provider),
		transports: make(map[string]Transport),
		statuses:   make(map[string]StatusInfo),
		bus:        bus,
	}
}

// RegisterProvider makes a transport implementation available under the
// given name.
func (r *Registry) RegisterProvider(name string, provider Provider) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, found := r.providers[name]; found {
		return &AlreadyRegisteredError{Name: name}
	}
	r.providers[name] = provider
	r.statuses[name] = StatusInfo{Status: StatusUninitialized}
	return nil
}

// Initialize brings up each named transport with its settings. A transport
// that fails to initialize is recorded with an error status; the failure is
// isolated and the remaining transports still come up.
func (r *Registry) Initialize(ctx context.Context, names []string, settings map[string]map[string]any) {
	for _, name := range names {
		r.mutex.Lock()
		provider, found := r.providers[name]
		r.mutex.Unlock()
		if !found {
			r.setStatus(name, StatusInfo{Status: StatusError,
				Error: fmt.Sprintf("no provider registered for %s", name)})
			continue
		}

		transport, err := provider(name)
		if err == nil {
			err = transport.Initialize(ctx, settings[name])
		}
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't initialize transport %s: %s", name, err.Error()))
			r.setStatus(name, StatusInfo{Status: StatusError, Error: err.Error()})
			continue
		}

		r.mutex.Lock()
		r.transports[name] = transport
		r.mutex.Unlock()
		r.setStatus(name, StatusInfo{Status: StatusActive})
		slog.Info(fmt.Sprintf("Initialized transport %s", name))
	}
}

func (r *Registry) setStatus(name string, info StatusInfo) {
	r.mutex.Lock()
	r.statuses[name] = info
	r.mutex.Unlock()
	if r.bus != nil {
		r.bus.Publish(events.TopicTransportStatus, map[string]any{
			"transport": name,
			"status":    string(info.Status),
			"error":     info.Error,
		})
	}
}

// Get returns the named transport if it's active.
func (r *Registry) Get(name string) (Transport, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	transport, found := r.transports[name]
	if !found || r.statuses[name].Status != StatusActive {
		return nil, &UnavailableError{Name: name}
	}
	return transport, nil
}

// Statuses returns a snapshot of every known transport's status.
func (r *Registry) Statuses() map[string]StatusInfo {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	statuses := make(map[string]StatusInfo, len(r.statuses))
	for name, info := range r.statuses {
		statuses[name] = info
	}
	return statuses
}

// Active returns the names of the transports that are up, in the order of
// KnownNames.
func (r *Registry) Active() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var names []string
	for _, name := range KnownNames {
		if r.statuses[name].Status == StatusActive {
			names = append(names, name)
		}
	}
	return names
}

// SelectForPeer picks a transport for reaching the given peer. For now this
// is simply the first active transport; a capability-weighted selection can
// slot in here later.
func (r *Registry) SelectForPeer(peerId string) (string, Transport, error) {
	for _, name := range r.Active() {
		if transport, err := r.Get(name); err == nil {
			return name, transport, nil
		}
	}
	return "", nil, &UnavailableError{Name: "any"}
}

// SendVia dispatches an envelope over the named transport.
func (r *Registry) SendVia(ctx context.Context, name string, envelope Envelope) error {
	transport, err := r.Get(name)
	if err != nil {
		return err
	}
	return transport.Send(ctx, envelope)
}

// Discoverers returns the active transports that support peer discovery,
// keyed by name.
func (r *Registry) Discoverers() map[string]Discoverer {
	discoverers := make(map[string]Discoverer)
	for _, name := range r.Active() {
		if transport, err := r.Get(name); err == nil {
			if discoverer, ok := transport.(Discoverer); ok {
				discoverers[name] = discoverer
			}
		}
	}
	return discoverers
}

// Shutdown stops every active transport. Failures are logged, not returned:
// shutdown keeps going.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mutex.Lock()
	transports := make(map[string]Transport, len(r.transports))
	for name, transport := range r.transports {
		transports[name] = transport
	}
	r.transports = make(map[string]Transport)
	r.mutex.Unlock()

	for name, transport := range transports {
		if err := transport.Shutdown(ctx); err != nil {
			slog.Error(fmt.Sprintf("Couldn't shut down transport %s: %s", name, err.Error()))
		}
		r.setStatus(name, StatusInfo{Status: StatusInactive})
	}
}
