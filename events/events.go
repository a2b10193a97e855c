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

// Package events provides the process-wide bus that carries domain events
// from the services that emit them to the consumers that observe them (the
// WebSocket gateway chief among them). Topics are colon-delimited strings;
// subscribers register interest in one or more topic prefixes.
package events

import (
	"strings"
	"sync"
	"time"
)

// well-known event topics
const (
	TopicTransferCreated    = "transfer:created"
	TopicTransferUpdate     = "transfer:update"
	TopicTransferCancelled  = "transfer:cancelled"
	TopicPeerConnected      = "peer:connected"
	TopicPeerDisconnected   = "peer:disconnected"
	TopicPeerStatus         = "peer:status"
	TopicMessageSent        = "message:sent"
	TopicMessageDelivered   = "message:delivered"
	TopicMessageRead        = "message:read"
	TopicGroupCreated       = "group:created"
	TopicGroupMessage       = "group:message"
	TopicGroupMemberAdded   = "group:member:added"
	TopicGroupMemberRemoved = "group:member:removed"
	TopicGroupMemberUpdated = "group:member:updated"
	TopicTransportStatus    = "transport:status"
)

// number of events a subscriber may fall behind before it is dropped
const DefaultQueueSize = 256

// a single domain event
type Event struct {
	// the event's topic (e.g. "transfer:update")
	Topic string
	// time at which the event was published
	Timestamp time.Time
	// event payload, passed through to consumers uninterpreted
	Data map[string]any
}

// A Subscription receives events whose topics match one of its prefixes.
// Events are delivered on C in the order they were published. A subscriber
// that stops draining C is disconnected by the bus (C is closed) so that
// emitters never block.
type Subscription struct {
	C <-chan Event

	ch       chan Event
	prefixes []string
}

// true if the subscription wants events with the given topic
func (s *Subscription) matches(topic string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// The Bus fans events out to all matching subscribers in registration order.
type Bus struct {
	mutex     sync.Mutex
	subs      []*Subscription
	queueSize int
	closed    bool
}

// creates a bus whose subscribers may buffer up to queueSize events
// (DefaultQueueSize if queueSize is not positive)
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{queueSize: queueSize}
}

// Subscribe registers interest in topics matching any of the given prefixes
// (all topics if none are given). The returned subscription's channel is
// closed when the subscriber is dropped or the bus shuts down.
func (b *Bus) Subscribe(prefixes ...string) *Subscription {
	sub := &Subscription{
		ch:       make(chan Event, b.queueSize),
		prefixes: prefixes,
	}
	sub.C = sub.ch

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.remove(sub)
}

// must be called with the mutex held
func (b *Bus) remove(sub *Subscription) {
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish delivers the event to every matching subscriber. A subscriber
// whose queue is full has fallen too far behind and is disconnected rather
// than allowed to block the emitter.
func (b *Bus) Publish(topic string, data map[string]any) {
	event := Event{
		Topic:     topic,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	var stalled []*Subscription
	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			stalled = append(stalled, sub)
		}
	}
	for _, sub := range stalled {
		b.remove(sub)
	}
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
