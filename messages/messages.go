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

// Package messages implements peer-to-peer messaging on top of the message
// journal: sending with asynchronous delivery confirmation, history
// pagination, read receipts, and search.
package messages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/firma-sign/firma-sign/events"
	"github.com/firma-sign/firma-sign/metrics"
	"github.com/firma-sign/firma-sign/store"
	"github.com/firma-sign/firma-sign/transports"
)

// the default page size for message history
const DefaultHistoryLimit = 50

// a request to send a message to a peer
type SendRequest struct {
	FromPeer    string
	ToPeer      string
	Content     string
	Type        store.MessageType
	Transport   string // empty to pick automatically
	Attachments []store.Attachment
	Encrypted   bool
}

type Service struct {
	store    *store.Store
	registry *transports.Registry
	bus      *events.Bus
}

func NewService(st *store.Store, registry *transports.Registry, bus *events.Bus) *Service {
	return &Service{store: st, registry: registry, bus: bus}
}

// Send persists an outgoing message and hands it to a transport. The message
// is journaled as sent immediately; delivery confirmation arrives
// asynchronously and advances it to delivered (or parks it in failed).
func (s *Service) Send(ctx context.Context, request SendRequest) (*store.Message, error) {
	if request.Type == "" {
		request.Type = store.MessageText
	}

	transportName := request.Transport
	if transportName == "" {
		name, _, err := s.registry.SelectForPeer(request.ToPeer)
		if err != nil {
			return nil, err
		}
		transportName = name
	}

	now := time.Now().UTC()
	message := &store.Message{
		Id:          fmt.Sprintf("msg-%s", uuid.NewString()),
		FromPeer:    request.FromPeer,
		ToPeer:      request.ToPeer,
		Content:     request.Content,
		Type:        request.Type,
		Transport:   transportName,
		Direction:   store.DirectionOutbound,
		Status:      store.MessageSent,
		Attachments: request.Attachments,
		Encrypted:   request.Encrypted,
		SentAt:      &now,
	}
	if err := s.store.Messages.Create(ctx, message); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()
	if s.bus != nil {
		s.bus.Publish(events.TopicMessageSent, map[string]any{
			"messageId": message.Id,
			"fromPeer":  message.FromPeer,
			"toPeer":    message.ToPeer,
			"transport": transportName,
		})
	}

	go s.deliver(message, transportName)
	return message, nil
}

// performs the transport send for a journaled message and records the outcome
func (s *Service) deliver(message *store.Message, transportName string) {
	ctx := context.Background()
	err := s.registry.SendVia(ctx, transportName, transports.Envelope{
		Recipient: message.ToPeer,
		Metadata: map[string]any{
			"messageId": message.Id,
			"kind":      "message",
			"content":   message.Content,
		},
	})
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't deliver message %s via %s: %s",
			message.Id, transportName, err.Error()))
		metrics.TransportSendFailures.WithLabelValues(transportName).Inc()
		s.store.Messages.AdvanceStatus(ctx, message.Id, store.MessageFailed, time.Now().UTC())
		return
	}

	advanced, err := s.store.Messages.AdvanceStatus(ctx, message.Id,
		store.MessageDelivered, time.Now().UTC())
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't record delivery of message %s: %s",
			message.Id, err.Error()))
		return
	}
	if advanced && s.bus != nil {
		s.bus.Publish(events.TopicMessageDelivered, map[string]any{
			"messageId": message.Id,
			"toPeer":    message.ToPeer,
		})
	}
}

// SendFrom is the plain-string form of Send used by the WebSocket gateway.
func (s *Service) SendFrom(fromPeer, toPeer, content string) error {
	_, err := s.Send(context.Background(), SendRequest{
		FromPeer: fromPeer,
		ToPeer:   toPeer,
		Content:  content,
	})
	return err
}

// History returns a page of the conversation between two peers, newest
// first, and reports whether older messages remain beyond the page.
func (s *Service) History(ctx context.Context, peerA, peerB string,
	before, after *time.Time, limit int) ([]store.Message, bool, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	// fetch one past the page to learn whether more remain
	page, err := s.store.Messages.FindByPeerPair(ctx, peerA, peerB, before, after, limit+1)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}
	return page, hasMore, nil
}

// MarkRead marks messages addressed to a peer as read: either the given ids,
// or every unread message from fromPeer when no ids are given. Re-marking is
// a no-op, so the returned count only reflects messages newly marked.
func (s *Service) MarkRead(ctx context.Context, toPeer string, ids []string,
	fromPeer string) (int, error) {
	if len(ids) == 0 {
		if fromPeer == "" {
			return 0, nil
		}
		unread, err := s.store.Messages.UnreadIds(ctx, fromPeer, toPeer)
		if err != nil {
			return 0, err
		}
		ids = unread
	}
	if len(ids) == 0 {
		return 0, nil
	}

	count, err := s.store.Messages.MarkRead(ctx, toPeer, ids, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 && s.bus != nil {
		s.bus.Publish(events.TopicMessageRead, map[string]any{
			"toPeer":     toPeer,
			"messageIds": ids,
			"count":      count,
		})
	}
	return count, nil
}

// UnreadCount returns the number of unread messages addressed to a peer.
func (s *Service) UnreadCount(ctx context.Context, toPeer string) (int, error) {
	return s.store.Messages.UnreadCount(ctx, toPeer)
}

// Search returns a peer's messages whose content matches the query.
func (s *Service) Search(ctx context.Context, peerId, query string, limit int) ([]store.Message, error) {
	return s.store.Messages.Search(ctx, peerId, query, limit)
}
