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

// Package peers maintains the peer directory: discovery across transports,
// connection management, and per-peer transfer history.
package peers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/firma-sign/firma-sign/events"
	"github.com/firma-sign/firma-sign/store"
	"github.com/firma-sign/firma-sign/transports"
)

// the identity this server uses on its own connection rows
const LocalPeerId = "self"

// indicates that no transport could reach a peer
type UnreachableError struct {
	PeerId string
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("peer %s could not be reached on any transport", e.PeerId)
}

// a peer plus the activity the directory knows about
type Details struct {
	Peer              store.Peer
	SentTransfers     int
	ReceivedTransfers int
	Connections       []store.PeerConnection
}

type Service struct {
	store    *store.Store
	registry *transports.Registry
	bus      *events.Bus
}

func NewService(st *store.Store, registry *transports.Registry, bus *events.Bus) *Service {
	return &Service{store: st, registry: registry, bus: bus}
}

// Discover queries discovery-capable transports for peers matching the query
// and merges the candidates into the directory. A non-empty transport list
// restricts the search to those transports. A transport that fails is
// skipped; the others still contribute.
func (s *Service) Discover(ctx context.Context, query string,
	transportNames []string) ([]store.Peer, error) {
	requested := make(map[string]bool, len(transportNames))
	for _, name := range transportNames {
		requested[name] = true
	}
	for name, discoverer := range s.registry.Discoverers() {
		if len(requested) > 0 && !requested[name] {
			continue
		}
		candidates, err := discoverer.DiscoverPeers(ctx, query)
		if err != nil {
			slog.Error(fmt.Sprintf("Peer discovery failed on transport %s: %s",
				name, err.Error()))
			continue
		}
		for _, candidate := range candidates {
			if err := s.mergeCandidate(ctx, name, candidate); err != nil {
				slog.Error(fmt.Sprintf("Couldn't merge discovered peer %s (%s): %s",
					candidate.Identifier, name, err.Error()))
			}
		}
	}
	return s.store.Peers.Find(ctx, store.PeerCriteria{Name: query})
}

// folds one discovered candidate into the directory
func (s *Service) mergeCandidate(ctx context.Context, transport string,
	candidate transports.PeerCandidate) error {
	existing, err := s.store.Peers.FindByIdentifier(ctx, transport, candidate.Identifier)
	if err == nil {
		if candidate.DisplayName != "" && candidate.DisplayName != existing.DisplayName {
			return s.store.Peers.Update(ctx, existing.Id,
				store.PeerPatch{DisplayName: &candidate.DisplayName})
		}
		return nil
	}
	var notFound *store.NotFoundError
	if !errors.As(err, &notFound) {
		return err
	}

	peer := &store.Peer{
		Id:          fmt.Sprintf("peer-%s", uuid.NewString()),
		DisplayName: candidate.DisplayName,
		Metadata:    candidate.Metadata,
		Identifiers: []store.PeerIdentifier{{
			Transport:  transport,
			Identifier: candidate.Identifier,
		}},
	}
	if peer.DisplayName == "" {
		peer.DisplayName = candidate.Identifier
	}
	return s.store.Peers.Create(ctx, peer)
}

// Get returns a peer with its transfer counts and connection history.
func (s *Service) Get(ctx context.Context, peerId string) (*Details, error) {
	peer, err := s.store.Peers.FindById(ctx, peerId)
	if err != nil {
		return nil, err
	}
	sent, received, err := s.store.Transfers.CountByPeer(ctx, peerId)
	if err != nil {
		return nil, err
	}
	connections, err := s.store.Connections.FindByPeer(ctx, peerId)
	if err != nil {
		return nil, err
	}
	return &Details{
		Peer:              *peer,
		SentTransfers:     sent,
		ReceivedTransfers: received,
		Connections:       connections,
	}, nil
}

// List returns the peers matching the given criteria.
func (s *Service) List(ctx context.Context, criteria store.PeerCriteria) ([]store.Peer, error) {
	return s.store.Peers.Find(ctx, criteria)
}

// Connect establishes a connection to a peer. An explicit transport is tried
// first, then the caller's fallbacks in order; with no explicit choice every
// transport the peer has an identifier for is tried in active-transport
// order. Each attempt holds a single connection row per (local, remote,
// transport) triple.
func (s *Service) Connect(ctx context.Context, peerId, transport string,
	fallbacks []string, options map[string]any) (*store.PeerConnection, error) {
	peer, err := s.store.Peers.FindById(ctx, peerId)
	if err != nil {
		return nil, err
	}

	attempts := s.connectionPlan(peer, transport, fallbacks)
	if len(attempts) == 0 {
		return nil, &UnreachableError{PeerId: peerId}
	}

	for _, attempt := range attempts {
		conn := &store.PeerConnection{
			LocalPeer:  LocalPeerId,
			RemotePeer: peerId,
			Transport:  attempt.transport,
			Direction:  store.DirectionOutbound,
			Status:     store.ConnectionConnecting,
		}
		if err := s.store.Connections.UpsertOpen(ctx, conn); err != nil {
			return nil, err
		}

		if err := s.dial(ctx, attempt, options); err != nil {
			slog.Error(fmt.Sprintf("Couldn't connect to peer %s via %s: %s",
				peerId, attempt.transport, err.Error()))
			s.store.Connections.CloseConnection(ctx, LocalPeerId, peerId,
				attempt.transport, store.ConnectionFailed)
			continue
		}

		now := time.Now().UTC()
		conn.Status = store.ConnectionConnected
		conn.ConnectedAt = &now
		if err := s.store.Connections.UpsertOpen(ctx, conn); err != nil {
			return nil, err
		}
		online := store.PeerOnline
		s.store.Peers.Update(ctx, peerId, store.PeerPatch{Status: &online, LastSeen: &now})
		if s.bus != nil {
			s.bus.Publish(events.TopicPeerConnected, map[string]any{
				"peerId":    peerId,
				"transport": attempt.transport,
			})
		}
		return conn, nil
	}
	return nil, &UnreachableError{PeerId: peerId}
}

type connectionAttempt struct {
	transport  string
	identifier string
}

// orders the transports to try for a peer: the explicit choice first, then
// the caller's fallbacks; with neither, the peer's identifiers are walked in
// active-transport order
func (s *Service) connectionPlan(peer *store.Peer, transport string,
	fallbacks []string) []connectionAttempt {
	identifierFor := make(map[string]string)
	for _, identifier := range peer.Identifiers {
		identifierFor[identifier.Transport] = identifier.Identifier
	}

	if transport != "" || len(fallbacks) > 0 {
		var attempts []connectionAttempt
		planned := make(map[string]bool)
		names := append([]string{transport}, fallbacks...)
		for _, name := range names {
			if name == "" || planned[name] {
				continue
			}
			planned[name] = true
			if identifier, found := identifierFor[name]; found {
				attempts = append(attempts, connectionAttempt{transport: name, identifier: identifier})
			}
		}
		return attempts
	}

	var attempts []connectionAttempt
	for _, name := range s.registry.Active() {
		if identifier, found := identifierFor[name]; found {
			attempts = append(attempts, connectionAttempt{transport: name, identifier: identifier})
		}
	}
	return attempts
}

// performs one connection attempt over a transport
func (s *Service) dial(ctx context.Context, attempt connectionAttempt,
	options map[string]any) error {
	transport, err := s.registry.Get(attempt.transport)
	if err != nil {
		return err
	}
	if connector, ok := transport.(transports.Connector); ok {
		return connector.Connect(ctx, attempt.identifier, options)
	}
	// connectionless transports (email and friends) are reachable by default
	return nil
}

// Disconnect closes the open connection to a peer over the given transport
// (or every transport, when none is given).
func (s *Service) Disconnect(ctx context.Context, peerId, transport string) error {
	peer, err := s.store.Peers.FindById(ctx, peerId)
	if err != nil {
		return err
	}

	names := []string{transport}
	if transport == "" {
		names = s.registry.Active()
	}
	for _, name := range names {
		if t, err := s.registry.Get(name); err == nil {
			if connector, ok := t.(transports.Connector); ok {
				identifier := ""
				for _, id := range peer.Identifiers {
					if id.Transport == name {
						identifier = id.Identifier
					}
				}
				if identifier != "" {
					connector.Disconnect(ctx, identifier)
				}
			}
		}
		err := s.store.Connections.CloseConnection(ctx, LocalPeerId, peerId, name,
			store.ConnectionDisconnected)
		if err != nil {
			return err
		}
	}

	offline := store.PeerOffline
	if err := s.store.Peers.Update(ctx, peerId, store.PeerPatch{Status: &offline}); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicPeerDisconnected, map[string]any{"peerId": peerId})
	}
	return nil
}

// Transfers returns a peer's transfer history, optionally filtered by type.
func (s *Service) Transfers(ctx context.Context, peerId string,
	transferType store.TransferType) ([]store.Transfer, error) {
	if _, err := s.store.Peers.FindById(ctx, peerId); err != nil {
		return nil, err
	}
	return s.store.Transfers.FindByPeer(ctx, peerId, transferType)
}
