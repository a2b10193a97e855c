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
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository for the peer directory and per-transport peer identifiers.
type PeerRepository struct {
	q querier
}

// fields of a peer that may be updated after creation; nil fields are left
// untouched
type PeerPatch struct {
	DisplayName *string
	Avatar      *string
	Status      *PeerStatus
	TrustLevel  *TrustLevel
	LastSeen    *time.Time
	PublicKey   *string
	Metadata    map[string]any
}

// criteria for finding peers; zero values are ignored
type PeerCriteria struct {
	Name       string
	OnlineOnly bool
	Verified   bool
}

func (r *PeerRepository) Create(ctx context.Context, peer *Peer) error {
	now := time.Now().UTC()
	peer.CreatedAt = now
	peer.UpdatedAt = now
	if peer.Status == "" {
		peer.Status = PeerOffline
	}
	if peer.TrustLevel == "" {
		peer.TrustLevel = TrustUnverified
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO peers (id, display_name, avatar, status, trust_level, last_seen,
			public_key, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		peer.Id, peer.DisplayName, peer.Avatar, peer.Status, peer.TrustLevel,
		peer.LastSeen, peer.PublicKey, encodeJSON(peer.Metadata), now, now)
	if err != nil {
		return mapError(err)
	}
	for i := range peer.Identifiers {
		peer.Identifiers[i].PeerId = peer.Id
		if err := r.AddIdentifier(ctx, peer.Identifiers[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *PeerRepository) Update(ctx context.Context, id string, patch PeerPatch) error {
	peer, err := r.FindById(ctx, id)
	if err != nil {
		return err
	}
	if patch.DisplayName != nil {
		peer.DisplayName = *patch.DisplayName
	}
	if patch.Avatar != nil {
		peer.Avatar = *patch.Avatar
	}
	if patch.Status != nil {
		peer.Status = *patch.Status
	}
	if patch.TrustLevel != nil {
		peer.TrustLevel = *patch.TrustLevel
	}
	if patch.LastSeen != nil {
		peer.LastSeen = patch.LastSeen
	}
	if patch.PublicKey != nil {
		peer.PublicKey = *patch.PublicKey
	}
	if patch.Metadata != nil {
		peer.Metadata = patch.Metadata
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE peers SET display_name = ?, avatar = ?, status = ?, trust_level = ?,
			last_seen = ?, public_key = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		peer.DisplayName, peer.Avatar, peer.Status, peer.TrustLevel, peer.LastSeen,
		peer.PublicKey, encodeJSON(peer.Metadata), time.Now().UTC(), id)
	return mapError(err)
}

func (r *PeerRepository) FindById(ctx context.Context, id string) (*Peer, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, display_name, avatar, status, trust_level, last_seen, public_key,
			metadata, created_at, updated_at
		 FROM peers WHERE id = ?`, id)
	peer, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "peer", Id: id}
		}
		return nil, mapError(err)
	}
	peer.Identifiers, err = r.identifiersFor(ctx, id)
	return peer, err
}

func (r *PeerRepository) Find(ctx context.Context, criteria PeerCriteria) ([]Peer, error) {
	query := `SELECT id, display_name, avatar, status, trust_level, last_seen, public_key,
		metadata, created_at, updated_at FROM peers WHERE 1=1`
	args := []any{}
	if criteria.Name != "" {
		query += ` AND display_name LIKE ?`
		args = append(args, "%"+criteria.Name+"%")
	}
	if criteria.OnlineOnly {
		query += ` AND status = ?`
		args = append(args, PeerOnline)
	}
	if criteria.Verified {
		query += ` AND trust_level = ?`
		args = append(args, TrustVerified)
	}
	query += ` ORDER BY display_name`
	return r.queryPeers(ctx, query, args...)
}

func (r *PeerRepository) FindAll(ctx context.Context) ([]Peer, error) {
	return r.Find(ctx, PeerCriteria{})
}

func (r *PeerRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM peers WHERE id = ?`, id)
	return mapError(err)
}

// registers a per-transport address for a peer; the (transport, identifier)
// pair is unique across all peers
func (r *PeerRepository) AddIdentifier(ctx context.Context, identifier PeerIdentifier) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO peer_identifiers (peer_id, transport, identifier, verified)
		 VALUES (?, ?, ?, ?)`,
		identifier.PeerId, identifier.Transport, identifier.Identifier, identifier.Verified)
	return mapError(err)
}

// finds the peer carrying the given (transport, identifier) address
func (r *PeerRepository) FindByIdentifier(ctx context.Context, transport, identifier string) (*Peer, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT peer_id FROM peer_identifiers WHERE transport = ? AND identifier = ?`,
		transport, identifier)
	var peerId string
	if err := row.Scan(&peerId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "peer", Id: transport + ":" + identifier}
		}
		return nil, mapError(err)
	}
	return r.FindById(ctx, peerId)
}

func (r *PeerRepository) identifiersFor(ctx context.Context, peerId string) ([]PeerIdentifier, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT peer_id, transport, identifier, verified FROM peer_identifiers
		 WHERE peer_id = ? ORDER BY transport, identifier`, peerId)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var identifiers []PeerIdentifier
	for rows.Next() {
		var ident PeerIdentifier
		if err := rows.Scan(&ident.PeerId, &ident.Transport, &ident.Identifier, &ident.Verified); err != nil {
			return nil, mapError(err)
		}
		identifiers = append(identifiers, ident)
	}
	return identifiers, mapError(rows.Err())
}

func (r *PeerRepository) queryPeers(ctx context.Context, query string, args ...any) ([]Peer, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var peers []Peer
	for rows.Next() {
		peer, err := scanPeer(rows)
		if err != nil {
			return nil, mapError(err)
		}
		peers = append(peers, *peer)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	for i := range peers {
		peers[i].Identifiers, err = r.identifiersFor(ctx, peers[i].Id)
		if err != nil {
			return nil, err
		}
	}
	return peers, nil
}

// the scanning subset shared by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeer(row rowScanner) (*Peer, error) {
	var peer Peer
	var lastSeen sql.NullTime
	var metadata string
	err := row.Scan(&peer.Id, &peer.DisplayName, &peer.Avatar, &peer.Status,
		&peer.TrustLevel, &lastSeen, &peer.PublicKey, &metadata,
		&peer.CreatedAt, &peer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		peer.LastSeen = &lastSeen.Time
	}
	peer.Metadata = decodeJSON(metadata)
	return &peer, nil
}
