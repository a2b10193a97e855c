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

// Repository for peer connection records.
type ConnectionRepository struct {
	q querier
}

// UpsertOpen records a connection attempt, reusing any existing non-closed
// row for the (local, remote, transport) triple so that at most one open
// connection row exists per triple.
func (r *ConnectionRepository) UpsertOpen(ctx context.Context, conn *PeerConnection) error {
	row := r.q.QueryRowContext(ctx,
		`SELECT id FROM peer_connections
		 WHERE local_peer = ? AND remote_peer = ? AND transport = ?
		   AND status IN (?, ?)`,
		conn.LocalPeer, conn.RemotePeer, conn.Transport,
		ConnectionConnecting, ConnectionConnected)
	var id int64
	switch err := row.Scan(&id); {
	case err == nil:
		conn.Id = id
		_, err = r.q.ExecContext(ctx,
			`UPDATE peer_connections SET direction = ?, status = ?, connected_at = ?,
				disconnected_at = ? WHERE id = ?`,
			conn.Direction, conn.Status, conn.ConnectedAt, conn.DisconnectedAt, id)
		return mapError(err)
	case errors.Is(err, sql.ErrNoRows):
		result, err := r.q.ExecContext(ctx,
			`INSERT INTO peer_connections (local_peer, remote_peer, transport, direction,
				status, connected_at, disconnected_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			conn.LocalPeer, conn.RemotePeer, conn.Transport, conn.Direction,
			conn.Status, conn.ConnectedAt, conn.DisconnectedAt)
		if err != nil {
			return mapError(err)
		}
		conn.Id, _ = result.LastInsertId()
		return nil
	default:
		return mapError(err)
	}
}

// marks the open connection for the triple with the given status; used both
// for orderly disconnects and for failure teardown
func (r *ConnectionRepository) CloseConnection(ctx context.Context, localPeer, remotePeer, transport string, status ConnectionStatus) error {
	now := time.Now().UTC()
	_, err := r.q.ExecContext(ctx,
		`UPDATE peer_connections SET status = ?, disconnected_at = ?
		 WHERE local_peer = ? AND remote_peer = ? AND transport = ?
		   AND status IN (?, ?)`,
		status, now, localPeer, remotePeer, transport,
		ConnectionConnecting, ConnectionConnected)
	return mapError(err)
}

// returns the connection rows involving the given remote peer, newest first
func (r *ConnectionRepository) FindByPeer(ctx context.Context, remotePeer string) ([]PeerConnection, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, local_peer, remote_peer, transport, direction, status,
			connected_at, disconnected_at
		 FROM peer_connections WHERE remote_peer = ? ORDER BY id DESC`, remotePeer)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var conns []PeerConnection
	for rows.Next() {
		var conn PeerConnection
		var connectedAt, disconnectedAt sql.NullTime
		err := rows.Scan(&conn.Id, &conn.LocalPeer, &conn.RemotePeer, &conn.Transport,
			&conn.Direction, &conn.Status, &connectedAt, &disconnectedAt)
		if err != nil {
			return nil, mapError(err)
		}
		if connectedAt.Valid {
			conn.ConnectedAt = &connectedAt.Time
		}
		if disconnectedAt.Valid {
			conn.DisconnectedAt = &disconnectedAt.Time
		}
		conns = append(conns, conn)
	}
	return conns, mapError(rows.Err())
}

// returns the open connection for the triple, if any
func (r *ConnectionRepository) FindOpen(ctx context.Context, localPeer, remotePeer, transport string) (*PeerConnection, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, local_peer, remote_peer, transport, direction, status,
			connected_at, disconnected_at
		 FROM peer_connections
		 WHERE local_peer = ? AND remote_peer = ? AND transport = ?
		   AND status IN (?, ?)`,
		localPeer, remotePeer, transport, ConnectionConnecting, ConnectionConnected)
	var conn PeerConnection
	var connectedAt, disconnectedAt sql.NullTime
	err := row.Scan(&conn.Id, &conn.LocalPeer, &conn.RemotePeer, &conn.Transport,
		&conn.Direction, &conn.Status, &connectedAt, &disconnectedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "connection", Id: remotePeer + "/" + transport}
		}
		return nil, mapError(err)
	}
	if connectedAt.Valid {
		conn.ConnectedAt = &connectedAt.Time
	}
	if disconnectedAt.Valid {
		conn.DisconnectedAt = &disconnectedAt.Time
	}
	return &conn, nil
}
