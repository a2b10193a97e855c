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
	"database/sql"
	"fmt"
)

// Forward-only migration scripts. The position in this slice (plus one) is
// the schema version; never reorder or edit an entry that has shipped.
var migrations = []string{
	`
CREATE TABLE peers (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	avatar TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'offline',
	trust_level TEXT NOT NULL DEFAULT 'unverified',
	last_seen TIMESTAMP,
	public_key TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE peer_identifiers (
	peer_id TEXT NOT NULL REFERENCES peers(id) ON DELETE CASCADE,
	transport TEXT NOT NULL,
	identifier TEXT NOT NULL,
	verified INTEGER NOT NULL DEFAULT 0,
	UNIQUE (transport, identifier)
);
CREATE INDEX idx_peer_identifiers ON peer_identifiers (transport, identifier);

CREATE TABLE peer_connections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	local_peer TEXT NOT NULL,
	remote_peer TEXT NOT NULL,
	transport TEXT NOT NULL,
	direction TEXT NOT NULL,
	status TEXT NOT NULL,
	connected_at TIMESTAMP,
	disconnected_at TIMESTAMP
);
CREATE INDEX idx_peer_connections ON peer_connections (local_peer, remote_peer, transport);

CREATE TABLE transfers (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	code TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL DEFAULT '{}',
	transport TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_transfers_type_status ON transfers (type, status);

CREATE TABLE documents (
	id TEXT PRIMARY KEY,
	transfer_id TEXT NOT NULL REFERENCES transfers(id) ON DELETE CASCADE,
	file_name TEXT NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	file_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'draft',
	category TEXT NOT NULL DEFAULT 'uploaded',
	stored_name TEXT NOT NULL DEFAULT '',
	signed_by TEXT NOT NULL DEFAULT '',
	signed_at TIMESTAMP,
	version INTEGER NOT NULL DEFAULT 1,
	previous_version_id TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_documents_transfer_status ON documents (transfer_id, status);

CREATE TABLE recipients (
	id TEXT PRIMARY KEY,
	transfer_id TEXT NOT NULL REFERENCES transfers(id) ON DELETE CASCADE,
	identifier TEXT NOT NULL,
	transport TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	preferences TEXT NOT NULL DEFAULT '{}',
	notified_at TIMESTAMP,
	viewed_at TIMESTAMP,
	signed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_recipients_transfer ON recipients (transfer_id, identifier);

CREATE TABLE messages (
	id TEXT PRIMARY KEY,
	from_peer TEXT NOT NULL,
	to_peer TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT 'text',
	transport TEXT NOT NULL DEFAULT '',
	direction TEXT NOT NULL DEFAULT 'outbound',
	status TEXT NOT NULL DEFAULT 'pending',
	attachments TEXT NOT NULL DEFAULT '[]',
	encrypted INTEGER NOT NULL DEFAULT 0,
	sent_at TIMESTAMP,
	delivered_at TIMESTAMP,
	read_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX idx_messages_conversation ON messages (from_peer, to_peer, created_at DESC);

CREATE TABLE groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	owner_peer TEXT NOT NULL,
	settings TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE group_members (
	group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
	peer_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'member',
	joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (group_id, peer_id)
);
CREATE INDEX idx_group_members ON group_members (group_id, peer_id);

CREATE TABLE transport_configs (
	transport TEXT PRIMARY KEY,
	config TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT '',
	initialized_at TIMESTAMP
);
`,
	`
ALTER TABLE documents ADD COLUMN signature BLOB;
`,
}

// Applies any migration scripts beyond the database's current schema version,
// each in its own transaction. A failure leaves the version untouched and
// aborts startup.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return &SchemaError{Message: err.Error()}
	}

	var version int
	row := db.QueryRow(`SELECT version FROM schema_version`)
	switch err := row.Scan(&version); err {
	case nil:
	case sql.ErrNoRows:
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return &SchemaError{Message: err.Error()}
		}
	default:
		return &SchemaError{Message: err.Error()}
	}

	if version > len(migrations) {
		return &SchemaError{
			Message: fmt.Sprintf("database schema version %d is newer than this build supports (%d)",
				version, len(migrations)),
		}
	}

	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return &SchemaError{Message: err.Error()}
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return &SchemaError{Message: fmt.Sprintf("migration %d: %s", v+1, err.Error())}
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, v+1); err != nil {
			tx.Rollback()
			return &SchemaError{Message: err.Error()}
		}
		if err := tx.Commit(); err != nil {
			return &SchemaError{Message: err.Error()}
		}
	}
	return nil
}
