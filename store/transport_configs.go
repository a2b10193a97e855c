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
)

// Repository for persisted transport configuration and status.
type TransportConfigRepository struct {
	q querier
}

// Save inserts or replaces the configuration row for a transport.
func (r *TransportConfigRepository) Save(ctx context.Context, cfg *TransportConfig) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO transport_configs (transport, config, status, initialized_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (transport) DO UPDATE SET config = excluded.config,
			status = excluded.status, initialized_at = excluded.initialized_at`,
		cfg.Transport, encodeJSON(cfg.Config), cfg.Status, cfg.InitializedAt)
	return mapError(err)
}

func (r *TransportConfigRepository) Find(ctx context.Context, transport string) (*TransportConfig, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT transport, config, status, initialized_at FROM transport_configs
		 WHERE transport = ?`, transport)
	var cfg TransportConfig
	var config string
	var initializedAt sql.NullTime
	err := row.Scan(&cfg.Transport, &config, &cfg.Status, &initializedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "transport config", Id: transport}
		}
		return nil, mapError(err)
	}
	cfg.Config = decodeJSON(config)
	if initializedAt.Valid {
		cfg.InitializedAt = &initializedAt.Time
	}
	return &cfg, nil
}

func (r *TransportConfigRepository) FindAll(ctx context.Context) ([]TransportConfig, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT transport, config, status, initialized_at FROM transport_configs
		 ORDER BY transport`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var configs []TransportConfig
	for rows.Next() {
		var cfg TransportConfig
		var config string
		var initializedAt sql.NullTime
		if err := rows.Scan(&cfg.Transport, &config, &cfg.Status, &initializedAt); err != nil {
			return nil, mapError(err)
		}
		cfg.Config = decodeJSON(config)
		if initializedAt.Valid {
			cfg.InitializedAt = &initializedAt.Time
		}
		configs = append(configs, cfg)
	}
	return configs, mapError(rows.Err())
}
