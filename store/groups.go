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

// Repository for peer groups and their membership tables.
type GroupRepository struct {
	q querier
}

// fields of a group that may be updated after creation
type GroupPatch struct {
	Name        *string
	Description *string
	OwnerPeer   *string
	Settings    map[string]any
}

const groupColumns = `id, name, description, owner_peer, settings, created_at, updated_at`

func (r *GroupRepository) Create(ctx context.Context, group *Group) error {
	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO groups (`+groupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		group.Id, group.Name, group.Description, group.OwnerPeer,
		encodeJSON(group.Settings), now, now)
	if err != nil {
		return mapError(err)
	}
	for i := range group.Members {
		group.Members[i].GroupId = group.Id
		if err := r.AddMember(ctx, group.Members[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *GroupRepository) Update(ctx context.Context, id string, patch GroupPatch) error {
	group, err := r.FindById(ctx, id)
	if err != nil {
		return err
	}
	if patch.Name != nil {
		group.Name = *patch.Name
	}
	if patch.Description != nil {
		group.Description = *patch.Description
	}
	if patch.OwnerPeer != nil {
		group.OwnerPeer = *patch.OwnerPeer
	}
	if patch.Settings != nil {
		group.Settings = patch.Settings
	}
	_, err = r.q.ExecContext(ctx,
		`UPDATE groups SET name = ?, description = ?, owner_peer = ?, settings = ?,
			updated_at = ? WHERE id = ?`,
		group.Name, group.Description, group.OwnerPeer, encodeJSON(group.Settings),
		time.Now().UTC(), id)
	return mapError(err)
}

func (r *GroupRepository) FindById(ctx context.Context, id string) (*Group, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE id = ?`, id)
	group, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Entity: "group", Id: id}
		}
		return nil, mapError(err)
	}
	group.Members, err = r.Members(ctx, id)
	return group, err
}

func (r *GroupRepository) FindAll(ctx context.Context) ([]Group, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM groups ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, mapError(err)
		}
		groups = append(groups, *group)
	}
	return groups, mapError(rows.Err())
}

func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	return mapError(err)
}

func (r *GroupRepository) AddMember(ctx context.Context, member GroupMember) error {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	if member.Role == "" {
		member.Role = RoleMember
	}
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO group_members (group_id, peer_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		member.GroupId, member.PeerId, member.Role, member.JoinedAt)
	return mapError(err)
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupId, peerId string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND peer_id = ?`, groupId, peerId)
	return mapError(err)
}

func (r *GroupRepository) UpdateMemberRole(ctx context.Context, groupId, peerId string, role GroupRole) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE group_members SET role = ? WHERE group_id = ? AND peer_id = ?`,
		role, groupId, peerId)
	if err != nil {
		return mapError(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "group member", Id: peerId}
	}
	return nil
}

func (r *GroupRepository) Members(ctx context.Context, groupId string) ([]GroupMember, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT group_id, peer_id, role, joined_at FROM group_members
		 WHERE group_id = ? ORDER BY joined_at`, groupId)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var members []GroupMember
	for rows.Next() {
		var member GroupMember
		if err := rows.Scan(&member.GroupId, &member.PeerId, &member.Role, &member.JoinedAt); err != nil {
			return nil, mapError(err)
		}
		members = append(members, member)
	}
	return members, mapError(rows.Err())
}

func scanGroup(row rowScanner) (*Group, error) {
	var group Group
	var settings string
	err := row.Scan(&group.Id, &group.Name, &group.Description, &group.OwnerPeer,
		&settings, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return nil, err
	}
	group.Settings = decodeJSON(settings)
	return &group, nil
}
