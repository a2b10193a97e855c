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

// Package groups manages named peer groups and fans group sends out to the
// messaging and transfer subsystems.
package groups

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/firma-sign/firma-sign/events"
	"github.com/firma-sign/firma-sign/messages"
	"github.com/firma-sign/firma-sign/store"
	"github.com/firma-sign/firma-sign/transfers"
)

// indicates an attempt to remove a group's owner without first transferring
// ownership
type OwnerRemovalError struct {
	GroupId string
	PeerId  string
}

func (e *OwnerRemovalError) Error() string {
	return fmt.Sprintf("peer %s owns group %s and cannot be removed; transfer ownership first",
		e.PeerId, e.GroupId)
}

// indicates an ownership transfer to a peer outside the group
type NotAMemberError struct {
	GroupId string
	PeerId  string
}

func (e *NotAMemberError) Error() string {
	return fmt.Sprintf("peer %s is not a member of group %s", e.PeerId, e.GroupId)
}

// the outcome of one recipient's share of a group send
type DeliveryResult struct {
	PeerId string `json:"peerId"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Service struct {
	store     *store.Store
	router    *transfers.Router
	messenger *messages.Service
	bus       *events.Bus
}

func NewService(st *store.Store, router *transfers.Router,
	messenger *messages.Service, bus *events.Bus) *Service {
	return &Service{store: st, router: router, messenger: messenger, bus: bus}
}

// Create makes a group with the given owner, who joins as an admin member.
func (s *Service) Create(ctx context.Context, name, description, ownerPeer string,
	settings map[string]any) (*store.Group, error) {
	group := &store.Group{
		Id:          fmt.Sprintf("group-%s", uuid.NewString()),
		Name:        name,
		Description: description,
		OwnerPeer:   ownerPeer,
		Settings:    settings,
		Members: []store.GroupMember{
			{PeerId: ownerPeer, Role: store.RoleAdmin},
		},
	}
	if err := s.store.Groups.Create(ctx, group); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicGroupCreated, map[string]any{
			"groupId": group.Id,
			"name":    group.Name,
			"owner":   ownerPeer,
		})
	}
	return s.store.Groups.FindById(ctx, group.Id)
}

// Get returns a group with its members.
func (s *Service) Get(ctx context.Context, groupId string) (*store.Group, error) {
	return s.store.Groups.FindById(ctx, groupId)
}

// List returns every group.
func (s *Service) List(ctx context.Context) ([]store.Group, error) {
	return s.store.Groups.FindAll(ctx)
}

// Delete removes a group and its memberships.
func (s *Service) Delete(ctx context.Context, groupId string) error {
	if _, err := s.store.Groups.FindById(ctx, groupId); err != nil {
		return err
	}
	return s.store.Groups.Delete(ctx, groupId)
}

// AddMember adds a peer to a group.
func (s *Service) AddMember(ctx context.Context, groupId, peerId string,
	role store.GroupRole) error {
	if _, err := s.store.Groups.FindById(ctx, groupId); err != nil {
		return err
	}
	if role == "" {
		role = store.RoleMember
	}
	err := s.store.Groups.AddMember(ctx, store.GroupMember{
		GroupId: groupId,
		PeerId:  peerId,
		Role:    role,
	})
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicGroupMemberAdded, map[string]any{
			"groupId": groupId,
			"peerId":  peerId,
			"role":    string(role),
		})
	}
	return nil
}

// RemoveMember removes a peer from a group. The group's owner can never be
// removed; ownership must move to another member first.
func (s *Service) RemoveMember(ctx context.Context, groupId, peerId string) error {
	group, err := s.store.Groups.FindById(ctx, groupId)
	if err != nil {
		return err
	}
	if group.OwnerPeer == peerId {
		return &OwnerRemovalError{GroupId: groupId, PeerId: peerId}
	}
	if err := s.store.Groups.RemoveMember(ctx, groupId, peerId); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicGroupMemberRemoved, map[string]any{
			"groupId": groupId,
			"peerId":  peerId,
		})
	}
	return nil
}

// UpdateMemberRole changes a member's role.
func (s *Service) UpdateMemberRole(ctx context.Context, groupId, peerId string,
	role store.GroupRole) error {
	if _, err := s.store.Groups.FindById(ctx, groupId); err != nil {
		return err
	}
	if err := s.store.Groups.UpdateMemberRole(ctx, groupId, peerId, role); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.TopicGroupMemberUpdated, map[string]any{
			"groupId": groupId,
			"peerId":  peerId,
			"role":    string(role),
		})
	}
	return nil
}

// TransferOwnership hands a group to another member, who becomes an admin.
func (s *Service) TransferOwnership(ctx context.Context, groupId, newOwner string) error {
	group, err := s.store.Groups.FindById(ctx, groupId)
	if err != nil {
		return err
	}
	isMember := false
	for _, member := range group.Members {
		if member.PeerId == newOwner {
			isMember = true
		}
	}
	if !isMember {
		return &NotAMemberError{GroupId: groupId, PeerId: newOwner}
	}

	if err := s.store.Groups.Update(ctx, groupId,
		store.GroupPatch{OwnerPeer: &newOwner}); err != nil {
		return err
	}
	return s.store.Groups.UpdateMemberRole(ctx, groupId, newOwner, store.RoleAdmin)
}

// collects the peer ids a group send skips: the sender plus any explicitly
// excluded members
func skipSet(fromPeer string, exclude []string) map[string]bool {
	skip := map[string]bool{fromPeer: true}
	for _, peerId := range exclude {
		skip[peerId] = true
	}
	return skip
}

// SendMessage fans a message out to every group member except the sender and
// the excluded peers, and reports the per-member outcome. One member failing
// doesn't stop the rest.
func (s *Service) SendMessage(ctx context.Context, groupId, fromPeer,
	content string, exclude []string) ([]DeliveryResult, error) {
	group, err := s.store.Groups.FindById(ctx, groupId)
	if err != nil {
		return nil, err
	}

	skip := skipSet(fromPeer, exclude)
	results := make([]DeliveryResult, 0, len(group.Members))
	for _, member := range group.Members {
		if skip[member.PeerId] {
			continue
		}
		result := DeliveryResult{PeerId: member.PeerId, Status: "sent"}
		_, err := s.messenger.Send(ctx, messages.SendRequest{
			FromPeer: fromPeer,
			ToPeer:   member.PeerId,
			Content:  content,
		})
		if err != nil {
			result.Status = "failed"
			result.Error = err.Error()
		}
		results = append(results, result)
	}

	if s.bus != nil {
		s.bus.Publish(events.TopicGroupMessage, map[string]any{
			"groupId":    groupId,
			"fromPeer":   fromPeer,
			"recipients": len(results),
		})
	}
	return results, nil
}

// SendTransfer creates one transfer addressed to every group member except
// the sender and the excluded peers.
func (s *Service) SendTransfer(ctx context.Context, groupId, fromPeer string,
	docs []transfers.DocumentInput, transport string,
	exclude []string) (*transfers.CreateResult, error) {
	group, err := s.store.Groups.FindById(ctx, groupId)
	if err != nil {
		return nil, err
	}

	skip := skipSet(fromPeer, exclude)
	recipients := make([]transfers.RecipientInput, 0, len(group.Members))
	for _, member := range group.Members {
		if skip[member.PeerId] {
			continue
		}
		recipients = append(recipients, transfers.RecipientInput{
			Identifier: member.PeerId,
			Transport:  transport,
		})
	}

	return s.router.Create(ctx, transfers.CreateRequest{
		Documents:  docs,
		Recipients: recipients,
		Transport:  transport,
		Sender:     map[string]any{"peerId": fromPeer, "groupId": groupId},
		Metadata:   map[string]any{"groupId": groupId},
	})
}
