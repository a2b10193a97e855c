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

package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/firma-sign/firma-sign/config"
	"github.com/firma-sign/firma-sign/documents"
	"github.com/firma-sign/firma-sign/gateway"
	"github.com/firma-sign/firma-sign/groups"
	"github.com/firma-sign/firma-sign/messages"
	"github.com/firma-sign/firma-sign/metrics"
	"github.com/firma-sign/firma-sign/peers"
	"github.com/firma-sign/firma-sign/store"
	"github.com/firma-sign/firma-sign/transfers"
	"github.com/firma-sign/firma-sign/transports"
)

// Version numbers
var majorVersion = 1
var minorVersion = 0
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// Dependencies collects the subsystems the REST service exposes. Gateway is
// optional; everything else is required.
type Dependencies struct {
	Store     *store.Store
	Registry  *transports.Registry
	Peers     *peers.Service
	Groups    *groups.Service
	Messages  *messages.Service
	Transfers *transfers.Router
	Documents *documents.Service
	Gateway   *gateway.Gateway
}

// This type implements the SignService interface, exposing the Firma-Sign
// server core over REST.
type restService struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	store     *store.Store
	registry  *transports.Registry
	peers     *peers.Service
	groups    *groups.Service
	messages  *messages.Service
	transfers *transfers.Router
	documents *documents.Service
	gateway   *gateway.Gateway
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root
func (service *restService) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: "/docs",
		},
	}, nil
}

type ConnectionsStatusOutput struct {
	Body ConnectionsStatusResponse `doc:"the state of every known transport"`
}

// assembles a status report covering every known transport, initialized
// or not
func (service *restService) transportStatuses(ctx context.Context) ConnectionsStatusResponse {
	statuses := service.registry.Statuses()

	// fold in the persisted initialization times
	initializedAt := make(map[string]*time.Time)
	if persisted, err := service.store.Transports.FindAll(ctx); err == nil {
		for _, row := range persisted {
			initializedAt[row.Transport] = row.InitializedAt
		}
	}

	response := ConnectionsStatusResponse{
		Transports: make([]TransportStatusResponse, 0, len(transports.KnownNames)),
	}
	for _, name := range transports.KnownNames {
		info, ok := statuses[name]
		if !ok {
			info = transports.StatusInfo{Status: transports.StatusUninitialized}
		}
		response.Transports = append(response.Transports, TransportStatusResponse{
			Name:          name,
			Status:        string(info.Status),
			Error:         info.Error,
			Info:          info.Info,
			InitializedAt: initializedAt[name],
		})
	}
	return response
}

// handler method for initializing transports
func (service *restService) initializeConnections(ctx context.Context,
	input *struct {
		Body InitializeRequest `doc:"the transports to initialize, with their settings"`
	}) (*ConnectionsStatusOutput, error) {

	slog.Info(fmt.Sprintf("Initializing %d transport(s)...", len(input.Body.Transports)))
	service.registry.Initialize(ctx, input.Body.Transports, input.Body.Config)

	// persist each transport's settings and outcome so a restart can report
	// what was configured
	statuses := service.registry.Statuses()
	now := time.Now().UTC()
	for _, name := range input.Body.Transports {
		info := statuses[name]
		err := service.store.Transports.Save(ctx, &store.TransportConfig{
			Transport:     name,
			Config:        input.Body.Config[name],
			Status:        string(info.Status),
			InitializedAt: &now,
		})
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't persist configuration for transport %s: %s",
				name, err.Error()))
		}
	}
	return &ConnectionsStatusOutput{Body: service.transportStatuses(ctx)}, nil
}

// handler method for querying transport status
func (service *restService) getConnectionsStatus(ctx context.Context,
	input *struct{}) (*ConnectionsStatusOutput, error) {
	return &ConnectionsStatusOutput{Body: service.transportStatuses(ctx)}, nil
}

type DiscoverOutput struct {
	Body DiscoverResponse `doc:"peers discovered across the requested transports"`
}

// handler method for peer discovery
func (service *restService) discoverPeers(ctx context.Context,
	input *struct {
		Body DiscoverRequest `doc:"the discovery query"`
	}) (*DiscoverOutput, error) {

	slog.Info(fmt.Sprintf("Discovering peers (query: %q)...", input.Body.Query))
	found, err := service.peers.Discover(ctx, input.Body.Query, input.Body.Transports)
	if err != nil {
		return nil, mapDomainError(err)
	}
	response := DiscoverResponse{Peers: make([]PeerResponse, 0, len(found))}
	for _, peer := range found {
		response.Peers = append(response.Peers, peerToResponse(peer))
	}
	return &DiscoverOutput{Body: response}, nil
}

type PeerDetailsOutput struct {
	Body PeerDetailsResponse `doc:"a peer with its connection and transfer history"`
}

// handler method for querying a single peer
func (service *restService) getPeer(ctx context.Context,
	input *struct {
		Id string `path:"id" example:"peer-8c51" doc:"the peer's id"`
	}) (*PeerDetailsOutput, error) {

	details, err := service.peers.Get(ctx, input.Id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	connections := make([]ConnectionResponse, 0, len(details.Connections))
	for _, connection := range details.Connections {
		connections = append(connections, connectionToResponse(connection))
	}
	return &PeerDetailsOutput{
		Body: PeerDetailsResponse{
			Peer:              peerToResponse(details.Peer),
			SentTransfers:     details.SentTransfers,
			ReceivedTransfers: details.ReceivedTransfers,
			Connections:       connections,
		},
	}, nil
}

type ConnectOutput struct {
	Body ConnectResponse `doc:"the established connection"`
}

// handler method for connecting to a peer
func (service *restService) connectPeer(ctx context.Context,
	input *struct {
		Id   string         `path:"id" doc:"the peer's id"`
		Body ConnectRequest `doc:"connection parameters"`
	}) (*ConnectOutput, error) {

	slog.Info(fmt.Sprintf("Connecting to peer %s...", input.Id))
	connection, err := service.peers.Connect(ctx, input.Id,
		input.Body.Transport, input.Body.FallbackTransports, input.Body.Options)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &ConnectOutput{
		Body: ConnectResponse{
			Transport: connection.Transport,
			Status:    string(connection.Status),
		},
	}, nil
}

type DisconnectOutput struct {
	Body StatusResponse `doc:"confirmation that the peer was disconnected"`
}

// handler method for disconnecting from a peer
func (service *restService) disconnectPeer(ctx context.Context,
	input *struct {
		Id string `path:"id" doc:"the peer's id"`
	}) (*DisconnectOutput, error) {

	slog.Info(fmt.Sprintf("Disconnecting from peer %s...", input.Id))
	if err := service.peers.Disconnect(ctx, input.Id, ""); err != nil {
		return nil, mapDomainError(err)
	}
	return &DisconnectOutput{Body: StatusResponse{Status: "disconnected"}}, nil
}

type CreateTransferOutput struct {
	Body CreateTransferResponse `doc:"the created transfer's id and pickup code"`
}

// handler method for sending documents to a single peer
func (service *restService) createPeerTransfer(ctx context.Context,
	input *struct {
		Id   string              `path:"id" doc:"the receiving peer's id"`
		Body PeerTransferRequest `doc:"the documents to send"`
	}) (*CreateTransferOutput, error) {

	docs, err := decodeDocuments(input.Body.Documents)
	if err != nil {
		return nil, err
	}
	result, err := service.transfers.Create(ctx, transfers.CreateRequest{
		Documents: docs,
		Recipients: []transfers.RecipientInput{
			{Identifier: input.Id, Transport: input.Body.Transport,
				Preferences: input.Body.Options},
		},
		Transport: input.Body.Transport,
		Sender:    map[string]any{"peerId": peers.LocalPeerId},
	})
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &CreateTransferOutput{
		Body: CreateTransferResponse{
			TransferId: result.Transfer.Id,
			Code:       result.Code,
			Status:     "created",
		},
	}, nil
}

type TransferListOutput struct {
	Body TransferListResponse `doc:"a list of transfers"`
}

// handler method for querying a peer's transfer history
func (service *restService) getPeerTransfers(ctx context.Context,
	input *struct {
		Id   string `path:"id" doc:"the peer's id"`
		Type string `query:"type" example:"sent" doc:"\"sent\" or \"received\" (both when empty)"`
	}) (*TransferListOutput, error) {

	var transferType store.TransferType
	switch input.Type {
	case "":
	case "sent":
		transferType = store.TransferOutgoing
	case "received":
		transferType = store.TransferIncoming
	default:
		return nil, apiError(http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("Invalid transfer type: %s", input.Type))
	}

	found, err := service.peers.Transfers(ctx, input.Id, transferType)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &TransferListOutput{Body: transferListResponse(found)}, nil
}

type MessageOutput struct {
	Body MessageResponse `doc:"the journaled message"`
}

// handler method for sending a message to a peer
func (service *restService) sendPeerMessage(ctx context.Context,
	input *struct {
		Id   string             `path:"id" doc:"the receiving peer's id"`
		Body SendMessageRequest `doc:"the message to send"`
	}) (*MessageOutput, error) {

	message, err := service.messages.Send(ctx, messages.SendRequest{
		FromPeer:    peers.LocalPeerId,
		ToPeer:      input.Id,
		Content:     input.Body.Content,
		Type:        store.MessageType(input.Body.Type),
		Transport:   input.Body.Transport,
		Attachments: input.Body.Attachments,
		Encrypted:   input.Body.Encrypted,
	})
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &MessageOutput{Body: messageToResponse(*message)}, nil
}

type MessagePageOutput struct {
	Body MessagePageResponse `doc:"a page of the conversation, newest first"`
}

// handler method for reading a conversation with a peer
func (service *restService) getPeerMessages(ctx context.Context,
	input *struct {
		Id     string `path:"id" doc:"the peer's id"`
		Limit  int    `query:"limit" example:"50" doc:"the page size"`
		Before string `query:"before" doc:"only messages older than this RFC 3339 timestamp"`
		After  string `query:"after" doc:"only messages newer than this RFC 3339 timestamp"`
	}) (*MessagePageOutput, error) {

	before, err := parseCursor(input.Before)
	if err != nil {
		return nil, err
	}
	after, err := parseCursor(input.After)
	if err != nil {
		return nil, err
	}

	page, hasMore, err := service.messages.History(ctx, peers.LocalPeerId,
		input.Id, before, after, input.Limit)
	if err != nil {
		return nil, mapDomainError(err)
	}
	response := MessagePageResponse{
		Messages: make([]MessageResponse, 0, len(page)),
		HasMore:  hasMore,
	}
	for _, message := range page {
		response.Messages = append(response.Messages, messageToResponse(message))
	}
	return &MessagePageOutput{Body: response}, nil
}

type ReadMessagesOutput struct {
	Body ReadMessagesResponse `doc:"how many messages were newly marked as read"`
}

// handler method for marking a peer's messages as read
func (service *restService) readPeerMessages(ctx context.Context,
	input *struct {
		Id   string              `path:"id" doc:"the sending peer's id"`
		Body ReadMessagesRequest `doc:"which messages to mark"`
	}) (*ReadMessagesOutput, error) {

	fromPeer := ""
	if input.Body.ReadAll {
		fromPeer = input.Id
	}
	updated, err := service.messages.MarkRead(ctx, peers.LocalPeerId,
		input.Body.MessageIds, fromPeer)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &ReadMessagesOutput{Body: ReadMessagesResponse{Updated: updated}}, nil
}

type GroupOutput struct {
	Body GroupResponse `doc:"a group with its members"`
}

// handler method for creating a group
func (service *restService) createGroup(ctx context.Context,
	input *struct {
		Body CreateGroupRequest `doc:"the group to create"`
	}) (*GroupOutput, error) {

	slog.Info(fmt.Sprintf("Creating group %q...", input.Body.Name))
	group, err := service.groups.Create(ctx, input.Body.Name,
		input.Body.Description, peers.LocalPeerId, input.Body.Settings)
	if err != nil {
		return nil, mapDomainError(err)
	}
	for _, member := range input.Body.Members {
		if member == group.OwnerPeer {
			continue
		}
		if err := service.groups.AddMember(ctx, group.Id, member, ""); err != nil {
			return nil, mapDomainError(err)
		}
	}
	group, err = service.groups.Get(ctx, group.Id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &GroupOutput{Body: groupToResponse(*group)}, nil
}

// handler method for querying a single group
func (service *restService) getGroup(ctx context.Context,
	input *struct {
		Id string `path:"id" doc:"the group's id"`
	}) (*GroupOutput, error) {

	group, err := service.groups.Get(ctx, input.Id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &GroupOutput{Body: groupToResponse(*group)}, nil
}

type GroupMembersOutput struct {
	Body []GroupMemberResponse `doc:"the group's members and their roles"`
}

// handler method for listing a group's members
func (service *restService) getGroupMembers(ctx context.Context,
	input *struct {
		Id string `path:"id" doc:"the group's id"`
	}) (*GroupMembersOutput, error) {

	group, err := service.groups.Get(ctx, input.Id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	members := make([]GroupMemberResponse, 0, len(group.Members))
	for _, member := range group.Members {
		members = append(members, memberToResponse(member))
	}
	return &GroupMembersOutput{Body: members}, nil
}

// handler method for adding a member to a group
func (service *restService) addGroupMember(ctx context.Context,
	input *struct {
		Id   string           `path:"id" doc:"the group's id"`
		Body AddMemberRequest `doc:"the peer to add"`
	}) (*GroupOutput, error) {

	err := service.groups.AddMember(ctx, input.Id, input.Body.PeerId,
		store.GroupRole(input.Body.Role))
	if err != nil {
		return nil, mapDomainError(err)
	}
	group, err := service.groups.Get(ctx, input.Id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &GroupOutput{Body: groupToResponse(*group)}, nil
}

// handler method for removing a member from a group
func (service *restService) removeGroupMember(ctx context.Context,
	input *struct {
		Id     string `path:"id" doc:"the group's id"`
		PeerId string `path:"peerId" doc:"the member to remove"`
	}) (*GroupOutput, error) {

	if err := service.groups.RemoveMember(ctx, input.Id, input.PeerId); err != nil {
		return nil, mapDomainError(err)
	}
	group, err := service.groups.Get(ctx, input.Id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &GroupOutput{Body: groupToResponse(*group)}, nil
}

type GroupDeletionOutput struct {
	Status int
}

// handler method for deleting a group
func (service *restService) deleteGroup(ctx context.Context,
	input *struct {
		Id string `path:"id" doc:"the group's id"`
	}) (*GroupDeletionOutput, error) {

	if err := service.groups.Delete(ctx, input.Id); err != nil {
		return nil, mapDomainError(err)
	}
	return &GroupDeletionOutput{Status: http.StatusNoContent}, nil
}

type GroupSendOutput struct {
	Body GroupSendResponse `doc:"the outcome of the group send"`
}

// handler method for sending a message or a transfer to a whole group
func (service *restService) sendToGroup(ctx context.Context,
	input *struct {
		Id   string           `path:"id" doc:"the group's id"`
		Body GroupSendRequest `doc:"what to send"`
	}) (*GroupSendOutput, error) {

	switch input.Body.Type {
	case "message":
		results, err := service.groups.SendMessage(ctx, input.Id,
			peers.LocalPeerId, input.Body.Message, input.Body.ExcludeMembers)
		if err != nil {
			return nil, mapDomainError(err)
		}
		return &GroupSendOutput{Body: GroupSendResponse{Results: results}}, nil
	case "transfer":
		docs, err := decodeDocuments(input.Body.Documents)
		if err != nil {
			return nil, err
		}
		result, err := service.groups.SendTransfer(ctx, input.Id,
			peers.LocalPeerId, docs, input.Body.Transport, input.Body.ExcludeMembers)
		if err != nil {
			return nil, mapDomainError(err)
		}
		return &GroupSendOutput{
			Body: GroupSendResponse{
				TransferId: result.Transfer.Id,
				Code:       result.Code,
			},
		}, nil
	}
	return nil, apiError(http.StatusBadRequest, "INVALID_REQUEST",
		fmt.Sprintf("Invalid group send type: %s", input.Body.Type))
}

// handler method for listing available transports
func (service *restService) getAvailableTransports(ctx context.Context,
	input *struct{}) (*ConnectionsStatusOutput, error) {
	return &ConnectionsStatusOutput{Body: service.transportStatuses(ctx)}, nil
}

type TransportDetailOutput struct {
	Body TransportStatusResponse `doc:"the state of one transport"`
}

// returns one transport's status, defaulting to uninitialized
func (service *restService) transportDetail(name string) TransportStatusResponse {
	info, ok := service.registry.Statuses()[name]
	if !ok {
		info = transports.StatusInfo{Status: transports.StatusUninitialized}
	}
	return TransportStatusResponse{
		Name:   name,
		Status: string(info.Status),
		Error:  info.Error,
		Info:   info.Info,
	}
}

// handler method for querying the P2P transport's network state
func (service *restService) getP2pNetwork(ctx context.Context,
	input *struct{}) (*TransportDetailOutput, error) {
	return &TransportDetailOutput{Body: service.transportDetail("p2p")}, nil
}

// handler method for querying the email transport's outbound queue
func (service *restService) getEmailQueue(ctx context.Context,
	input *struct{}) (*TransportDetailOutput, error) {
	return &TransportDetailOutput{Body: service.transportDetail("email")}, nil
}

// handler method for initiating a document transfer
func (service *restService) createTransfer(ctx context.Context,
	input *struct {
		Body CreateTransferRequest `doc:"The body of a POST request for a document transfer"`
	}) (*CreateTransferOutput, error) {

	docs, err := decodeDocuments(input.Body.Documents)
	if err != nil {
		return nil, err
	}
	recipients := make([]transfers.RecipientInput, 0, len(input.Body.Recipients))
	for _, recipient := range input.Body.Recipients {
		recipients = append(recipients, transfers.RecipientInput{
			Identifier:  recipient.Identifier,
			Transport:   recipient.Transport,
			Preferences: recipient.Preferences,
		})
	}

	slog.Info(fmt.Sprintf("Creating a transfer with %d document(s) for %d recipient(s)...",
		len(docs), len(recipients)))
	result, err := service.transfers.Create(ctx, transfers.CreateRequest{
		Documents:  docs,
		Recipients: recipients,
		Transport:  input.Body.Transport,
		Sender:     map[string]any{"peerId": peers.LocalPeerId},
		Metadata:   input.Body.Metadata,
	})
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &CreateTransferOutput{
		Body: CreateTransferResponse{
			TransferId: result.Transfer.Id,
			Code:       result.Code,
			Status:     "created",
		},
	}, nil
}

// handler method for listing transfers
func (service *restService) listTransfers(ctx context.Context,
	input *struct {
		Type   string `query:"type" example:"outgoing" doc:"\"incoming\" or \"outgoing\""`
		Status string `query:"status" example:"ready"`
		Limit  int    `query:"limit" example:"50"`
	}) (*TransferListOutput, error) {

	found, err := service.transfers.List(ctx, store.TransferCriteria{
		Type:   store.TransferType(input.Type),
		Status: store.TransferStatus(input.Status),
		Limit:  input.Limit,
	})
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &TransferListOutput{Body: transferListResponse(found)}, nil
}

type TransferDetailsOutput struct {
	Body TransferDetailsResponse `doc:"a transfer with its documents and recipients"`
}

// handler method for querying a single transfer; a 6-character pickup code
// is accepted in place of the id
func (service *restService) getTransfer(ctx context.Context,
	input *struct {
		Id string `path:"id" doc:"the transfer's id, or its pickup code"`
	}) (*TransferDetailsOutput, error) {

	details, err := service.transfers.Get(ctx, input.Id)
	if err != nil {
		byCode, codeErr := service.transfers.GetByCode(ctx, input.Id)
		if codeErr != nil {
			return nil, mapDomainError(err)
		}
		details = byCode
	}
	return &TransferDetailsOutput{Body: detailsToResponse(details)}, nil
}

type SignTransferOutput struct {
	Body SignTransferResponse `doc:"the transfer's state after signing"`
}

// handler method for applying signatures to a transfer's documents
func (service *restService) signTransfer(ctx context.Context,
	input *struct {
		Id   string              `path:"id" doc:"the transfer's id"`
		Body SignTransferRequest `doc:"the signatures to apply"`
	}) (*SignTransferOutput, error) {

	if len(input.Body.Signatures) == 0 {
		return nil, apiError(http.StatusBadRequest, "INVALID_REQUEST",
			"At least one signature is required")
	}
	signatures := make([]transfers.SignatureInput, 0, len(input.Body.Signatures))
	for _, entry := range input.Body.Signatures {
		signedBy := entry.SignedBy
		if signedBy == "" {
			signedBy = peers.LocalPeerId
		}
		var payload []byte
		if entry.Signature != "" {
			var err error
			payload, err = base64.StdEncoding.DecodeString(entry.Signature)
			if err != nil {
				return nil, apiError(http.StatusBadRequest, "INVALID_REQUEST",
					fmt.Sprintf("Signature for document %s is not valid base64", entry.DocumentId))
			}
		}
		signatures = append(signatures, transfers.SignatureInput{
			DocumentId: entry.DocumentId,
			SignedBy:   signedBy,
			Signature:  payload,
			Rejected:   entry.Status == "rejected",
		})
	}

	slog.Info(fmt.Sprintf("Signing %d document(s) of transfer %s...",
		len(signatures), input.Id))
	details, err := service.transfers.Sign(ctx, input.Id, signatures,
		input.Body.ReturnTransport)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &SignTransferOutput{
		Body: SignTransferResponse{
			Status:         "success",
			TransferStatus: string(details.Transfer.Status),
		},
	}, nil
}

type CancelTransferOutput struct {
	Body CancelTransferResponse `doc:"confirmation that the transfer was cancelled"`
}

// handler method for cancelling a transfer
func (service *restService) cancelTransfer(ctx context.Context,
	input *struct {
		Id string `path:"id" doc:"the transfer's id"`
	}) (*CancelTransferOutput, error) {

	slog.Info(fmt.Sprintf("Cancelling transfer %s...", input.Id))
	if _, err := service.transfers.Cancel(ctx, input.Id); err != nil {
		return nil, mapDomainError(err)
	}
	return &CancelTransferOutput{
		Body: CancelTransferResponse{Status: "cancelled"},
	}, nil
}

type DocumentContentOutput struct {
	Body DocumentContentResponse `doc:"one document's content and integrity hash"`
}

// handler method for downloading one of a transfer's documents
func (service *restService) getTransferDocument(ctx context.Context,
	input *struct {
		Id    string `path:"id" doc:"the transfer's id"`
		DocId string `path:"docId" doc:"the document's id"`
	}) (*DocumentContentOutput, error) {

	details, err := service.transfers.Get(ctx, input.Id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	owned := false
	for _, doc := range details.Documents {
		if doc.Id == input.DocId {
			owned = true
		}
	}
	if !owned {
		return nil, apiError(http.StatusNotFound, "DOCUMENT_NOT_FOUND",
			fmt.Sprintf("Transfer %s has no document %s", input.Id, input.DocId))
	}

	document, data, err := service.documents.Get(ctx, input.DocId)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return &DocumentContentOutput{
		Body: DocumentContentResponse{
			DocumentId: document.Id,
			FileName:   document.FileName,
			Hash:       document.Hash,
			Data:       base64.StdEncoding.EncodeToString(data),
		},
	}, nil
}

// returns the uptime for the service in seconds
func (service *restService) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs the Firma-Sign REST service from its subsystems
func NewSignService(deps Dependencies) (SignService, error) {

	// validate our dependencies
	if deps.Store == nil || deps.Registry == nil || deps.Peers == nil ||
		deps.Groups == nil || deps.Messages == nil || deps.Transfers == nil ||
		deps.Documents == nil {
		return nil, fmt.Errorf("Missing a required service dependency.")
	}

	service := new(restService)
	service.Name = "Firma-Sign"
	service.Version = version
	service.Port = -1
	service.store = deps.Store
	service.registry = deps.Registry
	service.peers = deps.Peers
	service.groups = deps.Groups
	service.messages = deps.Messages
	service.transfers = deps.Transfers
	service.documents = deps.Documents
	service.gateway = deps.Gateway

	// set up routing
	service.Router = mux.NewRouter()
	limiter := newRateLimiter(apiRateLimit, apiRateWindow)
	service.Router.Use(limiter.middleware)
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	service.API = api
	huma.Get(api, "/", service.getRoot)

	huma.Post(api, "/api/connections/initialize", service.initializeConnections)
	huma.Get(api, "/api/connections/status", service.getConnectionsStatus)

	huma.Post(api, "/api/peers/discover", service.discoverPeers)
	huma.Get(api, "/api/peers/{id}", service.getPeer)
	huma.Post(api, "/api/peers/{id}/connect", service.connectPeer)
	huma.Post(api, "/api/peers/{id}/disconnect", service.disconnectPeer)
	huma.Post(api, "/api/peers/{id}/transfers", service.createPeerTransfer)
	huma.Get(api, "/api/peers/{id}/transfers", service.getPeerTransfers)
	huma.Post(api, "/api/peers/{id}/messages", service.sendPeerMessage)
	huma.Get(api, "/api/peers/{id}/messages", service.getPeerMessages)
	huma.Post(api, "/api/peers/{id}/messages/read", service.readPeerMessages)

	huma.Post(api, "/api/groups", service.createGroup)
	huma.Get(api, "/api/groups/{id}", service.getGroup)
	huma.Get(api, "/api/groups/{id}/members", service.getGroupMembers)
	huma.Post(api, "/api/groups/{id}/members", service.addGroupMember)
	huma.Delete(api, "/api/groups/{id}/members/{peerId}", service.removeGroupMember)
	huma.Post(api, "/api/groups/{id}/send", service.sendToGroup)
	huma.Delete(api, "/api/groups/{id}", service.deleteGroup)

	huma.Get(api, "/api/transports/available", service.getAvailableTransports)
	huma.Get(api, "/api/transports/p2p/network", service.getP2pNetwork)
	huma.Get(api, "/api/transports/email/queue", service.getEmailQueue)

	huma.Post(api, "/api/transfers/create", service.createTransfer)
	huma.Get(api, "/api/transfers", service.listTransfers)
	huma.Get(api, "/api/transfers/{id}", service.getTransfer)
	huma.Post(api, "/api/transfers/{id}/sign", service.signTransfer)
	huma.Delete(api, "/api/transfers/{id}", service.cancelTransfer)
	huma.Get(api, "/api/transfers/{id}/documents/{docId}", service.getTransferDocument)

	// non-REST endpoints live on the router directly
	service.Router.Handle("/metrics", metrics.Handler())
	if service.gateway != nil {
		service.Router.HandleFunc("/ws", service.gateway.Handler())
	}

	return service, nil
}

// starts the Firma-Sign REST service
func (service *restService) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", config.Service.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, config.Service.MaxConnections)

	// start forwarding bus events to WebSocket clients
	if service.gateway != nil {
		service.gateway.Run()
	}

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *restService) Shutdown(ctx context.Context) error {
	if service.gateway != nil {
		service.gateway.Close()
	}
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *restService) Close() {
	if service.gateway != nil {
		service.gateway.Close()
	}
	if service.Server != nil {
		service.Server.Close()
	}
}

// decodes base64 document payloads into transfer inputs
func decodeDocuments(inputs []TransferDocumentInput) ([]transfers.DocumentInput, error) {
	docs := make([]transfers.DocumentInput, 0, len(inputs))
	for _, input := range inputs {
		data, err := base64.StdEncoding.DecodeString(input.Data)
		if err != nil {
			return nil, apiError(http.StatusBadRequest, "INVALID_REQUEST",
				fmt.Sprintf("Invalid base64 data for document %s", input.Name))
		}
		docs = append(docs, transfers.DocumentInput{
			FileName: input.Name,
			Data:     data,
		})
	}
	return docs, nil
}

// parses an optional RFC 3339 pagination cursor
func parseCursor(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, apiError(http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("Invalid timestamp: %s", value))
	}
	return &parsed, nil
}

func peerToResponse(peer store.Peer) PeerResponse {
	identifiers := make([]PeerIdentifierResponse, 0, len(peer.Identifiers))
	for _, identifier := range peer.Identifiers {
		identifiers = append(identifiers, PeerIdentifierResponse{
			Transport:  identifier.Transport,
			Identifier: identifier.Identifier,
			Verified:   identifier.Verified,
		})
	}
	return PeerResponse{
		PeerId:      peer.Id,
		DisplayName: peer.DisplayName,
		Avatar:      peer.Avatar,
		Status:      string(peer.Status),
		TrustLevel:  string(peer.TrustLevel),
		LastSeen:    peer.LastSeen,
		Identifiers: identifiers,
		Metadata:    peer.Metadata,
	}
}

func connectionToResponse(connection store.PeerConnection) ConnectionResponse {
	return ConnectionResponse{
		Transport:      connection.Transport,
		Direction:      string(connection.Direction),
		Status:         string(connection.Status),
		ConnectedAt:    connection.ConnectedAt,
		DisconnectedAt: connection.DisconnectedAt,
	}
}

func transferListResponse(found []store.Transfer) TransferListResponse {
	response := TransferListResponse{
		Transfers: make([]TransferSummaryResponse, 0, len(found)),
	}
	for _, transfer := range found {
		response.Transfers = append(response.Transfers, TransferSummaryResponse{
			TransferId: transfer.Id,
			Type:       string(transfer.Type),
			Status:     string(transfer.Status),
			Code:       transfer.Code,
			Transport:  transfer.Transport,
			CreatedAt:  transfer.CreatedAt,
		})
	}
	return response
}

func detailsToResponse(details *transfers.Details) TransferDetailsResponse {
	docs := make([]DocumentResponse, 0, len(details.Documents))
	for _, document := range details.Documents {
		docs = append(docs, DocumentResponse{
			DocumentId: document.Id,
			FileName:   document.FileName,
			FileSize:   document.FileSize,
			Hash:       document.Hash,
			Status:     string(document.Status),
			Category:   string(document.Category),
			SignedBy:   document.SignedBy,
			SignedAt:   document.SignedAt,
			Version:    document.Version,
			Metadata:   document.Metadata,
		})
	}
	recipients := make([]RecipientResponse, 0, len(details.Recipients))
	for _, recipient := range details.Recipients {
		recipients = append(recipients, RecipientResponse{
			Identifier: recipient.Identifier,
			Transport:  recipient.Transport,
			Status:     string(recipient.Status),
			NotifiedAt: recipient.NotifiedAt,
			SignedAt:   recipient.SignedAt,
		})
	}
	return TransferDetailsResponse{
		TransferId: details.Transfer.Id,
		Type:       string(details.Transfer.Type),
		Status:     string(details.Transfer.Status),
		Code:       details.Transfer.Code,
		Transport:  details.Transfer.Transport,
		Sender:     details.Transfer.Sender,
		Metadata:   details.Transfer.Metadata,
		Documents:  docs,
		Recipients: recipients,
		CreatedAt:  details.Transfer.CreatedAt,
	}
}

func messageToResponse(message store.Message) MessageResponse {
	return MessageResponse{
		MessageId:   message.Id,
		FromPeer:    message.FromPeer,
		ToPeer:      message.ToPeer,
		Content:     message.Content,
		Type:        string(message.Type),
		Transport:   message.Transport,
		Status:      string(message.Status),
		Attachments: message.Attachments,
		Encrypted:   message.Encrypted,
		SentAt:      message.SentAt,
		DeliveredAt: message.DeliveredAt,
		ReadAt:      message.ReadAt,
		CreatedAt:   message.CreatedAt,
	}
}

func memberToResponse(member store.GroupMember) GroupMemberResponse {
	return GroupMemberResponse{
		PeerId:   member.PeerId,
		Role:     string(member.Role),
		JoinedAt: member.JoinedAt,
	}
}

func groupToResponse(group store.Group) GroupResponse {
	members := make([]GroupMemberResponse, 0, len(group.Members))
	for _, member := range group.Members {
		members = append(members, memberToResponse(member))
	}
	sort.Slice(members, func(i, j int) bool { return members[i].PeerId < members[j].PeerId })
	return GroupResponse{
		GroupId:     group.Id,
		Name:        group.Name,
		Description: group.Description,
		OwnerPeer:   group.OwnerPeer,
		Members:     members,
		Settings:    group.Settings,
		CreatedAt:   group.CreatedAt,
	}
}
