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
	"time"

	"github.com/firma-sign/firma-sign/groups"
	"github.com/firma-sign/firma-sign/store"
)

// SignService defines the interface for the Firma-Sign HTTP service.
type SignService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" example:"Firma-Sign" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

// a request to initialize transports (POST)
type InitializeRequest struct {
	Transports []string                  `json:"transports" doc:"names of the transports to initialize"`
	Config     map[string]map[string]any `json:"config,omitempty" doc:"per-transport settings, keyed by transport name"`
}

// the state of one transport
type TransportStatusResponse struct {
	Name          string         `json:"name" example:"p2p"`
	Status        string         `json:"status" example:"active"`
	Error         string         `json:"error,omitempty"`
	Info          map[string]any `json:"info,omitempty"`
	InitializedAt *time.Time     `json:"initializedAt,omitempty"`
}

// a response reporting the state of every known transport (GET)
type ConnectionsStatusResponse struct {
	Transports []TransportStatusResponse `json:"transports"`
}

// a minimal confirmation response
type StatusResponse struct {
	Status string `json:"status" example:"disconnected"`
}

// a request for peer discovery (POST)
type DiscoverRequest struct {
	Transports []string `json:"transports,omitempty" doc:"restricts discovery to these transports"`
	Query      string   `json:"query,omitempty" doc:"a name fragment to match against discovered peers"`
}

// a per-transport address at which a peer can be reached
type PeerIdentifierResponse struct {
	Transport  string `json:"transport" example:"email"`
	Identifier string `json:"identifier" example:"bob@example.com"`
	Verified   bool   `json:"verified"`
}

// a known peer in the directory
type PeerResponse struct {
	PeerId      string                   `json:"peerId"`
	DisplayName string                   `json:"displayName"`
	Avatar      string                   `json:"avatar,omitempty"`
	Status      string                   `json:"status" example:"online"`
	TrustLevel  string                   `json:"trustLevel" example:"unverified"`
	LastSeen    *time.Time               `json:"lastSeen,omitempty"`
	Identifiers []PeerIdentifierResponse `json:"identifiers"`
	Metadata    map[string]any           `json:"metadata,omitempty"`
}

// a response listing discovered peers (POST)
type DiscoverResponse struct {
	Peers []PeerResponse `json:"peers"`
}

// a live or historical link between the local peer and a remote one
type ConnectionResponse struct {
	Transport      string     `json:"transport"`
	Direction      string     `json:"direction" example:"outbound"`
	Status         string     `json:"status" example:"connected"`
	ConnectedAt    *time.Time `json:"connectedAt,omitempty"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// a response for a single-peer query (GET)
type PeerDetailsResponse struct {
	Peer              PeerResponse         `json:"peer"`
	SentTransfers     int                  `json:"sentTransfers"`
	ReceivedTransfers int                  `json:"receivedTransfers"`
	Connections       []ConnectionResponse `json:"connections"`
}

// a request to connect to a peer (POST)
type ConnectRequest struct {
	Transport          string         `json:"transport,omitempty" doc:"the transport to connect over (every identifier is tried when empty)"`
	FallbackTransports []string       `json:"fallbackTransports,omitempty" doc:"transports to try, in order, when the explicit choice fails"`
	Options            map[string]any `json:"options,omitempty" doc:"transport-specific connection options"`
}

// a response for a peer connection request (POST)
type ConnectResponse struct {
	Transport string `json:"transport"`
	Status    string `json:"status" example:"connected"`
}

// a document to include in a new transfer (base64 payload)
type TransferDocumentInput struct {
	Name string `json:"name" example:"contract.pdf" doc:"the document's file name"`
	Data string `json:"data" doc:"the document's content, base64-encoded"`
}

// an intended signer for a new transfer
type TransferRecipientInput struct {
	Identifier  string         `json:"identifier" example:"bob@example.com" doc:"the recipient's transport-specific address"`
	Transport   string         `json:"transport,omitempty" doc:"the transport to notify this recipient over"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// a request for a document transfer (POST)
type CreateTransferRequest struct {
	Documents  []TransferDocumentInput  `json:"documents" doc:"the documents to send"`
	Recipients []TransferRecipientInput `json:"recipients" doc:"the intended signers"`
	Transport  string                   `json:"transport,omitempty" doc:"the default transport for all recipients"`
	Metadata   map[string]any           `json:"metadata,omitempty"`
}

// a response for a document transfer request (POST)
type CreateTransferResponse struct {
	TransferId string `json:"transferId"`
	Code       string `json:"code" example:"A2B3C4" doc:"the 6-character code recipients use to fetch the transfer"`
	Status     string `json:"status" example:"created"`
}

// a request to send documents to one peer (POST)
type PeerTransferRequest struct {
	Documents []TransferDocumentInput `json:"documents" doc:"the documents to send"`
	Transport string                  `json:"transport,omitempty"`
	Options   map[string]any          `json:"options,omitempty"`
}

// a document owned by a transfer
type DocumentResponse struct {
	DocumentId string         `json:"documentId"`
	FileName   string         `json:"fileName"`
	FileSize   int64          `json:"fileSize"`
	Hash       string         `json:"hash" doc:"SHA-256 of the stored bytes, hex-encoded"`
	Status     string         `json:"status" example:"pending"`
	Category   string         `json:"category" example:"sent"`
	SignedBy   string         `json:"signedBy,omitempty"`
	SignedAt   *time.Time     `json:"signedAt,omitempty"`
	Version    int            `json:"version"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// an intended signer's progress on a transfer
type RecipientResponse struct {
	Identifier string     `json:"identifier"`
	Transport  string     `json:"transport"`
	Status     string     `json:"status" example:"notified"`
	NotifiedAt *time.Time `json:"notifiedAt,omitempty"`
	SignedAt   *time.Time `json:"signedAt,omitempty"`
}

// a transfer without its documents and recipients
type TransferSummaryResponse struct {
	TransferId string    `json:"transferId"`
	Type       string    `json:"type" example:"outgoing"`
	Status     string    `json:"status" example:"ready"`
	Code       string    `json:"code,omitempty"`
	Transport  string    `json:"transport,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// a response listing transfers (GET)
type TransferListResponse struct {
	Transfers []TransferSummaryResponse `json:"transfers"`
}

// a response for a single-transfer query (GET)
type TransferDetailsResponse struct {
	TransferId string              `json:"transferId"`
	Type       string              `json:"type"`
	Status     string              `json:"status"`
	Code       string              `json:"code,omitempty"`
	Transport  string              `json:"transport,omitempty"`
	Sender     map[string]any      `json:"sender,omitempty"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
	Documents  []DocumentResponse  `json:"documents"`
	Recipients []RecipientResponse `json:"recipients"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// one signer's verdict on one document
type SignatureEntry struct {
	DocumentId string `json:"documentId" doc:"the document being signed or rejected"`
	Signature  string `json:"signature,omitempty" doc:"the signature payload, base64-encoded"`
	Components []any  `json:"components,omitempty" doc:"signature placement components"`
	Status     string `json:"status" example:"signed" doc:"\"signed\" or \"rejected\""`
	SignedBy   string `json:"signedBy,omitempty" doc:"the signing peer (defaults to the local peer)"`
}

// a request to apply signatures to a transfer's documents (POST)
type SignTransferRequest struct {
	Signatures      []SignatureEntry `json:"signatures"`
	ReturnTransport string           `json:"returnTransport,omitempty" doc:"transport for sending signed documents back to the sender"`
}

// a response for a signing request (POST)
type SignTransferResponse struct {
	Status         string `json:"status" example:"success"`
	TransferStatus string `json:"transferStatus" example:"completed"`
}

// a response carrying one document's content (GET)
type DocumentContentResponse struct {
	DocumentId string `json:"documentId"`
	FileName   string `json:"fileName"`
	Hash       string `json:"hash"`
	Data       string `json:"data" doc:"the document's content, base64-encoded"`
}

// a response for a transfer cancellation (DELETE)
type CancelTransferResponse struct {
	Status string `json:"status" example:"cancelled"`
}

// a request to send a message to a peer (POST)
type SendMessageRequest struct {
	Content     string             `json:"content"`
	Type        string             `json:"type,omitempty" example:"text"`
	Transport   string             `json:"transport,omitempty"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	Encrypted   bool               `json:"encrypted,omitempty"`
}

// an entry in the per-peer message journal
type MessageResponse struct {
	MessageId   string             `json:"messageId"`
	FromPeer    string             `json:"fromPeer"`
	ToPeer      string             `json:"toPeer"`
	Content     string             `json:"content"`
	Type        string             `json:"type" example:"text"`
	Transport   string             `json:"transport,omitempty"`
	Status      string             `json:"status" example:"delivered"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	Encrypted   bool               `json:"encrypted,omitempty"`
	SentAt      *time.Time         `json:"sentAt,omitempty"`
	DeliveredAt *time.Time         `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time         `json:"readAt,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// a page of a conversation, newest first (GET)
type MessagePageResponse struct {
	Messages []MessageResponse `json:"messages"`
	HasMore  bool              `json:"hasMore" doc:"true if older messages remain beyond this page"`
}

// a request to mark messages as read (POST)
type ReadMessagesRequest struct {
	MessageIds []string `json:"messageIds,omitempty" doc:"specific messages to mark"`
	ReadAll    bool     `json:"readAll,omitempty" doc:"marks every unread message from the peer"`
}

// a response for a mark-as-read request (POST)
type ReadMessagesResponse struct {
	Updated int `json:"updated" doc:"the number of messages newly marked as read"`
}

// a request to create a group (POST)
type CreateGroupRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Members     []string       `json:"members,omitempty" doc:"peer ids to add alongside the owner"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// a group member and their role
type GroupMemberResponse struct {
	PeerId   string    `json:"peerId"`
	Role     string    `json:"role" example:"member"`
	JoinedAt time.Time `json:"joinedAt"`
}

// a response for a group query (GET)
type GroupResponse struct {
	GroupId     string                `json:"groupId"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	OwnerPeer   string                `json:"ownerPeer"`
	Members     []GroupMemberResponse `json:"members"`
	Settings    map[string]any        `json:"settings,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
}

// a request to add a member to a group (POST)
type AddMemberRequest struct {
	PeerId string `json:"peerId"`
	Role   string `json:"role,omitempty" example:"member"`
}

// a request to send a message or transfer to a whole group (POST)
type GroupSendRequest struct {
	Type           string                  `json:"type" example:"message" doc:"\"message\" or \"transfer\""`
	Message        string                  `json:"message,omitempty" doc:"the message content (type \"message\")"`
	Documents      []TransferDocumentInput `json:"documents,omitempty" doc:"the documents to send (type \"transfer\")"`
	Transport      string                  `json:"transport,omitempty"`
	ExcludeMembers []string                `json:"excludeMembers,omitempty" doc:"member peer ids to leave out of the fan-out"`
}

// a response for a group send (POST)
type GroupSendResponse struct {
	Results    []groups.DeliveryResult `json:"results,omitempty" doc:"per-member outcomes of a message send"`
	TransferId string                  `json:"transferId,omitempty" doc:"the transfer created by a document send"`
	Code       string                  `json:"code,omitempty"`
}
