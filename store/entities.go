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

import "time"

// peer presence
type PeerStatus string

const (
	PeerOnline  PeerStatus = "online"
	PeerOffline PeerStatus = "offline"
	PeerAway    PeerStatus = "away"
)

// how far a peer's identity has been verified
type TrustLevel string

const (
	TrustUnverified TrustLevel = "unverified"
	TrustKnown      TrustLevel = "known"
	TrustVerified   TrustLevel = "verified"
)

// a known peer in the directory
type Peer struct {
	Id          string
	DisplayName string
	Avatar      string
	Status      PeerStatus
	TrustLevel  TrustLevel
	LastSeen    *time.Time
	PublicKey   string
	Metadata    map[string]any
	Identifiers []PeerIdentifier
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// a per-transport address for a peer; unique per (transport, identifier)
type PeerIdentifier struct {
	PeerId     string
	Transport  string
	Identifier string
	Verified   bool
}

type ConnectionDirection string

const (
	DirectionInbound  ConnectionDirection = "inbound"
	DirectionOutbound ConnectionDirection = "outbound"
)

type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionFailed       ConnectionStatus = "failed"
)

// a live or historical link between the local peer and a remote one
type PeerConnection struct {
	Id             int64
	LocalPeer      string
	RemotePeer     string
	Transport      string
	Direction      ConnectionDirection
	Status         ConnectionStatus
	ConnectedAt    *time.Time
	DisconnectedAt *time.Time
}

type TransferType string

const (
	TransferIncoming TransferType = "incoming"
	TransferOutgoing TransferType = "outgoing"
)

type TransferStatus string

const (
	TransferPending         TransferStatus = "pending"
	TransferReady           TransferStatus = "ready"
	TransferPartiallySigned TransferStatus = "partially-signed"
	TransferCompleted       TransferStatus = "completed"
	TransferCancelled       TransferStatus = "cancelled"
)

// a unit of work sending documents to recipients over transports
type Transfer struct {
	Id        string
	Type      TransferType
	Status    TransferStatus
	Code      string
	Sender    map[string]any
	Transport string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DocumentStatus string

const (
	DocumentDraft      DocumentStatus = "draft"
	DocumentPending    DocumentStatus = "pending"
	DocumentInProgress DocumentStatus = "in-progress"
	DocumentSigned     DocumentStatus = "signed"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentArchived   DocumentStatus = "archived"
	DocumentDeleted    DocumentStatus = "deleted"
	DocumentRejected   DocumentStatus = "rejected"
)

type DocumentCategory string

const (
	CategoryUploaded DocumentCategory = "uploaded"
	CategoryReceived DocumentCategory = "received"
	CategorySent     DocumentCategory = "sent"
	CategorySigned   DocumentCategory = "signed"
	CategoryArchived DocumentCategory = "archived"
)

// a document owned by a transfer; Hash is the SHA-256 of the stored bytes
type Document struct {
	Id                string
	TransferId        string
	FileName          string
	FileSize          int64
	Hash              string
	Status            DocumentStatus
	Category          DocumentCategory
	StoredName        string
	SignedBy          string
	SignedAt          *time.Time
	Signature         []byte
	Version           int
	PreviousVersionId string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type RecipientStatus string

const (
	RecipientPending  RecipientStatus = "pending"
	RecipientNotified RecipientStatus = "notified"
	RecipientViewed   RecipientStatus = "viewed"
	RecipientSigning  RecipientStatus = "signing"
	RecipientSigned   RecipientStatus = "signed"
	RecipientRejected RecipientStatus = "rejected"
)

// an intended signer, identified by a transport-specific address
type Recipient struct {
	Id          string
	TransferId  string
	Identifier  string
	Transport   string
	Status      RecipientStatus
	Preferences map[string]any
	NotifiedAt  *time.Time
	ViewedAt    *time.Time
	SignedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type MessageType string

const (
	MessageText                 MessageType = "text"
	MessageFile                 MessageType = "file"
	MessageTransferNotification MessageType = "transfer-notification"
)

type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// either an inline file reference or a transfer reference
type Attachment struct {
	Kind       string `json:"kind"`
	FileName   string `json:"fileName,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
	TransferId string `json:"transferId,omitempty"`
}

// an entry in the per-peer message journal
type Message struct {
	Id          string
	FromPeer    string
	ToPeer      string
	Content     string
	Type        MessageType
	Transport   string
	Direction   ConnectionDirection
	Status      MessageStatus
	Attachments []Attachment
	Encrypted   bool
	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
	CreatedAt   time.Time
}

type GroupRole string

const (
	RoleAdmin  GroupRole = "admin"
	RoleMember GroupRole = "member"
)

// a named set of peers usable as a composite recipient
type Group struct {
	Id          string
	Name        string
	Description string
	OwnerPeer   string
	Settings    map[string]any
	Members     []GroupMember
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type GroupMember struct {
	GroupId  string
	PeerId   string
	Role     GroupRole
	JoinedAt time.Time
}

// persisted configuration and status for a named transport
type TransportConfig struct {
	Transport     string
	Config        map[string]any
	Status        string
	InitializedAt *time.Time
}

// ranks used to enforce the monotone message state machine
var messageStatusRank = map[MessageStatus]int{
	MessagePending:   0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
}
