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
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var TESTING_DIR string

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	setup()
	status := m.Run()
	breakdown()
	os.Exit(status)
}

func setup() {
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "firma-sign-store-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

func breakdown() {
	if TESTING_DIR != "" {
		os.RemoveAll(TESTING_DIR)
	}
}

// opens a fresh database for a single test
func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(TESTING_DIR, t.Name()+".db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Couldn't open test store: %s", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenRunsMigrations(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(TESTING_DIR, "migrations.db")
	store, err := Open(path)
	assert.Nil(err)
	assert.Nil(store.Close())

	// opening again is a no-op at the current version
	store, err = Open(path)
	assert.Nil(err)
	store.Close()
}

func TestPeerRoundTrip(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	peer := &Peer{
		Id:          "peer-1",
		DisplayName: "Alice",
		Metadata:    map[string]any{"color": "green"},
		Identifiers: []PeerIdentifier{
			{Transport: "email", Identifier: "alice@example.org"},
			{Transport: "p2p", Identifier: "12D3KooAlice"},
		},
	}
	assert.Nil(store.Peers.Create(ctx, peer))

	found, err := store.Peers.FindById(ctx, "peer-1")
	assert.Nil(err)
	assert.Equal("Alice", found.DisplayName)
	assert.Equal(PeerOffline, found.Status)
	assert.Equal(TrustUnverified, found.TrustLevel)
	assert.Equal("green", found.Metadata["color"])
	assert.Len(found.Identifiers, 2)

	byAddress, err := store.Peers.FindByIdentifier(ctx, "email", "alice@example.org")
	assert.Nil(err)
	assert.Equal("peer-1", byAddress.Id)

	online := PeerOnline
	assert.Nil(store.Peers.Update(ctx, "peer-1", PeerPatch{Status: &online}))
	found, err = store.Peers.FindById(ctx, "peer-1")
	assert.Nil(err)
	assert.Equal(PeerOnline, found.Status)
}

func TestDuplicateIdentifierViolatesConstraint(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	assert.Nil(store.Peers.Create(ctx, &Peer{Id: "peer-1", DisplayName: "Alice"}))
	assert.Nil(store.Peers.Create(ctx, &Peer{Id: "peer-2", DisplayName: "Bob"}))
	assert.Nil(store.Peers.AddIdentifier(ctx, PeerIdentifier{
		PeerId: "peer-1", Transport: "email", Identifier: "shared@example.org",
	}))

	err := store.Peers.AddIdentifier(ctx, PeerIdentifier{
		PeerId: "peer-2", Transport: "email", Identifier: "shared@example.org",
	})
	assert.NotNil(err)
	constraintErr, ok := err.(*ConstraintError)
	assert.True(ok)
	assert.Equal("identifier", constraintErr.Column)
}

func TestDocumentRequiresTransfer(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Documents.Create(ctx, &Document{
		Id: "doc-1", TransferId: "no-such-transfer", FileName: "a.pdf",
	})
	assert.NotNil(err)
	_, ok := err.(*ConstraintError)
	assert.True(ok)
}

func TestDeleteTransferCascades(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	assert.Nil(store.Transfers.Create(ctx, &Transfer{Id: "tr-1", Type: TransferOutgoing}))
	assert.Nil(store.Documents.Create(ctx, &Document{Id: "doc-1", TransferId: "tr-1", FileName: "a.pdf"}))
	assert.Nil(store.Recipients.Create(ctx, &Recipient{
		Id: "rcpt-1", TransferId: "tr-1", Identifier: "bob@x", Transport: "email",
	}))

	assert.Nil(store.Transfers.Delete(ctx, "tr-1"))
	_, err := store.Documents.FindById(ctx, "doc-1")
	assert.NotNil(err)
	_, err = store.Recipients.FindById(ctx, "rcpt-1")
	assert.NotNil(err)
}

func TestUnitOfWorkRollsBackOnError(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.Transfers.Create(ctx, &Transfer{Id: "tr-1", Type: TransferOutgoing}); err != nil {
			return err
		}
		// a duplicate id forces the whole unit of work to roll back
		return tx.Transfers.Create(ctx, &Transfer{Id: "tr-1", Type: TransferOutgoing})
	})
	assert.NotNil(err)

	_, err = store.Transfers.FindById(ctx, "tr-1")
	_, ok := err.(*NotFoundError)
	assert.True(ok)
}

func TestNestedUnitOfWorkIsRejected(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)

	err := store.WithTx(context.Background(), func(ctx context.Context, tx *Tx) error {
		return store.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
			return nil
		})
	})
	assert.NotNil(err)
	_, ok := err.(*NestedTransactionError)
	assert.True(ok)
}

func TestMessageStatusAdvancesMonotonically(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	message := &Message{Id: "msg-1", FromPeer: "peer-a", ToPeer: "peer-b", Content: "hi"}
	assert.Nil(store.Messages.Create(ctx, message))

	advanced, err := store.Messages.AdvanceStatus(ctx, "msg-1", MessageSent, time.Now())
	assert.Nil(err)
	assert.True(advanced)

	// skipping straight to read stamps all earlier timestamps too
	assert.Nil(store.Messages.Create(ctx, &Message{Id: "msg-2", FromPeer: "peer-a", ToPeer: "peer-b"}))
	advanced, err = store.Messages.AdvanceStatus(ctx, "msg-2", MessageRead, time.Now())
	assert.Nil(err)
	assert.True(advanced)
	found, err := store.Messages.FindById(ctx, "msg-2")
	assert.Nil(err)
	assert.NotNil(found.SentAt)
	assert.NotNil(found.DeliveredAt)
	assert.NotNil(found.ReadAt)
	assert.True(!found.ReadAt.Before(*found.SentAt))

	// moving backward is a no-op
	advanced, err = store.Messages.AdvanceStatus(ctx, "msg-2", MessageDelivered, time.Now())
	assert.Nil(err)
	assert.False(advanced)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	assert.Nil(store.Messages.Create(ctx, &Message{Id: "msg-1", FromPeer: "peer-a", ToPeer: "peer-b"}))
	now := time.Now()

	updated, err := store.Messages.MarkRead(ctx, "peer-b", []string{"msg-1"}, now)
	assert.Nil(err)
	assert.Equal(1, updated)

	updated, err = store.Messages.MarkRead(ctx, "peer-b", []string{"msg-1"}, now)
	assert.Nil(err)
	assert.Equal(0, updated)

	count, err := store.Messages.UnreadCount(ctx, "peer-b")
	assert.Nil(err)
	assert.Equal(0, count)
}

func TestConversationPagination(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		assert.Nil(store.Messages.Create(ctx, &Message{
			Id: "msg-" + id, FromPeer: "peer-a", ToPeer: "peer-b", Content: id,
		}))
		time.Sleep(2 * time.Millisecond) // distinct created_at values
	}

	messages, err := store.Messages.FindByPeerPair(ctx, "peer-a", "peer-b", nil, nil, 3)
	assert.Nil(err)
	assert.Len(messages, 3)
	// newest first
	assert.Equal("msg-e", messages[0].Id)
	assert.Equal("msg-c", messages[2].Id)
}

func TestGroupMembership(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	group := &Group{
		Id: "grp-1", Name: "signers", OwnerPeer: "peer-a",
		Members: []GroupMember{
			{PeerId: "peer-a", Role: RoleAdmin},
			{PeerId: "peer-b", Role: RoleMember},
		},
	}
	assert.Nil(store.Groups.Create(ctx, group))

	found, err := store.Groups.FindById(ctx, "grp-1")
	assert.Nil(err)
	assert.Len(found.Members, 2)

	assert.Nil(store.Groups.UpdateMemberRole(ctx, "grp-1", "peer-b", RoleAdmin))
	assert.Nil(store.Groups.RemoveMember(ctx, "grp-1", "peer-b"))
	members, err := store.Groups.Members(ctx, "grp-1")
	assert.Nil(err)
	assert.Len(members, 1)

	// adding the same member twice violates the membership constraint
	assert.Nil(store.Groups.AddMember(ctx, GroupMember{GroupId: "grp-1", PeerId: "peer-c"}))
	err = store.Groups.AddMember(ctx, GroupMember{GroupId: "grp-1", PeerId: "peer-c"})
	assert.NotNil(err)
}

func TestTransferCriteria(t *testing.T) {
	assert := assert.New(t)
	store := openTestStore(t)
	ctx := context.Background()

	assert.Nil(store.Transfers.Create(ctx, &Transfer{Id: "tr-1", Type: TransferOutgoing}))
	assert.Nil(store.Transfers.Create(ctx, &Transfer{Id: "tr-2", Type: TransferIncoming}))
	completed := TransferCompleted
	assert.Nil(store.Transfers.Update(ctx, "tr-2", TransferPatch{Status: &completed}))

	outgoing, err := store.Transfers.Find(ctx, TransferCriteria{Type: TransferOutgoing})
	assert.Nil(err)
	assert.Len(outgoing, 1)
	assert.Equal("tr-1", outgoing[0].Id)

	done, err := store.Transfers.Find(ctx, TransferCriteria{Status: TransferCompleted})
	assert.Nil(err)
	assert.Len(done, 1)
	assert.Equal("tr-2", done[0].Id)
}
