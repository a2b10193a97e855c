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

package peers

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firma-sign/firma-sign/events"
	"github.com/firma-sign/firma-sign/fstest"
	"github.com/firma-sign/firma-sign/store"
	"github.com/firma-sign/firma-sign/transports"
)

var TESTING_DIR string

func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}

func setup() {
	fstest.EnableDebugLogging()
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "firma-sign-peer-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

func breakdown() {
	if TESTING_DIR != "" {
		os.RemoveAll(TESTING_DIR)
	}
}

// a transport fixture with connection and discovery capabilities
type p2pFixture struct {
	fstest.Transport
	candidates  []transports.PeerCandidate
	failConnect bool
	connected   []string
}

func (t *p2pFixture) Connect(ctx context.Context, peer string, options map[string]any) error {
	if t.failConnect {
		return &transports.TransientError{Name: "p2p", Message: "peer not listening"}
	}
	t.connected = append(t.connected, peer)
	return nil
}

func (t *p2pFixture) Disconnect(ctx context.Context, peer string) error {
	return nil
}

func (t *p2pFixture) DiscoverPeers(ctx context.Context, query string) ([]transports.PeerCandidate, error) {
	return t.candidates, nil
}

func newTestService(t *testing.T, p2p *p2pFixture) (*Service, *store.Store) {
	dir, err := os.MkdirTemp(TESTING_DIR, "case-")
	assert.Nil(t, err)
	st, err := store.Open(filepath.Join(dir, "firma-sign.db"))
	assert.Nil(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(events.DefaultQueueSize)
	t.Cleanup(bus.Close)

	registry := transports.NewRegistry(bus)
	registry.RegisterProvider("p2p", func(name string) (transports.Transport, error) {
		return p2p, nil
	})
	_, err = fstest.RegisterTransport(registry, "email", 0, 0)
	assert.Nil(t, err)
	registry.Initialize(context.Background(), []string{"p2p", "email"}, nil)

	return NewService(st, registry, bus), st
}

// adds a peer with the given per-transport identifiers to the directory
func addPeer(t *testing.T, st *store.Store, id string, identifiers ...store.PeerIdentifier) {
	peer := &store.Peer{Id: id, DisplayName: id, Identifiers: identifiers}
	assert.Nil(t, st.Peers.Create(context.Background(), peer))
}

func TestDiscoverMergesCandidates(t *testing.T) {
	assert := assert.New(t)
	p2p := &p2pFixture{candidates: []transports.PeerCandidate{
		{Identifier: "12D3KooAlice", DisplayName: "alice"},
		{Identifier: "12D3KooBob", DisplayName: "bob"},
	}}
	service, st := newTestService(t, p2p)
	ctx := context.Background()

	peers, err := service.Discover(ctx, "", nil)
	assert.Nil(err)
	assert.Equal(2, len(peers))

	// a second discovery must not duplicate directory entries
	peers, err = service.Discover(ctx, "", nil)
	assert.Nil(err)
	assert.Equal(2, len(peers))

	alice, err := st.Peers.FindByIdentifier(ctx, "p2p", "12D3KooAlice")
	assert.Nil(err)
	assert.Equal("alice", alice.DisplayName)

	// renamed peers get their display name refreshed
	p2p.candidates[0].DisplayName = "alice-renamed"
	_, err = service.Discover(ctx, "", nil)
	assert.Nil(err)
	alice, err = st.Peers.FindByIdentifier(ctx, "p2p", "12D3KooAlice")
	assert.Nil(err)
	assert.Equal("alice-renamed", alice.DisplayName)
}

func TestConnectOverExplicitTransport(t *testing.T) {
	assert := assert.New(t)
	p2p := &p2pFixture{}
	service, st := newTestService(t, p2p)
	ctx := context.Background()

	addPeer(t, st, "peer-alice",
		store.PeerIdentifier{Transport: "p2p", Identifier: "12D3KooAlice"})

	conn, err := service.Connect(ctx, "peer-alice", "p2p", nil, nil)
	assert.Nil(err)
	assert.Equal(store.ConnectionConnected, conn.Status)
	assert.Equal([]string{"12D3KooAlice"}, p2p.connected)

	peer, err := st.Peers.FindById(ctx, "peer-alice")
	assert.Nil(err)
	assert.Equal(store.PeerOnline, peer.Status)
	assert.NotNil(peer.LastSeen)
}

func TestConnectFallsBackAcrossTransports(t *testing.T) {
	assert := assert.New(t)
	p2p := &p2pFixture{failConnect: true}
	service, st := newTestService(t, p2p)
	ctx := context.Background()

	addPeer(t, st, "peer-bob",
		store.PeerIdentifier{Transport: "p2p", Identifier: "12D3KooBob"},
		store.PeerIdentifier{Transport: "email", Identifier: "bob@example.org"})

	conn, err := service.Connect(ctx, "peer-bob", "", nil, nil)
	assert.Nil(err)
	assert.Equal("email", conn.Transport)
	assert.Equal(store.ConnectionConnected, conn.Status)

	// the failed attempt left its row behind, marked failed
	rows, err := st.Connections.FindByPeer(ctx, "peer-bob")
	assert.Nil(err)
	assert.Equal(2, len(rows))
	statusFor := map[string]store.ConnectionStatus{}
	for _, row := range rows {
		statusFor[row.Transport] = row.Status
	}
	assert.Equal(store.ConnectionFailed, statusFor["p2p"])
	assert.Equal(store.ConnectionConnected, statusFor["email"])
}

func TestDiscoverRestrictedToRequestedTransports(t *testing.T) {
	assert := assert.New(t)
	p2p := &p2pFixture{candidates: []transports.PeerCandidate{
		{Identifier: "12D3KooGrace", DisplayName: "grace"},
	}}
	service, _ := newTestService(t, p2p)
	ctx := context.Background()

	// p2p is the only discovery-capable transport; restricting the query to
	// email must not touch it
	peers, err := service.Discover(ctx, "", []string{"email"})
	assert.Nil(err)
	assert.Equal(0, len(peers))

	peers, err = service.Discover(ctx, "", []string{"p2p"})
	assert.Nil(err)
	assert.Equal(1, len(peers))
}

func TestConnectWalksCallerFallbacks(t *testing.T) {
	assert := assert.New(t)
	p2p := &p2pFixture{failConnect: true}
	service, st := newTestService(t, p2p)
	ctx := context.Background()

	addPeer(t, st, "peer-heidi",
		store.PeerIdentifier{Transport: "p2p", Identifier: "12D3KooHeidi"},
		store.PeerIdentifier{Transport: "email", Identifier: "heidi@example.org"})

	// an explicit transport alone gives up when it fails
	_, err := service.Connect(ctx, "peer-heidi", "p2p", nil, nil)
	var unreachable *UnreachableError
	assert.True(errors.As(err, &unreachable))

	// with fallbacks, the failed explicit attempt falls through to them
	conn, err := service.Connect(ctx, "peer-heidi", "p2p", []string{"email"}, nil)
	assert.Nil(err)
	assert.Equal("email", conn.Transport)
	assert.Equal(store.ConnectionConnected, conn.Status)
}

func TestConnectUnreachablePeer(t *testing.T) {
	assert := assert.New(t)
	p2p := &p2pFixture{failConnect: true}
	service, st := newTestService(t, p2p)
	ctx := context.Background()

	addPeer(t, st, "peer-carol",
		store.PeerIdentifier{Transport: "p2p", Identifier: "12D3KooCarol"})

	_, err := service.Connect(ctx, "peer-carol", "", nil, nil)
	var unreachable *UnreachableError
	assert.True(errors.As(err, &unreachable))
	assert.Equal("peer-carol", unreachable.PeerId)
}

func TestConnectPublishesEvent(t *testing.T) {
	assert := assert.New(t)
	p2p := &p2pFixture{}
	service, st := newTestService(t, p2p)
	ctx := context.Background()

	addPeer(t, st, "peer-dave",
		store.PeerIdentifier{Transport: "p2p", Identifier: "12D3KooDave"})

	sub := service.bus.Subscribe("peer:")
	defer service.bus.Unsubscribe(sub)

	_, err := service.Connect(ctx, "peer-dave", "p2p", nil, nil)
	assert.Nil(err)

	event := <-sub.C
	assert.Equal(events.TopicPeerConnected, event.Topic)
	assert.Equal("peer-dave", event.Data["peerId"])
	assert.Equal("p2p", event.Data["transport"])
}

func TestDisconnect(t *testing.T) {
	assert := assert.New(t)
	p2p := &p2pFixture{}
	service, st := newTestService(t, p2p)
	ctx := context.Background()

	addPeer(t, st, "peer-erin",
		store.PeerIdentifier{Transport: "p2p", Identifier: "12D3KooErin"})
	_, err := service.Connect(ctx, "peer-erin", "p2p", nil, nil)
	assert.Nil(err)

	assert.Nil(service.Disconnect(ctx, "peer-erin", "p2p"))

	_, err = st.Connections.FindOpen(ctx, LocalPeerId, "peer-erin", "p2p")
	var notFound *store.NotFoundError
	assert.True(errors.As(err, &notFound))

	peer, err := st.Peers.FindById(ctx, "peer-erin")
	assert.Nil(err)
	assert.Equal(store.PeerOffline, peer.Status)
}

func TestDetailsCountTransfers(t *testing.T) {
	assert := assert.New(t)
	service, st := newTestService(t, &p2pFixture{})
	ctx := context.Background()

	addPeer(t, st, "peer-frank",
		store.PeerIdentifier{Transport: "email", Identifier: "frank@example.org"})

	outgoing := &store.Transfer{Id: "transfer-out", Type: store.TransferOutgoing}
	assert.Nil(st.Transfers.Create(ctx, outgoing))
	assert.Nil(st.Recipients.Create(ctx, &store.Recipient{
		Id:         "recipient-1",
		TransferId: "transfer-out",
		Identifier: "peer-frank",
		Transport:  "email",
	}))
	incoming := &store.Transfer{
		Id:     "transfer-in",
		Type:   store.TransferIncoming,
		Sender: map[string]any{"peerId": "peer-frank"},
	}
	assert.Nil(st.Transfers.Create(ctx, incoming))

	details, err := service.Get(ctx, "peer-frank")
	assert.Nil(err)
	assert.Equal(1, details.SentTransfers)
	assert.Equal(1, details.ReceivedTransfers)

	history, err := service.Transfers(ctx, "peer-frank", "")
	assert.Nil(err)
	assert.Equal(2, len(history))
	incomingOnly, err := service.Transfers(ctx, "peer-frank", store.TransferIncoming)
	assert.Nil(err)
	assert.Equal(1, len(incomingOnly))
}
