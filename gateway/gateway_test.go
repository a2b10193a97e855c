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

package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/firma-sign/firma-sign/events"
	"github.com/firma-sign/firma-sign/fstest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingMessenger struct {
	from, to, content string
}

func (m *recordingMessenger) SendFrom(fromPeer, toPeer, content string) error {
	m.from, m.to, m.content = fromPeer, toPeer, content
	return nil
}

type testRig struct {
	bus       *events.Bus
	gateway   *Gateway
	server    *httptest.Server
	messenger *recordingMessenger
}

func newTestRig(t *testing.T) *testRig {
	fstest.EnableDebugLogging()
	bus := events.NewBus(events.DefaultQueueSize)
	messenger := &recordingMessenger{}
	g := New(bus, messenger, testSecret, nil)
	g.Run()
	server := httptest.NewServer(g.Handler())
	t.Cleanup(func() {
		server.Close()
		g.Close()
		bus.Close()
	})
	return &testRig{bus: bus, gateway: g, server: server, messenger: messenger}
}

func (rig *testRig) dial(t *testing.T) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(rig.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Nil(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	assert.Nil(t, conn.ReadJSON(&frame))
	return frame
}

func signToken(t *testing.T, secret string) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"sid": "session-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	assert.Nil(t, err)
	return token
}

func authenticate(t *testing.T, rig *testRig, conn *websocket.Conn) {
	assert.Nil(t, conn.WriteJSON(map[string]any{
		"type": "auth", "token": signToken(t, testSecret),
	}))
	frame := readFrame(t, conn)
	assert.Equal(t, "auth", frame["type"])
	assert.Equal(t, true, frame["success"])
	assert.Equal(t, "user-1", frame["userId"])
}

func TestFramesBeforeAuthAreRejected(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	conn := rig.dial(t)

	assert.Nil(conn.WriteJSON(map[string]any{
		"type": "subscribe", "topics": []string{"transfer:"},
	}))
	frame := readFrame(t, conn)
	assert.Equal("error", frame["type"])
	assert.Equal("Not authenticated", frame["error"])
	assert.NotEmpty(frame["timestamp"])
}

func TestAuthWithBadToken(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	conn := rig.dial(t)

	assert.Nil(conn.WriteJSON(map[string]any{"type": "auth", "token": "garbage"}))
	frame := readFrame(t, conn)
	assert.Equal("auth", frame["type"])
	assert.Equal(false, frame["success"])
}

func TestSubscribedEventsAreForwarded(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	conn := rig.dial(t)
	authenticate(t, rig, conn)

	assert.Nil(conn.WriteJSON(map[string]any{
		"type": "subscribe", "transferId": "transfer-1",
	}))
	frame := readFrame(t, conn)
	assert.Equal("subscribed", frame["type"])

	rig.bus.Publish(events.TopicTransferCreated, map[string]any{
		"transferId": "transfer-1",
		"code":       "ABC234",
	})

	frame = readFrame(t, conn)
	assert.Equal("transfer:created", frame["type"])
	assert.Equal("transfer-1", frame["transferId"])
	assert.Equal("ABC234", frame["code"])
	assert.NotEmpty(frame["timestamp"])
}

func TestTransferEventsAreScopedToSubscribedTransfers(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	conn := rig.dial(t)
	authenticate(t, rig, conn)

	assert.Nil(conn.WriteJSON(map[string]any{
		"type": "subscribe", "transferIds": []string{"transfer-mine"},
	}))
	readFrame(t, conn) // subscribed

	// an update for a transfer the client never subscribed to must not
	// arrive; the one it did subscribe to must
	rig.bus.Publish(events.TopicTransferUpdate, map[string]any{
		"transferId": "transfer-other", "status": "ready",
	})
	rig.bus.Publish(events.TopicTransferUpdate, map[string]any{
		"transferId": "transfer-mine", "status": "ready",
	})

	frame := readFrame(t, conn)
	assert.Equal("transfer:update", frame["type"])
	assert.Equal("transfer-mine", frame["transferId"])

	// unsubscribing stops the stream for that transfer
	assert.Nil(conn.WriteJSON(map[string]any{
		"type": "unsubscribe", "transferId": "transfer-mine",
	}))
	frame = readFrame(t, conn)
	assert.Equal("unsubscribed", frame["type"])

	rig.bus.Publish(events.TopicTransferUpdate, map[string]any{
		"transferId": "transfer-mine", "status": "completed",
	})
	rig.bus.Publish(events.TopicTransportStatus, map[string]any{
		"transport": "web", "status": "active",
	})
	frame = readFrame(t, conn)
	assert.Equal("transport:status", frame["type"])
}

func TestUnsubscribedTopicsAreNotForwarded(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	conn := rig.dial(t)
	authenticate(t, rig, conn)

	assert.Nil(conn.WriteJSON(map[string]any{
		"type": "subscribe", "topics": []string{"peer:"},
	}))
	readFrame(t, conn) // subscribed

	// a transfer event the client didn't ask for, then one it did
	rig.bus.Publish(events.TopicTransferCreated, map[string]any{"transferId": "t"})
	rig.bus.Publish(events.TopicPeerConnected, map[string]any{"peerId": "peer-1"})

	frame := readFrame(t, conn)
	assert.Equal("peer:connected", frame["type"])
}

func TestGroupEventsRequireMembership(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	conn := rig.dial(t)
	authenticate(t, rig, conn)

	assert.Nil(conn.WriteJSON(map[string]any{
		"type": "join_group", "groupId": "group-1",
	}))
	frame := readFrame(t, conn)
	assert.Equal("joined", frame["type"])

	// an event for another group must not arrive
	rig.bus.Publish(events.TopicGroupMessage, map[string]any{"groupId": "group-2"})
	rig.bus.Publish(events.TopicGroupMessage, map[string]any{"groupId": "group-1"})

	frame = readFrame(t, conn)
	assert.Equal("group:message", frame["type"])
	assert.Equal("group-1", frame["groupId"])
}

func TestTransportStatusReachesAllAuthenticatedClients(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	conn := rig.dial(t)
	authenticate(t, rig, conn)

	// no subscriptions at all; transport status still arrives
	rig.bus.Publish(events.TopicTransportStatus, map[string]any{
		"transport": "email", "status": "active",
	})
	frame := readFrame(t, conn)
	assert.Equal("transport:status", frame["type"])
	assert.Equal("email", frame["transport"])
}

func TestMessageFrames(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	conn := rig.dial(t)
	authenticate(t, rig, conn)

	assert.Nil(conn.WriteJSON(map[string]any{
		"type": "message", "peerId": "peer-bob", "content": "hello",
	}))
	frame := readFrame(t, conn)
	assert.Equal("message_sent", frame["type"])
	assert.Equal("peer-bob", frame["peerId"])
	assert.Equal("user-1", rig.messenger.from)
	assert.Equal("peer-bob", rig.messenger.to)
	assert.Equal("hello", rig.messenger.content)
}

func TestPingPong(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)
	conn := rig.dial(t)

	// pings are allowed before authentication
	assert.Nil(conn.WriteJSON(map[string]any{"type": "ping"}))
	frame := readFrame(t, conn)
	assert.Equal("pong", frame["type"])
}

func TestClientCountTracksConnections(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t)

	conn := rig.dial(t)
	authenticate(t, rig, conn)
	assert.Equal(1, rig.gateway.ClientCount())

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for rig.gateway.ClientCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(0, rig.gateway.ClientCount())
}
