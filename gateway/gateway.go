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

// Package gateway is the WebSocket side of the event surface: clients
// authenticate, subscribe to individual transfers (and, for peer and message
// traffic, to topic prefixes), join groups, and receive the event-bus traffic
// they are entitled to. One goroutine per connection reads frames; one writes
// them; a single registry mutex guards the client set.
package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/firma-sign/firma-sign/auth"
	"github.com/firma-sign/firma-sign/events"
	"github.com/firma-sign/firma-sign/metrics"
)

const (
	// how often connected clients are pinged
	pingInterval = 30 * time.Second
	// clients with no activity for this long are disconnected
	idleTimeout = 5 * time.Minute
	// outbound writes must complete within this window
	writeWait = 10 * time.Second
	// a pong must arrive within this window after a ping
	pongWait = pingInterval + writeWait
	// per-client outbound frame queue
	sendQueueSize = 64
)

// a frame sent by a client
type inboundFrame struct {
	Type         string   `json:"type"`
	Token        string   `json:"token,omitempty"`
	SessionToken string   `json:"sessionToken,omitempty"`
	TransferId   string   `json:"transferId,omitempty"`
	TransferIds  []string `json:"transferIds,omitempty"`
	Topics       []string `json:"topics,omitempty"`
	GroupId      string   `json:"groupId,omitempty"`
	PeerId       string   `json:"peerId,omitempty"`
	Content      string   `json:"content,omitempty"`
}

// the transfer ids a subscribe or unsubscribe frame names
func (frame inboundFrame) transferIds() []string {
	ids := make([]string, 0, len(frame.TransferIds)+1)
	ids = append(ids, frame.TransferIds...)
	if frame.TransferId != "" {
		ids = append(ids, frame.TransferId)
	}
	return ids
}

// a connected WebSocket client
type client struct {
	id   string
	conn *websocket.Conn
	send chan map[string]any

	authenticated bool
	userId        string
	sessionId     string
	transfers     map[string]bool
	topics        map[string]bool
	groups        map[string]bool
	connectedAt   time.Time
	lastActivity  time.Time
}

// MessageSender decouples the gateway from the messaging subsystem.
type MessageSender interface {
	SendFrom(fromPeer, toPeer, content string) error
}

type Gateway struct {
	jwtSecret string
	sessions  auth.SessionValidator
	bus       *events.Bus
	messenger MessageSender
	upgrader  websocket.Upgrader

	mutex   sync.Mutex
	clients map[string]*client

	done chan struct{}
	wg   sync.WaitGroup
}

func New(bus *events.Bus, messenger MessageSender, jwtSecret string,
	sessions auth.SessionValidator) *Gateway {
	return &Gateway{
		jwtSecret: jwtSecret,
		sessions:  sessions,
		bus:       bus,
		messenger: messenger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// the browser client may be served from anywhere
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
		done:    make(chan struct{}),
	}
}

// Run starts the event forwarding and housekeeping loops.
func (g *Gateway) Run() {
	sub := g.bus.Subscribe("transfer:", "peer:", "message:", "group:", "transport:")
	g.wg.Add(2)

	go func() {
		defer g.wg.Done()
		defer g.bus.Unsubscribe(sub)
		for {
			select {
			case event, ok := <-sub.C:
				if !ok {
					return
				}
				g.forward(event)
			case <-g.done:
				return
			}
		}
	}()

	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.reapIdle()
			case <-g.done:
				return
			}
		}
	}()
}

// Close disconnects every client and stops the background loops.
func (g *Gateway) Close() {
	close(g.done)
	g.mutex.Lock()
	clients := make([]*client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mutex.Unlock()
	for _, c := range clients {
		g.drop(c)
	}
	g.wg.Wait()
}

// ClientCount returns the number of connected clients.
func (g *Gateway) ClientCount() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return len(g.clients)
}

// Handler upgrades HTTP requests into gateway connections.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error(fmt.Sprintf("WebSocket upgrade failed: %s", err.Error()))
			return
		}

		now := time.Now().UTC()
		c := &client{
			id:           uuid.NewString(),
			conn:         conn,
			send:         make(chan map[string]any, sendQueueSize),
			transfers:    make(map[string]bool),
			topics:       make(map[string]bool),
			groups:       make(map[string]bool),
			connectedAt:  now,
			lastActivity: now,
		}

		g.mutex.Lock()
		g.clients[c.id] = c
		g.mutex.Unlock()
		metrics.WebSocketClients.Inc()

		go g.writePump(c)
		go g.readPump(c)
	}
}

// removes a client from the registry and closes its connection
func (g *Gateway) drop(c *client) {
	g.mutex.Lock()
	_, present := g.clients[c.id]
	delete(g.clients, c.id)
	g.mutex.Unlock()
	if present {
		metrics.WebSocketClients.Dec()
		close(c.send)
	}
	c.conn.Close()
}

// reads frames from one client until the connection dies
func (g *Gateway) readPump(c *client) {
	defer g.drop(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame inboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				slog.Debug(fmt.Sprintf("WebSocket client %s read error: %s",
					c.id, err.Error()))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		g.mutex.Lock()
		c.lastActivity = time.Now().UTC()
		g.mutex.Unlock()

		g.handleFrame(c, frame)
	}
}

// writes queued frames and pings to one client
func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// queues a frame for one client, stamping it; a full queue drops the client
func (g *Gateway) enqueue(c *client, frame map[string]any) {
	frame["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	select {
	case c.send <- frame:
	default:
		slog.Error(fmt.Sprintf("WebSocket client %s can't keep up; disconnecting", c.id))
		go g.drop(c)
	}
}

func (g *Gateway) handleFrame(c *client, frame inboundFrame) {
	// only authentication and pings are allowed before auth succeeds
	if !c.authenticated && frame.Type != "auth" && frame.Type != "ping" {
		g.enqueue(c, map[string]any{"type": "error", "error": "Not authenticated"})
		return
	}

	switch frame.Type {
	case "auth":
		g.handleAuth(c, frame)

	case "ping":
		g.enqueue(c, map[string]any{"type": "pong"})

	case "subscribe":
		ids := frame.transferIds()
		g.mutex.Lock()
		for _, id := range ids {
			c.transfers[id] = true
		}
		for _, topic := range frame.Topics {
			c.topics[topic] = true
		}
		g.mutex.Unlock()
		g.enqueue(c, subscriptionAck("subscribed", ids, frame.Topics))

	case "unsubscribe":
		ids := frame.transferIds()
		g.mutex.Lock()
		for _, id := range ids {
			delete(c.transfers, id)
		}
		for _, topic := range frame.Topics {
			delete(c.topics, topic)
		}
		g.mutex.Unlock()
		g.enqueue(c, subscriptionAck("unsubscribed", ids, frame.Topics))

	case "join_group":
		g.mutex.Lock()
		c.groups[frame.GroupId] = true
		g.mutex.Unlock()
		g.enqueue(c, map[string]any{"type": "joined", "groupId": frame.GroupId})

	case "leave_group":
		g.mutex.Lock()
		delete(c.groups, frame.GroupId)
		g.mutex.Unlock()
		g.enqueue(c, map[string]any{"type": "left", "groupId": frame.GroupId})

	case "message":
		if g.messenger == nil {
			g.enqueue(c, map[string]any{"type": "error", "error": "Messaging is not available"})
			return
		}
		if err := g.messenger.SendFrom(c.userId, frame.PeerId, frame.Content); err != nil {
			g.enqueue(c, map[string]any{"type": "error", "error": err.Error()})
			return
		}
		g.enqueue(c, map[string]any{"type": "message_sent", "peerId": frame.PeerId})

	default:
		g.enqueue(c, map[string]any{"type": "error",
			"error": fmt.Sprintf("Unknown frame type: %s", frame.Type)})
	}
}

func (g *Gateway) handleAuth(c *client, frame inboundFrame) {
	var claims auth.Claims
	var err error
	switch {
	case frame.Token != "":
		claims, err = auth.VerifyJWT(frame.Token, g.jwtSecret)
	case frame.SessionToken != "" && g.sessions != nil:
		claims, err = g.sessions.Validate(frame.SessionToken)
	default:
		err = &auth.InvalidTokenError{Reason: "no credential supplied"}
	}
	if err != nil {
		g.enqueue(c, map[string]any{"type": "auth", "success": false,
			"error": "Authentication failed"})
		return
	}

	g.mutex.Lock()
	c.authenticated = true
	c.userId = claims.UserId
	c.sessionId = claims.SessionId
	g.mutex.Unlock()
	g.enqueue(c, map[string]any{"type": "auth", "success": true,
		"userId": claims.UserId})
}

// forward routes one bus event to the clients entitled to it
func (g *Gateway) forward(event events.Event) {
	frame := map[string]any{"type": event.Topic}
	for key, value := range event.Data {
		frame[key] = value
	}

	g.mutex.Lock()
	recipients := make([]*client, 0)
	for _, c := range g.clients {
		if !c.authenticated {
			continue
		}
		if g.entitled(c, event) {
			recipients = append(recipients, c)
		}
	}
	g.mutex.Unlock()

	for _, c := range recipients {
		// each client gets its own copy; enqueue mutates the frame
		copied := make(map[string]any, len(frame))
		for key, value := range frame {
			copied[key] = value
		}
		g.enqueue(c, copied)
	}
}

// builds the acknowledgement for a subscribe or unsubscribe frame
func subscriptionAck(ackType string, ids, topics []string) map[string]any {
	ack := map[string]any{"type": ackType}
	if len(ids) > 0 {
		ack["transferIds"] = ids
	}
	if len(topics) > 0 {
		ack["topics"] = topics
	}
	return ack
}

// decides whether a client should see an event; callers hold the mutex
func (g *Gateway) entitled(c *client, event events.Event) bool {
	// group events go to joined clients only
	if matchesPrefix(event.Topic, "group:") {
		groupId, _ := event.Data["groupId"].(string)
		return c.groups[groupId]
	}
	// transfer events are scoped to the transfers the client subscribed to
	if matchesPrefix(event.Topic, "transfer:") {
		transferId, _ := event.Data["transferId"].(string)
		return c.transfers[transferId]
	}
	// transport status goes to everyone authenticated
	if matchesPrefix(event.Topic, "transport:") {
		return true
	}
	// everything else requires a matching topic subscription
	for topic := range c.topics {
		if matchesPrefix(event.Topic, topic) {
			return true
		}
	}
	return false
}

func matchesPrefix(topic, prefix string) bool {
	return len(topic) >= len(prefix) && topic[:len(prefix)] == prefix
}

// disconnects clients that have been silent for longer than the idle window
func (g *Gateway) reapIdle() {
	cutoff := time.Now().UTC().Add(-idleTimeout)
	g.mutex.Lock()
	idle := make([]*client, 0)
	for _, c := range g.clients {
		if c.lastActivity.Before(cutoff) {
			idle = append(idle, c)
		}
	}
	g.mutex.Unlock()

	for _, c := range idle {
		slog.Info(fmt.Sprintf("Disconnecting idle WebSocket client %s", c.id))
		g.drop(c)
	}
}
