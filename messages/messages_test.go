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

package messages

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/firma-sign/firma-sign/events"
	"github.com/firma-sign/firma-sign/fstest"
	"github.com/firma-sign/firma-sign/store"
	"github.com/firma-sign/firma-sign/transports"
)

var TESTING_DIR string

// a pause to let asynchronous delivery land
var pause = 100 * time.Millisecond

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
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "firma-sign-message-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

func breakdown() {
	if TESTING_DIR != "" {
		os.RemoveAll(TESTING_DIR)
	}
}

func newTestService(t *testing.T, failCount int) (*Service, *store.Store, *fstest.Transport) {
	dir, err := os.MkdirTemp(TESTING_DIR, "case-")
	assert.Nil(t, err)
	st, err := store.Open(filepath.Join(dir, "firma-sign.db"))
	assert.Nil(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus(events.DefaultQueueSize)
	t.Cleanup(bus.Close)

	registry := transports.NewRegistry(bus)
	fixture, err := fstest.RegisterTransport(registry, "web", 0, failCount)
	assert.Nil(t, err)
	registry.Initialize(context.Background(), []string{"web"}, nil)

	return NewService(st, registry, bus), st, fixture
}

func TestSendDeliversAsynchronously(t *testing.T) {
	assert := assert.New(t)
	service, st, fixture := newTestService(t, 0)
	ctx := context.Background()

	message, err := service.Send(ctx, SendRequest{
		FromPeer: "self",
		ToPeer:   "peer-alice",
		Content:  "hello",
	})
	assert.Nil(err)
	assert.Equal(store.MessageSent, message.Status)
	assert.NotNil(message.SentAt)
	assert.Equal("web", message.Transport)

	time.Sleep(pause)

	stored, err := st.Messages.FindById(ctx, message.Id)
	assert.Nil(err)
	assert.Equal(store.MessageDelivered, stored.Status)
	assert.NotNil(stored.DeliveredAt)
	assert.Equal(1, len(fixture.Sent()))
}

func TestSendFailureParksMessage(t *testing.T) {
	assert := assert.New(t)
	service, st, _ := newTestService(t, 1)
	ctx := context.Background()

	message, err := service.Send(ctx, SendRequest{
		FromPeer: "self",
		ToPeer:   "peer-alice",
		Content:  "lost",
	})
	assert.Nil(err)

	time.Sleep(pause)

	stored, err := st.Messages.FindById(ctx, message.Id)
	assert.Nil(err)
	assert.Equal(store.MessageFailed, stored.Status)

	// failed is a terminal sink
	advanced, err := st.Messages.AdvanceStatus(ctx, message.Id,
		store.MessageDelivered, time.Now().UTC())
	assert.Nil(err)
	assert.False(advanced)
}

func TestStatusProgressionIsMonotone(t *testing.T) {
	assert := assert.New(t)
	service, st, _ := newTestService(t, 0)
	ctx := context.Background()

	message, err := service.Send(ctx, SendRequest{
		FromPeer: "peer-alice",
		ToPeer:   "peer-bob",
		Content:  "progress",
	})
	assert.Nil(err)
	time.Sleep(pause)

	count, err := service.MarkRead(ctx, "peer-bob", []string{message.Id}, "")
	assert.Nil(err)
	assert.Equal(1, count)

	// no status can move backwards once read
	for _, status := range []store.MessageStatus{store.MessageSent, store.MessageDelivered} {
		advanced, err := st.Messages.AdvanceStatus(ctx, message.Id, status, time.Now().UTC())
		assert.Nil(err)
		assert.False(advanced)
	}
	stored, err := st.Messages.FindById(ctx, message.Id)
	assert.Nil(err)
	assert.Equal(store.MessageRead, stored.Status)
	assert.NotNil(stored.ReadAt)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	service, _, _ := newTestService(t, 0)
	ctx := context.Background()

	message, err := service.Send(ctx, SendRequest{
		FromPeer: "peer-alice",
		ToPeer:   "peer-bob",
		Content:  "read me",
	})
	assert.Nil(err)
	time.Sleep(pause)

	count, err := service.MarkRead(ctx, "peer-bob", []string{message.Id}, "")
	assert.Nil(err)
	assert.Equal(1, count)

	// a second pass marks nothing new
	count, err = service.MarkRead(ctx, "peer-bob", []string{message.Id}, "")
	assert.Nil(err)
	assert.Equal(0, count)

	unread, err := service.UnreadCount(ctx, "peer-bob")
	assert.Nil(err)
	assert.Equal(0, unread)
}

func TestMarkReadAllFromPeer(t *testing.T) {
	assert := assert.New(t)
	service, _, _ := newTestService(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := service.Send(ctx, SendRequest{
			FromPeer: "peer-alice",
			ToPeer:   "peer-bob",
			Content:  "bulk",
		})
		assert.Nil(err)
	}
	time.Sleep(pause)

	count, err := service.MarkRead(ctx, "peer-bob", nil, "peer-alice")
	assert.Nil(err)
	assert.Equal(3, count)

	unread, err := service.UnreadCount(ctx, "peer-bob")
	assert.Nil(err)
	assert.Equal(0, unread)
}

func TestHistoryPagination(t *testing.T) {
	assert := assert.New(t)
	service, st, _ := newTestService(t, 0)
	ctx := context.Background()

	// journal five messages with distinct creation times so ordering is
	// deterministic
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		message := &store.Message{
			Id:        "msg-" + string(rune('a'+i)),
			FromPeer:  "peer-alice",
			ToPeer:    "peer-bob",
			Content:   "numbered",
			Type:      store.MessageText,
			Status:    store.MessageSent,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		assert.Nil(st.Messages.Create(ctx, message))
	}

	page, hasMore, err := service.History(ctx, "peer-alice", "peer-bob", nil, nil, 2)
	assert.Nil(err)
	assert.Equal(2, len(page))
	assert.True(hasMore)
	assert.Equal("msg-e", page[0].Id) // newest first
	assert.Equal("msg-d", page[1].Id)

	older, hasMore, err := service.History(ctx, "peer-alice", "peer-bob",
		&page[1].CreatedAt, nil, 10)
	assert.Nil(err)
	assert.Equal(3, len(older))
	assert.False(hasMore)
	assert.Equal("msg-c", older[0].Id)
}

func TestSearch(t *testing.T) {
	assert := assert.New(t)
	service, _, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := service.Send(ctx, SendRequest{
		FromPeer: "peer-alice", ToPeer: "peer-bob", Content: "the lease agreement",
	})
	assert.Nil(err)
	_, err = service.Send(ctx, SendRequest{
		FromPeer: "peer-alice", ToPeer: "peer-bob", Content: "lunch plans",
	})
	assert.Nil(err)
	time.Sleep(pause)

	found, err := service.Search(ctx, "peer-alice", "lease", 10)
	assert.Nil(err)
	assert.Equal(1, len(found))
	assert.Equal("the lease agreement", found[0].Content)
}
