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

package transfers

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/firma-sign/firma-sign/blobstore"
	"github.com/firma-sign/firma-sign/documents"
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
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "firma-sign-transfer-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

func breakdown() {
	if TESTING_DIR != "" {
		os.RemoveAll(TESTING_DIR)
	}
}

type testRig struct {
	router  *Router
	store   *store.Store
	bus     *events.Bus
	fixture *fstest.Transport
}

func newTestRig(t *testing.T, failCount int, permanent bool) *testRig {
	dir, err := os.MkdirTemp(TESTING_DIR, "case-")
	assert.Nil(t, err)
	st, err := store.Open(filepath.Join(dir, "firma-sign.db"))
	assert.Nil(t, err)
	t.Cleanup(func() { st.Close() })
	blobs, err := blobstore.New(filepath.Join(dir, "storage"), 0, true)
	assert.Nil(t, err)

	bus := events.NewBus(events.DefaultQueueSize)
	t.Cleanup(bus.Close)

	registry := transports.NewRegistry(bus)
	fixture, err := fstest.RegisterTransport(registry, "web", 0, failCount)
	assert.Nil(t, err)
	fixture.Permanent = permanent
	registry.Initialize(context.Background(), []string{"web"}, nil)

	docs := documents.NewService(st, blobs)
	return &testRig{
		router:  NewRouter(st, blobs, docs, registry, bus),
		store:   st,
		bus:     bus,
		fixture: fixture,
	}
}

// a two-document, one-recipient transfer request
func basicRequest() CreateRequest {
	return CreateRequest{
		Documents: []DocumentInput{
			{FileName: "contract.pdf", Data: []byte("contract bytes")},
			{FileName: "appendix.pdf", Data: []byte("appendix bytes")},
		},
		Recipients: []RecipientInput{
			{Identifier: "peer-alice", Transport: "web"},
		},
		Sender: map[string]any{"peerId": "self", "name": "Local Office"},
	}
}

func TestCreateDispatchesToRecipients(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 0, false)
	ctx := context.Background()

	result, err := rig.router.Create(ctx, basicRequest())
	assert.Nil(err)
	assert.Regexp("^[" + codeAlphabet + "]{6}$", result.Code)
	assert.Equal(store.TransferOutgoing, result.Transfer.Type)
	assert.Equal(2, len(result.Documents))

	rig.router.Wait()

	// the recipient was notified over the transport with the full envelope
	sent := rig.fixture.Sent()
	assert.Equal(1, len(sent))
	assert.Equal(result.Transfer.Id, sent[0].TransferId)
	assert.Equal("peer-alice", sent[0].Recipient)
	assert.Equal(2, len(sent[0].Documents))

	details, err := rig.router.Get(ctx, result.Transfer.Id)
	assert.Nil(err)
	assert.Equal(store.TransferReady, details.Transfer.Status)
	assert.Equal(store.RecipientNotified, details.Recipients[0].Status)
	assert.NotNil(details.Recipients[0].NotifiedAt)
}

func TestCreateRejectsEmptyRequests(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 0, false)
	ctx := context.Background()

	var invalid *ValidationError
	_, err := rig.router.Create(ctx, CreateRequest{
		Recipients: []RecipientInput{{Identifier: "peer-alice"}},
	})
	assert.True(errors.As(err, &invalid))

	_, err = rig.router.Create(ctx, CreateRequest{
		Documents: []DocumentInput{{FileName: "a.pdf", Data: []byte("a")}},
	})
	assert.True(errors.As(err, &invalid))

	// nothing was persisted
	transfers, err := rig.store.Transfers.FindAll(ctx)
	assert.Nil(err)
	assert.Equal(0, len(transfers))
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 2, false) // first two sends fail
	ctx := context.Background()

	result, err := rig.router.Create(ctx, basicRequest())
	assert.Nil(err)
	rig.router.Wait()

	assert.Equal(3, rig.fixture.Attempts())
	details, err := rig.router.Get(ctx, result.Transfer.Id)
	assert.Nil(err)
	assert.Equal(store.TransferReady, details.Transfer.Status)
	assert.Equal(store.RecipientNotified, details.Recipients[0].Status)
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, maxAttempts+1, false)
	ctx := context.Background()

	result, err := rig.router.Create(ctx, basicRequest())
	assert.Nil(err)
	rig.router.Wait()

	assert.Equal(maxAttempts, rig.fixture.Attempts())
	details, err := rig.router.Get(ctx, result.Transfer.Id)
	assert.Nil(err)
	assert.Equal(store.TransferPending, details.Transfer.Status)
	assert.Equal(store.RecipientPending, details.Recipients[0].Status)
	assert.Contains(details.Recipients[0].Preferences["lastError"], "dropped")
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, maxAttempts+1, true)
	ctx := context.Background()

	_, err := rig.router.Create(ctx, basicRequest())
	assert.Nil(err)
	rig.router.Wait()

	assert.Equal(1, rig.fixture.Attempts())
}

func TestGetByCodeIsCaseInsensitive(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 0, false)
	ctx := context.Background()

	result, err := rig.router.Create(ctx, basicRequest())
	assert.Nil(err)
	rig.router.Wait()

	details, err := rig.router.GetByCode(ctx, " "+strings.ToLower(result.Code)+" ")
	assert.Nil(err)
	assert.Equal(result.Transfer.Id, details.Transfer.Id)

	_, err = rig.router.GetByCode(ctx, "ZZZZZZ")
	var notFound *store.NotFoundError
	assert.True(errors.As(err, &notFound))
}

func TestSigningAdvancesTheStateMachine(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 0, false)
	ctx := context.Background()

	result, err := rig.router.Create(ctx, basicRequest())
	assert.Nil(err)
	rig.router.Wait()

	// one of two documents signed: partially signed
	details, err := rig.router.Sign(ctx, result.Transfer.Id, []SignatureInput{
		{DocumentId: result.Documents[0].Id, SignedBy: "peer-alice"},
	}, "")
	assert.Nil(err)
	assert.Equal(store.TransferPartiallySigned, details.Transfer.Status)

	// both documents resolved: completed
	details, err = rig.router.Sign(ctx, result.Transfer.Id, []SignatureInput{
		{DocumentId: result.Documents[1].Id, SignedBy: "peer-alice"},
	}, "")
	assert.Nil(err)
	assert.Equal(store.TransferCompleted, details.Transfer.Status)

	for _, doc := range details.Documents {
		assert.Equal(store.DocumentSigned, doc.Status)
		assert.Equal("peer-alice", doc.SignedBy)
	}
	assert.Equal(store.RecipientSigned, details.Recipients[0].Status)

	// completed is terminal
	_, err = rig.router.Sign(ctx, result.Transfer.Id, []SignatureInput{
		{DocumentId: result.Documents[0].Id, SignedBy: "peer-alice"},
	}, "")
	var invalidState *InvalidStateError
	assert.True(errors.As(err, &invalidState))
}

func TestRequireAllSignaturesHoldsCompletion(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 0, false)
	ctx := context.Background()

	request := CreateRequest{
		Documents: []DocumentInput{
			{FileName: "contract.pdf", Data: []byte("contract bytes")},
		},
		Recipients: []RecipientInput{
			{Identifier: "peer-alice", Transport: "web"},
			{Identifier: "peer-bob", Transport: "web"},
		},
		Sender:   map[string]any{"peerId": "self"},
		Metadata: map[string]any{"requireAllSignatures": true},
	}
	result, err := rig.router.Create(ctx, request)
	assert.Nil(err)
	rig.router.Wait()

	// every document is resolved, but one signer is still outstanding
	details, err := rig.router.Sign(ctx, result.Transfer.Id, []SignatureInput{
		{DocumentId: result.Documents[0].Id, SignedBy: "peer-alice"},
	}, "")
	assert.Nil(err)
	assert.NotEqual(store.TransferCompleted, details.Transfer.Status)
	assert.Equal(store.TransferPartiallySigned, details.Transfer.Status)

	// the second signer closes the roster and the transfer completes
	details, err = rig.router.Sign(ctx, result.Transfer.Id, []SignatureInput{
		{DocumentId: result.Documents[0].Id, SignedBy: "peer-bob"},
	}, "")
	assert.Nil(err)
	assert.Equal(store.TransferCompleted, details.Transfer.Status)
	for _, recipient := range details.Recipients {
		assert.Equal(store.RecipientSigned, recipient.Status)
	}
}

func TestSignPersistsSignatureBytes(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 0, false)
	ctx := context.Background()

	result, err := rig.router.Create(ctx, basicRequest())
	assert.Nil(err)
	rig.router.Wait()

	payload := []byte("detached signature payload")
	_, err = rig.router.Sign(ctx, result.Transfer.Id, []SignatureInput{
		{DocumentId: result.Documents[0].Id, SignedBy: "peer-alice", Signature: payload},
	}, "")
	assert.Nil(err)

	doc, err := rig.store.Documents.FindById(ctx, result.Documents[0].Id)
	assert.Nil(err)
	assert.Equal(payload, doc.Signature)
	assert.Equal("peer-alice", doc.SignedBy)
}

func TestSignRejectsUnknownDocuments(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 0, false)
	ctx := context.Background()

	result, err := rig.router.Create(ctx, basicRequest())
	assert.Nil(err)
	rig.router.Wait()

	_, err = rig.router.Sign(ctx, result.Transfer.Id, []SignatureInput{
		{DocumentId: "doc-0-ffffff", SignedBy: "peer-alice"},
	}, "")
	var unknown *UnknownDocumentError
	assert.True(errors.As(err, &unknown))
}

func TestSignAndReturn(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 0, false)
	ctx := context.Background()

	incoming, err := rig.router.CreateIncoming(ctx, "",
		map[string]any{"peerId": "peer-origin"}, "web",
		[]DocumentInput{{FileName: "nda.pdf", Data: []byte("nda bytes")}})
	assert.Nil(err)
	assert.Equal(store.TransferIncoming, incoming.Transfer.Type)
	assert.Equal(store.CategoryReceived, incoming.Documents[0].Category)

	details, err := rig.router.Sign(ctx, incoming.Transfer.Id, []SignatureInput{
		{DocumentId: incoming.Documents[0].Id, SignedBy: "self"},
	}, "web")
	assert.Nil(err)
	assert.Equal(store.TransferCompleted, details.Transfer.Status)
	rig.router.Wait()

	// the reciprocal transfer went out to the original sender
	outgoing, err := rig.store.Transfers.Find(ctx,
		store.TransferCriteria{Type: store.TransferOutgoing})
	assert.Nil(err)
	assert.Equal(1, len(outgoing))
	assert.Equal(incoming.Transfer.Id, outgoing[0].Metadata["originalTransferId"])
	assert.Equal(true, outgoing[0].Metadata["returnTransport"])

	sent := rig.fixture.Sent()
	assert.Equal(1, len(sent))
	assert.Equal("peer-origin", sent[0].Recipient)
	assert.Equal(1, len(sent[0].Documents))
	assert.Equal("nda.pdf", sent[0].Documents[0].FileName)
}

func TestCancel(t *testing.T) {
	assert := assert.New(t)
	rig := newTestRig(t, 0, false)
	ctx := context.Background()

	sub := rig.bus.Subscribe("transfer:")
	defer rig.bus.Unsubscribe(sub)

	result, err := rig.router.Create(ctx, basicRequest())
	assert.Nil(err)
	rig.router.Wait()

	details, err := rig.router.Cancel(ctx, result.Transfer.Id)
	assert.Nil(err)
	assert.Equal(store.TransferCancelled, details.Transfer.Status)

	// cancelled is terminal
	_, err = rig.router.Cancel(ctx, result.Transfer.Id)
	var invalidState *InvalidStateError
	assert.True(errors.As(err, &invalidState))

	sawCancelled := false
	deadline := time.After(time.Second)
	for !sawCancelled {
		select {
		case event := <-sub.C:
			if event.Topic == events.TopicTransferCancelled {
				sawCancelled = true
			}
		case <-deadline:
			t.Fatal("no cancellation event arrived")
		}
	}
}
