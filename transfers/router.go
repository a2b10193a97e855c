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

// Package transfers is the transfer router: it creates transfers atomically,
// dispatches them to recipients over transports with retry, runs the
// per-transfer state machine through signing to a terminal state, and writes
// finished transfers to the journal.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firma-sign/firma-sign/blobstore"
	"github.com/firma-sign/firma-sign/documents"
	"github.com/firma-sign/firma-sign/events"
	"github.com/firma-sign/firma-sign/journal"
	"github.com/firma-sign/firma-sign/metrics"
	"github.com/firma-sign/firma-sign/store"
	"github.com/firma-sign/firma-sign/transports"
)

// dispatch retry policy: delays double from baseDelay up to maxDelay, for at
// most maxAttempts tries per recipient
const (
	maxAttempts = 5
	baseDelay   = 100 * time.Millisecond
	maxDelay    = 1600 * time.Millisecond
)

// a document to include in a new transfer
type DocumentInput struct {
	FileName string
	Data     []byte
	Metadata map[string]any
}

// an intended signer for a new transfer
type RecipientInput struct {
	Identifier  string
	Transport   string // empty to inherit the transfer's choice
	Preferences map[string]any
}

// a request to create an outgoing transfer
type CreateRequest struct {
	Documents  []DocumentInput
	Recipients []RecipientInput
	Transport  string // empty to pick per recipient
	Sender     map[string]any
	Metadata   map[string]any
}

// everything created for a new transfer
type CreateResult struct {
	Transfer   store.Transfer
	Code       string
	Documents  []store.Document
	Recipients []store.Recipient
}

// a transfer with its documents and recipients
type Details struct {
	Transfer   store.Transfer
	Documents  []store.Document
	Recipients []store.Recipient
}

// one signer's verdict on one document
type SignatureInput struct {
	DocumentId string
	SignedBy   string
	Signature  []byte
	Rejected   bool
}

// Router coordinates transfer lifecycle across the store, the blob store,
// the transport registry, and the journal.
type Router struct {
	store    *store.Store
	blobs    *blobstore.Store
	docs     *documents.Service
	registry *transports.Registry
	bus      *events.Bus

	// wait group covering background dispatches, for orderly shutdown
	dispatches sync.WaitGroup

	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRouter(st *store.Store, blobs *blobstore.Store, docs *documents.Service,
	registry *transports.Registry, bus *events.Bus) *Router {
	return &Router{
		store:    st,
		blobs:    blobs,
		docs:     docs,
		registry: registry,
		bus:      bus,
		locks:    make(map[string]*sync.Mutex),
	}
}

// returns the mutex serializing state changes for one transfer
func (r *Router) lockFor(transferId string) *sync.Mutex {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	lock, found := r.locks[transferId]
	if !found {
		lock = &sync.Mutex{}
		r.locks[transferId] = lock
	}
	return lock
}

// Create atomically persists an outgoing transfer with its documents and
// recipients, then dispatches it to the recipients in the background. Either
// everything is created or nothing is.
func (r *Router) Create(ctx context.Context, request CreateRequest) (*CreateResult, error) {
	if len(request.Documents) == 0 {
		return nil, &ValidationError{Message: "a transfer needs at least one document"}
	}
	if len(request.Recipients) == 0 {
		return nil, &ValidationError{Message: "a transfer needs at least one recipient"}
	}

	transfer := store.Transfer{
		Id:        fmt.Sprintf("transfer-%s", uuid.NewString()),
		Type:      store.TransferOutgoing,
		Status:    store.TransferPending,
		Code:      generateCode(),
		Sender:    request.Sender,
		Transport: request.Transport,
		Metadata:  request.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	// blob writes happen outside the transaction; they are unwound if the
	// transaction fails
	docs := make([]store.Document, len(request.Documents))
	savedPaths := make([]string, 0, len(request.Documents))
	unwind := func() {
		for _, path := range savedPaths {
			r.blobs.Delete(path)
		}
	}
	for i, input := range request.Documents {
		doc := store.Document{
			Id: fmt.Sprintf("doc-%d-%s", time.Now().UnixMilli(),
				strings6(uuid.NewString())),
			TransferId: transfer.Id,
			FileName:   input.FileName,
			FileSize:   int64(len(input.Data)),
			Status:     store.DocumentPending,
			Category:   store.CategorySent,
			StoredName: blobstore.SanitizeName(input.FileName),
			Version:    1,
			Metadata:   input.Metadata,
			CreatedAt:  transfer.CreatedAt,
		}
		path := fmt.Sprintf("%s/%04d/%02d/%s/%s", doc.Category,
			doc.CreatedAt.Year(), int(doc.CreatedAt.Month()), doc.Id, doc.StoredName)
		hash, err := r.blobs.Save(path, input.Data)
		if err != nil {
			unwind()
			return nil, err
		}
		savedPaths = append(savedPaths, path)
		doc.Hash = hash
		docs[i] = doc
	}

	recipients := make([]store.Recipient, len(request.Recipients))
	for i, input := range request.Recipients {
		recipients[i] = store.Recipient{
			Id:          fmt.Sprintf("recipient-%s", uuid.NewString()),
			TransferId:  transfer.Id,
			Identifier:  input.Identifier,
			Transport:   input.Transport,
			Status:      store.RecipientPending,
			Preferences: input.Preferences,
		}
	}

	err := r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Transfers.Create(ctx, &transfer); err != nil {
			return err
		}
		for i := range docs {
			if err := tx.Documents.Create(ctx, &docs[i]); err != nil {
				return err
			}
		}
		for i := range recipients {
			if err := tx.Recipients.Create(ctx, &recipients[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		unwind()
		return nil, err
	}

	metrics.TransfersCreated.Inc()
	if r.bus != nil {
		r.bus.Publish(events.TopicTransferCreated, map[string]any{
			"transferId": transfer.Id,
			"code":       transfer.Code,
			"documents":  len(docs),
			"recipients": len(recipients),
		})
	}
	slog.Info(fmt.Sprintf("Created transfer %s with %d document(s) for %d recipient(s)",
		transfer.Id, len(docs), len(recipients)))

	r.dispatches.Add(1)
	go func() {
		defer r.dispatches.Done()
		r.dispatch(transfer.Id)
	}()

	return &CreateResult{
		Transfer:   transfer,
		Code:       transfer.Code,
		Documents:  docs,
		Recipients: recipients,
	}, nil
}

// Wait blocks until every background dispatch has finished.
func (r *Router) Wait() {
	r.dispatches.Wait()
}

// dispatch notifies every pending recipient of a transfer, retrying
// transient transport failures with exponential backoff
func (r *Router) dispatch(transferId string) {
	ctx := context.Background()
	details, err := r.Get(ctx, transferId)
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't load transfer %s for dispatch: %s",
			transferId, err.Error()))
		return
	}

	envelope := r.buildEnvelope(details)
	notified := 0
	for _, recipient := range details.Recipients {
		if recipient.Status != store.RecipientPending {
			continue
		}
		if err := r.notify(ctx, details, recipient, envelope); err != nil {
			slog.Error(fmt.Sprintf("Couldn't notify recipient %s of transfer %s: %s",
				recipient.Identifier, transferId, err.Error()))
			continue
		}
		notified++
	}

	lock := r.lockFor(transferId)
	lock.Lock()
	defer lock.Unlock()
	if notified > 0 {
		ready := store.TransferReady
		if err := r.store.Transfers.Update(ctx, transferId,
			store.TransferPatch{Status: &ready}); err != nil {
			slog.Error(fmt.Sprintf("Couldn't mark transfer %s ready: %s",
				transferId, err.Error()))
			return
		}
		r.publishUpdate(transferId, store.TransferReady)
	}
}

// the delivery payload shared by every recipient of a transfer
func (r *Router) buildEnvelope(details *Details) transports.Envelope {
	docs := make([]transports.DocumentRef, len(details.Documents))
	for i, doc := range details.Documents {
		docs[i] = transports.DocumentRef{
			Id:       doc.Id,
			FileName: doc.FileName,
			Hash:     doc.Hash,
		}
	}
	return transports.Envelope{
		TransferId: details.Transfer.Id,
		Documents:  docs,
		Sender:     details.Transfer.Sender,
		Metadata:   details.Transfer.Metadata,
	}
}

// delivers one recipient's notification, with retries
func (r *Router) notify(ctx context.Context, details *Details,
	recipient store.Recipient, envelope transports.Envelope) error {
	transportName := recipient.Transport
	if transportName == "" {
		transportName = details.Transfer.Transport
	}
	if transportName == "" {
		name, _, err := r.registry.SelectForPeer(recipient.Identifier)
		if err != nil {
			return err
		}
		transportName = name
	}

	envelope.Recipient = recipient.Identifier
	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
		lastErr = r.registry.SendVia(ctx, transportName, envelope)
		if lastErr == nil {
			now := time.Now().UTC()
			notifiedStatus := store.RecipientNotified
			return r.store.Recipients.Update(ctx, recipient.Id, store.RecipientPatch{
				Status:     &notifiedStatus,
				NotifiedAt: &now,
			})
		}
		metrics.TransportSendFailures.WithLabelValues(transportName).Inc()
		var permanent *transports.PermanentError
		if errors.As(lastErr, &permanent) {
			break // retrying can't fix this
		}
	}

	// the recipient stays pending; keep the failure with their record
	preferences := recipient.Preferences
	if preferences == nil {
		preferences = make(map[string]any)
	}
	preferences["lastError"] = lastErr.Error()
	r.store.Recipients.Update(ctx, recipient.Id,
		store.RecipientPatch{Preferences: preferences})
	return lastErr
}

// Get returns a transfer with its documents and recipients.
func (r *Router) Get(ctx context.Context, transferId string) (*Details, error) {
	transfer, err := r.store.Transfers.FindById(ctx, transferId)
	if err != nil {
		return nil, err
	}
	docs, err := r.store.Documents.FindByTransfer(ctx, transferId)
	if err != nil {
		return nil, err
	}
	recipients, err := r.store.Recipients.FindByTransfer(ctx, transferId)
	if err != nil {
		return nil, err
	}
	return &Details{Transfer: *transfer, Documents: docs, Recipients: recipients}, nil
}

// GetByCode resolves a transfer from its out-of-band code.
func (r *Router) GetByCode(ctx context.Context, code string) (*Details, error) {
	transfer, err := r.store.Transfers.FindByCode(ctx, CanonicalCode(code))
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, transfer.Id)
}

// List returns transfers matching the given criteria.
func (r *Router) List(ctx context.Context, criteria store.TransferCriteria) ([]store.Transfer, error) {
	return r.store.Transfers.Find(ctx, criteria)
}

func (r *Router) publishUpdate(transferId string, status store.TransferStatus) {
	if r.bus != nil {
		r.bus.Publish(events.TopicTransferUpdate, map[string]any{
			"transferId": transferId,
			"status":     string(status),
		})
	}
}

func isTerminal(status store.TransferStatus) bool {
	return status == store.TransferCompleted || status == store.TransferCancelled
}

// Sign applies signatures (or rejections) to a transfer's documents and
// advances the transfer's state: partially-signed while some documents
// remain open, completed once every document has a verdict. Completing an
// incoming transfer with a return transport sends the signed documents back
// to the original sender.
func (r *Router) Sign(ctx context.Context, transferId string,
	signatures []SignatureInput, returnTransport string) (*Details, error) {
	lock := r.lockFor(transferId)
	lock.Lock()
	defer lock.Unlock()

	details, err := r.Get(ctx, transferId)
	if err != nil {
		return nil, err
	}
	if isTerminal(details.Transfer.Status) {
		return nil, &InvalidStateError{Id: transferId, Status: details.Transfer.Status}
	}

	byId := make(map[string]store.Document, len(details.Documents))
	for _, doc := range details.Documents {
		byId[doc.Id] = doc
	}

	for _, signature := range signatures {
		doc, found := byId[signature.DocumentId]
		if !found {
			return nil, &UnknownDocumentError{TransferId: transferId,
				DocumentId: signature.DocumentId}
		}
		target := store.DocumentSigned
		if signature.Rejected {
			target = store.DocumentRejected
		}
		if doc.Status != target {
			if _, err := r.docs.UpdateStatus(ctx, doc.Id, target, signature.SignedBy,
				signature.Signature); err != nil {
				return nil, err
			}
		}
		// the signer's recipient row is stamped even when another signer
		// already resolved the document
		r.markSigner(ctx, details, signature)
	}

	// recompute the transfer's status from its documents
	details, err = r.Get(ctx, transferId)
	if err != nil {
		return nil, err
	}
	open, signed := 0, 0
	for _, doc := range details.Documents {
		switch doc.Status {
		case store.DocumentSigned, store.DocumentRejected:
			signed++
		default:
			open++
		}
	}

	newStatus := details.Transfer.Status
	if open == 0 && signed > 0 && signersComplete(details) {
		newStatus = store.TransferCompleted
	} else if signed > 0 {
		newStatus = store.TransferPartiallySigned
	}
	if newStatus != details.Transfer.Status {
		if err := r.store.Transfers.Update(ctx, transferId,
			store.TransferPatch{Status: &newStatus}); err != nil {
			return nil, err
		}
		details.Transfer.Status = newStatus
		r.publishUpdate(transferId, newStatus)
	}

	if newStatus == store.TransferCompleted {
		metrics.TransfersCompleted.Inc()
		r.recordInJournal(details)
		if details.Transfer.Type == store.TransferIncoming && returnTransport != "" {
			if err := r.createReturnTransfer(ctx, details, returnTransport); err != nil {
				slog.Error(fmt.Sprintf("Couldn't create return transfer for %s: %s",
					transferId, err.Error()))
			}
		}
	}
	return details, nil
}

// reports whether the signer roster allows completion: transfers carrying the
// require-all-signatures flag in their metadata stay open until every
// recipient has signed
func signersComplete(details *Details) bool {
	if !metadataFlag(details.Transfer.Metadata, "requireAllSignatures") &&
		!metadataFlag(details.Transfer.Metadata, "require-all-signatures") {
		return true
	}
	for _, recipient := range details.Recipients {
		if recipient.Status != store.RecipientSigned {
			return false
		}
	}
	return true
}

func metadataFlag(metadata map[string]any, key string) bool {
	flag, _ := metadata[key].(bool)
	return flag
}

// stamps the recipient row matching a signature's signer, if there is one
func (r *Router) markSigner(ctx context.Context, details *Details,
	signature SignatureInput) {
	now := time.Now().UTC()
	for _, recipient := range details.Recipients {
		if recipient.Identifier != signature.SignedBy {
			continue
		}
		status := store.RecipientSigned
		patch := store.RecipientPatch{Status: &status, SignedAt: &now}
		if signature.Rejected {
			rejected := store.RecipientRejected
			patch = store.RecipientPatch{Status: &rejected}
		}
		if err := r.store.Recipients.Update(ctx, recipient.Id, patch); err != nil {
			slog.Error(fmt.Sprintf("Couldn't update recipient %s: %s",
				recipient.Id, err.Error()))
		}
	}
}

// Cancel moves a transfer to the cancelled state and journals it.
func (r *Router) Cancel(ctx context.Context, transferId string) (*Details, error) {
	lock := r.lockFor(transferId)
	lock.Lock()
	defer lock.Unlock()

	details, err := r.Get(ctx, transferId)
	if err != nil {
		return nil, err
	}
	if isTerminal(details.Transfer.Status) {
		return nil, &InvalidStateError{Id: transferId, Status: details.Transfer.Status}
	}

	cancelled := store.TransferCancelled
	if err := r.store.Transfers.Update(ctx, transferId,
		store.TransferPatch{Status: &cancelled}); err != nil {
		return nil, err
	}
	details.Transfer.Status = cancelled
	if r.bus != nil {
		r.bus.Publish(events.TopicTransferCancelled, map[string]any{
			"transferId": transferId,
		})
	}
	r.recordInJournal(details)
	return details, nil
}

// writes a terminal transfer to the journal; a closed journal is tolerated
// (tests and early shutdown)
func (r *Router) recordInJournal(details *Details) {
	if !journal.IsOpen() {
		return
	}
	var payloadBytes int64
	manifestDocs := make([]journal.ManifestDocument, len(details.Documents))
	for i, doc := range details.Documents {
		payloadBytes += doc.FileSize
		manifestDocs[i] = journal.ManifestDocument{
			Id:       doc.Id,
			FileName: doc.FileName,
			Hash:     doc.Hash,
			Size:     doc.FileSize,
			Path: fmt.Sprintf("%s/%04d/%02d/%s/%s", doc.Category,
				doc.CreatedAt.Year(), int(doc.CreatedAt.Month()), doc.Id, doc.StoredName),
		}
	}

	record := journal.Record{
		Id:            details.Transfer.Id,
		Direction:     string(details.Transfer.Type),
		Transport:     details.Transfer.Transport,
		Status:        string(details.Transfer.Status),
		CompletedAt:   time.Now().UTC(),
		DocumentCount: len(details.Documents),
		PayloadBytes:  payloadBytes,
	}
	if details.Transfer.Status == store.TransferCompleted {
		manifest, err := journal.NewManifest(details.Transfer.Id, manifestDocs)
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't build manifest for transfer %s: %s",
				details.Transfer.Id, err.Error()))
		} else {
			record.Manifest = manifest
		}
	}
	if err := journal.RecordTransfer(record); err != nil {
		slog.Error(fmt.Sprintf("Couldn't journal transfer %s: %s",
			details.Transfer.Id, err.Error()))
	}
}

// creates the reciprocal outgoing transfer carrying signed documents back to
// the sender of a completed incoming transfer
func (r *Router) createReturnTransfer(ctx context.Context, details *Details,
	returnTransport string) error {
	senderId := ""
	if details.Transfer.Sender != nil {
		if id, ok := details.Transfer.Sender["peerId"].(string); ok {
			senderId = id
		}
	}
	if senderId == "" {
		return &ValidationError{Message: "the original transfer names no sender to return to"}
	}

	docs := make([]DocumentInput, 0, len(details.Documents))
	for _, doc := range details.Documents {
		if doc.Status != store.DocumentSigned {
			continue
		}
		data, err := r.blobs.Read(fmt.Sprintf("%s/%04d/%02d/%s/%s", doc.Category,
			doc.CreatedAt.Year(), int(doc.CreatedAt.Month()), doc.Id, doc.StoredName),
			doc.Hash)
		if err != nil {
			return err
		}
		docs = append(docs, DocumentInput{
			FileName: doc.FileName,
			Data:     data,
			Metadata: doc.Metadata,
		})
	}
	if len(docs) == 0 {
		return &ValidationError{Message: "no signed documents to return"}
	}

	result, err := r.Create(ctx, CreateRequest{
		Documents: docs,
		Recipients: []RecipientInput{{
			Identifier: senderId,
			Transport:  returnTransport,
		}},
		Transport: returnTransport,
		Metadata: map[string]any{
			"originalTransferId": details.Transfer.Id,
			"returnTransport":    true,
		},
	})
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("Created return transfer %s for %s",
		result.Transfer.Id, details.Transfer.Id))
	return nil
}

// CreateIncoming records a transfer announced by a remote peer, typically
// from a transport's inbound callback.
func (r *Router) CreateIncoming(ctx context.Context, transferId string,
	sender map[string]any, transportName string,
	inputs []DocumentInput) (*Details, error) {
	if transferId == "" {
		transferId = fmt.Sprintf("transfer-%s", uuid.NewString())
	}

	transfer := store.Transfer{
		Id:        transferId,
		Type:      store.TransferIncoming,
		Status:    store.TransferReady,
		Code:      generateCode(),
		Sender:    sender,
		Transport: transportName,
		CreatedAt: time.Now().UTC(),
	}

	docs := make([]store.Document, len(inputs))
	savedPaths := make([]string, 0, len(inputs))
	unwind := func() {
		for _, path := range savedPaths {
			r.blobs.Delete(path)
		}
	}
	for i, input := range inputs {
		doc := store.Document{
			Id: fmt.Sprintf("doc-%d-%s", time.Now().UnixMilli(),
				strings6(uuid.NewString())),
			TransferId: transfer.Id,
			FileName:   input.FileName,
			FileSize:   int64(len(input.Data)),
			Status:     store.DocumentPending,
			Category:   store.CategoryReceived,
			StoredName: blobstore.SanitizeName(input.FileName),
			Version:    1,
			Metadata:   input.Metadata,
			CreatedAt:  transfer.CreatedAt,
		}
		path := fmt.Sprintf("%s/%04d/%02d/%s/%s", doc.Category,
			doc.CreatedAt.Year(), int(doc.CreatedAt.Month()), doc.Id, doc.StoredName)
		hash, err := r.blobs.Save(path, input.Data)
		if err != nil {
			unwind()
			return nil, err
		}
		savedPaths = append(savedPaths, path)
		doc.Hash = hash
		docs[i] = doc
	}

	err := r.store.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if err := tx.Transfers.Create(ctx, &transfer); err != nil {
			return err
		}
		for i := range docs {
			if err := tx.Documents.Create(ctx, &docs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		unwind()
		return nil, err
	}

	if r.bus != nil {
		r.bus.Publish(events.TopicTransferCreated, map[string]any{
			"transferId": transfer.Id,
			"direction":  "incoming",
			"documents":  len(docs),
		})
	}
	return &Details{Transfer: transfer, Documents: docs}, nil
}

// returns the first six characters of a UUID with its dashes removed
func strings6(s string) string {
	out := make([]byte, 0, 6)
	for i := 0; i < len(s) && len(out) < 6; i++ {
		if s[i] != '-' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
